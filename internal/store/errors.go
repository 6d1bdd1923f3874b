package store

import (
	"errors"
	"fmt"
)

// ErrOversizedBatch is returned for a chunk whose encoded size exceeds the
// writer's ceiling. It is never sent to the server.
var ErrOversizedBatch = errors.New("batch exceeds maximum encoded size")

// PartialInsertError reports an unordered insert in which some documents
// were rejected and the rest were stored.
type PartialInsertError struct {
	Inserted int
	Rejected int
	err      error
}

func (e *PartialInsertError) Error() string {
	return fmt.Sprintf("partial insert: %d inserted, %d rejected: %v", e.Inserted, e.Rejected, e.err)
}

func (e *PartialInsertError) Unwrap() error {
	return e.err
}

// WriteFailureError is returned when the bulk writer cannot make progress
// even with single-document chunks.
type WriteFailureError struct {
	Inserted  int
	Remaining int
	err       error
}

func (e *WriteFailureError) Error() string {
	return fmt.Sprintf("bulk write failed with %d documents remaining (%d inserted): %v", e.Remaining, e.Inserted, e.err)
}

func (e *WriteFailureError) Unwrap() error {
	return e.err
}

// IsWriteFailure returns true if err is a terminal bulk write failure.
func IsWriteFailure(err error) bool {
	var wf *WriteFailureError
	return errors.As(err, &wf)
}
