package dwca

import (
	"errors"
	"fmt"
)

// CorruptArchiveError is returned when an archive, its descriptor or its
// metadata document cannot be decoded.
type CorruptArchiveError struct {
	Path string
	err  error
}

func (e *CorruptArchiveError) Error() string {
	return fmt.Sprintf("corrupt archive %s: %v", e.Path, e.err)
}

func (e *CorruptArchiveError) Unwrap() error {
	return e.err
}

// NewCorruptArchiveError wraps err as a structural archive failure.
func NewCorruptArchiveError(path string, err error) error {
	return &CorruptArchiveError{Path: path, err: err}
}

// MalformedIdentifierError is returned when the metadata package
// identifier is missing or not of the form "<id>/<version>".
type MalformedIdentifierError struct {
	PackageID string
}

func (e *MalformedIdentifierError) Error() string {
	if e.PackageID == "" {
		return "metadata has no packageId"
	}
	return fmt.Sprintf("malformed packageId %q: expected <id>/<version>", e.PackageID)
}

// IsCorrupt returns true if err is a structural archive failure.
func IsCorrupt(err error) bool {
	var ce *CorruptArchiveError
	return errors.As(err, &ce)
}

// IsMalformedIdentifier returns true if err reports a bad packageId.
func IsMalformedIdentifier(err error) bool {
	var me *MalformedIdentifierError
	return errors.As(err, &me)
}
