package downloader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stallingHandler writes head bytes, flushes, then sends nothing until
// the client gives up.
func stallingHandler(head string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(head))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}
}

func TestFetchToFileSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte("PK-archive-bytes"))
	}))
	defer srv.Close()

	f := New(srv.Client(), Options{}, nil)
	path := filepath.Join(t.TempDir(), "a.zip")
	n, err := f.FetchToFile(context.Background(), srv.URL, path)
	require.NoError(t, err)
	assert.EqualValues(t, 16, n)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "PK-archive-bytes", string(data))
}

func TestFetchToFileIdleTimeout(t *testing.T) {
	srv := httptest.NewServer(stallingHandler("partial"))
	defer srv.Close()

	f := New(srv.Client(), Options{Timeout: 5 * time.Second, IdleTimeout: 200 * time.Millisecond}, nil)
	path := filepath.Join(t.TempDir(), "a.zip")

	start := time.Now()
	_, err := f.FetchToFile(context.Background(), srv.URL, path)
	elapsed := time.Since(start)

	require.Error(t, err)
	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, TimeoutIdle, te.Kind)
	assert.True(t, IsConnectivity(err))
	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "partial file should be removed")
}

func TestFetchTotalTimeout(t *testing.T) {
	// Trickle a byte every 50ms so the idle deadline never fires.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-r.Context().Done():
				return
			case <-ticker.C:
				_, _ = w.Write([]byte("x"))
				w.(http.Flusher).Flush()
			}
		}
	}))
	defer srv.Close()

	f := New(srv.Client(), Options{Timeout: 300 * time.Millisecond, IdleTimeout: 200 * time.Millisecond}, nil)
	_, err := f.FetchToFile(context.Background(), srv.URL, filepath.Join(t.TempDir(), "a.zip"))

	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, TimeoutTotal, te.Kind)
}

func TestFetchStatusErrors(t *testing.T) {
	tests := []struct {
		status   int
		notFound bool
	}{
		{http.StatusNotFound, true},
		{http.StatusGone, true},
		{http.StatusInternalServerError, false},
		{http.StatusForbidden, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			f := New(srv.Client(), Options{}, nil)
			_, err := f.FetchBytes(context.Background(), srv.URL)

			var ru *RemoteUnavailableError
			require.ErrorAs(t, err, &ru)
			assert.Equal(t, tt.status, ru.StatusCode)
			assert.Equal(t, tt.notFound, IsNotFound(err))
			assert.False(t, IsConnectivity(err))
		})
	}
}

func TestFetchConnectivityError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	f := New(nil, Options{}, nil)
	_, err := f.FetchBytes(context.Background(), url)

	var ce *ConnectivityError
	require.ErrorAs(t, err, &ce)
	assert.True(t, IsConnectivity(err))
	assert.False(t, IsNotFound(err))
}

func TestFetchParentCancelled(t *testing.T) {
	srv := httptest.NewServer(stallingHandler(""))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	f := New(srv.Client(), Options{}, nil)
	_, err := f.FetchBytes(ctx, srv.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, IsTimeout(err))
}
