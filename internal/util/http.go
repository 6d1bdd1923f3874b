package util

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"
)

// UserAgent is sent with every outbound request.
const UserAgent = "dwcsync/0.1 (+https://github.com/brensch/dwcsync)"

// DefaultHTTPClient returns a client without an overall timeout. Callers
// bound each transfer with their own deadlines.
func DefaultHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          50,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Transport: transport}
}

// NewGetRequest builds a GET request with the standard headers.
func NewGetRequest(ctx context.Context, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/zip,application/xml,text/html,*/*")
	return req, nil
}

// DrainAndClose discards up to 4 KiB of body so the connection can be
// reused, then closes it.
func DrainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 4096))
	body.Close()
}
