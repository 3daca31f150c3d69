// Package fetcher downloads and decodes data from HTTP APIs, CSV, XLSX and ZIP sources.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// Fetcher defines the interface for downloading remote data.
type Fetcher interface {
	// Get issues a GET with the given query and returns the body of a 200 response.
	// Any other status is returned as a *StatusError.
	Get(ctx context.Context, rawURL string, query url.Values) (io.ReadCloser, error)

	// DownloadToFile fetches the URL and writes it to the given path. Returns bytes written.
	DownloadToFile(ctx context.Context, rawURL string, path string) (int64, error)
}

// StatusError reports a non-success HTTP status.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d from %s", e.StatusCode, e.URL)
}

// HTTPStatus returns the response status code.
func (e *StatusError) HTTPStatus() int { return e.StatusCode }

// IsRateLimited reports whether err carries a 429 Too Many Requests status.
func IsRateLimited(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusTooManyRequests
}

// redact drops the query string so credentials never reach logs or errors.
func redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.RawQuery = ""
	return u.String()
}
