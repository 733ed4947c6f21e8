package client

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/darven/toolgate/pkg/cache"
)

// Result is a provider response prepared for caching and replay.
type Result struct {
	// Data is the response body.
	Data []byte `json:"data"`

	// StatusCode is the HTTP status code of the response.
	StatusCode int `json:"status_code"`

	// Header holds the response headers as received.
	Header http.Header `json:"header"`

	// ETag is the provider's entity tag, when present.
	ETag string `json:"etag"`

	// LastModified is the provider's last-modified timestamp, when present.
	LastModified time.Time `json:"last_modified"`

	// FetchedAt is when this response was received.
	FetchedAt time.Time `json:"fetched_at"`
}

// ResultFromResponse drains the response body into a Result. The body is
// consumed; the caller is still responsible for closing it.
func ResultFromResponse(resp *http.Response) (*Result, error) {
	if resp == nil {
		return nil, fmt.Errorf("response cannot be nil")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	result := &Result{
		Data:       body,
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		ETag:       resp.Header.Get("ETag"),
		FetchedAt:  time.Now(),
	}

	if lastModStr := resp.Header.Get("Last-Modified"); lastModStr != "" {
		if lastMod, err := http.ParseTime(lastModStr); err == nil {
			result.LastModified = lastMod
		}
	}

	return result, nil
}

// Metadata returns the response metadata the header-aware cache consumes
// to derive this result's TTL.
func (r *Result) Metadata() cache.ResponseMetadata {
	return cache.ResponseMetadata{
		Header:    r.Header,
		FetchedAt: r.FetchedAt,
	}
}
