// Package ingest defines core types shared across subsystems.
package ingest

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"
)

// Protocol identifies the HTTP transport negotiated for an attempt.
type Protocol string

// Protocols a fetch attempt may run over.
const (
	ProtocolHTTP2 Protocol = "h2"
	ProtocolHTTP1 Protocol = "http/1.1"
)

// FetchRequest captures everything needed for one logical fetch. It is
// immutable for the duration of the call.
type FetchRequest struct {
	URL     string
	Method  string
	Headers http.Header
	Body    []byte

	// ForceHTTP1 skips the HTTP/2 stage entirely.
	ForceHTTP1 bool
	// Timeout overrides the fetcher default when > 0.
	Timeout time.Duration
}

// FetchResult is produced once per successful attempt.
type FetchResult struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	// Protocol is the transport the winning attempt actually used.
	Protocol Protocol
	Duration time.Duration
}

// Job is a named unit of work submitted to the scheduler.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// JobResult reports the outcome of a single job.
type JobResult struct {
	Name     string
	Success  bool
	Err      error
	Duration time.Duration
}

// TitledRecord is the persisted form of a dedup entry.
type TitledRecord struct {
	Title      string    `json:"title"`
	Normalized string    `json:"normalized"`
	FirstSeen  time.Time `json:"first_seen"`
}

// SourceReport summarizes one source adapter run.
type SourceReport struct {
	Source     string
	Fetched    int
	Duplicates int
	Items      []Item
}

// Item is a single ingested content item surviving dedup.
type Item struct {
	Title       string
	URL         string
	PublishedAt time.Time
	Summary     string
}

// BodyReader returns an io.Reader view of the response body without copying.
func (r FetchResult) BodyReader() io.Reader {
	return bytes.NewReader(r.Body)
}
