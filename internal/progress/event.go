// Package progress defines the event stream emitted by the ingestion runtime.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the kind of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageJobStart     Stage = "JOB_START"
	StageJobDone      Stage = "JOB_DONE"
	StageJobError     Stage = "JOB_ERROR"
	StageFetchAttempt Stage = "FETCH_ATTEMPT"
	StageRateWait     Stage = "RATE_WAIT"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes tracked for fetch attempts.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusNone  StatusClass = "none"
	StatusOther StatusClass = "other"
)

// Event captures a single milestone of runtime progress.
type Event struct {
	// RunID identifies the batch run this event belongs to.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Job optionally names the job that produced the event.
	Job string
	// Site scopes fetch and rate-wait events to a host or bucket key.
	Site string
	// URL is the optional page URL; it should not contain credentials.
	URL string
	// Protocol records the transport used for a fetch attempt (h2, http/1.1).
	Protocol string
	// Attempt is the zero-based attempt number within the current stage.
	Attempt int
	// StatusClass groups HTTP response codes; StatusNone for network errors.
	StatusClass StatusClass
	// Bytes carries the response size for successful attempts.
	Bytes int64
	// Dur captures attempt latency, rate-limit wait time, or job runtime.
	Dur time.Duration
	// Note lets emitters attach low-volume context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobStart, StageJobDone, StageJobError:
		if e.Job == "" {
			return errors.New("job events require a job name")
		}
	case StageFetchAttempt:
		if e.Site == "" {
			return errors.New("fetch attempt requires site")
		}
		if e.StatusClass == "" {
			return errors.New("fetch attempt requires status class")
		}
	case StageRateWait:
		if e.Site == "" {
			return errors.New("rate wait requires site")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for sinks.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// NewRunID generates a fresh batch run identifier.
func NewRunID() [16]byte {
	id := uuid.New()
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// ClassifyStatus groups HTTP status codes for fetch events. Zero means the
// attempt never produced a response.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code == 0:
		return StatusNone
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
