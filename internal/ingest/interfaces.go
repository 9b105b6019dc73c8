package ingest

import (
	"context"
	"time"
)

// Storage loads and persists dedup records across runs. Persistence of the
// tracker state is entirely the caller's responsibility; the tracker itself
// never touches disk.
type Storage interface {
	LoadPriorRecords(ctx context.Context, scope string) ([]TitledRecord, error)
	SaveRecords(ctx context.Context, scope string, records []TitledRecord) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// ChallengeDetector decides whether a response body is a bot-challenge page
// rather than real content.
type ChallengeDetector interface {
	IsChallenge(result FetchResult) bool
}

// Source is the capability interface implemented by ingestion adapters. Each
// adapter holds explicit references to the fetcher, rate limiter, and dedup
// tracker it needs; there is no shared base state.
type Source interface {
	Name() string
	Run(ctx context.Context) (SourceReport, error)
}
