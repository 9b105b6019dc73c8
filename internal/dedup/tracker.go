// Package dedup suppresses reprocessing of items seen in prior runs using
// deterministic, normalization-based title matching.
package dedup

import (
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/newswire-ingest/internal/ingest"
)

// strippedPunctuation is the fixed set of characters removed during
// normalization. Colons are deliberately kept so source prefixes like
// "Breaking:" stay significant.
const strippedPunctuation = `.,!?'"()[]{}“”‘’`

// Tracker is a normalized-title duplicate detector. It is read-heavy; Add may
// be called concurrently within a run.
type Tracker struct {
	mu      sync.RWMutex
	entries map[string]entry
	clock   ingest.Clock
}

type entry struct {
	original  string
	firstSeen time.Time
}

// Option customizes Tracker construction.
type Option func(*Tracker)

// WithClock injects the time source used to stamp first-seen times.
func WithClock(clk ingest.Clock) Option {
	return func(t *Tracker) { t.clock = clk }
}

// NewTracker returns an empty tracker.
func NewTracker(opts ...Option) *Tracker {
	return LoadFrom(nil, opts...)
}

// LoadFrom builds a Tracker seeded from prior-run records. Malformed or
// missing records degrade to an empty tracker: a run proceeds treating
// everything as new rather than blocking ingestion on corrupt dedup state.
func LoadFrom(records []ingest.TitledRecord, opts ...Option) *Tracker {
	t := &Tracker{entries: make(map[string]entry, len(records))}
	for _, opt := range opts {
		opt(t)
	}
	if t.clock == nil {
		t.clock = wallClock{}
	}
	for _, rec := range records {
		key := Normalize(rec.Title)
		if key == "" {
			continue
		}
		if _, exists := t.entries[key]; exists {
			continue
		}
		firstSeen := rec.FirstSeen
		if firstSeen.IsZero() {
			firstSeen = t.clock.Now()
		}
		t.entries[key] = entry{original: rec.Title, firstSeen: firstSeen}
	}
	return t
}

// IsDuplicate reports whether title was seen before, returning its
// normalized form either way.
func (t *Tracker) IsDuplicate(title string) (bool, string) {
	key := Normalize(title)
	if key == "" {
		return false, key
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.entries[key]
	return ok, key
}

// OriginalTitle returns the first original title registered under the given
// normalized key.
func (t *Tracker) OriginalTitle(normalized string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[normalized]
	if !ok {
		return "", false
	}
	return e.original, true
}

// Add registers title for within-run suppression. The first original ever
// stored under an equivalent normalized key wins; later calls never
// overwrite it.
func (t *Tracker) Add(title string) {
	key := Normalize(title)
	if key == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.entries[key]; exists {
		return
	}
	t.entries[key] = entry{original: title, firstSeen: t.clock.Now()}
}

// Len returns the number of distinct normalized titles tracked.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Snapshot returns the tracked entries as records for caller-owned
// persistence.
func (t *Tracker) Snapshot() []ingest.TitledRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	records := make([]ingest.TitledRecord, 0, len(t.entries))
	for key, e := range t.entries {
		records = append(records, ingest.TitledRecord{
			Title:      e.original,
			Normalized: key,
			FirstSeen:  e.firstSeen,
		})
	}
	return records
}

// Normalize lowercases, trims, collapses internal whitespace, and strips a
// fixed punctuation set. It is deterministic and idempotent.
func Normalize(title string) string {
	lower := strings.ToLower(title)
	var b strings.Builder
	b.Grow(len(lower))
	for _, r := range lower {
		if strings.ContainsRune(strippedPunctuation, r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

type wallClock struct{}

func (wallClock) Now() time.Time {
	return time.Now().UTC()
}
