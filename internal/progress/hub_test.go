package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// captureSink records every batch it consumes.
type captureSink struct {
	mu      sync.Mutex
	batches [][]Event
	closed  bool
	err     error
}

func (s *captureSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := append([]Event(nil), batch...)
	s.batches = append(s.batches, copied)
	return s.err
}

func (s *captureSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *captureSink) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func (s *captureSink) batchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func (s *captureSink) wasClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func TestHubDeliversAllEventsOnClose(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := NewHub(Config{BufferSize: 64, MaxBatchEvents: 8, MaxBatchWait: time.Hour}, sink)

	for i := 0; i < 20; i++ {
		hub.Emit(validEvent(StageJobStart))
	}
	require.NoError(t, hub.Close(context.Background()))
	require.Equal(t, 20, sink.total())
	require.True(t, sink.wasClosed())
}

func TestHubBatchesBySize(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := NewHub(Config{BufferSize: 64, MaxBatchEvents: 5, MaxBatchWait: time.Hour}, sink)
	defer hub.Close(context.Background()) //nolint:errcheck

	for i := 0; i < 5; i++ {
		hub.Emit(validEvent(StageRateWait))
	}
	require.Eventually(t, func() bool { return sink.total() == 5 }, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, sink.batchCount())
}

func TestHubFlushesOnTimer(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := NewHub(Config{BufferSize: 64, MaxBatchEvents: 1000, MaxBatchWait: 20 * time.Millisecond}, sink)
	defer hub.Close(context.Background()) //nolint:errcheck

	hub.Emit(validEvent(StageFetchAttempt))
	require.Eventually(t, func() bool { return sink.total() == 1 }, time.Second, 5*time.Millisecond)
}

func TestHubDropsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := NewHub(Config{BufferSize: 8}, sink)

	hub.Emit(Event{}) // fails validation
	require.NoError(t, hub.Close(context.Background()))
	require.Zero(t, sink.total())
}

func TestHubSinkErrorDoesNotStopOthers(t *testing.T) {
	t.Parallel()

	failing := &captureSink{err: errors.New("sink down")}
	healthy := &captureSink{}
	hub := NewHub(Config{BufferSize: 8}, failing, healthy)

	hub.Emit(validEvent(StageJobDone))
	require.NoError(t, hub.Close(context.Background()))
	require.Equal(t, 1, healthy.total())
}

func TestHubEmitNeverBlocksWhenFull(t *testing.T) {
	t.Parallel()

	// No sink consumption keeps the buffer full after the first few events.
	slow := &blockingSink{release: make(chan struct{})}
	hub := NewHub(Config{BufferSize: 2, MaxBatchEvents: 1, MaxBatchWait: time.Hour}, slow)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			hub.Emit(validEvent(StageJobStart))
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a full buffer")
	}
	close(slow.release)
	require.NoError(t, hub.Close(context.Background()))
}

func TestHubEmitAfterCloseIsNoop(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := NewHub(Config{BufferSize: 8}, sink)
	require.NoError(t, hub.Close(context.Background()))

	hub.Emit(validEvent(StageJobStart))
	require.Zero(t, sink.total())
	// Closing again is safe.
	require.NoError(t, hub.Close(context.Background()))
}

// blockingSink stalls Consume until released.
type blockingSink struct {
	release chan struct{}
}

func (s *blockingSink) Consume(ctx context.Context, _ []Event) error {
	select {
	case <-s.release:
	case <-ctx.Done():
	}
	return nil
}

func (s *blockingSink) Close(context.Context) error { return nil }
