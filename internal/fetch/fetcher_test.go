package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/newswire-ingest/internal/ingest"
)

// recordingWaiter satisfies retry.Waiter without sleeping so retry-heavy
// tests finish instantly.
type recordingWaiter struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (w *recordingWaiter) Wait(ctx context.Context, delay time.Duration) error {
	if err := ctx.Err(); err != nil {
		return ingest.NewError(ingest.KindCancelled, "wait", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.delays = append(w.delays, delay)
	return nil
}

func (w *recordingWaiter) recorded() []time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]time.Duration, len(w.delays))
	copy(out, w.delays)
	return out
}

type errorRoundTripper struct {
	err error
}

func (rt errorRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, rt.err
}

func newTestFetcher(t *testing.T, cfg Config) (*Fetcher, *recordingWaiter) {
	t.Helper()
	waiter := &recordingWaiter{}
	f := NewFetcher(cfg, WithWaiter(waiter))
	t.Cleanup(f.Close)
	return f, waiter
}

func TestGetSuccess(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("hello"))
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t, Config{})
	result, err := f.Get(context.Background(), srv.URL, Options{})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, result.StatusCode)
	require.Equal(t, []byte("hello"), result.Body)
	require.Equal(t, ingest.ProtocolHTTP1, result.Protocol)
	require.Positive(t, result.Duration)
}

func TestServerErrorRetryBound(t *testing.T) {
	t.Parallel()

	var attempts int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t, Config{MaxRetries: 2})
	_, err := f.Get(context.Background(), srv.URL, Options{})
	require.Error(t, err)
	require.True(t, ingest.IsKind(err, ingest.KindExhaustedRetries))

	var typed *ingest.Error
	require.ErrorAs(t, err, &typed)
	require.True(t, ingest.IsKind(typed.Err, ingest.KindHTTPStatus))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 3, attempts, "MaxRetries+1 attempts, then give up")
}

func TestRetryAfterHonored(t *testing.T) {
	t.Parallel()

	var attempts int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f, waiter := newTestFetcher(t, Config{MaxRetries: 3})
	result, err := f.Get(context.Background(), srv.URL, Options{})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, result.StatusCode)

	delays := waiter.recorded()
	require.Len(t, delays, 1)
	require.Equal(t, 2*time.Second, delays[0], "server-provided Retry-After wins over computed backoff")
}

func TestClientErrorIsPermanent(t *testing.T) {
	t.Parallel()

	var attempts int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t, Config{MaxRetries: 3})
	_, err := f.Get(context.Background(), srv.URL, Options{})
	require.True(t, ingest.IsKind(err, ingest.KindPermanent))

	var typed *ingest.Error
	require.ErrorAs(t, err, &typed)
	require.Equal(t, http.StatusNotFound, typed.StatusCode)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, attempts, "non-retryable status must not be retried")
}

func TestForbiddenEscalatesToFallback(t *testing.T) {
	t.Parallel()

	feedUA := DefaultStrategies()[1].UserAgent
	var agents []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		agents = append(agents, r.UserAgent())
		mu.Unlock()
		if r.UserAgent() == feedUA {
			_, _ = w.Write([]byte("feed body"))
			return
		}
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t, Config{MaxRetries: 1})
	result, err := f.Get(context.Background(), srv.URL, Options{})
	require.NoError(t, err)
	require.Equal(t, []byte("feed body"), result.Body)

	mu.Lock()
	defer mu.Unlock()
	// MaxRetries+1 primary attempts, then desktop-browser, then feed-reader.
	require.Len(t, agents, 4)
	require.Equal(t, DefaultStrategies()[0].UserAgent, agents[2])
	require.Equal(t, feedUA, agents[3])
}

func TestAllStrategiesExhaustedReturnsBlocked(t *testing.T) {
	t.Parallel()

	var attempts int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t, Config{MaxRetries: 1})
	_, err := f.Get(context.Background(), srv.URL, Options{})
	require.True(t, ingest.IsKind(err, ingest.KindBlocked))

	mu.Lock()
	defer mu.Unlock()
	// Primary loop (MaxRetries+1) plus one attempt per fallback strategy.
	require.Equal(t, 2+len(DefaultStrategies()), attempts)
}

func TestStreamErrorDowngradesToHTTP1(t *testing.T) {
	t.Parallel()

	var attempts int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		_, _ = w.Write([]byte("downgraded"))
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t, Config{MaxRetries: 2})
	f.h2Client.Transport = errorRoundTripper{
		err: errors.New("stream error: stream ID 1; INTERNAL_ERROR; received from peer"),
	}

	result, err := f.Get(context.Background(), srv.URL, Options{})
	require.NoError(t, err)
	require.Equal(t, []byte("downgraded"), result.Body)
	require.Equal(t, ingest.ProtocolHTTP1, result.Protocol)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, attempts, "downgrade happens on the first stream error, not after retries")
}

func TestForceHTTP1SkipsPrimaryStage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t, Config{})
	f.h2Client.Transport = errorRoundTripper{err: errors.New("h2 client must not be used")}

	result, err := f.Get(context.Background(), srv.URL, Options{ForceHTTP1: true})
	require.NoError(t, err)
	require.Equal(t, []byte("ok"), result.Body)
}

func TestChallengePageEscalates(t *testing.T) {
	t.Parallel()

	minimalUA := DefaultStrategies()[2].UserAgent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.UserAgent() == minimalUA {
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte("real content"))
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body>Just a moment...</body></html>"))
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t, Config{MaxRetries: 1})
	result, err := f.Get(context.Background(), srv.URL, Options{})
	require.NoError(t, err)
	require.Equal(t, []byte("real content"), result.Body)
}

func TestConnectionFailureExhaustsRetries(t *testing.T) {
	t.Parallel()

	f, waiter := newTestFetcher(t, Config{MaxRetries: 2, Timeout: time.Second})
	// Port 1 refuses connections on any sane test host.
	_, err := f.Get(context.Background(), "http://127.0.0.1:1", Options{})
	require.True(t, ingest.IsKind(err, ingest.KindExhaustedRetries))
	require.Len(t, waiter.recorded(), 2)

	var typed *ingest.Error
	require.ErrorAs(t, err, &typed)
	require.True(t, ingest.IsKind(typed.Err, ingest.KindConnectionFailed))
}

func TestCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f, _ := newTestFetcher(t, Config{})
	_, err := f.Get(ctx, "http://example.invalid", Options{})
	require.True(t, ingest.IsCancelled(err))
}

func TestMalformedURLIsPermanent(t *testing.T) {
	t.Parallel()

	f, _ := newTestFetcher(t, Config{})
	_, err := f.Get(context.Background(), "http://bad url with spaces", Options{})
	require.True(t, ingest.IsKind(err, ingest.KindPermanent))
}

func TestPostSendsBody(t *testing.T) {
	t.Parallel()

	var got []byte
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = body
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t, Config{})
	result, err := f.Post(context.Background(), srv.URL, []byte(`{"q":1}`), Options{})
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, result.StatusCode)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []byte(`{"q":1}`), got)
}
