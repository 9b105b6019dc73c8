package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/newswire-ingest/internal/config"
	"github.com/JakeFAU/newswire-ingest/internal/source/rss"
)

const feedBody = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Wire</title>
    <item><title>Breaking: AI News</title><link>https://example.com/ai</link></item>
    <item><title>Markets Rally</title><link>https://example.com/markets</link></item>
  </channel>
</rss>`

func baseConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Logging.Development = false
	cfg.Logging.Level = "error"
	cfg.Storage.Provider = "memory"
	cfg.Metrics.Enabled = false
	return cfg
}

func TestNewAndCloseWithoutSources(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, baseConfig(t))
	require.NoError(t, err)

	results, err := a.RunBatch(ctx)
	require.NoError(t, err)
	require.Empty(t, results)
	require.NoError(t, a.Close(ctx))
}

func TestRunBatchIngestsAndPersists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(feedBody))
	}))
	defer srv.Close()

	cfg := baseConfig(t)
	cfg.RateLimit.Rate = 100
	cfg.RateLimit.PerSeconds = 1
	cfg.RateLimit.Burst = 100
	cfg.Sources = append(cfg.Sources, sourceFor("wire", srv.URL))

	ctx := context.Background()
	a, err := New(ctx, cfg)
	require.NoError(t, err)
	defer a.Close(ctx) //nolint:errcheck

	results, err := a.RunBatch(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.True(t, results[0].Success, "job error: %v", results[0].Err)
	require.Equal(t, 2, a.Tracker().Len())

	// A second batch over the same feed sees only duplicates.
	results, err = a.RunBatch(ctx)
	require.NoError(t, err)
	require.True(t, results[0].Success)
	require.Equal(t, 2, a.Tracker().Len())
}

func TestSnapshotSurvivesRestart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(feedBody))
	}))
	defer srv.Close()

	cfg := baseConfig(t)
	cfg.Storage.Provider = "local"
	cfg.Storage.LocalDir = t.TempDir()
	cfg.RateLimit.Rate = 100
	cfg.RateLimit.Burst = 100
	cfg.Sources = append(cfg.Sources, sourceFor("wire", srv.URL))

	ctx := context.Background()
	first, err := New(ctx, cfg)
	require.NoError(t, err)
	_, err = first.RunBatch(ctx)
	require.NoError(t, err)
	require.NoError(t, first.Close(ctx))

	second, err := New(ctx, cfg)
	require.NoError(t, err)
	defer second.Close(ctx) //nolint:errcheck
	require.Equal(t, 2, second.Tracker().Len(), "prior-run titles reload from storage")
}

func TestNewRejectsBadSource(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Sources = append(cfg.Sources, sourceFor("", "https://x"))

	_, err := New(context.Background(), cfg)
	require.Error(t, err)
}

func sourceFor(name, url string) rss.Config {
	return rss.Config{Name: name, FeedURL: url}
}
