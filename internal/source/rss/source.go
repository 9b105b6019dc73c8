// Package rss adapts RSS and Atom feeds into the ingestion pipeline. Each
// feed is one job: rate-limited fetch, parse, cross-run title dedup.
package rss

import (
	"context"
	"fmt"
	"time"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"github.com/JakeFAU/newswire-ingest/internal/dedup"
	"github.com/JakeFAU/newswire-ingest/internal/fetch"
	"github.com/JakeFAU/newswire-ingest/internal/ingest"
	"github.com/JakeFAU/newswire-ingest/internal/ratelimit"
)

// Getter is the fetch capability the source needs; *fetch.Fetcher satisfies
// it.
type Getter interface {
	Get(ctx context.Context, url string, opts fetch.Options) (ingest.FetchResult, error)
}

// Limiter is the pacing capability; *ratelimit.Limiter satisfies it.
type Limiter interface {
	Acquire(ctx context.Context, key string, tokens int) error
}

// Config describes one feed source.
type Config struct {
	Name       string `mapstructure:"name" yaml:"name"`
	FeedURL    string `mapstructure:"feed_url" yaml:"feed_url"`
	ForceHTTP1 bool   `mapstructure:"force_http1" yaml:"force_http1"`
}

// Source ingests one feed per run. It implements ingest.Source.
type Source struct {
	cfg     Config
	fetcher Getter
	limiter Limiter
	tracker *dedup.Tracker
	parser  *gofeed.Parser
	logger  *zap.Logger
}

// New wires a feed source from its collaborators.
func New(cfg Config, fetcher Getter, limiter Limiter, tracker *dedup.Tracker, logger *zap.Logger) (*Source, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("source name is required")
	}
	if cfg.FeedURL == "" {
		return nil, fmt.Errorf("feed_url is required for source %q", cfg.Name)
	}
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required for source %q", cfg.Name)
	}
	if tracker == nil {
		return nil, fmt.Errorf("dedup tracker is required for source %q", cfg.Name)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{
		cfg:     cfg,
		fetcher: fetcher,
		limiter: limiter,
		tracker: tracker,
		parser:  gofeed.NewParser(),
		logger:  logger,
	}, nil
}

// Name returns the configured source name.
func (s *Source) Name() string {
	return s.cfg.Name
}

// Run fetches the feed once and reports the fresh items, recording every
// fresh title in the shared tracker so later runs skip it.
func (s *Source) Run(ctx context.Context) (ingest.SourceReport, error) {
	report := ingest.SourceReport{Source: s.cfg.Name}

	if s.limiter != nil {
		if err := s.limiter.Acquire(ctx, ratelimit.KeyForURL(s.cfg.FeedURL), 1); err != nil {
			return report, fmt.Errorf("rate limit %q: %w", s.cfg.Name, err)
		}
	}

	result, err := s.fetcher.Get(ctx, s.cfg.FeedURL, fetch.Options{ForceHTTP1: s.cfg.ForceHTTP1})
	if err != nil {
		return report, fmt.Errorf("fetch feed %q: %w", s.cfg.Name, err)
	}

	feed, err := s.parser.Parse(result.BodyReader())
	if err != nil {
		return report, fmt.Errorf("parse feed %q: %w", s.cfg.Name, err)
	}

	for _, item := range feed.Items {
		if item == nil || item.Title == "" {
			continue
		}
		report.Fetched++
		if dup, normalized := s.tracker.IsDuplicate(item.Title); dup {
			report.Duplicates++
			s.logger.Debug("duplicate title skipped",
				zap.String("source", s.cfg.Name),
				zap.String("normalized", normalized),
			)
			continue
		}
		s.tracker.Add(item.Title)
		report.Items = append(report.Items, ingest.Item{
			Title:       item.Title,
			URL:         item.Link,
			PublishedAt: publishedAt(item),
			Summary:     item.Description,
		})
	}

	s.logger.Info("feed ingested",
		zap.String("source", s.cfg.Name),
		zap.Int("fetched", report.Fetched),
		zap.Int("duplicates", report.Duplicates),
		zap.Int("fresh", len(report.Items)),
	)
	return report, nil
}

func publishedAt(item *gofeed.Item) time.Time {
	if item.PublishedParsed != nil {
		return item.PublishedParsed.UTC()
	}
	if item.UpdatedParsed != nil {
		return item.UpdatedParsed.UTC()
	}
	return time.Time{}
}
