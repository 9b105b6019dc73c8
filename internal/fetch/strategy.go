package fetch

import "net/http"

// Strategy is one alternate request presentation tried once, in order, after
// retries on the primary path are exhausted. Strategies get no nested retry
// loop so the total escalation latency stays bounded.
type Strategy struct {
	// Name labels the presentation in events and logs.
	Name string
	// UserAgent replaces the fetcher's configured agent when non-empty.
	UserAgent string
	// Headers are merged over the request headers, overriding on conflict.
	Headers http.Header
}

// DefaultStrategies returns the built-in fallback presentations, ordered from
// least to most conspicuous.
func DefaultStrategies() []Strategy {
	return []Strategy{
		{
			Name:      "desktop-browser",
			UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
			Headers: http.Header{
				"Accept":          {"text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8"},
				"Accept-Language": {"en-US,en;q=0.9"},
				"Sec-Fetch-Dest":  {"document"},
				"Sec-Fetch-Mode":  {"navigate"},
				"Sec-Fetch-Site":  {"none"},
			},
		},
		{
			Name:      "feed-reader",
			UserAgent: "FeedFetcher-Google; (+http://www.google.com/feedfetcher.html)",
			Headers: http.Header{
				"Accept": {"application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8"},
			},
		},
		{
			Name:      "minimal",
			UserAgent: "curl/8.5.0",
			Headers: http.Header{
				"Accept": {"*/*"},
			},
		},
	}
}
