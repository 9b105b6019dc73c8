// Package fetch implements the resilient HTTP client used by ingestion jobs:
// pooled transports, protocol downgrade, bounded retry with backoff, and
// hostile-server fallback presentations.
package fetch

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/JakeFAU/newswire-ingest/internal/ingest"
	"github.com/JakeFAU/newswire-ingest/internal/progress"
	"github.com/JakeFAU/newswire-ingest/internal/retry"
)

// Defaults applied when Config fields are unset.
const (
	DefaultTimeout      = 30 * time.Second
	DefaultMaxBodyBytes = 5 * 1024 * 1024
	defaultUserAgent    = "newswire-ingest/1.0 (+https://github.com/JakeFAU/newswire-ingest)"
)

// Sentinel signals steering the per-call state machine. They never escape the
// public API.
var (
	errDowngrade = errors.New("downgrade to http/1.1")
	errEscalate  = errors.New("escalate to fallback strategies")
)

// Config controls Fetcher behavior. The zero value gets usable defaults.
type Config struct {
	Timeout             time.Duration
	MaxRetries          int
	BackoffBase         time.Duration
	BackoffCap          time.Duration
	BackoffFactor       float64
	UserAgent           string
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	MaxBodyBytes        int64
	// Strategies are the fallback presentations tried after the primary
	// path is exhausted. Defaults to DefaultStrategies().
	Strategies []Strategy
}

// Options carries per-call overrides; unset values fall back to the shared
// defaults.
type Options struct {
	Headers    http.Header
	ForceHTTP1 bool
	Timeout    time.Duration
}

// Fetcher performs logical HTTP requests against endpoints that may throttle,
// block, or downgrade transport. Its pooled transports are shared safely
// across concurrent callers.
type Fetcher struct {
	cfg    Config
	policy retry.Policy

	h2Transport *http.Transport
	h1Transport *http.Transport
	h2Client    *http.Client
	h1Client    *http.Client

	detector ingest.ChallengeDetector
	clock    ingest.Clock
	waiter   retry.Waiter
	emitter  progress.Emitter
	runID    [16]byte
}

// Option customizes Fetcher construction.
type Option func(*Fetcher)

// WithDetector injects the challenge-page predicate. Pass nil to disable
// detection entirely.
func WithDetector(d ingest.ChallengeDetector) Option {
	return func(f *Fetcher) { f.detector = d }
}

// WithClock injects a time source for deterministic tests.
func WithClock(clk ingest.Clock) Option {
	return func(f *Fetcher) { f.clock = clk }
}

// WithWaiter injects the pause mechanism used between retry attempts.
func WithWaiter(w retry.Waiter) Option {
	return func(f *Fetcher) { f.waiter = w }
}

// WithEmitter wires an observer receiving per-attempt events.
func WithEmitter(e progress.Emitter, runID [16]byte) Option {
	return func(f *Fetcher) {
		f.emitter = e
		f.runID = runID
	}
}

// NewFetcher builds a Fetcher owned by the caller. There is no ambient global
// client; callers construct, share, and eventually Close their instance.
func NewFetcher(cfg Config, opts ...Option) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Strategies == nil {
		cfg.Strategies = DefaultStrategies()
	}
	f := &Fetcher{
		cfg:         cfg,
		policy:      retry.NewPolicy(cfg.MaxRetries, cfg.BackoffBase, cfg.BackoffCap, cfg.BackoffFactor),
		h2Transport: newTransport(cfg, false),
		h1Transport: newTransport(cfg, true),
		detector:    NewHeuristicDetector(nil, nil),
		waiter:      retry.TimerWaiter{},
		emitter:     progress.NopEmitter{},
	}
	f.h2Client = &http.Client{Transport: f.h2Transport}
	f.h1Client = &http.Client{Transport: f.h1Transport}
	for _, opt := range opts {
		opt(f)
	}
	if f.clock == nil {
		f.clock = wallClock{}
	}
	return f
}

// Close releases pooled connections. The Fetcher must not be used afterwards.
func (f *Fetcher) Close() {
	f.h2Transport.CloseIdleConnections()
	f.h1Transport.CloseIdleConnections()
}

// Get performs a logical GET against url.
func (f *Fetcher) Get(ctx context.Context, rawURL string, opts Options) (ingest.FetchResult, error) {
	return f.Do(ctx, ingest.FetchRequest{
		URL:        rawURL,
		Method:     http.MethodGet,
		Headers:    opts.Headers,
		ForceHTTP1: opts.ForceHTTP1,
		Timeout:    opts.Timeout,
	})
}

// Post performs a logical POST against url with the given body.
func (f *Fetcher) Post(ctx context.Context, rawURL string, body []byte, opts Options) (ingest.FetchResult, error) {
	return f.Do(ctx, ingest.FetchRequest{
		URL:        rawURL,
		Method:     http.MethodPost,
		Headers:    opts.Headers,
		Body:       body,
		ForceHTTP1: opts.ForceHTTP1,
		Timeout:    opts.Timeout,
	})
}

// Do runs the full retry/fallback state machine for one logical request.
func (f *Fetcher) Do(ctx context.Context, req ingest.FetchRequest) (result ingest.FetchResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ingest.NewError(ingest.KindConnectionFailed, "fetch", fmt.Errorf("recovered panic: %v", r))
		}
	}()
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	site := siteOf(req.URL)

	// Primary stage: HTTP/2 unless the caller opted out.
	if !req.ForceHTTP1 {
		result, err = f.attemptStage(ctx, req, f.h2Client, ingest.ProtocolHTTP2, nil, site)
		switch {
		case err == nil:
			if f.challenged(result) {
				return f.fallbackStage(ctx, req, site)
			}
			return result, nil
		case errors.Is(err, errDowngrade):
			// fall through to the HTTP/1.1 stage against the same URL
		case errors.Is(err, errEscalate):
			return f.fallbackStage(ctx, req, site)
		default:
			return ingest.FetchResult{}, err
		}
	}

	// Downgraded stage: HTTP/1.1 over the dedicated transport.
	result, err = f.attemptStage(ctx, req, f.h1Client, ingest.ProtocolHTTP1, nil, site)
	switch {
	case err == nil:
		if f.challenged(result) {
			return f.fallbackStage(ctx, req, site)
		}
		return result, nil
	case errors.Is(err, errEscalate):
		return f.fallbackStage(ctx, req, site)
	default:
		return ingest.FetchResult{}, err
	}
}

// challenged reports whether a nominally successful response is actually a
// bot-challenge page that warrants escalation.
func (f *Fetcher) challenged(result ingest.FetchResult) bool {
	return f.detector != nil && f.detector.IsChallenge(result)
}

// retryState tracks a single stage's retry loop. It is destroyed when the
// stage returns.
type retryState struct {
	attempt   int
	lastErr   error
	nextDelay time.Duration
}

// attemptStage runs the bounded retry loop for one protocol stage. It returns
// errDowngrade for HTTP/2 transport failures, errEscalate when 403s survive
// the loop (or a challenge page is detected), and typed terminal errors
// otherwise.
func (f *Fetcher) attemptStage(
	ctx context.Context,
	req ingest.FetchRequest,
	client *http.Client,
	proto ingest.Protocol,
	strat *Strategy,
	site string,
) (ingest.FetchResult, error) {
	const op = "fetch"
	state := retryState{}
	blocked := false

	for state.attempt = 0; state.attempt <= f.policy.MaxRetries; state.attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return ingest.FetchResult{}, ingest.NewError(ingest.KindCancelled, op, cerr)
		}

		result, attemptErr := f.attemptOnce(ctx, req, client, proto, strat, state.attempt, site)
		if attemptErr != nil {
			var typed *ingest.Error
			if errors.As(attemptErr, &typed) && (typed.Kind == ingest.KindPermanent || typed.Kind == ingest.KindCancelled) {
				return ingest.FetchResult{}, typed
			}
			if proto == ingest.ProtocolHTTP2 && isStreamError(attemptErr) {
				return ingest.FetchResult{}, fmt.Errorf("%w: %w", errDowngrade, attemptErr)
			}
			netErr := classifyNetErr(op, attemptErr)
			if netErr.Kind == ingest.KindCancelled {
				return ingest.FetchResult{}, netErr
			}
			state.lastErr = netErr
			state.nextDelay = f.policy.Backoff(state.attempt)
			blocked = false
		} else {
			switch {
			case result.StatusCode < 400:
				return result, nil
			case result.StatusCode == http.StatusTooManyRequests:
				state.lastErr = ingest.NewStatusError(ingest.KindHTTPStatus, op, result.StatusCode, nil)
				// A server-provided Retry-After wins over the computed
				// exponential value.
				if delay, ok := parseRetryAfter(result.Headers.Get("Retry-After"), f.clock.Now()); ok {
					state.nextDelay = delay
				} else {
					state.nextDelay = f.policy.Backoff(state.attempt)
				}
				blocked = false
			case result.StatusCode == http.StatusForbidden:
				state.lastErr = ingest.NewStatusError(ingest.KindBlocked, op, result.StatusCode, nil)
				if f.challenged(result) {
					return ingest.FetchResult{}, fmt.Errorf("%w: challenge page detected", errEscalate)
				}
				state.nextDelay = f.policy.Backoff(state.attempt)
				blocked = true
			case result.StatusCode >= 500:
				state.lastErr = ingest.NewStatusError(ingest.KindHTTPStatus, op, result.StatusCode, nil)
				state.nextDelay = f.policy.Backoff(state.attempt)
				blocked = false
			default:
				return ingest.FetchResult{}, ingest.NewStatusError(ingest.KindPermanent, op, result.StatusCode, nil)
			}
		}

		if state.attempt == f.policy.MaxRetries {
			break
		}
		if werr := f.waiter.Wait(ctx, state.nextDelay); werr != nil {
			return ingest.FetchResult{}, werr
		}
	}

	if blocked {
		return ingest.FetchResult{}, fmt.Errorf("%w: %w", errEscalate, state.lastErr)
	}
	return ingest.FetchResult{}, ingest.NewError(ingest.KindExhaustedRetries, op, state.lastErr)
}

// fallbackStage tries each configured presentation once, with no nested
// retry, to bound total escalation latency.
func (f *Fetcher) fallbackStage(ctx context.Context, req ingest.FetchRequest, site string) (ingest.FetchResult, error) {
	const op = "fetch fallback"
	var lastErr error
	for i := range f.cfg.Strategies {
		strat := &f.cfg.Strategies[i]
		if cerr := ctx.Err(); cerr != nil {
			return ingest.FetchResult{}, ingest.NewError(ingest.KindCancelled, op, cerr)
		}
		result, err := f.attemptOnce(ctx, req, f.h1Client, ingest.ProtocolHTTP1, strat, 0, site)
		if err != nil {
			var typed *ingest.Error
			if errors.As(err, &typed) && typed.Kind == ingest.KindCancelled {
				return ingest.FetchResult{}, typed
			}
			lastErr = err
			continue
		}
		if result.StatusCode < 400 && !f.challenged(result) {
			return result, nil
		}
		lastErr = ingest.NewStatusError(ingest.KindHTTPStatus, op, result.StatusCode, nil)
	}
	return ingest.FetchResult{}, ingest.NewStatusError(ingest.KindBlocked, op, http.StatusForbidden, lastErr)
}

// attemptOnce performs exactly one HTTP round trip and emits its event.
func (f *Fetcher) attemptOnce(
	ctx context.Context,
	req ingest.FetchRequest,
	client *http.Client,
	proto ingest.Protocol,
	strat *Strategy,
	attempt int,
	site string,
) (ingest.FetchResult, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = f.cfg.Timeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var bodyReader io.Reader
	if len(req.Body) > 0 {
		bodyReader = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(attemptCtx, req.Method, req.URL, bodyReader)
	if err != nil {
		return ingest.FetchResult{}, ingest.NewError(ingest.KindPermanent, "build request", err)
	}
	f.applyHeaders(httpReq, req.Headers, strat)

	start := time.Now()
	resp, err := client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		f.emitAttempt(site, req.URL, proto, attempt, 0, 0, latency, strat, err.Error())
		return ingest.FetchResult{}, err
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBodyBytes))
	if err != nil {
		f.emitAttempt(site, req.URL, proto, attempt, resp.StatusCode, 0, latency, strat, "read body: "+err.Error())
		return ingest.FetchResult{}, err
	}

	f.emitAttempt(site, req.URL, proto, attempt, resp.StatusCode, int64(len(body)), latency, strat, "")
	return ingest.FetchResult{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header.Clone(),
		Body:       body,
		Protocol:   protocolOf(resp.Proto),
		Duration:   latency,
	}, nil
}

func (f *Fetcher) applyHeaders(httpReq *http.Request, headers http.Header, strat *Strategy) {
	for key, values := range headers {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", f.cfg.UserAgent)
	}
	if strat == nil {
		return
	}
	if strat.UserAgent != "" {
		httpReq.Header.Set("User-Agent", strat.UserAgent)
	}
	for key, values := range strat.Headers {
		httpReq.Header.Del(key)
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
}

func (f *Fetcher) emitAttempt(
	site, rawURL string,
	proto ingest.Protocol,
	attempt, status int,
	bytes int64,
	latency time.Duration,
	strat *Strategy,
	note string,
) {
	if strat != nil {
		if note != "" {
			note = strat.Name + ": " + note
		} else {
			note = strat.Name
		}
	}
	f.emitter.Emit(progress.Event{
		RunID:       f.runID,
		TS:          f.clock.Now(),
		Stage:       progress.StageFetchAttempt,
		Site:        site,
		URL:         rawURL,
		Protocol:    string(proto),
		Attempt:     attempt,
		StatusClass: progress.ClassifyStatus(status),
		Bytes:       bytes,
		Dur:         latency,
		Note:        note,
	})
}

// newTransport builds a pooled transport; http1Only disables ALPN upgrade so
// every request on it stays on HTTP/1.1.
func newTransport(cfg Config, http1Only bool) *http.Transport {
	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 100
	}
	maxIdlePerHost := cfg.MaxIdleConnsPerHost
	if maxIdlePerHost <= 0 {
		maxIdlePerHost = 10
	}
	idleTimeout := cfg.IdleConnTimeout
	if idleTimeout <= 0 {
		idleTimeout = 90 * time.Second
	}
	t := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     !http1Only,
		MaxIdleConns:          maxIdle,
		MaxIdleConnsPerHost:   maxIdlePerHost,
		IdleConnTimeout:       idleTimeout,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if http1Only {
		t.TLSNextProto = map[string]func(string, *tls.Conn) http.RoundTripper{}
	}
	return t
}

func protocolOf(proto string) ingest.Protocol {
	if proto == "HTTP/2.0" {
		return ingest.ProtocolHTTP2
	}
	return ingest.ProtocolHTTP1
}

func siteOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return u.Hostname()
}

type wallClock struct{}

func (wallClock) Now() time.Time {
	return time.Now().UTC()
}
