package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/tunelog/internal/shared"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

// Outcome classifies a finished request. Rate-limited retries happen inside [Fetcher.Do]; callers only see the final class.
type Outcome int

const (
	// OutcomeSuccess is a 200 response with a body.
	OutcomeSuccess Outcome = iota
	// OutcomeNotFound is a 404. Callers record a negative-cache entry and never retry the key.
	OutcomeNotFound
	// OutcomeUnknown is any other status, a transport error or a cancelled context. The key is retried on the next run.
	OutcomeUnknown
	// OutcomeRateLimited means 429 retries were exhausted or the circuit is open.
	OutcomeRateLimited
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeUnknown:
		return "unknown"
	case OutcomeRateLimited:
		return "rate_limited"
	default:
		return "invalid"
	}
}

// Request describes a single call to an external API.
type Request struct {
	Method string
	URL    string
	Header http.Header
}

// Response is the classified result of a [Request].
type Response struct {
	Outcome    Outcome
	StatusCode int
	Body       []byte
	Attempts   int
	Err        error
}

// FetchObserver receives every classified outcome, retry and breaker transition.
type FetchObserver interface {
	ObserveFetch(api, outcome string)
	ObserveRetry(api string)
	ObserveBreakerState(api, state string)
}

// FetcherOptions configures a [Fetcher] for one external API.
type FetcherOptions struct {
	Name   string // label used in logs, errors and metrics
	Client *http.Client
	// RequestsPerSecond of zero disables the throttle.
	RequestsPerSecond float64
	Timeout           time.Duration
	MaxAttempts       int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	BreakerThreshold  int
	BreakerTimeout    time.Duration
	Logger            *log.Logger
	Observer          FetchObserver
}

// FetcherOptionsFromConfig builds options for the named API from the [fetch] config section.
func FetcherOptionsFromConfig(name string, cfg shared.FetchConfig, rps float64) FetcherOptions {
	return FetcherOptions{
		Name:              name,
		RequestsPerSecond: rps,
		Timeout:           cfg.Timeout,
		MaxAttempts:       cfg.MaxAttempts,
		BaseDelay:         cfg.BaseDelay,
		MaxDelay:          cfg.MaxDelay,
		BreakerThreshold:  cfg.BreakerThreshold,
		BreakerTimeout:    cfg.BreakerTimeout,
	}
}

// Fetcher issues requests to a single external API one at a time under a fixed-rate throttle and classifies each response.
//
// A 429 is retried with exponential backoff up to MaxAttempts.
// Exhausting the attempts counts as a breaker failure; once BreakerThreshold consecutive exhaustions are seen
// the circuit opens and every call returns [OutcomeRateLimited] without touching the network until BreakerTimeout passes.
type Fetcher struct {
	name        string
	client      *http.Client
	limiter     *rate.Limiter
	breaker     *gobreaker.CircuitBreaker[Response]
	timeout     time.Duration
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	logger      *log.Logger
	observer    FetchObserver
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewFetcher creates a [Fetcher], filling unset options with conservative defaults.
func NewFetcher(opts FetcherOptions) *Fetcher {
	if opts.Name == "" {
		opts.Name = "api"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	if opts.MaxDelay < opts.BaseDelay {
		opts.MaxDelay = opts.BaseDelay
	}
	if opts.BreakerThreshold <= 0 {
		opts.BreakerThreshold = 3
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = 5 * time.Minute
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}

	f := &Fetcher{
		name:        opts.Name,
		client:      client,
		limiter:     rate.NewLimiter(limit, 1),
		timeout:     opts.Timeout,
		maxAttempts: opts.MaxAttempts,
		baseDelay:   opts.BaseDelay,
		maxDelay:    opts.MaxDelay,
		logger:      shared.WithLogger(opts.Logger, "api", opts.Name),
		observer:    opts.Observer,
		sleep:       sleepContext,
	}

	threshold := uint32(opts.BreakerThreshold)
	f.breaker = gobreaker.NewCircuitBreaker[Response](gobreaker.Settings{
		Name:        opts.Name,
		MaxRequests: 1,
		Timeout:     opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			f.logger.Warn("circuit breaker state changed", "from", from.String(), "to", to.String())
			if f.observer != nil {
				f.observer.ObserveBreakerState(name, to.String())
			}
		},
	})

	return f
}

// Name returns the API label this fetcher was created with.
func (f *Fetcher) Name() string {
	return f.name
}

// State returns the circuit breaker state ("closed", "half-open" or "open").
func (f *Fetcher) State() string {
	return f.breaker.State().String()
}

// Do performs req and classifies the outcome. It never returns a bare 429.
func (f *Fetcher) Do(ctx context.Context, req Request) Response {
	resp, err := f.breaker.Execute(func() (Response, error) {
		r := f.attempt(ctx, req)
		if r.Outcome == OutcomeRateLimited {
			return r, r.Err
		}
		return r, nil
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		resp = Response{
			Outcome: OutcomeRateLimited,
			Err:     fmt.Errorf("%w: %s: %w", shared.ErrRateLimited, f.name, shared.ErrCircuitOpen),
		}
	}

	if f.observer != nil {
		f.observer.ObserveFetch(f.name, resp.Outcome.String())
	}
	return resp
}

// attempt runs the bounded retry loop for a single request.
func (f *Fetcher) attempt(ctx context.Context, req Request) Response {
	for attempt := 1; attempt <= f.maxAttempts; attempt++ {
		if err := f.limiter.Wait(ctx); err != nil {
			return Response{Outcome: OutcomeUnknown, Attempts: attempt, Err: err}
		}

		status, header, body, err := f.send(ctx, req)
		if err != nil {
			f.logger.Debug("request failed", "url", req.URL, "attempt", attempt, "error", err)
			return Response{Outcome: OutcomeUnknown, Attempts: attempt, Err: fmt.Errorf("%w: %w", shared.ErrAPIRequest, err)}
		}

		switch status {
		case http.StatusOK:
			return Response{Outcome: OutcomeSuccess, StatusCode: status, Body: body, Attempts: attempt}
		case http.StatusNotFound:
			return Response{
				Outcome:    OutcomeNotFound,
				StatusCode: status,
				Attempts:   attempt,
				Err:        fmt.Errorf("%w: %s returned status %d", shared.ErrAPIRequest, f.name, status),
			}
		case http.StatusTooManyRequests:
			if attempt == f.maxAttempts {
				break
			}
			delay := f.backoff(attempt, header.Get("Retry-After"))
			f.logger.Debug("rate limited, backing off", "url", req.URL, "attempt", attempt, "delay", delay)
			if f.observer != nil {
				f.observer.ObserveRetry(f.name)
			}
			if err := f.sleep(ctx, delay); err != nil {
				return Response{Outcome: OutcomeUnknown, StatusCode: status, Attempts: attempt, Err: err}
			}
			continue
		default:
			return Response{
				Outcome:    OutcomeUnknown,
				StatusCode: status,
				Body:       body,
				Attempts:   attempt,
				Err:        fmt.Errorf("%w: %s returned status %d", shared.ErrAPIRequest, f.name, status),
			}
		}
	}

	f.logger.Warn("rate limit retries exhausted", "url", req.URL, "attempts", f.maxAttempts)
	return Response{
		Outcome:    OutcomeRateLimited,
		StatusCode: http.StatusTooManyRequests,
		Attempts:   f.maxAttempts,
		Err:        fmt.Errorf("%w: %s after %d attempts", shared.ErrRateLimited, f.name, f.maxAttempts),
	}
}

// send performs one attempt. The timeout bounds the attempt including the body read, whichever client is in use.
func (f *Fetcher) send(ctx context.Context, r Request) (int, http.Header, []byte, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, r.URL, http.NoBody)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to read response: %w", err)
	}

	return resp.StatusCode, resp.Header, body, nil
}

// backoff returns base * 2^(attempt-1), or the server's Retry-After seconds when present, capped at the max delay.
func (f *Fetcher) backoff(attempt int, retryAfter string) time.Duration {
	if seconds, err := strconv.Atoi(strings.TrimSpace(retryAfter)); err == nil && seconds >= 0 {
		return min(time.Duration(seconds)*time.Second, f.maxDelay)
	}
	if attempt > 20 {
		return f.maxDelay
	}
	return min(f.baseDelay*time.Duration(1<<uint(attempt-1)), f.maxDelay)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
