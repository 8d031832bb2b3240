// Package provider fetches daily bars from market data APIs.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"factorscan/internal/ratelimit"
	"factorscan/pkg/model"
)

// Provider defines the interface for daily bar sources
type Provider interface {
	// Name returns the provider name
	Name() string

	// GetDailyBars fetches daily OHLCV bars with from <= date <= to,
	// oldest first
	GetDailyBars(ctx context.Context, symbol string, from, to time.Time) ([]model.Bar, error)

	// IsAvailable checks if the provider is usable (has an API key)
	IsAvailable() bool

	// RateLimit returns the rate limit per minute
	RateLimit() int
}

var (
	_ Provider = (*YahooProvider)(nil)
	_ Provider = (*FinnhubProvider)(nil)
	_ Provider = (*AlphaVantageProvider)(nil)
	_ Provider = (*FallbackProvider)(nil)
	_ Provider = (*CachingProvider)(nil)
)

var (
	ErrNoData      = errors.New("no data available")
	ErrRateLimited = errors.New("rate limited")
)

// ProviderError represents a provider-specific error
type ProviderError struct {
	Provider  string
	Err       error
	Retryable bool
}

func (e *ProviderError) Error() string {
	return e.Provider + ": " + e.Err.Error()
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a provider error worth retrying
func IsRetryable(err error) bool {
	var perr *ProviderError
	return errors.As(err, &perr) && perr.Retryable
}

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// endpoint is the HTTP plumbing shared by the concrete providers
type endpoint struct {
	name      string
	baseURL   string
	client    *http.Client
	limiter   *ratelimit.Limiter
	rateLimit int
	log       zerolog.Logger
}

// Option configures a provider
type Option func(*endpoint)

// WithBaseURL points the provider at another host (tests, proxies)
func WithBaseURL(url string) Option {
	return func(e *endpoint) { e.baseURL = url }
}

// WithHTTPClient replaces the default 30s-timeout client
func WithHTTPClient(c *http.Client) Option {
	return func(e *endpoint) { e.client = c }
}

// WithLimiter replaces the provider's rate limiter
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(e *endpoint) { e.limiter = l }
}

// WithLogger sets the provider logger
func WithLogger(log zerolog.Logger) Option {
	return func(e *endpoint) { e.log = log }
}

func newEndpoint(name, baseURL string, perMinute int, opts []Option) endpoint {
	e := endpoint{
		name:      name,
		baseURL:   baseURL,
		client:    &http.Client{Timeout: 30 * time.Second},
		rateLimit: perMinute,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&e)
	}
	if e.limiter == nil {
		e.limiter = ratelimit.NewLimiter(name, perMinute)
	}
	e.log = e.log.With().Str("provider", name).Logger()
	return e
}

// Name returns the provider name
func (e *endpoint) Name() string {
	return e.name
}

// RateLimit returns the rate limit per minute
func (e *endpoint) RateLimit() int {
	return e.rateLimit
}

func (e *endpoint) fail(err error, retryable bool) error {
	return &ProviderError{Provider: e.name, Err: err, Retryable: retryable}
}

// getJSON waits for the limiter, issues a GET and decodes the body into out
func (e *endpoint) getJSON(ctx context.Context, url string, out any) error {
	if err := e.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		return e.fail(err, ctx.Err() == nil)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		pause := e.limiter.SignalRateLimited()
		e.log.Warn().Dur("backoff", pause).Msg("rate limited")
		return e.fail(ErrRateLimited, true)
	case resp.StatusCode >= 500:
		return e.fail(fmt.Errorf("status %d", resp.StatusCode), true)
	case resp.StatusCode != http.StatusOK:
		return e.fail(fmt.Errorf("status %d", resp.StatusCode), false)
	}

	e.limiter.ResetBackoff()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return e.fail(fmt.Errorf("decoding response: %w", err), false)
	}
	return nil
}

// clip sorts bars by date and keeps from <= date <= to
func clip(bars []model.Bar, from, to time.Time) []model.Bar {
	from, to = model.DateOf(from), model.DateOf(to)
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })

	out := bars[:0]
	for _, b := range bars {
		if b.Date.Before(from) || b.Date.After(to) {
			continue
		}
		out = append(out, b)
	}
	return out
}

// FallbackProvider tries multiple providers in order
type FallbackProvider struct {
	providers []Provider
	log       zerolog.Logger
}

// NewFallbackProvider keeps the available providers, in order
func NewFallbackProvider(log zerolog.Logger, providers ...Provider) *FallbackProvider {
	available := make([]Provider, 0, len(providers))
	for _, p := range providers {
		if p.IsAvailable() {
			available = append(available, p)
		}
	}
	return &FallbackProvider{providers: available, log: log}
}

// Name returns the combined provider name
func (f *FallbackProvider) Name() string {
	return "fallback"
}

// Providers returns the names of the providers in fallback order
func (f *FallbackProvider) Providers() []string {
	names := make([]string, len(f.providers))
	for i, p := range f.providers {
		names[i] = p.Name()
	}
	return names
}

// GetDailyBars tries each provider in order until one succeeds
func (f *FallbackProvider) GetDailyBars(ctx context.Context, symbol string, from, to time.Time) ([]model.Bar, error) {
	lastErr := fmt.Errorf("no providers available")
	for _, p := range f.providers {
		bars, err := p.GetDailyBars(ctx, symbol, from, to)
		if err == nil {
			return bars, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		f.log.Debug().Err(err).Str("provider", p.Name()).Str("symbol", symbol).Msg("falling back")
		lastErr = err
	}
	return nil, lastErr
}

// IsAvailable returns true if any provider is available
func (f *FallbackProvider) IsAvailable() bool {
	return len(f.providers) > 0
}

// RateLimit returns the first provider's limit
func (f *FallbackProvider) RateLimit() int {
	if len(f.providers) == 0 {
		return 0
	}
	return f.providers[0].RateLimit()
}
