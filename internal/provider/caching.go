package provider

import (
	"context"
	"strings"
	"sync"
	"time"

	"factorscan/pkg/model"
)

// CachingProvider wraps a Provider with an in-memory cache for GetDailyBars.
// A request inside an already fetched range is served from memory.
type CachingProvider struct {
	inner Provider
	mu    sync.Mutex
	cache map[string]cachedRange
}

type cachedRange struct {
	from, to time.Time
	bars     []model.Bar
}

// NewCachingProvider creates a caching wrapper
func NewCachingProvider(inner Provider) *CachingProvider {
	return &CachingProvider{
		inner: inner,
		cache: make(map[string]cachedRange),
	}
}

func (p *CachingProvider) Name() string      { return p.inner.Name() }
func (p *CachingProvider) IsAvailable() bool { return p.inner.IsAvailable() }
func (p *CachingProvider) RateLimit() int    { return p.inner.RateLimit() }

func (p *CachingProvider) GetDailyBars(ctx context.Context, symbol string, from, to time.Time) ([]model.Bar, error) {
	key := strings.ToUpper(symbol)
	from, to = model.DateOf(from), model.DateOf(to)

	p.mu.Lock()
	cached, ok := p.cache[key]
	p.mu.Unlock()
	if ok && !from.Before(cached.from) && !to.After(cached.to) {
		return clip(append([]model.Bar(nil), cached.bars...), from, to), nil
	}

	bars, err := p.inner.GetDailyBars(ctx, symbol, from, to)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.cache[key] = cachedRange{from: from, to: to, bars: bars}
	p.mu.Unlock()

	return append([]model.Bar(nil), bars...), nil
}

// Invalidate drops every cached series
func (p *CachingProvider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache = make(map[string]cachedRange)
}
