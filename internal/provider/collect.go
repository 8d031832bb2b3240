package provider

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"factorscan/pkg/model"
)

// ProgressCallback is called after each symbol is fetched
type ProgressCallback func(fetched, total int)

// DefaultRetryDelay is the wait before the first retry. It doubles on each
// further attempt up to maxRetryDelay.
const DefaultRetryDelay = 500 * time.Millisecond

const maxRetryDelay = 10 * time.Second

// Collector downloads daily bars for a universe with a worker pool
type Collector struct {
	provider Provider
	workers  int
	attempts int
	delay    time.Duration
	log      zerolog.Logger

	progressFunc ProgressCallback
}

// CollectResult holds the bars fetched and the symbols that failed
type CollectResult struct {
	Bars     []model.Bar
	Fetched  []string
	Failed   map[string]error
	Duration time.Duration
}

// NewCollector creates a collector. Retryable provider errors are retried
// up to attempts times in total.
func NewCollector(p Provider, workers, attempts int, log zerolog.Logger) *Collector {
	return &Collector{
		provider: p,
		workers:  max(workers, 1),
		attempts: max(attempts, 1),
		delay:    DefaultRetryDelay,
		log:      log.With().Str("component", "collector").Logger(),
	}
}

// SetProgressCallback sets the progress callback function
func (c *Collector) SetProgressCallback(fn ProgressCallback) {
	c.progressFunc = fn
}

// SetRetryDelay sets the wait before the first retry. Zero retries at once.
func (c *Collector) SetRetryDelay(d time.Duration) {
	c.delay = max(d, 0)
}

// Collect fetches [from, to] for every symbol. A symbol that fails is logged
// and reported in Failed; the rest of the universe still completes. The
// only error is context cancellation, returned with whatever was fetched.
func (c *Collector) Collect(ctx context.Context, symbols []string, from, to time.Time) (*CollectResult, error) {
	start := time.Now()

	type outcome struct {
		symbol string
		bars   []model.Bar
		err    error
	}

	jobs := make(chan string, len(symbols))
	results := make(chan outcome, len(symbols))

	for _, s := range symbols {
		jobs <- strings.ToUpper(strings.TrimSpace(s))
	}
	close(jobs)

	var fetched int64
	total := len(symbols)

	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for symbol := range jobs {
				if ctx.Err() != nil {
					return
				}
				bars, err := c.fetch(ctx, symbol, from, to)
				results <- outcome{symbol: symbol, bars: bars, err: err}

				n := atomic.AddInt64(&fetched, 1)
				if c.progressFunc != nil {
					c.progressFunc(int(n), total)
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	res := &CollectResult{Failed: make(map[string]error)}
	for o := range results {
		if o.err != nil {
			if ctx.Err() == nil {
				c.log.Warn().Err(o.err).Str("symbol", o.symbol).Msg("fetch failed")
				res.Failed[o.symbol] = o.err
			}
			continue
		}
		res.Bars = append(res.Bars, o.bars...)
		res.Fetched = append(res.Fetched, o.symbol)
	}

	sort.Strings(res.Fetched)
	sort.SliceStable(res.Bars, func(i, j int) bool {
		if res.Bars[i].Symbol != res.Bars[j].Symbol {
			return res.Bars[i].Symbol < res.Bars[j].Symbol
		}
		return res.Bars[i].Date.Before(res.Bars[j].Date)
	})
	res.Duration = time.Since(start)

	c.log.Info().
		Int("symbols", total).
		Int("fetched", len(res.Fetched)).
		Int("failed", len(res.Failed)).
		Int("bars", len(res.Bars)).
		Dur("took", res.Duration).
		Msg("collect finished")

	return res, ctx.Err()
}

func (c *Collector) fetch(ctx context.Context, symbol string, from, to time.Time) ([]model.Bar, error) {
	var err error
	wait := c.delay
	for attempt := 1; attempt <= c.attempts; attempt++ {
		var bars []model.Bar
		bars, err = c.provider.GetDailyBars(ctx, symbol, from, to)
		if err == nil {
			return bars, nil
		}
		if !IsRetryable(err) || ctx.Err() != nil || attempt == c.attempts {
			return nil, err
		}
		c.log.Debug().Err(err).Str("symbol", symbol).Int("attempt", attempt).Dur("wait", wait).Msg("retrying")

		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, err
			case <-timer.C:
			}
			wait = min(2*wait, maxRetryDelay)
		}
	}
	return nil, err
}
