package provider

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"factorscan/pkg/model"
)

const finnhubBaseURL = "https://finnhub.io/api/v1"

// FinnhubProvider implements the Provider interface for Finnhub API
type FinnhubProvider struct {
	endpoint
	apiKey string
}

// NewFinnhubProvider creates a new Finnhub provider
func NewFinnhubProvider(apiKey string, rateLimitPerMin int, opts ...Option) *FinnhubProvider {
	return &FinnhubProvider{
		endpoint: newEndpoint("finnhub", finnhubBaseURL, rateLimitPerMin, opts),
		apiKey:   apiKey,
	}
}

// IsAvailable checks if the provider has an API key
func (p *FinnhubProvider) IsAvailable() bool {
	return p.apiKey != ""
}

// finnhubCandle represents the Finnhub candle response
type finnhubCandle struct {
	C []float64 `json:"c"` // Close prices
	H []float64 `json:"h"` // High prices
	L []float64 `json:"l"` // Low prices
	O []float64 `json:"o"` // Open prices
	S string    `json:"s"` // Status
	T []int64   `json:"t"` // Timestamps
	V []float64 `json:"v"` // Volumes, sometimes sent as floats
}

// GetDailyBars fetches daily OHLCV data. Finnhub stamps daily candles at
// 00:00 UTC of the session date.
func (p *FinnhubProvider) GetDailyBars(ctx context.Context, symbol string, from, to time.Time) ([]model.Bar, error) {
	symbol = strings.ToUpper(symbol)
	from, to = model.DateOf(from), model.DateOf(to)

	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("resolution", "D")
	q.Set("from", fmt.Sprint(from.Unix()))
	q.Set("to", fmt.Sprint(to.AddDate(0, 0, 1).Unix()-1))
	q.Set("token", p.apiKey)

	var data finnhubCandle
	if err := p.getJSON(ctx, p.baseURL+"/stock/candle?"+q.Encode(), &data); err != nil {
		return nil, err
	}

	if data.S == "no_data" || len(data.T) == 0 {
		return nil, p.fail(ErrNoData, false)
	}

	bars := make([]model.Bar, 0, len(data.T))
	for i := range data.T {
		if i >= len(data.O) || i >= len(data.H) || i >= len(data.L) || i >= len(data.C) {
			continue
		}

		var volume int64
		if i < len(data.V) {
			volume = int64(data.V[i])
		}

		bar := model.Bar{
			Symbol: symbol,
			Date:   model.DateOf(time.Unix(data.T[i], 0).UTC()),
			Open:   data.O[i],
			High:   data.H[i],
			Low:    data.L[i],
			Close:  data.C[i],
			Volume: volume,
		}
		if err := bar.Validate(); err != nil {
			p.log.Debug().Err(err).Msg("dropping bar")
			continue
		}
		bars = append(bars, bar)
	}

	bars = clip(bars, from, to)
	if len(bars) == 0 {
		return nil, p.fail(ErrNoData, false)
	}
	return bars, nil
}
