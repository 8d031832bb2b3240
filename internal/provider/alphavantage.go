package provider

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"factorscan/pkg/model"
)

const alphaVantageBaseURL = "https://www.alphavantage.co/query"

// compactDays is roughly how far back the compact (100 bar) output reaches
const compactDays = 140

// AlphaVantageProvider implements the Provider interface for Alpha Vantage API
type AlphaVantageProvider struct {
	endpoint
	apiKey string
	now    func() time.Time
}

// NewAlphaVantageProvider creates a new Alpha Vantage provider
func NewAlphaVantageProvider(apiKey string, rateLimitPerMin int, opts ...Option) *AlphaVantageProvider {
	return &AlphaVantageProvider{
		endpoint: newEndpoint("alphavantage", alphaVantageBaseURL, rateLimitPerMin, opts),
		apiKey:   apiKey,
		now:      time.Now,
	}
}

// IsAvailable checks if the provider has an API key
func (p *AlphaVantageProvider) IsAvailable() bool {
	return p.apiKey != ""
}

// alphaVantageResponse represents the daily series payload. Throttling is
// reported in-band through Note or Information with a 200 status.
type alphaVantageResponse struct {
	TimeSeries  map[string]map[string]string `json:"Time Series (Daily)"`
	Note        string                       `json:"Note"`
	Information string                       `json:"Information"`
	Error       string                       `json:"Error Message"`
}

// GetDailyBars fetches the daily series and clips it to the range
func (p *AlphaVantageProvider) GetDailyBars(ctx context.Context, symbol string, from, to time.Time) ([]model.Bar, error) {
	symbol = strings.ToUpper(symbol)
	from, to = model.DateOf(from), model.DateOf(to)

	size := "compact"
	if p.now().Sub(from) > compactDays*24*time.Hour {
		size = "full"
	}

	q := url.Values{}
	q.Set("function", "TIME_SERIES_DAILY")
	q.Set("symbol", symbol)
	q.Set("outputsize", size)
	q.Set("apikey", p.apiKey)

	var data alphaVantageResponse
	if err := p.getJSON(ctx, p.baseURL+"?"+q.Encode(), &data); err != nil {
		return nil, err
	}

	if msg := data.Note + data.Information; msg != "" {
		pause := p.limiter.SignalRateLimited()
		p.log.Warn().Dur("backoff", pause).Str("note", msg).Msg("rate limited")
		return nil, p.fail(fmt.Errorf("%w: %s", ErrRateLimited, msg), true)
	}
	if data.Error != "" {
		return nil, p.fail(fmt.Errorf("%s", data.Error), false)
	}
	if len(data.TimeSeries) == 0 {
		return nil, p.fail(ErrNoData, false)
	}

	bars := make([]model.Bar, 0, len(data.TimeSeries))
	for day, values := range data.TimeSeries {
		bar, err := parseDailyValues(symbol, day, values)
		if err == nil {
			err = bar.Validate()
		}
		if err != nil {
			p.log.Debug().Err(err).Str("date", day).Msg("dropping bar")
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

func parseDailyValues(symbol, day string, values map[string]string) (model.Bar, error) {
	date, err := model.ParseDate(day)
	if err != nil {
		return model.Bar{}, fmt.Errorf("%w: date %q", model.ErrInvalidRecord, day)
	}

	bar := model.Bar{Symbol: symbol, Date: date}
	prices := []struct {
		key string
		dst *float64
	}{
		{"1. open", &bar.Open},
		{"2. high", &bar.High},
		{"3. low", &bar.Low},
		{"4. close", &bar.Close},
	}
	for _, f := range prices {
		v, err := strconv.ParseFloat(values[f.key], 64)
		if err != nil {
			return bar, fmt.Errorf("%w: %s %q", model.ErrInvalidRecord, f.key, values[f.key])
		}
		*f.dst = v
	}

	if bar.Volume, err = strconv.ParseInt(values["5. volume"], 10, 64); err != nil {
		return bar, fmt.Errorf("%w: volume %q", model.ErrInvalidRecord, values["5. volume"])
	}
	return bar, nil
}
