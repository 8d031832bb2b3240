package provider

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"factorscan/pkg/model"
)

const yahooBaseURL = "https://query1.finance.yahoo.com/v8/finance/chart"

// YahooProvider implements the Provider interface for Yahoo Finance (unofficial API)
type YahooProvider struct {
	endpoint
}

// NewYahooProvider creates a new Yahoo Finance provider
func NewYahooProvider(rateLimitPerMin int, opts ...Option) *YahooProvider {
	return &YahooProvider{endpoint: newEndpoint("yahoo", yahooBaseURL, rateLimitPerMin, opts)}
}

// IsAvailable always returns true (no API key needed)
func (p *YahooProvider) IsAvailable() bool {
	return true
}

// yahooResponse is the chart endpoint payload. Quote arrays hold nulls for
// halted sessions, hence the pointers.
type yahooResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol               string `json:"symbol"`
				ExchangeTimezoneName string `json:"exchangeTimezoneName"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*int64   `json:"volume"`
				} `json:"quote"`
				AdjClose []struct {
					AdjClose []*float64 `json:"adjclose"`
				} `json:"adjclose"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// GetDailyBars fetches daily candles with adjusted closes
func (p *YahooProvider) GetDailyBars(ctx context.Context, symbol string, from, to time.Time) ([]model.Bar, error) {
	symbol = strings.ToUpper(symbol)
	from, to = model.DateOf(from), model.DateOf(to)

	q := url.Values{}
	q.Set("period1", fmt.Sprint(from.Unix()))
	q.Set("period2", fmt.Sprint(to.AddDate(0, 0, 1).Unix()))
	q.Set("interval", "1d")
	q.Set("includePrePost", "false")
	q.Set("includeAdjustedClose", "true")
	u := fmt.Sprintf("%s/%s?%s", p.baseURL, url.PathEscape(symbol), q.Encode())

	var data yahooResponse
	if err := p.getJSON(ctx, u, &data); err != nil {
		return nil, err
	}

	if data.Chart.Error != nil {
		return nil, p.fail(fmt.Errorf("%s", data.Chart.Error.Description), false)
	}
	if len(data.Chart.Result) == 0 || len(data.Chart.Result[0].Timestamp) == 0 ||
		len(data.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, p.fail(ErrNoData, false)
	}

	result := data.Chart.Result[0]
	quotes := result.Indicators.Quote[0]
	var adj []*float64
	if len(result.Indicators.AdjClose) > 0 {
		adj = result.Indicators.AdjClose[0].AdjClose
	}

	loc, err := time.LoadLocation(result.Meta.ExchangeTimezoneName)
	if err != nil || result.Meta.ExchangeTimezoneName == "" {
		loc, _ = time.LoadLocation("America/New_York")
	}

	bars := make([]model.Bar, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		o, h, l, c := at(quotes.Open, i), at(quotes.High, i), at(quotes.Low, i), at(quotes.Close, i)
		if o == nil || h == nil || l == nil || c == nil {
			continue
		}

		bar := model.Bar{
			Symbol: symbol,
			Date:   model.DateOf(time.Unix(ts, 0).In(loc)),
			Open:   *o,
			High:   *h,
			Low:    *l,
			Close:  *c,
		}
		if v := at(quotes.Volume, i); v != nil {
			bar.Volume = *v
		}
		if a := at(adj, i); a != nil {
			ac := *a
			bar.AdjustedClose = &ac
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

func at[T any](s []*T, i int) *T {
	if i >= len(s) {
		return nil
	}
	return s[i]
}
