package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// Upstream fetches daily bars for one symbol over an inclusive date range.
type Upstream interface {
	FetchDaily(ctx context.Context, symbol string, start, end time.Time) (*Table, error)
}

// YahooClient fetches daily candles from the Yahoo Finance v8 chart API.
// All calls run through a circuit breaker so a flapping upstream fails
// requests fast instead of stalling every backtest behind timeouts.
type YahooClient struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

// NewYahooClient creates a Yahoo chart API client.
func NewYahooClient(log zerolog.Logger) *YahooClient {
	c := &YahooClient{
		baseURL: "https://query1.finance.yahoo.com/v8/finance/chart",
		client:  &http.Client{Timeout: 15 * time.Second},
		log:     log.With().Str("client", "yahoo-finance").Logger(),
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "yahoo-finance",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && ratio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn().
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state change")
		},
	})
	return c
}

// chartResponse mirrors the subset of the v8 chart payload we consume.
type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// FetchDaily retrieves daily bars for [start, end] inclusive. Rows with any
// missing field are dropped; timestamps are normalized to UTC midnight so
// they merge cleanly with cached rows regardless of exchange timezone.
func (c *YahooClient) FetchDaily(ctx context.Context, symbol string, start, end time.Time) (*Table, error) {
	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetchDaily(ctx, symbol, start, end)
	})
	if err != nil {
		return nil, err
	}
	return res.(*Table), nil
}

func (c *YahooClient) fetchDaily(ctx context.Context, symbol string, start, end time.Time) (*Table, error) {
	// period2 is exclusive upstream, so push it one day past the range.
	q := url.Values{}
	q.Set("interval", "1d")
	q.Set("period1", fmt.Sprintf("%d", start.Unix()))
	q.Set("period2", fmt.Sprintf("%d", end.AddDate(0, 0, 1).Unix()))
	q.Set("events", "history")
	reqURL := fmt.Sprintf("%s/%s?%s", c.baseURL, url.PathEscape(symbol), q.Encode())

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}
		t, retryable, err := c.doFetch(ctx, reqURL, symbol)
		if err == nil {
			return t, nil
		}
		lastErr = err
		if !retryable {
			break
		}
		c.log.Warn().Err(err).Str("symbol", symbol).Int("attempt", attempt+1).Msg("Fetch failed, retrying")
	}
	return nil, lastErr
}

func (c *YahooClient) doFetch(ctx context.Context, reqURL, symbol string) (*Table, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; hqg-backtester/1.0)")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("request failed for %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, fmt.Errorf("unknown symbol %s", symbol)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("upstream status %d for %s", resp.StatusCode, symbol)
	case resp.StatusCode != http.StatusOK:
		return nil, false, fmt.Errorf("upstream status %d for %s", resp.StatusCode, symbol)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, true, fmt.Errorf("read response for %s: %w", symbol, err)
	}

	var parsed chartResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, false, fmt.Errorf("parse response for %s: %w", symbol, err)
	}
	if parsed.Chart.Error != nil {
		return nil, false, fmt.Errorf("upstream error for %s: %s", symbol, parsed.Chart.Error.Description)
	}
	if len(parsed.Chart.Result) == 0 || len(parsed.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, false, fmt.Errorf("no data returned for %s", symbol)
	}

	result := parsed.Chart.Result[0]
	quote := result.Indicators.Quote[0]

	t := &Table{}
	for i, ts := range result.Timestamp {
		o := deref(quote.Open, i)
		h := deref(quote.High, i)
		l := deref(quote.Low, i)
		cl := deref(quote.Close, i)
		v := deref(quote.Volume, i)
		if math.IsNaN(o) || math.IsNaN(h) || math.IsNaN(l) || math.IsNaN(cl) {
			continue
		}
		if math.IsNaN(v) {
			v = 0
		}
		day := time.Unix(ts, 0).UTC()
		midnight := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC).Unix()
		// Upstream occasionally repeats the trailing bar; keep the first.
		if n := t.Len(); n > 0 && t.Dates[n-1] >= midnight {
			continue
		}
		t.Dates = append(t.Dates, midnight)
		t.Open = append(t.Open, o)
		t.High = append(t.High, h)
		t.Low = append(t.Low, l)
		t.Close = append(t.Close, cl)
		t.Volume = append(t.Volume, v)
	}

	c.log.Debug().Str("symbol", symbol).Int("rows", t.Len()).Msg("Fetched daily bars")
	return t, false, nil
}

func deref(vals []*float64, i int) float64 {
	if i >= len(vals) || vals[i] == nil {
		return math.NaN()
	}
	return *vals[i]
}
