// Package rates fetches BTC exchange rates and converts them to per-satoshi
// rates for display currencies.
package rates

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

const satsPerBTC = 100_000_000

// Client talks to a yadio-compatible exchange rate API.
type Client struct {
	http *resty.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(5*time.Second).
			SetHeader("Accept", "application/json"),
	}
}

type exratesResponse struct {
	BTC       map[string]float64 `json:"BTC"`
	Timestamp int64              `json:"timestamp"`
}

// PerSatRates returns fiat-per-satoshi rates keyed by currency code, plus the
// upstream timestamp (unix seconds).
func (c *Client) PerSatRates(ctx context.Context) (map[string]float64, int64, error) {
	var out exratesResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/exrates/btc")
	if err != nil {
		return nil, 0, fmt.Errorf("fetch rates: %w", err)
	}
	if resp.IsError() {
		return nil, 0, fmt.Errorf("rates upstream returned %d", resp.StatusCode())
	}
	if len(out.BTC) == 0 {
		return nil, 0, fmt.Errorf("invalid rates response")
	}

	perSat := make(map[string]float64, len(out.BTC))
	for code, btcRate := range out.BTC {
		perSat[code] = btcRate / satsPerBTC
	}
	ts := out.Timestamp
	if ts == 0 {
		ts = time.Now().Unix()
	}
	return perSat, ts, nil
}
