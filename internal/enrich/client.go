// Package enrich fetches a live quote for a contract right before an
// alert is persisted. Lookups are best-effort: a miss never blocks the
// alert, the caller falls back to the parsed figures.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	cb "github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/solboy/solalerts/internal/config"
)

// Quote is the subset of the pair payload the emitter consumes.
type Quote struct {
	MarketCapUSD *float64
	LiquidityUSD *float64
	PriceUSD     *float64
	Volume24hUSD *float64
	FetchedAt    time.Time
}

// Client wraps the public pair-quote endpoint with a hard deadline, a
// token bucket and a circuit breaker. The upstream allows roughly 300
// requests per minute; the limiter stays well under that.
type Client struct {
	baseURL string
	http    *http.Client
	retries int
	limiter *rate.Limiter
	breaker *cb.CircuitBreaker
}

// New builds a client from configuration.
func New(cfg config.EnrichConfig) *Client {
	st := cb.Settings{Name: "quote_api"}
	st.Interval = 60 * time.Second
	st.Timeout = 30 * time.Second
	st.ReadyToTrip = func(counts cb.Counts) bool {
		return counts.ConsecutiveFailures >= 3
	}
	return &Client{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: cfg.Timeout},
		retries: cfg.Retries,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
		breaker: cb.NewCircuitBreaker(st),
	}
}

// Quote fetches the freshest pair quote for contract. The context
// deadline caps the whole call including the retry.
func (c *Client) Quote(ctx context.Context, contract string) (*Quote, error) {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		out, err := c.breaker.Execute(func() (interface{}, error) {
			return c.fetch(ctx, contract)
		})
		if err == nil {
			return out.(*Quote), nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("quote %s: %w", contract, lastErr)
}

func (c *Client) fetch(ctx context.Context, contract string) (*Quote, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+contract, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("quote api status %d", resp.StatusCode)
	}

	var payload struct {
		Pairs []struct {
			PriceUSD  string   `json:"priceUsd"`
			MarketCap *float64 `json:"marketCap"`
			FDV       *float64 `json:"fdv"`
			Liquidity struct {
				USD *float64 `json:"usd"`
			} `json:"liquidity"`
			Volume struct {
				H24 *float64 `json:"h24"`
			} `json:"volume"`
		} `json:"pairs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode quote: %w", err)
	}
	if len(payload.Pairs) == 0 {
		return nil, fmt.Errorf("no pairs for %s", contract)
	}

	pair := payload.Pairs[0]
	q := &Quote{
		MarketCapUSD: pair.MarketCap,
		LiquidityUSD: pair.Liquidity.USD,
		Volume24hUSD: pair.Volume.H24,
		FetchedAt:    time.Now().UTC(),
	}
	if q.MarketCapUSD == nil {
		q.MarketCapUSD = pair.FDV
	}
	if pair.PriceUSD != "" {
		if v, err := strconv.ParseFloat(pair.PriceUSD, 64); err == nil {
			q.PriceUSD = &v
		}
	}
	return q, nil
}
