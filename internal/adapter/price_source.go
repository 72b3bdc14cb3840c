package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/autopilot-engine/internal/circuitbreaker"
	"github.com/autopilot-engine/internal/logging"
	"github.com/autopilot-engine/internal/retry"
	"github.com/shopspring/decimal"
)

// StaticPriceSource serves a fixed price table. Used in paper mode and tests.
type StaticPriceSource struct {
	prices map[string]decimal.Decimal
}

// NewStaticPriceSource creates a static source; mints are matched case-insensitively
func NewStaticPriceSource(prices map[string]decimal.Decimal) *StaticPriceSource {
	normalized := make(map[string]decimal.Decimal, len(prices))
	for mint, price := range prices {
		normalized[strings.ToLower(mint)] = price
	}
	return &StaticPriceSource{prices: normalized}
}

// GetPrices returns the known subset of mints
func (s *StaticPriceSource) GetPrices(_ context.Context, mints []string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(mints))
	for _, mint := range mints {
		if price, ok := s.prices[strings.ToLower(mint)]; ok {
			out[mint] = price
		}
	}
	return out, nil
}

// HTTPPriceSourceConfig configures an HTTPPriceSource
type HTTPPriceSourceConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Retry   *retry.Config
	Breaker *circuitbreaker.CircuitBreaker
}

// HTTPPriceSource quotes prices from a JSON endpoint:
// GET {base}/prices?mints=a,b -> {"prices":{"a":"1.23"}}
type HTTPPriceSource struct {
	base    string
	apiKey  string
	hc      *http.Client
	retry   *retry.Config
	breaker *circuitbreaker.CircuitBreaker
}

// NewHTTPPriceSource creates a new HTTP price source
func NewHTTPPriceSource(cfg HTTPPriceSourceConfig) (*HTTPPriceSource, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("price source URL is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	retryCfg := cfg.Retry
	if retryCfg == nil {
		retryCfg = retry.DefaultConfig()
	}
	if retryCfg.ShouldRetry == nil {
		withFilter := *retryCfg
		withFilter.ShouldRetry = isRetryableHTTP
		retryCfg = &withFilter
	}
	breaker := cfg.Breaker
	if breaker == nil {
		breaker = circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig("price-source"))
	}

	return &HTTPPriceSource{
		base:    base,
		apiKey:  cfg.APIKey,
		hc:      &http.Client{Timeout: timeout},
		retry:   retryCfg,
		breaker: breaker,
	}, nil
}

type priceResponse struct {
	Prices map[string]decimal.Decimal `json:"prices"`
}

// httpStatusError carries the upstream status for retry decisions
type httpStatusError struct {
	status int
	body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("HTTP error: %d - %s", e.status, e.body)
}

func isRetryableHTTP(err error) bool {
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return statusErr.status == http.StatusTooManyRequests || statusErr.status >= 500
	}
	// transport errors
	return true
}

// GetPrices fetches quotes for mints in one request
func (s *HTTPPriceSource) GetPrices(ctx context.Context, mints []string) (map[string]decimal.Decimal, error) {
	if len(mints) == 0 {
		return map[string]decimal.Decimal{}, nil
	}
	query := append([]string(nil), mints...)
	sort.Strings(query)
	u := fmt.Sprintf("%s/prices?mints=%s", s.base, url.QueryEscape(strings.Join(query, ",")))

	var out priceResponse
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		return retry.Do(ctx, s.retry, func(ctx context.Context, attempt int) error {
			body, err := s.doRequest(ctx, u)
			if err != nil {
				return err
			}
			out = priceResponse{}
			if err := json.Unmarshal(body, &out); err != nil {
				return &httpStatusError{status: http.StatusBadGateway, body: "invalid price payload: " + err.Error()}
			}
			return nil
		})
	})
	if err != nil {
		return nil, NewAdapterError("prices", "GetPrices", fmt.Errorf("%w: %w", ErrProviderUnavailable, err), map[string]interface{}{
			"mints": len(mints),
		})
	}

	// match the caller's spelling of each mint
	byLower := make(map[string]decimal.Decimal, len(out.Prices))
	for mint, price := range out.Prices {
		byLower[strings.ToLower(mint)] = price
	}
	prices := make(map[string]decimal.Decimal, len(mints))
	for _, mint := range mints {
		if price, ok := byLower[strings.ToLower(mint)]; ok {
			prices[mint] = price
		}
	}
	return prices, nil
}

func (s *HTTPPriceSource) doRequest(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("X-API-Key", s.apiKey)
	}

	resp, err := s.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &httpStatusError{status: resp.StatusCode, body: string(body)}
	}
	return body, nil
}

// QuoteCache is the key/value store used by CachedPriceSource
type QuoteCache interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
}

// KeyPrefixPrice prefixes cached quotes
const KeyPrefixPrice = "price:"

// CachedPriceSource serves recent quotes from a shared cache and only asks
// the inner source for misses. Cache failures degrade to misses.
type CachedPriceSource struct {
	inner PriceSource
	cache QuoteCache
	ttl   time.Duration
}

// NewCachedPriceSource wraps inner with a cache
func NewCachedPriceSource(inner PriceSource, cache QuoteCache, ttl time.Duration) *CachedPriceSource {
	return &CachedPriceSource{inner: inner, cache: cache, ttl: ttl}
}

// GetPrices returns cached prices and fetches the rest
func (c *CachedPriceSource) GetPrices(ctx context.Context, mints []string) (map[string]decimal.Decimal, error) {
	logger := logging.FromContext(ctx).WithField("component", "price_cache")
	prices := make(map[string]decimal.Decimal, len(mints))
	var misses []string

	for _, mint := range mints {
		raw, found, err := c.cache.Get(ctx, KeyPrefixPrice+strings.ToLower(mint))
		if err != nil {
			logger.WithError(err).Warn("Price cache read failed")
		}
		if err != nil || !found {
			misses = append(misses, mint)
			continue
		}
		price, err := decimal.NewFromString(raw)
		if err != nil {
			misses = append(misses, mint)
			continue
		}
		prices[mint] = price
	}

	if len(misses) == 0 {
		return prices, nil
	}

	fetched, err := c.inner.GetPrices(ctx, misses)
	if err != nil {
		return nil, err
	}
	for mint, price := range fetched {
		prices[mint] = price
		if err := c.cache.Set(ctx, KeyPrefixPrice+strings.ToLower(mint), price.String(), c.ttl); err != nil {
			logger.WithError(err).Warn("Price cache write failed")
		}
	}
	return prices, nil
}
