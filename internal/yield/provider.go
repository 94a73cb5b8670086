package yield

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/davigut/pactum/internal/circuitbreaker"
)

// RateProvider returns the current annual yield rate as a decimal
// string (e.g. "0.072").
type RateProvider interface {
	CurrentRate(ctx context.Context) (string, error)
}

// StaticRate is a RateProvider that always returns the same rate.
type StaticRate string

func (s StaticRate) CurrentRate(ctx context.Context) (string, error) {
	return string(s), nil
}

// ErrProviderUnavailable is returned while the provider's circuit is
// open after repeated failures; callers fall back to the default rate.
var ErrProviderUnavailable = errors.New("yield: rate provider unavailable")

const breakerKey = "rate_provider"

// HTTPRateProvider fetches the rate from the yield provider's API. A
// circuit breaker shields the accrual path from a flapping provider.
type HTTPRateProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
	breaker *circuitbreaker.Breaker
	logger  *slog.Logger
}

// NewHTTPRateProvider creates a rate provider against baseURL.
func NewHTTPRateProvider(baseURL, apiKey string, logger *slog.Logger) *HTTPRateProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPRateProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
		breaker: circuitbreaker.New(3, 30*time.Second),
		logger:  logger,
	}
}

// CurrentRate calls GET {base}/rates/current. The response carries the
// annualized rate as a decimal string.
func (p *HTTPRateProvider) CurrentRate(ctx context.Context) (string, error) {
	if !p.breaker.Allow(breakerKey) {
		return "", ErrProviderUnavailable
	}

	rate, err := p.fetchRate(ctx)
	if err != nil {
		p.breaker.RecordFailure(breakerKey)
		return "", err
	}
	p.breaker.RecordSuccess(breakerKey)
	return rate, nil
}

// Available reports whether the provider's circuit is accepting
// requests. Surfaced on the health endpoint.
func (p *HTTPRateProvider) Available() bool {
	return p.breaker.State(breakerKey) != circuitbreaker.StateOpen
}

func (p *HTTPRateProvider) fetchRate(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/rates/current", nil)
	if err != nil {
		return "", err
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching yield rate: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("yield provider returned %d", resp.StatusCode)
	}

	var body struct {
		AnnualRate string `json:"annualRate"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decoding yield rate: %w", err)
	}
	if _, ok := rateMicros(body.AnnualRate); !ok {
		return "", fmt.Errorf("yield provider returned malformed rate %q", body.AnnualRate)
	}
	return body.AnnualRate, nil
}

// Compile-time assertions.
var (
	_ RateProvider = StaticRate("")
	_ RateProvider = (*HTTPRateProvider)(nil)
)
