// Package fx compares the exchange rate the payment network quotes with a
// public market rate.
package fx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

// ErrMarketRateUnavailable means every provider failed or was open.
var ErrMarketRateUnavailable = errors.New("market rate unavailable")

// RateProvider returns how many units of to one unit of from buys.
type RateProvider interface {
	Name() string
	Rate(ctx context.Context, from, to string) (float64, error)
}

type extractFunc func(body []byte, to string) (float64, error)

// HTTPProvider fetches a rate from a public JSON endpoint behind a circuit
// breaker, so a provider that keeps failing is skipped until it recovers.
type HTTPProvider struct {
	name    string
	client  *http.Client
	timeout time.Duration
	build   func(from, to string) string
	extract extractFunc
	breaker *gobreaker.CircuitBreaker
}

func newHTTPProvider(name string, client *http.Client, timeout time.Duration, build func(from, to string) string, extract extractFunc, logger *slog.Logger) *HTTPProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPProvider{
		name:    name,
		client:  client,
		timeout: timeout,
		build:   build,
		extract: extract,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "fx-" + name,
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				if logger != nil {
					logger.Warn("fx provider breaker changed state",
						"provider", name,
						"from", from.String(),
						"to", to.String(),
					)
				}
			},
		}),
	}
}

// NewExchangeRateHost queries <base>/convert?from=&to= and reads "result".
func NewExchangeRateHost(baseURL string, client *http.Client, timeout time.Duration, logger *slog.Logger) *HTTPProvider {
	base := strings.TrimRight(baseURL, "/")
	return newHTTPProvider("exchangerate.host", client, timeout,
		func(from, to string) string {
			return base + "/convert?from=" + url.QueryEscape(from) + "&to=" + url.QueryEscape(to)
		},
		func(body []byte, _ string) (float64, error) {
			var out struct {
				Result float64 `json:"result"`
			}
			if err := json.Unmarshal(body, &out); err != nil {
				return 0, err
			}
			return out.Result, nil
		}, logger)
}

// NewFrankfurter queries <base>/latest?from=&to= and reads rates[to].
func NewFrankfurter(baseURL string, client *http.Client, timeout time.Duration, logger *slog.Logger) *HTTPProvider {
	base := strings.TrimRight(baseURL, "/")
	return newHTTPProvider("frankfurter", client, timeout,
		func(from, to string) string {
			return base + "/latest?from=" + url.QueryEscape(from) + "&to=" + url.QueryEscape(to)
		},
		ratesMap, logger)
}

// NewOpenER queries <base>/v6/latest/<from> and reads rates[to].
func NewOpenER(baseURL string, client *http.Client, timeout time.Duration, logger *slog.Logger) *HTTPProvider {
	base := strings.TrimRight(baseURL, "/")
	return newHTTPProvider("open.er-api", client, timeout,
		func(from, _ string) string {
			return base + "/v6/latest/" + url.PathEscape(from)
		},
		ratesMap, logger)
}

func ratesMap(body []byte, to string) (float64, error) {
	var out struct {
		Rates map[string]float64 `json:"rates"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, err
	}
	return out.Rates[to], nil
}

func (p *HTTPProvider) Name() string { return p.name }

// State reports the provider's breaker state.
func (p *HTTPProvider) State() gobreaker.State { return p.breaker.State() }

func (p *HTTPProvider) Rate(ctx context.Context, from, to string) (float64, error) {
	v, err := p.breaker.Execute(func() (interface{}, error) {
		return p.fetch(ctx, from, to)
	})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", p.name, err)
	}
	return v.(float64), nil
}

func (p *HTTPProvider) fetch(ctx context.Context, from, to string) (float64, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.build(from, to), nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, err
	}
	rate, err := p.extract(body, to)
	if err != nil {
		return 0, err
	}
	if !(rate > 0) {
		return 0, errors.New("no usable rate in response")
	}
	return rate, nil
}

var isoAliases = map[string]string{"USDT": "USD"}

// NormalizeCode upper-cases an asset code and maps stablecoin aliases to
// their ISO currency.
func NormalizeCode(code string) string {
	up := strings.ToUpper(strings.TrimSpace(code))
	if iso, ok := isoAliases[up]; ok {
		return iso
	}
	return up
}

// Chain asks each provider in order and returns the first usable rate.
type Chain struct {
	providers []RateProvider
	logger    *slog.Logger
}

func NewChain(logger *slog.Logger, providers ...RateProvider) *Chain {
	return &Chain{providers: providers, logger: logger}
}

// MarketRate returns the rate and the name of the provider that supplied it.
func (c *Chain) MarketRate(ctx context.Context, from, to string) (float64, string, error) {
	f, t := NormalizeCode(from), NormalizeCode(to)
	if f == "" || t == "" {
		return 0, "", errors.New("invalid currency")
	}
	if f == t {
		return 1, "identity", nil
	}
	for _, p := range c.providers {
		rate, err := p.Rate(ctx, f, t)
		if err == nil {
			return rate, p.Name(), nil
		}
		c.logger.DebugContext(ctx, "fx provider failed",
			"provider", p.Name(),
			"error", err,
		)
	}
	return 0, "", ErrMarketRateUnavailable
}
