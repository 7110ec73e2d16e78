package binance

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/adshao/go-binance/v2/futures"
)

// ExchangeInfo lists tradable futures contracts.
type ExchangeInfo struct {
	client *futures.Client
}

// NewExchangeInfo creates an unauthenticated futures client. An empty baseURL
// keeps the library default.
func NewExchangeInfo(baseURL string, timeout time.Duration) *ExchangeInfo {
	client := futures.NewClient("", "")
	if baseURL != "" {
		client.BaseURL = baseURL
	}
	client.HTTPClient = &http.Client{Timeout: timeout}
	return &ExchangeInfo{client: client}
}

// USDTPerpetualSymbols fetches trading USDT-margined perpetual symbols, sorted.
func (e *ExchangeInfo) USDTPerpetualSymbols(ctx context.Context) ([]string, error) {
	info, err := e.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("exchange info: %w", err)
	}
	return FilterUSDTPerpetuals(info.Symbols), nil
}

// FilterUSDTPerpetuals keeps trading perpetual contracts quoted in USDT.
func FilterUSDTPerpetuals(symbols []futures.Symbol) []string {
	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if s.QuoteAsset != "USDT" || s.ContractType != futures.ContractTypePerpetual || s.Status != "TRADING" {
			continue
		}
		if seen[s.Symbol] {
			continue
		}
		seen[s.Symbol] = true
		out = append(out, s.Symbol)
	}
	sort.Strings(out)
	return out
}
