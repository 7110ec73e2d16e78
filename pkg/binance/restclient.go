package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// DefaultFuturesURL is the USDT-M futures REST base URL.
const DefaultFuturesURL = "https://fapi.binance.com"

type RESTClient struct {
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

// NewRESTClient creates a klines client. timeout bounds every request.
func NewRESTClient(baseURL string, timeout time.Duration) *RESTClient {
	if baseURL == "" {
		baseURL = DefaultFuturesURL
	}
	return &RESTClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

// WithClock replaces the clock used to decide whether a candle has closed.
func (c *RESTClient) WithClock(now func() time.Time) *RESTClient {
	c.now = now
	return c
}

func (c *RESTClient) HTTPClient() *http.Client {
	return c.httpClient
}

// GetKlines fetches the latest limit candles for symbol, oldest first. The
// newest candle is normally still open and is returned with Closed=false.
func (c *RESTClient) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	if limit > MaxKlineLimit {
		limit = MaxKlineLimit
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))
	endpoint := fmt.Sprintf("%s/fapi/v1/klines?%s", c.baseURL, params.Encode())

	// Construct the GET request with context for timeout/cancel support
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &FetchError{Detail: "failed to create request", Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{Detail: "http request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &FetchError{StatusCode: resp.StatusCode, Detail: string(body)}
	}

	var raw [][]any
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, &FetchError{Detail: "decode response", Err: err}
	}

	return ParseKlineList(raw, c.now()), nil
}
