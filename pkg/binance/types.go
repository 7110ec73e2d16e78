package binance

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Kline is a single futures candle. Closed is explicit: REST rows are closed
// once their close time has passed and are never the newest row, stream rows
// carry the exchange's flag.
type Kline struct {
	OpenTime  int64   `json:"openTime"` // ms since epoch
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`    // base asset volume
	CloseTime int64   `json:"closeTime"` // ms since epoch
	Closed    bool    `json:"closed"`
}

// IsClosed reports whether the candle is final.
func (k Kline) IsClosed() bool { return k.Closed }

// Closes extracts close prices in order.
func Closes(klines []Kline) []float64 {
	out := make([]float64, len(klines))
	for i, k := range klines {
		out[i] = k.Close
	}
	return out
}

// FetchError is returned by the REST client. StatusCode is the upstream HTTP
// status for a non-success reply, or 0 for a network or decode failure.
type FetchError struct {
	StatusCode int
	Detail     string
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("binance fetch failed: status=%d %s", e.StatusCode, e.Detail)
	}
	if e.Err != nil {
		return fmt.Sprintf("binance fetch exception: %s: %v", e.Detail, e.Err)
	}
	return fmt.Sprintf("binance fetch exception: %s", e.Detail)
}

func (e *FetchError) Unwrap() error { return e.Err }

// RateLimited reports a 429, or the 418 Binance sends once an IP keeps going
// after 429s.
func (e *FetchError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusTeapot
}

// IsRateLimited reports whether err carries a rate-limit reply.
func IsRateLimited(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.RateLimited()
}

// StreamEnvelope wraps every message on a combined stream connection.
type StreamEnvelope struct {
	Stream string          `json:"stream"` // e.g. "btcusdt@kline_5m"
	Data   json.RawMessage `json:"data"`
}

// KlineEvent is the payload of a <symbol>@kline_<interval> stream.
type KlineEvent struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Kline     struct {
		StartTime int64  `json:"t"`
		CloseTime int64  `json:"T"`
		Symbol    string `json:"s"`
		Interval  string `json:"i"`
		Open      string `json:"o"`
		Close     string `json:"c"`
		High      string `json:"h"`
		Low       string `json:"l"`
		Volume    string `json:"v"`
		Closed    bool   `json:"x"` // true once the interval has closed
	} `json:"k"`
}
