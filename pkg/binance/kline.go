package binance

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseKlineList converts raw futures kline rows to []Kline. Rows are
// [openTime, open, high, low, close, volume, closeTime, ...] with prices as
// strings and times as numbers. Incomplete or unparseable rows are skipped.
// A row is closed when its close time is before now. The newest row is the
// forming candle of the klines endpoint and is never closed, whatever the
// local clock says.
func ParseKlineList(raw [][]any, now time.Time) []Kline {
	out := make([]Kline, 0, len(raw))
	nowMs := now.UnixMilli()

	for _, row := range raw {
		if len(row) < 7 {
			continue // skip incomplete row
		}

		openTime, err := toInt64(row[0])
		if err != nil {
			continue
		}
		closeVal, err := toFloat(row[4])
		if err != nil {
			continue
		}
		closeTime, err := toInt64(row[6])
		if err != nil {
			continue
		}

		// OHLV are informational; a bad value degrades to zero rather than dropping the row
		open, _ := toFloat(row[1])
		high, _ := toFloat(row[2])
		low, _ := toFloat(row[3])
		volume, _ := toFloat(row[5])

		out = append(out, Kline{
			OpenTime:  openTime,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closeVal,
			Volume:    volume,
			CloseTime: closeTime,
			Closed:    closeTime < nowMs,
		})
	}
	if n := len(out); n > 0 {
		out[n-1].Closed = false
	}
	return out
}

// ParseKlineEvent decodes a combined-stream kline message.
func ParseKlineEvent(msg []byte) (string, Kline, error) {
	var env StreamEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return "", Kline{}, fmt.Errorf("decode envelope: %w", err)
	}
	if !strings.Contains(env.Stream, "@kline_") || len(env.Data) == 0 {
		return "", Kline{}, fmt.Errorf("not a kline stream: %q", env.Stream)
	}

	var ev KlineEvent
	if err := json.Unmarshal(env.Data, &ev); err != nil {
		return "", Kline{}, fmt.Errorf("decode kline event: %w", err)
	}

	closeVal, err := strconv.ParseFloat(ev.Kline.Close, 64)
	if err != nil {
		return "", Kline{}, fmt.Errorf("parse close: %w", err)
	}
	open, _ := strconv.ParseFloat(ev.Kline.Open, 64)
	high, _ := strconv.ParseFloat(ev.Kline.High, 64)
	low, _ := strconv.ParseFloat(ev.Kline.Low, 64)
	volume, _ := strconv.ParseFloat(ev.Kline.Volume, 64)

	symbol := ev.Symbol
	if symbol == "" {
		symbol = strings.ToUpper(strings.SplitN(env.Stream, "@", 2)[0])
	}

	return symbol, Kline{
		OpenTime:  ev.Kline.StartTime,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closeVal,
		Volume:    volume,
		CloseTime: ev.Kline.CloseTime,
		Closed:    ev.Kline.Closed,
	}, nil
}

// StreamName returns the combined-stream name for a symbol and interval.
func StreamName(symbol, interval string) string {
	return fmt.Sprintf("%s@kline_%s", strings.ToLower(symbol), interval)
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case string:
		return strconv.ParseFloat(x, 64)
	case json.Number:
		return x.Float64()
	case float64:
		return x, nil
	default:
		return 0, fmt.Errorf("unexpected value %T", v)
	}
}

func toInt64(v any) (int64, error) {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, nil
		}
		f, err := x.Float64()
		return int64(f), err
	case float64:
		return int64(x), nil
	case string:
		return strconv.ParseInt(x, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected value %T", v)
	}
}
