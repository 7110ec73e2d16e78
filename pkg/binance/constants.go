package binance

import (
	"fmt"
	"time"
)

// KlineInterval is the interval string used by the futures API.
type KlineInterval string

// KlineIntervalMeta holds the API value and duration of an interval.
type KlineIntervalMeta struct {
	APIValue string
	Duration time.Duration
}

// NextOpenTime returns the open time in milliseconds of the candle that
// follows the one opened at openTime. Monthly candles step by calendar month.
func (m KlineIntervalMeta) NextOpenTime(openTime int64) int64 {
	if m.APIValue == string(Interval1Month) {
		return time.UnixMilli(openTime).UTC().AddDate(0, 1, 0).UnixMilli()
	}
	return openTime + m.Duration.Milliseconds()
}

const (
	Interval1Min   KlineInterval = "1m"
	Interval3Min   KlineInterval = "3m"
	Interval5Min   KlineInterval = "5m"
	Interval15Min  KlineInterval = "15m"
	Interval30Min  KlineInterval = "30m"
	Interval1Hour  KlineInterval = "1h"
	Interval2Hour  KlineInterval = "2h"
	Interval4Hour  KlineInterval = "4h"
	Interval6Hour  KlineInterval = "6h"
	Interval8Hour  KlineInterval = "8h"
	Interval12Hour KlineInterval = "12h"
	Interval1Day   KlineInterval = "1d"
	Interval3Day   KlineInterval = "3d"
	Interval1Week  KlineInterval = "1w"
	Interval1Month KlineInterval = "1M"
)

// MaxKlineLimit is the largest limit the futures klines endpoint accepts.
const MaxKlineLimit = 1500

var validKlineIntervals = map[KlineInterval]KlineIntervalMeta{
	Interval1Min:   {APIValue: "1m", Duration: time.Minute},
	Interval3Min:   {APIValue: "3m", Duration: 3 * time.Minute},
	Interval5Min:   {APIValue: "5m", Duration: 5 * time.Minute},
	Interval15Min:  {APIValue: "15m", Duration: 15 * time.Minute},
	Interval30Min:  {APIValue: "30m", Duration: 30 * time.Minute},
	Interval1Hour:  {APIValue: "1h", Duration: time.Hour},
	Interval2Hour:  {APIValue: "2h", Duration: 2 * time.Hour},
	Interval4Hour:  {APIValue: "4h", Duration: 4 * time.Hour},
	Interval6Hour:  {APIValue: "6h", Duration: 6 * time.Hour},
	Interval8Hour:  {APIValue: "8h", Duration: 8 * time.Hour},
	Interval12Hour: {APIValue: "12h", Duration: 12 * time.Hour},
	Interval1Day:   {APIValue: "1d", Duration: 24 * time.Hour},
	Interval3Day:   {APIValue: "3d", Duration: 72 * time.Hour},
	Interval1Week:  {APIValue: "1w", Duration: 7 * 24 * time.Hour},
	Interval1Month: {APIValue: "1M", Duration: 30 * 24 * time.Hour}, // nominal; see NextOpenTime
}

// IsValid checks if the KlineInterval is a supported interval.
func (k KlineInterval) IsValid() bool {
	_, ok := validKlineIntervals[k]
	return ok
}

// ParseInterval parses a string into a supported interval.
func ParseInterval(s string) (KlineIntervalMeta, error) {
	meta, ok := validKlineIntervals[KlineInterval(s)]
	if !ok {
		return KlineIntervalMeta{}, fmt.Errorf("invalid kline interval: %s", s)
	}
	return meta, nil
}
