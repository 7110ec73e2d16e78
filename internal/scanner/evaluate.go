package scanner

import (
	"errors"
	"time"

	"crossscanner/config"
	"crossscanner/pkg/binance"
	"crossscanner/pkg/cross"
	"crossscanner/pkg/ema"
)

var (
	// ErrNoClosedPair means the history has no two adjacent closed candles.
	ErrNoClosedPair = errors.New("no adjacent closed candle pair")
	// ErrShortHistory means too few closed candles to seed the long EMA.
	ErrShortHistory = errors.New("not enough closed candles")
)

// Evaluate seeds both EMAs over the closed history of one symbol and
// returns the crossovers between its last two closed candles. Candles after
// the last closed one are ignored.
func Evaluate(cfg config.ScanConfig, symbol string, klines []binance.Kline) ([]cross.Event, error) {
	prev, last, ok := cross.LastClosedPair(klines)
	if !ok {
		return nil, ErrNoClosedPair
	}
	history := klines[:last+1]
	if len(history) < cfg.MinClosedCandles() {
		return nil, ErrShortHistory
	}

	closes := binance.Closes(history)
	short := ema.Seed(closes, cfg.EMAShort)
	long := ema.Seed(closes, cfg.EMALong)

	res := cross.Detect(cfg.Direction(), short[prev], long[prev], short[last], long[last])
	if !res.Any() {
		return nil, nil
	}

	k := history[last]
	events := make([]cross.Event, 0, 2)
	for _, dir := range res.Directions() {
		events = append(events, cross.Event{
			Symbol:      symbol,
			Direction:   dir,
			Interval:    cfg.Interval,
			ShortPeriod: cfg.EMAShort,
			LongPeriod:  cfg.EMALong,
			Time:        time.UnixMilli(k.CloseTime).UTC(),
			Price:       k.Close,
			Volume:      k.Volume,
			ShortEMA:    short[last],
			LongEMA:     long[last],
		})
	}
	return events, nil
}
