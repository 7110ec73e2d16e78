package cross

import (
	"fmt"
	"time"
)

// Event is a detected crossover. It is a value and is never mutated after
// detection.
type Event struct {
	Symbol      string    `json:"symbol"`
	Direction   Direction `json:"direction"`
	Interval    string    `json:"interval"`
	ShortPeriod int       `json:"emaShort"`
	LongPeriod  int       `json:"emaLong"`
	Time        time.Time `json:"time"`             // close time of the candle that completed the cross
	Price       float64   `json:"price"`            // close of that candle
	Volume      float64   `json:"volume,omitempty"` // volume of that candle
	ShortEMA    float64   `json:"shortEma"`
	LongEMA     float64   `json:"longEma"`
}

// Key returns the cooldown ledger key "{symbol}:{direction}".
func (e Event) Key() string {
	return LedgerKey(e.Symbol, e.Direction)
}

// LedgerKey builds the cooldown key for a symbol and direction.
func LedgerKey(symbol string, dir Direction) string {
	return fmt.Sprintf("%s:%s", symbol, dir)
}
