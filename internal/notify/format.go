package notify

import (
	"fmt"
	"math"
	"strings"

	"crossscanner/pkg/cross"

	"github.com/shopspring/decimal"
)

// FormatCross renders a crossover alert.
func FormatCross(e cross.Event) string {
	icon, label, rel := "🟢", "Golden cross", ">"
	if e.Direction == cross.Dead {
		icon, label, rel = "🔴", "Dead cross", "<"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s (%s)\n", icon, label, e.Symbol, e.Interval)
	fmt.Fprintf(&b, "EMA%d %s %s EMA%d %s\n",
		e.ShortPeriod, formatNumber(e.ShortEMA, 6), rel, e.LongPeriod, formatNumber(e.LongEMA, 6))
	fmt.Fprintf(&b, "Price: %s", formatNumber(e.Price, 8))
	if e.Volume > 0 {
		fmt.Fprintf(&b, "\nVolume: %s", formatNumber(e.Volume, 2))
	}
	if !e.Time.IsZero() {
		fmt.Fprintf(&b, "\nTime: %s", e.Time.UTC().Format("2006-01-02 15:04 UTC"))
	}
	return b.String()
}

func formatNumber(v float64, places int32) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "n/a"
	}
	return decimal.NewFromFloat(v).Round(places).String()
}
