package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"crossscanner/pkg/binance"
	"crossscanner/pkg/cross"
)

// MinCandleMargin is the smallest number of extra candles fetched beyond
// the longest EMA period.
const MinCandleMargin = 10

// Validation error codes.
const (
	CodeInvalidInterval  = "invalid_interval"
	CodeInvalidPeriod    = "invalid_period"
	CodeInvalidScanType  = "invalid_scan_type"
	CodeInvalidSymbol    = "invalid_symbol"
	CodeInvalidMargin    = "invalid_margin"
	CodeInvalidCooldown  = "invalid_cooldown"
	CodeLimitTooLarge    = "limit_too_large"
	CodeInvalidRateValue = "invalid_rate"
)

var symbolPattern = regexp.MustCompile(`^[A-Z0-9]{2,30}$`)

// ScanConfig is the validated parameter set of one scan pass.
type ScanConfig struct {
	Interval     string        `mapstructure:"interval" json:"interval"`
	EMAShort     int           `mapstructure:"ema_short" json:"emaShort"`
	EMALong      int           `mapstructure:"ema_long" json:"emaLong"`
	ScanType     string        `mapstructure:"scan_type" json:"scanType"`
	Symbols      []string      `mapstructure:"symbols" json:"symbols,omitempty"`
	Cooldown     time.Duration `mapstructure:"cooldown" json:"cooldown"`
	CandleMargin int           `mapstructure:"candle_margin" json:"candleMargin"`
	Every        time.Duration `mapstructure:"every" json:"every"`
}

func DefaultScanConfig() ScanConfig {
	return ScanConfig{
		Interval:     string(binance.Interval5Min),
		EMAShort:     26,
		EMALong:      200,
		ScanType:     string(cross.Golden),
		Cooldown:     30 * time.Minute,
		CandleMargin: 50,
		Every:        5 * time.Minute,
	}
}

// ScanOverrides are per-call changes to a stored ScanConfig. Nil fields keep
// the stored value.
type ScanOverrides struct {
	Interval *string  `json:"interval,omitempty"`
	EMAShort *int     `json:"emaShort,omitempty"`
	EMALong  *int     `json:"emaLong,omitempty"`
	ScanType *string  `json:"scanType,omitempty"`
	Symbols  []string `json:"symbols,omitempty"`
}

// Apply returns base with the non-nil overrides applied.
func (o ScanOverrides) Apply(base ScanConfig) ScanConfig {
	out := base
	out.Symbols = append([]string(nil), base.Symbols...)
	if o.Interval != nil {
		out.Interval = strings.TrimSpace(*o.Interval)
	}
	if o.EMAShort != nil {
		out.EMAShort = *o.EMAShort
	}
	if o.EMALong != nil {
		out.EMALong = *o.EMALong
	}
	if o.ScanType != nil {
		out.ScanType = strings.ToLower(strings.TrimSpace(*o.ScanType))
	}
	if len(o.Symbols) > 0 {
		out.Symbols = NormalizeSymbols(o.Symbols)
	}
	return out
}

// ValidationError reports the first invalid field of a configuration.
type ValidationError struct {
	Field  string
	Code   string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid config: %s: %s", e.Field, e.Detail)
}

func invalid(field, code, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Code: code, Detail: fmt.Sprintf(format, args...)}
}

// Validate checks every field and returns a *ValidationError on the first
// failure.
func (c ScanConfig) Validate() error {
	if !binance.KlineInterval(c.Interval).IsValid() {
		return invalid("interval", CodeInvalidInterval, "unsupported interval %q", c.Interval)
	}
	if c.EMAShort < 1 {
		return invalid("emaShort", CodeInvalidPeriod, "must be >= 1, got %d", c.EMAShort)
	}
	if c.EMALong < 2 {
		return invalid("emaLong", CodeInvalidPeriod, "must be >= 2, got %d", c.EMALong)
	}
	if c.EMAShort >= c.EMALong {
		return invalid("emaShort", CodeInvalidPeriod, "short period %d must be below long period %d", c.EMAShort, c.EMALong)
	}
	if _, err := cross.ParseDirection(c.ScanType); err != nil {
		return invalid("scanType", CodeInvalidScanType, "%v", err)
	}
	if c.CandleMargin < MinCandleMargin {
		return invalid("candleMargin", CodeInvalidMargin, "must be >= %d, got %d", MinCandleMargin, c.CandleMargin)
	}
	if limit := c.CandleLimit(); limit > binance.MaxKlineLimit {
		return invalid("emaLong", CodeLimitTooLarge, "candle limit %d exceeds %d", limit, binance.MaxKlineLimit)
	}
	if c.Cooldown < 0 {
		return invalid("cooldown", CodeInvalidCooldown, "must not be negative")
	}
	return ValidateSymbols(c.Symbols)
}

// Direction returns the parsed scan type. Call after Validate.
func (c ScanConfig) Direction() cross.Direction {
	d, _ := cross.ParseDirection(c.ScanType)
	return d
}

// CandleLimit is the number of candles requested per symbol.
func (c ScanConfig) CandleLimit() int {
	return max(c.EMAShort, c.EMALong) + c.CandleMargin
}

// MinClosedCandles is the fewest closed candles a symbol needs to be
// evaluated.
func (c ScanConfig) MinClosedCandles() int {
	return max(c.EMAShort, c.EMALong) + 1
}

// NormalizeSymbols upper-cases, trims and de-duplicates symbols keeping the
// first occurrence order.
func NormalizeSymbols(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	seen := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// ValidateSymbols rejects symbols that are not upper-case alphanumerics.
func ValidateSymbols(symbols []string) error {
	for i, s := range symbols {
		if !symbolPattern.MatchString(s) {
			return invalid(fmt.Sprintf("symbols[%d]", i), CodeInvalidSymbol, "invalid symbol %q", s)
		}
	}
	return nil
}

// Validate checks the scheduler tuning.
func (r RateConfig) Validate() error {
	switch {
	case r.Concurrency < 1:
		return invalid("rate.concurrency", CodeInvalidRateValue, "must be >= 1")
	case r.MaxConcurrency < r.Concurrency:
		return invalid("rate.max_concurrency", CodeInvalidRateValue, "must be >= concurrency")
	case r.MinBatchDelay < 0 || r.BatchDelay < r.MinBatchDelay || r.MaxBatchDelay < r.BatchDelay:
		return invalid("rate.batch_delay", CodeInvalidRateValue, "need min <= delay <= max")
	case r.ShrinkFactor <= 0 || r.ShrinkFactor >= 1:
		return invalid("rate.shrink_factor", CodeInvalidRateValue, "must be in (0,1)")
	case r.DelayGrowth < 1:
		return invalid("rate.delay_growth", CodeInvalidRateValue, "must be >= 1")
	case r.DelayDecay <= 0 || r.DelayDecay > 1:
		return invalid("rate.delay_decay", CodeInvalidRateValue, "must be in (0,1]")
	case r.RampThreshold < 1:
		return invalid("rate.ramp_threshold", CodeInvalidRateValue, "must be >= 1")
	case r.JitterRatio < 0 || r.JitterRatio > 1:
		return invalid("rate.jitter_ratio", CodeInvalidRateValue, "must be in [0,1]")
	}
	return nil
}
