package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"crossscanner/config"
	"crossscanner/internal/memorystore"
	"crossscanner/pkg/binance"
	"crossscanner/pkg/cross"
)

type fakeSource struct {
	mu     sync.Mutex
	calls  []string
	klines map[string][]binance.Kline
	errs   map[string]error
	hook   func(ctx context.Context, symbol string) error
}

func (f *fakeSource) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]binance.Kline, error) {
	f.mu.Lock()
	f.calls = append(f.calls, symbol)
	f.mu.Unlock()

	if f.hook != nil {
		if err := f.hook(ctx, symbol); err != nil {
			return nil, err
		}
	}
	if err, ok := f.errs[symbol]; ok {
		return nil, err
	}
	return f.klines[symbol], nil
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func klinesFromCloses(closes []float64, closedCount int) []binance.Kline {
	const step = int64(5 * time.Minute / time.Millisecond)
	out := make([]binance.Kline, len(closes))
	for i, c := range closes {
		open := int64(1_700_000_000_000) + int64(i)*step
		out[i] = binance.Kline{
			OpenTime:  open,
			Open:      c,
			High:      c,
			Low:       c,
			Close:     c,
			Volume:    10,
			CloseTime: open + step - 1,
			Closed:    i < closedCount,
		}
	}
	return out
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// goldenFixture: long flat history, a dip, then one closed spike and an
// open candle that would undo it.
func goldenFixture() []binance.Kline {
	closes := append(repeat(100, 230), repeat(90, 19)...)
	closes = append(closes, 300, 50)
	return klinesFromCloses(closes, len(closes)-1)
}

func flatFixture() []binance.Kline {
	closes := repeat(100, 251)
	return klinesFromCloses(closes, len(closes)-1)
}

func scanConfig(scanType string) config.ScanConfig {
	cfg := config.DefaultScanConfig()
	cfg.Interval = "5m"
	cfg.EMAShort = 26
	cfg.EMALong = 200
	cfg.ScanType = scanType
	return cfg
}

func testRate() config.RateConfig {
	r := config.DefaultRateConfig()
	r.Concurrency = 2
	r.MaxConcurrency = 2
	return r
}

// go test -v --run TestSessionGoldenCross
func TestSessionGoldenCross(t *testing.T) {
	src := &fakeSource{klines: map[string][]binance.Kline{
		"BTCUSDT": goldenFixture(),
		"ETHUSDT": flatFixture(),
	}}

	s := NewSession(Options{Source: src, Rate: testRate(), Sleep: noSleep, Jitter: noJitter})
	res, err := s.Run(context.Background(), scanConfig("golden"), []string{"BTCUSDT", "ETHUSDT"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if res.Scanned != 2 || res.Cancelled || res.Err != nil {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(res.Matches) != 1 {
		t.Fatalf("expected 1 match, got %+v", res.Matches)
	}
	m := res.Matches[0]
	if m.Symbol != "BTCUSDT" || m.Direction != cross.Golden || m.Interval != "5m" {
		t.Fatalf("unexpected match %+v", m)
	}
	if m.Price != 300 || m.ShortEMA <= m.LongEMA {
		t.Fatalf("match must come from the last closed candle: %+v", m)
	}
	if res.RunID != s.ID() {
		t.Fatal("result must carry the session id")
	}
}

// go test -v --run TestSessionDirectionFilter
func TestSessionDirectionFilter(t *testing.T) {
	src := &fakeSource{klines: map[string][]binance.Kline{"BTCUSDT": goldenFixture()}}

	s := NewSession(Options{Source: src, Rate: testRate(), Sleep: noSleep})
	res, err := s.Run(context.Background(), scanConfig("dead"), []string{"BTCUSDT"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Matches) != 0 {
		t.Fatalf("dead scan must not report a golden cross: %+v", res.Matches)
	}
}

// go test -v --run TestSessionLedgerGate
func TestSessionLedgerGate(t *testing.T) {
	src := &fakeSource{klines: map[string][]binance.Kline{"BTCUSDT": goldenFixture()}}
	ledger := memorystore.NewCooldownLedger()
	ledger.Record(cross.LedgerKey("BTCUSDT", cross.Golden), time.Now())

	cfg := scanConfig("both")
	cfg.Cooldown = time.Hour

	s := NewSession(Options{Source: src, Ledger: ledger, Rate: testRate(), Sleep: noSleep})
	res, err := s.Run(context.Background(), cfg, []string{"BTCUSDT"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Matches) != 0 || res.Scanned != 1 {
		t.Fatalf("cooldown should suppress the match: %+v", res)
	}
}

// go test -v --run TestSessionCancelAfterFirstBatch
func TestSessionCancelAfterFirstBatch(t *testing.T) {
	symbols := make([]string, 20)
	src := &fakeSource{klines: map[string][]binance.Kline{}}
	for i := range symbols {
		symbols[i] = fmt.Sprintf("SYM%02dUSDT", i)
		src.klines[symbols[i]] = flatFixture()
	}

	var s *Session
	batches := 0
	s = NewSession(Options{
		Source: src,
		Rate:   testRate(),
		Sleep:  noSleep,
		AfterBatch: func(done, total int) {
			batches++
			s.Stop()
		},
	})

	res, err := s.Run(context.Background(), scanConfig("golden"), symbols)
	if err != nil {
		t.Fatalf("cancellation must not be an error: %v", err)
	}
	if batches != 1 {
		t.Fatalf("batches = %d, want 1", batches)
	}
	if got := src.callCount(); got != 2 {
		t.Fatalf("fetches = %d, want 2", got)
	}
	if res.Scanned != 2 || !res.Cancelled || res.Total != 20 {
		t.Fatalf("unexpected result %+v", res)
	}
	if s.Running() {
		t.Fatal("session must not be running after cancel")
	}
	if _, err := s.Run(context.Background(), scanConfig("golden"), symbols); !errors.Is(err, ErrSessionDisposed) {
		t.Fatalf("rerun must fail with ErrSessionDisposed, got %v", err)
	}
}

// go test -v --run TestSessionAbortsInFlight
func TestSessionAbortsInFlight(t *testing.T) {
	started := make(chan struct{}, 2)
	src := &fakeSource{
		klines: map[string][]binance.Kline{},
		hook: func(ctx context.Context, symbol string) error {
			started <- struct{}{}
			<-ctx.Done()
			return &binance.FetchError{Detail: "aborted", Err: ctx.Err()}
		},
	}

	s := NewSession(Options{Source: src, Rate: testRate(), Sleep: noSleep})
	go func() {
		<-started
		<-started
		s.Stop()
	}()

	res, err := s.Run(context.Background(), scanConfig("golden"), []string{"AUSDT", "BUSDT", "CUSDT"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Scanned != 0 || !res.Cancelled {
		t.Fatalf("aborted requests must not count: %+v", res)
	}
	if st := s.Rate().Snapshot(); st.BackoffCount != 0 || st.ConsecutiveSuccesses != 0 || st.Concurrency != 2 {
		t.Fatalf("aborted requests must not touch the rate state: %+v", st)
	}
	if got := src.callCount(); got != 2 {
		t.Fatalf("fetches = %d, want 2", got)
	}
}

// go test -v --run TestSessionRateLimitedAndSkipped
func TestSessionRateLimitedAndSkipped(t *testing.T) {
	src := &fakeSource{
		klines: map[string][]binance.Kline{
			"OKUSDT":    flatFixture(),
			"SHORTUSDT": klinesFromCloses(repeat(100, 50), 49),
		},
		errs: map[string]error{
			"LIMITUSDT": &binance.FetchError{StatusCode: 429},
			"DOWNUSDT":  &binance.FetchError{StatusCode: 500},
		},
	}

	var slept []time.Duration
	var mu sync.Mutex
	sleep := func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		slept = append(slept, d)
		mu.Unlock()
		return nil
	}

	s := NewSession(Options{Source: src, Rate: testRate(), Sleep: sleep, Jitter: noJitter})
	res, err := s.Run(context.Background(), scanConfig("both"),
		[]string{"okusdt", "LIMITUSDT", "DOWNUSDT", "SHORTUSDT", "OKUSDT"})
	if err != nil {
		t.Fatal(err)
	}

	if res.Total != 4 || res.Scanned != 4 {
		t.Fatalf("duplicates must be dropped: %+v", res)
	}
	if res.RateLimited != 1 || res.Skipped != 2 {
		t.Fatalf("rateLimited=%d skipped=%d", res.RateLimited, res.Skipped)
	}
	if res.Rate.BackoffCount != 0 {
		t.Fatalf("backoff count = %d", res.Rate.BackoffCount)
	}

	mu.Lock()
	defer mu.Unlock()
	found := false
	for _, d := range slept {
		if d == time.Second {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a 1s backoff sleep, got %v", slept)
	}
}

// go test -v --run TestSessionPanicBecomesRunError
func TestSessionPanicBecomesRunError(t *testing.T) {
	var calls atomic.Int32
	src := &fakeSource{
		klines: map[string][]binance.Kline{"AUSDT": flatFixture()},
		hook: func(ctx context.Context, symbol string) error {
			calls.Add(1)
			if symbol == "BUSDT" {
				panic("boom")
			}
			return nil
		},
	}

	s := NewSession(Options{Source: src, Rate: testRate(), Sleep: noSleep})
	res, err := s.Run(context.Background(), scanConfig("golden"), []string{"AUSDT", "BUSDT", "CUSDT"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Err == nil {
		t.Fatal("panic must surface as a run error")
	}
	if res.Scanned != 1 {
		t.Fatalf("partial progress lost: %+v", res)
	}
	if calls.Load() != 2 {
		t.Fatalf("no batch may start after the failure, calls = %d", calls.Load())
	}
}

// go test -v --run TestEvaluateRequiresClosedHistory
func TestEvaluateRequiresClosedHistory(t *testing.T) {
	cfg := scanConfig("golden")

	if _, err := Evaluate(cfg, "X", klinesFromCloses(repeat(1, 300), 0)); !errors.Is(err, ErrNoClosedPair) {
		t.Fatalf("expected ErrNoClosedPair, got %v", err)
	}
	if _, err := Evaluate(cfg, "X", klinesFromCloses(repeat(1, 201), 200)); !errors.Is(err, ErrShortHistory) {
		t.Fatalf("expected ErrShortHistory, got %v", err)
	}
	if _, err := Evaluate(cfg, "X", klinesFromCloses(repeat(1, 202), 201)); err != nil {
		t.Fatalf("201 closed candles must be enough: %v", err)
	}
}

// go test -v --run TestSessionRequestTimeoutIsPlainSkip
func TestSessionRequestTimeoutIsPlainSkip(t *testing.T) {
	src := &fakeSource{
		hook: func(ctx context.Context, symbol string) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}

	var slept atomic.Int32
	sleep := func(ctx context.Context, d time.Duration) error {
		slept.Add(1)
		return ctx.Err()
	}

	s := NewSession(Options{Source: src, Rate: testRate(), Sleep: sleep, Jitter: noJitter, RequestTimeout: 20 * time.Millisecond})
	before := s.Rate().Snapshot()

	res, err := s.Run(context.Background(), scanConfig("golden"), []string{"SLOWUSDT"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Err != nil || res.Cancelled {
		t.Fatalf("timeout must not fail or cancel the run: %+v", res)
	}
	if res.Skipped != 1 || res.RateLimited != 0 || res.Scanned != 1 {
		t.Fatalf("skipped=%d rateLimited=%d scanned=%d", res.Skipped, res.RateLimited, res.Scanned)
	}
	if res.Rate != before {
		t.Fatalf("rate state changed by a timeout: before %+v after %+v", before, res.Rate)
	}
	if slept.Load() != 0 {
		t.Fatalf("timeout must not back off, sleeps = %d", slept.Load())
	}
}

// go test -v --run TestEvaluateIgnoresFormingRowWithFastClock
func TestEvaluateIgnoresFormingRowWithFastClock(t *testing.T) {
	const step = int64(5 * time.Minute / time.Millisecond)
	closes := append(repeat(100, 230), repeat(90, 20)...)
	closes = append(closes, 300) // forming candle that would cross

	raw := make([][]any, len(closes))
	for i, c := range closes {
		open := int64(1_700_000_000_000) + int64(i)*step
		raw[i] = []any{float64(open), "0", "0", "0", fmt.Sprint(c), "1", float64(open + step - 1)}
	}

	// exchange is 1s before the forming candle closes, the host clock runs 2s fast
	lastClose := int64(1_700_000_000_000) + int64(len(closes))*step - 1
	klines := binance.ParseKlineList(raw, time.UnixMilli(lastClose+1000))

	if klines[len(klines)-1].Closed || !klines[len(klines)-2].Closed {
		t.Fatalf("unexpected closed flags on the tail")
	}
	events, err := Evaluate(scanConfig("golden"), "BTCUSDT", klines)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Fatalf("forming candle fired a signal: %+v", events)
	}
}
