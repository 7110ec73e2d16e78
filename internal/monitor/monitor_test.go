package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"crossscanner/config"
	"crossscanner/internal/memorystore"
	"crossscanner/pkg/binance"
	"crossscanner/pkg/cross"
	"crossscanner/pkg/ema"
)

const stepMs = int64(5 * time.Minute / time.Millisecond)

type fakeSource struct {
	mu     sync.Mutex
	calls  int
	klines map[string][]binance.Kline
}

func (f *fakeSource) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]binance.Kline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	k, ok := f.klines[symbol]
	if !ok {
		return nil, &binance.FetchError{StatusCode: 400}
	}
	return k, nil
}

func buildKlines(closes []float64) []binance.Kline {
	out := make([]binance.Kline, len(closes))
	for i, c := range closes {
		open := int64(1_700_000_000_000) + int64(i)*stepMs
		out[i] = binance.Kline{OpenTime: open, Close: c, CloseTime: open + stepMs - 1, Closed: i < len(closes)-1}
	}
	return out
}

func dipHistory() []float64 {
	closes := make([]float64, 0, 250)
	for i := 0; i < 230; i++ {
		closes = append(closes, 100)
	}
	for i := 0; i < 19; i++ {
		closes = append(closes, 90)
	}
	return append(closes, 95) // open candle
}

func nextClosed(klines []binance.Kline, offset int, price float64) binance.Kline {
	open := klines[len(klines)-1].OpenTime + int64(offset)*stepMs
	return binance.Kline{OpenTime: open, Close: price, CloseTime: open + stepMs - 1, Closed: true}
}

func newMonitor(t *testing.T, src *fakeSource, ledger *memorystore.CooldownLedger) *Monitor {
	t.Helper()
	cfg := config.DefaultScanConfig()
	cfg.ScanType = "both"
	cfg.Symbols = []string{"BTCUSDT"}

	opts := Options{Config: cfg, Source: src}
	if ledger != nil {
		opts.Ledger = ledger
	}
	m, err := New(opts)
	if err != nil {
		t.Fatalf("new monitor: %v", err)
	}
	return m
}

// go test -v --run TestMonitorSeedMatchesBatchSeed
func TestMonitorSeedMatchesBatchSeed(t *testing.T) {
	klines := buildKlines(dipHistory())
	src := &fakeSource{klines: map[string][]binance.Kline{"BTCUSDT": klines}}
	m := newMonitor(t, src, nil)

	if err := m.Seed(context.Background(), "BTCUSDT"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	closes := binance.Closes(klines[:len(klines)-1])
	want := ema.Seed(closes, 26)
	st, ok := m.State("BTCUSDT", 26)
	if !ok || st.Value != want[len(want)-1] || st.Previous != want[len(want)-2] || !st.HasPrevious {
		t.Fatalf("unexpected seeded state %+v", st)
	}
	if st.OpenTime != klines[len(klines)-2].OpenTime {
		t.Fatal("state must point at the last closed candle")
	}
	if n := len(m.History("BTCUSDT")); n != 249 {
		t.Fatalf("history = %d, want 249", n)
	}
}

// go test -v --run TestMonitorDetectsOnClose
func TestMonitorDetectsOnClose(t *testing.T) {
	klines := buildKlines(dipHistory())
	src := &fakeSource{klines: map[string][]binance.Kline{"BTCUSDT": klines}}
	var got []cross.Event
	m := newMonitor(t, src, nil)
	m.onCross = func(_ context.Context, e cross.Event) { got = append(got, e) }

	ctx := context.Background()
	if err := m.Seed(ctx, "BTCUSDT"); err != nil {
		t.Fatal(err)
	}
	before, _ := m.State("BTCUSDT", 26)

	// open candle update: ignored
	open := fmt.Sprintf(`{"stream":"btcusdt@kline_5m","data":{"e":"kline","s":"BTCUSDT","k":{"t":%d,"T":%d,"c":"300","x":false}}}`,
		klines[len(klines)-1].OpenTime, klines[len(klines)-1].CloseTime)
	if events, err := m.HandleMessage(ctx, []byte(open)); err != nil || len(events) != 0 {
		t.Fatalf("open candle must be ignored: %v %v", events, err)
	}
	if st, _ := m.State("BTCUSDT", 26); st != before {
		t.Fatal("open candle changed the state")
	}

	closed := fmt.Sprintf(`{"stream":"btcusdt@kline_5m","data":{"e":"kline","s":"BTCUSDT","k":{"t":%d,"T":%d,"c":"300","v":"7","x":true}}}`,
		klines[len(klines)-1].OpenTime, klines[len(klines)-1].CloseTime)
	events, err := m.HandleMessage(ctx, []byte(closed))
	if err != nil {
		t.Fatalf("closed candle: %v", err)
	}
	if len(events) != 1 || events[0].Direction != cross.Golden || events[0].Price != 300 {
		t.Fatalf("expected one golden cross, got %+v", events)
	}
	if len(got) != 1 {
		t.Fatal("OnCross not called")
	}

	after, _ := m.State("BTCUSDT", 26)
	if after.Previous != before.Value || math.Abs(after.Value-ema.Update(before.Value, 300, 26)) > 1e-12 {
		t.Fatalf("state not advanced by one step: before %+v after %+v", before, after)
	}

	if _, err := m.OnClosedKline(ctx, "BTCUSDT", binance.Kline{OpenTime: after.OpenTime, Close: 1, Closed: true}); !errors.Is(err, errStale) {
		t.Fatalf("expected stale candle error, got %v", err)
	}
}

// go test -v --run TestMonitorReseedsOnGap
func TestMonitorReseedsOnGap(t *testing.T) {
	klines := buildKlines(dipHistory())
	src := &fakeSource{klines: map[string][]binance.Kline{"BTCUSDT": klines}}
	m := newMonitor(t, src, nil)
	ctx := context.Background()

	if err := m.Seed(ctx, "BTCUSDT"); err != nil {
		t.Fatal(err)
	}
	if src.calls != 1 {
		t.Fatalf("calls = %d", src.calls)
	}

	events, err := m.OnClosedKline(ctx, "BTCUSDT", nextClosed(klines, 3, 300))
	if err != nil || len(events) != 0 {
		t.Fatalf("gap must reseed without events: %v %v", events, err)
	}
	if src.calls != 2 {
		t.Fatalf("gap did not trigger a reseed, calls = %d", src.calls)
	}

	// unknown symbol: reseed fails
	if _, err := m.OnClosedKline(ctx, "ETHUSDT", nextClosed(klines, 1, 1)); err == nil {
		t.Fatal("expected reseed error for an unknown symbol")
	}
}

// go test -v --run TestMonitorReseedReportsTriggeringCandle
func TestMonitorReseedReportsTriggeringCandle(t *testing.T) {
	seeded := buildKlines(dipHistory())
	src := &fakeSource{klines: map[string][]binance.Kline{"BTCUSDT": seeded}}
	var got []cross.Event
	m := newMonitor(t, src, nil)
	m.onCross = func(_ context.Context, e cross.Event) { got = append(got, e) }
	ctx := context.Background()

	if err := m.Seed(ctx, "BTCUSDT"); err != nil {
		t.Fatal(err)
	}

	// the candle after the seeded history was missed; REST now ends at the
	// closed candle being reported, followed by the forming one
	closes := append(repeatClose(100, 230), repeatClose(90, 20)...)
	closes = append(closes, 300, 310)
	latest := buildKlines(closes)
	src.mu.Lock()
	src.klines["BTCUSDT"] = latest
	src.mu.Unlock()

	k := latest[len(latest)-2]
	if before, _ := m.State("BTCUSDT", 26); k.OpenTime == m.interval.NextOpenTime(before.OpenTime) {
		t.Fatal("reported candle must not be adjacent to the seeded state")
	}

	events, err := m.OnClosedKline(ctx, "BTCUSDT", k)
	if err != nil {
		t.Fatalf("closed candle: %v", err)
	}
	if src.calls != 2 {
		t.Fatalf("gap did not trigger a reseed, calls = %d", src.calls)
	}
	if len(events) != 1 || events[0].Direction != cross.Golden || events[0].Price != 300 {
		t.Fatalf("expected one golden cross from the reseeded history, got %+v", events)
	}
	if len(got) != 1 {
		t.Fatal("OnCross not called")
	}
	if st, _ := m.State("BTCUSDT", 26); st.OpenTime != k.OpenTime {
		t.Fatalf("state open time = %d, want %d", st.OpenTime, k.OpenTime)
	}
}

// go test -v --run TestMonitorMonthlyCandlesAreAdjacent
func TestMonitorMonthlyCandlesAreAdjacent(t *testing.T) {
	start := time.Date(2000, time.February, 1, 0, 0, 0, 0, time.UTC)
	closes := dipHistory()
	klines := make([]binance.Kline, len(closes))
	for i, c := range closes {
		open := start.AddDate(0, i, 0)
		klines[i] = binance.Kline{
			OpenTime:  open.UnixMilli(),
			CloseTime: open.AddDate(0, 1, 0).UnixMilli() - 1,
			Close:     c,
			Closed:    i < len(closes)-1,
		}
	}
	src := &fakeSource{klines: map[string][]binance.Kline{"BTCUSDT": klines}}

	cfg := config.DefaultScanConfig()
	cfg.ScanType = "both"
	cfg.Interval = "1M"
	cfg.Symbols = []string{"BTCUSDT"}
	m, err := New(Options{Config: cfg, Source: src})
	if err != nil {
		t.Fatalf("new monitor: %v", err)
	}
	ctx := context.Background()
	if err := m.Seed(ctx, "BTCUSDT"); err != nil {
		t.Fatal(err)
	}

	last := klines[len(klines)-2]
	next := klines[len(klines)-1]
	if next.OpenTime-last.OpenTime == (30 * 24 * time.Hour).Milliseconds() {
		t.Fatal("fixture must close a month that is not 30 days long")
	}

	next.Close = 300
	next.Closed = true
	events, err := m.OnClosedKline(ctx, "BTCUSDT", next)
	if err != nil {
		t.Fatalf("closed candle: %v", err)
	}
	if src.calls != 1 {
		t.Fatalf("adjacent monthly candle triggered a reseed, calls = %d", src.calls)
	}
	if len(events) != 1 || events[0].Direction != cross.Golden {
		t.Fatalf("expected one golden cross, got %+v", events)
	}
}

func repeatClose(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// go test -v --run TestMonitorLedgerGate
func TestMonitorLedgerGate(t *testing.T) {
	klines := buildKlines(dipHistory())
	src := &fakeSource{klines: map[string][]binance.Kline{"BTCUSDT": klines}}
	ledger := memorystore.NewCooldownLedger()
	ledger.Record(cross.LedgerKey("BTCUSDT", cross.Golden), time.Now())
	m := newMonitor(t, src, ledger)
	ctx := context.Background()

	if err := m.Seed(ctx, "BTCUSDT"); err != nil {
		t.Fatal(err)
	}
	events, err := m.OnClosedKline(ctx, "BTCUSDT", nextClosed(klines, 0, 300))
	if err != nil || len(events) != 0 {
		t.Fatalf("cooldown must suppress the event: %v %v", events, err)
	}
}

type fakeStream struct {
	handler  func([]byte)
	messages [][]byte
	closed   bool
}

func (s *fakeStream) SetMessageHandler(h func([]byte))  { s.handler = h }
func (s *fakeStream) Connect(ctx context.Context) error { return nil }
func (s *fakeStream) Close() error                      { s.closed = true; return nil }
func (s *fakeStream) Listen(ctx context.Context) {
	for _, msg := range s.messages {
		s.handler(msg)
	}
}

// go test -v --run TestMonitorRunResetsState
func TestMonitorRunResetsState(t *testing.T) {
	klines := buildKlines(dipHistory())
	src := &fakeSource{klines: map[string][]binance.Kline{"BTCUSDT": klines}}
	m := newMonitor(t, src, nil)

	var events []cross.Event
	m.onCross = func(_ context.Context, e cross.Event) { events = append(events, e) }

	last := klines[len(klines)-1]
	stream := &fakeStream{messages: [][]byte{
		[]byte(`{"result":null,"id":1}`),
		[]byte(fmt.Sprintf(`{"stream":"btcusdt@kline_5m","data":{"s":"BTCUSDT","k":{"t":%d,"T":%d,"c":"300","x":true}}}`, last.OpenTime, last.CloseTime)),
	}}

	if err := m.Run(context.Background(), stream); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if !stream.closed {
		t.Fatal("stream not closed")
	}
	if _, ok := m.State("BTCUSDT", 26); ok {
		t.Fatal("state must be discarded after Run")
	}
	if topics := m.Topics(); len(topics) != 1 || topics[0] != "btcusdt@kline_5m" {
		t.Fatalf("topics = %v", topics)
	}
}
