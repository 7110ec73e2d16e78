// Package monitor tracks live EMA state per symbol from the kline stream
// and reports crossovers as candles close.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"crossscanner/config"
	"crossscanner/internal/memorystore"
	"crossscanner/internal/scanner"
	"crossscanner/pkg/binance"
	"crossscanner/pkg/cross"
	"crossscanner/pkg/ema"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// seedConcurrency bounds REST calls while seeding.
const seedConcurrency = 4

// Stream is a kline message source such as binance.WSClient.
type Stream interface {
	SetMessageHandler(h func([]byte))
	Connect(ctx context.Context) error
	Listen(ctx context.Context)
	Close() error
}

type Options struct {
	Config  config.ScanConfig
	Source  scanner.Source
	Symbols *memorystore.MemorySymbolStore
	Ledger  scanner.Ledger // nil allows every signal
	// OnCross receives every crossover that passed the ledger.
	OnCross         func(ctx context.Context, e cross.Event)
	HistoryCapacity int
	Logger          *zap.Logger
}

type Monitor struct {
	cfg      config.ScanConfig
	interval binance.KlineIntervalMeta
	source   scanner.Source
	symbols  *memorystore.MemorySymbolStore
	ledger   scanner.Ledger
	onCross  func(ctx context.Context, e cross.Event)
	logger   *zap.Logger

	emas    *memorystore.MemoryEMAStore
	history *memorystore.MemoryKlineStore

	// one closed candle per symbol at a time
	locks sync.Map // symbol -> *sync.Mutex
}

// New validates opts.Config and builds a monitor.
func New(opts Options) (*Monitor, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	meta, err := binance.ParseInterval(opts.Config.Interval)
	if err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Symbols == nil {
		opts.Symbols = memorystore.NewSymbolStore()
		opts.Symbols.Replace(opts.Config.Symbols)
	}
	if opts.HistoryCapacity <= 0 {
		opts.HistoryCapacity = opts.Config.CandleLimit()
	}

	return &Monitor{
		cfg:      opts.Config,
		interval: meta,
		source:   opts.Source,
		symbols:  opts.Symbols,
		ledger:   opts.Ledger,
		onCross:  opts.OnCross,
		logger:   opts.Logger,
		emas:     memorystore.NewEMAStore(),
		history:  memorystore.NewKlineStore(opts.HistoryCapacity),
	}, nil
}

// Topics returns the stream names of the tracked symbols.
func (m *Monitor) Topics() []string {
	return m.symbols.Streams(m.cfg.Interval, binance.StreamName)
}

// Run seeds every symbol, then consumes stream until ctx is done. All live
// state is discarded on return.
func (m *Monitor) Run(ctx context.Context, stream Stream) error {
	defer m.Reset()

	if err := m.SeedAll(ctx); err != nil {
		return err
	}

	stream.SetMessageHandler(func(msg []byte) {
		if _, err := m.HandleMessage(ctx, msg); err != nil {
			m.logger.Debug("ignored stream message", zap.Error(err))
		}
	})
	if err := stream.Connect(ctx); err != nil {
		return fmt.Errorf("connect stream: %w", err)
	}
	defer stream.Close()

	m.logger.Info("monitor started",
		zap.Int("symbols", m.symbols.Len()),
		zap.String("interval", m.cfg.Interval),
	)
	stream.Listen(ctx)
	m.logger.Info("monitor stopped")
	return nil
}

// SeedAll seeds every tracked symbol. Symbols that fail are logged and left
// unseeded; they are retried on their next closed candle.
func (m *Monitor) SeedAll(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(seedConcurrency)
	for _, symbol := range m.symbols.GetAll() {
		g.Go(func() error {
			if err := m.Seed(gctx, symbol); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				m.logger.Warn("seed failed", zap.String("symbol", symbol), zap.Error(err))
			}
			return nil
		})
	}
	return g.Wait()
}

// Seed rebuilds the EMA state of symbol from REST history.
func (m *Monitor) Seed(ctx context.Context, symbol string) error {
	klines, err := m.source.GetKlines(ctx, symbol, m.cfg.Interval, m.cfg.CandleLimit())
	if err != nil {
		return err
	}
	return m.seedFrom(symbol, klines)
}

func (m *Monitor) seedFrom(symbol string, klines []binance.Kline) error {
	prev, last, ok := cross.LastClosedPair(klines)
	if !ok {
		return scanner.ErrNoClosedPair
	}
	history := klines[:last+1]
	if len(history) < m.cfg.MinClosedCandles() {
		return scanner.ErrShortHistory
	}

	closes := binance.Closes(history)
	for _, period := range []int{m.cfg.EMAShort, m.cfg.EMALong} {
		series := ema.Seed(closes, period)
		st := memorystore.EMAState{
			Value:    series[last],
			Previous: series[prev],
			OpenTime: history[last].OpenTime,
		}
		st.HasPrevious = ema.Valid(st.Previous)
		m.emas.Put(symbol, period, st)
	}
	m.history.Set(symbol, history)
	return nil
}

// HandleMessage routes one raw stream message. Only closed candles change
// state.
func (m *Monitor) HandleMessage(ctx context.Context, msg []byte) ([]cross.Event, error) {
	symbol, k, err := binance.ParseKlineEvent(msg)
	if err != nil {
		return nil, err
	}
	if !k.Closed {
		return nil, nil
	}
	return m.OnClosedKline(ctx, symbol, k)
}

var errStale = errors.New("stale candle")

// OnClosedKline advances both EMAs of symbol by one closed candle and
// returns the crossovers between the previous and the new values. Missing
// state or a gap in the candle sequence triggers a reseed first; if the
// reseeded history already ends at k, its last two values are compared.
func (m *Monitor) OnClosedKline(ctx context.Context, symbol string, k binance.Kline) ([]cross.Event, error) {
	mu, _ := m.locks.LoadOrStore(symbol, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
	defer mu.(*sync.Mutex).Unlock()

	short, long, ok := m.states(symbol)
	if ok && k.OpenTime <= short.OpenTime {
		return nil, errStale
	}
	if !ok || k.OpenTime != m.interval.NextOpenTime(short.OpenTime) {
		reason := "gap"
		if !ok {
			reason = "no state"
		}
		if err := m.reseed(ctx, symbol, reason); err != nil {
			return nil, err
		}
		if short, long, ok = m.states(symbol); !ok {
			return nil, nil
		}
		switch {
		case short.OpenTime == k.OpenTime:
			return m.emit(ctx, symbol, k, short, long), nil
		case k.OpenTime != m.interval.NextOpenTime(short.OpenTime):
			m.logger.Debug("candle not adjacent after reseed",
				zap.String("symbol", symbol),
				zap.Int64("open_time", k.OpenTime),
			)
			return nil, nil
		}
	}

	nextS := short.Advance(ema.Update(short.Value, k.Close, m.cfg.EMAShort), k.OpenTime)
	nextL := long.Advance(ema.Update(long.Value, k.Close, m.cfg.EMALong), k.OpenTime)
	m.emas.Put(symbol, m.cfg.EMAShort, nextS)
	m.emas.Put(symbol, m.cfg.EMALong, nextL)
	m.history.Add(symbol, k)

	return m.emit(ctx, symbol, k, nextS, nextL), nil
}

func (m *Monitor) states(symbol string) (short, long memorystore.EMAState, ok bool) {
	short, okS := m.emas.Get(symbol, m.cfg.EMAShort)
	long, okL := m.emas.Get(symbol, m.cfg.EMALong)
	return short, long, okS && okL
}

// emit compares the previous and current values of short and long, which
// both end at candle k, and reports the crossovers that pass the ledger.
func (m *Monitor) emit(ctx context.Context, symbol string, k binance.Kline, short, long memorystore.EMAState) []cross.Event {
	res := cross.Detect(m.cfg.Direction(), short.Previous, long.Previous, short.Value, long.Value)
	if !res.Any() {
		return nil
	}

	var events []cross.Event
	for _, dir := range res.Directions() {
		e := cross.Event{
			Symbol:      symbol,
			Direction:   dir,
			Interval:    m.cfg.Interval,
			ShortPeriod: m.cfg.EMAShort,
			LongPeriod:  m.cfg.EMALong,
			Time:        time.UnixMilli(k.CloseTime).UTC(),
			Price:       k.Close,
			Volume:      k.Volume,
			ShortEMA:    short.Value,
			LongEMA:     long.Value,
		}
		if m.ledger != nil && !m.ledger.Allow(e.Key(), m.cfg.Cooldown) {
			m.logger.Debug("signal in cooldown", zap.String("key", e.Key()))
			continue
		}
		m.logger.Info("crossover detected",
			zap.String("symbol", symbol),
			zap.String("direction", string(dir)),
			zap.Float64("price", k.Close),
		)
		if m.onCross != nil {
			m.onCross(ctx, e)
		}
		events = append(events, e)
	}
	return events
}

func (m *Monitor) reseed(ctx context.Context, symbol, reason string) error {
	m.logger.Info("reseeding symbol", zap.String("symbol", symbol), zap.String("reason", reason))
	m.emas.DeleteSymbol(symbol)
	m.history.Delete(symbol)
	if err := m.Seed(ctx, symbol); err != nil {
		return fmt.Errorf("reseed %s: %w", symbol, err)
	}
	return nil
}

// State returns the live EMA state of symbol for period.
func (m *Monitor) State(symbol string, period int) (memorystore.EMAState, bool) {
	return m.emas.Get(symbol, period)
}

// History returns the closed candles kept for symbol.
func (m *Monitor) History(symbol string) []binance.Kline {
	return m.history.GetBySymbol(symbol)
}

// Reset discards all live state.
func (m *Monitor) Reset() {
	m.emas.Reset()
	for _, symbol := range m.symbols.GetAll() {
		m.history.Delete(symbol)
	}
}
