package scanner

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"crossscanner/config"
	"crossscanner/pkg/binance"
	"crossscanner/pkg/cross"
	"crossscanner/pkg/retry"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrSessionRunning  = errors.New("scan session already running")
	ErrSessionDisposed = errors.New("scan session disposed")
)

// Source fetches candles for one symbol.
type Source interface {
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]binance.Kline, error)
}

// Ledger gates repeated signals.
type Ledger interface {
	Allow(key string, cooldown time.Duration) bool
}

type Options struct {
	Source Source
	Ledger Ledger // nil allows every signal
	Rate   config.RateConfig
	Logger *zap.Logger

	// RequestTimeout bounds each fetch; zero means no per-request timeout.
	RequestTimeout time.Duration

	// Sleep waits between batches and after a 429. Defaults to retry.Sleep.
	Sleep func(ctx context.Context, d time.Duration) error
	// Jitter overrides the controller's random jitter.
	Jitter func(max time.Duration) time.Duration
	// AfterBatch is called after each batch settles with the number of
	// symbols handed out so far.
	AfterBatch func(done, total int)
	Now        func() time.Time
}

// Result summarizes one pass. Matches keep symbol order.
type Result struct {
	RunID       string        `json:"runId"`
	StartedAt   time.Time     `json:"startedAt"`
	Duration    time.Duration `json:"duration"`
	Total       int           `json:"total"`
	Scanned     int           `json:"scanned"`
	Skipped     int           `json:"skipped"`
	RateLimited int           `json:"rateLimited"`
	Cancelled   bool          `json:"cancelled"`
	Matches     []cross.Event `json:"matches"`
	Rate        RateState     `json:"rate"`
	Err         error         `json:"-"`
}

type status int

const (
	statusIdle status = iota
	statusRunning
	statusDisposed
)

type outcomeKind int

const (
	outcomeAborted outcomeKind = iota
	outcomeSkipped
	outcomeRateLimited
	outcomeEvaluated
)

type outcome struct {
	kind   outcomeKind
	events []cross.Event
}

// Session runs a single scan pass. It is used once: New, Run, then disposed.
type Session struct {
	id     string
	opts   Options
	rate   *RateController
	logger *zap.Logger

	mu     sync.Mutex
	status status
	cancel context.CancelFunc
}

func NewSession(opts Options) *Session {
	if opts.Sleep == nil {
		opts.Sleep = retry.Sleep
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	rate := NewRateController(opts.Rate)
	if opts.Jitter != nil {
		rate.WithJitter(opts.Jitter)
	}

	id := uuid.NewString()
	return &Session{
		id:     id,
		opts:   opts,
		rate:   rate,
		logger: opts.Logger.With(zap.String("run_id", id)),
	}
}

func (s *Session) ID() string { return s.id }

// Rate exposes the session's controller.
func (s *Session) Rate() *RateController { return s.rate }

// Running reports whether Run is in progress.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == statusRunning
}

// Stop cancels an in-flight Run. In-flight fetches are aborted and no new
// ones are issued. Safe to call at any time.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	if s.status == statusIdle {
		s.status = statusDisposed
	}
}

// Run scans symbols once with cfg, which must already be validated.
// Duplicate symbols are dropped. Cancellation is not an error: the result
// is returned with Cancelled set and the progress made so far.
func (s *Session) Run(ctx context.Context, cfg config.ScanConfig, symbols []string) (Result, error) {
	s.mu.Lock()
	switch s.status {
	case statusRunning:
		s.mu.Unlock()
		return Result{}, ErrSessionRunning
	case statusDisposed:
		s.mu.Unlock()
		return Result{}, ErrSessionDisposed
	}
	ctx, cancel := context.WithCancel(ctx)
	s.status = statusRunning
	s.cancel = cancel
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		s.status = statusDisposed
		s.cancel = nil
		s.mu.Unlock()
	}()

	symbols = config.NormalizeSymbols(symbols)
	started := s.opts.Now()
	res := Result{
		RunID:     s.id,
		StartedAt: started,
		Total:     len(symbols),
		Matches:   make([]cross.Event, 0),
	}

	s.logger.Info("scan started",
		zap.Int("symbols", len(symbols)),
		zap.String("interval", cfg.Interval),
		zap.Int("ema_short", cfg.EMAShort),
		zap.Int("ema_long", cfg.EMALong),
		zap.String("scan_type", cfg.ScanType),
	)

	for next := 0; next < len(symbols); {
		if ctx.Err() != nil {
			break
		}

		size := s.rate.BatchSize()
		end := min(next+size, len(symbols))
		batch := symbols[next:end]
		next = end

		outcomes, err := s.runBatch(ctx, cfg, batch)
		for _, o := range outcomes {
			s.tally(&res, o)
		}
		if err != nil {
			res.Err = err
			s.logger.Error("scan batch failed", zap.Error(err))
			break
		}

		if s.opts.AfterBatch != nil {
			s.opts.AfterBatch(next, len(symbols))
		}

		if next < len(symbols) && ctx.Err() == nil {
			_ = s.opts.Sleep(ctx, s.rate.BatchDelay())
		}
	}

	res.Cancelled = ctx.Err() != nil && res.Err == nil && res.Scanned < res.Total
	res.Duration = s.opts.Now().Sub(started)
	res.Rate = s.rate.Snapshot()

	s.logger.Info("scan finished",
		zap.Int("scanned", res.Scanned),
		zap.Int("matches", len(res.Matches)),
		zap.Int("skipped", res.Skipped),
		zap.Int("rate_limited", res.RateLimited),
		zap.Bool("cancelled", res.Cancelled),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

func (s *Session) tally(res *Result, o outcome) {
	switch o.kind {
	case outcomeAborted:
		return
	case outcomeSkipped:
		res.Skipped++
	case outcomeRateLimited:
		res.RateLimited++
	case outcomeEvaluated:
		res.Matches = append(res.Matches, o.events...)
	}
	res.Scanned++
}

// runBatch evaluates batch concurrently. outcomes[i] belongs to batch[i].
func (s *Session) runBatch(ctx context.Context, cfg config.ScanConfig, batch []string) ([]outcome, error) {
	outcomes := make([]outcome, len(batch))

	var g errgroup.Group
	for i, symbol := range batch {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("panic in symbol evaluation",
						zap.String("symbol", symbol),
						zap.Any("panic", r),
						zap.ByteString("stack", debug.Stack()),
					)
					outcomes[i] = outcome{kind: outcomeAborted}
					err = fmt.Errorf("evaluate %s: panic: %v", symbol, r)
				}
			}()
			outcomes[i] = s.evaluate(ctx, cfg, symbol)
			return nil
		})
	}
	return outcomes, g.Wait()
}

func (s *Session) evaluate(ctx context.Context, cfg config.ScanConfig, symbol string) outcome {
	if ctx.Err() != nil {
		return outcome{kind: outcomeAborted}
	}

	reqCtx, cancel := ctx, context.CancelFunc(func() {})
	if s.opts.RequestTimeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, s.opts.RequestTimeout)
	}
	klines, err := s.opts.Source.GetKlines(reqCtx, symbol, cfg.Interval, cfg.CandleLimit())
	cancel()

	if err != nil {
		if ctx.Err() != nil {
			return outcome{kind: outcomeAborted}
		}
		if binance.IsRateLimited(err) {
			wait := s.rate.OnRateLimited()
			s.logger.Warn("rate limited",
				zap.String("symbol", symbol),
				zap.Duration("backoff", wait),
				zap.Int("batch_size", s.rate.BatchSize()),
			)
			_ = s.opts.Sleep(ctx, wait)
			return outcome{kind: outcomeRateLimited}
		}
		s.logger.Debug("fetch failed, skipping", zap.String("symbol", symbol), zap.Error(err))
		return outcome{kind: outcomeSkipped}
	}

	s.rate.OnSuccess()

	events, err := Evaluate(cfg, symbol, klines)
	if err != nil {
		s.logger.Debug("insufficient history, skipping",
			zap.String("symbol", symbol),
			zap.Int("candles", len(klines)),
			zap.Error(err),
		)
		return outcome{kind: outcomeSkipped}
	}

	allowed := events[:0]
	for _, e := range events {
		if s.opts.Ledger != nil && !s.opts.Ledger.Allow(e.Key(), cfg.Cooldown) {
			s.logger.Debug("signal in cooldown", zap.String("key", e.Key()))
			continue
		}
		allowed = append(allowed, e)
	}
	return outcome{kind: outcomeEvaluated, events: allowed}
}
