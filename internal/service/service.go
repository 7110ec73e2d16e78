// Package service exposes the scan trigger surface: one validated scan pass
// per call, notification of its matches and persistence of the outcome.
package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"crossscanner/config"
	"crossscanner/internal/kvstore"
	"crossscanner/internal/memorystore"
	"crossscanner/internal/notify"
	"crossscanner/internal/scanner"
	"crossscanner/internal/scanstate"
	"crossscanner/pkg/cross"

	"go.uber.org/zap"
)

// Error codes returned in RunResult.Error.
const (
	CodeAlreadyRunning = "already_running"
	CodeInvalidConfig  = "invalid_config"
	CodeNoSymbols      = "no_symbols"
	CodeScanFailed     = "scan_failed"
)

// Notifier delivers one crossover alert.
type Notifier interface {
	NotifyCross(ctx context.Context, e cross.Event) notify.Delivery
}

type Dependencies struct {
	Source   scanner.Source
	Store    kvstore.Store
	Ledger   *memorystore.CooldownLedger
	Recorder *scanstate.Recorder
	// Notifier may be nil, in which case detection counts as delivery.
	Notifier Notifier

	Defaults       config.ScanConfig
	Rate           config.RateConfig
	RequestTimeout time.Duration
	Logger         *zap.Logger
	Now            func() time.Time

	// ConfigureSession adjusts the options of every new session.
	ConfigureSession func(*scanner.Options)
}

// MatchSummary is the per-match part of a RunResult.
type MatchSummary struct {
	Symbol        string          `json:"symbol"`
	Direction     cross.Direction `json:"direction"`
	Interval      string          `json:"interval"`
	Price         float64         `json:"price"`
	Time          time.Time       `json:"time"`
	Delivered     bool            `json:"delivered"`
	DeliveryError string          `json:"deliveryError,omitempty"`
}

// RunResult is the outcome of RunScanOnce. OK is false with Error set to one
// of the Code constants on failure.
type RunResult struct {
	OK        bool           `json:"ok"`
	RunID     string         `json:"runId,omitempty"`
	Count     int            `json:"count"`
	Scanned   int            `json:"scanned"`
	Cancelled bool           `json:"cancelled,omitempty"`
	Matches   []MatchSummary `json:"matches"`
	Error     string         `json:"error,omitempty"`
	Detail    string         `json:"detail,omitempty"`
}

// Status is the current scan state plus whether a pass is in progress.
type Status struct {
	scanstate.State
	Running bool               `json:"running"`
	Rate    *scanner.RateState `json:"rate,omitempty"`
}

type ScanService struct {
	deps   Dependencies
	logger *zap.Logger

	mu      sync.Mutex
	session *scanner.Session
	running bool
}

func New(deps Dependencies) *ScanService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Store == nil {
		deps.Store = kvstore.NewMemoryStore()
	}
	if deps.Ledger == nil {
		deps.Ledger = memorystore.NewCooldownLedger()
	}
	if deps.Recorder == nil {
		deps.Recorder = scanstate.NewRecorder(deps.Store, nil, deps.Logger)
	}
	return &ScanService{deps: deps, logger: deps.Logger}
}

// Init restores the cooldown ledger and the last scan state.
func (s *ScanService) Init(ctx context.Context) error {
	var entries map[string]int64
	found, err := s.deps.Store.Get(ctx, kvstore.KeyLastCross, &entries)
	if err != nil {
		s.logger.Warn("failed to load cooldown ledger", zap.Error(err))
	} else if found {
		s.deps.Ledger.Restore(entries)
	}
	if err := s.deps.Recorder.Load(ctx); err != nil {
		s.logger.Warn("failed to load scan state", zap.Error(err))
	}
	return nil
}

// RunScanOnce merges overrides into the stored config and runs one pass
// over the configured symbols.
func (s *ScanService) RunScanOnce(ctx context.Context, overrides config.ScanOverrides) RunResult {
	cfg := overrides.Apply(s.Config(ctx))
	if err := cfg.Validate(); err != nil {
		return failure(CodeInvalidConfig, err.Error())
	}

	symbols := cfg.Symbols
	if len(symbols) == 0 {
		symbols = s.Symbols(ctx)
	}
	if len(symbols) == 0 {
		return failure(CodeNoSymbols, "symbol list is empty")
	}

	session, ok := s.startSession()
	if !ok {
		return failure(CodeAlreadyRunning, "a scan is already in progress")
	}
	defer s.endSession()

	res, err := session.Run(ctx, cfg, symbols)
	if err != nil {
		return failure(CodeScanFailed, err.Error())
	}

	matches := s.Deliver(ctx, res.Matches)
	for i := range matches {
		matches[i].RunID = res.RunID
	}

	s.deps.Recorder.RecordRun(context.WithoutCancel(ctx), scanstate.Outcome{
		RunID:      res.RunID,
		FinishedAt: s.deps.Now(),
		Duration:   res.Duration,
		Scanned:    res.Scanned,
		Total:      res.Total,
		Cancelled:  res.Cancelled,
		Matches:    matches,
		Err:        res.Err,
	})

	out := RunResult{
		OK:        res.Err == nil,
		RunID:     res.RunID,
		Count:     len(matches),
		Scanned:   res.Scanned,
		Cancelled: res.Cancelled,
		Matches:   summarize(matches),
	}
	if res.Err != nil {
		out.Error = CodeScanFailed
		out.Detail = res.Err.Error()
	}
	return out
}

func (s *ScanService) startSession() (*scanner.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil, false
	}

	opts := scanner.Options{
		Source:         s.deps.Source,
		Ledger:         s.deps.Ledger,
		Rate:           s.deps.Rate,
		Logger:         s.logger,
		RequestTimeout: s.deps.RequestTimeout,
		Now:            s.deps.Now,
	}
	if s.deps.ConfigureSession != nil {
		s.deps.ConfigureSession(&opts)
	}
	s.session = scanner.NewSession(opts)
	s.running = true
	return s.session, true
}

func (s *ScanService) endSession() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// Deliver notifies every event and records the cooldown of the delivered
// ones. The ledger is persisted when anything was delivered.
func (s *ScanService) Deliver(ctx context.Context, events []cross.Event) []scanstate.Match {
	matches := make([]scanstate.Match, 0, len(events))
	for _, e := range events {
		m := scanstate.Match{Event: e, Delivered: true}
		if s.deps.Notifier != nil {
			d := s.deps.Notifier.NotifyCross(ctx, e)
			m.Delivered = d.OK
			m.DeliveryError = d.Error()
		}
		if m.Delivered {
			s.deps.Ledger.Record(e.Key(), s.deps.Now())
		} else {
			s.logger.Warn("crossover not delivered, cooldown not recorded",
				zap.String("key", e.Key()),
				zap.String("error", m.DeliveryError),
			)
		}
		matches = append(matches, m)
	}
	if len(events) > 0 {
		s.persistLedger(ctx)
	}
	return matches
}

func (s *ScanService) persistLedger(ctx context.Context) {
	if err := s.deps.Store.Put(context.WithoutCancel(ctx), kvstore.KeyLastCross, s.deps.Ledger.Snapshot()); err != nil {
		s.logger.Warn("failed to persist cooldown ledger", zap.Error(err))
	}
}

// Stop cancels the running pass and reports whether one was running.
func (s *ScanService) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return false
	}
	s.session.Stop()
	return true
}

func (s *ScanService) State() Status {
	st := Status{State: s.deps.Recorder.Snapshot()}
	s.mu.Lock()
	defer s.mu.Unlock()
	st.Running = s.running
	if s.session != nil {
		rate := s.session.Rate().Snapshot()
		st.Rate = &rate
	}
	return st
}

// Config returns the stored scan config, or the defaults when none is stored
// or the stored one is invalid.
func (s *ScanService) Config(ctx context.Context) config.ScanConfig {
	cfg := s.deps.Defaults
	cfg.Symbols = append([]string(nil), cfg.Symbols...)
	found, err := s.deps.Store.Get(ctx, kvstore.KeyConfig, &cfg)
	if err != nil {
		s.logger.Warn("failed to load stored config, using defaults", zap.Error(err))
		return s.deps.Defaults
	}
	if !found {
		return s.deps.Defaults
	}
	if err := cfg.Validate(); err != nil {
		s.logger.Warn("stored config is invalid, using defaults", zap.Error(err))
		return s.deps.Defaults
	}
	return cfg
}

// SaveConfig validates and stores cfg.
func (s *ScanService) SaveConfig(ctx context.Context, cfg config.ScanConfig) error {
	cfg.Symbols = config.NormalizeSymbols(cfg.Symbols)
	if err := cfg.Validate(); err != nil {
		return err
	}
	return s.deps.Store.Put(ctx, kvstore.KeyConfig, cfg)
}

// Symbols returns the stored symbol list, falling back to the defaults.
func (s *ScanService) Symbols(ctx context.Context) []string {
	var symbols []string
	found, err := s.deps.Store.Get(ctx, kvstore.KeySymbols, &symbols)
	if err != nil || !found {
		return append([]string(nil), s.deps.Defaults.Symbols...)
	}
	symbols = config.NormalizeSymbols(symbols)
	if err := config.ValidateSymbols(symbols); err != nil {
		s.logger.Warn("stored symbols are invalid, using defaults", zap.Error(err))
		return append([]string(nil), s.deps.Defaults.Symbols...)
	}
	return symbols
}

// SaveSymbols validates and stores the symbol list.
func (s *ScanService) SaveSymbols(ctx context.Context, symbols []string) ([]string, error) {
	symbols = config.NormalizeSymbols(symbols)
	if len(symbols) == 0 {
		return nil, &config.ValidationError{Field: "symbols", Code: CodeNoSymbols, Detail: "symbol list is empty"}
	}
	if err := config.ValidateSymbols(symbols); err != nil {
		return nil, err
	}
	if err := s.deps.Store.Put(ctx, kvstore.KeySymbols, symbols); err != nil {
		return nil, err
	}
	return symbols, nil
}

// ErrorCode maps an error from SaveConfig or SaveSymbols to a response code.
func ErrorCode(err error) string {
	var verr *config.ValidationError
	if errors.As(err, &verr) {
		return CodeInvalidConfig
	}
	return "internal_error"
}

func failure(code, detail string) RunResult {
	return RunResult{Error: code, Detail: detail, Matches: make([]MatchSummary, 0)}
}

func summarize(matches []scanstate.Match) []MatchSummary {
	out := make([]MatchSummary, len(matches))
	for i, m := range matches {
		out[i] = MatchSummary{
			Symbol:        m.Symbol,
			Direction:     m.Direction,
			Interval:      m.Interval,
			Price:         m.Price,
			Time:          m.Time,
			Delivered:     m.Delivered,
			DeliveryError: m.DeliveryError,
		}
	}
	return out
}
