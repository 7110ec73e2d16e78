package scanstate

import (
	"context"
	"sync"
	"time"

	"crossscanner/internal/kvstore"
	"crossscanner/pkg/cross"

	"go.uber.org/zap"
)

// MaxMatches caps the persisted match history.
const MaxMatches = 200

// Match is a detected crossover together with its delivery result.
type Match struct {
	cross.Event
	RunID         string `json:"runId"`
	Delivered     bool   `json:"delivered"`
	DeliveryError string `json:"deliveryError,omitempty"`
}

// State is the persisted summary of recent scans. Matches are most recent
// first.
type State struct {
	RunID              string     `json:"runId,omitempty"`
	LastRun            *time.Time `json:"lastRun,omitempty"`
	LastError          string     `json:"lastError,omitempty"`
	LastScanDurationMs int64      `json:"lastScanDurationMs"`
	ScannedCount       int        `json:"scannedCount"`
	TotalCount         int        `json:"totalCount"`
	NewMatches         int        `json:"newMatches"`
	Cancelled          bool       `json:"cancelled"`
	Matches            []Match    `json:"matches"`
}

// Outcome is what a finished (or aborted) run reports.
type Outcome struct {
	RunID      string
	FinishedAt time.Time
	Duration   time.Duration
	Scanned    int
	Total      int
	Cancelled  bool
	Matches    []Match
	Err        error
}

// Sink receives every recorded run, e.g. a history database.
type Sink interface {
	SaveRun(ctx context.Context, o Outcome) error
}

type Recorder struct {
	mu     sync.Mutex
	state  State
	store  kvstore.Store
	sink   Sink
	logger *zap.Logger
}

// NewRecorder creates a recorder. store and sink may be nil.
func NewRecorder(store kvstore.Store, sink Sink, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		state:  State{Matches: make([]Match, 0)},
		store:  store,
		sink:   sink,
		logger: logger,
	}
}

// Load restores the last persisted state. A missing key keeps the empty
// state.
func (r *Recorder) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	var st State
	found, err := r.store.Get(ctx, kvstore.KeyState, &st)
	if err != nil || !found {
		return err
	}
	if st.Matches == nil {
		st.Matches = make([]Match, 0)
	}
	if len(st.Matches) > MaxMatches {
		st.Matches = st.Matches[:MaxMatches]
	}

	r.mu.Lock()
	r.state = st
	r.mu.Unlock()
	return nil
}

// RecordRun merges o into the state and persists it. Persistence failures
// are logged, never returned; the in-memory state is always updated.
func (r *Recorder) RecordRun(ctx context.Context, o Outcome) State {
	r.mu.Lock()
	finished := o.FinishedAt
	st := r.state
	st.RunID = o.RunID
	st.LastRun = &finished
	st.LastScanDurationMs = o.Duration.Milliseconds()
	st.ScannedCount = o.Scanned
	st.TotalCount = o.Total
	st.NewMatches = len(o.Matches)
	st.Cancelled = o.Cancelled
	st.LastError = ""
	if o.Err != nil {
		st.LastError = o.Err.Error()
	}
	st.Matches = mergeMatches(o.Matches, r.state.Matches)
	r.state = st
	snapshot := copyState(st)
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.Put(ctx, kvstore.KeyState, snapshot); err != nil {
			r.logger.Warn("failed to persist scan state", zap.Error(err))
		}
	}
	if r.sink != nil {
		if err := r.sink.SaveRun(ctx, o); err != nil {
			r.logger.Warn("failed to save scan run", zap.String("run_id", o.RunID), zap.Error(err))
		}
	}
	return snapshot
}

// Snapshot returns a copy of the current state.
func (r *Recorder) Snapshot() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return copyState(r.state)
}

// mergeMatches puts fresh (in reverse detection order) ahead of existing and
// truncates to MaxMatches.
func mergeMatches(fresh, existing []Match) []Match {
	out := make([]Match, 0, min(MaxMatches, len(fresh)+len(existing)))
	for i := len(fresh) - 1; i >= 0 && len(out) < MaxMatches; i-- {
		out = append(out, fresh[i])
	}
	for _, m := range existing {
		if len(out) >= MaxMatches {
			break
		}
		out = append(out, m)
	}
	return out
}

func copyState(st State) State {
	cp := st
	cp.Matches = append(make([]Match, 0, len(st.Matches)), st.Matches...)
	if st.LastRun != nil {
		t := *st.LastRun
		cp.LastRun = &t
	}
	return cp
}
