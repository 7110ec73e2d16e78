package symbolmeta

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Lister returns the tradable symbol universe.
type Lister interface {
	USDTPerpetualSymbols(ctx context.Context) ([]string, error)
}

// Refresher reloads the symbol universe at startup and every UTC midnight.
type Refresher struct {
	Lister Lister
	// Apply receives every successfully loaded list.
	Apply  func(ctx context.Context, symbols []string) error
	Logger *zap.Logger

	now func() time.Time
}

func NewRefresher(lister Lister, apply func(ctx context.Context, symbols []string) error, logger *zap.Logger) *Refresher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Refresher{Lister: lister, Apply: apply, Logger: logger, now: time.Now}
}

// RefreshOnce loads and applies the symbol list.
func (r *Refresher) RefreshOnce(ctx context.Context) ([]string, error) {
	symbols, err := r.Lister.USDTPerpetualSymbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("list symbols: %w", err)
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("list symbols: empty result")
	}
	if r.Apply != nil {
		if err := r.Apply(ctx, symbols); err != nil {
			return nil, fmt.Errorf("apply symbols: %w", err)
		}
	}
	r.Logger.Info("symbol universe refreshed", zap.Int("count", len(symbols)))
	return symbols, nil
}

// Start runs RefreshOnce immediately, then at the next UTC midnight and
// every 24 hours after, until ctx is done.
func (r *Refresher) Start(ctx context.Context) {
	go func() {
		r.runOnce(ctx)

		timer := time.NewTimer(time.Until(NextMidnight(r.now())))
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
				r.runOnce(ctx)
				timer.Reset(time.Until(NextMidnight(r.now())))
			}
		}
	}()
}

func (r *Refresher) runOnce(ctx context.Context) {
	if _, err := r.RefreshOnce(ctx); err != nil && ctx.Err() == nil {
		r.Logger.Error("symbol refresh failed", zap.Error(err))
	}
}

// NextMidnight returns the first UTC midnight strictly after now.
func NextMidnight(now time.Time) time.Time {
	return now.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
}
