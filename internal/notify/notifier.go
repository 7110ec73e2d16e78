package notify

import (
	"context"
	"errors"
	"time"

	"crossscanner/config"
	"crossscanner/pkg/cross"
	"crossscanner/pkg/retry"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrDuplicate is reported when an identical message was sent within the
// dedup window.
var ErrDuplicate = errors.New("duplicate notification suppressed")

// Delivery is the result of one notification.
type Delivery struct {
	OK        bool  `json:"ok"`
	MessageID int   `json:"messageId,omitempty"`
	Attempts  int   `json:"attempts"`
	Duplicate bool  `json:"duplicate,omitempty"`
	Err       error `json:"-"`
}

// Error returns the failure text, empty on success.
func (d Delivery) Error() string {
	if d.Err == nil {
		return ""
	}
	return d.Err.Error()
}

type Notifier struct {
	transport   Transport
	destination string
	policy      retry.Policy
	dedup       *RequestDedup
	limiter     *rate.Limiter
	logger      *zap.Logger
}

// NewNotifier wraps transport with the retry, dedup and pacing settings of
// cfg. Messages without a destination go to cfg.ChatID.
func NewNotifier(transport Transport, cfg config.TelegramConfig, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	burst := max(1, cfg.Burst)

	return &Notifier{
		transport:   transport,
		destination: cfg.ChatID,
		policy: retry.Policy{
			MaxAttempts: max(1, cfg.MaxAttempts),
			Backoff:     retry.Linear(cfg.RetryStep),
			Retryable:   Retryable,
		},
		dedup:   NewRequestDedup(cfg.DedupWindow),
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}
}

// WithSleep replaces the wait between retries.
func (n *Notifier) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *Notifier {
	n.policy.Sleep = sleep
	return n
}

// Dedup exposes the request de-duplicator.
func (n *Notifier) Dedup() *RequestDedup { return n.dedup }

// Send delivers msg with retries. It never panics and never returns an error
// directly; failures are carried in the Delivery.
func (n *Notifier) Send(ctx context.Context, msg Message) Delivery {
	if msg.Destination == "" {
		msg.Destination = n.destination
	}

	if !n.dedup.Acquire(msg.Destination, msg.Text) {
		n.logger.Debug("duplicate notification suppressed", zap.String("destination", msg.Destination))
		return Delivery{Duplicate: true, Err: ErrDuplicate}
	}

	var messageID int
	attempts, err := retry.Do(ctx, n.policy, func(ctx context.Context) error {
		if err := n.limiter.Wait(ctx); err != nil {
			return err
		}
		id, err := n.transport.Send(ctx, msg)
		if err != nil {
			n.logger.Warn("notification attempt failed",
				zap.String("destination", msg.Destination),
				zap.Int("status", StatusCode(err)),
				zap.Error(err),
			)
			return err
		}
		messageID = id
		return nil
	})

	if err != nil {
		n.dedup.Release(msg.Destination, msg.Text)
		n.logger.Error("notification failed",
			zap.String("destination", msg.Destination),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		return Delivery{Attempts: attempts, Err: err}
	}
	return Delivery{OK: true, MessageID: messageID, Attempts: attempts}
}

// NotifyCross formats and sends a crossover alert to the default
// destination.
func (n *Notifier) NotifyCross(ctx context.Context, e cross.Event) Delivery {
	return n.Send(ctx, Message{Text: FormatCross(e)})
}
