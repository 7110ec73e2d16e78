package scanner

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"crossscanner/config"

	"github.com/jpillora/backoff"
)

// RateState is a snapshot of the adaptive controller.
type RateState struct {
	Concurrency          float64       `json:"concurrency"`
	BatchSize            int           `json:"batchSize"`
	BatchDelay           time.Duration `json:"batchDelay"`
	BackoffCount         int           `json:"backoffCount"`
	ConsecutiveSuccesses int           `json:"consecutiveSuccesses"`
}

// RateController adapts batch size and inter-batch delay to rate-limit
// feedback. 429 shrinks throughput multiplicatively; a run of successes
// ramps it back up one slot at a time.
type RateController struct {
	mu  sync.Mutex
	cfg config.RateConfig

	concurrency  float64
	delay        time.Duration
	backoffCount int
	successes    int

	backoff *backoff.Backoff
	jitter  func(max time.Duration) time.Duration
}

func NewRateController(cfg config.RateConfig) *RateController {
	return &RateController{
		cfg:         cfg,
		concurrency: float64(cfg.Concurrency),
		delay:       cfg.BatchDelay,
		backoff: &backoff.Backoff{
			Min:    cfg.BackoffBase,
			Max:    cfg.BackoffCap,
			Factor: 2,
		},
		jitter: randomJitter,
	}
}

// WithJitter replaces the jitter source. fn receives the largest jitter
// allowed and returns a value in [0, max].
func (c *RateController) WithJitter(fn func(max time.Duration) time.Duration) *RateController {
	c.jitter = fn
	return c
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return rand.N(max + 1)
}

// OnRateLimited applies the 429 penalty and returns how long the limited
// request should wait before returning.
func (c *RateController) OnRateLimited() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.backoffCount++
	c.successes = 0
	c.concurrency = math.Max(1, c.concurrency*c.cfg.ShrinkFactor)
	c.delay = min(c.cfg.MaxBatchDelay, time.Duration(float64(c.delay)*c.cfg.DelayGrowth))

	wait := c.backoff.ForAttempt(float64(min(c.backoffCount, c.cfg.MaxBackoffExp)))
	return wait + c.jitter(time.Duration(float64(wait)*c.cfg.JitterRatio))
}

// OnSuccess records a successful fetch.
func (c *RateController) OnSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.backoffCount > 0 {
		c.backoffCount--
	}
	c.successes++
	if c.successes < c.cfg.RampThreshold {
		return
	}
	c.successes = 0
	c.concurrency = math.Min(float64(c.cfg.MaxConcurrency), c.concurrency+1)
	c.delay = max(c.cfg.MinBatchDelay, time.Duration(float64(c.delay)*c.cfg.DelayDecay))
}

// BatchSize is floor(concurrency), never below 1.
func (c *RateController) BatchSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return max(1, int(math.Floor(c.concurrency)))
}

// BatchDelay returns the current inter-batch delay plus jitter.
func (c *RateController) BatchDelay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delay + c.jitter(time.Duration(float64(c.delay)*c.cfg.JitterRatio))
}

func (c *RateController) Snapshot() RateState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return RateState{
		Concurrency:          c.concurrency,
		BatchSize:            max(1, int(math.Floor(c.concurrency))),
		BatchDelay:           c.delay,
		BackoffCount:         c.backoffCount,
		ConsecutiveSuccesses: c.successes,
	}
}
