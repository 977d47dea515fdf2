package exchange

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/proerror77/ploy-sub006/internal/schema"
)

// ChaosConfig controls fault injection at the venue boundary.
type ChaosConfig struct {
	Seed int64
	// FailRate fails a call before it reaches the venue.
	FailRate float64
	// LostReplyRate lets the order reach the venue but loses the reply.
	LostReplyRate float64
	// RejectRate rejects the order deterministically.
	RejectRate float64
	MaxDelay   time.Duration
}

// Validate ensures the config is within supported ranges.
func (c ChaosConfig) Validate() error {
	for name, rate := range map[string]float64{"failRate": c.FailRate, "lostReplyRate": c.LostReplyRate, "rejectRate": c.RejectRate} {
		if rate < 0 || rate > 1 {
			return fmt.Errorf("invalid chaos config: %s must be between 0 and 1", name)
		}
	}
	if c.MaxDelay < 0 {
		return fmt.Errorf("invalid chaos config: maxDelay must be >= 0")
	}
	return nil
}

// Chaos wraps a client with seeded fault injection.
type Chaos struct {
	next Client
	cfg  ChaosConfig

	mu  sync.Mutex
	rng *rand.Rand
}

// NewChaos wraps next.
func NewChaos(next Client, cfg ChaosConfig) (*Chaos, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UTC().UnixNano()
	}
	return &Chaos{next: next, cfg: cfg, rng: rand.New(rand.NewSource(cfg.Seed))}, nil
}

func (c *Chaos) roll(rate float64) bool {
	if rate <= 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rng.Float64() < rate
}

func (c *Chaos) delay(ctx context.Context) error {
	if c.cfg.MaxDelay <= 0 {
		return nil
	}
	c.mu.Lock()
	d := time.Duration(c.rng.Int63n(c.cfg.MaxDelay.Nanoseconds() + 1))
	c.mu.Unlock()
	if d == 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Chaos) SubmitOrder(ctx context.Context, cmd schema.OrderCommand) (schema.ExecutionReport, error) {
	if err := c.delay(ctx); err != nil {
		return schema.ExecutionReport{}, err
	}
	if c.roll(c.cfg.FailRate) {
		return schema.ExecutionReport{}, fmt.Errorf("%w: injected connection reset", ErrTransient)
	}
	if c.roll(c.cfg.RejectRate) {
		return schema.ExecutionReport{}, fmt.Errorf("%w: injected rejection", ErrRejected)
	}
	rep, err := c.next.SubmitOrder(ctx, cmd)
	if err == nil && c.roll(c.cfg.LostReplyRate) {
		return schema.ExecutionReport{}, fmt.Errorf("injected lost reply: %w", context.DeadlineExceeded)
	}
	return rep, err
}

func (c *Chaos) LookupOrder(ctx context.Context, clientOrderID string) (schema.ExecutionReport, error) {
	if c.roll(c.cfg.FailRate) {
		return schema.ExecutionReport{}, fmt.Errorf("%w: injected connection reset", ErrTransient)
	}
	return c.next.LookupOrder(ctx, clientOrderID)
}

func (c *Chaos) CancelOrder(ctx context.Context, clientOrderID string) error {
	return c.next.CancelOrder(ctx, clientOrderID)
}

func (c *Chaos) Balance(ctx context.Context) (Balance, error) {
	return c.next.Balance(ctx)
}
