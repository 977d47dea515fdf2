package execution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/sony/gobreaker"
	"github.com/yanun0323/logs"

	"github.com/proerror77/ploy-sub006/internal/exchange"
	"github.com/proerror77/ploy-sub006/internal/schema"
)

// ExecutorConfig controls venue calls.
type ExecutorConfig struct {
	CallTimeout    time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	// Jitter is the +/- share applied to each backoff delay.
	Jitter float64

	BreakerName        string
	BreakerFailures    uint32
	BreakerOpenTimeout time.Duration
	BreakerHalfOpen    uint32
}

// DefaultExecutorConfig returns venue-call defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		CallTimeout:        5 * time.Second,
		MaxAttempts:        4,
		InitialBackoff:     100 * time.Millisecond,
		MaxBackoff:         5 * time.Second,
		Multiplier:         2,
		Jitter:             0.2,
		BreakerName:        "exchange",
		BreakerFailures:    5,
		BreakerOpenTimeout: 10 * time.Second,
		BreakerHalfOpen:    1,
	}
}

func (c ExecutorConfig) withDefaults() ExecutorConfig {
	def := DefaultExecutorConfig()
	if c.CallTimeout == 0 {
		c.CallTimeout = def.CallTimeout
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = def.InitialBackoff
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = def.MaxBackoff
	}
	if c.Multiplier == 0 {
		c.Multiplier = def.Multiplier
	}
	if c.BreakerName == "" {
		c.BreakerName = def.BreakerName
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = def.BreakerFailures
	}
	if c.BreakerOpenTimeout == 0 {
		c.BreakerOpenTimeout = def.BreakerOpenTimeout
	}
	if c.BreakerHalfOpen == 0 {
		c.BreakerHalfOpen = def.BreakerHalfOpen
	}
	return c
}

// Validate checks if the configuration is usable.
func (c ExecutorConfig) Validate() error {
	if c.CallTimeout < 0 || c.InitialBackoff < 0 || c.MaxBackoff < 0 {
		return fmt.Errorf("invalid executor config: durations must be >= 0")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("invalid executor config: MaxAttempts must be >= 1")
	}
	if c.Multiplier < 1 {
		return fmt.Errorf("invalid executor config: Multiplier must be >= 1")
	}
	if c.Jitter < 0 || c.Jitter >= 1 {
		return fmt.Errorf("invalid executor config: Jitter must be in [0, 1)")
	}
	if c.MaxBackoff < c.InitialBackoff {
		return fmt.Errorf("invalid executor config: MaxBackoff must be >= InitialBackoff")
	}
	return nil
}

// DeadLetterSink receives commands whose retries are exhausted.
type DeadLetterSink interface {
	DeadLetter(ctx context.Context, cmd schema.OrderCommand, cause error, attempts int) error
}

// Executor submits commands to the venue with bounded retries. Transient
// failures back off exponentially; deterministic ones fail at once. A call
// whose outcome is unknown is looked up by client order id before any retry.
type Executor struct {
	cfg    ExecutorConfig
	client exchange.Client
	dlq    DeadLetterSink
	cb     *gobreaker.CircuitBreaker
	now    func() time.Time
	sleep  func(context.Context, time.Duration) error
}

// NewExecutor creates an executor. dlq may be nil.
func NewExecutor(cfg ExecutorConfig, client exchange.Client, dlq DeadLetterSink) (*Executor, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if client == nil {
		return nil, fmt.Errorf("invalid executor config: nil exchange client")
	}
	e := &Executor{
		cfg:    cfg,
		client: client,
		dlq:    dlq,
		now:    time.Now,
		sleep:  sleepCtx,
	}
	e.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.BreakerName,
		MaxRequests: cfg.BreakerHalfOpen,
		Timeout:     cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logs.Warnf("venue breaker %s: %s -> %s", name, from, to)
		},
		IsSuccessful: func(err error) bool {
			return exchange.Classify(err) != exchange.ClassTransient
		},
	})
	return e, nil
}

// BreakerState returns the venue breaker state.
func (e *Executor) BreakerState() gobreaker.State {
	return e.cb.State()
}

// Execute runs cmd to a terminal report. It never returns a non-terminal status.
func (e *Executor) Execute(ctx context.Context, cmd schema.OrderCommand) schema.ExecutionReport {
	var (
		lastErr  error
		attempts int
		unknown  bool
	)
	for attempts < e.cfg.MaxAttempts {
		if err := ctx.Err(); err != nil {
			lastErr = errors.Join(lastErr, err)
			break
		}
		if unknown {
			rep, err := e.lookup(ctx, cmd)
			switch {
			case err == nil:
				rep.Attempts = attempts
				return rep
			case errors.Is(err, exchange.ErrOrderNotFound):
				unknown = false
			default:
				attempts++
				lastErr = err
				if attempts < e.cfg.MaxAttempts {
					_ = e.backoff(ctx, attempts)
				}
				continue
			}
		}

		attempts++
		rep, err := e.submit(ctx, cmd)
		if err == nil {
			rep.Attempts = attempts
			if rep.ReportedAt.IsZero() {
				rep.ReportedAt = e.now()
			}
			return rep
		}
		lastErr = err
		if exchange.Classify(err) == exchange.ClassDeterministic {
			return e.failed(cmd, err, attempts)
		}
		unknown = unknown || exchange.UnknownOutcome(err)
		if attempts < e.cfg.MaxAttempts {
			_ = e.backoff(ctx, attempts)
		}
	}

	if unknown {
		// one last reconciliation so a filled order is not dead-lettered
		if rep, err := e.lookup(context.WithoutCancel(ctx), cmd); err == nil {
			rep.Attempts = attempts
			return rep
		}
	}
	rep := e.failed(cmd, lastErr, attempts)
	if e.dlq != nil {
		if err := e.dlq.DeadLetter(context.WithoutCancel(ctx), cmd, lastErr, attempts); err != nil {
			logs.Errorf("dead-letter %s failed, err: %+v", cmd.ClientOrderID, err)
			rep.Error = fmt.Sprintf("%s; dead-letter failed: %v", rep.Error, err)
		} else {
			rep.Error = fmt.Sprintf("%s; dead-lettered", rep.Error)
		}
	}
	return rep
}

func (e *Executor) submit(ctx context.Context, cmd schema.OrderCommand) (schema.ExecutionReport, error) {
	out, err := e.cb.Execute(func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		defer cancel()
		return e.client.SubmitOrder(callCtx, cmd)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return schema.ExecutionReport{}, fmt.Errorf("%w: %v", exchange.ErrTransient, err)
		}
		return schema.ExecutionReport{}, err
	}
	return out.(schema.ExecutionReport), nil
}

func (e *Executor) lookup(ctx context.Context, cmd schema.OrderCommand) (schema.ExecutionReport, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	return e.client.LookupOrder(callCtx, cmd.ClientOrderID)
}

func (e *Executor) failed(cmd schema.OrderCommand, err error, attempts int) schema.ExecutionReport {
	rep := schema.ReportFor(cmd, schema.ExecStatusFailed, e.now())
	rep.Attempts = attempts
	if err != nil {
		rep.Error = err.Error()
	}
	return rep
}

func (e *Executor) backoff(ctx context.Context, attempt int) error {
	return e.sleep(ctx, Backoff(e.cfg.InitialBackoff, e.cfg.MaxBackoff, e.cfg.Multiplier, e.cfg.Jitter, attempt))
}

// Backoff returns initial × multiplier^(attempt-1), capped at ceiling, with +/- jitter.
func Backoff(initial, ceiling time.Duration, multiplier, jitter float64, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(initial) * math.Pow(multiplier, float64(attempt-1))
	if d > float64(ceiling) {
		d = float64(ceiling)
	}
	if jitter > 0 {
		d += d * jitter * (2*rand.Float64() - 1)
	}
	return time.Duration(d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
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
