// Package agent runs trading strategies as supervised agents. A Runner owns one
// strategy, consumes routed events, submits the strategy's intents through the
// platform and obeys coordinator commands.
package agent

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc"
	"github.com/yanun0323/logs"

	"github.com/proerror77/ploy-sub006/internal/bus"
	"github.com/proerror77/ploy-sub006/internal/schema"
)

var (
	minPrice = decimal.RequireFromString("0.01")
	maxPrice = decimal.RequireFromString("0.99")
)

// Strategy turns routed events into trade intents. It is only called from the
// runner loop.
type Strategy interface {
	OnEvent(ctx context.Context, ev schema.DomainEvent) []schema.TradeIntent
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(ctx context.Context, ev schema.DomainEvent) []schema.TradeIntent

func (f StrategyFunc) OnEvent(ctx context.Context, ev schema.DomainEvent) []schema.TradeIntent {
	return f(ctx, ev)
}

// Submitter is the platform surface an agent may use.
type Submitter interface {
	Submit(ctx context.Context, intent schema.TradeIntent) (schema.ExecutionReport, error)
	AgentPosition(ctx context.Context, agentID string) (schema.Position, error)
}

const (
	defaultBuffer        = 256
	defaultCloseSlippage = "0.05"
)

// Config describes one agent.
type Config struct {
	ID      string
	Domain  schema.Domain
	Markets []string
	Params  schema.AgentRiskParams
	// Buffer bounds both the event mailbox and the submission backlog.
	Buffer int
	// CloseSlippage is how far through the mark a force-close order is priced.
	CloseSlippage decimal.Decimal
}

func (c Config) withDefaults() Config {
	if c.Buffer == 0 {
		c.Buffer = defaultBuffer
	}
	if c.CloseSlippage.IsZero() {
		c.CloseSlippage = decimal.RequireFromString(defaultCloseSlippage)
	}
	return c
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("invalid agent config: empty id")
	}
	if c.Buffer <= 0 {
		return fmt.Errorf("invalid agent config %s: Buffer must be > 0", c.ID)
	}
	if c.CloseSlippage.IsNegative() || c.CloseSlippage.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("invalid agent config %s: CloseSlippage must be in [0, 1)", c.ID)
	}
	return nil
}

type job struct {
	intents []schema.TradeIntent
	// closing jobs run to completion even after the agent is stopped
	closing bool
}

// Runner is a DomainAgent driving one Strategy.
type Runner struct {
	cfg      Config
	strategy Strategy
	platform Submitter
	router   *bus.Router
	events   *bus.Subscriber
	now      func() time.Time

	status atomic.Uint32
	jobs   chan job
	seq    atomic.Uint64

	seen      atomic.Uint64
	submitted atomic.Uint64
	filled    atomic.Uint64
	rejected  atomic.Uint64
	dropped   atomic.Uint64

	mu      sync.Mutex
	lastErr string
}

// New creates a runner and subscribes it to quotes of its markets and to the
// reports and risk changes addressed to it. router may be nil.
func New(cfg Config, strategy Strategy, platform Submitter, router *bus.Router) (*Runner, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if strategy == nil || platform == nil {
		return nil, fmt.Errorf("invalid agent config %s: strategy and platform are required", cfg.ID)
	}
	r := &Runner{
		cfg:      cfg,
		strategy: strategy,
		platform: platform,
		router:   router,
		now:      time.Now,
		jobs:     make(chan job, cfg.Buffer),
	}
	r.status.Store(uint32(schema.AgentStatusStarting))

	if router != nil {
		var err error
		r.events, err = router.Subscribe(bus.Subscription{
			ID:     "agent/" + cfg.ID,
			Kinds:  []schema.EventKind{schema.EventKindQuote, schema.EventKindExecution, schema.EventKindRiskChange},
			Filter: bus.All(bus.MarketFilter(cfg.Markets...), bus.AgentFilter(cfg.ID)),
			Buffer: cfg.Buffer,
			Policy: bus.DropOldest,
		})
		if err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Runner) ID() string                         { return r.cfg.ID }
func (r *Runner) Domain() schema.Domain              { return r.cfg.Domain }
func (r *Runner) RiskParams() schema.AgentRiskParams { return r.cfg.Params }

// Status returns the lifecycle status.
func (r *Runner) Status() schema.AgentStatus {
	return schema.AgentStatus(r.status.Load())
}

func (r *Runner) setStatus(s schema.AgentStatus) {
	r.status.Store(uint32(s))
}

// Run consumes events and commands until ctx ends or a Shutdown command
// arrives. Intents are submitted in order by a single submission goroutine.
func (r *Runner) Run(ctx context.Context, cmds <-chan schema.AgentCommand) error {
	var wg conc.WaitGroup
	wg.Go(func() { r.submitLoop(ctx) })
	defer func() {
		close(r.jobs)
		wg.Wait()
		if r.events != nil {
			_ = r.router.Unsubscribe(r.events.ID())
		}
		r.setStatus(schema.AgentStatusStopped)
		logs.Infof("agent %s stopped", r.cfg.ID)
	}()

	var events <-chan schema.DomainEvent
	if r.events != nil {
		events = r.events.C()
	}
	r.setStatus(schema.AgentStatusRunning)
	logs.Infof("agent %s running: domain=%s markets=%v", r.cfg.ID, r.cfg.Domain, r.cfg.Markets)

	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd, ok := <-cmds:
			if !ok {
				return nil
			}
			if r.handle(ctx, cmd) {
				return nil
			}
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			r.onEvent(ctx, ev)
		}
	}
}

// handle applies one command and reports whether the runner must stop.
func (r *Runner) handle(ctx context.Context, cmd schema.AgentCommand) bool {
	switch cmd.Kind {
	case schema.CommandPause:
		if r.Status() == schema.AgentStatusRunning {
			r.setStatus(schema.AgentStatusPaused)
			logs.Infof("agent %s paused", r.cfg.ID)
		}
		ack(cmd, nil)
	case schema.CommandResume:
		if r.Status() == schema.AgentStatusPaused {
			r.setStatus(schema.AgentStatusRunning)
			logs.Infof("agent %s resumed", r.cfg.ID)
		}
		ack(cmd, nil)
	case schema.CommandForceClose:
		ack(cmd, r.forceClose(ctx))
	case schema.CommandHealthCheck:
		if cmd.Health != nil {
			select {
			case cmd.Health <- r.health():
			default:
			}
		}
	case schema.CommandShutdown:
		r.setStatus(schema.AgentStatusClosing)
		ack(cmd, nil)
		return true
	default:
		ack(cmd, fmt.Errorf("agent %s: unknown command %d", r.cfg.ID, cmd.Kind))
	}
	return false
}

func ack(cmd schema.AgentCommand, err error) {
	if cmd.Ack == nil {
		return
	}
	select {
	case cmd.Ack <- err:
	default:
	}
}

func (r *Runner) onEvent(ctx context.Context, ev schema.DomainEvent) {
	r.seen.Add(1)
	running := r.Status() == schema.AgentStatusRunning
	if !running && ev.Kind == schema.EventKindQuote {
		// paused agents keep their subscriptions but do not trade on quotes
		return
	}
	intents := r.strategy.OnEvent(ctx, ev)
	if len(intents) == 0 || !running {
		return
	}
	for i := range intents {
		r.stamp(&intents[i])
	}
	select {
	case r.jobs <- job{intents: intents}:
	default:
		r.dropped.Add(uint64(len(intents)))
		logs.Warnf("agent %s: submission backlog full, dropped %d intents", r.cfg.ID, len(intents))
	}
}

// forceClose queues reduce-only intents that flatten every open position. Once
// queued they are submitted even if the agent is stopped.
func (r *Runner) forceClose(ctx context.Context) error {
	prev := r.Status()
	r.setStatus(schema.AgentStatusClosing)
	pos, err := r.platform.AgentPosition(ctx, r.cfg.ID)
	if err != nil {
		r.setStatus(prev)
		r.fail(err)
		return err
	}

	intents := CloseIntents(r.cfg.ID, pos, r.cfg.CloseSlippage)
	for i := range intents {
		r.stamp(&intents[i])
	}
	logs.Warnf("agent %s force close: %d positions", r.cfg.ID, len(intents))
	if len(intents) > 0 {
		r.jobs <- job{intents: intents, closing: true}
	}
	r.setStatus(schema.AgentStatusPaused)
	return nil
}

// CloseIntents builds one reduce-only intent per open market position, priced
// slippage through the mark so it is marketable.
func CloseIntents(agentID string, pos schema.Position, slippage decimal.Decimal) []schema.TradeIntent {
	var out []schema.TradeIntent
	for _, m := range pos.Markets {
		if m.Size.IsZero() {
			continue
		}
		mark := m.MarkPrice
		if !mark.IsPositive() {
			mark = m.AvgPrice
		}
		side := schema.SideSell
		price := mark.Sub(slippage)
		if m.Size.IsNegative() {
			side = schema.SideBuy
			price = mark.Add(slippage)
		}
		out = append(out, schema.TradeIntent{
			AgentID:    agentID,
			StrategyID: "force_close",
			Market:     m.Market,
			Side:       side,
			Size:       m.Size.Abs(),
			LimitPrice: decimal.Min(decimal.Max(price, minPrice), maxPrice),
			ReduceOnly: true,
			Priority:   schema.PriorityUrgent,
		})
	}
	return out
}

func (r *Runner) stamp(intent *schema.TradeIntent) {
	intent.AgentID = r.cfg.ID
	if intent.IdempotencyKey == "" {
		intent.IdempotencyKey = fmt.Sprintf("%s-%d-%d", r.cfg.ID, r.now().UnixNano(), r.seq.Add(1))
	}
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = r.now()
	}
}

func (r *Runner) submitLoop(ctx context.Context) {
	for j := range r.jobs {
		sctx := ctx
		if j.closing {
			sctx = context.WithoutCancel(ctx)
		}
		for _, intent := range j.intents {
			// strategy intents queued before a pause are dropped, close intents are not
			if sctx.Err() != nil || (!j.closing && r.Status() != schema.AgentStatusRunning) {
				r.dropped.Add(1)
				continue
			}
			r.submitted.Add(1)
			rep, err := r.platform.Submit(sctx, intent)
			if err != nil {
				r.fail(err)
				continue
			}
			r.count(rep)
		}
	}
}

func (r *Runner) count(rep schema.ExecutionReport) {
	switch {
	case rep.Status == schema.ExecStatusRejected:
		r.rejected.Add(1)
	case rep.HasFill():
		r.filled.Add(1)
	}
}

func (r *Runner) fail(err error) {
	r.mu.Lock()
	r.lastErr = err.Error()
	r.mu.Unlock()
	logs.Errorf("agent %s: %+v", r.cfg.ID, err)
}

func (r *Runner) health() schema.AgentHealthResponse {
	r.mu.Lock()
	lastErr := r.lastErr
	r.mu.Unlock()
	return schema.AgentHealthResponse{
		AgentID: r.cfg.ID,
		Status:  r.Status(),
		Metrics: map[string]float64{
			"events_seen":       float64(r.seen.Load()),
			"intents_submitted": float64(r.submitted.Load()),
			"intents_filled":    float64(r.filled.Load()),
			"intents_rejected":  float64(r.rejected.Load()),
			"intents_dropped":   float64(r.dropped.Load()),
			"backlog":           float64(len(r.jobs)),
		},
		LastError: lastErr,
		At:        r.now(),
	}
}
