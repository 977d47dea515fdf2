/*
Package platform is the order chokepoint: every intent passes

	validate → idempotency → risk gate → fund check → event log → order queue → executor

and comes back as exactly one execution report.

# Ownership
  - one loop goroutine owns the risk gate, the order queue, the position
    aggregator and the execution engine; nothing else touches them
  - executor workers run venue calls and hand reports back to the loop
  - callers talk to the loop with messages and receive copies
*/
package platform

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"github.com/proerror77/ploy-sub006/internal/bus"
	"github.com/proerror77/ploy-sub006/internal/execution"
	"github.com/proerror77/ploy-sub006/internal/obs"
	"github.com/proerror77/ploy-sub006/internal/order"
	"github.com/proerror77/ploy-sub006/internal/persistence"
	"github.com/proerror77/ploy-sub006/internal/position"
	"github.com/proerror77/ploy-sub006/internal/risk"
	"github.com/proerror77/ploy-sub006/internal/schema"
	"github.com/proerror77/ploy-sub006/pkg/exception"
	"github.com/proerror77/ploy-sub006/pkg/reply"
)

const subscriberID = "platform"

var one = decimal.NewFromInt(1)

// Option customizes a platform.
type Option func(*Platform)

// WithRouter publishes reports and risk changes to r and marks positions from
// the quotes it routes.
func WithRouter(r *bus.Router) Option {
	return func(p *Platform) { p.router = r }
}

// WithMetrics records counters and latencies into m.
func WithMetrics(m *obs.Metrics) Option {
	return func(p *Platform) { p.metrics = m }
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(p *Platform) { p.now = now }
}

// Snapshot is a point-in-time copy of the platform.
type Snapshot struct {
	Risk      schema.RiskSnapshot       `json:"risk"`
	Queue     schema.QueueStats         `json:"queue"`
	Positions schema.AggregatedPosition `json:"positions"`
	Cash      decimal.Decimal           `json:"cash"`
	Reserved  decimal.Decimal           `json:"reserved"`
	Available decimal.Decimal           `json:"available"`
	Live      int                       `json:"live"`
	InFlight  int                       `json:"inFlight"`
	LastSeq   uint64                    `json:"lastSeq"`
}

// Platform is the single submission path to the venue.
type Platform struct {
	cfg     Config
	store   persistence.EventStore
	router  *bus.Router
	metrics *obs.Metrics
	trace   *obs.TraceGenerator
	now     func() time.Time

	gate       *risk.Gate
	queue      *order.Queue
	positions  *position.Aggregator
	engine     *execution.Engine
	dispatcher *order.Dispatcher
	quotes     *bus.Subscriber

	params  map[string]schema.AgentRiskParams
	waiters map[string][]chan<- schema.ExecutionReport
	traces  map[string]uint64
	blocked uint64
	lastSeq uint64

	draining   bool
	aborted    bool
	drainBy    time.Time
	cancelWork context.CancelFunc

	inbox   chan func()
	offline sync.Mutex
	started atomic.Bool
	closed  atomic.Bool
	ready   chan struct{}
	done    chan struct{}
}

// New creates a platform. executor runs approved commands against the venue and
// store receives every domain-significant event before it takes effect.
func New(cfg Config, executor order.Executor, store persistence.EventStore, opts ...Option) (*Platform, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if executor == nil || store == nil {
		return nil, fmt.Errorf("invalid platform config: executor and event store are required: %w", exception.ErrNilInstance)
	}
	gate, err := risk.NewGate(cfg.Risk)
	if err != nil {
		return nil, err
	}
	queue, err := order.NewQueue(cfg.Queue)
	if err != nil {
		return nil, err
	}

	p := &Platform{
		cfg:        cfg,
		store:      store,
		trace:      obs.NewTraceGenerator(0),
		now:        time.Now,
		gate:       gate,
		queue:      queue,
		positions:  position.NewAggregator(),
		engine:     execution.NewEngine(cfg.InitialCash, cfg.Risk.FeeRate),
		dispatcher: order.NewDispatcher(cfg.Workers, executor),
		params:     make(map[string]schema.AgentRiskParams),
		waiters:    make(map[string][]chan<- schema.ExecutionReport),
		traces:     make(map[string]uint64),
		inbox:      make(chan func(), cfg.InboxSize),
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.router != nil {
		p.quotes, err = p.router.Subscribe(bus.Subscription{
			ID:     subscriberID,
			Kinds:  []schema.EventKind{schema.EventKindQuote},
			Buffer: cfg.QuoteBuffer,
			Policy: bus.DropOldest,
		})
		if err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Ready is closed once Run accepts intents.
func (p *Platform) Ready() <-chan struct{} {
	return p.ready
}

// Done is closed once the platform loop has stopped.
func (p *Platform) Done() <-chan struct{} {
	return p.done
}

// Run owns the platform state until ctx is canceled or Shutdown completes.
// Canceling ctx starts a drain bounded by DrainTimeout.
func (p *Platform) Run(ctx context.Context) error {
	p.offline.Lock()
	if p.started.Load() {
		p.offline.Unlock()
		return exception.ErrPlatformRunning
	}
	p.started.Store(true)
	close(p.ready)
	p.offline.Unlock()

	// executions outlive ctx until the drain deadline
	workCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancelWork = cancel
	defer cancel()
	p.dispatcher.Run(workCtx)

	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()

	var quotes <-chan schema.DomainEvent
	if p.quotes != nil {
		quotes = p.quotes.C()
	}
	stop := ctx.Done()

	logs.Infof("platform started: workers=%d queue=%d", p.cfg.Workers, p.queue.Stats(p.now()).MaxSize)
	for !p.drained() {
		select {
		case fn := <-p.inbox:
			fn()
		case res := <-p.dispatcher.Results():
			p.finish(res.Command, res.Report)
		case ev, ok := <-quotes:
			if !ok {
				quotes = nil
				continue
			}
			p.onQuote(ev)
		case <-ticker.C:
		case <-stop:
			stop = nil
			p.beginDrain("context canceled")
		}
		p.pump()
	}

	cancel()
	p.dispatcher.Wait()
	if p.quotes != nil {
		_ = p.router.Unsubscribe(p.quotes.ID())
	}
	p.offline.Lock()
	p.closed.Store(true)
	for empty := false; !empty; {
		select {
		case fn := <-p.inbox:
			fn()
		default:
			empty = true
		}
	}
	logs.Infof("platform stopped: last_seq=%d live=%d", p.lastSeq, p.engine.Live())
	p.offline.Unlock()
	close(p.done)
	return nil
}

// Shutdown stops accepting intents, lets queued and in-flight commands finish
// and returns when the loop has stopped. Commands still queued at the drain
// deadline expire; executions still running are canceled and dead-lettered.
func (p *Platform) Shutdown(ctx context.Context) error {
	if !p.started.Load() {
		return exception.ErrPlatformNotRunning
	}
	err := p.do(ctx, func() { p.beginDrain("shutdown requested") })
	if err != nil && !errors.Is(err, exception.ErrPlatformStopped) {
		return err
	}
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit routes intent through the platform and blocks until its terminal
// report. Rejections are reports, not errors; err is set only when the
// platform could not take the intent or ctx ended first.
func (p *Platform) Submit(ctx context.Context, intent schema.TradeIntent) (schema.ExecutionReport, error) {
	if !p.started.Load() {
		return schema.RejectedReport(intent, schema.BlockReasonShuttingDown, "platform not running", p.now()), exception.ErrPlatformNotRunning
	}
	start := time.Now()
	out := make(chan schema.ExecutionReport, 1)
	if err := p.do(ctx, func() { p.handleSubmit(intent, out) }); err != nil {
		return schema.RejectedReport(intent, schema.BlockReasonShuttingDown, err.Error(), p.now()), err
	}

	select {
	case rep := <-out:
		p.metrics.ObserveSubmit(time.Since(start))
		return rep, nil
	case <-p.done:
		select {
		case rep := <-out:
			return rep, nil
		default:
			return schema.RejectedReport(intent, schema.BlockReasonShuttingDown, "platform stopped", p.now()), exception.ErrPlatformStopped
		}
	case <-ctx.Done():
		return schema.ExecutionReport{}, ctx.Err()
	}
}

// RegisterAgent sets the risk parameters of an agent.
func (p *Platform) RegisterAgent(ctx context.Context, agentID string, params schema.AgentRiskParams) error {
	return p.do(ctx, func() { p.params[agentID] = params })
}

// Snapshot returns a consistent copy of the platform state.
func (p *Platform) Snapshot(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	err := p.do(ctx, func() { s = p.snapshot() })
	return s, err
}

// Positions returns the aggregated positions.
func (p *Platform) Positions(ctx context.Context) (schema.AggregatedPosition, error) {
	var a schema.AggregatedPosition
	err := p.do(ctx, func() { a = p.positions.Aggregated() })
	return a, err
}

// AgentPosition returns the positions of one agent.
func (p *Platform) AgentPosition(ctx context.Context, agentID string) (schema.Position, error) {
	var pos schema.Position
	err := p.do(ctx, func() { pos = p.positions.Agent(agentID) })
	return pos, err
}

// Resume is the manual override that returns a halted or elevated gate to
// Normal and re-bases daily PnL. It reports whether the state changed.
func (p *Platform) Resume(ctx context.Context, reason string) (schema.CircuitBreakerEvent, bool, error) {
	var (
		ev      schema.CircuitBreakerEvent
		changed bool
	)
	err := p.do(ctx, func() {
		now := p.now()
		if err := p.append(schema.EventRiskResumed, resumePayload{At: now, Reason: reason}, 0); err != nil {
			logs.Errorf("persist risk resume: %+v", err)
		}
		ev, changed = p.gate.Resume(now, reason)
		if changed {
			logs.Warnf("risk gate resumed: %s -> %s (%s)", ev.From, ev.To, ev.Reason)
			p.publish(schema.DomainEvent{Kind: schema.EventKindRiskChange, Breaker: &ev})
		}
	})
	return ev, changed, err
}

// ApplyReport books a report that arrives after its intent was finished, such
// as a dead-lettered command that later succeeded.
func (p *Platform) ApplyReport(ctx context.Context, report schema.ExecutionReport) error {
	var err error
	if derr := p.do(ctx, func() { err = p.resolve(report) }); derr != nil {
		return derr
	}
	return err
}

// do runs fn on the owner goroutine, or inline before Run and after stop.
func (p *Platform) do(ctx context.Context, fn func()) error {
	if !p.started.Load() || p.closed.Load() {
		p.offline.Lock()
		defer p.offline.Unlock()
		fn()
		return nil
	}

	finished := make(chan struct{}, 1)
	select {
	case p.inbox <- func() { fn(); reply.Answer(finished, struct{}{}) }:
	case <-p.done:
		return exception.ErrPlatformStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-p.done:
		select {
		case <-finished:
			return nil
		default:
			return exception.ErrPlatformStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Platform) handleSubmit(intent schema.TradeIntent, out chan<- schema.ExecutionReport) {
	now := p.now()
	if p.draining || p.closed.Load() {
		reply.Answer(out, p.reject(intent, schema.BlockReasonShuttingDown, "platform shutting down", false, 0))
		return
	}
	if intent.ID == "" {
		intent.ID = uuid.NewString()
	}
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = now
	}
	if err := validate(intent); err != nil {
		reply.Answer(out, p.reject(intent, schema.BlockReasonInvalidIntent, err.Error(), false, 0))
		return
	}

	lookup, rec, err := p.engine.Receive(intent)
	switch {
	case errors.Is(err, execution.ErrDivergentIntent):
		logs.Errorf("idempotency key %s reused by agent %s with divergent parameters (known intent %s)", intent.IdempotencyKey, intent.AgentID, rec.IntentID)
		reply.Answer(out, p.reject(intent, schema.BlockReasonInvalidIntent, err.Error(), false, 0))
		return
	case err != nil:
		reply.Answer(out, p.reject(intent, schema.BlockReasonInvalidIntent, err.Error(), false, 0))
		return
	case lookup == execution.LookupDone:
		reply.Answer(out, *rec.Report)
		return
	case lookup == execution.LookupInFlight:
		p.waiters[intent.IdempotencyKey] = append(p.waiters[intent.IdempotencyKey], out)
		return
	}

	params := p.paramsFor(intent.AgentID)
	evalStart := time.Now()
	decision := p.gate.Evaluate(intent, risk.StateView{
		TotalExposure: p.positions.TotalExposure(),
		Agent:         p.positions.Agent(intent.AgentID),
		Params:        params,
		Now:           now,
	})
	p.metrics.ObserveRiskEval(time.Since(evalStart))
	if !decision.Approved {
		reply.Answer(out, p.reject(intent, decision.Reason, decision.Detail, true, 0))
		return
	}

	if err := p.engine.Approve(intent); err != nil {
		reason := schema.BlockReasonInvalidIntent
		if errors.Is(err, execution.ErrInsufficientFunds) {
			reason = schema.BlockReasonInsufficientFunds
		}
		reply.Answer(out, p.reject(intent, reason, err.Error(), true, 0))
		return
	}

	if stats := p.queue.Stats(now); stats.CurrentSize >= stats.MaxSize {
		reply.Answer(out, p.reject(intent, schema.BlockReasonQueueFull, order.ErrQueueFull.Error(), true, 0))
		return
	}

	cmd := p.engine.Command(intent)
	if cmd.Priority == 0 {
		cmd.Priority = params.DefaultPriority
	}
	if params.DefaultTTL > 0 {
		cmd.ExpiresAt = now.Add(params.DefaultTTL)
	}

	trace := p.trace.Next()
	if err := p.append(schema.EventIntentAccepted, acceptedPayload{Intent: intent, ClientOrderID: cmd.ClientOrderID}, trace); err != nil {
		logs.Errorf("persist accepted intent %s: %+v", intent.ID, err)
		reply.Answer(out, p.reject(intent, schema.BlockReasonPersistence, err.Error(), true, trace))
		return
	}

	if _, err := p.queue.Enqueue(cmd, now); err != nil {
		reason := schema.BlockReasonInvalidIntent
		if errors.Is(err, order.ErrQueueFull) {
			reason = schema.BlockReasonQueueFull
		}
		reply.Answer(out, p.reject(intent, reason, err.Error(), true, trace))
		return
	}
	if err := p.engine.Queued(intent.ID); err != nil {
		logs.Errorf("intent %s state: %+v", intent.ID, err)
	}
	p.traces[intent.ID] = trace
	p.waiters[intent.IdempotencyKey] = append(p.waiters[intent.IdempotencyKey], out)
}

// reject builds the rejection report and logs it. claimed is set once the
// engine holds the key of intent, which the rejection releases.
func (p *Platform) reject(intent schema.TradeIntent, reason schema.BlockReason, detail string, claimed bool, trace uint64) schema.ExecutionReport {
	var rep schema.ExecutionReport
	if claimed {
		rep = p.engine.Reject(intent, reason, detail, p.now())
	} else {
		rep = schema.RejectedReport(intent, reason, detail, p.now())
	}
	p.blocked++
	p.metrics.IncBlockReason(reason)
	if reason != schema.BlockReasonPersistence {
		if err := p.append(schema.EventIntentRejected, rep, trace); err != nil {
			logs.Warnf("persist rejection of %s: %+v", intent.ID, err)
		}
	}
	return rep
}

// pump hands queued commands to free workers and reports expired ones.
func (p *Platform) pump() {
	now := p.now()
	for p.dispatcher.Idle() > 0 {
		cmd, ok := p.queue.Dequeue(now)
		if !ok {
			break
		}
		if err := p.engine.Submitting(cmd.Intent.ID); err != nil {
			logs.Errorf("intent %s state: %+v", cmd.Intent.ID, err)
		}
		if !p.dispatcher.Handle(cmd) {
			rep := schema.ReportFor(cmd, schema.ExecStatusFailed, now)
			rep.Error = "no executor available"
			p.finish(cmd, rep)
		}
	}

	for _, cmd := range p.queue.Expire(now) {
		rep := schema.ReportFor(cmd, schema.ExecStatusExpired, now)
		rep.Error = "expired in queue"
		p.finish(cmd, rep)
	}

	if p.draining && !p.aborted && !now.Before(p.drainBy) {
		p.aborted = true
		expired := p.queue.ExpireAll()
		logs.Warnf("drain deadline reached: expiring %d queued, canceling %d in flight", len(expired), p.dispatcher.InFlight())
		for _, cmd := range expired {
			rep := schema.ReportFor(cmd, schema.ExecStatusExpired, now)
			rep.Error = "platform shutting down"
			p.finish(cmd, rep)
		}
		if p.cancelWork != nil {
			p.cancelWork()
		}
	}
}

func (p *Platform) beginDrain(reason string) {
	if p.draining {
		return
	}
	p.draining = true
	p.drainBy = p.now().Add(p.cfg.DrainTimeout)
	logs.Infof("platform draining (%s): queued=%d in_flight=%d", reason, p.queue.Len(), p.dispatcher.InFlight())
}

func (p *Platform) drained() bool {
	return p.draining && p.queue.Len() == 0 && p.dispatcher.InFlight() == 0
}

// finish books the terminal report of a command that went through the queue.
func (p *Platform) finish(cmd schema.OrderCommand, report schema.ExecutionReport) {
	if report.ReportedAt.IsZero() {
		report.ReportedAt = p.now()
	}
	trace := p.traces[cmd.Intent.ID]
	delete(p.traces, cmd.Intent.ID)

	if err := p.append(schema.EventExecutionReported, report, trace); err != nil {
		logs.Errorf("persist report of %s: %+v", cmd.Intent.ID, err)
	}
	if err := p.engine.Complete(cmd.Intent.ID, report); err != nil {
		logs.Errorf("complete intent %s: %+v", cmd.Intent.ID, err)
	}
	p.book(report)
	p.metrics.IncExecStatus(report.Status)
	p.answer(report)
}

// resolve books a report for a key whose intent is no longer live.
func (p *Platform) resolve(report schema.ExecutionReport) error {
	if report.IdempotencyKey == "" {
		return execution.ErrMissingKey
	}
	if rec, ok := p.engine.Idempotency().Get(report.IdempotencyKey); ok && rec.Done() && rec.Report.HasFill() {
		logs.Warnf("ignoring late report for %s: key already filled", report.IdempotencyKey)
		return nil
	}
	if report.ReportedAt.IsZero() {
		report.ReportedAt = p.now()
	}
	if err := p.append(schema.EventExecutionReported, report, 0); err != nil {
		return err
	}
	p.engine.Resolve(report)
	p.book(report)
	p.metrics.IncExecStatus(report.Status)
	p.answer(report)
	return nil
}

func (p *Platform) book(report schema.ExecutionReport) {
	if !report.HasFill() {
		return
	}
	realized, err := p.positions.Apply(report)
	if err != nil {
		logs.Errorf("position defect on report %s: %+v", report.IntentID, err)
	}
	p.onBreakers(p.gate.Book(realized, p.positions.Aggregated().UnrealizedPnL, report.ReportedAt))
}

func (p *Platform) answer(report schema.ExecutionReport) {
	for _, w := range p.waiters[report.IdempotencyKey] {
		reply.Answer(w, report)
	}
	delete(p.waiters, report.IdempotencyKey)

	rep := report
	p.publish(schema.DomainEvent{
		Kind:    schema.EventKindExecution,
		Market:  report.Market,
		AgentID: report.AgentID,
		Report:  &rep,
	})
}

func (p *Platform) onQuote(ev schema.DomainEvent) {
	if ev.Quote == nil {
		return
	}
	if err := p.positions.Mark(ev.Quote.Market, ev.Quote.Mid()); err != nil {
		logs.Errorf("mark %s: %+v", ev.Quote.Market, err)
		return
	}
	p.onBreakers(p.gate.MarkToMarket(p.positions.Aggregated().UnrealizedPnL, p.now()))
}

func (p *Platform) onBreakers(events []schema.CircuitBreakerEvent) {
	for i := range events {
		ev := events[i]
		if err := p.append(schema.EventRiskTransition, ev, 0); err != nil {
			logs.Errorf("persist risk transition: %+v", err)
		}
		logs.Warnf("risk gate %s -> %s: %s (daily_pnl=%s drawdown=%s)", ev.From, ev.To, ev.Reason, ev.DailyPnL, ev.Drawdown)
		p.publish(schema.DomainEvent{Kind: schema.EventKindRiskChange, Breaker: &ev})
	}
}

func (p *Platform) publish(ev schema.DomainEvent) {
	if p.router == nil {
		return
	}
	switch err := p.router.Publish(ev); {
	case errors.Is(err, bus.ErrQueueClosed):
		p.metrics.IncQueueClosed()
	case err != nil:
		p.metrics.IncQueueDrop()
	}
}

func (p *Platform) append(eventType schema.EventType, v any, trace uint64) error {
	ev, err := persistence.NewEvent(eventType, persistence.SourcePlatform, v, p.now())
	if err != nil {
		return err
	}
	ev.Header.TraceID = trace
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.StoreTimeout)
	defer cancel()
	stored, err := p.store.Append(ctx, ev)
	if err != nil {
		return err
	}
	if stored.Header.Seq > p.lastSeq {
		p.lastSeq = stored.Header.Seq
	}
	p.metrics.ObserveEvent(stored.Header)
	return nil
}

func (p *Platform) paramsFor(agentID string) schema.AgentRiskParams {
	if params, ok := p.params[agentID]; ok {
		return params
	}
	return p.cfg.DefaultParams
}

func (p *Platform) snapshot() Snapshot {
	rs := p.gate.Snapshot()
	rs.BlockedTotal = p.blocked
	funds := p.engine.Funds()
	return Snapshot{
		Risk:      rs,
		Queue:     p.queue.Stats(p.now()),
		Positions: p.positions.Aggregated(),
		Cash:      funds.Cash(),
		Reserved:  funds.Reserved(),
		Available: funds.Available(),
		Live:      p.engine.Live(),
		InFlight:  p.dispatcher.InFlight(),
		LastSeq:   p.lastSeq,
	}
}

func validate(intent schema.TradeIntent) error {
	switch {
	case intent.IdempotencyKey == "":
		return execution.ErrMissingKey
	case intent.AgentID == "":
		return fmt.Errorf("missing agent id: %w", exception.ErrInvalidArgument)
	case intent.Market == "":
		return fmt.Errorf("missing market: %w", exception.ErrInvalidArgument)
	case intent.Side != schema.SideBuy && intent.Side != schema.SideSell:
		return fmt.Errorf("unknown side %d: %w", intent.Side, exception.ErrInvalidArgument)
	case !intent.Size.IsPositive():
		return fmt.Errorf("size %s must be > 0: %w", intent.Size, exception.ErrInvalidArgument)
	case !intent.LimitPrice.IsPositive() || intent.LimitPrice.GreaterThanOrEqual(one):
		return fmt.Errorf("limit price %s must be in (0, 1): %w", intent.LimitPrice, exception.ErrInvalidArgument)
	}
	return nil
}
