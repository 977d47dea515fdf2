/*
Package coordinator supervises trading agents and the order platform.

# Responsibilities
  - runs every registered agent in its own goroutine with a command channel
  - health-checks agents on an interval and pauses ones that stop answering
  - rebuilds GlobalState on an interval and publishes it as an immutable value
  - is the only caller allowed to resume a halted risk gate

Shutdown order is agents, then platform drain, then a final checkpoint.
*/
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/pool"
	"github.com/yanun0323/logs"

	"github.com/proerror77/ploy-sub006/internal/persistence"
	"github.com/proerror77/ploy-sub006/internal/platform"
	"github.com/proerror77/ploy-sub006/internal/schema"
	"github.com/proerror77/ploy-sub006/pkg/exception"
	"github.com/proerror77/ploy-sub006/pkg/reply"
)

// Agent is a supervised trading agent. Run must return once it handled a
// Shutdown command or ctx ended.
type Agent interface {
	ID() string
	Domain() schema.Domain
	Status() schema.AgentStatus
	RiskParams() schema.AgentRiskParams
	Run(ctx context.Context, cmds <-chan schema.AgentCommand) error
}

// Platform is the order platform as seen by the coordinator.
type Platform interface {
	Run(ctx context.Context) error
	Ready() <-chan struct{}
	Shutdown(ctx context.Context) error
	RegisterAgent(ctx context.Context, agentID string, params schema.AgentRiskParams) error
	Snapshot(ctx context.Context) (platform.Snapshot, error)
	Resume(ctx context.Context, reason string) (schema.CircuitBreakerEvent, bool, error)
}

// Option customizes a coordinator.
type Option func(*Coordinator)

// WithCheckpoint saves a final checkpoint through svc on shutdown.
func WithCheckpoint(svc *persistence.CheckpointService) Option {
	return func(c *Coordinator) { c.checkpoint = svc }
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

type handle struct {
	agent Agent
	cmds  chan schema.AgentCommand

	mu        sync.Mutex
	missed    int
	healthy   bool
	suspended bool
	last      schema.AgentHealthResponse
	heartbeat time.Time
	err       string
}

func (h *handle) snapshot(pos schema.Position) schema.AgentSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	var metrics map[string]float64
	if len(h.last.Metrics) > 0 {
		metrics = make(map[string]float64, len(h.last.Metrics))
		for k, v := range h.last.Metrics {
			metrics[k] = v
		}
	}
	errText := h.err
	if errText == "" {
		errText = h.last.LastError
	}
	return schema.AgentSnapshot{
		AgentID:       h.agent.ID(),
		Domain:        h.agent.Domain(),
		Status:        h.agent.Status(),
		Healthy:       h.healthy,
		MissedChecks:  h.missed,
		Exposure:      pos.Exposure,
		DailyPnL:      pos.RealizedPnL.Add(pos.UnrealizedPnL),
		UnrealizedPnL: pos.UnrealizedPnL,
		Metrics:       metrics,
		LastHeartbeat: h.heartbeat,
		Error:         errText,
	}
}

// Coordinator owns agent lifecycles and the platform lifecycle.
type Coordinator struct {
	cfg        Config
	platform   Platform
	checkpoint *persistence.CheckpointService
	now        func() time.Time

	mu       sync.Mutex
	agents   map[string]*handle
	order    []string
	agentCtx context.Context
	stop     context.CancelFunc
	running  bool
	closed   bool
	wg       conc.WaitGroup

	state        atomic.Pointer[schema.GlobalState]
	platformDone chan error
	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates a coordinator over p.
func New(cfg Config, p Platform, opts ...Option) (*Coordinator, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("invalid coordinator config: nil platform")
	}
	c := &Coordinator{
		cfg:          cfg,
		platform:     p,
		now:          time.Now,
		agents:       make(map[string]*handle),
		platformDone: make(chan error, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.state.Store(&schema.GlobalState{})
	return c, nil
}

// Register adds an agent and hands its risk parameters to the platform. Agents
// registered while running start immediately.
func (c *Coordinator) Register(ctx context.Context, a Agent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return exception.ErrCoordinatorClosed
	}
	if _, ok := c.agents[a.ID()]; ok {
		return fmt.Errorf("%w: %s", exception.ErrAgentDuplicate, a.ID())
	}
	if err := c.platform.RegisterAgent(ctx, a.ID(), a.RiskParams()); err != nil {
		return err
	}
	h := &handle{agent: a, cmds: make(chan schema.AgentCommand, c.cfg.CommandBuffer), healthy: true}
	c.agents[a.ID()] = h
	c.order = append(c.order, a.ID())
	if c.running {
		c.start(h)
	}
	logs.Infof("agent %s registered: domain=%s", a.ID(), a.Domain())
	return nil
}

// start runs h. The caller holds c.mu.
func (c *Coordinator) start(h *handle) {
	ctx := c.agentCtx
	c.wg.Go(func() {
		if err := h.agent.Run(ctx, h.cmds); err != nil {
			h.mu.Lock()
			h.err = err.Error()
			h.mu.Unlock()
			logs.Errorf("agent %s exited, err: %+v", h.agent.ID(), err)
		}
	})
}

// Run starts the platform and every agent, then supervises until ctx ends or
// the platform stops, and shuts everything down in order.
func (c *Coordinator) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.running || c.closed {
		c.mu.Unlock()
		return exception.ErrCoordinatorClosed
	}
	c.running = true
	c.agentCtx, c.stop = context.WithCancel(context.WithoutCancel(ctx))
	// the platform outlives ctx until Shutdown drains it
	go func() { c.platformDone <- c.platform.Run(context.WithoutCancel(ctx)) }()
	select {
	case <-c.platform.Ready():
	case err := <-c.platformDone:
		c.platformDone <- err
	}
	for _, id := range c.order {
		c.start(c.agents[id])
	}
	c.mu.Unlock()

	if _, err := c.Refresh(ctx); err != nil {
		logs.Warnf("initial state refresh failed, err: %+v", err)
	}

	health := time.NewTicker(c.cfg.HealthInterval)
	defer health.Stop()
	refresh := time.NewTicker(c.cfg.RefreshInterval)
	defer refresh.Stop()

	logs.Infof("coordinator started: agents=%d", len(c.handles()))
	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case err := <-c.platformDone:
			// keep the result for Shutdown
			c.platformDone <- err
			runErr = fmt.Errorf("platform stopped unexpectedly: %w", err)
			logs.Errorf("%+v", runErr)
			break loop
		case <-health.C:
			c.HealthCheck(ctx)
		case <-refresh.C:
			if _, err := c.Refresh(ctx); err != nil {
				logs.Warnf("state refresh failed, err: %+v", err)
			}
		}
	}

	sctx, cancel := context.WithTimeout(context.Background(), c.cfg.DrainTimeout+c.cfg.CommandTimeout)
	defer cancel()
	if err := c.Shutdown(sctx); err != nil {
		return errors.Join(runErr, err)
	}
	return runErr
}

// Shutdown stops agents, drains the platform and writes a final checkpoint.
// Later calls return the result of the first.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.shutdownOnce.Do(func() { c.shutdownErr = c.shutdown(ctx) })
	return c.shutdownErr
}

func (c *Coordinator) shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	running := c.running
	c.mu.Unlock()

	logs.Infof("coordinator shutdown: stopping %d agents", len(c.handles()))
	if running {
		for _, h := range c.handles() {
			if err := c.call(ctx, h, schema.CommandShutdown); err != nil {
				logs.Warnf("agent %s shutdown, err: %+v", h.agent.ID(), err)
			}
		}
		c.stop()
		if r := c.wg.WaitAndRecover(); r != nil {
			logs.Errorf("agent panicked: %s", r.String())
		}
	}

	var errs []error
	logs.Infof("coordinator shutdown: draining platform")
	dctx, cancel := context.WithTimeout(ctx, c.cfg.DrainTimeout)
	defer cancel()
	if err := c.platform.Shutdown(dctx); err != nil && !errors.Is(err, exception.ErrPlatformNotRunning) {
		errs = append(errs, fmt.Errorf("platform drain: %w", err))
	}
	if running {
		select {
		case err := <-c.platformDone:
			if err != nil {
				errs = append(errs, err)
			}
		case <-dctx.Done():
			errs = append(errs, fmt.Errorf("platform drain: %w", dctx.Err()))
		}
	}

	if c.checkpoint != nil {
		cp, err := c.checkpoint.Save(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("final checkpoint: %w", err))
		} else {
			logs.Infof("coordinator shutdown: checkpoint saved at seq %d", cp.LastSeq())
		}
	}
	if _, err := c.Refresh(ctx); err != nil {
		logs.Warnf("final state refresh failed, err: %+v", err)
	}
	logs.Infof("coordinator stopped")
	return errors.Join(errs...)
}

// Pause stops an agent from submitting new intents. Its subscriptions stay alive.
func (c *Coordinator) Pause(ctx context.Context, agentID string) error {
	return c.command(ctx, agentID, schema.CommandPause)
}

// Resume lets a paused agent trade again and clears its missed health checks.
func (c *Coordinator) Resume(ctx context.Context, agentID string) error {
	h, err := c.lookup(agentID)
	if err != nil {
		return err
	}
	if err := c.call(ctx, h, schema.CommandResume); err != nil {
		return err
	}
	h.mu.Lock()
	h.suspended = false
	h.missed = 0
	h.mu.Unlock()
	return nil
}

// ForceClose makes an agent flatten every open position through the platform.
// Once the agent accepted the command it cannot be canceled.
func (c *Coordinator) ForceClose(ctx context.Context, agentID string) error {
	return c.command(ctx, agentID, schema.CommandForceClose)
}

// ForceCloseAll issues ForceClose to every agent and joins the failures.
func (c *Coordinator) ForceCloseAll(ctx context.Context) error {
	var errs []error
	for _, h := range c.handles() {
		if err := c.call(ctx, h, schema.CommandForceClose); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ResumeTrading is the manual override that unblocks a halted risk gate.
func (c *Coordinator) ResumeTrading(ctx context.Context, reason string) (schema.CircuitBreakerEvent, bool, error) {
	ev, changed, err := c.platform.Resume(ctx, reason)
	if err != nil {
		return ev, changed, err
	}
	if changed {
		logs.Warnf("trading resumed by coordinator: %s -> %s (%s)", ev.From, ev.To, ev.Reason)
	}
	if _, err := c.Refresh(ctx); err != nil {
		logs.Warnf("state refresh failed, err: %+v", err)
	}
	return ev, changed, nil
}

func (c *Coordinator) command(ctx context.Context, agentID string, kind schema.CommandKind) error {
	h, err := c.lookup(agentID)
	if err != nil {
		return err
	}
	return c.call(ctx, h, kind)
}

// call delivers a command and waits for the agent's acknowledgement.
func (c *Coordinator) call(ctx context.Context, h *handle, kind schema.CommandKind) error {
	res, err := reply.Call(ctx, c.cfg.CommandTimeout, func(ack chan<- error) bool {
		select {
		case h.cmds <- schema.AgentCommand{Kind: kind, Ack: ack}:
			return true
		default:
			return false
		}
	})
	if err != nil {
		if errors.Is(err, exception.ErrNotDelivered) || errors.Is(err, exception.ErrTimeout) {
			return fmt.Errorf("%w: %s %s: %v", exception.ErrAgentUnresponsive, h.agent.ID(), kind, err)
		}
		return err
	}
	return res
}

// HealthCheck asks every agent for a health response in parallel. Agents that
// do not answer within HealthTimeout are marked unhealthy and, after
// MaxMissedHealthChecks misses in a row, paused.
func (c *Coordinator) HealthCheck(ctx context.Context) []schema.AgentHealthResponse {
	handles := c.handles()
	if len(handles) == 0 {
		return nil
	}
	out := make([]schema.AgentHealthResponse, len(handles))
	p := pool.New().WithMaxGoroutines(len(handles))
	for i, h := range handles {
		i, h := i, h
		p.Go(func() { out[i], _ = c.check(ctx, h) })
	}
	p.Wait()
	return out
}

// HealthCheckAgent health-checks one agent.
func (c *Coordinator) HealthCheckAgent(ctx context.Context, agentID string) (schema.AgentHealthResponse, error) {
	h, err := c.lookup(agentID)
	if err != nil {
		return schema.AgentHealthResponse{}, err
	}
	return c.check(ctx, h)
}

func (c *Coordinator) check(ctx context.Context, h *handle) (schema.AgentHealthResponse, error) {
	resp, err := reply.Call(ctx, c.cfg.HealthTimeout, func(ch chan<- schema.AgentHealthResponse) bool {
		select {
		case h.cmds <- schema.AgentCommand{Kind: schema.CommandHealthCheck, Health: ch}:
			return true
		default:
			return false
		}
	})
	now := c.now()

	h.mu.Lock()
	defer h.mu.Unlock()
	if err == nil {
		h.missed = 0
		h.healthy = true
		h.last = resp
		h.heartbeat = now
		return resp, nil
	}

	h.missed++
	h.healthy = false
	err = fmt.Errorf("%w: %s health check: %v", exception.ErrAgentUnresponsive, h.agent.ID(), err)
	logs.Warnf("agent %s missed health check %d/%d", h.agent.ID(), h.missed, c.cfg.MaxMissedHealthChecks)
	if h.missed >= c.cfg.MaxMissedHealthChecks && !h.suspended {
		h.suspended = true
		logs.Errorf("agent %s unresponsive after %d checks, pausing", h.agent.ID(), h.missed)
		select {
		case h.cmds <- schema.AgentCommand{Kind: schema.CommandPause}:
		default:
		}
	}
	return schema.AgentHealthResponse{
		AgentID:   h.agent.ID(),
		Status:    h.agent.Status(),
		LastError: err.Error(),
		At:        now,
	}, err
}

// Refresh rebuilds GlobalState from the platform and the agents and publishes it.
func (c *Coordinator) Refresh(ctx context.Context) (schema.GlobalState, error) {
	snap, err := c.platform.Snapshot(ctx)
	if err != nil {
		return c.State(), err
	}
	handles := c.handles()
	agents := make([]schema.AgentSnapshot, 0, len(handles))
	for _, h := range handles {
		pos, _ := snap.Positions.Agent(h.agent.ID())
		agents = append(agents, h.snapshot(pos))
	}
	gs := &schema.GlobalState{
		Agents:          agents,
		Positions:       snap.Positions,
		Risk:            snap.Risk,
		CircuitBreakers: snap.Risk.Breakers,
		Queue:           snap.Queue,
		RealizedPnL:     snap.Positions.RealizedPnL,
		Available:       snap.Available,
		LastSeq:         snap.LastSeq,
		UpdatedAt:       c.now(),
	}
	c.state.Store(gs)
	return *gs, nil
}

// State returns a private copy of the last published GlobalState.
func (c *Coordinator) State() schema.GlobalState {
	return c.state.Load().Clone()
}

// Agents returns the registered agent ids in registration order.
func (c *Coordinator) Agents() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.order...)
}

func (c *Coordinator) lookup(agentID string) (*handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.agents[agentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", exception.ErrAgentUnknown, agentID)
	}
	return h, nil
}

func (c *Coordinator) handles() []*handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*handle, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.agents[id])
	}
	return out
}
