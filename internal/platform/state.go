package platform

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/logs"

	"github.com/proerror77/ploy-sub006/internal/exchange"
	"github.com/proerror77/ploy-sub006/internal/execution"
	"github.com/proerror77/ploy-sub006/internal/persistence"
	"github.com/proerror77/ploy-sub006/internal/position"
	"github.com/proerror77/ploy-sub006/internal/risk"
	"github.com/proerror77/ploy-sub006/internal/schema"
)

// StateName is the checkpoint entry of the platform.
const StateName = "platform"

type acceptedPayload struct {
	Intent        schema.TradeIntent `json:"intent"`
	ClientOrderID string             `json:"clientOrderId"`
}

type resumePayload struct {
	At     time.Time `json:"at"`
	Reason string    `json:"reason"`
}

// State is the checkpointed form of the platform.
type State struct {
	Risk      risk.State            `json:"risk"`
	Positions position.Snapshot     `json:"positions"`
	Engine    execution.EngineState `json:"engine"`
	Queue     schema.QueueStats     `json:"queue"`
	Blocked   uint64                `json:"blocked"`
}

// Export returns the checkpointed form and the last applied sequence.
func (p *Platform) Export(ctx context.Context) (State, uint64, error) {
	var (
		st  State
		seq uint64
	)
	err := p.do(ctx, func() {
		st = State{
			Risk:      p.gate.Export(),
			Positions: p.positions.Snapshot(),
			Engine:    p.engine.Export(),
			Queue:     p.queue.Stats(p.now()),
			Blocked:   p.blocked,
		}
		seq = p.lastSeq
	})
	return st, seq, err
}

// Import replaces the platform state. It must run before Run.
func (p *Platform) Import(ctx context.Context, st State, seq uint64) error {
	if p.started.Load() && !p.closed.Load() {
		return fmt.Errorf("platform: import while running")
	}
	var err error
	derr := p.do(ctx, func() {
		if err = p.positions.ApplySnapshot(st.Positions); err != nil {
			return
		}
		p.gate.Import(st.Risk)
		p.engine.Import(st.Engine)
		p.queue.RestoreStats(st.Queue)
		p.blocked = st.Blocked
		p.lastSeq = seq
	})
	if derr != nil {
		return derr
	}
	return err
}

// Checkpointable adapts the platform to the checkpoint service.
func (p *Platform) Checkpointable() persistence.Checkpointable {
	return checkpointable{p: p}
}

type checkpointable struct {
	p *Platform
}

func (c checkpointable) StateName() string { return StateName }

func (c checkpointable) Snapshot(ctx context.Context) (persistence.State, error) {
	st, seq, err := c.p.Export(ctx)
	if err != nil {
		return persistence.State{}, err
	}
	data, err := sonic.ConfigStd.Marshal(st)
	if err != nil {
		return persistence.State{}, fmt.Errorf("encode platform state: %w", err)
	}
	return persistence.State{Name: StateName, Seq: seq, Data: data}, nil
}

func (c checkpointable) Restore(ctx context.Context, s persistence.State) error {
	var st State
	if err := sonic.ConfigStd.Unmarshal(s.Data, &st); err != nil {
		return fmt.Errorf("decode platform state: %w", err)
	}
	return c.p.Import(ctx, st, s.Seq)
}

// ApplyEvent folds one stored event into the platform while recovering.
// Events at or below the restored sequence are already reflected and skipped.
func (p *Platform) ApplyEvent(ctx context.Context, ev schema.StoredEvent) error {
	var err error
	if derr := p.do(ctx, func() { err = p.apply(ev) }); derr != nil {
		return derr
	}
	return err
}

func (p *Platform) apply(ev schema.StoredEvent) error {
	if ev.Header.Seq <= p.lastSeq {
		return nil
	}
	switch ev.Header.Type {
	case schema.EventIntentAccepted:
		var pl acceptedPayload
		if err := persistence.DecodeEvent(ev, &pl); err != nil {
			return err
		}
		p.engine.ReplayAccepted(pl.Intent)
	case schema.EventIntentRejected:
		var rep schema.ExecutionReport
		if err := persistence.DecodeEvent(ev, &rep); err != nil {
			return err
		}
		p.engine.ReplayReport(rep)
		p.blocked++
	case schema.EventExecutionReported:
		var rep schema.ExecutionReport
		if err := persistence.DecodeEvent(ev, &rep); err != nil {
			return err
		}
		if p.engine.Resolve(rep) && rep.HasFill() {
			realized, err := p.positions.Apply(rep)
			if err != nil {
				return fmt.Errorf("replay report seq %d: %w", ev.Header.Seq, err)
			}
			p.gate.ReplayFill(realized, p.positions.Aggregated().UnrealizedPnL, rep.ReportedAt)
		}
	case schema.EventRiskTransition:
		var be schema.CircuitBreakerEvent
		if err := persistence.DecodeEvent(ev, &be); err != nil {
			return err
		}
		p.gate.ReplayTransition(be)
	case schema.EventRiskResumed:
		var pl resumePayload
		if err := persistence.DecodeEvent(ev, &pl); err != nil {
			return err
		}
		p.gate.Resume(pl.At, pl.Reason)
	case schema.EventDeadLettered:
		// owned by the dead-letter queue
	default:
		return fmt.Errorf("%w: type %d", persistence.ErrUnsupportedEvent, ev.Header.Type)
	}
	p.lastSeq = ev.Header.Seq
	p.trace.Observe(ev.Header.TraceID)
	return nil
}

// Reconcile resolves accepted intents that have no terminal report after a
// restart by asking the venue for their client order id. Orders the venue does
// not know never reached it and are expired. Venue calls run outside the owner
// loop. It returns how many intents were resolved.
func (p *Platform) Reconcile(ctx context.Context, client exchange.Client) (int, error) {
	var pending []execution.Record
	if err := p.do(ctx, func() { pending = p.engine.Pending() }); err != nil {
		return 0, err
	}

	resolved := 0
	for _, rec := range pending {
		cmd := schema.OrderCommand{Intent: rec.Intent, ClientOrderID: rec.ClientOrderID, Priority: rec.Intent.Priority}
		rep, err := client.LookupOrder(ctx, rec.ClientOrderID)
		switch {
		case errors.Is(err, exchange.ErrOrderNotFound):
			rep = schema.ReportFor(cmd, schema.ExecStatusExpired, p.now())
			rep.Error = "not found at venue after restart"
		case err != nil:
			return resolved, fmt.Errorf("reconcile %s: %w", rec.Key, err)
		case !rep.Status.Terminal():
			logs.Warnf("reconcile %s: venue order %s still open", rec.Key, rep.ExchangeID)
			continue
		}
		rep = bindReport(rep, cmd)

		var rerr error
		if err := p.do(ctx, func() { rerr = p.resolve(rep) }); err != nil {
			return resolved, err
		}
		if rerr != nil {
			return resolved, rerr
		}
		resolved++
		logs.Infof("reconciled %s: %s filled=%s", rec.Key, rep.Status, rep.FilledSize)
	}
	return resolved, nil
}

// bindReport makes a venue report carry the identity of cmd.
func bindReport(rep schema.ExecutionReport, cmd schema.OrderCommand) schema.ExecutionReport {
	rep.IntentID = cmd.Intent.ID
	rep.IdempotencyKey = cmd.Intent.IdempotencyKey
	rep.ClientOrderID = cmd.ClientOrderID
	rep.AgentID = cmd.Intent.AgentID
	rep.Market = cmd.Intent.Market
	rep.Side = cmd.Intent.Side
	rep.RequestedSize = cmd.Intent.Size
	return rep
}
