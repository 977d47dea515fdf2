package risk

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/proerror77/ploy-sub006/internal/schema"
)

const dayLayout = "2006-01-02"

// StateView is the platform state an intent is evaluated against.
type StateView struct {
	TotalExposure decimal.Decimal
	Agent         schema.Position
	Params        schema.AgentRiskParams
	Now           time.Time
}

// Gate is the admission-control state machine: Normal ⇄ Elevated → Halted, and
// Halted → Normal only through Resume. It is owned by the platform loop.
type Gate struct {
	cfg   Config
	state schema.RiskState

	day        string
	baseline   decimal.Decimal
	realized   decimal.Decimal
	unrealized decimal.Decimal
	peak       decimal.Decimal

	breakers []schema.CircuitBreakerEvent
	limiters map[string]*rate.Limiter
}

// NewGate creates a gate in the Normal state.
func NewGate(cfg Config) (*Gate, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Gate{
		cfg:      cfg,
		state:    schema.RiskStateNormal,
		limiters: make(map[string]*rate.Limiter),
	}, nil
}

// State returns the current risk state.
func (g *Gate) State() schema.RiskState {
	return g.state
}

// DailyPnL returns realized plus unrealized PnL since the daily baseline.
func (g *Gate) DailyPnL() decimal.Decimal {
	return g.equity().Sub(g.baseline)
}

func (g *Gate) equity() decimal.Decimal {
	return g.realized.Add(g.unrealized)
}

// Drawdown returns the decline from the intraday PnL peak.
func (g *Gate) Drawdown() decimal.Decimal {
	dd := g.peak.Sub(g.DailyPnL())
	if dd.IsNegative() {
		return decimal.Zero
	}
	return dd
}

// Evaluate checks an intent in order: halted state, platform exposure, projected
// daily loss, agent limits. The first failing check decides the reason and a
// rejection leaves the gate untouched.
func (g *Gate) Evaluate(intent schema.TradeIntent, view StateView) schema.RiskDecision {
	if g.state == schema.RiskStateHalted {
		return schema.Block(intent, g.state, schema.BlockReasonDrawdownBreach, "trading halted")
	}

	pos, _ := view.Agent.Market(intent.Market)
	delta, nextSize := exposureDelta(pos, intent)
	if intent.ReduceOnly && !reduces(pos, intent) {
		return schema.Block(intent, g.state, schema.BlockReasonPositionLimit, "reduce-only intent exceeds open position")
	}

	maxExposure := g.tighten(g.cfg.MaxExposure)
	if delta.IsPositive() && view.TotalExposure.Add(delta).GreaterThan(maxExposure) {
		return schema.Block(intent, g.state, schema.BlockReasonExposureLimit,
			fmt.Sprintf("exposure %s + %s > %s", view.TotalExposure, delta, maxExposure))
	}

	if !intent.ReduceOnly {
		fee := intent.Notional().Mul(g.cfg.FeeRate)
		projected := g.DailyPnL().Sub(fee)
		if projected.LessThanOrEqual(g.cfg.DailyLossLimit.Neg()) {
			return schema.Block(intent, g.state, schema.BlockReasonDailyLossLimit,
				fmt.Sprintf("projected daily pnl %s breaches -%s", projected, g.cfg.DailyLossLimit))
		}
	}

	params := view.Params
	if params.MaxOrderSize.IsPositive() && intent.Size.GreaterThan(g.tighten(params.MaxOrderSize)) {
		return schema.Block(intent, g.state, schema.BlockReasonOrderSizeLimit,
			fmt.Sprintf("size %s > %s", intent.Size, g.tighten(params.MaxOrderSize)))
	}
	if !intent.ReduceOnly && params.MaxPosition.IsPositive() && nextSize.Abs().GreaterThan(params.MaxPosition) {
		return schema.Block(intent, g.state, schema.BlockReasonPositionLimit,
			fmt.Sprintf("position %s > %s", nextSize.Abs(), params.MaxPosition))
	}
	if delta.IsPositive() && params.MaxExposure.IsPositive() && view.Agent.Exposure.Add(delta).GreaterThan(g.tighten(params.MaxExposure)) {
		return schema.Block(intent, g.state, schema.BlockReasonAgentExposureLimit,
			fmt.Sprintf("agent exposure %s + %s > %s", view.Agent.Exposure, delta, g.tighten(params.MaxExposure)))
	}
	if limiter := g.limiter(intent.AgentID, params); limiter != nil && !limiter.AllowN(view.Now, 1) {
		return schema.Block(intent, g.state, schema.BlockReasonRateLimited, "order rate exceeded")
	}

	return schema.Approve(intent, g.state)
}

// RecordFill books realized PnL and re-evaluates the breaker.
func (g *Gate) RecordFill(realized decimal.Decimal, now time.Time) []schema.CircuitBreakerEvent {
	return g.Book(realized, g.unrealized, now)
}

// Book adds realized PnL and replaces the unrealized PnL in one step, then
// re-evaluates the breaker once.
func (g *Gate) Book(realized, unrealized decimal.Decimal, now time.Time) []schema.CircuitBreakerEvent {
	g.rollDay(now)
	g.realized = g.realized.Add(realized)
	g.unrealized = unrealized
	return g.reassess(now)
}

// MarkToMarket replaces the platform unrealized PnL and re-evaluates the breaker.
func (g *Gate) MarkToMarket(unrealized decimal.Decimal, now time.Time) []schema.CircuitBreakerEvent {
	g.rollDay(now)
	g.unrealized = unrealized
	return g.reassess(now)
}

// Resume is the manual override: any state returns to Normal and the daily PnL
// is re-based. It reports false when the gate was already Normal.
func (g *Gate) Resume(now time.Time, reason string) (schema.CircuitBreakerEvent, bool) {
	g.baseline = g.equity()
	g.peak = decimal.Zero
	g.day = now.UTC().Format(dayLayout)
	if g.state == schema.RiskStateNormal {
		return schema.CircuitBreakerEvent{}, false
	}
	if reason == "" {
		reason = "manual resume"
	}
	return g.transition(schema.RiskStateNormal, reason, now), true
}

// ReplayFill is Book for the event log. Transitions are not decided
// here; the logged ones are applied through ReplayTransition so that breakers
// caused by marks replay as well.
func (g *Gate) ReplayFill(realized, unrealized decimal.Decimal, at time.Time) {
	g.rollDay(at)
	g.realized = g.realized.Add(realized)
	g.unrealized = unrealized
	if daily := g.DailyPnL(); daily.GreaterThan(g.peak) {
		g.peak = daily
	}
}

// ReplayTransition applies a logged breaker event.
func (g *Gate) ReplayTransition(ev schema.CircuitBreakerEvent) {
	g.state = ev.To
	g.record(ev)
}

// Breakers returns the circuit-breaker history, oldest first.
func (g *Gate) Breakers() []schema.CircuitBreakerEvent {
	return append([]schema.CircuitBreakerEvent(nil), g.breakers...)
}

// Snapshot returns a point-in-time copy of the gate.
func (g *Gate) Snapshot() schema.RiskSnapshot {
	return schema.RiskSnapshot{
		State:      g.state,
		DailyPnL:   g.DailyPnL(),
		PeakPnL:    g.peak,
		Drawdown:   g.Drawdown(),
		TradingDay: g.day,
		Breakers:   g.Breakers(),
	}
}

// State is the persisted form of the gate. Rate limiters are not persisted.
type State struct {
	State      schema.RiskState             `json:"state"`
	Day        string                       `json:"day"`
	Baseline   decimal.Decimal              `json:"baseline"`
	Realized   decimal.Decimal              `json:"realized"`
	Unrealized decimal.Decimal              `json:"unrealized"`
	Peak       decimal.Decimal              `json:"peak"`
	Breakers   []schema.CircuitBreakerEvent `json:"breakers"`
}

// Export returns the persisted form of the gate.
func (g *Gate) Export() State {
	return State{
		State:      g.state,
		Day:        g.day,
		Baseline:   g.baseline,
		Realized:   g.realized,
		Unrealized: g.unrealized,
		Peak:       g.peak,
		Breakers:   g.Breakers(),
	}
}

// Import replaces the gate state.
func (g *Gate) Import(s State) {
	g.state = s.State
	g.day = s.Day
	g.baseline = s.Baseline
	g.realized = s.Realized
	g.unrealized = s.Unrealized
	g.peak = s.Peak
	g.breakers = append([]schema.CircuitBreakerEvent(nil), s.Breakers...)
}

func (g *Gate) reassess(now time.Time) []schema.CircuitBreakerEvent {
	daily := g.DailyPnL()
	if daily.GreaterThan(g.peak) {
		g.peak = daily
	}
	if g.state == schema.RiskStateHalted {
		return nil
	}

	drawdown := g.Drawdown()
	var out []schema.CircuitBreakerEvent
	switch {
	case daily.LessThanOrEqual(g.cfg.DailyLossLimit.Neg()):
		out = append(out, g.transition(schema.RiskStateHalted, "daily loss limit breached", now))
	case g.cfg.HaltDrawdown.IsPositive() && drawdown.GreaterThanOrEqual(g.cfg.HaltDrawdown):
		out = append(out, g.transition(schema.RiskStateHalted, "drawdown halt threshold breached", now))
	case g.state == schema.RiskStateNormal && g.cfg.ElevatedDrawdown.IsPositive() && drawdown.GreaterThanOrEqual(g.cfg.ElevatedDrawdown):
		out = append(out, g.transition(schema.RiskStateElevated, "drawdown elevated threshold breached", now))
	case g.state == schema.RiskStateElevated && drawdown.LessThanOrEqual(g.cfg.ResumeDrawdown):
		out = append(out, g.transition(schema.RiskStateNormal, "drawdown recovered below resume threshold", now))
	}
	return out
}

func (g *Gate) transition(to schema.RiskState, reason string, now time.Time) schema.CircuitBreakerEvent {
	ev := schema.CircuitBreakerEvent{
		At:       now.UTC(),
		From:     g.state,
		To:       to,
		Reason:   reason,
		DailyPnL: g.DailyPnL(),
		Drawdown: g.Drawdown(),
	}
	g.state = to
	g.record(ev)
	return ev
}

func (g *Gate) record(ev schema.CircuitBreakerEvent) {
	g.breakers = append(g.breakers, ev)
	if limit := g.cfg.MaxBreakerEvents; limit > 0 && len(g.breakers) > limit {
		g.breakers = append([]schema.CircuitBreakerEvent(nil), g.breakers[len(g.breakers)-limit:]...)
	}
}

// rollDay re-bases daily PnL at the first event of a new UTC day. A halted gate stays halted.
func (g *Gate) rollDay(now time.Time) {
	day := now.UTC().Format(dayLayout)
	if g.day == "" {
		g.day = day
		return
	}
	if day == g.day {
		return
	}
	g.day = day
	g.baseline = g.equity()
	g.peak = decimal.Zero
}

func (g *Gate) tighten(limit decimal.Decimal) decimal.Decimal {
	if g.state == schema.RiskStateElevated {
		return limit.Mul(g.cfg.TightenFactor)
	}
	return limit
}

func (g *Gate) limiter(agentID string, params schema.AgentRiskParams) *rate.Limiter {
	if params.OrdersPerSec <= 0 {
		return nil
	}
	l, ok := g.limiters[agentID]
	if !ok {
		burst := params.OrderBurst
		if burst <= 0 {
			burst = 1
		}
		l = rate.NewLimiter(rate.Limit(params.OrdersPerSec), burst)
		g.limiters[agentID] = l
	}
	return l
}

func reduces(pos schema.MarketPosition, intent schema.TradeIntent) bool {
	switch {
	case pos.Size.IsPositive():
		return intent.Side == schema.SideSell && intent.Size.LessThanOrEqual(pos.Size)
	case pos.Size.IsNegative():
		return intent.Side == schema.SideBuy && intent.Size.LessThanOrEqual(pos.Size.Abs())
	default:
		return false
	}
}

// exposureDelta returns how much the intent changes the agent exposure in the
// market and the resulting signed position size.
func exposureDelta(pos schema.MarketPosition, intent schema.TradeIntent) (decimal.Decimal, decimal.Decimal) {
	qty := intent.Size
	if intent.Side == schema.SideSell {
		qty = qty.Neg()
	}
	next := pos.Size.Add(qty)
	if pos.Size.IsZero() || pos.Size.Sign() == qty.Sign() {
		return intent.Notional(), next
	}
	closed := decimal.Min(pos.Size.Abs(), qty.Abs())
	opened := qty.Abs().Sub(closed)
	return opened.Mul(intent.LimitPrice).Sub(closed.Mul(pos.AvgPrice)), next
}
