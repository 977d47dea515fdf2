package position

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/proerror77/ploy-sub006/internal/errors"
	"github.com/proerror77/ploy-sub006/internal/schema"
)

var (
	ErrNegativeExposure = errors.New("position: negative exposure")
	ErrInvalidReport    = errors.New("position: invalid execution report")
)

// PricePlaces is the explicit rounding applied to volume-weighted average prices,
// the only non-terminating division in position accounting.
const PricePlaces int32 = 12

type key struct {
	agent  string
	market string
}

type entry struct {
	size     decimal.Decimal
	avgPrice decimal.Decimal
	mark     decimal.Decimal
	realized decimal.Decimal
}

// Aggregator keeps per-agent market positions and the platform-wide sum.
// It is owned by a single goroutine; readers receive copies.
type Aggregator struct {
	positions map[key]*entry
	realized  map[string]decimal.Decimal
	marks     map[string]decimal.Decimal

	aggregated schema.AggregatedPosition
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		positions: make(map[key]*entry),
		realized:  make(map[string]decimal.Decimal),
		marks:     make(map[string]decimal.Decimal),
	}
}

// Apply books the filled part of a report against exactly one agent position and
// returns the realized PnL produced by the fill.
func (a *Aggregator) Apply(report schema.ExecutionReport) (decimal.Decimal, error) {
	if !report.HasFill() {
		return decimal.Zero, nil
	}
	if report.AgentID == "" || report.Market == "" || !report.AvgPrice.IsPositive() {
		return decimal.Zero, ErrInvalidReport
	}

	k := key{agent: report.AgentID, market: report.Market}
	e, ok := a.positions[k]
	if !ok {
		e = &entry{}
		a.positions[k] = e
	}

	qty := report.FilledSize
	if report.Side == schema.SideSell {
		qty = qty.Neg()
	} else if report.Side != schema.SideBuy {
		return decimal.Zero, ErrInvalidReport
	}

	realized := applyFill(e, qty, report.AvgPrice)
	realized = realized.Sub(report.Fee)
	e.realized = e.realized.Add(realized)
	a.realized[report.AgentID] = a.realized[report.AgentID].Add(realized)
	if e.size.IsZero() {
		e.avgPrice = decimal.Zero
	}
	if mark, ok := a.marks[report.Market]; ok {
		e.mark = mark
	} else if e.mark.IsZero() {
		e.mark = report.AvgPrice
	}

	if err := a.recompute(); err != nil {
		return realized, err
	}
	return realized, nil
}

// applyFill moves e by signed qty at price and returns the realized PnL of the closed part.
func applyFill(e *entry, qty, price decimal.Decimal) decimal.Decimal {
	if e.size.IsZero() || e.size.Sign() == qty.Sign() {
		total := e.size.Abs().Add(qty.Abs())
		e.avgPrice = e.avgPrice.Mul(e.size.Abs()).Add(price.Mul(qty.Abs())).DivRound(total, PricePlaces)
		e.size = e.size.Add(qty)
		return decimal.Zero
	}

	closed := decimal.Min(e.size.Abs(), qty.Abs())
	var realized decimal.Decimal
	if e.size.IsPositive() {
		realized = price.Sub(e.avgPrice).Mul(closed)
	} else {
		realized = e.avgPrice.Sub(price).Mul(closed)
	}

	remaining := qty.Abs().Sub(closed)
	e.size = e.size.Add(qty)
	if remaining.IsPositive() {
		// flipped through zero: the remainder opens at the fill price
		e.avgPrice = price
	}
	return realized
}

// Mark updates the mark price of a market and revalues every position in it.
func (a *Aggregator) Mark(market string, price decimal.Decimal) error {
	if !price.IsPositive() {
		return nil
	}
	a.marks[market] = price
	for k, e := range a.positions {
		if k.market == market {
			e.mark = price
		}
	}
	return a.recompute()
}

// Aggregated returns the last computed platform-wide view.
func (a *Aggregator) Aggregated() schema.AggregatedPosition {
	return cloneAggregated(a.aggregated)
}

// Agent returns one agent's position.
func (a *Aggregator) Agent(agentID string) schema.Position {
	if p, ok := a.aggregated.Agent(agentID); ok {
		return clonePosition(p)
	}
	return schema.Position{AgentID: agentID}
}

// TotalExposure returns the platform exposure.
func (a *Aggregator) TotalExposure() decimal.Decimal {
	return a.aggregated.TotalExposure
}

// Count returns the number of tracked agent/market positions.
func (a *Aggregator) Count() int {
	return len(a.positions)
}

// recompute rebuilds the aggregate from scratch so it is always the exact sum of its parts.
func (a *Aggregator) recompute() error {
	byAgent := make(map[string]*schema.Position)
	for agent, realized := range a.realized {
		byAgent[agent] = &schema.Position{AgentID: agent, RealizedPnL: realized}
	}

	for k, e := range a.positions {
		p, ok := byAgent[k.agent]
		if !ok {
			p = &schema.Position{AgentID: k.agent}
			byAgent[k.agent] = p
		}
		mp := schema.MarketPosition{
			Market:      k.market,
			Size:        e.size,
			AvgPrice:    e.avgPrice,
			MarkPrice:   e.mark,
			RealizedPnL: e.realized,
		}
		if !e.size.IsZero() && e.mark.IsPositive() {
			mp.UnrealizedPnL = e.mark.Sub(e.avgPrice).Mul(e.size)
		}
		exposure := mp.Exposure()
		if exposure.IsNegative() {
			return errors.Wrapf(ErrNegativeExposure, "agent=%s market=%s exposure=%s", k.agent, k.market, exposure)
		}
		p.Markets = append(p.Markets, mp)
		p.Exposure = p.Exposure.Add(exposure)
		p.UnrealizedPnL = p.UnrealizedPnL.Add(mp.UnrealizedPnL)
	}

	agg := schema.AggregatedPosition{Agents: make([]schema.Position, 0, len(byAgent))}
	for _, p := range byAgent {
		sort.Slice(p.Markets, func(i, j int) bool { return p.Markets[i].Market < p.Markets[j].Market })
		agg.TotalExposure = agg.TotalExposure.Add(p.Exposure)
		agg.RealizedPnL = agg.RealizedPnL.Add(p.RealizedPnL)
		agg.UnrealizedPnL = agg.UnrealizedPnL.Add(p.UnrealizedPnL)
		agg.Agents = append(agg.Agents, *p)
	}
	sort.Slice(agg.Agents, func(i, j int) bool { return agg.Agents[i].AgentID < agg.Agents[j].AgentID })
	a.aggregated = agg
	return nil
}

func clonePosition(p schema.Position) schema.Position {
	out := p
	out.Markets = append([]schema.MarketPosition(nil), p.Markets...)
	return out
}

func cloneAggregated(a schema.AggregatedPosition) schema.AggregatedPosition {
	out := a
	out.Agents = make([]schema.Position, len(a.Agents))
	for i, p := range a.Agents {
		out.Agents[i] = clonePosition(p)
	}
	return out
}
