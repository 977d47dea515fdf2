package agent

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/proerror77/ploy-sub006/internal/schema"
)

// ThresholdConfig is a scripted quote-threshold strategy for one market.
type ThresholdConfig struct {
	Market    string
	Size      decimal.Decimal
	BuyBelow  decimal.Decimal
	SellAbove decimal.Decimal
	// MaxPosition caps the long inventory the strategy builds.
	MaxPosition decimal.Decimal
}

// Validate checks if the configuration is usable.
func (c ThresholdConfig) Validate() error {
	if c.Market == "" {
		return fmt.Errorf("invalid threshold config: empty market")
	}
	if !c.Size.IsPositive() {
		return fmt.Errorf("invalid threshold config %s: Size must be > 0", c.Market)
	}
	if !c.BuyBelow.IsPositive() || !c.SellAbove.IsPositive() || c.BuyBelow.GreaterThanOrEqual(c.SellAbove) {
		return fmt.Errorf("invalid threshold config %s: need 0 < BuyBelow < SellAbove", c.Market)
	}
	if c.SellAbove.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("invalid threshold config %s: SellAbove must be < 1", c.Market)
	}
	return nil
}

// Threshold buys when the ask drops to BuyBelow and sells its inventory when
// the bid reaches SellAbove. Inventory follows its own fill reports.
type Threshold struct {
	cfg       ThresholdConfig
	inventory decimal.Decimal
	pending   bool
}

// NewThreshold creates the strategy.
func NewThreshold(cfg ThresholdConfig) (*Threshold, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Threshold{cfg: cfg}, nil
}

func (s *Threshold) OnEvent(_ context.Context, ev schema.DomainEvent) []schema.TradeIntent {
	switch ev.Kind {
	case schema.EventKindExecution:
		if ev.Report == nil || ev.Report.Market != s.cfg.Market {
			return nil
		}
		s.pending = false
		if ev.Report.HasFill() {
			if ev.Report.Side == schema.SideBuy {
				s.inventory = s.inventory.Add(ev.Report.FilledSize)
			} else {
				s.inventory = s.inventory.Sub(ev.Report.FilledSize)
			}
		}
		return nil
	case schema.EventKindQuote:
		q := ev.Quote
		if q == nil || q.Market != s.cfg.Market || s.pending {
			return nil
		}
		switch {
		case q.Ask.IsPositive() && q.Ask.LessThanOrEqual(s.cfg.BuyBelow) &&
			(!s.cfg.MaxPosition.IsPositive() || s.inventory.Add(s.cfg.Size).LessThanOrEqual(s.cfg.MaxPosition)):
			s.pending = true
			return []schema.TradeIntent{s.intent(schema.SideBuy, s.cfg.Size, q.Ask)}
		case q.Bid.GreaterThanOrEqual(s.cfg.SellAbove) && s.inventory.IsPositive():
			s.pending = true
			return []schema.TradeIntent{s.intent(schema.SideSell, decimal.Min(s.cfg.Size, s.inventory), q.Bid)}
		}
	}
	return nil
}

func (s *Threshold) intent(side schema.Side, size, price decimal.Decimal) schema.TradeIntent {
	return schema.TradeIntent{
		StrategyID: "threshold",
		Market:     s.cfg.Market,
		Side:       side,
		Size:       size,
		LimitPrice: price,
		ReduceOnly: side == schema.SideSell,
		Priority:   schema.PriorityNormal,
	}
}
