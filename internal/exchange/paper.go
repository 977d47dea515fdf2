package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/proerror77/ploy-sub006/internal/schema"
)

// PaperConfig controls the simulated venue.
type PaperConfig struct {
	InitialCash decimal.Decimal
	FeeRate     decimal.Decimal
	// FillRatio is the share of each order that fills. Zero or one fills completely.
	FillRatio decimal.Decimal
}

// Validate checks if the configuration is usable.
func (c PaperConfig) Validate() error {
	if c.InitialCash.IsNegative() {
		return fmt.Errorf("invalid paper config: InitialCash must be >= 0")
	}
	if c.FeeRate.IsNegative() {
		return fmt.Errorf("invalid paper config: FeeRate must be >= 0")
	}
	if c.FillRatio.IsNegative() || c.FillRatio.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("invalid paper config: FillRatio must be in [0, 1]")
	}
	return nil
}

// Paper is an in-process venue. Marketable orders fill against the last quote;
// without a quote they fill at the limit price.
type Paper struct {
	cfg PaperConfig
	now func() time.Time

	mu      sync.Mutex
	seq     uint64
	cash    decimal.Decimal
	quotes  map[string]schema.Quote
	orders  map[string]schema.ExecutionReport
	submits int
}

// NewPaper creates a paper venue.
func NewPaper(cfg PaperConfig) (*Paper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Paper{
		cfg:    cfg,
		now:    time.Now,
		cash:   cfg.InitialCash,
		quotes: make(map[string]schema.Quote),
		orders: make(map[string]schema.ExecutionReport),
	}, nil
}

// SetQuote updates the book used for fills.
func (p *Paper) SetQuote(q schema.Quote) {
	p.mu.Lock()
	p.quotes[q.Market] = q
	p.mu.Unlock()
}

// Orders returns the number of distinct orders accepted by the venue.
func (p *Paper) Orders() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.orders)
}

// Submits returns the number of SubmitOrder calls, duplicates included.
func (p *Paper) Submits() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.submits
}

func (p *Paper) SubmitOrder(ctx context.Context, cmd schema.OrderCommand) (schema.ExecutionReport, error) {
	if err := ctx.Err(); err != nil {
		return schema.ExecutionReport{}, err
	}
	intent := cmd.Intent
	if cmd.ClientOrderID == "" || !intent.Size.IsPositive() || !intent.LimitPrice.IsPositive() || intent.LimitPrice.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return schema.ExecutionReport{}, fmt.Errorf("%w: invalid order parameters", ErrRejected)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.submits++
	if rep, ok := p.orders[cmd.ClientOrderID]; ok {
		return rep, nil
	}

	price, ok := p.fillPrice(intent)
	if !ok {
		p.seq++
		rep := schema.ReportFor(cmd, schema.ExecStatusExpired, p.now())
		rep.ExchangeID = fmt.Sprintf("paper-%d", p.seq)
		rep.Error = "limit not marketable"
		p.orders[cmd.ClientOrderID] = rep
		return rep, nil
	}

	filled := intent.Size
	if p.cfg.FillRatio.IsPositive() {
		filled = intent.Size.Mul(p.cfg.FillRatio).RoundDown(6)
	}
	notional := filled.Mul(price)
	fee := notional.Mul(p.cfg.FeeRate)
	if intent.Side == schema.SideBuy {
		if notional.Add(fee).GreaterThan(p.cash) {
			return schema.ExecutionReport{}, fmt.Errorf("%w: need %s have %s", ErrInsufficientBalance, notional.Add(fee), p.cash)
		}
		p.cash = p.cash.Sub(notional).Sub(fee)
	} else {
		p.cash = p.cash.Add(notional).Sub(fee)
	}

	p.seq++
	status := schema.ExecStatusFilled
	if filled.LessThan(intent.Size) {
		status = schema.ExecStatusPartiallyFilled
	}
	rep := schema.ReportFor(cmd, status, p.now())
	rep.FilledSize = filled
	rep.AvgPrice = price
	rep.Fee = fee
	rep.ExchangeID = fmt.Sprintf("paper-%d", p.seq)
	p.orders[cmd.ClientOrderID] = rep
	return rep, nil
}

func (p *Paper) fillPrice(intent schema.TradeIntent) (decimal.Decimal, bool) {
	q, ok := p.quotes[intent.Market]
	if !ok {
		return intent.LimitPrice, true
	}
	if intent.Side == schema.SideBuy {
		if !q.Ask.IsPositive() {
			return intent.LimitPrice, true
		}
		return q.Ask, q.Ask.LessThanOrEqual(intent.LimitPrice)
	}
	if !q.Bid.IsPositive() {
		return intent.LimitPrice, true
	}
	return q.Bid, q.Bid.GreaterThanOrEqual(intent.LimitPrice)
}

func (p *Paper) LookupOrder(ctx context.Context, clientOrderID string) (schema.ExecutionReport, error) {
	if err := ctx.Err(); err != nil {
		return schema.ExecutionReport{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	rep, ok := p.orders[clientOrderID]
	if !ok {
		return schema.ExecutionReport{}, ErrOrderNotFound
	}
	return rep, nil
}

// CancelOrder succeeds for known orders; paper orders are already terminal.
func (p *Paper) CancelOrder(ctx context.Context, clientOrderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.orders[clientOrderID]; !ok {
		return ErrOrderNotFound
	}
	return nil
}

func (p *Paper) Balance(ctx context.Context) (Balance, error) {
	if err := ctx.Err(); err != nil {
		return Balance{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return Balance{Cash: p.cash, Allowance: p.cash}, nil
}
