package execution

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/proerror77/ploy-sub006/internal/schema"
)

var ErrInsufficientFunds = errors.New("execution: insufficient funds")

var one = decimal.NewFromInt(1)

// Funds tracks cash and per-intent reservations. Intents that would overdraw
// are rejected, never resized.
type Funds struct {
	feeRate  decimal.Decimal
	cash     decimal.Decimal
	reserved map[string]decimal.Decimal
	total    decimal.Decimal
}

// NewFunds creates a ledger with the starting cash.
func NewFunds(cash, feeRate decimal.Decimal) *Funds {
	return &Funds{feeRate: feeRate, cash: cash, reserved: make(map[string]decimal.Decimal)}
}

// Requirement returns the collateral an intent needs while in flight.
func (f *Funds) Requirement(intent schema.TradeIntent) decimal.Decimal {
	switch {
	case intent.Side == schema.SideBuy:
		return intent.Notional().Mul(one.Add(f.feeRate))
	case intent.ReduceOnly:
		return decimal.Zero
	default:
		return one.Sub(intent.LimitPrice).Mul(intent.Size)
	}
}

// Reserve sets aside the requirement of intent.
func (f *Funds) Reserve(intent schema.TradeIntent) error {
	if _, ok := f.reserved[intent.ID]; ok {
		return nil
	}
	need := f.Requirement(intent)
	if need.GreaterThan(f.Available()) {
		return fmt.Errorf("%w: need %s available %s", ErrInsufficientFunds, need, f.Available())
	}
	f.reserved[intent.ID] = need
	f.total = f.total.Add(need)
	return nil
}

// Release frees the reservation of intentID.
func (f *Funds) Release(intentID string) {
	amount, ok := f.reserved[intentID]
	if !ok {
		return
	}
	delete(f.reserved, intentID)
	f.total = f.total.Sub(amount)
}

// Settle releases the reservation and books the cash flow of a report.
func (f *Funds) Settle(intentID string, report schema.ExecutionReport) {
	f.Release(intentID)
	if !report.HasFill() {
		return
	}
	notional := report.FilledSize.Mul(report.AvgPrice)
	if report.Side == schema.SideBuy {
		f.cash = f.cash.Sub(notional).Sub(report.Fee)
	} else {
		f.cash = f.cash.Add(notional).Sub(report.Fee)
	}
}

// SetCash replaces the cash balance, for venue balance sync.
func (f *Funds) SetCash(cash decimal.Decimal) {
	f.cash = cash
}

// Cash returns the settled cash balance.
func (f *Funds) Cash() decimal.Decimal {
	return f.cash
}

// Reserved returns the total reserved amount.
func (f *Funds) Reserved() decimal.Decimal {
	return f.total
}

// Available returns cash not reserved by in-flight intents.
func (f *Funds) Available() decimal.Decimal {
	return f.cash.Sub(f.total)
}
