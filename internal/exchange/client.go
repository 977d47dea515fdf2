package exchange

import (
	"context"
	"errors"
	"net"

	"github.com/shopspring/decimal"

	"github.com/proerror77/ploy-sub006/internal/schema"
)

var (
	// ErrTransient marks failures worth retrying: network errors, timeouts, venue overload.
	ErrTransient = errors.New("exchange: transient failure")
	// ErrRejected marks deterministic venue rejections (bad parameters, closed market).
	ErrRejected = errors.New("exchange: order rejected")
	// ErrInsufficientBalance is a deterministic rejection for missing collateral.
	ErrInsufficientBalance = errors.New("exchange: insufficient balance")
	// ErrOrderNotFound is returned by LookupOrder for unknown client order ids.
	ErrOrderNotFound = errors.New("exchange: order not found")
)

// Balance is the venue-side collateral view.
type Balance struct {
	Cash      decimal.Decimal `json:"cash"`
	Allowance decimal.Decimal `json:"allowance"`
}

// Client is the venue boundary. The execution pipeline is its only caller.
//
// SubmitOrder must treat ClientOrderID as the venue-side idempotency key: a
// resubmission of a known id returns the original order instead of a new one.
type Client interface {
	SubmitOrder(ctx context.Context, cmd schema.OrderCommand) (schema.ExecutionReport, error)
	LookupOrder(ctx context.Context, clientOrderID string) (schema.ExecutionReport, error)
	CancelOrder(ctx context.Context, clientOrderID string) error
	Balance(ctx context.Context) (Balance, error)
}

// Class is the retry classification of an exchange error.
type Class uint8

const (
	ClassNone Class = iota
	ClassTransient
	ClassDeterministic
)

func (c Class) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassTransient:
		return "transient"
	default:
		return "deterministic"
	}
}

// Classify maps an error to its retry class. Unknown errors are deterministic.
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransient
	}
	return ClassDeterministic
}

// UnknownOutcome reports whether the order may have reached the venue despite err.
func UnknownOutcome(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
