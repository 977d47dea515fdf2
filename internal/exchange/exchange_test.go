package exchange

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proerror77/ploy-sub006/internal/schema"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func command(id, side string, size, price string) schema.OrderCommand {
	s := schema.SideBuy
	if side == "sell" {
		s = schema.SideSell
	}
	return schema.OrderCommand{
		ClientOrderID: id,
		Intent: schema.TradeIntent{
			ID: id, IdempotencyKey: id, AgentID: "a1", Market: "m1",
			Side: s, Size: d(size), LimitPrice: d(price),
		},
	}
}

func TestPaper_FillAndDuplicate(t *testing.T) {
	p, err := NewPaper(PaperConfig{InitialCash: d("100"), FeeRate: d("0.01")})
	require.NoError(t, err)
	ctx := context.Background()

	rep, err := p.SubmitOrder(ctx, command("c1", "buy", "100", "0.4"))
	require.NoError(t, err)
	assert.Equal(t, schema.ExecStatusFilled, rep.Status)
	assert.True(t, rep.Fee.Equal(d("0.4")))

	again, err := p.SubmitOrder(ctx, command("c1", "buy", "100", "0.4"))
	require.NoError(t, err)
	assert.Equal(t, rep, again)
	assert.Equal(t, 1, p.Orders())
	assert.Equal(t, 2, p.Submits())

	bal, err := p.Balance(ctx)
	require.NoError(t, err)
	assert.True(t, bal.Cash.Equal(d("59.6")))

	_, err = p.SubmitOrder(ctx, command("c2", "buy", "1000", "0.5"))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, ClassDeterministic, Classify(err))

	got, err := p.LookupOrder(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, rep.ExchangeID, got.ExchangeID)
	_, err = p.LookupOrder(ctx, "nope")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestPaper_QuotesAndPartialFills(t *testing.T) {
	p, err := NewPaper(PaperConfig{InitialCash: d("1000"), FillRatio: d("0.5")})
	require.NoError(t, err)
	p.SetQuote(schema.Quote{Market: "m1", Bid: d("0.45"), Ask: d("0.55")})
	ctx := context.Background()

	rep, err := p.SubmitOrder(ctx, command("c1", "buy", "10", "0.50"))
	require.NoError(t, err)
	assert.Equal(t, schema.ExecStatusExpired, rep.Status)

	rep, err = p.SubmitOrder(ctx, command("c2", "buy", "10", "0.60"))
	require.NoError(t, err)
	assert.Equal(t, schema.ExecStatusPartiallyFilled, rep.Status)
	assert.True(t, rep.FilledSize.Equal(d("5")))
	assert.True(t, rep.AvgPrice.Equal(d("0.55")))

	_, err = p.SubmitOrder(ctx, command("c3", "buy", "10", "1.2"))
	assert.ErrorIs(t, err, ErrRejected)
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	assert.Equal(t, ClassNone, Classify(nil))
	assert.Equal(t, ClassTransient, Classify(fmt.Errorf("wrap: %w", ErrTransient)))
	assert.Equal(t, ClassTransient, Classify(context.DeadlineExceeded))
	assert.Equal(t, ClassTransient, Classify(timeoutErr{}))
	assert.Equal(t, ClassDeterministic, Classify(ErrRejected))
	assert.Equal(t, ClassDeterministic, Classify(errors.New("boom")))

	assert.True(t, UnknownOutcome(timeoutErr{}))
	assert.True(t, UnknownOutcome(fmt.Errorf("x: %w", context.DeadlineExceeded)))
	assert.False(t, UnknownOutcome(ErrTransient))
}

func TestChaos_LostReplyStillReachesVenue(t *testing.T) {
	p, err := NewPaper(PaperConfig{InitialCash: d("100")})
	require.NoError(t, err)
	c, err := NewChaos(p, ChaosConfig{Seed: 1, LostReplyRate: 1})
	require.NoError(t, err)

	_, err = c.SubmitOrder(context.Background(), command("c1", "buy", "10", "0.5"))
	require.Error(t, err)
	assert.True(t, UnknownOutcome(err))
	assert.Equal(t, 1, p.Orders())
}

func TestChaos_FailAndDelay(t *testing.T) {
	p, err := NewPaper(PaperConfig{InitialCash: d("100")})
	require.NoError(t, err)
	c, err := NewChaos(p, ChaosConfig{Seed: 1, FailRate: 1, MaxDelay: time.Millisecond})
	require.NoError(t, err)
	_, err = c.SubmitOrder(context.Background(), command("c1", "buy", "10", "0.5"))
	assert.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, 0, p.Orders())

	_, err = NewChaos(p, ChaosConfig{FailRate: 2})
	assert.Error(t, err)
}
