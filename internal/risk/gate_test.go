package risk

import (
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proerror77/ploy-sub006/internal/schema"
)

var t0 = time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func buy(agent, market, size, price string) schema.TradeIntent {
	return schema.TradeIntent{
		ID:             agent + "-" + market + "-" + size,
		IdempotencyKey: agent + "-" + market + "-" + size,
		AgentID:        agent,
		Market:         market,
		Side:           schema.SideBuy,
		Size:           d(size),
		LimitPrice:     d(price),
		CreatedAt:      t0,
	}
}

func newGate(t *testing.T, cfg Config) *Gate {
	t.Helper()
	g, err := NewGate(cfg)
	require.NoError(t, err)
	return g
}

func TestGate_HaltAndResume(t *testing.T) {
	g := newGate(t, Config{MaxExposure: d("10000"), DailyLossLimit: d("100")})
	view := StateView{Now: t0}

	require.True(t, g.Evaluate(buy("a1", "m1", "10", "0.5"), view).Approved)

	assert.Empty(t, g.RecordFill(d("-60"), t0))
	events := g.RecordFill(d("-45"), t0.Add(time.Second))
	require.Len(t, events, 1)
	assert.Equal(t, schema.RiskStateNormal, events[0].From)
	assert.Equal(t, schema.RiskStateHalted, events[0].To)
	assert.True(t, events[0].DailyPnL.Equal(d("-105")))
	assert.Equal(t, schema.RiskStateHalted, g.State())

	dec := g.Evaluate(buy("a1", "m1", "10", "0.5"), view)
	assert.False(t, dec.Approved)
	assert.Equal(t, schema.BlockReasonDrawdownBreach, dec.Reason)

	// recovering PnL never lifts a halt by itself
	assert.Empty(t, g.RecordFill(d("500"), t0.Add(2*time.Second)))
	assert.Equal(t, schema.RiskStateHalted, g.State())

	ev, ok := g.Resume(t0.Add(3*time.Second), "")
	require.True(t, ok)
	assert.Equal(t, schema.RiskStateHalted, ev.From)
	assert.Equal(t, schema.RiskStateNormal, ev.To)
	assert.Equal(t, schema.RiskStateNormal, g.State())
	assert.True(t, g.DailyPnL().IsZero())

	assert.True(t, g.Evaluate(buy("a1", "m1", "10", "0.5"), view).Approved)
	assert.Len(t, g.Breakers(), 2)

	_, ok = g.Resume(t0.Add(4*time.Second), "again")
	assert.False(t, ok)
}

func TestGate_ElevatedHysteresis(t *testing.T) {
	g := newGate(t, Config{
		MaxExposure:      d("1000"),
		DailyLossLimit:   d("1000"),
		ElevatedDrawdown: d("50"),
		ResumeDrawdown:   d("20"),
		TightenFactor:    d("0.5"),
	})

	g.RecordFill(d("100"), t0)
	ev := g.RecordFill(d("-60"), t0)
	require.Len(t, ev, 1)
	assert.Equal(t, schema.RiskStateElevated, g.State())
	assert.True(t, g.Drawdown().Equal(d("60")))

	// tightened platform limit is 500
	dec := g.Evaluate(buy("a1", "m1", "1000", "0.6"), StateView{Now: t0})
	assert.Equal(t, schema.BlockReasonExposureLimit, dec.Reason)
	assert.True(t, g.Evaluate(buy("a1", "m1", "500", "0.6"), StateView{Now: t0}).Approved)

	assert.Empty(t, g.RecordFill(d("30"), t0))
	assert.Equal(t, schema.RiskStateElevated, g.State())

	ev = g.RecordFill(d("15"), t0)
	require.Len(t, ev, 1)
	assert.Equal(t, schema.RiskStateNormal, ev[0].To)
}

func TestGate_HaltDrawdown(t *testing.T) {
	g := newGate(t, Config{
		MaxExposure:      d("1000"),
		DailyLossLimit:   d("1000"),
		ElevatedDrawdown: d("50"),
		ResumeDrawdown:   d("10"),
		HaltDrawdown:     d("80"),
	})
	g.RecordFill(d("200"), t0)
	g.RecordFill(d("-60"), t0)
	assert.Equal(t, schema.RiskStateElevated, g.State())
	g.MarkToMarket(d("-25"), t0)
	assert.Equal(t, schema.RiskStateHalted, g.State())
}

func TestGate_CheckOrder(t *testing.T) {
	g := newGate(t, Config{MaxExposure: d("100"), DailyLossLimit: d("50"), FeeRate: d("0.01")})
	params := schema.AgentRiskParams{
		MaxOrderSize: d("100"),
		MaxPosition:  d("150"),
		MaxExposure:  d("60"),
	}

	dec := g.Evaluate(buy("a1", "m1", "300", "0.5"), StateView{Params: params, Now: t0})
	assert.Equal(t, schema.BlockReasonExposureLimit, dec.Reason, "platform exposure is checked before agent params")

	dec = g.Evaluate(buy("a1", "m1", "120", "0.5"), StateView{Params: params, Now: t0})
	assert.Equal(t, schema.BlockReasonOrderSizeLimit, dec.Reason)

	held := schema.Position{
		AgentID:  "a1",
		Exposure: d("50"),
		Markets:  []schema.MarketPosition{{Market: "m1", Size: d("100"), AvgPrice: d("0.5")}},
	}
	dec = g.Evaluate(buy("a1", "m1", "60", "0.1"), StateView{Agent: held, Params: params, Now: t0})
	assert.Equal(t, schema.BlockReasonPositionLimit, dec.Reason)

	dec = g.Evaluate(buy("a1", "m1", "40", "0.5"), StateView{Agent: held, TotalExposure: d("50"), Params: params, Now: t0})
	assert.Equal(t, schema.BlockReasonAgentExposureLimit, dec.Reason)

	g.RecordFill(d("-49.9"), t0)
	dec = g.Evaluate(buy("a1", "m2", "40", "0.5"), StateView{Params: params, Now: t0})
	assert.Equal(t, schema.BlockReasonDailyLossLimit, dec.Reason)
}

func TestGate_ReduceOnly(t *testing.T) {
	g := newGate(t, Config{MaxExposure: d("10"), DailyLossLimit: d("50")})
	held := schema.Position{
		AgentID:  "a1",
		Exposure: d("50"),
		Markets:  []schema.MarketPosition{{Market: "m1", Size: d("100"), AvgPrice: d("0.5")}},
	}
	closing := buy("a1", "m1", "100", "0.4")
	closing.Side = schema.SideSell
	closing.ReduceOnly = true

	dec := g.Evaluate(closing, StateView{Agent: held, TotalExposure: d("50"), Now: t0})
	assert.True(t, dec.Approved, dec.Detail)

	closing.Size = d("120")
	dec = g.Evaluate(closing, StateView{Agent: held, TotalExposure: d("50"), Now: t0})
	assert.Equal(t, schema.BlockReasonPositionLimit, dec.Reason)
}

func TestGate_ReduceOnlySkipsDailyLoss(t *testing.T) {
	g := newGate(t, Config{MaxExposure: d("100"), DailyLossLimit: d("50"), FeeRate: d("0.01")})
	held := schema.Position{
		AgentID:  "a1",
		Exposure: d("50"),
		Markets:  []schema.MarketPosition{{Market: "m1", Size: d("100"), AvgPrice: d("0.5")}},
	}
	g.RecordFill(d("-49.9"), t0)
	require.Equal(t, schema.RiskStateNormal, g.State())

	dec := g.Evaluate(buy("a1", "m2", "40", "0.5"), StateView{Agent: held, TotalExposure: d("50"), Now: t0})
	assert.Equal(t, schema.BlockReasonDailyLossLimit, dec.Reason)

	closing := buy("a1", "m1", "100", "0.4")
	closing.Side = schema.SideSell
	closing.ReduceOnly = true
	dec = g.Evaluate(closing, StateView{Agent: held, TotalExposure: d("50"), Now: t0})
	assert.True(t, dec.Approved, dec.Detail)
}

func TestGate_RateLimitHasNoSideEffectOnRejection(t *testing.T) {
	g := newGate(t, Config{MaxExposure: d("100"), DailyLossLimit: d("50")})
	params := schema.AgentRiskParams{MaxOrderSize: d("10"), OrdersPerSec: 1, OrderBurst: 2}
	view := StateView{Params: params, Now: t0}

	assert.Equal(t, schema.BlockReasonOrderSizeLimit, g.Evaluate(buy("a1", "m1", "50", "0.5"), view).Reason)
	assert.True(t, g.Evaluate(buy("a1", "m1", "1", "0.5"), view).Approved)
	assert.True(t, g.Evaluate(buy("a1", "m1", "2", "0.5"), view).Approved)
	assert.Equal(t, schema.BlockReasonRateLimited, g.Evaluate(buy("a1", "m1", "3", "0.5"), view).Reason)

	view.Now = t0.Add(time.Second)
	assert.True(t, g.Evaluate(buy("a1", "m1", "4", "0.5"), view).Approved)
	assert.True(t, g.Evaluate(buy("a2", "m1", "1", "0.5"), StateView{Params: params, Now: t0}).Approved)
}

func TestGate_DayRolloverKeepsHalt(t *testing.T) {
	g := newGate(t, Config{MaxExposure: d("100"), DailyLossLimit: d("50")})
	g.RecordFill(d("-40"), t0)
	assert.True(t, g.DailyPnL().Equal(d("-40")))

	next := t0.Add(24 * time.Hour)
	g.RecordFill(d("-20"), next)
	assert.True(t, g.DailyPnL().Equal(d("-20")))
	assert.Equal(t, schema.RiskStateNormal, g.State())

	g.RecordFill(d("-30"), next)
	require.Equal(t, schema.RiskStateHalted, g.State())
	g.RecordFill(d("0"), next.Add(24*time.Hour))
	assert.Equal(t, schema.RiskStateHalted, g.State())
	assert.Equal(t, "2026-03-04", g.Snapshot().TradingDay)
}

func TestGate_HaltIsMonotone(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 100; round++ {
		g := newGate(t, Config{MaxExposure: d("1000"), DailyLossLimit: d("100"), ElevatedDrawdown: d("40"), ResumeDrawdown: d("10")})
		halted := false
		for step := 0; step < 50; step++ {
			pnl := decimal.NewFromInt(int64(rng.Intn(61) - 35))
			g.RecordFill(pnl, t0)
			if g.DailyPnL().LessThanOrEqual(d("-100")) {
				halted = true
			}
			if halted {
				require.Equal(t, schema.RiskStateHalted, g.State(), "round %d step %d", round, step)
				require.Equal(t, schema.BlockReasonDrawdownBreach, g.Evaluate(buy("a", "m", "1", "0.5"), StateView{Now: t0}).Reason)
			}
		}
	}
}

func TestGate_Restore(t *testing.T) {
	g := newGate(t, Config{MaxExposure: d("100"), DailyLossLimit: d("50")})
	g.RecordFill(d("-60"), t0)
	st := g.Export()

	other := newGate(t, Config{MaxExposure: d("100"), DailyLossLimit: d("50")})
	other.Import(st)
	assert.Equal(t, g.Snapshot(), other.Snapshot())
	assert.Equal(t, schema.RiskStateHalted, other.State())
}

func TestGate_ReplayMatchesLive(t *testing.T) {
	cfg := Config{MaxExposure: d("1000"), DailyLossLimit: d("100"), ElevatedDrawdown: d("40"), ResumeDrawdown: d("10")}
	live := newGate(t, cfg)
	replay := newGate(t, cfg)

	steps := []struct{ realized, unrealized string }{
		{"50", "0"}, {"-20", "-15"}, {"0", "-30"}, {"-40", "-10"}, {"-100", "0"},
	}
	for i, st := range steps {
		at := t0.Add(time.Duration(i) * time.Second)
		events := live.Book(d(st.realized), d(st.unrealized), at)
		replay.ReplayFill(d(st.realized), d(st.unrealized), at)
		for _, ev := range events {
			replay.ReplayTransition(ev)
		}
	}
	require.Equal(t, schema.RiskStateHalted, live.State())
	assert.Equal(t, live.Export(), replay.Export())

	ev, ok := live.Resume(t0.Add(time.Minute), "")
	require.True(t, ok)
	_, ok = replay.Resume(t0.Add(time.Minute), "")
	require.True(t, ok)
	assert.Equal(t, "manual resume", ev.Reason)
	assert.Equal(t, live.Export(), replay.Export())
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.ResumeDrawdown = bad.ElevatedDrawdown
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.HaltDrawdown = d("10")
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.MaxExposure = decimal.Zero
	_, err := NewGate(bad)
	assert.Error(t, err)
}
