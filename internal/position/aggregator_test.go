package position

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proerror77/ploy-sub006/internal/schema"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func fill(agent, market string, side schema.Side, size, price string) schema.ExecutionReport {
	return schema.ExecutionReport{
		AgentID:    agent,
		Market:     market,
		Side:       side,
		Status:     schema.ExecStatusFilled,
		FilledSize: d(size),
		AvgPrice:   d(price),
		ReportedAt: time.Unix(0, 0).UTC(),
	}
}

func TestApplyOpenAndClose(t *testing.T) {
	agg := NewAggregator()

	realized, err := agg.Apply(fill("a1", "m1", schema.SideBuy, "100", "0.40"))
	require.NoError(t, err)
	require.True(t, realized.IsZero())

	_, err = agg.Apply(fill("a1", "m1", schema.SideBuy, "100", "0.60"))
	require.NoError(t, err)

	pos := agg.Agent("a1")
	mp, ok := pos.Market("m1")
	require.True(t, ok)
	assert.True(t, mp.Size.Equal(d("200")))
	assert.True(t, mp.AvgPrice.Equal(d("0.5")), mp.AvgPrice.String())
	assert.True(t, pos.Exposure.Equal(d("100")))

	realized, err = agg.Apply(fill("a1", "m1", schema.SideSell, "50", "0.70"))
	require.NoError(t, err)
	assert.True(t, realized.Equal(d("10")), realized.String())

	pos = agg.Agent("a1")
	assert.True(t, pos.Exposure.Equal(d("75")))
	assert.True(t, pos.RealizedPnL.Equal(d("10")))
}

func TestApplyLoss(t *testing.T) {
	agg := NewAggregator()
	_, err := agg.Apply(fill("a1", "m1", schema.SideBuy, "300", "0.60"))
	require.NoError(t, err)
	realized, err := agg.Apply(fill("a1", "m1", schema.SideSell, "300", "0.25"))
	require.NoError(t, err)
	assert.True(t, realized.Equal(d("-105")), realized.String())
	assert.True(t, agg.TotalExposure().IsZero())
}

func TestApplyFlipThroughZero(t *testing.T) {
	agg := NewAggregator()
	_, err := agg.Apply(fill("a1", "m1", schema.SideBuy, "10", "0.50"))
	require.NoError(t, err)
	realized, err := agg.Apply(fill("a1", "m1", schema.SideSell, "30", "0.40"))
	require.NoError(t, err)
	assert.True(t, realized.Equal(d("-1")), realized.String())

	mp, ok := agg.Agent("a1").Market("m1")
	require.True(t, ok)
	assert.True(t, mp.Size.Equal(d("-20")))
	assert.True(t, mp.AvgPrice.Equal(d("0.4")))
}

func TestApplyFeeReducesRealized(t *testing.T) {
	agg := NewAggregator()
	r := fill("a1", "m1", schema.SideBuy, "10", "0.50")
	r.Fee = d("0.05")
	realized, err := agg.Apply(r)
	require.NoError(t, err)
	assert.True(t, realized.Equal(d("-0.05")))
}

func TestApplyIgnoresEmptyFill(t *testing.T) {
	agg := NewAggregator()
	_, err := agg.Apply(schema.ExecutionReport{AgentID: "a1", Market: "m1", Status: schema.ExecStatusFailed})
	require.NoError(t, err)
	require.Equal(t, 0, agg.Count())
}

func TestApplyRejectsInvalidReport(t *testing.T) {
	agg := NewAggregator()
	_, err := agg.Apply(fill("", "m1", schema.SideBuy, "1", "0.5"))
	require.ErrorIs(t, err, ErrInvalidReport)
	_, err = agg.Apply(fill("a1", "m1", schema.SideUnknown, "1", "0.5"))
	require.ErrorIs(t, err, ErrInvalidReport)
}

func TestMarkRevaluesPositions(t *testing.T) {
	agg := NewAggregator()
	_, err := agg.Apply(fill("a1", "m1", schema.SideBuy, "100", "0.40"))
	require.NoError(t, err)
	_, err = agg.Apply(fill("a2", "m1", schema.SideSell, "50", "0.40"))
	require.NoError(t, err)

	require.NoError(t, agg.Mark("m1", d("0.50")))
	view := agg.Aggregated()
	assert.True(t, agg.Agent("a1").UnrealizedPnL.Equal(d("10")))
	assert.True(t, agg.Agent("a2").UnrealizedPnL.Equal(d("-5")))
	assert.True(t, view.UnrealizedPnL.Equal(d("5")))
}

func TestAggregatedIsACopy(t *testing.T) {
	agg := NewAggregator()
	_, err := agg.Apply(fill("a1", "m1", schema.SideBuy, "1", "0.5"))
	require.NoError(t, err)

	view := agg.Aggregated()
	view.Agents[0].Markets[0].Size = d("999")
	mp, _ := agg.Agent("a1").Market("m1")
	assert.True(t, mp.Size.Equal(d("1")))
}

// TotalExposure must equal the sum of per-agent exposures for any set of fills.
func TestAggregationConsistency(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 200; round++ {
		agg := NewAggregator()
		fills := rng.Intn(40) + 1
		for i := 0; i < fills; i++ {
			side := schema.SideBuy
			if rng.Intn(2) == 0 {
				side = schema.SideSell
			}
			r := fill(
				fmt.Sprintf("agent-%d", rng.Intn(5)),
				fmt.Sprintf("market-%d", rng.Intn(4)),
				side,
				fmt.Sprintf("%d", rng.Intn(500)+1),
				fmt.Sprintf("0.%02d", rng.Intn(98)+1),
			)
			_, err := agg.Apply(r)
			require.NoError(t, err)
		}

		view := agg.Aggregated()
		sum := decimal.Zero
		for _, p := range view.Agents {
			agentSum := decimal.Zero
			for _, m := range p.Markets {
				agentSum = agentSum.Add(m.Exposure())
			}
			require.True(t, agentSum.Equal(p.Exposure), "round %d agent %s", round, p.AgentID)
			require.False(t, p.Exposure.IsNegative())
			sum = sum.Add(p.Exposure)
		}
		require.True(t, sum.Equal(view.TotalExposure), "round %d: %s != %s", round, sum, view.TotalExposure)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	agg := NewAggregator()
	_, err := agg.Apply(fill("a1", "m1", schema.SideBuy, "100", "0.40"))
	require.NoError(t, err)
	_, err = agg.Apply(fill("a2", "m2", schema.SideSell, "10", "0.30"))
	require.NoError(t, err)
	require.NoError(t, agg.Mark("m1", d("0.45")))

	restored := NewAggregator()
	require.NoError(t, restored.ApplySnapshot(agg.Snapshot()))
	assert.Equal(t, agg.Snapshot(), restored.Snapshot())
	assert.Equal(t, agg.Aggregated(), restored.Aggregated())
}
