package mdg

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proerror77/ploy-sub006/internal/schema"
)

func TestGeneratorStaysInRange(t *testing.T) {
	g, err := NewGenerator(GeneratorConfig{Markets: []string{"a", "b"}, Seed: 42, StartTick: 3, StepTicks: 5, SpreadTicks: 2})
	require.NoError(t, err)
	now := time.Unix(0, 0)
	for i := 0; i < 5000; i++ {
		tick := g.Next(now)
		assert.Equal(t, []string{"a", "b"}[i%2], tick.Market)
		require.GreaterOrEqual(t, tick.Bid, int64(minTick))
		require.LessOrEqual(t, tick.Ask, int64(maxTick))
		require.Less(t, tick.Bid, tick.Ask)
	}
}

func TestGeneratorDeterministic(t *testing.T) {
	cfg := GeneratorConfig{Markets: []string{"a"}, Seed: 7}
	g1, err := NewGenerator(cfg)
	require.NoError(t, err)
	g2, err := NewGenerator(cfg)
	require.NoError(t, err)
	now := time.Unix(0, 0)
	for i := 0; i < 100; i++ {
		require.Equal(t, g1.Next(now), g2.Next(now))
	}

	_, err = NewGenerator(GeneratorConfig{})
	assert.Error(t, err)
}

func TestNormalize(t *testing.T) {
	n := NewNormalizer([]string{"m1"})
	q, err := n.Normalize(RawTick{Market: "m1", Bid: 41, Ask: 43, Last: 42})
	require.NoError(t, err)
	assert.True(t, q.Bid.Equal(decimal.RequireFromString("0.41")))
	assert.True(t, q.Ask.Equal(decimal.RequireFromString("0.43")))
	assert.True(t, q.Mid().Equal(decimal.RequireFromString("0.42")))

	_, err = n.Normalize(RawTick{Market: "m2", Bid: 41, Ask: 43})
	assert.Error(t, err)
	_, err = n.Normalize(RawTick{Market: "m1", Bid: 45, Ask: 43})
	assert.Error(t, err)
	_, err = n.Normalize(RawTick{Market: "m1", Bid: 41, Ask: 120})
	assert.Error(t, err)
}

func TestFeedTick(t *testing.T) {
	var got []schema.Quote
	f, err := NewFeed(GeneratorConfig{Markets: []string{"a", "b", "c"}, Seed: 1}, time.Second, func(q schema.Quote) error {
		got = append(got, q)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, f.Tick())
	require.Len(t, got, 3)
	assert.Equal(t, "c", got[2].Market)

	boom := errors.New("closed")
	f, err = NewFeed(GeneratorConfig{Markets: []string{"a"}}, time.Second, func(schema.Quote) error { return boom })
	require.NoError(t, err)
	assert.ErrorIs(t, f.Tick(), boom)

	_, err = NewFeed(GeneratorConfig{Markets: []string{"a"}}, 0)
	assert.Error(t, err)
}
