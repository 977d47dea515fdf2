// Package mdg generates synthetic prediction-market quotes for paper trading.
// Prices move in whole ticks of 0.01 between 0.01 and 0.99.
package mdg

import (
	"fmt"
	"math/rand"
	"time"
)

const (
	minTick = 1
	maxTick = 99
)

// GeneratorConfig controls the random walk.
type GeneratorConfig struct {
	Markets []string
	Seed    int64
	// StartTick is the initial mid in ticks. Zero starts at 50.
	StartTick int64
	// StepTicks bounds the mid move per tick.
	StepTicks int64
	// SpreadTicks is the half spread around the mid.
	SpreadTicks int64
}

// Validate checks if the configuration is usable.
func (c GeneratorConfig) Validate() error {
	if len(c.Markets) == 0 {
		return fmt.Errorf("invalid generator config: no markets")
	}
	if c.StartTick < 0 || c.StartTick > maxTick {
		return fmt.Errorf("invalid generator config: StartTick must be in [0, %d]", maxTick)
	}
	if c.StepTicks < 0 || c.SpreadTicks < 0 {
		return fmt.Errorf("invalid generator config: StepTicks and SpreadTicks must be >= 0")
	}
	return nil
}

// Generator creates synthetic quote ticks, one market at a time in round robin.
type Generator struct {
	cfg   GeneratorConfig
	rng   *rand.Rand
	mids  []int64
	index int
}

// NewGenerator creates a generator over cfg.Markets.
func NewGenerator(cfg GeneratorConfig) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	start := cfg.StartTick
	if start == 0 {
		start = 50
	}
	if cfg.StepTicks == 0 {
		cfg.StepTicks = 1
	}
	if cfg.SpreadTicks == 0 {
		cfg.SpreadTicks = 1
	}
	mids := make([]int64, len(cfg.Markets))
	for i := range mids {
		mids[i] = start
	}
	return &Generator{cfg: cfg, rng: rand.New(rand.NewSource(cfg.Seed)), mids: mids}, nil
}

// Markets returns the number of markets the generator cycles through.
func (g *Generator) Markets() int {
	return len(g.mids)
}

// Next creates the next raw tick in sequence.
func (g *Generator) Next(now time.Time) RawTick {
	i := g.index
	g.index = (g.index + 1) % len(g.mids)

	mid := g.mids[i] + g.rng.Int63n(2*g.cfg.StepTicks+1) - g.cfg.StepTicks
	mid = clamp(mid, minTick+g.cfg.SpreadTicks, maxTick-g.cfg.SpreadTicks)
	g.mids[i] = mid

	return RawTick{
		Market:  g.cfg.Markets[i],
		Bid:     clamp(mid-g.cfg.SpreadTicks, minTick, maxTick),
		Ask:     clamp(mid+g.cfg.SpreadTicks, minTick, maxTick),
		Last:    mid,
		TsEvent: now.UnixNano(),
	}
}

func clamp(v, lo, hi int64) int64 {
	if lo > hi {
		return (lo + hi) / 2
	}
	return min(max(v, lo), hi)
}
