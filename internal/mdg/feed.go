package mdg

import (
	"context"
	"fmt"
	"time"

	"github.com/yanun0323/logs"

	"github.com/proerror77/ploy-sub006/internal/schema"
)

// Sink receives every normalized quote. A sink error stops the feed.
type Sink func(schema.Quote) error

// Feed publishes one round of quotes, one per market, every interval.
type Feed struct {
	gen      *Generator
	norm     *Normalizer
	interval time.Duration
	sinks    []Sink
	now      func() time.Time
}

// NewFeed creates a feed over cfg.Markets.
func NewFeed(cfg GeneratorConfig, interval time.Duration, sinks ...Sink) (*Feed, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("invalid feed config: interval must be > 0")
	}
	gen, err := NewGenerator(cfg)
	if err != nil {
		return nil, err
	}
	return &Feed{gen: gen, norm: NewNormalizer(cfg.Markets), interval: interval, sinks: sinks, now: time.Now}, nil
}

// Tick publishes one round.
func (f *Feed) Tick() error {
	now := f.now()
	for i, n := 0, f.gen.Markets(); i < n; i++ {
		q, err := f.norm.Normalize(f.gen.Next(now))
		if err != nil {
			logs.Warnf("drop synthetic quote, err: %+v", err)
			continue
		}
		for _, sink := range f.sinks {
			if err := sink(q); err != nil {
				return err
			}
		}
	}
	return nil
}

// Run ticks until ctx is done or a sink fails.
func (f *Feed) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := f.Tick(); err != nil {
				return fmt.Errorf("quote feed: %w", err)
			}
		}
	}
}
