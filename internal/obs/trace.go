package obs

import (
	"sync/atomic"
	"time"
)

// TraceGenerator hands out trace ids. Every event of one intent carries the
// same id; ids only move forward, also across restarts.
type TraceGenerator struct {
	next atomic.Uint64
}

// NewTraceGenerator returns a generator seeded with the given value.
func NewTraceGenerator(seed uint64) *TraceGenerator {
	if seed == 0 {
		seed = uint64(time.Now().UTC().UnixNano())
	}
	g := &TraceGenerator{}
	g.next.Store(seed)
	return g
}

// Next returns the next trace id.
func (g *TraceGenerator) Next() uint64 {
	if g == nil {
		return 0
	}
	return g.next.Add(1)
}

// Observe moves the generator past id, used while replaying a log.
func (g *TraceGenerator) Observe(id uint64) {
	if g == nil {
		return
	}
	for {
		cur := g.next.Load()
		if id <= cur || g.next.CompareAndSwap(cur, id) {
			return
		}
	}
}
