package position

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/proerror77/ploy-sub006/internal/errors"
)

// Snapshot captures the aggregator inputs at a point in time.
type Snapshot struct {
	Positions []Entry                    `json:"positions"`
	Realized  map[string]decimal.Decimal `json:"realized"`
	Marks     map[string]decimal.Decimal `json:"marks"`
}

// Entry is a single agent/market position.
type Entry struct {
	AgentID  string          `json:"agentId"`
	Market   string          `json:"market"`
	Size     decimal.Decimal `json:"size"`
	AvgPrice decimal.Decimal `json:"avgPrice"`
	Mark     decimal.Decimal `json:"mark"`
	Realized decimal.Decimal `json:"realized"`
}

// Snapshot builds a deterministic snapshot of the current positions.
func (a *Aggregator) Snapshot() Snapshot {
	entries := make([]Entry, 0, len(a.positions))
	for k, e := range a.positions {
		entries = append(entries, Entry{
			AgentID:  k.agent,
			Market:   k.market,
			Size:     e.size,
			AvgPrice: e.avgPrice,
			Mark:     e.mark,
			Realized: e.realized,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].AgentID != entries[j].AgentID {
			return entries[i].AgentID < entries[j].AgentID
		}
		return entries[i].Market < entries[j].Market
	})

	realized := make(map[string]decimal.Decimal, len(a.realized))
	for k, v := range a.realized {
		realized[k] = v
	}
	marks := make(map[string]decimal.Decimal, len(a.marks))
	for k, v := range a.marks {
		marks[k] = v
	}
	return Snapshot{Positions: entries, Realized: realized, Marks: marks}
}

// ApplySnapshot replaces all positions with a snapshot.
func (a *Aggregator) ApplySnapshot(snapshot Snapshot) error {
	a.positions = make(map[key]*entry, len(snapshot.Positions))
	a.realized = make(map[string]decimal.Decimal, len(snapshot.Realized))
	a.marks = make(map[string]decimal.Decimal, len(snapshot.Marks))

	for _, p := range snapshot.Positions {
		if p.AgentID == "" || p.Market == "" {
			return errors.Wrap(ErrInvalidReport, "snapshot entry without agent or market")
		}
		a.positions[key{agent: p.AgentID, market: p.Market}] = &entry{
			size:     p.Size,
			avgPrice: p.AvgPrice,
			mark:     p.Mark,
			realized: p.Realized,
		}
	}
	for k, v := range snapshot.Realized {
		a.realized[k] = v
	}
	for k, v := range snapshot.Marks {
		a.marks[k] = v
	}
	return a.recompute()
}
