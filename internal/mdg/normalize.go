package mdg

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/proerror77/ploy-sub006/internal/schema"
)

// RawTick is a quote in integer ticks of 0.01.
type RawTick struct {
	Market  string
	Bid     int64
	Ask     int64
	Last    int64
	TsEvent int64
}

// Normalizer maps raw ticks of known markets to schema quotes.
type Normalizer struct {
	markets map[string]struct{}
}

// NewNormalizer creates a normalizer for markets.
func NewNormalizer(markets []string) *Normalizer {
	set := make(map[string]struct{}, len(markets))
	for _, m := range markets {
		set[m] = struct{}{}
	}
	return &Normalizer{markets: set}
}

// Normalize converts a raw tick into a quote. Zero sides are allowed and mean
// the side is empty; a crossed book is rejected.
func (n *Normalizer) Normalize(tick RawTick) (schema.Quote, error) {
	if _, ok := n.markets[tick.Market]; !ok {
		return schema.Quote{}, fmt.Errorf("market not found: %s", tick.Market)
	}
	for _, t := range []int64{tick.Bid, tick.Ask, tick.Last} {
		if t < 0 || t > maxTick {
			return schema.Quote{}, fmt.Errorf("market %s: tick %d out of range", tick.Market, t)
		}
	}
	if tick.Bid > 0 && tick.Ask > 0 && tick.Bid >= tick.Ask {
		return schema.Quote{}, fmt.Errorf("market %s: crossed book %d/%d", tick.Market, tick.Bid, tick.Ask)
	}
	return schema.Quote{
		Market: tick.Market,
		Bid:    decimal.New(tick.Bid, -2),
		Ask:    decimal.New(tick.Ask, -2),
		Last:   decimal.New(tick.Last, -2),
	}, nil
}
