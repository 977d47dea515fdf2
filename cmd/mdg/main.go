package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/logs"

	"github.com/proerror77/ploy-sub006/internal/mdg"
	"github.com/proerror77/ploy-sub006/internal/schema"
)

// mdg prints synthetic quotes as JSON lines, the same stream the trader's
// paper feed produces for a given seed.
func main() {
	markets := flag.String("markets", "btc-up-15m", "Comma-separated market ids")
	ticks := flag.Int("ticks", 10, "Number of rounds to generate")
	interval := flag.Duration("interval", 0, "Delay between rounds")
	seed := flag.Int64("seed", 1, "RNG seed")
	start := flag.Int64("start", 50, "Initial mid in ticks of 0.01")
	step := flag.Int64("step", 1, "Max mid move per round in ticks")
	spread := flag.Int64("spread", 1, "Half spread in ticks")
	flag.Parse()

	if *ticks <= 0 {
		logs.Errorf("ticks must be > 0")
		os.Exit(1)
	}

	enc := sonic.ConfigDefault.NewEncoder(os.Stdout)
	var published int
	feed, err := mdg.NewFeed(mdg.GeneratorConfig{
		Markets:     splitMarkets(*markets),
		Seed:        *seed,
		StartTick:   *start,
		StepTicks:   *step,
		SpreadTicks: *spread,
	}, time.Second, func(q schema.Quote) error {
		published++
		return enc.Encode(q)
	})
	if err != nil {
		logs.Errorf("feed init failed, err: %+v", err)
		os.Exit(1)
	}

	for i := 0; i < *ticks; i++ {
		if err := feed.Tick(); err != nil {
			logs.Errorf("publish failed, err: %+v", err)
			os.Exit(1)
		}
		if *interval > 0 && i < *ticks-1 {
			time.Sleep(*interval)
		}
	}
	fmt.Fprintf(os.Stderr, "quotes=%d\n", published)
}

func splitMarkets(s string) []string {
	var out []string
	for _, m := range strings.Split(s, ",") {
		if m = strings.TrimSpace(m); m != "" {
			out = append(out, m)
		}
	}
	return out
}
