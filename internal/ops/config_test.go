package ops

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proerror77/ploy-sub006/internal/schema"
)

const sample = `
store:
  driver: sqlite
  path: ":memory:"
risk:
  maxExposure: "2500"
  dailyLossLimit: "200"
  elevatedDrawdown: "100"
  resumeDrawdown: "40"
  haltDrawdown: "180"
  feeRate: "0.01"
queue:
  maxSize: 64
  defaultTtl: 15s
platform:
  workers: 2
  initialCash: "5000"
coordinator:
  healthInterval: 2s
  healthTimeout: 500ms
chaos:
  enabled: true
  seed: 7
  failRate: 0.1
paper:
  fillRatio: "0.5"
agents:
  - id: btc-updown
    domain: crypto
    markets: [btc-up-15m]
    limits:
      maxOrderSize: "50"
      maxExposure: "500"
      ordersPerSec: 2
      orderBurst: 4
      defaultPriority: urgent
    threshold:
      size: "10"
      buyBelow: "0.35"
      sellAbove: "0.65"
      maxPosition: "30"
`

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, "trader.yaml", sample))
	require.NoError(t, err)

	assert.Equal(t, StoreSQLite, cfg.Store.Driver)
	assert.Equal(t, ":memory:", cfg.Store.Conn.Path)

	r := cfg.Platform.Risk
	assert.Equal(t, "2500", r.MaxExposure.String())
	assert.Equal(t, "180", r.HaltDrawdown.String())
	assert.Equal(t, "0.01", r.FeeRate.String())
	assert.Equal(t, 64, cfg.Platform.Queue.MaxSize)
	assert.Equal(t, 15*time.Second, cfg.Platform.Queue.DefaultTTL)
	assert.Equal(t, 2, cfg.Platform.Workers)
	assert.Equal(t, "5000", cfg.Platform.InitialCash.String())
	assert.Equal(t, "5000", cfg.Paper.InitialCash.String())
	assert.Equal(t, "0.5", cfg.Paper.FillRatio.String())

	assert.Equal(t, 2*time.Second, cfg.Coordinator.HealthInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.Coordinator.HealthTimeout)
	assert.Equal(t, 3, cfg.Coordinator.MaxMissedHealthChecks)
	assert.Equal(t, 10*time.Second, cfg.Coordinator.DrainTimeout)

	require.NotNil(t, cfg.Chaos)
	assert.Equal(t, int64(7), cfg.Chaos.Seed)
	assert.InDelta(t, 0.1, cfg.Chaos.FailRate, 1e-9)

	assert.Equal(t, 4, cfg.Executor.MaxAttempts)
	assert.Equal(t, 5, cfg.DLQ.MaxAttempts)
	assert.Equal(t, "data/state.ckpt", cfg.Checkpoint.Path)

	require.Len(t, cfg.Agents, 1)
	a := cfg.Agents[0]
	assert.Equal(t, "btc-updown", a.Agent.ID)
	assert.Equal(t, schema.DomainCrypto, a.Agent.Domain)
	assert.Equal(t, "50", a.Agent.Params.MaxOrderSize.String())
	assert.Equal(t, schema.PriorityUrgent, a.Agent.Params.DefaultPriority)
	assert.Equal(t, 4, a.Agent.Params.OrderBurst)
	assert.Equal(t, "btc-up-15m", a.Threshold.Market)
	assert.Equal(t, "0.35", a.Threshold.BuyBelow.String())

	assert.Equal(t, []string{"btc-up-15m"}, cfg.Feed.Markets)
	assert.Equal(t, 500*time.Millisecond, cfg.FeedInterval)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, StoreWAL, cfg.Store.Driver)
	assert.Equal(t, "data/events", cfg.Store.WAL.Dir)
	assert.True(t, cfg.Store.WAL.SyncOnAppend)
	assert.Equal(t, filepath.Join("data", "events", "dlq.state"), cfg.Store.DLQPath)
	assert.Nil(t, cfg.Chaos)
	assert.Empty(t, cfg.Agents)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("PLOY_RISK_DAILYLOSSLIMIT", "75")
	t.Setenv("PLOY_STORE_DRIVER", "memory")
	cfg, err := Load(writeConfig(t, "trader.yaml", sample))
	require.NoError(t, err)
	assert.Equal(t, "75", cfg.Platform.Risk.DailyLossLimit.String())
	assert.Equal(t, StoreMemory, cfg.Store.Driver)
}

func TestLoadJSON(t *testing.T) {
	path := writeConfig(t, "trader.json", `{"store":{"driver":"memory"},"risk":{"maxExposure":"100","dailyLossLimit":"10","elevatedDrawdown":"0"}}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "100", cfg.Platform.Risk.MaxExposure.String())
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown driver", "store:\n  driver: mongo\n"},
		{"bad decimal", "risk:\n  maxExposure: lots\n"},
		{"hysteresis", "risk:\n  elevatedDrawdown: \"50\"\n  resumeDrawdown: \"60\"\n"},
		{"health timeout", "coordinator:\n  healthInterval: 1s\n  healthTimeout: 2s\n"},
		{"chaos rate", "chaos:\n  enabled: true\n  failRate: 2\n"},
		{"unknown domain", "agents:\n  - id: a\n    domain: weather\n    threshold: {size: \"1\", buyBelow: \"0.2\", sellAbove: \"0.8\"}\n"},
		{"missing threshold", "agents:\n  - id: a\n    domain: sports\n    markets: [m]\n"},
		{"duplicate agent", "agents:\n" +
			"  - {id: a, domain: sports, markets: [m], threshold: {size: \"1\", buyBelow: \"0.2\", sellAbove: \"0.8\"}}\n" +
			"  - {id: a, domain: sports, markets: [m], threshold: {size: \"1\", buyBelow: \"0.2\", sellAbove: \"0.8\"}}\n"},
		{"bad priority", "agents:\n  - id: a\n    domain: sports\n    markets: [m]\n    limits: {defaultPriority: asap}\n    threshold: {size: \"1\", buyBelow: \"0.2\", sellAbove: \"0.8\"}\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "trader.yaml", tc.body))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
