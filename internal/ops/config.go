// Package ops loads the trader configuration. Files are JSON or YAML; every
// key can be overridden with a PLOY_ environment variable, nesting joined by
// underscores (PLOY_RISK_DAILYLOSSLIMIT).
package ops

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/proerror77/ploy-sub006/internal/agent"
	"github.com/proerror77/ploy-sub006/internal/bus"
	"github.com/proerror77/ploy-sub006/internal/coordinator"
	"github.com/proerror77/ploy-sub006/internal/exchange"
	"github.com/proerror77/ploy-sub006/internal/execution"
	"github.com/proerror77/ploy-sub006/internal/mdg"
	"github.com/proerror77/ploy-sub006/internal/order"
	"github.com/proerror77/ploy-sub006/internal/persistence"
	"github.com/proerror77/ploy-sub006/internal/platform"
	"github.com/proerror77/ploy-sub006/internal/risk"
	"github.com/proerror77/ploy-sub006/internal/schema"
	"github.com/proerror77/ploy-sub006/internal/wal"
	"github.com/proerror77/ploy-sub006/pkg/conn"
)

const envPrefix = "PLOY"

// Event store drivers.
const (
	StoreMemory   = "memory"
	StoreWAL      = "wal"
	StorePostgres = conn.DriverPostgres
	StoreSQLite   = conn.DriverSQLite
)

// FileConfig mirrors the config file layout. Money and size fields are
// decimal strings.
type FileConfig struct {
	Store       StoreConfig       `mapstructure:"store"`
	Risk        RiskConfig        `mapstructure:"risk"`
	Queue       QueueConfig       `mapstructure:"queue"`
	Executor    ExecutorConfig    `mapstructure:"executor"`
	Platform    PlatformConfig    `mapstructure:"platform"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
	Checkpoint  CheckpointConfig  `mapstructure:"checkpoint"`
	DLQ         DLQConfig         `mapstructure:"dlq"`
	Router      RouterConfig      `mapstructure:"router"`
	Paper       PaperConfig       `mapstructure:"paper"`
	Chaos       ChaosConfig       `mapstructure:"chaos"`
	Feed        FeedConfig        `mapstructure:"feed"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Profiling   ProfilingConfig   `mapstructure:"profiling"`
	Agents      []AgentConfig     `mapstructure:"agents"`
}

// StoreConfig selects the event store.
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	// WALDir is used by the wal driver.
	WALDir       string `mapstructure:"walDir"`
	SyncOnAppend bool   `mapstructure:"syncOnAppend"`
	// DLQPath is the wal driver's dead-letter file, <walDir>/dlq.state when empty.
	DLQPath string `mapstructure:"dlqPath"`
	// DSN is used by the postgres driver, Path by sqlite.
	DSN          string        `mapstructure:"dsn"`
	Path         string        `mapstructure:"path"`
	MaxOpenConns int           `mapstructure:"maxOpenConns"`
	MaxIdleConns int           `mapstructure:"maxIdleConns"`
	ConnLifetime time.Duration `mapstructure:"connLifetime"`
}

type RiskConfig struct {
	MaxExposure      string `mapstructure:"maxExposure"`
	DailyLossLimit   string `mapstructure:"dailyLossLimit"`
	ElevatedDrawdown string `mapstructure:"elevatedDrawdown"`
	ResumeDrawdown   string `mapstructure:"resumeDrawdown"`
	HaltDrawdown     string `mapstructure:"haltDrawdown"`
	TightenFactor    string `mapstructure:"tightenFactor"`
	FeeRate          string `mapstructure:"feeRate"`
	MaxBreakerEvents int    `mapstructure:"maxBreakerEvents"`
}

type QueueConfig struct {
	MaxSize    int           `mapstructure:"maxSize"`
	DefaultTTL time.Duration `mapstructure:"defaultTtl"`
}

type ExecutorConfig struct {
	CallTimeout        time.Duration `mapstructure:"callTimeout"`
	MaxAttempts        int           `mapstructure:"maxAttempts"`
	InitialBackoff     time.Duration `mapstructure:"initialBackoff"`
	MaxBackoff         time.Duration `mapstructure:"maxBackoff"`
	Multiplier         float64       `mapstructure:"multiplier"`
	Jitter             float64       `mapstructure:"jitter"`
	BreakerFailures    uint32        `mapstructure:"breakerFailures"`
	BreakerOpenTimeout time.Duration `mapstructure:"breakerOpenTimeout"`
}

type PlatformConfig struct {
	Workers       int           `mapstructure:"workers"`
	InboxSize     int           `mapstructure:"inboxSize"`
	SweepInterval time.Duration `mapstructure:"sweepInterval"`
	DrainTimeout  time.Duration `mapstructure:"drainTimeout"`
	StoreTimeout  time.Duration `mapstructure:"storeTimeout"`
	InitialCash   string        `mapstructure:"initialCash"`
}

type CoordinatorConfig struct {
	HealthInterval        time.Duration `mapstructure:"healthInterval"`
	HealthTimeout         time.Duration `mapstructure:"healthTimeout"`
	MaxMissedHealthChecks int           `mapstructure:"maxMissedHealthChecks"`
	RefreshInterval       time.Duration `mapstructure:"refreshInterval"`
	CommandTimeout        time.Duration `mapstructure:"commandTimeout"`
}

type CheckpointConfig struct {
	Path     string        `mapstructure:"path"`
	Interval time.Duration `mapstructure:"interval"`
}

type DLQConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	InitialBackoff time.Duration `mapstructure:"initialBackoff"`
	MaxBackoff     time.Duration `mapstructure:"maxBackoff"`
	Multiplier     float64       `mapstructure:"multiplier"`
	MaxAttempts    int           `mapstructure:"maxAttempts"`
	BatchSize      int           `mapstructure:"batchSize"`
}

type RouterConfig struct {
	InboxSize     int `mapstructure:"inboxSize"`
	DefaultBuffer int `mapstructure:"defaultBuffer"`
}

type PaperConfig struct {
	FeeRate   string `mapstructure:"feeRate"`
	FillRatio string `mapstructure:"fillRatio"`
}

// ChaosConfig wraps the paper venue with fault injection when Enabled.
type ChaosConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Seed          int64         `mapstructure:"seed"`
	FailRate      float64       `mapstructure:"failRate"`
	LostReplyRate float64       `mapstructure:"lostReplyRate"`
	RejectRate    float64       `mapstructure:"rejectRate"`
	MaxDelay      time.Duration `mapstructure:"maxDelay"`
}

// FeedConfig drives the synthetic quote feed over every agent market.
type FeedConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	Seed        int64         `mapstructure:"seed"`
	StepTicks   int64         `mapstructure:"stepTicks"`
	SpreadTicks int64         `mapstructure:"spreadTicks"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// ProfilingConfig enables continuous profiling when ServerAddress is set.
type ProfilingConfig struct {
	AppName       string `mapstructure:"appName"`
	ServerAddress string `mapstructure:"serverAddress"`
}

type AgentConfig struct {
	ID            string          `mapstructure:"id"`
	Domain        string          `mapstructure:"domain"`
	Markets       []string        `mapstructure:"markets"`
	Buffer        int             `mapstructure:"buffer"`
	CloseSlippage string          `mapstructure:"closeSlippage"`
	Limits        LimitsConfig    `mapstructure:"limits"`
	Threshold     ThresholdConfig `mapstructure:"threshold"`
}

type LimitsConfig struct {
	MaxOrderSize    string        `mapstructure:"maxOrderSize"`
	MaxPosition     string        `mapstructure:"maxPosition"`
	MaxExposure     string        `mapstructure:"maxExposure"`
	OrdersPerSec    float64       `mapstructure:"ordersPerSec"`
	OrderBurst      int           `mapstructure:"orderBurst"`
	DefaultTTL      time.Duration `mapstructure:"defaultTtl"`
	DefaultPriority string        `mapstructure:"defaultPriority"`
}

type ThresholdConfig struct {
	Market      string `mapstructure:"market"`
	Size        string `mapstructure:"size"`
	BuyBelow    string `mapstructure:"buyBelow"`
	SellAbove   string `mapstructure:"sellAbove"`
	MaxPosition string `mapstructure:"maxPosition"`
}

// StoreSpec is the resolved event store selection.
type StoreSpec struct {
	Driver  string
	WAL     wal.Config
	DLQPath string
	Conn    conn.Option
}

// AgentSpec is one resolved agent with its scripted strategy.
type AgentSpec struct {
	Agent     agent.Config
	Threshold agent.ThresholdConfig
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Store       StoreSpec
	Platform    platform.Config
	Executor    execution.ExecutorConfig
	Coordinator coordinator.Config
	Checkpoint  persistence.CheckpointConfig
	DLQ         persistence.DLQConfig
	Router      bus.RouterConfig
	Paper       exchange.PaperConfig
	// Chaos is nil when fault injection is disabled.
	Chaos *exchange.ChaosConfig
	// Feed covers Markets, the union of agent markets in config order.
	Feed         mdg.GeneratorConfig
	FeedInterval time.Duration
	Metrics      MetricsConfig
	Profiling    ProfilingConfig
	Agents       []AgentSpec
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", StoreWAL)
	v.SetDefault("store.walDir", "data/events")
	v.SetDefault("store.syncOnAppend", true)

	rc := risk.DefaultConfig()
	v.SetDefault("risk.maxExposure", rc.MaxExposure.String())
	v.SetDefault("risk.dailyLossLimit", rc.DailyLossLimit.String())
	v.SetDefault("risk.elevatedDrawdown", rc.ElevatedDrawdown.String())
	v.SetDefault("risk.resumeDrawdown", rc.ResumeDrawdown.String())
	v.SetDefault("risk.tightenFactor", rc.TightenFactor.String())
	v.SetDefault("risk.maxBreakerEvents", rc.MaxBreakerEvents)

	v.SetDefault("queue.maxSize", 1024)
	v.SetDefault("queue.defaultTtl", "30s")

	ec := execution.DefaultExecutorConfig()
	v.SetDefault("executor.callTimeout", ec.CallTimeout)
	v.SetDefault("executor.maxAttempts", ec.MaxAttempts)
	v.SetDefault("executor.initialBackoff", ec.InitialBackoff)
	v.SetDefault("executor.maxBackoff", ec.MaxBackoff)
	v.SetDefault("executor.multiplier", ec.Multiplier)
	v.SetDefault("executor.jitter", ec.Jitter)
	v.SetDefault("executor.breakerFailures", ec.BreakerFailures)
	v.SetDefault("executor.breakerOpenTimeout", ec.BreakerOpenTimeout)

	v.SetDefault("platform.workers", 4)
	v.SetDefault("platform.sweepInterval", "250ms")
	v.SetDefault("platform.drainTimeout", "10s")
	v.SetDefault("platform.initialCash", "10000")

	v.SetDefault("coordinator.healthInterval", "5s")
	v.SetDefault("coordinator.healthTimeout", "1s")
	v.SetDefault("coordinator.maxMissedHealthChecks", 3)
	v.SetDefault("coordinator.refreshInterval", "1s")
	v.SetDefault("coordinator.commandTimeout", "2s")

	v.SetDefault("checkpoint.path", "data/state.ckpt")
	v.SetDefault("checkpoint.interval", "1m")

	dc := persistence.DefaultDLQConfig()
	v.SetDefault("dlq.interval", dc.Interval)
	v.SetDefault("dlq.initialBackoff", dc.InitialBackoff)
	v.SetDefault("dlq.maxBackoff", dc.MaxBackoff)
	v.SetDefault("dlq.multiplier", dc.Multiplier)
	v.SetDefault("dlq.maxAttempts", dc.MaxAttempts)
	v.SetDefault("dlq.batchSize", dc.BatchSize)

	v.SetDefault("feed.interval", "500ms")
	v.SetDefault("feed.stepTicks", 1)
	v.SetDefault("feed.spreadTicks", 1)

	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("profiling.appName", "ploy.trader")
}

// Load reads a config file, applies PLOY_ environment overrides and resolves
// it. An empty path loads defaults and environment only.
func Load(path string) (Loaded, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Loaded{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var cfg FileConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return Loaded{}, fmt.Errorf("decode config: %w", err)
	}
	return Resolve(cfg)
}

// Resolve validates a file layout and turns it into component configs.
func Resolve(cfg FileConfig) (Loaded, error) {
	var (
		out Loaded
		err error
	)
	if out.Store, err = resolveStore(cfg.Store); err != nil {
		return Loaded{}, err
	}

	riskCfg, err := resolveRisk(cfg.Risk)
	if err != nil {
		return Loaded{}, err
	}
	queueCfg := order.QueueConfig{MaxSize: cfg.Queue.MaxSize, DefaultTTL: cfg.Queue.DefaultTTL}
	if err := queueCfg.Validate(); err != nil {
		return Loaded{}, err
	}
	cash, err := parseDecimal("platform.initialCash", cfg.Platform.InitialCash)
	if err != nil {
		return Loaded{}, err
	}
	out.Platform = platform.Config{
		Workers:       cfg.Platform.Workers,
		InboxSize:     cfg.Platform.InboxSize,
		SweepInterval: cfg.Platform.SweepInterval,
		DrainTimeout:  cfg.Platform.DrainTimeout,
		StoreTimeout:  cfg.Platform.StoreTimeout,
		InitialCash:   cash,
		Queue:         queueCfg,
		Risk:          riskCfg,
	}

	out.Executor = execution.DefaultExecutorConfig()
	out.Executor.CallTimeout = cfg.Executor.CallTimeout
	out.Executor.MaxAttempts = cfg.Executor.MaxAttempts
	out.Executor.InitialBackoff = cfg.Executor.InitialBackoff
	out.Executor.MaxBackoff = cfg.Executor.MaxBackoff
	out.Executor.Multiplier = cfg.Executor.Multiplier
	out.Executor.Jitter = cfg.Executor.Jitter
	out.Executor.BreakerFailures = cfg.Executor.BreakerFailures
	out.Executor.BreakerOpenTimeout = cfg.Executor.BreakerOpenTimeout
	if err := out.Executor.Validate(); err != nil {
		return Loaded{}, err
	}

	out.Coordinator = coordinator.Config{
		HealthInterval:        cfg.Coordinator.HealthInterval,
		HealthTimeout:         cfg.Coordinator.HealthTimeout,
		MaxMissedHealthChecks: cfg.Coordinator.MaxMissedHealthChecks,
		RefreshInterval:       cfg.Coordinator.RefreshInterval,
		CommandTimeout:        cfg.Coordinator.CommandTimeout,
		DrainTimeout:          cfg.Platform.DrainTimeout,
	}
	if err := out.Coordinator.Validate(); err != nil {
		return Loaded{}, err
	}

	out.Checkpoint = persistence.CheckpointConfig{Path: cfg.Checkpoint.Path, Interval: cfg.Checkpoint.Interval}
	if err := out.Checkpoint.Validate(); err != nil {
		return Loaded{}, err
	}
	out.DLQ = persistence.DLQConfig{
		Interval:       cfg.DLQ.Interval,
		InitialBackoff: cfg.DLQ.InitialBackoff,
		MaxBackoff:     cfg.DLQ.MaxBackoff,
		Multiplier:     cfg.DLQ.Multiplier,
		MaxAttempts:    cfg.DLQ.MaxAttempts,
		BatchSize:      cfg.DLQ.BatchSize,
	}
	if err := out.DLQ.Validate(); err != nil {
		return Loaded{}, err
	}
	out.Router = bus.RouterConfig{InboxSize: cfg.Router.InboxSize, DefaultBuffer: cfg.Router.DefaultBuffer}

	if out.Paper, err = resolvePaper(cfg.Paper, cash); err != nil {
		return Loaded{}, err
	}
	if cfg.Chaos.Enabled {
		cc := exchange.ChaosConfig{
			Seed:          cfg.Chaos.Seed,
			FailRate:      cfg.Chaos.FailRate,
			LostReplyRate: cfg.Chaos.LostReplyRate,
			RejectRate:    cfg.Chaos.RejectRate,
			MaxDelay:      cfg.Chaos.MaxDelay,
		}
		if err := cc.Validate(); err != nil {
			return Loaded{}, err
		}
		out.Chaos = &cc
	}
	out.Metrics = cfg.Metrics
	out.Profiling = cfg.Profiling

	seen := make(map[string]struct{}, len(cfg.Agents))
	for i, ac := range cfg.Agents {
		spec, err := resolveAgent(ac)
		if err != nil {
			return Loaded{}, fmt.Errorf("agents[%d]: %w", i, err)
		}
		if _, ok := seen[spec.Agent.ID]; ok {
			return Loaded{}, fmt.Errorf("agents[%d]: duplicate id %s", i, spec.Agent.ID)
		}
		seen[spec.Agent.ID] = struct{}{}
		out.Agents = append(out.Agents, spec)
	}

	if cfg.Feed.Interval <= 0 {
		return Loaded{}, fmt.Errorf("invalid feed config: interval must be > 0")
	}
	out.FeedInterval = cfg.Feed.Interval
	out.Feed = mdg.GeneratorConfig{
		Markets:     agentMarkets(out.Agents),
		Seed:        cfg.Feed.Seed,
		StepTicks:   cfg.Feed.StepTicks,
		SpreadTicks: cfg.Feed.SpreadTicks,
	}
	return out, nil
}

func agentMarkets(agents []AgentSpec) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, a := range agents {
		for _, m := range append(append([]string(nil), a.Agent.Markets...), a.Threshold.Market) {
			if _, ok := seen[m]; ok || m == "" {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
		}
	}
	return out
}

func resolveStore(cfg StoreConfig) (StoreSpec, error) {
	spec := StoreSpec{Driver: strings.ToLower(cfg.Driver)}
	switch spec.Driver {
	case StoreMemory:
	case StoreWAL:
		spec.WAL = wal.DefaultConfig(cfg.WALDir)
		spec.WAL.SyncOnAppend = cfg.SyncOnAppend
		if err := spec.WAL.Validate(); err != nil {
			return StoreSpec{}, err
		}
		spec.DLQPath = cfg.DLQPath
		if spec.DLQPath == "" {
			spec.DLQPath = filepath.Join(cfg.WALDir, defaultDLQFile)
		}
	case StorePostgres, StoreSQLite:
		spec.Conn = conn.Option{
			Driver:          spec.Driver,
			ConnString:      cfg.DSN,
			Path:            cfg.Path,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnLifetime,
		}
		if spec.Driver == StoreSQLite && cfg.Path == "" {
			return StoreSpec{}, fmt.Errorf("invalid store config: sqlite path is empty")
		}
	default:
		return StoreSpec{}, fmt.Errorf("invalid store config: unknown driver %q", cfg.Driver)
	}
	return spec, nil
}

func resolveRisk(cfg RiskConfig) (risk.Config, error) {
	out := risk.Config{Version: 1, MaxBreakerEvents: cfg.MaxBreakerEvents}
	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"risk.maxExposure", cfg.MaxExposure, &out.MaxExposure},
		{"risk.dailyLossLimit", cfg.DailyLossLimit, &out.DailyLossLimit},
		{"risk.elevatedDrawdown", cfg.ElevatedDrawdown, &out.ElevatedDrawdown},
		{"risk.resumeDrawdown", cfg.ResumeDrawdown, &out.ResumeDrawdown},
		{"risk.haltDrawdown", cfg.HaltDrawdown, &out.HaltDrawdown},
		{"risk.tightenFactor", cfg.TightenFactor, &out.TightenFactor},
		{"risk.feeRate", cfg.FeeRate, &out.FeeRate},
	}
	for _, f := range fields {
		d, err := parseDecimal(f.name, f.raw)
		if err != nil {
			return risk.Config{}, err
		}
		*f.dst = d
	}
	if err := out.Validate(); err != nil {
		return risk.Config{}, err
	}
	return out, nil
}

func resolvePaper(cfg PaperConfig, cash decimal.Decimal) (exchange.PaperConfig, error) {
	fee, err := parseDecimal("paper.feeRate", cfg.FeeRate)
	if err != nil {
		return exchange.PaperConfig{}, err
	}
	ratio, err := parseDecimal("paper.fillRatio", cfg.FillRatio)
	if err != nil {
		return exchange.PaperConfig{}, err
	}
	out := exchange.PaperConfig{InitialCash: cash, FeeRate: fee, FillRatio: ratio}
	if err := out.Validate(); err != nil {
		return exchange.PaperConfig{}, err
	}
	return out, nil
}

func resolveAgent(cfg AgentConfig) (AgentSpec, error) {
	slip, err := parseDecimal("closeSlippage", cfg.CloseSlippage)
	if err != nil {
		return AgentSpec{}, err
	}
	limits, err := resolveLimits(cfg.Limits)
	if err != nil {
		return AgentSpec{}, err
	}
	domain, err := parseDomain(cfg.Domain)
	if err != nil {
		return AgentSpec{}, err
	}
	ac := agent.Config{
		ID:            cfg.ID,
		Domain:        domain,
		Markets:       cfg.Markets,
		Params:        limits,
		Buffer:        cfg.Buffer,
		CloseSlippage: slip,
	}
	if ac.Buffer == 0 {
		ac.Buffer = 256
	}
	if err := ac.Validate(); err != nil {
		return AgentSpec{}, err
	}

	market := cfg.Threshold.Market
	if market == "" && len(cfg.Markets) > 0 {
		market = cfg.Markets[0]
	}
	tc := agent.ThresholdConfig{Market: market}
	for _, f := range []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"threshold.size", cfg.Threshold.Size, &tc.Size},
		{"threshold.buyBelow", cfg.Threshold.BuyBelow, &tc.BuyBelow},
		{"threshold.sellAbove", cfg.Threshold.SellAbove, &tc.SellAbove},
		{"threshold.maxPosition", cfg.Threshold.MaxPosition, &tc.MaxPosition},
	} {
		if *f.dst, err = parseDecimal(f.name, f.raw); err != nil {
			return AgentSpec{}, err
		}
	}
	if err := tc.Validate(); err != nil {
		return AgentSpec{}, err
	}
	return AgentSpec{Agent: ac, Threshold: tc}, nil
}

func resolveLimits(cfg LimitsConfig) (schema.AgentRiskParams, error) {
	out := schema.AgentRiskParams{
		OrdersPerSec: cfg.OrdersPerSec,
		OrderBurst:   cfg.OrderBurst,
		DefaultTTL:   cfg.DefaultTTL,
	}
	var err error
	if out.MaxOrderSize, err = parseDecimal("limits.maxOrderSize", cfg.MaxOrderSize); err != nil {
		return out, err
	}
	if out.MaxPosition, err = parseDecimal("limits.maxPosition", cfg.MaxPosition); err != nil {
		return out, err
	}
	if out.MaxExposure, err = parseDecimal("limits.maxExposure", cfg.MaxExposure); err != nil {
		return out, err
	}
	if out.MaxOrderSize.IsNegative() || out.MaxPosition.IsNegative() || out.MaxExposure.IsNegative() {
		return out, fmt.Errorf("invalid agent limits: must be >= 0")
	}
	if out.OrdersPerSec < 0 || out.OrderBurst < 0 {
		return out, fmt.Errorf("invalid agent limits: rate must be >= 0")
	}
	switch strings.ToLower(cfg.DefaultPriority) {
	case "":
	case "low":
		out.DefaultPriority = schema.PriorityLow
	case "normal":
		out.DefaultPriority = schema.PriorityNormal
	case "urgent":
		out.DefaultPriority = schema.PriorityUrgent
	default:
		return out, fmt.Errorf("invalid agent limits: unknown priority %q", cfg.DefaultPriority)
	}
	return out, nil
}

func parseDomain(s string) (schema.Domain, error) {
	switch d := schema.Domain(strings.ToLower(s)); d {
	case schema.DomainCrypto, schema.DomainSports, schema.DomainPolitics, schema.DomainEventEdge:
		return d, nil
	default:
		return "", fmt.Errorf("invalid agent config: unknown domain %q", s)
	}
}

// parseDecimal treats an empty string as zero.
func parseDecimal(name, s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	return d, nil
}
