package risk

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Config defines the platform risk limits and the circuit-breaker thresholds.
//
// Drawdown thresholds are measured from the intraday PnL peak. ResumeDrawdown is
// the hysteresis level below which an Elevated gate relaxes back to Normal.
type Config struct {
	Version          uint16          `json:"version"`
	MaxExposure      decimal.Decimal `json:"maxExposure"`
	DailyLossLimit   decimal.Decimal `json:"dailyLossLimit"`
	ElevatedDrawdown decimal.Decimal `json:"elevatedDrawdown"`
	ResumeDrawdown   decimal.Decimal `json:"resumeDrawdown"`
	HaltDrawdown     decimal.Decimal `json:"haltDrawdown"`
	TightenFactor    decimal.Decimal `json:"tightenFactor"`
	FeeRate          decimal.Decimal `json:"feeRate"`
	MaxBreakerEvents int             `json:"maxBreakerEvents"`
}

const defaultMaxBreakerEvents = 256

// DefaultConfig returns conservative limits for paper trading.
func DefaultConfig() Config {
	return Config{
		Version:          1,
		MaxExposure:      decimal.NewFromInt(10_000),
		DailyLossLimit:   decimal.NewFromInt(500),
		ElevatedDrawdown: decimal.NewFromInt(250),
		ResumeDrawdown:   decimal.NewFromInt(100),
		TightenFactor:    decimal.RequireFromString("0.5"),
		MaxBreakerEvents: defaultMaxBreakerEvents,
	}
}

func (c Config) withDefaults() Config {
	if c.TightenFactor.IsZero() {
		c.TightenFactor = decimal.NewFromInt(1)
	}
	if c.MaxBreakerEvents == 0 {
		c.MaxBreakerEvents = defaultMaxBreakerEvents
	}
	return c
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	if !c.MaxExposure.IsPositive() {
		return fmt.Errorf("invalid risk config: MaxExposure must be > 0")
	}
	if !c.DailyLossLimit.IsPositive() {
		return fmt.Errorf("invalid risk config: DailyLossLimit must be > 0")
	}
	if c.ElevatedDrawdown.IsNegative() || c.ResumeDrawdown.IsNegative() || c.HaltDrawdown.IsNegative() {
		return fmt.Errorf("invalid risk config: drawdown thresholds must be >= 0")
	}
	if c.ElevatedDrawdown.IsPositive() && c.ResumeDrawdown.GreaterThanOrEqual(c.ElevatedDrawdown) {
		return fmt.Errorf("invalid risk config: ResumeDrawdown must be < ElevatedDrawdown")
	}
	if c.HaltDrawdown.IsPositive() && c.ElevatedDrawdown.IsPositive() && c.HaltDrawdown.LessThanOrEqual(c.ElevatedDrawdown) {
		return fmt.Errorf("invalid risk config: HaltDrawdown must be > ElevatedDrawdown")
	}
	if !c.TightenFactor.IsZero() && (c.TightenFactor.IsNegative() || c.TightenFactor.GreaterThan(decimal.NewFromInt(1))) {
		return fmt.Errorf("invalid risk config: TightenFactor must be in (0, 1]")
	}
	if c.FeeRate.IsNegative() {
		return fmt.Errorf("invalid risk config: FeeRate must be >= 0")
	}
	if c.MaxBreakerEvents < 0 {
		return fmt.Errorf("invalid risk config: MaxBreakerEvents must be >= 0")
	}
	return nil
}
