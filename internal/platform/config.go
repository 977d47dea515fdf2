package platform

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/proerror77/ploy-sub006/internal/order"
	"github.com/proerror77/ploy-sub006/internal/risk"
	"github.com/proerror77/ploy-sub006/internal/schema"
)

const (
	defaultWorkers       = 4
	defaultInboxSize     = 1024
	defaultSweepInterval = 250 * time.Millisecond
	defaultDrainTimeout  = 10 * time.Second
	defaultStoreTimeout  = 5 * time.Second
	defaultQuoteBuffer   = 1024
)

// Config controls the order platform. Zero values fall back to defaults.
type Config struct {
	Workers       int
	InboxSize     int
	QuoteBuffer   int
	SweepInterval time.Duration
	DrainTimeout  time.Duration
	StoreTimeout  time.Duration

	InitialCash   decimal.Decimal
	DefaultParams schema.AgentRiskParams

	Queue order.QueueConfig
	Risk  risk.Config
}

func (c Config) withDefaults() Config {
	if c.Workers == 0 {
		c.Workers = defaultWorkers
	}
	if c.InboxSize == 0 {
		c.InboxSize = defaultInboxSize
	}
	if c.QuoteBuffer == 0 {
		c.QuoteBuffer = defaultQuoteBuffer
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = defaultSweepInterval
	}
	if c.DrainTimeout == 0 {
		c.DrainTimeout = defaultDrainTimeout
	}
	if c.StoreTimeout == 0 {
		c.StoreTimeout = defaultStoreTimeout
	}
	return c
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("invalid platform config: Workers must be > 0")
	}
	if c.InboxSize <= 0 {
		return fmt.Errorf("invalid platform config: InboxSize must be > 0")
	}
	if c.SweepInterval <= 0 || c.DrainTimeout <= 0 || c.StoreTimeout <= 0 {
		return fmt.Errorf("invalid platform config: intervals must be > 0")
	}
	if c.InitialCash.IsNegative() {
		return fmt.Errorf("invalid platform config: InitialCash must be >= 0")
	}
	if c.DefaultParams.MaxOrderSize.IsNegative() || c.DefaultParams.MaxPosition.IsNegative() || c.DefaultParams.MaxExposure.IsNegative() {
		return fmt.Errorf("invalid platform config: agent limits must be >= 0")
	}
	return nil
}
