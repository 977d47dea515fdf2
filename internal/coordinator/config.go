package coordinator

import (
	"fmt"
	"time"
)

const (
	defaultHealthInterval  = 5 * time.Second
	defaultHealthTimeout   = time.Second
	defaultMaxMissed       = 3
	defaultRefreshInterval = time.Second
	defaultCommandTimeout  = 2 * time.Second
	defaultCommandBuffer   = 16
	defaultDrainTimeout    = 10 * time.Second
)

// Config controls agent supervision. Zero values fall back to defaults.
type Config struct {
	HealthInterval time.Duration
	HealthTimeout  time.Duration
	// MaxMissedHealthChecks consecutive misses pause the agent.
	MaxMissedHealthChecks int
	RefreshInterval       time.Duration
	CommandTimeout        time.Duration
	CommandBuffer         int
	DrainTimeout          time.Duration
}

func (c Config) withDefaults() Config {
	if c.HealthInterval == 0 {
		c.HealthInterval = defaultHealthInterval
	}
	if c.HealthTimeout == 0 {
		c.HealthTimeout = defaultHealthTimeout
	}
	if c.MaxMissedHealthChecks == 0 {
		c.MaxMissedHealthChecks = defaultMaxMissed
	}
	if c.RefreshInterval == 0 {
		c.RefreshInterval = defaultRefreshInterval
	}
	if c.CommandTimeout == 0 {
		c.CommandTimeout = defaultCommandTimeout
	}
	if c.CommandBuffer == 0 {
		c.CommandBuffer = defaultCommandBuffer
	}
	if c.DrainTimeout == 0 {
		c.DrainTimeout = defaultDrainTimeout
	}
	return c
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	if c.HealthInterval <= 0 || c.HealthTimeout <= 0 || c.RefreshInterval <= 0 || c.CommandTimeout <= 0 || c.DrainTimeout <= 0 {
		return fmt.Errorf("invalid coordinator config: intervals and timeouts must be > 0")
	}
	if c.HealthTimeout >= c.HealthInterval {
		return fmt.Errorf("invalid coordinator config: HealthTimeout must be < HealthInterval")
	}
	if c.MaxMissedHealthChecks <= 0 {
		return fmt.Errorf("invalid coordinator config: MaxMissedHealthChecks must be > 0")
	}
	if c.CommandBuffer <= 0 {
		return fmt.Errorf("invalid coordinator config: CommandBuffer must be > 0")
	}
	return nil
}
