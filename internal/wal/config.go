package wal

import (
	"fmt"
	"time"
)

const (
	defaultSegmentMaxBytes int64 = 256 << 20
	defaultQueueSize             = 1024
	defaultBufferSize            = 64 * 1024
	defaultFilePrefix            = "events"
)

var defaultSegmentMaxDuration = time.Hour

// Config controls the event log.
type Config struct {
	Dir                string
	SegmentMaxBytes    int64
	SegmentMaxDuration time.Duration
	QueueSize          int
	BufferSize         int
	FilePrefix         string
	// SyncOnAppend fsyncs every record before Append returns.
	SyncOnAppend bool
	// SyncInterval fsyncs periodically when SyncOnAppend is off.
	SyncInterval time.Duration
}

// DefaultConfig returns a baseline configuration for the event log.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:                dir,
		SegmentMaxBytes:    defaultSegmentMaxBytes,
		SegmentMaxDuration: defaultSegmentMaxDuration,
		QueueSize:          defaultQueueSize,
		BufferSize:         defaultBufferSize,
		FilePrefix:         defaultFilePrefix,
		SyncOnAppend:       true,
	}
}

func (c Config) withDefaults() Config {
	if c.SegmentMaxBytes == 0 {
		c.SegmentMaxBytes = defaultSegmentMaxBytes
	}
	if c.QueueSize == 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.BufferSize == 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.FilePrefix == "" {
		c.FilePrefix = defaultFilePrefix
	}
	return c
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	if c.Dir == "" {
		return fmt.Errorf("invalid wal config: Dir is empty")
	}
	if c.SegmentMaxBytes <= 0 {
		return fmt.Errorf("invalid wal config: SegmentMaxBytes must be > 0")
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("invalid wal config: QueueSize must be > 0")
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("invalid wal config: BufferSize must be > 0")
	}
	if c.FilePrefix == "" {
		return fmt.Errorf("invalid wal config: FilePrefix is empty")
	}
	if c.SyncInterval < 0 || c.SegmentMaxDuration < 0 {
		return fmt.Errorf("invalid wal config: intervals must be >= 0")
	}
	return nil
}
