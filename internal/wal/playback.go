package wal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/proerror77/ploy-sub006/internal/schema"
)

// PlaybackConfig controls replay.
type PlaybackConfig struct {
	Dir        string
	FilePrefix string
	// Speed paces replay by event time; zero replays as fast as possible.
	Speed           float64
	DisableChecksum bool
	MaxPayloadSize  int
}

// Clock allows deterministic playback control.
type Clock interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Playback replays records across segments in file order.
type Playback struct {
	cfg   PlaybackConfig
	clock Clock
}

// NewPlayback validates the config and creates a playback engine.
func NewPlayback(cfg PlaybackConfig) (*Playback, error) {
	if cfg.FilePrefix == "" {
		cfg.FilePrefix = defaultFilePrefix
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Playback{cfg: cfg, clock: realClock{}}, nil
}

// WithClock swaps the clock implementation.
func (p *Playback) WithClock(clock Clock) *Playback {
	if clock != nil {
		p.clock = clock
	}
	return p
}

// Validate checks if the config is usable.
func (c PlaybackConfig) Validate() error {
	if c.Dir == "" {
		return fmt.Errorf("invalid playback config: Dir is empty")
	}
	if c.Speed < 0 {
		return fmt.Errorf("invalid playback config: Speed must be >= 0")
	}
	if c.MaxPayloadSize < 0 {
		return fmt.Errorf("invalid playback config: MaxPayloadSize must be >= 0")
	}
	return nil
}

// Run replays records and calls handler for each one.
func (p *Playback) Run(ctx context.Context, handler func(schema.EventHeader, []byte) error) error {
	if handler == nil {
		return errors.New("playback handler is nil")
	}
	files, err := segmentFiles(p.cfg.Dir, p.cfg.FilePrefix)
	if err != nil {
		return err
	}
	var prevTS int64
	for _, path := range files {
		if err := p.playFile(ctx, path, handler, &prevTS); err != nil {
			return err
		}
	}
	return nil
}

func segmentFiles(dir, filePrefix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	prefix := filePrefix + "-"
	var files []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".wal") {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	sort.Strings(files)
	return files, nil
}

func (p *Playback) playFile(ctx context.Context, path string, handler func(schema.EventHeader, []byte) error, prevTS *int64) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	reader := NewReader(file, ReaderOptions{
		DisableChecksum: p.cfg.DisableChecksum,
		MaxPayloadSize:  p.cfg.MaxPayloadSize,
	})
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		header, payload, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		if err := p.pace(ctx, header, prevTS); err != nil {
			return err
		}
		if err := handler(header, payload); err != nil {
			return err
		}
	}
}

func (p *Playback) pace(ctx context.Context, header schema.EventHeader, prevTS *int64) error {
	if p.cfg.Speed <= 0 || header.TsEvent <= 0 {
		return nil
	}
	if *prevTS > 0 {
		if delta := header.TsEvent - *prevTS; delta > 0 {
			if err := p.clock.Sleep(ctx, time.Duration(float64(delta)/p.cfg.Speed)); err != nil {
				return err
			}
		}
	}
	*prevTS = header.TsEvent
	return nil
}
