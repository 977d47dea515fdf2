package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/logs"
)

const (
	checkpointFormat  = "ploy-checkpoint"
	checkpointVersion = 1
)

var (
	ErrCorruptCheckpoint = errors.New("persistence: corrupt checkpoint")
	ErrNoCheckpoint      = errors.New("persistence: no checkpoint")
)

var checkpointCRC = crc32.MakeTable(crc32.Castagnoli)

// State is one named, serialized subsystem state. Seq is the last event
// sequence folded into Data, zero for state that is not event sourced.
type State struct {
	Name string          `json:"name"`
	Seq  uint64          `json:"seq"`
	Data json.RawMessage `json:"data"`
}

// Checkpointable is any stateful subsystem that can be snapshotted and restored.
type Checkpointable interface {
	StateName() string
	Snapshot(ctx context.Context) (State, error)
	Restore(ctx context.Context, state State) error
}

// Checkpoint is the on-disk envelope.
type Checkpoint struct {
	Format    string    `json:"format"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	Checksum  uint32    `json:"checksum"`
	States    []State   `json:"states"`
}

// LastSeq returns the highest event sequence covered by the checkpoint.
func (c Checkpoint) LastSeq() uint64 {
	var seq uint64
	for _, s := range c.States {
		if s.Seq > seq {
			seq = s.Seq
		}
	}
	return seq
}

// State returns the state registered under name.
func (c Checkpoint) State(name string) (State, bool) {
	for _, s := range c.States {
		if s.Name == name {
			return s, true
		}
	}
	return State{}, false
}

func statesChecksum(states []State) (uint32, error) {
	data, err := sonic.ConfigStd.Marshal(states)
	if err != nil {
		return 0, err
	}
	return crc32.Checksum(data, checkpointCRC), nil
}

// WriteCheckpoint writes states to path atomically: temp file, fsync, rename, directory fsync.
func WriteCheckpoint(path string, states []State, at time.Time) (Checkpoint, error) {
	sorted := append([]State(nil), states...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	sum, err := statesChecksum(sorted)
	if err != nil {
		return Checkpoint{}, err
	}
	cp := Checkpoint{
		Format:    checkpointFormat,
		Version:   checkpointVersion,
		CreatedAt: at.UTC(),
		Checksum:  sum,
		States:    sorted,
	}
	data, err := sonic.ConfigStd.Marshal(cp)
	if err != nil {
		return Checkpoint{}, err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Checkpoint{}, err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return Checkpoint{}, err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return Checkpoint{}, err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return Checkpoint{}, err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return Checkpoint{}, err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return Checkpoint{}, err
	}
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return cp, nil
}

// ReadCheckpoint loads and verifies a checkpoint. A missing file returns ErrNoCheckpoint.
func ReadCheckpoint(path string) (Checkpoint, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Checkpoint{}, ErrNoCheckpoint
	}
	if err != nil {
		return Checkpoint{}, err
	}
	var cp Checkpoint
	if err := sonic.ConfigStd.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("%w: %v", ErrCorruptCheckpoint, err)
	}
	if cp.Format != checkpointFormat {
		return Checkpoint{}, fmt.Errorf("%w: unknown format %q", ErrCorruptCheckpoint, cp.Format)
	}
	if cp.Version < 1 || cp.Version > checkpointVersion {
		return Checkpoint{}, fmt.Errorf("%w: unsupported version %d", ErrCorruptCheckpoint, cp.Version)
	}
	sum, err := statesChecksum(cp.States)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("%w: %v", ErrCorruptCheckpoint, err)
	}
	if sum != cp.Checksum {
		return Checkpoint{}, fmt.Errorf("%w: checksum %08x != %08x", ErrCorruptCheckpoint, sum, cp.Checksum)
	}
	return cp, nil
}

// CheckpointConfig controls the checkpoint service.
type CheckpointConfig struct {
	Path     string
	Interval time.Duration
}

// Validate checks if the configuration is usable.
func (c CheckpointConfig) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("invalid checkpoint config: Path is empty")
	}
	if c.Interval < 0 {
		return fmt.Errorf("invalid checkpoint config: Interval must be >= 0")
	}
	return nil
}

// CheckpointService periodically serializes every registered Checkpointable.
type CheckpointService struct {
	cfg   CheckpointConfig
	items []Checkpointable
	now   func() time.Time
}

// NewCheckpointService creates a service over items.
func NewCheckpointService(cfg CheckpointConfig, items ...Checkpointable) (*CheckpointService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		if _, ok := seen[it.StateName()]; ok {
			return nil, fmt.Errorf("invalid checkpoint config: duplicate state %q", it.StateName())
		}
		seen[it.StateName()] = struct{}{}
	}
	return &CheckpointService{cfg: cfg, items: items, now: time.Now}, nil
}

// Path returns the checkpoint file path.
func (s *CheckpointService) Path() string {
	return s.cfg.Path
}

// Save snapshots every item and writes one checkpoint.
func (s *CheckpointService) Save(ctx context.Context) (Checkpoint, error) {
	states := make([]State, 0, len(s.items))
	for _, it := range s.items {
		st, err := it.Snapshot(ctx)
		if err != nil {
			return Checkpoint{}, fmt.Errorf("snapshot %s: %w", it.StateName(), err)
		}
		st.Name = it.StateName()
		states = append(states, st)
	}
	return WriteCheckpoint(s.cfg.Path, states, s.now())
}

// Load reads the checkpoint and restores every item found in it.
func (s *CheckpointService) Load(ctx context.Context) (Checkpoint, error) {
	cp, err := ReadCheckpoint(s.cfg.Path)
	if err != nil {
		return Checkpoint{}, err
	}
	for _, it := range s.items {
		st, ok := cp.State(it.StateName())
		if !ok {
			logs.Warnf("checkpoint %s has no state %s", s.cfg.Path, it.StateName())
			continue
		}
		if err := it.Restore(ctx, st); err != nil {
			return Checkpoint{}, fmt.Errorf("%w: restore %s: %v", ErrCorruptCheckpoint, it.StateName(), err)
		}
	}
	return cp, nil
}

// Run saves a checkpoint every Interval until ctx is done. Failures are logged
// and retried on the next tick.
func (s *CheckpointService) Run(ctx context.Context) {
	if s.cfg.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cp, err := s.Save(ctx)
			if err != nil {
				logs.Errorf("checkpoint failed, err: %+v", err)
				continue
			}
			logs.Debugf("checkpoint written at seq %d", cp.LastSeq())
		}
	}
}
