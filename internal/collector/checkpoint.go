package collector

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Checkpoint records the last block whose events reached the engine and the pools that
// were watched up to it.
type Checkpoint struct {
	ChainID   uint64   `json:"chain_id"`
	Block     uint64   `json:"block"`
	Pools     []string `json:"pools,omitempty"`
	UpdatedAt string   `json:"updated_at"`
}

// NewPools returns the pools in pools that the checkpoint was not watching. Their events
// before the checkpoint are never replayed.
func (cp Checkpoint) NewPools(pools []string) []string {
	watched := make(map[string]struct{}, len(cp.Pools))
	for _, p := range cp.Pools {
		watched[p] = struct{}{}
	}
	var added []string
	for _, p := range pools {
		if _, ok := watched[p]; !ok {
			added = append(added, p)
		}
	}
	return added
}

// CheckpointStore keeps the collector's resume point in a JSON file.
type CheckpointStore struct {
	path    string
	enabled bool
	pools   []string
}

func NewCheckpointStore(path string, enabled bool, pools []string) *CheckpointStore {
	return &CheckpointStore{path: path, enabled: enabled && path != "", pools: pools}
}

// Load returns the checkpoint of chainID. ok is false when none exists or checkpointing
// is disabled; a checkpoint written on another chain is an error.
func (c *CheckpointStore) Load(chainID uint64) (Checkpoint, bool, error) {
	if !c.enabled {
		return Checkpoint{}, false, nil
	}
	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Checkpoint{}, false, nil
		}
		return Checkpoint{}, false, fmt.Errorf("read checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, false, fmt.Errorf("parse checkpoint %s: %w", c.path, err)
	}
	if cp.ChainID != 0 && cp.ChainID != chainID {
		return Checkpoint{}, false, fmt.Errorf("checkpoint chain id %d does not match %d", cp.ChainID, chainID)
	}
	return cp, true, nil
}

// Save records block as handled. The file is replaced atomically so a crash leaves either
// the old or the new checkpoint.
func (c *CheckpointStore) Save(chainID, block uint64) error {
	if !c.enabled {
		return nil
	}
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	data, err := json.Marshal(Checkpoint{
		ChainID:   chainID,
		Block:     block,
		Pools:     c.pools,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(c.path)+".*")
	if err != nil {
		return fmt.Errorf("create checkpoint tmp: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write checkpoint tmp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close checkpoint tmp: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}
