package train

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Checkpoint directory layout. A checkpoint dir holds the learner's
// opaque model artifact, an optional replay-state artifact, and the
// metadata envelope. Model slots carry the same layout minus the replay
// artifact.
const (
	ModelArtifact  = "model.zip"
	ReplayArtifact = "replay_buffer.bin"
	MetadataFile   = "metadata.json"

	// Automatic checkpoint names, distinct from user-named slots.
	CheckpointLatest = "latest"
	CheckpointFinal  = "final"
	CheckpointBest   = "best"
)

// Metadata is the envelope persisted next to the learner artifacts. It
// is the only part of a checkpoint whose format this package owns.
type Metadata struct {
	TotalTimestepsTrained int    `json:"total_timesteps_trained"`
	NumTimesteps          int    `json:"num_timesteps"`
	Config                Config `json:"config"`
	BestLines             int    `json:"best_lines,omitempty"`
}

// SaveMetadata writes the envelope into dir, creating it if needed.
func SaveMetadata(dir string, md Metadata) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("save metadata: %w", err)
	}
	raw, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return fmt.Errorf("save metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, MetadataFile), raw, 0o644); err != nil {
		return fmt.Errorf("save metadata: %w", err)
	}
	return nil
}

// ErrNoMetadata reports a checkpoint directory without an envelope.
var ErrNoMetadata = errors.New("checkpoint has no metadata envelope")

// LoadMetadata reads the envelope from dir.
func LoadMetadata(dir string) (Metadata, error) {
	raw, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	if err != nil {
		if os.IsNotExist(err) {
			return Metadata{}, ErrNoMetadata
		}
		return Metadata{}, fmt.Errorf("load metadata: %w", err)
	}
	var md Metadata
	if err := json.Unmarshal(raw, &md); err != nil {
		return Metadata{}, fmt.Errorf("load metadata: %w", err)
	}
	return md, nil
}

// SaveCheckpoint persists the learner's artifacts plus the envelope into
// a named checkpoint dir under baseDir.
func SaveCheckpoint(learner Learner, baseDir, name string, md Metadata) error {
	dir := filepath.Join(baseDir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", name, err)
	}
	if err := learner.Save(dir); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", name, err)
	}
	return SaveMetadata(dir, md)
}

// LoadCheckpoint restores the learner's artifacts from a checkpoint dir
// and returns the envelope.
func LoadCheckpoint(learner Learner, baseDir, name string) (Metadata, error) {
	dir := filepath.Join(baseDir, name)
	md, err := LoadMetadata(dir)
	if err != nil {
		return Metadata{}, err
	}
	if err := learner.Load(dir); err != nil {
		return Metadata{}, fmt.Errorf("load checkpoint %s: %w", name, err)
	}
	return md, nil
}

// CheckpointExists reports whether a named checkpoint has a model
// artifact on disk.
func CheckpointExists(baseDir, name string) bool {
	_, err := os.Stat(filepath.Join(baseDir, name, ModelArtifact))
	return err == nil
}
