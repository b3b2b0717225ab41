package agent

import (
	"archive/zip"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"mltetris/train"
)

// modelState is the serialized learner: the Q-table plus the counters
// the exploration schedule depends on. It lives inside the model
// artifact as a single json entry.
type modelState struct {
	Actions          int                  `json:"actions"`
	TimestepsTrained int                  `json:"timesteps_trained"`
	Table            map[string][]float64 `json:"table"`
}

const modelEntry = "qtable.json"

// Save implements train.Learner: write the model artifact and the
// replay-state artifact into dir. The metadata envelope is the trainer's
// responsibility, not the learner's.
func (q *QLearner) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("save learner: %w", err)
	}

	if err := q.saveModel(filepath.Join(dir, train.ModelArtifact)); err != nil {
		return err
	}
	return q.saveReplay(filepath.Join(dir, train.ReplayArtifact))
}

func (q *QLearner) saveModel(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("save model: %w", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	entry, err := zw.Create(modelEntry)
	if err != nil {
		return fmt.Errorf("save model: %w", err)
	}
	state := modelState{
		Actions:          q.actions,
		TimestepsTrained: q.timestepsTrained,
		Table:            q.table,
	}
	if err := json.NewEncoder(entry).Encode(state); err != nil {
		return fmt.Errorf("save model: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("save model: %w", err)
	}
	return f.Close()
}

func (q *QLearner) saveReplay(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("save replay: %w", err)
	}
	defer f.Close()

	if err := gob.NewEncoder(f).Encode(q.replay); err != nil {
		return fmt.Errorf("save replay: %w", err)
	}
	return f.Close()
}

// ErrNoModel reports a checkpoint directory without a model artifact.
var ErrNoModel = errors.New("no model artifact in checkpoint")

// Load implements train.Learner: restore the model artifact and, when
// present, the replay-state artifact. A missing replay artifact is not
// an error; model slots deliberately exclude it.
func (q *QLearner) Load(dir string) error {
	if err := q.loadModel(filepath.Join(dir, train.ModelArtifact)); err != nil {
		return err
	}

	replayPath := filepath.Join(dir, train.ReplayArtifact)
	if _, err := os.Stat(replayPath); os.IsNotExist(err) {
		return nil
	}
	return q.loadReplay(replayPath)
}

func (q *QLearner) loadModel(path string) error {
	zr, err := zip.OpenReader(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNoModel
		}
		return fmt.Errorf("load model: %w", err)
	}
	defer zr.Close()

	var entry io.ReadCloser
	for _, f := range zr.File {
		if f.Name == modelEntry {
			if entry, err = f.Open(); err != nil {
				return fmt.Errorf("load model: %w", err)
			}
			break
		}
	}
	if entry == nil {
		return fmt.Errorf("load model: artifact has no %s entry", modelEntry)
	}
	defer entry.Close()

	var state modelState
	if err := json.NewDecoder(entry).Decode(&state); err != nil {
		return fmt.Errorf("load model: %w", err)
	}

	q.actions = state.Actions
	q.timestepsTrained = state.TimestepsTrained
	q.table = state.Table
	if q.table == nil {
		q.table = make(map[string][]float64)
	}
	return nil
}

func (q *QLearner) loadReplay(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("load replay: %w", err)
	}
	defer f.Close()

	var replay []transition
	if err := gob.NewDecoder(f).Decode(&replay); err != nil {
		return fmt.Errorf("load replay: %w", err)
	}
	q.replay = replay
	q.replayPos = 0
	if q.cfg.BufferSize > 0 && len(q.replay) > q.cfg.BufferSize {
		q.replay = q.replay[:q.cfg.BufferSize]
	}
	return nil
}
