// Package slots manages named, replay-free model snapshots under
// {checkpoints}/slots/. Slots let a user pin a trained model for later
// comparison or export, independent of the automatic latest/final/best
// checkpoints. Every slot-name argument is validated before any
// filesystem operation; invalid names yield boolean failure, never an
// error that crosses the API boundary.
package slots

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"mltetris/train"
)

// slotNamePattern is the restrictive slot-name charset. Anything outside
// letters, digits, underscore and hyphen (including path separators and
// the empty string) is rejected.
var slotNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

const slotsSubdir = "slots"

// SlotInfo describes one slot for listing. Metadata fields are zero when
// the envelope is absent or unreadable; a corrupt envelope never hides
// the slot itself.
type SlotInfo struct {
	Name                  string        `json:"name"`
	Path                  string        `json:"path"`
	TotalTimestepsTrained int           `json:"total_timesteps_trained,omitempty"`
	NumTimesteps          int           `json:"num_timesteps,omitempty"`
	BestLines             int           `json:"best_lines,omitempty"`
	Config                *train.Config `json:"config,omitempty"`
}

// Manager owns the slots directory under a checkpoint base dir.
type Manager struct {
	baseDir  string
	slotsDir string
}

// NewManager creates the slots dir if missing. Directory-creation
// failures surface lazily from the individual operations.
func NewManager(baseDir string) *Manager {
	m := &Manager{
		baseDir:  baseDir,
		slotsDir: filepath.Join(baseDir, slotsSubdir),
	}
	_ = os.MkdirAll(m.slotsDir, 0o755)
	return m
}

// ValidName reports whether name is acceptable for filesystem use.
func ValidName(name string) bool {
	return slotNamePattern.MatchString(name)
}

// List returns all slots holding a model artifact, sorted by name.
func (m *Manager) List() []SlotInfo {
	entries, err := os.ReadDir(m.slotsDir)
	if err != nil {
		return nil
	}

	var infos []SlotInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(m.slotsDir, entry.Name())
		if _, err := os.Stat(filepath.Join(dir, train.ModelArtifact)); err != nil {
			continue
		}

		info := SlotInfo{Name: entry.Name(), Path: dir}
		if raw, err := os.ReadFile(filepath.Join(dir, train.MetadataFile)); err == nil {
			var md train.Metadata
			if err := json.Unmarshal(raw, &md); err == nil {
				info.TotalTimestepsTrained = md.TotalTimestepsTrained
				info.NumTimesteps = md.NumTimesteps
				info.BestLines = md.BestLines
				cfg := md.Config
				info.Config = &cfg
			}
		}
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Save copies a source checkpoint's model artifact and metadata envelope
// into a named slot, overwriting any existing slot of that name. The
// replay artifact is deliberately excluded. Returns false for an invalid
// name or a source without a model artifact.
func (m *Manager) Save(source, name string) bool {
	if !ValidName(name) {
		return false
	}

	sourceDir := filepath.Join(m.baseDir, source)
	sourceModel := filepath.Join(sourceDir, train.ModelArtifact)
	if _, err := os.Stat(sourceModel); err != nil {
		return false
	}

	slotDir := filepath.Join(m.slotsDir, name)
	if err := os.MkdirAll(slotDir, 0o755); err != nil {
		return false
	}

	if err := copyFile(sourceModel, filepath.Join(slotDir, train.ModelArtifact)); err != nil {
		return false
	}

	sourceMeta := filepath.Join(sourceDir, train.MetadataFile)
	if _, err := os.Stat(sourceMeta); err == nil {
		_ = copyFile(sourceMeta, filepath.Join(slotDir, train.MetadataFile))
	}
	return true
}

// Delete removes a named slot. Returns false for an invalid or missing
// name.
func (m *Manager) Delete(name string) bool {
	if !ValidName(name) {
		return false
	}
	slotDir := filepath.Join(m.slotsDir, name)
	if _, err := os.Stat(slotDir); err != nil {
		return false
	}
	return os.RemoveAll(slotDir) == nil
}

// Export copies a slot's model artifact to an arbitrary destination
// path, creating parent directories as needed.
func (m *Manager) Export(name, destPath string) bool {
	if !ValidName(name) {
		return false
	}
	model := filepath.Join(m.slotsDir, name, train.ModelArtifact)
	if _, err := os.Stat(model); err != nil {
		return false
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return false
	}
	return copyFile(model, destPath) == nil
}

// Exists reports whether a slot holds a model artifact.
func (m *Manager) Exists(name string) bool {
	if !ValidName(name) {
		return false
	}
	_, err := os.Stat(filepath.Join(m.slotsDir, name, train.ModelArtifact))
	return err == nil
}

// Path returns the slot directory, or "" when invalid or missing.
func (m *Manager) Path(name string) string {
	if !m.Exists(name) {
		return ""
	}
	return filepath.Join(m.slotsDir, name)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
