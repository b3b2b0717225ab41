package slots

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mltetris/train"
)

// seedCheckpoint writes a minimal source checkpoint with all three
// artifacts, mirroring what a training worker leaves behind.
func seedCheckpoint(t *testing.T, baseDir, name string) {
	t.Helper()
	dir := filepath.Join(baseDir, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, train.ModelArtifact), []byte("model"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, train.ReplayArtifact), []byte("replay"), 0o644))
	md := train.Metadata{TotalTimestepsTrained: 500, BestLines: 4, Config: train.DefaultConfig()}
	require.NoError(t, train.SaveMetadata(dir, md))
}

func TestValidName(t *testing.T) {
	valid := []string{"run1", "best-model", "a", "A_B-2"}
	for _, name := range valid {
		assert.True(t, ValidName(name), name)
	}

	invalid := []string{"", "../escape", "a/b", "a\\b", "name.ext", "has space", ".", ".."}
	for _, name := range invalid {
		assert.False(t, ValidName(name), name)
	}
}

func TestSaveExcludesReplay(t *testing.T) {
	baseDir := t.TempDir()
	seedCheckpoint(t, baseDir, train.CheckpointLatest)
	mgr := NewManager(baseDir)

	require.True(t, mgr.Save(train.CheckpointLatest, "run1"))

	slotDir := filepath.Join(baseDir, "slots", "run1")
	assert.FileExists(t, filepath.Join(slotDir, train.ModelArtifact))
	assert.FileExists(t, filepath.Join(slotDir, train.MetadataFile))
	assert.NoFileExists(t, filepath.Join(slotDir, train.ReplayArtifact))
}

func TestSaveRejectsBadInput(t *testing.T) {
	baseDir := t.TempDir()
	seedCheckpoint(t, baseDir, train.CheckpointLatest)
	mgr := NewManager(baseDir)

	// Traversal and separator names must fail before any filesystem write.
	assert.False(t, mgr.Save(train.CheckpointLatest, "../escape"))
	assert.False(t, mgr.Save(train.CheckpointLatest, ""))
	assert.False(t, mgr.Save(train.CheckpointLatest, "a/b"))

	// A source without a model artifact is not a checkpoint.
	assert.False(t, mgr.Save("nonexistent", "run1"))

	entries, err := os.ReadDir(filepath.Join(baseDir, "slots"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestListAndDelete(t *testing.T) {
	baseDir := t.TempDir()
	seedCheckpoint(t, baseDir, train.CheckpointLatest)
	mgr := NewManager(baseDir)

	require.True(t, mgr.Save(train.CheckpointLatest, "beta"))
	require.True(t, mgr.Save(train.CheckpointLatest, "alpha"))

	list := mgr.List()
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].Name)
	assert.Equal(t, "beta", list[1].Name)
	assert.Equal(t, 500, list[0].TotalTimestepsTrained)
	assert.Equal(t, 4, list[0].BestLines)

	assert.True(t, mgr.Delete("alpha"))
	assert.False(t, mgr.Delete("alpha"))
	assert.False(t, mgr.Delete("../escape"))
	assert.Len(t, mgr.List(), 1)
}

func TestListToleratesCorruptMetadata(t *testing.T) {
	baseDir := t.TempDir()
	seedCheckpoint(t, baseDir, train.CheckpointLatest)
	mgr := NewManager(baseDir)
	require.True(t, mgr.Save(train.CheckpointLatest, "run1"))

	metaPath := filepath.Join(baseDir, "slots", "run1", train.MetadataFile)
	require.NoError(t, os.WriteFile(metaPath, []byte("{not json"), 0o644))

	list := mgr.List()
	require.Len(t, list, 1)
	assert.Equal(t, "run1", list[0].Name)
	assert.Zero(t, list[0].TotalTimestepsTrained)
}

func TestExport(t *testing.T) {
	baseDir := t.TempDir()
	seedCheckpoint(t, baseDir, train.CheckpointLatest)
	mgr := NewManager(baseDir)
	require.True(t, mgr.Save(train.CheckpointLatest, "run1"))

	dest := filepath.Join(t.TempDir(), "out", "exported.zip")
	require.True(t, mgr.Export("run1", dest))
	assert.FileExists(t, dest)

	assert.False(t, mgr.Export("missing", dest))
	assert.False(t, mgr.Export("../escape", dest))
}

func TestExistsAndPath(t *testing.T) {
	baseDir := t.TempDir()
	seedCheckpoint(t, baseDir, train.CheckpointLatest)
	mgr := NewManager(baseDir)
	require.True(t, mgr.Save(train.CheckpointLatest, "run1"))

	assert.True(t, mgr.Exists("run1"))
	assert.False(t, mgr.Exists("run2"))
	assert.Equal(t, filepath.Join(baseDir, "slots", "run1"), mgr.Path("run1"))
	assert.Empty(t, mgr.Path("run2"))
	assert.Empty(t, mgr.Path("../run1"))
}
