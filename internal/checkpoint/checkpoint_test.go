package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/janpfeifer/a0gomoku/internal/ai/linear"
	"github.com/janpfeifer/a0gomoku/internal/training"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCheckpoint(t *testing.T, version int64) *Checkpoint {
	model := linear.New(8, 4)
	states := [][]float32{{1, 0, 0, 0, 0, 0, 0, 0}, {0, 1, 0, 0, 0, 0, 0, 0}}
	targets := [][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}}
	for range int(version) {
		model.TrainStep(states, targets, []float32{1, -1}, 0.1)
	}
	c, err := FromLearner(model, version, "test-run", training.NewState(1000))
	require.NoError(t, err)
	return c
}

func TestPublishLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "current.ckpt")
	_, err := Load(path)
	require.ErrorIs(t, err, ErrNotFound)

	c := newTestCheckpoint(t, 3)
	c.State.BestWinRatio = 0.6
	require.NoError(t, Publish(path, c))
	_, err = os.Stat(path + TempSuffix)
	assert.True(t, os.IsNotExist(err), "temporary file should have been renamed")

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, int64(3), loaded.Version)
	assert.Equal(t, "test-run", loaded.RunID)
	assert.Equal(t, 0.6, loaded.State.BestWinRatio)
	assert.Equal(t, 1000, loaded.State.BaselineStrength)
	assert.Equal(t, c.Parameters, loaded.Parameters)

	restored := linear.New(8, 4)
	require.NoError(t, loaded.Restore(restored, true))
	assert.Equal(t, 3, restored.Steps())
	require.Error(t, loaded.Restore(linear.New(4, 4), false), "dimensions mismatch")
}

// A crash while writing leaves a partial temporary file: readers still see the previous
// complete checkpoint, and the next publish overwrites the leftover.
func TestPublish_CrashBeforeRename(t *testing.T) {
	path := filepath.Join(t.TempDir(), "current.ckpt")
	require.NoError(t, Publish(path, newTestCheckpoint(t, 1)))

	require.NoError(t, os.WriteFile(path+TempSuffix, []byte(Magic+"partial garbage"), 0o644))
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, int64(1), loaded.Version)

	require.NoError(t, Publish(path, newTestCheckpoint(t, 2)))
	loaded, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, int64(2), loaded.Version)
}

func TestLoad_Malformed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.ckpt")
	require.NoError(t, os.WriteFile(path, []byte("not a checkpoint"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)

	// Truncated checkpoint.
	good := filepath.Join(dir, "good.ckpt")
	require.NoError(t, Publish(good, newTestCheckpoint(t, 1)))
	contents, err := os.ReadFile(good)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, contents[:len(contents)/2], 0o644))
	_, err = Load(path)
	require.Error(t, err)
}

func TestWatcher(t *testing.T) {
	path := filepath.Join(t.TempDir(), "current.ckpt")
	w := NewWatcher(path)
	c, err := w.Load()
	require.NoError(t, err)
	assert.Nil(t, c, "no checkpoint published yet")

	require.NoError(t, Publish(path, newTestCheckpoint(t, 1)))
	c, err = w.Load()
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, int64(1), c.Version)

	c, err = w.Load()
	require.NoError(t, err)
	assert.Nil(t, c, "unchanged checkpoint should not be reloaded")

	require.NoError(t, Publish(path, newTestCheckpoint(t, 2)))
	changed, err := w.Changed()
	require.NoError(t, err)
	assert.True(t, changed)
	c, err = w.Load()
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, int64(2), c.Version)

	// A malformed replacement fails to load, and is retried on the next call.
	require.NoError(t, os.WriteFile(path+TempSuffix, []byte("garbage"), 0o644))
	require.NoError(t, os.Rename(path+TempSuffix, path))
	_, err = w.Load()
	require.Error(t, err)
	changed, err = w.Changed()
	require.NoError(t, err)
	assert.True(t, changed)
}
