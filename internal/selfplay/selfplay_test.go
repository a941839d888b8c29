package selfplay

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/janpfeifer/a0gomoku/internal/ai"
	"github.com/janpfeifer/a0gomoku/internal/ai/linear"
	"github.com/janpfeifer/a0gomoku/internal/checkpoint"
	"github.com/janpfeifer/a0gomoku/internal/gomoku"
	"github.com/janpfeifer/a0gomoku/internal/queue"
	"github.com/janpfeifer/a0gomoku/internal/searchers/mcts"
	"github.com/janpfeifer/a0gomoku/internal/training"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func testConfig() Config {
	options := mcts.DefaultOptions()
	options.Playouts = 20
	return Config{
		Game:          gomoku.Config{Width: 3, Height: 3, NInRow: 3, Planes: 4},
		Search:        options,
		HighWaterMark: 1000,
		PollInterval:  time.Millisecond,
		ReloadEvery:   1,
	}
}

func newLearner(config Config) *linear.Model {
	return linear.New(config.Game.StateDim(), config.Game.NumMoves())
}

// publishTrained publishes a checkpoint of a model trained for a few steps.
func publishTrained(t *testing.T, config Config, path string, version int64) *linear.Model {
	model := newLearner(config)
	state := make([]float32, config.Game.StateDim())
	state[0] = 1
	policy := make([]float32, config.Game.NumMoves())
	policy[4] = 1
	for range 3 {
		model.TrainStep([][]float32{state}, [][]float32{policy}, []float32{1}, 0.1)
	}
	ckpt, err := checkpoint.FromLearner(model, version, "test", training.NewState(1000))
	require.NoError(t, err)
	require.NoError(t, checkpoint.Publish(path, ckpt))
	return model
}

func TestPlayEpisode(t *testing.T) {
	config := testConfig()
	w := NewWorker(0, config, newLearner(config), filepath.Join(t.TempDir(), "current.ckpt"), queue.New[ai.Example](10), nil)
	examples, err := w.PlayEpisode(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, examples)
	require.Zero(t, len(examples)%8, "each position should have 8 symmetric variants")
	numMoves := len(examples) / 8
	assert.GreaterOrEqual(t, numMoves, 5)
	assert.LessOrEqual(t, numMoves, 9)

	for ii, example := range examples {
		assert.Len(t, example.State, config.Game.StateDim())
		assert.Len(t, example.Policy, config.Game.NumMoves())
		assert.Contains(t, []float32{-1, 0, 1}, example.Value)
		// All variants of a position share the value.
		assert.Equal(t, examples[ii/8*8].Value, example.Value)
	}
	// Consecutive positions alternate the player, so the values alternate signs.
	for move := 1; move < numMoves; move++ {
		assert.Equal(t, -examples[(move-1)*8].Value, examples[move*8].Value)
	}
}

func TestReload(t *testing.T) {
	config := testConfig()
	path := filepath.Join(t.TempDir(), "current.ckpt")
	learner := newLearner(config)
	w := NewWorker(0, config, learner, path, queue.New[ai.Example](10), nil)

	// Missing checkpoint: keeps the initial weights.
	reloaded, err := w.Reload()
	require.NoError(t, err)
	assert.False(t, reloaded)
	assert.Equal(t, int64(-1), w.Version())

	trained := publishTrained(t, config, path, 1)
	reloaded, err = w.Reload()
	require.NoError(t, err)
	assert.True(t, reloaded)
	assert.Equal(t, int64(1), w.Version())
	want, _ := trained.MarshalParameters()
	got, _ := learner.MarshalParameters()
	assert.Equal(t, want, got)

	reloaded, err = w.Reload()
	require.NoError(t, err)
	assert.False(t, reloaded, "unchanged checkpoint")

	// Malformed checkpoint: error, and the previous weights are kept.
	require.NoError(t, os.WriteFile(path, []byte(checkpoint.Magic+"truncated"), 0o644))
	w.reloadAndLog()
	assert.Equal(t, int64(1), w.Stats().ReloadFailures.Load())
	assert.Equal(t, int64(1), w.Version())
	got, _ = learner.MarshalParameters()
	assert.Equal(t, want, got)

	// The next valid checkpoint is picked up.
	publishTrained(t, config, path, 2)
	w.reloadAndLog()
	assert.Equal(t, int64(2), w.Version())
	assert.Equal(t, int64(1), w.Stats().Reloads.Load())
}

func TestRun(t *testing.T) {
	config := testConfig()
	path := filepath.Join(t.TempDir(), "current.ckpt")
	publishTrained(t, config, path, 1)
	data := queue.New[ai.Example](1000)
	stats := &Stats{}

	ctx, cancel := context.WithCancel(context.Background())
	var g errgroup.Group
	for id := range 2 {
		w := NewWorker(id, config, newLearner(config), path, data, stats)
		g.Go(func() error { return w.Run(ctx) })
	}
	for range 100 {
		_, err := data.Receive(context.Background())
		require.NoError(t, err)
	}
	cancel()
	require.NoError(t, g.Wait(), "workers return nil when cancelled")
	assert.GreaterOrEqual(t, stats.Episodes.Load(), int64(1))
	assert.Equal(t, int64(2), stats.Reloads.Load(), "each worker loads the checkpoint once")
}

func TestRun_HighWaterMark(t *testing.T) {
	config := testConfig()
	config.HighWaterMark = 5
	data := queue.New[ai.Example](100)
	for range 6 {
		require.NoError(t, data.Send(context.Background(), ai.Example{}))
	}
	w := NewWorker(0, config, newLearner(config), filepath.Join(t.TempDir(), "current.ckpt"), data, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, w.Run(ctx))
	assert.Equal(t, 6, data.Len(), "worker should not produce above the high-water mark")
	assert.Zero(t, w.Stats().Episodes.Load())
}
