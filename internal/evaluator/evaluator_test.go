package evaluator

import (
	"context"
	"path/filepath"
	"testing"

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

func TestTally(t *testing.T) {
	var tally Tally
	for range 7 {
		tally.Add(Win)
	}
	for range 2 {
		tally.Add(Draw)
	}
	tally.Add(Loss)
	assert.Equal(t, 10, tally.Total())
	assert.InDelta(t, 0.8, tally.WinRatio(), 1e-9)
	assert.Equal(t, "win: 7, loss: 1, draw: 2", tally.String())
	assert.Equal(t, 0.0, Tally{}.WinRatio())

	results := []Result{{Outcome: Win}, {Outcome: Draw}, {Outcome: Loss}, {Outcome: Win}}
	assert.InDelta(t, 0.625, WinRatio(results), 1e-9)
}

func testConfig(t *testing.T) (Config, func() ai.Learner) {
	game := gomoku.Config{Width: 3, Height: 3, NInRow: 3, Planes: 4}
	options := mcts.DefaultOptions()
	options.Playouts = 20
	config := Config{Game: game, Search: options, CheckpointPath: filepath.Join(t.TempDir(), "current.ckpt")}
	newLearner := func() ai.Learner { return linear.New(game.StateDim(), game.NumMoves()) }
	return config, newLearner
}

func TestEvaluate_MissingCheckpoint(t *testing.T) {
	config, newLearner := testConfig(t)
	w := NewWorker(0, config, newLearner, nil, nil)
	result := w.Evaluate(context.Background(), Job{Index: 3, BaselineStrength: 10})
	require.ErrorIs(t, result.Err, checkpoint.ErrNotFound)
	assert.Equal(t, Loss, result.Outcome)
	assert.Equal(t, 3, result.Index)
}

func TestRun(t *testing.T) {
	config, newLearner := testConfig(t)
	ckpt, err := checkpoint.FromLearner(newLearner(), 5, "test", training.NewState(10))
	require.NoError(t, err)
	require.NoError(t, checkpoint.Publish(config.CheckpointPath, ckpt))

	const numJobs = 4
	jobs := queue.New[Job](numJobs)
	results := queue.New[Result](numJobs)
	ctx, cancel := context.WithCancel(context.Background())
	var g errgroup.Group
	for id := range 2 {
		w := NewWorker(id, config, newLearner, jobs, results)
		g.Go(func() error { return w.Run(ctx) })
	}
	for ii := range numJobs {
		require.NoError(t, jobs.Send(ctx, Job{Index: ii, StartPlayer: ii % 2, BaselineStrength: 10}))
	}
	seen := make(map[int]bool)
	for range numJobs {
		result, err := results.Receive(ctx)
		require.NoError(t, err)
		require.NoError(t, result.Err)
		assert.Equal(t, int64(5), result.Version)
		assert.Contains(t, []Outcome{Win, Loss, Draw}, result.Outcome)
		require.NotNil(t, result.FinalBoard)
		assert.True(t, result.FinalBoard.IsFinished())
		if result.Outcome == Draw {
			assert.True(t, result.FinalBoard.Draw())
		}
		seen[result.Index] = true
	}
	assert.Len(t, seen, numJobs)
	cancel()
	require.NoError(t, g.Wait())
}
