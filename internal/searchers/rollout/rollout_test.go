package rollout

import (
	"math/rand/v2"
	"testing"

	"github.com/janpfeifer/a0gomoku/internal/gomoku"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate(t *testing.T) {
	e := New(rand.New(rand.NewPCG(3, 5)))
	board := gomoku.NewBoard(3, 3, 3).Act(4)
	priors, value := e.Evaluate(board)
	require.Len(t, priors, 8)
	for _, p := range priors {
		assert.Equal(t, float32(1)/8, p)
	}
	assert.Contains(t, []float32{-1, 0, 1}, value)

	// Board is not modified by the rollout.
	assert.Equal(t, 1, board.MoveNumber)
	assert.False(t, board.IsFinished())
}

func TestRollout_Forced(t *testing.T) {
	// X X .
	// O O X
	// O X O
	// Only cell 2 is left: X (to move) wins.
	board := gomoku.NewBoard(3, 3, 3)
	for _, move := range []int{0, 3, 1, 4, 5, 6, 7, 8} {
		board = board.Act(move)
	}
	require.False(t, board.IsFinished())
	require.Equal(t, gomoku.PlayerFirst, board.NextPlayer)
	e := New(nil)
	assert.Equal(t, float32(1), e.Rollout(board))

	// With a limit of 0 moves, the unfinished game counts as a draw.
	e.Limit = 0
	assert.Equal(t, float32(0), e.Rollout(board))
}

func TestNewBaseline(t *testing.T) {
	baseline := NewBaseline(200, rand.New(rand.NewPCG(1, 2)))
	assert.Equal(t, 200, baseline.Playouts)
	assert.False(t, baseline.SelfPlay)
	assert.Equal(t, "mcts(rollout)", baseline.String())

	// The baseline blocks an immediate threat: O must play 2.
	// X X .
	// O . .
	// . . .
	board := gomoku.NewBoard(3, 3, 3)
	for _, move := range []int{0, 3, 1} {
		board = board.Act(move)
	}
	move, _, err := baseline.Search(board)
	require.NoError(t, err)
	assert.Equal(t, 2, move)
}
