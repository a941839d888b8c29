package mcts

import (
	"math/rand/v2"
	"testing"

	"github.com/janpfeifer/a0gomoku/internal/gomoku"
	"github.com/janpfeifer/a0gomoku/internal/parameters"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dummyEvaluator returns a 0 value for all boards, and equal probability for all moves.
type dummyEvaluator struct{}

func (dummyEvaluator) Evaluate(board *gomoku.Board) ([]float32, float32) {
	numMoves := len(board.Legal())
	priors := make([]float32, numMoves)
	for ii := range priors {
		priors[ii] = 1.0 / float32(numMoves)
	}
	return priors, 0
}

func (dummyEvaluator) String() string { return "dummy" }

func buildTestMCTS(t *testing.T, config string) *Searcher {
	params := parameters.NewFromConfigString(config)
	options, err := OptionsFromParams(params, DefaultOptions())
	require.NoError(t, err)
	return New(dummyEvaluator{}, options, rand.New(rand.NewPCG(1, 1)))
}

func TestSearch_WinningMove(t *testing.T) {
	// X X .
	// O O .
	// . . .
	// X (first player) to move, and wins at (0, 2).
	board := gomoku.NewBoard(3, 3, 3)
	for _, move := range []int{0, 3, 1, 4} {
		board = board.Act(move)
	}
	mcts := buildTestMCTS(t, "playouts=500,temperature=0")
	move, policy, err := mcts.Search(board)
	require.NoError(t, err)
	require.Len(t, policy, 9)
	var totalProb float32
	for _, prob := range policy {
		totalProb += prob
	}
	assert.InDelta(t, float32(1), totalProb, 1e-4)
	assert.Equal(t, 2, move)
	assert.Greater(t, policy[2], float32(0.95))
	// Occupied cells have zero probability.
	for _, occupied := range []int{0, 1, 3, 4} {
		assert.Equal(t, float32(0), policy[occupied])
	}
}

func TestSearch_SelfPlayKeepsTree(t *testing.T) {
	mcts := buildTestMCTS(t, "playouts=50")
	mcts.SelfPlay = true
	board := gomoku.NewBoard(3, 3, 3)
	move, _, err := mcts.Search(board)
	require.NoError(t, err)
	if mcts.root != nil {
		// The kept tree must be rooted at the board after the move.
		next := board.Act(move)
		assert.True(t, mcts.root.board.Equal(next))
		kept := mcts.root
		visitsBefore := kept.sumN
		_, _, err = mcts.Search(next)
		require.NoError(t, err)
		// Statistics kept: the playouts were added to the visits already there.
		assert.Equal(t, visitsBefore+50, kept.sumN)
	}
	mcts.Reset()
	assert.Nil(t, mcts.root)

	_, _, err = mcts.Search(gomoku.NewBoard(3, 3, 3).Act(0).Act(3).Act(1).Act(4).Act(2))
	require.Error(t, err, "searching a finished board must fail")
}

func TestOptionsFromParams(t *testing.T) {
	params := parameters.NewFromConfigString("playouts=10,c_puct=1.5,noise_fraction=0")
	options, err := OptionsFromParams(params, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 10, options.Playouts)
	assert.Equal(t, float32(1.5), options.CPuct)
	assert.Equal(t, float32(0), options.NoiseFraction)
	assert.Empty(t, params, "parameters should have been popped")

	_, err = OptionsFromParams(parameters.NewFromConfigString("c_puct=-1"), DefaultOptions())
	require.Error(t, err)
	_, err = OptionsFromParams(parameters.NewFromConfigString("playouts=abc"), DefaultOptions())
	require.Error(t, err)
}
