// Package rollout implements an ai.BoardEvaluator that doesn't use any model: priors are uniform
// and the value of a position is estimated by playing it out with random moves.
//
// Combined with mcts, it makes the fixed-strength baseline opponent the trained models are
// evaluated against.
package rollout

import (
	"math/rand/v2"

	"github.com/janpfeifer/a0gomoku/internal/ai"
	"github.com/janpfeifer/a0gomoku/internal/gomoku"
	"github.com/janpfeifer/a0gomoku/internal/searchers/mcts"
)

// DefaultLimit is the maximum number of random moves in a rollout, after which the game is
// considered a draw.
const DefaultLimit = 1000

// Evaluator implements ai.BoardEvaluator with random rollouts.
type Evaluator struct {
	rng *rand.Rand

	// Limit on the number of moves of a rollout.
	Limit int
}

var _ ai.BoardEvaluator = (*Evaluator)(nil)

// New returns a rollout Evaluator. If rng is nil a randomly seeded one is created.
func New(rng *rand.Rand) *Evaluator {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Evaluator{rng: rng, Limit: DefaultLimit}
}

func (e *Evaluator) String() string { return "rollout" }

// Evaluate implements ai.BoardEvaluator.
func (e *Evaluator) Evaluate(board *gomoku.Board) (priors []float32, value float32) {
	legal := board.Legal()
	priors = make([]float32, len(legal))
	for ii := range priors {
		priors[ii] = 1 / float32(len(legal))
	}
	return priors, e.Rollout(board)
}

// Rollout plays random moves from board until the end of the game (or Limit moves), and returns
// the outcome for the board.NextPlayer: +1 for a win, -1 for a loss and 0 for a draw.
func (e *Evaluator) Rollout(board *gomoku.Board) float32 {
	player := board.NextPlayer
	b := board.Clone()
	for range e.Limit {
		if b.IsFinished() {
			break
		}
		legal := b.Legal()
		b.ActInPlace(legal[e.rng.IntN(len(legal))])
	}
	if !b.IsFinished() || b.Draw() {
		return 0
	}
	if b.Winner() == player {
		return ai.WinGameScore
	}
	return -ai.WinGameScore
}

// BaselineTemperature makes the baseline always pick the most visited move.
const BaselineTemperature = 1e-3

// NewBaseline returns the pure MCTS player with random rollouts, whose strength is the number
// of playouts per move.
func NewBaseline(strength int, rng *rand.Rand) *mcts.Searcher {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	options := mcts.DefaultOptions()
	options.Playouts = strength
	options.Temperature = BaselineTemperature
	return mcts.New(New(rng), options, rng)
}
