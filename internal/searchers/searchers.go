// Package searchers defines the interface of the tree searchers used to pick moves, and
// the random sampling helpers they share.
package searchers

import (
	"math"
	"math/rand/v2"

	"github.com/janpfeifer/a0gomoku/internal/gomoku"
	"gonum.org/v1/gonum/stat/distmv"
)

// Searcher is the interface that any of the search algorithms must adhere to be valid.
type Searcher interface {
	// Search returns the next move to take on the given board, along with the probability
	// distribution over all cells of the board derived from the search (zero for occupied cells).
	Search(board *gomoku.Board) (move int, policy []float32, err error)

	// Reset is called at the end of a match, to discard any state kept across moves.
	Reset()

	String() string
}

// SampleDirichlet returns a sample of the symmetric Dirichlet distribution with the given alpha and dimension.
func SampleDirichlet(rng *rand.Rand, alpha float32, dim int) []float32 {
	alphas := make([]float64, dim)
	for ii := range alphas {
		alphas[ii] = float64(alpha)
	}
	values := distmv.NewDirichlet(alphas, rng).Rand(nil)
	sample := make([]float32, dim)
	for ii, v := range values {
		if math.IsNaN(v) {
			// Degenerate case with very small alpha, where all gamma samples underflow: return uniform.
			for jj := range sample {
				sample[jj] = 1 / float32(dim)
			}
			return sample
		}
		sample[ii] = float32(v)
	}
	return sample
}
