// Package mcts is a Monte Carlo Tree Search implementation of searchers.Searcher for
// the Alpha-Zero algorithm.
//
// References used, since the original paper doesn't actually provide the formulas:
//
//   - https://suragnair.github.io/posts/alphazero.html by Surag Nair
//   - https://web.stanford.edu/class/archive/cs/cs221/cs221.1196/sections/Section5.pdf
//
// AlphaZero original paper -- that mostly talks about its successes but not the actual
// formula:
//
//   - Mastering Chess and Shogi by Self-Play with a General Reinforcement Learning Algorithm
//     https://arxiv.org/abs/1712.01815
//
// The same Searcher is used with a neural-network backed evaluator (the AlphaZero player) and
// with a random-rollout evaluator (see package rollout), the fixed-strength baseline.
package mcts

import (
	"math"
	"math/rand/v2"

	"github.com/janpfeifer/a0gomoku/internal/ai"
	"github.com/janpfeifer/a0gomoku/internal/gomoku"
	"github.com/janpfeifer/a0gomoku/internal/searchers"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Options configures a Searcher.
type Options struct {
	// Playouts is the number of tree traversals per move.
	Playouts int

	// CPuct is the degree of exploration of alpha-zero.
	CPuct float32

	// Temperature (usually represented as the greek letter τ) is an exponent applied
	// to the counts used in the policy distribution (π) formula. Values close to zero
	// always take the most visited action.
	Temperature float32

	// SelfPlay mode keeps the search tree across the moves of the episode, and mixes Dirichlet
	// noise into the move selection for exploration. Otherwise, a fresh tree is used for every move.
	SelfPlay bool

	// DirichletAlpha and NoiseFraction configure the exploration noise used in SelfPlay mode.
	DirichletAlpha, NoiseFraction float32
}

// DefaultOptions used for gomoku training.
func DefaultOptions() Options {
	return Options{
		Playouts:       400,
		CPuct:          5,
		Temperature:    1,
		DirichletAlpha: 0.3,
		NoiseFraction:  0.25,
	}
}

// Searcher implements searchers.Searcher with MCTS.
//
// It is not safe for concurrent use: each worker holds its own Searcher.
type Searcher struct {
	Options
	evaluator ai.BoardEvaluator
	rng       *rand.Rand

	// root kept across moves in SelfPlay mode.
	root *cacheNode

	stats matchStats
}

var _ searchers.Searcher = (*Searcher)(nil)

type matchStats struct {
	// Number of candidate nodes generated during search: used for performance measures.
	numCacheNodes int
}

// New creates a new MCTS searcher using the given evaluator.
// If rng is nil, a randomly seeded one is created.
func New(evaluator ai.BoardEvaluator, options Options, rng *rand.Rand) *Searcher {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Searcher{Options: options, evaluator: evaluator, rng: rng}
}

// String implements searchers.Searcher.
func (s *Searcher) String() string {
	return "mcts(" + s.evaluator.String() + ")"
}

// cacheNode holds information about the possible actions of a board.
type cacheNode struct {
	board *gomoku.Board

	// moves are the legal moves of the board, and priors their probabilities according to the evaluator.
	moves  []int
	priors []float32

	// Children cacheNodes.
	cacheNodes []*cacheNode

	// N is the count per action of which paths have been traversed.
	N []int

	// sumN holds the sum of all values of N.
	sumN int

	// sumScores of the score of taking the corresponding action at the current board.
	// If N[a] > 0, we have $Q(s, a) = sumScores[a]/N[a]$.
	sumScores []float32
}

// newCacheNode for the given (unfinished) board position.
func (s *Searcher) newCacheNode(b *gomoku.Board) (*cacheNode, error) {
	if b.IsFinished() {
		return nil, errors.Errorf("can't create cacheNode for a finished board state")
	}
	moves := b.Legal()
	cn := &cacheNode{
		board:      b,
		moves:      moves,
		cacheNodes: make([]*cacheNode, len(moves)),
		N:          make([]int, len(moves)),
		sumScores:  make([]float32, len(moves)),
	}
	s.stats.numCacheNodes++
	cn.priors, _ = s.evaluator.Evaluate(b)

	// Sanity check:
	if len(cn.priors) != len(moves) {
		return nil, errors.Errorf("evaluator %s returned %d priors for %d legal moves", s.evaluator, len(cn.priors), len(moves))
	}
	var sumProbs float32
	for _, prob := range cn.priors {
		if prob < 0 {
			return nil, errors.Errorf("evaluator %s returned negative probability %g for board position", s.evaluator, prob)
		}
		sumProbs += prob
	}
	if math.Abs(float64(sumProbs-1.0)) > 1e-3 {
		return nil, errors.Errorf("sum of probabilities=%g != 1.0", sumProbs)
	}
	return cn, nil
}

// scoreBoard returns the score for the player who just moved into newBoard.
func (s *Searcher) scoreBoard(newBoard *gomoku.Board) float32 {
	if isEnd, endScore := ai.IsEndGameAndScore(newBoard); isEnd {
		return -endScore
	}
	_, value := s.evaluator.Evaluate(newBoard)
	return -value
}

// searchSubtree rooted on cn, expanding one board.
//
// It returns the new sampled score for the "next player" (to play) of cacheNode's board.
//
// Notice it doesn't return the score estimate (Q) of all samples in the sub-tree, but simply
// the score of the individual new sample (the value returned by the evaluator on the leaf-node
// of the recursion).
func (s *Searcher) searchSubtree(cn *cacheNode) (score float32, err error) {
	// Find the action with the best upper confidence (U in the description).
	bestAction := -1
	bestUpperConfidence := float32(math.Inf(-1))
	globalFactor := s.CPuct * float32(math.Sqrt(float64(cn.sumN)))
	for actionIdx, numVisits := range cn.N {
		var Q float32 // 0 if we haven't subsampled it yet.
		if numVisits > 0 {
			Q = cn.sumScores[actionIdx] / float32(numVisits)
		}
		upperConfidence := Q + globalFactor*cn.priors[actionIdx]/float32(1+numVisits)
		if upperConfidence > bestUpperConfidence {
			bestAction = actionIdx
			bestUpperConfidence = upperConfidence
		}
	}

	// For the first time an action is considered, just get the plain score estimate
	// for the new board.
	if cn.N[bestAction] == 0 {
		score = s.scoreBoard(cn.board.Act(cn.moves[bestAction]))
		cn.N[bestAction] = 1
		cn.sumN++
		cn.sumScores[bestAction] += score
		return
	}

	// If not the first time we sample the action, make sure we have a corresponding
	// cacheNode for it, expanding the tree.
	if cn.cacheNodes[bestAction] == nil {
		newBoard := cn.board.Act(cn.moves[bestAction])
		if isEnd, endScore := ai.IsEndGameAndScore(newBoard); isEnd {
			// Return immediately and don't create a cacheNode.
			score = -endScore
			cn.N[bestAction]++
			cn.sumN++
			cn.sumScores[bestAction] += score
			return
		}
		cn.cacheNodes[bestAction], err = s.newCacheNode(newBoard)
		if err != nil {
			return
		}
	}

	// Recursively sample value of the best action.
	score, err = s.searchSubtree(cn.cacheNodes[bestAction])
	if err != nil {
		return
	}
	score = -score
	cn.sumScores[bestAction] += score
	cn.N[bestAction]++
	cn.sumN++
	return
}

// Search implements searchers.Searcher.
//
// It returns the move selected and the policy derived from the visit counts, over all the cells of the board.
func (s *Searcher) Search(board *gomoku.Board) (move int, policy []float32, err error) {
	if board.IsFinished() {
		return -1, nil, errors.New("mcts: search called on a finished board")
	}
	root := s.root
	if !s.SelfPlay || root == nil || !root.board.Equal(board) {
		root, err = s.newCacheNode(board)
		if err != nil {
			return
		}
	}
	s.stats = matchStats{}
	for range max(s.Playouts, 1) {
		if _, err = s.searchSubtree(root); err != nil {
			return
		}
	}
	if klog.V(3).Enabled() {
		klog.Infof("Search at move #%d: %d new nodes, %d visits at root", board.MoveNumber, s.stats.numCacheNodes, root.sumN)
	}

	visitProbs := s.visitProbabilities(root)
	var actionIdx int
	if s.SelfPlay {
		actionIdx = sampleIndex(s.rng, mixNoise(s.rng, visitProbs, s.DirichletAlpha, s.NoiseFraction))
	} else {
		actionIdx = sampleIndex(s.rng, visitProbs)
	}
	move = root.moves[actionIdx]
	policy = make([]float32, board.NumMoves())
	for ii, m := range root.moves {
		policy[m] = visitProbs[ii]
	}

	if s.SelfPlay {
		// Re-root the tree on the move taken, keeping its statistics. It may be nil if the
		// move was visited only once.
		s.root = root.cacheNodes[actionIdx]
	}
	return
}

// Reset discards the search tree kept in SelfPlay mode. It should be called at the end of each episode.
func (s *Searcher) Reset() {
	s.root = nil
}

// visitProbabilities returns softmax(log(N)/temperature) over the root actions.
func (s *Searcher) visitProbabilities(root *cacheNode) []float32 {
	temp := s.Temperature
	if temp <= 0 {
		temp = 1e-3
	}
	logits := make([]float32, len(root.N))
	for ii, n := range root.N {
		logits[ii] = float32(math.Log(float64(n)+1e-10)) / temp
	}
	return ai.Softmax(logits)
}

// mixNoise returns (1-fraction)*probs + fraction*Dirichlet(alpha).
func mixNoise(rng *rand.Rand, probs []float32, alpha, fraction float32) []float32 {
	if fraction <= 0 || alpha <= 0 || len(probs) < 2 {
		return probs
	}
	noise := searchers.SampleDirichlet(rng, alpha, len(probs))
	mixed := make([]float32, len(probs))
	for ii, p := range probs {
		mixed[ii] = (1-fraction)*p + fraction*noise[ii]
	}
	return mixed
}

// sampleIndex picks randomly from a probability distribution.
func sampleIndex(rng *rand.Rand, probs []float32) int {
	r := rng.Float32()
	var sumProb float32
	for idx, prob := range probs {
		sumProb += prob
		if r <= sumProb {
			return idx
		}
	}
	// Due to rounding errors we may get here, in this case return last action.
	return len(probs) - 1
}
