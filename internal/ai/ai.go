// Package ai (Artificial Intelligence) defines standard interfaces that the models (predictors
// and learners) used by the searchers and by the trainer have to implement, along with the
// numeric helpers shared by them.
package ai

import (
	"github.com/chewxy/math32"
	"github.com/janpfeifer/a0gomoku/internal/gomoku"
)

// WinGameScore for the winning side. For the loosing side it is -WinGameScore.
// We make these +1 and -1, so it's easy to put a tanh(x) on the output of the model to get a
// value from +1 to -1.
const WinGameScore = float32(1)

// logEpsilon is added to probabilities before taking their log.
const logEpsilon = float32(1e-10)

// SquashScore converts any score to a value between +WinGameScore and -WinGameScore
// by using then tanh(x) function -- a type of S curve.
func SquashScore(x float32) float32 {
	return math32.Tanh(x) * WinGameScore
}

// Example holds one training data point. It is immutable once created.
type Example struct {
	// State is the flat feature planes of the board: planes x height x width.
	State []float32

	// Policy is the target probability distribution over all the cells of the board (height x width).
	Policy []float32

	// Value is the target outcome of the game for the player to move in State, in [-1, 1].
	Value float32
}

// Predictor is a policy-value model.
type Predictor interface {
	// PolicyValue returns the probabilities over all cells of the board (zero for the moves not in legal),
	// and the value estimate for the player to move.
	PolicyValue(state []float32, legal []int) (probs []float32, value float32)

	// String returns the name of the model.
	String() string
}

// Learner is a Predictor that can be trained and (de-)serialized.
type Learner interface {
	Predictor

	// BatchPolicyValue returns the unmasked policy and values for a batch of states.
	BatchPolicyValue(states [][]float32) (probs [][]float32, values []float32)

	// TrainStep performs one optimization step with the given learning rate.
	// It returns the predictions for the batch before the update, the loss and the policy entropy.
	TrainStep(states, targetProbs [][]float32, targetValues []float32, learningRate float32) (
		probs [][]float32, values []float32, loss, entropy float32)

	// MarshalParameters serializes the model parameters.
	MarshalParameters() ([]byte, error)

	// UnmarshalParameters replaces the model parameters with the serialized ones.
	UnmarshalParameters(data []byte) error

	// MarshalOptimizer serializes the optimizer state.
	MarshalOptimizer() ([]byte, error)

	// UnmarshalOptimizer replaces the optimizer state with the serialized one.
	UnmarshalOptimizer(data []byte) error
}

// BoardEvaluator is what the tree searchers use to evaluate a position.
type BoardEvaluator interface {
	// Evaluate returns the prior probability of each of the legal moves of the board (in the order of
	// board.Legal()), and the value of the position for the board.NextPlayer.
	Evaluate(board *gomoku.Board) (priors []float32, value float32)

	String() string
}

// PredictorEvaluator adapts a Predictor to a BoardEvaluator, by generating the board features.
type PredictorEvaluator struct {
	Predictor Predictor
	Planes    int
}

var _ BoardEvaluator = (*PredictorEvaluator)(nil)

// NewBoardEvaluator returns a BoardEvaluator backed by the given Predictor.
func NewBoardEvaluator(predictor Predictor, planes int) *PredictorEvaluator {
	return &PredictorEvaluator{Predictor: predictor, Planes: planes}
}

// Evaluate implements BoardEvaluator.
func (e *PredictorEvaluator) Evaluate(board *gomoku.Board) (priors []float32, value float32) {
	legal := board.Legal()
	probs, value := e.Predictor.PolicyValue(board.Features(e.Planes), legal)
	priors = make([]float32, len(legal))
	for ii, move := range legal {
		priors[ii] = probs[move]
	}
	return
}

func (e *PredictorEvaluator) String() string {
	return e.Predictor.String()
}

// IsEndGameAndScore returns weather it's the end of the game, and the hard-coded score of a win/loss/draw
// for the current player if it is finished.
// If isEnd is false, the score should be ignored.
func IsEndGameAndScore(b *gomoku.Board) (isEnd bool, score float32) {
	if !b.IsFinished() {
		return false, 0
	}
	if b.Draw() {
		return true, 0
	}
	if b.Winner() == b.NextPlayer {
		// Current player wins.
		return true, WinGameScore
	}
	// Opponent player wins.
	return true, -WinGameScore
}

// Softmax returns the Softmax of the given logits in a numerically stable way.
func Softmax(logits []float32) (probs []float32) {
	probs = make([]float32, len(logits))
	if len(logits) == 0 {
		return
	}
	var sum float32

	// Subtract maxValue from all logits keep the probability the same, but makes for more numerically stable
	// logits.
	maxValue := logits[0]
	for _, value := range logits[1:] {
		maxValue = max(maxValue, value)
	}
	for ii, value := range logits {
		probs[ii] = math32.Exp(value - maxValue)
		sum += probs[ii]
	}
	for ii := range probs {
		probs[ii] /= sum
	}
	return
}

// MaskedSoftmax returns the Softmax over the logits of the legal indices only, with all other
// probabilities set to 0.
func MaskedSoftmax(logits []float32, legal []int) (probs []float32) {
	probs = make([]float32, len(logits))
	if len(legal) == 0 {
		return
	}
	legalLogits := make([]float32, len(legal))
	for ii, idx := range legal {
		legalLogits[ii] = logits[idx]
	}
	for ii, prob := range Softmax(legalLogits) {
		probs[legal[ii]] = prob
	}
	return
}

// KLDivergence returns the mean over the batch of KL(oldProbs || newProbs):
//
//	mean_b( sum_i p_old[b,i] * (log(p_old[b,i] + eps) - log(p_new[b,i] + eps)) )
func KLDivergence(oldProbs, newProbs [][]float32) float32 {
	if len(oldProbs) == 0 {
		return 0
	}
	var total float32
	for b, oldP := range oldProbs {
		newP := newProbs[b]
		for ii, p := range oldP {
			total += p * (math32.Log(p+logEpsilon) - math32.Log(newP[ii]+logEpsilon))
		}
	}
	return total / float32(len(oldProbs))
}

// Entropy returns the mean entropy of the batch of probability distributions.
func Entropy(probs [][]float32) float32 {
	if len(probs) == 0 {
		return 0
	}
	var total float32
	for _, row := range probs {
		for _, p := range row {
			total -= p * math32.Log(p+logEpsilon)
		}
	}
	return total / float32(len(probs))
}

// ExplainedVariance returns 1 - Var(targets - predictions) / Var(targets).
// It returns 0 if the targets have no variance.
func ExplainedVariance(targets, predictions []float32) float32 {
	diffs := make([]float32, len(targets))
	for ii, target := range targets {
		diffs[ii] = target - predictions[ii]
	}
	varTargets := variance(targets)
	if varTargets == 0 {
		return 0
	}
	return 1 - variance(diffs)/varTargets
}

func variance(values []float32) float32 {
	if len(values) == 0 {
		return 0
	}
	var mean float32
	for _, v := range values {
		mean += v
	}
	mean /= float32(len(values))
	var sum float32
	for _, v := range values {
		sum += (v - mean) * (v - mean)
	}
	return sum / float32(len(values))
}

// OneHotEncoding returns a slice of float32 with one element set to 1, and all others to 0.
func OneHotEncoding(total, selected int) (vec []float32) {
	vec = make([]float32, total)
	if total > 0 {
		vec[selected] = 1
	}
	return
}
