// Package linear implements a pure Go linear policy-value model that can be used to play as well as
// training -- it defines its own gradient for that, and is trained with SGD with momentum.
//
// The policy head is a softmax over one logit per board cell, and the value head is tanh of a
// linear function of the same features.
package linear

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sync"

	"github.com/chewxy/math32"
	"github.com/gomlx/exceptions"
	"github.com/janpfeifer/a0gomoku/internal/ai"
	"github.com/pkg/errors"
)

// ModelName used in configurations to select the linear model.
const ModelName = "linear"

// Model is a linear policy-value model. It implements ai.Learner.
type Model struct {
	params    parameters
	optimizer optimizerState

	// Momentum used by the SGD optimizer.
	Momentum float32

	// L2Reg is the L2 regularization coefficient applied to the weights (not the biases).
	L2Reg float32

	// Serialize prediction and learning.
	mu sync.RWMutex
}

// parameters of the model, in a gob-friendly format.
type parameters struct {
	StateDim, NumMoves int

	// PolicyW is shaped [NumMoves, StateDim], PolicyB is shaped [NumMoves].
	PolicyW, PolicyB []float32

	// ValueW is shaped [StateDim].
	ValueW []float32
	ValueB float32
}

// optimizerState holds the momentum buffers, with the same shapes as the parameters.
type optimizerState struct {
	Step                     int
	PolicyW, PolicyB, ValueW []float32
	ValueB                   float32
}

var _ ai.Learner = (*Model)(nil)

// New creates a zero-initialized model for states of dimension stateDim and numMoves board cells.
func New(stateDim, numMoves int) *Model {
	return &Model{
		params: parameters{
			StateDim: stateDim,
			NumMoves: numMoves,
			PolicyW:  make([]float32, stateDim*numMoves),
			PolicyB:  make([]float32, numMoves),
			ValueW:   make([]float32, stateDim),
		},
		optimizer: newOptimizerState(stateDim, numMoves),
		Momentum:  0.9,
		L2Reg:     1e-4,
	}
}

func newOptimizerState(stateDim, numMoves int) optimizerState {
	return optimizerState{
		PolicyW: make([]float32, stateDim*numMoves),
		PolicyB: make([]float32, numMoves),
		ValueW:  make([]float32, stateDim),
	}
}

// String implements ai.Predictor.
func (m *Model) String() string {
	return fmt.Sprintf("linear(state=%d, moves=%d)", m.params.StateDim, m.params.NumMoves)
}

// forward returns the policy logits and the value for one state.
// It assumes m.mu is already locked.
func (m *Model) forward(state []float32) (logits []float32, value float32) {
	p := &m.params
	if len(state) != p.StateDim {
		exceptions.Panicf("linear: state dimension is %d, but model expects %d", len(state), p.StateDim)
	}
	logits = make([]float32, p.NumMoves)
	for move := range p.NumMoves {
		sum := p.PolicyB[move]
		row := p.PolicyW[move*p.StateDim : (move+1)*p.StateDim]
		for ii, x := range state {
			sum += row[ii] * x
		}
		logits[move] = sum
	}
	valueLogit := p.ValueB
	for ii, x := range state {
		valueLogit += p.ValueW[ii] * x
	}
	value = ai.SquashScore(valueLogit)
	return
}

// PolicyValue implements ai.Predictor.
func (m *Model) PolicyValue(state []float32, legal []int) (probs []float32, value float32) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	logits, value := m.forward(state)
	return ai.MaskedSoftmax(logits, legal), value
}

// BatchPolicyValue implements ai.Learner.
func (m *Model) BatchPolicyValue(states [][]float32) (probs [][]float32, values []float32) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lockedBatchPolicyValue(states)
}

func (m *Model) lockedBatchPolicyValue(states [][]float32) (probs [][]float32, values []float32) {
	probs = make([][]float32, len(states))
	values = make([]float32, len(states))
	for ii, state := range states {
		var logits []float32
		logits, values[ii] = m.forward(state)
		probs[ii] = ai.Softmax(logits)
	}
	return
}

// TrainStep implements ai.Learner.
//
// The loss is the AlphaZero loss: (z - v)^2 - pi^T log(p) + L2Reg * |W|^2, averaged over the batch.
//
// Gradients, for a single example with x the input, p = softmax(logits), v = tanh(a):
//
//	dLoss/dlogit_i = p_i - pi_i
//	dLoss/da = 2*(v - z)*(1 - v^2)
func (m *Model) TrainStep(states, targetProbs [][]float32, targetValues []float32, learningRate float32) (
	probs [][]float32, values []float32, loss, entropy float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(states) == 0 {
		return
	}
	if len(targetProbs) != len(states) || len(targetValues) != len(states) {
		exceptions.Panicf("linear: batch with %d states, %d policy targets and %d value targets",
			len(states), len(targetProbs), len(targetValues))
	}

	p := &m.params
	probs, values = m.lockedBatchPolicyValue(states)
	gradPolicyW := make([]float32, len(p.PolicyW))
	gradPolicyB := make([]float32, len(p.PolicyB))
	gradValueW := make([]float32, len(p.ValueW))
	var gradValueB float32

	for b, state := range states {
		target := targetProbs[b]
		if len(target) != p.NumMoves {
			exceptions.Panicf("linear: policy target has %d moves, but model expects %d", len(target), p.NumMoves)
		}
		for move, prob := range probs[b] {
			diff := prob - target[move]
			loss -= target[move] * logOf(prob)
			if diff == 0 {
				continue
			}
			gradPolicyB[move] += diff
			row := gradPolicyW[move*p.StateDim : (move+1)*p.StateDim]
			for ii, x := range state {
				if x != 0 {
					row[ii] += diff * x
				}
			}
		}

		v := values[b]
		valueDiff := v - targetValues[b]
		loss += valueDiff * valueDiff
		c := 2 * valueDiff * (1 - v*v)
		gradValueB += c
		for ii, x := range state {
			gradValueW[ii] += c * x
		}
	}

	// Take the mean over the batch, and add L2 regularization.
	n := float32(len(states))
	loss /= n
	loss += m.l2RegularizationLoss()
	for ii := range gradPolicyW {
		gradPolicyW[ii] = gradPolicyW[ii]/n + 2*m.L2Reg*p.PolicyW[ii]
	}
	for ii := range gradPolicyB {
		gradPolicyB[ii] /= n
	}
	for ii := range gradValueW {
		gradValueW[ii] = gradValueW[ii]/n + 2*m.L2Reg*p.ValueW[ii]
	}
	gradValueB /= n

	// SGD with momentum.
	o := &m.optimizer
	applyMomentum(p.PolicyW, o.PolicyW, gradPolicyW, m.Momentum, learningRate)
	applyMomentum(p.PolicyB, o.PolicyB, gradPolicyB, m.Momentum, learningRate)
	applyMomentum(p.ValueW, o.ValueW, gradValueW, m.Momentum, learningRate)
	o.ValueB = m.Momentum*o.ValueB + gradValueB
	p.ValueB -= learningRate * o.ValueB
	o.Step++

	entropy = ai.Entropy(probs)
	return
}

func applyMomentum(params, velocity, grad []float32, momentum, learningRate float32) {
	for ii, g := range grad {
		velocity[ii] = momentum*velocity[ii] + g
		params[ii] -= learningRate * velocity[ii]
	}
}

func logOf(p float32) float32 {
	return math32.Log(p + 1e-10)
}

// l2RegularizationLoss is the regularization term for the loss.
func (m *Model) l2RegularizationLoss() float32 {
	if m.L2Reg == 0 {
		return 0
	}
	var sum float32
	for _, w := range m.params.PolicyW {
		sum += w * w
	}
	for _, w := range m.params.ValueW {
		sum += w * w
	}
	return sum * m.L2Reg
}

// Steps returns the number of training steps performed so far.
func (m *Model) Steps() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.optimizer.Step
}

// MarshalParameters implements ai.Learner.
func (m *Model) MarshalParameters() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return gobEncode(&m.params)
}

// UnmarshalParameters implements ai.Learner. It fails if the serialized model has different dimensions.
func (m *Model) UnmarshalParameters(data []byte) error {
	var p parameters
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&p); err != nil {
		return errors.Wrap(err, "failed to decode linear model parameters")
	}
	if p.StateDim != m.params.StateDim || p.NumMoves != m.params.NumMoves {
		return errors.Errorf("linear model parameters are for state=%d/moves=%d, but model is state=%d/moves=%d",
			p.StateDim, p.NumMoves, m.params.StateDim, m.params.NumMoves)
	}
	if len(p.PolicyW) != p.StateDim*p.NumMoves || len(p.PolicyB) != p.NumMoves || len(p.ValueW) != p.StateDim {
		return errors.New("linear model parameters have inconsistent shapes")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.params = p
	return nil
}

// MarshalOptimizer implements ai.Learner.
func (m *Model) MarshalOptimizer() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return gobEncode(&m.optimizer)
}

// UnmarshalOptimizer implements ai.Learner.
func (m *Model) UnmarshalOptimizer(data []byte) error {
	var o optimizerState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&o); err != nil {
		return errors.Wrap(err, "failed to decode linear model optimizer state")
	}
	if len(o.PolicyW) != len(m.params.PolicyW) || len(o.PolicyB) != len(m.params.PolicyB) || len(o.ValueW) != len(m.params.ValueW) {
		return errors.New("linear model optimizer state doesn't match the model dimensions")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.optimizer = o
	return nil
}

func gobEncode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, errors.Wrapf(err, "failed to encode %T", v)
	}
	return buf.Bytes(), nil
}
