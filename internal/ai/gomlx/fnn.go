package gomlx

import (
	"fmt"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/ml/layers/activations"
	fnnLayer "github.com/gomlx/gomlx/ml/layers/fnn"
	"github.com/gomlx/gomlx/ml/train"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/a0gomoku/internal/ai"
	"github.com/janpfeifer/a0gomoku/internal/parameters"
)

// ModelName used in configurations to select the FNN model.
const ModelName = "fnn"

// FNN is a feed-forward policy-value model: a shared trunk (configured by the fnn hyperparameters)
// followed by a policy head with one logit per board cell, and a value head squashed with tanh.
//
// It implements ai.Learner.
type FNN struct {
	ctx                *context.Context
	stateDim, numMoves int

	optimizer              optimizers.Interface
	predictExec, trainExec *context.Exec

	// muLearning "write" for learning, and "read" for predicting.
	muLearning sync.RWMutex
}

var _ ai.Learner = (*FNN)(nil)

// newContext with the hyperparameters set to their defaults.
func newContext() *context.Context {
	ctx := context.New()
	ctx.RngStateReset()
	ctx.SetParams(map[string]any{
		optimizers.ParamOptimizer:    "adam",
		optimizers.ParamLearningRate: 0.001,
		optimizers.ParamAdamEpsilon:  1e-7,
		activations.ParamActivation:  "relu",
		layers.ParamDropoutRate:      0.0,

		// Trunk network parameters:
		fnnLayer.ParamNumHiddenLayers: 2,
		fnnLayer.ParamNumHiddenNodes:  64,
		fnnLayer.ParamResidual:        true,
		fnnLayer.ParamNormalization:   "layer",
	})
	return ctx
}

// CheckParams returns an error if params has values that can't be used to configure the model.
// params is not modified.
func CheckParams(params parameters.Params) error {
	return extractParams(ModelName, cloneParams(params), newContext())
}

func cloneParams(params parameters.Params) parameters.Params {
	clone := make(parameters.Params, len(params))
	for key, value := range params {
		clone[key] = value
	}
	return clone
}

// New creates an FNN model for states of dimension stateDim and numMoves board cells, with
// randomly initialized weights. The hyperparameters in params overwrite the defaults, and
// params is not modified.
func New(stateDim, numMoves int, params parameters.Params) (*FNN, error) {
	m := &FNN{ctx: newContext(), stateDim: stateDim, numMoves: numMoves}
	if err := extractParams(ModelName, cloneParams(params), m.ctx); err != nil {
		return nil, err
	}
	m.ctx = m.ctx.Checked(false)
	m.optimizer = optimizers.FromContext(m.ctx)
	m.createExecutors()

	// Force creating the variables, so they can be serialized right away.
	_, _ = m.BatchPolicyValue([][]float32{make([]float32, stateDim)})
	return m, nil
}

// String implements ai.Predictor.
func (m *FNN) String() string {
	return fmt.Sprintf("%s[GoMLX/%s]", ModelName, backend().Name())
}

func (m *FNN) createExecutors() {
	muNewExec.Lock()
	defer muNewExec.Unlock()
	m.predictExec = context.NewExec(backend(), m.ctx,
		func(ctx *context.Context, inputs []*graph.Node) []*graph.Node {
			logits, values := m.forwardGraph(ctx, inputs[0])
			return []*graph.Node{logits, values}
		})
	m.trainExec = context.NewExec(backend(), m.ctx,
		func(ctx *context.Context, inputsAndLabels []*graph.Node) []*graph.Node {
			states, targetProbs, targetValues := inputsAndLabels[0], inputsAndLabels[1], inputsAndLabels[2]
			g := states.Graph()
			ctx.SetTraining(g, true)
			logits, values := m.forwardGraph(ctx, states)
			loss := m.lossGraph(logits, values, targetProbs, targetValues)
			m.optimizer.UpdateGraph(ctx, g, loss)
			train.ExecPerStepUpdateGraphFn(ctx, g)
			return []*graph.Node{loss}
		})
}

// forwardGraph returns the policy logits shaped [batch, numMoves] and the values shaped [batch].
func (m *FNN) forwardGraph(ctx *context.Context, states *graph.Node) (logits, values *graph.Node) {
	numHidden := context.GetParamOr(ctx, fnnLayer.ParamNumHiddenNodes, 64)
	trunk := fnnLayer.New(ctx.In("trunk"), states, numHidden).Done()
	trunk = activations.ApplyFromContext(ctx, trunk)
	logits = layers.Dense(ctx.In("policy"), trunk, true, m.numMoves)
	values = graph.Tanh(layers.Dense(ctx.In("value"), trunk, true, 1))
	values = graph.Squeeze(values, -1)
	return
}

// lossGraph is the mean over the batch of (z - v)^2 - π·log(p).
func (m *FNN) lossGraph(logits, values, targetProbs, targetValues *graph.Node) *graph.Node {
	logProbs := graph.Log(graph.AddScalar(graph.Softmax(logits, -1), 1e-10))
	policyLoss := graph.ReduceAllMean(graph.Neg(graph.ReduceSum(graph.Mul(targetProbs, logProbs), -1)))
	valueLoss := graph.ReduceAllMean(graph.Square(graph.Sub(values, targetValues)))
	return graph.Add(policyLoss, valueLoss)
}

// paddedSize returns a padded batch size for the given number of states, so we don't have too many
// different versions of the program for every different batch size.
func paddedSize(numStates int) int {
	if numStates <= 1 {
		return 1
	}
	paddedSize := 8
	for paddedSize < numStates {
		// Increase 1.5x at a time.
		paddedSize = paddedSize + (paddedSize+1)/2
	}
	return paddedSize
}

// createTensor of shape [padding, dim] (padding >= len(rows)) with the rows copied to it.
func createTensor(rows [][]float32, padding, dim int) *tensors.Tensor {
	t := tensors.FromShape(shapes.Make(dtypes.Float32, padding, dim))
	tensors.MutableFlatData(t, func(flat []float32) {
		for ii, row := range rows {
			if len(row) != dim {
				exceptions.Panicf("gomlx: expected rows of dimension %d, got %d", dim, len(row))
			}
			copy(flat[ii*dim:], row)
		}
	})
	return t
}

// predict returns the logits and values for the states, with the lock already held.
func (m *FNN) predict(states [][]float32) (logits [][]float32, values []float32) {
	statesT := createTensor(states, paddedSize(len(states)), m.stateDim)
	outputs := m.predictExec.Call(statesT)
	flatLogits := tensors.CopyFlatData[float32](outputs[0])
	flatValues := tensors.CopyFlatData[float32](outputs[1])
	logits = make([][]float32, len(states))
	for ii := range logits {
		logits[ii] = flatLogits[ii*m.numMoves : (ii+1)*m.numMoves]
	}
	values = flatValues[:len(states)]
	return
}

// PolicyValue implements ai.Predictor.
func (m *FNN) PolicyValue(state []float32, legal []int) (probs []float32, value float32) {
	m.muLearning.RLock()
	defer m.muLearning.RUnlock()
	logits, values := m.predict([][]float32{state})
	return ai.MaskedSoftmax(logits[0], legal), values[0]
}

// BatchPolicyValue implements ai.Learner.
func (m *FNN) BatchPolicyValue(states [][]float32) (probs [][]float32, values []float32) {
	m.muLearning.RLock()
	defer m.muLearning.RUnlock()
	return m.lockedBatchPolicyValue(states)
}

func (m *FNN) lockedBatchPolicyValue(states [][]float32) (probs [][]float32, values []float32) {
	if len(states) == 0 {
		return
	}
	logits, values := m.predict(states)
	probs = make([][]float32, len(logits))
	for ii, l := range logits {
		probs[ii] = ai.Softmax(l)
	}
	return
}

// TrainStep implements ai.Learner. The batch is not padded: it is compiled once per batch size.
func (m *FNN) TrainStep(states, targetProbs [][]float32, targetValues []float32, learningRate float32) (
	probs [][]float32, values []float32, loss, entropy float32) {
	m.muLearning.Lock()
	defer m.muLearning.Unlock()
	if len(states) == 0 {
		return
	}
	if len(targetProbs) != len(states) || len(targetValues) != len(states) {
		exceptions.Panicf("gomlx: batch with %d states, %d policy targets and %d value targets",
			len(states), len(targetProbs), len(targetValues))
	}
	probs, values = m.lockedBatchPolicyValue(states)

	batchSize := len(states)
	statesT := createTensor(states, batchSize, m.stateDim)
	targetProbsT := createTensor(targetProbs, batchSize, m.numMoves)
	targetValuesT := tensors.FromFlatDataAndDimensions(append([]float32(nil), targetValues...), batchSize)
	optimizers.LearningRateVar(m.ctx, dtypes.Float32, float64(learningRate)).
		SetValue(tensors.FromScalar(learningRate))
	lossT := m.trainExec.Call(statesT, targetProbsT, targetValuesT)[0]
	loss = tensors.ToScalar[float32](lossT)
	entropy = ai.Entropy(probs)
	return
}
