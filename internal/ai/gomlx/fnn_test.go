package gomlx

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/janpfeifer/a0gomoku/internal/parameters"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// smallParams keeps the tests fast.
var smallParams = parameters.Params{
	"fnn_num_hidden_layers": "1",
	"fnn_num_hidden_nodes":  "16",
}

// buildBatch creates a random batch where the target policy is always the first active feature,
// and the target value is +1 if the first feature is set, -1 otherwise.
func buildBatch(rng *rand.Rand, batchSize, stateDim, numMoves int) (states, targetProbs [][]float32, targetValues []float32) {
	for range batchSize {
		state := make([]float32, stateDim)
		target := make([]float32, numMoves)
		active := rng.IntN(numMoves)
		state[active] = 1
		target[active] = 1
		states = append(states, state)
		targetProbs = append(targetProbs, target)
		if active == 0 {
			targetValues = append(targetValues, 1)
		} else {
			targetValues = append(targetValues, -1)
		}
	}
	return
}

func TestNew_Params(t *testing.T) {
	_, err := New(8, 4, parameters.Params{"fnn_num_hidden_nodes": "many"})
	require.Error(t, err)
	_, err = New(8, 4, parameters.Params{"unknown_param": "1"})
	require.ErrorContains(t, err, "unknown_param")

	params := parameters.NewFromConfigString("fnn_num_hidden_nodes=8,learning_rate=0.01")
	require.NoError(t, CheckParams(params))
	// Params are not consumed.
	assert.Len(t, params, 2)
	require.Error(t, CheckParams(parameters.Params{"fnn_residual": "maybe"}))
}

func TestTrainStep_ReducesLoss(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 7))
	model, err := New(8, 4, smallParams)
	require.NoError(t, err)
	fmt.Printf("model: %s\n", model)
	states, targetProbs, targetValues := buildBatch(rng, 32, 8, 4)

	wantProbs, wantValues := model.BatchPolicyValue(states)
	probs, values, firstLoss, entropy := model.TrainStep(states, targetProbs, targetValues, 0.01)
	require.Len(t, probs, 32)
	require.Len(t, values, 32)
	// Predictions are the ones before the update.
	assert.InDeltaSlice(t, wantProbs[3], probs[3], 1e-5)
	assert.InDeltaSlice(t, wantValues, values, 1e-5)
	assert.Greater(t, entropy, float32(0))
	for _, v := range values {
		assert.LessOrEqual(t, v, float32(1))
		assert.GreaterOrEqual(t, v, float32(-1))
	}

	var loss float32
	for range 100 {
		_, _, loss, _ = model.TrainStep(states, targetProbs, targetValues, 0.01)
	}
	fmt.Printf("loss: first=%.4f, last=%.4f\n", firstLoss, loss)
	assert.Less(t, loss, firstLoss/2)

	// The model should have learned to pick the active feature.
	probsAfter, _ := model.BatchPolicyValue(states[:1])
	bestMove := 0
	for move, prob := range probsAfter[0] {
		if prob > probsAfter[0][bestMove] {
			bestMove = move
		}
	}
	assert.Equal(t, float32(1), targetProbs[0][bestMove])
}

func TestPolicyValue_Masked(t *testing.T) {
	model, err := New(4, 4, smallParams)
	require.NoError(t, err)
	probs, _ := model.PolicyValue([]float32{1, 0, 0, 0}, []int{1, 3})
	require.Len(t, probs, 4)
	assert.Equal(t, float32(0), probs[0])
	assert.Equal(t, float32(0), probs[2])
	assert.InDelta(t, 1.0, probs[1]+probs[3], 1e-5)
	assert.Panics(t, func() { model.PolicyValue([]float32{1, 0}, []int{0}) })
}

func TestBatchPolicyValue_Padding(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	model, err := New(6, 3, smallParams)
	require.NoError(t, err)
	states, _, _ := buildBatch(rng, 11, 6, 3)
	probs, values := model.BatchPolicyValue(states)
	require.Len(t, probs, 11)
	require.Len(t, values, 11)

	// Each state gets the same prediction alone as in the padded batch.
	for ii := range states {
		single, value := model.BatchPolicyValue(states[ii : ii+1])
		assert.InDeltaSlice(t, probs[ii], single[0], 1e-5)
		assert.InDelta(t, values[ii], value[0], 1e-5)
	}
	assert.Equal(t, 1, paddedSize(1))
	assert.Equal(t, 8, paddedSize(5))
	assert.Equal(t, 12, paddedSize(11))
}

func TestMarshalling(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	model, err := New(6, 3, smallParams)
	require.NoError(t, err)
	states, targetProbs, targetValues := buildBatch(rng, 8, 6, 3)
	for range 5 {
		model.TrainStep(states, targetProbs, targetValues, 0.01)
	}
	params, err := model.MarshalParameters()
	require.NoError(t, err)
	optimizer, err := model.MarshalOptimizer()
	require.NoError(t, err)

	restored, err := New(6, 3, smallParams)
	require.NoError(t, err)
	require.NoError(t, restored.UnmarshalParameters(params))
	require.NoError(t, restored.UnmarshalOptimizer(optimizer))
	wantProbs, wantValues := model.BatchPolicyValue(states)
	gotProbs, gotValues := restored.BatchPolicyValue(states)
	for ii := range states {
		assert.InDeltaSlice(t, wantProbs[ii], gotProbs[ii], 1e-5)
	}
	assert.InDeltaSlice(t, wantValues, gotValues, 1e-5)

	// With the optimizer state restored, the next update is the same.
	_, _, wantLoss, _ := model.TrainStep(states, targetProbs, targetValues, 0.01)
	_, _, gotLoss, _ := restored.TrainStep(states, targetProbs, targetValues, 0.01)
	assert.InDelta(t, wantLoss, gotLoss, 1e-5)
	wantProbs, _ = model.BatchPolicyValue(states[:1])
	gotProbs, _ = restored.BatchPolicyValue(states[:1])
	assert.InDeltaSlice(t, wantProbs[0], gotProbs[0], 1e-5)

	// Mismatched dimensions are rejected, and the model is left untouched.
	other, err := New(5, 3, smallParams)
	require.NoError(t, err)
	before, _ := other.BatchPolicyValue([][]float32{{1, 0, 0, 0, 0}})
	require.Error(t, other.UnmarshalParameters(params))
	require.Error(t, other.UnmarshalOptimizer(optimizer))
	require.Error(t, other.UnmarshalParameters([]byte("garbage")))
	require.Error(t, other.UnmarshalOptimizer(params))
	after, _ := other.BatchPolicyValue([][]float32{{1, 0, 0, 0, 0}})
	assert.Equal(t, before, after)
}
