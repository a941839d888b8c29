package training

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdaptLearningRate(t *testing.T) {
	const target = 0.025
	s := NewState(1000)
	s.AdaptLearningRate(0.1, target)
	assert.InDelta(t, 1/1.5, s.LRMultiplier, 1e-9)
	s.AdaptLearningRate(0.001, target)
	assert.InDelta(t, 1.0, s.LRMultiplier, 1e-9)
	s.AdaptLearningRate(0.02, target)
	assert.InDelta(t, 1.0, s.LRMultiplier, 1e-9, "kl within [target/2, 2*target] keeps the multiplier")

	// Floor and ceiling.
	for range 20 {
		s.AdaptLearningRate(1, target)
	}
	assert.GreaterOrEqual(t, s.LRMultiplier, MinLRMultiplier)
	assert.Less(t, s.LRMultiplier, MinLRMultiplier*LRMultiplierStep)
	for range 20 {
		s.AdaptLearningRate(0, target)
	}
	assert.LessOrEqual(t, s.LRMultiplier, MaxLRMultiplier)
	assert.Greater(t, s.LRMultiplier, MaxLRMultiplier/LRMultiplierStep)
}

func TestAdaptLearningRate_Bounds(t *testing.T) {
	rng := rand.New(rand.NewPCG(11, 13))
	s := NewState(1000)
	for range 1000 {
		before := s.LRMultiplier
		s.AdaptLearningRate(rng.Float64()*0.1, 0.025)
		assert.GreaterOrEqual(t, s.LRMultiplier, MinLRMultiplier)
		assert.LessOrEqual(t, s.LRMultiplier, MaxLRMultiplier)
		ratio := s.LRMultiplier / before
		changed := ratio < 0.999 || ratio > 1.001
		if changed {
			assert.True(t, ratio > 1.49 && ratio < 1.51 || ratio > 1/1.51 && ratio < 1/1.49, "ratio=%g", ratio)
		}
	}
}
