// Package training holds the state of the training run shared by the trainer and the coordinator,
// and persisted in every checkpoint.
package training

import "fmt"

// Bounds and step of the learning rate multiplier.
const (
	MinLRMultiplier  = 0.1
	MaxLRMultiplier  = 10.0
	LRMultiplierStep = 1.5
)

// State of a training run.
type State struct {
	// LRMultiplier scales the base learning rate, adapted after each update from the KL divergence.
	LRMultiplier float64

	// BestWinRatio of the promoted checkpoint against the current baseline.
	BestWinRatio float64

	// BaselineStrength is the number of playouts of the baseline player.
	BaselineStrength int
}

// NewState returns the initial state for the given baseline strength.
func NewState(baselineStrength int) State {
	return State{LRMultiplier: 1, BaselineStrength: baselineStrength}
}

// AdaptLearningRate applies the adaptive rule once, given the KL divergence of the last update:
// if kl > 2*target the multiplier is divided by 1.5, if kl < target/2 it is multiplied by 1.5.
// A change is only applied if the result stays within [MinLRMultiplier, MaxLRMultiplier].
func (s *State) AdaptLearningRate(kl, target float64) {
	switch {
	case kl > 2*target:
		if next := s.LRMultiplier / LRMultiplierStep; next >= MinLRMultiplier {
			s.LRMultiplier = next
		}
	case kl < target/2:
		if next := s.LRMultiplier * LRMultiplierStep; next <= MaxLRMultiplier {
			s.LRMultiplier = next
		}
	}
}

func (s State) String() string {
	return fmt.Sprintf("lr_multiplier=%.3f, best_win_ratio=%.3f, baseline=%d",
		s.LRMultiplier, s.BestWinRatio, s.BaselineStrength)
}
