package coordinator

import "github.com/janpfeifer/a0gomoku/internal/training"

// Promotion rule applied after each evaluation round.
type Promotion struct {
	// BaselineStep is added to the baseline strength when a checkpoint wins all evaluation games,
	// as long as the baseline is below BaselineMax. The baseline never goes above BaselineMax.
	BaselineStep, BaselineMax int
}

// Decision taken by Promotion.Apply.
type Decision struct {
	Promoted, BaselineRaised bool
}

// Apply updates state with the win ratio of an evaluation round: the checkpoint is promoted if
// it improves on the best win ratio. A perfect ratio against a baseline below the maximum
// raises the baseline, and resets the best win ratio.
func (p Promotion) Apply(state *training.State, winRatio float64) (d Decision) {
	if winRatio <= state.BestWinRatio {
		return
	}
	d.Promoted = true
	state.BestWinRatio = winRatio
	if winRatio == 1.0 && state.BaselineStrength < p.BaselineMax {
		state.BaselineStrength = min(state.BaselineStrength+p.BaselineStep, p.BaselineMax)
		state.BestWinRatio = 0
		d.BaselineRaised = true
	}
	return
}
