package mcts

import (
	"github.com/janpfeifer/a0gomoku/internal/parameters"
	"github.com/pkg/errors"
)

// OptionsFromParams returns base overwritten by the search parameters found in params.
// The parameters used are popped from params.
func OptionsFromParams(params parameters.Params, base Options) (options Options, err error) {
	options = base
	options.Playouts, err = parameters.PopParamOr(params, "playouts", options.Playouts)
	if err != nil {
		return
	}
	if options.Playouts <= 0 {
		return options, errors.Errorf("mcts requires playouts > 0, got %d", options.Playouts)
	}
	options.CPuct, err = parameters.PopParamOr(params, "c_puct", options.CPuct)
	if err != nil {
		return
	}
	if options.CPuct < 0 {
		return options, errors.Errorf("negative c_puct value (%f given) not possible", options.CPuct)
	}
	options.Temperature, err = parameters.PopParamOr(params, "temperature", options.Temperature)
	if err != nil {
		return
	}
	options.DirichletAlpha, err = parameters.PopParamOr(params, "dirichlet_alpha", options.DirichletAlpha)
	if err != nil {
		return
	}
	options.NoiseFraction, err = parameters.PopParamOr(params, "noise_fraction", options.NoiseFraction)
	if err != nil {
		return
	}
	if options.NoiseFraction < 0 || options.NoiseFraction > 1 {
		return options, errors.Errorf("noise_fraction must be between 0 and 1, got %f", options.NoiseFraction)
	}
	return options, nil
}
