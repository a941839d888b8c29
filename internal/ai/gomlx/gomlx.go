// Package gomlx implements ai.Learner with GoMLX models.
//
// For now only an FNN (Feedforward Neural Network) policy-value model is implemented. It runs on
// the pure Go backend ("simplego"), so no C library is needed.
package gomlx

import (
	"sync"

	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/simplego"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/janpfeifer/a0gomoku/internal/parameters"
	"github.com/pkg/errors"
)

var (
	// Backend is a singleton, the same for all models.
	backend = sync.OnceValue(func() backends.Backend { return backends.New() })

	// muNewExec serializes the creation of executors.
	muNewExec sync.Mutex
)

// extractParams and write them as context hyperparameters.
// Only the hyperparameters already set (with their defaults) in ctx are accepted.
func extractParams(modelName string, params parameters.Params, ctx *context.Context) error {
	var err error
	ctx.EnumerateParams(func(scope, key string, valueAny any) {
		if err != nil {
			// If error happened skip the rest.
			return
		}
		if scope != context.RootScope {
			return
		}
		switch defaultValue := valueAny.(type) {
		case string:
			value, _ := parameters.PopParamOr(params, key, defaultValue)
			ctx.SetParam(key, value)
		case int:
			value, newErr := parameters.PopParamOr(params, key, defaultValue)
			if newErr != nil {
				err = errors.WithMessagef(newErr, "parsing %q (int) for model %s", key, modelName)
				return
			}
			ctx.SetParam(key, value)
		case float64:
			value, newErr := parameters.PopParamOr(params, key, defaultValue)
			if newErr != nil {
				err = errors.WithMessagef(newErr, "parsing %q (float64) for model %s", key, modelName)
				return
			}
			ctx.SetParam(key, value)
		case bool:
			value, newErr := parameters.PopParamOr(params, key, defaultValue)
			if newErr != nil {
				err = errors.WithMessagef(newErr, "parsing %q (bool) for model %s", key, modelName)
				return
			}
			ctx.SetParam(key, value)
		default:
			err = errors.Errorf("model %s parameter %q is of unknown type %T", modelName, key, defaultValue)
		}
	})
	if err != nil {
		return err
	}
	if len(params) > 0 {
		return errors.Errorf("unknown parameters for model %s: %v", modelName, params)
	}
	return nil
}
