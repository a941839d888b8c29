// Package config defines the configuration of the training pipeline.
//
// Values come from the defaults, optionally overwritten by a configuration file (any format
// supported by viper: YAML, TOML, JSON, ...), and finally by "key=value" overrides given in
// the command line.
package config

import (
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/gomlx/exceptions"
	"github.com/janpfeifer/a0gomoku/internal/ai"
	"github.com/janpfeifer/a0gomoku/internal/ai/gomlx"
	"github.com/janpfeifer/a0gomoku/internal/ai/linear"
	"github.com/janpfeifer/a0gomoku/internal/generics"
	"github.com/janpfeifer/a0gomoku/internal/gomoku"
	"github.com/janpfeifer/a0gomoku/internal/parameters"
	"github.com/janpfeifer/a0gomoku/internal/searchers/mcts"
	"github.com/janpfeifer/a0gomoku/internal/trainer"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Pipeline holds all the configuration of a training run.
type Pipeline struct {
	// Game.
	Width         int `mapstructure:"width"`
	Height        int `mapstructure:"height"`
	NInRow        int `mapstructure:"n_in_row"`
	FeaturePlanes int `mapstructure:"feature_planes"`

	// Model is the policy-value model trained: "linear" or "fnn".
	Model string `mapstructure:"model"`

	// ModelParams are "key=value" hyperparameters of the model, e.g. "fnn_num_hidden_nodes=128".
	// Only the "fnn" model takes hyperparameters. Since -pipeline overrides are also comma-separated,
	// more than one hyperparameter has to be set in the configuration file.
	ModelParams string `mapstructure:"model_params"`

	// Training.
	LearnRate    float64 `mapstructure:"learn_rate"`
	KLTarget     float64 `mapstructure:"kl_target"`
	BatchSize    int     `mapstructure:"batch_size"`
	BufferSize   int     `mapstructure:"buffer_size"`
	Epochs       int     `mapstructure:"epochs"`
	GameBatchNum int     `mapstructure:"game_batch_num"`

	// Search of the trained player.
	NPlayout       int     `mapstructure:"n_playout"`
	CPuct          float64 `mapstructure:"c_puct"`
	Temperature    float64 `mapstructure:"temperature"`
	DirichletAlpha float64 `mapstructure:"dirichlet_alpha"`
	NoiseFraction  float64 `mapstructure:"noise_fraction"`

	// SelfPlayPlayer and EvalPlayer are "key=value" settings of the search applied on top of the
	// values above, for self-play and for evaluation respectively. E.g.: "playouts=800,c_puct=3".
	SelfPlayPlayer string `mapstructure:"self_play_player"`
	EvalPlayer     string `mapstructure:"eval_player"`

	// Evaluation.
	CheckFreq     int `mapstructure:"check_freq"`
	NEval         int `mapstructure:"n_eval"`
	BaselineStart int `mapstructure:"baseline_start"`
	BaselineStep  int `mapstructure:"baseline_step"`
	BaselineMax   int `mapstructure:"baseline_max"`

	// Workers and queues.
	SelfPlayWorkers int           `mapstructure:"self_play_workers"`
	Evaluators      int           `mapstructure:"evaluators"`
	QueueCapacity   int           `mapstructure:"queue_capacity"`
	HighWaterMark   int           `mapstructure:"high_water_mark"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	ReloadEvery     int           `mapstructure:"reload_every"`

	// Checkpoints.
	CurrentPath string `mapstructure:"current_path"`
	BestPath    string `mapstructure:"best_path"`
	Resume      bool   `mapstructure:"resume"`

	PrintUpdates bool `mapstructure:"print_updates"`
}

// Default returns the default configuration.
func Default() Pipeline {
	return Pipeline{
		Width:         11,
		Height:        11,
		NInRow:        5,
		FeaturePlanes: 4,

		Model: linear.ModelName,

		LearnRate:    5e-3,
		KLTarget:     0.025,
		BatchSize:    512,
		BufferSize:   10000,
		Epochs:       5,
		GameBatchNum: 1500,

		NPlayout:       400,
		CPuct:          5,
		Temperature:    1,
		DirichletAlpha: 0.3,
		NoiseFraction:  0.25,

		CheckFreq:     50,
		NEval:         10,
		BaselineStart: 1000,
		BaselineStep:  1000,
		BaselineMax:   5000,

		SelfPlayWorkers: runtime.GOMAXPROCS(0),
		Evaluators:      10,
		QueueCapacity:   5120,
		HighWaterMark:   4096,
		PollInterval:    time.Second,
		ReloadEvery:     1,

		CurrentPath:  "checkpoint.a0",
		BestPath:     "checkpoint_best.a0",
		PrintUpdates: true,
	}
}

// settings lists the keys and values of the configuration, as used by viper.
func (p Pipeline) settings() map[string]any {
	return map[string]any{
		"width":             p.Width,
		"height":            p.Height,
		"n_in_row":          p.NInRow,
		"feature_planes":    p.FeaturePlanes,
		"model":             p.Model,
		"model_params":      p.ModelParams,
		"learn_rate":        p.LearnRate,
		"kl_target":         p.KLTarget,
		"batch_size":        p.BatchSize,
		"buffer_size":       p.BufferSize,
		"epochs":            p.Epochs,
		"game_batch_num":    p.GameBatchNum,
		"n_playout":         p.NPlayout,
		"c_puct":            p.CPuct,
		"temperature":       p.Temperature,
		"dirichlet_alpha":   p.DirichletAlpha,
		"noise_fraction":    p.NoiseFraction,
		"self_play_player":  p.SelfPlayPlayer,
		"eval_player":       p.EvalPlayer,
		"check_freq":        p.CheckFreq,
		"n_eval":            p.NEval,
		"baseline_start":    p.BaselineStart,
		"baseline_step":     p.BaselineStep,
		"baseline_max":      p.BaselineMax,
		"self_play_workers": p.SelfPlayWorkers,
		"evaluators":        p.Evaluators,
		"queue_capacity":    p.QueueCapacity,
		"high_water_mark":   p.HighWaterMark,
		"poll_interval":     p.PollInterval,
		"reload_every":      p.ReloadEvery,
		"current_path":      p.CurrentPath,
		"best_path":         p.BestPath,
		"resume":            p.Resume,
		"print_updates":     p.PrintUpdates,
	}
}

// Load the configuration: defaults, then the configuration file at path (if not empty), and
// finally the overrides. Unknown override keys are an error.
func Load(path string, overrides parameters.Params) (Pipeline, error) {
	v := viper.New()
	defaults := Default().settings()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Pipeline{}, errors.Wrapf(err, "failed to read configuration file %q", path)
		}
	}
	for key, value := range generics.SortedKeysAndValues(overrides) {
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" {
			continue
		}
		if _, found := defaults[key]; !found {
			return Pipeline{}, errors.Errorf("unknown configuration key %q", key)
		}
		if _, isBool := defaults[key].(bool); isBool && value == "" {
			// A bool key without a value is interpreted as true.
			value = "true"
		}
		v.Set(key, value)
	}
	var p Pipeline
	if err := v.Unmarshal(&p); err != nil {
		return Pipeline{}, errors.Wrap(err, "failed to parse configuration")
	}
	if err := p.Validate(); err != nil {
		return Pipeline{}, err
	}
	return p, nil
}

// Validate returns an error describing the first inconsistent setting found.
func (p Pipeline) Validate() error {
	if err := p.Game().Validate(); err != nil {
		return err
	}
	switch {
	case p.Width != p.Height:
		return errors.Errorf("the board must be square for the symmetry augmentation, got %dx%d", p.Width, p.Height)
	case p.NPlayout <= 0:
		return errors.Errorf("n_playout must be > 0, got %d", p.NPlayout)
	case p.LearnRate <= 0:
		return errors.Errorf("learn_rate must be > 0, got %g", p.LearnRate)
	case p.KLTarget <= 0:
		return errors.Errorf("kl_target must be > 0, got %g", p.KLTarget)
	case p.BatchSize <= 0:
		return errors.Errorf("batch_size must be > 0, got %d", p.BatchSize)
	case p.BufferSize <= p.BatchSize:
		return errors.Errorf("buffer_size (%d) must be larger than batch_size (%d)", p.BufferSize, p.BatchSize)
	case p.Epochs <= 0:
		return errors.Errorf("epochs must be > 0, got %d", p.Epochs)
	case p.GameBatchNum < 0:
		return errors.Errorf("game_batch_num must be >= 0 (0 to train until interrupted), got %d", p.GameBatchNum)
	case p.CheckFreq <= 0:
		return errors.Errorf("check_freq must be > 0, got %d", p.CheckFreq)
	case p.NEval <= 0:
		return errors.Errorf("n_eval must be > 0, got %d", p.NEval)
	case p.BaselineStart <= 0 || p.BaselineStep < 0 || p.BaselineMax < p.BaselineStart:
		return errors.Errorf("invalid baseline strengths: start=%d, step=%d, max=%d", p.BaselineStart, p.BaselineStep, p.BaselineMax)
	case p.SelfPlayWorkers <= 0:
		return errors.Errorf("self_play_workers must be > 0, got %d", p.SelfPlayWorkers)
	case p.Evaluators <= 0:
		return errors.Errorf("evaluators must be > 0, got %d", p.Evaluators)
	case p.QueueCapacity <= 0:
		return errors.Errorf("queue_capacity must be > 0, got %d", p.QueueCapacity)
	case p.HighWaterMark < 0:
		return errors.Errorf("high_water_mark must be >= 0 (0 to disable), got %d", p.HighWaterMark)
	case p.HighWaterMark >= p.QueueCapacity:
		return errors.Errorf("high_water_mark (%d) must be smaller than queue_capacity (%d), or self-play would never pause",
			p.HighWaterMark, p.QueueCapacity)
	case p.PollInterval <= 0:
		return errors.Errorf("poll_interval must be > 0, got %s", p.PollInterval)
	case p.CurrentPath == "" || p.BestPath == "" || p.CurrentPath == p.BestPath:
		return errors.Errorf("current_path (%q) and best_path (%q) must be set and different", p.CurrentPath, p.BestPath)
	}
	if err := p.validateModel(); err != nil {
		return err
	}
	if _, err := p.SelfPlaySearch(); err != nil {
		return err
	}
	if _, err := p.EvalSearch(); err != nil {
		return err
	}
	return nil
}

// Game returns the game configuration.
func (p Pipeline) Game() gomoku.Config {
	return gomoku.Config{Width: p.Width, Height: p.Height, NInRow: p.NInRow, Planes: p.FeaturePlanes}
}

func (p Pipeline) baseSearch() mcts.Options {
	return mcts.Options{
		Playouts:       p.NPlayout,
		CPuct:          float32(p.CPuct),
		Temperature:    float32(p.Temperature),
		DirichletAlpha: float32(p.DirichletAlpha),
		NoiseFraction:  float32(p.NoiseFraction),
	}
}

func searchFromConfigString(base mcts.Options, key, config string) (mcts.Options, error) {
	if config == "" {
		return base, nil
	}
	params := parameters.NewFromConfigString(config)
	options, err := mcts.OptionsFromParams(params, base)
	if err != nil {
		return options, errors.WithMessagef(err, "invalid %s=%q", key, config)
	}
	if len(params) > 0 {
		return options, errors.Errorf("invalid %s=%q: unknown search parameters %q", key, config,
			slices.Collect(generics.SortedKeys(params)))
	}
	return options, nil
}

// SelfPlaySearch returns the search options of the self-play workers.
func (p Pipeline) SelfPlaySearch() (mcts.Options, error) {
	options, err := searchFromConfigString(p.baseSearch(), "self_play_player", p.SelfPlayPlayer)
	options.SelfPlay = true
	return options, err
}

// EvalSearch returns the search options of the checkpoint player during evaluation.
func (p Pipeline) EvalSearch() (mcts.Options, error) {
	return searchFromConfigString(p.baseSearch(), "eval_player", p.EvalPlayer)
}

// Trainer returns the configuration of the trainer.
func (p Pipeline) Trainer() trainer.Config {
	return trainer.Config{
		LearningRate: p.LearnRate,
		BatchSize:    p.BatchSize,
		BufferSize:   p.BufferSize,
		Epochs:       p.Epochs,
		KLTarget:     p.KLTarget,
		CurrentPath:  p.CurrentPath,
		PrintUpdates: p.PrintUpdates,
	}
}

func (p Pipeline) validateModel() error {
	switch p.Model {
	case linear.ModelName:
		if p.ModelParams != "" {
			return errors.Errorf("model %q takes no model_params, got %q", p.Model, p.ModelParams)
		}
	case gomlx.ModelName:
		if err := gomlx.CheckParams(parameters.NewFromConfigString(p.ModelParams)); err != nil {
			return errors.WithMessagef(err, "invalid model_params=%q", p.ModelParams)
		}
	default:
		return errors.Errorf("unknown model %q, valid values are %q or %q", p.Model, linear.ModelName, gomlx.ModelName)
	}
	return nil
}

// LearnerFactory returns the function that creates a model with fresh weights, as configured by
// Model and ModelParams.
func (p Pipeline) LearnerFactory() (func() ai.Learner, error) {
	if err := p.validateModel(); err != nil {
		return nil, err
	}
	game := p.Game()
	if p.Model == linear.ModelName {
		return func() ai.Learner { return linear.New(game.StateDim(), game.NumMoves()) }, nil
	}
	params := parameters.NewFromConfigString(p.ModelParams)
	return func() ai.Learner {
		model, err := gomlx.New(game.StateDim(), game.NumMoves(), params)
		if err != nil {
			// Params were validated above.
			exceptions.Panicf("failed to create model %s: %+v", p.Model, err)
		}
		return model
	}, nil
}
