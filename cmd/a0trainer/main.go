// a0trainer runs the AlphaZero self-play training pipeline for gomoku: self-play workers feed
// the trainer, and each new checkpoint is periodically evaluated against a pure MCTS baseline,
// to decide on its promotion to the best checkpoint.
//
// The configuration is read from the file given by -config (any format supported by viper), and
// individual values can be overridden with -pipeline, e.g.:
//
//	a0trainer -config=pipeline.yaml -pipeline="width=8,height=8,n_in_row=5,self_play_workers=4"
//
// The model is selected with model=linear (the default) or model=fnn, the latter configured with
// model_params, e.g. -pipeline="model=fnn,model_params=fnn_num_hidden_nodes=128".
package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/janpfeifer/a0gomoku/internal/config"
	"github.com/janpfeifer/a0gomoku/internal/coordinator"
	"github.com/janpfeifer/a0gomoku/internal/parameters"
	"github.com/janpfeifer/a0gomoku/internal/profilers"
	"github.com/janpfeifer/a0gomoku/internal/ui/spinning"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

// Flags
var (
	flagConfig   = flag.String("config", "", "Configuration file of the pipeline. If empty, the defaults are used.")
	flagPipeline = flag.String("pipeline", "", "Comma-separated list of key=value overrides of the configuration, "+
		"e.g. \"width=8,height=8,n_in_row=5\".")
	flagResume        = flag.Bool("resume", false, "Resume training from the current checkpoint, if one exists.")
	flagNumIterations = flag.Int("num_iterations", 0, "Number of training updates. "+
		"A value of <= 0 takes the value from the configuration (game_batch_num).")
	flagSpinner   = flag.Bool("spinner", true, "Display a spinning symbol while waiting for evaluation games.")
	flagShowGames = flag.Bool("show_games", false, "Print the final board of one game of each evaluation round.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	// Capture Control+C
	ctx, cancel := context.WithCancel(context.Background())
	spinning.SafeInterrupt(cancel, 5*time.Second)
	defer cancel()

	// Profilers: HTTP profiler server and CPU profile.
	profilers.Setup(ctx)
	defer profilers.OnQuit()

	cfg := must.M1(config.Load(*flagConfig, parameters.NewFromConfigString(*flagPipeline)))
	if *flagResume {
		cfg.Resume = true
	}
	if *flagNumIterations > 0 {
		cfg.GameBatchNum = *flagNumIterations
	}
	newLearner := must.M1(cfg.LearnerFactory())

	c := must.M1(coordinator.New(cfg, newLearner))
	c.Spinner = *flagSpinner
	c.ShowGames = *flagShowGames
	must.M(c.Run(ctx))
	if ctx.Err() != nil {
		fmt.Println("quit")
		return
	}
	state := c.State()
	fmt.Printf("Training finished after %d evaluations: %s\n", len(c.Evaluations()), state)
}
