// Package evaluator implements the evaluation workers: each job is one game between the latest
// published checkpoint and the fixed-strength baseline player.
package evaluator

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/janpfeifer/a0gomoku/internal/ai"
	"github.com/janpfeifer/a0gomoku/internal/checkpoint"
	"github.com/janpfeifer/a0gomoku/internal/gomoku"
	"github.com/janpfeifer/a0gomoku/internal/match"
	"github.com/janpfeifer/a0gomoku/internal/queue"
	"github.com/janpfeifer/a0gomoku/internal/searchers"
	"github.com/janpfeifer/a0gomoku/internal/searchers/mcts"
	"github.com/janpfeifer/a0gomoku/internal/searchers/rollout"
	"k8s.io/klog/v2"
)

// Outcome of an evaluation game, from the point of view of the checkpoint player.
type Outcome int

const (
	Loss Outcome = iota
	Win
	Draw
)

func (o Outcome) String() string {
	switch o {
	case Win:
		return "win"
	case Loss:
		return "loss"
	case Draw:
		return "draw"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Job requests one evaluation game.
type Job struct {
	Index int

	// StartPlayer is 0 if the checkpoint player moves first, 1 if the baseline moves first.
	StartPlayer int

	// BaselineStrength is the number of playouts of the baseline.
	BaselineStrength int
}

// Result of one evaluation game.
type Result struct {
	Job
	Outcome Outcome

	// Version of the checkpoint evaluated.
	Version int64

	// FinalBoard of the game.
	FinalBoard *gomoku.Board

	// Err is set if the game couldn't be played, in which case Outcome is Loss.
	Err error
}

// Config of the evaluation workers.
type Config struct {
	Game gomoku.Config

	// Search options of the checkpoint player. SelfPlay is always disabled.
	Search mcts.Options

	// CheckpointPath of the checkpoint to evaluate.
	CheckpointPath string
}

// EvaluationTemperature makes the checkpoint player always pick the most visited move.
const EvaluationTemperature = 1e-3

// Worker plays the evaluation jobs it receives.
type Worker struct {
	ID int
	Config

	newLearner func() ai.Learner
	jobs       *queue.Queue[Job]
	results    *queue.Queue[Result]
}

// NewWorker creates an evaluation worker. newLearner creates the (empty) model the checkpoints
// are loaded into.
func NewWorker(id int, config Config, newLearner func() ai.Learner, jobs *queue.Queue[Job], results *queue.Queue[Result]) *Worker {
	return &Worker{ID: id, Config: config, newLearner: newLearner, jobs: jobs, results: results}
}

// Evaluate plays the game of one job. The checkpoint is loaded fresh for every job.
func (w *Worker) Evaluate(ctx context.Context, job Job) Result {
	result := Result{Job: job, Outcome: Loss, Version: -1}
	ckpt, err := checkpoint.Load(w.CheckpointPath)
	if err != nil {
		result.Err = err
		return result
	}
	result.Version = ckpt.Version
	learner := w.newLearner()
	if err = ckpt.Restore(learner, false); err != nil {
		result.Err = err
		return result
	}

	rng := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	options := w.Search
	options.SelfPlay = false
	options.Temperature = EvaluationTemperature
	player := mcts.New(ai.NewBoardEvaluator(learner, w.Game.Planes), options, rng)
	baseline := rollout.NewBaseline(job.BaselineStrength, rng)

	m, winnerIdx, err := match.Play(ctx, w.Game, [2]searchers.Searcher{player, baseline}, job.StartPlayer)
	if err != nil {
		result.Err = err
		return result
	}
	result.FinalBoard = m.FinalBoard()
	switch winnerIdx {
	case 0:
		result.Outcome = Win
	case 1:
		result.Outcome = Loss
	default:
		result.Outcome = Draw
	}
	klog.V(1).Infof("Evaluator #%d: job #%d, checkpoint version %d vs baseline %d (start=%d): %s",
		w.ID, job.Index, result.Version, job.BaselineStrength, job.StartPlayer, result.Outcome)
	return result
}

// Run evaluates jobs until ctx is cancelled, in which case it returns nil and the job in progress
// is abandoned.
func (w *Worker) Run(ctx context.Context) error {
	for {
		job, err := w.jobs.Receive(ctx)
		if err != nil {
			return nil
		}
		result := w.Evaluate(ctx, job)
		if ctx.Err() != nil {
			return nil
		}
		if result.Err != nil {
			klog.Errorf("Evaluator #%d failed job #%d: %+v", w.ID, job.Index, result.Err)
		}
		if err = w.results.Send(ctx, result); err != nil {
			return nil
		}
	}
}

// Tally counts the outcomes of an evaluation round.
type Tally struct {
	Wins, Losses, Draws int
}

// Add one outcome.
func (t *Tally) Add(o Outcome) {
	switch o {
	case Win:
		t.Wins++
	case Draw:
		t.Draws++
	default:
		t.Losses++
	}
}

// Total number of games.
func (t Tally) Total() int {
	return t.Wins + t.Losses + t.Draws
}

// WinRatio is (wins + 0.5*draws) / games, or 0 if no games were played.
func (t Tally) WinRatio() float64 {
	if t.Total() == 0 {
		return 0
	}
	return (float64(t.Wins) + 0.5*float64(t.Draws)) / float64(t.Total())
}

func (t Tally) String() string {
	return fmt.Sprintf("win: %d, loss: %d, draw: %d", t.Wins, t.Losses, t.Draws)
}

// WinRatio of the results.
func WinRatio(results []Result) float64 {
	var t Tally
	for _, r := range results {
		t.Add(r.Outcome)
	}
	return t.WinRatio()
}
