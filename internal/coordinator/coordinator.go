// Package coordinator owns the lifecycle of the training pipeline: it starts the self-play
// workers, the evaluators and the trainer, runs the evaluation rounds and promotes the best
// checkpoints.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/janpfeifer/a0gomoku/internal/ai"
	"github.com/janpfeifer/a0gomoku/internal/checkpoint"
	"github.com/janpfeifer/a0gomoku/internal/config"
	"github.com/janpfeifer/a0gomoku/internal/evaluator"
	"github.com/janpfeifer/a0gomoku/internal/gomoku"
	"github.com/janpfeifer/a0gomoku/internal/queue"
	"github.com/janpfeifer/a0gomoku/internal/selfplay"
	"github.com/janpfeifer/a0gomoku/internal/trainer"
	"github.com/janpfeifer/a0gomoku/internal/training"
	"github.com/janpfeifer/a0gomoku/internal/ui/cli"
	"github.com/janpfeifer/a0gomoku/internal/ui/spinning"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// Phase of the coordinator.
type Phase int

const (
	Collecting Phase = iota
	Evaluating
	Promoted
	NotPromoted
)

func (p Phase) String() string {
	switch p {
	case Collecting:
		return "Collecting"
	case Evaluating:
		return "Evaluating"
	case Promoted:
		return "Promoted"
	case NotPromoted:
		return "NotPromoted"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Evaluation is the record of one evaluation round.
type Evaluation struct {
	// Update after which the evaluation happened, starting at 1.
	Update int

	// Version of the checkpoint published by that update.
	Version int64

	Baseline int
	Tally    evaluator.Tally
	WinRatio float64
	Decision Decision

	// State after applying the promotion rule.
	State training.State
}

// Coordinator runs the pipeline. Create it with New.
type Coordinator struct {
	Config     config.Pipeline
	newLearner func() ai.Learner
	Promotion  Promotion
	ui         *cli.UI

	// Spinner shows a spinning symbol while waiting for the evaluation games.
	Spinner bool

	// ShowGames prints the final board of the first game of each evaluation round.
	ShowGames bool

	mu          sync.Mutex
	phase       Phase
	state       training.State
	evaluations []Evaluation

	trainer       *trainer.Trainer
	data          *queue.Queue[ai.Example]
	jobs          *queue.Queue[evaluator.Job]
	results       *queue.Queue[evaluator.Result]
	selfPlayStats selfplay.Stats
}

// New creates a Coordinator for the given configuration. newLearner creates the model, with
// fresh weights.
func New(cfg config.Pipeline, newLearner func() ai.Learner) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Coordinator{
		Config:     cfg,
		newLearner: newLearner,
		Promotion:  Promotion{BaselineStep: cfg.BaselineStep, BaselineMax: cfg.BaselineMax},
		ui:         cli.New(true),
		data:       queue.New[ai.Example](cfg.QueueCapacity),
		jobs:       queue.New[evaluator.Job](cfg.NEval),
		results:    queue.New[evaluator.Result](cfg.NEval),
	}, nil
}

// Phase returns the current phase.
func (c *Coordinator) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Coordinator) setPhase(p Phase) {
	c.mu.Lock()
	defer c.mu.Unlock()
	klog.V(1).Infof("Coordinator: %s -> %s", c.phase, p)
	c.phase = p
}

// Evaluations returns the records of the evaluation rounds run so far.
func (c *Coordinator) Evaluations() []Evaluation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Evaluation(nil), c.evaluations...)
}

// State returns the training state as of the last update or evaluation.
func (c *Coordinator) State() training.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// updateState takes a snapshot of the trainer state, owned by the training loop.
func (c *Coordinator) updateState() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = c.trainer.State
}

// initTrainer loads the current checkpoint if resuming, otherwise it publishes a fresh one, so
// the workers always find a checkpoint.
func (c *Coordinator) initTrainer() error {
	cfg := c.Config
	learner := c.newLearner()
	if cfg.Resume {
		ckpt, err := checkpoint.Load(cfg.CurrentPath)
		switch {
		case err == nil:
			if err = ckpt.Restore(learner, true); err != nil {
				return errors.WithMessage(err, "failed to resume training")
			}
			klog.Infof("Resuming run %s from checkpoint version %d: %s", ckpt.RunID, ckpt.Version, ckpt.State)
			c.trainer = trainer.New(cfg.Trainer(), learner, c.data, ckpt.State, ckpt.RunID, ckpt.Version)
			return nil
		case errors.Is(err, checkpoint.ErrNotFound):
			klog.Warningf("No checkpoint found in %q to resume from, starting a new training", cfg.CurrentPath)
		default:
			return errors.WithMessage(err, "failed to resume training")
		}
	}
	c.trainer = trainer.New(cfg.Trainer(), learner, c.data, training.NewState(cfg.BaselineStart), checkpoint.NewRunID(), 0)
	ckpt, err := c.trainer.Checkpoint(0)
	if err != nil {
		return err
	}
	if err = checkpoint.Publish(cfg.CurrentPath, ckpt); err != nil {
		return err
	}
	klog.Infof("Starting run %s: %s", c.trainer.RunID, c.trainer.State)
	return nil
}

// Run the pipeline until Config.GameBatchNum updates were done, or until ctx is cancelled.
// In either case the workers are stopped and joined before returning.
func (c *Coordinator) Run(ctx context.Context) error {
	if err := c.initTrainer(); err != nil {
		return err
	}
	c.updateState()
	cfg := c.Config
	selfPlaySearch, err := cfg.SelfPlaySearch()
	if err != nil {
		return err
	}
	evalSearch, err := cfg.EvalSearch()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)
	selfPlayConfig := selfplay.Config{
		Game:          cfg.Game(),
		Search:        selfPlaySearch,
		HighWaterMark: cfg.HighWaterMark,
		PollInterval:  cfg.PollInterval,
		ReloadEvery:   cfg.ReloadEvery,
	}
	for id := range cfg.SelfPlayWorkers {
		w := selfplay.NewWorker(id, selfPlayConfig, c.newLearner(), cfg.CurrentPath, c.data, &c.selfPlayStats)
		g.Go(func() error { return w.Run(gCtx) })
	}
	evalConfig := evaluator.Config{Game: cfg.Game(), Search: evalSearch, CheckpointPath: cfg.CurrentPath}
	for id := range cfg.Evaluators {
		w := evaluator.NewWorker(id, evalConfig, c.newLearner, c.jobs, c.results)
		g.Go(func() error { return w.Run(gCtx) })
	}
	g.Go(func() error {
		// Workers are stopped once the training loop is over.
		defer cancel()
		return c.trainLoop(gCtx)
	})
	err = g.Wait()
	klog.Infof("Pipeline stopped after %d self-play episodes (%d examples), last checkpoint version %d",
		c.selfPlayStats.Episodes.Load(), c.selfPlayStats.Examples.Load(), c.trainer.Version)
	return err
}

// trainLoop runs the updates, and the evaluation rounds every Config.CheckFreq updates.
func (c *Coordinator) trainLoop(ctx context.Context) error {
	cfg := c.Config
	for update := 1; cfg.GameBatchNum <= 0 || update <= cfg.GameBatchNum; update++ {
		c.setPhase(Collecting)
		start := time.Now()
		ckpt, stats, err := c.trainer.Step(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return errors.WithMessagef(err, "training update #%d failed", update)
		}
		c.updateState()
		klog.V(1).Infof("Update #%d done in %s: %s; self-play: %d episodes, %d reloads (%d failures)",
			update, time.Since(start), stats, c.selfPlayStats.Episodes.Load(),
			c.selfPlayStats.Reloads.Load(), c.selfPlayStats.ReloadFailures.Load())
		if update%cfg.CheckFreq != 0 {
			continue
		}
		if err = c.evaluate(ctx, update, ckpt); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
	return nil
}

// evaluate runs one evaluation round of the checkpoint published by the given update, and
// applies the promotion rule.
func (c *Coordinator) evaluate(ctx context.Context, update int, ckpt *checkpoint.Checkpoint) error {
	c.setPhase(Evaluating)
	if c.Config.PrintUpdates {
		fmt.Printf("update #%d: starting evaluation ...\n", update)
	}
	start := time.Now()
	baseline := c.trainer.State.BaselineStrength
	tally, firstBoard, err := c.evaluationRound(ctx, baseline)
	if err != nil {
		return err
	}
	winRatio := tally.WinRatio()

	decision := c.Promotion.Apply(&c.trainer.State, winRatio)
	state := c.trainer.State
	c.updateState()

	if decision.Promoted {
		c.setPhase(Promoted)
		best := *ckpt
		best.State = state
		if err = checkpoint.Publish(c.Config.BestPath, &best); err != nil {
			return errors.WithMessage(err, "failed to save best checkpoint")
		}
		// The model didn't change since the update: the current checkpoint is republished with the
		// same version, so a resumed run doesn't lose the new state.
		if err = checkpoint.Publish(c.Config.CurrentPath, &best); err != nil {
			return errors.WithMessage(err, "failed to republish current checkpoint")
		}
	} else {
		c.setPhase(NotPromoted)
	}

	evaluation := Evaluation{
		Update:   update,
		Version:  ckpt.Version,
		Baseline: baseline,
		Tally:    tally,
		WinRatio: winRatio,
		Decision: decision,
		State:    state,
	}
	c.mu.Lock()
	c.evaluations = append(c.evaluations, evaluation)
	c.mu.Unlock()

	klog.Infof("Evaluation of update #%d (version %d) against baseline %d: %s, win ratio %.2f, promoted=%v (%s)",
		update, ckpt.Version, baseline, tally, winRatio, decision.Promoted, time.Since(start))
	if c.ShowGames && firstBoard != nil {
		c.ui.PrintBoard(firstBoard)
	}
	if c.Config.PrintUpdates {
		c.ui.PrintEvaluation(cli.EvaluationSummary{
			Update:         update,
			Baseline:       baseline,
			Tally:          tally.String(),
			WinRatio:       winRatio,
			BestWinRatio:   state.BestWinRatio,
			Promoted:       decision.Promoted,
			BaselineRaised: decision.BaselineRaised,
		})
	}
	return nil
}

// evaluationRound dispatches exactly NEval jobs, with alternating starting players, and collects
// NEval results. Failed games count as losses.
func (c *Coordinator) evaluationRound(ctx context.Context, baseline int) (tally evaluator.Tally, firstBoard *gomoku.Board, err error) {
	if c.Spinner {
		s := spinning.New(ctx, "evaluating")
		defer s.Done()
	}
	numEval := c.Config.NEval
	for ii := range numEval {
		job := evaluator.Job{Index: ii, StartPlayer: ii % 2, BaselineStrength: baseline}
		if err = c.jobs.Send(ctx, job); err != nil {
			return
		}
	}
	for range numEval {
		var result evaluator.Result
		result, err = c.results.Receive(ctx)
		if err != nil {
			return
		}
		if result.Err != nil {
			klog.Errorf("Evaluation game #%d failed, counted as a loss: %v", result.Index, result.Err)
		}
		if result.Index == 0 {
			firstBoard = result.FinalBoard
		}
		tally.Add(result.Outcome)
	}
	return
}
