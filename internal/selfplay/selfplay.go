// Package selfplay implements the self-play workers: each one plays full games against itself
// with its own copy of the model, and sends the augmented examples to the trainer through the
// data queue. Workers pick up new checkpoints published by the trainer between episodes.
package selfplay

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/janpfeifer/a0gomoku/internal/ai"
	"github.com/janpfeifer/a0gomoku/internal/augment"
	"github.com/janpfeifer/a0gomoku/internal/checkpoint"
	"github.com/janpfeifer/a0gomoku/internal/gomoku"
	"github.com/janpfeifer/a0gomoku/internal/match"
	"github.com/janpfeifer/a0gomoku/internal/queue"
	"github.com/janpfeifer/a0gomoku/internal/searchers/mcts"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Config of the self-play workers.
type Config struct {
	Game gomoku.Config

	// Search options of the player. SelfPlay mode is always enabled.
	Search mcts.Options

	// HighWaterMark: workers pause producing while the data queue holds more than this many examples.
	HighWaterMark int

	// PollInterval between checks of the data queue size while paused.
	PollInterval time.Duration

	// ReloadEvery number of episodes the worker checks for a new checkpoint.
	ReloadEvery int
}

// Stats of the workers. Counters are updated atomically and can be shared by several workers.
type Stats struct {
	Episodes, Examples, Reloads, ReloadFailures atomic.Int64
}

// Worker is one self-play worker. It holds its own model, never shared with other workers.
type Worker struct {
	ID int
	Config

	learner  ai.Learner
	watcher  *checkpoint.Watcher
	data     *queue.Queue[ai.Example]
	searcher *mcts.Searcher
	stats    *Stats

	// version of the checkpoint loaded, -1 if none was loaded yet.
	version int64
}

// NewWorker creates a self-play worker that reads the checkpoints from checkpointPath.
// If stats is nil, the worker keeps its own.
func NewWorker(id int, config Config, learner ai.Learner, checkpointPath string,
	data *queue.Queue[ai.Example], stats *Stats) *Worker {
	if stats == nil {
		stats = &Stats{}
	}
	options := config.Search
	options.SelfPlay = true
	return &Worker{
		ID:       id,
		Config:   config,
		learner:  learner,
		watcher:  checkpoint.NewWatcher(checkpointPath),
		data:     data,
		searcher: mcts.New(ai.NewBoardEvaluator(learner, config.Game.Planes), options, nil),
		stats:    stats,
		version:  -1,
	}
}

// Stats returns the worker statistics.
func (w *Worker) Stats() *Stats { return w.stats }

// Version of the checkpoint the worker is using, or -1 if it is still using the initial weights.
func (w *Worker) Version() int64 { return w.version }

// Reload the model if a new checkpoint was published. On failure the previous weights are kept.
func (w *Worker) Reload() (reloaded bool, err error) {
	ckpt, err := w.watcher.Load()
	if err != nil || ckpt == nil {
		return false, err
	}
	if err = ckpt.Restore(w.learner, false); err != nil {
		return false, err
	}
	w.version = ckpt.Version
	return true, nil
}

// PlayEpisode plays one self-play game and returns its augmented examples.
func (w *Worker) PlayEpisode(ctx context.Context) ([]ai.Example, error) {
	m, err := match.SelfPlay(ctx, w.Game, w.searcher)
	if err != nil {
		return nil, err
	}
	examples, err := augment.Augment(m.Examples(w.Game.Planes), w.Game.Height, w.Game.Width)
	if err != nil {
		return nil, errors.WithMessagef(err, "self-play worker #%d", w.ID)
	}
	klog.V(1).Infof("Self-play worker #%d (checkpoint version %d): %s, %d examples", w.ID, w.version, m, len(examples))
	return examples, nil
}

// waitQueue blocks while the data queue is above the high-water mark.
func (w *Worker) waitQueue(ctx context.Context) error {
	if w.HighWaterMark <= 0 {
		return nil
	}
	for w.data.Len() > w.HighWaterMark {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.PollInterval):
		}
	}
	return nil
}

func (w *Worker) reloadAndLog() {
	reloaded, err := w.Reload()
	if err != nil {
		w.stats.ReloadFailures.Add(1)
		klog.Warningf("Self-play worker #%d failed to reload checkpoint, keeping version %d: %+v", w.ID, w.version, err)
		return
	}
	if reloaded {
		w.stats.Reloads.Add(1)
		klog.V(1).Infof("Self-play worker #%d reloaded checkpoint version %d", w.ID, w.version)
	}
}

// Run plays episodes until ctx is cancelled, in which case it returns nil and the episode in
// progress is discarded.
func (w *Worker) Run(ctx context.Context) error {
	w.reloadAndLog()
	for episode := 1; ; episode++ {
		if err := w.waitQueue(ctx); err != nil {
			return nil
		}
		examples, err := w.PlayEpisode(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		for _, example := range examples {
			if err = w.data.Send(ctx, example); err != nil {
				return nil
			}
		}
		w.stats.Episodes.Add(1)
		w.stats.Examples.Add(int64(len(examples)))
		if w.ReloadEvery > 0 && episode%w.ReloadEvery == 0 {
			w.reloadAndLog()
		}
	}
}
