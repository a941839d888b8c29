// Package trainer implements the single learner of the pipeline: it drains the examples produced
// by the self-play workers into the replay buffer, updates the model with a KL-probed number of
// passes over a sampled batch, adapts the learning rate, and publishes the "current" checkpoint
// after each update.
package trainer

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/gomlx/exceptions"
	"github.com/janpfeifer/a0gomoku/internal/ai"
	"github.com/janpfeifer/a0gomoku/internal/checkpoint"
	"github.com/janpfeifer/a0gomoku/internal/generics"
	"github.com/janpfeifer/a0gomoku/internal/queue"
	"github.com/janpfeifer/a0gomoku/internal/replay"
	"github.com/janpfeifer/a0gomoku/internal/training"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// EarlyStopFactor: the passes over a batch stop once the KL divergence exceeds this factor times
// the KL target.
const EarlyStopFactor = 4

// Config of the Trainer.
type Config struct {
	// LearningRate is the base learning rate, scaled by training.State.LRMultiplier.
	LearningRate float64

	// BatchSize of each update, and the minimum number of new examples drained before each update.
	BatchSize int

	// BufferSize is the capacity of the replay buffer.
	BufferSize int

	// Epochs is the maximum number of passes over the batch per update.
	Epochs int

	// KLTarget is the target KL divergence between the policies before and after an update.
	KLTarget float64

	// CurrentPath where the checkpoints are published.
	CurrentPath string

	// PrintUpdates prints one line with the statistics of each update.
	PrintUpdates bool
}

// UpdateStats reports one model update.
type UpdateStats struct {
	KL, LRMultiplier                 float64
	Loss, Entropy                    float32
	ExplainedVarOld, ExplainedVarNew float32
	Epochs                           int
	EarlyStopped                     bool
	Elapsed                          time.Duration
}

func (s UpdateStats) String() string {
	return fmt.Sprintf("kl:%.5f, lr_multiplier:%.3f, loss:%.4f, entropy:%.4f, explained_var_old:%.3f, explained_var_new:%.3f, epochs:%d, time_used:%s",
		s.KL, s.LRMultiplier, s.Loss, s.Entropy, s.ExplainedVarOld, s.ExplainedVarNew, s.Epochs, s.Elapsed)
}

// Trainer owns the learner, the replay buffer and the training state.
// Only one Trainer must publish to the current checkpoint path.
type Trainer struct {
	Config
	learner ai.Learner
	data    *queue.Queue[ai.Example]
	buffer  *replay.Buffer[ai.Example]
	rng     *rand.Rand

	// State is updated by each update (learning rate) and by the coordinator (promotion).
	State training.State

	// RunID and Version of the last published checkpoint.
	RunID   string
	Version int64
}

// New creates a Trainer that reads examples from data.
// The learner is expected to hold the weights of the checkpoint version given.
func New(config Config, learner ai.Learner, data *queue.Queue[ai.Example], state training.State,
	runID string, version int64) *Trainer {
	return &Trainer{
		Config:  config,
		learner: learner,
		data:    data,
		buffer:  replay.New[ai.Example](config.BufferSize),
		rng:     rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		State:   state,
		RunID:   runID,
		Version: version,
	}
}

// Buffer returns the replay buffer.
func (t *Trainer) Buffer() *replay.Buffer[ai.Example] {
	return t.buffer
}

// Drain receives examples from the data queue into the replay buffer until more than minCount
// new examples arrived, and the buffer holds more than BatchSize examples.
// It returns the number of examples received.
func (t *Trainer) Drain(ctx context.Context, minCount int) (count int, err error) {
	for {
		var example ai.Example
		example, err = t.data.Receive(ctx)
		if err != nil {
			return
		}
		t.buffer.Append(example)
		count++
		if count > minCount && t.buffer.Len() > t.BatchSize {
			return
		}
	}
}

// UpdateStep runs up to Epochs passes over the batch, stopping early if the KL divergence from the
// policy before the update diverges, and then adapts the learning rate multiplier in t.State.
func (t *Trainer) UpdateStep(batch []ai.Example) (stats UpdateStats, err error) {
	if len(batch) == 0 {
		return stats, errors.New("trainer: empty batch")
	}
	start := time.Now()
	states := generics.SliceMap(batch, func(e ai.Example) []float32 { return e.State })
	targetProbs := generics.SliceMap(batch, func(e ai.Example) []float32 { return e.Policy })
	targetValues := generics.SliceMap(batch, func(e ai.Example) float32 { return e.Value })
	lr := float32(t.LearningRate * t.State.LRMultiplier)

	err = exceptions.TryCatch[error](func() {
		var oldProbs, newProbs [][]float32
		var oldValues, newValues []float32
		oldProbs, oldValues, stats.Loss, stats.Entropy = t.learner.TrainStep(states, targetProbs, targetValues, lr)
		stats.Epochs = 1
		for range t.Epochs - 1 {
			newProbs, _, stats.Loss, stats.Entropy = t.learner.TrainStep(states, targetProbs, targetValues, lr)
			stats.Epochs++
			if kl := ai.KLDivergence(oldProbs, newProbs); float64(kl) > EarlyStopFactor*t.KLTarget {
				stats.EarlyStopped = true
				break
			}
		}
		newProbs, newValues = t.learner.BatchPolicyValue(states)
		stats.KL = float64(ai.KLDivergence(oldProbs, newProbs))
		stats.ExplainedVarOld = ai.ExplainedVariance(targetValues, oldValues)
		stats.ExplainedVarNew = ai.ExplainedVariance(targetValues, newValues)
	})
	if err != nil {
		return stats, errors.WithMessage(err, "trainer: model update failed")
	}
	t.State.AdaptLearningRate(stats.KL, t.KLTarget)
	stats.LRMultiplier = t.State.LRMultiplier
	stats.Elapsed = time.Since(start)
	return stats, nil
}

// Checkpoint creates a checkpoint of the learner with the current training state, for the given version.
func (t *Trainer) Checkpoint(version int64) (*checkpoint.Checkpoint, error) {
	return checkpoint.FromLearner(t.learner, version, t.RunID, t.State)
}

// Publish the current model as the next version to CurrentPath.
func (t *Trainer) Publish(loss, entropy float32) (*checkpoint.Checkpoint, error) {
	ckpt, err := t.Checkpoint(t.Version + 1)
	if err != nil {
		return nil, err
	}
	ckpt.Loss, ckpt.Entropy = loss, entropy
	if err = checkpoint.Publish(t.CurrentPath, ckpt); err != nil {
		return nil, err
	}
	t.Version = ckpt.Version
	return ckpt, nil
}

// Step runs one full training iteration: drain new examples, sample a batch, update the model and
// publish the new checkpoint. It returns the published checkpoint.
func (t *Trainer) Step(ctx context.Context) (*checkpoint.Checkpoint, UpdateStats, error) {
	drainStart := time.Now()
	count, err := t.Drain(ctx, t.BatchSize)
	if err != nil {
		return nil, UpdateStats{}, err
	}
	klog.V(1).Infof("Drained %d examples in %s, data queue size %d, replay buffer size %d",
		count, time.Since(drainStart), t.data.Len(), t.buffer.Len())
	batch, err := t.buffer.Sample(t.rng, t.BatchSize)
	if err != nil {
		return nil, UpdateStats{}, err
	}
	stats, err := t.UpdateStep(batch)
	if err != nil {
		return nil, stats, err
	}
	if t.PrintUpdates {
		fmt.Printf("update #%d: %s\n", t.Version+1, stats)
	}
	ckpt, err := t.Publish(stats.Loss, stats.Entropy)
	return ckpt, stats, err
}
