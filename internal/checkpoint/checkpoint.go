// Package checkpoint stores and loads the model checkpoints exchanged between the trainer and the
// workers.
//
// A checkpoint is published by writing it to a temporary file in the same directory, and then
// renaming it over the final path. Readers therefore either see the previous complete checkpoint
// or the new complete one.
package checkpoint

import (
	"bytes"
	"encoding/gob"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/janpfeifer/a0gomoku/internal/ai"
	"github.com/janpfeifer/a0gomoku/internal/training"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Magic header of checkpoint files.
const Magic = "A0CKPT1\n"

// TempSuffix is appended to the path of a checkpoint while it is being written.
const TempSuffix = ".undone"

// ErrNotFound is returned by Load when the checkpoint file doesn't exist.
var ErrNotFound = errors.New("checkpoint not found")

// Checkpoint is the serialized state of a model at one point of the training.
type Checkpoint struct {
	// Version is incremented at every published update. The initial checkpoint is version 0.
	Version int64

	// RunID identifies the training run that created the checkpoint.
	RunID string

	CreatedAt time.Time

	// Parameters and OptimizerState are serialized by the ai.Learner.
	Parameters, OptimizerState []byte

	// State of the training when the checkpoint was created.
	State training.State

	// Loss and Entropy of the update that created this checkpoint.
	Loss, Entropy float32
}

// NewRunID returns a new unique training run id.
func NewRunID() string {
	return uuid.New().String()
}

// FromLearner creates a checkpoint with the parameters and optimizer state of learner.
func FromLearner(learner ai.Learner, version int64, runID string, state training.State) (*Checkpoint, error) {
	params, err := learner.MarshalParameters()
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to serialize parameters of %s", learner)
	}
	optimizer, err := learner.MarshalOptimizer()
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to serialize optimizer of %s", learner)
	}
	return &Checkpoint{
		Version:        version,
		RunID:          runID,
		CreatedAt:      time.Now(),
		Parameters:     params,
		OptimizerState: optimizer,
		State:          state,
	}, nil
}

// Restore sets the parameters of the predictor, and if withOptimizer is set, also its optimizer state.
func (c *Checkpoint) Restore(learner ai.Learner, withOptimizer bool) error {
	if err := learner.UnmarshalParameters(c.Parameters); err != nil {
		return errors.WithMessagef(err, "checkpoint version %d", c.Version)
	}
	if withOptimizer && len(c.OptimizerState) > 0 {
		if err := learner.UnmarshalOptimizer(c.OptimizerState); err != nil {
			return errors.WithMessagef(err, "checkpoint version %d", c.Version)
		}
	}
	return nil
}

// Encode writes the checkpoint: the magic header followed by the zstd compressed gob encoding.
func (c *Checkpoint) Encode(w io.Writer) error {
	if _, err := io.WriteString(w, Magic); err != nil {
		return errors.Wrap(err, "failed to write checkpoint header")
	}
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return errors.Wrap(err, "failed to create zstd encoder")
	}
	if err = gob.NewEncoder(enc).Encode(c); err != nil {
		_ = enc.Close()
		return errors.Wrap(err, "failed to encode checkpoint")
	}
	if err = enc.Close(); err != nil {
		return errors.Wrap(err, "failed to flush checkpoint compression")
	}
	return nil
}

// Decode reads a checkpoint written with Encode.
func Decode(r io.Reader) (*Checkpoint, error) {
	header := make([]byte, len(Magic))
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, errors.Wrap(err, "failed to read checkpoint header")
	}
	if !bytes.Equal(header, []byte(Magic)) {
		return nil, errors.Errorf("invalid checkpoint header %q", header)
	}
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create zstd decoder")
	}
	defer dec.Close()
	c := &Checkpoint{}
	if err = gob.NewDecoder(dec).Decode(c); err != nil {
		return nil, errors.Wrap(err, "failed to decode checkpoint")
	}
	return c, nil
}

// Publish atomically replaces the checkpoint at path: it is written to path+TempSuffix, synced and
// then renamed over path.
func Publish(path string, c *Checkpoint) error {
	tmpPath := path + TempSuffix
	f, err := os.Create(tmpPath)
	if err != nil {
		return errors.Wrapf(err, "failed to create checkpoint file %q", tmpPath)
	}
	err = c.Encode(f)
	if err == nil {
		err = errors.Wrapf(f.Sync(), "failed to sync %q", tmpPath)
	}
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = errors.Wrapf(closeErr, "failed to close %q", tmpPath)
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return errors.Wrapf(err, "failed to rename checkpoint %q to %q", tmpPath, path)
	}
	klog.V(1).Infof("Published checkpoint version %d to %q", c.Version, path)
	return nil
}

// Load reads the checkpoint at path. It returns an error wrapping ErrNotFound if it doesn't exist.
func Load(path string) (*Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrNotFound, "%q", path)
		}
		return nil, errors.Wrapf(err, "failed to open checkpoint %q", path)
	}
	defer func() { _ = f.Close() }()
	c, err := Decode(f)
	if err != nil {
		return nil, errors.WithMessagef(err, "checkpoint %q", path)
	}
	return c, nil
}
