package checkpoint

import (
	"os"

	"github.com/pkg/errors"
)

// Watcher polls a checkpoint path, and loads it only when it was replaced since the last
// successful load. It is not safe for concurrent use: each worker has its own.
type Watcher struct {
	Path string
	last os.FileInfo
}

// NewWatcher returns a Watcher for the checkpoint at path. Nothing has been loaded yet, so the
// first call to Load will read the checkpoint.
func NewWatcher(path string) *Watcher {
	return &Watcher{Path: path}
}

// Changed returns whether the file at Path is different from the one last loaded.
// It returns false if the file doesn't exist.
func (w *Watcher) Changed() (bool, error) {
	info, err := os.Stat(w.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.Wrapf(err, "failed to stat checkpoint %q", w.Path)
	}
	return w.last == nil || !os.SameFile(info, w.last) ||
		!info.ModTime().Equal(w.last.ModTime()) || info.Size() != w.last.Size(), nil
}

// Load returns the checkpoint if it changed since the last successful Load, or nil otherwise.
// On errors the Watcher is not updated, so the next call tries again.
func (w *Watcher) Load() (*Checkpoint, error) {
	changed, err := w.Changed()
	if err != nil || !changed {
		return nil, err
	}
	f, err := os.Open(w.Path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open checkpoint %q", w.Path)
	}
	defer func() { _ = f.Close() }()
	// Stat the opened file: a rename after Open doesn't change what we read.
	info, err := f.Stat()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to stat checkpoint %q", w.Path)
	}
	c, err := Decode(f)
	if err != nil {
		return nil, errors.WithMessagef(err, "checkpoint %q", w.Path)
	}
	w.last = info
	return c, nil
}
