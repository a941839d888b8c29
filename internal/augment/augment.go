// Package augment multiplies training examples by the 8 symmetries of the square board
// (the dihedral group): 4 rotations, each with and without a horizontal mirror.
package augment

import (
	"github.com/janpfeifer/a0gomoku/internal/ai"
	"github.com/pkg/errors"
)

// Symmetry is a counter-clockwise rotation by Rotations*90 degrees, followed by a left-right
// mirror if Flip is set.
type Symmetry struct {
	Rotations int
	Flip      bool
}

// All the 8 symmetries, the identity first.
var All = [8]Symmetry{
	{0, false}, {0, true},
	{1, false}, {1, true},
	{2, false}, {2, true},
	{3, false}, {3, true},
}

// Augment returns 8 examples per input example, one per symmetry in All (in that order),
// applied to every plane of the state and to the policy. The value is kept.
//
// Boards must be square, and the states must be made of whole planes of height x width.
func Augment(examples []ai.Example, height, width int) ([]ai.Example, error) {
	if height != width {
		return nil, errors.Errorf("augment: rotations require a square board, got %dx%d", height, width)
	}
	size := height
	area := size * size
	augmented := make([]ai.Example, 0, len(All)*len(examples))
	for ii, example := range examples {
		if len(example.Policy) != area {
			return nil, errors.Errorf("augment: example #%d has policy of size %d, board has %d cells", ii, len(example.Policy), area)
		}
		if len(example.State) == 0 || len(example.State)%area != 0 {
			return nil, errors.Errorf("augment: example #%d has state of size %d, not a multiple of %d cells", ii, len(example.State), area)
		}
		for _, sym := range All {
			augmented = append(augmented, ai.Example{
				State:  sym.ApplyPlanes(example.State, size),
				Policy: sym.Apply(example.Policy, size),
				Value:  example.Value,
			})
		}
	}
	return augmented, nil
}

// Apply the symmetry to one size x size plane, returning a new slice.
func (s Symmetry) Apply(grid []float32, size int) []float32 {
	out := make([]float32, len(grid))
	for row := range size {
		for col := range size {
			srcRow, srcCol := s.source(row, col, size)
			out[row*size+col] = grid[srcRow*size+srcCol]
		}
	}
	return out
}

// ApplyPlanes applies the symmetry to each consecutive size x size plane of planes.
func (s Symmetry) ApplyPlanes(planes []float32, size int) []float32 {
	area := size * size
	out := make([]float32, 0, len(planes))
	for start := 0; start < len(planes); start += area {
		out = append(out, s.Apply(planes[start:start+area], size)...)
	}
	return out
}

// Inverse returns the symmetry that undoes s.
func (s Symmetry) Inverse() Symmetry {
	if s.Flip {
		// Mirroring then rotating by -k is the same as rotating by k then mirroring.
		return s
	}
	return Symmetry{Rotations: (4 - s.Rotations%4) % 4}
}

// MapMove returns the cell where move ends up after applying the symmetry.
func (s Symmetry) MapMove(move, size int) int {
	inv := s.Inverse()
	row, col := inv.source(move/size, move%size, size)
	return row*size + col
}

// source returns the coordinates of the cell in the original grid that ends up in (row, col).
func (s Symmetry) source(row, col, size int) (int, int) {
	if s.Flip {
		col = size - 1 - col
	}
	// Each counter-clockwise rotation takes out[r][c] from in[c][size-1-r].
	for range s.Rotations % 4 {
		row, col = col, size-1-row
	}
	return row, col
}
