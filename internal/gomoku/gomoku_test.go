package gomoku

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// playMoves plays the moves given as (row, col) pairs, alternating players.
func playMoves(t *testing.T, b *Board, rowCols ...[2]int) *Board {
	for _, rc := range rowCols {
		move := rc[0]*b.Width + rc[1]
		require.Truef(t, b.IsLegal(move), "move (%d, %d) should be legal", rc[0], rc[1])
		b = b.Act(move)
	}
	return b
}

func TestBoard_HorizontalWin(t *testing.T) {
	b := NewBoard(6, 6, 4)
	b = playMoves(t, b,
		[2]int{0, 0}, [2]int{1, 0},
		[2]int{0, 1}, [2]int{1, 1},
		[2]int{0, 2}, [2]int{1, 2})
	require.False(t, b.IsFinished())
	b = playMoves(t, b, [2]int{0, 3})
	require.True(t, b.IsFinished())
	assert.Equal(t, PlayerFirst, b.Winner())
	assert.False(t, b.Draw())
	assert.Empty(t, b.Legal())
}

func TestBoard_DiagonalWins(t *testing.T) {
	// Main diagonal for the second player.
	b := NewBoard(5, 5, 3)
	b = playMoves(t, b,
		[2]int{4, 0}, [2]int{0, 0},
		[2]int{4, 1}, [2]int{1, 1},
		[2]int{3, 4}, [2]int{2, 2})
	require.True(t, b.IsFinished())
	assert.Equal(t, PlayerSecond, b.Winner())

	// Anti-diagonal for the first player.
	b = NewBoard(5, 5, 3)
	b = playMoves(t, b,
		[2]int{0, 4}, [2]int{0, 0},
		[2]int{1, 3}, [2]int{0, 1},
		[2]int{2, 2})
	require.True(t, b.IsFinished())
	assert.Equal(t, PlayerFirst, b.Winner())
}

func TestBoard_Draw(t *testing.T) {
	// Tic-tac-toe draw:
	//   X O X
	//   X O O
	//   O X X
	b := NewBoard(3, 3, 3)
	b = playMoves(t, b,
		[2]int{0, 0}, [2]int{0, 1},
		[2]int{0, 2}, [2]int{1, 1},
		[2]int{1, 0}, [2]int{2, 0},
		[2]int{2, 1}, [2]int{1, 2},
		[2]int{2, 2})
	require.True(t, b.IsFinished())
	assert.True(t, b.Draw())
	assert.Equal(t, PlayerInvalid, b.Winner())
}

func TestBoard_ActIsImmutable(t *testing.T) {
	b := NewBoard(3, 3, 3)
	next := b.Act(4)
	assert.Equal(t, PlayerInvalid, b.At(1, 1))
	assert.Equal(t, PlayerFirst, next.At(1, 1))
	assert.Len(t, b.Legal(), 9)
	assert.Len(t, next.Legal(), 8)
	assert.False(t, b.Equal(next))
	assert.True(t, next.Equal(b.Act(4)))
	assert.Panics(t, func() { next.Act(4) })
}

func TestBoard_Features(t *testing.T) {
	b := NewBoard(3, 3, 3)
	b = b.Act(0) // First player at (0,0).
	b = b.Act(4) // Second player at (1,1).
	// Next is the first player again.
	features := b.Features(4)
	require.Len(t, features, 4*9)
	area := 9
	assert.Equal(t, float32(1), features[0])        // Own stone.
	assert.Equal(t, float32(1), features[area+4])   // Opponent stone.
	assert.Equal(t, float32(1), features[2*area+4]) // Last move.
	for ii := 3 * area; ii < 4*area; ii++ {
		assert.Equal(t, float32(1), features[ii]) // First player to move.
	}

	// With fewer planes only the stones are included.
	assert.Len(t, b.Features(2), 2*area)
	assert.Panics(t, func() { b.Features(MaxFeaturePlanes + 1) })
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, Config{Width: 11, Height: 11, NInRow: 5, Planes: 4}.Validate())
	require.Error(t, Config{Width: 0, Height: 11, NInRow: 5, Planes: 4}.Validate())
	require.Error(t, Config{Width: 3, Height: 3, NInRow: 5, Planes: 4}.Validate())
	require.Error(t, Config{Width: 11, Height: 11, NInRow: 5, Planes: 0}.Validate())
	assert.Equal(t, 4*11*11, Config{Width: 11, Height: 11, NInRow: 5, Planes: 4}.StateDim())
}
