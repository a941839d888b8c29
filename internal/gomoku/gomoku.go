// Package gomoku implements the rules of the m,n,k game ("n in a row", Gomoku when played on
// large boards with 5 in a row), and the feature planes used as input to the models.
//
// Moves are indexed as row*Width+col, with row 0 at the top of the board.
package gomoku

import (
	"fmt"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// PlayerNum is either 0 or 1 corresponding to the first player to move or the second player to move.
type PlayerNum int8

const (
	PlayerFirst PlayerNum = iota
	PlayerSecond

	// PlayerInvalid represents no player: an empty cell, or the "winner" of a draw.
	PlayerInvalid PlayerNum = -1
)

// NumPlayers is always 2.
const NumPlayers = 2

// MaxFeaturePlanes is the maximum number of feature planes Board.Features can generate.
const MaxFeaturePlanes = 4

// String implements fmt.Stringer.
func (p PlayerNum) String() string {
	switch p {
	case PlayerFirst:
		return "First"
	case PlayerSecond:
		return "Second"
	default:
		return "Invalid"
	}
}

// Opponent of the player.
func (p PlayerNum) Opponent() PlayerNum {
	return 1 - p
}

// Config holds the dimensions of the game, and how many feature planes are used for models.
type Config struct {
	Width, Height, NInRow int

	// Planes is the number of feature planes generated by Board.Features, from 1 to MaxFeaturePlanes.
	Planes int
}

// Validate returns an error if the configuration doesn't describe a valid game.
func (c Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return errors.Errorf("invalid board dimensions %dx%d", c.Width, c.Height)
	}
	if c.NInRow <= 0 || (c.NInRow > c.Width && c.NInRow > c.Height) {
		return errors.Errorf("invalid n_in_row=%d for a %dx%d board", c.NInRow, c.Width, c.Height)
	}
	if c.Planes < 1 || c.Planes > MaxFeaturePlanes {
		return errors.Errorf("invalid number of feature planes %d, it must be between 1 and %d", c.Planes, MaxFeaturePlanes)
	}
	return nil
}

// NumMoves is the number of cells in the board, and the dimension of the policy vectors.
func (c Config) NumMoves() int {
	return c.Width * c.Height
}

// StateDim is the dimension of the flat feature vector: Planes * Height * Width.
func (c Config) StateDim() int {
	return c.Planes * c.Height * c.Width
}

// NewBoard returns an empty board for this configuration.
func (c Config) NewBoard() *Board {
	return NewBoard(c.Width, c.Height, c.NInRow)
}

// Board holds the position of one game. Boards are treated as immutable by the searchers:
// Act returns a new Board. ActInPlace is provided for the cheap random rollouts.
type Board struct {
	Width, Height, NInRow int

	// NextPlayer to move.
	NextPlayer PlayerNum

	// LastMove played, or -1 if no move has been played yet.
	LastMove int

	// MoveNumber starts at 0 and is incremented at each move.
	MoveNumber int

	cells    []PlayerNum
	winner   PlayerNum
	finished bool
}

// NewBoard creates an empty board.
func NewBoard(width, height, nInRow int) *Board {
	b := &Board{
		Width:    width,
		Height:   height,
		NInRow:   nInRow,
		LastMove: -1,
		cells:    make([]PlayerNum, width*height),
		winner:   PlayerInvalid,
	}
	for ii := range b.cells {
		b.cells[ii] = PlayerInvalid
	}
	return b
}

// Clone returns a deep copy of the board.
func (b *Board) Clone() *Board {
	newB := &Board{}
	*newB = *b
	newB.cells = make([]PlayerNum, len(b.cells))
	copy(newB.cells, b.cells)
	return newB
}

// NumMoves is the number of cells of the board.
func (b *Board) NumMoves() int {
	return len(b.cells)
}

// At returns the player occupying the cell at (row, col), or PlayerInvalid if empty.
func (b *Board) At(row, col int) PlayerNum {
	return b.cells[row*b.Width+col]
}

// MoveToRowCol converts a move index to its coordinates.
func (b *Board) MoveToRowCol(move int) (row, col int) {
	return move / b.Width, move % b.Width
}

// Legal returns the list of empty cells, in increasing order. It is empty if the game is finished.
func (b *Board) Legal() []int {
	if b.finished {
		return nil
	}
	moves := make([]int, 0, len(b.cells)-b.MoveNumber)
	for move, p := range b.cells {
		if p == PlayerInvalid {
			moves = append(moves, move)
		}
	}
	return moves
}

// IsLegal returns whether move can be played.
func (b *Board) IsLegal(move int) bool {
	return !b.finished && move >= 0 && move < len(b.cells) && b.cells[move] == PlayerInvalid
}

// IsFinished returns whether the game is over, either by a win or because the board is full.
func (b *Board) IsFinished() bool {
	return b.finished
}

// Winner returns the winner of a finished game, or PlayerInvalid for draws and unfinished games.
func (b *Board) Winner() PlayerNum {
	return b.winner
}

// Draw returns whether the game finished without a winner.
func (b *Board) Draw() bool {
	return b.finished && b.winner == PlayerInvalid
}

// Act returns a new board with the move played by NextPlayer.
// It panics (with exceptions.Panicf) if the move is not legal.
func (b *Board) Act(move int) *Board {
	newB := b.Clone()
	newB.ActInPlace(move)
	return newB
}

// ActInPlace plays the move on the current board.
// It panics (with exceptions.Panicf) if the move is not legal.
func (b *Board) ActInPlace(move int) {
	if !b.IsLegal(move) {
		exceptions.Panicf("gomoku: illegal move %d at move number %d", move, b.MoveNumber)
	}
	player := b.NextPlayer
	b.cells[move] = player
	b.LastMove = move
	b.MoveNumber++
	b.NextPlayer = player.Opponent()
	if b.connects(move, player) {
		b.finished = true
		b.winner = player
	} else if b.MoveNumber == len(b.cells) {
		b.finished = true
	}
}

var directions = [4][2]int{{0, 1}, {1, 0}, {1, 1}, {1, -1}}

// connects checks whether the stone just placed at move completes NInRow for player.
func (b *Board) connects(move int, player PlayerNum) bool {
	row, col := b.MoveToRowCol(move)
	for _, dir := range directions {
		count := 1
		for _, sign := range [2]int{1, -1} {
			r, c := row+sign*dir[0], col+sign*dir[1]
			for r >= 0 && r < b.Height && c >= 0 && c < b.Width && b.cells[r*b.Width+c] == player {
				count++
				r, c = r+sign*dir[0], c+sign*dir[1]
			}
		}
		if count >= b.NInRow {
			return true
		}
	}
	return false
}

// Equal returns whether both boards hold the same position with the same player to move.
func (b *Board) Equal(other *Board) bool {
	if b.Width != other.Width || b.Height != other.Height || b.NInRow != other.NInRow ||
		b.NextPlayer != other.NextPlayer || b.MoveNumber != other.MoveNumber || b.LastMove != other.LastMove {
		return false
	}
	for ii, p := range b.cells {
		if other.cells[ii] != p {
			return false
		}
	}
	return true
}

// Features returns the flat feature planes (planes x Height x Width) from the point of view of
// the NextPlayer:
//
//   - plane 0: stones of the player to move.
//   - plane 1: stones of the opponent.
//   - plane 2: one-hot of the last move.
//   - plane 3: all ones if the player to move is the first player.
func (b *Board) Features(planes int) []float32 {
	if planes < 1 || planes > MaxFeaturePlanes {
		exceptions.Panicf("gomoku: invalid number of feature planes %d", planes)
	}
	area := len(b.cells)
	features := make([]float32, planes*area)
	for move, p := range b.cells {
		if p == PlayerInvalid {
			continue
		}
		if p == b.NextPlayer {
			features[move] = 1
		} else if planes > 1 {
			features[area+move] = 1
		}
	}
	if planes > 2 && b.LastMove >= 0 {
		features[2*area+b.LastMove] = 1
	}
	if planes > 3 && b.NextPlayer == PlayerFirst {
		for ii := 3 * area; ii < 4*area; ii++ {
			features[ii] = 1
		}
	}
	return features
}

// String renders the board in plain text, "X" for the first player and "O" for the second.
func (b *Board) String() string {
	var sb strings.Builder
	for row := range b.Height {
		for col := range b.Width {
			switch b.At(row, col) {
			case PlayerFirst:
				sb.WriteString(" X")
			case PlayerSecond:
				sb.WriteString(" O")
			default:
				sb.WriteString(" .")
			}
		}
		sb.WriteByte('\n')
	}
	fmt.Fprintf(&sb, "move #%d, next=%s", b.MoveNumber, b.NextPlayer)
	return sb.String()
}
