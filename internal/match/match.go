// Package match plays games between searchers: self-play episodes, where one searcher plays both
// sides and its search policies become training targets, and matches between two different
// players, used for evaluation.
package match

import (
	"context"
	"fmt"

	"github.com/janpfeifer/a0gomoku/internal/ai"
	"github.com/janpfeifer/a0gomoku/internal/gomoku"
	"github.com/janpfeifer/a0gomoku/internal/searchers"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Match holds the moves of a game and the policies returned by the searchers.
// The first dimension of all slices is the move (ply) number.
type Match struct {
	// Match actions, alternating players.
	Actions []int

	// Policies returned by the searcher for each move, over all cells of the board.
	Policies [][]float32

	// All board states of the game: 1 more than the number of actions.
	Boards []*gomoku.Board
}

// FinalBoard position of a match.
func (m *Match) FinalBoard() *gomoku.Board {
	if len(m.Boards) == 0 {
		return nil
	}
	return m.Boards[len(m.Boards)-1]
}

// Winner of the match, or gomoku.PlayerInvalid if it was a draw or if it hasn't finished.
func (m *Match) Winner() gomoku.PlayerNum {
	final := m.FinalBoard()
	if final == nil || !final.IsFinished() {
		return gomoku.PlayerInvalid
	}
	return final.Winner()
}

// Examples converts the match positions into training examples, each labeled with the policy of
// the searcher and with the final outcome from the point of view of the player to move:
// +1 if it won, -1 if it lost and 0 on a draw.
func (m *Match) Examples(planes int) []ai.Example {
	winner := m.Winner()
	examples := make([]ai.Example, 0, len(m.Actions))
	for ii := range m.Actions {
		board := m.Boards[ii]
		var value float32
		if winner != gomoku.PlayerInvalid {
			if board.NextPlayer == winner {
				value = ai.WinGameScore
			} else {
				value = -ai.WinGameScore
			}
		}
		examples = append(examples, ai.Example{
			State:  board.Features(planes),
			Policy: m.Policies[ii],
			Value:  value,
		})
	}
	return examples
}

func (m *Match) String() string {
	final := m.FinalBoard()
	if final == nil {
		return "empty match"
	}
	result := "unfinished"
	if final.IsFinished() {
		if final.Draw() {
			result = "draw"
		} else {
			result = fmt.Sprintf("%s player won", final.Winner())
		}
	}
	return fmt.Sprintf("match with %d moves, %s", len(m.Actions), result)
}

// append plays the action on the last board.
func (m *Match) append(action int, policy []float32) {
	m.Actions = append(m.Actions, action)
	m.Policies = append(m.Policies, policy)
	m.Boards = append(m.Boards, m.FinalBoard().Act(action))
}

// SelfPlay plays one full game where the searcher plays both sides, and returns the match.
//
// It checks for cancellation at each move boundary, and returns the context error if cancelled:
// the partial match is discarded. The searcher is Reset at the end.
func SelfPlay(ctx context.Context, config gomoku.Config, searcher searchers.Searcher) (*Match, error) {
	defer searcher.Reset()
	m := &Match{Boards: []*gomoku.Board{config.NewBoard()}}
	for !m.FinalBoard().IsFinished() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		action, policy, err := searcher.Search(m.FinalBoard())
		if err != nil {
			return nil, errors.WithMessagef(err, "self-play search failed at move #%d", len(m.Actions))
		}
		m.append(action, policy)
	}
	klog.V(2).Infof("Self-play: %s", m)
	return m, nil
}

// Play plays a game between two searchers: players[0] moves first if startPlayer is 0, otherwise
// players[1] moves first.
//
// It returns the match and the index in players of the winner, or -1 on a draw.
func Play(ctx context.Context, config gomoku.Config, players [2]searchers.Searcher, startPlayer int) (
	m *Match, winnerIdx int, err error) {
	if startPlayer != 0 && startPlayer != 1 {
		return nil, -1, errors.Errorf("invalid start player %d, it must be 0 or 1", startPlayer)
	}
	for _, p := range players {
		p.Reset()
	}
	// seat maps the board player to the index in players.
	seat := func(p gomoku.PlayerNum) int { return (int(p) + startPlayer) % 2 }
	m = &Match{Boards: []*gomoku.Board{config.NewBoard()}}
	for !m.FinalBoard().IsFinished() {
		if err = ctx.Err(); err != nil {
			return nil, -1, err
		}
		board := m.FinalBoard()
		player := players[seat(board.NextPlayer)]
		action, policy, searchErr := player.Search(board)
		if searchErr != nil {
			return nil, -1, errors.WithMessagef(searchErr, "player %s failed at move #%d", player, len(m.Actions))
		}
		if !board.IsLegal(action) {
			return nil, -1, errors.Errorf("player %s returned illegal move %d at move #%d", player, action, len(m.Actions))
		}
		m.append(action, policy)
	}
	winnerIdx = -1
	if winner := m.Winner(); winner != gomoku.PlayerInvalid {
		winnerIdx = seat(winner)
	}
	klog.V(2).Infof("Match %s vs %s (start=%d): %s", players[0], players[1], startPlayer, m)
	return m, winnerIdx, nil
}
