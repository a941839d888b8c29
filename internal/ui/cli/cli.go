// Package cli implements the terminal output of the trainer: boards of the evaluation games
// and the evaluation summaries.
package cli

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/janpfeifer/a0gomoku/internal/gomoku"
	"golang.org/x/term"
)

var ansiFilter = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// displayWidth of s removes its color/control sequences and returns the length of what is left.
func displayWidth(s string) int {
	return len([]rune(ansiFilter.ReplaceAllString(s, "")))
}

// UI prints to Out, optionally with colors.
type UI struct {
	Out   io.Writer
	color bool
}

// New creates a UI that prints to stdout.
func New(color bool) *UI {
	return &UI{Out: os.Stdout, color: color}
}

// terminalWidth returns the width of the terminal, or 0 if Out is not a terminal.
func (ui *UI) terminalWidth() int {
	f, ok := ui.Out.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return 0
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 0
	}
	return width
}

func (ui *UI) printCentered(block string) {
	lines := strings.Split(block, "\n")
	blockWidth := 0
	for _, line := range lines {
		blockWidth = max(blockWidth, displayWidth(line))
	}
	indent := max((ui.terminalWidth()-blockWidth)/2, 0)
	for _, line := range lines {
		if len(line) == 0 {
			_, _ = fmt.Fprintln(ui.Out)
			continue
		}
		_, _ = fmt.Fprintf(ui.Out, "%s%s\n", strings.Repeat(" ", indent), line)
	}
}

var (
	stoneStyles = [gomoku.NumPlayers]lipgloss.Style{
		lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true),
	}
	lastMoveStyle = lipgloss.NewStyle().Background(lipgloss.Color("11"))
	emptyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

var stoneSymbols = [gomoku.NumPlayers]string{"X", "O"}

// RenderBoard returns the board rendered as text, with the column and row indices.
func (ui *UI) RenderBoard(b *gomoku.Board) string {
	var sb strings.Builder
	sb.WriteString("   ")
	for col := range b.Width {
		fmt.Fprintf(&sb, "%2d", col)
	}
	sb.WriteByte('\n')
	for row := range b.Height {
		fmt.Fprintf(&sb, "%2d ", row)
		for col := range b.Width {
			sb.WriteByte(' ')
			sb.WriteString(ui.renderCell(b, row, col))
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

func (ui *UI) renderCell(b *gomoku.Board, row, col int) string {
	player := b.At(row, col)
	if player == gomoku.PlayerInvalid {
		if ui.color {
			return emptyStyle.Render(".")
		}
		return "."
	}
	symbol := stoneSymbols[player]
	if !ui.color {
		return symbol
	}
	style := stoneStyles[player]
	if b.LastMove == row*b.Width+col {
		style = style.Inherit(lastMoveStyle)
	}
	return style.Render(symbol)
}

// PrintBoard prints the board centered in the terminal, followed by its result if finished.
func (ui *UI) PrintBoard(b *gomoku.Board) {
	ui.printCentered(ui.RenderBoard(b))
	if !b.IsFinished() {
		return
	}
	if b.Draw() {
		ui.printCentered("*** DRAW ***")
	} else {
		ui.printCentered(fmt.Sprintf("*** %s PLAYER (%s) WINS ***",
			strings.ToUpper(b.Winner().String()), stoneSymbols[b.Winner()]))
	}
}

// EvaluationSummary is what is printed after each evaluation round.
type EvaluationSummary struct {
	// Update is the number of the training update evaluated.
	Update int

	Baseline                 int
	Tally                    string
	WinRatio, BestWinRatio   float64
	Promoted, BaselineRaised bool
}

var (
	promotedStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("10")).
			Foreground(lipgloss.Color("0")).
			Padding(1, 2)
	notPromotedStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				Padding(0, 2)
)

// RenderEvaluation returns the summary of an evaluation round in a box.
func (ui *UI) RenderEvaluation(s EvaluationSummary) string {
	text := fmt.Sprintf("update #%d: baseline playouts %d, %s, win ratio %.2f", s.Update, s.Baseline, s.Tally, s.WinRatio)
	if s.Promoted {
		text += "\n*** New best policy! ***"
	}
	if s.BaselineRaised {
		text += "\n*** Baseline raised ***"
	}
	text += fmt.Sprintf("\nbest win ratio %.2f", s.BestWinRatio)
	if !ui.color {
		return text
	}
	if s.Promoted {
		return promotedStyle.Render(text)
	}
	return notPromotedStyle.Render(text)
}

// PrintEvaluation prints the summary of an evaluation round.
func (ui *UI) PrintEvaluation(s EvaluationSummary) {
	_, _ = fmt.Fprintln(ui.Out)
	ui.printCentered(ui.RenderEvaluation(s))
	_, _ = fmt.Fprintln(ui.Out)
}
