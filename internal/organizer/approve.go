package organizer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Proposal is a move awaiting confirmation.
type Proposal struct {
	Path      string
	Name      string
	Label     string
	TargetDir string
}

// Approver confirms or declines a proposed move.
type Approver interface {
	Approve(ctx context.Context, p Proposal) (bool, error)
}

// AutoApprover accepts every proposal.
type AutoApprover struct{}

func (AutoApprover) Approve(context.Context, Proposal) (bool, error) {
	return true, nil
}

var (
	nameStyle   = lipgloss.NewStyle().Bold(true)
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981")).Bold(true)
	promptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
)

// ConsoleApprover asks on the console, one line per proposal. Only "y" or
// "Y" approves; anything else, including end of input, declines.
type ConsoleApprover struct {
	in     *bufio.Reader
	out    io.Writer
	styled bool
}

func NewConsoleApprover(in io.Reader, out io.Writer) *ConsoleApprover {
	return &ConsoleApprover{
		in:     bufio.NewReader(in),
		out:    out,
		styled: isTerminal(out),
	}
}

func (a *ConsoleApprover) Approve(ctx context.Context, p Proposal) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	name, label, prompt := p.Name, p.Label+"/", "Do you want to move this file? [y/N]: "
	if a.styled {
		name, label, prompt = nameStyle.Render(name), labelStyle.Render(label), promptStyle.Render(prompt)
	}
	fmt.Fprintf(a.out, "Suggested move: %s → %s\n", name, label)
	fmt.Fprint(a.out, prompt)

	line, err := a.in.ReadString('\n')
	if cerr := ctx.Err(); cerr != nil {
		// An interrupt during the prompt declines whatever was typed.
		fmt.Fprintln(a.out)
		return false, cerr
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("read answer: %w", err)
	}
	answer := strings.TrimSpace(line)
	return answer == "y" || answer == "Y", nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
