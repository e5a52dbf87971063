package ui

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// exchangeDoneMsg carries the outcome of the wrapped operation
type exchangeDoneMsg struct {
	err error
}

// spinnerModel shows a spinner while an operation runs and quits once it
// returns. Ctrl+C cancels the operation's context, then waits for it to
// finish so connections are closed before the program exits.
type spinnerModel struct {
	spinner   spinner.Model
	label     string
	run       func() error
	cancel    context.CancelFunc
	err       error
	done      bool
	cancelled bool
}

func newSpinnerModel(label string, run func() error, cancel context.CancelFunc) spinnerModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return spinnerModel{
		spinner: s,
		label:   label,
		run:     run,
		cancel:  cancel,
	}
}

// Init implements tea.Model
func (m spinnerModel) Init() tea.Cmd {
	run := m.run
	return tea.Batch(m.spinner.Tick, func() tea.Msg {
		return exchangeDoneMsg{err: run()}
	})
}

// Update implements tea.Model
func (m spinnerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case exchangeDoneMsg:
		m.done = true
		m.err = msg.err
		return m, tea.Quit

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC && !m.cancelled {
			m.cancelled = true
			if m.cancel != nil {
				m.cancel()
			}
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model
func (m spinnerModel) View() string {
	if m.done {
		return ""
	}
	label := m.label
	if m.cancelled {
		label += " (cancelling)"
	}
	return fmt.Sprintf("  %s %s\n", m.spinner.View(), SpinnerLabelStyle.Render(label))
}

// Overridden in tests
var (
	isTerminal = IsTerminal
	runProgram = func(m tea.Model, out io.Writer) (tea.Model, error) {
		return tea.NewProgram(m, tea.WithOutput(out)).Run()
	}
)

// RunWithSpinner runs op while showing an animated spinner on out. When out
// is not a terminal op runs directly with no output. RunWithSpinner never
// returns before op does.
func RunWithSpinner(ctx context.Context, out io.Writer, label string, op func(ctx context.Context) error) error {
	if !isTerminal(out) {
		return op(ctx)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	var opErr error
	go func() {
		defer close(done)
		opErr = op(ctx)
	}()
	wait := func() error {
		<-done
		return opErr
	}

	final, err := runProgram(newSpinnerModel(label, wait, cancel), out)
	if err != nil {
		cancel()
		<-done
		return fmt.Errorf("spinner failed: %w", err)
	}

	return final.(spinnerModel).err
}
