package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var errPromptCancelled = errors.New("prompt cancelled")

var (
	promptStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("11")) // Yellow

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))
)

// promptModel asks one question at the human checkpoint.
type promptModel struct {
	question  string
	textInput textinput.Model
	answer    string
	done      bool
	cancelled bool
}

func newPromptModel(question string) promptModel {
	ti := textinput.New()
	ti.Placeholder = "approved"
	ti.Prompt = "> "
	ti.Focus()
	ti.CharLimit = 4000
	ti.Width = 72
	return promptModel{question: question, textInput: ti}
}

// Init initializes the model
func (m promptModel) Init() tea.Cmd {
	return textinput.Blink
}

// Update handles messages
func (m promptModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.Type {
		case tea.KeyEnter:
			m.answer = strings.TrimSpace(m.textInput.Value())
			m.done = true
			return m, tea.Quit
		case tea.KeyCtrlC, tea.KeyEsc:
			m.cancelled = true
			return m, tea.Quit
		}
	}
	var cmd tea.Cmd
	m.textInput, cmd = m.textInput.Update(msg)
	return m, cmd
}

// View renders the prompt
func (m promptModel) View() string {
	if m.done || m.cancelled {
		return ""
	}
	return promptStyle.Render(m.question) + "\n\n" +
		m.textInput.View() + "\n\n" +
		helpStyle.Render("enter to submit · esc to stop (resume later)") + "\n"
}

// promptHuman reads the human checkpoint answer, using a text input on a
// terminal and plain line reading otherwise. An empty answer approves.
func promptHuman(ctx context.Context, in io.Reader, out io.Writer, question string) (string, error) {
	if f, ok := in.(*os.File); ok && isTTY(f) && isTerminal(out) {
		return promptTUI(ctx, f, out, question)
	}
	return promptLine(in, out, question)
}

func promptTUI(ctx context.Context, in *os.File, out io.Writer, question string) (string, error) {
	p := tea.NewProgram(newPromptModel(question),
		tea.WithContext(ctx),
		tea.WithInput(in),
		tea.WithOutput(out),
	)
	final, err := p.Run()
	if err != nil {
		return "", fmt.Errorf("prompt: %w", err)
	}
	m := final.(promptModel)
	if m.cancelled {
		return "", errPromptCancelled
	}
	if m.answer != "" {
		fmt.Fprintf(out, "> %s\n", m.answer)
	}
	return m.answer, nil
}

func promptLine(in io.Reader, out io.Writer, question string) (string, error) {
	r, ok := in.(*bufio.Reader)
	if !ok {
		r = bufio.NewReader(in)
	}
	fmt.Fprintf(out, "\n%s\n> ", question)
	line, err := r.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading answer: %w", err)
	}
	if errors.Is(err, io.EOF) {
		fmt.Fprintln(out)
	}
	return strings.TrimSpace(line), nil
}

// stdinReader returns stdin itself on a terminal, and a buffered reader
// otherwise so that piped answers survive across prompts.
func stdinReader() io.Reader {
	if isTTY(os.Stdin) {
		return os.Stdin
	}
	return bufio.NewReader(os.Stdin)
}

func isTTY(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
