package transcript

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/ansi"
	"github.com/muesli/reflow/truncate"
	"github.com/muesli/reflow/wordwrap"

	"github.com/vinayprograms/hackmate/internal/checkpoint"
	"github.com/vinayprograms/hackmate/internal/conversation"
	"github.com/vinayprograms/hackmate/internal/stage"
)

// DefaultWidth is used when Options.Width is not positive.
const DefaultWidth = 100

// Options control rendering.
type Options struct {
	Width int  // wrap width including the gutter
	Color bool // emit ANSI styling
	Limit int  // max columns per turn, 0 = unlimited
}

// gutter is "   1 │ assistant │ ".
const (
	roleWidth   = 9
	gutterWidth = 4 + 3 + roleWidth + 3
)

// Render prints the session header, stage progress and every turn.
func Render(w io.Writer, cp *checkpoint.Checkpoint, opts Options) error {
	opts = withDefaults(opts)
	p := painter{color: opts.Color}

	fmt.Fprintln(w, p.paint(titleStyle, "hackmate session "+cp.SessionID))
	fmt.Fprintf(w, "%s %s\n", p.paint(labelStyle, "idea:   "), p.paint(valueStyle, cp.Idea))
	fmt.Fprintf(w, "%s %s %s\n", p.paint(labelStyle, "status: "), statusText(p, cp.Status), p.paint(dimStyle, "at "+cp.Node))
	fmt.Fprintf(w, "%s %s\n", p.paint(labelStyle, "updated:"), p.paint(dimStyle, cp.UpdatedAt.Format("2006-01-02 15:04:05")))
	if cp.State != nil {
		fmt.Fprintf(w, "%s %s\n", p.paint(labelStyle, "stages: "), Progress(cp.State.CompletedStages, opts.Color))
	}
	fmt.Fprintln(w, p.divider(min(opts.Width, 60)))

	if cp.State == nil {
		return nil
	}
	return RenderTurns(w, cp.State.Messages, 1, opts)
}

// RenderTurns prints turns numbered from first.
func RenderTurns(w io.Writer, turns []conversation.Turn, first int, opts Options) error {
	opts = withDefaults(opts)
	p := painter{color: opts.Color}
	contentWidth := opts.Width - gutterWidth
	if contentWidth < 20 {
		contentWidth = 20
	}
	indent := strings.Repeat(" ", 4) + " " + p.paint(dimStyle, "│") + " " +
		strings.Repeat(" ", roleWidth) + " " + p.paint(dimStyle, "│") + " "

	for i, t := range turns {
		content := t.Content
		if opts.Limit > 0 && ansi.PrintableRuneWidth(content) > opts.Limit {
			content = truncate.String(content, uint(opts.Limit)) + "... [truncated]"
		}
		if content == "" {
			content = p.paint(dimStyle, "(empty)")
		}

		wrapped := wordwrap.String(content, contentWidth)
		lines := strings.Split(wrapped, "\n")
		style := contentStyle(t)

		_, err := fmt.Fprintf(w, "%s %s %s %s %s\n",
			p.seq(fmt.Sprintf("%d", first+i)),
			p.paint(dimStyle, "│"),
			roleLabel(p, t.Role),
			p.paint(dimStyle, "│"),
			p.paint(style, lines[0]))
		if err != nil {
			return err
		}
		for _, line := range lines[1:] {
			if _, err := fmt.Fprintf(w, "%s%s\n", indent, p.paint(style, line)); err != nil {
				return err
			}
		}
	}
	return nil
}

// RenderList prints one line per checkpoint summary.
func RenderList(w io.Writer, list []checkpoint.Summary, opts Options) error {
	opts = withDefaults(opts)
	p := painter{color: opts.Color}
	if len(list) == 0 {
		_, err := fmt.Fprintln(w, p.paint(dimStyle, "no sessions"))
		return err
	}
	for _, s := range list {
		idea := s.Idea
		if room := opts.Width - 70; room > 10 && ansi.PrintableRuneWidth(idea) > room {
			idea = truncate.String(idea, uint(room-3)) + "..."
		}
		_, err := fmt.Fprintf(w, "%s  %s  %-8s %-18s %3d turns  %s\n",
			p.paint(valueStyle, s.SessionID),
			p.paint(dimStyle, s.UpdatedAt.Format("2006-01-02 15:04")),
			statusText(p, s.Status),
			p.paint(dimStyle, s.Node),
			s.Turns,
			idea)
		if err != nil {
			return err
		}
	}
	return nil
}

// Progress renders completed stages against the pipeline order, e.g.
// "[##...] ideation ✓ research_planning ✓ coding · deployment · presentation ·".
func Progress(done stage.Set, color bool) string {
	p := painter{color: color}
	var bar, names strings.Builder
	bar.WriteString("[")
	for i, id := range stage.Stages() {
		if i > 0 {
			names.WriteString(" ")
		}
		if done.Has(id) {
			bar.WriteString("#")
			names.WriteString(p.paint(successStyle, string(id)+" ✓"))
		} else {
			bar.WriteString(".")
			names.WriteString(p.paint(dimStyle, string(id)+" ·"))
		}
	}
	bar.WriteString("]")
	return fmt.Sprintf("%s %d/%d %s", bar.String(), done.Len(), len(stage.Stages()), names.String())
}

func roleLabel(p painter, r conversation.Role) string {
	label := fmt.Sprintf("%-*s", roleWidth, string(r))
	switch r {
	case conversation.RoleUser:
		return p.paint(userStyle, label)
	case conversation.RoleSystem:
		return p.paint(systemStyle, label)
	default:
		return p.paint(assistantStyle, label)
	}
}

func contentStyle(t conversation.Turn) lipgloss.Style {
	if t.Role == conversation.RoleAssistant && strings.HasPrefix(t.Content, "stage ") && strings.Contains(t.Content, " failed: ") {
		return errorStyle
	}
	return valueStyle
}

func statusText(p painter, s checkpoint.Status) string {
	switch s {
	case checkpoint.StatusComplete:
		return p.paint(successStyle, string(s))
	case checkpoint.StatusPaused:
		return p.paint(warnStyle, string(s))
	default:
		return p.paint(valueStyle, string(s))
	}
}

func withDefaults(opts Options) Options {
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	return opts
}
