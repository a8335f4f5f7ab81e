package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/vinayprograms/hackmate/internal/checkpoint"
	"github.com/vinayprograms/hackmate/internal/conversation"
	"github.com/vinayprograms/hackmate/internal/pipeline"
	"github.com/vinayprograms/hackmate/internal/transcript"
)

// stepPrinter streams each executed node's turns as they are persisted.
type stepPrinter struct {
	mu   sync.Mutex
	w    io.Writer
	opts transcript.Options
	next int // number of the next turn
}

func (p *stepPrinter) start(turns []conversation.Turn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = transcript.RenderTurns(p.w, turns, 1, p.opts)
	p.next = len(turns) + 1
}

func (p *stepPrinter) onStep(res pipeline.StepResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = transcript.RenderTurns(p.w, res.Turns, p.next, p.opts)
	p.next += len(res.Turns)
}

// Run starts a new run and drives it to completion.
func (c *RunCmd) Run(g *globals) error {
	idea := strings.TrimSpace(strings.Join(c.Idea, " "))
	if idea == "" {
		return errors.New("an idea is required")
	}

	printer := &stepPrinter{w: g.out, opts: g.options()}
	rt, err := newRuntime(g, printer.onStep)
	if err != nil {
		return err
	}
	defer rt.close()

	cp, err := rt.engine.Create(g.ctx, idea)
	if err != nil {
		return err
	}
	fmt.Fprintf(g.out, "session %s\n", cp.SessionID)
	printer.start(cp.State.Messages)

	id := cp.SessionID
	cp, err = rt.engine.Run(g.ctx, id)
	if err != nil {
		return interrupted(g, id, err)
	}
	return drive(g, rt.engine, cp, c.AutoApprove)
}

// Run continues a stored run.
func (c *ResumeCmd) Run(g *globals) error {
	printer := &stepPrinter{w: g.out, opts: g.options()}
	rt, err := newRuntime(g, printer.onStep)
	if err != nil {
		return err
	}
	defer rt.close()

	cp, err := rt.engine.Snapshot(g.ctx, c.Session)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			return fmt.Errorf("no session %s", c.Session)
		}
		return err
	}
	printer.next = len(cp.State.Messages) + 1

	switch cp.Status {
	case checkpoint.StatusComplete:
		fmt.Fprintf(g.out, "session %s is already complete\n", c.Session)
		return nil
	case checkpoint.StatusPaused:
		input := c.Input
		if input == "" && !c.AutoApprove {
			if input, err = ask(g); err != nil {
				return interrupted(g, c.Session, err)
			}
		}
		cp, err = rt.engine.Resume(g.ctx, c.Session, input)
	default:
		cp, err = rt.engine.Run(g.ctx, c.Session)
	}
	if err != nil {
		return interrupted(g, c.Session, err)
	}
	return drive(g, rt.engine, cp, c.AutoApprove)
}

// drive answers human checkpoints until the run completes.
func drive(g *globals, engine *pipeline.Engine, cp *checkpoint.Checkpoint, autoApprove bool) error {
	var err error
	for cp.Status == checkpoint.StatusPaused {
		input := pipeline.ApprovedInput
		if !autoApprove {
			if input, err = ask(g); err != nil {
				return interrupted(g, cp.SessionID, err)
			}
		}
		id := cp.SessionID
		if cp, err = engine.Resume(g.ctx, id, input); err != nil {
			return interrupted(g, id, err)
		}
	}

	p := painterFor(g)
	fmt.Fprintf(g.out, "\n%s %s\n", p("run complete"), transcript.Progress(cp.State.CompletedStages, g.options().Color))
	if cp.State.DeploymentURL != "" {
		fmt.Fprintf(g.out, "deployment: %s\n", cp.State.DeploymentURL)
	}
	return nil
}

// interrupted explains how to continue after an aborted run.
func interrupted(g *globals, id string, err error) error {
	if g.ctx.Err() != nil || errors.Is(err, errPromptCancelled) {
		fmt.Fprintf(g.out, "\ninterrupted; continue with: hackmate resume %s\n", id)
	}
	return err
}

func ask(g *globals) (string, error) {
	question := "Review the research and plan. Reply with changes, or press enter to approve."
	if g.prompt != nil {
		return g.prompt(question)
	}
	return promptHuman(g.ctx, g.in, g.out, question)
}

func painterFor(g *globals) func(string) string {
	if !g.options().Color {
		return func(s string) string { return s }
	}
	return func(s string) string { return promptStyle.Render(s) }
}

// Run prints a stored run.
func (c *ShowCmd) Run(g *globals) error {
	rt, err := openStore(g)
	if err != nil {
		return err
	}
	defer rt.close()

	cp, err := rt.store.Load(g.ctx, c.Session)
	if err != nil {
		return err
	}
	opts := g.options()
	opts.Limit = c.Limit
	return transcript.Render(g.out, cp, opts)
}

// Run lists stored runs, newest first.
func (c *ListCmd) Run(g *globals) error {
	rt, err := openStore(g)
	if err != nil {
		return err
	}
	defer rt.close()

	list, err := rt.store.List(g.ctx)
	if err != nil {
		return err
	}
	return transcript.RenderList(g.out, list, g.options())
}

// Run deletes a stored run.
func (c *DeleteCmd) Run(g *globals) error {
	rt, err := openEngine(g)
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.engine.Delete(g.ctx, c.Session); err != nil {
		return err
	}
	fmt.Fprintf(g.out, "deleted %s\n", c.Session)
	return nil
}

// Run deletes runs last updated before the cutoff.
func (c *PruneCmd) Run(g *globals) error {
	if c.OlderThan <= 0 {
		return errors.New("--older-than must be positive")
	}
	rt, err := openStore(g)
	if err != nil {
		return err
	}
	defer rt.close()

	cutoff := time.Now().Add(-c.OlderThan)
	n, err := checkpoint.Prune(g.ctx, rt.store, cutoff)
	if err != nil {
		return err
	}
	rt.logger.Info("pruned checkpoints", map[string]interface{}{
		"removed": n,
		"before":  cutoff.Format(time.RFC3339),
	})
	fmt.Fprintf(g.out, "pruned %d run(s) older than %s\n", n, c.OlderThan)
	return nil
}

// Run prints version information.
func (c *VersionCmd) Run(g *globals) error {
	fmt.Fprintf(g.out, "hackmate version %s (commit: %s, built: %s)\n", version, commit, buildTime)
	return nil
}
