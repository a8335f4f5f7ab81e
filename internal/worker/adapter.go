// Package worker invokes stage workers and folds their results into AgentState.
package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/vinayprograms/hackmate/internal/conversation"
	"github.com/vinayprograms/hackmate/internal/stage"
	"github.com/vinayprograms/hackmate/internal/state"
)

// Request is what a worker receives: the canonical history, already ending in
// a user turn, and a private copy of the raw state.
type Request struct {
	Stage   stage.ID
	History []conversation.Turn
	State   *state.AgentState
}

// Invoker performs one stage. The result may be any shape the canonicalizer
// accepts.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (any, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, req Request) (any, error)

func (f InvokerFunc) Invoke(ctx context.Context, req Request) (any, error) {
	return f(ctx, req)
}

// ErrNoWorker is reported when a stage has no invoker.
var ErrNoWorker = errors.New("no worker configured")

// Result reports what a stage run added to the log.
type Result struct {
	Turns []conversation.Turn
	Err   error
}

// Failed reports whether the invocation failed.
func (r Result) Failed() bool { return r.Err != nil }

// RunStage runs one stage against st and returns the turns appended to it.
func RunStage(ctx context.Context, id stage.ID, inv Invoker, st *state.AgentState) []conversation.Turn {
	return Run(ctx, id, inv, st).Turns
}

// Run invokes the worker for id and folds the outcome into st.
//
// On success the normalized turns are appended, then the stage is marked
// complete and the scratch fields are projected. On failure, including a
// panic inside the worker, a single diagnostic turn is appended and the stage
// stays incomplete. The consumed routing decision is cleared either way.
func Run(ctx context.Context, id stage.ID, inv Invoker, st *state.AgentState) Result {
	req := Request{
		Stage:   id,
		History: conversation.EnsureUserTail(conversation.NormalizeHistory(conversation.FromTurns(st.Messages))),
		State:   st.Clone(),
	}

	out, err := invoke(ctx, inv, req)
	if err != nil {
		return fail(id, st, err)
	}
	turns, err := fold(id, st, out)
	if err != nil {
		return fail(id, st, err)
	}
	st.ClearNextStage()
	return Result{Turns: turns}
}

func fail(id stage.ID, st *state.AgentState, err error) Result {
	turn := conversation.Assistant(fmt.Sprintf("stage %s failed: %v", id, err))
	st.Append(turn)
	st.ClearNextStage()
	return Result{Turns: []conversation.Turn{turn}, Err: err}
}

// fold applies a successful result on a copy of st and commits it only if
// nothing panicked, so st is never left half-updated.
func fold(id stage.ID, st *state.AgentState, out any) (turns []conversation.Turn, err error) {
	defer func() {
		if r := recover(); r != nil {
			turns, err = nil, fmt.Errorf("result handling panic: %v", r)
		}
	}()
	next := st.Clone()
	turns = conversation.NormalizeOutput(out)
	next.Append(turns...)
	next.MarkComplete(id)
	Project(next, id, turns)
	*st = *next
	return turns, nil
}

func invoke(ctx context.Context, inv Invoker, req Request) (out any, err error) {
	if inv == nil {
		return nil, ErrNoWorker
	}
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("worker panic: %v", r)
		}
	}()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return inv.Invoke(ctx, req)
}
