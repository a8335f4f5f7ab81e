package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/felixgeelhaar/statekit"
	"github.com/vinayprograms/agentkit/logging"

	"github.com/vinayprograms/hackmate/internal/checkpoint"
	"github.com/vinayprograms/hackmate/internal/conversation"
	"github.com/vinayprograms/hackmate/internal/events"
	"github.com/vinayprograms/hackmate/internal/session"
	"github.com/vinayprograms/hackmate/internal/stage"
	"github.com/vinayprograms/hackmate/internal/state"
	"github.com/vinayprograms/hackmate/internal/supervision"
	"github.com/vinayprograms/hackmate/internal/worker"
)

var (
	// ErrNotPaused is returned by Resume when the run is not waiting for input.
	ErrNotPaused = errors.New("session is not paused")
	// ErrPaused is returned by Step when the run waits for input.
	ErrPaused = errors.New("session is paused for human review")
	// ErrFinished is returned by Step when the run reached the terminal node.
	ErrFinished = errors.New("session is finished")
	// ErrBusy is returned by Delete while a node of the run is executing.
	ErrBusy = errors.New("session is busy")
)

// ApprovedInput replaces empty human input on Resume.
const ApprovedInput = "approved"

// StepResult describes one executed node.
type StepResult struct {
	SessionID string
	Node      Node
	Next      Node
	Status    checkpoint.Status
	Turns     []conversation.Turn
	Decision  *supervision.Decision // router nodes only
	Err       error                 // worker failure, already recorded as a turn
}

// Config wires an engine.
type Config struct {
	Store    checkpoint.Store
	Router   *supervision.Router
	Workers  map[stage.ID]worker.Invoker
	Events   events.Publisher
	Sessions *session.Registry
	// OnStep, when set, observes every executed node after it is persisted.
	OnStep func(StepResult)
}

// Engine executes runs one node at a time. Every node's turns are folded into
// the run's state and checkpointed before the next node starts, so a run can
// stop after any step and continue in another process.
type Engine struct {
	store    checkpoint.Store
	router   *supervision.Router
	workers  map[stage.ID]worker.Invoker
	events   events.Publisher
	sessions *session.Registry
	onStep   func(StepResult)
	machine  *statekit.MachineConfig[*chartContext]
	logger   *logging.Logger
}

// New creates an engine. Store is required; the rest have defaults.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("pipeline: checkpoint store is required")
	}
	machine, err := newChart()
	if err != nil {
		return nil, fmt.Errorf("failed to build pipeline chart: %w", err)
	}

	e := &Engine{
		store:    cfg.Store,
		router:   cfg.Router,
		workers:  cfg.Workers,
		events:   cfg.Events,
		sessions: cfg.Sessions,
		onStep:   cfg.OnStep,
		machine:  machine,
		logger:   logging.New().WithComponent("pipeline"),
	}
	if e.router == nil {
		e.router = supervision.New(supervision.Config{})
	}
	if e.workers == nil {
		e.workers = map[stage.ID]worker.Invoker{}
	}
	if e.events == nil {
		e.events = events.Noop{}
	}
	if e.sessions == nil {
		e.sessions = session.NewRegistry()
	}
	return e, nil
}

// Create persists a new run for idea, positioned at the router.
func (e *Engine) Create(ctx context.Context, idea string) (*checkpoint.Checkpoint, error) {
	if strings.TrimSpace(idea) == "" {
		return nil, errors.New("idea is required")
	}
	now := time.Now()
	cp := &checkpoint.Checkpoint{
		SessionID: session.NewID(),
		Node:      string(NodeRouter),
		Status:    checkpoint.StatusRunning,
		Idea:      idea,
		State:     state.New(idea),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.Save(ctx, cp); err != nil {
		return nil, fmt.Errorf("failed to save checkpoint: %w", err)
	}
	e.sessions.Register(cp.SessionID, idea)

	e.logger.Info("session created", map[string]interface{}{
		"session": cp.SessionID,
		"idea":    clip(idea, 120),
	})
	return cp, nil
}

// Start creates a run and drives it until it pauses or finishes.
func (e *Engine) Start(ctx context.Context, idea string) (*checkpoint.Checkpoint, error) {
	cp, err := e.Create(ctx, idea)
	if err != nil {
		return nil, err
	}
	return e.Run(ctx, cp.SessionID)
}

// Run steps the run until it pauses at the human checkpoint or reaches the
// terminal node. Cancellation is honoured between nodes.
func (e *Engine) Run(ctx context.Context, sessionID string) (cp *checkpoint.Checkpoint, err error) {
	ctx, span := e.startRunSpan(ctx, sessionID)
	var last Node
	defer func() { e.endRunSpan(span, last, err) }()

	for {
		if err = ctx.Err(); err != nil {
			return nil, err
		}
		res, stepErr := e.Step(ctx, sessionID)
		if errors.Is(stepErr, ErrPaused) || errors.Is(stepErr, ErrFinished) {
			break
		}
		if stepErr != nil {
			err = stepErr
			return nil, err
		}
		last = res.Next
		if res.Status != checkpoint.StatusRunning {
			break
		}
	}

	cp, err = e.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	last = Node(cp.Node)
	return cp, nil
}

// Step executes exactly one node of the run.
func (e *Engine) Step(ctx context.Context, sessionID string) (*StepResult, error) {
	unlock := e.sessions.Lock(sessionID)
	defer unlock()

	cp, err := e.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	node := Node(cp.Node)
	switch {
	case cp.Status == checkpoint.StatusComplete || node == NodeTerminal:
		return nil, ErrFinished
	case node == NodeHuman:
		return nil, ErrPaused
	}

	ctx, span := e.startNodeSpan(ctx, sessionID, node)
	res, err := e.execute(ctx, cp)
	e.endNodeSpan(span, res, err)
	if err != nil {
		return nil, err
	}
	if e.onStep != nil {
		e.onStep(*res)
	}
	return res, nil
}

// Resume answers the human checkpoint with input (empty means approved) and
// continues the run.
func (e *Engine) Resume(ctx context.Context, sessionID, input string) (*checkpoint.Checkpoint, error) {
	if err := e.answer(ctx, sessionID, input); err != nil {
		return nil, err
	}
	return e.Run(ctx, sessionID)
}

// Delete removes a stored run. A run with a node executing in this process is
// refused with ErrBusy.
func (e *Engine) Delete(ctx context.Context, sessionID string) error {
	if !e.sessions.Remove(sessionID) {
		return fmt.Errorf("%w: %s", ErrBusy, sessionID)
	}
	if err := e.store.Delete(ctx, sessionID); err != nil {
		return err
	}
	e.logger.Info("session deleted", map[string]interface{}{"session": sessionID})
	return nil
}

// Snapshot loads the current checkpoint of a run.
func (e *Engine) Snapshot(ctx context.Context, sessionID string) (*checkpoint.Checkpoint, error) {
	return e.store.Load(ctx, sessionID)
}

func (e *Engine) answer(ctx context.Context, sessionID, input string) error {
	unlock := e.sessions.Lock(sessionID)
	defer unlock()

	cp, err := e.store.Load(ctx, sessionID)
	if err != nil {
		return err
	}
	if Node(cp.Node) != NodeHuman || cp.Status != checkpoint.StatusPaused {
		return fmt.Errorf("%w: %s is at %s (%s)", ErrNotPaused, sessionID, cp.Node, cp.Status)
	}

	input = strings.TrimSpace(input)
	if input == "" {
		input = ApprovedInput
	}

	sess := e.live(cp)
	ch, err := restoreChart(e.machine, NodeHuman)
	if err != nil {
		return err
	}
	next, err := ch.Fire(EventResume)
	if err != nil {
		return err
	}

	turn := conversation.User(input)
	cp.State.Append(turn)
	cp.Node = string(next)
	cp.Status = statusAt(next)
	cp.UpdatedAt = time.Now()
	resumed := stamp(sess, events.Event{Type: events.TypeResumed, Node: string(NodeHuman), Content: input})
	cp.EventSeq = sess.CurrentSeq()
	if err := e.store.Save(ctx, cp); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	e.send(ctx, resumed)
	e.logger.Info("session resumed", map[string]interface{}{
		"session": sessionID,
		"input":   clip(input, 120),
	})
	if e.onStep != nil {
		e.onStep(StepResult{
			SessionID: sessionID,
			Node:      NodeHuman,
			Next:      next,
			Status:    cp.Status,
			Turns:     []conversation.Turn{turn},
		})
	}
	return nil
}

// execute runs the node cp is positioned at, moves the chart and saves.
func (e *Engine) execute(ctx context.Context, cp *checkpoint.Checkpoint) (*StepResult, error) {
	node := Node(cp.Node)
	sess := e.live(cp)
	ch, err := restoreChart(e.machine, node)
	if err != nil {
		return nil, err
	}
	e.send(ctx, stamp(sess, events.Event{Type: events.TypeNodeEntered, Node: string(node)}))

	st := cp.State
	before := st.Clone()
	res := &StepResult{SessionID: cp.SessionID, Node: node}

	var event statekit.EventType
	if node == NodeRouter {
		d := e.router.Route(ctx, st)
		res.Decision = &d
		event = RouteEvent(d.Stage)
	} else {
		id, ok := node.Stage()
		if !ok {
			return nil, fmt.Errorf("session %s is at unknown node %q", cp.SessionID, node)
		}
		r := worker.Run(ctx, id, e.workers[id], st)
		res.Err = r.Err
		event = EventDone
		e.selfCheck(cp.SessionID, node, before, st)
	}
	res.Turns = append([]conversation.Turn(nil), st.Messages[len(before.Messages):]...)

	next, err := ch.Fire(event)
	if err != nil {
		return nil, err
	}
	res.Next = next
	res.Status = statusAt(next)

	cp.Node = string(next)
	cp.Status = res.Status
	cp.UpdatedAt = time.Now()
	outcome := outcomeEvents(sess, res)
	cp.EventSeq = sess.CurrentSeq()
	if err := e.store.Save(ctx, cp); err != nil {
		return nil, fmt.Errorf("failed to save checkpoint: %w", err)
	}

	e.send(ctx, outcome...)
	e.report(res)
	return res, nil
}

// outcomeEvents stamps the events describing a finished step.
func outcomeEvents(sess *session.Session, res *StepResult) []events.Event {
	var evs []events.Event
	switch {
	case res.Decision != nil:
		evs = append(evs, events.Event{
			Type:    events.TypeRouted,
			Node:    string(res.Node),
			Stage:   string(res.Decision.Stage),
			Content: res.Decision.Explanation,
		})
	case res.Err != nil:
		evs = append(evs, events.Event{
			Type:    events.TypeStageFailed,
			Node:    string(res.Node),
			Stage:   string(res.Node),
			Content: res.Err.Error(),
		})
	default:
		evs = append(evs, events.Event{
			Type:  events.TypeStageCompleted,
			Node:  string(res.Node),
			Stage: string(res.Node),
		})
	}

	switch res.Next {
	case NodeHuman:
		evs = append(evs, events.Event{Type: events.TypePaused, Node: string(NodeHuman)})
	case NodeTerminal:
		evs = append(evs, events.Event{Type: events.TypeFinished, Node: string(NodeTerminal)})
	}
	for i := range evs {
		evs[i] = stamp(sess, evs[i])
	}
	return evs
}

// report logs the outcome of a persisted step.
func (e *Engine) report(res *StepResult) {
	fields := map[string]interface{}{
		"session": res.SessionID,
		"node":    string(res.Node),
		"next":    string(res.Next),
		"turns":   len(res.Turns),
	}
	switch {
	case res.Decision != nil:
		fields["stage"] = string(res.Decision.Stage)
		fields["overridden"] = res.Decision.Overridden
	case res.Err != nil:
		fields["error"] = res.Err.Error()
	}

	if res.Err != nil {
		e.logger.Warn("step failed", fields)
	} else {
		e.logger.Info("step", fields)
	}
}

// live returns the in-process session of cp. Its event counter continues from
// the sequence the checkpoint recorded.
func (e *Engine) live(cp *checkpoint.Checkpoint) *session.Session {
	sess := e.sessions.Register(cp.SessionID, cp.Idea)
	sess.Observe(cp.EventSeq)
	return sess
}

func stamp(sess *session.Session, ev events.Event) events.Event {
	ev.SessionID = sess.ID
	ev.Seq = sess.NextSeq()
	ev.Timestamp = time.Now()
	return ev
}

func (e *Engine) send(ctx context.Context, evs ...events.Event) {
	for _, ev := range evs {
		if err := e.events.Publish(ctx, ev); err != nil {
			e.logger.Warn("event publish failed", map[string]interface{}{
				"session": ev.SessionID,
				"type":    ev.Type,
				"error":   err.Error(),
			})
		}
	}
}

// selfCheck verifies a worker node only appended to the log and kept the
// completed stages a prefix of the pipeline order. Violations are logged.
func (e *Engine) selfCheck(sessionID string, node Node, before, after *state.AgentState) {
	fields := map[string]interface{}{"session": sessionID, "node": string(node)}
	if !conversation.HasPrefix(after.Messages, before.Messages) {
		e.logger.Error("turn log was rewritten", fields)
	}
	if err := after.CompletedStages.Validate(); err != nil {
		fields["error"] = err.Error()
		e.logger.Error("completed stages hold a non-stage", fields)
	}
	if !after.CompletedStages.IsPrefix() {
		fields["completed"] = after.CompletedStages.Slice()
		e.logger.Error("completed stages skip a stage", fields)
	}
}

func statusAt(n Node) checkpoint.Status {
	switch n {
	case NodeTerminal:
		return checkpoint.StatusComplete
	case NodeHuman:
		return checkpoint.StatusPaused
	default:
		return checkpoint.StatusRunning
	}
}
