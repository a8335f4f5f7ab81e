// Package pipeline drives a run through the stage statechart: router, the
// five worker stages, the human checkpoint and the terminal node.
package pipeline

import (
	"fmt"
	"time"

	"github.com/felixgeelhaar/statekit"

	"github.com/vinayprograms/hackmate/internal/stage"
)

// Node is a state of the pipeline chart.
type Node string

const (
	NodeRouter           Node = "router"
	NodeIdeation         Node = Node(stage.Ideation)
	NodeResearchPlanning Node = Node(stage.ResearchPlanning)
	NodeCoding           Node = Node(stage.Coding)
	NodeDeployment       Node = Node(stage.Deployment)
	NodePresentation     Node = Node(stage.Presentation)
	NodeHuman            Node = Node(stage.HumanIntervention)
	NodeTerminal         Node = "terminal"
)

// Nodes lists every node of the chart.
func Nodes() []Node {
	return []Node{
		NodeRouter, NodeIdeation, NodeResearchPlanning, NodeCoding,
		NodeDeployment, NodePresentation, NodeHuman, NodeTerminal,
	}
}

// Stage returns the worker stage a node runs, if any.
func (n Node) Stage() (stage.ID, bool) {
	id := stage.ID(n)
	return id, stage.IsPipelineStage(id)
}

// Chart events. Router transitions are keyed by the chosen stage name.
const (
	EventDone   statekit.EventType = "DONE"
	EventResume statekit.EventType = "RESUME"
	EventFinish statekit.EventType = statekit.EventType(stage.Finish)
)

const machineID = "pipeline"

// Transition is one edge taken by the chart.
type Transition struct {
	From  Node
	To    Node
	Event string
}

// chartContext is the statekit context: the trail of edges taken since the
// interpreter was restored.
type chartContext struct {
	From  Node
	Trail []Transition
}

// RouteEvent maps a routing decision to the router's outgoing event.
// Anything that is not a worker stage or the human checkpoint finishes.
func RouteEvent(id stage.ID) statekit.EventType {
	if stage.IsPipelineStage(id) || id == stage.HumanIntervention {
		return statekit.EventType(id)
	}
	return EventFinish
}

// enter records arrival at n in the chart context.
func enter(n Node) func(**chartContext, statekit.Event) {
	return func(c **chartContext, e statekit.Event) {
		if c == nil || *c == nil {
			return
		}
		(*c).Trail = append((*c).Trail, Transition{From: (*c).From, To: n, Event: string(e.Type)})
		(*c).From = n
	}
}

func sid(n Node) statekit.StateID { return statekit.StateID(n) }

func evt(n Node) statekit.EventType { return statekit.EventType(n) }

// newChart builds the pipeline statechart. Every worker stage returns to the
// router except research_planning, which always stops at the human checkpoint.
func newChart() (*statekit.MachineConfig[*chartContext], error) {
	return statekit.NewMachine[*chartContext](machineID).
		WithInitial(sid(NodeRouter)).
		WithContext(&chartContext{}).
		WithAction("enterRouter", enter(NodeRouter)).
		WithAction("enterIdeation", enter(NodeIdeation)).
		WithAction("enterResearchPlanning", enter(NodeResearchPlanning)).
		WithAction("enterCoding", enter(NodeCoding)).
		WithAction("enterDeployment", enter(NodeDeployment)).
		WithAction("enterPresentation", enter(NodePresentation)).
		WithAction("enterHuman", enter(NodeHuman)).
		WithAction("enterTerminal", enter(NodeTerminal)).
		State(sid(NodeRouter)).
			OnEntry("enterRouter").
			On(evt(NodeIdeation)).Target(sid(NodeIdeation)).
			On(evt(NodeResearchPlanning)).Target(sid(NodeResearchPlanning)).
			On(evt(NodeCoding)).Target(sid(NodeCoding)).
			On(evt(NodeDeployment)).Target(sid(NodeDeployment)).
			On(evt(NodePresentation)).Target(sid(NodePresentation)).
			On(evt(NodeHuman)).Target(sid(NodeHuman)).
			On(EventFinish).Target(sid(NodeTerminal)).
			Done().
		State(sid(NodeIdeation)).
			OnEntry("enterIdeation").
			On(EventDone).Target(sid(NodeRouter)).
			Done().
		State(sid(NodeResearchPlanning)).
			OnEntry("enterResearchPlanning").
			On(EventDone).Target(sid(NodeHuman)).
			Done().
		State(sid(NodeCoding)).
			OnEntry("enterCoding").
			On(EventDone).Target(sid(NodeRouter)).
			Done().
		State(sid(NodeDeployment)).
			OnEntry("enterDeployment").
			On(EventDone).Target(sid(NodeRouter)).
			Done().
		State(sid(NodePresentation)).
			OnEntry("enterPresentation").
			On(EventDone).Target(sid(NodeRouter)).
			Done().
		State(sid(NodeHuman)).
			OnEntry("enterHuman").
			On(EventResume).Target(sid(NodeRouter)).
			Done().
		State(sid(NodeTerminal)).
			Final().
			OnEntry("enterTerminal").
			Done().
		Build()
}

// chart is one interpreter positioned at a node.
type chart struct {
	interp *statekit.Interpreter[*chartContext]
	ctx    *chartContext
}

func restoreChart(machine *statekit.MachineConfig[*chartContext], at Node) (*chart, error) {
	ctx := &chartContext{From: at}
	interp := statekit.NewInterpreter(machine)
	interp.UpdateContext(func(c **chartContext) {
		*c = ctx
	})

	snapshot := statekit.Snapshot[*chartContext]{
		MachineID:    machineID,
		CurrentState: statekit.StateID(at),
		Context:      ctx,
		CreatedAt:    time.Now(),
	}
	if err := interp.Restore(snapshot); err != nil {
		return nil, fmt.Errorf("failed to restore chart at %s: %w", at, err)
	}
	return &chart{interp: interp, ctx: ctx}, nil
}

// Node returns the current node.
func (c *chart) Node() Node {
	return Node(c.interp.State().Value)
}

// Fire sends ev and returns the node the chart moved to. An event the current
// node does not accept is an error.
func (c *chart) Fire(event statekit.EventType) (next Node, err error) {
	from := c.Node()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("chart rejected %s at %s: %v", event, from, r)
		}
	}()

	c.interp.Send(statekit.Event{Type: event})
	next = c.Node()
	if next == from {
		return from, fmt.Errorf("no transition for %s at %s", event, from)
	}
	return next, nil
}

// Done reports whether the chart reached its final node.
func (c *chart) Done() bool {
	return c.interp.Done()
}

// Trail returns the edges taken since the chart was restored.
func (c *chart) Trail() []Transition {
	return append([]Transition(nil), c.ctx.Trail...)
}
