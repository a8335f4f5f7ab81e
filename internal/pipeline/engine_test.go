package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/felixgeelhaar/statekit"

	"github.com/vinayprograms/hackmate/internal/checkpoint"
	"github.com/vinayprograms/hackmate/internal/conversation"
	"github.com/vinayprograms/hackmate/internal/events"
	"github.com/vinayprograms/hackmate/internal/session"
	"github.com/vinayprograms/hackmate/internal/stage"
	"github.com/vinayprograms/hackmate/internal/worker"
)

// recorder keeps published events in memory.
type recorder struct {
	mu  sync.Mutex
	got []events.Event
}

func (r *recorder) Publish(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, e)
	return nil
}

func (r *recorder) Close() error { return nil }

func (r *recorder) Events() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.got...)
}

func echoWorkers() map[stage.ID]worker.Invoker {
	m := make(map[stage.ID]worker.Invoker)
	for _, id := range stage.Stages() {
		id := id
		m[id] = worker.InvokerFunc(func(ctx context.Context, req worker.Request) (any, error) {
			return fmt.Sprintf("```json\n{\"response\":\"%s done\"}\n```", id), nil
		})
	}
	return m
}

func newEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	if cfg.Store == nil {
		cfg.Store = checkpoint.NewMemoryStore()
	}
	if cfg.Workers == nil {
		cfg.Workers = echoWorkers()
	}
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func TestChart_Transitions(t *testing.T) {
	t.Parallel()
	machine, err := newChart()
	if err != nil {
		t.Fatalf("newChart: %v", err)
	}

	tests := []struct {
		from    Node
		event   string
		want    Node
		wantErr bool
	}{
		{NodeRouter, "ideation", NodeIdeation, false},
		{NodeRouter, "research_planning", NodeResearchPlanning, false},
		{NodeRouter, "coding", NodeCoding, false},
		{NodeRouter, "deployment", NodeDeployment, false},
		{NodeRouter, "presentation", NodePresentation, false},
		{NodeRouter, "human_intervention", NodeHuman, false},
		{NodeRouter, "FINISH", NodeTerminal, false},
		{NodeIdeation, "DONE", NodeRouter, false},
		{NodeResearchPlanning, "DONE", NodeHuman, false},
		{NodeCoding, "DONE", NodeRouter, false},
		{NodeDeployment, "DONE", NodeRouter, false},
		{NodePresentation, "DONE", NodeRouter, false},
		{NodeHuman, "RESUME", NodeRouter, false},
		{NodeRouter, "DONE", NodeRouter, true},
		{NodeHuman, "DONE", NodeHuman, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+tt.event, func(t *testing.T) {
			ch, err := restoreChart(machine, tt.from)
			if err != nil {
				t.Fatalf("restoreChart: %v", err)
			}
			if ch.Node() != tt.from {
				t.Fatalf("restored at %s, want %s", ch.Node(), tt.from)
			}
			next, err := ch.Fire(statekit.EventType(tt.event))
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, moved to %s", next)
				}
				return
			}
			if err != nil {
				t.Fatalf("Fire: %v", err)
			}
			if next != tt.want {
				t.Errorf("next = %s, want %s", next, tt.want)
			}
			trail := ch.Trail()
			if len(trail) == 0 || trail[len(trail)-1].To != tt.want {
				t.Errorf("trail = %+v", trail)
			}
			if (next == NodeTerminal) != ch.Done() {
				t.Errorf("Done() = %v at %s", ch.Done(), next)
			}
		})
	}
}

func TestRouteEvent(t *testing.T) {
	t.Parallel()
	tests := map[stage.ID]string{
		stage.Ideation:          "ideation",
		stage.Presentation:      "presentation",
		stage.HumanIntervention: "human_intervention",
		stage.Finish:            "FINISH",
		"":                      "FINISH",
		"marketing":             "FINISH",
	}
	for id, want := range tests {
		if got := string(RouteEvent(id)); got != want {
			t.Errorf("RouteEvent(%q) = %q, want %q", id, got, want)
		}
	}
}

func TestEngine_RunPausesAfterResearch(t *testing.T) {
	t.Parallel()
	e := newEngine(t, Config{})
	ctx := context.Background()

	cp, err := e.Start(ctx, "AI recipe app")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if Node(cp.Node) != NodeHuman || cp.Status != checkpoint.StatusPaused {
		t.Fatalf("stopped at %s (%s), want paused at human_intervention", cp.Node, cp.Status)
	}
	got := cp.State.CompletedStages.Slice()
	if len(got) != 2 || got[0] != stage.Ideation || got[1] != stage.ResearchPlanning {
		t.Errorf("completed = %v", got)
	}
	if cp.State.Research != "research_planning done" {
		t.Errorf("research projection = %q", cp.State.Research)
	}

	want := []conversation.Turn{
		conversation.User("AI recipe app"),
		conversation.Assistant("Starting with ideation to generate project ideas."),
		conversation.Assistant("ideation done"),
		conversation.Assistant("Moving to research and planning phase."),
		conversation.Assistant("research_planning done"),
	}
	if !conversation.Equal(cp.State.Messages, want) {
		t.Errorf("messages:\n got %+v\nwant %+v", cp.State.Messages, want)
	}

	// a paused run does not advance without input
	again, err := e.Run(ctx, cp.SessionID)
	if err != nil {
		t.Fatalf("Run on paused session: %v", err)
	}
	if len(again.State.Messages) != len(want) {
		t.Error("paused run advanced without input")
	}
	if _, err := e.Step(ctx, cp.SessionID); !errors.Is(err, ErrPaused) {
		t.Errorf("Step on paused session: expected ErrPaused, got %v", err)
	}
}

func TestEngine_ResumeRunsToTerminal(t *testing.T) {
	t.Parallel()
	e := newEngine(t, Config{})
	ctx := context.Background()

	cp, err := e.Start(ctx, "AI recipe app")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	final, err := e.Resume(ctx, cp.SessionID, "  ")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}

	if Node(final.Node) != NodeTerminal || final.Status != checkpoint.StatusComplete {
		t.Fatalf("stopped at %s (%s)", final.Node, final.Status)
	}
	if got := final.State.CompletedStages.Slice(); len(got) != 5 {
		t.Errorf("completed = %v", got)
	}
	if !final.State.CompletedStages.IsPrefix() {
		t.Error("completed stages are not a prefix of the pipeline order")
	}
	if steps := final.State.SupervisorSteps; steps > len(stage.PipelineOrder) {
		t.Errorf("reached terminal after %d router steps, want at most %d", steps, len(stage.PipelineOrder))
	}
	if !containsTurn(final.State.Messages, conversation.User(ApprovedInput)) {
		t.Error("empty input should be recorded as approved")
	}
	last, _ := conversation.LastContent(final.State.Messages, conversation.RoleAssistant)
	if last != "Pipeline completed successfully!" {
		t.Errorf("last assistant turn = %q", last)
	}
	if final.State.DeploymentURL != worker.NoDeploymentURL {
		t.Errorf("deployment url = %q", final.State.DeploymentURL)
	}

	if _, err := e.Step(ctx, cp.SessionID); !errors.Is(err, ErrFinished) {
		t.Errorf("Step after terminal: expected ErrFinished, got %v", err)
	}
	if _, err := e.Resume(ctx, cp.SessionID, "more"); !errors.Is(err, ErrNotPaused) {
		t.Errorf("Resume after terminal: expected ErrNotPaused, got %v", err)
	}
}

func TestEngine_StepPersistsEachNode(t *testing.T) {
	t.Parallel()
	store := checkpoint.NewMemoryStore()
	e := newEngine(t, Config{Store: store})
	ctx := context.Background()

	cp, err := e.Create(ctx, "AI recipe app")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	res, err := e.Step(ctx, cp.SessionID)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if res.Node != NodeRouter || res.Next != NodeIdeation {
		t.Errorf("router step = %s -> %s", res.Node, res.Next)
	}
	if res.Decision == nil || res.Decision.Stage != stage.Ideation {
		t.Errorf("decision = %+v", res.Decision)
	}
	saved, _ := store.Load(ctx, cp.SessionID)
	if Node(saved.Node) != NodeIdeation || len(saved.State.Messages) != 2 {
		t.Errorf("after router: node %s, %d turns", saved.Node, len(saved.State.Messages))
	}
	if saved.State.NextStage != stage.Ideation {
		t.Errorf("next stage not persisted: %q", saved.State.NextStage)
	}

	res, err = e.Step(ctx, cp.SessionID)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if res.Node != NodeIdeation || res.Next != NodeRouter {
		t.Errorf("ideation step = %s -> %s", res.Node, res.Next)
	}
	if len(res.Turns) != 1 || res.Turns[0].Content != "ideation done" {
		t.Errorf("turns = %+v", res.Turns)
	}
	saved, _ = store.Load(ctx, cp.SessionID)
	if !saved.State.CompletedStages.Has(stage.Ideation) {
		t.Error("ideation not persisted as complete")
	}
	if saved.State.NextStage != "" {
		t.Errorf("next stage should be cleared, got %q", saved.State.NextStage)
	}
}

func TestEngine_EveryNodeIsAppendOnly(t *testing.T) {
	t.Parallel()
	workers := echoWorkers()
	var failed sync.Once
	workers[stage.Coding] = worker.InvokerFunc(func(ctx context.Context, req worker.Request) (any, error) {
		var err error
		failed.Do(func() { err = errors.New("compiler exploded") })
		if err != nil {
			return nil, err
		}
		return "code", nil
	})

	store := checkpoint.NewMemoryStore()
	ctx := context.Background()
	var (
		mu       sync.Mutex
		prev     *checkpoint.Checkpoint
		steps    int
		failures int
	)
	onStep := func(res StepResult) {
		mu.Lock()
		defer mu.Unlock()
		steps++
		if res.Err != nil {
			failures++
		}
		cur, err := store.Load(ctx, res.SessionID)
		if err != nil {
			t.Errorf("load after %s: %v", res.Node, err)
			return
		}
		if prev != nil {
			if !conversation.HasPrefix(cur.State.Messages, prev.State.Messages) {
				t.Errorf("%s rewrote earlier turns", res.Node)
			}
			added := cur.State.Messages[len(prev.State.Messages):]
			if !conversation.Equal(added, res.Turns) {
				t.Errorf("%s appended %+v, reported %+v", res.Node, added, res.Turns)
			}
			for _, id := range prev.State.CompletedStages.Slice() {
				if !cur.State.CompletedStages.Has(id) {
					t.Errorf("%s dropped completed stage %s", res.Node, id)
				}
			}
		}
		if !cur.State.CompletedStages.IsPrefix() {
			t.Errorf("after %s completed stages %v skip a stage", res.Node, cur.State.CompletedStages.Slice())
		}
		prev = cur
	}
	e := newEngine(t, Config{Store: store, Workers: workers, OnStep: onStep})

	cp, err := e.Create(ctx, "AI recipe app")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	mu.Lock()
	prev = cp.Clone()
	mu.Unlock()

	if _, err := e.Run(ctx, cp.SessionID); err != nil {
		t.Fatalf("Run: %v", err)
	}
	final, err := e.Resume(ctx, cp.SessionID, "")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if final.Status != checkpoint.StatusComplete {
		t.Fatalf("status = %s", final.Status)
	}
	mu.Lock()
	defer mu.Unlock()
	if failures != 1 {
		t.Errorf("expected one failed node, got %d", failures)
	}
	if steps < 12 {
		t.Errorf("expected every node observed, got %d steps", steps)
	}
}

func TestEngine_AllCompleteFinishes(t *testing.T) {
	t.Parallel()
	store := checkpoint.NewMemoryStore()
	e := newEngine(t, Config{Store: store})
	ctx := context.Background()

	cp, _ := e.Create(ctx, "AI recipe app")
	for _, id := range stage.Stages() {
		cp.State.MarkComplete(id)
	}
	store.Save(ctx, cp)

	res, err := e.Step(ctx, cp.SessionID)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if res.Decision.Stage != stage.Finish || res.Next != NodeTerminal {
		t.Errorf("decision %s -> %s", res.Decision.Stage, res.Next)
	}
	if res.Status != checkpoint.StatusComplete {
		t.Errorf("status = %s", res.Status)
	}
}

func TestEngine_WorkerFailureIsRetried(t *testing.T) {
	t.Parallel()
	workers := echoWorkers()
	var mu sync.Mutex
	calls := 0
	workers[stage.Ideation] = worker.InvokerFunc(func(ctx context.Context, req worker.Request) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return nil, errors.New("rate limited")
		}
		return "an idea", nil
	})
	rec := &recorder{}
	e := newEngine(t, Config{Workers: workers, Events: rec})
	ctx := context.Background()

	cp, err := e.Start(ctx, "AI recipe app")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !containsTurn(cp.State.Messages, conversation.Assistant("stage ideation failed: rate limited")) {
		t.Error("failure turn missing from log")
	}
	if cp.State.Idea != "an idea" {
		t.Errorf("idea = %q", cp.State.Idea)
	}
	if got := cp.State.CompletedStages.Slice(); len(got) != 2 || got[0] != stage.Ideation {
		t.Errorf("completed = %v", got)
	}

	var failed, completed int
	for _, ev := range rec.Events() {
		switch ev.Type {
		case events.TypeStageFailed:
			failed++
			if ev.Stage != "ideation" || ev.Content != "rate limited" {
				t.Errorf("stage_failed event = %+v", ev)
			}
		case events.TypeStageCompleted:
			completed++
		}
	}
	if failed != 1 || completed != 2 {
		t.Errorf("failed=%d completed=%d", failed, completed)
	}
}

func TestEngine_MissingWorker(t *testing.T) {
	t.Parallel()
	workers := echoWorkers()
	delete(workers, stage.Ideation)
	e := newEngine(t, Config{Workers: workers})

	cp, err := e.Start(context.Background(), "AI recipe app")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	// the router keeps retrying ideation until its loop guard ends the run
	if Node(cp.Node) != NodeTerminal {
		t.Errorf("stopped at %s", cp.Node)
	}
	if cp.State.CompletedStages.Len() != 0 {
		t.Errorf("completed = %v", cp.State.CompletedStages.Slice())
	}
	if !containsTurn(cp.State.Messages, conversation.Assistant("stage ideation failed: no worker configured")) {
		t.Error("missing worker turn not found")
	}
}

func TestEngine_Events(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	e := newEngine(t, Config{Events: rec})
	ctx := context.Background()

	cp, _ := e.Start(ctx, "AI recipe app")
	e.Resume(ctx, cp.SessionID, "looks good")

	evs := rec.Events()
	if len(evs) == 0 {
		t.Fatal("no events recorded")
	}
	var types []string
	for i, ev := range evs {
		if ev.SessionID != cp.SessionID {
			t.Errorf("event %d has session %q", i, ev.SessionID)
		}
		if i > 0 && ev.Seq <= evs[i-1].Seq {
			t.Errorf("event %d seq %d not after %d", i, ev.Seq, evs[i-1].Seq)
		}
		types = append(types, ev.Type)
	}
	joined := strings.Join(types, ",")
	for _, want := range []string{"paused", "resumed", "finished"} {
		if !strings.Contains(joined, want) {
			t.Errorf("missing %s event in %s", want, joined)
		}
	}
	if types[0] != events.TypeNodeEntered || types[1] != events.TypeRouted {
		t.Errorf("first events = %v", types[:2])
	}
	if types[len(types)-1] != events.TypeFinished {
		t.Errorf("last event = %s", types[len(types)-1])
	}
}

func TestEngine_OnStep(t *testing.T) {
	t.Parallel()
	var nodes []Node
	e := newEngine(t, Config{OnStep: func(r StepResult) { nodes = append(nodes, r.Node) }})
	ctx := context.Background()

	cp, _ := e.Start(ctx, "AI recipe app")
	want := []Node{NodeRouter, NodeIdeation, NodeRouter, NodeResearchPlanning}
	if fmt.Sprint(nodes) != fmt.Sprint(want) {
		t.Errorf("observed %v, want %v", nodes, want)
	}

	nodes = nil
	e.Resume(ctx, cp.SessionID, "ok")
	if len(nodes) == 0 || nodes[0] != NodeHuman {
		t.Errorf("resume should report the human node first, got %v", nodes)
	}
}

func TestEngine_ResumeErrors(t *testing.T) {
	t.Parallel()
	e := newEngine(t, Config{})
	ctx := context.Background()

	if _, err := e.Resume(ctx, "missing", "x"); !errors.Is(err, checkpoint.ErrNotFound) {
		t.Errorf("unknown session: expected ErrNotFound, got %v", err)
	}
	cp, _ := e.Create(ctx, "AI recipe app")
	if _, err := e.Resume(ctx, cp.SessionID, "x"); !errors.Is(err, ErrNotPaused) {
		t.Errorf("running session: expected ErrNotPaused, got %v", err)
	}
	if _, err := e.Create(ctx, "   "); err == nil {
		t.Error("expected error for empty idea")
	}
}

func TestEngine_Cancellation(t *testing.T) {
	t.Parallel()
	store := checkpoint.NewMemoryStore()
	workers := echoWorkers()
	ctx, cancel := context.WithCancel(context.Background())
	workers[stage.Ideation] = worker.InvokerFunc(func(c context.Context, req worker.Request) (any, error) {
		cancel()
		return nil, c.Err()
	})
	e := newEngine(t, Config{Store: store, Workers: workers})

	cp, err := e.Create(context.Background(), "AI recipe app")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := e.Run(ctx, cp.SessionID); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	// the abandoned node left nothing behind
	saved, _ := store.Load(context.Background(), cp.SessionID)
	if Node(saved.Node) != NodeIdeation {
		t.Errorf("node = %s, want ideation", saved.Node)
	}
	if len(saved.State.Messages) != 2 {
		t.Errorf("expected 2 turns, got %d", len(saved.State.Messages))
	}

	// and the run continues from there
	e2 := newEngine(t, Config{Store: store})
	resumed, err := e2.Run(context.Background(), cp.SessionID)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if Node(resumed.Node) != NodeHuman {
		t.Errorf("resumed run stopped at %s", resumed.Node)
	}
}

func TestEngine_ResumeInNewProcess(t *testing.T) {
	t.Parallel()
	store, err := checkpoint.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()

	first := newEngine(t, Config{Store: store})
	cp, err := first.Start(ctx, "AI recipe app")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	second := newEngine(t, Config{Store: store, Sessions: session.NewRegistry()})
	final, err := second.Resume(ctx, cp.SessionID, "ship it")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if final.Status != checkpoint.StatusComplete {
		t.Errorf("status = %s", final.Status)
	}
	if !conversation.HasPrefix(final.State.Messages, cp.State.Messages) {
		t.Error("resumed log does not extend the paused log")
	}
}

func TestEngine_ConcurrentSessions(t *testing.T) {
	t.Parallel()
	e := newEngine(t, Config{})
	ctx := context.Background()

	const n = 8
	results := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			idea := fmt.Sprintf("idea %d", i)
			cp, err := e.Start(ctx, idea)
			if err != nil {
				t.Errorf("Start %d: %v", i, err)
				return
			}
			final, err := e.Resume(ctx, cp.SessionID, "")
			if err != nil {
				t.Errorf("Resume %d: %v", i, err)
				return
			}
			if final.State.UserIdea() != idea {
				t.Errorf("session %d sees idea %q", i, final.State.UserIdea())
			}
			results[i] = final.SessionID
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, id := range results {
		if id == "" || seen[id] {
			t.Errorf("bad or duplicate session id %q", id)
		}
		seen[id] = true
	}
}

func TestEngine_ConcurrentRunsOfOneSession(t *testing.T) {
	t.Parallel()
	e := newEngine(t, Config{})
	ctx := context.Background()

	cp, _ := e.Create(ctx, "AI recipe app")
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.Run(ctx, cp.SessionID); err != nil {
				t.Errorf("Run: %v", err)
			}
		}()
	}
	wg.Wait()

	final, _ := e.Snapshot(ctx, cp.SessionID)
	if Node(final.Node) != NodeHuman {
		t.Errorf("stopped at %s", final.Node)
	}
	if got := final.State.CompletedStages.Slice(); len(got) != 2 {
		t.Errorf("completed = %v", got)
	}
	if len(final.State.Messages) != 5 {
		t.Errorf("expected 5 turns, got %d", len(final.State.Messages))
	}
}

func containsTurn(turns []conversation.Turn, want conversation.Turn) bool {
	for _, t := range turns {
		if t == want {
			return true
		}
	}
	return false
}

func TestEngine_EventSeqContinuesAcrossEngines(t *testing.T) {
	t.Parallel()
	store := checkpoint.NewMemoryStore()
	ctx := context.Background()

	first := &recorder{}
	cp, err := newEngine(t, Config{Store: store, Events: first}).Start(ctx, "AI recipe app")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	before := first.Events()
	last := before[len(before)-1].Seq
	if cp.EventSeq != last {
		t.Errorf("checkpoint seq = %d, last published %d", cp.EventSeq, last)
	}

	// a second engine has its own session registry, as a new process would
	second := &recorder{}
	final, err := newEngine(t, Config{Store: store, Events: second}).Resume(ctx, cp.SessionID, "")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	after := second.Events()
	if len(after) == 0 {
		t.Fatal("no events after resume")
	}
	if after[0].Seq <= last {
		t.Errorf("resumed run restarted its sequence: %d after %d", after[0].Seq, last)
	}
	for i := 1; i < len(after); i++ {
		if after[i].Seq <= after[i-1].Seq {
			t.Errorf("event %d seq %d not after %d", i, after[i].Seq, after[i-1].Seq)
		}
	}
	if final.EventSeq != after[len(after)-1].Seq {
		t.Errorf("final checkpoint seq = %d, last published %d", final.EventSeq, after[len(after)-1].Seq)
	}
}

func TestEngine_DeleteRefusesBusySession(t *testing.T) {
	t.Parallel()
	e := newEngine(t, Config{})
	ctx := context.Background()

	cp, err := e.Create(ctx, "AI recipe app")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	unlock := e.sessions.Lock(cp.SessionID)
	if err := e.Delete(ctx, cp.SessionID); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy while a node holds the session, got %v", err)
	}
	if _, err := e.Snapshot(ctx, cp.SessionID); err != nil {
		t.Errorf("busy session was deleted: %v", err)
	}
	unlock()

	if err := e.Delete(ctx, cp.SessionID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := e.Snapshot(ctx, cp.SessionID); !errors.Is(err, checkpoint.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := e.Delete(ctx, cp.SessionID); !errors.Is(err, checkpoint.ErrNotFound) {
		t.Errorf("deleting twice: %v", err)
	}
}

func TestClip(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"hello world", 5, "hello..."},
		{"héllo wörld", 7, "héllo w..."},
		{"日本語のテキスト", 6, "日本語..."},
	}
	for _, tt := range tests {
		got := clip(tt.in, tt.n)
		if !utf8.ValidString(got) {
			t.Errorf("clip(%q, %d) split a rune: %q", tt.in, tt.n, got)
		}
		if got != tt.want {
			t.Errorf("clip(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
