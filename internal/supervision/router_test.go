package supervision

import (
	"context"
	"errors"
	"testing"

	"github.com/vinayprograms/agentkit/llm"

	"github.com/vinayprograms/hackmate/internal/conversation"
	"github.com/vinayprograms/hackmate/internal/stage"
	"github.com/vinayprograms/hackmate/internal/state"
)

// fixedAdvisor always suggests the same thing.
type fixedAdvisor struct {
	next string
	err  error
}

func (f fixedAdvisor) Suggest(ctx context.Context, req AdviceRequest) (Suggestion, error) {
	return Suggestion{Next: f.next, Response: "because " + f.next}, f.err
}

type panicAdvisor struct{}

func (panicAdvisor) Suggest(ctx context.Context, req AdviceRequest) (Suggestion, error) {
	panic("advisor exploded")
}

func stateWith(completed ...stage.ID) *state.AgentState {
	st := state.New("AI recipe app")
	for _, id := range completed {
		st.MarkComplete(id)
	}
	return st
}

func TestRoute_EmptyStateChoosesIdeation(t *testing.T) {
	st := stateWith()
	d := New(Config{}).Route(context.Background(), st)

	if d.Stage != stage.Ideation {
		t.Fatalf("Stage = %s, want ideation", d.Stage)
	}
	if st.NextStage != stage.Ideation {
		t.Errorf("NextStage = %s", st.NextStage)
	}
	if st.SupervisorSteps != 1 {
		t.Errorf("SupervisorSteps = %d", st.SupervisorSteps)
	}
	last := st.Messages[len(st.Messages)-1]
	if last != conversation.Assistant("Starting with ideation to generate project ideas.") {
		t.Errorf("explanation turn = %+v", last)
	}
}

func TestRoute_RepeatIsForcedForward(t *testing.T) {
	st := stateWith(stage.Ideation)
	d := New(Config{Advisor: fixedAdvisor{next: "ideation"}}).Route(context.Background(), st)

	if d.Stage != stage.ResearchPlanning {
		t.Fatalf("Stage = %s, want research_planning", d.Stage)
	}
	if !d.Overridden || d.Reason != ReasonRepeat {
		t.Errorf("decision = %+v", d)
	}
	if d.Explanation != "Moving to research and planning phase." {
		t.Errorf("explanation = %q", d.Explanation)
	}
}

func TestRoute_AllCompleteChoosesFinish(t *testing.T) {
	st := stateWith(stage.Stages()...)
	d := New(Config{}).Route(context.Background(), st)
	if d.Stage != stage.Finish {
		t.Fatalf("Stage = %s, want FINISH", d.Stage)
	}
	if d.Explanation != "Pipeline completed successfully!" {
		t.Errorf("explanation = %q", d.Explanation)
	}
}

func TestRoute_Validation(t *testing.T) {
	tests := []struct {
		name       string
		completed  []stage.ID
		advisor    Advisor
		want       stage.ID
		overridden bool
		reason     string
	}{
		{"invalid name", nil, fixedAdvisor{next: "marketing"}, stage.Ideation, true, ReasonInvalid},
		{"empty name", []stage.ID{stage.Ideation}, fixedAdvisor{next: ""}, stage.ResearchPlanning, true, ReasonInvalid},
		{"skip ahead", []stage.ID{stage.Ideation}, fixedAdvisor{next: "deployment"}, stage.ResearchPlanning, true, ReasonSkip},
		{"go back", []stage.ID{stage.Ideation, stage.ResearchPlanning, stage.Coding}, fixedAdvisor{next: "ideation"}, stage.Deployment, true, ReasonSkip},
		{"advisor error", []stage.ID{stage.Ideation}, fixedAdvisor{next: "coding", err: errors.New("timeout")}, stage.ResearchPlanning, true, ReasonAdvisorError},
		{"advisor panic", nil, panicAdvisor{}, stage.Ideation, true, ReasonAdvisorError},
		{"agent suffix accepted", []stage.ID{stage.Ideation}, fixedAdvisor{next: "research_planning_agent"}, stage.ResearchPlanning, false, ""},
		{"early finish allowed", []stage.ID{stage.Ideation}, fixedAdvisor{next: "FINISH"}, stage.Finish, false, ""},
		{"defer to human", []stage.ID{stage.Ideation}, fixedAdvisor{next: "human_in_the_loop"}, stage.HumanIntervention, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := stateWith(tt.completed...)
			d := New(Config{Advisor: tt.advisor}).Route(context.Background(), st)
			if d.Stage != tt.want {
				t.Errorf("Stage = %s, want %s", d.Stage, tt.want)
			}
			if d.Overridden != tt.overridden || d.Reason != tt.reason {
				t.Errorf("overridden=%v reason=%q, want %v %q", d.Overridden, d.Reason, tt.overridden, tt.reason)
			}
			if st.NextStage != d.Stage {
				t.Errorf("NextStage = %s, want %s", st.NextStage, d.Stage)
			}
		})
	}
}

func TestRoute_NeverProposesCompletedStage(t *testing.T) {
	names := []string{"ideation", "research_planning", "coding", "deployment", "presentation", "human_intervention", "FINISH", "bogus"}
	for i := 0; i <= len(stage.Stages()); i++ {
		completed := stage.Stages()[:i]
		for _, name := range names {
			st := stateWith(completed...)
			d := New(Config{Advisor: fixedAdvisor{next: name}}).Route(context.Background(), st)
			if st.CompletedStages.Has(d.Stage) {
				t.Errorf("completed=%v suggestion=%s: chose completed stage %s", completed, name, d.Stage)
			}
			if stage.IsPipelineStage(d.Stage) && d.Stage != stage.NextUndone(st.CompletedStages) {
				t.Errorf("completed=%v suggestion=%s: chose %s out of order", completed, name, d.Stage)
			}
		}
	}
}

func TestRoute_LoopGuard(t *testing.T) {
	st := stateWith(stage.Ideation)
	st.SupervisorSteps = 3
	d := New(Config{MaxSteps: 3}).Route(context.Background(), st)
	if d.Stage != stage.Finish || d.Reason != ReasonLoopGuard {
		t.Errorf("decision = %+v", d)
	}
}

func TestLLMAdvisor(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		want    string
		wantErr bool
	}{
		{"json", `{"next_agent": "coding_agent", "response": "code time"}`, "coding", false},
		{"fenced json", "```json\n{\"next_agent\":\"FINISH\",\"response\":\"done\"}\n```", "FINISH", false},
		{"prose", "I think the next step is research_planning.\nThanks", "research_planning", false},
		{"human alias", "next_agent: human_in_the_loop", "human_intervention", false},
		{"nothing", "no idea", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := llm.NewMockProvider()
			var sent llm.ChatRequest
			provider.ChatFunc = func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
				sent = req
				return &llm.ChatResponse{Content: tt.reply}, nil
			}
			history := []conversation.Turn{conversation.User("idea"), conversation.Assistant("ideas")}
			s, err := NewLLMAdvisor(provider).Suggest(context.Background(), AdviceRequest{History: history})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if s.Next != tt.want {
				t.Errorf("Next = %q, want %q", s.Next, tt.want)
			}
			if sent.Messages[0].Role != "system" || sent.Messages[len(sent.Messages)-1].Role != "user" {
				t.Error("advisor history must start with system and end with user")
			}
		})
	}
}

func TestRoute_LLMAdvisorFailureFallsBack(t *testing.T) {
	provider := llm.NewMockProvider()
	provider.ChatFunc = func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		return nil, errors.New("API rate limit exceeded")
	}
	st := stateWith(stage.Ideation, stage.ResearchPlanning)
	d := New(Config{Advisor: NewLLMAdvisor(provider)}).Route(context.Background(), st)
	if d.Stage != stage.Coding {
		t.Errorf("Stage = %s, want coding", d.Stage)
	}
}

func TestNormalizeName(t *testing.T) {
	tests := map[string]string{
		"ideation_agent":   "ideation",
		" \"Coding\" ":     "coding",
		"finish":           "FINISH",
		"human":            "human_intervention",
		"somewhere_else":   "somewhere_else",
		"presentation":     "presentation",
		"DEPLOYMENT_AGENT": "deployment",
	}
	for in, want := range tests {
		if got := NormalizeName(in); got != want {
			t.Errorf("NormalizeName(%q) = %q, want %q", in, got, want)
		}
	}
}
