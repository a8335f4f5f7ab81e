// Package state holds AgentState, the single durable record of one pipeline run.
package state

import (
	"github.com/vinayprograms/hackmate/internal/conversation"
	"github.com/vinayprograms/hackmate/internal/stage"
)

// AgentState is mutated only by pipeline nodes and persisted after each one.
// Messages is the authoritative log; the scratch fields are projections of it.
type AgentState struct {
	Messages        []conversation.Turn `json:"messages"`
	CompletedStages stage.Set           `json:"completed_stages"`
	NextStage       stage.ID            `json:"next_stage,omitempty"`
	SupervisorSteps int                 `json:"supervisor_steps"`

	Idea          string `json:"idea,omitempty"`
	Research      string `json:"research,omitempty"`
	Plan          string `json:"plan,omitempty"`
	Code          string `json:"code,omitempty"`
	DeploymentURL string `json:"deployment_url,omitempty"`
	Presentation  string `json:"presentation,omitempty"`
}

// New creates the state for a freshly submitted idea.
func New(userInput string) *AgentState {
	return &AgentState{
		Messages: []conversation.Turn{conversation.User(userInput)},
	}
}

// Append adds turns to the end of the log.
func (s *AgentState) Append(turns ...conversation.Turn) {
	s.Messages = append(s.Messages, turns...)
}

// MarkComplete records a worker stage as done. It reports whether the stage was
// newly added; Finish and the human checkpoint are never recorded.
func (s *AgentState) MarkComplete(id stage.ID) bool {
	if !stage.IsPipelineStage(id) {
		return false
	}
	return s.CompletedStages.Add(id)
}

// ClearNextStage drops a consumed routing decision.
func (s *AgentState) ClearNextStage() {
	s.NextStage = ""
}

// UserIdea returns the first user turn, the idea the run was created from.
func (s *AgentState) UserIdea() string {
	idea, _ := conversation.FirstContent(s.Messages, conversation.RoleUser)
	return idea
}

// Clone returns a deep copy.
func (s *AgentState) Clone() *AgentState {
	if s == nil {
		return nil
	}
	c := *s
	c.Messages = append([]conversation.Turn(nil), s.Messages...)
	c.CompletedStages = stage.NewSet(s.CompletedStages.Slice()...)
	return &c
}
