package supervision

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/vinayprograms/agentkit/llm"

	"github.com/vinayprograms/hackmate/internal/conversation"
	"github.com/vinayprograms/hackmate/internal/stage"
)

// AdviceRequest is what an advisor sees when suggesting the next stage.
type AdviceRequest struct {
	History   []conversation.Turn
	Completed stage.Set
	Fallback  stage.ID
}

// Suggestion is an advisor's proposed next stage. Next is free text and is
// validated by the router.
type Suggestion struct {
	Next     string `json:"next_agent"`
	Response string `json:"response"`
}

// Advisor proposes the next stage.
type Advisor interface {
	Suggest(ctx context.Context, req AdviceRequest) (Suggestion, error)
}

var explanations = map[stage.ID]string{
	stage.Ideation:          "Starting with ideation to generate project ideas.",
	stage.ResearchPlanning:  "Moving to research and planning phase.",
	stage.Coding:            "Moving to coding phase to generate codebase.",
	stage.Deployment:        "Moving to deployment phase.",
	stage.Presentation:      "Moving to presentation phase.",
	stage.HumanIntervention: "Pausing for human review.",
	stage.Finish:            "Pipeline completed successfully!",
}

// Explain returns the standard explanation for routing to id.
func Explain(id stage.ID) string {
	if e, ok := explanations[id]; ok {
		return e
	}
	return fmt.Sprintf("Routing to %s.", id)
}

// RuleAdvisor always suggests the first unfinished stage.
type RuleAdvisor struct{}

func (RuleAdvisor) Suggest(ctx context.Context, req AdviceRequest) (Suggestion, error) {
	next := stage.NextUndone(req.Completed)
	return Suggestion{Next: string(next), Response: Explain(next)}, nil
}

// ErrNoSuggestion is returned when a model reply names no stage.
var ErrNoSuggestion = errors.New("advisor reply names no stage")

// LLMAdvisor asks a language model for the next stage. Its answer is advisory:
// the router validates it like any other suggestion.
type LLMAdvisor struct {
	provider llm.Provider
}

// NewLLMAdvisor creates an advisor backed by provider.
func NewLLMAdvisor(provider llm.Provider) *LLMAdvisor {
	return &LLMAdvisor{provider: provider}
}

func (a *LLMAdvisor) Suggest(ctx context.Context, req AdviceRequest) (Suggestion, error) {
	messages := []llm.Message{{Role: "system", Content: advisorSystemPrompt}}
	for _, t := range conversation.EnsureUserTail(req.History) {
		messages = append(messages, llm.Message{Role: string(t.Role), Content: t.Content})
	}

	resp, err := a.provider.Chat(ctx, llm.ChatRequest{Messages: messages})
	if err != nil {
		return Suggestion{}, fmt.Errorf("advisor LLM error: %w", err)
	}
	return parseSuggestion(resp.Content)
}

// parseSuggestion reads a {"next_agent","response"} reply, fenced or not.
// When no JSON is present it scans lines for a known stage name.
func parseSuggestion(content string) (Suggestion, error) {
	var s Suggestion
	if err := conversation.DecodeJSON(content, &s); err == nil && s.Next != "" {
		s.Next = NormalizeName(s.Next)
		return s, nil
	}

	for _, line := range strings.Split(content, "\n") {
		if id, ok := findName(line); ok {
			return Suggestion{Next: string(id), Response: strings.TrimSpace(content)}, nil
		}
	}
	return Suggestion{Response: strings.TrimSpace(content)}, ErrNoSuggestion
}

var aliases = map[string]stage.ID{
	"human":             stage.HumanIntervention,
	"human_in_the_loop": stage.HumanIntervention,
	"finish":            stage.Finish,
	"done":              stage.Finish,
	"research":          stage.ResearchPlanning,
}

// NormalizeName maps the names a model tends to produce onto stage IDs. Unknown
// names are returned trimmed so validation can reject them.
func NormalizeName(name string) string {
	n := strings.Trim(strings.TrimSpace(name), `"'`+"`")
	lower := strings.ToLower(n)
	lower = strings.TrimSuffix(lower, "_agent")
	if id, ok := aliases[lower]; ok {
		return string(id)
	}
	if stage.IsValidName(lower) {
		return lower
	}
	return n
}

// findName returns the longest stage name mentioned in line.
func findName(line string) (stage.ID, bool) {
	lower := strings.ToLower(line)
	candidates := []string{}
	for _, id := range append(stage.Stages(), stage.HumanIntervention, stage.Finish) {
		candidates = append(candidates, strings.ToLower(string(id)))
	}
	candidates = append(candidates, "human_in_the_loop")
	sort.Slice(candidates, func(i, j int) bool { return len(candidates[i]) > len(candidates[j]) })

	for _, c := range candidates {
		if strings.Contains(lower, c) {
			return stage.ID(NormalizeName(c)), true
		}
	}
	return "", false
}

const advisorSystemPrompt = `You are a project supervisor managing an AI hackathon assistant.

You coordinate multiple specialized workers. Your job is to:
1. Read the entire message history.
2. Decide which worker should act next, or FINISH if the goal is complete.
3. Provide a short response explaining your reasoning.

Pipeline flow (MUST follow this order):
1. ideation (generate ideas)
2. research_planning (research the idea)
3. coding (create code)
4. deployment (deploy)
5. presentation (create presentation)
6. FINISH

Rules:
- Start with ideation for new ideas
- Move to the next worker after each completes
- NEVER repeat the same worker twice in a row
- After presentation, always go to FINISH
- Choose human_intervention only if the user's intent is unclear

Respond with JSON only:
{"next_agent": one of ["ideation", "research_planning", "coding", "deployment", "presentation", "human_intervention", "FINISH"], "response": "a concise explanation of your reasoning"}`
