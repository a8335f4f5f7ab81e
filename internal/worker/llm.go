package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/muesli/reflow/truncate"
	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/agentkit/logging"

	"github.com/vinayprograms/hackmate/internal/conversation"
	"github.com/vinayprograms/hackmate/internal/skills"
	"github.com/vinayprograms/hackmate/internal/stage"
	"github.com/vinayprograms/hackmate/internal/tools"
)

// fallbackIdea is used when the log holds no user turn.
const fallbackIdea = "AI recipe generator web app"

// LLMWorker performs a stage with a language model, then runs the stage's
// tool hooks on the reply.
type LLMWorker struct {
	provider llm.Provider
	skill    *skills.Skill
	tools    *tools.Registry
	logger   *logging.Logger
}

// NewLLMWorker creates a worker for one stage definition.
func NewLLMWorker(provider llm.Provider, skill *skills.Skill, registry *tools.Registry) *LLMWorker {
	return &LLMWorker{
		provider: provider,
		skill:    skill,
		tools:    registry,
		logger:   logging.New().WithComponent("worker"),
	}
}

// Invoke sends the system prompt and history to the model. The result is an
// Envelope holding the reply followed by one turn per tool hook.
func (w *LLMWorker) Invoke(ctx context.Context, req Request) (any, error) {
	start := time.Now()
	step := string(req.Stage)
	w.logger.PhaseStart("EXECUTE", step, "")

	idea := ideaOf(req)
	messages := []llm.Message{{Role: "system", Content: w.systemPrompt(idea)}}
	for _, t := range req.History {
		messages = append(messages, llm.Message{Role: string(t.Role), Content: t.Content})
	}

	resp, err := w.provider.Chat(ctx, llm.ChatRequest{Messages: messages})
	if err != nil {
		w.logger.PhaseComplete("EXECUTE", step, "", time.Since(start), "error")
		return nil, fmt.Errorf("%s worker LLM error: %w", req.Stage, err)
	}

	env := conversation.Envelope{Messages: []any{resp}}
	for _, name := range w.skill.Tools {
		args := map[string]string{
			"output":  resp.Content,
			"idea":    idea,
			"message": commitMessage(idea),
		}
		text := w.tools.Call(ctx, name, args)
		w.logger.Info("tool hook", map[string]interface{}{
			"stage":  step,
			"tool":   name,
			"result": text,
		})
		env.Messages = append(env.Messages, conversation.Assistant(name+": "+text))
	}

	w.logger.PhaseComplete("EXECUTE", step, "", time.Since(start), "complete")
	return env, nil
}

func (w *LLMWorker) systemPrompt(idea string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are a helpful AI assistant specialized in %s.\n", w.skill.Role)
	sb.WriteString("Prefer deterministic, concise outputs. If some information is missing, assume reasonable defaults and proceed.\n\n")
	sb.WriteString("Output policy: unless explicitly told otherwise, return ONLY JSON with no extra prose. ")
	sb.WriteString("Follow the exact JSON shape requested.\n\n")
	if w.skill.Instructions != "" {
		sb.WriteString(w.skill.Instructions)
		sb.WriteString("\n\n")
	}
	fmt.Fprintf(&sb, "User input: %s", idea)
	return sb.String()
}

func ideaOf(req Request) string {
	if req.State != nil {
		if idea := req.State.UserIdea(); idea != "" {
			return idea
		}
	}
	if idea, ok := conversation.FirstContent(req.History, conversation.RoleUser); ok && idea != "" {
		return idea
	}
	return fallbackIdea
}

func commitMessage(idea string) string {
	idea = strings.TrimSpace(strings.SplitN(idea, "\n", 2)[0])
	return "Add generated project: " + truncate.String(idea, 60)
}

// UnknownTools lists, as "stage/tool", every tool a stage definition names
// that the registry does not provide. Such hooks report an error turn at run
// time.
func UnknownTools(set skills.Set, registry *tools.Registry) []string {
	known := make(map[string]bool)
	if registry != nil {
		for _, name := range registry.Names() {
			known[name] = true
		}
	}
	var missing []string
	for _, id := range set.Stages() {
		for _, name := range set[id].Tools {
			if !known[name] {
				missing = append(missing, string(id)+"/"+name)
			}
		}
	}
	return missing
}

// Build creates a guarded LLM worker for every defined stage.
func Build(provider llm.Provider, set skills.Set, registry *tools.Registry, guard GuardConfig) map[stage.ID]Invoker {
	invokers := make(map[stage.ID]Invoker, len(set))
	for id, skill := range set {
		invokers[id] = NewGuard(NewLLMWorker(provider, skill, registry), guard)
	}
	return invokers
}
