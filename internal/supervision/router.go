// Package supervision decides which pipeline stage runs next.
//
// Suggestions come from an Advisor (a deterministic rule or a language model)
// and are always subject to the same validation: a suggestion that names no
// stage, repeats the last completed stage, or skips an unfinished stage is
// replaced by the first unfinished stage.
package supervision

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/vinayprograms/agentkit/logging"

	"github.com/vinayprograms/hackmate/internal/conversation"
	"github.com/vinayprograms/hackmate/internal/stage"
	"github.com/vinayprograms/hackmate/internal/state"
)

// DefaultMaxSteps bounds routing steps per run.
const DefaultMaxSteps = 25

// Override reasons.
const (
	ReasonInvalid      = "invalid"
	ReasonRepeat       = "repeat"
	ReasonSkip         = "skip"
	ReasonAdvisorError = "advisor_error"
	ReasonLoopGuard    = "loop_guard"
)

// Decision is the outcome of one routing step.
type Decision struct {
	Stage       stage.ID `json:"stage"`
	Explanation string   `json:"explanation"`
	Suggested   string   `json:"suggested,omitempty"`
	Overridden  bool     `json:"overridden,omitempty"`
	Reason      string   `json:"reason,omitempty"`
}

// Config holds router configuration.
type Config struct {
	Advisor  Advisor
	MaxSteps int
}

// Router validates advisor suggestions and records the decision in the state.
type Router struct {
	advisor  Advisor
	maxSteps int
	logger   *logging.Logger
}

// New creates a router. A nil advisor means RuleAdvisor.
func New(cfg Config) *Router {
	advisor := cfg.Advisor
	if advisor == nil {
		advisor = RuleAdvisor{}
	}
	maxSteps := cfg.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	return &Router{
		advisor:  advisor,
		maxSteps: maxSteps,
		logger:   logging.New().WithComponent("router"),
	}
}

// Route chooses the next stage, records it in st.NextStage and appends an
// explanatory assistant turn. It always produces a valid stage.
func (r *Router) Route(ctx context.Context, st *state.AgentState) Decision {
	start := time.Now()
	st.SupervisorSteps++
	step := strconv.Itoa(st.SupervisorSteps)
	r.logger.PhaseStart("ROUTE", "", step)

	d := r.decide(ctx, st)

	st.NextStage = d.Stage
	st.Append(conversation.Assistant(d.Explanation))

	guidance := d.Explanation
	if d.Overridden {
		guidance = fmt.Sprintf("%s (overrode %q: %s)", d.Explanation, d.Suggested, d.Reason)
	}
	r.logger.SupervisorVerdict("", step, string(d.Stage), guidance, d.Stage == stage.HumanIntervention)
	r.logger.PhaseComplete("ROUTE", "", step, time.Since(start), string(d.Stage))
	return d
}

func (r *Router) decide(ctx context.Context, st *state.AgentState) Decision {
	fallback := stage.NextUndone(st.CompletedStages)

	if st.SupervisorSteps > r.maxSteps {
		return Decision{
			Stage:       stage.Finish,
			Explanation: fmt.Sprintf("Stopping after %d routing steps without completing the pipeline.", r.maxSteps),
			Suggested:   string(fallback),
			Overridden:  fallback != stage.Finish,
			Reason:      ReasonLoopGuard,
		}
	}

	s, err := r.suggest(ctx, AdviceRequest{
		History:   conversation.NormalizeHistory(conversation.FromTurns(st.Messages)),
		Completed: st.CompletedStages,
		Fallback:  fallback,
	})
	if err != nil {
		r.logger.Warn("advisor failed, using rule", map[string]interface{}{"error": err.Error()})
		return override(fallback, s.Next, ReasonAdvisorError)
	}

	name := NormalizeName(s.Next)
	if !stage.IsValidName(name) {
		return override(fallback, s.Next, ReasonInvalid)
	}
	chosen := stage.ID(name)
	if last, ok := st.CompletedStages.Last(); ok && chosen == last {
		return override(fallback, s.Next, ReasonRepeat)
	}
	if stage.IsPipelineStage(chosen) && chosen != fallback {
		return override(fallback, s.Next, ReasonSkip)
	}

	explanation := s.Response
	if explanation == "" {
		explanation = Explain(chosen)
	}
	return Decision{Stage: chosen, Explanation: explanation, Suggested: s.Next}
}

// suggest calls the advisor, converting a panic into an error.
func (r *Router) suggest(ctx context.Context, req AdviceRequest) (s Suggestion, err error) {
	defer func() {
		if p := recover(); p != nil {
			s, err = Suggestion{}, fmt.Errorf("advisor panic: %v", p)
		}
	}()
	return r.advisor.Suggest(ctx, req)
}

func override(fallback stage.ID, suggested, reason string) Decision {
	return Decision{
		Stage:       fallback,
		Explanation: Explain(fallback),
		Suggested:   suggested,
		Overridden:  true,
		Reason:      reason,
	}
}
