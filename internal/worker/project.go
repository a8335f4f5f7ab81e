package worker

import (
	"strings"

	"github.com/vinayprograms/hackmate/internal/conversation"
	"github.com/vinayprograms/hackmate/internal/stage"
	"github.com/vinayprograms/hackmate/internal/state"
)

// NoDeploymentURL is recorded when the deployment stage reports no URL.
const NoDeploymentURL = "(not deployed)"

type named struct {
	Name  string `json:"name"`
	Title string `json:"title"`
}

type researchOutput struct {
	Plan      []string `json:"plan"`
	APIs      []named  `json:"apis"`
	Libraries []named  `json:"libraries"`
}

type deploymentOutput struct {
	URL *string `json:"url"`
}

// Project copies a completed stage's reply into the matching scratch field.
// The first turn is the worker's own reply; later turns are tool results.
func Project(st *state.AgentState, id stage.ID, turns []conversation.Turn) {
	if len(turns) == 0 {
		return
	}
	reply := turns[0].Content

	switch id {
	case stage.Ideation:
		st.Idea = reply
	case stage.ResearchPlanning:
		st.Research = reply
		st.Plan = planFrom(reply)
	case stage.Coding:
		st.Code = reply
	case stage.Deployment:
		st.DeploymentURL = NoDeploymentURL
		var out deploymentOutput
		if conversation.DecodeJSON(reply, &out) == nil && out.URL != nil && *out.URL != "" {
			st.DeploymentURL = *out.URL
		}
	case stage.Presentation:
		st.Presentation = reply
	}
}

// planFrom summarizes a research reply. An explicit plan wins; otherwise the
// chosen libraries and APIs are listed. Unparseable replies are kept whole.
func planFrom(reply string) string {
	var out researchOutput
	if err := conversation.DecodeJSON(reply, &out); err != nil {
		return reply
	}
	if len(out.Plan) > 0 {
		return strings.Join(out.Plan, "\n")
	}

	var parts []string
	if names := names(out.Libraries); names != "" {
		parts = append(parts, "libraries: "+names)
	}
	if names := names(out.APIs); names != "" {
		parts = append(parts, "apis: "+names)
	}
	if len(parts) == 0 {
		return reply
	}
	return strings.Join(parts, "; ")
}

func names(items []named) string {
	var out []string
	for _, it := range items {
		switch {
		case it.Name != "":
			out = append(out, it.Name)
		case it.Title != "":
			out = append(out, it.Title)
		}
	}
	return strings.Join(out, ", ")
}
