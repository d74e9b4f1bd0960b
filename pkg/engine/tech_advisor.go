package engine

import (
	"context"
	"fmt"
	"strings"

	"specsmith/pkg/session"
)

type techAdvisorOutput struct {
	TechStack []string `json:"tech_stack"`
	Reasoning string   `json:"reasoning"`
}

// techConfirmOptions are the choices presented with a stack recommendation.
var techConfirmOptions = []string{
	"Confirm this stack",
	"Suggest changes",
}

// runTechAdvisor recommends a technology stack with reasoning and pauses for
// confirmation. A degraded run advances to MVP scoping with the stack left to
// the implementation team.
func runTechAdvisor(deps *Deps) func(ctx context.Context, state *session.State) (*session.Update, error) {
	logger := nodeLogger()

	return func(ctx context.Context, state *session.State) (*session.Update, error) {
		var out techAdvisorOutput
		err := deps.completeJSON(ctx, string(NodeTechAdvisor), state, &out)
		if err != nil || len(out.TechStack) == 0 {
			logger.Warn("Tech advisor degraded for session %s: %v", state.SessionID, err)
			return &session.Update{
				Stage:        session.StageMVPBoundary,
				Response:     "I couldn't put together a stack recommendation right now, so I'll leave the technology choice open and move on to scoping the MVP.",
				NeedMoreInfo: session.BoolPtr(false),
			}, nil
		}

		return &session.Update{
			Stage:        session.StageTechStack,
			Tech:         &session.TechSummary{TechStack: out.TechStack, Reasoning: out.Reasoning},
			Options:      techConfirmOptions,
			Response:     formatTechResponse(out.TechStack, out.Reasoning),
			NeedMoreInfo: session.BoolPtr(true),
		}, nil
	}
}

func formatTechResponse(stack []string, reasoning string) string {
	var b strings.Builder
	b.WriteString("Recommended stack:\n\n")
	for _, item := range stack {
		fmt.Fprintf(&b, "- %s\n", item)
	}
	if reasoning != "" {
		fmt.Fprintf(&b, "\n%s\n", reasoning)
	}
	b.WriteString("\nDoes this work for you?\n\n")
	for i, opt := range techConfirmOptions {
		fmt.Fprintf(&b, "%d. %s\n", i+1, opt)
	}
	return b.String()
}
