package engine

import (
	"context"
	"fmt"
	"strings"

	"specsmith/pkg/session"
)

type riskAnalystOutput struct {
	Risks      []string `json:"risks"`
	Approaches []string `json:"approaches"`
}

// runRiskAnalyst surfaces the main delivery risks and offers mitigation
// approaches for the user to pick from. On the first visit it records the
// summary and pauses for a selection; a degraded run skips ahead to the tech
// stack rather than blocking the pipeline on a flaky model.
func runRiskAnalyst(deps *Deps) func(ctx context.Context, state *session.State) (*session.Update, error) {
	logger := nodeLogger()

	return func(ctx context.Context, state *session.State) (*session.Update, error) {
		var out riskAnalystOutput
		err := deps.completeJSON(ctx, string(NodeRiskAnalyst), state, &out)
		if err != nil || len(out.Risks) == 0 {
			logger.Warn("Risk analyst degraded for session %s: %v", state.SessionID, err)
			return &session.Update{
				Stage:        session.StageTechStack,
				Response:     "I couldn't complete a risk analysis right now, so let's move on to the technology choices. We can revisit risks before the final document.",
				NeedMoreInfo: session.BoolPtr(false),
			}, nil
		}

		approaches := out.Approaches
		if len(approaches) == 0 {
			approaches = []string{"Proceed with standard mitigations for these risks"}
		}

		return &session.Update{
			Stage:        session.StageRiskAnalysis,
			Risk:         &session.RiskSummary{Risks: out.Risks, Approaches: approaches},
			Options:      approaches,
			Response:     formatRiskResponse(out.Risks, approaches),
			NeedMoreInfo: session.BoolPtr(true),
		}, nil
	}
}

func formatRiskResponse(risks, approaches []string) string {
	var b strings.Builder
	b.WriteString("Here are the main risks I see:\n\n")
	for _, risk := range risks {
		fmt.Fprintf(&b, "- %s\n", risk)
	}
	b.WriteString("\nHow would you like to address them?\n\n")
	for i, approach := range approaches {
		fmt.Fprintf(&b, "%d. %s\n", i+1, approach)
	}
	b.WriteString("\nReply with a number or the approach you prefer.")
	return b.String()
}
