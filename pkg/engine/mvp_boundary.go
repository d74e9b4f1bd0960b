package engine

import (
	"context"
	"fmt"
	"strings"

	"specsmith/pkg/session"
)

type mvpBoundaryOutput struct {
	MVPFeatures   []string `json:"mvp_features"`
	LaterFeatures []string `json:"later_features"`
}

// mvpConfirmOptions are the choices presented with a scope proposal.
var mvpConfirmOptions = []string{
	"Confirm this scope",
	"Adjust the scope",
}

// runMVPBoundary splits the requirements into a first-release core and a
// deferred backlog, then pauses for confirmation. A degraded run adopts the
// stated core functions as the MVP so spec generation can still proceed.
func runMVPBoundary(deps *Deps) func(ctx context.Context, state *session.State) (*session.Update, error) {
	logger := nodeLogger()

	return func(ctx context.Context, state *session.State) (*session.Update, error) {
		var out mvpBoundaryOutput
		err := deps.completeJSON(ctx, string(NodeMVPBoundary), state, &out)
		if err != nil || len(out.MVPFeatures) == 0 {
			logger.Warn("MVP boundary degraded for session %s: %v", state.SessionID, err)
			return &session.Update{
				Stage:        session.StageMVPBoundary,
				MVP:          &session.MVPSummary{MVPFeatures: profileFeatures(state)},
				Response:     "I couldn't draw a detailed MVP boundary right now, so I'll treat the stated core functions as the first release and move on to the document.",
				NeedMoreInfo: session.BoolPtr(false),
			}, nil
		}

		return &session.Update{
			Stage:        session.StageMVPBoundary,
			MVP:          &session.MVPSummary{MVPFeatures: out.MVPFeatures, LaterFeatures: out.LaterFeatures},
			Options:      mvpConfirmOptions,
			Response:     formatMVPResponse(out.MVPFeatures, out.LaterFeatures),
			NeedMoreInfo: session.BoolPtr(true),
		}, nil
	}
}

// profileFeatures lifts the core functions out of the profile for the
// degraded path. The extractor stores list fields as []any after a JSON round
// trip, so both shapes are handled.
func profileFeatures(state *session.State) []string {
	switch v := state.Profile[session.ProfileKeyCoreFunctions].(type) {
	case []string:
		if len(v) > 0 {
			return v
		}
	case []any:
		features := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				features = append(features, s)
			}
		}
		if len(features) > 0 {
			return features
		}
	case string:
		if v != "" {
			return []string{v}
		}
	}
	return []string{"Deliver the core product flow described in the requirements"}
}

func formatMVPResponse(mvpFeatures, laterFeatures []string) string {
	var b strings.Builder
	b.WriteString("Proposed first release:\n\n")
	for _, f := range mvpFeatures {
		fmt.Fprintf(&b, "- %s\n", f)
	}
	if len(laterFeatures) > 0 {
		b.WriteString("\nDeferred to later releases:\n\n")
		for _, f := range laterFeatures {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	b.WriteString("\nShall we lock this in?\n\n")
	for i, opt := range mvpConfirmOptions {
		fmt.Fprintf(&b, "%d. %s\n", i+1, opt)
	}
	return b.String()
}
