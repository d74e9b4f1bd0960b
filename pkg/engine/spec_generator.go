package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"specsmith/pkg/session"
)

// runSpecGenerator renders the final requirement document and completes the
// session. A degraded run emits a skeleton assembled from the collected state;
// the session still completes, the user never ends a finished interview
// empty-handed.
func runSpecGenerator(deps *Deps) func(ctx context.Context, state *session.State) (*session.Update, error) {
	logger := nodeLogger()

	return func(ctx context.Context, state *session.State) (*session.Update, error) {
		document, err := deps.completeText(ctx, string(NodeSpecGenerator), state)
		if err != nil {
			logger.Warn("Spec generator degraded for session %s: %v", state.SessionID, err)
			document = skeletonDocument(state)
		}

		return &session.Update{
			Stage: session.StageCompleted,
			Document: &session.DocumentSummary{
				Document:    document,
				GeneratedAt: time.Now().UTC(),
			},
			Response:     document,
			NeedMoreInfo: session.BoolPtr(false),
			Stop:         true,
			FinalSpec:    document,
		}, nil
	}
}

// skeletonDocument assembles a minimal requirement document from whatever the
// interview collected.
func skeletonDocument(state *session.State) string {
	var b strings.Builder
	b.WriteString("# Requirement Specification\n\n")

	b.WriteString("## Overview\n\n")
	fmt.Fprintf(&b, "- Goal: %s\n", profileString(state, session.ProfileKeyGoal))
	fmt.Fprintf(&b, "- Target users: %s\n", profileString(state, session.ProfileKeyTargetUsers))
	fmt.Fprintf(&b, "- Core functions: %s\n", profileString(state, session.ProfileKeyCoreFunctions))

	if risk := state.Summary.Risk; risk != nil && len(risk.Risks) > 0 {
		b.WriteString("\n## Risks\n\n")
		for _, r := range risk.Risks {
			fmt.Fprintf(&b, "- %s\n", r)
		}
		if risk.SelectedApproach != "" {
			fmt.Fprintf(&b, "\nChosen approach: %s\n", risk.SelectedApproach)
		}
	}

	if tech := state.Summary.Tech; tech != nil && len(tech.TechStack) > 0 {
		b.WriteString("\n## Technology Stack\n\n")
		for _, item := range tech.TechStack {
			fmt.Fprintf(&b, "- %s\n", item)
		}
		if tech.Reasoning != "" {
			fmt.Fprintf(&b, "\n%s\n", tech.Reasoning)
		}
	}

	if mvp := state.Summary.MVP; mvp != nil && len(mvp.MVPFeatures) > 0 {
		b.WriteString("\n## MVP Scope\n\n")
		for _, f := range mvp.MVPFeatures {
			fmt.Fprintf(&b, "- %s\n", f)
		}
		if len(mvp.LaterFeatures) > 0 {
			b.WriteString("\n### Deferred\n\n")
			for _, f := range mvp.LaterFeatures {
				fmt.Fprintf(&b, "- %s\n", f)
			}
		}
	}

	b.WriteString("\n_This document was assembled from the interview state; regenerate for a full write-up._\n")
	return b.String()
}

func profileString(state *session.State, key string) string {
	switch v := state.Profile[key].(type) {
	case string:
		if v != "" {
			return v
		}
	case []string:
		if len(v) > 0 {
			return strings.Join(v, ", ")
		}
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				parts = append(parts, s)
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, ", ")
		}
	}
	return "(not captured)"
}
