package engine

import (
	"context"
	"fmt"
	"strings"

	"specsmith/pkg/session"
)

type askerOutput struct {
	Question string `json:"question"`
}

// fallbackQuestions cover the critical fields when the model cannot produce a
// question.
var fallbackQuestions = map[string]string{
	session.ProfileKeyGoal:          "What problem should this product solve, in one or two sentences?",
	session.ProfileKeyTargetUsers:   "Who are the primary users of this product?",
	session.ProfileKeyCoreFunctions: "What are the two or three core things a user must be able to do?",
}

// runAsker produces exactly one new clarifying question and leaves the
// pipeline waiting for the user. Terminal: the question is the turn's response.
func runAsker(deps *Deps) func(ctx context.Context, state *session.State) (*session.Update, error) {
	logger := nodeLogger()

	return func(ctx context.Context, state *session.State) (*session.Update, error) {
		question := ""

		var out askerOutput
		if err := deps.completeJSON(ctx, string(NodeAsker), state, &out); err != nil {
			logger.Warn("Asker degraded for session %s: %v", state.SessionID, err)
		} else if q := strings.TrimSpace(out.Question); q != "" && !alreadyAsked(state, q) {
			question = q
		}

		if question == "" {
			question = fallbackQuestion(state)
		}

		return &session.Update{
			AskQuestion:  question,
			Response:     question,
			NeedMoreInfo: session.BoolPtr(true),
		}, nil
	}
}

func alreadyAsked(state *session.State, question string) bool {
	for _, asked := range state.AskedQuestions {
		if strings.EqualFold(strings.TrimSpace(asked), question) {
			return true
		}
	}
	return false
}

// fallbackQuestion picks a canned question for the first missing critical
// field not yet asked about.
func fallbackQuestion(state *session.State) string {
	for _, field := range state.MissingCriticalFields() {
		if q, ok := fallbackQuestions[field]; ok && !alreadyAsked(state, q) {
			return q
		}
	}
	return fmt.Sprintf("Could you share more detail about the requirements? (%d of %d fields captured)",
		len(session.CriticalProfileFields())-len(state.MissingCriticalFields()),
		len(session.CriticalProfileFields()))
}
