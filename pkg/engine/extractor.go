package engine

import (
	"context"
	"strconv"
	"strings"

	"specsmith/pkg/logx"
	"specsmith/pkg/session"
)

type extractorOutput struct {
	Profile       map[string]any `json:"profile"`
	UpdatedFields []string       `json:"updated_fields"`
}

// runExtractor merges profile fields out of the latest user input. When the
// previous turn presented options and the pipeline is paused on a selection,
// the input is consumed as that selection instead of going to the model.
//
// Unlike every other node, the extractor propagates errors: with no profile
// delta the rest of the pipeline would plan against a state the user just
// contradicted, so failing the invocation is safer than degrading.
func runExtractor(deps *Deps) func(ctx context.Context, state *session.State) (*session.Update, error) {
	return func(ctx context.Context, state *session.State) (*session.Update, error) {
		if update, ok := consumeSelection(state); ok {
			return update, nil
		}

		var out extractorOutput
		if err := deps.completeJSON(ctx, string(NodeExtractor), state, &out); err != nil {
			return nil, logx.Wrap(err, "profile extraction failed")
		}
		return &session.Update{Profile: out.Profile}, nil
	}
}

// consumeSelection resolves an awaiting-selection turn: the pipeline paused
// with options on the table, and the new user input picks one.
func consumeSelection(state *session.State) (*session.Update, bool) {
	if !state.NeedMoreInfo || len(state.Options) == 0 {
		return nil, false
	}

	selected := matchOption(state.UserInput, state.Options)

	switch state.CurrentStage {
	case session.StageRiskAnalysis:
		return &session.Update{
			Risk:         &session.RiskSummary{SelectedApproach: selected},
			Options:      []string{},
			NeedMoreInfo: session.BoolPtr(false),
		}, true
	case session.StageTechStack:
		// Anything other than an explicit confirmation is a revision request:
		// the options are consumed, but the advisor re-runs with the user's
		// feedback instead of the stage settling.
		if selected != techConfirmOptions[0] {
			return &session.Update{
				Options:      []string{},
				NeedMoreInfo: session.BoolPtr(true),
			}, true
		}
		return &session.Update{
			Tech:         &session.TechSummary{Confirmed: true},
			Options:      []string{},
			NeedMoreInfo: session.BoolPtr(false),
		}, true
	case session.StageMVPBoundary:
		if selected != mvpConfirmOptions[0] {
			return &session.Update{
				Options:      []string{},
				NeedMoreInfo: session.BoolPtr(true),
			}, true
		}
		return &session.Update{
			MVP:          &session.MVPSummary{Confirmed: true},
			Options:      []string{},
			NeedMoreInfo: session.BoolPtr(false),
		}, true
	default:
		return nil, false
	}
}

// matchOption resolves user input against the presented options: exact text
// (case-insensitive) or a 1-based index. Unmatched input is taken verbatim, a
// free-form answer is still an answer.
func matchOption(input string, options []string) string {
	trimmed := strings.TrimSpace(input)
	for _, opt := range options {
		if strings.EqualFold(trimmed, strings.TrimSpace(opt)) {
			return opt
		}
	}
	if n, err := strconv.Atoi(trimmed); err == nil && n >= 1 && n <= len(options) {
		return options[n-1]
	}
	return trimmed
}
