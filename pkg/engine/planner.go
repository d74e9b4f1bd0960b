package engine

import (
	"context"

	"specsmith/pkg/session"
)

type plannerOutput struct {
	NeedMoreInfo  bool     `json:"need_more_info"`
	MissingFields []string `json:"missing_fields"`
	Reason        string   `json:"reason"`
}

// runPlanner assesses the profile after extraction and decides whether the
// interview keeps collecting or the pipeline moves on. Three rules, in
// priority order:
//
//  1. Question budget exhausted and not yet past MVP_BOUNDARY: force the
//     pipeline forward one stage with completeness pinned to 80, so a vague
//     user can never trap the interview in a question loop. The guard only
//     fires while the current stage still has work outstanding; once its
//     summary is recorded the router owns the advance, otherwise a forced
//     bump on a confirmation turn would skip past the node that should
//     dispatch next.
//  2. Critical profile fields absent: reset to REQUIREMENT_COLLECTION and
//     report what is missing.
//  3. Otherwise, during collection, ask the model whether the stated profile
//     is concrete enough to build on. A model failure here degrades to
//     proceeding, the deterministic checks above already passed.
func runPlanner(deps *Deps) func(ctx context.Context, state *session.State) (*session.Update, error) {
	logger := nodeLogger()

	return func(ctx context.Context, state *session.State) (*session.Update, error) {
		if len(state.AskedQuestions) >= deps.maxQuestions() &&
			state.CurrentStage.Ordinal() <= session.StageMVPBoundary.Ordinal() &&
			!stageSummaryRecorded(state) {
			return &session.Update{
				Stage:        state.CurrentStage.Next(),
				Completeness: session.IntPtr(80),
				NeedMoreInfo: session.BoolPtr(false),
			}, nil
		}

		missing := state.MissingCriticalFields()
		if len(missing) > 0 {
			return &session.Update{
				Stage:         session.StageRequirementCollection,
				Completeness:  session.IntPtr(state.ComputeCompleteness()),
				NeedMoreInfo:  session.BoolPtr(true),
				MissingFields: missing,
			}, nil
		}

		if state.CurrentStage != session.StageInit && state.CurrentStage != session.StageRequirementCollection {
			// Past collection with a complete profile: nothing to plan.
			return &session.Update{Completeness: session.IntPtr(state.ComputeCompleteness())}, nil
		}

		update := &session.Update{
			Stage:         session.StageRequirementCollection,
			Completeness:  session.IntPtr(state.ComputeCompleteness()),
			NeedMoreInfo:  session.BoolPtr(false),
			MissingFields: []string{},
		}

		var out plannerOutput
		if err := deps.completeJSON(ctx, string(NodePlanner), state, &out); err != nil {
			logger.Warn("Planner degraded for session %s: %v", state.SessionID, err)
			return update, nil
		}
		if out.NeedMoreInfo {
			update.NeedMoreInfo = session.BoolPtr(true)
			update.MissingFields = out.MissingFields
		}
		return update, nil
	}
}
