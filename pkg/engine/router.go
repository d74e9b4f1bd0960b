package engine

import (
	"specsmith/pkg/session"
)

// NodeName identifies a stage node in the fixed graph.
type NodeName string

// Node names. These match the agent types in the prompt manifest.
const (
	NodeExtractor     NodeName = "extractor"
	NodePlanner       NodeName = "planner"
	NodeAsker         NodeName = "asker"
	NodeRiskAnalyst   NodeName = "risk_analyst"
	NodeTechAdvisor   NodeName = "tech_advisor"
	NodeMVPBoundary   NodeName = "mvp_boundary"
	NodeSpecGenerator NodeName = "spec_generator"

	// Terminate ends the invocation and returns control to the caller.
	Terminate NodeName = "TERMINATE"
)

// Route picks the next node from the current state. It is a pure function of
// the state: no I/O, no mutation, so the decision table can be tested
// exhaustively.
//
// The per-stage pattern for the middle stages is: summary absent, run the
// stage node; summary present and more input needed, terminate and await the
// user's selection; summary present and settled, advance to the next stage's
// node.
func Route(state *session.State) NodeName {
	if state.Stop {
		return Terminate
	}

	switch state.CurrentStage {
	case session.StageInit, session.StageRequirementCollection:
		if state.NeedMoreInfo {
			return NodeAsker
		}
		return NodeRiskAnalyst

	case session.StageRiskAnalysis:
		if !riskRecorded(state) {
			return NodeRiskAnalyst
		}
		if state.NeedMoreInfo {
			return Terminate
		}
		return NodeTechAdvisor

	case session.StageTechStack:
		if !techRecorded(state) {
			return NodeTechAdvisor
		}
		if state.NeedMoreInfo {
			// Options pending means the turn ends awaiting the user's choice;
			// options consumed with the recommendation declined means the
			// advisor re-runs against the revision request.
			if len(state.Options) > 0 {
				return Terminate
			}
			return NodeTechAdvisor
		}
		return NodeMVPBoundary

	case session.StageMVPBoundary:
		if !mvpRecorded(state) {
			return NodeMVPBoundary
		}
		if state.NeedMoreInfo {
			if len(state.Options) > 0 {
				return Terminate
			}
			return NodeMVPBoundary
		}
		return NodeSpecGenerator

	case session.StageDiagramDesign, session.StageDocumentGeneration, session.StageCompleted:
		return Terminate

	default:
		// Unknown stage: fall back to asking rather than guessing a pipeline
		// position.
		return NodeAsker
	}
}

func riskRecorded(state *session.State) bool {
	risk := state.Summary.Risk
	return risk != nil && len(risk.Risks) > 0
}

func techRecorded(state *session.State) bool {
	tech := state.Summary.Tech
	return tech != nil && (len(tech.TechStack) > 0 || tech.Reasoning != "")
}

func mvpRecorded(state *session.State) bool {
	mvp := state.Summary.MVP
	return mvp != nil && len(mvp.MVPFeatures) > 0
}

// stageSummaryRecorded reports whether the current stage has already produced
// its summary, meaning the stage is awaiting confirmation rather than still
// gathering input.
func stageSummaryRecorded(state *session.State) bool {
	switch state.CurrentStage {
	case session.StageRiskAnalysis:
		return riskRecorded(state)
	case session.StageTechStack:
		return techRecorded(state)
	case session.StageMVPBoundary:
		return mvpRecorded(state)
	default:
		return false
	}
}
