// Package session defines the conversation state threaded through the
// requirement-interview pipeline: the stage order, the profile and summary
// records, and the partial-update merge semantics.
package session

import (
	"fmt"
)

// Stage is one step in the fixed requirement-to-specification pipeline.
type Stage string

// Pipeline stages in their fixed total order. The ordinals below are a
// versioned contract: persisted states referencing a retired stage must be
// treated as a migration concern, never silently coerced.
const (
	StageInit                  Stage = "INIT"
	StageRequirementCollection Stage = "REQUIREMENT_COLLECTION"
	StageRiskAnalysis          Stage = "RISK_ANALYSIS"
	StageTechStack             Stage = "TECH_STACK"
	StageMVPBoundary           Stage = "MVP_BOUNDARY"
	StageDiagramDesign         Stage = "DIAGRAM_DESIGN"
	StageDocumentGeneration    Stage = "DOCUMENT_GENERATION"
	StageCompleted             Stage = "COMPLETED"
)

//nolint:gochecknoglobals // Fixed ordinal table for the versioned stage contract
var stageOrdinals = map[Stage]int{
	StageInit:                  0,
	StageRequirementCollection: 1,
	StageRiskAnalysis:          2,
	StageTechStack:             3,
	StageMVPBoundary:           4,
	StageDiagramDesign:         5,
	StageDocumentGeneration:    6,
	StageCompleted:             7,
}

// ErrUnknownStage indicates a stage value outside the versioned contract.
var ErrUnknownStage = fmt.Errorf("unknown stage")

// Ordinal returns the position of the stage in the fixed order, or -1 for
// stages outside the contract.
func (s Stage) Ordinal() int {
	if ord, ok := stageOrdinals[s]; ok {
		return ord
	}
	return -1
}

// IsValid reports whether the stage is part of the versioned contract.
func (s Stage) IsValid() bool {
	_, ok := stageOrdinals[s]
	return ok
}

// Before reports whether s comes strictly before other in the fixed order.
func (s Stage) Before(other Stage) bool {
	return s.Ordinal() < other.Ordinal()
}

// Next returns the stage one step forward in the fixed order. COMPLETED is a
// fixed point.
func (s Stage) Next() Stage {
	switch s {
	case StageInit:
		return StageRequirementCollection
	case StageRequirementCollection:
		return StageRiskAnalysis
	case StageRiskAnalysis:
		return StageTechStack
	case StageTechStack:
		return StageMVPBoundary
	case StageMVPBoundary:
		return StageDiagramDesign
	case StageDiagramDesign:
		return StageDocumentGeneration
	case StageDocumentGeneration:
		return StageCompleted
	default:
		return StageCompleted
	}
}

// ParseStage validates a persisted stage string against the contract.
func ParseStage(raw string) (Stage, error) {
	s := Stage(raw)
	if !s.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStage, raw)
	}
	return s, nil
}

// AllStages returns the stages in their fixed order.
func AllStages() []Stage {
	return []Stage{
		StageInit,
		StageRequirementCollection,
		StageRiskAnalysis,
		StageTechStack,
		StageMVPBoundary,
		StageDiagramDesign,
		StageDocumentGeneration,
		StageCompleted,
	}
}
