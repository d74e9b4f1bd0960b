package session

import (
	"time"
)

// Update is the partial state returned by a stage node. Zero-valued fields
// leave the state untouched; the engine applies updates through Apply, which
// enforces the merge invariants (stage moves forward only, stop is
// irreversible, summaries and the profile extend but never shrink).
//
//nolint:govet // Field order mirrors State, not alignment
type Update struct {
	Stage        Stage          // "" = unchanged; REQUIREMENT_COLLECTION may move backward (critical-field reset)
	Completeness *int
	Profile      map[string]any // merged key-by-key, never replaces

	Risk     *RiskSummary
	Tech     *TechSummary
	MVP      *MVPSummary
	Document *DocumentSummary

	Response      string
	Options       []string // non-nil replaces; empty non-nil clears
	NeedMoreInfo  *bool
	MissingFields []string // non-nil replaces

	AskQuestion string // appended to AskedQuestions; one per asker invocation
	UserInput   string
	Messages    []Message // appended

	Stop      bool // can only flip to true
	FinalSpec string
}

// BoolPtr is a convenience for Update.NeedMoreInfo.
func BoolPtr(v bool) *bool { return &v }

// IntPtr is a convenience for Update.Completeness.
func IntPtr(v int) *int { return &v }

// Apply merges the partial update into the state.
func (s *State) Apply(u *Update) {
	if u == nil {
		return
	}

	if u.Stage != "" && u.Stage != s.CurrentStage {
		// Forward-only, with the one sanctioned exception: an explicit reset
		// to REQUIREMENT_COLLECTION when critical profile fields are absent.
		if s.CurrentStage.Before(u.Stage) || u.Stage == StageRequirementCollection {
			s.CurrentStage = u.Stage
		}
	}

	if u.Completeness != nil {
		c := *u.Completeness
		if c < 0 {
			c = 0
		}
		if c > 100 {
			c = 100
		}
		s.Completeness = c
	}

	if len(u.Profile) > 0 {
		if s.Profile == nil {
			s.Profile = make(map[string]any, len(u.Profile))
		}
		for k, v := range u.Profile {
			if v == nil {
				continue // established fields are never deleted
			}
			s.Profile[k] = v
		}
	}

	s.Summary.Risk = mergeRisk(s.Summary.Risk, u.Risk)
	s.Summary.Tech = mergeTech(s.Summary.Tech, u.Tech)
	s.Summary.MVP = mergeMVP(s.Summary.MVP, u.MVP)
	s.Summary.Document = mergeDocument(s.Summary.Document, u.Document)

	if u.Response != "" {
		s.Response = u.Response
	}
	if u.Options != nil {
		s.Options = append([]string(nil), u.Options...)
	}
	if u.NeedMoreInfo != nil {
		s.NeedMoreInfo = *u.NeedMoreInfo
	}
	if u.MissingFields != nil {
		s.MissingFields = append([]string(nil), u.MissingFields...)
	}
	if u.AskQuestion != "" {
		s.AskedQuestions = append(s.AskedQuestions, u.AskQuestion)
	}
	if u.UserInput != "" {
		s.UserInput = u.UserInput
	}
	if len(u.Messages) > 0 {
		s.Messages = append(s.Messages, u.Messages...)
	}
	if u.Stop {
		s.Stop = true
	}
	if u.FinalSpec != "" {
		s.FinalSpec = u.FinalSpec
	}

	s.UpdatedAt = time.Now().UTC()
}

func mergeRisk(existing, incoming *RiskSummary) *RiskSummary {
	if incoming == nil {
		return existing
	}
	if existing == nil {
		clone := *incoming
		clone.Risks = append([]string(nil), incoming.Risks...)
		clone.Approaches = append([]string(nil), incoming.Approaches...)
		return &clone
	}
	existing.Risks = extendList(existing.Risks, incoming.Risks)
	existing.Approaches = extendList(existing.Approaches, incoming.Approaches)
	if incoming.SelectedApproach != "" {
		existing.SelectedApproach = incoming.SelectedApproach
	}
	return existing
}

func mergeTech(existing, incoming *TechSummary) *TechSummary {
	if incoming == nil {
		return existing
	}
	if existing == nil {
		clone := *incoming
		clone.TechStack = append([]string(nil), incoming.TechStack...)
		return &clone
	}
	existing.TechStack = extendList(existing.TechStack, incoming.TechStack)
	if incoming.Reasoning != "" {
		existing.Reasoning = incoming.Reasoning
	}
	if incoming.Confirmed {
		existing.Confirmed = true
	}
	return existing
}

func mergeMVP(existing, incoming *MVPSummary) *MVPSummary {
	if incoming == nil {
		return existing
	}
	if existing == nil {
		clone := *incoming
		clone.MVPFeatures = append([]string(nil), incoming.MVPFeatures...)
		clone.LaterFeatures = append([]string(nil), incoming.LaterFeatures...)
		return &clone
	}
	existing.MVPFeatures = extendList(existing.MVPFeatures, incoming.MVPFeatures)
	existing.LaterFeatures = extendList(existing.LaterFeatures, incoming.LaterFeatures)
	if incoming.Confirmed {
		existing.Confirmed = true
	}
	return existing
}

func mergeDocument(existing, incoming *DocumentSummary) *DocumentSummary {
	if incoming == nil {
		return existing
	}
	if existing == nil {
		clone := *incoming
		return &clone
	}
	if incoming.Document != "" {
		existing.Document = incoming.Document
	}
	if !incoming.GeneratedAt.IsZero() {
		existing.GeneratedAt = incoming.GeneratedAt
	}
	return existing
}

// extendList appends entries not already present, preserving order.
func extendList(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, v := range existing {
		seen[v] = true
	}
	for _, v := range incoming {
		if v == "" || seen[v] {
			continue
		}
		existing = append(existing, v)
		seen[v] = true
	}
	return existing
}
