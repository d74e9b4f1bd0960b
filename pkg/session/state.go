package session

import (
	"fmt"
	"time"
)

// Profile field keys. Goal, target users, and core functions are the critical
// fields: completeness is computed strictly from their presence, and a state
// missing any of them is reset to REQUIREMENT_COLLECTION by the planner.
const (
	ProfileKeyGoal          = "goal"
	ProfileKeyTargetUsers   = "target_users"
	ProfileKeyCoreFunctions = "core_functions"
	ProfileKeyNeedsAuth     = "needs_auth"
	ProfileKeyNeedsPayment  = "needs_payment"
	ProfileKeyNeedsRealtime = "needs_realtime"
)

// CriticalProfileFields lists the fields that must be present before the
// pipeline advances past requirement collection.
func CriticalProfileFields() []string {
	return []string{ProfileKeyGoal, ProfileKeyTargetUsers, ProfileKeyCoreFunctions}
}

// MessageRole tags entries in the conversation log.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message is one entry in the append-only conversation log.
type Message struct {
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
}

// RiskSummary is the RISK_ANALYSIS stage result.
type RiskSummary struct {
	Risks            []string `json:"risks,omitempty"`
	Approaches       []string `json:"approaches,omitempty"`
	SelectedApproach string   `json:"selected_approach,omitempty"`
}

// TechSummary is the TECH_STACK stage result.
type TechSummary struct {
	TechStack []string `json:"tech_stack,omitempty"`
	Reasoning string   `json:"reasoning,omitempty"`
	Confirmed bool     `json:"confirmed,omitempty"`
}

// MVPSummary is the MVP_BOUNDARY stage result.
type MVPSummary struct {
	MVPFeatures   []string `json:"mvp_features,omitempty"`
	LaterFeatures []string `json:"later_features,omitempty"`
	Confirmed     bool     `json:"confirmed,omitempty"`
}

// DocumentSummary is the DOCUMENT_GENERATION stage result.
type DocumentSummary struct {
	Document    string    `json:"document,omitempty"`
	GeneratedAt time.Time `json:"generated_at,omitempty"`
}

// Summary holds one typed record per stage. A nil pointer means the stage has
// not produced output yet; once written, a record is only extended.
type Summary struct {
	Risk     *RiskSummary     `json:"risk,omitempty"`
	Tech     *TechSummary     `json:"tech,omitempty"`
	MVP      *MVPSummary      `json:"mvp,omitempty"`
	Document *DocumentSummary `json:"document,omitempty"`
}

// State is the mutable record threaded through every pipeline step, one per
// conversation thread.
//
//nolint:govet // Field order mirrors the lifecycle, not alignment
type State struct {
	SessionID    string         `json:"session_id"`
	CurrentStage Stage          `json:"current_stage"`
	Completeness int            `json:"completeness"`
	Profile      map[string]any `json:"profile"`
	Summary      Summary        `json:"summary"`
	Messages     []Message      `json:"messages"`

	UserInput string   `json:"user_input,omitempty"`
	Response  string   `json:"response,omitempty"`
	Options   []string `json:"options,omitempty"`

	NeedMoreInfo   bool     `json:"need_more_info"`
	MissingFields  []string `json:"missing_fields,omitempty"`
	AskedQuestions []string `json:"asked_questions,omitempty"`

	Stop      bool   `json:"stop"`
	FinalSpec string `json:"final_spec,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewState creates the default state for the first turn of a new thread.
func NewState(sessionID string) *State {
	now := time.Now().UTC()
	return &State{
		SessionID:    sessionID,
		CurrentStage: StageInit,
		Profile:      make(map[string]any),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Clone returns a deep copy of the state. Nodes receive clones so a failed
// invocation cannot leave half-applied mutations behind.
func (s *State) Clone() *State {
	out := *s
	out.Profile = make(map[string]any, len(s.Profile))
	for k, v := range s.Profile {
		out.Profile[k] = v
	}
	out.Messages = append([]Message(nil), s.Messages...)
	out.Options = append([]string(nil), s.Options...)
	out.MissingFields = append([]string(nil), s.MissingFields...)
	out.AskedQuestions = append([]string(nil), s.AskedQuestions...)
	if s.Summary.Risk != nil {
		risk := *s.Summary.Risk
		risk.Risks = append([]string(nil), s.Summary.Risk.Risks...)
		risk.Approaches = append([]string(nil), s.Summary.Risk.Approaches...)
		out.Summary.Risk = &risk
	}
	if s.Summary.Tech != nil {
		tech := *s.Summary.Tech
		tech.TechStack = append([]string(nil), s.Summary.Tech.TechStack...)
		out.Summary.Tech = &tech
	}
	if s.Summary.MVP != nil {
		mvp := *s.Summary.MVP
		mvp.MVPFeatures = append([]string(nil), s.Summary.MVP.MVPFeatures...)
		mvp.LaterFeatures = append([]string(nil), s.Summary.MVP.LaterFeatures...)
		out.Summary.MVP = &mvp
	}
	if s.Summary.Document != nil {
		doc := *s.Summary.Document
		out.Summary.Document = &doc
	}
	return &out
}

// AppendMessage adds one entry to the conversation log.
func (s *State) AppendMessage(role MessageRole, content string) {
	s.Messages = append(s.Messages, Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	})
}

// ComputeCompleteness derives the 0-100 completeness score strictly from how
// many critical profile fields are filled.
func (s *State) ComputeCompleteness() int {
	required := CriticalProfileFields()
	filled := 0
	for _, key := range required {
		if hasProfileValue(s.Profile, key) {
			filled++
		}
	}
	return filled * 100 / len(required)
}

// MissingCriticalFields returns the critical fields absent from the profile.
func (s *State) MissingCriticalFields() []string {
	var missing []string
	for _, key := range CriticalProfileFields() {
		if !hasProfileValue(s.Profile, key) {
			missing = append(missing, key)
		}
	}
	return missing
}

func hasProfileValue(profile map[string]any, key string) bool {
	v, ok := profile[key]
	if !ok || v == nil {
		return false
	}
	switch tv := v.(type) {
	case string:
		return tv != ""
	case []string:
		return len(tv) > 0
	case []any:
		return len(tv) > 0
	default:
		return true
	}
}

// Validate checks the stage contract and counter ranges of a loaded state.
func (s *State) Validate() error {
	if s.SessionID == "" {
		return fmt.Errorf("state has empty session ID")
	}
	if !s.CurrentStage.IsValid() {
		return fmt.Errorf("%w: %q (session %s)", ErrUnknownStage, s.CurrentStage, s.SessionID)
	}
	if s.Completeness < 0 || s.Completeness > 100 {
		return fmt.Errorf("completeness %d out of range for session %s", s.Completeness, s.SessionID)
	}
	return nil
}
