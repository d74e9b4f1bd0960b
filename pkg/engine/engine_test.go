package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"specsmith/pkg/checkpoint"
	"specsmith/pkg/llm"
	"specsmith/pkg/session"
)

func newTestEngine(t *testing.T, client llm.Client) (*Engine, checkpoint.Store) {
	t.Helper()
	store, err := checkpoint.NewFileStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return New(newTestDeps(t, client), store), store
}

func TestRunWorkflowVagueInputAsksQuestion(t *testing.T) {
	client := llm.NewMockClientWithContent(
		`{"profile": {}, "updated_fields": []}`,
		`{"question": "What problem should this solve?"}`,
	)
	eng, store := newTestEngine(t, client)

	state, err := eng.RunWorkflow(context.Background(), "vague-1", "make me an app")
	require.NoError(t, err)

	assert.Equal(t, session.StageRequirementCollection, state.CurrentStage)
	assert.True(t, state.NeedMoreInfo)
	assert.Equal(t, []string{"What problem should this solve?"}, state.AskedQuestions)
	assert.Equal(t, "What problem should this solve?", state.Response)
	assert.ElementsMatch(t, session.CriticalProfileFields(), state.MissingFields)

	// The question turn is checkpointed and carries both sides of the exchange.
	saved, err := store.Get(context.Background(), "vague-1")
	require.NoError(t, err)
	require.Len(t, saved.Messages, 2)
	assert.Equal(t, session.RoleUser, saved.Messages[0].Role)
	assert.Equal(t, session.RoleAssistant, saved.Messages[1].Role)
	assert.Equal(t, state.Response, saved.Messages[1].Content)
}

func TestRunWorkflowCompleteInputReachesRiskAnalysis(t *testing.T) {
	client := llm.NewMockClientWithContent(
		`{"profile": {"goal": "Clinic booking", "target_users": "Receptionists", "core_functions": ["book", "remind"]}}`,
		`{"need_more_info": false, "missing_fields": [], "reason": "profile is concrete"}`,
		`{"risks": ["calendar sync"], "approaches": ["Sync service", "Polling"]}`,
	)
	eng, _ := newTestEngine(t, client)

	state, err := eng.RunWorkflow(context.Background(), "full-1",
		"I need a clinic booking system for receptionists that books and reminds.")
	require.NoError(t, err)

	assert.Equal(t, session.StageRiskAnalysis, state.CurrentStage)
	assert.Equal(t, 100, state.Completeness)
	assert.Equal(t, []string{"calendar sync"}, state.Summary.Risk.Risks)
	assert.Equal(t, []string{"Sync service", "Polling"}, state.Options)
	assert.True(t, state.NeedMoreInfo, "the turn ends awaiting an approach selection")
	assert.Equal(t, 3, client.Calls())
}

// awaitingRiskState is a session paused on a risk-approach selection.
func awaitingRiskState(sessionID string) *session.State {
	st := completeProfileState(session.StageRiskAnalysis)
	st.SessionID = sessionID
	st.Completeness = 100
	st.Summary.Risk = &session.RiskSummary{
		Risks:      []string{"calendar sync"},
		Approaches: []string{"Sync service", "Polling"},
	}
	st.Options = st.Summary.Risk.Approaches
	st.NeedMoreInfo = true
	return st
}

func TestContinueWorkflowConsumesSelection(t *testing.T) {
	client := llm.NewMockClientWithContent(
		`{"tech_stack": ["Go", "PostgreSQL"], "reasoning": "Boring and proven."}`,
	)
	eng, store := newTestEngine(t, client)
	require.NoError(t, store.Put(context.Background(), awaitingRiskState("resume-1")))

	state, err := eng.ContinueWorkflow(context.Background(), "resume-1", "2")
	require.NoError(t, err)

	assert.Equal(t, "Polling", state.Summary.Risk.SelectedApproach)
	assert.Equal(t, session.StageTechStack, state.CurrentStage)
	assert.Equal(t, []string{"Go", "PostgreSQL"}, state.Summary.Tech.TechStack)
	assert.True(t, state.NeedMoreInfo, "now awaiting stack confirmation")
	assert.Equal(t, 1, client.Calls(), "selection and planning are deterministic")
}

func TestContinueWorkflowForcesAdvanceAfterQuestionBudget(t *testing.T) {
	client := llm.NewMockClientWithContent(
		`{"profile": {}}`,
		`{"mvp_features": ["book appointments"], "later_features": ["reminders"]}`,
	)
	eng, store := newTestEngine(t, client)

	st := completeProfileState(session.StageTechStack)
	st.SessionID = "budget-1"
	delete(st.Profile, session.ProfileKeyCoreFunctions)
	st.AskedQuestions = []string{"q1", "q2", "q3", "q4", "q5"}
	st.NeedMoreInfo = true
	require.NoError(t, store.Put(context.Background(), st))

	state, err := eng.ContinueWorkflow(context.Background(), "budget-1", "I really can't say more.")
	require.NoError(t, err)

	assert.Equal(t, session.StageMVPBoundary, state.CurrentStage)
	assert.Equal(t, 80, state.Completeness)
	assert.Equal(t, []string{"book appointments"}, state.Summary.MVP.MVPFeatures)
	assert.True(t, state.NeedMoreInfo, "awaiting scope confirmation")
}

func TestContinueWorkflowGeneratesFinalDocument(t *testing.T) {
	client := llm.NewMockClientWithContent("# Clinic Booking System\n\nThe full document.")
	eng, store := newTestEngine(t, client)

	st := completeProfileState(session.StageMVPBoundary)
	st.SessionID = "final-1"
	st.Summary.MVP = &session.MVPSummary{MVPFeatures: []string{"book appointments"}}
	st.Options = mvpConfirmOptions
	st.NeedMoreInfo = true
	require.NoError(t, store.Put(context.Background(), st))

	state, err := eng.ContinueWorkflow(context.Background(), "final-1", "Confirm this scope")
	require.NoError(t, err)

	assert.Equal(t, session.StageCompleted, state.CurrentStage)
	assert.True(t, state.Stop)
	assert.True(t, state.Summary.MVP.Confirmed)
	assert.Contains(t, state.FinalSpec, "# Clinic Booking System")

	saved, err := store.Get(context.Background(), "final-1")
	require.NoError(t, err)
	assert.Equal(t, state.FinalSpec, saved.FinalSpec)
	assert.True(t, saved.Stop)
}

func TestContinueWorkflowConfirmsScopeAfterQuestionBudget(t *testing.T) {
	client := llm.NewMockClientWithContent("# Clinic Booking System\n\nThe full document.")
	eng, store := newTestEngine(t, client)

	st := completeProfileState(session.StageMVPBoundary)
	st.SessionID = "budget-2"
	st.Summary.MVP = &session.MVPSummary{MVPFeatures: []string{"book appointments"}}
	st.Options = mvpConfirmOptions
	st.NeedMoreInfo = true
	st.AskedQuestions = []string{"q1", "q2", "q3", "q4", "q5"}
	require.NoError(t, store.Put(context.Background(), st))

	state, err := eng.ContinueWorkflow(context.Background(), "budget-2", "Confirm this scope")
	require.NoError(t, err)

	// An exhausted question budget must not push the confirmation turn past
	// the document generator.
	assert.Equal(t, session.StageCompleted, state.CurrentStage)
	assert.True(t, state.Stop)
	assert.Contains(t, state.FinalSpec, "# Clinic Booking System")
	assert.NotEmpty(t, state.Response)
	assert.Equal(t, 1, client.Calls())
}

func TestContinueWorkflowRevisesDeclinedStack(t *testing.T) {
	client := llm.NewMockClientWithContent(
		`{"tech_stack": ["Go", "SQLite"], "reasoning": "Simpler to operate."}`,
	)
	eng, store := newTestEngine(t, client)

	st := completeProfileState(session.StageTechStack)
	st.SessionID = "revise-1"
	st.Summary.Tech = &session.TechSummary{TechStack: []string{"Go", "PostgreSQL"}}
	st.Options = techConfirmOptions
	st.NeedMoreInfo = true
	require.NoError(t, store.Put(context.Background(), st))

	state, err := eng.ContinueWorkflow(context.Background(), "revise-1", "Suggest changes")
	require.NoError(t, err)

	assert.Equal(t, session.StageTechStack, state.CurrentStage)
	assert.False(t, state.Summary.Tech.Confirmed)
	assert.Contains(t, state.Summary.Tech.TechStack, "SQLite")
	assert.Equal(t, techConfirmOptions, state.Options, "a fresh recommendation awaits confirmation")
	assert.True(t, state.NeedMoreInfo)
	assert.Equal(t, 1, client.Calls(), "only the advisor re-runs")
}

func TestContinueWorkflowFallsBackToFreshSession(t *testing.T) {
	client := llm.NewMockClientWithContent(
		`{"profile": {}}`,
		`{"question": "What problem should this solve?"}`,
	)
	eng, _ := newTestEngine(t, client)

	state, err := eng.ContinueWorkflow(context.Background(), "never-seen", "hello")
	require.NoError(t, err)
	assert.Equal(t, "never-seen", state.SessionID)
	assert.Equal(t, session.StageRequirementCollection, state.CurrentStage)
}

func TestRunWorkflowExtractorFailureAborts(t *testing.T) {
	client := llm.NewMockClient(nil, []error{assert.AnError})
	eng, store := newTestEngine(t, client)

	_, err := eng.RunWorkflow(context.Background(), "abort-1", "hello")
	require.Error(t, err)

	_, err = store.Get(context.Background(), "abort-1")
	assert.ErrorIs(t, err, checkpoint.ErrNotFound, "a failed turn must not checkpoint")
}

// failingStore rejects writes, for the checkpoint fail-fast contract.
type failingStore struct{}

func (failingStore) Put(context.Context, *session.State) error { return assert.AnError }
func (failingStore) Get(context.Context, string) (*session.State, error) {
	return nil, checkpoint.ErrNotFound
}
func (failingStore) Delete(context.Context, string) error { return nil }
func (failingStore) List(context.Context) ([]checkpoint.SessionInfo, error) {
	return nil, nil
}
func (failingStore) Close() error { return nil }

func TestRunWorkflowCheckpointFailureFailsFast(t *testing.T) {
	client := llm.NewMockClientWithContent(
		`{"profile": {}}`,
		`{"question": "What problem should this solve?"}`,
	)
	eng := New(newTestDeps(t, client), failingStore{})

	_, err := eng.RunWorkflow(context.Background(), "ckpt-1", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checkpoint write failed")
}

func TestRunWorkflowOnStoppedSessionTerminatesImmediately(t *testing.T) {
	client := llm.NewMockClientWithContent(`{"profile": {}}`)
	eng, store := newTestEngine(t, client)

	st := completeProfileState(session.StageCompleted)
	st.SessionID = "done-1"
	st.Stop = true
	st.FinalSpec = "# Done"
	require.NoError(t, store.Put(context.Background(), st))

	state, err := eng.ContinueWorkflow(context.Background(), "done-1", "one more thing")
	require.NoError(t, err)

	assert.True(t, state.Stop)
	assert.Equal(t, session.StageCompleted, state.CurrentStage)
	assert.Empty(t, state.Response, "a completed session produces no further responses")
}
