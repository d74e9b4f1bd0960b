package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"specsmith/pkg/cache"
	"specsmith/pkg/contextmgr"
	"specsmith/pkg/llm"
	"specsmith/pkg/prompts"
	"specsmith/pkg/session"
)

func newTestDeps(t *testing.T, client llm.Client) *Deps {
	t.Helper()

	provider, err := prompts.NewProvider()
	require.NoError(t, err)
	windower, err := contextmgr.New(4000)
	require.NoError(t, err)

	manager := cache.NewManager(cache.ManagerOptions{
		Capacity:   64,
		DefaultTTL: time.Minute,
	})
	t.Cleanup(manager.Close)

	return &Deps{
		Client:       client,
		Cache:        manager,
		Prompts:      provider,
		Context:      windower,
		ModelName:    "mock",
		MaxQuestions: 5,
	}
}

// completeProfileState returns a state with every critical field filled.
func completeProfileState(stage session.Stage) *session.State {
	st := session.NewState("node-test")
	st.CurrentStage = stage
	st.Profile = map[string]any{
		session.ProfileKeyGoal:          "A booking system for small clinics",
		session.ProfileKeyTargetUsers:   "Clinic receptionists and patients",
		session.ProfileKeyCoreFunctions: []any{"book appointments", "send reminders"},
	}
	st.UserInput = "Here is what I need."
	st.AppendMessage(session.RoleUser, st.UserInput)
	return st
}

func TestExtractorMergesProfile(t *testing.T) {
	client := llm.NewMockClientWithContent(
		`{"profile": {"goal": "A booking system", "needs_auth": true}, "updated_fields": ["goal", "needs_auth"]}`)
	node := runExtractor(newTestDeps(t, client))

	st := session.NewState("s1")
	st.UserInput = "I want a booking system with logins."
	st.AppendMessage(session.RoleUser, st.UserInput)

	update, err := node(context.Background(), st)
	require.NoError(t, err)
	st.Apply(update)

	assert.Equal(t, "A booking system", st.Profile[session.ProfileKeyGoal])
	assert.Equal(t, true, st.Profile[session.ProfileKeyNeedsAuth])
}

func TestExtractorHardFails(t *testing.T) {
	client := llm.NewMockClient(nil, []error{assert.AnError})
	node := runExtractor(newTestDeps(t, client))

	st := session.NewState("s1")
	st.UserInput = "anything"
	st.AppendMessage(session.RoleUser, st.UserInput)

	_, err := node(context.Background(), st)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "profile extraction failed")
}

func TestExtractorConsumesRiskSelection(t *testing.T) {
	client := llm.NewMockClientWithContent() // any call would error
	node := runExtractor(newTestDeps(t, client))

	st := completeProfileState(session.StageRiskAnalysis)
	st.Summary.Risk = &session.RiskSummary{
		Risks:      []string{"integration risk"},
		Approaches: []string{"Build a thin adapter first", "Mock the integration"},
	}
	st.Options = st.Summary.Risk.Approaches
	st.NeedMoreInfo = true
	st.UserInput = "2"

	update, err := node(context.Background(), st)
	require.NoError(t, err)
	st.Apply(update)

	assert.Equal(t, "Mock the integration", st.Summary.Risk.SelectedApproach)
	assert.False(t, st.NeedMoreInfo)
	assert.Empty(t, st.Options)
	assert.Equal(t, 0, client.Calls(), "selection turns must not hit the model")
}

func TestExtractorConsumesTechAndMVPConfirmations(t *testing.T) {
	client := llm.NewMockClientWithContent()
	node := runExtractor(newTestDeps(t, client))

	tech := completeProfileState(session.StageTechStack)
	tech.Summary.Tech = &session.TechSummary{TechStack: []string{"Go"}}
	tech.Options = techConfirmOptions
	tech.NeedMoreInfo = true
	tech.UserInput = "confirm this stack"

	update, err := node(context.Background(), tech)
	require.NoError(t, err)
	tech.Apply(update)
	assert.True(t, tech.Summary.Tech.Confirmed)
	assert.False(t, tech.NeedMoreInfo)

	mvp := completeProfileState(session.StageMVPBoundary)
	mvp.Summary.MVP = &session.MVPSummary{MVPFeatures: []string{"book appointments"}}
	mvp.Options = mvpConfirmOptions
	mvp.NeedMoreInfo = true
	mvp.UserInput = "1"

	update, err = node(context.Background(), mvp)
	require.NoError(t, err)
	mvp.Apply(update)
	assert.True(t, mvp.Summary.MVP.Confirmed)
	assert.Equal(t, 0, client.Calls())
}

func TestExtractorDeclineReopensStage(t *testing.T) {
	client := llm.NewMockClientWithContent()
	node := runExtractor(newTestDeps(t, client))

	tech := completeProfileState(session.StageTechStack)
	tech.Summary.Tech = &session.TechSummary{TechStack: []string{"Go"}}
	tech.Options = techConfirmOptions
	tech.NeedMoreInfo = true
	tech.UserInput = "Suggest changes"

	update, err := node(context.Background(), tech)
	require.NoError(t, err)
	tech.Apply(update)
	assert.False(t, tech.Summary.Tech.Confirmed)
	assert.True(t, tech.NeedMoreInfo)
	assert.Empty(t, tech.Options, "the decline consumes the pending options")

	mvp := completeProfileState(session.StageMVPBoundary)
	mvp.Summary.MVP = &session.MVPSummary{MVPFeatures: []string{"book appointments"}}
	mvp.Options = mvpConfirmOptions
	mvp.NeedMoreInfo = true
	mvp.UserInput = "2"

	update, err = node(context.Background(), mvp)
	require.NoError(t, err)
	mvp.Apply(update)
	assert.False(t, mvp.Summary.MVP.Confirmed)
	assert.True(t, mvp.NeedMoreInfo)
	assert.Empty(t, mvp.Options)
	assert.Equal(t, 0, client.Calls())
}

func TestMatchOption(t *testing.T) {
	options := []string{"Build a thin adapter first", "Mock the integration"}

	assert.Equal(t, "Mock the integration", matchOption("2", options))
	assert.Equal(t, "Build a thin adapter first", matchOption("build a thin adapter first", options))
	assert.Equal(t, "something else entirely", matchOption("something else entirely", options))
	assert.Equal(t, "7", matchOption("7", options), "out-of-range index is taken verbatim")
}

func TestPlannerForcesAdvanceAfterQuestionBudget(t *testing.T) {
	client := llm.NewMockClientWithContent()
	node := runPlanner(newTestDeps(t, client))

	st := completeProfileState(session.StageTechStack)
	st.AskedQuestions = []string{"q1", "q2", "q3", "q4", "q5"}

	update, err := node(context.Background(), st)
	require.NoError(t, err)
	st.Apply(update)

	assert.Equal(t, session.StageMVPBoundary, st.CurrentStage)
	assert.Equal(t, 80, st.Completeness)
	assert.False(t, st.NeedMoreInfo)
	assert.Equal(t, 0, client.Calls(), "the forced advance is deterministic")
}

func TestPlannerBudgetGuardSkippedWhenSummaryRecorded(t *testing.T) {
	client := llm.NewMockClientWithContent()
	node := runPlanner(newTestDeps(t, client))

	st := completeProfileState(session.StageMVPBoundary)
	st.Summary.MVP = &session.MVPSummary{MVPFeatures: []string{"book appointments"}}
	st.AskedQuestions = []string{"q1", "q2", "q3", "q4", "q5"}

	update, err := node(context.Background(), st)
	require.NoError(t, err)
	st.Apply(update)

	assert.Equal(t, session.StageMVPBoundary, st.CurrentStage,
		"a stage awaiting confirmation is not bumped past its dispatch point")
	assert.Equal(t, 0, client.Calls())
}

func TestPlannerBudgetGuardIgnoredPastMVPBoundary(t *testing.T) {
	client := llm.NewMockClientWithContent()
	node := runPlanner(newTestDeps(t, client))

	st := completeProfileState(session.StageDocumentGeneration)
	st.AskedQuestions = []string{"q1", "q2", "q3", "q4", "q5"}

	update, err := node(context.Background(), st)
	require.NoError(t, err)
	st.Apply(update)

	assert.Equal(t, session.StageDocumentGeneration, st.CurrentStage)
}

func TestPlannerResetsOnMissingCriticalFields(t *testing.T) {
	client := llm.NewMockClientWithContent()
	node := runPlanner(newTestDeps(t, client))

	st := completeProfileState(session.StageTechStack)
	delete(st.Profile, session.ProfileKeyTargetUsers)

	update, err := node(context.Background(), st)
	require.NoError(t, err)
	st.Apply(update)

	assert.Equal(t, session.StageRequirementCollection, st.CurrentStage)
	assert.True(t, st.NeedMoreInfo)
	assert.Equal(t, []string{session.ProfileKeyTargetUsers}, st.MissingFields)
	assert.Equal(t, 0, client.Calls(), "the reset is deterministic")
}

func TestPlannerAsksModelDuringCollection(t *testing.T) {
	client := llm.NewMockClientWithContent(
		`{"need_more_info": true, "missing_fields": ["core_functions"], "reason": "functions too vague"}`)
	node := runPlanner(newTestDeps(t, client))

	st := completeProfileState(session.StageRequirementCollection)

	update, err := node(context.Background(), st)
	require.NoError(t, err)
	st.Apply(update)

	assert.True(t, st.NeedMoreInfo)
	assert.Equal(t, []string{"core_functions"}, st.MissingFields)
	assert.Equal(t, 100, st.Completeness)
}

func TestPlannerDegradesToProceeding(t *testing.T) {
	client := llm.NewMockClient(nil, []error{assert.AnError})
	node := runPlanner(newTestDeps(t, client))

	st := completeProfileState(session.StageInit)

	update, err := node(context.Background(), st)
	require.NoError(t, err, "planner failures must not abort the turn")
	st.Apply(update)

	assert.Equal(t, session.StageRequirementCollection, st.CurrentStage)
	assert.False(t, st.NeedMoreInfo)
}

func TestAskerAppendsOneQuestion(t *testing.T) {
	client := llm.NewMockClientWithContent(`{"question": "What budget do you have in mind?"}`)
	node := runAsker(newTestDeps(t, client))

	st := completeProfileState(session.StageRequirementCollection)
	st.AskedQuestions = []string{"Who are the users?"}

	update, err := node(context.Background(), st)
	require.NoError(t, err)
	st.Apply(update)

	assert.Equal(t, []string{"Who are the users?", "What budget do you have in mind?"}, st.AskedQuestions)
	assert.Equal(t, "What budget do you have in mind?", st.Response)
	assert.True(t, st.NeedMoreInfo)
}

func TestAskerFallsBackWhenModelFails(t *testing.T) {
	client := llm.NewMockClient(nil, []error{assert.AnError})
	node := runAsker(newTestDeps(t, client))

	st := session.NewState("s1")
	st.UserInput = "make me an app"
	st.AppendMessage(session.RoleUser, st.UserInput)
	st.CurrentStage = session.StageRequirementCollection
	st.MissingFields = st.MissingCriticalFields()

	update, err := node(context.Background(), st)
	require.NoError(t, err)
	st.Apply(update)

	require.Len(t, st.AskedQuestions, 1)
	assert.Equal(t, fallbackQuestions[session.ProfileKeyGoal], st.AskedQuestions[0])
}

func TestAskerFallbackSkipsRepeatedQuestion(t *testing.T) {
	client := llm.NewMockClientWithContent(`{"question": "Who are the primary users of this product?"}`)
	node := runAsker(newTestDeps(t, client))

	st := session.NewState("s1")
	st.UserInput = "make me an app"
	st.AppendMessage(session.RoleUser, st.UserInput)
	st.CurrentStage = session.StageRequirementCollection
	st.AskedQuestions = []string{"Who are the primary users of this product?"}

	update, err := node(context.Background(), st)
	require.NoError(t, err)

	assert.NotEqual(t, st.AskedQuestions[0], update.AskQuestion)
	assert.NotEmpty(t, update.AskQuestion)
}

func TestRiskAnalystRecordsSummaryAndOptions(t *testing.T) {
	client := llm.NewMockClientWithContent(
		`{"risks": ["calendar sync is hard"], "approaches": ["Use a sync service", "Build polling first"]}`)
	node := runRiskAnalyst(newTestDeps(t, client))

	st := completeProfileState(session.StageRequirementCollection)

	update, err := node(context.Background(), st)
	require.NoError(t, err)
	st.Apply(update)

	assert.Equal(t, session.StageRiskAnalysis, st.CurrentStage)
	assert.Equal(t, []string{"calendar sync is hard"}, st.Summary.Risk.Risks)
	assert.Equal(t, []string{"Use a sync service", "Build polling first"}, st.Options)
	assert.True(t, st.NeedMoreInfo)
	assert.Contains(t, st.Response, "calendar sync is hard")
}

func TestRiskAnalystDegradesForward(t *testing.T) {
	client := llm.NewMockClient(nil, []error{assert.AnError})
	node := runRiskAnalyst(newTestDeps(t, client))

	st := completeProfileState(session.StageRequirementCollection)

	update, err := node(context.Background(), st)
	require.NoError(t, err, "continuation nodes must not abort the turn")
	st.Apply(update)

	assert.Equal(t, session.StageTechStack, st.CurrentStage)
	assert.False(t, st.NeedMoreInfo)
	assert.NotEmpty(t, st.Response)
}

func TestTechAdvisorRecordsStack(t *testing.T) {
	client := llm.NewMockClientWithContent(
		`{"tech_stack": ["Go", "PostgreSQL", "HTMX"], "reasoning": "Boring and proven."}`)
	node := runTechAdvisor(newTestDeps(t, client))

	st := completeProfileState(session.StageRiskAnalysis)

	update, err := node(context.Background(), st)
	require.NoError(t, err)
	st.Apply(update)

	assert.Equal(t, session.StageTechStack, st.CurrentStage)
	assert.Equal(t, []string{"Go", "PostgreSQL", "HTMX"}, st.Summary.Tech.TechStack)
	assert.Equal(t, "Boring and proven.", st.Summary.Tech.Reasoning)
	assert.Equal(t, techConfirmOptions, st.Options)
	assert.True(t, st.NeedMoreInfo)
}

func TestTechAdvisorDegradesForward(t *testing.T) {
	client := llm.NewMockClientWithContent(`not json at all`)
	node := runTechAdvisor(newTestDeps(t, client))

	st := completeProfileState(session.StageRiskAnalysis)

	update, err := node(context.Background(), st)
	require.NoError(t, err)
	st.Apply(update)

	assert.Equal(t, session.StageMVPBoundary, st.CurrentStage)
	assert.False(t, st.NeedMoreInfo)
}

func TestMVPBoundarySplitsScope(t *testing.T) {
	client := llm.NewMockClientWithContent(
		`{"mvp_features": ["book appointments"], "later_features": ["send reminders"]}`)
	node := runMVPBoundary(newTestDeps(t, client))

	st := completeProfileState(session.StageTechStack)

	update, err := node(context.Background(), st)
	require.NoError(t, err)
	st.Apply(update)

	assert.Equal(t, session.StageMVPBoundary, st.CurrentStage)
	assert.Equal(t, []string{"book appointments"}, st.Summary.MVP.MVPFeatures)
	assert.Equal(t, []string{"send reminders"}, st.Summary.MVP.LaterFeatures)
	assert.True(t, st.NeedMoreInfo)
}

func TestMVPBoundaryDegradesToCoreFunctions(t *testing.T) {
	client := llm.NewMockClient(nil, []error{assert.AnError})
	node := runMVPBoundary(newTestDeps(t, client))

	st := completeProfileState(session.StageTechStack)

	update, err := node(context.Background(), st)
	require.NoError(t, err)
	st.Apply(update)

	assert.Equal(t, []string{"book appointments", "send reminders"}, st.Summary.MVP.MVPFeatures)
	assert.False(t, st.NeedMoreInfo, "the degraded path must let routing reach spec generation")
}

func TestSpecGeneratorCompletesSession(t *testing.T) {
	client := llm.NewMockClientWithContent("# Clinic Booking System\n\nFull requirement document.")
	node := runSpecGenerator(newTestDeps(t, client))

	st := completeProfileState(session.StageMVPBoundary)
	st.Summary.MVP = &session.MVPSummary{MVPFeatures: []string{"book appointments"}, Confirmed: true}

	update, err := node(context.Background(), st)
	require.NoError(t, err)
	st.Apply(update)

	assert.Equal(t, session.StageCompleted, st.CurrentStage)
	assert.True(t, st.Stop)
	assert.Contains(t, st.FinalSpec, "# Clinic Booking System")
	assert.Equal(t, st.FinalSpec, st.Summary.Document.Document)
	assert.False(t, st.Summary.Document.GeneratedAt.IsZero())
}

func TestSpecGeneratorFallbackSkeletonStillCompletes(t *testing.T) {
	client := llm.NewMockClient(nil, []error{assert.AnError})
	node := runSpecGenerator(newTestDeps(t, client))

	st := completeProfileState(session.StageMVPBoundary)
	st.Summary.Risk = &session.RiskSummary{Risks: []string{"sync risk"}, SelectedApproach: "Build polling first"}
	st.Summary.Tech = &session.TechSummary{TechStack: []string{"Go"}}
	st.Summary.MVP = &session.MVPSummary{MVPFeatures: []string{"book appointments"}}

	update, err := node(context.Background(), st)
	require.NoError(t, err)
	st.Apply(update)

	assert.True(t, st.Stop)
	assert.Equal(t, session.StageCompleted, st.CurrentStage)
	assert.Contains(t, st.FinalSpec, "A booking system for small clinics")
	assert.Contains(t, st.FinalSpec, "sync risk")
	assert.Contains(t, st.FinalSpec, "Build polling first")
}
