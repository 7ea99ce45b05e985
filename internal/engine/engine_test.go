package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var taskOutputs = map[string]string{
	TaskRequirement:        ArtifactUserStories,
	TaskProductOwnerReview: ArtifactPOReview,
	TaskDesign:             ArtifactDesignDoc,
	TaskDesignReview:       ArtifactDesignReview,
	TaskCodeGeneration:     ArtifactCode,
	TaskCodeReview:         ArtifactCodeReview,
	TaskSecurityReview:     ArtifactSecurityReview,
	TaskTestCaseGeneration: ArtifactTestCases,
	TaskTestCaseReview:     ArtifactTestCaseReview,
	TaskQATesting:          ArtifactQAResult,
	TaskMonitoring:         ArtifactMonitoring,
	TaskMaintenance:        ArtifactMaintenance,
}

type gatewayCall struct {
	task  string
	input map[string]string
}

// scriptedGateway answers every task deterministically from its input.
type scriptedGateway struct {
	mu    sync.Mutex
	calls []gatewayCall
	fail  map[string]error
}

func (g *scriptedGateway) Invoke(_ context.Context, task string, input map[string]string) (*AgentResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	cp := make(map[string]string, len(input))
	for k, v := range input {
		cp[k] = v
	}
	g.calls = append(g.calls, gatewayCall{task: task, input: cp})
	if err := g.fail[task]; err != nil {
		return nil, err
	}

	out := task + " output"
	switch task {
	case TaskTestCaseGeneration:
		out = "tests for " + input[ArtifactCode]
		if fb, ok := input[ContextFeedback]; ok {
			out += " covering " + fb
		}
	case TaskTestCaseReview:
		out = "review of " + input[ArtifactTestCases]
	case TaskProductOwnerReview:
		out = "suggestion for " + input[ArtifactUserStories]
	}
	return &AgentResult{
		Outputs:   map[string]string{taskOutputs[task]: out},
		Model:     "scripted",
		TokensIn:  10,
		TokensOut: 5,
	}, nil
}

func (g *scriptedGateway) count(task string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		if c.task == task {
			n++
		}
	}
	return n
}

func (g *scriptedGateway) last(task string) gatewayCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := len(g.calls) - 1; i >= 0; i-- {
		if g.calls[i].task == task {
			return g.calls[i]
		}
	}
	return gatewayCall{}
}

type recordingPublisher struct {
	err    error
	target PublishTarget
	files  map[string]string
}

func (p *recordingPublisher) Publish(_ context.Context, target PublishTarget, files map[string]string) (string, error) {
	p.target = target
	p.files = files
	if p.err != nil {
		return "", p.err
	}
	return "https://github.com/" + target.Repo, nil
}

func newTestEngine(t *testing.T) (*Engine, *scriptedGateway, *recordingPublisher) {
	t.Helper()
	gw := &scriptedGateway{fail: map[string]error{}}
	pub := &recordingPublisher{}
	eng, err := New(Options{Gateway: gw, Publisher: pub})
	require.NoError(t, err)
	return eng, gw, pub
}

func decide(t *testing.T, eng *Engine, d Decision) *View {
	t.Helper()
	v, err := eng.Decide(context.Background(), d)
	require.NoError(t, err)
	return v
}

// walkTo submits an input and approves stages until target is at its gate.
func walkTo(t *testing.T, eng *Engine, target Stage) {
	t.Helper()
	decide(t, eng, SubmitInput("A todo list app"))
	for eng.State.Stage != target {
		decide(t, eng, Approve())
	}
	require.Equal(t, StatusGate, eng.State.StageStatus)
}

func TestNew_StartsAtFirstStage(t *testing.T) {
	eng, gw, _ := newTestEngine(t)

	v := eng.View()
	assert.Equal(t, StageRequirements, v.Stage)
	assert.Equal(t, StatusPending, v.Status)
	assert.Empty(t, v.Artifacts)
	assert.Contains(t, v.Available, DecisionSubmitInput)
	assert.NotContains(t, v.Available, DecisionApprove)
	assert.Len(t, eng.State.RunID, 8)
	assert.Empty(t, gw.calls)
}

func TestSubmitInput_RunsRequirements(t *testing.T) {
	eng, gw, _ := newTestEngine(t)

	v := decide(t, eng, SubmitInput("Build a login page"))

	assert.Equal(t, StageRequirements, v.Stage)
	assert.Equal(t, StatusGate, v.Status)
	assert.Equal(t, "Build a login page", v.Artifacts[ArtifactInput])
	assert.Equal(t, "requirement output", v.Artifacts[ArtifactUserStories])
	assert.Equal(t, "Build a login page", gw.last(TaskRequirement).input[ArtifactInput])
	assert.Contains(t, v.Available, DecisionApprove)
	assert.NotContains(t, v.Available, DecisionFeedback)
}

func TestSubmitInput_RejectsBlankText(t *testing.T) {
	eng, gw, _ := newTestEngine(t)

	_, err := eng.Decide(context.Background(), SubmitInput("   "))
	require.ErrorIs(t, err, ErrEmptyText)
	assert.Empty(t, gw.calls)
	assert.False(t, eng.State.Artifacts.Has(ArtifactInput))
}

func TestApprove_AdvancesNonLoopStage(t *testing.T) {
	tests := []struct {
		from Stage
		to   Stage
	}{
		{from: StageRequirements, to: StageUserStories},
		{from: StageDeployment, to: StageMonitoring},
		{from: StageMonitoring, to: StageMaintenance},
	}
	for _, tt := range tests {
		t.Run(string(tt.from), func(t *testing.T) {
			eng, _, _ := newTestEngine(t)
			walkTo(t, eng, tt.from)
			spec, err := eng.Registry().Lookup(tt.from)
			require.NoError(t, err)
			require.False(t, spec.AllowsFeedbackLoop())
			assert.NotContains(t, eng.View().Available, DecisionFeedback)

			v := decide(t, eng, Approve())

			assert.Equal(t, tt.to, v.Stage)
			assert.Equal(t, eng.Registry().Next(tt.from).Name, v.Stage)
			assert.Nil(t, v.Condition)
		})
	}
}

func TestApprove_RequirementsRunsProductOwnerReview(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	decide(t, eng, SubmitInput("Build a login page"))

	v := decide(t, eng, Approve())

	assert.Equal(t, StageUserStories, v.Stage)
	assert.Equal(t, StatusGate, v.Status)
	assert.Equal(t, "suggestion for requirement output", v.Artifacts[ArtifactPOSuggestion])
	assert.NotContains(t, v.Artifacts, ArtifactPOReview)
}

func TestNavigate_RequirementsKeepsEditedStories(t *testing.T) {
	eng, gw, _ := newTestEngine(t)
	walkTo(t, eng, StageUserStories)
	decide(t, eng, SubmitFeedback("operator edited stories"))

	v := decide(t, eng, NavigateTo(StageRequirements))

	assert.Equal(t, StageRequirements, v.Stage)
	assert.Equal(t, StatusGate, v.Status)
	assert.Equal(t, "operator edited stories", v.Artifacts[ArtifactUserStories])
	assert.Equal(t, 1, gw.count(TaskRequirement))

	v = decide(t, eng, Retry())
	assert.Equal(t, "operator edited stories", v.Artifacts[ArtifactUserStories])
	assert.Equal(t, 1, gw.count(TaskRequirement))

	v = decide(t, eng, SubmitInput("Build a signup page"))
	assert.Equal(t, "requirement output", v.Artifacts[ArtifactUserStories])
	assert.Equal(t, 2, gw.count(TaskRequirement))
}

func TestNavigate_RequirementsBeforeInputWaits(t *testing.T) {
	eng, gw, _ := newTestEngine(t)
	decide(t, eng, NavigateTo(StageMonitoring))

	v := decide(t, eng, NavigateTo(StageRequirements))

	assert.Equal(t, StageRequirements, v.Stage)
	assert.Equal(t, StatusPending, v.Status)
	assert.Zero(t, gw.count(TaskRequirement))
	assert.Contains(t, v.Available, DecisionSubmitInput)
	assert.NotContains(t, v.Available, DecisionApprove)
}

func TestRetry_ReplaysFailedSubmission(t *testing.T) {
	eng, gw, _ := newTestEngine(t)
	gw.fail[TaskRequirement] = errors.New("timeout")

	v, err := eng.Decide(context.Background(), SubmitInput("Build a login page"))
	require.Error(t, err)
	assert.Equal(t, StatusFailed, v.Status)
	assert.NotContains(t, v.Artifacts, ArtifactUserStories)

	delete(gw.fail, TaskRequirement)
	v = decide(t, eng, Retry())
	assert.Equal(t, StatusGate, v.Status)
	assert.Equal(t, "requirement output", v.Artifacts[ArtifactUserStories])
	assert.Equal(t, 2, gw.count(TaskRequirement))
}

func TestSubmitFeedback_RefusedWithoutLoop(t *testing.T) {
	eng, gw, _ := newTestEngine(t)
	decide(t, eng, SubmitInput("Build a login page"))
	before := len(gw.calls)

	v, err := eng.Decide(context.Background(), SubmitFeedback("more detail"))

	require.ErrorIs(t, err, ErrTransitionNotAllowed)
	assert.Equal(t, StageRequirements, v.Stage)
	assert.Equal(t, ConditionInvalid, v.Condition.Kind)
	assert.Len(t, gw.calls, before)
}

func TestApprove_RequiresGate(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	_, err := eng.Decide(context.Background(), Approve())
	require.ErrorIs(t, err, ErrTransitionNotAllowed)
	assert.Equal(t, StageRequirements, eng.State.Stage)
}

func TestUserStoriesFeedback_ReplacesAndRerenders(t *testing.T) {
	eng, gw, _ := newTestEngine(t)
	walkTo(t, eng, StageUserStories)
	require.Equal(t, 1, gw.count(TaskProductOwnerReview))

	v := decide(t, eng, SubmitFeedback("As a user I can reset my password"))

	assert.Equal(t, StageUserStories, v.Stage)
	assert.Equal(t, "As a user I can reset my password", v.Artifacts[ArtifactUserStories])
	assert.Equal(t, "As a user I can reset my password", v.Artifacts[ArtifactPOReview])
	assert.Equal(t, 2, gw.count(TaskProductOwnerReview))
	assert.Equal(t, "suggestion for As a user I can reset my password", v.Artifacts[ArtifactPOSuggestion])
	assert.Equal(t, 1, gw.count(TaskRequirement))
}

func TestDesignGuard_BlocksWithoutCallingGateway(t *testing.T) {
	eng, gw, _ := newTestEngine(t)

	v, err := eng.Decide(context.Background(), NavigateTo(StageDesign))

	var missing *MissingArtifactError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, StageDesign, missing.Stage)
	assert.Equal(t, []string{ArtifactInput, ArtifactUserStories, ArtifactPOReview}, missing.Keys)
	assert.Empty(t, gw.calls)
	assert.Equal(t, StageDesign, v.Stage)
	assert.Equal(t, StatusBlocked, v.Status)
	require.NotNil(t, v.Condition)
	assert.Equal(t, ConditionMissingArtifact, v.Condition.Kind)
	assert.Empty(t, v.Artifacts)
}

func TestDesignGuard_PassesOnlyAfterApproval(t *testing.T) {
	eng, gw, _ := newTestEngine(t)
	walkTo(t, eng, StageUserStories)

	_, err := eng.Decide(context.Background(), NavigateTo(StageDesign))
	var missing *MissingArtifactError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{ArtifactPOReview}, missing.Keys)
	assert.Zero(t, gw.count(TaskDesign))

	decide(t, eng, NavigateTo(StageUserStories))
	v := decide(t, eng, Approve())
	assert.Equal(t, StageDesign, v.Stage)
	assert.Equal(t, "APPROVED", v.Artifacts[ArtifactPOReview])
	assert.Equal(t, 1, gw.count(TaskDesign))
}

func TestDesignFeedback_IgnoresDocument(t *testing.T) {
	eng, gw, _ := newTestEngine(t)
	walkTo(t, eng, StageDesign)
	doc := eng.State.Artifacts.Snapshot()[ArtifactDesignDoc]
	calls := len(gw.calls)

	v := decide(t, eng, SubmitFeedback("use postgres"))

	assert.Equal(t, StageDesign, v.Stage)
	assert.Equal(t, doc, v.Artifacts[ArtifactDesignDoc])
	assert.Equal(t, "use postgres", v.Artifacts[ArtifactDesignReviewStatus])
	assert.Len(t, gw.calls, calls)
}

func TestCodeFeedback_ReplacesBothReviews(t *testing.T) {
	eng, gw, _ := newTestEngine(t)
	walkTo(t, eng, StageCode)
	code := eng.State.Artifacts.Snapshot()[ArtifactCode]
	calls := len(gw.calls)

	v := decide(t, eng, SubmitFeedback("handle empty input"))

	assert.Equal(t, "handle empty input", v.Artifacts[ArtifactCodeReview])
	assert.Equal(t, "handle empty input", v.Artifacts[ArtifactSecurityReview])
	assert.Equal(t, code, v.Artifacts[ArtifactCode])
	assert.Len(t, gw.calls, calls)
}

func TestTestCasesFeedback_RegeneratesWithContext(t *testing.T) {
	eng, gw, _ := newTestEngine(t)
	walkTo(t, eng, StageTestCases)
	require.Equal(t, "tests for code_generation output", eng.State.Artifacts.Snapshot()[ArtifactTestCases])

	v := decide(t, eng, SubmitFeedback("cover empty list"))

	call := gw.last(TaskTestCaseGeneration)
	assert.Equal(t, "code_generation output", call.input[ArtifactCode])
	assert.Equal(t, "cover empty list", call.input[ContextFeedback])
	want := "tests for code_generation output covering cover empty list"
	assert.Equal(t, want, v.Artifacts[ArtifactTestCases])
	assert.Equal(t, "review of "+want, v.Artifacts[ArtifactTestCaseReview])
	assert.NotContains(t, v.Artifacts, ContextFeedback)
	assert.Equal(t, 2, gw.count(TaskTestCaseGeneration))
	assert.Equal(t, 2, gw.count(TaskTestCaseReview))

	again := decide(t, eng, SubmitFeedback("cover empty list"))
	assert.Equal(t, v.Artifacts, again.Artifacts)
	assert.Equal(t, 3, gw.count(TaskTestCaseGeneration))
}

func TestTestCasesFeedback_ReviewFailureKeepsPriorCases(t *testing.T) {
	eng, gw, _ := newTestEngine(t)
	walkTo(t, eng, StageTestCases)
	before := eng.State.Artifacts.Snapshot()
	gw.fail[TaskTestCaseReview] = errors.New("overloaded")

	v, err := eng.Decide(context.Background(), SubmitFeedback("cover empty list"))

	var agentErr *AgentInvocationError
	require.ErrorAs(t, err, &agentErr)
	assert.Equal(t, TaskTestCaseReview, agentErr.Task)
	assert.Equal(t, StatusFailed, v.Status)
	assert.Equal(t, 2, gw.count(TaskTestCaseGeneration))
	assert.Equal(t, before[ArtifactTestCases], v.Artifacts[ArtifactTestCases])
	assert.Equal(t, before[ArtifactTestCaseReview], v.Artifacts[ArtifactTestCaseReview])

	delete(gw.fail, TaskTestCaseReview)
	v = decide(t, eng, Retry())
	assert.Equal(t, StatusGate, v.Status)
	assert.Equal(t, "review of "+before[ArtifactTestCases], v.Artifacts[ArtifactTestCaseReview])
}

func TestTestCases_SkipsGenerationWhenPresent(t *testing.T) {
	eng, gw, _ := newTestEngine(t)
	walkTo(t, eng, StageTestCases)

	decide(t, eng, Retry())

	assert.Equal(t, 1, gw.count(TaskTestCaseGeneration))
	assert.Equal(t, 2, gw.count(TaskTestCaseReview))
}

func TestQAFeedback_Appends(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	walkTo(t, eng, StageQA)

	v := decide(t, eng, SubmitFeedback("login fails on Safari"))

	assert.Equal(t, "qa_testing output\n\nUser QA Feedback: login fails on Safari", v.Artifacts[ArtifactQAResult])
	assert.Equal(t, StageQA, v.Stage)
}

func TestFeedback_RejectsBlankText(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	walkTo(t, eng, StageQA)
	before := eng.State.Artifacts.Snapshot()[ArtifactQAResult]

	_, err := eng.Decide(context.Background(), SubmitFeedback(""))
	require.ErrorIs(t, err, ErrEmptyText)
	assert.Equal(t, before, eng.State.Artifacts.Snapshot()[ArtifactQAResult])
}

func TestPublish_FailureKeepsDeployment(t *testing.T) {
	eng, _, pub := newTestEngine(t)
	walkTo(t, eng, StageDeployment)
	pub.err = errors.New("401 bad credentials")

	v, err := eng.Decide(context.Background(), Publish(PublishTarget{Repo: "acme/todo", Credential: "bad"}))

	var pubErr *PublishError
	require.ErrorAs(t, err, &pubErr)
	assert.Equal(t, "acme/todo", pubErr.Target)
	assert.Equal(t, StageDeployment, v.Stage)
	assert.Equal(t, StatusGate, v.Status)
	assert.NotContains(t, v.Artifacts, ArtifactDeploymentStatus)
	assert.Equal(t, ConditionPublish, v.Condition.Kind)
	assert.Contains(t, v.Available, DecisionPublish)
}

func TestPublish_SuccessAdvances(t *testing.T) {
	eng, _, pub := newTestEngine(t)
	walkTo(t, eng, StageDeployment)

	v := decide(t, eng, Publish(PublishTarget{Repo: "acme/todo", Credential: "tok"}))

	assert.Equal(t, StageMonitoring, v.Stage)
	assert.Equal(t, "Deployed to GitHub repo: acme/todo", v.Artifacts[ArtifactDeploymentStatus])
	assert.Equal(t, "tok", pub.target.Credential)
	assert.Equal(t, "code_generation output", pub.files[BundleCode])
	assert.Equal(t, bundleReadmeText, pub.files[BundleReadme])
	assert.Len(t, pub.files, 5)
}

func TestPublish_RequiresRepo(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	walkTo(t, eng, StageDeployment)

	_, err := eng.Decide(context.Background(), Publish(PublishTarget{}))
	var pubErr *PublishError
	require.ErrorAs(t, err, &pubErr)
	assert.Equal(t, StageDeployment, eng.State.Stage)
}

func TestPublish_OnlyAtDeployment(t *testing.T) {
	eng, _, pub := newTestEngine(t)
	walkTo(t, eng, StageQA)

	_, err := eng.Decide(context.Background(), Publish(PublishTarget{Repo: "acme/todo"}))
	require.ErrorIs(t, err, ErrTransitionNotAllowed)
	assert.Nil(t, pub.files)
}

func TestAgentFailure_LeavesStoreUntouched(t *testing.T) {
	eng, gw, _ := newTestEngine(t)
	walkTo(t, eng, StageDesign)
	gw.fail[TaskSecurityReview] = errors.New("rate limited")

	v, err := eng.Decide(context.Background(), Approve())

	var agentErr *AgentInvocationError
	require.ErrorAs(t, err, &agentErr)
	assert.Equal(t, TaskSecurityReview, agentErr.Task)
	assert.Equal(t, StageCode, v.Stage)
	assert.Equal(t, StatusFailed, v.Status)
	assert.NotContains(t, v.Artifacts, ArtifactCode)
	assert.NotContains(t, v.Artifacts, ArtifactCodeReview)
	assert.Equal(t, ConditionAgent, v.Condition.Kind)
	assert.Contains(t, v.Available, DecisionRetry)

	delete(gw.fail, TaskSecurityReview)
	v = decide(t, eng, Retry())
	assert.Equal(t, StatusGate, v.Status)
	assert.Contains(t, v.Artifacts, ArtifactCode)
	assert.Contains(t, v.Artifacts, ArtifactSecurityReview)
}

func TestGatewayUnavailable_MapsToConfiguration(t *testing.T) {
	eng, gw, _ := newTestEngine(t)
	gw.fail[TaskRequirement] = fmt.Errorf("provider: %w", ErrAgentUnavailable)

	v, err := eng.Decide(context.Background(), SubmitInput("anything"))

	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, ConditionConfiguration, v.Condition.Kind)
	assert.NotContains(t, v.Artifacts, ArtifactUserStories)
}

func TestNoGateway_BlocksEveryDecision(t *testing.T) {
	eng, err := New(Options{})
	require.NoError(t, err)
	assert.False(t, eng.Configured())

	for _, d := range []Decision{
		SubmitInput("Build a login page"),
		Approve(),
		SubmitFeedback("x"),
		NavigateTo(StageQA),
		Retry(),
		Publish(PublishTarget{Repo: "acme/todo"}),
	} {
		v, err := eng.Decide(context.Background(), d)
		var cfgErr *ConfigurationError
		require.ErrorAs(t, err, &cfgErr, "decision %s", d.Kind)
		assert.Equal(t, StageRequirements, v.Stage)
		assert.Equal(t, StatusPending, v.Status)
		assert.Empty(t, v.Artifacts)
		assert.Equal(t, ConditionConfiguration, v.Condition.Kind)
	}
}

func TestNavigate_UnknownStage(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	_, err := eng.Decide(context.Background(), NavigateTo("Retrospective"))
	require.ErrorIs(t, err, ErrUnknownStage)
	assert.Equal(t, StageRequirements, eng.State.Stage)
}

func TestNavigate_MonitoringHasNoGuard(t *testing.T) {
	eng, gw, _ := newTestEngine(t)

	v := decide(t, eng, NavigateTo(StageMonitoring))

	assert.Equal(t, StageMonitoring, v.Stage)
	assert.Equal(t, StatusGate, v.Status)
	assert.Empty(t, gw.last(TaskMonitoring).input)
	assert.Equal(t, "monitoring output", v.Artifacts[ArtifactMonitoring])
}

func TestEndToEnd(t *testing.T) {
	eng, gw, _ := newTestEngine(t)

	v := decide(t, eng, SubmitInput("Build a todo app"))
	assert.Equal(t, StageRequirements, v.Stage)

	for _, want := range []Stage{
		StageUserStories, StageDesign, StageCode, StageTestCases,
		StageQA, StageDeployment, StageMonitoring,
	} {
		v = decide(t, eng, Approve())
		assert.Equal(t, want, v.Stage)
		assert.Equal(t, StatusGate, v.Status, "stage %s", want)
		assert.False(t, v.Complete)
	}
	assert.Equal(t, "Code marked as deployed (not pushed).", v.Artifacts[ArtifactDeploymentStatus])
	assert.Equal(t, "APPROVED", v.Artifacts[ArtifactCodeReview])
	assert.Equal(t, "APPROVED", v.Artifacts[ArtifactDesignReviewStatus])

	_, err := eng.Export()
	require.ErrorIs(t, err, ErrExportUnavailable)

	events := eng.Events.Subscribe()
	defer eng.Events.Unsubscribe(events)
	v = decide(t, eng, Approve())
	assert.Equal(t, StageMaintenance, v.Stage)
	assert.Equal(t, StatusCompleted, v.Status)
	assert.True(t, v.Complete)
	assert.Equal(t, "maintenance output", v.Artifacts[ArtifactMaintenance])
	assert.NotContains(t, v.Available, DecisionApprove)
	for _, key := range []string{
		ArtifactInput, ArtifactUserStories, ArtifactPOReview, ArtifactDesignDoc,
		ArtifactDesignReview, ArtifactCode, ArtifactCodeReview, ArtifactSecurityReview,
		ArtifactTestCases, ArtifactTestCaseReview, ArtifactQAResult,
		ArtifactDeploymentStatus, ArtifactMonitoring, ArtifactMaintenance,
	} {
		assert.NotEmpty(t, v.Artifacts[key], "artifact %s", key)
		assert.True(t, eng.State.Artifacts.Has(key), "artifact %s", key)
	}

	_, err = eng.Decide(context.Background(), Approve())
	require.ErrorIs(t, err, ErrTerminalStage)

	files, err := eng.Export()
	require.NoError(t, err)
	require.NotEmpty(t, files)
	assert.Equal(t, "Problem Statement", files[0].Label)
	assert.Equal(t, "problem_statement.txt", files[0].FileName)
	assert.Equal(t, "Build a todo app", files[0].Content)

	assert.Len(t, gw.calls, 12)
	metrics := eng.Metrics.Snapshot()
	assert.Equal(t, int64(120), metrics.TokensIn)
	assert.Equal(t, int64(60), metrics.TokensOut)
	assert.Equal(t, 1, metrics.ByAgent[TaskQATesting].Calls)

	var sawCompleted bool
	for len(events) > 0 {
		if evt := <-events; evt.Type == EventRunCompleted {
			sawCompleted = true
		}
	}
	assert.True(t, sawCompleted)
}

type memStore struct {
	mu         sync.Mutex
	runs       []string
	artifacts  map[string]string
	executions map[string]ExecutionRecord
	metrics    []MetricsEntry
	meta       []StageStatus
}

func newMemStore() *memStore {
	return &memStore{artifacts: map[string]string{}, executions: map[string]ExecutionRecord{}}
}

func (m *memStore) SaveArtifact(runID, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.artifacts[runID+"/"+key] = value
	return nil
}

func (m *memStore) RecordMetric(_ string, entry MetricsEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = append(m.metrics, entry)
	return nil
}

func (m *memStore) RecordStageTiming(string, Stage, int64) error { return nil }

func (m *memStore) CreateExecution(rec ExecutionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executions[rec.ID] = rec
	return nil
}

func (m *memStore) UpdateExecution(rec ExecutionRecord) error {
	return m.CreateExecution(rec)
}

func (m *memStore) CreateRun(state *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, state.RunID)
	return nil
}

func (m *memStore) SaveRunMeta(_ string, _ Stage, status StageStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meta = append(m.meta, status)
	return nil
}

func TestStore_JournalsRun(t *testing.T) {
	st := newMemStore()
	gw := &scriptedGateway{fail: map[string]error{}}
	eng, err := New(Options{RunID: "run-1", Gateway: gw, Store: st})
	require.NoError(t, err)

	decide(t, eng, SubmitInput("Build a login page"))
	_, err = eng.Decide(context.Background(), NavigateTo(StageQA))
	require.Error(t, err)

	assert.Equal(t, []string{"run-1"}, st.runs)
	assert.Equal(t, "Build a login page", st.artifacts["run-1/input"])
	assert.Equal(t, "requirement output", st.artifacts["run-1/user_stories"])
	assert.Len(t, st.metrics, 1)
	require.Len(t, st.executions, 2)

	var statuses []ExecutionStatus
	for _, rec := range st.executions {
		statuses = append(statuses, rec.Status)
	}
	assert.ElementsMatch(t, []ExecutionStatus{ExecCompleted, ExecBlocked}, statuses)
	assert.Equal(t, StatusBlocked, st.meta[len(st.meta)-1])
}
