package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yalochat/sdlc-assistant/internal/agent"
	"github.com/yalochat/sdlc-assistant/internal/engine"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sdlc.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestRunLifecycle(t *testing.T) {
	st := openTestStore(t)

	state := engine.NewState("run-1", engine.StageRequirements)
	require.NoError(t, st.CreateRun(state))

	rs, err := st.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, "Requirements", rs.Stage)
	assert.Equal(t, "pending", rs.Status)
	assert.Equal(t, 0, rs.ArtifactCount)

	require.NoError(t, st.SaveRunMeta("run-1", engine.StageDesign, engine.StatusBlocked))
	rs, err = st.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, string(engine.StageDesign), rs.Stage)
	assert.Equal(t, string(engine.StatusBlocked), rs.Status)

	require.NoError(t, st.CreateRun(engine.NewState("run-2", engine.StageRequirements)))
	runs, err := st.ListRuns()
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	require.NoError(t, st.DeleteRun("run-1"))
	_, err = st.GetRun("run-1")
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.ErrorIs(t, st.DeleteRun("run-1"), ErrRunNotFound)
}

func TestArtifactsUpsert(t *testing.T) {
	st := openTestStore(t)
	require.NoError(t, st.CreateRun(engine.NewState("run-1", engine.StageRequirements)))

	require.NoError(t, st.SaveArtifact("run-1", engine.ArtifactInput, "first"))
	require.NoError(t, st.SaveArtifact("run-1", engine.ArtifactInput, "second"))
	require.NoError(t, st.SaveArtifact("run-1", engine.ArtifactUserStories, "stories"))

	got, err := st.LoadArtifacts("run-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		engine.ArtifactInput:       "second",
		engine.ArtifactUserStories: "stories",
	}, got)

	rs, err := st.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, 2, rs.ArtifactCount)

	empty, err := st.LoadArtifacts("missing")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMetricsAggregate(t *testing.T) {
	st := openTestStore(t)
	require.NoError(t, st.CreateRun(engine.NewState("run-1", engine.StageRequirements)))

	now := time.Now()
	require.NoError(t, st.RecordMetric("run-1", engine.MetricsEntry{
		Timestamp: now, Agent: "requirement", Model: "m", TokensIn: 10, TokensOut: 4, Stage: engine.StageRequirements,
	}))
	require.NoError(t, st.RecordMetric("run-1", engine.MetricsEntry{
		Timestamp: now, Agent: "requirement", Model: "m", TokensIn: 6, TokensOut: 2, Stage: engine.StageRequirements,
	}))
	require.NoError(t, st.RecordMetric("run-1", engine.MetricsEntry{
		Timestamp: now, Agent: "design", Model: "m", TokensIn: 1, TokensOut: 1, Stage: engine.StageDesign,
	}))
	require.NoError(t, st.RecordStageTiming("run-1", engine.StageRequirements, 100))
	require.NoError(t, st.RecordStageTiming("run-1", engine.StageRequirements, 250))

	ms, err := st.LoadMetricsAggregate("run-1")
	require.NoError(t, err)
	assert.Equal(t, int64(17), ms.TokensIn)
	assert.Equal(t, int64(7), ms.TokensOut)
	assert.Equal(t, engine.Usage{TokensIn: 16, TokensOut: 6, Calls: 2}, ms.ByAgent["requirement"])
	assert.Equal(t, 1, ms.ByAgent["design"].Calls)
	assert.Equal(t, int64(250), ms.StageTimings[string(engine.StageRequirements)])
}

func TestExecutions(t *testing.T) {
	st := openTestStore(t)
	require.NoError(t, st.CreateRun(engine.NewState("run-1", engine.StageRequirements)))

	now := time.Now()
	rec := engine.ExecutionRecord{
		ID:        "exec-1",
		RunID:     "run-1",
		Stage:     engine.StageRequirements,
		Decision:  engine.DecisionSubmitInput,
		Status:    engine.ExecRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, st.CreateExecution(rec))

	rec.Status = engine.ExecFailed
	rec.TokensIn = 12
	rec.ErrorMessage = "boom"
	rec.UpdatedAt = now.Add(time.Second)
	require.NoError(t, st.UpdateExecution(rec))

	list, err := st.ListExecutions("run-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, engine.ExecFailed, list[0].Status)
	assert.Equal(t, engine.DecisionSubmitInput, list[0].Decision)
	assert.Equal(t, engine.StageRequirements, list[0].Stage)
	assert.Equal(t, int64(12), list[0].TokensIn)
	assert.Equal(t, "boom", list[0].ErrorMessage)
}

func TestDeleteRunCascades(t *testing.T) {
	st := openTestStore(t)
	require.NoError(t, st.CreateRun(engine.NewState("run-1", engine.StageRequirements)))
	require.NoError(t, st.SaveArtifact("run-1", engine.ArtifactInput, "x"))
	require.NoError(t, st.RecordStageTiming("run-1", engine.StageRequirements, 5))

	require.NoError(t, st.DeleteRun("run-1"))

	got, err := st.LoadArtifacts("run-1")
	require.NoError(t, err)
	assert.Empty(t, got)
	ms, err := st.LoadMetricsAggregate("run-1")
	require.NoError(t, err)
	assert.Empty(t, ms.StageTimings)
}

func TestEngineJournalsIntoSQLite(t *testing.T) {
	st := openTestStore(t)
	gw := agent.NewGateway(agent.NewMockProvider("mock"), 0, nil)

	eng, err := engine.New(engine.Options{RunID: "run-e2e", Gateway: gw, Store: st})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = eng.Decide(ctx, engine.SubmitInput("a todo app"))
	require.NoError(t, err)
	_, err = eng.Decide(ctx, engine.Approve())
	require.NoError(t, err)

	arts, err := st.LoadArtifacts("run-e2e")
	require.NoError(t, err)
	assert.Equal(t, "a todo app", arts[engine.ArtifactInput])
	assert.NotEmpty(t, arts[engine.ArtifactUserStories])
	assert.Equal(t, eng.State.Artifacts.Snapshot(), arts)

	rs, err := st.GetRun("run-e2e")
	require.NoError(t, err)
	assert.Equal(t, string(eng.State.Stage), rs.Stage)
	assert.Equal(t, string(eng.State.StageStatus), rs.Status)

	execs, err := st.ListExecutions("run-e2e")
	require.NoError(t, err)
	require.Len(t, execs, 2)
	for _, rec := range execs {
		assert.Equal(t, engine.ExecCompleted, rec.Status)
	}

	ms, err := st.LoadMetricsAggregate("run-e2e")
	require.NoError(t, err)
	assert.Equal(t, eng.Metrics.Snapshot().TokensIn, ms.TokensIn)
}
