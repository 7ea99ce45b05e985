package prompts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yalochat/sdlc-assistant/internal/engine"
)

func useDir(t *testing.T, dir string) {
	t.Helper()
	prev := promptsDir
	SetPromptsDir(dir)
	t.Cleanup(func() { SetPromptsDir(prev) })
}

func TestBuild_EveryTask(t *testing.T) {
	useDir(t, t.TempDir())

	for _, spec := range engine.DefaultRegistry().Stages() {
		for _, step := range spec.Steps {
			p, err := Build(step.Task, map[string]string{})
			require.NoError(t, err, step.Task)
			assert.NotEmpty(t, p, step.Task)
		}
	}
}

func TestBuild_UnknownTask(t *testing.T) {
	_, err := Build("retrospective", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retrospective")
}

func TestBuild_InterpolatesInput(t *testing.T) {
	useDir(t, t.TempDir())

	p, err := Build(engine.TaskQATesting, map[string]string{
		engine.ArtifactTestCases: "TC-1 login works",
		engine.ArtifactCode:      "def login(): pass",
	})
	require.NoError(t, err)
	assert.Contains(t, p, "TC-1 login works")
	assert.Contains(t, p, "def login(): pass")
}

func TestTestCaseGeneration_Feedback(t *testing.T) {
	useDir(t, t.TempDir())

	plain := TestCaseGeneration("print(1)", "")
	assert.NotContains(t, plain, "Reviewer Feedback")

	revised := TestCaseGeneration("print(1)", "cover negative numbers")
	assert.Contains(t, revised, "## Reviewer Feedback\ncover negative numbers")
}

func TestTemplateOverride(t *testing.T) {
	dir := t.TempDir()
	useDir(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "design_review.md"), []byte("Review: {{design_doc}}"), 0644))

	assert.Equal(t, "Review: layered", DesignReview("layered"))
	assert.Contains(t, CodeReview("x = 1"), "x = 1")
}
