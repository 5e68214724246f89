package stages

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anima/anima/internal/kernel"
)

func TestNewPlanAppendsPromptFragment(t *testing.T) {
	fs := newMemFS()
	fs.files["prompts/plan.txt"] = "Always run `go vet` before committing."

	planner := NewPlan(PlanConfig{
		FS:                fs,
		PromptFragmentDir: "prompts",
	})

	plan, err := planner(context.Background(), kernel.ProjectState{}, "- fix the thing", nil, 1)
	require.NoError(t, err)
	assert.True(t, strings.Contains(plan.PromptText, "fix the thing"))
	assert.True(t, strings.Contains(plan.PromptText, "Always run `go vet` before committing."))
}

func TestNewPlanWithoutFragmentDirOmitsSection(t *testing.T) {
	fs := newMemFS()
	planner := NewPlan(PlanConfig{FS: fs})

	plan, err := planner(context.Background(), kernel.ProjectState{}, "- fix the thing", nil, 1)
	require.NoError(t, err)
	assert.False(t, strings.Contains(plan.PromptText, "go vet"))
}

func TestNewPlanMissingFragmentFileIsHarmless(t *testing.T) {
	fs := newMemFS()
	planner := NewPlan(PlanConfig{FS: fs, PromptFragmentDir: "prompts"})

	plan, err := planner(context.Background(), kernel.ProjectState{}, "- fix the thing", nil, 1)
	require.NoError(t, err)
	assert.True(t, strings.Contains(plan.PromptText, "fix the thing"))
}
