package docker

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loomci.dev/loom/config"
	"loomci.dev/loom/models"
	"loomci.dev/loom/workflow"
)

func testEngine(timeout string) *Engine {
	return &Engine{
		l: slog.New(slog.NewTextHandler(io.Discard, nil)),
		cfg: &config.Config{
			Pipelines: config.Pipelines{
				Platform:        "ubuntu",
				WorkflowTimeout: timeout,
			},
		},
	}
}

func TestInitWorkflowStepOrder(t *testing.T) {
	e := testEngine("5m")

	wf := workflow.Workflow{
		Name:  "ci.yml",
		Image: "rust:1.79",
		Tools: []workflow.Tool{
			{Bin: "typos", Install: "cargo install typos-cli"},
			{Bin: "cargo-machete", Install: "cargo install cargo-machete"},
		},
		Steps: []workflow.Step{
			{Name: "Lint", Command: "cargo clippy -- --deny warnings"},
			{Name: "Build", Command: "cargo build"},
		},
	}

	swf, err := e.InitWorkflow(wf, workflow.Compiled{Trigger: pushTrigger()})
	require.NoError(t, err)

	// clone first, then tool installs in declared order, then user steps
	require.Len(t, swf.Steps, 5)
	assert.Equal(t, models.StepKindSystem, swf.Steps[0].Kind())
	assert.Equal(t, "Install typos", swf.Steps[1].Name())
	assert.Equal(t, "Install cargo-machete", swf.Steps[2].Name())
	assert.Equal(t, "Lint", swf.Steps[3].Name())
	assert.Equal(t, models.StepKindUser, swf.Steps[3].Kind())
	assert.Equal(t, "Build", swf.Steps[4].Name())
}

func TestInitWorkflowTolerated(t *testing.T) {
	e := testEngine("5m")

	wf := workflow.Workflow{
		Name:      "ci.yml",
		Image:     "rust:1.79",
		CloneOpts: workflow.CloneOpts{Skip: true},
		Steps: []workflow.Step{
			{Name: "Unused deps", Command: "cargo machete", AllowFailure: true},
		},
	}

	swf, err := e.InitWorkflow(wf, workflow.Compiled{Trigger: pushTrigger()})
	require.NoError(t, err)

	require.Len(t, swf.Steps, 1)
	assert.True(t, swf.Steps[0].Tolerated())
}

func TestInitWorkflowCacheKey(t *testing.T) {
	e := testEngine("5m")

	wf := workflow.Workflow{
		Name:      "ci.yml",
		Image:     "rust:1.79",
		CloneOpts: workflow.CloneOpts{Skip: true},
		Cache: &workflow.CacheConfig{
			Name:     "cargo",
			Lockfile: "Cargo.lock",
			Paths:    []string{"~/.cargo/registry", "target"},
		},
		Steps: []workflow.Step{{Name: "Build", Command: "cargo build"}},
	}

	cp := workflow.Compiled{
		Trigger:   pushTrigger(),
		Lockfiles: map[string][]byte{"Cargo.lock": []byte("lockfile contents")},
	}

	swf, err := e.InitWorkflow(wf, cp)
	require.NoError(t, err)

	addl := swf.Data.(addlFields)
	assert.NotEmpty(t, addl.cacheKey)
	assert.Equal(t, []string{"~/.cargo/registry", "target"}, addl.cachePaths)

	// same lockfile derives the same key
	swf2, err := e.InitWorkflow(wf, cp)
	require.NoError(t, err)
	assert.Equal(t, addl.cacheKey, swf2.Data.(addlFields).cacheKey)

	// missing lockfile disables the cache
	swf3, err := e.InitWorkflow(wf, workflow.Compiled{Trigger: pushTrigger()})
	require.NoError(t, err)
	assert.Empty(t, swf3.Data.(addlFields).cacheKey)
}

func TestWorkflowTimeout(t *testing.T) {
	assert.Equal(t, 2*time.Minute, testEngine("2m").WorkflowTimeout())
	assert.Equal(t, 5*time.Minute, testEngine("junk").WorkflowTimeout(), "unparseable timeout falls back to the default")
}

func TestContainerPath(t *testing.T) {
	assert.Equal(t, workspaceDir+"/.cargo/registry", containerPath("~/.cargo/registry"))
	assert.Equal(t, workspaceDir+"/target", containerPath("target"))
	assert.Equal(t, "/opt/cache", containerPath("/opt/cache"))
	assert.Equal(t, workspaceDir, containerPath("~"))
}
