package models

import (
	"context"
	"time"

	"loomci.dev/loom/secrets"
	"loomci.dev/loom/workflow"
)

// Engine executes compiled workflows. The runner drives it one step at
// a time so the fail-fast policy lives in exactly one place.
type Engine interface {
	InitWorkflow(wf workflow.Workflow, cp workflow.Compiled) (*Workflow, error)
	SetupWorkflow(ctx context.Context, wid WorkflowId, wf *Workflow) error
	WorkflowTimeout() time.Duration
	DestroyWorkflow(ctx context.Context, wid WorkflowId) error
	RunStep(ctx context.Context, wid WorkflowId, w *Workflow, idx int, secrets []secrets.UnlockedSecret, wfLogger *WorkflowLogger) error
}
