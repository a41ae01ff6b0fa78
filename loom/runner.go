package loom

import (
	"context"
	"errors"
	"fmt"
	"path"

	"golang.org/x/sync/errgroup"

	"loomci.dev/loom/engine"
	"loomci.dev/loom/models"
	"loomci.dev/loom/secrets"
	"loomci.dev/loom/workflow"
)

// runPipeline executes every workflow of a compiled pipeline in
// parallel. Workflow failures are recorded as statuses, not returned;
// the error covers runner-level breakage only.
func (s *Loom) runPipeline(ctx context.Context, pid models.PipelineId, cp workflow.Compiled) error {
	g := errgroup.Group{}
	for _, wf := range cp.Workflows {
		g.Go(func() error {
			return s.runWorkflow(ctx, pid, wf, cp)
		})
	}
	return g.Wait()
}

// runWorkflow drives one workflow through its engine, step by step.
// Steps run in declared order and the first failing step stops the
// workflow: later steps are recorded as skipped, never run. A step
// marked tolerated fails without stopping the sequence.
func (s *Loom) runWorkflow(ctx context.Context, pid models.PipelineId, wf workflow.Workflow, cp workflow.Compiled) error {
	wid := models.WorkflowId{PipelineId: pid, Name: wf.Name}
	l := s.l.With("workflow", wid.String())

	swf, err := s.eng.InitWorkflow(wf, cp)
	if err != nil {
		l.Error("failed to init workflow", "error", err)
		return s.db.StatusFailed(wid, err.Error(), -1, s.n)
	}

	wfLogger, err := models.NewWorkflowLogger(s.cfg.Pipelines.LogDir, wid)
	if err != nil {
		l.Error("failed to create workflow logger", "error", err)
		return s.db.StatusFailed(wid, err.Error(), -1, s.n)
	}
	defer wfLogger.Close()

	if err := s.db.StatusRunning(wid, s.n); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.eng.WorkflowTimeout())
	defer cancel()

	if err := s.eng.SetupWorkflow(ctx, wid, swf); err != nil {
		l.Error("failed to setup workflow", "error", err)
		_ = s.eng.DestroyWorkflow(context.WithoutCancel(ctx), wid)
		return s.db.StatusFailed(wid, err.Error(), -1, s.n)
	}
	defer func() {
		if err := s.eng.DestroyWorkflow(context.WithoutCancel(ctx), wid); err != nil {
			l.Error("failed to destroy workflow", "error", err)
		}
	}()

	unlocked := s.workflowSecrets(ctx, cp.Trigger)

	for idx, step := range swf.Steps {
		_ = wfLogger.Control(idx, step, models.StepStatusRunning)

		err := s.eng.RunStep(ctx, wid, swf, idx, unlocked, wfLogger)
		if err == nil {
			_ = wfLogger.Control(idx, step, models.StepStatusPassed)
			continue
		}

		if errors.Is(err, engine.ErrTimedOut) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			l.Error("workflow timed out", "step", step.Name())
			_ = wfLogger.Control(idx, step, models.StepStatusFailed)
			s.skipRemaining(wfLogger, swf, idx+1)
			return s.db.StatusTimeout(wid, s.n)
		}

		if step.Tolerated() {
			l.Warn("step failed but is tolerated", "step", step.Name(), "error", err)
			_ = wfLogger.Control(idx, step, models.StepStatusTolerated)
			continue
		}

		l.Error("step failed", "step", step.Name(), "error", err)
		_ = wfLogger.Control(idx, step, models.StepStatusFailed)
		s.skipRemaining(wfLogger, swf, idx+1)

		var exitErr *engine.ExitError
		exitCode := int64(-1)
		if errors.As(err, &exitErr) {
			exitCode = exitErr.Code
		}
		reason := err.Error()
		if errors.Is(err, engine.ErrOOMKilled) {
			reason = fmt.Sprintf("step %q was oom killed", step.Name())
		}
		return s.db.StatusFailed(wid, reason, exitCode, s.n)
	}

	l.Info("workflow success")
	return s.db.StatusSuccess(wid, s.n)
}

func (s *Loom) skipRemaining(wfLogger *models.WorkflowLogger, swf *models.Workflow, from int) {
	for idx := from; idx < len(swf.Steps); idx++ {
		_ = wfLogger.Control(idx, swf.Steps[idx], models.StepStatusSkipped)
	}
}

// workflowSecrets fetches the repo's secrets for injection as env
// vars. A secrets backend failure degrades to an empty set; the
// workflow still runs.
func (s *Loom) workflowSecrets(ctx context.Context, tr workflow.TriggerMetadata) []secrets.UnlockedSecret {
	if s.secrets == nil || tr.Repo == nil {
		return nil
	}

	repo := secrets.OwnerSlashRepo(path.Join(tr.Repo.Owner, tr.Repo.Name))
	unlocked, err := s.secrets.GetSecretsUnlocked(ctx, repo)
	if err != nil {
		s.l.Error("failed to fetch secrets", "repo", repo, "error", err)
		return nil
	}

	return unlocked
}

// markSkipped records skipped statuses for workflows of a vetoed
// pipeline so subscribers see a terminal state instead of silence.
func (s *Loom) markSkipped(pid models.PipelineId, p workflow.Pipeline) {
	for _, wf := range p {
		wid := models.WorkflowId{PipelineId: pid, Name: wf.Name}
		if err := s.db.StatusSkipped(wid, s.n); err != nil {
			s.l.Error("failed to record skipped status", "workflow", wid, "error", err)
		}
	}
}
