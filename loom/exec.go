package loom

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"loomci.dev/loom/config"
	"loomci.dev/loom/db"
	"loomci.dev/loom/engines/docker"
	"loomci.dev/loom/log"
	"loomci.dev/loom/models"
	"loomci.dev/loom/notifier"
	"loomci.dev/loom/workflow"
)

func ExecCommand() *cli.Command {
	return &cli.Command{
		Name:      "exec",
		Usage:     "run a pipeline payload locally, without the server",
		ArgsUsage: "<payload.json>",
		Action:    Exec,
	}
}

// Exec compiles and runs a single pipeline payload synchronously.
// Useful for trying out workflow files without a forge posting them.
func Exec(ctx context.Context, cmd *cli.Command) error {
	logger := log.FromContext(ctx)

	if cmd.Args().Len() != 1 {
		return fmt.Errorf("expected exactly one payload file")
	}

	contents, err := os.ReadFile(cmd.Args().First())
	if err != nil {
		return err
	}

	var payload PipelinePayload
	if err := json.Unmarshal(contents, &payload); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	if payload.Trigger.Repo == nil {
		return fmt.Errorf("trigger carries no repository")
	}

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	d, err := db.Make(cfg.Server.DBPath)
	if err != nil {
		return fmt.Errorf("failed to setup db: %w", err)
	}

	n := notifier.New()

	eng, err := docker.New(ctx, cfg, d)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.Pipelines.LogDir, 0755); err != nil {
		return fmt.Errorf("failed to create log dir: %w", err)
	}

	raw := workflow.RawPipeline{Lockfiles: payload.Lockfiles}
	for _, pw := range payload.Workflows {
		raw.Workflows = append(raw.Workflows, workflow.RawWorkflow{
			Name:     pw.Name,
			Contents: pw.Contents,
		})
	}

	compiler := workflow.Compiler{Trigger: payload.Trigger}
	parsed := compiler.Parse(raw)
	cp := compiler.Compile(parsed, raw.Lockfiles)

	for _, e := range compiler.Diagnostics.Errors {
		logger.Error(e.String())
	}
	for _, warning := range compiler.Diagnostics.Warnings {
		logger.Warn(warning.String())
	}
	if compiler.Diagnostics.IsErr() {
		return fmt.Errorf("pipeline failed to compile")
	}

	s := &Loom{
		db:  d,
		l:   logger,
		n:   &n,
		eng: eng,
		cfg: cfg,
	}

	pid := models.PipelineId{
		Host: payload.Trigger.Repo.Host,
		Id:   uuid.New().String(),
	}

	if err := d.CreatePipeline(pid, payload.Trigger); err != nil {
		return err
	}

	if len(cp.Workflows) == 0 {
		s.markSkipped(pid, parsed)
		logger.Info("pipeline skipped", "reason", workflow.SkipReason(payload.Trigger))
		return nil
	}

	return s.runPipeline(ctx, pid, cp)
}
