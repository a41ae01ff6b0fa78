package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/dustin/go-humanize"

	"loomci.dev/loom/cache"
	"loomci.dev/loom/config"
	"loomci.dev/loom/db"
	"loomci.dev/loom/engine"
	"loomci.dev/loom/log"
	"loomci.dev/loom/models"
	"loomci.dev/loom/secrets"
	"loomci.dev/loom/workflow"
)

const (
	workspaceDir = "/loom/workspace"
)

type cleanupFunc func(context.Context) error

type Engine struct {
	docker client.APIClient
	l      *slog.Logger
	cfg    *config.Config
	db     *db.DB

	cleanupMu sync.Mutex
	cleanup   map[string][]cleanupFunc
}

type Step struct {
	name        string
	kind        models.StepKind
	command     string
	environment map[string]string
	tolerated   bool
}

func (s Step) Name() string {
	return s.name
}

func (s Step) Command() string {
	return s.command
}

func (s Step) Kind() models.StepKind {
	return s.kind
}

func (s Step) Tolerated() bool {
	return s.tolerated
}

// engine-specific workflow fields, stashed on models.Workflow.Data
type addlFields struct {
	image      string
	env        map[string]string
	cacheKey   cache.Key // empty when the workflow has no usable cache
	cachePaths []string
}

func New(ctx context.Context, cfg *config.Config, d *db.DB) (*Engine, error) {
	dcli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}

	l := log.FromContext(ctx).With("component", "engine")

	e := &Engine{
		docker: dcli,
		l:      l,
		cfg:    cfg,
		db:     d,
	}

	e.cleanup = make(map[string][]cleanupFunc)

	return e, nil
}

// InitWorkflow turns a compiled workflow into an executable one:
// system steps (clone, tool installs) prepended to the user's steps,
// cache key derived from the lockfile the workflow names.
func (e *Engine) InitWorkflow(wf workflow.Workflow, cp workflow.Compiled) (*models.Workflow, error) {
	swf := &models.Workflow{Name: wf.Name}
	addl := addlFields{
		image: wf.Image,
		env:   wf.Environment,
	}

	cs, err := cloneStep(wf, cp.Trigger, e.cfg.Server.Dev)
	if err != nil {
		return nil, err
	}
	if cs.command != "" {
		swf.Steps = append(swf.Steps, cs)
	}

	for _, t := range wf.Tools {
		swf.Steps = append(swf.Steps, toolStep(t))
	}

	for _, ustep := range wf.Steps {
		swf.Steps = append(swf.Steps, Step{
			name:        ustep.Name,
			kind:        models.StepKindUser,
			command:     ustep.Command,
			environment: ustep.Environment,
			tolerated:   ustep.AllowFailure,
		})
	}

	if wf.Cache != nil {
		if lockfile, ok := cp.Lockfiles[wf.Cache.Lockfile]; ok {
			name := wf.Cache.Name
			if name == "" {
				name = "cache"
			}
			addl.cacheKey = cache.DeriveKey(e.cfg.Pipelines.Platform, wf.Name, name, lockfile)
			addl.cachePaths = wf.Cache.Paths
		}
	}

	swf.Data = addl

	return swf, nil
}

func (e *Engine) WorkflowTimeout() time.Duration {
	workflowTimeoutStr := e.cfg.Pipelines.WorkflowTimeout
	workflowTimeout, err := time.ParseDuration(workflowTimeoutStr)
	if err != nil {
		e.l.Error("failed to parse workflow timeout", "error", err, "timeout", workflowTimeoutStr)
		workflowTimeout = 5 * time.Minute
	}

	return workflowTimeout
}

// SetupWorkflow creates the network and workspace volume for a
// workflow, restores cache volumes, and pulls the image. Workspace and
// network are destroyed when the workflow ends; cache volumes are left
// behind so the next run with the same key finds them populated.
func (e *Engine) SetupWorkflow(ctx context.Context, wid models.WorkflowId, wf *models.Workflow) error {
	e.l.Info("setting up workflow", "workflow", wid)

	_, err := e.docker.VolumeCreate(ctx, volume.CreateOptions{
		Name:   workspaceVolume(wid),
		Driver: "local",
	})
	if err != nil {
		return err
	}
	e.registerCleanup(wid, func(ctx context.Context) error {
		return e.docker.VolumeRemove(ctx, workspaceVolume(wid), true)
	})

	_, err = e.docker.NetworkCreate(ctx, networkName(wid), network.CreateOptions{
		Driver: "bridge",
	})
	if err != nil {
		return err
	}
	e.registerCleanup(wid, func(ctx context.Context) error {
		return e.docker.NetworkRemove(ctx, networkName(wid))
	})

	addl := wf.Data.(addlFields)

	if addl.cacheKey != "" {
		if err := e.restoreCache(ctx, wid, addl); err != nil {
			return err
		}
	}

	err = retry.Do(
		func() error {
			reader, err := e.docker.ImagePull(ctx, addl.image, image.PullOptions{})
			if err != nil {
				return err
			}
			defer reader.Close()
			_, err = io.Copy(os.Stdout, reader)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(3),
	)
	if err != nil {
		e.l.Error("image pull failed!", "image", addl.image, "workflowId", wid, "error", err.Error())
		return fmt.Errorf("pulling image: %w", err)
	}

	return nil
}

// restoreCache ensures one volume per cached path exists. A key whose
// volumes already exist is a hit: the directories come back populated.
// A miss creates empty volumes that the workflow populates and leaves
// behind on exit.
func (e *Engine) restoreCache(ctx context.Context, wid models.WorkflowId, addl addlFields) error {
	hit := true
	for i := range addl.cachePaths {
		name := addl.cacheKey.PathVolume(i)
		if _, err := e.docker.VolumeInspect(ctx, name); err != nil {
			hit = false
			if _, err := e.docker.VolumeCreate(ctx, volume.CreateOptions{
				Name:   name,
				Driver: "local",
			}); err != nil {
				return fmt.Errorf("creating cache volume: %w", err)
			}
		}
	}

	if hit {
		e.l.Info("cache hit", "workflow", wid, "key", addl.cacheKey)
	} else {
		e.l.Info("cache miss", "workflow", wid, "key", addl.cacheKey)
	}

	if err := e.db.TouchCacheEntry(addl.cacheKey); err != nil {
		e.l.Error("failed to record cache use", "key", addl.cacheKey, "error", err)
	}

	return nil
}

func (e *Engine) RunStep(ctx context.Context, wid models.WorkflowId, w *models.Workflow, idx int, secrets []secrets.UnlockedSecret, wfLogger *models.WorkflowLogger) error {
	addl := w.Data.(addlFields)

	workflowEnvs := ConstructEnvs(addl.env)
	for _, s := range secrets {
		workflowEnvs.AddEnv(s.Key, s.Value)
	}

	step := w.Steps[idx].(Step)

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	envs := append(EnvVars(nil), workflowEnvs...)
	for k, v := range step.environment {
		envs.AddEnv(k, v)
	}
	envs.AddEnv("HOME", workspaceDir)

	resp, err := e.docker.ContainerCreate(ctx, &container.Config{
		Image:      addl.image,
		Cmd:        []string{"bash", "-c", step.command},
		WorkingDir: workspaceDir,
		Tty:        false,
		Hostname:   "loom",
		Env:        envs.Slice(),
	}, hostConfig(wid, addl), nil, nil, "")
	if err != nil {
		return fmt.Errorf("creating container: %w", err)
	}
	defer e.DestroyStep(context.WithoutCancel(ctx), resp.ID)

	err = e.docker.NetworkConnect(ctx, networkName(wid), resp.ID, nil)
	if err != nil {
		return fmt.Errorf("connecting network: %w", err)
	}

	err = e.docker.ContainerStart(ctx, resp.ID, container.StartOptions{})
	if err != nil {
		return err
	}
	e.l.Info("started container", "name", resp.ID, "step", step.Name())

	// start tailing logs in background
	tailDone := make(chan error, 1)
	go func() {
		tailDone <- e.tailStep(ctx, wfLogger, resp.ID, idx)
	}()

	// wait for container completion or timeout
	waitDone := make(chan struct{})
	var state *container.State
	var waitErr error

	go func() {
		defer close(waitDone)
		state, waitErr = e.WaitStep(ctx, resp.ID)
	}()

	select {
	case <-waitDone:
		<-tailDone

	case <-ctx.Done():
		e.l.Warn("step timed out; killing container", "container", resp.ID, "step", step.Name())
		if err := e.DestroyStep(context.Background(), resp.ID); err != nil {
			e.l.Error("failed to destroy step", "container", resp.ID, "error", err)
		}

		// wait for both goroutines to finish
		<-waitDone
		<-tailDone

		return engine.ErrTimedOut
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if waitErr != nil {
		return waitErr
	}

	if state.ExitCode != 0 {
		e.l.Error("step failed!", "workflow_id", wid.String(), "step", step.Name(), "exit_code", state.ExitCode, "oom_killed", state.OOMKilled)
		if state.OOMKilled {
			return engine.ErrOOMKilled
		}
		return &engine.ExitError{Code: int64(state.ExitCode)}
	}

	return nil
}

func (e *Engine) WaitStep(ctx context.Context, containerID string) (*container.State, error) {
	wait, errCh := e.docker.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return nil, err
		}
	case <-wait:
	}

	info, err := e.docker.ContainerInspect(ctx, containerID)
	if err != nil {
		return nil, err
	}

	return info.State, nil
}

func (e *Engine) tailStep(ctx context.Context, wfLogger *models.WorkflowLogger, containerID string, stepIdx int) error {
	if wfLogger == nil {
		return nil
	}

	logs, err := e.docker.ContainerLogs(ctx, containerID, container.LogsOptions{
		Follow:     true,
		ShowStdout: true,
		ShowStderr: true,
		Details:    false,
		Timestamps: false,
	})
	if err != nil {
		return err
	}
	defer logs.Close()

	_, err = stdcopy.StdCopy(
		wfLogger.DataWriter(stepIdx, "stdout"),
		wfLogger.DataWriter(stepIdx, "stderr"),
		logs,
	)
	if err != nil && err != io.EOF && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("failed to copy logs: %w", err)
	}

	return nil
}

func (e *Engine) DestroyStep(ctx context.Context, containerID string) error {
	err := e.docker.ContainerKill(ctx, containerID, "9") // SIGKILL
	if err != nil && !isErrContainerNotFoundOrNotRunning(err) {
		return err
	}

	if err := e.docker.ContainerRemove(ctx, containerID, container.RemoveOptions{
		RemoveVolumes: true,
		RemoveLinks:   false,
		Force:         false,
	}); err != nil && !isErrContainerNotFoundOrNotRunning(err) {
		return err
	}

	return nil
}

func (e *Engine) DestroyWorkflow(ctx context.Context, wid models.WorkflowId) error {
	e.cleanupMu.Lock()
	key := wid.String()

	fns := e.cleanup[key]
	delete(e.cleanup, key)
	e.cleanupMu.Unlock()

	for _, fn := range fns {
		if err := fn(ctx); err != nil {
			e.l.Error("failed to cleanup workflow resource", "workflowId", wid, "error", err)
		}
	}
	return nil
}

// PruneCaches removes cache volumes whose key has not been used for
// maxAge. Stale entries whose volumes are already gone are dropped
// from bookkeeping too.
func (e *Engine) PruneCaches(ctx context.Context, maxAge time.Duration) error {
	entries, err := e.db.StaleCacheEntries(time.Now().Add(-maxAge))
	if err != nil {
		return fmt.Errorf("listing stale cache entries: %w", err)
	}

	for _, entry := range entries {
		e.l.Info("pruning cache", "key", entry.Key, "last_used", humanize.Time(entry.LastUsedAt))

		vols, err := e.docker.VolumeList(ctx, volume.ListOptions{
			Filters: filters.NewArgs(filters.Arg("name", entry.Key.Volume())),
		})
		if err != nil {
			return fmt.Errorf("listing cache volumes: %w", err)
		}

		for _, v := range vols.Volumes {
			if err := e.docker.VolumeRemove(ctx, v.Name, true); err != nil {
				e.l.Error("failed to remove cache volume", "volume", v.Name, "error", err)
			}
		}

		if err := e.db.DeleteCacheEntry(entry.Key); err != nil {
			return fmt.Errorf("deleting cache entry: %w", err)
		}
	}

	return nil
}

func (e *Engine) registerCleanup(wid models.WorkflowId, fn cleanupFunc) {
	e.cleanupMu.Lock()
	defer e.cleanupMu.Unlock()

	key := wid.String()
	e.cleanup[key] = append(e.cleanup[key], fn)
}

func workspaceVolume(wid models.WorkflowId) string {
	return fmt.Sprintf("workspace-%s", wid)
}

func networkName(wid models.WorkflowId) string {
	return fmt.Sprintf("workflow-network-%s", wid)
}

// containerPath resolves a cache path to its in-container mount
// target. "~" is the workspace, since HOME points there; relative
// paths are workspace-relative.
func containerPath(p string) string {
	switch {
	case p == "~" || strings.HasPrefix(p, "~/"):
		return path.Join(workspaceDir, strings.TrimPrefix(p, "~"))
	case path.IsAbs(p):
		return p
	default:
		return path.Join(workspaceDir, p)
	}
}

func hostConfig(wid models.WorkflowId, addl addlFields) *container.HostConfig {
	mounts := []mount.Mount{
		{
			Type:   mount.TypeVolume,
			Source: workspaceVolume(wid),
			Target: workspaceDir,
		},
		{
			Type:     mount.TypeTmpfs,
			Target:   "/tmp",
			ReadOnly: false,
			TmpfsOptions: &mount.TmpfsOptions{
				Mode: 0o1777, // world-writeable sticky bit
				Options: [][]string{
					{"exec"},
				},
			},
		},
	}

	for i, p := range addl.cachePaths {
		mounts = append(mounts, mount.Mount{
			Type:   mount.TypeVolume,
			Source: addl.cacheKey.PathVolume(i),
			Target: containerPath(p),
		})
	}

	return &container.HostConfig{
		Mounts:         mounts,
		ReadonlyRootfs: false,
		CapDrop:        []string{"ALL"},
		CapAdd:         []string{"CAP_DAC_OVERRIDE"},
		SecurityOpt:    []string{"no-new-privileges"},
		ExtraHosts:     []string{"host.docker.internal:host-gateway"},
	}
}

// thanks woodpecker
func isErrContainerNotFoundOrNotRunning(err error) bool {
	// Error response from daemon: Cannot kill container: ...: No such container: ...
	// Error response from daemon: Cannot kill container: ...: Container ... is not running"
	// Error response from podman daemon: can only kill running containers. ... is in state exited
	// Error: No such container: ...
	return err != nil && (strings.Contains(err.Error(), "No such container") || strings.Contains(err.Error(), "is not running") || strings.Contains(err.Error(), "can only kill running containers"))
}
