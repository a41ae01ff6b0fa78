package workflow

import (
	"errors"
	"fmt"
)

type RawWorkflow struct {
	Name     string
	Contents []byte
}

// RawPipeline is what a forge ships alongside a trigger: the repo's
// workflow files, plus the contents of any lockfiles workflows may
// derive cache keys from.
type RawPipeline struct {
	Workflows []RawWorkflow
	Lockfiles map[string][]byte
}

// Compiled is a pipeline ready for a runner: only workflows that
// matched the trigger, with lockfile contents carried along for cache
// key derivation.
type Compiled struct {
	Trigger   TriggerMetadata
	Workflows []Workflow
	Lockfiles map[string][]byte
}

type Compiler struct {
	Trigger     TriggerMetadata
	Diagnostics Diagnostics
}

type Diagnostics struct {
	Errors   []Error
	Warnings []Warning
}

func (d *Diagnostics) IsEmpty() bool {
	return len(d.Errors) == 0 && len(d.Warnings) == 0
}

func (d *Diagnostics) Combine(o Diagnostics) {
	d.Errors = append(d.Errors, o.Errors...)
	d.Warnings = append(d.Warnings, o.Warnings...)
}

func (d *Diagnostics) AddWarning(path string, kind WarningKind, reason string) {
	d.Warnings = append(d.Warnings, Warning{path, kind, reason})
}

func (d *Diagnostics) AddError(path string, err error) {
	d.Errors = append(d.Errors, Error{path, err})
}

func (d Diagnostics) IsErr() bool {
	return len(d.Errors) != 0
}

type Error struct {
	Path  string
	Error error
}

func (e Error) String() string {
	return fmt.Sprintf("error: %s: %s", e.Path, e.Error.Error())
}

type Warning struct {
	Path   string
	Type   WarningKind
	Reason string
}

func (w Warning) String() string {
	return fmt.Sprintf("warning: %s: %s: %s", w.Path, w.Type, w.Reason)
}

var MissingImage error = errors.New("missing image")

type WarningKind string

var (
	PipelineSkipped      WarningKind = "pipeline skipped"
	WorkflowSkipped      WarningKind = "workflow skipped"
	InvalidConfiguration WarningKind = "invalid configuration"
)

func (compiler *Compiler) Parse(p RawPipeline) Pipeline {
	var pp Pipeline

	for _, w := range p.Workflows {
		wf, err := FromFile(w.Name, w.Contents)
		if err != nil {
			compiler.Diagnostics.AddError(w.Name, err)
			continue
		}

		pp = append(pp, wf)
	}

	return pp
}

// Compile turns a repository's workflow files into a pipeline a runner
// accepts. The trigger guard is applied first: a vetoed trigger yields
// an empty pipeline and a diagnostic, never an error.
func (compiler *Compiler) Compile(p Pipeline, lockfiles map[string][]byte) Compiled {
	cp := Compiled{
		Trigger:   compiler.Trigger,
		Lockfiles: lockfiles,
	}

	if !ShouldRun(compiler.Trigger) {
		compiler.Diagnostics.AddWarning(
			"",
			PipelineSkipped,
			SkipReason(compiler.Trigger),
		)
		return cp
	}

	for _, wf := range p {
		cw := compiler.compileWorkflow(wf, lockfiles)

		if cw == nil {
			continue
		}

		cp.Workflows = append(cp.Workflows, *cw)
	}

	return cp
}

func (compiler *Compiler) compileWorkflow(w Workflow, lockfiles map[string][]byte) *Workflow {
	if !w.Match(compiler.Trigger) {
		compiler.Diagnostics.AddWarning(
			w.Name,
			WorkflowSkipped,
			fmt.Sprintf("did not match trigger %s", compiler.Trigger.Kind),
		)
		return nil
	}

	compiler.analyzeCloneOptions(w)
	compiler.analyzeCache(w, lockfiles)

	if w.Image == "" {
		compiler.Diagnostics.AddError(w.Name, MissingImage)
		return nil
	}

	if len(w.Steps) == 0 {
		compiler.Diagnostics.AddError(w.Name, ErrNoSteps)
		return nil
	}

	for _, t := range w.Tools {
		if t.Bin == "" || t.Install == "" {
			compiler.Diagnostics.AddError(
				w.Name,
				fmt.Errorf("tool needs both `bin` and `install`"),
			)
			return nil
		}
	}

	return &w
}

func (compiler *Compiler) analyzeCloneOptions(w Workflow) {
	if w.CloneOpts.Skip && w.CloneOpts.IncludeSubmodules {
		compiler.Diagnostics.AddWarning(
			w.Name,
			InvalidConfiguration,
			"cannot apply `clone.skip` and `clone.submodules`",
		)
	}

	if w.CloneOpts.Skip && w.CloneOpts.Depth > 0 {
		compiler.Diagnostics.AddWarning(
			w.Name,
			InvalidConfiguration,
			"cannot apply `clone.skip` and `clone.depth`",
		)
	}
}

func (compiler *Compiler) analyzeCache(w Workflow, lockfiles map[string][]byte) {
	if w.Cache == nil {
		return
	}

	if w.Cache.Lockfile == "" || len(w.Cache.Paths) == 0 {
		compiler.Diagnostics.AddError(
			w.Name,
			fmt.Errorf("cache needs both `lockfile` and `paths`"),
		)
		return
	}

	if _, ok := lockfiles[w.Cache.Lockfile]; !ok {
		compiler.Diagnostics.AddWarning(
			w.Name,
			InvalidConfiguration,
			fmt.Sprintf("lockfile %s not present in trigger payload, cache disabled", w.Cache.Lockfile),
		)
	}
}
