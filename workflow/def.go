package workflow

import (
	"errors"
	"fmt"
	"path"
	"slices"

	"github.com/go-git/go-git/v5/plumbing"
	"gopkg.in/yaml.v3"
)

// - when a repo is modified, the forge posts a pipeline trigger
// - a repo may carry several workflow files under .loom/workflows/
// - a pipeline is the set of workflows matching the trigger; workflows
//   execute in parallel, the steps within one workflow serially

type (
	Pipeline []Workflow

	// structural representation of a single workflow file
	Workflow struct {
		Name        string            `yaml:"-"` // name of the workflow file
		Image       string            `yaml:"image"`
		When        []Constraint      `yaml:"when"`
		Steps       []Step            `yaml:"steps"`
		Environment map[string]string `yaml:"environment"`
		CloneOpts   CloneOpts         `yaml:"clone"`
		Tools       []Tool            `yaml:"tools"`
		Cache       *CacheConfig      `yaml:"cache"`
	}

	Constraint struct {
		Event  StringList `yaml:"event"`
		Branch StringList `yaml:"branch"` // applies to pushes to branches and to PR target branches
		Tag    StringList `yaml:"tag"`    // glob patterns, applies to pushes to tags
	}

	CloneOpts struct {
		Skip              bool `yaml:"skip"`
		Depth             int  `yaml:"depth"`
		IncludeSubmodules bool `yaml:"submodules"`
	}

	Step struct {
		Name         string            `yaml:"name"`
		Command      string            `yaml:"command"`
		Environment  map[string]string `yaml:"environment"`
		AllowFailure bool              `yaml:"allow_failure"`
	}

	// Tool declares a binary a workflow needs on top of its image.
	// The install command only runs when the binary is absent, so a
	// tool that is already present (from a cache hit, typically) is a
	// no-op rather than a swallowed failure.
	Tool struct {
		Bin     string `yaml:"bin"`
		Install string `yaml:"install"`
	}

	// CacheConfig addresses a reusable directory set by the content
	// hash of a lockfile: same lockfile, same cache.
	CacheConfig struct {
		Name     string     `yaml:"name"`
		Lockfile string     `yaml:"lockfile"`
		Paths    StringList `yaml:"paths"`
	}

	StringList []string
)

var ErrNoSteps = errors.New("workflow has no steps")

func FromFile(name string, contents []byte) (Workflow, error) {
	var wf Workflow

	err := yaml.Unmarshal(contents, &wf)
	if err != nil {
		return wf, err
	}

	wf.Name = name

	return wf, nil
}

// Match reports whether any of the workflow's constraints accept the
// trigger. A workflow without constraints always runs.
func (w *Workflow) Match(trigger TriggerMetadata) bool {
	// manual triggers always run the workflow
	if trigger.Manual != nil {
		return true
	}

	for _, c := range w.When {
		if c.Match(trigger) {
			return true
		}
	}

	return len(w.When) == 0
}

func (c *Constraint) Match(trigger TriggerMetadata) bool {
	if trigger.Manual != nil {
		return true
	}

	match := c.MatchEvent(string(trigger.Kind))

	// branch constraints apply to the PR target branch
	if trigger.PullRequest != nil && len(c.Branch) > 0 {
		match = match && c.MatchBranch(trigger.PullRequest.TargetBranch)
	}

	// ref constraints apply to pushes
	if trigger.Push != nil && (len(c.Branch) > 0 || len(c.Tag) > 0) {
		match = match && c.MatchRef(trigger.Push.Ref)
	}

	return match
}

func (c *Constraint) MatchBranch(branch string) bool {
	return slices.Contains(c.Branch, branch)
}

// MatchRef matches a push ref against the branch list (exact) or the
// tag list (glob patterns).
func (c *Constraint) MatchRef(ref string) bool {
	refName := plumbing.ReferenceName(ref)
	switch {
	case refName.IsBranch():
		return slices.Contains(c.Branch, refName.Short())
	case refName.IsTag():
		for _, pat := range c.Tag {
			if ok, err := path.Match(pat, refName.Short()); err == nil && ok {
				return true
			}
		}
	}
	return false
}

func (c *Constraint) MatchEvent(event string) bool {
	return slices.Contains(c.Event, event)
}

// Custom unmarshaller for StringList
func (s *StringList) UnmarshalYAML(unmarshal func(any) error) error {
	var stringType string
	if err := unmarshal(&stringType); err == nil {
		*s = []string{stringType}
		return nil
	}

	var sliceType []any
	if err := unmarshal(&sliceType); err == nil {
		if sliceType == nil {
			*s = nil
			return nil
		}

		parts := make([]string, len(sliceType))
		for k, v := range sliceType {
			if sv, ok := v.(string); ok {
				parts[k] = sv
			} else {
				return fmt.Errorf("cannot unmarshal '%v' of type %T into a string value", v, v)
			}
		}

		*s = parts
		return nil
	}

	return errors.New("failed to unmarshal StringOrSlice")
}
