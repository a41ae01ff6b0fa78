package docker

import (
	"fmt"
	"strings"

	"loomci.dev/loom/models"
	"loomci.dev/loom/workflow"
)

// cloneStep generates the git commands that populate the workspace.
// The working directory is already the workspace when these run.
//
// The generated commands are:
//   - git init
//   - git remote add origin <url>
//   - git fetch --depth=<d> [--recurse-submodules=yes] origin <sha>
//   - git checkout FETCH_HEAD
//
// Pull requests fetch from the source repository (the fork), pushes
// from the repository itself.
func cloneStep(wf workflow.Workflow, tr workflow.TriggerMetadata, dev bool) (Step, error) {
	if wf.CloneOpts.Skip {
		return Step{}, nil
	}

	repo := tr.Repo
	if tr.PullRequest != nil && tr.PullRequest.Source != nil {
		repo = tr.PullRequest.Source
	}
	if repo == nil {
		return Step{}, fmt.Errorf("trigger carries no repository")
	}

	sha := tr.CommitSha()
	if sha == "" && tr.Kind != workflow.TriggerKindManual {
		return Step{}, fmt.Errorf("trigger carries no commit sha")
	}

	fetchArgs := buildFetchArgs(wf.CloneOpts, sha)

	commands := []string{
		"git init",
		fmt.Sprintf("git remote add origin %s", repoURL(*repo, dev)),
		fmt.Sprintf("git fetch %s", strings.Join(fetchArgs, " ")),
		"git checkout FETCH_HEAD",
	}

	return Step{
		kind:    models.StepKindSystem,
		name:    "Clone repository into workspace",
		command: strings.Join(commands, "\n"),
	}, nil
}

func repoURL(repo workflow.TriggerRepo, dev bool) string {
	scheme := "https://"
	host := repo.Host

	// in dev mode the forge runs on localhost, which inside a
	// container is the docker host
	if dev {
		scheme = "http://"
		host = strings.ReplaceAll(host, "localhost", "host.docker.internal")
	}

	return fmt.Sprintf("%s%s/%s/%s", scheme, host, repo.Owner, repo.Name)
}

func buildFetchArgs(clone workflow.CloneOpts, sha string) []string {
	args := []string{}

	// default to a shallow clone
	depth := clone.Depth
	if depth == 0 {
		depth = 1
	}
	args = append(args, fmt.Sprintf("--depth=%d", depth))

	if clone.IncludeSubmodules {
		args = append(args, "--recurse-submodules=yes")
	}

	args = append(args, "origin")
	if sha != "" {
		args = append(args, sha)
	} else {
		// manual triggers have no pinned commit; fetch HEAD
		args = append(args, "HEAD")
	}

	return args
}

// toolStep installs a declared tool only when its binary is absent.
// "Already installed" is success by construction; an install that
// genuinely fails (network, permissions, registry) fails the step.
func toolStep(t workflow.Tool) Step {
	command := fmt.Sprintf(
		`if command -v %[1]s >/dev/null 2>&1; then echo '%[1]s already installed'; else %[2]s; fi`,
		t.Bin, t.Install,
	)

	return Step{
		kind:    models.StepKindSystem,
		name:    fmt.Sprintf("Install %s", t.Bin),
		command: command,
	}
}
