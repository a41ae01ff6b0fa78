package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var base = TriggerRepo{Host: "loom.example.com", Owner: "icy", Name: "loom"}

func TestShouldRun_PushAlwaysRuns(t *testing.T) {
	for _, ref := range []string{
		"refs/heads/main",
		"refs/heads/feature/guard",
		"refs/tags/v1.0.0",
	} {
		tr := TriggerMetadata{
			Kind: TriggerKindPush,
			Repo: &base,
			Push: &PushTrigger{Ref: ref},
		}
		assert.True(t, ShouldRun(tr), "push to %s should run", ref)
	}
}

func TestShouldRun_ManualAlwaysRuns(t *testing.T) {
	tr := TriggerMetadata{
		Kind:   TriggerKindManual,
		Repo:   &base,
		Manual: &ManualTrigger{},
	}
	assert.True(t, ShouldRun(tr))
}

func TestShouldRun_SameRepoPullRequestSkips(t *testing.T) {
	src := base // a branch within the same repository
	tr := TriggerMetadata{
		Kind: TriggerKindPullRequest,
		Repo: &base,
		PullRequest: &PullRequestTrigger{
			Source:       &src,
			SourceBranch: "fix-typo",
			TargetBranch: "main",
		},
	}
	assert.False(t, ShouldRun(tr), "same-repo PR duplicates the push event")
}

func TestShouldRun_ForkPullRequestRuns(t *testing.T) {
	src := TriggerRepo{Host: "loom.example.com", Owner: "oppi", Name: "loom"}
	tr := TriggerMetadata{
		Kind: TriggerKindPullRequest,
		Repo: &base,
		PullRequest: &PullRequestTrigger{
			Source:       &src,
			SourceBranch: "fix-typo",
			TargetBranch: "main",
		},
	}
	assert.True(t, ShouldRun(tr), "fork PRs have no covering push event")
}

func TestShouldRun_PullRequestWithoutSourceSkips(t *testing.T) {
	tr := TriggerMetadata{
		Kind:        TriggerKindPullRequest,
		Repo:        &base,
		PullRequest: &PullRequestTrigger{TargetBranch: "main"},
	}
	assert.False(t, ShouldRun(tr))
}
