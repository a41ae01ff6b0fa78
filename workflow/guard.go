package workflow

import "fmt"

// ShouldRun decides whether a pipeline executes at all for a trigger.
//
// Push and manual events always run. Pull-request events run only when
// the pull request originates from a different repository (a fork):
// same-repository pull requests are already covered by the push event
// for the source branch, and running both would duplicate work.
//
// This is a pure predicate; a skip is not a failure.
func ShouldRun(t TriggerMetadata) bool {
	if t.Kind != TriggerKindPullRequest {
		return true
	}

	if t.PullRequest == nil || t.PullRequest.Source == nil || t.Repo == nil {
		// no source repo to compare against; treat as same-repo
		return false
	}

	return t.PullRequest.Source.FullName() != t.Repo.FullName()
}

// SkipReason explains a ShouldRun veto for diagnostics.
func SkipReason(t TriggerMetadata) string {
	if t.Repo == nil {
		return "pull request carries no repository"
	}
	return fmt.Sprintf("pull request from %s is covered by the corresponding push event", t.Repo.FullName())
}
