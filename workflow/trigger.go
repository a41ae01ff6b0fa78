package workflow

import "path"

type TriggerKind string

const (
	TriggerKindPush        TriggerKind = "push"
	TriggerKindPullRequest TriggerKind = "pull_request"
	TriggerKindManual      TriggerKind = "manual"
)

// TriggerRepo identifies a repository on a forge host.
type TriggerRepo struct {
	Host  string `json:"host"`
	Owner string `json:"owner"`
	Name  string `json:"name"`
}

// FullName is the owner-qualified repository name, e.g. "icy/loom".
// Two repositories with the same FullName on the same host are the
// same repository.
func (r TriggerRepo) FullName() string {
	return path.Join(r.Owner, r.Name)
}

// Key is the identifier secrets are scoped under.
func (r TriggerRepo) Key() string {
	return r.FullName()
}

type PushTrigger struct {
	Ref    string `json:"ref"`
	OldSha string `json:"old_sha"`
	NewSha string `json:"new_sha"`
}

type PullRequestTrigger struct {
	// the repository the pull request originates from; for a fork this
	// differs from the target repository on TriggerMetadata.Repo
	Source       *TriggerRepo `json:"source"`
	SourceBranch string       `json:"source_branch"`
	TargetBranch string       `json:"target_branch"`
	SourceSha    string       `json:"source_sha"`
	Action       string       `json:"action"`
}

type ManualTrigger struct {
	Inputs map[string]string `json:"inputs,omitempty"`
}

// TriggerMetadata describes the event that caused a pipeline. Exactly
// one of Push, PullRequest and Manual is set, matching Kind.
type TriggerMetadata struct {
	Kind        TriggerKind         `json:"kind"`
	Repo        *TriggerRepo        `json:"repo"`
	Push        *PushTrigger        `json:"push,omitempty"`
	PullRequest *PullRequestTrigger `json:"pull_request,omitempty"`
	Manual      *ManualTrigger      `json:"manual,omitempty"`
}

// CommitSha returns the commit the pipeline should build, per trigger
// kind. Manual triggers have no pinned commit and return "".
func (t TriggerMetadata) CommitSha() string {
	switch t.Kind {
	case TriggerKindPush:
		if t.Push != nil {
			return t.Push.NewSha
		}
	case TriggerKindPullRequest:
		if t.PullRequest != nil {
			return t.PullRequest.SourceSha
		}
	}
	return ""
}
