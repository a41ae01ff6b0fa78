package models

// Step is a single named unit of work in a workflow's ordered
// sequence.
type Step interface {
	Name() string
	Command() string
	Kind() StepKind
	// Tolerated steps record their failure and let the sequence
	// continue instead of aborting it.
	Tolerated() bool
}

type StepKind int

const (
	// steps injected by the runner (clone, tool installs)
	StepKindSystem StepKind = iota
	// steps defined by the user in the workflow file
	StepKindUser
)

// Workflow is a compiled, engine-ready workflow: setup steps already
// prepended, engine-specific fields tucked into Data.
type Workflow struct {
	Steps []Step
	Name  string
	Data  any
}
