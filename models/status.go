package models

type StatusKind string

const (
	StatusKindPending StatusKind = "pending"
	StatusKindRunning StatusKind = "running"
	StatusKindFailed  StatusKind = "failed"
	StatusKindTimeout StatusKind = "timeout"
	StatusKindSuccess StatusKind = "success"
	StatusKindSkipped StatusKind = "skipped"
)

func (s StatusKind) String() string {
	return string(s)
}

func (s StatusKind) IsStart() bool {
	return s == StatusKindRunning
}

func (s StatusKind) IsFinish() bool {
	switch s {
	case StatusKindFailed, StatusKindTimeout, StatusKindSuccess, StatusKindSkipped:
		return true
	}
	return false
}

// StepStatus is the per-step outcome recorded on workflow log control
// lines.
type StepStatus string

const (
	StepStatusRunning   StepStatus = "running"
	StepStatusPassed    StepStatus = "passed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusTolerated StepStatus = "tolerated"
	StepStatusSkipped   StepStatus = "skipped"
)
