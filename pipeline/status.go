package pipeline

import (
	"fmt"
)

// EventKind is the type of Git event.
type EventKind string

// The event kinds a pipeline can be triggered by.
const (
	EventPush         EventKind = "push"
	EventPullRequest  EventKind = "pull_request"
	EventMerge        EventKind = "merge"
	EventTag          EventKind = "tag"
	EventRelease      EventKind = "release"
	EventBranchCreate EventKind = "branch_create"
	EventBranchDelete EventKind = "branch_delete"
)

// EventKinds lists every supported kind.
var EventKinds = []EventKind{
	EventPush,
	EventPullRequest,
	EventMerge,
	EventTag,
	EventRelease,
	EventBranchCreate,
	EventBranchDelete,
}

// ParseEventKind returns the EventKind named by s.
func ParseEventKind(s string) (EventKind, error) {
	for _, k := range EventKinds {
		if string(k) == s {
			return k, nil
		}
	}

	return "", fmt.Errorf("unknown event kind %q", s)
}

// StepStatus is the state of a single step.
type StepStatus string

// Step states.
const (
	StepPending StepStatus = "pending"
	StepRunning StepStatus = "running"
	StepSuccess StepStatus = "success"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// Status is the state of a pipeline execution.
type Status string

// Execution states. Cancelled is never set by the engine itself.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusSkipped   Status = "skipped"
)
