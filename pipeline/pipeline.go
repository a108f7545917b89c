// Package pipeline holds the definition of a pipeline as read from a
// Pulsefile, the Git events that can start one and the records produced
// when one runs.
package pipeline

import (
	"time"

	"github.com/google/uuid"
)

// Defaults applied to a definition when the Pulsefile doesn't set them.
const (
	DefaultName    = "default"
	DefaultVersion = "1.0"
)

// Definition is a parsed pipeline. It's never modified after parsing.
type Definition struct {
	Name     string      `json:"name"`
	Version  string      `json:"version"`
	Triggers GitTriggers `json:"triggers"`

	// Steps run in the order they're declared.
	Steps []Step `json:"steps"`
}

// GitTriggers decides which Git events start a pipeline.
type GitTriggers struct {
	OnPush         bool `json:"on_push"`
	OnPullRequest  bool `json:"on_pull_request"`
	OnMerge        bool `json:"on_merge"`
	OnTag          bool `json:"on_tag"`
	OnRelease      bool `json:"on_release"`
	OnBranchCreate bool `json:"on_branch_create"`
	OnBranchDelete bool `json:"on_branch_delete"`

	// Branches holds patterns like "*", "main" or "feature/*". An empty
	// list matches no branch at all.
	Branches []string `json:"branches"`
}

// DefaultGitTriggers returns triggers with every event disabled and a
// branch list that matches everything.
func DefaultGitTriggers() GitTriggers {
	return GitTriggers{
		Branches: []string{"*"},
	}
}

// Step is a single shell command unit of a pipeline.
type Step struct {
	Name         string `json:"name"`
	Run          string `json:"run"`
	AllowFailure bool   `json:"allow_failure"`
}

// Repository identifies the repository an event came from.
type Repository struct {
	Owner         string `json:"owner"`
	Name          string `json:"name"`
	FullName      string `json:"full_name"`
	CloneURL      string `json:"clone_url"`
	DefaultBranch string `json:"default_branch"`
}

// PullRequest carries the pull request details of an event.
type PullRequest struct {
	Number     int    `json:"number"`
	Title      string `json:"title"`
	BaseBranch string `json:"base_branch"`
	HeadBranch string `json:"head_branch"`
	State      string `json:"state"`
}

// GitEvent is an inbound event from source control. It's built by whatever
// received it (webhook handler, CLI), never by the engine.
type GitEvent struct {
	Kind        EventKind    `json:"event_type"`
	Repository  Repository   `json:"repository"`
	Branch      *string      `json:"branch,omitempty"`
	Tag         *string      `json:"tag,omitempty"`
	PullRequest *PullRequest `json:"pull_request,omitempty"`
	CommitSHA   *string      `json:"commit_sha,omitempty"`
	Sender      string       `json:"sender"`
}

// StringPtr is a convenience for filling the optional fields of a GitEvent.
func StringPtr(s string) *string {
	return &s
}

// StepResult is the outcome of running one step.
type StepResult struct {
	StepName    string     `json:"step_name"`
	Status      StepStatus `json:"status"`
	Stdout      string     `json:"stdout"`
	Stderr      string     `json:"stderr"`
	ExitCode    *int       `json:"exit_code"`
	DurationMS  int64      `json:"duration_ms"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

// Execution is the record of one run of a pipeline against one event.
// Only the steps that were attempted show up in StepResults.
type Execution struct {
	ID              uuid.UUID    `json:"id"`
	PipelineName    string       `json:"pipeline_name"`
	PipelineVersion string       `json:"pipeline_version"`
	Repository      Repository   `json:"repository"`
	GitEvent        GitEvent     `json:"git_event"`
	Status          Status       `json:"status"`
	StepResults     []StepResult `json:"step_results"`
	StartedAt       time.Time    `json:"started_at"`
	CompletedAt     *time.Time   `json:"completed_at"`
}

// Finished reports whether the execution has been completed. A finished
// execution is never changed again.
func (e *Execution) Finished() bool {
	return e.CompletedAt != nil
}

// Failed is a convenience method for checking the status for a failure.
func (e *Execution) Failed() bool {
	return e.Status == StatusFailed
}

// SetEnd is a convenience method for setting the completion time pointer.
func (e *Execution) SetEnd() {
	t := time.Now().UTC()
	e.CompletedAt = &t
}
