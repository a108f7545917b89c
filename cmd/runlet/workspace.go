package main

import (
	"fmt"
	"io/ioutil"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/run-ci/pulse/pipeline"
	"github.com/run-ci/pulse/runner"
)

// workspaceEngine runs every job in a new directory holding a clone of
// the event's repository. The clone isn't one of the pipeline's steps, so
// it never shows up in the step results. A failed clone fails the
// execution before any step runs.
type workspaceEngine struct {
	// root is where workspaces are created. Empty means the system's
	// temporary directory.
	root string
}

func (e *workspaceEngine) Execute(def pipeline.Definition, ev pipeline.GitEvent) pipeline.Execution {
	logger := logger.WithField("repository", ev.Repository.FullName)

	dir, err := ioutil.TempDir(e.root, fmt.Sprintf("runlet.%v.", uuid.New()))
	if err != nil {
		logger.WithError(err).Error("unable to create workspace, running in place")
		return runner.NewEngine(e.root).Execute(def, ev)
	}
	defer func() {
		logger.WithField("dir", dir).Debug("removing workspace")
		os.RemoveAll(dir)
	}()

	if ev.Repository.CloneURL != "" && len(def.Steps) > 0 && def.Triggers.Matches(ev) {
		started := time.Now().UTC()

		res := runner.NewExecutor(dir).Run(checkoutStep(ev), dir)
		if res.Status == pipeline.StepFailed {
			logger.WithField("stderr", res.Stderr).Error("unable to check out repository")
			return checkoutFailed(def, ev, started)
		}
	}

	return runner.NewEngine(dir).Execute(def, ev)
}

// checkoutFailed is the record of a pipeline whose repository couldn't be
// cloned. None of its steps ran.
func checkoutFailed(def pipeline.Definition, ev pipeline.GitEvent, started time.Time) pipeline.Execution {
	execution := pipeline.Execution{
		ID:              uuid.New(),
		PipelineName:    def.Name,
		PipelineVersion: def.Version,
		Repository:      ev.Repository,
		GitEvent:        ev,
		Status:          pipeline.StatusFailed,
		StepResults:     []pipeline.StepResult{},
		StartedAt:       started,
	}
	execution.SetEnd()

	return execution
}

// checkoutStep clones the repository into the current directory and
// checks out the event's commit when it has one.
func checkoutStep(ev pipeline.GitEvent) pipeline.Step {
	script := fmt.Sprintf("git clone --quiet %v .", shellQuote(ev.Repository.CloneURL))

	switch {
	case ev.CommitSHA != nil:
		script += fmt.Sprintf(" && git checkout --quiet %v", shellQuote(*ev.CommitSHA))
	case ev.Tag != nil:
		script += fmt.Sprintf(" && git checkout --quiet %v", shellQuote("refs/tags/"+*ev.Tag))
	case ev.Branch != nil && ev.Kind != pipeline.EventBranchDelete:
		script += fmt.Sprintf(" && git checkout --quiet %v", shellQuote(*ev.Branch))
	}

	return pipeline.Step{Name: "checkout", Run: script}
}

func shellQuote(s string) string {
	return "'" + strings.Replace(s, "'", `'\''`, -1) + "'"
}
