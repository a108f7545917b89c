// Package runner runs pipeline definitions: steps become shell
// subprocesses and the engine turns their results into an execution record.
package runner

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"time"

	"github.com/run-ci/pulse/pipeline"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/encoding/unicode"
)

var logger *logrus.Entry

func init() {
	logger = logrus.WithField("package", "runner")
}

// StepRunner runs a single step and reports how it went. Implementations
// never return an error: failures are recorded on the result.
type StepRunner interface {
	Run(step pipeline.Step, dir string) pipeline.StepResult
}

// Executor runs steps as subprocesses of the host shell.
type Executor struct {
	// WorkDir is used when Run is called without a directory. Empty means
	// the current directory.
	WorkDir string
}

// NewExecutor returns an Executor that runs steps in workdir.
func NewExecutor(workdir string) *Executor {
	return &Executor{WorkDir: workdir}
}

// shellCommand builds the interpreter invocation for the host platform.
func shellCommand(script string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.Command("cmd", "/C", script)
	}

	return exec.Command("sh", "-c", script)
}

// Run executes the step once and blocks until the process exits. The
// environment is inherited. A process that can't be started is reported
// as a failed step with no exit code and the error in Stderr.
func (ex *Executor) Run(step pipeline.Step, dir string) pipeline.StepResult {
	if dir == "" {
		dir = ex.WorkDir
	}

	logger := logger.WithFields(logrus.Fields{
		"step": step.Name,
		"dir":  dir,
	})

	res := pipeline.StepResult{
		StepName:  step.Name,
		Status:    pipeline.StepRunning,
		StartedAt: time.Now().UTC(),
	}

	cmd := shellCommand(step.Run)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Debug("running step command")

	start := time.Now()
	err := cmd.Run()
	res.DurationMS = time.Since(start).Milliseconds()

	end := time.Now().UTC()
	res.CompletedAt = &end
	res.Stdout = decodeLossy(stdout.Bytes())
	res.Stderr = decodeLossy(stderr.Bytes())

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		code := 0
		res.ExitCode = &code
		res.Status = pipeline.StepSuccess
	case errors.As(err, &exitErr):
		res.Status = pipeline.StepFailed
		// -1 means the process was killed by a signal.
		if code := exitErr.ExitCode(); code >= 0 {
			res.ExitCode = &code
		}
	default:
		logger.WithError(err).Error("unable to start step command")

		res.Status = pipeline.StepFailed
		res.Stdout = ""
		res.Stderr = fmt.Sprintf("failed to execute command: %v", err)
	}

	logger.WithFields(logrus.Fields{
		"status":      res.Status,
		"duration_ms": res.DurationMS,
	}).Info("step finished")

	return res
}

// decodeLossy turns process output into text, replacing invalid UTF-8
// sequences instead of failing.
func decodeLossy(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}

	buf, err := unicode.UTF8.NewDecoder().Bytes(raw)
	if err != nil {
		logger.WithError(err).Debug("unable to decode output")
		return string(bytes.ToValidUTF8(raw, []byte("�")))
	}

	return string(buf)
}
