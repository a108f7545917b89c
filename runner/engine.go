package runner

import (
	"time"

	"github.com/google/uuid"
	"github.com/run-ci/pulse/pipeline"
	"github.com/run-ci/pulse/pulsefile"
	"github.com/sirupsen/logrus"
)

// Engine runs pipeline definitions against Git events. It keeps no state
// between executions, so one Engine can serve concurrent callers.
type Engine struct {
	Steps   StepRunner
	WorkDir string
}

// NewEngine returns an Engine that runs steps as shell subprocesses in
// workdir.
func NewEngine(workdir string) *Engine {
	return &Engine{
		Steps:   NewExecutor(workdir),
		WorkDir: workdir,
	}
}

// ExecuteFromPulsefile parses src and executes the result. The only error
// it returns is the parse error.
func (e *Engine) ExecuteFromPulsefile(src string, ev pipeline.GitEvent) (pipeline.Execution, error) {
	def, err := pulsefile.Parse(src)
	if err != nil {
		return pipeline.Execution{}, err
	}

	return e.Execute(def, ev), nil
}

// Execute runs def for ev and returns the finished record.
//
// A pipeline whose triggers don't match ev is Skipped without running
// anything. Otherwise steps run one after the other. A failed step stops
// the pipeline unless it allows failure, and the steps after it don't
// appear in the record at all.
func (e *Engine) Execute(def pipeline.Definition, ev pipeline.GitEvent) pipeline.Execution {
	execution := pipeline.Execution{
		ID:              uuid.New(),
		PipelineName:    def.Name,
		PipelineVersion: def.Version,
		Repository:      ev.Repository,
		GitEvent:        ev,
		Status:          pipeline.StatusPending,
		StepResults:     []pipeline.StepResult{},
		StartedAt:       time.Now().UTC(),
	}

	logger := logger.WithFields(logrus.Fields{
		"execution_id": execution.ID,
		"pipeline":     def.Name,
		"repository":   ev.Repository.FullName,
		"event":        ev.Kind,
	})

	logger.Info("starting pipeline execution")

	if !def.Triggers.Matches(ev) {
		logger.Info("event doesn't match pipeline triggers, skipping")

		execution.Status = pipeline.StatusSkipped
		execution.SetEnd()
		return execution
	}

	execution.Status = pipeline.StatusRunning

	for _, step := range def.Steps {
		logger := logger.WithField("step", step.Name)
		logger.Info("executing step")

		res := e.Steps.Run(step, e.WorkDir)
		execution.StepResults = append(execution.StepResults, res)

		if res.Status == pipeline.StepFailed && !step.AllowFailure {
			logger.Warn("step failed and doesn't allow failure, stopping pipeline")

			execution.Status = pipeline.StatusFailed
			break
		}

		if res.Status == pipeline.StepFailed {
			logger.Warn("step failed, continuing because failure is allowed")
		}
	}

	if execution.Status == pipeline.StatusRunning {
		execution.Status = finalStatus(def.Steps, execution.StepResults)
	}

	execution.SetEnd()

	logger.WithField("status", execution.Status).Info("pipeline execution completed")

	return execution
}

// finalStatus decides the status of a pipeline that ran every step. Only
// failures that were allowed can be left at this point, and those don't
// fail the pipeline.
func finalStatus(steps []pipeline.Step, results []pipeline.StepResult) pipeline.Status {
	// An allowed failure leaves the pipeline successful.
	for i, res := range results {
		if res.Status == pipeline.StepFailed && !steps[i].AllowFailure {
			return pipeline.StatusFailed
		}
	}

	return pipeline.StatusSuccess
}
