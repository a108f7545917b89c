// Package worker runs pipeline jobs handed over by the API server and
// keeps their results.
package worker

import (
	"context"
	"encoding/json"

	"github.com/run-ci/pulse/pipeline"
	"github.com/run-ci/pulse/store"
	"github.com/sirupsen/logrus"
)

var logger *logrus.Entry

func init() {
	logger = logrus.WithField("package", "worker")
}

// Job is a request to run a parsed pipeline for an event.
type Job struct {
	Definition pipeline.Definition `json:"definition"`
	Event      pipeline.GitEvent   `json:"event"`
}

// Executor is the part of runner.Engine a Worker needs.
type Executor interface {
	Execute(def pipeline.Definition, ev pipeline.GitEvent) pipeline.Execution
}

// Worker runs jobs one at a time. Run several Workers, or several
// Consume loops on one Worker, to run jobs side by side.
type Worker struct {
	Engine Executor

	// Store is optional. Without it executions are only announced on
	// Notify.
	Store store.ExecutionStore

	// Notify receives every finished execution as JSON. It's optional.
	Notify chan<- []byte
}

// New returns a Worker that saves executions in st when it isn't nil.
func New(engine Executor, st store.ExecutionStore, notify chan<- []byte) *Worker {
	return &Worker{
		Engine: engine,
		Store:  st,
		Notify: notify,
	}
}

// Handle runs the job and saves the execution. The execution is returned
// even when saving it fails.
func (w *Worker) Handle(job Job) (pipeline.Execution, error) {
	execution := w.Engine.Execute(job.Definition, job.Event)
	observe(execution)

	logger := logger.WithFields(logrus.Fields{
		"execution_id": execution.ID,
		"pipeline":     execution.PipelineName,
		"status":       execution.Status,
	})

	if w.Store != nil {
		if err := w.Store.SaveExecution(execution); err != nil {
			logger.WithError(err).Error("unable to save execution")
			return execution, err
		}
	}

	if w.Notify != nil {
		buf, err := json.Marshal(execution)
		if err != nil {
			logger.WithError(err).Error("unable to marshal execution")
			return execution, err
		}

		w.Notify <- buf
	}

	logger.Debug("job handled")
	return execution, nil
}

// Consume handles jobs from ch until ctx is done or ch is closed.
// Malformed jobs are logged and dropped.
func (w *Worker) Consume(ctx context.Context, ch <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-ch:
			if !ok {
				logger.Debug("job channel closed")
				return nil
			}

			var job Job
			if err := json.Unmarshal(raw, &job); err != nil {
				logger.WithError(err).Error("unable to unmarshal job")
				malformedJobsTotal.Inc()
				continue
			}

			w.Handle(job)
		}
	}
}
