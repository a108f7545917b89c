package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/run-ci/pulse/github"
	"github.com/run-ci/pulse/pipeline"
	"github.com/run-ci/pulse/pulsefile"
	"github.com/run-ci/pulse/store"
	"github.com/run-ci/pulse/worker"
	"github.com/sirupsen/logrus"
)

// errNoPulsefile means there's no pipeline to run for a repository.
var errNoPulsefile = errors.New("no pulsefile for repository")

func (srv *Server) handleGitHubWebhook(rw http.ResponseWriter, req *http.Request) {
	reqID := req.Context().Value(keyReqID).(string)
	eventType := github.EventType(req)
	logger := logger.WithFields(logrus.Fields{
		"request_id": reqID,
		"event_type": eventType,
		"delivery":   req.Header.Get("X-GitHub-Delivery"),
	})

	logger.Debug("reading webhook payload")
	payload, err := github.ReadPayload(req, srv.webhooksecret)
	if err != nil {
		logger.WithError(err).Error("unable to read webhook payload")
		webhooksTotal.WithLabelValues(eventType, outcomeRejected).Inc()

		writeErrResp(rw, err, http.StatusUnauthorized)
		return
	}

	ev, err := github.ParseEvent(eventType, payload)
	if err == github.ErrUnsupportedEvent {
		logger.Info("ignoring unsupported event")
		webhooksTotal.WithLabelValues(eventType, outcomeIgnored).Inc()

		writeResp(rw, logger, map[string]string{"message": "event ignored"}, http.StatusOK)
		return
	}
	if err != nil {
		logger.WithError(err).Error("unable to parse webhook payload")
		webhooksTotal.WithLabelValues(eventType, outcomeMalformed).Inc()

		writeErrResp(rw, err, http.StatusBadRequest)
		return
	}

	logger = logger.WithFields(logrus.Fields{
		"repo":  ev.Repository.FullName,
		"event": ev.Kind,
	})

	src, err := srv.resolvePulsefile(req, logger, ev)
	if err == errNoPulsefile {
		logger.Info("no pulsefile, nothing to run")
		webhooksTotal.WithLabelValues(eventType, outcomeNoPipeline).Inc()

		writeResp(rw, logger, map[string]string{"message": err.Error()}, http.StatusOK)
		return
	}
	if err != nil {
		logger.WithError(err).Error("unable to resolve pulsefile")
		webhooksTotal.WithLabelValues(eventType, outcomeFetchError).Inc()

		writeErrResp(rw, err, http.StatusBadGateway)
		return
	}

	def, err := pulsefile.Parse(src)
	if err != nil {
		logger.WithError(err).Error("unable to parse pulsefile")
		webhooksTotal.WithLabelValues(eventType, outcomeInvalid).Inc()

		writeErrResp(rw, err, http.StatusUnprocessableEntity)
		return
	}

	buf, err := json.Marshal(worker.Job{Definition: def, Event: ev})
	if err != nil {
		logger.WithError(err).Error("unable to marshal job")

		writeErrResp(rw, err, http.StatusInternalServerError)
		return
	}

	logger.WithField("pipeline", def.Name).Info("dispatching job")
	webhooksTotal.WithLabelValues(eventType, outcomeDispatched).Inc()

	// The delivery has been accepted at this point. A job that can't be
	// queued is logged, not reported to GitHub.
	go sendWithBackoff(logger, srv.jobs, buf)

	writeResp(rw, logger, map[string]string{
		"message":  "job dispatched",
		"pipeline": def.Name,
	}, http.StatusAccepted)
}

// resolvePulsefile prefers the Pulsefile registered for the repository
// and falls back to the one in the repository itself.
func (srv *Server) resolvePulsefile(req *http.Request, logger *logrus.Entry, ev pipeline.GitEvent) (string, error) {
	repo, err := srv.st.GetRepo(ev.Repository.FullName)
	if err == nil {
		logger.Debug("using registered pulsefile")
		return repo.Pulsefile, nil
	}
	if err != store.ErrRepoNotFound {
		return "", err
	}

	if srv.fetcher == nil {
		return "", errNoPulsefile
	}

	logger.Debug("fetching pulsefile from repository")
	src, err := srv.fetcher.FetchPulsefile(req.Context(), ev.Repository)
	if err == github.ErrPulsefileNotFound {
		return "", errNoPulsefile
	}

	return src, err
}
