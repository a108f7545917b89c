package http

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/run-ci/pulse/store"
)

func (srv *Server) handleGetExecutions(rw http.ResponseWriter, req *http.Request) {
	reqID := req.Context().Value(keyReqID).(string)
	logger := logger.WithField("request_id", reqID)

	logger.Debug("retrieving executions from store")

	execs, err := srv.st.ListExecutions()
	if err != nil {
		logger.WithError(err).Error("unable to retrieve executions")

		writeErrResp(rw, err, http.StatusInternalServerError)
		return
	}

	writeResp(rw, logger, execs, http.StatusOK)
}

func (srv *Server) handleGetExecution(rw http.ResponseWriter, req *http.Request) {
	reqID := req.Context().Value(keyReqID).(string)
	logger := logger.WithField("request_id", reqID)

	logger.Debug("checking mux vars for id")
	vars := mux.Vars(req)

	var raw string
	var ok bool
	if raw, ok = vars["id"]; !ok || raw == "" {
		err := errors.New("missing parameter 'id' from request")
		logger.WithError(err).Error("unable to complete request")

		writeErrResp(rw, err, http.StatusBadRequest)
		return
	}

	logger.Debug("parsing id")

	id, err := uuid.Parse(raw)
	if err != nil {
		logger.WithError(err).Error("unable to parse id as uuid")

		writeErrResp(rw, err, http.StatusBadRequest)
		return
	}

	logger = logger.WithField("execution_id", id)
	logger.Debug("retrieving execution from store")

	execution, err := srv.st.GetExecution(id)
	if err == store.ErrExecutionNotFound {
		logger.WithError(err).Debug("no such execution")

		writeErrResp(rw, err, http.StatusNotFound)
		return
	}
	if err != nil {
		logger.WithError(err).Error("unable to retrieve execution")

		writeErrResp(rw, err, http.StatusInternalServerError)
		return
	}

	writeResp(rw, logger, execution, http.StatusOK)
}
