package http

import (
	"net/http"
	"strconv"

	"github.com/run-ci/pulse/store"
	"github.com/sirupsen/logrus"
)

// defaultStatusLimit is how many executions the status endpoint returns
// when the request doesn't say.
const defaultStatusLimit = 10

func (srv *Server) handlePipelineStatus(rw http.ResponseWriter, req *http.Request) {
	reqID := req.Context().Value(keyReqID).(string)
	logger := logger.WithField("request_id", reqID)

	identifier, err := repoVar(req)
	if err != nil {
		logger.WithError(err).Error("unable to complete request")

		writeErrResp(rw, err, http.StatusBadRequest)
		return
	}

	limit := defaultStatusLimit
	if raw := req.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			logger.WithField("limit", raw).Debug("ignoring invalid limit")
		} else {
			limit = n
		}
	}

	logger = logger.WithFields(logrus.Fields{
		"repo":  identifier,
		"limit": limit,
	})

	logger.Debug("retrieving executions from store")
	execs, err := srv.st.ListExecutionsByRepo(identifier, limit)
	if err != nil {
		logger.WithError(err).Error("unable to retrieve executions")

		writeErrResp(rw, err, http.StatusInternalServerError)
		return
	}

	if len(execs) == 0 {
		_, err := srv.st.GetRepo(identifier)
		if err == store.ErrRepoNotFound {
			logger.Debug("repo has no executions and isn't registered")

			writeErrResp(rw, err, http.StatusNotFound)
			return
		}
		if err != nil {
			logger.WithError(err).Error("unable to retrieve repo")

			writeErrResp(rw, err, http.StatusInternalServerError)
			return
		}
	}

	writeResp(rw, logger, execs, http.StatusOK)
}
