package http

import (
	"encoding/json"
	"errors"
	"io/ioutil"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/run-ci/pulse/github"
	"github.com/run-ci/pulse/pulsefile"
	"github.com/run-ci/pulse/store"
	"github.com/sirupsen/logrus"
)

func (srv *Server) handleRegisterRepo(rw http.ResponseWriter, req *http.Request) {
	reqID := req.Context().Value(keyReqID).(string)
	reqSub := req.Context().Value(keyReqSub).(string)
	logger := logger.WithFields(logrus.Fields{
		"request_id":      reqID,
		"request_subject": reqSub,
	})

	logger.Debug("reading request body")
	buf, err := ioutil.ReadAll(req.Body)
	if err != nil {
		logger.WithError(err).Error("unable to read request body")

		writeErrResp(rw, err, http.StatusInternalServerError)
		return
	}

	logger.Debug("unmarshaling request body")
	var repo store.RegisteredRepo
	err = json.Unmarshal(buf, &repo)
	if err != nil {
		logger.WithError(err).Error("unable to unmarshal request body")

		writeErrResp(rw, err, http.StatusBadRequest)
		return
	}

	if repo.Identifier == "" {
		repo.Identifier, err = github.Identifier(repo.URL)
		if err != nil {
			logger.WithError(err).Error("unable to work out repository identifier")

			writeErrResp(rw, err, http.StatusBadRequest)
			return
		}
	}

	if repo.Type == "" {
		repo.Type = store.RepoGitHub
	}

	logger = logger.WithField("repo", repo.Identifier)

	logger.Debug("validating pulsefile")
	if _, err := pulsefile.Parse(repo.Pulsefile); err != nil {
		logger.WithError(err).Error("rejecting invalid pulsefile")

		writeErrResp(rw, err, http.StatusBadRequest)
		return
	}

	logger.Info("registering repo")
	err = srv.st.RegisterRepo(repo)
	if err != nil {
		logger.WithError(err).Error("unable to save repo")

		writeErrResp(rw, err, http.StatusInternalServerError)
		return
	}

	writeResp(rw, logger, map[string]string{
		"message":         "repository registered",
		"repo_identifier": repo.Identifier,
	}, http.StatusOK)
}

func (srv *Server) handleUnregisterRepo(rw http.ResponseWriter, req *http.Request) {
	reqID := req.Context().Value(keyReqID).(string)
	reqSub := req.Context().Value(keyReqSub).(string)
	logger := logger.WithFields(logrus.Fields{
		"request_id":      reqID,
		"request_subject": reqSub,
	})

	identifier, err := repoVar(req)
	if err != nil {
		logger.WithError(err).Error("unable to complete request")

		writeErrResp(rw, err, http.StatusBadRequest)
		return
	}

	logger = logger.WithField("repo", identifier)

	logger.Info("unregistering repo")
	err = srv.st.UnregisterRepo(identifier)
	if err == store.ErrRepoNotFound {
		logger.WithError(err).Debug("repo isn't registered")

		writeErrResp(rw, err, http.StatusNotFound)
		return
	}
	if err != nil {
		logger.WithError(err).Error("unable to delete repo")

		writeErrResp(rw, err, http.StatusInternalServerError)
		return
	}

	rw.WriteHeader(http.StatusNoContent)
}

// repoVar puts the "owner/name" identifier back together from the
// {owner} and {name} route variables.
func repoVar(req *http.Request) (string, error) {
	vars := mux.Vars(req)

	owner, name := vars["owner"], vars["name"]
	if owner == "" || name == "" {
		return "", errors.New("missing parameter 'owner' or 'name' from request")
	}

	return owner + "/" + name, nil
}
