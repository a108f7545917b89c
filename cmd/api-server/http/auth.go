package http

import (
	"encoding/json"
	"errors"
	"io/ioutil"
	"net/http"
	"time"

	jwt "github.com/dgrijalva/jwt-go"
)

// tokenTTL is how long a token from /api/v1/auth stays valid.
var tokenTTL = 24 * time.Hour

func (srv *Server) handleAuth(rw http.ResponseWriter, req *http.Request) {
	reqID := req.Context().Value(keyReqID).(string)
	logger := logger.WithField("request_id", reqID)

	buf, err := ioutil.ReadAll(req.Body)
	if err != nil {
		logger.WithError(err).Error("unable to read request body")

		writeErrResp(rw, err, http.StatusInternalServerError)
		return
	}

	var auth map[string]string
	err = json.Unmarshal(buf, &auth)
	if err != nil {
		logger.WithError(err).Error("unable to unmarshal request body")

		writeErrResp(rw, err, http.StatusBadRequest)
		return
	}

	if auth["email"] == "" || auth["password"] == "" {
		err := errors.New("missing fields in auth request body")
		logger.WithError(err).Error("unable to authenticate")

		writeErrResp(rw, err, http.StatusBadRequest)
		return
	}

	logger = logger.WithField("email", auth["email"])

	err = srv.st.Authenticate(auth["email"], auth["password"])
	if err != nil {
		logger.WithError(err).Error("unable to authenticate")

		writeErrResp(rw, err, http.StatusUnauthorized)
		return
	}

	now := time.Now()
	claims := &jwt.StandardClaims{
		Subject:   auth["email"],
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(tokenTTL).Unix(),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(srv.jwtsecret)
	if err != nil {
		logger.WithError(err).Error("unable to sign token")

		writeErrResp(rw, err, http.StatusInternalServerError)
		return
	}

	writeResp(rw, logger, map[string]string{"token": token}, http.StatusOK)
}
