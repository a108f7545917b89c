package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/run-ci/pulse/pipeline"
	"github.com/run-ci/pulse/store"

	jwt "github.com/dgrijalva/jwt-go"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var logger *logrus.Entry

type ctxkey int

const (
	keyReqID ctxkey = iota
	keyReqSub
)

func init() {
	logger = logrus.WithField("package", "http")
}

// apiStore is a grouping of the minimum number of store
// interfaces the API needs to work.
type apiStore interface {
	store.RepoStore

	GetExecution(id uuid.UUID) (pipeline.Execution, error)
	ListExecutions() ([]pipeline.Execution, error)
	ListExecutionsByRepo(identifier string, limit int) ([]pipeline.Execution, error)

	Authenticate(email, pass string) error
}

// pulsefileFetcher looks up the Pulsefile of a repository that wasn't
// registered with the API.
type pulsefileFetcher interface {
	FetchPulsefile(ctx context.Context, repo pipeline.Repository) (string, error)
}

// Config is what a Server needs besides its store.
type Config struct {
	Addr string

	// Fetcher is optional. Without it, webhooks for unregistered
	// repositories are ignored.
	Fetcher pulsefileFetcher

	// JWTSecret signs API tokens. When it's empty, repository management
	// doesn't require a token.
	JWTSecret string

	// WebhookSecret is the GitHub webhook secret. When it's empty,
	// deliveries aren't checked.
	WebhookSecret string
}

// Server is a net/http.Server with dependencies like
// the store and the job channel.
type Server struct {
	st            apiStore
	fetcher       pulsefileFetcher
	jobs          chan<- []byte
	jwtsecret     []byte
	webhooksecret []byte

	*http.Server
}

// NewServer returns a Server with a reference to `st` that sends jobs on
// `jobs`.
func NewServer(cfg Config, jobs chan<- []byte, st apiStore) *Server {
	srv := &Server{
		Server: &http.Server{
			Addr: cfg.Addr,
		},

		st:            st,
		fetcher:       cfg.Fetcher,
		jobs:          jobs,
		jwtsecret:     []byte(cfg.JWTSecret),
		webhooksecret: []byte(cfg.WebhookSecret),
	}

	auth := srv.checkAuth
	if len(srv.jwtsecret) == 0 {
		logger.Warn("no JWT secret set, repository management is open to anyone")
		auth = anonymous
	}

	r := mux.NewRouter()
	srv.Handler = r

	r.Handle("/health", chain(getHealth, setRequestID, logRequest)).
		Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.Handler()).
		Methods(http.MethodGet)

	r.Handle("/api/v1/webhook/github", chain(srv.handleGitHubWebhook, setRequestID, logRequest)).
		Methods(http.MethodPost)

	r.Handle("/api/v1/executions", chain(srv.handleGetExecutions, setRequestID, logRequest)).
		Methods(http.MethodGet)

	r.Handle("/api/v1/executions/{id}", chain(srv.handleGetExecution, setRequestID, logRequest)).
		Methods(http.MethodGet)

	r.Handle("/api/v1/repos", chain(
		srv.handleRegisterRepo,
		setRequestID,
		logRequest,
		auth,
	)).Methods(http.MethodPost)

	r.Handle("/api/v1/repos/{owner}/{name}", chain(
		srv.handleUnregisterRepo,
		setRequestID,
		logRequest,
		auth,
	)).Methods(http.MethodDelete)

	r.Handle("/api/v1/pipelines/{owner}/{name}/status", chain(srv.handlePipelineStatus, setRequestID, logRequest)).
		Methods(http.MethodGet)

	r.Handle("/api/v1/auth", chain(srv.handleAuth, setRequestID, logRequest)).
		Methods(http.MethodPost)

	return srv
}

// Middleware is a function that can intercept the handling of an HTTP request
// to do something useful.
type middleware func(http.HandlerFunc) http.HandlerFunc

// Chain builds the final http.Handler from all the middlewares passed to it.
func chain(f http.HandlerFunc, mw ...middleware) http.Handler {
	// Because function calls are placed on a stack, they need to
	// be applied in reverse order from what they are passed in,
	// in order for calls to Chain() to be intuitive.
	for i := len(mw) - 1; i >= 0; i-- {
		f = mw[i](f)
	}

	return f
}

// SetRequestID sets a UUID on the request so that it can be tracked through
// logs.
func setRequestID(f http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, req *http.Request) {
		id := uuid.New().String()

		ctx := context.WithValue(req.Context(), keyReqID, id)
		logger.WithField("request_id", id).
			Debug("setting request ID")

		rw.Header().Set("X-Request-Id", id)
		f(rw, req.WithContext(ctx))
	}
}

// LogRequest logs useful information about the request. It must have a
// "request_id" set on the request context.
func logRequest(f http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, req *http.Request) {
		reqid := req.Context().Value(keyReqID).(string)

		logger := logger.WithField("request_id", reqid)

		logger.Infof("%v %v", req.Method, req.URL)

		f(rw, req)
	}
}

func (srv *Server) checkAuth(f http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, req *http.Request) {
		hdrline, ok := req.Header["Authorization"]
		if !ok {
			err := errors.New("missing bearer token")

			logger.WithError(err).Error("unable to authorize request")
			writeErrResp(rw, err, http.StatusUnauthorized)
			return
		}

		hdr := strings.Split(hdrline[0], " ")

		if len(hdr) < 2 || hdr[0] != "Bearer" {
			err := errors.New("missing bearer token")

			logger.WithError(err).Error("unable to authorize request")
			writeErrResp(rw, err, http.StatusUnauthorized)
			return
		}

		// Tokens come in the form of "Bearer $TOKEN"
		bearer := hdr[1]

		keyfn := func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				err := errors.New("invalid signing method for bearer token")

				return nil, err
			}

			return srv.jwtsecret, nil
		}

		token, err := jwt.ParseWithClaims(bearer, &jwt.StandardClaims{}, keyfn)
		if err != nil {
			logger.WithError(err).Error("unable to authorize request")
			writeErrResp(rw, err, http.StatusUnauthorized)
			return
		}

		if claims, ok := token.Claims.(*jwt.StandardClaims); ok && token.Valid {
			if time.Now().Unix() > claims.ExpiresAt {
				err := errors.New("token expired")
				logger.WithError(err).Error("unable to authorize request")
				writeErrResp(rw, err, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(req.Context(), keyReqSub, claims.Subject)
			logger.WithField("sub", claims.Subject).
				Debug("setting auth subject")

			f(rw, req.WithContext(ctx))
			return
		}

		err = errors.New("invalid bearer token")
		logger.WithError(err).Error("unable to authorize request")
		writeErrResp(rw, err, http.StatusUnauthorized)
	}
}

// anonymous stands in for checkAuth when there's no secret to check
// tokens against.
func anonymous(f http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, req *http.Request) {
		ctx := context.WithValue(req.Context(), keyReqSub, "")
		f(rw, req.WithContext(ctx))
	}
}

func getHealth(rw http.ResponseWriter, req *http.Request) {
	rw.Header().Set("Content-Type", "text/plain")
	rw.WriteHeader(http.StatusOK)
	rw.Write([]byte("OK"))
}

func writeErrResp(rw http.ResponseWriter, err error, status int) {
	buf, _ := json.Marshal(map[string]string{
		"error": err.Error(),
	})

	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	rw.Write(buf)
}

func writeResp(rw http.ResponseWriter, logger *logrus.Entry, v interface{}, status int) {
	logger.Debug("marshaling response body")

	buf, err := json.Marshal(v)
	if err != nil {
		logger.WithError(err).Error("unable to marshal response body")

		writeErrResp(rw, err, http.StatusInternalServerError)
		return
	}

	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	rw.Write(buf)
}

// Backoff bounds for sendWithBackoff.
var (
	sendTimeout = 100 * time.Millisecond
	maxSendWait = 5 * time.Second
	maxSendTry  = 8
)

// sendWithBackoff tries to put msg on ch, waiting longer after every try
// that finds ch full. It gives up after maxSendTry tries and reports
// whether msg was sent.
func sendWithBackoff(logger *logrus.Entry, ch chan<- []byte, msg []byte) bool {
	wait := sendTimeout

	for try := 1; try <= maxSendTry; try++ {
		select {
		case ch <- msg:
			return true
		case <-time.After(wait):
		}

		logger.WithFields(logrus.Fields{
			"try":  try,
			"wait": wait,
		}).Warn("unable to send message, backing off")

		wait *= 2
		if wait > maxSendWait {
			wait = maxSendWait
		}
	}

	logger.Error("giving up on sending message")
	jobsDroppedTotal.Inc()
	return false
}
