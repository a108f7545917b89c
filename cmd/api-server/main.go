package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/run-ci/pulse/cmd/api-server/http"
	"github.com/run-ci/pulse/github"
	"github.com/run-ci/pulse/pipeline"
	"github.com/run-ci/pulse/queue"
	"github.com/run-ci/pulse/runner"
	"github.com/run-ci/pulse/store"
	"github.com/run-ci/pulse/worker"

	"github.com/sirupsen/logrus"
)

var logger *logrus.Entry

var addr, storeKind, pgconnstr, sqlitePath, natsURL, jwtsecret, webhooksecret, githubToken, githubURL, workdir string
var workers int

func init() {
	lvl, err := logrus.ParseLevel(os.Getenv("PULSE_LOG_LEVEL"))
	if err != nil {
		lvl = logrus.InfoLevel
	}

	logrus.SetLevel(lvl)

	if os.Getenv("PULSE_LOG_FORMAT") == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}

	logger = logrus.WithField("package", "main")

	addr = os.Getenv("PULSE_ADDR")
	if addr == "" {
		logger.Info("PULSE_ADDR not set - defaulting to :3000")
		addr = ":3000"
	}

	storeKind = os.Getenv("PULSE_STORE")
	if storeKind == "" {
		logger.Warn("PULSE_STORE not set - defaulting to memory, executions won't survive a restart")
		storeKind = "memory"
	}

	switch storeKind {
	case "postgres":
		pgconnstr = postgresConnstr()
	case "sqlite":
		sqlitePath = os.Getenv("PULSE_SQLITE_PATH")
		if sqlitePath == "" {
			logger.Info("PULSE_SQLITE_PATH not set - defaulting to pulse.db")
			sqlitePath = "pulse.db"
		}
	case "memory":
	default:
		logger.Fatalf("unknown PULSE_STORE %q, expected memory, postgres or sqlite", storeKind)
	}

	natsURL = os.Getenv("PULSE_NATS_URL")
	if natsURL == "" {
		logger.Info("PULSE_NATS_URL not set - running jobs in process")
	}

	jwtsecret = os.Getenv("PULSE_JWT_SECRET")
	if jwtsecret == "" {
		logger.Warn("PULSE_JWT_SECRET not set - repository management is unauthenticated (HIGHLY INSECURE!)")
	}

	webhooksecret = os.Getenv("PULSE_WEBHOOK_SECRET")
	if webhooksecret == "" {
		logger.Warn("PULSE_WEBHOOK_SECRET not set - webhook signatures won't be checked")
	}

	githubToken = os.Getenv("PULSE_GITHUB_TOKEN")
	githubURL = os.Getenv("PULSE_GITHUB_URL")

	workers = 2
	if raw := os.Getenv("PULSE_WORKERS"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			logger.Warnf("invalid PULSE_WORKERS %q - defaulting to %v", raw, workers)
		} else {
			workers = n
		}
	}

	workdir = os.Getenv("PULSE_WORKDIR")
}

func postgresConnstr() string {
	pguser := os.Getenv("PULSE_POSTGRES_USER")
	if pguser == "" {
		logger.Fatal("need PULSE_POSTGRES_USER")
	}

	pgpass := os.Getenv("PULSE_POSTGRES_PASS")
	if pgpass == "" {
		logger.Fatal("need PULSE_POSTGRES_PASS")
	}

	pghref := os.Getenv("PULSE_POSTGRES_HREF")
	if pghref == "" {
		logger.Fatal("need PULSE_POSTGRES_HREF")
	}

	pgdb := os.Getenv("PULSE_POSTGRES_DB")
	if pgdb == "" {
		logger.Fatal("need PULSE_POSTGRES_DB")
	}

	pgssl := os.Getenv("PULSE_POSTGRES_SSL")
	if pgssl == "" {
		logger.Info("PULSE_POSTGRES_SSL not set - defaulting to verify-full")
		pgssl = "verify-full"
	}

	return fmt.Sprintf("postgres://%v:%v@%v/%v?sslmode=%v",
		pguser, pgpass, pghref, pgdb, pgssl)
}

func openStore() (store.PulseStore, error) {
	switch storeKind {
	case "postgres":
		return store.NewPostgres(pgconnstr)
	case "sqlite":
		return store.NewSQLite(sqlitePath)
	}

	return store.NewMemory(), nil
}

func main() {
	logger.Info("booting server...")

	logger.WithField("store", storeKind).Info("opening store")
	st, err := openStore()
	if err != nil {
		logger.WithError(err).Fatal("unable to open store")
	}
	defer st.Close()

	fetcher, err := github.NewFetcher(githubToken, githubURL)
	if err != nil {
		logger.WithError(err).Fatal("unable to set up github client")
	}

	var jobs chan<- []byte
	if natsURL != "" {
		logger.Info("setting up NATS connection")
		bus, err := queue.NewNATS(natsURL)
		if err != nil {
			logger.WithError(err).Fatal("unable to connect to NATS")
		}
		defer bus.Close()

		logger.Info("setting up jobs send channel")
		jobs = bus.SenderOn(queue.JobsSubject)

		go saveFinished(bus, st)
	} else {
		jobs = localWorkers(st)
	}

	srv := http.NewServer(http.Config{
		Addr:          addr,
		Fetcher:       fetcher,
		JWTSecret:     jwtsecret,
		WebhookSecret: webhooksecret,
	}, jobs, st)

	logger.WithField("addr", addr).Info("listening")
	if err := srv.ListenAndServe(); err != nil {
		logger.WithError(err).Fatal("shutting down server")
	}
}

// localWorkers starts the in-process worker pool and returns the channel
// that feeds it.
func localWorkers(st store.PulseStore) chan<- []byte {
	logger.WithField("workers", workers).Info("starting in-process workers")

	jobs := make(chan []byte, workers)
	w := worker.New(runner.NewEngine(workdir), st, nil)

	for i := 0; i < workers; i++ {
		go w.Consume(context.Background(), jobs)
	}

	return jobs
}

// saveFinished keeps the executions runlets announce. Saving an execution
// a runlet already saved replaces it.
func saveFinished(bus *queue.NATS, st store.PulseStore) {
	recv, err := bus.ReceiverOn(context.Background(), queue.ExecutionsSubject, "")
	if err != nil {
		logger.WithError(err).Error("unable to subscribe to finished executions")
		return
	}

	for buf := range recv {
		var execution pipeline.Execution
		if err := json.Unmarshal(buf, &execution); err != nil {
			logger.WithError(err).Error("unable to decode finished execution")
			continue
		}

		if err := st.SaveExecution(execution); err != nil {
			logger.WithError(err).Error("unable to save finished execution")
		}
	}
}
