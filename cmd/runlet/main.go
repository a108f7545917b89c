package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/run-ci/pulse/queue"
	"github.com/run-ci/pulse/runner"
	"github.com/run-ci/pulse/store"
	"github.com/run-ci/pulse/worker"

	nats "github.com/nats-io/go-nats"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var logger *logrus.Entry

var natsURL, sqlitePath, workdir, metricsAddr string
var workers int
var clone bool

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

	natsURL = os.Getenv("PULSE_NATS_URL")
	if natsURL == "" {
		logger.Warnf("setting NATS url to %v", nats.DefaultURL)
		natsURL = nats.DefaultURL
	}

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

	// Executions always go back to the API server over NATS. A runlet
	// only keeps its own copy when PULSE_SQLITE_PATH is set.
	sqlitePath = os.Getenv("PULSE_SQLITE_PATH")

	clone = os.Getenv("PULSE_CLONE") == "true"

	metricsAddr = os.Getenv("PULSE_METRICS_ADDR")
}

func main() {
	logger.Info("booting runlet...")

	// Without a local store, executions only go back over NATS.
	var st store.ExecutionStore
	if sqlitePath != "" {
		local, err := store.NewSQLite(sqlitePath)
		if err != nil {
			logger.WithError(err).Fatal("unable to open store")
		}
		defer local.Close()

		st = local
	}

	bus, err := queue.NewNATS(natsURL)
	if err != nil {
		logger.WithError(err).Fatal("unable to connect to NATS")
	}
	defer bus.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	jobs, err := bus.ReceiverOn(ctx, queue.JobsSubject, queue.RunletGroup)
	if err != nil {
		logger.WithError(err).Fatal("unable to subscribe to jobs")
	}

	notify := bus.SenderOn(queue.ExecutionsSubject)

	var engine worker.Executor = runner.NewEngine(workdir)
	if clone {
		logger.Info("cloning repositories into a fresh workspace for every job")
		engine = &workspaceEngine{root: workdir}
	}

	w := worker.New(engine, st, notify)

	if metricsAddr != "" {
		go serveMetrics(metricsAddr)
	}

	logger.WithField("workers", workers).Info("consuming jobs")

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			return w.Consume(ctx, jobs)
		})
	}

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.WithError(err).Fatal("worker stopped")
	}

	logger.Info("shutting down")
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	logger.WithField("addr", addr).Info("serving metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.WithError(err).Error("metrics server stopped")
	}
}
