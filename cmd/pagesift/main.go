// Package main wires together the pagesift service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pagesift/pagesift/internal/api"
	"github.com/pagesift/pagesift/internal/archive"
	"github.com/pagesift/pagesift/internal/browser"
	"github.com/pagesift/pagesift/internal/clock/system"
	"github.com/pagesift/pagesift/internal/config"
	"github.com/pagesift/pagesift/internal/correlate"
	"github.com/pagesift/pagesift/internal/dispatcher"
	"github.com/pagesift/pagesift/internal/extract"
	"github.com/pagesift/pagesift/internal/gate"
	"github.com/pagesift/pagesift/internal/id/uuid"
	"github.com/pagesift/pagesift/internal/logging"
	"github.com/pagesift/pagesift/internal/metrics"
	"github.com/pagesift/pagesift/internal/progress"
	"github.com/pagesift/pagesift/internal/progress/sinks"
	queuememory "github.com/pagesift/pagesift/internal/queue/memory"
	"github.com/pagesift/pagesift/internal/ratelimit"
	"github.com/pagesift/pagesift/internal/scrape"
	"github.com/pagesift/pagesift/internal/textextract"
	"github.com/pagesift/pagesift/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()
	idGen := uuid.New()

	hubSinks := []progress.Sink{sinks.NewLogSink(logger)}
	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		logger.Warn("prometheus progress sink init failed", zap.Error(err))
	} else {
		hubSinks = append(hubSinks, promSink)
	}
	hub := progress.NewHub(progress.Config{Logger: logger.Named("progress")}, hubSinks...)

	queue := queuememory.NewQueue(cfg.Scraper.QueueDepth)
	correlator := correlate.New(queue, clock, hub, logger)

	var docFetcher scrape.DocumentFetcher = browser.NewNoop()
	var browserFetcher *browser.Fetcher
	if cfg.Browser.Enabled {
		bf, err := browser.New(browser.Config{
			Headless:          cfg.Browser.Headless,
			Stealth:           cfg.Browser.Stealth,
			UserAgent:         cfg.Browser.UserAgent,
			NavigationTimeout: cfg.Browser.NavTimeout(),
			OperationTimeout:  cfg.Browser.OpTimeout(),
			MaxParallel:       cfg.Browser.MaxParallel,
			DomainQPS:         cfg.Browser.DomainQPS,
		}, logger)
		if err != nil {
			logger.Warn("browser init failed, rendering disabled", zap.Error(err))
		} else {
			browserFetcher = bf
			docFetcher = bf
		}
	}

	var archiver scrape.Archiver
	if cfg.Archive.Enabled {
		limiter := ratelimit.New(ratelimit.Config{
			MinInterval: cfg.Archive.MinInterval(),
			Dependency:  "archive",
		}, clock, logger)
		archiver = archive.New(archive.Config{
			Endpoint:  cfg.Archive.Endpoint,
			UserAgent: cfg.Archive.UserAgent,
			Timeout:   cfg.Archive.Timeout(),
		}, limiter, logger)
	}

	popupGate := gate.New(logger)
	engine := extract.New(logger)
	textex := textextract.New(cfg.Extract.MinContentChars, logger)

	var workers []*worker.Worker
	for i := 0; i < cfg.Scraper.Concurrency; i++ {
		workers = append(workers, worker.New(
			queue,
			correlator,
			docFetcher,
			archiver,
			textex,
			popupGate,
			engine,
			clock,
			hub,
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	dispatch := dispatcher.New(workers)

	apiServer := api.NewServer(correlator, idGen, clock, cfg, logger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Workers get their own context so a shutdown signal does not abort jobs
	// that waiting HTTP callers still expect answers for.
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	dispatchDone := make(chan struct{})
	go func() {
		logger.Info("dispatcher started", zap.Int("workers", cfg.Scraper.Concurrency))
		dispatch.Run(workerCtx)
		close(dispatchDone)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}

	queue.Close()
	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		logger.Warn("workers still busy at shutdown deadline, canceling")
		stopWorkers()
		<-dispatchDone
	}

	flushCtx, flushCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer flushCancel()
	if err := hub.Close(flushCtx); err != nil {
		logger.Warn("progress hub close", zap.Error(err))
	}
	if browserFetcher != nil {
		if err := browserFetcher.Close(); err != nil {
			logger.Warn("browser close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}
