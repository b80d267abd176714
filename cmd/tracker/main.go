package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/cors"

	"tracker/internal/core"
	"tracker/internal/metrics"
	"tracker/internal/notify"
	"tracker/internal/server"
	"tracker/internal/storage/sqlite"
	"tracker/internal/util"
)

func main() {
	addrFlag := flag.String("addr", util.EnvOrDefault("TRACKER_ADDR", ":8080"), "HTTP listen address")
	dbFlag := flag.String("db", util.EnvOrDefault("TRACKER_DB_PATH", "data/tracker.db"), "Path to sqlite database file")
	staticFlag := flag.String("static", util.EnvOrDefault("TRACKER_STATIC_DIR", ""), "Directory with built board frontend")
	originsFlag := flag.String("cors-origins", util.EnvOrDefault("TRACKER_CORS_ORIGINS", "*"), "Comma separated allowed CORS origins")
	levelFlag := flag.String("log-level", util.EnvOrDefault("TRACKER_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	notifyFlag := flag.Bool("notify", util.EnvOrDefault("TRACKER_NOTIFY", "true") != "false", "Log user notifications")
	flag.Parse()

	shutdownTimeout := util.DurationOrDefault("TRACKER_SHUTDOWN_TIMEOUT", 5*time.Second)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: util.ParseLevel(*levelFlag)}))
	logger.Info("tracker starting", slog.String("db", *dbFlag), slog.String("addr", *addrFlag))

	if err := os.MkdirAll(filepath.Dir(*dbFlag), 0o755); err != nil {
		logger.Error("unable to create data directory", slog.String("error", err.Error()))
		os.Exit(1)
	}
	lock := flock.New(filepath.Join(filepath.Dir(*dbFlag), "tracker.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		logger.Error("unable to acquire lock", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if !locked {
		logger.Error("another tracker instance is using this database", slog.String("db", *dbFlag))
		os.Exit(1)
	}
	defer lock.Unlock()

	store, err := sqlite.Open(*dbFlag, logger)
	if err != nil {
		logger.Error("unable to open database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	sender := notify.NewLogSender(logger)
	sender.SetEnabled(*notifyFlag)

	svc := core.New(store,
		core.WithLogger(logger),
		core.WithMetrics(metrics.New(reg)),
		core.WithNotifier(sender),
	)

	srv := server.New(svc, server.Config{
		Logger:    logger,
		StaticDir: *staticFlag,
		Gatherer:  reg,
		DB:        store,
	})

	c := cors.New(cors.Options{
		AllowedOrigins: util.SplitList(*originsFlag),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", server.ActorHeader},
	})

	httpServer := &http.Server{
		Addr:              *addrFlag,
		Handler:           c.Handler(srv.Engine()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting server", slog.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped unexpectedly", slog.String("error", err.Error()))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("failed to shutdown server", slog.String("error", err.Error()))
	}

	logger.Info("server stopped")
}
