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

	"go.uber.org/zap"
)

/*
	US EXPLO offline cache

	Sits between the TuneMe web app and its origin. Static assets are
	served cache first, API calls network first with the cache as the
	offline fallback. Each deploy bumps the cache version; activating it
	purges the previous store.
*/

const (
	SYSTEM_NAME    = "usexplo-offlinecache"
	SYSTEM_VERSION = "1.0.0"
)

var (
	configFile = flag.String("conf", CONF_CACHE_CONFIG, "Path to the JSON configuration file")
	listenAddr = flag.String("listen", "", "Listening address, overrides the configuration")
	debugMode  = flag.Bool("debug", false, "Enable development logging")
)

// SystemWideLogger is shared by every component started from main
var SystemWideLogger *zap.Logger

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func main() {
	flag.Parse()

	logger, err := newLogger(*debugMode)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to create logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()
	SystemWideLogger = logger.With(zap.String("system", SYSTEM_NAME))

	if err := run(); err != nil {
		SystemWideLogger.Error("Exiting", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func run() error {
	config, err := LoadCacheConfiguration(*configFile)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if *listenAddr != "" {
		config.Listen = *listenAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := initCacheSystem(ctx, config); err != nil {
		shutdownCacheSystem()
		return err
	}
	defer shutdownCacheSystem()

	mux := http.NewServeMux()
	registerCacheAPIs(mux)
	registerPageRoutes(mux)

	server := &http.Server{
		Addr:              config.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		SystemWideLogger.Info("Listening",
			zap.String("addr", config.Listen),
			zap.String("version", SYSTEM_VERSION))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		SystemWideLogger.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(config.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		SystemWideLogger.Warn("Graceful shutdown failed", zap.Error(err))
	}
	return nil
}
