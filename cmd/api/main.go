// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/config"
	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/ledger"
	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/logging"
	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/storage/backend"
	httptransport "github.com/Data-Downs/agentic-legibility-stack-sub000/internal/transport/http"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	logger := logging.NewLogger(cfg.Env, cfg.LogLevel)

	db, err := backend.Open(ctx, backend.Options{
		Backend:     cfg.StorageBackend,
		DatabaseURL: cfg.DatabaseURL,
		SQLitePath:  cfg.SQLitePath,
		AutoMigrate: cfg.AutoMigrate,
	}, logger)
	if err != nil {
		log.Fatalf("storage open failed: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("storage close failed", "error", err)
		}
	}()

	l := ledger.New(db, cfg.TotalStates, logger)

	handler := httptransport.NewRouter(httptransport.Deps{
		Events:     l.Events,
		Emitter:    l.Emitter,
		Cases:      l.Projector,
		CaseAdmin:  l.Projector,
		Receipts:   l.Receipts,
		Issuer:     l.Issuer,
		Eraser:     l.Eraser,
		Health:     db,
		Logger:     logger,
		AdminToken: cfg.AdminToken,
		Version:    Version,
		Commit:     Commit,
		BuildDate:  BuildDate,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("ledger api listening",
			"addr", cfg.HTTPAddr,
			"backend", db.Dialect(),
			"version", Version,
			"commit", Commit,
			"build_date", BuildDate,
		)

		if err := srv.ListenAndServe(); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		cfg.ShutdownTimeout,
	)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
}
