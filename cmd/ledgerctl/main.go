// SPDX-License-Identifier: Apache-2.0

// Command ledgerctl runs offline maintenance against the ledger store.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/auth"
	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/config"
	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/domain"
	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/ledger"
	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/logging"
	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/replay"
	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/storage/backend"
)

var errUsage = errors.New("usage")

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.NewLoggerTo(os.Stderr, cfg.Env, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			printUsage(os.Stderr)
			os.Exit(2)
		}
		logger.Error("command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd := args[0]
	switch {
	case cmd == "migrate" && len(args) == 1:
	case cmd == "rebuild" && len(args) == 1:
	case cmd == "replay" && (len(args) == 2 || len(args) == 3):
	case cmd == "erase" && len(args) == 3:
	default:
		return errUsage
	}

	started := time.Now()
	db, err := backend.Open(ctx, backend.Options{
		Backend:     cfg.StorageBackend,
		DatabaseURL: cfg.DatabaseURL,
		SQLitePath:  cfg.SQLitePath,
		AutoMigrate: cfg.AutoMigrate || cmd == "migrate",
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("storage close failed", "error", err)
		}
	}()

	ctx = auth.WithOperator(ctx, auth.Operator{Name: cfg.Operator, Via: "cli"})
	l := ledger.New(db, cfg.TotalStates, logger)

	switch cmd {
	case "migrate":
		if err := db.Check(ctx); err != nil {
			return fmt.Errorf("schema check after migrate: %w", err)
		}
		logger.Info("schema up to date", "backend", db.Dialect(), "duration_ms", time.Since(started).Milliseconds())
		return nil

	case "rebuild":
		logger.Info("rebuild requested", "operator", cfg.Operator)
		stats, err := l.Projector.RebuildFromLog(ctx, nil)
		if err != nil {
			return err
		}
		return writeJSONLine(out, map[string]any{
			"eventsScanned": stats.EventsScanned,
			"eventsFolded":  stats.EventsFolded,
			"cases":         stats.Cases,
			"durationMs":    stats.Duration.Milliseconds(),
		})

	case "replay":
		return runReplay(ctx, l, args[1:], out)

	case "erase":
		erased, err := l.Eraser.EraseSubject(ctx, args[1], args[2])
		if err != nil {
			return err
		}
		return writeJSONLine(out, erased)
	}
	return errUsage
}

type replayLine struct {
	Index int          `json:"index"`
	Total int          `json:"total"`
	Event domain.Event `json:"event"`
}

// runReplay prints a trace one frame per line. With a position it prints
// the frames up to and including that position.
func runReplay(ctx context.Context, l *ledger.Ledger, args []string, out io.Writer) error {
	engine, err := replay.LoadTrace(ctx, l.Events, args[0])
	if err != nil {
		return err
	}
	if engine.Len() == 0 {
		return fmt.Errorf("trace %q has no events", args[0])
	}

	if len(args) == 2 {
		pos, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid position %q: %w", args[1], errUsage)
		}
		if _, ok := engine.JumpTo(pos); !ok {
			return fmt.Errorf("position %d outside trace of %d events", pos, engine.Len())
		}
		for i, ev := range engine.EventsToHere() {
			if err := writeJSONLine(out, replayLine{Index: i, Total: engine.Len(), Event: ev}); err != nil {
				return err
			}
		}
		return nil
	}

	for {
		frame, ok := engine.Step()
		if !ok {
			return nil
		}
		if err := writeJSONLine(out, replayLine{Index: frame.Index, Total: frame.Total, Event: frame.Event}); err != nil {
			return err
		}
	}
}

func writeJSONLine(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, `usage: ledgerctl <command>

commands:
  migrate                          apply pending schema migrations
  rebuild                          rebuild the case projection from the event log
  replay <trace-id> [position]     print a trace frame by frame
  erase <user-id> <capability-id>  erase a subject's events and case`)
}
