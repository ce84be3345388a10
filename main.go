// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/danielhkuo/verivote/cliparse"
	"github.com/danielhkuo/verivote/middleware"
	"github.com/danielhkuo/verivote/router"
)

const programName = "verivote"

// setup parses configuration from args and builds the logger, tracer and
// application shared by every command.
func setup(ctx context.Context, args []string) (*app, cliparse.Config, func(), error) {
	cfg, err := cliparse.ParseFlags(args)
	if err != nil {
		return nil, cfg, nil, err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, cfg, nil, err
	}
	slog.SetDefault(logger)

	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, v ...any) {
		logger.Info(fmt.Sprintf(format, v...), "component", programName)
	})); err != nil {
		logger.Warn("failed to set GOMAXPROCS", "error", err)
	}

	shutdownTracing, err := setupTracing(ctx, cfg)
	if err != nil {
		return nil, cfg, nil, err
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		shutdownTracing(ctx)
		return nil, cfg, nil, err
	}

	cleanup := func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Error("failed to flush traces", "error", err)
		}
		if err := a.Close(); err != nil {
			logger.Error("failed to close app", "error", err)
		}
	}
	return a, cfg, cleanup, nil
}

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:                "serve [flags]",
		Short:              "Run the HTTP API",
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, cfg, cleanup, err := setup(ctx, args)
			if err != nil {
				return err
			}
			defer cleanup()

			mux := router.NewRouter(a.services, cfg)
			server := http.Server{
				Handler:           middleware.CORS(mux),
				Addr:              ":" + strconv.Itoa(cfg.Port),
				ReadHeaderTimeout: 10 * time.Second,
			}

			go func() {
				<-ctx.Done()
				sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				server.Shutdown(sctx)
			}()

			slog.Info("Listening", "port", cfg.Port)
			err = server.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server failed: %w", err)
			}
			slog.Info("Server closed")
			return nil
		},
	}
}

// pollCommand builds a command that takes a poll id followed by the usual
// configuration flags.
func pollCommand(use, short string, run func(ctx context.Context, a *app, pollID int64) error) *cobra.Command {
	return &cobra.Command{
		Use:                use + " <poll-id> [flags]",
		Short:              short,
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errors.New("poll id required")
			}
			pollID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || pollID <= 0 {
				return fmt.Errorf("invalid poll id %q", args[0])
			}

			a, _, cleanup, err := setup(cmd.Context(), args[1:])
			if err != nil {
				return err
			}
			defer cleanup()
			return run(cmd.Context(), a, pollID)
		},
	}
}

func finalizeCommand() *cobra.Command {
	return pollCommand("finalize", "Close a poll and anchor its result", func(ctx context.Context, a *app, pollID int64) error {
		if a.contentKind == "memory" {
			return errors.New("finalize needs a persistent content store; memory artifacts are lost when the command exits")
		}
		anchor, err := a.services.Pipeline.Finalize(ctx, pollID)
		if err != nil {
			return err
		}
		slog.Info("poll finalized",
			"poll_id", pollID,
			"result_hash", anchor.ResultHash.Hex(),
			"votes_cid", anchor.VotesCID,
			"tally_cid", anchor.TallyCID,
			"tx", anchor.TxHash,
		)
		return nil
	})
}

func verifyAuditCommand() *cobra.Command {
	return pollCommand("verify-audit", "Replay a poll's audit chain", func(ctx context.Context, a *app, pollID int64) error {
		tip, err := a.services.Chain.VerifyPoll(ctx, pollID)
		if err != nil {
			return err
		}
		slog.Info("audit chain valid", "poll_id", pollID, "tip", tip.Hex())
		return nil
	})
}

func main() {
	rootCmd := &cobra.Command{
		Use:           programName,
		Short:         "Verifiable off-chain voting service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(serveCommand())
	rootCmd.AddCommand(finalizeCommand())
	rootCmd.AddCommand(verifyAuditCommand())

	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}
