// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/danielhkuo/verivote/admission"
	"github.com/danielhkuo/verivote/audit"
	"github.com/danielhkuo/verivote/auth"
	"github.com/danielhkuo/verivote/chain"
	"github.com/danielhkuo/verivote/cliparse"
	"github.com/danielhkuo/verivote/contentstore"
	"github.com/danielhkuo/verivote/db"
	"github.com/danielhkuo/verivote/finalize"
	"github.com/danielhkuo/verivote/lifecycle"
	"github.com/danielhkuo/verivote/metrics"
	"github.com/danielhkuo/verivote/polllock"
	"github.com/danielhkuo/verivote/retry"
	"github.com/danielhkuo/verivote/router"
)

// app holds every long-lived component built from the configuration.
type app struct {
	store       *db.Store
	content     contentstore.Store
	contentKind string
	registry    *prometheus.Registry
	services    router.Services
}

func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})), nil
}

func newApp(ctx context.Context, cfg cliparse.Config, logger *slog.Logger) (*app, error) {
	dialect, err := db.ParseDialect(cfg.DatabaseType)
	if err != nil {
		return nil, err
	}
	store, err := db.Open(ctx, dialect, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := store.CreateSchema(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("schema creation failed: %w", err)
	}
	logger.Info("database schema ready", "type", dialect)

	content, err := contentstore.Open(ctx, cfg.ContentBackend, cfg.ContentLocation, store.DB, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	logger.Info("content store ready", "backend", cfg.ContentBackend, "location", cfg.ContentLocation)

	anchorer, err := newAnchorer(ctx, cfg, store, logger)
	if err != nil {
		content.Close()
		store.Close()
		return nil, err
	}

	verifier, err := auth.NewTypedVerifier(auth.Domain{
		Name:              cfg.DomainName,
		Version:           cfg.DomainVersion,
		ChainID:           cfg.ChainID,
		VerifyingContract: common.HexToAddress(cfg.ContractAddress),
	})
	if err != nil {
		content.Close()
		store.Close()
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	locks := &polllock.Arena{}
	auditChain := audit.NewChain(store, logger, m)
	policy := retry.Policy{
		Attempts: cfg.RetryAttempts,
		Timeout:  cfg.ExternalTimeout,
	}

	return &app{
		store:       store,
		content:     content,
		contentKind: cfg.ContentBackend,
		registry:    registry,
		services: router.Services{
			Store: store,
			Manager: lifecycle.NewManager(lifecycle.Config{
				Store:        store,
				Locks:        locks,
				Verifier:     verifier,
				Content:      content,
				Anchorer:     anchorer,
				Retry:        policy,
				AdminKeySalt: cfg.AdminKeySalt,
				EmailSalt:    cfg.EmailSalt,
				Logger:       logger.With("component", "lifecycle"),
				Metrics:      m,
			}),
			Engine: admission.New(admission.Config{
				Store:    store,
				Locks:    locks,
				Verifier: verifier,
				Chain:    auditChain,
				Logger:   logger.With("component", "admission"),
				Metrics:  m,
			}),
			Chain: auditChain,
			Pipeline: finalize.New(finalize.Config{
				Store:    store,
				Locks:    locks,
				Chain:    auditChain,
				Content:  content,
				Anchorer: anchorer,
				Retry:    policy,
				Logger:   logger.With("component", "finalize"),
				Metrics:  m,
			}),
			Gatherer: registry,
		},
	}, nil
}

// newAnchorer dials the configured chain, or falls back to a ledger kept in
// the database when no RPC endpoint is set.
func newAnchorer(ctx context.Context, cfg cliparse.Config, store *db.Store, logger *slog.Logger) (chain.Anchorer, error) {
	if cfg.ChainRPCURL == "" {
		logger.Warn("no chain RPC configured, anchoring to the local ledger in the database")
		return chain.NewLedgerOn(db.NewLedgerState(store.DB)), nil
	}
	eth, err := chain.Dial(ctx, cfg.ChainRPCURL, cfg.ChainID, common.HexToAddress(cfg.ContractAddress), cfg.AnchorKeyHex, logger.With("component", "chain"))
	if err != nil {
		return nil, err
	}
	logger.Info("chain connected", "chain_id", cfg.ChainID, "contract", cfg.ContractAddress, "from", eth.From().Hex())
	return eth, nil
}

func (a *app) Close() error {
	cerr := a.content.Close()
	if err := a.store.Close(); err != nil {
		return err
	}
	return cerr
}
