// Pactum - Escrow custody and release orchestration for MXN payments
package main

import (
	"context"
	"os"
	"time"

	"github.com/davigut/pactum/internal/config"
	"github.com/davigut/pactum/internal/logging"
	"github.com/davigut/pactum/internal/server"
	"github.com/davigut/pactum/internal/traces"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger := logging.New("info", "text")
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, "text")
	logger.Info("starting pactum",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"chain_id", cfg.ChainID,
		"token_contract", cfg.TokenContract,
	)

	if cfg.OTLPEndpoint != "" {
		shutdown, err := traces.Init(context.Background(), cfg.OTLPEndpoint, logger)
		if err != nil {
			logger.Error("failed to initialize tracing", "error", err)
			os.Exit(1)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				logger.Warn("trace exporter shutdown failed", "error", err)
			}
		}()
	}

	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if err := srv.Run(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
