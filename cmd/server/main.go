// Copyright (c) 2026 Dor Amit
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// reportd — Daily Report Service
//
// Entry point for the report retrieval service. It:
//  1. Loads configuration from config.yaml and the environment
//  2. Connects to PostgreSQL (run history) and Redis (single-flight lock),
//     both optional
//  3. Builds the Gmail source and the report link locator
//  4. Wires the two-phase pipeline controller with a per-run browser factory
//  5. Serves the run API plus health endpoint
//  6. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/mrb/reportd/internal/api"
	"github.com/mrb/reportd/internal/config"
	"github.com/mrb/reportd/internal/mail"
	"github.com/mrb/reportd/internal/pipeline"
	"github.com/mrb/reportd/internal/portal"
	"github.com/mrb/reportd/internal/registry"
	"github.com/mrb/reportd/internal/runstore"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Local development convenience; absence of .env is not an error.
	_ = godotenv.Load()

	slog.Info("starting reportd")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"sender", cfg.Mail.Sender,
		"secure_host", cfg.Portal.SecureHost,
		"download_dir", cfg.Portal.DownloadDir,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var healthChecks []func(context.Context) error

	// --- Connect to PostgreSQL (optional) ---
	var runs pipeline.Recorder
	var pgPool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		pgPool, err = pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to create Postgres pool", "error", err)
			os.Exit(1)
		}
		defer pgPool.Close()

		store, err := runstore.NewStore(ctx, pgPool)
		if err != nil {
			slog.Error("failed to initialise run store", "error", err)
			os.Exit(1)
		}
		runs = store
		healthChecks = append(healthChecks, store.Ping)
		slog.Info("connected to PostgreSQL")
	} else {
		slog.Warn("DATABASE_URL not set, run history disabled")
	}

	// --- Connect to Redis (optional) ---
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opt)
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		slog.Info("connected to Redis")
	} else {
		slog.Warn("REDIS_URL not set, single-flight lock is process-local")
	}

	// --- Single-flight Registry ---
	reg := registry.New(rdb)
	if rdb != nil {
		healthChecks = append(healthChecks, reg.Ping)
	}

	// --- Gmail Source + Locator ---
	svc, err := mail.NewGmailService(ctx, cfg.Mail.ClientID, cfg.Mail.ClientSecret, cfg.Mail.RefreshToken)
	if err != nil {
		slog.Error("failed to build Gmail service", "error", err)
		os.Exit(1)
	}
	source := mail.NewGmailSource(svc)
	extractor := mail.NewExtractor(cfg.Portal.SecureHost)
	locator := mail.NewLocator(source, extractor, cfg.Mail.Sender, cfg.Mail.Subject)

	// --- Session Factory ---
	// Every run gets its own browser so a crashed or abandoned run never
	// poisons the next one.
	newSession := func(ctx context.Context) (pipeline.AuthSession, error) {
		browser, err := portal.NewChromeBrowser(ctx, portal.BrowserConfig{
			RemoteURL:   cfg.Portal.RemoteURL,
			DownloadDir: cfg.Portal.DownloadDir,
		})
		if err != nil {
			return nil, fmt.Errorf("start browser: %w", err)
		}
		return portal.NewSession(portal.SessionConfig{
			Browser:     browser,
			DownloadDir: cfg.Portal.DownloadDir,
			Settle:      cfg.Portal.Settle,
		}), nil
	}

	// --- Pipeline Controller ---
	controller := pipeline.NewController(pipeline.Config{
		Locator:    locator,
		Registry:   reg,
		NewSession: newSession,
		Runs:       runs,
	})

	// --- API Server ---
	handler := api.NewHandler(controller, locator, cfg.Identity, healthChecks...)
	mux := http.NewServeMux()
	handler.Register(mux)

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		// OTP submission holds the request open through confirm and
		// download, which can take a while on a slow portal.
		WriteTimeout: 3 * time.Minute,
	}

	// --- Graceful Shutdown ---
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		sig := <-sigCh

		slog.Info("received shutdown signal", "signal", sig)
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("reportd listening", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("reportd stopped")
}
