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

// reportd — One-shot Fetch Command
//
// Standalone CLI that runs a single report retrieval interactively:
// finds the report email, opens the portal, reads the SMS code from
// stdin and prints the rendered summary. Runs fine without Postgres or
// Redis; history and the cross-process lock are simply skipped.
//
// Usage:
//
//	go run ./cmd/fetch/ [--identity 012345678] [--locate-only]
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/mrb/reportd/internal/config"
	"github.com/mrb/reportd/internal/mail"
	"github.com/mrb/reportd/internal/pipeline"
	"github.com/mrb/reportd/internal/portal"
	"github.com/mrb/reportd/internal/registry"
)

func main() {
	// Log to stderr so the rendered summary on stdout stays clean.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	_ = godotenv.Load()

	// --- CLI Flags ---
	identityFlag := flag.String("identity", "", "Identity number to run as (default: configured identity)")
	locateOnly := flag.Bool("locate-only", false, "Only locate the report email and print its link, no browser")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	identity := *identityFlag
	if identity == "" {
		identity = cfg.Identity
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// --- Gmail Source + Locator ---
	svc, err := mail.NewGmailService(ctx, cfg.Mail.ClientID, cfg.Mail.ClientSecret, cfg.Mail.RefreshToken)
	if err != nil {
		slog.Error("failed to build Gmail service", "error", err)
		os.Exit(1)
	}
	source := mail.NewGmailSource(svc)
	extractor := mail.NewExtractor(cfg.Portal.SecureHost)
	locator := mail.NewLocator(source, extractor, cfg.Mail.Sender, cfg.Mail.Subject)

	if *locateOnly {
		ref, err := locator.FindLatest(ctx)
		if err != nil {
			slog.Error("locate failed", "error", err)
			os.Exit(1)
		}
		if ref == nil {
			fmt.Println("no report email found")
			os.Exit(1)
		}
		fmt.Printf("report date: %s\nsubject:     %s\nlink:        %s\n", ref.ReportDate, ref.Subject, ref.DownloadURL)
		return
	}

	// --- Redis lock (optional) ---
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opt)
		defer rdb.Close()
	}

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

	controller := pipeline.NewController(pipeline.Config{
		Locator:    locator,
		Registry:   registry.New(rdb),
		NewSession: newSession,
	})

	res, err := controller.Begin(ctx, identity)
	if err != nil {
		if errors.Is(err, pipeline.ErrNoReport) {
			fmt.Println("no report email found")
			os.Exit(1)
		}
		slog.Error("run failed", "error", err)
		os.Exit(1)
	}
	slog.Info("waiting for SMS code", "run_id", res.RunID, "report_date", res.ReportDate)

	summary, err := promptAndComplete(ctx, controller, identity)
	if err != nil {
		controller.Cancel(ctx, identity)
		slog.Error("run failed", "error", err)
		os.Exit(1)
	}

	fmt.Println(summary)
}

// promptAndComplete reads OTP codes from stdin until one is accepted.
// A rejected code leaves the run suspended, so the user just types it
// again.
func promptAndComplete(ctx context.Context, controller *pipeline.Controller, identity string) (string, error) {
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Fprint(os.Stderr, "SMS code: ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("read code: %w", err)
		}
		code := strings.TrimSpace(line)

		summary, err := controller.Complete(ctx, identity, code)
		if err != nil {
			if errors.Is(err, portal.ErrInvalidOTP) {
				fmt.Fprintln(os.Stderr, "the code must be exactly 4 digits, try again")
				continue
			}
			return "", err
		}
		return summary, nil
	}
}
