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

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MailConfig describes the mailbox the report arrives in and the sender
// and subject the locator matches on.
type MailConfig struct {
	Sender       string
	Subject      string
	ClientID     string
	ClientSecret string
	RefreshToken string
}

// PortalConfig describes the secure portal the report link points at.
type PortalConfig struct {
	SecureHost  string
	Credential  string
	RemoteURL   string
	DownloadDir string
	Settle      time.Duration
}

// Config holds all configuration for the report service.
type Config struct {
	Mail   MailConfig
	Portal PortalConfig

	// Identity is the default account key a run is registered under.
	Identity string

	// Postgres run history; empty disables persistence.
	DatabaseURL string

	// Redis single-flight lock; empty keeps the lock process-local.
	RedisURL string

	// Server (API + health)
	Port int
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Identity string `yaml:"identity"`
	Mail     struct {
		Sender       string `yaml:"sender"`
		Subject      string `yaml:"subject"`
		ClientID     string `yaml:"client_id"`
		ClientSecret string `yaml:"client_secret"`
		RefreshToken string `yaml:"refresh_token"`
	} `yaml:"mail"`
	Portal struct {
		SecureHost  string `yaml:"secure_host"`
		Credential  string `yaml:"credential"`
		RemoteURL   string `yaml:"remote_url"`
		DownloadDir string `yaml:"download_dir"`
	} `yaml:"portal"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for non-YAML settings.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "/app/config/config.yaml")

	var raw rawConfig
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		// Expand ${VAR} references in the YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
			return nil, fmt.Errorf("parse config YAML: %w", err)
		}
	case os.IsNotExist(err):
		// Env-only deployments run without a config file.
	default:
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	cfg := &Config{
		Mail: MailConfig{
			Sender:       firstNonEmpty(raw.Mail.Sender, envOrDefault("REPORT_SENDER", "meitavdashnoreply@meitav.co.il")),
			Subject:      firstNonEmpty(raw.Mail.Subject, envOrDefault("REPORT_SUBJECT", "דוח יומי לסוכן")),
			ClientID:     firstNonEmpty(raw.Mail.ClientID, os.Getenv("GMAIL_CLIENT_ID")),
			ClientSecret: firstNonEmpty(raw.Mail.ClientSecret, os.Getenv("GMAIL_CLIENT_SECRET")),
			RefreshToken: firstNonEmpty(raw.Mail.RefreshToken, os.Getenv("GMAIL_REFRESH_TOKEN")),
		},
		Portal: PortalConfig{
			SecureHost:  firstNonEmpty(raw.Portal.SecureHost, envOrDefault("PORTAL_SECURE_HOST", "safemail.meitav.co.il")),
			Credential:  firstNonEmpty(raw.Portal.Credential, os.Getenv("PORTAL_CREDENTIAL")),
			RemoteURL:   firstNonEmpty(raw.Portal.RemoteURL, os.Getenv("BROWSER_REMOTE_URL")),
			DownloadDir: firstNonEmpty(raw.Portal.DownloadDir, envOrDefault("DOWNLOAD_DIR", "/tmp/report_downloads")),
			Settle:      envOrDefaultDuration("PORTAL_SETTLE", 2*time.Second),
		},
		Identity:    firstNonEmpty(raw.Identity, os.Getenv("REPORT_IDENTITY")),
		DatabaseURL: firstNonEmpty(raw.Database.URL, os.Getenv("DATABASE_URL")),
		RedisURL:    firstNonEmpty(raw.Redis.URL, os.Getenv("REDIS_URL")),
		Port:        envOrDefaultInt("PORT", 8080),
	}

	// Validate required fields
	if cfg.Mail.ClientID == "" || cfg.Mail.ClientSecret == "" || cfg.Mail.RefreshToken == "" {
		return nil, fmt.Errorf("mail credentials missing — set GMAIL_CLIENT_ID, GMAIL_CLIENT_SECRET and GMAIL_REFRESH_TOKEN")
	}
	if cfg.Portal.Credential == "" {
		return nil, fmt.Errorf("portal credential missing — set PORTAL_CREDENTIAL")
	}
	// The identity keys the single-flight lock and is what the portal
	// session types into the credential field. One account deployments
	// just use the credential itself.
	if cfg.Identity == "" {
		cfg.Identity = cfg.Portal.Credential
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
