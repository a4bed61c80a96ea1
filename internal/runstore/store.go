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

// Package runstore persists pipeline run history in Postgres so
// operators can tell when a report was last fetched for an identity and
// at which stage a failed run died.
package runstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Run statuses.
const (
	StatusRunning  = "running"
	StatusDone     = "done"
	StatusFailed   = "failed"
	StatusNoReport = "no_report"
	StatusCanceled = "canceled"
)

// Run is one pipeline run record.
type Run struct {
	ID         string
	Identity   string
	Stage      string
	Status     string
	ReportDate string
	Subject    string
	FileName   string
	Error      string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// Store provides run record persistence backed by Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a run store and ensures its schema exists.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure run schema: %w", err)
	}
	slog.Info("run store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS report_runs (
			id          UUID PRIMARY KEY,
			identity    TEXT NOT NULL,
			stage       TEXT NOT NULL,
			status      TEXT NOT NULL,
			report_date TEXT DEFAULT '',
			subject     TEXT DEFAULT '',
			file_name   TEXT DEFAULT '',
			error       TEXT DEFAULT '',
			started_at  TIMESTAMPTZ DEFAULT NOW(),
			finished_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_runs_identity ON report_runs(identity, started_at DESC);
		CREATE INDEX IF NOT EXISTS idx_runs_status ON report_runs(status);
	`)
	return err
}

// Create inserts a new running record.
func (s *Store) Create(ctx context.Context, r Run) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO report_runs (id, identity, stage, status, report_date, subject)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, r.ID, r.Identity, r.Stage, StatusRunning, r.ReportDate, r.Subject)
	return err
}

// MarkStage advances the stage of a running record.
func (s *Store) MarkStage(ctx context.Context, id, stage string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE report_runs SET stage = $1 WHERE id = $2
	`, stage, id)
	return err
}

// Finish closes a record with its final status and optional error text.
func (s *Store) Finish(ctx context.Context, id, stage, status, errText string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE report_runs
		SET stage = $1, status = $2, error = $3, finished_at = NOW()
		WHERE id = $4
	`, stage, status, errText, id)
	return err
}

// SetReference records which report email a run is working from.
func (s *Store) SetReference(ctx context.Context, id, reportDate, subject string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE report_runs SET report_date = $1, subject = $2 WHERE id = $3
	`, reportDate, subject, id)
	return err
}

// SetFileName records which file a run captured.
func (s *Store) SetFileName(ctx context.Context, id, name string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE report_runs SET file_name = $1 WHERE id = $2
	`, name, id)
	return err
}

// Latest returns the most recent run for an identity, or nil when the
// identity has never run.
func (s *Store) Latest(ctx context.Context, identity string) (*Run, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, identity, stage, status, report_date, subject,
		       file_name, error, started_at, finished_at
		FROM report_runs
		WHERE identity = $1
		ORDER BY started_at DESC
		LIMIT 1
	`, identity)

	var r Run
	err := row.Scan(&r.ID, &r.Identity, &r.Stage, &r.Status, &r.ReportDate,
		&r.Subject, &r.FileName, &r.Error, &r.StartedAt, &r.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	return &r, nil
}

// Ping checks the Postgres connection.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}
