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

// Package pipeline sequences mail lookup, portal authentication,
// download and spreadsheet extraction into one run per identity. The OTP
// round trip suspends across a human-timescale event, so a run is split
// into two entry points — Begin requests the code, Complete submits it —
// operating over the identity as a durable handle.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mrb/reportd/internal/models"
	"github.com/mrb/reportd/internal/portal"
	"github.com/mrb/reportd/internal/registry"
	"github.com/mrb/reportd/internal/report"
	"github.com/mrb/reportd/internal/runstore"
)

// Stage identifies where in the pipeline an outcome was produced, so a
// caller can present "could not log in" differently from "logged in but
// no file appeared".
type Stage string

const (
	StageLocate   Stage = "locate"
	StageAuth     Stage = "auth"
	StageDownload Stage = "download"
	StageParse    Stage = "parse"
)

// StageError wraps a failure with the stage that produced it. The
// underlying fault text is preserved for diagnostics via Unwrap.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s stage: %v", e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

// ErrNoReport signals that no qualifying report email exists. Expected,
// not exceptional.
var ErrNoReport = errors.New("no report email found")

// ErrNoPendingRun signals that Complete was called without a Begin.
var ErrNoPendingRun = errors.New("no run is waiting for an OTP code for this identity")

// ReportLocator finds the newest report email.
type ReportLocator interface {
	FindLatest(ctx context.Context) (*models.ReportReference, error)
}

// AuthSession is the two-phase portal session the controller drives.
type AuthSession interface {
	RequestOTP(ctx context.Context, url, identity string) error
	SubmitOTP(ctx context.Context, code string) (*models.DownloadedFile, error)
	Close() error
}

// SessionFactory opens a fresh session with its own browser. The
// controller owns the session's lifecycle from then on.
type SessionFactory func(ctx context.Context) (AuthSession, error)

// Recorder persists run history. Satisfied by *runstore.Store; may be
// nil when no database is configured.
type Recorder interface {
	Create(ctx context.Context, r runstore.Run) error
	MarkStage(ctx context.Context, id, stage string) error
	SetReference(ctx context.Context, id, reportDate, subject string) error
	SetFileName(ctx context.Context, id, name string) error
	Finish(ctx context.Context, id, stage, status, errText string) error
}

// activeRun is a run suspended between Begin and Complete.
type activeRun struct {
	runID     string
	identity  string
	ref       *models.ReportReference
	session   AuthSession
	startedAt time.Time
}

// Controller sequences locate → authenticate → download → extract.
type Controller struct {
	locator    ReportLocator
	registry   *registry.Registry
	newSession SessionFactory
	runs       Recorder

	mu     sync.Mutex
	active map[string]*activeRun
}

// Config holds the controller's collaborators.
type Config struct {
	Locator    ReportLocator
	Registry   *registry.Registry
	NewSession SessionFactory
	Runs       Recorder
}

// NewController creates a pipeline controller.
func NewController(cfg Config) *Controller {
	return &Controller{
		locator:    cfg.Locator,
		registry:   cfg.Registry,
		newSession: cfg.NewSession,
		runs:       cfg.Runs,
		active:     make(map[string]*activeRun),
	}
}

// BeginResult describes a run suspended waiting for its OTP code.
type BeginResult struct {
	RunID      string
	ReportDate string
	Subject    string
}

// Begin locates the newest report email, opens a portal session and
// requests the SMS code. On success the run stays open until Complete or
// Cancel; on every failure path the identity's single-flight claim is
// released and the session's browser torn down.
func (c *Controller) Begin(ctx context.Context, identity string) (*BeginResult, error) {
	if err := c.registry.Acquire(ctx, identity); err != nil {
		return nil, err
	}

	runID := uuid.New().String()
	c.record(ctx, func(r Recorder) error {
		return r.Create(ctx, runstore.Run{ID: runID, Identity: identity, Stage: string(StageLocate)})
	})

	ref, err := c.locator.FindLatest(ctx)
	if err != nil {
		c.finishRun(ctx, runID, StageLocate, runstore.StatusFailed, err)
		c.registry.Release(ctx, identity)
		return nil, &StageError{Stage: StageLocate, Err: err}
	}
	if ref == nil {
		c.finishRun(ctx, runID, StageLocate, runstore.StatusNoReport, nil)
		c.registry.Release(ctx, identity)
		return nil, ErrNoReport
	}

	c.record(ctx, func(r Recorder) error {
		return r.SetReference(ctx, runID, ref.ReportDate, ref.Subject)
	})

	session, err := c.newSession(ctx)
	if err != nil {
		c.finishRun(ctx, runID, StageAuth, runstore.StatusFailed, err)
		c.registry.Release(ctx, identity)
		return nil, &StageError{Stage: StageAuth, Err: err}
	}

	c.record(ctx, func(r Recorder) error { return r.MarkStage(ctx, runID, string(StageAuth)) })
	if err := session.RequestOTP(ctx, ref.DownloadURL, identity); err != nil {
		session.Close()
		c.finishRun(ctx, runID, StageAuth, runstore.StatusFailed, err)
		c.registry.Release(ctx, identity)
		return nil, &StageError{Stage: StageAuth, Err: err}
	}

	c.mu.Lock()
	c.active[identity] = &activeRun{
		runID:     runID,
		identity:  identity,
		ref:       ref,
		session:   session,
		startedAt: time.Now(),
	}
	c.mu.Unlock()

	slog.Info("run suspended for OTP",
		"run_id", runID,
		"identity", identity,
		"report_date", ref.ReportDate,
	)
	return &BeginResult{RunID: runID, ReportDate: ref.ReportDate, Subject: ref.Subject}, nil
}

// Complete submits the OTP code for the identity's suspended run,
// captures the file, extracts the summary and returns the rendered text.
// An invalid code leaves the run suspended so the user can retry.
func (c *Controller) Complete(ctx context.Context, identity, code string) (string, error) {
	c.mu.Lock()
	run, ok := c.active[identity]
	c.mu.Unlock()
	if !ok {
		return "", ErrNoPendingRun
	}

	file, err := run.session.SubmitOTP(ctx, code)
	if err != nil {
		if errors.Is(err, portal.ErrInvalidOTP) {
			return "", err
		}
		stage := StageAuth
		if errors.Is(err, portal.ErrDownloadFailed) {
			stage = StageDownload
		}
		c.teardown(ctx, run, stage, runstore.StatusFailed, err)
		return "", &StageError{Stage: stage, Err: err}
	}
	defer func() {
		if rmErr := os.Remove(file.Path); rmErr != nil && !os.IsNotExist(rmErr) {
			slog.Warn("could not delete downloaded file", "path", file.Path, "error", rmErr)
		}
	}()
	c.record(ctx, func(r Recorder) error {
		return r.SetFileName(ctx, run.runID, filepath.Base(file.Path))
	})

	c.record(ctx, func(r Recorder) error { return r.MarkStage(ctx, run.runID, string(StageParse)) })
	summary, err := report.Extract(file.Path)
	if err != nil {
		c.teardown(ctx, run, StageParse, runstore.StatusFailed, err)
		return "", &StageError{Stage: StageParse, Err: err}
	}

	c.teardown(ctx, run, StageParse, runstore.StatusDone, nil)
	slog.Info("run completed", "run_id", run.runID, "identity", identity)
	return report.Render(summary, time.Now()), nil
}

// Cancel aborts the identity's suspended run, releasing its session and
// single-flight claim.
func (c *Controller) Cancel(ctx context.Context, identity string) error {
	c.mu.Lock()
	run, ok := c.active[identity]
	c.mu.Unlock()
	if !ok {
		return ErrNoPendingRun
	}
	c.teardown(ctx, run, StageAuth, runstore.StatusCanceled, nil)
	slog.Info("run canceled", "run_id", run.runID, "identity", identity)
	return nil
}

// teardown closes the run's session, records the outcome and frees the
// identity. Runs on every exit path out of a suspended run.
func (c *Controller) teardown(ctx context.Context, run *activeRun, stage Stage, status string, cause error) {
	run.session.Close()
	c.mu.Lock()
	delete(c.active, run.identity)
	c.mu.Unlock()
	c.finishRun(ctx, run.runID, stage, status, cause)
	c.registry.Release(ctx, run.identity)
}

func (c *Controller) finishRun(ctx context.Context, runID string, stage Stage, status string, cause error) {
	errText := ""
	if cause != nil {
		errText = cause.Error()
	}
	c.record(ctx, func(r Recorder) error {
		return r.Finish(ctx, runID, string(stage), status, errText)
	})
}

// record applies fn to the recorder when one is configured. Persistence
// faults are logged, never allowed to fail the run itself.
func (c *Controller) record(ctx context.Context, fn func(Recorder) error) {
	if c.runs == nil {
		return
	}
	if err := fn(c.runs); err != nil {
		slog.Warn("run record update failed", "error", err)
	}
}
