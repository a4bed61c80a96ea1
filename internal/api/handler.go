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

// Package api exposes the HTTP surface the chat dispatcher drives. The
// dispatcher is a thin external collaborator: it maps chat commands onto
// these endpoints and relays the returned text back to the user.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/mrb/reportd/internal/mail"
	"github.com/mrb/reportd/internal/pipeline"
	"github.com/mrb/reportd/internal/portal"
	"github.com/mrb/reportd/internal/registry"
)

// Runner is the two-phase pipeline surface the handler fronts.
type Runner interface {
	Begin(ctx context.Context, identity string) (*pipeline.BeginResult, error)
	Complete(ctx context.Context, identity, code string) (string, error)
	Cancel(ctx context.Context, identity string) error
}

// MailInspector serves the operator-facing mailbox inspection endpoint.
type MailInspector interface {
	Recent(ctx context.Context, n int64) ([]mail.RecentMessage, error)
}

// Handler routes pipeline requests.
type Handler struct {
	runner          Runner
	inspector       MailInspector
	defaultIdentity string
	healthChecks    []func(context.Context) error
}

// NewHandler creates the API handler. defaultIdentity is used when a
// begin request names no identity. healthChecks are probed by /health.
func NewHandler(runner Runner, inspector MailInspector, defaultIdentity string, healthChecks ...func(context.Context) error) *Handler {
	return &Handler{
		runner:          runner,
		inspector:       inspector,
		defaultIdentity: defaultIdentity,
		healthChecks:    healthChecks,
	}
}

// Register wires the handler's routes onto a mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /runs", h.beginRun)
	mux.HandleFunc("POST /runs/{identity}/otp", h.submitOTP)
	mux.HandleFunc("DELETE /runs/{identity}", h.cancelRun)
	mux.HandleFunc("GET /mail/recent", h.recentMail)
	mux.HandleFunc("GET /health", h.health)
}

type beginRequest struct {
	Identity string `json:"identity"`
}

type beginResponse struct {
	RunID      string `json:"run_id"`
	Identity   string `json:"identity"`
	ReportDate string `json:"report_date"`
	Subject    string `json:"subject"`
	State      string `json:"state"`
}

func (h *Handler) beginRun(w http.ResponseWriter, r *http.Request) {
	var req beginRequest
	// An empty body is fine; it means "use the default identity".
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "bad_request")
		return
	}
	identity := req.Identity
	if identity == "" {
		identity = h.defaultIdentity
	}
	if identity == "" {
		writeError(w, http.StatusBadRequest, "identity required")
		return
	}

	res, err := h.runner.Begin(r.Context(), identity)
	if err != nil {
		h.writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, beginResponse{
		RunID:      res.RunID,
		Identity:   identity,
		ReportDate: res.ReportDate,
		Subject:    res.Subject,
		State:      "otp_pending",
	})
}

type otpRequest struct {
	Code string `json:"code"`
}

type summaryResponse struct {
	Summary string `json:"summary"`
}

func (h *Handler) submitOTP(w http.ResponseWriter, r *http.Request) {
	identity := r.PathValue("identity")
	var req otpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request")
		return
	}

	summary, err := h.runner.Complete(r.Context(), identity, req.Code)
	if err != nil {
		h.writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summaryResponse{Summary: summary})
}

func (h *Handler) cancelRun(w http.ResponseWriter, r *http.Request) {
	identity := r.PathValue("identity")
	if err := h.runner.Cancel(r.Context(), identity); err != nil {
		h.writeRunError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) recentMail(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.inspector.Recent(r.Context(), 5)
	if err != nil {
		slog.Error("mail inspection failed", "error", err)
		writeError(w, http.StatusBadGateway, "mail_source_unavailable")
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	for _, check := range h.healthChecks {
		if err := check(r.Context()); err != nil {
			slog.Warn("health check failed", "error", err)
			writeError(w, http.StatusServiceUnavailable, "unhealthy")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// writeRunError maps pipeline outcomes onto HTTP statuses. Stage-labeled
// failures surface only their stage; the underlying fault text stays in
// the logs.
func (h *Handler) writeRunError(w http.ResponseWriter, err error) {
	var stageErr *pipeline.StageError
	switch {
	case errors.Is(err, pipeline.ErrNoReport):
		writeError(w, http.StatusNotFound, "no_report")
	case errors.Is(err, pipeline.ErrNoPendingRun):
		writeError(w, http.StatusNotFound, "no_pending_run")
	case errors.Is(err, registry.ErrInFlight):
		writeError(w, http.StatusConflict, "run_in_flight")
	case errors.Is(err, portal.ErrInvalidOTP):
		writeError(w, http.StatusBadRequest, "invalid_otp")
	case errors.As(err, &stageErr):
		slog.Error("pipeline stage failed", "stage", stageErr.Stage, "error", stageErr.Err)
		writeError(w, http.StatusBadGateway, string(stageErr.Stage)+"_failed")
	default:
		slog.Error("pipeline request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response encode failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
