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

package portal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/mrb/reportd/internal/models"
)

// State is the lifecycle position of a Session.
type State int

const (
	StateIdle State = iota
	StateNavigated
	StateCredentialSubmitted
	StateOTPPending
	StateAuthenticated
	StateDownloaded
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNavigated:
		return "navigated"
	case StateCredentialSubmitted:
		return "credential_submitted"
	case StateOTPPending:
		return "otp_pending"
	case StateAuthenticated:
		return "authenticated"
	case StateDownloaded:
		return "downloaded"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// ErrInvalidOTP rejects codes that are not exactly four decimal digits.
// Validation failures never mutate session state.
var ErrInvalidOTP = errors.New("OTP code must be exactly four digits")

var otpCodeRe = regexp.MustCompile(`^\d{4}$`)

// otpIndicators are the textual cues a portal page may expose once the
// SMS code has been sent. Detection is advisory: the sequence proceeds
// optimistically even when none is present.
var otpIndicators = []string{"OTP", "קוד", "SMS", "סיסמה חד"}

// Session drives one authenticated portal visit: open the mailed link,
// submit the identity number, relay the SMS code, capture the
// spreadsheet. It owns its Browser exclusively and releases it exactly
// once, on whichever exit path the run takes.
type Session struct {
	browser     Browser
	client      *http.Client
	downloadDir string
	settle      time.Duration

	mu           sync.Mutex
	state        State
	credSelector string
	closeOnce    sync.Once
}

// SessionConfig holds the collaborators a Session needs.
type SessionConfig struct {
	Browser     Browser
	DownloadDir string
	// HTTPClient performs the direct cookie-authenticated download
	// fallback. Defaults to a 60-second-timeout client.
	HTTPClient *http.Client
	// Settle is the fixed delay after navigation and credential submit;
	// the portal's pages are not idle-event-accurate. Defaults to 2s.
	Settle time.Duration
}

// NewSession creates a session in the idle state.
func NewSession(cfg SessionConfig) *Session {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	settle := cfg.Settle
	if settle == 0 {
		settle = 2 * time.Second
	}
	return &Session{
		browser:     cfg.Browser,
		client:      client,
		downloadDir: cfg.DownloadDir,
		settle:      settle,
		state:       StateIdle,
	}
}

// State reports the session's current lifecycle position.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) ensure(want State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != want {
		return fmt.Errorf("session is %s, expected %s", s.state, want)
	}
	return nil
}

// RequestOTP opens the download URL, submits the identity number and
// leaves the session waiting for the SMS code. Failing to locate any
// credential field is terminal: a diagnostic snapshot is captured and
// the session moves to failed with its browser released.
func (s *Session) RequestOTP(ctx context.Context, url, identity string) error {
	if err := s.ensure(StateIdle); err != nil {
		return err
	}

	slog.Info("navigating to portal", "url", url)
	if err := s.browser.Navigate(ctx, url); err != nil {
		return s.fail(ctx, fmt.Errorf("navigate: %w", err), false)
	}
	if err := sleepCtx(ctx, s.settle); err != nil {
		return s.fail(ctx, err, false)
	}
	s.setState(StateNavigated)

	credSel, err := resolve(ctx, s.browser, "credential field", credentialChain())
	if err != nil {
		var selErr *SelectorError
		return s.fail(ctx, err, errors.As(err, &selErr))
	}
	s.mu.Lock()
	s.credSelector = credSel
	s.mu.Unlock()

	if err := s.browser.Fill(ctx, credSel, identity); err != nil {
		return s.fail(ctx, fmt.Errorf("fill credential field: %w", err), false)
	}
	slog.Info("identity number entered")

	// A missing submit control is tolerated: some portal revisions
	// submit on enter or on field blur.
	if submitSel, err := resolve(ctx, s.browser, "login submit", loginSubmitChain()); err == nil {
		if err := s.browser.Click(ctx, submitSel); err != nil {
			return s.fail(ctx, fmt.Errorf("click login submit: %w", err), false)
		}
	} else if ctx.Err() != nil {
		return s.fail(ctx, ctx.Err(), false)
	} else {
		slog.Warn("no login submit control resolved, continuing")
	}
	s.setState(StateCredentialSubmitted)

	if err := sleepCtx(ctx, 3*time.Second); err != nil {
		return s.fail(ctx, err, false)
	}

	if content, err := s.browser.Content(ctx); err == nil {
		if containsAny(content, otpIndicators) {
			slog.Info("OTP prompt detected on page")
		} else {
			slog.Info("no OTP indicator on page, assuming the code was sent")
		}
	}
	s.setState(StateOTPPending)
	return nil
}

// SubmitOTP types the SMS code, confirms, and captures the report file.
// The code must be exactly four decimal digits; anything else is
// rejected without touching session state.
func (s *Session) SubmitOTP(ctx context.Context, code string) (*models.DownloadedFile, error) {
	if !otpCodeRe.MatchString(code) {
		return nil, ErrInvalidOTP
	}
	if err := s.ensure(StateOTPPending); err != nil {
		return nil, err
	}

	s.mu.Lock()
	credSel := s.credSelector
	s.mu.Unlock()

	otpSel, err := resolve(ctx, s.browser, "OTP field", otpChain(credSel))
	if err != nil {
		var selErr *SelectorError
		return nil, s.fail(ctx, err, errors.As(err, &selErr))
	}
	if err := s.browser.Fill(ctx, otpSel, code); err != nil {
		return nil, s.fail(ctx, fmt.Errorf("fill OTP field: %w", err), false)
	}
	slog.Info("OTP code entered")

	file, err := s.confirmAndDownload(ctx)
	if err != nil {
		return nil, s.fail(ctx, err, false)
	}
	s.setState(StateDownloaded)
	slog.Info("report file captured", "path", file.Path, "bytes", file.Size)
	return file, nil
}

// confirmAndDownload clicks the confirmation control and captures the
// resulting file. When the engine exposes native download events the
// expectation is armed before the click; otherwise the session falls
// back to the cookie-authenticated direct HTTP path.
func (s *Session) confirmAndDownload(ctx context.Context) (*models.DownloadedFile, error) {
	confirmSel, err := resolve(ctx, s.browser, "confirmation control", confirmChain())
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if s.browser.SupportsDownloadCapture() {
		wait, armErr := s.browser.ArmDownload(ctx)
		if armErr == nil {
			if confirmSel != "" {
				if err := s.browser.Click(ctx, confirmSel); err != nil {
					return nil, fmt.Errorf("click confirmation: %w", err)
				}
			}
			s.setState(StateAuthenticated)

			waitCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
			defer cancel()
			if path, werr := wait(waitCtx); werr == nil {
				return statFile(path)
			} else {
				slog.Warn("native download capture yielded nothing", "error", werr)
			}
			return s.recoverFromDownloadDir()
		}
		slog.Warn("could not arm download capture", "error", armErr)
	}

	if confirmSel != "" {
		if err := s.browser.Click(ctx, confirmSel); err != nil {
			return nil, fmt.Errorf("click confirmation: %w", err)
		}
	}
	s.setState(StateAuthenticated)
	if err := sleepCtx(ctx, s.settle); err != nil {
		return nil, err
	}
	return s.directDownload(ctx)
}

// fail captures diagnostics when asked, marks the session failed and
// releases the browser. It returns the original error for convenience.
func (s *Session) fail(ctx context.Context, cause error, snapshot bool) error {
	if snapshot {
		path := filepath.Join(s.downloadDir, "portal_debug.png")
		if err := s.browser.Screenshot(ctx, path); err != nil {
			slog.Warn("diagnostic screenshot failed", "error", err)
		} else {
			slog.Info("diagnostic screenshot captured", "path", path)
		}
	}
	s.setState(StateFailed)
	s.release()
	return cause
}

// Close releases the browser. Idempotent: safe on every exit path,
// including after a failure already released it.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state != StateFailed {
		s.state = StateClosed
	}
	s.mu.Unlock()
	s.release()
	return nil
}

func (s *Session) release() {
	s.closeOnce.Do(func() {
		if err := s.browser.Close(); err != nil {
			slog.Warn("browser close failed", "error", err)
		} else {
			slog.Info("browser released")
		}
	})
}

func containsAny(content string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(content, t) {
			return true
		}
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
