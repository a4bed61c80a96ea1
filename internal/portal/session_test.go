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
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// fakeBrowser is an in-memory Browser for session tests.
type fakeBrowser struct {
	mu sync.Mutex

	visible  map[string]bool
	fills    map[string]string
	clicks   []string
	content  string
	location string
	elements map[string][]PageElement
	cookies  []*http.Cookie

	supportsCapture bool
	armErr          error
	downloadPath    string
	downloadErr     error

	navErr  error
	fillErr error

	screenshots []string
	closed      int
}

func newFakeBrowser() *fakeBrowser {
	return &fakeBrowser{
		visible:  make(map[string]bool),
		fills:    make(map[string]string),
		elements: make(map[string][]PageElement),
		location: "https://portal.example.co.il/Safe-T/inbox.aspx",
	}
}

func (f *fakeBrowser) Navigate(ctx context.Context, url string) error { return f.navErr }

func (f *fakeBrowser) Location(ctx context.Context) (string, error) { return f.location, nil }

func (f *fakeBrowser) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.visible[selector] {
		return nil
	}
	return fmt.Errorf("selector %q not visible", selector)
}

func (f *fakeBrowser) Fill(ctx context.Context, selector, value string) error {
	if f.fillErr != nil {
		return f.fillErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fills[selector] = value
	return nil
}

func (f *fakeBrowser) Click(ctx context.Context, selector string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clicks = append(f.clicks, selector)
	return nil
}

func (f *fakeBrowser) Content(ctx context.Context) (string, error) { return f.content, nil }

func (f *fakeBrowser) Elements(ctx context.Context, selector string) ([]PageElement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	els, ok := f.elements[selector]
	if !ok {
		return nil, nil
	}
	return els, nil
}

func (f *fakeBrowser) Cookies(ctx context.Context) ([]*http.Cookie, error) { return f.cookies, nil }

func (f *fakeBrowser) Screenshot(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.screenshots = append(f.screenshots, path)
	return nil
}

func (f *fakeBrowser) SupportsDownloadCapture() bool { return f.supportsCapture }

func (f *fakeBrowser) ArmDownload(ctx context.Context) (func(ctx context.Context) (string, error), error) {
	if f.armErr != nil {
		return nil, f.armErr
	}
	return func(ctx context.Context) (string, error) {
		return f.downloadPath, f.downloadErr
	}, nil
}

func (f *fakeBrowser) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeBrowser) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// newTestSession builds a session with sleeps disabled.
func newTestSession(t *testing.T, b *fakeBrowser) *Session {
	t.Helper()
	return NewSession(SessionConfig{
		Browser:     b,
		DownloadDir: t.TempDir(),
		Settle:      -1,
	})
}

// TestSubmitOTP_CodeValidation verifies malformed codes are rejected
// before any state or browser interaction.
func TestSubmitOTP_CodeValidation(t *testing.T) {
	tests := []struct {
		code string
		ok   bool
	}{
		{"1234", true},
		{"0000", true},
		{"123", false},
		{"12345", false},
		{"12a4", false},
		{"12 4", false},
		{"", false},
		{"١٢٣٤", false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			b := newFakeBrowser()
			s := newTestSession(t, b)
			// Session is idle, so even a well-formed code must fail on
			// state, not on format.
			_, err := s.SubmitOTP(context.Background(), tt.code)
			if tt.ok {
				if errors.Is(err, ErrInvalidOTP) {
					t.Errorf("code %q rejected as invalid", tt.code)
				}
			} else {
				if !errors.Is(err, ErrInvalidOTP) {
					t.Errorf("code %q: err = %v, want ErrInvalidOTP", tt.code, err)
				}
			}
			if got := s.State(); got != StateIdle {
				t.Errorf("state = %s, want %s", got, StateIdle)
			}
			if b.closeCount() != 0 {
				t.Errorf("browser closed %d times on a rejected code", b.closeCount())
			}
		})
	}
}

// TestRequestOTP verifies the credential phase: navigate, fill the
// identity number, click the login control and end up waiting for a code.
func TestRequestOTP(t *testing.T) {
	b := newFakeBrowser()
	b.visible[`input[name="truePass"]`] = true
	b.visible[`input[type="submit"]`] = true
	b.content = "הזן את הקוד שנשלח אליך ב-SMS"
	s := newTestSession(t, b)

	err := s.RequestOTP(context.Background(), "https://portal.example.co.il/Safe-T/login.aspx?id=1", "012345678")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := b.fills[`input[name="truePass"]`]; got != "012345678" {
		t.Errorf("credential fill = %q", got)
	}
	if len(b.clicks) != 1 || b.clicks[0] != `input[type="submit"]` {
		t.Errorf("clicks = %v", b.clicks)
	}
	if got := s.State(); got != StateOTPPending {
		t.Errorf("state = %s, want %s", got, StateOTPPending)
	}

	// A second credential phase on the same session must be refused.
	if err := s.RequestOTP(context.Background(), "https://portal.example.co.il/x", "012345678"); err == nil {
		t.Error("expected a state error on re-entry")
	}
}

// TestRequestOTP_MissingSubmitTolerated verifies a portal revision with no
// recognisable login button still proceeds to the OTP wait.
func TestRequestOTP_MissingSubmitTolerated(t *testing.T) {
	b := newFakeBrowser()
	b.visible[`input[type="password"]`] = true
	s := newTestSession(t, b)

	if err := s.RequestOTP(context.Background(), "https://portal.example.co.il/x", "012345678"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(b.clicks) != 0 {
		t.Errorf("clicks = %v, want none", b.clicks)
	}
	if got := s.State(); got != StateOTPPending {
		t.Errorf("state = %s, want %s", got, StateOTPPending)
	}
}

// TestRequestOTP_NoCredentialField verifies an exhausted credential chain
// is terminal: diagnostic snapshot, failed state, browser released.
func TestRequestOTP_NoCredentialField(t *testing.T) {
	b := newFakeBrowser()
	s := newTestSession(t, b)

	err := s.RequestOTP(context.Background(), "https://portal.example.co.il/x", "012345678")
	var selErr *SelectorError
	if !errors.As(err, &selErr) {
		t.Fatalf("err = %v, want SelectorError", err)
	}
	if got := s.State(); got != StateFailed {
		t.Errorf("state = %s, want %s", got, StateFailed)
	}
	if b.closeCount() != 1 {
		t.Errorf("browser closed %d times, want 1", b.closeCount())
	}
	if len(b.screenshots) != 1 {
		t.Errorf("screenshots = %v, want one diagnostic capture", b.screenshots)
	}

	// Close after failure must not release a second time.
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if b.closeCount() != 1 {
		t.Errorf("browser closed %d times after Close, want 1", b.closeCount())
	}
	if got := s.State(); got != StateFailed {
		t.Errorf("state = %s, want %s preserved", got, StateFailed)
	}
}

// TestSubmitOTP_DirectDownload verifies the cookie-authenticated HTTP
// fallback end to end against a real server.
func TestSubmitOTP_DirectDownload(t *testing.T) {
	payload := []byte("spreadsheet-bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("session"); err != nil || c.Value != "abc" {
			http.Error(w, "unauthorised", http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Disposition", `attachment; filename="daily.xlsx"`)
		w.Write(payload)
	}))
	defer srv.Close()

	b := newFakeBrowser()
	b.visible[`input[name="otp"]`] = true
	b.visible[`input[type="submit"]`] = true
	b.elements[`a[href]`] = []PageElement{
		{Href: "/static/logo.png", Text: "לוגו"},
		{Href: srv.URL + "/dl/report.xlsx", Text: "הורדת דוח"},
	}
	b.cookies = []*http.Cookie{{Name: "session", Value: "abc"}}

	dir := t.TempDir()
	s := NewSession(SessionConfig{
		Browser:     b,
		DownloadDir: dir,
		Settle:      -1,
		HTTPClient:  srv.Client(),
	})
	s.setState(StateOTPPending)

	file, err := s.SubmitOTP(context.Background(), "1234")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if file.Path != filepath.Join(dir, "daily.xlsx") {
		t.Errorf("path = %q", file.Path)
	}
	if file.Size != int64(len(payload)) {
		t.Errorf("size = %d, want %d", file.Size, len(payload))
	}
	got, err := os.ReadFile(file.Path)
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("file content mismatch")
	}
	if got := s.State(); got != StateDownloaded {
		t.Errorf("state = %s, want %s", got, StateDownloaded)
	}
	if got := b.fills[`input[name="otp"]`]; got != "1234" {
		t.Errorf("otp fill = %q", got)
	}
}

// TestSubmitOTP_NativeCapture verifies the armed download path is
// preferred when the engine delivers download events.
func TestSubmitOTP_NativeCapture(t *testing.T) {
	dir := t.TempDir()
	captured := filepath.Join(dir, "report.xlsx")
	if err := os.WriteFile(captured, []byte("native"), 0o644); err != nil {
		t.Fatal(err)
	}

	b := newFakeBrowser()
	b.visible[`input[name="otp"]`] = true
	b.visible[`input[type="submit"]`] = true
	b.supportsCapture = true
	b.downloadPath = captured

	s := NewSession(SessionConfig{Browser: b, DownloadDir: dir, Settle: -1})
	s.setState(StateOTPPending)

	file, err := s.SubmitOTP(context.Background(), "5678")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if file.Path != captured {
		t.Errorf("path = %q, want %q", file.Path, captured)
	}
	if file.Size != int64(len("native")) {
		t.Errorf("size = %d", file.Size)
	}
}

// TestSubmitOTP_NativeCaptureRecovery verifies a failed download event
// falls back to scanning the download directory.
func TestSubmitOTP_NativeCaptureRecovery(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, "previous.xlsx")
	if err := os.WriteFile(stale, []byte("stale"), 0o644); err != nil {
		t.Fatal(err)
	}

	b := newFakeBrowser()
	b.visible[`input[name="otp"]`] = true
	b.visible[`input[type="submit"]`] = true
	b.supportsCapture = true
	b.downloadErr = errors.New("event never arrived")

	s := NewSession(SessionConfig{Browser: b, DownloadDir: dir, Settle: -1})
	s.setState(StateOTPPending)

	file, err := s.SubmitOTP(context.Background(), "5678")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if file.Path != stale {
		t.Errorf("path = %q, want recovered %q", file.Path, stale)
	}
}

// TestSubmitOTP_DownloadFailure verifies an empty page and empty download
// directory surface ErrDownloadFailed and tear the session down.
func TestSubmitOTP_DownloadFailure(t *testing.T) {
	b := newFakeBrowser()
	b.visible[`input[name="otp"]`] = true
	b.visible[`input[type="submit"]`] = true

	s := newTestSession(t, b)
	s.setState(StateOTPPending)

	_, err := s.SubmitOTP(context.Background(), "1234")
	if !errors.Is(err, ErrDownloadFailed) {
		t.Fatalf("err = %v, want ErrDownloadFailed", err)
	}
	if got := s.State(); got != StateFailed {
		t.Errorf("state = %s, want %s", got, StateFailed)
	}
	if b.closeCount() != 1 {
		t.Errorf("browser closed %d times, want 1", b.closeCount())
	}
}

// TestSubmitOTP_NoOTPField verifies an exhausted OTP chain is terminal
// with a diagnostic snapshot.
func TestSubmitOTP_NoOTPField(t *testing.T) {
	b := newFakeBrowser()
	s := newTestSession(t, b)
	s.setState(StateOTPPending)

	_, err := s.SubmitOTP(context.Background(), "1234")
	var selErr *SelectorError
	if !errors.As(err, &selErr) {
		t.Fatalf("err = %v, want SelectorError", err)
	}
	if len(b.screenshots) != 1 {
		t.Errorf("screenshots = %v, want one", b.screenshots)
	}
	if b.closeCount() != 1 {
		t.Errorf("browser closed %d times, want 1", b.closeCount())
	}
}

// TestClose_Idempotent verifies repeated closes release the browser once.
func TestClose_Idempotent(t *testing.T) {
	b := newFakeBrowser()
	s := newTestSession(t, b)

	for i := 0; i < 3; i++ {
		if err := s.Close(); err != nil {
			t.Fatalf("close %d: %v", i, err)
		}
	}
	if b.closeCount() != 1 {
		t.Errorf("browser closed %d times, want 1", b.closeCount())
	}
	if got := s.State(); got != StateClosed {
		t.Errorf("state = %s, want %s", got, StateClosed)
	}
}
