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
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestDownloadFilename verifies name resolution precedence.
func TestDownloadFilename(t *testing.T) {
	tests := []struct {
		name        string
		disposition string
		linkText    string
		want        string
	}{
		{
			name:        "disposition wins",
			disposition: `attachment; filename="daily.xlsx"`,
			linkText:    "other.xlsx",
			want:        "daily.xlsx",
		},
		{
			name:        "disposition path traversal stripped",
			disposition: `attachment; filename="../../etc/daily.xlsx"`,
			want:        "daily.xlsx",
		},
		{
			name:     "link text with extension",
			linkText: "  דוח יומי.xlsx ",
			want:     "דוח יומי.xlsx",
		},
		{
			name:     "link text without extension falls through",
			linkText: "הורדה",
			want:     defaultFilename,
		},
		{
			name:        "malformed disposition falls through",
			disposition: `;;;`,
			want:        defaultFilename,
		},
		{
			name: "nothing at all",
			want: defaultFilename,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := downloadFilename(tt.disposition, tt.linkText); got != tt.want {
				t.Errorf("downloadFilename() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestLooksLikeSheet verifies the attachment heuristics.
func TestLooksLikeSheet(t *testing.T) {
	tests := []struct {
		name string
		el   PageElement
		want bool
	}{
		{"xlsx href", PageElement{Href: "/dl/report.xlsx"}, true},
		{"csv href uppercase", PageElement{Href: "/dl/REPORT.CSV"}, true},
		{"keyword in href", PageElement{Href: "/download?id=1"}, true},
		{"hebrew keyword in text", PageElement{Href: "/x", Text: "הורדת דוח"}, true},
		{"keyword text without href", PageElement{Text: "דוח"}, false},
		{"plain navigation link", PageElement{Href: "/home", Text: "בית"}, false},
		{"empty", PageElement{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := looksLikeSheet(tt.el); got != tt.want {
				t.Errorf("looksLikeSheet(%+v) = %v, want %v", tt.el, got, tt.want)
			}
		})
	}
}

// TestRecoverFromDownloadDir verifies the newest spreadsheet wins and
// non-spreadsheet files are ignored.
func TestRecoverFromDownloadDir(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "old.xlsx")
	newer := filepath.Join(dir, "newer.xlsx")
	for _, p := range []string{old, filepath.Join(dir, "notes.txt"), newer} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatal(err)
	}

	s := NewSession(SessionConfig{Browser: newFakeBrowser(), DownloadDir: dir, Settle: -1})
	file, err := s.recoverFromDownloadDir()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if file.Path != newer {
		t.Errorf("path = %q, want %q", file.Path, newer)
	}
}

// TestRecoverFromDownloadDir_Empty verifies the scan reports
// ErrDownloadFailed when nothing usable is present.
func TestRecoverFromDownloadDir_Empty(t *testing.T) {
	s := NewSession(SessionConfig{Browser: newFakeBrowser(), DownloadDir: t.TempDir(), Settle: -1})
	if _, err := s.recoverFromDownloadDir(); !errors.Is(err, ErrDownloadFailed) {
		t.Fatalf("err = %v, want ErrDownloadFailed", err)
	}
}
