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

package mail

import (
	"errors"
	"testing"
)

// TestExtract verifies link extraction rule precedence and normalisation.
func TestExtract(t *testing.T) {
	e := NewExtractor("safemail.example.co.il")

	tests := []struct {
		name    string
		content string
		want    string
		wantErr error
	}{
		{
			name:    "login url",
			content: `please open https://safemail.example.co.il/Safe-T/login.aspx?id=abc123 to view`,
			want:    "https://safemail.example.co.il/Safe-T/login.aspx?id=abc123",
		},
		{
			name:    "login url wins over plain host url",
			content: `https://safemail.example.co.il/other https://safemail.example.co.il/Safe-T/login.aspx?id=x`,
			want:    "https://safemail.example.co.il/Safe-T/login.aspx?id=x",
		},
		{
			name:    "any host url",
			content: `download here: https://safemail.example.co.il/dl/99`,
			want:    "https://safemail.example.co.il/dl/99",
		},
		{
			name:    "anchor href",
			content: `<html><body><a href="https://safemail.example.co.il/Safe-T/login.aspx?id=1">לצפייה</a></body></html>`,
			want:    "https://safemail.example.co.il/Safe-T/login.aspx?id=1",
		},
		{
			name:    "ampersand entity unescaped",
			content: `<a href="https://safemail.example.co.il/Safe-T/login.aspx?x=1&amp;y=2">link</a>`,
			want:    "https://safemail.example.co.il/Safe-T/login.aspx?x=1&y=2",
		},
		{
			name:    "trailing angle bracket stripped",
			content: `link: <https://safemail.example.co.il/Safe-T/login.aspx?id=7>`,
			want:    "https://safemail.example.co.il/Safe-T/login.aspx?id=7",
		},
		{
			name:    "wrong host ignored",
			content: `https://evil.example.com/Safe-T/login.aspx?id=1`,
			wantErr: ErrNoLink,
		},
		{
			name:    "no link at all",
			content: `nothing to see here`,
			wantErr: ErrNoLink,
		},
		{
			name:    "empty content",
			content: "",
			wantErr: ErrNoLink,
		},
		{
			name:    "raw href fragment without surrounding markup",
			content: `...href="https://safemail.example.co.il/view?t=9"...`,
			want:    "https://safemail.example.co.il/view?t=9",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Extract(tt.content)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Extract() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Extract() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestExtractHostQuoting verifies hosts with regexp metacharacters are
// matched literally.
func TestExtractHostQuoting(t *testing.T) {
	e := NewExtractor("safemail.example.co.il")
	if _, err := e.Extract("https://safemailXexampleYcoZil/Safe-T/login.aspx?id=1"); !errors.Is(err, ErrNoLink) {
		t.Errorf("dots must not match arbitrary characters, got err=%v", err)
	}
}
