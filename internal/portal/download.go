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
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/mrb/reportd/internal/models"
)

// ErrDownloadFailed is returned when neither capture strategy nor the
// download-directory scan yields a file. Distinct from authentication
// failures so callers can tell "could not log in" from "logged in but no
// file appeared".
var ErrDownloadFailed = errors.New("no report file captured")

// defaultFilename substitutes when the server suggests nothing usable.
const defaultFilename = "report.xlsx"

// sheetExtensions and sheetKeywords mark a page element as pointing at a
// spreadsheet attachment. Matching is deliberately loose: a false
// positive costs one failed GET, a miss costs the whole run.
var (
	sheetExtensions = []string{".xlsx", ".xls", ".csv"}
	sheetKeywords   = []string{"download", "excel", "דוח", "קובץ"}
)

// elementSets are tried narrowest first when hunting the attachment link.
var elementSets = []string{
	`a[href]`,
	`a, button, input[type="submit"], [onclick]`,
	`*`,
}

// directDownload finds the spreadsheet link on the authenticated page and
// retrieves it over plain HTTP using the browser session's cookies as the
// credential. Used when native download events are unavailable.
func (s *Session) directDownload(ctx context.Context) (*models.DownloadedFile, error) {
	el, ok := s.findSheetElement(ctx)
	if !ok {
		slog.Warn("no spreadsheet link found on page")
		return s.recoverFromDownloadDir()
	}

	target, err := s.absoluteURL(ctx, el.Href)
	if err != nil {
		slog.Warn("could not resolve attachment URL", "href", el.Href, "error", err)
		return s.recoverFromDownloadDir()
	}

	cookies, err := s.browser.Cookies(ctx)
	if err != nil {
		return nil, fmt.Errorf("read session cookies: %w", err)
	}

	slog.Info("fetching attachment directly", "url", target)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: direct fetch: %v", ErrDownloadFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: portal returned HTTP %d", ErrDownloadFailed, resp.StatusCode)
	}

	name := downloadFilename(resp.Header.Get("Content-Disposition"), el.Text)
	dest := filepath.Join(s.downloadDir, name)
	f, err := os.Create(dest)
	if err != nil {
		return nil, fmt.Errorf("create download file: %w", err)
	}
	size, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dest)
		return nil, fmt.Errorf("write download file: %w", err)
	}
	return &models.DownloadedFile{Path: dest, Size: size}, nil
}

// findSheetElement scans increasingly broad element sets — links first,
// then anything clickable, then every element — for a spreadsheet hint
// in the address or the visible text.
func (s *Session) findSheetElement(ctx context.Context) (PageElement, bool) {
	for _, set := range elementSets {
		elements, err := s.browser.Elements(ctx, set)
		if err != nil {
			slog.Debug("element scan failed", "set", set, "error", err)
			continue
		}
		for _, el := range elements {
			if looksLikeSheet(el) {
				slog.Info("spreadsheet element found",
					"set", set,
					"href", el.Href,
					"text", el.Text,
				)
				return el, true
			}
		}
	}
	return PageElement{}, false
}

func looksLikeSheet(el PageElement) bool {
	href := strings.ToLower(el.Href)
	text := strings.ToLower(el.Text)
	for _, ext := range sheetExtensions {
		if strings.Contains(href, ext) || strings.Contains(text, ext) {
			return true
		}
	}
	if href == "" {
		return false
	}
	for _, kw := range sheetKeywords {
		if strings.Contains(href, kw) || strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// absoluteURL resolves an element href against the page's current URL.
func (s *Session) absoluteURL(ctx context.Context, href string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", err
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	loc, err := s.browser.Location(ctx)
	if err != nil {
		return "", err
	}
	base, err := url.Parse(loc)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}

// downloadFilename resolves the saved filename: Content-Disposition
// header, then visible link text, then the generic default.
func downloadFilename(disposition, linkText string) string {
	if disposition != "" {
		if _, params, err := mime.ParseMediaType(disposition); err == nil {
			if name := filepath.Base(params["filename"]); name != "" && name != "." {
				return name
			}
		}
	}
	if text := strings.TrimSpace(linkText); text != "" {
		lower := strings.ToLower(text)
		for _, ext := range sheetExtensions {
			if strings.HasSuffix(lower, ext) {
				return filepath.Base(text)
			}
		}
	}
	return defaultFilename
}

// recoverFromDownloadDir covers the case where the browser completed a
// download invisibly to the state machine: the newest spreadsheet in the
// working directory is taken as the captured file.
func (s *Session) recoverFromDownloadDir() (*models.DownloadedFile, error) {
	entries, err := os.ReadDir(s.downloadDir)
	if err != nil {
		return nil, fmt.Errorf("%w: scan download dir: %v", ErrDownloadFailed, err)
	}
	var newest string
	var newestMod int64
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".xlsx") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if m := info.ModTime().UnixNano(); newest == "" || m > newestMod {
			newest = e.Name()
			newestMod = m
		}
	}
	if newest == "" {
		return nil, ErrDownloadFailed
	}
	slog.Info("recovered pre-existing download", "file", newest)
	return statFile(filepath.Join(s.downloadDir, newest))
}

func statFile(p string) (*models.DownloadedFile, error) {
	info, err := os.Stat(p)
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %v", ErrDownloadFailed, path.Base(p), err)
	}
	return &models.DownloadedFile{Path: p, Size: info.Size()}, nil
}
