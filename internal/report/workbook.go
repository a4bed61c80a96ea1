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

// Package report parses the portal's daily spreadsheet into a
// categorised summary. The workbook has no stable schema: sheets and
// columns are discovered by case-insensitive substring matching against
// small keyword vocabularies, trading false positives for not missing
// variant wording.
package report

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Sheet is one worksheet flattened to a header row plus string cells.
type Sheet struct {
	Name    string
	Headers []string
	Rows    [][]string
}

// Workbook is a loaded spreadsheet plus any per-sheet load warnings.
type Workbook struct {
	Sheets   []Sheet
	Warnings []string
}

// LoadWorkbook reads every sheet eagerly. A sheet that fails to parse is
// skipped with a recorded warning, never a hard failure — one damaged
// sheet must not block analysis of the rest. A workbook that cannot be
// opened at all does fail, since no summary could be produced.
func LoadWorkbook(path string) (*Workbook, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	wb := &Workbook{}
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			slog.Warn("skipping unreadable sheet", "sheet", name, "error", err)
			wb.Warnings = append(wb.Warnings, fmt.Sprintf("sheet %q: %v", name, err))
			continue
		}
		sheet := Sheet{Name: name}
		if len(rows) > 0 {
			sheet.Headers = rows[0]
			sheet.Rows = rows[1:]
		}
		wb.Sheets = append(wb.Sheets, sheet)
	}
	slog.Info("workbook loaded", "sheets", len(wb.Sheets), "warnings", len(wb.Warnings))
	return wb, nil
}

// FindColumn returns the index of the first header containing any of the
// keywords, case-insensitive, in keyword priority order. -1 when nothing
// matches.
func (s *Sheet) FindColumn(keywords ...string) int {
	for _, kw := range keywords {
		kw = strings.ToLower(kw)
		for i, h := range s.Headers {
			if strings.Contains(strings.ToLower(strings.TrimSpace(h)), kw) {
				return i
			}
		}
	}
	return -1
}

// Columns returns the indexes of every header containing the keyword.
func (s *Sheet) Columns(keyword string) []int {
	keyword = strings.ToLower(keyword)
	var out []int
	for i, h := range s.Headers {
		if strings.Contains(strings.ToLower(strings.TrimSpace(h)), keyword) {
			out = append(out, i)
		}
	}
	return out
}

// Cell returns the trimmed value at the column index, tolerating ragged
// rows shorter than the header.
func (s *Sheet) Cell(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[col])
}

// nameContainsAny reports whether the sheet name carries any of the
// substrings, case-insensitive.
func (s *Sheet) nameContainsAny(substrs ...string) bool {
	name := strings.ToLower(s.Name)
	for _, sub := range substrs {
		if strings.Contains(name, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}
