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

package report

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"
)

// testSheet is one sheet of a generated test workbook, header row first.
type testSheet struct {
	name string
	rows [][]string
}

// writeWorkbook materialises sheets into an xlsx file under a temp dir.
func writeWorkbook(t *testing.T, sheets []testSheet) string {
	t.Helper()
	f := excelize.NewFile()
	for _, s := range sheets {
		if _, err := f.NewSheet(s.name); err != nil {
			t.Fatalf("new sheet %q: %v", s.name, err)
		}
		for i, row := range s.rows {
			cells := make([]interface{}, len(row))
			for j, v := range row {
				cells[j] = v
			}
			if err := f.SetSheetRow(s.name, fmt.Sprintf("A%d", i+1), &cells); err != nil {
				t.Fatalf("set row: %v", err)
			}
		}
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		t.Fatalf("delete default sheet: %v", err)
	}

	path := filepath.Join(t.TempDir(), "report.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("save workbook: %v", err)
	}
	return path
}

// TestLoadWorkbook verifies the header/row split and open failures.
func TestLoadWorkbook(t *testing.T) {
	path := writeWorkbook(t, []testSheet{
		{
			name: "נתונים",
			rows: [][]string{
				{"שם", "סכום"},
				{"אבי", "100"},
				{"דנה", "200"},
			},
		},
		{name: "ריק", rows: nil},
	})

	wb, err := LoadWorkbook(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(wb.Sheets) != 2 {
		t.Fatalf("sheets = %d, want 2", len(wb.Sheets))
	}

	data := wb.Sheets[0]
	if data.Name != "נתונים" {
		t.Errorf("name = %q", data.Name)
	}
	if len(data.Headers) != 2 || data.Headers[0] != "שם" {
		t.Errorf("headers = %v", data.Headers)
	}
	if len(data.Rows) != 2 || data.Rows[1][1] != "200" {
		t.Errorf("rows = %v", data.Rows)
	}

	empty := wb.Sheets[1]
	if len(empty.Headers) != 0 || len(empty.Rows) != 0 {
		t.Errorf("empty sheet parsed as %v / %v", empty.Headers, empty.Rows)
	}
}

func TestLoadWorkbook_OpenFailure(t *testing.T) {
	if _, err := LoadWorkbook(filepath.Join(t.TempDir(), "missing.xlsx")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

// TestFindColumn verifies keyword priority order beats header order.
func TestFindColumn(t *testing.T) {
	s := &Sheet{Headers: []string{"מזהה", "שם העמית ", "Amount (NIS)", "יתרה"}}

	tests := []struct {
		keywords []string
		want     int
	}{
		{[]string{"שם", "עמית"}, 1},
		{[]string{"יתרה", "amount"}, 3}, // keyword order, not header order
		{[]string{"amount"}, 2},         // case-insensitive
		{[]string{"לא קיים"}, -1},
		{nil, -1},
	}

	for _, tt := range tests {
		if got := s.FindColumn(tt.keywords...); got != tt.want {
			t.Errorf("FindColumn(%v) = %d, want %d", tt.keywords, got, tt.want)
		}
	}
}

// TestColumns verifies every matching header is returned.
func TestColumns(t *testing.T) {
	s := &Sheet{Headers: []string{"שם", "סטטוס הצטרפות", "מוצר", "סטטוס הפקדה"}}
	got := s.Columns("סטטוס")
	if len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Errorf("Columns = %v, want [1 3]", got)
	}
}

// TestCell verifies ragged rows shorter than the header are tolerated.
func TestCell(t *testing.T) {
	s := &Sheet{Headers: []string{"a", "b", "c"}}
	row := []string{" x ", "y"}

	if got := s.Cell(row, 0); got != "x" {
		t.Errorf("Cell(0) = %q", got)
	}
	if got := s.Cell(row, 2); got != "" {
		t.Errorf("Cell(2) = %q, want empty for a short row", got)
	}
	if got := s.Cell(row, -1); got != "" {
		t.Errorf("Cell(-1) = %q, want empty", got)
	}
}
