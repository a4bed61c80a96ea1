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
	"strconv"
	"strings"
)

// Sheet and column discovery vocabularies. All matching is
// case-insensitive substring matching.
var (
	trackingSheetName = "מעקב הצטרפויות"
	statusKeyword     = "סטטוס"

	rejectSheetNames  = []string{"ריג'קטים בהצטרפות", "ריגקטים בהצטרפות", "rejects"}
	rejectStatusWords = []string{"דחי", "ריג'קט", "reject"}

	transferInNames  = []string{"העברה פנימה", "ניוד נכנס", "transfer in"}
	transferOutNames = []string{"העברה החוצה", "ניוד יוצא", "transfer out"}
	joinSheetName    = "הצטרפויות"

	nameKeywords      = []string{"שם", "עמית", "name"}
	shortNameKeywords = []string{"שם", "עמית"}
	reasonKeywords    = []string{"סיבה", "תיאור", "reason", "ריג'קט"}
	productKeywords   = []string{"מוצר", "קופה", "product"}
	amountKeywords    = []string{"סכום", "יתרה", "amount"}
)

// Placeholder strings for missing cells.
const (
	unknownName  = "לא ידוע"
	noReason     = "לא צוין"
	maxReasonLen = 30
)

// How many example rows each extractor collects. Display rendering caps
// further; neither cap ever affects the reported count.
const (
	rejectEntryCap   = 10
	pendingEntryCap  = 10
	transferEntryCap = 5
	joinEntryCap     = 5
)

// Entry is one example row of a category.
type Entry struct {
	Name   string
	Detail string
}

// Category holds the true row count plus a bounded set of example rows.
type Category struct {
	Count   int
	Total   float64 // inbound transfers only
	Entries []Entry
}

// Summary is the structured result of one report extraction. Built fresh
// per run and never mutated after construction.
type Summary struct {
	Rejects         Category
	PendingDeposits Category
	TransfersIn     Category
	TransfersOut    Category
	NewJoins        Category
	Warnings        []string
}

// Extract loads the workbook at path and runs the five category
// extractors.
func Extract(path string) (*Summary, error) {
	wb, err := LoadWorkbook(path)
	if err != nil {
		return nil, err
	}
	return Analyze(wb), nil
}

// Analyze runs the five category extractors over a loaded workbook. The
// extractors are independent and share no mutable state.
func Analyze(wb *Workbook) *Summary {
	return &Summary{
		Rejects:         extractRejects(wb),
		PendingDeposits: extractPendingDeposits(wb),
		TransfersIn:     extractTransfersIn(wb),
		TransfersOut:    extractTransfersOut(wb),
		NewJoins:        extractNewJoins(wb),
		Warnings:        wb.Warnings,
	}
}

// extractRejects prefers a dedicated rejects sheet; when none exists (or
// it is empty) it falls back to scanning the join-tracking sheet for rows
// whose status column matches the rejection vocabulary.
func extractRejects(wb *Workbook) Category {
	var (
		sheet *Sheet
		rows  [][]string
	)
	for i := range wb.Sheets {
		if wb.Sheets[i].nameContainsAny(rejectSheetNames...) {
			sheet = &wb.Sheets[i]
			rows = sheet.Rows
			break
		}
	}

	if sheet == nil || len(rows) == 0 {
		for i := range wb.Sheets {
			s := &wb.Sheets[i]
			if !s.nameContainsAny(trackingSheetName) {
				continue
			}
			for _, col := range s.Columns(statusKeyword) {
				var matched [][]string
				for _, row := range s.Rows {
					if containsAnyFold(s.Cell(row, col), rejectStatusWords) {
						matched = append(matched, row)
					}
				}
				if len(matched) > 0 {
					sheet = s
					rows = matched
					break
				}
			}
			if len(rows) > 0 {
				break
			}
		}
	}

	cat := Category{}
	if sheet == nil || len(rows) == 0 {
		return cat
	}
	cat.Count = len(rows)

	nameCol := sheet.FindColumn(nameKeywords...)
	reasonCol := sheet.FindColumn(reasonKeywords...)
	for _, row := range rows {
		if len(cat.Entries) >= rejectEntryCap {
			break
		}
		cat.Entries = append(cat.Entries, Entry{
			Name:   cellOr(sheet, row, nameCol, unknownName),
			Detail: truncate(cellOr(sheet, row, reasonCol, noReason), maxReasonLen),
		})
	}
	return cat
}

// extractPendingDeposits unions counts across every status column of the
// join-tracking sheet. A row matching in two status columns is counted
// twice — the counts are per-column, not per-row, and are reported that
// way downstream.
func extractPendingDeposits(wb *Workbook) Category {
	cat := Category{}
	for i := range wb.Sheets {
		s := &wb.Sheets[i]
		if !s.nameContainsAny(trackingSheetName) {
			continue
		}
		nameCol := s.FindColumn(shortNameKeywords...)
		productCol := s.FindColumn(productKeywords...)
		for _, col := range s.Columns(statusKeyword) {
			var matched [][]string
			for _, row := range s.Rows {
				if pendingStatus(s.Cell(row, col)) {
					matched = append(matched, row)
				}
			}
			if len(matched) == 0 {
				continue
			}
			cat.Count += len(matched)
			for _, row := range matched {
				if len(cat.Entries) >= pendingEntryCap {
					break
				}
				cat.Entries = append(cat.Entries, Entry{
					Name:   cellOr(s, row, nameCol, unknownName),
					Detail: s.Cell(row, productCol),
				})
			}
		}
	}
	return cat
}

// extractTransfersIn lists inbound transfer rows and sums the
// amount-like column. Values that do not parse as numbers contribute
// nothing; they never abort the sum.
func extractTransfersIn(wb *Workbook) Category {
	cat := Category{}
	for i := range wb.Sheets {
		s := &wb.Sheets[i]
		if !s.nameContainsAny(transferInNames...) || len(s.Rows) == 0 {
			continue
		}
		cat.Count += len(s.Rows)
		nameCol := s.FindColumn(shortNameKeywords...)
		amountCol := s.FindColumn(amountKeywords...)
		for _, row := range s.Rows {
			if amountCol >= 0 {
				if v, ok := parseAmount(s.Cell(row, amountCol)); ok {
					cat.Total += v
				}
			}
			if len(cat.Entries) < transferEntryCap {
				cat.Entries = append(cat.Entries, Entry{
					Name: cellOr(s, row, nameCol, unknownName),
				})
			}
		}
	}
	return cat
}

// extractTransfersOut lists outbound transfer rows, no aggregation.
func extractTransfersOut(wb *Workbook) Category {
	cat := Category{}
	for i := range wb.Sheets {
		s := &wb.Sheets[i]
		if !s.nameContainsAny(transferOutNames...) || len(s.Rows) == 0 {
			continue
		}
		cat.Count += len(s.Rows)
		nameCol := s.FindColumn(shortNameKeywords...)
		for _, row := range s.Rows {
			if len(cat.Entries) >= transferEntryCap {
				break
			}
			cat.Entries = append(cat.Entries, Entry{
				Name: cellOr(s, row, nameCol, unknownName),
			})
		}
	}
	return cat
}

// extractNewJoins lists sheets named for enrollments, excluding the
// tracking sheet itself.
func extractNewJoins(wb *Workbook) Category {
	cat := Category{}
	for i := range wb.Sheets {
		s := &wb.Sheets[i]
		if !s.nameContainsAny(joinSheetName) || s.nameContainsAny("מעקב") || len(s.Rows) == 0 {
			continue
		}
		cat.Count += len(s.Rows)
		nameCol := s.FindColumn(shortNameKeywords...)
		productCol := s.FindColumn(productKeywords...)
		for _, row := range s.Rows {
			if len(cat.Entries) >= joinEntryCap {
				break
			}
			cat.Entries = append(cat.Entries, Entry{
				Name:   cellOr(s, row, nameCol, unknownName),
				Detail: s.Cell(row, productCol),
			})
		}
	}
	return cat
}

// pendingStatus matches the "waiting for first deposit" vocabulary:
// "ממתין" followed by "הפקדה", or the phrase "הפקדה ראשונה".
func pendingStatus(v string) bool {
	v = strings.ToLower(v)
	if i := strings.Index(v, "ממתין"); i >= 0 && strings.Contains(v[i:], "הפקדה") {
		return true
	}
	return strings.Contains(v, "הפקדה ראשונה")
}

func containsAnyFold(v string, words []string) bool {
	v = strings.ToLower(v)
	for _, w := range words {
		if strings.Contains(v, strings.ToLower(w)) {
			return true
		}
	}
	return false
}

// parseAmount tolerates currency symbols and thousands separators.
func parseAmount(v string) (float64, bool) {
	v = strings.TrimSpace(strings.NewReplacer(",", "", "₪", "").Replace(v))
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// cellOr reads a cell, substituting fallback for a missing column or an
// empty value.
func cellOr(s *Sheet, row []string, col int, fallback string) string {
	if col < 0 {
		return fallback
	}
	if v := s.Cell(row, col); v != "" {
		return v
	}
	return fallback
}

// truncate bounds reason text to n runes with an ellipsis marker.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
