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
	"strconv"
	"strings"
	"time"
)

// Per-section display caps. Counts always report the full total.
const (
	rejectDisplayCap   = 5
	pendingDisplayCap  = 5
	transferDisplayCap = 3
	joinDisplayCap     = 3
)

// Render produces the chat-ready text summary. Pure function over the
// summary: section ordering and framing are fixed, the trailing line
// carries the generation timestamp.
func Render(s *Summary, now time.Time) string {
	var b strings.Builder

	b.WriteString("╔══════════════════════════════════╗\n")
	b.WriteString("║  📊 *דוח יומי מיטב*              ║\n")
	b.WriteString("╚══════════════════════════════════╝\n\n")

	if s.Rejects.Count > 0 {
		fmt.Fprintf(&b, "🔴 *ריג'קטים בהצטרפות: %d*\n", s.Rejects.Count)
		for _, e := range capped(s.Rejects.Entries, rejectDisplayCap) {
			fmt.Fprintf(&b, "  • %s - %s\n", e.Name, e.Detail)
		}
		b.WriteString("\n")
	} else {
		b.WriteString("✅ *אין ריג'קטים בהצטרפות*\n\n")
	}

	if s.PendingDeposits.Count > 0 {
		fmt.Fprintf(&b, "⏳ *ממתינים להפקדה ראשונה: %d*\n", s.PendingDeposits.Count)
		for _, e := range capped(s.PendingDeposits.Entries, pendingDisplayCap) {
			fmt.Fprintf(&b, "  • %s - %s\n", e.Name, e.Detail)
		}
		b.WriteString("\n")
	}

	if s.TransfersIn.Count > 0 {
		fmt.Fprintf(&b, "📥 *צפי ניוד נכנס: %d*\n", s.TransfersIn.Count)
		if s.TransfersIn.Total > 0 {
			fmt.Fprintf(&b, "  💰 סה\"כ: ₪%s\n", formatAmount(s.TransfersIn.Total))
		}
		for _, e := range capped(s.TransfersIn.Entries, transferDisplayCap) {
			fmt.Fprintf(&b, "  • %s\n", e.Name)
		}
		b.WriteString("\n")
	}

	if s.TransfersOut.Count > 0 {
		fmt.Fprintf(&b, "📤 *ניוד יוצא: %d*\n", s.TransfersOut.Count)
		for _, e := range capped(s.TransfersOut.Entries, transferDisplayCap) {
			fmt.Fprintf(&b, "  • %s\n", e.Name)
		}
		b.WriteString("\n")
	}

	if s.NewJoins.Count > 0 {
		fmt.Fprintf(&b, "🆕 *הצטרפויות חדשות: %d*\n", s.NewJoins.Count)
		for _, e := range capped(s.NewJoins.Entries, joinDisplayCap) {
			fmt.Fprintf(&b, "  • %s - %s\n", e.Name, e.Detail)
		}
		b.WriteString("\n")
	}

	b.WriteString("─────────────────────────────────\n")
	fmt.Fprintf(&b, "📅 עודכן: %s", now.Format("02/01/2006 15:04"))

	return b.String()
}

func capped(entries []Entry, n int) []Entry {
	if len(entries) > n {
		return entries[:n]
	}
	return entries
}

// formatAmount renders a rounded amount with thousands separators.
func formatAmount(v float64) string {
	n := int64(v + 0.5)
	neg := n < 0
	if neg {
		n = -n
	}
	digits := strconv.FormatInt(n, 10)
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(d)
	}
	return b.String()
}
