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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/mrb/reportd/internal/models"
)

// maxResults bounds how many candidate messages a query returns.
const maxResults = 5

var dateRe = regexp.MustCompile(`\d{2}/\d{2}/\d{4}`)

// Locator finds the most recent daily report email from the portal's
// sender and turns it into a ReportReference.
type Locator struct {
	source    Source
	extractor *Extractor
	sender    string
	subject   string // subject phrase for the narrow query
}

// NewLocator creates a locator over the given mail source.
func NewLocator(source Source, extractor *Extractor, sender, subjectHint string) *Locator {
	return &Locator{
		source:    source,
		extractor: extractor,
		sender:    sender,
		subject:   subjectHint,
	}
}

// FindLatest runs the narrow sender+subject query and, only if it yields
// nothing, a broad sender-only query — subject phrasing varies between
// sends. Returns (nil, nil) when no qualifying email or download link
// exists: absence of a report is an expected outcome, not an error.
func (l *Locator) FindLatest(ctx context.Context) (*models.ReportReference, error) {
	query := fmt.Sprintf("from:%s subject:%q", l.sender, l.subject)
	ids, err := l.source.List(ctx, query, maxResults)
	if err != nil {
		return nil, fmt.Errorf("narrow mail query: %w", err)
	}
	if len(ids) == 0 {
		slog.Info("no messages for narrow query, falling back to sender-only search",
			"sender", l.sender,
		)
		ids, err = l.source.List(ctx, "from:"+l.sender, maxResults)
		if err != nil {
			return nil, fmt.Errorf("broad mail query: %w", err)
		}
	}
	if len(ids) == 0 {
		slog.Warn("no messages from report sender", "sender", l.sender)
		return nil, nil
	}

	// Provider ordering is most recent first.
	msg, err := l.source.Get(ctx, ids[0])
	if err != nil {
		return nil, fmt.Errorf("fetch message %s: %w", ids[0], err)
	}

	reportDate := models.UnknownDate
	if m := dateRe.FindString(msg.Subject); m != "" {
		reportDate = m
	}

	link, err := l.extractor.Extract(msg.PlainBody)
	if errors.Is(err, ErrNoLink) {
		slog.Info("no link in plain body, trying HTML body", "message_id", msg.ID)
		link, err = l.extractor.Extract(msg.HTMLBody)
	}
	if errors.Is(err, ErrNoLink) {
		slog.Warn("message carries no download link",
			"message_id", msg.ID,
			"subject", msg.Subject,
		)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	ref, err := models.NewReportReference(link, reportDate, msg.Subject)
	if err != nil {
		return nil, fmt.Errorf("build report reference: %w", err)
	}
	slog.Info("report email located",
		"message_id", msg.ID,
		"report_date", ref.ReportDate,
	)
	return ref, nil
}

// RecentMessage is a subject/date stub served by the inspection endpoint.
type RecentMessage struct {
	ID      string    `json:"id"`
	Subject string    `json:"subject"`
	SentAt  time.Time `json:"sent_at"`
}

// Recent lists the newest messages from the report sender. Used by the
// operator-facing inspection endpoint to diagnose "no report" outcomes.
func (l *Locator) Recent(ctx context.Context, n int64) ([]RecentMessage, error) {
	if n <= 0 || n > 10 {
		n = maxResults
	}
	ids, err := l.source.List(ctx, "from:"+l.sender, n)
	if err != nil {
		return nil, fmt.Errorf("list recent messages: %w", err)
	}
	out := make([]RecentMessage, 0, len(ids))
	for _, id := range ids {
		msg, err := l.source.Get(ctx, id)
		if err != nil {
			slog.Warn("skipping unreadable message", "message_id", id, "error", err)
			continue
		}
		out = append(out, RecentMessage{ID: msg.ID, Subject: msg.Subject, SentAt: msg.SentAt})
	}
	return out, nil
}
