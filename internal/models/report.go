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

// Package models defines the data structures shared across the report pipeline.
package models

import (
	"fmt"
	"net/url"
	"time"
)

// UnknownDate is the sentinel report date used when the email subject
// carries no recognisable DD/MM/YYYY date.
const UnknownDate = "unknown"

// EmailMessage is a fully fetched mail message. Immutable once fetched;
// consumed once per pipeline run.
type EmailMessage struct {
	ID        string
	Subject   string
	SentAt    time.Time
	PlainBody string
	HTMLBody  string
}

// ReportReference points at a downloadable daily report extracted from an
// email. Construction fails rather than producing an empty or relative
// download URL.
type ReportReference struct {
	DownloadURL string
	ReportDate  string // DD/MM/YYYY or UnknownDate
	Subject     string
}

// NewReportReference validates the download URL and builds a reference.
func NewReportReference(downloadURL, reportDate, subject string) (*ReportReference, error) {
	u, err := url.Parse(downloadURL)
	if err != nil {
		return nil, fmt.Errorf("parse download URL: %w", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("download URL %q is not an absolute URL", downloadURL)
	}
	if reportDate == "" {
		reportDate = UnknownDate
	}
	return &ReportReference{
		DownloadURL: downloadURL,
		ReportDate:  reportDate,
		Subject:     subject,
	}, nil
}

// DownloadedFile is a report file captured on local disk. Ownership starts
// with the session that downloaded it and transfers to the report
// extractor; the pipeline controller deletes it when the run finishes.
type DownloadedFile struct {
	Path string
	Size int64
}
