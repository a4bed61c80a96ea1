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

// Package portal drives the secure download portal through its
// credential/OTP/download sequence. The portal's markup is not
// contractually stable, so every element lookup runs through an ordered
// fallback chain of selector candidates.
package portal

import (
	"context"
	"net/http"
	"time"
)

// PageElement is an element that may point at a downloadable resource.
type PageElement struct {
	Href string `json:"href"`
	Text string `json:"text"`
}

// Browser is the automation surface an AuthSession drives. It may be a
// locally launched engine or a remote automation endpoint reached via a
// connection token; the session does not care which, provided this
// contract holds.
//
// Selectors are CSS queries, or XPath when prefixed with "//".
type Browser interface {
	Navigate(ctx context.Context, url string) error
	// Location reports the page's current URL, after any redirects.
	Location(ctx context.Context) (string, error)
	// WaitVisible blocks until the selector resolves to a visible element
	// or the timeout elapses.
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	// Content returns the full page markup.
	Content(ctx context.Context) (string, error)
	// Elements returns href/text pairs for every element matching the
	// selector, in document order.
	Elements(ctx context.Context, selector string) ([]PageElement, error)
	// Cookies returns the cookies of the authenticated page session.
	Cookies(ctx context.Context) ([]*http.Cookie, error)
	// Screenshot captures the viewport to the given path.
	Screenshot(ctx context.Context, path string) error
	// SupportsDownloadCapture reports whether native browser download
	// events deliver files to this process. True for a local engine,
	// false over a remote automation protocol.
	SupportsDownloadCapture() bool
	// ArmDownload registers a download expectation. The returned wait
	// function blocks until a download completes and returns the local
	// file path. Arm before the click that triggers the download.
	ArmDownload(ctx context.Context) (wait func(ctx context.Context) (string, error), err error)
	// Close releases the underlying engine. It must be idempotent.
	Close() error
}
