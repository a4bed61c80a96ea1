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

// Package mail locates the daily report email and extracts the secure
// portal download link from its body.
package mail

import (
	"errors"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ErrNoLink is returned when a body contains no link under the portal's
// secure host. Callers treat it as "not found", never as a fault.
var ErrNoLink = errors.New("no portal download link found")

// Extractor pulls the secure-portal download link out of an email body.
//
// Rules are tried most specific first and the first match wins: the full
// login URL, then any URL under the secure host, then an anchor href
// pointing at the secure host. Portals routinely move the link between
// the plain and HTML alternatives, so callers try both bodies.
type Extractor struct {
	host     string
	patterns []*regexp.Regexp
	hrefPat  *regexp.Regexp
}

// NewExtractor builds an extractor scoped to the portal's secure host,
// e.g. "safemail.meitav.co.il".
func NewExtractor(secureHost string) *Extractor {
	h := regexp.QuoteMeta(secureHost)
	return &Extractor{
		host: secureHost,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`https://` + h + `/Safe-T/login\.aspx[^\s'"<>]+`),
			regexp.MustCompile(`https://` + h + `[^\s'"<>]+`),
		},
		hrefPat: regexp.MustCompile(`href=["']?(https://` + h + `[^"'\s<>]+)`),
	}
}

// Extract returns the first matching download link, normalised. Returns
// ErrNoLink when the content holds none.
func (e *Extractor) Extract(content string) (string, error) {
	if content == "" {
		return "", ErrNoLink
	}
	for _, p := range e.patterns {
		if m := p.FindString(content); m != "" {
			return normalizeLink(m), nil
		}
	}
	// Anchor hrefs: parse the markup properly first, then fall back to a
	// raw href= scan for fragments the HTML parser cannot make sense of.
	if u := e.anchorHref(content); u != "" {
		return normalizeLink(u), nil
	}
	if m := e.hrefPat.FindStringSubmatch(content); m != nil {
		return normalizeLink(m[1]), nil
	}
	return "", ErrNoLink
}

// anchorHref scans parsed anchor tags for an href under the secure host.
func (e *Extractor) anchorHref(content string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return ""
	}
	var found string
	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		if strings.HasPrefix(href, "https://"+e.host) {
			found = href
			return false
		}
		return true
	})
	return found
}

// normalizeLink strips a single trailing ">" left behind by angle-bracket
// wrapped links and un-escapes the HTML ampersand entity.
func normalizeLink(u string) string {
	u = strings.TrimSuffix(u, ">")
	return strings.ReplaceAll(u, "&amp;", "&")
}
