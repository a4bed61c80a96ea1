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
	"encoding/base64"
	"fmt"
	"time"

	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/mrb/reportd/internal/models"
)

// Source is the narrow mail surface the locator requires. The provider
// owns authentication and token refresh; the locator only queries.
type Source interface {
	// List returns message IDs matching the query, most recent first.
	List(ctx context.Context, query string, max int64) ([]string, error)
	// Get fetches the full message content for an ID.
	Get(ctx context.Context, id string) (*models.EmailMessage, error)
}

// GmailSource implements Source over the Gmail API.
type GmailSource struct {
	svc *gmail.Service
}

// NewGmailSource wraps an authenticated Gmail service.
func NewGmailSource(svc *gmail.Service) *GmailSource {
	return &GmailSource{svc: svc}
}

// NewGmailService builds a read-only Gmail service from an OAuth refresh
// token. The access token is minted lazily and refreshed by the oauth2
// transport.
func NewGmailService(ctx context.Context, clientID, clientSecret, refreshToken string) (*gmail.Service, error) {
	if clientID == "" || clientSecret == "" || refreshToken == "" {
		return nil, fmt.Errorf("gmail credentials incomplete: client id, client secret and refresh token are all required")
	}
	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{gmail.GmailReadonlyScope},
	}
	client := conf.Client(ctx, &oauth2.Token{RefreshToken: refreshToken})
	svc, err := gmail.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("build gmail service: %w", err)
	}
	return svc, nil
}

// List returns up to max message IDs matching the Gmail search query.
func (s *GmailSource) List(ctx context.Context, query string, max int64) ([]string, error) {
	res, err := s.svc.Users.Messages.List("me").Q(query).MaxResults(max).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	ids := make([]string, 0, len(res.Messages))
	for _, m := range res.Messages {
		ids = append(ids, m.Id)
	}
	return ids, nil
}

// Get fetches a full message and decodes its plain and HTML bodies.
func (s *GmailSource) Get(ctx context.Context, id string) (*models.EmailMessage, error) {
	msg, err := s.svc.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", id, err)
	}

	out := &models.EmailMessage{
		ID:     id,
		SentAt: time.UnixMilli(msg.InternalDate).UTC(),
	}
	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			if h.Name == "Subject" {
				out.Subject = h.Value
				break
			}
		}
		out.PlainBody = bodyByType(msg.Payload, "text/plain")
		out.HTMLBody = bodyByType(msg.Payload, "text/html")
	}
	return out, nil
}

// bodyByType walks the multipart tree depth-first, at any nesting depth,
// and returns the first part whose declared MIME type matches.
func bodyByType(p *gmail.MessagePart, mimeType string) string {
	if p == nil {
		return ""
	}
	if p.MimeType == mimeType && p.Body != nil && p.Body.Data != "" {
		if b, err := decodeBody(p.Body.Data); err == nil {
			return string(b)
		}
	}
	for _, part := range p.Parts {
		if s := bodyByType(part, mimeType); s != "" {
			return s
		}
	}
	return ""
}

// decodeBody handles both padded and unpadded base64url payloads — the
// Gmail API serves either depending on the originating MTA.
func decodeBody(data string) ([]byte, error) {
	if b, err := base64.URLEncoding.DecodeString(data); err == nil {
		return b, nil
	}
	return base64.RawURLEncoding.DecodeString(data)
}
