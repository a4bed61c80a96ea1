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
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// BrowserConfig selects the automation engine for a session.
type BrowserConfig struct {
	// RemoteURL is a websocket endpoint of a remote automation service,
	// connection token included. Empty means launch a local Chrome.
	RemoteURL   string
	DownloadDir string
}

// downloadEvent carries the outcome of one native download.
type downloadEvent struct {
	path string
	err  error
}

// ChromeBrowser implements Browser over the Chrome DevTools Protocol.
type ChromeBrowser struct {
	ctx         context.Context
	cancels     []context.CancelFunc
	downloadDir string
	remote      bool
	closeOnce   sync.Once

	mu    sync.Mutex
	names map[string]string // download GUID → server-suggested filename
	armed chan downloadEvent
}

// NewChromeBrowser launches a local Chrome or attaches to a remote
// endpoint and routes downloads into the configured directory.
func NewChromeBrowser(ctx context.Context, cfg BrowserConfig) (*ChromeBrowser, error) {
	if cfg.DownloadDir == "" {
		return nil, errors.New("browser download directory is required")
	}
	if err := os.MkdirAll(cfg.DownloadDir, 0o755); err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}

	var (
		allocCtx context.Context
		cancels  []context.CancelFunc
	)
	if cfg.RemoteURL != "" {
		var cancel context.CancelFunc
		allocCtx, cancel = chromedp.NewRemoteAllocator(ctx, cfg.RemoteURL)
		cancels = append(cancels, cancel)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.NoSandbox,
			chromedp.Flag("disable-setuid-sandbox", true),
		)
		var cancel context.CancelFunc
		allocCtx, cancel = chromedp.NewExecAllocator(ctx, opts...)
		cancels = append(cancels, cancel)
	}

	browserCtx, cancel := chromedp.NewContext(allocCtx)
	cancels = append(cancels, cancel)

	b := &ChromeBrowser{
		ctx:         browserCtx,
		cancels:     cancels,
		downloadDir: cfg.DownloadDir,
		remote:      cfg.RemoteURL != "",
		names:       make(map[string]string),
	}

	// Starting the browser and routing downloads in one shot. AllowAndName
	// stores files under their download GUID so concurrent names cannot
	// collide; we rename to the suggested filename on completion.
	err := b.run(ctx, 30*time.Second,
		browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllowAndName).
			WithDownloadPath(cfg.DownloadDir).
			WithEventsEnabled(true),
	)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	chromedp.ListenTarget(browserCtx, b.onEvent)
	return b, nil
}

// run executes chromedp actions against the browser context while
// honouring the caller's cancellation.
func (b *ChromeBrowser) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx := b.ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, timeout)
		defer cancel()
	}
	done := make(chan error, 1)
	go func() { done <- chromedp.Run(runCtx, actions...) }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// queryOption maps our selector convention onto chromedp: XPath when the
// selector starts with "//", CSS otherwise.
func queryOption(selector string) chromedp.QueryOption {
	if strings.HasPrefix(selector, "//") {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

func (b *ChromeBrowser) Navigate(ctx context.Context, url string) error {
	return b.run(ctx, 60*time.Second,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

func (b *ChromeBrowser) Location(ctx context.Context) (string, error) {
	var loc string
	err := b.run(ctx, 5*time.Second, chromedp.Location(&loc))
	return loc, err
}

func (b *ChromeBrowser) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	return b.run(ctx, timeout, chromedp.WaitVisible(selector, queryOption(selector)))
}

func (b *ChromeBrowser) Fill(ctx context.Context, selector, value string) error {
	return b.run(ctx, 10*time.Second, chromedp.SetValue(selector, value, queryOption(selector)))
}

func (b *ChromeBrowser) Click(ctx context.Context, selector string) error {
	return b.run(ctx, 10*time.Second, chromedp.Click(selector, queryOption(selector)))
}

func (b *ChromeBrowser) Content(ctx context.Context) (string, error) {
	var html string
	err := b.run(ctx, 10*time.Second, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

func (b *ChromeBrowser) Elements(ctx context.Context, selector string) ([]PageElement, error) {
	js := fmt.Sprintf(`Array.from(document.querySelectorAll(%q)).map(function(el) {
		return {
			href: el.getAttribute('href') || el.getAttribute('src') || el.getAttribute('data-href') || '',
			text: (el.innerText || el.value || '').trim().slice(0, 200)
		};
	})`, selector)
	var out []PageElement
	if err := b.run(ctx, 10*time.Second, chromedp.Evaluate(js, &out)); err != nil {
		return nil, fmt.Errorf("enumerate %q: %w", selector, err)
	}
	return out, nil
}

func (b *ChromeBrowser) Cookies(ctx context.Context) ([]*http.Cookie, error) {
	var cookies []*http.Cookie
	err := b.run(ctx, 10*time.Second, chromedp.ActionFunc(func(ctx context.Context) error {
		raw, err := network.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		for _, c := range raw {
			cookies = append(cookies, &http.Cookie{
				Name:   c.Name,
				Value:  c.Value,
				Domain: c.Domain,
				Path:   c.Path,
			})
		}
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("read cookies: %w", err)
	}
	return cookies, nil
}

func (b *ChromeBrowser) Screenshot(ctx context.Context, path string) error {
	var buf []byte
	if err := b.run(ctx, 15*time.Second, chromedp.CaptureScreenshot(&buf)); err != nil {
		return fmt.Errorf("capture screenshot: %w", err)
	}
	return os.WriteFile(path, buf, 0o644)
}

// SupportsDownloadCapture reports native download capture availability.
// A remote endpoint completes downloads on the remote host, where this
// process cannot reach them, so the session falls back to the direct
// HTTP path instead.
func (b *ChromeBrowser) SupportsDownloadCapture() bool {
	return !b.remote
}

func (b *ChromeBrowser) ArmDownload(ctx context.Context) (func(context.Context) (string, error), error) {
	b.mu.Lock()
	if b.armed != nil {
		b.mu.Unlock()
		return nil, errors.New("download capture already armed")
	}
	ch := make(chan downloadEvent, 1)
	b.armed = ch
	b.mu.Unlock()

	wait := func(ctx context.Context) (string, error) {
		defer func() {
			b.mu.Lock()
			b.armed = nil
			b.mu.Unlock()
		}()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case ev := <-ch:
			return ev.path, ev.err
		}
	}
	return wait, nil
}

// onEvent threads CDP download lifecycle events into the armed waiter.
func (b *ChromeBrowser) onEvent(ev interface{}) {
	switch e := ev.(type) {
	case *browser.EventDownloadWillBegin:
		b.mu.Lock()
		b.names[e.GUID] = e.SuggestedFilename
		b.mu.Unlock()
	case *browser.EventDownloadProgress:
		if e.State != browser.DownloadProgressStateCompleted {
			return
		}
		b.mu.Lock()
		name := b.names[e.GUID]
		ch := b.armed
		b.mu.Unlock()
		if ch == nil {
			return
		}
		path := filepath.Join(b.downloadDir, e.GUID)
		if name != "" {
			named := filepath.Join(b.downloadDir, filepath.Base(name))
			if err := os.Rename(path, named); err == nil {
				path = named
			}
		}
		select {
		case ch <- downloadEvent{path: path}:
		default:
		}
	}
}

// Close tears down the browser contexts. Safe to call more than once.
func (b *ChromeBrowser) Close() error {
	b.closeOnce.Do(func() {
		for i := len(b.cancels) - 1; i >= 0; i-- {
			b.cancels[i]()
		}
	})
	return nil
}
