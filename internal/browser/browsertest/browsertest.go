// Package browsertest provides an in-memory schemas.Engine for tests. It
// counts launches, records page closes and the requests an interception rule
// allowed or aborted, and renders canned documents.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/xkilldash9x/pagesource/api/schemas"
)

// ErrPageClosed is returned by page operations after Close.
var ErrPageClosed = errors.New("browsertest: page is closed")

// Response describes how the fake renders one URL.
type Response struct {
	// HTML is returned by Content after a successful navigation.
	HTML string
	// Delay is how long navigation takes.
	Delay time.Duration
	// Hang makes navigation wait until its context ends.
	Hang bool
	// Err fails navigation, e.g. to simulate net::ERR_NAME_NOT_RESOLVED.
	Err error
	// Subresources are requested by the page during navigation.
	Subresources []schemas.RequestInfo
}

// Engine is a fake schemas.Engine.
type Engine struct {
	// LaunchDelay is how long Launch takes.
	LaunchDelay time.Duration
	// LaunchErr makes every launch fail.
	LaunchErr error

	browser  *Browser
	launches atomic.Int32
}

// NewEngine returns an engine whose browser serves the given site.
func NewEngine(site map[string]Response) *Engine {
	return &Engine{browser: &Browser{site: site}}
}

func (e *Engine) Name() string { return "fake" }

// Launch implements schemas.Engine.
func (e *Engine) Launch(ctx context.Context) (schemas.Browser, error) {
	e.launches.Add(1)
	if e.LaunchDelay > 0 {
		select {
		case <-time.After(e.LaunchDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if e.LaunchErr != nil {
		return nil, e.LaunchErr
	}
	return e.browser, nil
}

// Launches reports how many times Launch was called.
func (e *Engine) Launches() int { return int(e.launches.Load()) }

// Browser returns the single browser this engine hands out.
func (e *Engine) Browser() *Browser { return e.browser }

// Browser is a fake schemas.Browser.
type Browser struct {
	// NewPageErr makes NewPage fail.
	NewPageErr error
	// RouteErr makes Route fail on every page.
	RouteErr error
	// ContentErr makes Content fail on every page.
	ContentErr error

	site   map[string]Response
	mu     sync.Mutex
	pages  []*Page
	closes atomic.Int32
}

// NewPage implements schemas.Browser.
func (b *Browser) NewPage(ctx context.Context) (schemas.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.NewPageErr != nil {
		return nil, b.NewPageErr
	}
	p := &Page{id: uuid.NewString(), browser: b}
	b.mu.Lock()
	b.pages = append(b.pages, p)
	b.mu.Unlock()
	return p, nil
}

// Close implements schemas.Browser.
func (b *Browser) Close(context.Context) error {
	b.closes.Add(1)
	return nil
}

// Pages returns every page created so far.
func (b *Browser) Pages() []*Page {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Page(nil), b.pages...)
}

// Closes reports how many times the browser was closed.
func (b *Browser) Closes() int { return int(b.closes.Load()) }

// Page is a fake schemas.Page.
type Page struct {
	id      string
	browser *Browser
	closes  atomic.Int32

	mu        sync.Mutex
	block     func(schemas.RequestInfo) bool
	navigated string
	html      string
	blocked   []schemas.RequestInfo
	allowed   []schemas.RequestInfo
}

func (p *Page) ID() string { return p.id }

// Route implements schemas.Page.
func (p *Page) Route(_ context.Context, block func(schemas.RequestInfo) bool) error {
	if p.closes.Load() > 0 {
		return ErrPageClosed
	}
	if p.browser.RouteErr != nil {
		return p.browser.RouteErr
	}
	p.mu.Lock()
	p.block = block
	p.mu.Unlock()
	return nil
}

// Navigate implements schemas.Page. Subresources are offered to the
// interception rule before the document is considered loaded.
func (p *Page) Navigate(ctx context.Context, url string) error {
	if p.closes.Load() > 0 {
		return ErrPageClosed
	}
	resp, ok := p.browser.site[url]
	if !ok {
		return fmt.Errorf("net::ERR_NAME_NOT_RESOLVED at %s", url)
	}

	p.mu.Lock()
	p.navigated = url
	block := p.block
	for _, req := range resp.Subresources {
		if block != nil && block(req) {
			p.blocked = append(p.blocked, req)
		} else {
			p.allowed = append(p.allowed, req)
		}
	}
	p.mu.Unlock()

	switch {
	case resp.Hang:
		<-ctx.Done()
		return fmt.Errorf("navigation to %s: %w", url, ctx.Err())
	case resp.Delay > 0:
		select {
		case <-time.After(resp.Delay):
		case <-ctx.Done():
			return fmt.Errorf("navigation to %s: %w", url, ctx.Err())
		}
	}
	if resp.Err != nil {
		return resp.Err
	}

	p.mu.Lock()
	p.html = resp.HTML
	p.mu.Unlock()
	return nil
}

// Content implements schemas.Page.
func (p *Page) Content(context.Context) (string, error) {
	if p.closes.Load() > 0 {
		return "", ErrPageClosed
	}
	if p.browser.ContentErr != nil {
		return "", p.browser.ContentErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.html, nil
}

// Close implements schemas.Page. It counts every call so tests can detect
// double closes.
func (p *Page) Close(context.Context) error {
	p.closes.Add(1)
	return nil
}

// Closes reports how many times Close was called.
func (p *Page) Closes() int { return int(p.closes.Load()) }

// Navigated returns the last URL passed to Navigate.
func (p *Page) Navigated() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.navigated
}

// Blocked returns the requests the interception rule aborted.
func (p *Page) Blocked() []schemas.RequestInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]schemas.RequestInfo(nil), p.blocked...)
}

// Allowed returns the requests that reached the (fake) network.
func (p *Page) Allowed() []schemas.RequestInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]schemas.RequestInfo(nil), p.allowed...)
}
