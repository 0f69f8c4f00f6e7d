// Package chromium drives a local Chromium over the DevTools protocol with
// chromedp.
package chromium

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pagesource/api/schemas"
	"github.com/xkilldash9x/pagesource/internal/config"
)

// Engine launches Chromium through a chromedp exec allocator.
type Engine struct {
	cfg    config.BrowserConfig
	logger *zap.Logger
}

var _ schemas.Engine = (*Engine)(nil)

// NewEngine creates a chromedp engine. Nothing is started until Launch.
func NewEngine(cfg config.BrowserConfig, logger *zap.Logger) *Engine {
	return &Engine{cfg: cfg, logger: logger.Named("chromium")}
}

func (e *Engine) Name() string { return config.EngineChromium }

// Launch starts the browser process. ctx bounds the start-up only; the
// browser outlives it until Close.
func (e *Engine) Launch(ctx context.Context) (schemas.Browser, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(e.cfg)...)

	sugar := e.logger.Sugar()
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Debugf),
	)

	stop := context.AfterFunc(ctx, browserCancel)
	err := chromedp.Run(browserCtx)
	stopped := stop()

	if err != nil || !stopped {
		browserCancel()
		allocCancel()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("chromium did not start in time: %w", ctxErr)
		}
		return nil, fmt.Errorf("could not start chromium: %w", err)
	}

	e.logger.Info("Chromium started.",
		zap.Bool("headless", e.cfg.Headless),
		zap.String("executable", e.cfg.ExecutablePath))

	return &Browser{
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
		logger:        e.logger,
	}, nil
}

// Browser is a running Chromium instance. Each page is a new target.
type Browser struct {
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
	logger        *zap.Logger
	closeOnce     sync.Once
	closeErr      error
}

// NewPage opens a blank tab.
func (b *Browser) NewPage(ctx context.Context) (schemas.Page, error) {
	if err := b.browserCtx.Err(); err != nil {
		return nil, fmt.Errorf("browser is closed: %w", err)
	}

	tabCtx, tabCancel := chromedp.NewContext(b.browserCtx)

	// The first Run on a fresh context creates the target.
	stop := context.AfterFunc(ctx, tabCancel)
	err := chromedp.Run(tabCtx)
	stopped := stop()
	if err != nil || !stopped {
		tabCancel()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("creating tab: %w", ctxErr)
		}
		return nil, fmt.Errorf("creating tab: %w", err)
	}

	id := uuid.NewString()
	return &Page{
		id:        id,
		tabCtx:    tabCtx,
		tabCancel: tabCancel,
		logger:    b.logger.With(zap.String("page_id", id)),
	}, nil
}

// Close terminates the browser process.
func (b *Browser) Close(ctx context.Context) error {
	b.closeOnce.Do(func() {
		done := make(chan error, 1)
		go func() { done <- chromedp.Cancel(b.browserCtx) }()

		select {
		case b.closeErr = <-done:
		case <-ctx.Done():
			b.closeErr = fmt.Errorf("closing chromium: %w", ctx.Err())
		}
		b.browserCancel()
		b.allocCancel()
	})
	if b.closeErr != nil && !errors.Is(b.closeErr, context.Canceled) {
		return b.closeErr
	}
	return nil
}

// Page is a single Chromium tab.
type Page struct {
	id        string
	tabCtx    context.Context
	tabCancel context.CancelFunc
	logger    *zap.Logger

	mu    sync.RWMutex
	block func(schemas.RequestInfo) bool

	closeOnce sync.Once
	closeErr  error
}

func (p *Page) ID() string { return p.id }

// Route pauses every request of the tab with the Fetch domain and fails the
// ones block selects with net::ERR_BLOCKED_BY_CLIENT.
func (p *Page) Route(ctx context.Context, block func(schemas.RequestInfo) bool) error {
	p.mu.Lock()
	p.block = block
	p.mu.Unlock()

	chromedp.ListenTarget(p.tabCtx, func(ev interface{}) {
		if e, ok := ev.(*fetch.EventRequestPaused); ok {
			go p.handlePaused(e)
		}
	})

	runCtx, cancel := combineContext(p.tabCtx, ctx)
	defer cancel()
	err := chromedp.Run(runCtx, fetch.Enable().WithPatterns([]*fetch.RequestPattern{
		{URLPattern: "*", RequestStage: fetch.RequestStageRequest},
	}))
	if err = opError(ctx, err); err != nil {
		return fmt.Errorf("enabling request interception: %w", err)
	}
	return nil
}

func (p *Page) handlePaused(ev *fetch.EventRequestPaused) {
	if p.tabCtx.Err() != nil {
		return
	}
	c := chromedp.FromContext(p.tabCtx)
	execCtx := cdp.WithExecutor(p.tabCtx, c.Target)

	info := schemas.RequestInfo{
		URL:          ev.Request.URL,
		ResourceType: strings.ToLower(string(ev.ResourceType)),
	}

	p.mu.RLock()
	block := p.block
	p.mu.RUnlock()

	var err error
	if block != nil && block(info) {
		err = fetch.FailRequest(ev.RequestID, network.ErrorReasonBlockedByClient).Do(execCtx)
	} else {
		err = fetch.ContinueRequest(ev.RequestID).Do(execCtx)
	}
	// Requests still paused when the tab closes fail here; that is expected.
	if err != nil && p.tabCtx.Err() == nil {
		p.logger.Debug("Could not resolve paused request.", zap.String("request_url", info.URL), zap.Error(err))
	}
}

// Navigate loads url and waits for the load event. ctx bounds the wait.
func (p *Page) Navigate(ctx context.Context, url string) error {
	runCtx, cancel := combineContext(p.tabCtx, ctx)
	defer cancel()
	if err := opError(ctx, chromedp.Run(runCtx, chromedp.Navigate(url))); err != nil {
		return fmt.Errorf("navigating to %s: %w", url, err)
	}
	return nil
}

// Content returns the serialized document element.
func (p *Page) Content(ctx context.Context) (string, error) {
	runCtx, cancel := combineContext(p.tabCtx, ctx)
	defer cancel()

	var html string
	err := chromedp.Run(runCtx, chromedp.Evaluate(`document.documentElement ? document.documentElement.outerHTML : ""`, &html))
	if err = opError(ctx, err); err != nil {
		return "", fmt.Errorf("reading page content: %w", err)
	}
	return html, nil
}

// Close closes the tab. Later calls return the first result.
func (p *Page) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		done := make(chan error, 1)
		go func() { done <- chromedp.Cancel(p.tabCtx) }()

		select {
		case p.closeErr = <-done:
		case <-ctx.Done():
			p.closeErr = fmt.Errorf("closing tab: %w", ctx.Err())
		}
		p.tabCancel()
	})
	if p.closeErr != nil && !errors.Is(p.closeErr, context.Canceled) {
		return p.closeErr
	}
	return nil
}
