// Package playwright renders pages through the Playwright driver, which can
// run Chromium, WebKit or Firefox.
package playwright

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pagesource/api/schemas"
	"github.com/xkilldash9x/pagesource/internal/config"
)

// routeAll matches every request the page makes.
const routeAll = "**/*"

// Engine starts the Playwright driver and one browser of the configured type.
type Engine struct {
	cfg    config.BrowserConfig
	logger *zap.Logger
}

var _ schemas.Engine = (*Engine)(nil)

func NewEngine(cfg config.BrowserConfig, logger *zap.Logger) *Engine {
	return &Engine{cfg: cfg, logger: logger.Named("playwright")}
}

func (e *Engine) Name() string { return config.EnginePlaywright + "/" + e.cfg.BrowserType }

type launchResult struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	err     error
}

// Launch installs the driver when configured to, starts it and launches the
// browser. The driver calls block, so they run in a goroutine bounded by ctx.
func (e *Engine) Launch(ctx context.Context) (schemas.Browser, error) {
	resCh := make(chan launchResult, 1)
	go func() { resCh <- e.launch(ctx) }()

	select {
	case res := <-resCh:
		if res.err != nil {
			return nil, res.err
		}
		e.logger.Info("Browser launched.",
			zap.String("browser_type", e.cfg.BrowserType),
			zap.String("browser_version", res.browser.Version()))
		return &Browser{pw: res.pw, browser: res.browser, logger: e.logger}, nil
	case <-ctx.Done():
		// Reap whatever the goroutine manages to start.
		go func() {
			if res := <-resCh; res.err == nil {
				_ = res.browser.Close()
				_ = res.pw.Stop()
			}
		}()
		return nil, fmt.Errorf("playwright did not start in time: %w", ctx.Err())
	}
}

func (e *Engine) launch(ctx context.Context) launchResult {
	if e.cfg.InstallDrivers {
		e.logger.Info("Installing Playwright driver and browser...", zap.String("browser_type", e.cfg.BrowserType))
		if err := playwright.Install(&playwright.RunOptions{Browsers: []string{e.cfg.BrowserType}}); err != nil {
			return launchResult{err: fmt.Errorf("failed to install playwright browsers: %w", err)}
		}
	}

	pw, err := playwright.Run()
	if err != nil {
		return launchResult{err: fmt.Errorf("failed to start playwright driver: %w", err)}
	}

	var bt playwright.BrowserType
	switch e.cfg.BrowserType {
	case config.BrowserTypeWebKit:
		bt = pw.WebKit
	case config.BrowserTypeFirefox:
		bt = pw.Firefox
	default:
		bt = pw.Chromium
	}

	browser, err := bt.Launch(e.launchOptions(ctx))
	if err != nil {
		_ = pw.Stop()
		return launchResult{err: fmt.Errorf("failed to launch %s: %w", e.cfg.BrowserType, err)}
	}
	return launchResult{pw: pw, browser: browser}
}

func (e *Engine) launchOptions(ctx context.Context) playwright.BrowserTypeLaunchOptions {
	opts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(e.cfg.Headless),
		Args:     e.cfg.Args,
	}
	if e.cfg.ExecutablePath != "" {
		opts.ExecutablePath = playwright.String(e.cfg.ExecutablePath)
	}
	if ms, ok := deadlineMillis(ctx); ok {
		opts.Timeout = playwright.Float(ms)
	}
	if e.cfg.BrowserType == config.BrowserTypeChromium {
		opts.Args = append([]string{"--no-sandbox", "--disable-dev-shm-usage"}, opts.Args...)
	}
	return opts
}

// deadlineMillis converts the ctx deadline to a Playwright timeout. Playwright
// treats 0 as "no timeout", so an expired deadline becomes 1ms.
func deadlineMillis(ctx context.Context) (float64, bool) {
	deadline, ok := ctx.Deadline()
	if !ok {
		return 0, false
	}
	ms := math.Ceil(float64(time.Until(deadline)) / float64(time.Millisecond))
	return math.Max(ms, 1), true
}

// Browser wraps a Playwright browser and the driver process behind it.
type Browser struct {
	pw        *playwright.Playwright
	browser   playwright.Browser
	logger    *zap.Logger
	closeOnce sync.Once
	closeErr  error
}

func (b *Browser) NewPage(ctx context.Context) (schemas.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	page, err := b.browser.NewPage()
	if err != nil {
		return nil, fmt.Errorf("creating page: %w", err)
	}
	id := uuid.NewString()
	return &Page{id: id, page: page, logger: b.logger.With(zap.String("page_id", id))}, nil
}

// Close closes the browser and stops the driver.
func (b *Browser) Close(context.Context) error {
	b.closeOnce.Do(func() {
		if err := b.browser.Close(); err != nil {
			b.closeErr = fmt.Errorf("closing browser: %w", err)
		}
		if err := b.pw.Stop(); err != nil && b.closeErr == nil {
			b.closeErr = fmt.Errorf("stopping playwright driver: %w", err)
		}
	})
	return b.closeErr
}

// Page is one Playwright page in the default browser context.
type Page struct {
	id        string
	page      playwright.Page
	logger    *zap.Logger
	closeOnce sync.Once
	closeErr  error
}

func (p *Page) ID() string { return p.id }

// Route aborts the requests block selects and lets the rest through.
func (p *Page) Route(_ context.Context, block func(schemas.RequestInfo) bool) error {
	err := p.page.Route(routeAll, func(route playwright.Route) {
		req := route.Request()
		info := schemas.RequestInfo{URL: req.URL(), ResourceType: req.ResourceType()}

		var err error
		if block(info) {
			err = route.Abort("blockedbyclient")
		} else {
			err = route.Continue()
		}
		if err != nil {
			p.logger.Debug("Could not resolve routed request.", zap.String("request_url", info.URL), zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("installing route: %w", err)
	}
	return nil
}

// Navigate loads url and waits for the load event. The ctx deadline becomes
// the Playwright navigation timeout; without one navigation is unbounded.
func (p *Page) Navigate(ctx context.Context, url string) error {
	opts := playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateLoad,
		Timeout:   playwright.Float(0),
	}
	if ms, ok := deadlineMillis(ctx); ok {
		opts.Timeout = playwright.Float(ms)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := p.page.Goto(url, opts)
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("navigating to %s: %w", url, ctx.Err())
			}
			return fmt.Errorf("navigating to %s: %w", url, err)
		}
		return nil
	case <-ctx.Done():
		// Goto returns once the page is closed.
		return fmt.Errorf("navigating to %s: %w", url, ctx.Err())
	}
}

func (p *Page) Content(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	html, err := p.page.Content()
	if err != nil {
		return "", fmt.Errorf("reading page content: %w", err)
	}
	return html, nil
}

// Close closes the page once; later calls return the first result.
func (p *Page) Close(context.Context) error {
	p.closeOnce.Do(func() {
		if err := p.page.Close(); err != nil {
			p.closeErr = fmt.Errorf("closing page: %w", err)
		}
	})
	return p.closeErr
}
