// File: internal/service/factory.go
package service

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pagesource/api/schemas"
	"github.com/xkilldash9x/pagesource/internal/browser"
	"github.com/xkilldash9x/pagesource/internal/browser/chromium"
	"github.com/xkilldash9x/pagesource/internal/browser/playwright"
	"github.com/xkilldash9x/pagesource/internal/config"
	"github.com/xkilldash9x/pagesource/internal/fetcher"
	"github.com/xkilldash9x/pagesource/internal/observability"
)

// NewEngine selects the browser engine named by the configuration.
func NewEngine(cfg config.BrowserConfig, logger *zap.Logger) (schemas.Engine, error) {
	switch cfg.Engine {
	case config.EngineChromium, "":
		return chromium.NewEngine(cfg, logger), nil
	case config.EnginePlaywright:
		return playwright.NewEngine(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unsupported browser engine %q", cfg.Engine)
	}
}

// ExitOnFatal is the production launch-failure hook. zap's Fatal level flushes
// and exits the process with status 1.
func ExitOnFatal(logger *zap.Logger) func(error) {
	return func(err error) {
		logger.Fatal("Browser could not be launched, terminating.", zap.Error(err))
	}
}

// Option customizes component construction.
type Option func(*options)

type options struct {
	engine  schemas.Engine
	onFatal func(error)
}

// WithEngine replaces the configured engine.
func WithEngine(e schemas.Engine) Option {
	return func(o *options) { o.engine = e }
}

// WithFatalHandler replaces ExitOnFatal.
func WithFatalHandler(fn func(error)) Option {
	return func(o *options) { o.onFatal = fn }
}

// NewComponents wires the session manager and fetch service for cfg. The
// browser is not launched here.
func NewComponents(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Components, error) {
	o := options{onFatal: ExitOnFatal(logger)}
	for _, opt := range opts {
		opt(&o)
	}

	if o.engine == nil {
		engine, err := NewEngine(cfg.Browser, logger)
		if err != nil {
			return nil, err
		}
		o.engine = engine
	}

	metrics := observability.NewMetrics()
	manager := browser.NewManager(o.engine, logger,
		browser.WithMetrics(metrics),
		browser.WithLaunchTimeout(cfg.Browser.LaunchTimeout),
		browser.WithFatalHandler(o.onFatal),
	)

	return &Components{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics,
		Manager: manager,
		Fetcher: fetcher.NewService(manager, cfg.Fetch, logger, metrics),
	}, nil
}
