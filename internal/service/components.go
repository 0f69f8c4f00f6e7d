package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pagesource/internal/browser"
	"github.com/xkilldash9x/pagesource/internal/config"
	"github.com/xkilldash9x/pagesource/internal/fetcher"
	"github.com/xkilldash9x/pagesource/internal/observability"
)

// Components holds the long-lived services of a process.
type Components struct {
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *observability.Metrics
	Manager *browser.Manager
	Fetcher *fetcher.Service
}

// WarmUp launches the browser before any request is accepted.
func (c *Components) WarmUp(ctx context.Context) error {
	c.Logger.Info("Performing startup browser check...")
	if _, err := c.Manager.EnsureSession(ctx); err != nil {
		return fmt.Errorf("startup browser check failed: %w", err)
	}
	return nil
}

// Shutdown closes the browser.
func (c *Components) Shutdown(ctx context.Context) error {
	c.Logger.Debug("Beginning components shutdown sequence.")
	if err := c.Manager.Shutdown(ctx); err != nil {
		return fmt.Errorf("browser manager shutdown: %w", err)
	}
	c.Logger.Debug("Components shutdown complete.")
	return nil
}
