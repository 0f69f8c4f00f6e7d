// Package fetcher renders a single URL in a fresh page of the shared browser
// and returns its serialized DOM.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/xkilldash9x/pagesource/api/schemas"
	"github.com/xkilldash9x/pagesource/internal/config"
	"github.com/xkilldash9x/pagesource/internal/observability"
)

const defaultCloseTimeout = 10 * time.Second

// ErrEmptyContent is the cause of a fetch that produced no markup.
var ErrEmptyContent = errors.New("page produced no content")

// Service implements schemas.PageFetcher on top of a session provider.
type Service struct {
	sessions     schemas.SessionProvider
	denylist     *Denylist
	logger       *zap.Logger
	metrics      *observability.Metrics
	pages        *semaphore.Weighted
	closeTimeout time.Duration
}

var _ schemas.PageFetcher = (*Service)(nil)

// NewService creates the fetch service. metrics may be nil.
func NewService(sessions schemas.SessionProvider, cfg config.FetchConfig, logger *zap.Logger, metrics *observability.Metrics) *Service {
	s := &Service{
		sessions:     sessions,
		denylist:     NewDenylist(cfg.BlockedExtensions, cfg.BlockedResourceTypes),
		logger:       logger.Named("fetcher"),
		metrics:      metrics,
		closeTimeout: cfg.CloseTimeout,
	}
	if s.closeTimeout <= 0 {
		s.closeTimeout = defaultCloseTimeout
	}
	if cfg.MaxConcurrentPages > 0 {
		s.pages = semaphore.NewWeighted(int64(cfg.MaxConcurrentPages))
	}
	return s
}

// TimeoutFromSeconds converts a caller-supplied timeout in seconds into a
// navigation bound. Zero, negative, infinite and overflowing values mean the
// navigation is not bounded and yield 0. Positive values below a nanosecond
// round up to 1ns so they stay bounded.
func TimeoutFromSeconds(sec float64) time.Duration {
	if math.IsNaN(sec) || math.IsInf(sec, 0) || sec <= 0 {
		return 0
	}
	ns := sec * float64(time.Second)
	if ns >= math.MaxInt64 {
		return 0
	}
	if ns < 1 {
		return 1
	}
	return time.Duration(ns)
}

// FetchRenderedSource navigates a new page to url and returns the rendered
// HTML. timeout bounds navigation only; 0 leaves it unbounded. The page is
// closed on every path before returning.
func (s *Service) FetchRenderedSource(ctx context.Context, url string, timeout time.Duration) (html string, err error) {
	start := time.Now()
	logger := s.logger.With(zap.String("url", url), zap.Duration("timeout", timeout))

	defer func() {
		switch {
		case err == nil:
			s.metrics.ObserveFetch(observability.OutcomeSuccess, time.Since(start))
		case schemas.IsKind(err, schemas.KindFatalLaunch):
			s.metrics.ObserveFetch(observability.OutcomeLaunchError, time.Since(start))
		default:
			s.metrics.ObserveFetch(observability.OutcomeFetchError, time.Since(start))
		}
	}()

	browser, err := s.sessions.EnsureSession(ctx)
	if err != nil {
		if schemas.IsKind(err, schemas.KindFatalLaunch) {
			return "", err
		}
		return "", schemas.NewFetchError(url, err)
	}

	if s.pages != nil {
		if err := s.pages.Acquire(ctx, 1); err != nil {
			return "", schemas.NewFetchError(url, fmt.Errorf("waiting for a free page slot: %w", err))
		}
		defer s.pages.Release(1)
	}

	page, err := browser.NewPage(ctx)
	if err != nil {
		return "", schemas.NewFetchError(url, err)
	}
	logger = logger.With(zap.String("page_id", page.ID()))
	s.metrics.PageOpened()
	defer s.closePage(ctx, page, logger)

	if err := page.Route(ctx, s.blockRequest(logger)); err != nil {
		return "", schemas.NewFetchError(url, err)
	}

	navCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		navCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	logger.Debug("Navigating.")
	if err := page.Navigate(navCtx, url); err != nil {
		logger.Warn("Navigation failed.", zap.Error(err))
		return "", schemas.NewFetchError(url, err)
	}

	html, err = page.Content(ctx)
	if err != nil {
		return "", schemas.NewFetchError(url, err)
	}
	if html == "" {
		return "", schemas.NewFetchError(url, ErrEmptyContent)
	}

	logger.Info("Page rendered.", zap.Int("bytes", len(html)), zap.Duration("elapsed", time.Since(start)))
	return html, nil
}

func (s *Service) blockRequest(logger *zap.Logger) func(schemas.RequestInfo) bool {
	return func(req schemas.RequestInfo) bool {
		if !s.denylist.Blocks(req) {
			return false
		}
		s.metrics.IncBlocked(req.ResourceType)
		logger.Debug("Blocked request.", zap.String("request_url", req.URL), zap.String("resource_type", req.ResourceType))
		return true
	}
}

// closePage runs even when ctx is already done, so it gets its own deadline.
func (s *Service) closePage(ctx context.Context, page schemas.Page, logger *zap.Logger) {
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.closeTimeout)
	defer cancel()

	if err := page.Close(closeCtx); err != nil {
		logger.Warn("Failed to close page.", zap.Error(err))
	}
	s.metrics.PageClosed()
}
