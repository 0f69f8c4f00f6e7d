// internal/browser/manager.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pagesource/api/schemas"
	"github.com/xkilldash9x/pagesource/internal/observability"
)

const defaultLaunchTimeout = 60 * time.Second

// ErrSessionClosed is returned by EnsureSession after Shutdown.
var ErrSessionClosed = errors.New("browser session has been shut down")

// Manager owns the single process-wide browser session. The session moves
// from uninitialized to launching exactly once, then to ready or failed, and
// never leaves those states except through Shutdown.
type Manager struct {
	engine        schemas.Engine
	logger        *zap.Logger
	metrics       *observability.Metrics
	launchTimeout time.Duration
	onFatal       func(error)

	mu      sync.Mutex
	state   schemas.LaunchState
	done    chan struct{} // closed when the launch attempt completes
	browser schemas.Browser
	err     error
}

// Ensure Manager implements the interface.
var _ schemas.SessionProvider = (*Manager)(nil)

// Option configures a Manager.
type Option func(*Manager)

// WithMetrics records launch attempts.
func WithMetrics(m *observability.Metrics) Option {
	return func(mgr *Manager) { mgr.metrics = m }
}

// WithLaunchTimeout bounds the engine launch.
func WithLaunchTimeout(d time.Duration) Option {
	return func(mgr *Manager) {
		if d > 0 {
			mgr.launchTimeout = d
		}
	}
}

// WithFatalHandler sets the hook run once when the launch fails. Production
// code uses it to terminate the process.
func WithFatalHandler(fn func(error)) Option {
	return func(mgr *Manager) { mgr.onFatal = fn }
}

// NewManager creates a browser manager. The browser is not launched until the
// first EnsureSession call.
func NewManager(engine schemas.Engine, logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		engine:        engine,
		logger:        logger.Named("browser_manager"),
		launchTimeout: defaultLaunchTimeout,
		state:         schemas.StateUninitialized,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger.Debug("Browser manager created (launch deferred).", zap.String("engine", engine.Name()))
	return m
}

// State reports the current launch state.
func (m *Manager) State() schemas.LaunchState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// EnsureSession returns the shared browser, launching it on the first call.
// Callers arriving while the launch is in flight wait for that same attempt;
// a caller whose ctx ends while waiting gives up without affecting the launch.
func (m *Manager) EnsureSession(ctx context.Context) (schemas.Browser, error) {
	m.mu.Lock()
	switch m.state {
	case schemas.StateReady:
		b := m.browser
		m.mu.Unlock()
		return b, nil
	case schemas.StateFailed:
		err := m.err
		m.mu.Unlock()
		return nil, err
	case schemas.StateUninitialized:
		m.state = schemas.StateLaunching
		m.done = make(chan struct{})
		go m.launch(m.done)
	}
	done := m.done
	m.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for browser launch: %w", ctx.Err())
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == schemas.StateReady {
		return m.browser, nil
	}
	return nil, m.err
}

// launch performs the one and only launch attempt. It runs detached from any
// request so that a cancelled first caller cannot abort it.
func (m *Manager) launch(done chan struct{}) {
	m.logger.Info("Launching browser...", zap.String("engine", m.engine.Name()))
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), m.launchTimeout)
	defer cancel()

	b, err := m.engine.Launch(ctx)
	m.metrics.ObserveLaunch(err)

	m.mu.Lock()
	if err != nil {
		m.state = schemas.StateFailed
		m.err = schemas.NewFatalLaunchError(err)
	} else {
		m.state = schemas.StateReady
		m.browser = b
	}
	fatal := m.err
	close(done)
	m.mu.Unlock()

	if err != nil {
		m.logger.Error("Browser launch failed.", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		if m.onFatal != nil {
			m.onFatal(fatal)
		}
		return
	}
	m.logger.Info("Browser launched.", zap.Duration("elapsed", time.Since(start)))
}

// Shutdown closes the browser if it was launched. A launch still in flight is
// waited for first. After Shutdown every EnsureSession call fails.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.state == schemas.StateUninitialized {
		// Never launched; close the session in the same critical section so
		// no EnsureSession can start a launch after this point.
		m.state = schemas.StateFailed
		m.err = ErrSessionClosed
		m.done = make(chan struct{})
		close(m.done)
	}
	done := m.done
	m.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return fmt.Errorf("waiting for browser launch before shutdown: %w", ctx.Err())
		}
	}

	m.mu.Lock()
	b := m.browser
	m.browser = nil
	if m.state != schemas.StateFailed {
		m.state = schemas.StateFailed
		m.err = ErrSessionClosed
	}
	m.mu.Unlock()

	if b == nil {
		m.logger.Info("Browser was never launched, nothing to shut down.")
		return nil
	}

	m.logger.Info("Closing browser.")
	if err := b.Close(ctx); err != nil {
		m.logger.Error("Failed to close browser.", zap.Error(err))
		return fmt.Errorf("failed to close browser: %w", err)
	}
	return nil
}
