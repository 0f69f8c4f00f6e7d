// Filename: browser/manager_test.go
package browser_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/pagesource/api/schemas"
	"github.com/xkilldash9x/pagesource/internal/browser"
	"github.com/xkilldash9x/pagesource/internal/browser/browsertest"
	"github.com/xkilldash9x/pagesource/internal/observability"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// testingWriter redirects logger output to the test runner so logs from
// concurrent tests are not interleaved.
type testingWriter struct {
	t *testing.T
}

// Write recovers if t.Log panics because the test already finished.
func (tw *testingWriter) Write(p []byte) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "[Recovered Log] Logged after test %s finished: %s\n", tw.t.Name(), bytes.TrimRight(p, "\n"))
			n = len(p)
			err = nil
		}
	}()
	tw.t.Log(string(bytes.TrimRight(p, "\n")))
	return len(p), nil
}

func newTestLogger(t *testing.T) *zap.Logger {
	t.Helper()
	encoderCfg := zap.NewDevelopmentEncoderConfig()
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderCfg),
		zapcore.AddSync(&testingWriter{t: t}),
		zap.DebugLevel,
	)
	return zap.New(core)
}

func TestManager_LaunchesOnceUnderConcurrentCallers(t *testing.T) {
	engine := browsertest.NewEngine(nil)
	engine.LaunchDelay = 50 * time.Millisecond
	metrics := observability.NewMetrics()
	mgr := browser.NewManager(engine, newTestLogger(t), browser.WithMetrics(metrics))

	assert.Equal(t, schemas.StateUninitialized, mgr.State())

	const callers = 32
	var wg sync.WaitGroup
	results := make([]schemas.Browser, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = mgr.EnsureSession(context.Background())
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, engine.Launches(), "the engine must be launched exactly once")
	assert.Equal(t, schemas.StateReady, mgr.State())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, engine.Browser(), results[i])
	}

	// Later calls reuse the cached handle.
	b, err := mgr.EnsureSession(context.Background())
	require.NoError(t, err)
	assert.Same(t, engine.Browser(), b)
	assert.Equal(t, 1, engine.Launches())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.BrowserLaunches.WithLabelValues("success")))

	require.NoError(t, mgr.Shutdown(context.Background()))
}

func TestManager_LaunchFailureIsPermanent(t *testing.T) {
	engine := browsertest.NewEngine(nil)
	engine.LaunchErr = errors.New("executable not found")

	var fatalCalls atomic.Int32
	fatalCh := make(chan error, 4)
	mgr := browser.NewManager(engine, newTestLogger(t), browser.WithFatalHandler(func(err error) {
		fatalCalls.Add(1)
		fatalCh <- err
	}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := mgr.EnsureSession(context.Background())
			assert.True(t, schemas.IsKind(err, schemas.KindFatalLaunch), "got %v", err)
		}()
	}
	wg.Wait()

	select {
	case err := <-fatalCh:
		assert.True(t, schemas.IsKind(err, schemas.KindFatalLaunch))
		assert.ErrorContains(t, err, "executable not found")
	case <-time.After(time.Second):
		t.Fatal("fatal handler was not called")
	}

	// No relaunch, no second fatal notification.
	_, err := mgr.EnsureSession(context.Background())
	require.Error(t, err)
	assert.Equal(t, schemas.StateFailed, mgr.State())
	assert.Equal(t, 1, engine.Launches())
	assert.Equal(t, int32(1), fatalCalls.Load())
}

func TestManager_CancelledWaiterDoesNotAbortLaunch(t *testing.T) {
	engine := browsertest.NewEngine(nil)
	engine.LaunchDelay = 100 * time.Millisecond
	mgr := browser.NewManager(engine, newTestLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := mgr.EnsureSession(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, schemas.StateLaunching, mgr.State())

	b, err := mgr.EnsureSession(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, b)
	assert.Equal(t, 1, engine.Launches())

	require.NoError(t, mgr.Shutdown(context.Background()))
}

func TestManager_LaunchTimeoutIsFatal(t *testing.T) {
	engine := browsertest.NewEngine(nil)
	engine.LaunchDelay = time.Second
	mgr := browser.NewManager(engine, newTestLogger(t), browser.WithLaunchTimeout(20*time.Millisecond))

	_, err := mgr.EnsureSession(context.Background())
	require.Error(t, err)
	assert.True(t, schemas.IsKind(err, schemas.KindFatalLaunch))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestManager_Shutdown(t *testing.T) {
	t.Run("closes a launched browser", func(t *testing.T) {
		engine := browsertest.NewEngine(nil)
		mgr := browser.NewManager(engine, newTestLogger(t))

		_, err := mgr.EnsureSession(context.Background())
		require.NoError(t, err)
		require.NoError(t, mgr.Shutdown(context.Background()))
		assert.Equal(t, 1, engine.Browser().Closes())

		_, err = mgr.EnsureSession(context.Background())
		assert.ErrorIs(t, err, browser.ErrSessionClosed)
		assert.Equal(t, 1, engine.Launches())
	})

	t.Run("never launched", func(t *testing.T) {
		engine := browsertest.NewEngine(nil)
		mgr := browser.NewManager(engine, newTestLogger(t))

		require.NoError(t, mgr.Shutdown(context.Background()))
		_, err := mgr.EnsureSession(context.Background())
		assert.ErrorIs(t, err, browser.ErrSessionClosed)
		assert.Equal(t, 0, engine.Launches())
		assert.Equal(t, 0, engine.Browser().Closes())
	})

	t.Run("racing first caller never leaks a browser", func(t *testing.T) {
		for i := 0; i < 200; i++ {
			engine := browsertest.NewEngine(nil)
			mgr := browser.NewManager(engine, zap.NewNop())

			var wg sync.WaitGroup
			wg.Add(2)
			go func() {
				defer wg.Done()
				_, _ = mgr.EnsureSession(context.Background())
			}()
			go func() {
				defer wg.Done()
				_ = mgr.Shutdown(context.Background())
			}()
			wg.Wait()

			require.Equal(t, schemas.StateFailed, mgr.State())
			require.Equal(t, engine.Launches(), engine.Browser().Closes(), "iteration %d", i)
			_, err := mgr.EnsureSession(context.Background())
			require.ErrorIs(t, err, browser.ErrSessionClosed)
		}
	})

	t.Run("waits for in-flight launch", func(t *testing.T) {
		engine := browsertest.NewEngine(nil)
		engine.LaunchDelay = 50 * time.Millisecond
		mgr := browser.NewManager(engine, newTestLogger(t))

		ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
		defer cancel()
		_, _ = mgr.EnsureSession(ctx)

		require.NoError(t, mgr.Shutdown(context.Background()))
		assert.Equal(t, 1, engine.Browser().Closes())
	})
}
