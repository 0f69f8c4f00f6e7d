package playwright

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pagesource/internal/config"
)

func TestDeadlineMillis(t *testing.T) {
	_, ok := deadlineMillis(context.Background())
	assert.False(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ms, ok := deadlineMillis(ctx)
	require.True(t, ok)
	assert.InDelta(t, 5000, ms, 100)

	expired, cancelExpired := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancelExpired()
	ms, ok = deadlineMillis(expired)
	require.True(t, ok)
	assert.Equal(t, 1.0, ms)
}

func TestLaunchOptions(t *testing.T) {
	t.Run("chromium gets container flags", func(t *testing.T) {
		e := NewEngine(config.BrowserConfig{
			BrowserType: config.BrowserTypeChromium,
			Headless:    true,
			Args:        []string{"--lang=en-US"},
		}, zap.NewNop())

		opts := e.launchOptions(context.Background())
		require.NotNil(t, opts.Headless)
		assert.True(t, *opts.Headless)
		assert.Nil(t, opts.Timeout)
		assert.Nil(t, opts.ExecutablePath)
		assert.Equal(t, []string{"--no-sandbox", "--disable-dev-shm-usage", "--lang=en-US"}, opts.Args)
	})

	t.Run("firefox keeps args untouched", func(t *testing.T) {
		e := NewEngine(config.BrowserConfig{
			BrowserType:    config.BrowserTypeFirefox,
			ExecutablePath: "/opt/firefox/firefox",
		}, zap.NewNop())

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		opts := e.launchOptions(ctx)
		require.NotNil(t, opts.ExecutablePath)
		assert.Equal(t, "/opt/firefox/firefox", *opts.ExecutablePath)
		require.NotNil(t, opts.Timeout)
		assert.Greater(t, *opts.Timeout, 59000.0)
		assert.Empty(t, opts.Args)
		assert.Equal(t, "playwright/firefox", e.Name())
	})
}
