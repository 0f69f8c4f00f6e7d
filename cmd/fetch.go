package cmd

import (
	"context"
	"fmt"
	"math"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pagesource/internal/fetcher"
	"github.com/xkilldash9x/pagesource/internal/observability"
	"github.com/xkilldash9x/pagesource/internal/service"
)

func newFetchCmd() *cobra.Command {
	var (
		url     string
		timeout float64
	)

	cmd := &cobra.Command{
		Use:   "fetch --url <url> [--timeout <seconds>]",
		Short: "Render a single URL and print its HTML to stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if url == "" {
				return fmt.Errorf("--url is required")
			}
			if math.IsNaN(timeout) {
				return fmt.Errorf("--timeout must be a number of seconds")
			}
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()

			// The launch error is returned to the caller instead of exiting.
			components, err := newComponents(cfg, logger, service.WithFatalHandler(func(err error) {
				logger.Error("Browser could not be launched.", zap.Error(err))
			}))
			if err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
				defer cancel()
				if err := components.Shutdown(shutdownCtx); err != nil {
					logger.Warn("Shutdown error", zap.Error(err))
				}
			}()

			html, err := components.Fetcher.FetchRenderedSource(cmd.Context(), url, fetcher.TimeoutFromSeconds(timeout))
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), html)
			return err
		},
	}

	cmd.Flags().StringVarP(&url, "url", "u", "", "URL to render")
	cmd.Flags().Float64VarP(&timeout, "timeout", "t", 30, "navigation timeout in seconds, 0 for none")
	cmd.Flags().String("engine", "", "browser engine: chromium or playwright (browser.engine)")
	cmd.Flags().String("browser-type", "", "playwright browser: chromium, webkit or firefox (browser.browser_type)")
	bindFlag(cmd, "engine", "browser.engine")
	bindFlag(cmd, "browser-type", "browser.browser_type")
	return cmd
}
