package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pagesource/internal/observability"
	"github.com/xkilldash9x/pagesource/internal/server"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the page source HTTP service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			logger := observability.GetLogger()

			components, err := newComponents(cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
				defer cancel()
				if err := components.Shutdown(shutdownCtx); err != nil {
					logger.Error("Shutdown error", zap.Error(err))
				}
			}()

			if !cfg.Browser.LazyLaunch {
				if err := components.WarmUp(ctx); err != nil {
					return err
				}
			}

			srv := server.New(cfg.Server, components.Fetcher, components.Manager, logger, components.Metrics)
			logger.Info("pagesource is serving",
				zap.String("version", Version),
				zap.String("listen_addr", cfg.Server.ListenAddr),
				zap.String("admin_addr", cfg.Server.AdminAddr),
				zap.String("engine", cfg.Browser.Engine))

			if err := srv.Run(ctx); err != nil {
				return err
			}
			logger.Info("pagesource stopped.")
			return nil
		},
	}

	cmd.Flags().String("listen", "", "address of the fetch endpoint (server.listen_addr)")
	cmd.Flags().String("admin", "", "address of the health and metrics endpoints, empty to disable (server.admin_addr)")
	cmd.Flags().String("engine", "", "browser engine: chromium or playwright (browser.engine)")
	cmd.Flags().String("browser-type", "", "playwright browser: chromium, webkit or firefox (browser.browser_type)")
	cmd.Flags().Bool("lazy", false, "launch the browser on the first request instead of at startup (browser.lazy_launch)")
	bindFlag(cmd, "listen", "server.listen_addr")
	bindFlag(cmd, "admin", "server.admin_addr")
	bindFlag(cmd, "engine", "browser.engine")
	bindFlag(cmd, "browser-type", "browser.browser_type")
	bindFlag(cmd, "lazy", "browser.lazy_launch")
	return cmd
}
