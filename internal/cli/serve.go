package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/docmigrate/internal/api"
	"github.com/JonMunkholm/docmigrate/internal/metrics"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	var (
		f    flags
		port string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only migration API",
		Long: `Serve the target schema, the last reconciliation report and identifier
mapping lookups over HTTP:

  GET /api/schema
  GET /api/types
  GET /api/report
  GET /api/mappings/{entityType}/{legacyID}
  GET /metrics`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(&f)
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Port = port
			}
			logger := newLogger(cfg)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			target, closeTarget, err := openTarget(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeTarget()

			// Expose the outcome of the last run until the next one replaces it.
			collector := metrics.New()
			if r, err := readReport(cfg.ReportFile); err == nil {
				collector.ObserveReport(r)
			}

			handler := api.NewHandler(target, cfg.ReportFile, collector.Handler())
			defer handler.Stop()

			mux := http.NewServeMux()
			handler.RegisterRoutes(mux)

			server := &http.Server{
				Addr:           ":" + cfg.Port,
				Handler:        api.LogRequests(logger, mux),
				ReadTimeout:    cfg.ReadTimeout,
				WriteTimeout:   cfg.WriteTimeout,
				MaxHeaderBytes: 1 << 20, // 1 MB
			}

			errCh := make(chan error, 1)
			go func() {
				errCh <- server.ListenAndServe()
			}()
			fmt.Fprintf(cmd.OutOrStdout(), "docmigrate API running at http://localhost:%s\n", cfg.Port)

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server error: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown error: %w", err)
			}
			return nil
		},
	}

	addFlags(cmd, &f)
	cmd.Flags().StringVarP(&port, "port", "p", "", "Listen port (default $PORT)")

	return cmd
}
