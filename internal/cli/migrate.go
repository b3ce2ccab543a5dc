package cli

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/docmigrate/internal/metrics"
	"github.com/JonMunkholm/docmigrate/internal/report"
)

// ErrAnomalies is returned by migrate and verify with --fail-on-anomaly when
// the report is not clean.
var ErrAnomalies = errors.New("integrity anomalies found")

// MigrateCmd returns the migrate command
func MigrateCmd() *cobra.Command {
	var (
		f             flags
		reportFile    string
		metricsFile   string
		failOnAnomaly bool
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Migrate documents into relational tables",
		Long: `Load every entity type of the model in dependency order, assign surrogate
ids, rewrite legacy references and verify the result.

Integrity anomalies never stop the run. They are listed in the
reconciliation report written to --report.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(&f)
			if err != nil {
				return err
			}
			if reportFile != "" {
				cfg.ReportFile = reportFile
			}
			if metricsFile != "" {
				cfg.MetricsFile = metricsFile
			}
			logger := newLogger(cfg)

			m, err := loadModel(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			target, closeTarget, err := openTarget(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeTarget()

			docs, closeSource, err := openSource(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeSource()

			collector := metrics.New()
			r, runErr := newEngine(cfg, target, docs, logger, collector).Run(ctx, m)

			if r != nil {
				if err := writeReport(cfg.ReportFile, r); err != nil {
					return errors.Join(runErr, err)
				}
				printSummary(cmd.OutOrStdout(), r)
				fmt.Fprintf(cmd.OutOrStdout(), "\nReport written to %s\n", cfg.ReportFile)
			}
			if cfg.MetricsFile != "" {
				if err := collector.WriteTextfile(cfg.MetricsFile); err != nil {
					logger.Warn("failed to write metrics file", "path", cfg.MetricsFile, "error", err)
				}
			}

			if runErr != nil {
				return runErr
			}
			if failOnAnomaly && !r.Clean() {
				return fmt.Errorf("%w: %d", ErrAnomalies, r.AnomalyCount())
			}
			return nil
		},
	}

	addFlags(cmd, &f)
	cmd.Flags().StringVarP(&reportFile, "report", "r", "", "Reconciliation report output (default $REPORT_FILE)")
	cmd.Flags().StringVar(&metricsFile, "metrics-file", "", "Prometheus textfile output (default $METRICS_FILE)")
	cmd.Flags().BoolVar(&failOnAnomaly, "fail-on-anomaly", false, "Exit non-zero when the report lists any anomaly")

	return cmd
}

func writeReport(path string, r *report.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	if err := r.WriteJSON(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write report file: %w", err)
	}
	return nil
}

func readReport(path string) (*report.Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return report.ReadJSON(f)
}
