package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/docmigrate/internal/metrics"
)

// VerifyCmd returns the verify command
func VerifyCmd() *cobra.Command {
	var (
		f             flags
		reportFile    string
		failOnAnomaly bool
	)

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check migrated tables for duplicates, orphans and key defects",
		Long: `Run the constraint checks alone against already migrated tables. Nothing
is read from the document source and nothing is written to the target.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(&f)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			m, err := loadModel(cfg)
			if err != nil {
				return err
			}

			target, closeTarget, err := openTarget(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeTarget()

			r, err := newEngine(cfg, target, nil, logger, metrics.New()).Verify(cmd.Context(), m)
			if err != nil {
				return err
			}

			printSummary(cmd.OutOrStdout(), r)
			if reportFile != "" {
				if err := writeReport(reportFile, r); err != nil {
					return err
				}
			}
			if failOnAnomaly && !r.Clean() {
				return fmt.Errorf("%w: %d", ErrAnomalies, r.AnomalyCount())
			}
			return nil
		},
	}

	addFlags(cmd, &f)
	cmd.Flags().StringVarP(&reportFile, "report", "r", "", "Also write the report to this file")
	cmd.Flags().BoolVar(&failOnAnomaly, "fail-on-anomaly", false, "Exit non-zero when any anomaly is found")

	return cmd
}
