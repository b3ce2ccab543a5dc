package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// EvolveCmd returns the evolve command
func EvolveCmd() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:   "evolve",
		Short: "Apply pending schema evolutions",
		Long: `Apply the schema evolutions declared in the entity model that the target
has not recorded yet. Each version runs in its own transaction.`,
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

			applied, err := newEngine(cfg, target, nil, logger, nil).Evolve(cmd.Context(), m)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date")
				return nil
			}
			for _, v := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "Applied evolution %d\n", v)
			}
			return nil
		},
	}

	addFlags(cmd, &f)

	return cmd
}
