package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/docmigrate/internal/cli"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "docmigrate",
		Short: "Migrate a document store into relational tables",
		Long: `docmigrate copies the collections of a document store into relational
tables. Legacy document ids become surrogate UUIDs, legacy references are
rewritten to foreign keys, and every integrity problem found on the way is
listed in a reconciliation report.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(cli.MigrateCmd())
	rootCmd.AddCommand(cli.VerifyCmd())
	rootCmd.AddCommand(cli.PlanCmd())
	rootCmd.AddCommand(cli.EvolveCmd())
	rootCmd.AddCommand(cli.DiscoverCmd())
	rootCmd.AddCommand(cli.ServeCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
