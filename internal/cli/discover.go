package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/docmigrate/internal/model"
	"github.com/JonMunkholm/docmigrate/internal/source"
)

// DiscoverCmd returns the discover command
func DiscoverCmd() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "List the collection paths of the document source",
		Long: `List every collection and subcollection path of the document source with
its document count. When the model file exists, paths no entity type reads
are marked.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(&f)
			if err != nil {
				return err
			}
			newLogger(cfg)

			docs, closeSource, err := openSource(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeSource()

			paths, err := source.NewReader(docs).Discover(cmd.Context())
			if err != nil {
				return err
			}

			var types []model.EntityType
			if m, err := model.LoadFile(cfg.ModelFile); err == nil {
				types = m.EntityTypes
			}
			return printPaths(cmd.OutOrStdout(), paths, types)
		},
	}

	addFlags(cmd, &f)

	return cmd
}

func printPaths(out io.Writer, paths []source.PathInfo, types []model.EntityType) error {
	unbound := make(map[string]bool)
	if types != nil {
		for _, p := range source.Unbound(paths, types) {
			unbound[p.Path] = true
		}
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PATH\tDOCUMENTS\t")
	fmt.Fprintln(w, "----\t---------\t")
	for _, p := range paths {
		mark := ""
		if unbound[p.Path] {
			mark = color.New(color.FgYellow).Sprint("unbound")
		}
		fmt.Fprintf(w, "%s\t%d\t%s\n", p.Path, p.Documents, mark)
	}
	return w.Flush()
}
