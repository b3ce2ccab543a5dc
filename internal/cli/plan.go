package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/docmigrate/internal/depgraph"
	"github.com/JonMunkholm/docmigrate/internal/model"
)

// PlanCmd returns the plan command
func PlanCmd() *cobra.Command {
	var modelFile string

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the load order of the entity model",
		Long: `Validate the entity model and print the order entity types are loaded in,
with each type's dependency level and foreign keys. Reference cycles are
reported as errors.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := model.LoadFile(modelFile)
			if err != nil {
				return err
			}
			return printPlan(cmd.OutOrStdout(), m)
		},
	}

	cmd.Flags().StringVarP(&modelFile, "model", "m", "model.yaml", "Entity model file")

	return cmd
}

func printPlan(out io.Writer, m *model.Model) error {
	order, err := depgraph.Order(m.EntityTypes)
	if err != nil {
		return err
	}
	levels, err := depgraph.Levels(m.EntityTypes)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tLEVEL\tENTITY TYPE\tSOURCE\tTABLE\tREFERENCES")
	fmt.Fprintln(w, "-\t-----\t-----------\t------\t-----\t----------")
	for i, et := range order {
		refs := make([]string, 0, len(et.ForeignKeys))
		for _, fk := range et.ForeignKeys {
			ref := fk.Column + " -> " + fk.References
			if fk.Nullable {
				ref += " (optional)"
			}
			refs = append(refs, ref)
		}
		fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\t%s\n", i+1, levels[et.Name], et.Name, et.Source, et.TableName(), strings.Join(refs, ", "))
	}
	return w.Flush()
}
