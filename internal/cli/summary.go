package cli

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/JonMunkholm/docmigrate/internal/report"
)

func printSummary(out io.Writer, r *report.Report) {
	fmt.Fprintf(out, "Run %s\n\n", r.RunID)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ENTITY TYPE\tREAD\tWRITTEN\tRESOLVED\tUNRESOLVED\tAMBIGUOUS\tSKIPPED\tDEGRADED")
	fmt.Fprintln(w, "-----------\t----\t-------\t--------\t----------\t---------\t-------\t--------")
	for _, name := range r.Order {
		c := r.Counts(name)
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n", name,
			c.RowsRead, c.RowsWritten, c.ReferencesResolved, c.ReferencesUnresolved,
			c.ReferencesAmbiguous, c.ReferencesSkipped, c.DegradedRows)
	}
	w.Flush()
	fmt.Fprintln(out)

	if r.Clean() {
		fmt.Fprintln(out, color.New(color.FgGreen).Sprint("No integrity anomalies"))
		return
	}

	byKind := r.AnomaliesByKind()
	kinds := make([]string, 0, len(byKind))
	for k := range byKind {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	fmt.Fprintln(out, color.New(color.FgYellow).Sprintf("%d integrity anomalies", r.AnomalyCount()))
	for _, k := range kinds {
		n := byKind[k]
		if n == 0 {
			continue
		}
		fmt.Fprintf(out, "  %-22s %s\n", k, color.New(color.FgYellow).Sprint(n))
	}
}
