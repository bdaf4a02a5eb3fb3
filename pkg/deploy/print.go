package deploy

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"
)

// PrintReport writes the per-service breakdown of a run to the
// `io.Writer` provided, for operator diagnosis.
func PrintReport(out io.Writer, report *Report) {
	w := tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "SERVICE \tROLLOUT \tHEALTH \tIMAGE \tTOOK")
	for _, outcome := range report.Outcomes {
		healthState := "-"
		var extraLines []string
		if outcome.Reason != "" {
			extraLines = append(extraLines, outcome.Reason)
		}
		if status, ok := report.HealthFor(outcome.Service); ok {
			healthState = string(status.State)
			if status.Message != "" {
				extraLines = append(extraLines, status.Message)
			}
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			outcome.Service, outcome.State, healthState, outcome.NewImage.String(),
			outcome.FinishedAt.Sub(outcome.StartedAt).Truncate(100*time.Millisecond))
		for _, line := range extraLines {
			fmt.Fprintf(w, "\t\t\t\t%s\n", line)
		}
	}
	for _, name := range report.Skipped {
		fmt.Fprintf(w, "%s\tskipped\t-\t-\t-\n", name)
	}
	w.Flush()
	fmt.Fprintf(out, "\nOverall: %s\n", report.Overall)
}
