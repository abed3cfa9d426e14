// Package report formats search outcomes into summary tables.
package report

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/weiihann/abcrunch/strategy"
)

// Generate writes a markdown summary table for the given outcomes.
func Generate(w io.Writer, outcomes []strategy.Outcome) error {
	if len(outcomes) == 0 {
		return fmt.Errorf("no outcomes to report")
	}

	fmt.Fprintln(w, "## Best Concurrency")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "| Page | URL | Baseline | Threshold | Concurrency "+
		"| Avg Response | Req/s | Stop |")
	fmt.Fprintln(w, "|------|-----|----------|-----------|-------------"+
		"|--------------|-------|------|")

	for _, o := range outcomes {
		if o.Best == nil || o.Baseline == nil {
			return fmt.Errorf("incomplete outcome for %s", o.Options.Label())
		}

		fmt.Fprintf(w, "| %s | %s | %s | %s | %d | %s | %.2f | %s |\n",
			o.Options.Label(),
			o.Options.URL,
			formatMs(o.Baseline.AvgResponseTime),
			formatMs(o.Threshold),
			o.Best.Options.Concurrency,
			formatMs(o.Best.AvgResponseTime),
			o.Best.RequestsPerSecond,
			o.Stop,
		)
	}

	fmt.Fprintln(w)

	// Per-page sweep detail.
	for _, o := range outcomes {
		fmt.Fprintf(w, "### %s\n\n", o.Options.Label())
		fmt.Fprintln(w, "| Concurrency | Avg Response | Req/s | Failed | Degraded |")
		fmt.Fprintln(w, "|-------------|--------------|-------|--------|----------|")

		for _, s := range o.Steps {
			mark := ""
			if s.Degraded {
				mark = "yes"
			}

			fmt.Fprintf(w, "| %d | %s | %.2f | %d | %s |\n",
				s.Concurrency,
				formatMs(s.Result.AvgResponseTime),
				s.Result.RequestsPerSecond,
				s.Result.FailedRequests,
				mark,
			)
		}

		fmt.Fprintln(w)
	}

	return nil
}

// GenerateJSON writes outcomes as JSON to w.
func GenerateJSON(w io.Writer, outcomes []strategy.Outcome) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(outcomes)
}

func formatMs(ms float64) string {
	if ms < 1000 {
		return fmt.Sprintf("%.2fms", ms)
	}

	return fmt.Sprintf("%.2fs", ms/1000)
}
