package main

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/dgallion1/docsort/internal/classify"
	"github.com/dgallion1/docsort/internal/organizer"
)

// renderReport formats the per-file outcomes, the status totals and the
// classification latency.
func renderReport(r *organizer.Report, stats classify.StatsSnapshot) string {
	var b strings.Builder

	if len(r.Outcomes) == 0 {
		b.WriteString("No files processed.\n")
	} else {
		tw := table.NewWriter()
		tw.SetStyle(table.StyleRounded)
		tw.AppendHeader(table.Row{"File", "Status", "Label", "Destination"})
		for _, o := range r.Outcomes {
			tw.AppendRow(table.Row{relTo(r.Root, o.Path), string(o.Status), o.Label, relTo(r.Root, o.Target)})
		}
		tw.SetColumnConfigs([]table.ColumnConfig{
			{Number: 2, AlignHeader: text.AlignLeft},
			{Number: 4, WidthMax: 60},
		})
		b.WriteString(tw.Render())
		b.WriteString("\n")
	}

	parts := make([]string, 0, len(r.Outcomes))
	for _, c := range r.Counts() {
		parts = append(parts, fmt.Sprintf("%s=%d", c.Status, c.Count))
	}
	fmt.Fprintf(&b, "Files: %d", len(r.Outcomes))
	if len(parts) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(parts, ", "))
	}
	if n := r.Failures(); n > 0 {
		fmt.Fprintf(&b, ", %d failed", n)
	}
	if r.Canceled {
		b.WriteString(" [canceled]")
	}
	b.WriteString("\n")

	if stats.Count > 0 {
		fmt.Fprintf(&b, "Classifier calls: %d (%s), p50 %.0fms, p95 %.0fms, max %dms\n",
			stats.Count, failureSummary(stats), stats.P50Ms, stats.P95Ms, stats.MaxMs)
	}
	return strings.TrimRight(b.String(), "\n")
}

// failureSummary reads "0 failed" or "3 failed: schema=1, transport=2".
func failureSummary(stats classify.StatsSnapshot) string {
	s := fmt.Sprintf("%d failed", stats.Failures)
	if len(stats.ByKind) == 0 {
		return s
	}
	kinds := make([]string, 0, len(stats.ByKind))
	for k, n := range stats.ByKind {
		kinds = append(kinds, fmt.Sprintf("%s=%d", k, n))
	}
	sort.Strings(kinds)
	return s + ": " + strings.Join(kinds, ", ")
}

func relTo(root, path string) string {
	if path == "" {
		return ""
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	return rel
}
