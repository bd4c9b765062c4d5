package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/lvonguyen/feedforge/internal/ioc"
	"github.com/lvonguyen/feedforge/internal/pipeline"
	"github.com/lvonguyen/feedforge/internal/store"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// renderRunResult displays the outcome of a pipeline run
func renderRunResult(w io.Writer, res pipeline.Result) {
	if !res.Success {
		errorColor.Fprintf(w, "✗ Pipeline failed at stage %s: %s\n", res.Stage, res.Error)
		return
	}

	successColor.Fprintf(w, "✓ Processed %d IOCs in %.2fs\n", res.ProcessedCount, res.ProcessingTime)
	infoColor.Fprintf(w, "  Run ID: %s\n", res.RunID)

	if res.Statistics == nil {
		return
	}
	st := res.Statistics
	fmt.Fprintln(w)
	headerColor.Fprintln(w, "STAGES")
	fmt.Fprintf(w, "  %-14s %8s %8s\n", "Stage", "In", "Out")
	for _, stage := range []pipeline.Stage{
		pipeline.StageNormalize,
		pipeline.StageDedupe,
		pipeline.StageEnrichIP,
		pipeline.StageFilterURLs,
		pipeline.StageClassifyURLs,
		pipeline.StagePersist,
	} {
		c, ok := st.Stages[string(stage)]
		if !ok {
			continue
		}
		fmt.Fprintf(w, "  %-14s %8d %8d\n", stage, c.In, c.Out)
	}

	fmt.Fprintln(w)
	headerColor.Fprintln(w, "SOURCES")
	renderCounts(w, st.IngestionStats)
}

// renderIngestResult displays per-feed ingestion counts
func renderIngestResult(w io.Writer, res pipeline.IngestResult, showRecords bool) {
	if res.RawCount == 0 {
		warningColor.Fprintln(w, "No IOCs were ingested")
	} else {
		successColor.Fprintf(w, "✓ Ingested %d raw IOCs\n", res.RawCount)
	}
	renderCounts(w, res.Counts)

	if !showRecords {
		return
	}
	fmt.Fprintln(w)
	for _, r := range res.Raw {
		fmt.Fprintf(w, "  %-12s %-4s %5d  %s\n", r.Source, r.Kind, r.LineNumber, r.Value)
	}
}

// renderIndicators displays indicators in a table
func renderIndicators(w io.Writer, iocs []*ioc.Indicator, limit int) {
	if len(iocs) == 0 {
		warningColor.Fprintln(w, "No IOCs found")
		return
	}

	headerColor.Fprintln(w, "IOCS")
	fmt.Fprintf(w, "%-4s %-12s %-10s %-6s %-5s %s\n", "Type", "Source", "Confidence", "Dupes", "Susp", "Value")
	fmt.Fprintln(w, strings.Repeat("-", 100))

	shown := iocs
	if limit > 0 && len(shown) > limit {
		shown = shown[:limit]
	}
	for _, i := range shown {
		suspicious := ""
		if v, ok := i.Enrichment["is_suspicious"].(bool); ok && v {
			suspicious = "yes"
		}
		value := i.Value
		if len(value) > 60 {
			value = value[:57] + "..."
		}
		fmt.Fprintf(w, "%-4s %-12s %-10.2f %-6d %-5s %s\n",
			i.Kind, strings.Join(i.Sources, ","), i.Confidence, i.DuplicateCount, suspicious, value)
	}

	if len(shown) < len(iocs) {
		infoColor.Fprintf(w, "... %d more (use --limit 0 to show all)\n", len(iocs)-len(shown))
	}
	fmt.Fprintf(w, "Total: %d\n", len(iocs))
}

// renderStats displays artifact statistics
func renderStats(w io.Writer, st store.Statistics) {
	headerColor.Fprintf(w, "Total IOCs: %d\n", st.TotalIOCs)
	fmt.Fprintln(w)

	headerColor.Fprintln(w, "BY TYPE")
	renderCounts(w, st.ByType)
	fmt.Fprintln(w)

	headerColor.Fprintln(w, "BY SOURCE")
	renderCounts(w, st.BySource)
	fmt.Fprintln(w)

	headerColor.Fprintln(w, "BY CONFIDENCE")
	fmt.Fprintf(w, "  %-14s %d\n", "high", st.ByConfidence.High)
	fmt.Fprintf(w, "  %-14s %d\n", "medium", st.ByConfidence.Medium)
	fmt.Fprintf(w, "  %-14s %d\n", "low", st.ByConfidence.Low)
}

// renderHistory displays the run history, oldest first
func renderHistory(w io.Writer, history []store.RunStats) {
	if len(history) == 0 {
		warningColor.Fprintln(w, "No runs recorded")
		return
	}

	headerColor.Fprintln(w, "RUN HISTORY")
	fmt.Fprintf(w, "%-20s %-8s %6s %6s %8s  %s\n", "Timestamp", "Status", "Raw", "Final", "Seconds", "Error")
	fmt.Fprintln(w, strings.Repeat("-", 80))

	for _, h := range history {
		status := successColor.Sprint("ok")
		if !h.Success {
			status = errorColor.Sprint("failed")
		}
		fmt.Fprintf(w, "%-20s %-8s %6d %6d %8.2f  %s\n",
			h.Timestamp.UTC().Format(time.DateTime), status, h.RawIOCs, h.FinalIOCs, h.ProcessingTimeSeconds, h.Error)
	}
}

// renderIntegrity displays an integrity report
func renderIntegrity(w io.Writer, r store.IntegrityReport) {
	if r.IsValid {
		successColor.Fprintf(w, "✓ Artifact is valid (%d IOCs)\n", r.TotalIOCs)
		return
	}

	errorColor.Fprintf(w, "✗ Artifact failed integrity check (%d IOCs)\n", r.TotalIOCs)
	if r.Error != "" {
		fmt.Fprintf(w, "  %s\n", r.Error)
	}
	for _, issue := range r.Issues {
		warningColor.Fprintf(w, "  - %s\n", issue)
	}
}

// renderBackups displays backup paths
func renderBackups(w io.Writer, paths []string) {
	if len(paths) == 0 {
		warningColor.Fprintln(w, "No backups found")
		return
	}
	headerColor.Fprintln(w, "BACKUPS")
	for i, p := range paths {
		marker := " "
		if i == 0 {
			marker = "*"
		}
		fmt.Fprintf(w, " %s %s\n", marker, p)
	}
}

func renderCounts(w io.Writer, counts map[string]int) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %-14s %d\n", k, counts[k])
	}
}
