package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/corey/kwtag/internal/adapters/socket"
)

// formatStats renders daemon health and counters for the terminal.
//
//	⚡ kwtag │ 2 stages │ 143 keywords │ up 5m0s
//	  ops       tag        skip   1200 rec   1200 pass      0 drop    37 matches
//	  labels    DISK 12 │ NET 25
func formatStats(health *socket.HealthResult, stats *socket.StatsResult, useColor bool) string {
	var sb strings.Builder
	sb.WriteString(paint(useColor, colorBold, fmt.Sprintf("⚡ kwtag │ %d stages │ %d keywords", health.Stages, health.Keywords)))
	if health.Uptime != "" {
		sb.WriteString(" │ up " + health.Uptime)
	}
	if health.RecordsPerMin > 0 {
		fmt.Fprintf(&sb, " │ %.1f rec/min", health.RecordsPerMin)
	}
	sb.WriteString("\n")

	for _, st := range stats.Stages {
		algo := "ac"
		if st.SkipMode {
			algo = "skip"
		}
		fmt.Fprintf(&sb, "  %-10s %-9s %-4s %8d rec %8d pass %8d drop %8d matches",
			paint(useColor, colorCyan, st.Name), st.Mode, algo, st.Processed, st.Passed, st.Dropped, st.Matches)
		if st.Sessions > 0 {
			fmt.Fprintf(&sb, " %d streams", st.Sessions)
		}
		if st.Swaps > 0 {
			fmt.Fprintf(&sb, " %d reloads", st.Swaps)
		}
		sb.WriteString("\n")
	}

	if len(stats.Hits) > 0 {
		sb.WriteString("  " + paint(useColor, colorGray, "lifetime") + "  " + formatHits(stats.Hits, useColor) + "\n")
	}
	return sb.String()
}

// formatHits lists label counts, busiest first.
func formatHits(hits map[string]uint64, useColor bool) string {
	labels := make([]string, 0, len(hits))
	for l := range hits {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool {
		if hits[labels[i]] != hits[labels[j]] {
			return hits[labels[i]] > hits[labels[j]]
		}
		return labels[i] < labels[j]
	})

	parts := make([]string, len(labels))
	for i, l := range labels {
		parts[i] = fmt.Sprintf("%s %d", paint(useColor, colorYellow, l), hits[l])
	}
	return strings.Join(parts, " │ ")
}
