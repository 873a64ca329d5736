package snapshot

import (
	"fmt"
	"strings"
)

// NoStagesMessage is rendered in place of a table or narrative when the
// build reports no stages.
const NoStagesMessage = "No pipeline stages found in this build."

// FormatSeconds renders milliseconds as seconds with one decimal, e.g. "4.2s".
func FormatSeconds(millis int64) string {
	return fmt.Sprintf("%.1fs", float64(millis)/1000)
}

// RenderTable renders one markdown table row per stage followed by the
// build summary.
func RenderTable(s PipelineSnapshot) string {
	if len(s.Stages) == 0 {
		return NoStagesMessage
	}

	var b strings.Builder
	b.WriteString("| Stage | Status | Duration |\n")
	b.WriteString("|-------|--------|----------|\n")
	for _, st := range s.Stages {
		fmt.Fprintf(&b, "| %s | %s | %s |\n", st.Name, Glyph(st.Status), FormatSeconds(st.DurationMillis))
	}

	fmt.Fprintf(&b, "\n**Build #%d Summary:**\n", s.Build.BuildNumber)
	writeSummary(&b, s)
	return b.String()
}

// RenderNarrative renders one line per stage separated by rules, followed
// by the build summary.
func RenderNarrative(s PipelineSnapshot) string {
	if len(s.Stages) == 0 {
		return NoStagesMessage
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Pipeline Status for Build #%d\n\n", s.Build.BuildNumber)
	for i, st := range s.Stages {
		fmt.Fprintf(&b, "**%s %s**", Glyph(st.Status), st.Name)
		if st.DurationMillis > 0 {
			fmt.Fprintf(&b, " (%s)", FormatSeconds(st.DurationMillis))
		}
		b.WriteString("\n")
		if i < len(s.Stages)-1 {
			b.WriteString("---\n")
		}
	}

	b.WriteString("\n### Summary\n")
	writeSummary(&b, s)
	return b.String()
}

// Combined is the table followed by the narrative.
func Combined(s PipelineSnapshot) string {
	return RenderTable(s) + "\n\n" + RenderNarrative(s)
}

func writeSummary(b *strings.Builder, s PipelineSnapshot) {
	fmt.Fprintf(b, "* Total Stages: %d\n", len(s.Stages))
	fmt.Fprintf(b, "* Successful Stages: %d\n", s.SuccessfulStages())
	fmt.Fprintf(b, "* Total Duration: %s\n", FormatSeconds(s.TotalDurationMillis))
	fmt.Fprintf(b, "* Status: %s\n", s.OverallStatus)
}
