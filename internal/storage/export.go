package storage

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExportMarkdown renders runs as a markdown table.
func ExportMarkdown(runs []Run) string {
	var b strings.Builder

	b.WriteString("# Execution history\n\n")
	if len(runs) == 0 {
		b.WriteString("_No runs recorded._\n")
		return b.String()
	}

	b.WriteString("| Run | Outcome | Exit | Duration | Script | Stdout | Started | Message |\n")
	b.WriteString("|-----|---------|------|----------|--------|--------|---------|---------|\n")
	for _, r := range runs {
		b.WriteString(fmt.Sprintf("| `%s` | %s | %d | %dms | %dB | %dB | %s | %s |\n",
			r.ID, r.Outcome, r.ExitCode, r.DurationMs, r.ScriptBytes, r.StdoutBytes,
			r.CreatedAt.Format("2006-01-02 15:04:05"), escapeCell(r.Message)))
	}

	return b.String()
}

// ExportJSON renders runs as formatted JSON.
func ExportJSON(runs []Run) ([]byte, error) {
	if runs == nil {
		runs = []Run{}
	}
	export := struct {
		Runs []Run `json:"runs"`
	}{Runs: runs}
	return json.MarshalIndent(export, "", "  ")
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", `\|`)
}
