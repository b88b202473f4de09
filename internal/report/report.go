// Package report renders scan results as JSON documents and colorized
// console output.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/nexus-scanner/nexus/pkg/types"
)

// Report is the JSON document written for a finished scan.
type Report struct {
	ScanID      string          `json:"scan_id"`
	Target      string          `json:"target"`
	Status      types.ScanStatus `json:"status"`
	Discovered  int             `json:"discovered"`
	Completed   int             `json:"completed"`
	StartedAt   time.Time       `json:"started_at"`
	EndedAt     *time.Time      `json:"ended_at,omitempty"`
	Duration    string          `json:"duration,omitempty"`
	Error       string          `json:"error,omitempty"`
	Summary     types.Summary   `json:"summary"`
	Findings    []types.Finding `json:"findings"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// Build assembles a report from a scan snapshot.
func Build(state types.ScanState) Report {
	r := Report{
		ScanID:      state.ID,
		Target:      state.Target.String(),
		Status:      state.Status,
		Discovered:  state.Discovered,
		Completed:   state.Completed,
		StartedAt:   state.StartedAt,
		EndedAt:     state.EndedAt,
		Error:       state.Error,
		Summary:     types.Summarize(state.Findings),
		Findings:    state.Findings,
		GeneratedAt: time.Now().UTC(),
	}
	if state.EndedAt != nil {
		r.Duration = state.EndedAt.Sub(state.StartedAt).Round(time.Millisecond).String()
	}
	return r
}

// WriteJSON writes the report as indented JSON.
func WriteJSON(w io.Writer, state types.ScanState) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(Build(state))
}

// ColorStatus returns a colorized status string with an icon.
func ColorStatus(status types.ScanStatus) string {
	switch status {
	case types.ScanStatusCompleted:
		return color.New(color.FgGreen).Sprint("✓ " + string(status))
	case types.ScanStatusRunning, types.ScanStatusPending:
		return color.New(color.FgYellow).Sprint("⟳ " + string(status))
	case types.ScanStatusFailed:
		return color.New(color.FgRed).Sprint("✗ " + string(status))
	case types.ScanStatusCancelled:
		return color.New(color.FgMagenta).Sprint("⊘ " + string(status))
	default:
		return string(status)
	}
}

// ColorSeverity returns a colorized severity label.
func ColorSeverity(severity types.Severity) string {
	switch severity {
	case types.SeverityCritical:
		return color.New(color.FgRed, color.Bold).Sprint("CRITICAL")
	case types.SeverityHigh:
		return color.New(color.FgRed).Sprint("HIGH")
	case types.SeverityMedium:
		return color.New(color.FgYellow).Sprint("MEDIUM")
	case types.SeverityLow:
		return color.New(color.FgCyan).Sprint("LOW")
	case types.SeverityInfo:
		return color.New(color.FgWhite).Sprint("INFO")
	default:
		return string(severity)
	}
}

// WriteConsole renders a human-readable summary of the scan.
func WriteConsole(w io.Writer, state types.ScanState) {
	fmt.Fprintf(w, "\nScan %s\n", state.ID)
	fmt.Fprintf(w, "Target:     %s\n", state.Target.String())
	fmt.Fprintf(w, "Status:     %s\n", ColorStatus(state.Status))
	fmt.Fprintf(w, "Resources:  %d discovered, %d evaluated\n", state.Discovered, state.Completed)
	if state.EndedAt != nil {
		fmt.Fprintf(w, "Duration:   %s\n", state.EndedAt.Sub(state.StartedAt).Round(time.Millisecond))
	}
	if state.Error != "" {
		fmt.Fprintf(w, "Error:      %s\n", color.New(color.FgRed).Sprint(state.Error))
	}

	summary := types.Summarize(state.Findings)
	fmt.Fprintf(w, "Findings:   %d total", summary.Total)
	for _, sev := range []types.Severity{
		types.SeverityCritical, types.SeverityHigh, types.SeverityMedium,
		types.SeverityLow, types.SeverityInfo,
	} {
		if n := summary.BySeverity[sev]; n > 0 {
			fmt.Fprintf(w, "  %s: %d", ColorSeverity(sev), n)
		}
	}
	fmt.Fprintln(w)

	for _, f := range state.Findings {
		fmt.Fprintf(w, "\n%s - %s\n", ColorSeverity(f.Severity), f.Title)
		fmt.Fprintf(w, "  Detector: %s@%s | Resource: %s\n", f.Detector, f.DetectorVersion, f.Resource)
		if f.Description != "" {
			fmt.Fprintf(w, "  %s\n", truncate(f.Description, 150))
		}
		if f.Evidence != "" {
			fmt.Fprintf(w, "  Evidence: %s\n", truncate(f.Evidence, 100))
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
