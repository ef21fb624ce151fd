package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ppiankov/proofpack/internal/model"
)

// WriteReport writes the run summary as indented JSON
func WriteReport(summary *model.RunSummary, path string) error {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	tmp := path + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// RenderSummary prints a human readable summary of the run
func RenderSummary(w io.Writer, summary *model.RunSummary) {
	succeeded, failed, skipped := summary.Totals()
	statuses := summary.StatusCounts()

	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(w, "  Run Complete  %s\n", summary.RunID)
	fmt.Fprintf(w, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(w, "\n")

	for _, r := range summary.Results {
		switch {
		case r.Skipped:
			fmt.Fprintf(w, "↷ %s  already uploaded\n", r.Entity.ID)
		case r.Succeeded() && r.Uploaded:
			fmt.Fprintf(w, "✓ %s  %s  %s\n", r.Entity.ID, artifactLine(r.Artifacts), r.RemoteURL)
		case r.Succeeded():
			fmt.Fprintf(w, "✓ %s  %s  (kept locally)\n", r.Entity.ID, artifactLine(r.Artifacts))
		default:
			fmt.Fprintf(w, "✗ %s  %s  %s\n", r.Entity.ID, artifactLine(r.Artifacts), r.Error)
		}
	}

	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "  Entities:   %d\n", len(summary.Results))
	fmt.Fprintf(w, "  Succeeded:  %d\n", succeeded)
	fmt.Fprintf(w, "  Failed:     %d\n", failed)
	fmt.Fprintf(w, "  Skipped:    %d\n", skipped)
	fmt.Fprintf(w, "  Evidence:   %d captured, %d degraded, %d missing\n",
		statuses[model.StatusCaptured], statuses[model.StatusDegraded], statuses[model.StatusMissing])
	fmt.Fprintf(w, "  Output:     %s\n", summary.OutputDir)
	fmt.Fprintf(w, "\n")
}

// artifactLine renders one status letter per kind, in capture order
func artifactLine(artifacts []model.EvidenceArtifact) string {
	if len(artifacts) == 0 {
		return "------"
	}

	byKind := make(map[model.EvidenceKind]model.ArtifactStatus, len(artifacts))
	for _, a := range artifacts {
		byKind[a.Kind] = a.Status
	}

	var b strings.Builder
	for _, kind := range model.CaptureOrder {
		switch byKind[kind] {
		case model.StatusCaptured:
			b.WriteByte('C')
		case model.StatusDegraded:
			b.WriteByte('D')
		case model.StatusMissing:
			b.WriteByte('M')
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}
