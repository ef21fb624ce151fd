package model

import "time"

// RunSummary is the complete record of one pipeline run
type RunSummary struct {
	RunID      string         `json:"run_id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	OutputDir  string         `json:"output_dir"`
	Sessions   int            `json:"sessions"`
	Results    []EntityResult `json:"results"`
}

// EntityResult is the outcome for one entity
type EntityResult struct {
	Entity    Entity             `json:"entity"`
	Artifacts []EvidenceArtifact `json:"artifacts"`
	Steps     []StepRecord       `json:"steps,omitempty"`
	Packaged  bool               `json:"packaged"`
	Uploaded  bool               `json:"uploaded"`
	RemoteURL string             `json:"remote_url,omitempty"`
	Skipped   bool               `json:"skipped,omitempty"` // Already uploaded by an earlier run
	Error     string             `json:"error,omitempty"`
	Duration  time.Duration      `json:"duration_ns"`
}

// Succeeded reports whether the entity finished without error
func (r EntityResult) Succeeded() bool {
	return r.Error == ""
}

// Totals counts successes and failures
func (s *RunSummary) Totals() (succeeded, failed, skipped int) {
	for _, r := range s.Results {
		switch {
		case r.Skipped:
			skipped++
		case r.Succeeded():
			succeeded++
		default:
			failed++
		}
	}
	return succeeded, failed, skipped
}

// StatusCounts tallies artifact statuses across the run
func (s *RunSummary) StatusCounts() map[ArtifactStatus]int {
	counts := make(map[ArtifactStatus]int, 3)
	for _, r := range s.Results {
		for _, a := range r.Artifacts {
			counts[a.Status]++
		}
	}
	return counts
}
