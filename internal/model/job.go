package model

import "time"

// StepRecord is the outcome of one state of the capture state machine
type StepRecord struct {
	State    string         `json:"state"`
	Kind     EvidenceKind   `json:"kind,omitempty"`
	Status   ArtifactStatus `json:"status,omitempty"`
	Error    string         `json:"error,omitempty"`
	Duration time.Duration  `json:"duration_ns"`
}

// CaptureJob is the per-entity run context. It is owned by a single
// orchestration call; artifacts and steps are append-only.
type CaptureJob struct {
	Entity        Entity
	Dir           string
	Artifacts     []EvidenceArtifact
	Steps         []StepRecord
	NavigationErr error

	Packaged  bool
	Uploaded  bool
	RemoteURL string
}

// NewCaptureJob creates a job writing into dir
func NewCaptureJob(entity Entity, dir string) *CaptureJob {
	return &CaptureJob{
		Entity: entity,
		Dir:    dir,
	}
}

// Record appends an artifact
func (j *CaptureJob) Record(a EvidenceArtifact) {
	j.Artifacts = append(j.Artifacts, a)
}

// RecordStep appends a state outcome
func (j *CaptureJob) RecordStep(s StepRecord) {
	j.Steps = append(j.Steps, s)
}

// Artifact returns the artifact recorded for kind
func (j *CaptureJob) Artifact(kind EvidenceKind) (EvidenceArtifact, bool) {
	for _, a := range j.Artifacts {
		if a.Kind == kind {
			return a, true
		}
	}
	return EvidenceArtifact{}, false
}

// Counts tallies artifacts by status
func (j *CaptureJob) Counts() map[ArtifactStatus]int {
	counts := make(map[ArtifactStatus]int, 3)
	for _, a := range j.Artifacts {
		counts[a.Status]++
	}
	return counts
}

// HasFiles reports whether at least one artifact produced a file
func (j *CaptureJob) HasFiles() bool {
	for _, a := range j.Artifacts {
		if a.FilePath != "" {
			return true
		}
	}
	return false
}

// Bundle is the archive of one entity directory, transient between the
// bundler and the remote mover
type Bundle struct {
	EntityID string
	Dir      string // Source directory the archive was built from
	Path     string // Local archive path
	Key      string // Remote object key
	Size     int64
}
