/*
dto.go - Data Transfer Objects for API responses

PURPOSE:
  JSON shapes returned to clients. The summary row serializes straight from
  report.MonthSummary (its tags are the API contract); everything else is
  declared here so internal types can move without breaking consumers.

SEE ALSO:
  - handlers.go: producers of these types
*/
package api

// SnapshotListDTO lists the currently generated snapshot filenames.
type SnapshotListDTO struct {
	Files []string `json:"files"`
	Count int      `json:"count"`
}

// RebuildResponseDTO reports a snapshot regeneration.
type RebuildResponseDTO struct {
	Written int      `json:"written"`
	Files   []string `json:"files"`
}

// SyncRunDTO is one recorded sync pass.
type SyncRunDTO struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	StartDate   string `json:"start_date"`
	Status      string `json:"status"`
	Documents   int64  `json:"documents"`
	Rows        int64  `json:"rows"`
	Error       string `json:"error,omitempty"`
	StartedAt   string `json:"started_at"`
	CompletedAt string `json:"completed_at,omitempty"`
}

// SyncTriggerDTO acknowledges a manually triggered sync.
type SyncTriggerDTO struct {
	Kind      string `json:"kind"`
	StartDate string `json:"start_date"`
	Status    string `json:"status"`
}

// HealthDTO is the liveness payload including the last run per data kind.
type HealthDTO struct {
	Status   string       `json:"status"`
	LastRuns []SyncRunDTO `json:"last_runs"`
}

// ErrorDTO is the uniform error body.
type ErrorDTO struct {
	Error string `json:"error"`
}
