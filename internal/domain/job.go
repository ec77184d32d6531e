package domain

import "time"

type JobStatus string

const (
	JobStatusDraft           JobStatus = "draft"
	JobStatusUploading       JobStatus = "uploading"
	JobStatusGrouping        JobStatus = "grouping"
	JobStatusAnalyzing       JobStatus = "analyzing"
	JobStatusInputResolved   JobStatus = "input_resolved"
	JobStatusReserved        JobStatus = "reserved"
	JobStatusHDRProcessing   JobStatus = "hdr_processing"
	JobStatusWorkflowRunning JobStatus = "workflow_running"
	JobStatusAIProcessing    JobStatus = "ai_processing"
	JobStatusPostprocess     JobStatus = "postprocess"
	JobStatusPackaging       JobStatus = "packaging"
	JobStatusCompleted       JobStatus = "completed"
	JobStatusPartial         JobStatus = "partial"
	JobStatusFailed          JobStatus = "failed"
	JobStatusCanceled        JobStatus = "canceled"
)

// IsTerminal reports whether no further transitions are allowed
// except explicit delete/cleanup.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusPartial, JobStatusFailed, JobStatusCanceled:
		return true
	}
	return false
}

// IsDispatchInProgress reports whether a recorded execution handle for the
// current manifest is still authoritative.
func (s JobStatus) IsDispatchInProgress() bool {
	switch s {
	case JobStatusReserved, JobStatusHDRProcessing, JobStatusWorkflowRunning,
		JobStatusAIProcessing, JobStatusPostprocess, JobStatusPackaging:
		return true
	}
	return false
}

// Job is the aggregate root tracking one upload-to-delivery request.
type Job struct {
	ID              string     `db:"id"`
	UserID          string     `db:"user_id"`
	WorkflowID      string     `db:"workflow_id"`
	Status          JobStatus  `db:"status"`
	DeclaredFiles   int        `db:"declared_files"`
	EstimatedUnits  int        `db:"estimated_units"`
	ReservedUnits   int        `db:"reserved_units"`
	SettledUnits    int        `db:"settled_units"`
	ManifestHash    string     `db:"manifest_hash"`
	ExecutionHandle string     `db:"execution_handle"`
	ErrorMessage    string     `db:"error_message"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
	CanceledAt      *time.Time `db:"canceled_at"`
}
