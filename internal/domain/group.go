package domain

import "time"

type GroupType string

const (
	GroupTypeHDR   GroupType = "hdr"
	GroupTypeImage GroupType = "image"
)

type GroupStatus string

const (
	GroupStatusQueued     GroupStatus = "queued"
	GroupStatusProcessing GroupStatus = "processing"
	GroupStatusCompleted  GroupStatus = "completed"
	GroupStatusFailed     GroupStatus = "failed"
	GroupStatusSkipped    GroupStatus = "skipped"
)

// IsTerminal reports whether the group has reached a per-group final outcome.
func (s GroupStatus) IsTerminal() bool {
	return s == GroupStatusCompleted || s == GroupStatusFailed || s == GroupStatusSkipped
}

// CaptureGroup is the unit of work produced by the grouping engine: either an
// HDR bracket or a singleton image. Groups are replaced wholesale on every
// grouping run, never patched.
type CaptureGroup struct {
	ID                   string      `db:"id"`
	JobID                string      `db:"job_id"`
	Type                 GroupType   `db:"type"`
	Status               GroupStatus `db:"status"`
	Confidence           *float64    `db:"confidence"`
	FileIDs              []string    `db:"-"`
	RepresentativeFileID string      `db:"representative_file_id"`
	OutputFilename       string      `db:"output_filename"`
	OrderIndex           int         `db:"order_index"`
	Attempts             int         `db:"attempts"`
	ResultKey            string      `db:"result_key"`
	ErrorMessage         string      `db:"error_message"`
	CreatedAt            time.Time   `db:"created_at"`
}
