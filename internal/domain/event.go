package domain

import "time"

type EventType string

const (
	EventJobCreated      EventType = "job_created"
	EventFilesRegistered EventType = "files_registered"
	EventGroupingDone    EventType = "grouping_done"
	EventCreditsReserved EventType = "credits_reserved"
	EventCreditsReleased EventType = "credits_released"
	EventDispatched      EventType = "dispatched"
	EventGroupCompleted  EventType = "group_completed"
	EventGroupFailed     EventType = "group_failed"
	EventJobStatus       EventType = "job_status"
)

// JobEvent is one immutable record of the per-job event log. Sequence numbers
// are strictly increasing per job with no gaps once persisted.
type JobEvent struct {
	JobID     string    `db:"job_id"`
	Sequence  int64     `db:"sequence"`
	Type      EventType `db:"type"`
	Payload   []byte    `db:"payload"`
	CreatedAt time.Time `db:"created_at"`
}
