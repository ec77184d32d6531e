package jobs

import (
	"context"
	"time"

	"github.com/mvai/bracket_orchestrator/internal/domain"
)

// GroupDetail is the per-group view of a status snapshot.
type GroupDetail struct {
	ID             string             `json:"id"`
	Type           domain.GroupType   `json:"type"`
	Status         domain.GroupStatus `json:"status"`
	Confidence     *float64           `json:"confidence"`
	OutputFilename string             `json:"output_filename"`
	ResultKey      string             `json:"result_key,omitempty"`
	ErrorMessage   string             `json:"error_message,omitempty"`
	Attempts       int                `json:"attempts"`
}

// StatusView is the point-in-time aggregate returned to clients.
type StatusView struct {
	JobID           string           `json:"job_id"`
	Status          domain.JobStatus `json:"status"`
	EstimatedUnits  int              `json:"estimated_units"`
	ReservedUnits   int              `json:"reserved_units"`
	SettledUnits    int              `json:"settled_units"`
	TotalGroups     int              `json:"total_groups"`
	CompletedGroups int              `json:"completed_groups"`
	FailedGroups    int              `json:"failed_groups"`
	SkippedGroups   int              `json:"skipped_groups"`
	ProgressPercent int              `json:"progress_percent"`
	DispatchETA     time.Duration    `json:"dispatch_eta"`
	Groups          []GroupDetail    `json:"groups"`
}

// Status aggregates the job, its groups and the dispatch backlog into one
// snapshot. Progress is the share of active groups that reached a terminal
// per-group status.
func (s *Service) Status(ctx context.Context, jobID string) (*StatusView, error) {
	job, err := s.jobs.JobByID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	groups, err := s.groups.GroupsByJob(ctx, job.ID)
	if err != nil {
		return nil, err
	}

	view := &StatusView{
		JobID:          job.ID,
		Status:         job.Status,
		EstimatedUnits: job.EstimatedUnits,
		ReservedUnits:  job.ReservedUnits,
		SettledUnits:   job.SettledUnits,
		TotalGroups:    len(groups),
		DispatchETA:    s.dispatcher.Snapshot().ETA,
		Groups:         make([]GroupDetail, 0, len(groups)),
	}

	active, done := 0, 0
	for _, g := range groups {
		switch g.Status {
		case domain.GroupStatusCompleted:
			view.CompletedGroups++
		case domain.GroupStatusFailed:
			view.FailedGroups++
		case domain.GroupStatusSkipped:
			view.SkippedGroups++
		}

		if g.Status != domain.GroupStatusSkipped {
			active++
			if g.Status.IsTerminal() {
				done++
			}
		}

		view.Groups = append(view.Groups, GroupDetail{
			ID:             g.ID,
			Type:           g.Type,
			Status:         g.Status,
			Confidence:     g.Confidence,
			OutputFilename: g.OutputFilename,
			ResultKey:      g.ResultKey,
			ErrorMessage:   g.ErrorMessage,
			Attempts:       g.Attempts,
		})
	}

	if active > 0 {
		view.ProgressPercent = done * 100 / active
	}

	return view, nil
}
