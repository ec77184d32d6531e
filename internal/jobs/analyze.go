package jobs

import (
	"fmt"
	"log/slog"

	"context"

	"github.com/google/uuid"

	"github.com/mvai/bracket_orchestrator/internal/domain"
)

// Analyze runs metadata extraction and bracket grouping for the job, then
// replaces its capture groups wholesale. Only one grouping pass per job may
// commit at a time; the per-job lock makes concurrent re-analyses serialize,
// last committed wins.
func (s *Service) Analyze(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := s.jobs.JobByID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	switch job.Status {
	case domain.JobStatusUploading, domain.JobStatusGrouping,
		domain.JobStatusAnalyzing, domain.JobStatusInputResolved:
	default:
		return nil, &domain.InvalidTransitionError{From: job.Status, Action: "analyze"}
	}

	files, err := s.files.FilesByJob(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, domain.NewValidationError("files", "job has no uploaded files")
	}

	job.Status = domain.JobStatusAnalyzing
	if err := s.jobs.UpdateJob(ctx, job); err != nil {
		return nil, err
	}

	if err := s.extractor.ExtractJobFiles(ctx, files); err != nil {
		return nil, fmt.Errorf("failed to normalize metadata: %w", err)
	}

	specs := s.engine.Run(files)

	err = s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.jobs.LockJobGrouping(ctx, job.ID); err != nil {
			return err
		}

		if err := s.groups.DeleteGroups(ctx, job.ID); err != nil {
			return err
		}
		if err := s.files.ClearGroupAssignments(ctx, job.ID); err != nil {
			return err
		}

		groups := make([]*domain.CaptureGroup, 0, len(specs))
		for i, spec := range specs {
			group := &domain.CaptureGroup{
				ID:                   uuid.NewString(),
				JobID:                job.ID,
				Type:                 spec.Type,
				Status:               domain.GroupStatusQueued,
				Confidence:           spec.Confidence,
				RepresentativeFileID: spec.RepresentativeFileID,
				OutputFilename:       spec.OutputFilename,
				OrderIndex:           i,
			}
			groups = append(groups, group)

			fileIDs := make([]string, len(spec.Files))
			for j, f := range spec.Files {
				fileIDs[j] = f.ID
			}
			group.FileIDs = fileIDs
		}

		if err := s.groups.CreateGroups(ctx, groups...); err != nil {
			return err
		}

		for _, group := range groups {
			if err := s.files.AssignGroup(ctx, group.ID, group.FileIDs); err != nil {
				return err
			}
		}

		job.Status = domain.JobStatusInputResolved
		job.EstimatedUnits = len(groups)

		return s.jobs.UpdateJob(ctx, job)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to commit grouping: %w", err)
	}

	s.appendEvent(ctx, job.ID, domain.EventGroupingDone, map[string]any{
		"groups": len(specs),
	})

	s.log.InfoContext(ctx, "grouping committed",
		slog.String("job_id", job.ID),
		slog.Int("groups", len(specs)),
		slog.Int("files", len(files)),
	)

	return job, nil
}
