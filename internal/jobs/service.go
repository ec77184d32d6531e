package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mvai/bracket_orchestrator/internal/dispatch"
	"github.com/mvai/bracket_orchestrator/internal/domain"
	"github.com/mvai/bracket_orchestrator/internal/exif"
	"github.com/mvai/bracket_orchestrator/internal/grouping"
)

type JobsRepository interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	JobByID(ctx context.Context, jobID string) (*domain.Job, error)
	UpdateJob(ctx context.Context, job *domain.Job) error
	LockJobGrouping(ctx context.Context, jobID string) error
}

type FilesRepository interface {
	CreateFiles(ctx context.Context, files ...*domain.UploadedFile) error
	FilesByJob(ctx context.Context, jobID string) ([]*domain.UploadedFile, error)
	AssignGroup(ctx context.Context, groupID string, fileIDs []string) error
	ClearGroupAssignments(ctx context.Context, jobID string) error
}

type GroupsRepository interface {
	DeleteGroups(ctx context.Context, jobID string) error
	CreateGroups(ctx context.Context, groups ...*domain.CaptureGroup) error
	GroupsByJob(ctx context.Context, jobID string) ([]*domain.CaptureGroup, error)
	UpdateGroupStatus(ctx context.Context, groupID string, status domain.GroupStatus, resultKey, errorMessage string) error
	SetStatuses(ctx context.Context, jobID string, from []domain.GroupStatus, to domain.GroupStatus) error
	ResetFailedGroups(ctx context.Context, jobID string, maxAttempts int) ([]string, error)
}

type Transactor interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type EventAppender interface {
	Append(ctx context.Context, jobID string, typ domain.EventType, payload []byte) (int64, error)
}

type Ledger interface {
	Reserve(ctx context.Context, userID, jobID string, units int, idempotencyKey string) (int, error)
	Release(ctx context.Context, userID, jobID string, units int, idempotencyKey string) error
}

type Dispatcher interface {
	Dispatch(ctx context.Context, job *domain.Job, manifest dispatch.Manifest) (handle string, reused bool, err error)
	RecordCompletion(duration time.Duration)
	Snapshot() dispatch.Stats
}

type Extractor interface {
	ExtractJobFiles(ctx context.Context, files []*domain.UploadedFile) error
}

// appendAttempts bounds retries of a single event append. The stream is the
// client's progress feed, so a transient store hiccup must not drop an entry.
const appendAttempts = 3

// Config carries the state-machine knobs.
type Config struct {
	MaxAttempts  int    // per-group dispatch attempts before a failure is permanent
	DispatchMode string // processing mode stamped into every manifest
}

// Service owns the job lifecycle: every status transition is driven through
// here, by user actions, grouping results or asynchronous dispatch outcomes.
type Service struct {
	log        *slog.Logger
	cfg        Config
	jobs       JobsRepository
	files      FilesRepository
	groups     GroupsRepository
	tx         Transactor
	events     EventAppender
	ledger     Ledger
	dispatcher Dispatcher
	extractor  Extractor
	engine     *grouping.Engine
	store      ObjectStore
}

func NewService(
	log *slog.Logger,
	cfg Config,
	jobs JobsRepository,
	files FilesRepository,
	groups GroupsRepository,
	tx Transactor,
	events EventAppender,
	ledger Ledger,
	dispatcher Dispatcher,
	extractor Extractor,
	engine *grouping.Engine,
	store ObjectStore,
) *Service {
	return &Service{
		log:        log,
		cfg:        cfg,
		jobs:       jobs,
		files:      files,
		groups:     groups,
		tx:         tx,
		events:     events,
		ledger:     ledger,
		dispatcher: dispatcher,
		extractor:  extractor,
		engine:     engine,
		store:      store,
	}
}

// Create registers a new job in draft with the declared upload count.
func (s *Service) Create(ctx context.Context, userID, workflowID string, declaredFiles int) (*domain.Job, error) {
	if userID == "" {
		return nil, domain.NewValidationError("user_id", "is required")
	}
	if declaredFiles < 0 {
		return nil, domain.NewValidationError("declared_files", "must not be negative")
	}

	job := &domain.Job{
		ID:            uuid.NewString(),
		UserID:        userID,
		WorkflowID:    workflowID,
		Status:        domain.JobStatusDraft,
		DeclaredFiles: declaredFiles,
	}

	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	s.appendEvent(ctx, job.ID, domain.EventJobCreated, map[string]any{
		"user_id":        userID,
		"declared_files": declaredFiles,
	})

	s.log.InfoContext(ctx, "job created",
		slog.String("job_id", job.ID),
		slog.String("user_id", userID),
	)

	return job, nil
}

// FileRegistration is one confirmed upload to attach to a job.
type FileRegistration struct {
	StorageKey string
	Filename   string
}

// RegisterFiles attaches confirmed uploads to the job. Once the declared file
// count is reached the job moves on to analysis automatically.
func (s *Service) RegisterFiles(ctx context.Context, jobID string, regs []FileRegistration) (*domain.Job, error) {
	if len(regs) == 0 {
		return nil, domain.NewValidationError("files", "at least one file is required")
	}

	job, err := s.jobs.JobByID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if job.Status != domain.JobStatusDraft && job.Status != domain.JobStatusUploading {
		return nil, &domain.InvalidTransitionError{From: job.Status, Action: "register_files"}
	}

	files := make([]*domain.UploadedFile, 0, len(regs))
	for _, reg := range regs {
		if reg.StorageKey == "" || reg.Filename == "" {
			return nil, domain.NewValidationError("files", "storage_key and filename are required")
		}
		files = append(files, &domain.UploadedFile{
			ID:         uuid.NewString(),
			JobID:      job.ID,
			StorageKey: reg.StorageKey,
			Filename:   reg.Filename,
			Kind:       exif.DetectKind(reg.Filename),
		})
	}

	if err := s.files.CreateFiles(ctx, files...); err != nil {
		return nil, err
	}

	job.Status = domain.JobStatusUploading
	if err := s.jobs.UpdateJob(ctx, job); err != nil {
		return nil, err
	}

	s.appendEvent(ctx, job.ID, domain.EventFilesRegistered, map[string]any{
		"count": len(files),
	})

	all, err := s.files.FilesByJob(ctx, job.ID)
	if err != nil {
		return nil, err
	}

	if job.DeclaredFiles > 0 && len(all) >= job.DeclaredFiles {
		return s.Analyze(ctx, job.ID)
	}

	return job, nil
}

// appendEvent records a lifecycle event. The transition has already committed
// by the time its event is appended, so the append is retried and a persistent
// failure is logged rather than failing the action that produced it.
func (s *Service) appendEvent(ctx context.Context, jobID string, typ domain.EventType, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.ErrorContext(ctx, "failed to marshal event payload",
			slog.String("job_id", jobID),
			slog.String("type", string(typ)),
			slog.String("err", err.Error()),
		)
		return
	}

	var appendErr error
	for attempt := 0; attempt < appendAttempts; attempt++ {
		if _, appendErr = s.events.Append(ctx, jobID, typ, data); appendErr == nil {
			return
		}
	}

	s.log.ErrorContext(ctx, "failed to append job event",
		slog.String("job_id", jobID),
		slog.String("type", string(typ)),
		slog.String("err", appendErr.Error()),
	)
}
