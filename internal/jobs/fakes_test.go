package jobs_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mvai/bracket_orchestrator/internal/dispatch"
	"github.com/mvai/bracket_orchestrator/internal/domain"
)

// fakeRepo is an in-memory stand-in for the job, file, group and event
// repositories plus the transaction manager.
type fakeRepo struct {
	mu             sync.Mutex
	jobs           map[string]domain.Job
	files          []*domain.UploadedFile
	groups         []*domain.CaptureGroup
	events         []domain.EventType
	appendFailures int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{jobs: make(map[string]domain.Job)}
}

func (r *fakeRepo) CreateJob(ctx context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = *job
	return nil
}

func (r *fakeRepo) JobByID(ctx context.Context, jobID string) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &job, nil
}

func (r *fakeRepo) UpdateJob(ctx context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.ID]; !ok {
		return domain.ErrNotFound
	}
	r.jobs[job.ID] = *job
	return nil
}

func (r *fakeRepo) LockJobGrouping(ctx context.Context, jobID string) error {
	return nil
}

func (r *fakeRepo) CreateFiles(ctx context.Context, files ...*domain.UploadedFile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files = append(r.files, files...)
	return nil
}

func (r *fakeRepo) FilesByJob(ctx context.Context, jobID string) ([]*domain.UploadedFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.UploadedFile
	for _, f := range r.files {
		if f.JobID == jobID {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out, nil
}

func (r *fakeRepo) AssignGroup(ctx context.Context, groupID string, fileIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, fileID := range fileIDs {
		for _, f := range r.files {
			if f.ID == fileID {
				id := groupID
				f.GroupID = &id
				f.OrderIndex = i
			}
		}
	}
	return nil
}

func (r *fakeRepo) ClearGroupAssignments(ctx context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.files {
		if f.JobID == jobID {
			f.GroupID = nil
			f.OrderIndex = 0
		}
	}
	return nil
}

func (r *fakeRepo) DeleteGroups(ctx context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.groups[:0]
	for _, g := range r.groups {
		if g.JobID != jobID {
			kept = append(kept, g)
		}
	}
	r.groups = kept
	return nil
}

func (r *fakeRepo) CreateGroups(ctx context.Context, groups ...*domain.CaptureGroup) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups = append(r.groups, groups...)
	return nil
}

func (r *fakeRepo) GroupsByJob(ctx context.Context, jobID string) ([]*domain.CaptureGroup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.CaptureGroup
	for _, g := range r.groups {
		if g.JobID == jobID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderIndex < out[j].OrderIndex })
	return out, nil
}

func (r *fakeRepo) UpdateGroupStatus(ctx context.Context, groupID string, status domain.GroupStatus, resultKey, errorMessage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, g := range r.groups {
		if g.ID == groupID {
			g.Status = status
			g.ResultKey = resultKey
			g.ErrorMessage = errorMessage
			return nil
		}
	}
	return domain.ErrNotFound
}

func (r *fakeRepo) SetStatuses(ctx context.Context, jobID string, from []domain.GroupStatus, to domain.GroupStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, g := range r.groups {
		if g.JobID != jobID {
			continue
		}
		for _, s := range from {
			if g.Status == s {
				g.Status = to
				break
			}
		}
	}
	return nil
}

func (r *fakeRepo) ResetFailedGroups(ctx context.Context, jobID string, maxAttempts int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for _, g := range r.groups {
		if g.JobID == jobID && g.Status == domain.GroupStatusFailed && g.Attempts < maxAttempts {
			g.Status = domain.GroupStatusQueued
			g.ErrorMessage = ""
			g.Attempts++
			ids = append(ids, g.ID)
		}
	}
	return ids, nil
}

func (r *fakeRepo) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (r *fakeRepo) Append(ctx context.Context, jobID string, typ domain.EventType, payload []byte) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.appendFailures > 0 {
		r.appendFailures--
		return 0, errors.New("event store unavailable")
	}
	r.events = append(r.events, typ)
	return int64(len(r.events)), nil
}

func (r *fakeRepo) job(id string) domain.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jobs[id]
}

func (r *fakeRepo) group(id string) *domain.CaptureGroup {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, g := range r.groups {
		if g.ID == id {
			return g
		}
	}
	return nil
}

func (r *fakeRepo) eventTypes() []domain.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventType, len(r.events))
	copy(out, r.events)
	return out
}

type ledgerCall struct {
	userID string
	jobID  string
	units  int
	key    string
}

type fakeLedger struct {
	mu         sync.Mutex
	reserves   []ledgerCall
	releases   []ledgerCall
	reserveErr error
}

func (l *fakeLedger) Reserve(ctx context.Context, userID, jobID string, units int, idempotencyKey string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.reserveErr != nil {
		return 0, l.reserveErr
	}
	l.reserves = append(l.reserves, ledgerCall{userID, jobID, units, idempotencyKey})
	return 100, nil
}

func (l *fakeLedger) Release(ctx context.Context, userID, jobID string, units int, idempotencyKey string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.releases = append(l.releases, ledgerCall{userID, jobID, units, idempotencyKey})
	return nil
}

type fakeDispatcher struct {
	mu          sync.Mutex
	handle      string
	err         error
	calls       int
	completions []time.Duration
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, job *domain.Job, manifest dispatch.Manifest) (string, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return "", false, d.err
	}
	// Mirrors the coordinator: a live execution of the same manifest is
	// handed back instead of dispatched again.
	if job.ManifestHash == manifest.Hash() && job.ExecutionHandle != "" && job.Status.IsDispatchInProgress() {
		return job.ExecutionHandle, true, nil
	}
	d.calls++
	return d.handle, false, nil
}

func (d *fakeDispatcher) RecordCompletion(duration time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.completions = append(d.completions, duration)
}

func (d *fakeDispatcher) Snapshot() dispatch.Stats {
	return dispatch.Stats{}
}

type fakeExtractor struct {
	fn func(files []*domain.UploadedFile)
}

func (e *fakeExtractor) ExtractJobFiles(ctx context.Context, files []*domain.UploadedFile) error {
	if e.fn != nil {
		e.fn(files)
	}
	return nil
}

type fakeStore struct {
	mu              sync.Mutex
	removedPrefixes []string
	completed       []string
}

func (s *fakeStore) PresignUpload(ctx context.Context, key string) (string, error) {
	return "https://storage.test/" + key, nil
}

func (s *fakeStore) PresignDownload(ctx context.Context, key string) (string, error) {
	return "https://storage.test/" + key + "?download", nil
}

func (s *fakeStore) InitiateMultipart(ctx context.Context, key string, parts int) (string, []string, error) {
	urls := make([]string, 0, parts)
	for i := 1; i <= parts; i++ {
		urls = append(urls, fmt.Sprintf("https://storage.test/%s?partNumber=%d", key, i))
	}
	return "upload-" + key, urls, nil
}

func (s *fakeStore) CompleteMultipart(ctx context.Context, key, uploadID string, etags []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, key)
	return nil
}

func (s *fakeStore) RemovePrefix(ctx context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removedPrefixes = append(s.removedPrefixes, prefix)
	return nil
}
