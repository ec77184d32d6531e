package jobs_test

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvai/bracket_orchestrator/internal/domain"
	"github.com/mvai/bracket_orchestrator/internal/grouping"
	"github.com/mvai/bracket_orchestrator/internal/jobs"
)

type testEnv struct {
	repo       *fakeRepo
	ledger     *fakeLedger
	dispatcher *fakeDispatcher
	extractor  *fakeExtractor
	store      *fakeStore
	service    *jobs.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		repo:       newFakeRepo(),
		ledger:     &fakeLedger{},
		dispatcher: &fakeDispatcher{handle: "exec-1"},
		extractor:  &fakeExtractor{},
		store:      &fakeStore{},
	}

	env.service = jobs.NewService(
		slog.New(slog.DiscardHandler),
		jobs.Config{MaxAttempts: 3, DispatchMode: "hdr_merge"},
		env.repo,
		env.repo,
		env.repo,
		env.repo,
		env.repo,
		env.ledger,
		env.dispatcher,
		env.extractor,
		grouping.NewEngine(grouping.DefaultConfig()),
		env.store,
	)

	return env
}

// seedResolved puts a job in input_resolved with two queued groups: g1 owning
// three bracket files and g2 owning one.
func (env *testEnv) seedResolved(t *testing.T) {
	t.Helper()

	ctx := context.Background()
	require.NoError(t, env.repo.CreateJob(ctx, &domain.Job{
		ID:             "job-1",
		UserID:         "user-1",
		Status:         domain.JobStatusInputResolved,
		EstimatedUnits: 2,
	}))

	require.NoError(t, env.repo.CreateGroups(ctx,
		&domain.CaptureGroup{ID: "g1", JobID: "job-1", Type: domain.GroupTypeHDR, Status: domain.GroupStatusQueued, OrderIndex: 0},
		&domain.CaptureGroup{ID: "g2", JobID: "job-1", Type: domain.GroupTypeImage, Status: domain.GroupStatusQueued, OrderIndex: 1},
	))

	g1, g2 := "g1", "g2"
	require.NoError(t, env.repo.CreateFiles(ctx,
		&domain.UploadedFile{ID: "f1", JobID: "job-1", Filename: "a1.arw", StorageKey: "in/a1.arw", GroupID: &g1},
		&domain.UploadedFile{ID: "f2", JobID: "job-1", Filename: "a2.arw", StorageKey: "in/a2.arw", GroupID: &g1},
		&domain.UploadedFile{ID: "f3", JobID: "job-1", Filename: "a3.arw", StorageKey: "in/a3.arw", GroupID: &g1},
		&domain.UploadedFile{ID: "f4", JobID: "job-1", Filename: "b1.jpg", StorageKey: "in/b1.jpg", GroupID: &g2},
	))
}

func TestService_Create(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	job, err := env.service.Create(ctx, "user-1", "wf-1", 4)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusDraft, job.Status)
	assert.Equal(t, 4, job.DeclaredFiles)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, []domain.EventType{domain.EventJobCreated}, env.repo.eventTypes())

	_, err = env.service.Create(ctx, "", "", 1)
	var validationErr *domain.ValidationError
	require.ErrorAs(t, err, &validationErr)

	_, err = env.service.Create(ctx, "user-1", "", -1)
	require.ErrorAs(t, err, &validationErr)
}

func TestService_Create_RetriesEventAppend(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.repo.appendFailures = 2

	_, err := env.service.Create(context.Background(), "user-1", "", 1)
	require.NoError(t, err)

	assert.Equal(t, []domain.EventType{domain.EventJobCreated}, env.repo.eventTypes(),
		"append must survive transient event store failures")
}

func TestService_RegisterFiles_AutoAnalyzesAtDeclaredCount(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	base := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	env.extractor.fn = func(files []*domain.UploadedFile) {
		for i, f := range files {
			at := base.Add(time.Duration(i) * time.Second)
			ev := float64(i) - 1
			f.CaptureTime = &at
			f.EV = &ev
			f.MetaExtracted = true
		}
	}

	job, err := env.service.Create(ctx, "user-1", "", 3)
	require.NoError(t, err)

	job, err = env.service.RegisterFiles(ctx, job.ID, []jobs.FileRegistration{
		{StorageKey: "in/a1.arw", Filename: "a1.arw"},
		{StorageKey: "in/a2.arw", Filename: "a2.arw"},
		{StorageKey: "in/a3.arw", Filename: "a3.arw"},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.JobStatusInputResolved, job.Status)
	assert.Equal(t, 1, job.EstimatedUnits)

	groups, err := env.repo.GroupsByJob(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, domain.GroupTypeHDR, groups[0].Type)
	assert.Equal(t, domain.GroupStatusQueued, groups[0].Status)

	files, err := env.repo.FilesByJob(ctx, job.ID)
	require.NoError(t, err)
	for _, f := range files {
		require.NotNil(t, f.GroupID)
		assert.Equal(t, groups[0].ID, *f.GroupID)
	}
}

func TestService_RegisterFiles_RejectsTerminalJob(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.repo.CreateJob(ctx, &domain.Job{ID: "job-1", UserID: "user-1", Status: domain.JobStatusCompleted}))

	_, err := env.service.RegisterFiles(ctx, "job-1", []jobs.FileRegistration{{StorageKey: "k", Filename: "f.jpg"}})

	var transitionErr *domain.InvalidTransitionError
	require.ErrorAs(t, err, &transitionErr)
}

func TestService_Start_ReservesAndDispatches(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.seedResolved(t)
	ctx := context.Background()

	job, err := env.service.Start(ctx, "job-1", nil)
	require.NoError(t, err)

	assert.Equal(t, domain.JobStatusHDRProcessing, job.Status)
	assert.Equal(t, 2, job.ReservedUnits)
	assert.Equal(t, "exec-1", job.ExecutionHandle)
	assert.NotEmpty(t, job.ManifestHash)

	require.Len(t, env.ledger.reserves, 1)
	assert.Equal(t, ledgerCall{"user-1", "job-1", 2, "reserve:job-1"}, env.ledger.reserves[0])

	assert.Equal(t, domain.GroupStatusProcessing, env.repo.group("g1").Status)
	assert.Equal(t, domain.GroupStatusProcessing, env.repo.group("g2").Status)

	assert.Contains(t, env.repo.eventTypes(), domain.EventCreditsReserved)
	assert.Contains(t, env.repo.eventTypes(), domain.EventDispatched)
}

func TestService_Start_RepeatedUnchangedIsNoop(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.seedResolved(t)
	ctx := context.Background()

	first, err := env.service.Start(ctx, "job-1", nil)
	require.NoError(t, err)

	second, err := env.service.Start(ctx, "job-1", nil)
	require.NoError(t, err)

	assert.Equal(t, first.ExecutionHandle, second.ExecutionHandle)
	assert.Equal(t, 1, env.dispatcher.calls, "repeat with unchanged selection must not dispatch again")
	assert.Len(t, env.ledger.reserves, 1, "repeat must not reserve again")
}

func TestService_Start_UnknownSkipGroup(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.seedResolved(t)

	_, err := env.service.Start(context.Background(), "job-1", []string{"nope"})

	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestService_Start_AllGroupsSkipped(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.seedResolved(t)

	_, err := env.service.Start(context.Background(), "job-1", []string{"g1", "g2"})

	var validationErr *domain.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Empty(t, env.ledger.reserves)
}

func TestService_Start_SkippedGroupsExcludedFromReservation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.seedResolved(t)
	ctx := context.Background()

	job, err := env.service.Start(ctx, "job-1", []string{"g2"})
	require.NoError(t, err)

	assert.Equal(t, 1, job.ReservedUnits)
	assert.Equal(t, domain.GroupStatusSkipped, env.repo.group("g2").Status)
	assert.Equal(t, domain.GroupStatusProcessing, env.repo.group("g1").Status)
}

func TestService_Start_ReserveFailureLeavesGroupsUntouched(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.seedResolved(t)
	env.ledger.reserveErr = errors.New("ledger unavailable")

	_, err := env.service.Start(context.Background(), "job-1", []string{"g2"})
	require.Error(t, err)

	assert.Equal(t, domain.GroupStatusQueued, env.repo.group("g1").Status)
	assert.Equal(t, domain.GroupStatusQueued, env.repo.group("g2").Status,
		"skip marks must not land before the reservation holds")

	job := env.repo.job("job-1")
	assert.Equal(t, domain.JobStatusInputResolved, job.Status)
	assert.Zero(t, job.ReservedUnits)
}

func TestService_Start_ResumesSkippedGroups(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.seedResolved(t)
	env.repo.group("g2").Status = domain.GroupStatusSkipped
	ctx := context.Background()

	job, err := env.service.Start(ctx, "job-1", nil)
	require.NoError(t, err)

	assert.Equal(t, 2, job.ReservedUnits, "resumed group must be reserved for")
	assert.Equal(t, domain.GroupStatusProcessing, env.repo.group("g1").Status)
	assert.Equal(t, domain.GroupStatusProcessing, env.repo.group("g2").Status,
		"a group absent from the new skip list is back in play")
}

func TestService_Start_DispatchFailureReverts(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.seedResolved(t)
	env.dispatcher.err = domain.ErrDispatchFailure
	ctx := context.Background()

	_, err := env.service.Start(ctx, "job-1", nil)
	require.Error(t, err)

	job := env.repo.job("job-1")
	assert.Equal(t, domain.JobStatusInputResolved, job.Status)
	assert.Zero(t, job.ReservedUnits)
	assert.Empty(t, job.ExecutionHandle)

	require.Len(t, env.ledger.releases, 1)
	assert.Equal(t, "release:job-1:dispatch", env.ledger.releases[0].key)
	assert.Equal(t, 2, env.ledger.releases[0].units)
}

func TestService_Cancel_ReleasesExactlyOnce(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.seedResolved(t)
	ctx := context.Background()

	_, err := env.service.Start(ctx, "job-1", nil)
	require.NoError(t, err)

	job, err := env.service.Cancel(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCanceled, job.Status)
	require.NotNil(t, job.CanceledAt)
	assert.Equal(t, domain.GroupStatusFailed, env.repo.group("g1").Status)

	require.Len(t, env.ledger.releases, 1)
	assert.Equal(t, "release:job-1:cancel", env.ledger.releases[0].key)

	assert.Equal(t, []string{"user/user-1/jobs/job-1/"}, env.store.removedPrefixes)

	// Canceling a canceled job is a no-op.
	again, err := env.service.Cancel(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCanceled, again.Status)
	assert.Len(t, env.ledger.releases, 1)
	assert.Len(t, env.store.removedPrefixes, 1)
}

func TestService_HandleCallback_AllCompleted(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.seedResolved(t)
	ctx := context.Background()

	_, err := env.service.Start(ctx, "job-1", nil)
	require.NoError(t, err)
	started := env.repo.job("job-1")

	err = env.service.HandleCallback(ctx, jobs.Callback{
		JobID:           "job-1",
		ManifestHash:    started.ManifestHash,
		ExecutionHandle: started.ExecutionHandle,
		Duration:        5 * time.Second,
		Groups: []jobs.GroupResult{
			{GroupID: "g1", ResultKey: "out/a1.jpg"},
			{GroupID: "g2", ResultKey: "out/b1.jpg"},
		},
	})
	require.NoError(t, err)

	job := env.repo.job("job-1")
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.Equal(t, 2, job.SettledUnits)
	assert.Zero(t, job.ReservedUnits)
	assert.Empty(t, env.ledger.releases, "full consumption leaves nothing to release")
	assert.Equal(t, []time.Duration{5 * time.Second}, env.dispatcher.completions)
	assert.Equal(t, "out/a1.jpg", env.repo.group("g1").ResultKey)
}

func TestService_HandleCallback_PartialReleasesLeftover(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.seedResolved(t)
	ctx := context.Background()

	_, err := env.service.Start(ctx, "job-1", nil)
	require.NoError(t, err)
	started := env.repo.job("job-1")

	err = env.service.HandleCallback(ctx, jobs.Callback{
		JobID:        "job-1",
		ManifestHash: started.ManifestHash,
		Groups: []jobs.GroupResult{
			{GroupID: "g1", ResultKey: "out/a1.jpg"},
			{GroupID: "g2", Error: "merge diverged"},
		},
	})
	require.NoError(t, err)

	job := env.repo.job("job-1")
	assert.Equal(t, domain.JobStatusPartial, job.Status)
	assert.Equal(t, 1, job.SettledUnits)
	assert.Zero(t, job.ReservedUnits)

	require.Len(t, env.ledger.releases, 1)
	assert.Equal(t, "release:job-1:settle:0", env.ledger.releases[0].key)
	assert.Equal(t, 1, env.ledger.releases[0].units)

	assert.Equal(t, "merge diverged", env.repo.group("g2").ErrorMessage)
}

func TestService_HandleCallback_StaleIsDiscarded(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.seedResolved(t)
	ctx := context.Background()

	_, err := env.service.Start(ctx, "job-1", nil)
	require.NoError(t, err)

	err = env.service.HandleCallback(ctx, jobs.Callback{
		JobID:           "job-1",
		ManifestHash:    "stale-hash",
		ExecutionHandle: "stale-handle",
		Groups:          []jobs.GroupResult{{GroupID: "g1", Error: "late failure"}},
	})
	require.ErrorIs(t, err, domain.ErrStaleCallback)

	assert.Equal(t, domain.GroupStatusProcessing, env.repo.group("g1").Status, "stale callbacks must not touch group state")
}

func TestService_HandleCallback_SupersededExecutionSameManifest(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.seedResolved(t)
	ctx := context.Background()

	_, err := env.service.Start(ctx, "job-1", nil)
	require.NoError(t, err)
	started := env.repo.job("job-1")

	// An older execution of the identical manifest reports in; its results
	// are the same results.
	err = env.service.HandleCallback(ctx, jobs.Callback{
		JobID:           "job-1",
		ManifestHash:    started.ManifestHash,
		ExecutionHandle: "exec-superseded",
		Groups: []jobs.GroupResult{
			{GroupID: "g1", ResultKey: "out/a1.jpg"},
			{GroupID: "g2", ResultKey: "out/b1.jpg"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.JobStatusCompleted, env.repo.job("job-1").Status)
}

func TestService_RetryMissing_RequeuesFailedGroups(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.seedResolved(t)
	ctx := context.Background()

	_, err := env.service.Start(ctx, "job-1", nil)
	require.NoError(t, err)
	started := env.repo.job("job-1")

	err = env.service.HandleCallback(ctx, jobs.Callback{
		JobID:        "job-1",
		ManifestHash: started.ManifestHash,
		Groups: []jobs.GroupResult{
			{GroupID: "g1", ResultKey: "out/a1.jpg"},
			{GroupID: "g2", Error: "merge diverged"},
		},
	})
	require.NoError(t, err)

	job, err := env.service.RetryMissing(ctx, "job-1")
	require.NoError(t, err)

	assert.Equal(t, domain.JobStatusHDRProcessing, job.Status)
	assert.Equal(t, 1, job.ReservedUnits)
	assert.Equal(t, 2, env.dispatcher.calls)

	require.Len(t, env.ledger.reserves, 2)
	assert.Equal(t, "reserve:job-1:retry:1", env.ledger.reserves[1].key)
	assert.Equal(t, 1, env.ledger.reserves[1].units)

	assert.Equal(t, domain.GroupStatusProcessing, env.repo.group("g2").Status)
	assert.Equal(t, 1, env.repo.group("g2").Attempts)
	assert.Equal(t, domain.GroupStatusCompleted, env.repo.group("g1").Status)
}

func TestService_RetryMissing_PermanentFailureReleasesRetryReservation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.seedResolved(t)
	ctx := context.Background()

	_, err := env.service.Start(ctx, "job-1", nil)
	require.NoError(t, err)
	started := env.repo.job("job-1")

	err = env.service.HandleCallback(ctx, jobs.Callback{
		JobID:        "job-1",
		ManifestHash: started.ManifestHash,
		Groups: []jobs.GroupResult{
			{GroupID: "g1", ResultKey: "out/a1.jpg"},
			{GroupID: "g2", Error: "merge diverged"},
		},
	})
	require.NoError(t, err)

	_, err = env.service.RetryMissing(ctx, "job-1")
	require.NoError(t, err)
	retried := env.repo.job("job-1")

	err = env.service.HandleCallback(ctx, jobs.Callback{
		JobID:        "job-1",
		ManifestHash: retried.ManifestHash,
		Groups:       []jobs.GroupResult{{GroupID: "g2", Error: "merge diverged again"}},
	})
	require.NoError(t, err)

	job := env.repo.job("job-1")
	assert.Equal(t, domain.JobStatusPartial, job.Status)
	assert.Equal(t, 1, job.SettledUnits, "the round-one completion must not settle twice")
	assert.Zero(t, job.ReservedUnits)

	require.Len(t, env.ledger.releases, 2)
	assert.Equal(t, "release:job-1:settle:0", env.ledger.releases[0].key)
	assert.Equal(t, 1, env.ledger.releases[0].units)
	assert.Equal(t, "release:job-1:settle:1", env.ledger.releases[1].key)
	assert.Equal(t, 1, env.ledger.releases[1].units, "the retry reservation must come back when the retry fails")
}

func TestService_RetryMissing_SuccessfulRetrySettlesOnce(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.seedResolved(t)
	ctx := context.Background()

	_, err := env.service.Start(ctx, "job-1", nil)
	require.NoError(t, err)
	started := env.repo.job("job-1")

	err = env.service.HandleCallback(ctx, jobs.Callback{
		JobID:        "job-1",
		ManifestHash: started.ManifestHash,
		Groups: []jobs.GroupResult{
			{GroupID: "g1", ResultKey: "out/a1.jpg"},
			{GroupID: "g2", Error: "merge diverged"},
		},
	})
	require.NoError(t, err)

	_, err = env.service.RetryMissing(ctx, "job-1")
	require.NoError(t, err)
	retried := env.repo.job("job-1")

	err = env.service.HandleCallback(ctx, jobs.Callback{
		JobID:        "job-1",
		ManifestHash: retried.ManifestHash,
		Groups:       []jobs.GroupResult{{GroupID: "g2", ResultKey: "out/b1.jpg"}},
	})
	require.NoError(t, err)

	job := env.repo.job("job-1")
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.Equal(t, 2, job.SettledUnits)
	assert.Zero(t, job.ReservedUnits)
	assert.Len(t, env.ledger.releases, 1, "a consumed retry reservation leaves nothing to release")
}

func TestService_RetryMissing_InvalidFromActiveJob(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.seedResolved(t)

	_, err := env.service.RetryMissing(context.Background(), "job-1")

	var transitionErr *domain.InvalidTransitionError
	require.ErrorAs(t, err, &transitionErr)
}

func TestService_PresignUploads(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	job, err := env.service.Create(ctx, "user-1", "", 2)
	require.NoError(t, err)

	targets, err := env.service.PresignUploads(ctx, job.ID, []string{"a1.arw", "a2.arw"})
	require.NoError(t, err)
	require.Len(t, targets, 2)

	assert.Equal(t, "user/user-1/jobs/"+job.ID+"/input/a1.arw", targets[0].StorageKey)
	assert.True(t, strings.HasPrefix(targets[0].URL, "https://storage.test/"))

	_, err = env.service.PresignUploads(ctx, job.ID, nil)
	var validationErr *domain.ValidationError
	require.ErrorAs(t, err, &validationErr)
}

func TestService_MultipartUpload(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	job, err := env.service.Create(ctx, "user-1", "", 1)
	require.NoError(t, err)

	target, err := env.service.PresignMultipartUpload(ctx, job.ID, "pano.arw", 3)
	require.NoError(t, err)

	key := "user/user-1/jobs/" + job.ID + "/input/pano.arw"
	assert.Equal(t, key, target.StorageKey)
	assert.Equal(t, "upload-"+key, target.UploadID)
	require.Len(t, target.PartURLs, 3)

	gotKey, err := env.service.CompleteMultipartUpload(ctx, job.ID, "pano.arw", target.UploadID, []string{"e1", "e2", "e3"})
	require.NoError(t, err)
	assert.Equal(t, key, gotKey)
	assert.Equal(t, []string{key}, env.store.completed)

	var validationErr *domain.ValidationError
	_, err = env.service.PresignMultipartUpload(ctx, job.ID, "pano.arw", 1)
	require.ErrorAs(t, err, &validationErr)

	_, err = env.service.CompleteMultipartUpload(ctx, job.ID, "pano.arw", target.UploadID, nil)
	require.ErrorAs(t, err, &validationErr)
}

func TestService_ResultDownload(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.seedResolved(t)
	ctx := context.Background()

	_, err := env.service.Start(ctx, "job-1", nil)
	require.NoError(t, err)
	started := env.repo.job("job-1")

	err = env.service.HandleCallback(ctx, jobs.Callback{
		JobID:        "job-1",
		ManifestHash: started.ManifestHash,
		Groups:       []jobs.GroupResult{{GroupID: "g1", ResultKey: "out/a1.jpg"}},
	})
	require.NoError(t, err)

	url, err := env.service.ResultDownload(ctx, "job-1", "g1")
	require.NoError(t, err)
	assert.Equal(t, "https://storage.test/out/a1.jpg?download", url)

	var validationErr *domain.ValidationError
	_, err = env.service.ResultDownload(ctx, "job-1", "g2")
	require.ErrorAs(t, err, &validationErr, "group without a result has nothing to download")

	_, err = env.service.ResultDownload(ctx, "job-1", "nope")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestService_Status_Aggregates(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.seedResolved(t)
	ctx := context.Background()

	_, err := env.service.Start(ctx, "job-1", nil)
	require.NoError(t, err)
	started := env.repo.job("job-1")

	err = env.service.HandleCallback(ctx, jobs.Callback{
		JobID:        "job-1",
		ManifestHash: started.ManifestHash,
		Groups:       []jobs.GroupResult{{GroupID: "g1", ResultKey: "out/a1.jpg"}},
	})
	require.NoError(t, err)

	view, err := env.service.Status(ctx, "job-1")
	require.NoError(t, err)

	assert.Equal(t, 2, view.TotalGroups)
	assert.Equal(t, 1, view.CompletedGroups)
	assert.Zero(t, view.FailedGroups)
	assert.Equal(t, 50, view.ProgressPercent)
	require.Len(t, view.Groups, 2)
}
