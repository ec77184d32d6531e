package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/mvai/bracket_orchestrator/internal/domain"
)

// Provider is the external compute service running HDR merges. It accepts a
// manifest and answers with an opaque execution handle; results arrive later
// through the callback surface.
type Provider interface {
	Dispatch(ctx context.Context, jobID string, manifest Manifest) (handle string, err error)
}

// Stats is a point-in-time view of the coordinator's load.
type Stats struct {
	Pending     int
	AvgDuration time.Duration
	ETA         time.Duration
}

// Coordinator guarantees at-most-one live dispatch per manifest and throttles
// outbound provider calls through a single process-wide admission gate shared
// across all jobs.
type Coordinator struct {
	log         *slog.Logger
	provider    Provider
	gate        *semaphore.Weighted
	concurrency int64
	callTimeout time.Duration

	alertPending int
	alertETA     time.Duration

	mu            sync.Mutex
	pending       int
	completed     int64
	totalDuration time.Duration
}

func NewCoordinator(
	log *slog.Logger,
	provider Provider,
	gate *semaphore.Weighted,
	concurrency int64,
	callTimeout time.Duration,
	alertPending int,
	alertETA time.Duration,
) *Coordinator {
	return &Coordinator{
		log:          log,
		provider:     provider,
		gate:         gate,
		concurrency:  concurrency,
		callTimeout:  callTimeout,
		alertPending: alertPending,
		alertETA:     alertETA,
	}
}

// Dispatch sends the manifest to the provider at most once. When the job
// already carries an execution handle for the same manifest hash and is still
// in a dispatch-in-progress status, the recorded handle is returned without
// touching the provider.
func (c *Coordinator) Dispatch(ctx context.Context, job *domain.Job, manifest Manifest) (handle string, reused bool, err error) {
	hash := manifest.Hash()

	if job.ManifestHash == hash && job.ExecutionHandle != "" && job.Status.IsDispatchInProgress() {
		c.log.DebugContext(ctx, "manifest unchanged, reusing execution handle",
			slog.String("job_id", job.ID),
			slog.String("manifest_hash", hash),
		)
		return job.ExecutionHandle, true, nil
	}

	c.trackEnqueued(ctx)
	defer c.trackDequeued()

	if err := c.gate.Acquire(ctx, 1); err != nil {
		return "", false, fmt.Errorf("failed to acquire dispatch slot: %w", err)
	}
	defer c.gate.Release(1)

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	handle, err = c.provider.Dispatch(callCtx, job.ID, manifest)
	if err != nil {
		c.log.ErrorContext(ctx, "compute provider dispatch failed",
			slog.String("job_id", job.ID),
			slog.String("manifest_hash", hash),
			slog.String("err", err.Error()),
		)
		return "", false, fmt.Errorf("%w: %v", domain.ErrDispatchFailure, err)
	}

	c.log.InfoContext(ctx, "dispatched manifest to compute provider",
		slog.String("job_id", job.ID),
		slog.String("manifest_hash", hash),
		slog.String("execution_handle", handle),
	)

	return handle, false, nil
}

// RecordCompletion feeds the rolling average used for ETA estimation.
func (c *Coordinator) RecordCompletion(duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.completed++
	c.totalDuration += duration
}

// Snapshot returns the pending gauge, rolling average duration and the ETA
// estimate ceil(pending / concurrency * avg).
func (c *Coordinator) Snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.statsLocked()
}

func (c *Coordinator) statsLocked() Stats {
	s := Stats{Pending: c.pending}
	if c.completed > 0 {
		s.AvgDuration = c.totalDuration / time.Duration(c.completed)
	}
	if s.AvgDuration > 0 && c.concurrency > 0 {
		batches := math.Ceil(float64(s.Pending) / float64(c.concurrency))
		s.ETA = time.Duration(batches) * s.AvgDuration
	}
	return s
}

func (c *Coordinator) trackEnqueued(ctx context.Context) {
	c.mu.Lock()
	c.pending++
	stats := c.statsLocked()
	c.mu.Unlock()

	if (c.alertPending > 0 && stats.Pending > c.alertPending) ||
		(c.alertETA > 0 && stats.ETA > c.alertETA) {
		c.log.WarnContext(ctx, "dispatch backlog over threshold",
			slog.Int("pending", stats.Pending),
			slog.Duration("eta", stats.ETA),
			slog.Duration("avg_duration", stats.AvgDuration),
		)
	}
}

func (c *Coordinator) trackDequeued() {
	c.mu.Lock()
	c.pending--
	c.mu.Unlock()
}
