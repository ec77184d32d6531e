package postgresql

import (
	"context"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mvai/bracket_orchestrator/internal/domain"
)

const TableJobs = "jobs"

type JobsRepository struct {
	pool *pgxpool.Pool
	qb   sq.StatementBuilderType
}

func NewJobsRepository(pool *pgxpool.Pool) *JobsRepository {
	return &JobsRepository{
		pool: pool,
		qb:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

func (r *JobsRepository) CreateJob(ctx context.Context, job *domain.Job) error {
	db := extractDB(ctx, r.pool)

	sql, args, err := r.qb.
		Insert(TableJobs).
		Columns(
			"id",
			"user_id",
			"workflow_id",
			"status",
			"declared_files",
		).
		Values(
			job.ID,
			job.UserID,
			job.WorkflowID,
			job.Status,
			job.DeclaredFiles,
		).
		ToSql()
	if err != nil {
		return createQueryError(err)
	}

	_, err = db.Exec(ctx, sql, args...)
	if err != nil {
		return executeQueryError(err)
	}

	return nil
}

func (r *JobsRepository) JobByID(ctx context.Context, jobID string) (*domain.Job, error) {
	db := extractDB(ctx, r.pool)

	sql, args, err := r.qb.
		Select(
			"id",
			"user_id",
			"workflow_id",
			"status",
			"declared_files",
			"estimated_units",
			"reserved_units",
			"settled_units",
			"manifest_hash",
			"execution_handle",
			"error_message",
			"created_at",
			"updated_at",
			"canceled_at",
		).
		From(TableJobs).
		Where(sq.Eq{"id": jobID}).
		ToSql()
	if err != nil {
		return nil, createQueryError(err)
	}

	rows, err := db.Query(ctx, sql, args...)
	if err != nil {
		return nil, executeQueryError(err)
	}

	job, err := pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByNameLax[domain.Job])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, collectRowsError(err)
	}

	return job, nil
}

func (r *JobsRepository) UpdateJob(ctx context.Context, job *domain.Job) error {
	db := extractDB(ctx, r.pool)

	sql, args, err := r.qb.
		Update(TableJobs).
		Set("status", job.Status).
		Set("declared_files", job.DeclaredFiles).
		Set("estimated_units", job.EstimatedUnits).
		Set("reserved_units", job.ReservedUnits).
		Set("settled_units", job.SettledUnits).
		Set("manifest_hash", job.ManifestHash).
		Set("execution_handle", job.ExecutionHandle).
		Set("error_message", job.ErrorMessage).
		Set("canceled_at", job.CanceledAt).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": job.ID}).
		ToSql()
	if err != nil {
		return createQueryError(err)
	}

	tag, err := db.Exec(ctx, sql, args...)
	if err != nil {
		return executeQueryError(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	return nil
}

// LockJobGrouping serializes grouping passes per job for the lifetime of the
// surrounding transaction, so two concurrent re-analyses never interleave.
func (r *JobsRepository) LockJobGrouping(ctx context.Context, jobID string) error {
	db := extractDB(ctx, r.pool)

	_, err := db.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, jobID)
	if err != nil {
		return executeQueryError(err)
	}

	return nil
}
