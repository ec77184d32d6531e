package postgresql

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mvai/bracket_orchestrator/internal/domain"
)

const TableGroups = "capture_groups"

type GroupsRepository struct {
	pool *pgxpool.Pool
	qb   sq.StatementBuilderType
}

func NewGroupsRepository(pool *pgxpool.Pool) *GroupsRepository {
	return &GroupsRepository{
		pool: pool,
		qb:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// DeleteGroups removes all groups of a job. Grouping runs replace groups
// wholesale, never partially.
func (r *GroupsRepository) DeleteGroups(ctx context.Context, jobID string) error {
	db := extractDB(ctx, r.pool)

	sql, args, err := r.qb.
		Delete(TableGroups).
		Where(sq.Eq{"job_id": jobID}).
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

func (r *GroupsRepository) CreateGroups(ctx context.Context, groups ...*domain.CaptureGroup) error {
	if len(groups) == 0 {
		return nil
	}

	db := extractDB(ctx, r.pool)

	builder := r.qb.
		Insert(TableGroups).
		Columns(
			"id",
			"job_id",
			"type",
			"status",
			"confidence",
			"representative_file_id",
			"output_filename",
			"order_index",
			"attempts",
		)

	for _, g := range groups {
		builder = builder.Values(
			g.ID,
			g.JobID,
			g.Type,
			g.Status,
			g.Confidence,
			g.RepresentativeFileID,
			g.OutputFilename,
			g.OrderIndex,
			g.Attempts,
		)
	}

	sql, args, err := builder.ToSql()
	if err != nil {
		return createQueryError(err)
	}

	_, err = db.Exec(ctx, sql, args...)
	if err != nil {
		return executeQueryError(err)
	}

	return nil
}

func (r *GroupsRepository) GroupsByJob(ctx context.Context, jobID string) ([]*domain.CaptureGroup, error) {
	db := extractDB(ctx, r.pool)

	sql, args, err := r.qb.
		Select(
			"id",
			"job_id",
			"type",
			"status",
			"confidence",
			"representative_file_id",
			"output_filename",
			"order_index",
			"attempts",
			"result_key",
			"error_message",
			"created_at",
		).
		From(TableGroups).
		Where(sq.Eq{"job_id": jobID}).
		OrderBy("order_index").
		ToSql()
	if err != nil {
		return nil, createQueryError(err)
	}

	rows, err := db.Query(ctx, sql, args...)
	if err != nil {
		return nil, executeQueryError(err)
	}

	groups, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByNameLax[domain.CaptureGroup])
	if err != nil {
		return nil, collectRowsError(err)
	}

	return groups, nil
}

func (r *GroupsRepository) UpdateGroupStatus(ctx context.Context, groupID string, status domain.GroupStatus, resultKey, errorMessage string) error {
	db := extractDB(ctx, r.pool)

	sql, args, err := r.qb.
		Update(TableGroups).
		Set("status", status).
		Set("result_key", resultKey).
		Set("error_message", errorMessage).
		Where(sq.Eq{"id": groupID}).
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

// SetStatuses moves every group of a job currently in one of the from
// statuses to the given status.
func (r *GroupsRepository) SetStatuses(ctx context.Context, jobID string, from []domain.GroupStatus, to domain.GroupStatus) error {
	db := extractDB(ctx, r.pool)

	sql, args, err := r.qb.
		Update(TableGroups).
		Set("status", to).
		Where(sq.Eq{"job_id": jobID, "status": from}).
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

// ResetFailedGroups requeues failed groups still under the attempt budget and
// bumps their attempt counter. Returns the requeued group ids.
func (r *GroupsRepository) ResetFailedGroups(ctx context.Context, jobID string, maxAttempts int) ([]string, error) {
	db := extractDB(ctx, r.pool)

	sql, args, err := r.qb.
		Update(TableGroups).
		Set("status", domain.GroupStatusQueued).
		Set("error_message", "").
		Set("attempts", sq.Expr("attempts + 1")).
		Where(sq.Eq{"job_id": jobID, "status": domain.GroupStatusFailed}).
		Where(sq.Lt{"attempts": maxAttempts}).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return nil, createQueryError(err)
	}

	rows, err := db.Query(ctx, sql, args...)
	if err != nil {
		return nil, executeQueryError(err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, collectRowsError(err)
	}

	return ids, nil
}
