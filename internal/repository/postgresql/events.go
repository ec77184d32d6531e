package postgresql

import (
	"context"
	"errors"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mvai/bracket_orchestrator/internal/domain"
)

const TableJobEvents = "job_events"

// Concurrent appends to the same job may race for the next sequence number
// and collide on the primary key; the insert is retried a bounded number of
// times.
const appendRetries = 5

const uniqueViolationCode = "23505"

type EventsRepository struct {
	pool *pgxpool.Pool
	qb   sq.StatementBuilderType
}

func NewEventsRepository(pool *pgxpool.Pool) *EventsRepository {
	return &EventsRepository{
		pool: pool,
		qb:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// AppendEvent persists the event under the next per-job sequence number.
// Sequences are strictly increasing and gapless per job.
func (r *EventsRepository) AppendEvent(ctx context.Context, jobID string, typ domain.EventType, payload []byte) (*domain.JobEvent, error) {
	db := extractDB(ctx, r.pool)

	const sql = `
		INSERT INTO job_events (job_id, sequence, type, payload)
		SELECT $1, COALESCE(MAX(sequence), 0) + 1, $2, $3
		FROM job_events
		WHERE job_id = $1
		RETURNING sequence, created_at
	`

	event := &domain.JobEvent{
		JobID:   jobID,
		Type:    typ,
		Payload: payload,
	}

	var lastErr error
	for range appendRetries {
		err := db.QueryRow(ctx, sql, jobID, typ, payload).Scan(&event.Sequence, &event.CreatedAt)
		if err == nil {
			return event, nil
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			lastErr = err
			continue
		}

		return nil, executeQueryError(err)
	}

	return nil, executeQueryError(lastErr)
}

// EventsAfter returns the persisted events of a job with sequence greater
// than after, in sequence order.
func (r *EventsRepository) EventsAfter(ctx context.Context, jobID string, after int64) ([]*domain.JobEvent, error) {
	db := extractDB(ctx, r.pool)

	sql, args, err := r.qb.
		Select(
			"job_id",
			"sequence",
			"type",
			"payload",
			"created_at",
		).
		From(TableJobEvents).
		Where(sq.Eq{"job_id": jobID}).
		Where(sq.Gt{"sequence": after}).
		OrderBy("sequence").
		ToSql()
	if err != nil {
		return nil, createQueryError(err)
	}

	rows, err := db.Query(ctx, sql, args...)
	if err != nil {
		return nil, executeQueryError(err)
	}

	events, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByNameLax[domain.JobEvent])
	if err != nil {
		return nil, collectRowsError(err)
	}

	return events, nil
}
