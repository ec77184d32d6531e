package postgresql

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mvai/bracket_orchestrator/internal/domain"
)

const TableFiles = "files"

type FilesRepository struct {
	pool *pgxpool.Pool
	qb   sq.StatementBuilderType
}

func NewFilesRepository(pool *pgxpool.Pool) *FilesRepository {
	return &FilesRepository{
		pool: pool,
		qb:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

func (r *FilesRepository) CreateFiles(ctx context.Context, files ...*domain.UploadedFile) error {
	if len(files) == 0 {
		return nil
	}

	db := extractDB(ctx, r.pool)

	builder := r.qb.
		Insert(TableFiles).
		Columns(
			"id",
			"job_id",
			"storage_key",
			"filename",
			"kind",
		)

	for _, f := range files {
		builder = builder.Values(f.ID, f.JobID, f.StorageKey, f.Filename, f.Kind)
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

func (r *FilesRepository) FilesByJob(ctx context.Context, jobID string) ([]*domain.UploadedFile, error) {
	db := extractDB(ctx, r.pool)

	sql, args, err := r.qb.
		Select(
			"id",
			"job_id",
			"storage_key",
			"filename",
			"kind",
			"capture_time",
			"ev",
			"exposure_time",
			"f_number",
			"iso",
			"focal_length",
			"camera_make",
			"camera_model",
			"seq_prefix",
			"seq_value",
			"seq_width",
			"meta_extracted",
			"group_id",
			"order_index",
			"created_at",
		).
		From(TableFiles).
		Where(sq.Eq{"job_id": jobID}).
		OrderBy("filename").
		ToSql()
	if err != nil {
		return nil, createQueryError(err)
	}

	rows, err := db.Query(ctx, sql, args...)
	if err != nil {
		return nil, executeQueryError(err)
	}
	defer rows.Close()

	var files []*domain.UploadedFile
	for rows.Next() {
		var (
			f         domain.UploadedFile
			seqPrefix *string
			seqValue  *int
			seqWidth  *int
		)

		err := rows.Scan(
			&f.ID,
			&f.JobID,
			&f.StorageKey,
			&f.Filename,
			&f.Kind,
			&f.CaptureTime,
			&f.EV,
			&f.ExposureTime,
			&f.FNumber,
			&f.ISO,
			&f.FocalLength,
			&f.CameraMake,
			&f.CameraModel,
			&seqPrefix,
			&seqValue,
			&seqWidth,
			&f.MetaExtracted,
			&f.GroupID,
			&f.OrderIndex,
			&f.CreatedAt,
		)
		if err != nil {
			return nil, scanRowError(err)
		}

		if seqPrefix != nil && seqValue != nil && seqWidth != nil {
			f.Seq = &domain.SequenceToken{Prefix: *seqPrefix, Value: *seqValue, Width: *seqWidth}
		}

		files = append(files, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, collectRowsError(err)
	}

	return files, nil
}

// SaveFileMetadata persists extracted capture metadata exactly once: a file
// already marked extracted is left untouched.
func (r *FilesRepository) SaveFileMetadata(ctx context.Context, file *domain.UploadedFile) error {
	db := extractDB(ctx, r.pool)

	builder := r.qb.
		Update(TableFiles).
		Set("capture_time", file.CaptureTime).
		Set("ev", file.EV).
		Set("exposure_time", file.ExposureTime).
		Set("f_number", file.FNumber).
		Set("iso", file.ISO).
		Set("focal_length", file.FocalLength).
		Set("camera_make", file.CameraMake).
		Set("camera_model", file.CameraModel).
		Set("meta_extracted", true).
		Where(sq.Eq{"id": file.ID, "meta_extracted": false})

	if file.Seq != nil {
		builder = builder.
			Set("seq_prefix", file.Seq.Prefix).
			Set("seq_value", file.Seq.Value).
			Set("seq_width", file.Seq.Width)
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

// AssignGroup records group membership and member order for the given files.
func (r *FilesRepository) AssignGroup(ctx context.Context, groupID string, fileIDs []string) error {
	db := extractDB(ctx, r.pool)

	for i, fileID := range fileIDs {
		sql, args, err := r.qb.
			Update(TableFiles).
			Set("group_id", groupID).
			Set("order_index", i).
			Where(sq.Eq{"id": fileID}).
			ToSql()
		if err != nil {
			return createQueryError(err)
		}

		if _, err := db.Exec(ctx, sql, args...); err != nil {
			return executeQueryError(err)
		}
	}

	return nil
}

// ClearGroupAssignments detaches every file of a job from its group before a
// grouping run replaces the groups wholesale.
func (r *FilesRepository) ClearGroupAssignments(ctx context.Context, jobID string) error {
	db := extractDB(ctx, r.pool)

	sql, args, err := r.qb.
		Update(TableFiles).
		Set("group_id", nil).
		Set("order_index", 0).
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
