package exif

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/mvai/bracket_orchestrator/internal/domain"
)

// Reading metadata out of storage is I/O-bound, so extraction per job is
// bounded rather than fanned out across all files at once.
const extractConcurrency = 2

type MetadataSource interface {
	ReadMetadata(ctx context.Context, storageKey string) (RawMetadata, error)
}

type FileMetaWriter interface {
	SaveFileMetadata(ctx context.Context, file *domain.UploadedFile) error
}

// Extractor normalizes capture metadata for all files of a job and persists
// it back exactly once per file.
type Extractor struct {
	log    *slog.Logger
	source MetadataSource
	writer FileMetaWriter
}

func NewExtractor(log *slog.Logger, source MetadataSource, writer FileMetaWriter) *Extractor {
	return &Extractor{
		log:    log,
		source: source,
		writer: writer,
	}
}

// ExtractJobFiles fills in capture metadata for every file that has not been
// normalized yet. Files that already carry metadata are skipped, so the call
// is safe to repeat. Unreadable metadata is not an error: the file keeps its
// empty optional fields and downstream grouping falls back to filename order.
func (e *Extractor) ExtractJobFiles(ctx context.Context, files []*domain.UploadedFile) error {
	erg, ctx := errgroup.WithContext(ctx)
	erg.SetLimit(extractConcurrency)

	for _, file := range files {
		if file.MetaExtracted {
			continue
		}

		erg.Go(func() error {
			return e.extractFile(ctx, file)
		})
	}

	if err := erg.Wait(); err != nil {
		return fmt.Errorf("failed to extract job files: %w", err)
	}

	return nil
}

func (e *Extractor) extractFile(ctx context.Context, file *domain.UploadedFile) error {
	raw, err := e.source.ReadMetadata(ctx, file.StorageKey)
	if err != nil {
		e.log.ErrorContext(ctx, "failed to read file metadata, keeping fields empty",
			slog.String("storage_key", file.StorageKey),
			slog.String("err", err.Error()),
		)
	}

	n := Normalize(raw, file.Filename)

	file.CaptureTime = n.CaptureTime
	file.EV = n.EV
	file.ExposureTime = n.ExposureTime
	file.FNumber = n.FNumber
	file.ISO = n.ISO
	file.FocalLength = n.FocalLength
	file.CameraMake = n.CameraMake
	file.CameraModel = n.CameraModel
	file.Seq = n.Seq
	file.MetaExtracted = true

	if err := e.writer.SaveFileMetadata(ctx, file); err != nil {
		return fmt.Errorf("failed to save file metadata: %w", err)
	}

	e.log.DebugContext(ctx, "file metadata extracted",
		slog.String("file_id", file.ID),
		slog.String("filename", file.Filename),
	)

	return nil
}
