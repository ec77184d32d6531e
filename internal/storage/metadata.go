package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"

	"github.com/mvai/bracket_orchestrator/internal/exif"
)

const metadataSuffix = ".meta.json"

// ReadMetadata fetches the capture metadata sidecar written next to each
// upload by the ingest edge. A missing or malformed sidecar is an error to
// the caller, which treats the file as carrying no metadata.
func (c *Client) ReadMetadata(ctx context.Context, storageKey string) (exif.RawMetadata, error) {
	obj, err := c.minio.GetObject(ctx, c.bucket, storageKey+metadataSuffix, minio.GetObjectOptions{})
	if err != nil {
		return exif.RawMetadata{}, fmt.Errorf("failed to get metadata sidecar: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(io.LimitReader(obj, 1<<20))
	if err != nil {
		return exif.RawMetadata{}, fmt.Errorf("failed to read metadata sidecar: %w", err)
	}

	var raw exif.RawMetadata
	if err := json.Unmarshal(data, &raw); err != nil {
		return exif.RawMetadata{}, fmt.Errorf("failed to decode metadata sidecar: %w", err)
	}

	return raw, nil
}
