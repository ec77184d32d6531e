package storage

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/mvai/bracket_orchestrator/internal/config"
)

// Client wraps the object storage collaborator: presigned upload/download
// issuance for the client surface and prefix cleanup for job deletion. The
// orchestration core itself only ever reads storage keys back.
type Client struct {
	minio  *minio.Client
	core   *minio.Core
	bucket string
	expiry time.Duration
}

func NewClient(cfg config.S3) (*Client, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	return &Client{
		minio:  mc,
		core:   &minio.Core{Client: mc},
		bucket: cfg.Bucket,
		expiry: cfg.PresignExpiry,
	}, nil
}

// PresignUpload issues a presigned single-part PUT for the given key.
func (c *Client) PresignUpload(ctx context.Context, key string) (string, error) {
	u, err := c.minio.PresignedPutObject(ctx, c.bucket, key, c.expiry)
	if err != nil {
		return "", fmt.Errorf("failed to presign upload: %w", err)
	}
	return u.String(), nil
}

// InitiateMultipart opens a multipart upload for the given key and issues one
// presigned PUT per part. The caller uploads the parts and confirms with
// CompleteMultipart.
func (c *Client) InitiateMultipart(ctx context.Context, key string, parts int) (string, []string, error) {
	uploadID, err := c.core.NewMultipartUpload(ctx, c.bucket, key, minio.PutObjectOptions{})
	if err != nil {
		return "", nil, fmt.Errorf("failed to initiate multipart upload: %w", err)
	}

	urls := make([]string, 0, parts)
	for part := 1; part <= parts; part++ {
		u, err := c.minio.PresignHeader(ctx, http.MethodPut, c.bucket, key, c.expiry, url.Values{
			"uploadId":   []string{uploadID},
			"partNumber": []string{strconv.Itoa(part)},
		}, nil)
		if err != nil {
			return "", nil, fmt.Errorf("failed to presign part %d: %w", part, err)
		}
		urls = append(urls, u.String())
	}

	return uploadID, urls, nil
}

// CompleteMultipart assembles the uploaded parts into the final object. ETags
// must arrive in part order.
func (c *Client) CompleteMultipart(ctx context.Context, key, uploadID string, etags []string) error {
	parts := make([]minio.CompletePart, 0, len(etags))
	for i, etag := range etags {
		parts = append(parts, minio.CompletePart{
			PartNumber: i + 1,
			ETag:       etag,
		})
	}

	if _, err := c.core.CompleteMultipartUpload(ctx, c.bucket, key, uploadID, parts, minio.PutObjectOptions{}); err != nil {
		return fmt.Errorf("failed to complete multipart upload: %w", err)
	}

	return nil
}

// PresignDownload issues a presigned GET for a stored object.
func (c *Client) PresignDownload(ctx context.Context, key string) (string, error) {
	u, err := c.minio.PresignedGetObject(ctx, c.bucket, key, c.expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("failed to presign download: %w", err)
	}
	return u.String(), nil
}

// RemovePrefix deletes every object under a job's prefix.
func (c *Client) RemovePrefix(ctx context.Context, prefix string) error {
	objects := c.minio.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})

	for object := range objects {
		if object.Err != nil {
			return fmt.Errorf("failed to list objects for removal: %w", object.Err)
		}
		if err := c.minio.RemoveObject(ctx, c.bucket, object.Key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("failed to remove object %q: %w", object.Key, err)
		}
	}

	return nil
}
