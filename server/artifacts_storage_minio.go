package server

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	minio "github.com/minio/minio-go/v7"
	credentials "github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOArtifactStorage stores artifact files as S3 objects keyed
// <artifactID>/<filename> in a single bucket.
type MinIOArtifactStorage struct {
	client  *minio.Client
	bucket  string
	baseURL string
}

var _ ArtifactStorageProvider = (*MinIOArtifactStorage)(nil)

// NewMinIOArtifactStorage creates an S3-backed provider, creating the bucket
// when it does not exist yet.
func NewMinIOArtifactStorage(endpoint, accessKey, secretKey, bucket, baseURL string, useSSL bool) (*MinIOArtifactStorage, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	ctx := context.Background()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &MinIOArtifactStorage{
		client:  client,
		bucket:  bucket,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}, nil
}

// objectKey builds the bucket key for an artifact file after cleaning both
// segments. It fails on empty or traversal-bearing segments.
func objectKey(artifactID, filename string) (string, error) {
	artifactID = sanitizePath(artifactID)
	filename = sanitizePath(filename)
	if artifactID == "" || filename == "" {
		return "", fmt.Errorf("invalid artifact id or filename")
	}
	return artifactID + "/" + filename, nil
}

// Store uploads the artifact content and returns its download URL
func (m *MinIOArtifactStorage) Store(ctx context.Context, artifactID string, filename string, data io.Reader) (string, error) {
	key, err := objectKey(artifactID, filename)
	if err != nil {
		return "", err
	}

	if _, err := m.client.PutObject(ctx, m.bucket, key, data, -1, minio.PutObjectOptions{}); err != nil {
		return "", fmt.Errorf("failed to store artifact object: %w", err)
	}
	return m.GetURL(artifactID, filename), nil
}

// Retrieve opens the stored artifact object for reading
func (m *MinIOArtifactStorage) Retrieve(ctx context.Context, artifactID string, filename string) (io.ReadCloser, error) {
	key, err := objectKey(artifactID, filename)
	if err != nil {
		return nil, err
	}

	object, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve artifact object: %w", err)
	}
	return object, nil
}

// Delete removes the artifact object
func (m *MinIOArtifactStorage) Delete(ctx context.Context, artifactID string, filename string) error {
	key, err := objectKey(artifactID, filename)
	if err != nil {
		return err
	}

	if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete artifact object: %w", err)
	}
	return nil
}

// Exists reports whether the artifact object is stored
func (m *MinIOArtifactStorage) Exists(ctx context.Context, artifactID string, filename string) (bool, error) {
	key, err := objectKey(artifactID, filename)
	if err != nil {
		return false, err
	}

	if _, err := m.client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat artifact object: %w", err)
	}
	return true, nil
}

// GetURL returns the public download URL for an artifact file
func (m *MinIOArtifactStorage) GetURL(artifactID string, filename string) string {
	return fmt.Sprintf("%s/artifacts/%s/%s", m.baseURL, sanitizePath(artifactID), sanitizePath(filename))
}

// List enumerates all stored artifact objects
func (m *MinIOArtifactStorage) List(ctx context.Context) ([]ArtifactMetadata, error) {
	var stored []ArtifactMetadata
	for object := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Recursive: true}) {
		if object.Err != nil {
			return nil, fmt.Errorf("failed to list artifact objects: %w", object.Err)
		}

		artifactID, filename, ok := strings.Cut(object.Key, "/")
		if !ok {
			continue
		}
		stored = append(stored, ArtifactMetadata{
			ArtifactID: artifactID,
			Filename:   filename,
			Size:       object.Size,
			StoredAt:   object.LastModified,
		})
	}
	return stored, nil
}

// CleanupExpiredArtifacts removes objects older than maxAge
func (m *MinIOArtifactStorage) CleanupExpiredArtifacts(ctx context.Context, maxAge time.Duration) (int, error) {
	stored, err := m.List(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, meta := range stored {
		if meta.StoredAt.After(cutoff) {
			continue
		}
		if err := m.Delete(ctx, meta.ArtifactID, meta.Filename); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// CleanupOldestArtifacts removes the oldest objects until at most maxCount remain
func (m *MinIOArtifactStorage) CleanupOldestArtifacts(ctx context.Context, maxCount int) (int, error) {
	stored, err := m.List(ctx)
	if err != nil {
		return 0, err
	}
	if len(stored) <= maxCount {
		return 0, nil
	}

	sort.Slice(stored, func(i, j int) bool {
		return stored[i].StoredAt.Before(stored[j].StoredAt)
	})

	removed := 0
	for _, meta := range stored[:len(stored)-maxCount] {
		if err := m.Delete(ctx, meta.ArtifactID, meta.Filename); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Close is a no-op; the minio client holds no persistent connections
func (m *MinIOArtifactStorage) Close() error {
	return nil
}
