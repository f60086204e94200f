package server

import (
	"context"
	"io"
	"time"
)

// ArtifactStorageProvider is the backend contract for the artifact file host.
// Artifact content is addressed by (artifactID, filename); providers own the
// physical layout and the public download URL scheme.
type ArtifactStorageProvider interface {
	// Store writes the artifact content and returns its download URL
	Store(ctx context.Context, artifactID string, filename string, data io.Reader) (string, error)

	// Retrieve opens the stored artifact content for reading
	Retrieve(ctx context.Context, artifactID string, filename string) (io.ReadCloser, error)

	// Delete removes the stored artifact content. Deleting absent content is
	// not an error.
	Delete(ctx context.Context, artifactID string, filename string) error

	// Exists reports whether the artifact content is stored
	Exists(ctx context.Context, artifactID string, filename string) (bool, error)

	// GetURL returns the public download URL for an artifact file
	GetURL(artifactID string, filename string) string

	// List enumerates all stored artifact files with their metadata
	List(ctx context.Context) ([]ArtifactMetadata, error)

	// CleanupExpiredArtifacts removes files stored longer ago than maxAge and
	// returns how many were removed
	CleanupExpiredArtifacts(ctx context.Context, maxAge time.Duration) (int, error)

	// CleanupOldestArtifacts removes the oldest files until at most maxCount
	// remain and returns how many were removed
	CleanupOldestArtifacts(ctx context.Context, maxCount int) (int, error)

	// Close releases provider resources
	Close() error
}

// ArtifactMetadata describes one stored artifact file
type ArtifactMetadata struct {
	ArtifactID string    `json:"artifact_id"`
	Filename   string    `json:"filename"`
	Size       int64     `json:"size"`
	StoredAt   time.Time `json:"stored_at"`
}
