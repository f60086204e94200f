package server

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// FilesystemArtifactStorage stores artifact files on the local filesystem
// under basePath/<artifactID>/<filename>.
type FilesystemArtifactStorage struct {
	basePath string
	baseURL  string
}

var _ ArtifactStorageProvider = (*FilesystemArtifactStorage)(nil)

// NewFilesystemArtifactStorage creates a filesystem-backed provider rooted at
// basePath, creating the directory if needed.
func NewFilesystemArtifactStorage(basePath, baseURL string) (*FilesystemArtifactStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifacts directory: %w", err)
	}

	return &FilesystemArtifactStorage{
		basePath: basePath,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
	}, nil
}

// filePath resolves the on-disk location for an artifact file after cleaning
// both path segments. It fails on empty or traversal-bearing segments.
func (fs *FilesystemArtifactStorage) filePath(artifactID, filename string) (string, error) {
	artifactID = sanitizePath(artifactID)
	filename = sanitizePath(filename)
	if artifactID == "" || filename == "" {
		return "", fmt.Errorf("invalid artifact id or filename")
	}
	return filepath.Join(fs.basePath, artifactID, filename), nil
}

// Store writes the artifact content to disk and returns its download URL
func (fs *FilesystemArtifactStorage) Store(ctx context.Context, artifactID string, filename string, data io.Reader) (string, error) {
	path, err := fs.filePath(artifactID, filename)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create artifact directory: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create artifact file: %w", err)
	}

	if _, err := io.Copy(file, data); err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("failed to write artifact content: %w", err)
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("failed to flush artifact file: %w", err)
	}

	return fs.GetURL(artifactID, filename), nil
}

// Retrieve opens the stored artifact content for reading
func (fs *FilesystemArtifactStorage) Retrieve(ctx context.Context, artifactID string, filename string) (io.ReadCloser, error) {
	path, err := fs.filePath(artifactID, filename)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("artifact not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact: %w", err)
	}
	return file, nil
}

// Delete removes the artifact file and prunes its directory when empty
func (fs *FilesystemArtifactStorage) Delete(ctx context.Context, artifactID string, filename string) error {
	path, err := fs.filePath(artifactID, filename)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete artifact: %w", err)
	}

	// Best-effort prune; fails when other files remain.
	_ = os.Remove(filepath.Dir(path))
	return nil
}

// Exists reports whether the artifact content is stored
func (fs *FilesystemArtifactStorage) Exists(ctx context.Context, artifactID string, filename string) (bool, error) {
	path, err := fs.filePath(artifactID, filename)
	if err != nil {
		return false, err
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat artifact: %w", err)
	}
	return true, nil
}

// GetURL returns the public download URL for an artifact file
func (fs *FilesystemArtifactStorage) GetURL(artifactID string, filename string) string {
	return fmt.Sprintf("%s/artifacts/%s/%s", fs.baseURL, sanitizePath(artifactID), sanitizePath(filename))
}

// List enumerates all stored artifact files
func (fs *FilesystemArtifactStorage) List(ctx context.Context) ([]ArtifactMetadata, error) {
	entries, err := os.ReadDir(fs.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifacts directory: %w", err)
	}

	var stored []ArtifactMetadata
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		files, err := os.ReadDir(filepath.Join(fs.basePath, entry.Name()))
		if err != nil {
			continue
		}
		for _, f := range files {
			info, err := f.Info()
			if err != nil {
				continue
			}
			stored = append(stored, ArtifactMetadata{
				ArtifactID: entry.Name(),
				Filename:   f.Name(),
				Size:       info.Size(),
				StoredAt:   info.ModTime(),
			})
		}
	}
	return stored, nil
}

// CleanupExpiredArtifacts removes files older than maxAge
func (fs *FilesystemArtifactStorage) CleanupExpiredArtifacts(ctx context.Context, maxAge time.Duration) (int, error) {
	stored, err := fs.List(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, meta := range stored {
		if meta.StoredAt.After(cutoff) {
			continue
		}
		if err := fs.Delete(ctx, meta.ArtifactID, meta.Filename); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// CleanupOldestArtifacts removes the oldest files until at most maxCount remain
func (fs *FilesystemArtifactStorage) CleanupOldestArtifacts(ctx context.Context, maxCount int) (int, error) {
	stored, err := fs.List(ctx)
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
		if err := fs.Delete(ctx, meta.ArtifactID, meta.Filename); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Close is a no-op for the filesystem provider
func (fs *FilesystemArtifactStorage) Close() error {
	return nil
}

// sanitizePath strips separators and traversal sequences from a path segment
func sanitizePath(path string) string {
	path = strings.ReplaceAll(path, "/", "")
	path = strings.ReplaceAll(path, "\\", "")
	path = strings.ReplaceAll(path, "..", "")
	return strings.TrimSpace(path)
}
