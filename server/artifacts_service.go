package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	uuid "github.com/google/uuid"
	zap "go.uber.org/zap"

	config "github.com/a2akit/ark/server/config"
	types "github.com/a2akit/ark/types"
)

// ArtifactService combines artifact construction with a storage backend.
// Pure builders come from the embedded helper; the storage-backed operations
// are what the artifacts file host serves from.
type ArtifactService interface {
	CreateTextArtifact(name, description, text string) types.Artifact

	// CreateFileArtifact stores the content and returns a URI-backed artifact
	CreateFileArtifact(name, description, filename string, data []byte, mimeType *string) (types.Artifact, error)

	CreateFileArtifactFromURI(name, description, filename, uri string, mimeType *string) types.Artifact

	CreateDataArtifact(name, description string, data map[string]any) types.Artifact

	CreateMultiPartArtifact(name, description string, parts []types.Part) types.Artifact

	AddArtifactToTask(task *types.Task, artifact types.Artifact)

	AddArtifactsToTask(task *types.Task, artifacts []types.Artifact)

	GetArtifactByID(task *types.Task, artifactID string) (*types.Artifact, bool)

	GetArtifactsByType(task *types.Task, partKind string) []types.Artifact

	ValidateArtifact(artifact types.Artifact) error

	GetMimeTypeFromExtension(filename string) *string

	CreateTaskArtifactUpdateEvent(taskID, contextID string, artifact types.Artifact, append, lastChunk *bool) types.TaskArtifactUpdateEvent

	// Exists reports whether a stored artifact file is present
	Exists(ctx context.Context, artifactID, filename string) (bool, error)

	// Retrieve opens a stored artifact file for reading
	Retrieve(ctx context.Context, artifactID, filename string) (io.ReadCloser, error)

	// CleanupExpiredArtifacts removes artifacts stored longer than maxAge ago
	CleanupExpiredArtifacts(ctx context.Context, maxAge time.Duration) (int, error)

	// CleanupOldestArtifacts trims storage down to maxArtifacts entries
	CleanupOldestArtifacts(ctx context.Context, maxArtifacts int) (int, error)

	Close() error
}

// ArtifactServiceImpl implements ArtifactService over a storage provider,
// delegating pure construction to the embedded ArtifactHelper.
type ArtifactServiceImpl struct {
	*ArtifactHelper
	storage ArtifactStorageProvider
	logger  *zap.Logger
}

var _ ArtifactService = (*ArtifactServiceImpl)(nil)

// NewArtifactService builds a service and its storage provider from
// configuration
func NewArtifactService(cfg *config.ArtifactsConfig, logger *zap.Logger) (ArtifactService, error) {
	if cfg == nil {
		return nil, fmt.Errorf("artifacts configuration is required")
	}
	if !cfg.Enable {
		return nil, fmt.Errorf("artifacts are not enabled in configuration")
	}

	storage, err := newArtifactStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	return &ArtifactServiceImpl{
		ArtifactHelper: NewArtifactHelper(),
		storage:        storage,
		logger:         logger,
	}, nil
}

// newArtifactStorage constructs the provider named in the storage config.
// When no base URL is configured, one is derived from the artifacts server's
// own host settings so stored URIs resolve back to this process.
func newArtifactStorage(cfg *config.ArtifactsConfig, logger *zap.Logger) (ArtifactStorageProvider, error) {
	sc := cfg.StorageConfig
	if sc.BaseURL == "" {
		sc.BaseURL = defaultArtifactBaseURL(cfg)
	}

	switch sc.Provider {
	case "filesystem":
		storage, err := NewFilesystemArtifactStorage(sc.BasePath, sc.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create filesystem storage: %w", err)
		}
		logger.Info("artifact service initialized with filesystem storage",
			zap.String("base_path", sc.BasePath),
			zap.String("base_url", sc.BaseURL))
		return storage, nil

	case "minio":
		storage, err := NewMinIOArtifactStorage(sc.Endpoint, sc.AccessKey, sc.SecretKey, sc.BucketName, sc.BaseURL, sc.UseSSL)
		if err != nil {
			return nil, fmt.Errorf("failed to create MinIO storage: %w", err)
		}
		logger.Info("artifact service initialized with MinIO storage",
			zap.String("endpoint", sc.Endpoint),
			zap.String("bucket", sc.BucketName))
		return storage, nil

	default:
		return nil, fmt.Errorf("unsupported storage provider: %s", sc.Provider)
	}
}

func defaultArtifactBaseURL(cfg *config.ArtifactsConfig) string {
	scheme := "http"
	if cfg.ServerConfig.TLSConfig.Enable {
		scheme = "https"
	}
	host := cfg.ServerConfig.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.ServerConfig.Port
	if port == "" {
		port = "8081"
	}
	return fmt.Sprintf("%s://%s:%s", scheme, host, port)
}

// CreateFileArtifact writes data to storage and wraps the resulting URI in a
// file-part artifact. The MIME type falls back to an extension-based guess.
func (as *ArtifactServiceImpl) CreateFileArtifact(name, description, filename string, data []byte, mimeType *string) (types.Artifact, error) {
	artifactID := uuid.New().String()

	uri, err := as.storage.Store(context.Background(), artifactID, filename, bytes.NewReader(data))
	if err != nil {
		return types.Artifact{}, fmt.Errorf("failed to store artifact: %w", err)
	}

	if mimeType == nil {
		mimeType = as.GetMimeTypeFromExtension(filename)
	}

	return types.Artifact{
		ArtifactID:  artifactID,
		Name:        &name,
		Description: &description,
		Parts: []types.Part{types.NewFilePart(types.FileContent{
			Name:     &filename,
			MimeType: mimeType,
			URI:      &uri,
		})},
	}, nil
}

// Exists reports whether the artifact file is present in storage
func (as *ArtifactServiceImpl) Exists(ctx context.Context, artifactID, filename string) (bool, error) {
	return as.storage.Exists(ctx, artifactID, filename)
}

// Retrieve opens the stored artifact file
func (as *ArtifactServiceImpl) Retrieve(ctx context.Context, artifactID, filename string) (io.ReadCloser, error) {
	return as.storage.Retrieve(ctx, artifactID, filename)
}

// CleanupExpiredArtifacts removes artifacts stored longer than maxAge ago
func (as *ArtifactServiceImpl) CleanupExpiredArtifacts(ctx context.Context, maxAge time.Duration) (int, error) {
	return as.storage.CleanupExpiredArtifacts(ctx, maxAge)
}

// CleanupOldestArtifacts trims storage down to maxArtifacts entries
func (as *ArtifactServiceImpl) CleanupOldestArtifacts(ctx context.Context, maxArtifacts int) (int, error) {
	return as.storage.CleanupOldestArtifacts(ctx, maxArtifacts)
}

// Close releases the storage provider
func (as *ArtifactServiceImpl) Close() error {
	if as.storage != nil {
		return as.storage.Close()
	}
	return nil
}
