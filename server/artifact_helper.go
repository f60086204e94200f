package server

import (
	"encoding/base64"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/a2akit/ark/types"
)

// ArtifactHelper provides utility functions for working with artifacts in the A2A protocol
type ArtifactHelper struct{}

// NewArtifactHelper creates a new artifact helper instance
func NewArtifactHelper() *ArtifactHelper {
	return &ArtifactHelper{}
}

// newArtifact wraps parts into a freshly-identified artifact
func newArtifact(name, description string, parts ...types.Part) types.Artifact {
	return types.Artifact{
		ArtifactID:  uuid.New().String(),
		Name:        &name,
		Description: &description,
		Parts:       parts,
	}
}

// CreateTextArtifact creates a text artifact with the given content
func (ah *ArtifactHelper) CreateTextArtifact(name, description, text string) types.Artifact {
	return newArtifact(name, description, types.NewTextPart(text))
}

// CreateFileArtifactFromBytes creates a file artifact carrying base64-encoded bytes
func (ah *ArtifactHelper) CreateFileArtifactFromBytes(name, description, filename string, data []byte, mimeType *string) types.Artifact {
	encoded := base64.StdEncoding.EncodeToString(data)
	return newArtifact(name, description, types.NewFilePart(types.FileContent{
		Name:     &filename,
		MimeType: mimeType,
		Bytes:    &encoded,
	}))
}

// CreateFileArtifactFromURI creates a file artifact referencing hosted bytes by URI
func (ah *ArtifactHelper) CreateFileArtifactFromURI(name, description, filename, uri string, mimeType *string) types.Artifact {
	return newArtifact(name, description, types.NewFilePart(types.FileContent{
		Name:     &filename,
		MimeType: mimeType,
		URI:      &uri,
	}))
}

// CreateDataArtifact creates a structured data artifact
func (ah *ArtifactHelper) CreateDataArtifact(name, description string, data map[string]any) types.Artifact {
	return newArtifact(name, description, types.NewDataPart(data))
}

// CreateMultiPartArtifact creates an artifact with multiple parts (text, files, data)
func (ah *ArtifactHelper) CreateMultiPartArtifact(name, description string, parts []types.Part) types.Artifact {
	return newArtifact(name, description, parts...)
}

// AddArtifactToTask adds an artifact to a task's artifact collection
func (ah *ArtifactHelper) AddArtifactToTask(task *types.Task, artifact types.Artifact) {
	task.Artifacts = append(task.Artifacts, artifact)
}

// AddArtifactsToTask adds multiple artifacts to a task's artifact collection
func (ah *ArtifactHelper) AddArtifactsToTask(task *types.Task, artifacts []types.Artifact) {
	task.Artifacts = append(task.Artifacts, artifacts...)
}

// GetArtifactByID retrieves an artifact from a task by its ID
func (ah *ArtifactHelper) GetArtifactByID(task *types.Task, artifactID string) (*types.Artifact, bool) {
	for i, artifact := range task.Artifacts {
		if artifact.ArtifactID == artifactID {
			return &task.Artifacts[i], true
		}
	}
	return nil, false
}

// GetArtifactsByType retrieves all artifacts from a task that contain parts of a specific kind
func (ah *ArtifactHelper) GetArtifactsByType(task *types.Task, partKind string) []types.Artifact {
	var matching []types.Artifact

	for _, artifact := range task.Artifacts {
		for _, part := range artifact.Parts {
			if part.Kind == partKind {
				matching = append(matching, artifact)
				break
			}
		}
	}

	return matching
}

// ValidateArtifact validates that an artifact conforms to the A2A protocol specification
func (ah *ArtifactHelper) ValidateArtifact(artifact types.Artifact) error {
	if artifact.ArtifactID == "" {
		return fmt.Errorf("artifact must have a non-empty artifactId")
	}

	if len(artifact.Parts) == 0 {
		return fmt.Errorf("artifact must contain at least one part")
	}

	for i, part := range artifact.Parts {
		if err := ah.validatePart(part); err != nil {
			return fmt.Errorf("invalid part at index %d: %w", i, err)
		}
	}

	return nil
}

// validatePart validates a single part of an artifact
func (ah *ArtifactHelper) validatePart(part types.Part) error {
	switch part.Kind {
	case "text":
		if part.Text == nil || *part.Text == "" {
			return fmt.Errorf("text part must have non-empty text content")
		}
	case "file":
		if part.File == nil {
			return fmt.Errorf("file part must have non-nil file content")
		}
		if part.File.Bytes == nil && part.File.URI == nil {
			return fmt.Errorf("file part must carry bytes or a uri")
		}
	case "data":
		if part.Data == nil {
			return fmt.Errorf("data part must have non-nil data content")
		}
	case "":
		return fmt.Errorf("part must have a 'kind' field")
	default:
		return fmt.Errorf("unsupported part kind: %s", part.Kind)
	}

	return nil
}

// mimeByExtension is deliberately a fixed table rather than the stdlib mime
// package, which appends charset parameters and varies with system mime files.
var mimeByExtension = map[string]string{
	".txt":  "text/plain",
	".json": "application/json",
	".xml":  "application/xml",
	".pdf":  "application/pdf",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
	".html": "text/html",
	".css":  "text/css",
	".js":   "application/javascript",
	".csv":  "text/csv",
	".zip":  "application/zip",
}

// GetMimeTypeFromExtension returns a MIME type based on file extension,
// falling back to application/octet-stream for unknown extensions
func (ah *ArtifactHelper) GetMimeTypeFromExtension(filename string) *string {
	mimeType, ok := mimeByExtension[filepath.Ext(filename)]
	if !ok {
		mimeType = "application/octet-stream"
	}
	return &mimeType
}

// CreateTaskArtifactUpdateEvent creates an artifact update event for streaming
func (ah *ArtifactHelper) CreateTaskArtifactUpdateEvent(taskID, contextID string, artifact types.Artifact, append, lastChunk *bool) types.TaskArtifactUpdateEvent {
	return types.TaskArtifactUpdateEvent{
		Kind:      types.KindArtifactUpdate,
		TaskID:    taskID,
		ContextID: contextID,
		Artifact:  artifact,
		Append:    append,
		LastChunk: lastChunk,
	}
}
