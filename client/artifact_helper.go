package client

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/a2akit/ark/types"
)

// ArtifactHelper provides utility functions for working with artifacts in client responses
type ArtifactHelper struct{}

// NewArtifactHelper creates a new client-side artifact helper instance
func NewArtifactHelper() *ArtifactHelper {
	return &ArtifactHelper{}
}

// ExtractArtifactsFromTask returns all artifacts from a task
func (ah *ArtifactHelper) ExtractArtifactsFromTask(task *types.Task) []types.Artifact {
	if task == nil {
		return nil
	}
	return task.Artifacts
}

// ExtractArtifactUpdateFromEvent extracts an artifact update from a streamed
// event, reporting false for any other event kind
func (ah *ArtifactHelper) ExtractArtifactUpdateFromEvent(event types.Event) (*types.TaskArtifactUpdateEvent, bool) {
	update, ok := event.(*types.TaskArtifactUpdateEvent)
	return update, ok
}

// GetArtifactByID retrieves an artifact from a task by its ID
func (ah *ArtifactHelper) GetArtifactByID(task *types.Task, artifactID string) (*types.Artifact, bool) {
	if task == nil {
		return nil, false
	}
	for i, artifact := range task.Artifacts {
		if artifact.ArtifactID == artifactID {
			return &task.Artifacts[i], true
		}
	}
	return nil, false
}

// GetArtifactsByType retrieves all artifacts from a task that contain parts of a specific kind
func (ah *ArtifactHelper) GetArtifactsByType(task *types.Task, partKind string) []types.Artifact {
	if task == nil {
		return nil
	}

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

// GetTextArtifacts returns all artifacts containing text parts
func (ah *ArtifactHelper) GetTextArtifacts(task *types.Task) []types.Artifact {
	return ah.GetArtifactsByType(task, types.MessagePartKindText.String())
}

// GetFileArtifacts returns all artifacts containing file parts
func (ah *ArtifactHelper) GetFileArtifacts(task *types.Task) []types.Artifact {
	return ah.GetArtifactsByType(task, types.MessagePartKindFile.String())
}

// GetDataArtifacts returns all artifacts containing structured data parts
func (ah *ArtifactHelper) GetDataArtifacts(task *types.Task) []types.Artifact {
	return ah.GetArtifactsByType(task, types.MessagePartKindData.String())
}

// ExtractTextFromArtifact extracts the text content of all text parts in an artifact
func (ah *ArtifactHelper) ExtractTextFromArtifact(artifact *types.Artifact) []string {
	if artifact == nil {
		return nil
	}

	var texts []string
	for _, part := range artifact.Parts {
		if text, ok := types.PartText(part); ok {
			texts = append(texts, text)
		}
	}
	return texts
}

// FileData holds the content of a file part extracted from an artifact
type FileData struct {
	Name     *string
	MimeType *string
	Data     []byte
	URI      *string
}

// IsDataFile reports whether the file carries inline content
func (fd *FileData) IsDataFile() bool {
	return len(fd.Data) > 0
}

// IsURIFile reports whether the file is referenced by URI
func (fd *FileData) IsURIFile() bool {
	return fd.URI != nil && *fd.URI != ""
}

// GetFileName returns the file's name, or empty when unset
func (fd *FileData) GetFileName() string {
	if fd.Name != nil {
		return *fd.Name
	}
	return ""
}

// GetMIMEType returns the file's MIME type, or empty when unset
func (fd *FileData) GetMIMEType() string {
	if fd.MimeType != nil {
		return *fd.MimeType
	}
	return ""
}

// ExtractFileDataFromArtifact extracts the file content of all file parts in
// an artifact, decoding base64 bytes where present
func (ah *ArtifactHelper) ExtractFileDataFromArtifact(artifact *types.Artifact) ([]FileData, error) {
	if artifact == nil {
		return nil, nil
	}

	var files []FileData
	for i, part := range artifact.Parts {
		if part.Kind != types.MessagePartKindFile.String() || part.File == nil {
			continue
		}

		fd := FileData{
			Name:     part.File.Name,
			MimeType: part.File.MimeType,
			URI:      part.File.URI,
		}

		if part.File.Bytes != nil && *part.File.Bytes != "" {
			decoded, err := base64.StdEncoding.DecodeString(*part.File.Bytes)
			if err != nil {
				return nil, fmt.Errorf("failed to decode file bytes in part %d: %w", i, err)
			}
			fd.Data = decoded
		}

		files = append(files, fd)
	}
	return files, nil
}

// ExtractDataFromArtifact extracts the structured data content of all data parts in an artifact
func (ah *ArtifactHelper) ExtractDataFromArtifact(artifact *types.Artifact) []map[string]any {
	if artifact == nil {
		return nil
	}

	var data []map[string]any
	for _, part := range artifact.Parts {
		if part.Kind == types.MessagePartKindData.String() && part.Data != nil {
			data = append(data, part.Data)
		}
	}
	return data
}

// HasArtifacts reports whether a task carries any artifacts
func (ah *ArtifactHelper) HasArtifacts(task *types.Task) bool {
	return task != nil && len(task.Artifacts) > 0
}

// GetArtifactCount returns the number of artifacts on a task
func (ah *ArtifactHelper) GetArtifactCount(task *types.Task) int {
	if task == nil {
		return 0
	}
	return len(task.Artifacts)
}

// GetArtifactSummary returns a count of artifact parts by kind
func (ah *ArtifactHelper) GetArtifactSummary(task *types.Task) map[string]int {
	summary := map[string]int{
		types.MessagePartKindText.String(): 0,
		types.MessagePartKindFile.String(): 0,
		types.MessagePartKindData.String(): 0,
	}

	if task == nil {
		return summary
	}

	for _, artifact := range task.Artifacts {
		for _, part := range artifact.Parts {
			if _, ok := summary[part.Kind]; ok {
				summary[part.Kind]++
			}
		}
	}
	return summary
}

// FilterArtifactsByName returns all artifacts whose name contains the given
// pattern, case-insensitively
func (ah *ArtifactHelper) FilterArtifactsByName(task *types.Task, namePattern string) []types.Artifact {
	if task == nil {
		return nil
	}

	pattern := strings.ToLower(namePattern)
	var matching []types.Artifact
	for _, artifact := range task.Artifacts {
		if artifact.Name != nil && strings.Contains(strings.ToLower(*artifact.Name), pattern) {
			matching = append(matching, artifact)
		}
	}
	return matching
}
