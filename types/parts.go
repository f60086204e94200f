package types

// NewTextPart creates a Part with text content.
func NewTextPart(text string) Part {
	return Part{
		Kind: MessagePartKindText.String(),
		Text: &text,
	}
}

// NewDataPart creates a Part with structured data content.
func NewDataPart(data map[string]any) Part {
	return Part{
		Kind: MessagePartKindData.String(),
		Data: data,
	}
}

// NewFilePart creates a Part with file content.
func NewFilePart(file FileContent) Part {
	return Part{
		Kind: MessagePartKindFile.String(),
		File: &file,
	}
}

// PartText extracts the text of a text part. It reports false for any other
// part kind.
func PartText(p Part) (string, bool) {
	if p.Kind != MessagePartKindText.String() || p.Text == nil {
		return "", false
	}
	return *p.Text, true
}

// TextFromParts concatenates the text content of all text parts in order.
func TextFromParts(parts []Part) string {
	var out string
	for _, p := range parts {
		if text, ok := PartText(p); ok {
			out += text
		}
	}
	return out
}

// NewMessage creates a message with the given id, role, and parts.
func NewMessage(messageID string, role Role, parts []Part) *Message {
	return &Message{
		Kind:      KindMessage,
		MessageID: messageID,
		Role:      role,
		Parts:     parts,
	}
}

// NewAgentTextMessage creates an agent message holding a single text part.
func NewAgentTextMessage(messageID string, text string) *Message {
	return NewMessage(messageID, RoleAgent, []Part{NewTextPart(text)})
}

// NewUserTextMessage creates a user message holding a single text part.
func NewUserTextMessage(messageID string, text string) *Message {
	return NewMessage(messageID, RoleUser, []Part{NewTextPart(text)})
}

// MessagePartKind represents the different types of message parts supported
// by the A2A protocol.
type MessagePartKind string

// MessagePartKind enum values for the three official message part types
const (
	// MessagePartKindText represents a text segment within message parts
	MessagePartKindText MessagePartKind = "text"

	// MessagePartKindFile represents a file segment within message parts
	MessagePartKindFile MessagePartKind = "file"

	// MessagePartKindData represents a structured data segment within message parts
	MessagePartKindData MessagePartKind = "data"
)

// String returns the string representation of the MessagePartKind
func (k MessagePartKind) String() string {
	return string(k)
}

// IsValid checks if the MessagePartKind is one of the supported values
func (k MessagePartKind) IsValid() bool {
	switch k {
	case MessagePartKindText, MessagePartKindFile, MessagePartKindData:
		return true
	default:
		return false
	}
}

// Health status constants
const (
	HealthStatusHealthy   = "healthy"
	HealthStatusDegraded  = "degraded"
	HealthStatusUnhealthy = "unhealthy"
)
