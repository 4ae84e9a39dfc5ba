// Package types defines the core data structures for the mnemo memory engine:
// memory entries, their classification enums, and the checkpoint record types
// written by the background checkpoint service.
package types

// ContentType classifies what kind of knowledge a memory entry holds.
// The set is closed; storage rejects entries with unknown types.
type ContentType string

// Content type constants
const (
	// ContentTypeCode is a source code fragment worth remembering
	ContentTypeCode ContentType = "code"

	// ContentTypeDocumentation is reference or how-to material
	ContentTypeDocumentation ContentType = "documentation"

	// ContentTypeContext is ambient session/work state, including checkpoints
	ContentTypeContext ContentType = "context"

	// ContentTypeOutput is captured command or tool output
	ContentTypeOutput ContentType = "output"

	// ContentTypeError is an error message or failure report
	ContentTypeError ContentType = "error"

	// ContentTypeDecision is a recorded decision and its outcome
	ContentTypeDecision ContentType = "decision"

	// ContentTypeLearning is an insight or lesson learned
	ContentTypeLearning ContentType = "learning"
)

// ValidContentTypes is a slice of all valid content types for validation.
var ValidContentTypes = []ContentType{
	ContentTypeCode,
	ContentTypeDocumentation,
	ContentTypeContext,
	ContentTypeOutput,
	ContentTypeError,
	ContentTypeDecision,
	ContentTypeLearning,
}

// IsValidContentType returns true if the given content type is valid.
func IsValidContentType(t ContentType) bool {
	for _, valid := range ValidContentTypes {
		if t == valid {
			return true
		}
	}
	return false
}

// ContentFormat describes how a memory entry's content is encoded.
type ContentFormat string

// Content format constants
const (
	// FormatText is plain prose
	FormatText ContentFormat = "text"

	// FormatMarkdown is markdown-formatted text
	FormatMarkdown ContentFormat = "markdown"

	// FormatCode is raw source code
	FormatCode ContentFormat = "code"

	// FormatJSON is a JSON document
	FormatJSON ContentFormat = "json"
)

// ValidContentFormats is a slice of all valid content formats for validation.
var ValidContentFormats = []ContentFormat{
	FormatText,
	FormatMarkdown,
	FormatCode,
	FormatJSON,
}

// IsValidContentFormat returns true if the given content format is valid.
func IsValidContentFormat(f ContentFormat) bool {
	for _, valid := range ValidContentFormats {
		if f == valid {
			return true
		}
	}
	return false
}

// CheckpointReason records why a checkpoint cycle ran.
type CheckpointReason string

// Checkpoint reason constants
const (
	// ReasonPeriodic is a checkpoint written by the recurring timer
	ReasonPeriodic CheckpointReason = "periodic"

	// ReasonManual is a checkpoint requested explicitly by a caller
	ReasonManual CheckpointReason = "manual"

	// ReasonToolTrigger is a checkpoint written after a consequential tool action
	ReasonToolTrigger CheckpointReason = "tool_trigger"

	// ReasonShutdown is the final checkpoint written while stopping
	ReasonShutdown CheckpointReason = "shutdown"
)

// ValidCheckpointReasons is a slice of all valid checkpoint reasons for validation.
var ValidCheckpointReasons = []CheckpointReason{
	ReasonPeriodic,
	ReasonManual,
	ReasonToolTrigger,
	ReasonShutdown,
}

// IsValidCheckpointReason returns true if the given checkpoint reason is valid.
func IsValidCheckpointReason(r CheckpointReason) bool {
	for _, valid := range ValidCheckpointReasons {
		if r == valid {
			return true
		}
	}
	return false
}
