package transcription

import (
	"context"
	"fmt"
	"strings"
)

// Placeholder transcripts. These are content values, not errors: a module
// completes normally even when every transcript is a placeholder.
const (
	// PlaceholderUnclear is returned when the backend understood the
	// request but could not make out any speech.
	PlaceholderUnclear = "[Audio not clear enough to transcribe]"

	// PlaceholderError is returned for any local failure, such as an
	// unreadable audio file.
	PlaceholderError = "[Error generating transcript]"
)

// ServicePlaceholder embeds a backend failure detail in the transcript
func ServicePlaceholder(err error) string {
	return fmt.Sprintf("[Transcription service error: %v]", err)
}

// IsPlaceholder reports whether text is one of the defined placeholders
func IsPlaceholder(text string) bool {
	if text == PlaceholderUnclear || text == PlaceholderError {
		return true
	}
	return strings.HasPrefix(text, "[Transcription service error: ") && strings.HasSuffix(text, "]")
}

// Transcriber produces text from a canonical audio file. Implementations
// must not fail outward; any failure mode maps to a placeholder string.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) string
}
