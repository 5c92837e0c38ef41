// Package media turns audio and image files into text the guardian can
// reason about. Failures never surface as errors: they come back as text
// starting with "[Error]" so the conversation can continue.
package media

import (
	"context"
	"fmt"
	"strings"
)

const errorPrefix = "[Error] "

type Transcriber interface {
	AudioToText(ctx context.Context, path string) string
}

type Describer interface {
	ImageToText(ctx context.Context, path string) string
}

// IsError reports whether text is a failure placeholder.
func IsError(text string) bool {
	return strings.HasPrefix(text, errorPrefix)
}

func errorText(format string, args ...any) string {
	return errorPrefix + fmt.Sprintf(format, args...)
}
