package builder

import (
	"errors"
	"fmt"
)

// ErrNoValidImages is what callers return when they need the empty outcome as an error.
var ErrNoValidImages = errors.New("no valid images")

// SourceUnavailableError means the input directory could not be listed.
type SourceUnavailableError struct {
	Path string
	Err  error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("source unavailable: %s: %v", e.Path, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error { return e.Err }

// ArtifactWriteError means the output document could not be produced.
type ArtifactWriteError struct {
	Path string
	Err  error
}

func (e *ArtifactWriteError) Error() string {
	return fmt.Sprintf("failed to write document %s: %v", e.Path, e.Err)
}

func (e *ArtifactWriteError) Unwrap() error { return e.Err }
