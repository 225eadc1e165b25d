// File: internal/pipeline/errors.go
// Brief: Region-scoped failure types.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// RenderError reports that a fragment could not be produced.
type RenderError struct {
	Fragment string
	Region   string
	Err      error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %s for %s: %v", e.Fragment, e.Region, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// MalformedFragmentError reports a fragment that breaks the local numbering
// contract, or a chaining edge that would point at a missing stage.
type MalformedFragmentError struct {
	Fragment string
	Stage    StageID
	Reason   string
}

func (e *MalformedFragmentError) Error() string {
	if e.Stage != 0 {
		return fmt.Sprintf("malformed fragment %s: stage %d: %s", e.Fragment, e.Stage, e.Reason)
	}
	return fmt.Sprintf("malformed fragment %s: %s", e.Fragment, e.Reason)
}

// StalePipelineConflictError is returned when a previously generated
// pipeline with the new pipeline's name survived cleanup.
type StalePipelineConflictError struct {
	Application string
	Region      string
	Name        string
	Stale       []string
	Err         error
}

func (e *StalePipelineConflictError) Error() string {
	msg := fmt.Sprintf("stale pipeline %q for %s in %s could not be removed (%d stale: %s)",
		e.Name, e.Application, e.Region, len(e.Stale), strings.Join(e.Stale, ", "))
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StalePipelineConflictError) Unwrap() error { return e.Err }

// PipelineCreationFailedError carries the orchestrator's rejection verbatim.
type PipelineCreationFailedError struct {
	Application string
	Region      string
	Name        string
	StatusCode  int
	Payload     string
}

func (e *PipelineCreationFailedError) Error() string {
	return fmt.Sprintf("failed to create pipeline %q for %s in %s (HTTP %d): %s",
		e.Name, e.Application, e.Region, e.StatusCode, e.Payload)
}

// ErrorKind classifies err for reporting and metrics labels.
func ErrorKind(err error) string {
	var (
		renderErr    *RenderError
		malformedErr *MalformedFragmentError
		conflictErr  *StalePipelineConflictError
		createErr    *PipelineCreationFailedError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &malformedErr):
		return "malformed_fragment"
	case errors.As(err, &renderErr):
		return "render"
	case errors.As(err, &conflictErr):
		return "stale_conflict"
	case errors.As(err, &createErr):
		return "creation_failed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "other"
	}
}
