// Package renderer defines the seam between job dispatch and the
// engine that actually renders. The in-process pipeline is the usual
// implementation; a remote render service can stand in for it.
package renderer

import (
	"context"

	"github.com/clipforge/clipforge/pkg/models"
)

// Renderer processes one claimed job through to a terminal state
type Renderer interface {
	Render(ctx context.Context, jobID string) error
}

// Result is the payload a remote renderer posts back through the
// callback endpoint when it finishes a job.
type Result struct {
	JobID     string `json:"job_id"`
	OutputRef string `json:"output_ref,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Request is what gets handed to a remote render service
type Request struct {
	JobID       string             `json:"job_id"`
	SourceRef   string             `json:"source_ref"`
	Style       models.StyleConfig `json:"style_config"`
	CallbackURL string             `json:"callback_url"`
}
