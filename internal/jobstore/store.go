// Package jobstore persists transcription jobs and their attribution
// results.
//
// A [Job] is recorded when a transcription is submitted and updated when the
// provider reaches a terminal status; completed jobs additionally carry the
// speaker mapping and the rendered transcript. Two implementations exist:
// [MemStore] for tests and DSN-less deployments, and [PostgresStore] for
// durable storage.
//
// All implementations must be safe for concurrent use.
package jobstore

import (
	"context"
	"errors"
	"time"

	"github.com/cabildolabs/cabildo/internal/attribution"
	"github.com/cabildolabs/cabildo/pkg/transcriber"
)

// ErrNotFound is returned by Get when the requested job does not exist.
var ErrNotFound = errors.New("job not found")

// ErrDuplicateID is returned by Create when a job with the same ID already
// exists.
var ErrDuplicateID = errors.New("job with that ID already exists")

// Job is one transcription job as tracked by this service. The ID is the
// provider's job identifier, so a status lookup needs no extra mapping.
type Job struct {
	// ID is the provider-assigned job identifier.
	ID string `json:"id"`

	// Status is the last observed provider status.
	Status transcriber.Status `json:"status"`

	// AudioURL is the provider-side URL of the uploaded audio.
	AudioURL string `json:"audio_url,omitempty"`

	// Filename is the original name of the uploaded file, for operator
	// convenience only.
	Filename string `json:"filename,omitempty"`

	// Result is the provider's transcript payload. Only populated once the
	// job reaches a terminal status.
	Result *transcriber.Result `json:"result,omitempty"`

	// SpeakerMapping resolves diarization labels to personal names for
	// completed jobs.
	SpeakerMapping attribution.Mapping `json:"speaker_mapping,omitempty"`

	// FormattedText is the rendered transcript for completed jobs.
	FormattedText string `json:"formatted_text,omitempty"`

	// TotalSpeakers is the count of distinct diarization labels.
	TotalSpeakers int `json:"total_speakers,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store tracks transcription jobs.
type Store interface {
	// Create records a freshly submitted job.
	// Returns [ErrDuplicateID] when the job ID is already tracked.
	Create(ctx context.Context, job Job) error

	// Get retrieves a job by its provider ID.
	// Returns [ErrNotFound] when the job is not tracked.
	Get(ctx context.Context, id string) (Job, error)

	// Update replaces an existing job record.
	// Returns [ErrNotFound] when the job is not tracked.
	Update(ctx context.Context, job Job) error

	// List returns all tracked jobs, newest first.
	List(ctx context.Context) ([]Job, error)

	// Ping verifies the store is reachable. Used by the readiness probe.
	Ping(ctx context.Context) error
}
