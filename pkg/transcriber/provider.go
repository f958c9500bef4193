// Package transcriber defines the Provider interface for asynchronous
// speech-transcription backends.
//
// A transcription provider wraps a job-based REST service (e.g., AssemblyAI):
// audio is uploaded once, a transcription job is submitted against the
// uploaded URL, and the result is obtained by polling the job until it
// reaches a terminal status. Diarization is the provider's responsibility;
// results carry speaker-labelled [Utterance] values that downstream name
// attribution consumes.
//
// Implementations must be safe for concurrent use.
package transcriber

import (
	"context"
	"io"
)

// Provider is the abstraction over any job-based transcription backend.
type Provider interface {
	// Upload streams audio bytes to the provider's storage and returns the
	// provider-internal URL to transcribe from.
	Upload(ctx context.Context, audio io.Reader) (audioURL string, err error)

	// Submit starts a transcription job for a previously uploaded audio URL
	// and returns the provider's job identifier.
	Submit(ctx context.Context, audioURL string) (jobID string, err error)

	// Status fetches the job state exactly once. A [Result] with a
	// non-terminal status is not an error — callers poll again later.
	Status(ctx context.Context, jobID string) (Result, error)

	// Wait polls the job at the provider's configured interval until it
	// reaches a terminal status or ctx is cancelled.
	Wait(ctx context.Context, jobID string) (Result, error)
}
