package transcriber

import "time"

// Status is the lifecycle state of a transcription job.
type Status string

const (
	// StatusQueued means the job has been accepted but not started.
	StatusQueued Status = "queued"

	// StatusProcessing means the provider is still transcribing.
	StatusProcessing Status = "processing"

	// StatusCompleted means the transcript is ready.
	StatusCompleted Status = "completed"

	// StatusError means the provider failed the job permanently.
	StatusError Status = "error"
)

// Terminal reports whether the status is a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Utterance is one contiguous speech turn: a diarization speaker label plus
// the transcribed text. Utterances are produced externally, are immutable,
// and are ordered by time — the slice index is the temporal order.
type Utterance struct {
	// Speaker is the opaque diarization label (e.g., "A", "B"). It is NOT a
	// resolved identity.
	Speaker string `json:"speaker"`

	// Text is the transcribed speech content.
	Text string `json:"text"`

	// Confidence is the provider's confidence for this turn (0.0–1.0).
	// Zero when the provider does not report it.
	Confidence float64 `json:"confidence,omitempty"`

	// Start and End delimit the turn within the audio.
	Start time.Duration `json:"start,omitempty"`
	End   time.Duration `json:"end,omitempty"`
}

// Entity is a provider-detected entity annotation. The attribution core does
// not consume entities yet; they are carried for forward compatibility.
type Entity struct {
	Type string `json:"entity_type"`
	Text string `json:"text"`
}

// Result is a transcription job result. Utterances and Entities are only
// populated when Status is [StatusCompleted]; Error is only populated when
// Status is [StatusError].
type Result struct {
	Status        Status      `json:"status"`
	Text          string      `json:"text,omitempty"`
	Utterances    []Utterance `json:"utterances,omitempty"`
	Entities      []Entity    `json:"entities,omitempty"`
	LanguageCode  string      `json:"language_code,omitempty"`
	Confidence    float64     `json:"confidence,omitempty"`
	AudioDuration float64     `json:"audio_duration,omitempty"`
	Error         string      `json:"error,omitempty"`
}
