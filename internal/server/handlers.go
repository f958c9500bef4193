package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"time"

	"github.com/cabildolabs/cabildo/internal/attribution"
	"github.com/cabildolabs/cabildo/internal/jobstore"
	"github.com/cabildolabs/cabildo/internal/observe"
	"github.com/cabildolabs/cabildo/internal/resilience"
	"github.com/cabildolabs/cabildo/pkg/transcriber"
)

// transcriptPayload is the response envelope for a finished transcription:
// the provider result plus the three attribution outputs.
type transcriptPayload struct {
	transcriber.Result

	FormattedText  string              `json:"formatted_text"`
	SpeakerMapping attribution.Mapping `json:"speaker_mapping"`
	TotalSpeakers  int                 `json:"total_speakers"`
}

// errorEnvelope is the uniform JSON error body.
type errorEnvelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// handleTranscribe is the blocking endpoint: upload, submit, wait for the
// terminal status, attribute speaker names, and return everything at once.
func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	s.metrics.ActiveJobs.Add(ctx, 1)
	defer s.metrics.ActiveJobs.Add(ctx, -1)

	audioURL, filename, ok := s.uploadFromRequest(w, r)
	if !ok {
		return
	}

	jobID, err := s.submit(ctx, audioURL)
	if err != nil {
		s.providerError(ctx, w, "submit", err)
		return
	}

	res, err := s.provider.Wait(ctx, jobID)
	if err != nil {
		s.providerError(ctx, w, "wait", err)
		return
	}
	s.metrics.TranscriptionDuration.Record(ctx, time.Since(start).Seconds())

	if res.Status != transcriber.StatusCompleted {
		// The provider failed the job; relay its error verbatim.
		writeJSON(w, http.StatusOK, res)
		return
	}

	payload, err := s.enrich(ctx, jobID, filename, audioURL, res)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

// handleTranscribeAsync uploads and submits, then returns immediately with
// the job ID; the client polls GET /status/{id}.
func (s *Server) handleTranscribeAsync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	audioURL, filename, ok := s.uploadFromRequest(w, r)
	if !ok {
		return
	}

	jobID, err := s.submit(ctx, audioURL)
	if err != nil {
		s.providerError(ctx, w, "submit", err)
		return
	}

	if err := s.jobs.Create(ctx, jobstore.Job{
		ID:       jobID,
		Status:   transcriber.StatusQueued,
		AudioURL: audioURL,
		Filename: filename,
	}); err != nil {
		observe.Logger(ctx).Warn("failed to record job", "job_id", jobID, "err", err)
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":        "processing",
		"transcript_id": jobID,
		"message":       fmt.Sprintf("transcription started; poll /status/%s", jobID),
	})
}

// handleStatus answers from the job store when the job already finished,
// and otherwise polls the provider exactly once. Freshly completed jobs are
// enriched with speaker attribution and persisted; everything else is
// relayed as-is.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID := r.PathValue("id")

	// A completed job never changes again; serve it from the store instead
	// of spending a provider call.
	if job, err := s.jobs.Get(ctx, jobID); err == nil &&
		job.Status == transcriber.StatusCompleted && job.Result != nil {
		writeJSON(w, http.StatusOK, &transcriptPayload{
			Result:         *job.Result,
			FormattedText:  job.FormattedText,
			SpeakerMapping: job.SpeakerMapping,
			TotalSpeakers:  job.TotalSpeakers,
		})
		return
	}

	var res transcriber.Result
	err := s.breaker.Execute(func() error {
		var inner error
		res, inner = s.provider.Status(ctx, jobID)
		return inner
	})
	if err != nil {
		s.providerError(ctx, w, "status", err)
		return
	}
	s.metrics.RecordProviderRequest(ctx, "status", string(res.Status))

	if res.Status != transcriber.StatusCompleted {
		writeJSON(w, http.StatusOK, res)
		return
	}

	payload, err := s.enrich(ctx, jobID, "", "", res)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

// jobSummary is the listing view of a tracked job: bookkeeping fields only,
// no transcript payload.
type jobSummary struct {
	ID            string             `json:"id"`
	Status        transcriber.Status `json:"status"`
	Filename      string             `json:"filename,omitempty"`
	TotalSpeakers int                `json:"total_speakers,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// handleJobs lists tracked transcription jobs, newest first.
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.jobs.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing jobs: "+err.Error())
		return
	}

	summaries := make([]jobSummary, 0, len(jobs))
	for _, j := range jobs {
		summaries = append(summaries, jobSummary{
			ID:            j.ID,
			Status:        j.Status,
			Filename:      j.Filename,
			TotalSpeakers: j.TotalSpeakers,
			CreatedAt:     j.CreatedAt,
			UpdatedAt:     j.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": summaries})
}

// enrich runs speaker name attribution over a completed result, records the
// outcome in the job store, and assembles the response payload.
func (s *Server) enrich(ctx context.Context, jobID, filename, audioURL string, res transcriber.Result) (*transcriptPayload, error) {
	start := time.Now()
	att, err := s.attributor.Run(res.Utterances)
	if err != nil {
		// Malformed utterances are an upstream contract violation; do not
		// guess at a mapping.
		return nil, fmt.Errorf("speaker attribution: %w", err)
	}
	s.metrics.AttributionDuration.Record(ctx, time.Since(start).Seconds())
	s.metrics.SpeakersNamed.Add(ctx, int64(len(att.Mapping)))
	for pattern, n := range att.Stats.Candidates {
		s.metrics.RecordCandidates(ctx, pattern, int64(n))
	}
	for reason, n := range att.Stats.Rejections {
		s.metrics.RecordRejections(ctx, string(reason), int64(n))
	}

	observe.Logger(ctx).Info("transcript attributed",
		"job_id", jobID,
		"total_speakers", att.TotalSpeakers,
		"named_speakers", len(att.Mapping),
	)

	s.persist(ctx, jobID, filename, audioURL, res, att)

	return &transcriptPayload{
		Result:         res,
		FormattedText:  att.FormattedText,
		SpeakerMapping: att.Mapping,
		TotalSpeakers:  att.TotalSpeakers,
	}, nil
}

// persist upserts the completed job. Store failures are logged, never
// surfaced — the transcript is already in hand.
func (s *Server) persist(ctx context.Context, jobID, filename, audioURL string, res transcriber.Result, att *attribution.Result) {
	job := jobstore.Job{
		ID:             jobID,
		Status:         res.Status,
		AudioURL:       audioURL,
		Filename:       filename,
		Result:         &res,
		SpeakerMapping: att.Mapping,
		FormattedText:  att.FormattedText,
		TotalSpeakers:  att.TotalSpeakers,
	}

	err := s.jobs.Update(ctx, job)
	if errors.Is(err, jobstore.ErrNotFound) {
		err = s.jobs.Create(ctx, job)
	}
	if err != nil {
		observe.Logger(ctx).Warn("failed to persist job", "job_id", jobID, "err", err)
	}
}

// uploadFromRequest extracts the multipart "audio" file, spools it to a
// temporary file to avoid holding large recordings in memory, and streams it
// to the provider. On failure it writes the error response itself and
// returns ok=false.
func (s *Server) uploadFromRequest(w http.ResponseWriter, r *http.Request) (audioURL, filename string, ok bool) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)

	file, header, err := r.FormFile("audio")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("audio file exceeds the %d byte upload limit", maxErr.Limit))
			return "", "", false
		}
		writeError(w, http.StatusBadRequest, "missing audio file; use multipart form key 'audio'")
		return "", "", false
	}
	defer file.Close()

	tmpPath, size, err := spoolToTemp(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to buffer upload: "+err.Error())
		return "", "", false
	}
	defer os.Remove(tmpPath)

	observe.Logger(r.Context()).Info("audio upload received",
		"filename", header.Filename,
		"size_bytes", size,
	)

	tmp, err := os.Open(tmpPath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to buffer upload: "+err.Error())
		return "", "", false
	}
	defer tmp.Close()

	err = s.breaker.Execute(func() error {
		var inner error
		audioURL, inner = s.provider.Upload(ctx, tmp)
		return inner
	})
	if err != nil {
		s.providerError(ctx, w, "upload", err)
		return "", "", false
	}
	s.metrics.RecordProviderRequest(ctx, "upload", "ok")

	return audioURL, header.Filename, true
}

// submit starts the provider job behind the circuit breaker.
func (s *Server) submit(ctx context.Context, audioURL string) (string, error) {
	var jobID string
	err := s.breaker.Execute(func() error {
		var inner error
		jobID, inner = s.provider.Submit(ctx, audioURL)
		return inner
	})
	if err != nil {
		return "", err
	}
	s.metrics.RecordProviderRequest(ctx, "submit", "ok")
	return jobID, nil
}

// providerError maps a provider failure to the right HTTP response and
// records it.
func (s *Server) providerError(ctx context.Context, w http.ResponseWriter, op string, err error) {
	s.metrics.RecordProviderError(ctx, op)

	if errors.Is(err, resilience.ErrCircuitOpen) {
		writeError(w, http.StatusServiceUnavailable, "transcription provider temporarily unavailable")
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		writeError(w, http.StatusGatewayTimeout, "transcription cancelled: "+err.Error())
		return
	}
	writeError(w, http.StatusBadGateway, err.Error())
}

// spoolToTemp copies the uploaded file to a temporary file and returns its
// path and size. The caller removes the file.
func spoolToTemp(file multipart.File) (path string, size int64, err error) {
	tmp, err := os.CreateTemp("", "cabildo-upload-*")
	if err != nil {
		return "", 0, err
	}
	defer tmp.Close()

	size, err = io.Copy(tmp, file)
	if err != nil {
		os.Remove(tmp.Name())
		return "", 0, err
	}
	return tmp.Name(), size, nil
}

// writeJSON encodes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "err", err)
	}
}

// writeError writes the uniform JSON error envelope.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorEnvelope{Status: "error", Message: message})
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "no such endpoint: "+r.URL.Path)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, r.Method+" is not allowed on "+r.URL.Path)
}
