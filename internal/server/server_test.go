package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/cabildolabs/cabildo/internal/attribution"
	"github.com/cabildolabs/cabildo/internal/jobstore"
	"github.com/cabildolabs/cabildo/internal/observe"
	"github.com/cabildolabs/cabildo/pkg/transcriber"
)

// fakeProvider is a transcriber.Provider test double with pluggable
// behaviour per operation.
type fakeProvider struct {
	uploadFn func(ctx context.Context, audio io.Reader) (string, error)
	submitFn func(ctx context.Context, audioURL string) (string, error)
	statusFn func(ctx context.Context, jobID string) (transcriber.Result, error)
	waitFn   func(ctx context.Context, jobID string) (transcriber.Result, error)
}

func (f *fakeProvider) Upload(ctx context.Context, audio io.Reader) (string, error) {
	return f.uploadFn(ctx, audio)
}

func (f *fakeProvider) Submit(ctx context.Context, audioURL string) (string, error) {
	return f.submitFn(ctx, audioURL)
}

func (f *fakeProvider) Status(ctx context.Context, jobID string) (transcriber.Result, error) {
	return f.statusFn(ctx, jobID)
}

func (f *fakeProvider) Wait(ctx context.Context, jobID string) (transcriber.Result, error) {
	return f.waitFn(ctx, jobID)
}

// completedResult is a canonical finished transcript whose cession phrasing
// names the second speaker.
func completedResult() transcriber.Result {
	return transcriber.Result{
		Status:       transcriber.StatusCompleted,
		Text:         "Cede la palabra a Juan Pérez. Gracias, con su permiso.",
		LanguageCode: "es",
		Utterances: []transcriber.Utterance{
			{Speaker: "A", Text: "Cede la palabra a Juan Pérez."},
			{Speaker: "B", Text: "Gracias, con su permiso."},
		},
	}
}

func newTestServer(t *testing.T, p transcriber.Provider, jobs jobstore.Store) *Server {
	t.Helper()

	metrics, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}
	if jobs == nil {
		jobs = jobstore.NewMemStore()
	}
	return New(Config{
		Provider:   p,
		Attributor: attribution.New(),
		Jobs:       jobs,
		Metrics:    metrics,
	})
}

// audioForm builds a multipart body with one "audio" file part.
func audioForm(t *testing.T, payload []byte) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("audio", "sesion.mp3")
	if err != nil {
		t.Fatalf("failed to build form: %v", err)
	}
	if _, err := fw.Write(payload); err != nil {
		t.Fatalf("failed to write form file: %v", err)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestHandleHealth(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeProvider{}, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "ok" || body["version"] != Version {
		t.Errorf("unexpected body %v", body)
	}
}

func TestHandleTranscribe(t *testing.T) {
	t.Parallel()

	var uploaded []byte
	p := &fakeProvider{
		uploadFn: func(_ context.Context, audio io.Reader) (string, error) {
			var err error
			uploaded, err = io.ReadAll(audio)
			return "https://cdn.example.org/u/1", err
		},
		submitFn: func(_ context.Context, audioURL string) (string, error) {
			if audioURL != "https://cdn.example.org/u/1" {
				t.Errorf("unexpected audio URL %q", audioURL)
			}
			return "job-42", nil
		},
		waitFn: func(_ context.Context, jobID string) (transcriber.Result, error) {
			return completedResult(), nil
		},
	}
	s := newTestServer(t, p, nil)

	body, contentType := audioForm(t, []byte("fake audio bytes"))
	req := httptest.NewRequest(http.MethodPost, "/transcribe", body)
	req.Header.Set("Content-Type", contentType)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if string(uploaded) != "fake audio bytes" {
		t.Errorf("provider did not receive the uploaded bytes, got %q", uploaded)
	}

	var payload struct {
		Status         transcriber.Status `json:"status"`
		SpeakerMapping map[string]string  `json:"speaker_mapping"`
		FormattedText  string             `json:"formatted_text"`
		TotalSpeakers  int                `json:"total_speakers"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if payload.Status != transcriber.StatusCompleted {
		t.Errorf("unexpected status %q", payload.Status)
	}
	if payload.SpeakerMapping["B"] != "Juan Pérez" {
		t.Errorf("unexpected mapping %v", payload.SpeakerMapping)
	}
	if payload.TotalSpeakers != 2 {
		t.Errorf("unexpected total speakers %d", payload.TotalSpeakers)
	}
	if !strings.Contains(payload.FormattedText, "Juan Pérez: Gracias") {
		t.Errorf("formatted text does not use the resolved name:\n%s", payload.FormattedText)
	}
}

func TestHandleTranscribe_MissingFile(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeProvider{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/transcribe", strings.NewReader("not a form"))
	req.Header.Set("Content-Type", "text/plain")

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var body struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Status != "error" || body.Message == "" {
		t.Errorf("unexpected error envelope %+v", body)
	}
}

func TestHandleTranscribe_UploadTooLarge(t *testing.T) {
	t.Parallel()

	metrics, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}
	s := New(Config{
		Provider:       &fakeProvider{},
		Attributor:     attribution.New(),
		Jobs:           jobstore.NewMemStore(),
		Metrics:        metrics,
		MaxUploadBytes: 64,
	})

	body, contentType := audioForm(t, bytes.Repeat([]byte("x"), 1024))
	req := httptest.NewRequest(http.MethodPost, "/transcribe", body)
	req.Header.Set("Content-Type", contentType)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}

func TestHandleTranscribe_ProviderFailure(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{
		uploadFn: func(context.Context, io.Reader) (string, error) {
			return "", errors.New("connection reset")
		},
	}
	s := newTestServer(t, p, nil)

	body, contentType := audioForm(t, []byte("audio"))
	req := httptest.NewRequest(http.MethodPost, "/transcribe", body)
	req.Header.Set("Content-Type", contentType)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleTranscribeAsync(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{
		uploadFn: func(context.Context, io.Reader) (string, error) {
			return "https://cdn.example.org/u/1", nil
		},
		submitFn: func(context.Context, string) (string, error) {
			return "job-42", nil
		},
	}
	jobs := jobstore.NewMemStore()
	s := newTestServer(t, p, jobs)

	body, contentType := audioForm(t, []byte("audio"))
	req := httptest.NewRequest(http.MethodPost, "/transcribe/async", body)
	req.Header.Set("Content-Type", contentType)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var payload struct {
		Status       string `json:"status"`
		TranscriptID string `json:"transcript_id"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if payload.TranscriptID != "job-42" {
		t.Errorf("unexpected transcript ID %q", payload.TranscriptID)
	}

	job, err := jobs.Get(context.Background(), "job-42")
	if err != nil {
		t.Fatalf("expected the job to be recorded: %v", err)
	}
	if job.Status != transcriber.StatusQueued {
		t.Errorf("unexpected job status %q", job.Status)
	}
	if job.Filename != "sesion.mp3" {
		t.Errorf("unexpected filename %q", job.Filename)
	}
}

func TestHandleStatus_Completed(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{
		statusFn: func(_ context.Context, jobID string) (transcriber.Result, error) {
			if jobID != "job-42" {
				t.Errorf("unexpected job ID %q", jobID)
			}
			return completedResult(), nil
		},
	}
	jobs := jobstore.NewMemStore()
	s := newTestServer(t, p, jobs)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status/job-42", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var payload struct {
		SpeakerMapping map[string]string `json:"speaker_mapping"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if payload.SpeakerMapping["B"] != "Juan Pérez" {
		t.Errorf("unexpected mapping %v", payload.SpeakerMapping)
	}

	// The enriched job is persisted even when polling started the flow.
	job, err := jobs.Get(context.Background(), "job-42")
	if err != nil {
		t.Fatalf("expected the job to be persisted: %v", err)
	}
	if job.SpeakerMapping["B"] != "Juan Pérez" || job.TotalSpeakers != 2 {
		t.Errorf("unexpected persisted job %+v", job)
	}
}

func TestHandleStatus_InFlight(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{
		statusFn: func(context.Context, string) (transcriber.Result, error) {
			return transcriber.Result{Status: transcriber.StatusProcessing}, nil
		},
	}
	s := newTestServer(t, p, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status/job-42", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload struct {
		Status         transcriber.Status `json:"status"`
		SpeakerMapping map[string]string  `json:"speaker_mapping"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if payload.Status != transcriber.StatusProcessing {
		t.Errorf("unexpected status %q", payload.Status)
	}
	if payload.SpeakerMapping != nil {
		t.Errorf("in-flight jobs must not carry a mapping, got %v", payload.SpeakerMapping)
	}
}

func TestHandleStatus_CompletedServedFromStore(t *testing.T) {
	t.Parallel()

	res := completedResult()
	jobs := jobstore.NewMemStore()
	if err := jobs.Create(context.Background(), jobstore.Job{
		ID:             "job-42",
		Status:         transcriber.StatusCompleted,
		Result:         &res,
		SpeakerMapping: attribution.Mapping{"B": "Juan Pérez"},
		FormattedText:  "A: Cede la palabra a Juan Pérez.\n\nJuan Pérez: Gracias, con su permiso.",
		TotalSpeakers:  2,
	}); err != nil {
		t.Fatalf("failed to seed the store: %v", err)
	}

	polled := false
	p := &fakeProvider{
		statusFn: func(context.Context, string) (transcriber.Result, error) {
			polled = true
			return transcriber.Result{}, errors.New("provider should not be consulted")
		},
	}
	s := newTestServer(t, p, jobs)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status/job-42", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if polled {
		t.Error("completed jobs must be served from the store, not re-polled")
	}

	var payload struct {
		Status         transcriber.Status `json:"status"`
		SpeakerMapping map[string]string  `json:"speaker_mapping"`
		TotalSpeakers  int                `json:"total_speakers"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if payload.Status != transcriber.StatusCompleted || payload.SpeakerMapping["B"] != "Juan Pérez" || payload.TotalSpeakers != 2 {
		t.Errorf("unexpected payload %+v", payload)
	}
}

func TestHandleJobs_ListsNewestFirst(t *testing.T) {
	t.Parallel()

	jobs := jobstore.NewMemStore()
	ctx := context.Background()
	if err := jobs.Create(ctx, jobstore.Job{ID: "job-1", Status: transcriber.StatusQueued, Filename: "sesion-enero.mp3"}); err != nil {
		t.Fatalf("failed to seed the store: %v", err)
	}
	time.Sleep(time.Millisecond)
	if err := jobs.Create(ctx, jobstore.Job{ID: "job-2", Status: transcriber.StatusCompleted, Filename: "sesion-febrero.mp3", TotalSpeakers: 3}); err != nil {
		t.Fatalf("failed to seed the store: %v", err)
	}

	s := newTestServer(t, &fakeProvider{}, jobs)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Jobs []struct {
			ID            string             `json:"id"`
			Status        transcriber.Status `json:"status"`
			Filename      string             `json:"filename"`
			TotalSpeakers int                `json:"total_speakers"`
			FormattedText string             `json:"formatted_text"`
		} `json:"jobs"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(body.Jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(body.Jobs))
	}
	if body.Jobs[0].ID != "job-2" || body.Jobs[1].ID != "job-1" {
		t.Errorf("expected newest job first, got %q then %q", body.Jobs[0].ID, body.Jobs[1].ID)
	}
	if body.Jobs[0].Status != transcriber.StatusCompleted || body.Jobs[0].TotalSpeakers != 3 {
		t.Errorf("unexpected summary %+v", body.Jobs[0])
	}
	if body.Jobs[0].FormattedText != "" {
		t.Error("listing entries must not carry the transcript payload")
	}
}

func TestCircuitBreakerShedsLoad(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{
		statusFn: func(context.Context, string) (transcriber.Result, error) {
			return transcriber.Result{}, errors.New("provider down")
		},
	}
	s := newTestServer(t, p, nil)
	h := s.Handler()

	// Five consecutive failures trip the breaker.
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status/job-42", nil))
		if rec.Code != http.StatusBadGateway {
			t.Fatalf("request %d: expected 502, got %d", i, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status/job-42", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 once the breaker is open, got %d", rec.Code)
	}
}

func TestCORS(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeProvider{}, nil)
	h := s.Handler()

	t.Run("preflight allows any origin by default", func(t *testing.T) {
		t.Parallel()

		req := httptest.NewRequest(http.MethodOptions, "/transcribe", nil)
		req.Header.Set("Origin", "https://app.example.org")

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", rec.Code)
		}
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
			t.Errorf("unexpected Allow-Origin %q", got)
		}
	})

	t.Run("configured origins are enforced", func(t *testing.T) {
		t.Parallel()

		metrics, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
		if err != nil {
			t.Fatalf("failed to create metrics: %v", err)
		}
		restricted := New(Config{
			Provider:    &fakeProvider{},
			Attributor:  attribution.New(),
			Jobs:        jobstore.NewMemStore(),
			Metrics:     metrics,
			CORSOrigins: []string{"https://cabildo.example.org"},
		}).Handler()

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "https://cabildo.example.org")
		rec := httptest.NewRecorder()
		restricted.ServeHTTP(rec, req)
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://cabildo.example.org" {
			t.Errorf("expected the configured origin to be echoed, got %q", got)
		}

		req = httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "https://evil.example.org")
		rec = httptest.NewRecorder()
		restricted.ServeHTTP(rec, req)
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("expected no Allow-Origin for a foreign origin, got %q", got)
		}
	})
}

func TestErrorEnvelopeForUnknownRoutes(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeProvider{}, nil)
	h := s.Handler()

	cases := []struct {
		method string
		path   string
		code   int
	}{
		{http.MethodGet, "/nope", http.StatusNotFound},
		{http.MethodGet, "/transcribe", http.StatusMethodNotAllowed},
		{http.MethodDelete, "/status/job-42", http.StatusMethodNotAllowed},
		{http.MethodDelete, "/jobs", http.StatusMethodNotAllowed},
	}

	for _, tc := range cases {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
		if rec.Code != tc.code {
			t.Errorf("%s %s: expected %d, got %d", tc.method, tc.path, tc.code, rec.Code)
		}
		var body struct {
			Status string `json:"status"`
		}
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("%s %s: failed to decode response: %v", tc.method, tc.path, err)
		}
		if body.Status != "error" {
			t.Errorf("%s %s: expected JSON error envelope, got %+v", tc.method, tc.path, body)
		}
	}
}

func TestReadyzProbe(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeProvider{}, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}
