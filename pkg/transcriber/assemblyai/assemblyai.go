// Package assemblyai provides an AssemblyAI-backed transcription provider
// using the v2 REST job API. It implements the transcriber.Provider
// interface: upload the audio, submit a transcription job with speaker
// diarization and entity detection enabled, then poll the job until done.
package assemblyai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cabildolabs/cabildo/pkg/transcriber"
)

const (
	defaultBaseURL      = "https://api.assemblyai.com"
	defaultPollInterval = 3 * time.Second
)

// Option is a functional option for configuring the AssemblyAI Provider.
type Option func(*Provider)

// WithBaseURL overrides the API endpoint. Mainly useful for tests.
func WithBaseURL(baseURL string) Option {
	return func(p *Provider) {
		p.baseURL = baseURL
	}
}

// WithHTTPClient replaces the default [http.Client].
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// WithPollInterval sets the delay between status polls in
// [Provider.Wait]. Default: 3 seconds.
func WithPollInterval(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// Provider implements transcriber.Provider backed by the AssemblyAI v2 API.
type Provider struct {
	apiKey       string
	baseURL      string
	pollInterval time.Duration
	httpClient   *http.Client
}

// Compile-time interface check.
var _ transcriber.Provider = (*Provider)(nil)

// New creates a new AssemblyAI Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("assemblyai: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		baseURL:      defaultBaseURL,
		pollInterval: defaultPollInterval,
		httpClient:   &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ---- API message types ----

// uploadResponse is the JSON body returned by POST /v2/upload.
type uploadResponse struct {
	UploadURL string `json:"upload_url"`
}

// submitRequest is the JSON payload for POST /v2/transcript. The field set
// mirrors the production settings used for council sessions: automatic
// language detection, speaker diarization, and entity detection.
type submitRequest struct {
	AudioURL                    string   `json:"audio_url"`
	LanguageDetection           bool     `json:"language_detection"`
	SpeechModels                []string `json:"speech_models"`
	LanguageConfidenceThreshold float64  `json:"language_confidence_threshold"`
	BoostParam                  string   `json:"boost_param"`
	Punctuate                   bool     `json:"punctuate"`
	FormatText                  bool     `json:"format_text"`
	SpeakerLabels               bool     `json:"speaker_labels"`
	FilterProfanity             bool     `json:"filter_profanity"`
	RedactPII                   bool     `json:"redact_pii"`
	EntityDetection             bool     `json:"entity_detection"`
	SpeakersExpected            *int     `json:"speakers_expected"`
}

// transcriptResponse is the JSON body of both the submit response and the
// status poll. Timestamps are reported in milliseconds.
type transcriptResponse struct {
	ID            string  `json:"id"`
	Status        string  `json:"status"`
	Text          string  `json:"text"`
	LanguageCode  string  `json:"language_code"`
	Confidence    float64 `json:"confidence"`
	AudioDuration float64 `json:"audio_duration"`
	Error         string  `json:"error"`
	Utterances    []struct {
		Speaker    string  `json:"speaker"`
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
		Start      int64   `json:"start"`
		End        int64   `json:"end"`
	} `json:"utterances"`
	Entities []struct {
		EntityType string `json:"entity_type"`
		Text       string `json:"text"`
	} `json:"entities"`
}

// Upload streams the audio to POST /v2/upload and returns the provider-side
// URL of the stored audio.
func (p *Provider) Upload(ctx context.Context, audio io.Reader) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v2/upload", audio)
	if err != nil {
		return "", fmt.Errorf("assemblyai: build upload request: %w", err)
	}
	req.Header.Set("Authorization", p.apiKey)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("assemblyai: upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apiError("upload", resp)
	}

	var ur uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&ur); err != nil {
		return "", fmt.Errorf("assemblyai: decode upload response: %w", err)
	}
	if ur.UploadURL == "" {
		return "", errors.New("assemblyai: upload response missing upload_url")
	}
	return ur.UploadURL, nil
}

// Submit starts a transcription job for audioURL and returns the job ID.
func (p *Provider) Submit(ctx context.Context, audioURL string) (string, error) {
	payload := submitRequest{
		AudioURL:                    audioURL,
		LanguageDetection:           true,
		SpeechModels:                []string{"universal-3-pro", "universal-2"},
		LanguageConfidenceThreshold: 0.7,
		BoostParam:                  "high",
		Punctuate:                   true,
		FormatText:                  true,
		SpeakerLabels:               true,
		EntityDetection:             true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("assemblyai: marshal submit payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v2/transcript", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("assemblyai: build submit request: %w", err)
	}
	req.Header.Set("Authorization", p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("assemblyai: submit: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apiError("submit", resp)
	}

	var tr transcriptResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("assemblyai: decode submit response: %w", err)
	}
	if tr.ID == "" {
		return "", errors.New("assemblyai: submit response missing id")
	}
	return tr.ID, nil
}

// Status fetches GET /v2/transcript/{id} exactly once and converts the
// provider payload into a [transcriber.Result].
func (p *Provider) Status(ctx context.Context, jobID string) (transcriber.Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v2/transcript/"+jobID, nil)
	if err != nil {
		return transcriber.Result{}, fmt.Errorf("assemblyai: build status request: %w", err)
	}
	req.Header.Set("Authorization", p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return transcriber.Result{}, fmt.Errorf("assemblyai: status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return transcriber.Result{}, apiError("status", resp)
	}

	var tr transcriptResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return transcriber.Result{}, fmt.Errorf("assemblyai: decode status response: %w", err)
	}
	return toResult(tr), nil
}

// Wait polls the job at the configured interval until it reaches a terminal
// status or ctx is cancelled.
func (p *Provider) Wait(ctx context.Context, jobID string) (transcriber.Result, error) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		res, err := p.Status(ctx, jobID)
		if err != nil {
			return transcriber.Result{}, err
		}
		if res.Status.Terminal() {
			return res, nil
		}

		select {
		case <-ctx.Done():
			return transcriber.Result{}, fmt.Errorf("assemblyai: wait for job %s: %w", jobID, ctx.Err())
		case <-ticker.C:
		}
	}
}

// toResult converts the raw API payload into the provider-neutral result.
func toResult(tr transcriptResponse) transcriber.Result {
	res := transcriber.Result{
		Text:          tr.Text,
		LanguageCode:  tr.LanguageCode,
		Confidence:    tr.Confidence,
		AudioDuration: tr.AudioDuration,
		Error:         tr.Error,
	}

	switch tr.Status {
	case "completed":
		res.Status = transcriber.StatusCompleted
	case "error":
		res.Status = transcriber.StatusError
	case "queued":
		res.Status = transcriber.StatusQueued
	default:
		res.Status = transcriber.StatusProcessing
	}

	for _, u := range tr.Utterances {
		res.Utterances = append(res.Utterances, transcriber.Utterance{
			Speaker:    u.Speaker,
			Text:       u.Text,
			Confidence: u.Confidence,
			Start:      time.Duration(u.Start) * time.Millisecond,
			End:        time.Duration(u.End) * time.Millisecond,
		})
	}
	for _, e := range tr.Entities {
		res.Entities = append(res.Entities, transcriber.Entity{Type: e.EntityType, Text: e.Text})
	}
	return res
}

// apiError drains up to 1 KiB of the response body into the error message.
func apiError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return fmt.Errorf("assemblyai: %s: unexpected status %d: %s", op, resp.StatusCode, bytes.TrimSpace(body))
}
