package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"storyforge/internal/domain"
	"storyforge/internal/storage"
)

const (
	ttsDefaultTimeout = 60 * time.Second
	defaultVoiceID    = "narrator"
)

// ElevenLabsOptions configures the narration client.
type ElevenLabsOptions struct {
	APIKey     string
	BaseURL    string
	VoiceID    string
	HTTPClient *http.Client
	Store      *storage.FileStore
}

// ElevenLabsSynthesizer turns scene prose into narration audio and persists
// the clip through the blob store under a job-and-scene key, keeping retries
// idempotent.
type ElevenLabsSynthesizer struct {
	apiKey  string
	baseURL string
	voiceID string
	client  *http.Client
	store   *storage.FileStore
}

type ttsRequest struct {
	Text     string `json:"text"`
	ModelID  string `json:"model_id,omitempty"`
	Language string `json:"language_code,omitempty"`
}

// NewElevenLabsSynthesizer constructs the narration client.
func NewElevenLabsSynthesizer(opts ElevenLabsOptions) *ElevenLabsSynthesizer {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.elevenlabs.io"
	}
	voiceID := strings.TrimSpace(opts.VoiceID)
	if voiceID == "" {
		voiceID = defaultVoiceID
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: ttsDefaultTimeout}
	}
	return &ElevenLabsSynthesizer{
		apiKey:  strings.TrimSpace(opts.APIKey),
		baseURL: baseURL,
		voiceID: voiceID,
		client:  client,
		store:   opts.Store,
	}
}

// Synthesize renders one narration clip and returns its durable URL together
// with the estimated duration.
func (s *ElevenLabsSynthesizer) Synthesize(ctx context.Context, req Request) (Asset, error) {
	voiceID := strings.TrimSpace(req.VoiceID)
	if voiceID == "" {
		voiceID = s.voiceID
	}

	payload := ttsRequest{Text: req.Content, ModelID: "eleven_multilingual_v2", Language: req.Language}
	body, err := json.Marshal(payload)
	if err != nil {
		return Asset{}, domain.NewError(domain.KindInternal, "marshal tts request", err)
	}

	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s", s.baseURL, url.PathEscape(voiceID))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Asset{}, domain.NewError(domain.KindInternal, "build tts request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/mpeg")
	if s.apiKey != "" {
		httpReq.Header.Set("xi-api-key", s.apiKey)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return Asset{}, ctx.Err()
		}
		return Asset{}, domain.NewError(domain.KindUpstreamUnavailable, "tts request failed", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return Asset{}, domain.Errorf(domain.KindUpstreamRateLimited, "tts status %d", resp.StatusCode)
	case resp.StatusCode >= http.StatusInternalServerError:
		return Asset{}, domain.Errorf(domain.KindUpstreamUnavailable, "tts status %d", resp.StatusCode)
	case resp.StatusCode >= http.StatusMultipleChoices:
		return Asset{}, domain.Errorf(domain.KindUpstreamBadResponse, "tts status %d", resp.StatusCode)
	}

	audio, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return Asset{}, domain.NewError(domain.KindUpstreamBadResponse, "read tts audio", err)
	}
	if len(audio) == 0 {
		return Asset{}, domain.Errorf(domain.KindUpstreamBadResponse, "tts returned no audio")
	}

	key := fmt.Sprintf("jobs/%s/scene-%02d.mp3", req.JobID, req.SceneNumber)
	if _, err := s.store.Write(ctx, key, audio); err != nil {
		return Asset{}, err
	}
	return Asset{URL: s.store.URL(key), DurationSec: SilentDuration(req.Content)}, nil
}

var _ Synthesizer = (*ElevenLabsSynthesizer)(nil)
