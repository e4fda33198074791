package image

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"storyforge/internal/domain"
	"storyforge/internal/storage"
)

const diffusionDefaultTimeout = 90 * time.Second

// knownStyles are the profiles exposed by the diffusion sidecar.
var knownStyles = map[string]struct{}{
	"cartoon":   {},
	"anime":     {},
	"storybook": {},
	"realistic": {},
}

// DiffusionOptions configures the sidecar client.
type DiffusionOptions struct {
	BaseURL    string
	HTTPClient *http.Client
	Store      *storage.FileStore
}

// DiffusionGenerator renders scene images through the local Stable Diffusion
// sidecar and persists the returned bytes through the blob store, so retries
// overwrite the same key instead of duplicating assets.
type DiffusionGenerator struct {
	baseURL string
	client  *http.Client
	store   *storage.FileStore
}

type diffusionRequest struct {
	Prompt string `json:"prompt"`
	Style  string `json:"style"`
	Seed   int64  `json:"seed"`
}

type diffusionResponse struct {
	Success bool   `json:"success"`
	Image   string `json:"image"`
	Format  string `json:"format"`
	Error   string `json:"error"`
}

// NewDiffusionGenerator constructs the sidecar client.
func NewDiffusionGenerator(opts DiffusionOptions) *DiffusionGenerator {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: diffusionDefaultTimeout}
	}
	return &DiffusionGenerator{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		client:  client,
		store:   opts.Store,
	}
}

// Generate renders one scene image. The seed is derived from job id and
// scene number, so a retried attempt reproduces the same frame.
func (g *DiffusionGenerator) Generate(ctx context.Context, req Request) (Asset, error) {
	payload := diffusionRequest{
		Prompt: buildScenePrompt(req),
		Style:  NormalizeStyle(req.Style),
		Seed:   deterministicSeed(req.JobID, req.SceneNumber),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Asset{}, domain.NewError(domain.KindInternal, "marshal generate request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return Asset{}, domain.NewError(domain.KindInternal, "build generate request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return Asset{}, ctx.Err()
		}
		return Asset{}, domain.NewError(domain.KindUpstreamUnavailable, "diffusion request failed", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return Asset{}, domain.Errorf(domain.KindUpstreamRateLimited, "diffusion status %d", resp.StatusCode)
	case resp.StatusCode >= http.StatusInternalServerError:
		return Asset{}, domain.Errorf(domain.KindUpstreamUnavailable, "diffusion status %d", resp.StatusCode)
	case resp.StatusCode >= http.StatusMultipleChoices:
		return Asset{}, domain.Errorf(domain.KindUpstreamBadResponse, "diffusion status %d", resp.StatusCode)
	}

	var out diffusionResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 32<<20)).Decode(&out); err != nil {
		return Asset{}, domain.NewError(domain.KindUpstreamBadResponse, "decode diffusion response", err)
	}
	if !out.Success {
		return Asset{}, domain.Errorf(domain.KindUpstreamBadResponse, "diffusion error: %s", coalesce(out.Error, "unknown"))
	}
	data, err := base64.StdEncoding.DecodeString(out.Image)
	if err != nil || len(data) == 0 {
		return Asset{}, domain.NewError(domain.KindUpstreamBadResponse, "decode diffusion image", err)
	}

	key := fmt.Sprintf("jobs/%s/scene-%02d.png", req.JobID, req.SceneNumber)
	if _, err := g.store.Write(ctx, key, data); err != nil {
		return Asset{}, err
	}
	return Asset{URL: g.store.URL(key), Format: "image/png"}, nil
}

// Placeholder returns the style-matched stand-in frame used when generation
// is exhausted.
func (g *DiffusionGenerator) Placeholder(req Request) Asset {
	key := fmt.Sprintf("placeholders/%s.png", NormalizeStyle(req.Style))
	return Asset{URL: g.store.URL(key), Format: "image/png"}
}

// NormalizeStyle maps free-form story types onto a sidecar style profile.
func NormalizeStyle(style string) string {
	s := strings.ToLower(strings.TrimSpace(style))
	if _, ok := knownStyles[s]; ok {
		return s
	}
	switch s {
	case "fairy-tale", "fairytale", "bedtime":
		return "storybook"
	case "comic", "superhero":
		return "cartoon"
	default:
		return "cartoon"
	}
}

func buildScenePrompt(req Request) string {
	var b strings.Builder
	if name := strings.TrimSpace(req.CharacterName); name != "" {
		b.WriteString(name)
		b.WriteString(", ")
	}
	b.WriteString(strings.TrimSpace(req.Content))
	if ref := strings.TrimSpace(req.CharacterImageURL); ref != "" {
		b.WriteString("\nCharacter reference: ")
		b.WriteString(ref)
	}
	return b.String()
}

func deterministicSeed(jobID string, sceneNumber int) int64 {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d", jobID, sceneNumber)))
	return int64(binary.BigEndian.Uint64(sum[:8]) & (1<<62 - 1))
}

func coalesce(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

var _ Generator = (*DiffusionGenerator)(nil)
