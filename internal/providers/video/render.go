package video

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"storyforge/internal/domain"
)

const renderDefaultTimeout = 180 * time.Second

// RenderOptions configures the render service client.
type RenderOptions struct {
	BaseURL    string
	HTTPClient *http.Client
}

// RenderClient assembles scene clips into a single video through the render
// service. Encoding failures reported by the service are fatal for the job;
// transport faults stay retryable.
type RenderClient struct {
	baseURL string
	client  *http.Client
}

type renderRequest struct {
	JobID string `json:"jobId"`
	Title string `json:"title,omitempty"`
	Clips []Clip `json:"clips"`
}

type renderResponse struct {
	Success bool   `json:"success"`
	URL     string `json:"url"`
	Format  string `json:"format"`
	Error   string `json:"error"`
}

// NewRenderClient constructs the render service client.
func NewRenderClient(opts RenderOptions) *RenderClient {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: renderDefaultTimeout}
	}
	return &RenderClient{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		client:  client,
	}
}

// Assemble encodes the ordered clips into one video and returns its durable
// URL.
func (c *RenderClient) Assemble(ctx context.Context, req Request) (Asset, error) {
	if len(req.Clips) == 0 {
		return Asset{}, domain.Errorf(domain.KindAssemblyFailed, "no clips to assemble")
	}
	body, err := json.Marshal(renderRequest{JobID: req.JobID, Title: req.Title, Clips: req.Clips})
	if err != nil {
		return Asset{}, domain.NewError(domain.KindInternal, "marshal render request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/render", bytes.NewReader(body))
	if err != nil {
		return Asset{}, domain.NewError(domain.KindInternal, "build render request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return Asset{}, ctx.Err()
		}
		return Asset{}, domain.NewError(domain.KindUpstreamUnavailable, "render request failed", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return Asset{}, domain.Errorf(domain.KindUpstreamRateLimited, "render status %d", resp.StatusCode)
	case resp.StatusCode >= http.StatusInternalServerError:
		return Asset{}, domain.Errorf(domain.KindUpstreamUnavailable, "render status %d", resp.StatusCode)
	case resp.StatusCode >= http.StatusMultipleChoices:
		return Asset{}, domain.Errorf(domain.KindAssemblyFailed, "render status %d", resp.StatusCode)
	}

	var out renderResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Asset{}, domain.NewError(domain.KindAssemblyFailed, "decode render response", err)
	}
	if !out.Success || out.URL == "" {
		msg := out.Error
		if msg == "" {
			msg = "render service returned no video"
		}
		return Asset{}, domain.Errorf(domain.KindAssemblyFailed, "%s", msg)
	}

	format := out.Format
	if format == "" {
		format = "video/mp4"
	}
	return Asset{URL: out.URL, Format: format}, nil
}

var _ Assembler = (*RenderClient)(nil)
