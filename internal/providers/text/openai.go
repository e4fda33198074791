package text

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"storyforge/internal/domain"
)

const (
	openAIDefaultTimeout = 60 * time.Second
	defaultOpenAIModel   = "gpt-4o-mini"
)

// OpenAIOptions controls how the OpenAI story writer is configured.
type OpenAIOptions struct {
	APIKey       string
	Model        string
	BaseURL      string
	Organization string
	HTTPClient   *http.Client
}

// OpenAIWriter generates story prose through the chat completions API. When
// no API key is configured it degrades to the StaticWriter so the rest of
// the pipeline stays exercised.
type OpenAIWriter struct {
	apiKey       string
	model        string
	baseURL      string
	organization string
	client       *http.Client
	static       *StaticWriter
}

type openAIChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// NewOpenAIWriter constructs a writer with sane defaults.
func NewOpenAIWriter(opts OpenAIOptions) *OpenAIWriter {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultOpenAIModel
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: openAIDefaultTimeout}
	}
	return &OpenAIWriter{
		apiKey:       strings.TrimSpace(opts.APIKey),
		model:        model,
		baseURL:      baseURL,
		organization: strings.TrimSpace(opts.Organization),
		client:       client,
		static:       NewStaticWriter(),
	}
}

// GenerateStory asks the model for a story split into "SCENE <n>:" segments.
func (o *OpenAIWriter) GenerateStory(ctx context.Context, req Request) (string, error) {
	if o.apiKey == "" {
		return o.static.GenerateStory(ctx, req)
	}

	payload := openAIChatRequest{
		Model:       o.model,
		Temperature: 0.8,
		Messages: []openAIMessage{
			{Role: "system", Content: buildSystemPrompt(req)},
			{Role: "user", Content: buildUserPrompt(req)},
		},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return "", domain.NewError(domain.KindInternal, "encode chat request", err)
	}

	endpoint := fmt.Sprintf("%s/chat/completions", o.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return "", domain.NewError(domain.KindInternal, "build chat request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	if o.organization != "" {
		httpReq.Header.Set("OpenAI-Organization", o.organization)
	}

	resp, err := o.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", domain.NewError(domain.KindUpstreamUnavailable, "openai request failed", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", domain.Errorf(domain.KindUpstreamRateLimited, "openai status %d", resp.StatusCode)
	case resp.StatusCode >= http.StatusInternalServerError:
		return "", domain.Errorf(domain.KindUpstreamUnavailable, "openai status %d", resp.StatusCode)
	case resp.StatusCode >= http.StatusMultipleChoices:
		return "", domain.Errorf(domain.KindUpstreamBadResponse, "openai status %d", resp.StatusCode)
	}

	var out openAIChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", domain.NewError(domain.KindUpstreamBadResponse, "decode chat response", err)
	}
	if len(out.Choices) == 0 {
		return "", domain.Errorf(domain.KindUpstreamBadResponse, "openai returned no choices")
	}
	story := strings.TrimSpace(out.Choices[0].Message.Content)
	if story == "" {
		return "", domain.Errorf(domain.KindUpstreamBadResponse, "openai returned empty story")
	}
	return story, nil
}

func buildSystemPrompt(req Request) string {
	n := req.MaxScenes
	if n <= 0 {
		n = 4
	}
	return fmt.Sprintf(
		"You are a children's story writer. Write stories split into exactly %d scenes. "+
			"Begin every scene with a line of the form \"SCENE <number>: <scene title>\" "+
			"followed by two to four sentences of prose. Do not add any other headings.", n)
}

func buildUserPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a %s story", coalesce(req.Genre, "adventure"))
	if req.Tone != "" {
		fmt.Fprintf(&b, " with a %s tone", req.Tone)
	}
	if req.LengthBucket != "" {
		fmt.Fprintf(&b, " (%s length)", req.LengthBucket)
	}
	fmt.Fprintf(&b, " about %s.", coalesce(req.CharacterName, "a brave hero"))
	if req.CharacterSummary != "" {
		fmt.Fprintf(&b, "\nThe main character: %s.", req.CharacterSummary)
	}
	if req.Prompt != "" {
		fmt.Fprintf(&b, "\nStory idea: %s", req.Prompt)
	}
	return b.String()
}

func coalesce(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

var _ Writer = (*OpenAIWriter)(nil)
