package text

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	"storyforge/internal/domain"
)

var markerRe = regexp.MustCompile(`(?m)^SCENE \d+:`)

func TestStaticWriterProducesMarkeredStory(t *testing.T) {
	w := NewStaticWriter()
	story, err := w.GenerateStory(context.Background(), Request{
		Prompt:        "the lighthouse that stopped shining",
		CharacterName: "Mila",
		MaxScenes:     4,
	})
	if err != nil {
		t.Fatalf("GenerateStory() error = %v", err)
	}
	if got := len(markerRe.FindAllString(story, -1)); got != 4 {
		t.Fatalf("scene markers = %d, want 4", got)
	}
	if !strings.Contains(story, "Mila") {
		t.Fatal("expected the character name in the story")
	}
	if !strings.Contains(story, "the lighthouse that stopped shining") {
		t.Fatal("expected the prompt subject in the story")
	}
}

func TestStaticWriterDefaults(t *testing.T) {
	w := NewStaticWriter()
	story, err := w.GenerateStory(context.Background(), Request{})
	if err != nil {
		t.Fatalf("GenerateStory() error = %v", err)
	}
	if got := len(markerRe.FindAllString(story, -1)); got != 4 {
		t.Fatalf("scene markers = %d, want 4", got)
	}
}

func TestOpenAIWriterFallsBackWithoutKey(t *testing.T) {
	w := NewOpenAIWriter(OpenAIOptions{BaseURL: "http://127.0.0.1:1"})
	story, err := w.GenerateStory(context.Background(), Request{CharacterName: "Mila", MaxScenes: 4})
	if err != nil {
		t.Fatalf("GenerateStory() error = %v", err)
	}
	if got := len(markerRe.FindAllString(story, -1)); got != 4 {
		t.Fatalf("scene markers = %d, want 4 from the static fallback", got)
	}
}

func TestOpenAIWriterParsesResponse(t *testing.T) {
	const want = "SCENE 1: Test\nA single test scene."

	var gotAuth, gotPath string
	var gotReq openAIChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": want}},
			},
		})
	}))
	defer srv.Close()

	w := NewOpenAIWriter(OpenAIOptions{APIKey: "sk-test", Model: "gpt-test", BaseURL: srv.URL})
	story, err := w.GenerateStory(context.Background(), Request{Prompt: "a test", CharacterName: "Mila"})
	if err != nil {
		t.Fatalf("GenerateStory() error = %v", err)
	}
	if story != want {
		t.Fatalf("story = %q, want %q", story, want)
	}
	if gotAuth != "Bearer sk-test" {
		t.Fatalf("Authorization = %q, want bearer token", gotAuth)
	}
	if gotPath != "/chat/completions" {
		t.Fatalf("path = %q, want /chat/completions", gotPath)
	}
	if gotReq.Model != "gpt-test" {
		t.Fatalf("model = %q, want gpt-test", gotReq.Model)
	}
	if len(gotReq.Messages) != 2 || gotReq.Messages[0].Role != "system" {
		t.Fatalf("messages = %+v, want system then user", gotReq.Messages)
	}
}

func TestOpenAIWriterStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   domain.ErrorKind
	}{
		{"rate limited", http.StatusTooManyRequests, domain.KindUpstreamRateLimited},
		{"server error", http.StatusInternalServerError, domain.KindUpstreamUnavailable},
		{"client error", http.StatusBadRequest, domain.KindUpstreamBadResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			w := NewOpenAIWriter(OpenAIOptions{APIKey: "sk-test", BaseURL: srv.URL})
			_, err := w.GenerateStory(context.Background(), Request{Prompt: "a test"})
			if err == nil {
				t.Fatal("expected an error")
			}
			if got := domain.KindOf(err); got != tt.want {
				t.Fatalf("kind = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestOpenAIWriterRejectsEmptyStory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer srv.Close()

	w := NewOpenAIWriter(OpenAIOptions{APIKey: "sk-test", BaseURL: srv.URL})
	_, err := w.GenerateStory(context.Background(), Request{Prompt: "a test"})
	if got := domain.KindOf(err); got != domain.KindUpstreamBadResponse {
		t.Fatalf("kind = %s, want %s", got, domain.KindUpstreamBadResponse)
	}
}
