package voice

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"storyforge/internal/domain"
	"storyforge/internal/storage"
)

func testStore(t *testing.T) *storage.FileStore {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir(), "http://assets")
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	return store
}

func TestSilentDuration(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    float64
	}{
		{"empty clamps low", "", 3},
		{"short clamps low", "hi", 3},
		{"proportional", strings.Repeat("a", 150), 10},
		{"long clamps high", strings.Repeat("a", 1000), 30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SilentDuration(tt.content); got != tt.want {
				t.Fatalf("SilentDuration() = %g, want %g", got, tt.want)
			}
		})
	}
}

func TestElevenLabsSynthesizerStoresAudio(t *testing.T) {
	audio := []byte("id3-not-really-mp3")

	var gotPath, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("xi-api-key")
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write(audio)
	}))
	defer srv.Close()

	store := testStore(t)
	s := NewElevenLabsSynthesizer(ElevenLabsOptions{
		APIKey:  "xi-test",
		BaseURL: srv.URL,
		VoiceID: "aria",
		Store:   store,
	})

	asset, err := s.Synthesize(context.Background(), Request{
		JobID:       "job-1",
		SceneNumber: 3,
		Content:     strings.Repeat("a", 150),
	})
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if want := "http://assets/jobs/job-1/scene-03.mp3"; asset.URL != want {
		t.Fatalf("URL = %q, want %q", asset.URL, want)
	}
	if asset.DurationSec != 10 {
		t.Fatalf("DurationSec = %g, want 10", asset.DurationSec)
	}
	if gotPath != "/v1/text-to-speech/aria" {
		t.Fatalf("path = %q, want voice-scoped endpoint", gotPath)
	}
	if gotKey != "xi-test" {
		t.Fatalf("xi-api-key = %q, want the configured key", gotKey)
	}

	stored, err := store.Read(context.Background(), "jobs/job-1/scene-03.mp3")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(stored) != string(audio) {
		t.Fatal("stored audio does not match the response body")
	}
}

func TestElevenLabsSynthesizerErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   domain.ErrorKind
	}{
		{"rate limited", http.StatusTooManyRequests, domain.KindUpstreamRateLimited},
		{"server error", http.StatusServiceUnavailable, domain.KindUpstreamUnavailable},
		{"client error", http.StatusUnauthorized, domain.KindUpstreamBadResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			s := NewElevenLabsSynthesizer(ElevenLabsOptions{APIKey: "xi-test", BaseURL: srv.URL, Store: testStore(t)})
			_, err := s.Synthesize(context.Background(), Request{JobID: "job-1", SceneNumber: 1, Content: "x"})
			if err == nil {
				t.Fatal("expected an error")
			}
			if got := domain.KindOf(err); got != tt.want {
				t.Fatalf("kind = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestElevenLabsSynthesizerRejectsEmptyAudio(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	s := NewElevenLabsSynthesizer(ElevenLabsOptions{APIKey: "xi-test", BaseURL: srv.URL, Store: testStore(t)})
	_, err := s.Synthesize(context.Background(), Request{JobID: "job-1", SceneNumber: 1, Content: "x"})
	if got := domain.KindOf(err); got != domain.KindUpstreamBadResponse {
		t.Fatalf("kind = %s, want %s", got, domain.KindUpstreamBadResponse)
	}
}
