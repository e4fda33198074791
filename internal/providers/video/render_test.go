package video

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"storyforge/internal/domain"
)

func testClips() []Clip {
	return []Clip{
		{ImageURL: "http://assets/jobs/job-1/scene-01.png", AudioURL: "http://assets/jobs/job-1/scene-01.mp3", DurationSec: 5},
		{ImageURL: "http://assets/jobs/job-1/scene-02.png", AudioURL: "http://assets/jobs/job-1/scene-02.mp3", DurationSec: 7},
	}
}

func TestRenderClientAssemble(t *testing.T) {
	var gotReq renderRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/render" {
			t.Errorf("path = %q, want /render", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_ = json.NewEncoder(w).Encode(renderResponse{
			Success: true,
			URL:     "http://render/out/job-1.mp4",
			Format:  "video/mp4",
		})
	}))
	defer srv.Close()

	c := NewRenderClient(RenderOptions{BaseURL: srv.URL})
	asset, err := c.Assemble(context.Background(), Request{JobID: "job-1", Title: "Harbor Lights", Clips: testClips()})
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if asset.URL != "http://render/out/job-1.mp4" {
		t.Fatalf("URL = %q, want the render url", asset.URL)
	}
	if asset.Format != "video/mp4" {
		t.Fatalf("Format = %q, want video/mp4", asset.Format)
	}
	if gotReq.JobID != "job-1" || gotReq.Title != "Harbor Lights" {
		t.Fatalf("request = %+v, want job id and title forwarded", gotReq)
	}
	if len(gotReq.Clips) != 2 || gotReq.Clips[1].DurationSec != 7 {
		t.Fatalf("clips = %+v, want both clips in order", gotReq.Clips)
	}
}

func TestRenderClientRejectsEmptyClips(t *testing.T) {
	c := NewRenderClient(RenderOptions{BaseURL: "http://127.0.0.1:1"})
	_, err := c.Assemble(context.Background(), Request{JobID: "job-1"})
	if got := domain.KindOf(err); got != domain.KindAssemblyFailed {
		t.Fatalf("kind = %s, want %s", got, domain.KindAssemblyFailed)
	}
}

func TestRenderClientErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   domain.ErrorKind
	}{
		{"rate limited", http.StatusTooManyRequests, "", domain.KindUpstreamRateLimited},
		{"server error", http.StatusBadGateway, "", domain.KindUpstreamUnavailable},
		{"client error", http.StatusUnprocessableEntity, "", domain.KindAssemblyFailed},
		{"reported failure", http.StatusOK, `{"success":false,"error":"codec mismatch"}`, domain.KindAssemblyFailed},
		{"missing url", http.StatusOK, `{"success":true}`, domain.KindAssemblyFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewRenderClient(RenderOptions{BaseURL: srv.URL})
			_, err := c.Assemble(context.Background(), Request{JobID: "job-1", Clips: testClips()})
			if err == nil {
				t.Fatal("expected an error")
			}
			if got := domain.KindOf(err); got != tt.want {
				t.Fatalf("kind = %s, want %s", got, tt.want)
			}
		})
	}
}
