package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, ""},
		{"typed", Errorf(KindAssemblyFailed, "boom"), KindAssemblyFailed},
		{"wrapped typed", fmt.Errorf("outer: %w", Errorf(KindTimeout, "slow")), KindTimeout},
		{"parser exhausted", ErrParserExhausted, KindParserExhausted},
		{"not found", ErrNotFound, KindValidation},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"canceled", context.Canceled, KindCancelled},
		{"untyped", errors.New("mystery"), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Fatalf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTransient(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want bool
	}{
		{KindUpstreamUnavailable, true},
		{KindUpstreamRateLimited, true},
		{KindTimeout, true},
		{KindUpstreamBadResponse, false},
		{KindAssemblyFailed, false},
		{KindValidation, false},
		{KindCancelled, false},
	}
	for _, tt := range tests {
		if got := Transient(Errorf(tt.kind, "x")); got != tt.want {
			t.Fatalf("Transient(%s) = %v, want %v", tt.kind, got, tt.want)
		}
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("root")
	err := NewError(KindStorageUnavailable, "write failed", cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected the cause to be reachable through Unwrap")
	}
	if err.Error() != "StorageUnavailable: write failed" {
		t.Fatalf("Error() = %q", err.Error())
	}
}

func TestTerminalStatesAndPhases(t *testing.T) {
	for _, s := range []JobState{JobStateSucceeded, JobStateFailed, JobStateCancelled} {
		if !s.Terminal() {
			t.Fatalf("state %s must be terminal", s)
		}
	}
	for _, s := range []JobState{JobStateQueued, JobStateRunning} {
		if s.Terminal() {
			t.Fatalf("state %s must not be terminal", s)
		}
	}
	for _, p := range []JobPhase{PhaseDone, PhaseFailed, PhaseCancelled} {
		if !p.Terminal() {
			t.Fatalf("phase %s must be terminal", p)
		}
	}
	if PhaseAssembling.Terminal() {
		t.Fatal("Assembling must not be terminal")
	}
}

func TestJobRecordCloneIsDeep(t *testing.T) {
	rec := &JobRecord{
		ID:    "job-1",
		State: JobStateRunning,
		Story: &Story{Title: "T", Scenes: []Scene{{Number: 1, Title: "A"}}},
		Request: JobRequest{
			Character: Character{Name: "Mila", Meta: map[string]string{"summary": "sails"}},
		},
		Artifacts: Artifacts{SceneImages: []string{"a"}, SceneAudios: []string{"b"}},
	}

	clone := rec.Clone()
	clone.Story.Scenes[0].Title = "changed"
	clone.Artifacts.SceneImages[0] = "changed"
	clone.Request.Character.Meta["summary"] = "changed"

	if rec.Story.Scenes[0].Title != "A" {
		t.Fatal("clone shares the scenes slice")
	}
	if rec.Artifacts.SceneImages[0] != "a" {
		t.Fatal("clone shares the artifacts slice")
	}
	if rec.Request.Character.Meta["summary"] != "sails" {
		t.Fatal("clone shares the character metadata map")
	}
}
