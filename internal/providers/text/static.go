package text

import (
	"context"
	"fmt"
	"strings"
)

// StaticWriter produces a deterministic markered story without calling any
// upstream model. It keeps the pipeline fully operational in local and CI
// environments where no API key is configured.
type StaticWriter struct{}

// NewStaticWriter constructs a StaticWriter.
func NewStaticWriter() *StaticWriter {
	return &StaticWriter{}
}

var staticBeats = []struct {
	title string
	beat  string
}{
	{"The Call", "%s hears about %s and decides to see it with their own eyes.\nThe morning is quiet, but something in the air says it will not stay that way."},
	{"The Obstacle", "Halfway there, %s runs into trouble: %s is harder than anyone said.\nEvery shortcut turns out to be a dead end."},
	{"The Turn", "Just when giving up seems easiest, %s finds an unexpected ally.\nTogether they look at %s from a completely new angle."},
	{"Home Again", "%s returns with the answer to %s in hand.\nThe journey was the hard part; telling the story is the fun part."},
}

// GenerateStory renders a four-scene story around the prompt and character.
func (w *StaticWriter) GenerateStory(_ context.Context, req Request) (string, error) {
	name := strings.TrimSpace(req.CharacterName)
	if name == "" {
		name = "The hero"
	}
	subject := strings.TrimSpace(req.Prompt)
	if subject == "" {
		subject = "a mystery nobody could explain"
	}

	n := req.MaxScenes
	if n <= 0 || n > len(staticBeats) {
		n = len(staticBeats)
	}

	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "SCENE %d: %s\n", i+1, staticBeats[i].title)
		fmt.Fprintf(&b, staticBeats[i].beat, name, subject)
		b.WriteString("\n\n")
	}
	return b.String(), nil
}

var _ Writer = (*StaticWriter)(nil)
