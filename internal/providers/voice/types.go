package voice

import (
	"context"
	"strings"
)

// Request describes one scene narration.
type Request struct {
	JobID       string
	SceneNumber int
	Content     string
	VoiceID     string
	Language    string
}

// Asset is a synthesized narration clip.
type Asset struct {
	URL         string
	DurationSec float64
}

// Synthesizer is the contract implemented by all narration providers.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) (Asset, error)
}

// SilentDuration estimates how long a silent stand-in clip should run for
// content whose narration could not be synthesized. Roughly 15 characters
// per second of speech, clamped to 3..30 seconds.
func SilentDuration(content string) float64 {
	secs := float64(len(strings.TrimSpace(content))) / 15.0
	if secs < 3 {
		return 3
	}
	if secs > 30 {
		return 30
	}
	return secs
}
