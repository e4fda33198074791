package video

import "context"

// Clip pairs one scene's image and narration for assembly. Clips are ordered
// by scene number.
type Clip struct {
	ImageURL    string  `json:"imageUrl"`
	AudioURL    string  `json:"audioUrl,omitempty"`
	DurationSec float64 `json:"durationSec"`
}

// Request describes one video assembly run.
type Request struct {
	JobID string
	Title string
	Clips []Clip
}

// Asset is the encoded story video.
type Asset struct {
	URL    string
	Format string
}

// Assembler is the contract implemented by all video encoders.
type Assembler interface {
	Assemble(ctx context.Context, req Request) (Asset, error)
}
