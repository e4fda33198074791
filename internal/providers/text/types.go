package text

import "context"

// Request describes the story the writer should produce.
type Request struct {
	Prompt           string
	Genre            string
	Tone             string
	LengthBucket     string
	CharacterName    string
	CharacterSummary string
	MaxScenes        int
}

// Writer is the contract implemented by all story text providers. The
// returned prose is expected, but not required, to follow the
// "SCENE <n>:" convention.
type Writer interface {
	GenerateStory(ctx context.Context, req Request) (string, error)
}
