package image

import "context"

// Request describes one scene illustration.
type Request struct {
	JobID             string
	SceneNumber       int
	Content           string
	Style             string
	CharacterName     string
	CharacterImageURL string
}

// Asset is a generated scene image addressed by a durable URL.
type Asset struct {
	URL    string
	Format string
}

// Generator is the contract implemented by all image providers. Placeholder
// returns the degradation URL substituted when generation is exhausted; it
// must never fail.
type Generator interface {
	Generate(ctx context.Context, req Request) (Asset, error)
	Placeholder(req Request) Asset
}
