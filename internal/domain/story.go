package domain

import "fmt"

// Character is the identity a story is generated about. The pipeline only
// reads ID and Name; everything else travels through as opaque metadata.
type Character struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	ImageURL string            `json:"imageUrl,omitempty"`
	Meta     map[string]string `json:"meta,omitempty"`
}

// Scene is one numbered, titled segment of a story. Numbers are 1-based,
// strictly increasing and gap-free within a story.
type Scene struct {
	Number        int    `json:"number"`
	Title         string `json:"title"`
	Content       string `json:"content"`
	CharacterName string `json:"characterName"`
}

// SceneID derives the stable scene identifier for a job.
func SceneID(jobID string, number int) string {
	return fmt.Sprintf("%s-scene-%d", jobID, number)
}

// Story is the parser's output: an ordered sequence of scenes with a title
// and the governing character.
type Story struct {
	Title     string    `json:"title"`
	Scenes    []Scene   `json:"scenes"`
	Character Character `json:"character"`
}
