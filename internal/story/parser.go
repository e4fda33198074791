package story

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"storyforge/internal/domain"
)

// DefaultMaxScenes is the scene cap the downstream providers are tuned for.
const DefaultMaxScenes = 4

// parseBudget bounds a single Parse call. Inputs that blow the budget are
// re-partitioned with the linear fallback instead of finishing the marker
// scan.
const parseBudget = 250 * time.Millisecond

// markerRe matches the "SCENE <n>:" convention the story writer is prompted
// to emit. Anchored to a line start so the scan stays linear.
var markerRe = regexp.MustCompile(`(?im)^[ \t]*SCENE\s+\d+\s*:`)

var titleCaser = cases.Title(language.English)

// Parse converts free-form story prose into an ordered list of at most
// maxScenes scenes. It never fails on ill-formed input: when the marker
// convention is absent or unusable the text is partitioned into paragraphs
// with synthesized titles. The only error returned is for empty input.
func Parse(text string, ch domain.Character, maxScenes int) (domain.Story, error) {
	if maxScenes <= 0 {
		maxScenes = DefaultMaxScenes
	}
	if strings.TrimSpace(text) == "" {
		return domain.Story{}, domain.NewError(domain.KindParserExhausted, "story text is empty", domain.ErrParserExhausted)
	}

	start := time.Now()
	out := domain.Story{Character: ch}

	scenes, preamble := splitByMarkers(text, ch.Name, maxScenes, start)
	if len(scenes) == 0 {
		scenes = fallbackPartition(text, ch.Name, maxScenes)
		preamble = ""
	}
	out.Scenes = scenes
	out.Title = synthesizeTitle(preamble, ch.Name)
	return out, nil
}

// splitByMarkers performs the primary split. It returns the accepted scenes
// and the trimmed preamble preceding the first marker (empty when discarded).
func splitByMarkers(text, characterName string, maxScenes int, start time.Time) ([]domain.Scene, string) {
	locs := markerRe.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return nil, ""
	}

	preamble := strings.TrimSpace(text[:locs[0][0]])

	var scenes []domain.Scene
	for i, loc := range locs {
		if len(scenes) >= maxScenes {
			break
		}
		if time.Since(start) > parseBudget {
			return nil, ""
		}
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		title, content := splitSegment(text[loc[1]:end])
		if title == "" || content == "" {
			continue
		}
		scenes = append(scenes, domain.Scene{
			Number:        len(scenes) + 1,
			Title:         title,
			Content:       content,
			CharacterName: characterName,
		})
	}
	return scenes, preamble
}

// splitSegment takes the text between two markers: the first non-empty line
// becomes the title, the remainder the content.
func splitSegment(segment string) (string, string) {
	lines := strings.Split(segment, "\n")
	title := ""
	rest := 0
	for i, line := range lines {
		if s := strings.TrimSpace(line); s != "" {
			title = s
			rest = i + 1
			break
		}
	}
	if title == "" {
		return "", ""
	}
	content := strings.TrimSpace(strings.Join(lines[rest:], "\n"))
	return title, content
}

// fallbackPartition splits markerless text into up to maxScenes equal parts,
// preferring blank-line paragraph boundaries over sentence boundaries.
func fallbackPartition(text, characterName string, maxScenes int) []domain.Scene {
	parts := splitParagraphs(text)
	if len(parts) < 2 {
		parts = splitSentenceChunks(text, maxScenes)
	}
	if len(parts) > maxScenes {
		merged := make([]string, maxScenes)
		per := (len(parts) + maxScenes - 1) / maxScenes
		for i := range merged {
			lo := i * per
			hi := minInt(lo+per, len(parts))
			if lo >= len(parts) {
				merged = merged[:i]
				break
			}
			merged[i] = strings.TrimSpace(strings.Join(parts[lo:hi], "\n\n"))
		}
		parts = merged
	}

	scenes := make([]domain.Scene, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n := len(scenes) + 1
		scenes = append(scenes, domain.Scene{
			Number:        n,
			Title:         "Scene " + strconv.Itoa(n),
			Content:       part,
			CharacterName: characterName,
		})
	}
	return scenes
}

func splitParagraphs(text string) []string {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n")
	parts := make([]string, 0, len(raw))
	for _, p := range raw {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, strings.TrimSpace(p))
		}
	}
	return parts
}

// splitSentenceChunks partitions a single paragraph into n chunks of roughly
// equal sentence counts.
func splitSentenceChunks(text string, n int) []string {
	text = strings.TrimSpace(text)
	var sentences []string
	begin := 0
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			s := strings.TrimSpace(text[begin : i+1])
			if s != "" {
				sentences = append(sentences, s)
			}
			begin = i + 1
		}
	}
	if tail := strings.TrimSpace(text[begin:]); tail != "" {
		sentences = append(sentences, tail)
	}
	if len(sentences) <= 1 {
		return []string{text}
	}

	if n > len(sentences) {
		n = len(sentences)
	}
	per := (len(sentences) + n - 1) / n
	var chunks []string
	for lo := 0; lo < len(sentences); lo += per {
		hi := minInt(lo+per, len(sentences))
		chunks = append(chunks, strings.Join(sentences[lo:hi], " "))
	}
	return chunks
}

// synthesizeTitle derives a story title from the preamble when it ends
// without terminal punctuation and stays short, otherwise defaults to
// "<Name>'s Adventure".
func synthesizeTitle(preamble, characterName string) string {
	for _, line := range strings.Split(preamble, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || len(line) >= 80 {
			continue
		}
		if strings.HasSuffix(line, ".") || strings.HasSuffix(line, "!") || strings.HasSuffix(line, "?") {
			continue
		}
		return strings.TrimRight(line, ",;: ")
	}
	name := strings.TrimSpace(characterName)
	if name == "" {
		name = "A Hero"
	} else {
		name = titleCaser.String(name)
	}
	return name + "'s Adventure"
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
