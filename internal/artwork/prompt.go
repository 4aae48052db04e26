package artwork

import "strings"

// defaultTemplate is the base prompt when no image style is configured.
const defaultTemplate = "A beautiful, atmospheric background image for music visualization."

// qualitySuffix is appended to every prompt.
const qualitySuffix = "High quality, 4K resolution, cinematic lighting, " +
	"professional photography, no text, no watermark."

// keywordOrder fixes the style match order; the first style found in
// the source text wins.
var keywordOrder = []string{"celtic", "lofi", "jazz", "ambient", "classical"}

var visualKeywords = map[string][]string{
	"celtic":    {"rolling green hills", "ancient stone circles", "misty forest", "moonlight"},
	"lofi":      {"cozy room", "rainy window", "warm lighting", "coffee cup", "plants"},
	"jazz":      {"smoky bar", "city night", "neon lights", "piano keys"},
	"ambient":   {"vast landscape", "starry sky", "ocean waves", "aurora"},
	"classical": {"grand concert hall", "elegant chandelier", "velvet curtains"},
}

// maxExtracted caps keywords mined from the music prompt; maxUsed caps
// how many make it into the final prompt.
const (
	maxExtracted = 5
	maxUsed      = 3
)

// BuildPrompt composes the image prompt from the configured style
// template, visual keywords mined from the entity style and music
// prompt, and the fixed quality suffix.
func BuildPrompt(template, style, musicPrompt string) string {
	template = strings.TrimSpace(template)
	if template == "" {
		template = defaultTemplate
	}
	parts := []string{template}
	if keywords := extractKeywords(style, musicPrompt); len(keywords) > 0 {
		if len(keywords) > maxUsed {
			keywords = keywords[:maxUsed]
		}
		parts = append(parts, strings.Join(keywords, ", "))
	}
	parts = append(parts, qualitySuffix)
	return strings.Join(parts, ", ")
}

// extractKeywords mines visual vocabulary from the style name and the
// music prompt.
func extractKeywords(style, musicPrompt string) []string {
	text := strings.ToLower(style + " " + musicPrompt)
	var keywords []string
	for _, name := range keywordOrder {
		if strings.Contains(text, name) {
			keywords = append(keywords, visualKeywords[name]...)
			break
		}
	}
	if strings.Contains(text, "folk") || strings.Contains(text, "traditional") {
		keywords = append(keywords, "traditional", "heritage", "cultural")
	}
	if strings.Contains(text, "electronic") || strings.Contains(text, "synth") {
		keywords = append(keywords, "futuristic", "digital", "neon")
	}
	if strings.Contains(text, "acoustic") {
		keywords = append(keywords, "natural", "organic", "warm")
	}
	if len(keywords) > maxExtracted {
		keywords = keywords[:maxExtracted]
	}
	return keywords
}
