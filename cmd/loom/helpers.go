package main

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// deriveTitle turns an entity id like "neon_skyline-v2" into a display
// title. Any non-alphanumeric run separates words; an id with no
// usable characters is returned as-is.
func deriveTitle(id string) string {
	words := strings.FieldsFunc(id, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	if len(words) == 0 {
		return id
	}
	return cases.Title(language.Und).String(strings.Join(words, " "))
}
