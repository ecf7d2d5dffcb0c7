package ingest

import (
	"regexp"
	"strings"
)

var hashtagPattern = regexp.MustCompile(`#([a-zA-Z][a-zA-Z0-9_-]{1,})`)

// ExtractHashtags returns the deduplicated, lowercased project
// hashtags found in a changeset comment, in order of first
// appearance.
func ExtractHashtags(comment string) []string {
	if comment == "" {
		return nil
	}

	var tags []string

	seen := make(map[string]struct{}, 4)

	for _, match := range hashtagPattern.FindAllStringSubmatch(comment, -1) {
		tag := strings.ToLower(match[1])

		if _, ok := seen[tag]; ok {
			continue
		}

		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}

	return tags
}
