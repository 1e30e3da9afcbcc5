// Package tags harvests hashtags out of post text.
package tags

import (
	"regexp"
	"strings"
)

var hashtagRe = regexp.MustCompile(`#[\p{L}\p{N}_]+`)

// Extract returns the distinct hashtags of text, '#' stripped, lowered,
// first-seen order preserved.
func Extract(text string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, m := range hashtagRe.FindAllString(text, -1) {
		tag := strings.ToLower(strings.TrimPrefix(m, "#"))
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}
