package anthropic

import (
	"regexp"
	"strings"
)

var codeFence = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// ExtractJSON strips markdown code fences from a model reply and returns the
// JSON payload. Models routinely wrap structured answers in ```json fences
// despite instructions not to.
func ExtractJSON(text string) string {
	text = strings.TrimSpace(text)
	if m := codeFence.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}

	// Fall back to the outermost JSON object or array.
	for _, pair := range [][2]byte{{'{', '}'}, {'[', ']'}} {
		start := strings.IndexByte(text, pair[0])
		end := strings.LastIndexByte(text, pair[1])
		if start >= 0 && end > start {
			return text[start : end+1]
		}
	}
	return text
}
