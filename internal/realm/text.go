package realm

import (
	"regexp"
	"strings"
)

const MaxMessageLength = 500

// richTextPattern matches the markup tags the game chat renderer
// understands. Anything else is left alone.
var richTextPattern = regexp.MustCompile(`</?(?:size|b|i|color)(=[\w#]+)?>`)

// StripRichText removes markup tags from user-provided text so a client
// cannot restyle other users' chat windows.
func StripRichText(input string) string {
	return richTextPattern.ReplaceAllString(input, "")
}

// SanitizeMessage strips markup, trims whitespace and clamps the result to
// MaxMessageLength runes. Returns "" for messages that sanitize to nothing.
func SanitizeMessage(input string) string {
	text := strings.TrimSpace(StripRichText(input))

	runes := []rune(text)
	if len(runes) > MaxMessageLength {
		text = string(runes[:MaxMessageLength])
	}

	return text
}
