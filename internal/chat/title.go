package chat

import "strings"

const (
	titleMaxRunes      = 50
	titleTruncateRunes = 45
)

// GenerateTitle derives a conversation label from the first user message:
// at most 50 runes, cut after the first sentence ending, then shortened at a
// word boundary with "..." if it is still longer than 45.
func GenerateTitle(content string) string {
	title := []rune(strings.TrimSpace(content))
	if len(title) > titleMaxRunes {
		title = title[:titleMaxRunes]
	}
	s := string(title)

	for _, ending := range []string{".", "!", "?"} {
		if i := strings.Index(s, ending); i >= 0 {
			s = s[:i] + ending
			break
		}
	}

	if len([]rune(s)) > titleTruncateRunes {
		words := strings.Split(s, " ")
		if len(words) > 1 {
			s = strings.Join(words[:len(words)-1], " ") + "..."
		} else {
			s = string([]rune(s)[:titleTruncateRunes]) + "..."
		}
	}
	return s
}
