package engine

import (
	"strings"
	"unicode"
)

// FIM prompt sentinels in the Qwen/StarCoder format.
const (
	FIMPrefix = "<|fim_prefix|>"
	FIMSuffix = "<|fim_suffix|>"
	FIMMiddle = "<|fim_middle|>"
	FileSep   = "<|file_sep|>"
)

// sentinel markers that must never reach the user. The last one covers the
// DeepSeek full-width variant.
var sentinelMarkers = []string{"<|fim_", FileSep, "<｜fim"}

// FIMPrompt assembles a fill-in-the-middle prompt.
func FIMPrompt(prefix, suffix string) string {
	return FIMPrefix + prefix + FIMSuffix + suffix + FIMMiddle
}

// IsFIMPrompt reports whether prompt uses FIM sentinels.
func IsFIMPrompt(prompt string) bool {
	return strings.Contains(prompt, FIMPrefix) || strings.Contains(prompt, "<｜fim▁begin｜>")
}

// ContainsSentinel reports whether a generated piece leaks a FIM sentinel.
func ContainsSentinel(piece string) bool {
	for _, m := range sentinelMarkers {
		if strings.Contains(piece, m) {
			return true
		}
	}
	return false
}

// CleanCompletion removes sentinel tokens from generated text. For FIM
// completions trailing whitespace is trimmed as well.
func CleanCompletion(text string, fim bool) string {
	text = stripSentinels(text)
	if fim {
		text = strings.TrimRightFunc(text, unicode.IsSpace)
	}
	return text
}

// stripSentinels deletes every <|...|> or <｜...｜> token that starts with a
// sentinel marker.
func stripSentinels(text string) string {
	for {
		start, opener, closer := -1, "<|", "|>"
		for _, m := range sentinelMarkers {
			if i := strings.Index(text, m); i >= 0 && (start < 0 || i < start) {
				start = i
				opener, closer = "<|", "|>"
				if strings.HasPrefix(m, "<｜") {
					opener, closer = "<｜", "｜>"
				}
			}
		}
		if start < 0 {
			return text
		}
		body := start + len(opener)
		end := strings.Index(text[body:], closer)
		if end < 0 {
			// unterminated sentinel at the tail
			return text[:start]
		}
		text = text[:start] + text[body+end+len(closer):]
	}
}
