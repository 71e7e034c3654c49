package manager

import "ghostd/internal/engine"

// Character budgets around the cursor.
const (
	PrefixChars = 2000
	SuffixChars = 1000
)

// BuildContext extracts up to PrefixChars runes before cursor and up to
// SuffixChars after it. cursor is a rune offset and is clamped to the text.
// When both sides are non-empty the prompt uses the FIM format; otherwise it
// is the prefix alone.
func BuildContext(text string, cursor int) CompletionContext {
	runes := []rune(text)
	if cursor < 0 {
		cursor = 0
	}
	if cursor > len(runes) {
		cursor = len(runes)
	}
	start := max(0, cursor-PrefixChars)
	end := min(len(runes), cursor+SuffixChars)

	cc := CompletionContext{
		Prefix: string(runes[start:cursor]),
		Suffix: string(runes[cursor:end]),
	}
	if cc.Prefix != "" && cc.Suffix != "" {
		cc.Prompt = engine.FIMPrompt(cc.Prefix, cc.Suffix)
		cc.FIM = true
	} else {
		cc.Prompt = cc.Prefix
	}
	return cc
}

// tokenBudget applies the FIM ceiling to the configured maximum.
func tokenBudget(cc CompletionContext, configured int) int {
	if cc.FIM {
		return min(FIMMaxTokens, configured)
	}
	return configured
}
