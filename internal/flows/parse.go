package flows

import (
	"regexp"
	"strings"
)

// coinCaptionRe matches the "Name (TICKER)" shorthand users send alongside a
// coin image, with an optional $ before the ticker.
var coinCaptionRe = regexp.MustCompile(`^\s*(.{1,64}?)\s*\(\s*\$?([A-Za-z0-9]{1,8})\s*\)\s*$`)

// tickerRe is the canonical ticker shape after upcasing.
var tickerRe = regexp.MustCompile(`^[A-Z0-9]{1,8}$`)

// handleRe finds @username tokens in onboarding messages.
var handleRe = regexp.MustCompile(`@([A-Za-z0-9_.\-]{1,64})`)

// ParseCoinCaption extracts a coin name and ticker from the caption
// shorthand. Returns ok=false when the text doesn't match.
func ParseCoinCaption(text string) (name, ticker string, ok bool) {
	m := coinCaptionRe.FindStringSubmatch(text)
	if m == nil {
		return "", "", false
	}
	return strings.TrimSpace(m[1]), strings.ToUpper(m[2]), true
}

// ValidTicker reports whether a normalized ticker is acceptable.
func ValidTicker(ticker string) bool {
	return tickerRe.MatchString(ticker)
}

// ExtractHandles pulls @username tokens from text, preserving order and
// dropping duplicates.
func ExtractHandles(text string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, m := range handleRe.FindAllStringSubmatch(text, -1) {
		h := strings.ToLower(m[1])
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	return out
}

// mentionsEveryone reports a request to include the whole conversation.
func mentionsEveryone(text string) bool {
	t := strings.ToLower(text)
	return strings.Contains(t, "everyone") || strings.Contains(t, "everybody") ||
		strings.Contains(t, "all of us") || strings.Contains(t, "the whole group")
}
