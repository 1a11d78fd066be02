package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnparseable marks model output that did not contain the expected shape.
// Callers fall back to their conservative default on this error.
var ErrUnparseable = errors.New("classifier: unparseable output")

// ParseYesNo extracts a bounded yes/no token from free-form model output.
// Anything that does not begin with a clear yes or no is unparseable.
func ParseYesNo(s string) (bool, error) {
	t := strings.ToLower(strings.TrimSpace(s))
	t = strings.Trim(t, `"'.!`)
	switch {
	case t == "yes" || strings.HasPrefix(t, "yes ") || strings.HasPrefix(t, "yes,") || strings.HasPrefix(t, "yes."):
		return true, nil
	case t == "no" || strings.HasPrefix(t, "no ") || strings.HasPrefix(t, "no,") || strings.HasPrefix(t, "no."):
		return false, nil
	}
	return false, fmt.Errorf("%w: %q", ErrUnparseable, truncate(s, 80))
}

// ExtractJSON finds the first JSON object embedded in model output and
// unmarshals it into dst. Handles fenced code blocks and leading prose.
func ExtractJSON(s string, dst any) error {
	raw, ok := firstJSONObject(s)
	if !ok {
		return fmt.Errorf("%w: no JSON object in %q", ErrUnparseable, truncate(s, 80))
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	return nil
}

// firstJSONObject scans for a balanced top-level {...} span, skipping over
// string literals so braces inside values do not confuse the depth count.
func firstJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
