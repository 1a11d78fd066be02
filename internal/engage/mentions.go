package engage

import (
	"fmt"
	"regexp"
	"strings"
)

// mentionMatcher recognizes unambiguous direct addressing of the agent:
// an @-prefixed name, or the name immediately adjacent to a greeting or an
// imperative verb. Bare name drops in the middle of a sentence do not count.
type mentionMatcher struct {
	at       *regexp.Regexp
	greeting *regexp.Regexp
	command  *regexp.Regexp
}

func newMentionMatcher(agentName string) *mentionMatcher {
	name := regexp.QuoteMeta(strings.ToLower(agentName))
	return &mentionMatcher{
		at: regexp.MustCompile(`(?i)(^|\s)@` + name + `\b`),
		greeting: regexp.MustCompile(
			`(?i)\b(hey|hi|hello|yo|gm|ok|okay|thanks|thank you)[\s,]+` + name + `\b`),
		command: regexp.MustCompile(fmt.Sprintf(
			`(?i)\b%s[\s,]+(launch|create|make|start|add|show|list|help|can|what|who|how)\b`, name)),
	}
}

// Match reports whether text directly addresses the agent.
func (m *mentionMatcher) Match(text string) bool {
	if text == "" {
		return false
	}
	return m.at.MatchString(text) || m.greeting.MatchString(text) || m.command.MatchString(text)
}

// HasExplicitMention reports only the @-token form. Replies to third parties
// require this stronger signal.
func (m *mentionMatcher) HasExplicitMention(text string) bool {
	return m.at.MatchString(text)
}
