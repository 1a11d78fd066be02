// Package engage decides whether an inbound message is directed at the agent:
// explicit mention, reply-to-agent, active-thread continuation, or
// workflow-critical state. Group messages that fail every check are ignored.
package engage

import (
	"context"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/launchfleet/launchbot/internal/classifier"
	"github.com/launchfleet/launchbot/internal/state"
	"github.com/launchfleet/launchbot/internal/threads"
	"github.com/launchfleet/launchbot/internal/transport"
)

// Decision is the engagement verdict for one message.
type Decision struct {
	Engage bool
	// TrackOnly marks non-text reply payloads (reactions through the reply
	// codec): thread tracking updates, but no workflow turn runs.
	TrackOnly bool
	// Reason names the rule that fired, for logging.
	Reason string
}

// Classifier applies the engagement precedence order.
type Classifier struct {
	agentID   string
	mentions  *mentionMatcher
	agentName string
	tracker   *threads.Tracker
	completer classifier.Completer // nil disables LLM-backed checks
	llmAssist bool                 // secondary low-confidence path, off by default
}

// New builds an engagement classifier. completer may be nil.
func New(agentID, agentName string, tracker *threads.Tracker, completer classifier.Completer, llmAssist bool) *Classifier {
	return &Classifier{
		agentID:   agentID,
		agentName: agentName,
		mentions:  newMentionMatcher(agentName),
		tracker:   tracker,
		completer: completer,
		llmAssist: llmAssist,
	}
}

// ShouldEngage decides whether the agent acts on msg. history is the fetched
// recent conversation window, newest last. sender is the resolved chain
// address; group may be nil when the conversation has no record yet.
func (c *Classifier) ShouldEngage(ctx context.Context, msg transport.Message, sender common.Address, group *state.GroupRecord, history []transport.Message, isDM bool) Decision {
	// One-to-one conversations always engage.
	if isDM {
		return Decision{Engage: true, Reason: "dm"}
	}

	if msg.ContentType == transport.ContentReply && msg.Reply != nil {
		return c.classifyReply(msg, sender, group, history)
	}

	text := msg.Content

	// Unambiguous mention or direct address.
	if c.mentions.Match(text) {
		return Decision{Engage: true, Reason: "mention"}
	}

	// Workflow-critical: a pending transaction or in-flight workflow always
	// keeps the participant engaged.
	if hasCriticalState(group, sender) {
		return Decision{Engage: true, Reason: "workflow_critical"}
	}

	// Active-thread continuation: the participant is inside the live window
	// and the message topically continues the exchange.
	if c.tracker != nil && c.tracker.IsActive(msg.ConversationID, sender) {
		if classifier.JudgeContinuation(ctx, c.completer, lastAgentText(history, c.agentID), text) {
			return Decision{Engage: true, Reason: "thread_continuation"}
		}
		// Dedicated disengagement ruling: drop the participant from the set,
		// independent of the whole-thread timeout.
		c.tracker.Remove(msg.ConversationID, sender)
		return Decision{Reason: "thread_disengaged"}
	}

	// Secondary low-confidence path, disabled by default.
	if c.llmAssist {
		active := c.tracker != nil && c.tracker.ThreadActive(msg.ConversationID)
		if classifier.JudgeEngagement(ctx, c.completer, c.agentName, renderHistory(history), text, active) {
			return Decision{Engage: true, Reason: "llm_assist"}
		}
	}

	return Decision{Reason: "not_addressed"}
}

// classifyReply applies the reply-specific precedence rules.
func (c *Classifier) classifyReply(msg transport.Message, sender common.Address, group *state.GroupRecord, history []transport.Message) Decision {
	resolved := ResolveReply(msg.Reply, history, c.agentID)
	if resolved == nil {
		// Reference outside the window: fail closed, no fallback assumption.
		slog.Debug("engage: reply reference not found",
			"conversation", msg.ConversationID, "reference", msg.Reply.Reference)
		return Decision{Reason: "reply_unresolved"}
	}

	switch {
	case resolved.FromAgent:
		if !msg.Reply.IsTextReply() {
			// Reaction-style payload: keep the thread warm, no workflow turn.
			return Decision{TrackOnly: true, Reason: "reply_to_agent_nontext"}
		}
		return Decision{Engage: true, Reason: "reply_to_agent"}

	case resolved.IsAttachment && isCollectingCoinData(group, sender):
		return Decision{Engage: true, Reason: "reply_to_attachment_collecting"}

	default:
		// Reply to a third party: only an explicit @-mention engages,
		// regardless of thread state.
		if c.mentions.HasExplicitMention(msg.Reply.Content) {
			return Decision{Engage: true, Reason: "reply_third_party_mention"}
		}
		return Decision{Reason: "reply_third_party"}
	}
}

func hasCriticalState(group *state.GroupRecord, sender common.Address) bool {
	if group == nil {
		return false
	}
	gp, ok := group.Participants[state.Key(sender)]
	if !ok {
		return false
	}
	return gp.PendingTx != nil || gp.Progress != nil
}

func isCollectingCoinData(group *state.GroupRecord, sender common.Address) bool {
	if group == nil {
		return false
	}
	gp, ok := group.Participants[state.Key(sender)]
	return ok && gp.Progress != nil && gp.Progress.Step == state.StepCollectingCoinData
}

// lastAgentText returns the agent's most recent text message, for the
// continuation prompt's prior-exchange context.
func lastAgentText(history []transport.Message, agentID string) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].SenderID == agentID && history[i].ContentType == transport.ContentText {
			return history[i].Content
		}
	}
	return ""
}

func renderHistory(history []transport.Message) string {
	const keep = 10
	start := 0
	if len(history) > keep {
		start = len(history) - keep
	}
	out := ""
	for _, m := range history[start:] {
		if m.ContentType != transport.ContentText {
			continue
		}
		out += m.SenderID + ": " + m.Content + "\n"
	}
	return out
}
