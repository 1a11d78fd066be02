package classifier

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Signals are the per-message detection results the flow router consumes.
// On any service or parse failure the zero value is used, which routes the
// message through the default path.
type Signals struct {
	CoinLaunchConfidence float64 `json:"coin_launch_confidence"`
	QAConfidence         float64 `json:"qa_confidence"`
	WantsGroupLaunch     bool    `json:"wants_group_launch"`
	TxInquiry            bool    `json:"tx_inquiry"`
	Override             string  `json:"override,omitempty"` // specialized workflow name, or ""
}

// HighCoinLaunch reports strong coin-launch intent.
func (s Signals) HighCoinLaunch() bool { return s.CoinLaunchConfidence >= 0.8 }

// HighQA reports a high-confidence capability/informational question.
func (s Signals) HighQA() bool { return s.QAConfidence >= 0.8 }

const signalsPrompt = `You classify one chat message sent to a token-launch assistant.
Respond with ONLY a JSON object:
{"coin_launch_confidence":0..1,"qa_confidence":0..1,"wants_group_launch":bool,"tx_inquiry":bool,"override":""}

coin_launch_confidence: the sender wants to launch a token/coin.
qa_confidence: the sender asks what the assistant is or can do.
wants_group_launch: the sender asks to create a fee-split group for everyone in this chat.
tx_inquiry: the sender asks about the status of a submitted transaction.
override: a specialized workflow name if one clearly applies ("management"), else "".

Message:
%s`

// DetectSignals classifies a message turn. Failures degrade to zero signals
// and are logged, never surfaced to the sender.
func DetectSignals(ctx context.Context, c Completer, text string) Signals {
	var out Signals
	if c == nil || strings.TrimSpace(text) == "" {
		return out
	}
	raw, err := c.Complete(ctx, fmt.Sprintf(signalsPrompt, text))
	if err != nil {
		slog.Warn("classifier: signal detection failed", "error", err)
		return Signals{}
	}
	if err := ExtractJSON(raw, &out); err != nil {
		slog.Warn("classifier: signal output unparseable", "error", err)
		return Signals{}
	}
	return out
}

const continuationPrompt = `A group-chat assistant answered a participant recently.
The participant has now sent another message. Decide whether it continues the
prior exchange with the assistant, or is a disjoint topic / addressed to
someone else. Answer with exactly one word: yes or no.

Prior exchange:
%s

New message:
%s`

// JudgeContinuation asks whether a participant's latest message topically
// continues the prior exchange. Failure falls back to continuing (active
// threads stay active on classifier trouble).
func JudgeContinuation(ctx context.Context, c Completer, priorExchange, newMessage string) bool {
	if c == nil {
		return true
	}
	raw, err := c.Complete(ctx, fmt.Sprintf(continuationPrompt, priorExchange, newMessage))
	if err != nil {
		slog.Warn("classifier: continuation check failed", "error", err)
		return true
	}
	yes, err := ParseYesNo(raw)
	if err != nil {
		slog.Warn("classifier: continuation output unparseable", "error", err)
		return true
	}
	return yes
}

const engagementPrompt = `You decide whether a group-chat message is addressed to the
assistant "%s". The assistant was not explicitly mentioned. Use the recent
history for context. Answer with exactly one word: yes or no.

Recent history:
%s

Message:
%s`

// JudgeEngagement is the low-confidence addressing check (disabled by
// default). activeThread sets the failure fallback: an already-active thread
// degrades to engaged, a brand-new message degrades to not engaged.
func JudgeEngagement(ctx context.Context, c Completer, agentName, history, message string, activeThread bool) bool {
	if c == nil {
		return activeThread
	}
	raw, err := c.Complete(ctx, fmt.Sprintf(engagementPrompt, agentName, history, message))
	if err != nil {
		slog.Warn("classifier: engagement check failed", "error", err)
		return activeThread
	}
	yes, err := ParseYesNo(raw)
	if err != nil {
		slog.Warn("classifier: engagement output unparseable", "error", err)
		return activeThread
	}
	return yes
}
