package flows

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// qaSystemPrompt grounds the model in what the agent actually does so answers
// stay inside its capabilities.
const qaSystemPrompt = `You are a helpful assistant inside a group chat. You can:
- deploy fee-split groups (an on-chain contract splitting trading fees across members)
- launch tokens through a group's fee split
- report the status of a member's pending transaction
Answer the user's question briefly and concretely. If the question is outside
these capabilities, say so and point at what you can do. Never invent
transaction results or balances.`

// QAFlow answers capability and informational questions with a model
// completion grounded in the group's current state.
type QAFlow struct{}

// NewQA builds the question-answering handler.
func NewQA() *QAFlow { return &QAFlow{} }

func (f *QAFlow) Name() string { return "qa" }

func (f *QAFlow) Handle(ctx context.Context, fc *Context) error {
	logTurn(f.Name(), fc)

	question := fc.Turn.Body()
	if question == "" {
		return fc.Respond(ctx, "What would you like to know? I can explain fee splits, token launches, or check a pending transaction.")
	}

	answer, err := fc.Completer.Complete(ctx, qaSystemPrompt+"\n\n"+f.userPrompt(fc, question))
	if err != nil {
		slog.Warn("qa: completion failed", "error", err)
		return fc.Respond(ctx,
			"I set up fee-sharing groups and launch tokens whose trading fees flow to the split. "+
				"Ask me to \"create a group\" or \"launch a coin\" to get started.")
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return fc.Respond(ctx, "I'm not sure how to answer that one. I can create fee-split groups and launch tokens for this chat.")
	}
	return fc.Respond(ctx, answer)
}

// userPrompt folds the group's visible state into the question so answers
// about "our group" or "my coin" are accurate.
func (f *QAFlow) userPrompt(fc *Context, question string) string {
	var b strings.Builder
	if fc.Group != nil {
		fmt.Fprintf(&b, "Group state: %d fee-split manager(s), %d launched coin(s).\n",
			len(fc.Group.Managers), len(fc.Group.Coins))
		for _, c := range fc.Group.Coins {
			fmt.Fprintf(&b, "- %s (%s) at %s\n", c.Name, c.Ticker, c.Address.Hex())
		}
	} else {
		b.WriteString("Group state: no fee-split group deployed yet.\n")
	}
	if m := fc.Member(); m != nil && m.PendingTx != nil {
		fmt.Fprintf(&b, "The asker has a pending %s transaction awaiting confirmation.\n", m.PendingTx.Type)
	}
	fmt.Fprintf(&b, "\nQuestion: %s", question)
	return b.String()
}
