package flows

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// managementSystemPrompt drives the general-purpose group and preference
// management conversation.
const managementSystemPrompt = `You are the operator assistant for a group's
fee-split setup. The user is a member of a group chat that may have deployed
fee-split managers and launched tokens. Help them with requests about their
group: who is in the split, what percentages apply, what coins exist, and how
to start a new launch. You cannot change a deployed split; a new split means
deploying a new manager. Keep answers short and concrete. If the user seems to
want to launch a coin, tell them to send the coin's name, ticker and image.`

// ManagementFlow is the catch-all conversational handler for group and
// preference management turns that no specialized flow claimed.
type ManagementFlow struct{}

// NewManagement builds the management handler.
func NewManagement() *ManagementFlow { return &ManagementFlow{} }

func (f *ManagementFlow) Name() string { return "management" }

func (f *ManagementFlow) Handle(ctx context.Context, fc *Context) error {
	logTurn(f.Name(), fc)

	body := fc.Turn.Body()
	if body == "" {
		return fc.Respond(ctx, "I can show your group's fee split, list launched coins, or start a new launch. What do you need?")
	}

	answer, err := fc.Completer.Complete(ctx, managementSystemPrompt+"\n\n"+f.statePrompt(fc)+"\n\nUser: "+body)
	if err != nil {
		slog.Warn("management: completion failed", "error", err)
		return fc.Respond(ctx, f.fallbackSummary(fc))
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return fc.Respond(ctx, f.fallbackSummary(fc))
	}
	return fc.Respond(ctx, answer)
}

func (f *ManagementFlow) statePrompt(fc *Context) string {
	var b strings.Builder
	b.WriteString("Current group state:\n")
	if fc.Group == nil || len(fc.Group.Managers) == 0 {
		b.WriteString("- no fee-split manager deployed\n")
	}
	if fc.Group != nil {
		for i, m := range fc.Group.Managers {
			fmt.Fprintf(&b, "- manager %d at %s, split: %s\n", i+1, m.Address.Hex(), describeSplit(m.Receivers))
		}
		for _, c := range fc.Group.Coins {
			fmt.Fprintf(&b, "- coin %s (%s) at %s\n", c.Name, c.Ticker, c.Address.Hex())
		}
	}
	return b.String()
}

// fallbackSummary is the no-model answer: a plain readout of stored state.
func (f *ManagementFlow) fallbackSummary(fc *Context) string {
	if fc.Group == nil || len(fc.Group.Managers) == 0 {
		return "This chat has no fee-split group yet. Say \"create a group for everyone here\" to deploy one."
	}
	m := fc.Group.Managers[len(fc.Group.Managers)-1]
	s := fmt.Sprintf("Your current fee split is %s across %d receivers.", describeSplit(m.Receivers), len(m.Receivers))
	if n := len(fc.Group.Coins); n > 0 {
		s += fmt.Sprintf(" The group has launched %d coin(s).", n)
	}
	return s
}
