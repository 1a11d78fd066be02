package flows

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/launchfleet/launchbot/internal/state"
)

// OnboardingFlow walks a new participant through creating their first
// fee-split group: welcome, collect receivers, hand off the deployment
// transaction to the chain.
type OnboardingFlow struct {
	Network string
	now     func() time.Time
}

// NewOnboarding builds the onboarding handler for a network.
func NewOnboarding(network string) *OnboardingFlow {
	return &OnboardingFlow{Network: network, now: time.Now}
}

func (f *OnboardingFlow) Name() string { return "onboarding" }

func (f *OnboardingFlow) Handle(ctx context.Context, fc *Context) error {
	logTurn(f.Name(), fc)

	m := fc.Member()
	if m != nil && m.Progress != nil && m.Progress.Step == state.StepCollectingGroup {
		return f.collectReceivers(ctx, fc)
	}
	return f.welcome(ctx, fc)
}

func (f *OnboardingFlow) welcome(ctx context.Context, fc *Context) error {
	if err := fc.UpdateParticipant(ctx, func(p *state.ParticipantState) error {
		p.Advance(state.StatusOnboarding)
		return nil
	}); err != nil {
		return err
	}
	if err := fc.UpdateGroup(ctx, func(g *state.GroupRecord) error {
		g.Member(fc.Sender).Progress = &state.LaunchProgress{
			Step:      state.StepCollectingGroup,
			UpdatedAt: f.now(),
		}
		return nil
	}); err != nil {
		return err
	}

	return fc.Respond(ctx,
		"Welcome! I set up fee-sharing groups and launch tokens whose trading fees "+
			"flow to everyone in the split.\n\n"+
			"Who should share fees with you? Tag them like @alice @bob, or say "+
			"\"everyone\" to include the whole chat.")
}

func (f *OnboardingFlow) collectReceivers(ctx context.Context, fc *Context) error {
	addrs, err := f.resolveReceivers(ctx, fc)
	if err != nil {
		slog.Warn("onboarding: receiver resolution failed", "error", err)
		return fc.Respond(ctx,
			"I couldn't resolve some of those names. Tag members like @alice, or say \"everyone\".")
	}
	if len(addrs) == 0 {
		return fc.Respond(ctx,
			"Tag at least one other member (like @alice), or say \"everyone\" to include the whole chat.")
	}

	receivers := state.EvenSplit(addrs)
	if err := state.ValidateReceivers(receivers); err != nil {
		return fmt.Errorf("onboarding: building split: %w", err)
	}

	if err := fc.UpdateGroup(ctx, func(g *state.GroupRecord) error {
		m := g.Member(fc.Sender)
		m.Progress = nil
		m.PendingTx = &state.PendingTransaction{
			Type:        state.TxGroupCreation,
			Network:     f.Network,
			Receivers:   receivers,
			SubmittedAt: f.now(),
		}
		// Receivers who have never spoken to the agent are invited members.
		for _, r := range receivers {
			if r.Address == fc.Sender {
				continue
			}
			g.Member(r.Address) // creates with StatusNew
			if g.Participants[state.Key(r.Address)].Status == state.StatusNew {
				g.Participants[state.Key(r.Address)].Status = state.StatusInvited
			}
		}
		return nil
	}); err != nil {
		return err
	}

	if err := fc.Launcher.RequestGroupCreation(ctx, fc.ConversationID(), fc.Sender, receivers); err != nil {
		// Submission never happened: clear the pending tx so the participant
		// is not stuck waiting on a confirmation that cannot arrive.
		if uerr := fc.UpdateGroup(ctx, func(g *state.GroupRecord) error {
			g.Member(fc.Sender).PendingTx = nil
			return nil
		}); uerr != nil {
			slog.Error("onboarding: rollback pending tx failed", "error", uerr)
		}
		slog.Error("onboarding: group creation request failed", "error", err)
		return fc.Respond(ctx, "Something went wrong preparing the deployment. Please try again.")
	}

	return fc.Respond(ctx, fmt.Sprintf(
		"Deploying a fee split for %d members (%s). Approve the transaction in your wallet and I'll confirm once it lands.",
		len(receivers), describeSplit(receivers)))
}

// resolveReceivers turns the turn text into a chain address list, always
// including the sender first.
func (f *OnboardingFlow) resolveReceivers(ctx context.Context, fc *Context) ([]common.Address, error) {
	if mentionsEveryone(fc.Turn.Body()) {
		members, err := fc.Transport.MemberAddresses(ctx, fc.ConversationID())
		if err != nil {
			return nil, err
		}
		return dedupeFront(fc.Sender, members), nil
	}

	handles := ExtractHandles(fc.Turn.Body())
	if len(handles) == 0 {
		return nil, nil
	}
	addrs := []common.Address{fc.Sender}
	for _, h := range handles {
		a, err := fc.Transport.ResolveAddress(ctx, h)
		if err != nil {
			return nil, fmt.Errorf("resolve %q: %w", h, err)
		}
		addrs = append(addrs, a)
	}
	return dedupeFront(fc.Sender, addrs), nil
}

// dedupeFront returns addrs with first pinned to the front and duplicates
// removed.
func dedupeFront(first common.Address, addrs []common.Address) []common.Address {
	out := []common.Address{first}
	seen := map[common.Address]struct{}{first: {}}
	for _, a := range addrs {
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}

func describeSplit(rs []state.Receiver) string {
	parts := make([]string, len(rs))
	for i, r := range rs {
		parts[i] = fmt.Sprintf("%d%%", r.Percent)
	}
	return strings.Join(parts, "/")
}
