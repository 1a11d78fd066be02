package flows

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/launchfleet/launchbot/internal/state"
)

// GroupCreateFlow handles the unambiguous "create a group for everyone here"
// request: no collection step, straight to deployment.
type GroupCreateFlow struct {
	Network string
	now     func() time.Time
}

// NewGroupCreate builds the group-creation handler.
func NewGroupCreate(network string) *GroupCreateFlow {
	return &GroupCreateFlow{Network: network, now: time.Now}
}

func (f *GroupCreateFlow) Name() string { return "groupcreate" }

func (f *GroupCreateFlow) Handle(ctx context.Context, fc *Context) error {
	logTurn(f.Name(), fc)

	if m := fc.Member(); m != nil && m.PendingTx != nil {
		return fc.Respond(ctx,
			"You already have a transaction waiting for confirmation. Let that land first, then ask again.")
	}

	members, err := fc.Transport.MemberAddresses(ctx, fc.ConversationID())
	if err != nil {
		slog.Error("groupcreate: member listing failed", "error", err)
		return fc.Respond(ctx, "I couldn't read the member list for this chat. Please try again.")
	}
	addrs := dedupeFront(fc.Sender, members)
	if len(addrs) < 2 {
		return fc.Respond(ctx,
			"This chat only has you in it. Add some friends first, or tag specific people with @name.")
	}

	receivers := state.EvenSplit(addrs)
	if err := state.ValidateReceivers(receivers); err != nil {
		return fmt.Errorf("groupcreate: building split: %w", err)
	}

	if err := fc.UpdateGroup(ctx, func(g *state.GroupRecord) error {
		m := g.Member(fc.Sender)
		m.PendingTx = &state.PendingTransaction{
			Type:        state.TxGroupCreation,
			Network:     f.Network,
			Receivers:   receivers,
			SubmittedAt: f.now(),
		}
		for _, r := range receivers {
			if r.Address == fc.Sender {
				continue
			}
			member := g.Member(r.Address)
			if member.Status == state.StatusNew {
				member.Status = state.StatusInvited
			}
		}
		return nil
	}); err != nil {
		return err
	}

	if err := fc.Launcher.RequestGroupCreation(ctx, fc.ConversationID(), fc.Sender, receivers); err != nil {
		if uerr := fc.UpdateGroup(ctx, func(g *state.GroupRecord) error {
			g.Member(fc.Sender).PendingTx = nil
			return nil
		}); uerr != nil {
			slog.Error("groupcreate: rollback pending tx failed", "error", uerr)
		}
		slog.Error("groupcreate: request failed", "error", err)
		return fc.Respond(ctx, "Something went wrong preparing the deployment. Please try again.")
	}

	return fc.Respond(ctx, fmt.Sprintf(
		"Setting up an even %s fee split across all %d members. Approve the transaction in your wallet and I'll confirm once it lands.",
		describeSplit(receivers), len(receivers)))
}
