// Package chain reconciles on-chain transaction results against pending
// in-memory workflow state: it waits for a receipt, decodes the relevant
// event, and applies the outcome to the state store.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/launchfleet/launchbot/internal/state"
	"github.com/launchfleet/launchbot/internal/transport"
)

// Outcome is the result class of processing one confirmation message.
type Outcome string

const (
	OutcomeConfirmed   Outcome = "confirmed"
	OutcomeTimedOut    Outcome = "timedOut"
	OutcomeInvalid     Outcome = "invalid"
	OutcomeNoPendingTx Outcome = "noPendingTx"
)

// ReceiptTimeout bounds how long one confirmation message blocks on the RPC.
const ReceiptTimeout = 60 * time.Second

// Processor applies transaction confirmations to persisted state.
type Processor struct {
	store   state.Store
	waiter  ReceiptWaiter
	replier transport.Transport
	timeout time.Duration
	now     func() time.Time
}

// NewProcessor wires a receipt processor.
func NewProcessor(store state.Store, waiter ReceiptWaiter, replier transport.Transport) *Processor {
	return &Processor{
		store:   store,
		waiter:  waiter,
		replier: replier,
		timeout: ReceiptTimeout,
		now:     time.Now,
	}
}

// SetTimeout overrides the receipt wait deadline (tests).
func (p *Processor) SetTimeout(d time.Duration) { p.timeout = d }

// SetClock overrides the time source (tests).
func (p *Processor) SetClock(now func() time.Time) { p.now = now }

// HashFromRef normalizes the two historical confirmation payload shapes into
// a transaction hash.
func HashFromRef(ref *transport.TxRef) (common.Hash, error) {
	if ref == nil {
		return common.Hash{}, errors.New("chain: empty transaction reference")
	}
	raw := ref.Raw
	if raw == "" && ref.Reference != nil {
		raw = ref.Reference.TransactionHash
	}
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "0x") || len(raw) != 66 {
		return common.Hash{}, fmt.Errorf("chain: malformed transaction hash %q", raw)
	}
	for _, c := range raw[2:] {
		if !isHexDigit(c) {
			return common.Hash{}, fmt.Errorf("chain: malformed transaction hash %q", raw)
		}
	}
	return common.HexToHash(raw), nil
}

func isHexDigit(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// OnReceiptMessage handles one transaction-confirmation message. Absence of a
// pending transaction is a no-op, not an error; a duplicate confirmation
// after success lands here.
func (p *Processor) OnReceiptMessage(ctx context.Context, msg transport.Message) Outcome {
	sender, err := p.replier.ResolveAddress(ctx, msg.SenderID)
	if err != nil {
		slog.Warn("receipts: cannot resolve sender address",
			"sender", msg.SenderID, "error", err)
		return OutcomeNoPendingTx
	}

	group, err := p.store.Group(ctx, msg.ConversationID)
	if err != nil {
		slog.Error("receipts: group lookup failed", "conversation", msg.ConversationID, "error", err)
		return OutcomeNoPendingTx
	}
	if group == nil {
		return OutcomeNoPendingTx
	}
	gp, ok := group.Participants[state.Key(sender)]
	if !ok || gp.PendingTx == nil {
		return OutcomeNoPendingTx
	}
	pending := gp.PendingTx

	hash, err := HashFromRef(msg.TxRef)
	if err != nil {
		slog.Warn("receipts: bad confirmation payload",
			"conversation", msg.ConversationID, "error", err)
		return OutcomeInvalid
	}

	receipt, err := p.waiter.WaitForReceipt(ctx, hash, p.timeout)
	if err != nil {
		if errors.Is(err, ErrReceiptTimeout) {
			// The one failure that does NOT clear state: the tx may still
			// confirm, and a retried confirmation message must find it.
			slog.Warn("receipts: timed out", "tx", hash.Hex(), "type", pending.Type)
			p.say(ctx, msg.ConversationID,
				"Still waiting on the network for that transaction. Send the confirmation again in a minute and I'll re-check.")
			return OutcomeTimedOut
		}
		slog.Error("receipts: wait failed", "tx", hash.Hex(), "error", err)
		p.say(ctx, msg.ConversationID,
			"I couldn't fetch that transaction from the network. Please try again.")
		return OutcomeTimedOut
	}

	switch pending.Type {
	case state.TxGroupCreation:
		return p.applyGroupCreation(ctx, msg.ConversationID, sender, pending, receipt)
	case state.TxCoinCreation:
		return p.applyCoinCreation(ctx, msg.ConversationID, sender, pending, receipt)
	default:
		slog.Error("receipts: unknown pending tx type", "type", pending.Type)
		return OutcomeInvalid
	}
}

func (p *Processor) applyGroupCreation(ctx context.Context, conversationID string, sender common.Address, pending *state.PendingTransaction, receipt *ethtypes.Receipt) Outcome {
	managerAddr, err := ExtractManagerAddress(receipt)
	if err != nil {
		// Structurally bad receipt, not transient: clear the pending tx so
		// the participant can start over.
		slog.Warn("receipts: manager extraction failed", "conversation", conversationID, "error", err)
		p.clearPending(ctx, conversationID, sender)
		p.say(ctx, conversationID,
			"That transaction confirmed, but I couldn't find a deployed fee-split contract in it. The group was not created. Please try again.")
		return OutcomeInvalid
	}

	manager := state.Manager{
		Address:    managerAddr,
		Receivers:  pending.Receivers,
		DeployedAt: p.now(),
	}
	if err := state.ValidateReceivers(manager.Receivers); err != nil {
		slog.Error("receipts: pending tx carried invalid receiver table", "error", err)
		p.clearPending(ctx, conversationID, sender)
		return OutcomeInvalid
	}

	_, err = p.store.UpdateGroup(ctx, conversationID, func(g *state.GroupRecord) error {
		g.AddManager(manager) // idempotent on reprocessing
		for _, r := range manager.Receivers {
			m := g.Member(r.Address)
			m.Advance(stateAdvanceTarget(m.Status))
		}
		g.Member(sender).PendingTx = nil
		return nil
	})
	if err != nil {
		slog.Error("receipts: persist group creation failed", "conversation", conversationID, "error", err)
		return OutcomeInvalid
	}

	// Persist the membership to every receiver's own record. Idempotent:
	// AddGroup skips duplicates, so reprocessing cannot duplicate the group.
	for _, r := range pending.Receivers {
		if _, err := p.store.UpdateParticipant(ctx, r.Address, func(ps *state.ParticipantState) error {
			ps.AddGroup(conversationID)
			ps.Advance(state.StatusActive)
			return nil
		}); err != nil {
			slog.Error("receipts: persist receiver membership failed",
				"receiver", r.Address.Hex(), "error", err)
		}
	}

	slog.Info("receipts: group created",
		"conversation", conversationID, "manager", managerAddr.Hex(),
		"receivers", len(manager.Receivers))
	p.say(ctx, conversationID, fmt.Sprintf(
		"Your group is live! Fee-split contract deployed at %s with %d receivers. Ready to launch your first coin: just send me a name, ticker, and image.",
		managerAddr.Hex(), len(manager.Receivers)))
	return OutcomeConfirmed
}

func (p *Processor) applyCoinCreation(ctx context.Context, conversationID string, sender common.Address, pending *state.PendingTransaction, receipt *ethtypes.Receipt) Outcome {
	coinAddr, err := ExtractCoinAddress(receipt)
	if err != nil {
		slog.Warn("receipts: coin extraction failed", "conversation", conversationID, "error", err)
		p.clearPending(ctx, conversationID, sender)
		p.say(ctx, conversationID,
			"That transaction confirmed, but I couldn't find a launched token in it. The launch was not recorded. Please try again.")
		return OutcomeInvalid
	}
	if pending.Coin == nil {
		slog.Error("receipts: coin_creation pending tx missing coin data", "conversation", conversationID)
		p.clearPending(ctx, conversationID, sender)
		return OutcomeInvalid
	}

	coin := state.LaunchedCoin{
		Name:           pending.Coin.Name,
		Ticker:         pending.Coin.Ticker,
		ImageURI:       pending.Coin.ImageURI,
		Address:        coinAddr,
		ManagerAddress: pending.ManagerAddress,
		LaunchedAt:     p.now(),
	}

	// Append the coin, advance status, and clear pending tx plus in-flight
	// launch progress as one atomic update.
	_, err = p.store.UpdateGroup(ctx, conversationID, func(g *state.GroupRecord) error {
		if err := g.AddCoin(coin); err != nil {
			return err
		}
		m := g.Member(sender)
		m.Advance(state.StatusActive)
		m.PendingTx = nil
		m.Progress = nil
		return nil
	})
	if err != nil {
		if errors.Is(err, state.ErrManagerMissing) {
			// A coin receipt landing before its group's manager exists is a
			// state-consistency error: abort this update, corrupt nothing.
			slog.Error("receipts: coin receipt before manager exists",
				"conversation", conversationID, "coin", coinAddr.Hex(), "error", err)
			return OutcomeInvalid
		}
		slog.Error("receipts: persist coin creation failed", "conversation", conversationID, "error", err)
		return OutcomeInvalid
	}

	if _, err := p.store.UpdateParticipant(ctx, sender, func(ps *state.ParticipantState) error {
		ps.Advance(state.StatusActive)
		ps.Launches = append(ps.Launches, state.LaunchRecord{
			CoinAddress: coinAddr,
			GroupID:     conversationID,
			Ticker:      coin.Ticker,
			LaunchedAt:  coin.LaunchedAt,
		})
		return nil
	}); err != nil {
		slog.Error("receipts: persist launch history failed", "sender", sender.Hex(), "error", err)
	}

	slog.Info("receipts: coin launched",
		"conversation", conversationID, "coin", coinAddr.Hex(), "ticker", coin.Ticker)
	p.say(ctx, conversationID, fmt.Sprintf(
		"%s (%s) is live at %s! Trading fees flow to your group's split automatically.",
		coin.Name, coin.Ticker, coinAddr.Hex()))
	return OutcomeConfirmed
}

// clearPending drops the pending transaction for (conversation, sender).
// Used on unrecoverable errors only; timeouts keep state.
func (p *Processor) clearPending(ctx context.Context, conversationID string, sender common.Address) {
	_, err := p.store.UpdateGroup(ctx, conversationID, func(g *state.GroupRecord) error {
		if gp, ok := g.Participants[state.Key(sender)]; ok {
			gp.PendingTx = nil
		}
		return nil
	})
	if err != nil {
		slog.Error("receipts: clear pending tx failed", "conversation", conversationID, "error", err)
	}
}

// stateAdvanceTarget maps a receiver's current status to its post-creation
// status: invited members become onboarding, everyone else becomes active.
func stateAdvanceTarget(s state.Status) state.Status {
	if s == state.StatusInvited {
		return state.StatusOnboarding
	}
	return state.StatusActive
}

func (p *Processor) say(ctx context.Context, conversationID, text string) {
	if err := p.replier.Send(ctx, conversationID, text); err != nil {
		slog.Warn("receipts: send failed", "conversation", conversationID, "error", err)
	}
}
