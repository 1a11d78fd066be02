package flows

import (
	"context"
	"fmt"
	"time"

	"github.com/launchfleet/launchbot/internal/state"
)

// PendingTxFlow answers "did my transaction go through?" from stored state.
// It never touches the chain: confirmation arrives through receipt messages,
// this handler only reports what the store knows right now.
type PendingTxFlow struct {
	now func() time.Time
}

// NewPendingTx builds the pending-transaction inquiry handler.
func NewPendingTx() *PendingTxFlow {
	return &PendingTxFlow{now: time.Now}
}

func (f *PendingTxFlow) Name() string { return "pendingtx" }

func (f *PendingTxFlow) Handle(ctx context.Context, fc *Context) error {
	logTurn(f.Name(), fc)

	m := fc.Member()
	if m == nil || m.PendingTx == nil {
		return fc.Respond(ctx,
			"No transaction is pending for you right now. If you recently approved one, the confirmation hasn't reached me yet.")
	}

	tx := m.PendingTx
	age := f.now().Sub(tx.SubmittedAt).Round(time.Second)
	var what string
	switch tx.Type {
	case state.TxGroupCreation:
		what = fmt.Sprintf("fee-split deployment for %d receivers", len(tx.Receivers))
	default:
		if tx.Coin != nil {
			what = fmt.Sprintf("launch of %s (%s)", tx.Coin.Name, tx.Coin.Ticker)
		} else {
			what = string(tx.Type)
		}
	}

	return fc.Respond(ctx, fmt.Sprintf(
		"Your %s is still waiting for on-chain confirmation (submitted %s ago). "+
			"Make sure you approved it in your wallet; I'll post here the moment it lands.",
		what, age))
}
