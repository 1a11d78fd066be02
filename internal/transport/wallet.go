package transport

import "context"

// WalletCalls is an EIP-5792 style wallet action request: the participant's
// wallet is asked to sign and submit the listed calls.
type WalletCalls struct {
	// From is the address the wallet should execute as.
	From string `json:"from"`
	// ChainID is the target chain, hex-encoded ("0x2105" for Base).
	ChainID string       `json:"chain_id"`
	Calls   []WalletCall `json:"calls"`
	// Description is shown to the participant alongside the signing prompt.
	Description string `json:"description,omitempty"`
}

// WalletCall is one call within a wallet action request.
type WalletCall struct {
	To    string `json:"to"`
	Data  string `json:"data"`            // 0x-prefixed calldata
	Value string `json:"value,omitempty"` // 0x-prefixed wei amount
}

// WalletCallSender is implemented by transports that can deliver wallet
// action requests into a conversation.
type WalletCallSender interface {
	SendWalletCalls(ctx context.Context, conversationID string, calls WalletCalls) error
}
