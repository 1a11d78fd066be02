package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ErrReceiptTimeout is returned when a receipt does not appear within the
// wait deadline. The caller keeps pending state so a retry can succeed.
var ErrReceiptTimeout = errors.New("chain: timed out waiting for receipt")

// ReceiptWaiter blocks until a transaction receipt is available or the
// timeout elapses.
type ReceiptWaiter interface {
	WaitForReceipt(ctx context.Context, hash common.Hash, timeout time.Duration) (*types.Receipt, error)
}

// pollInterval is how often the RPC node is asked for a receipt.
const pollInterval = 2 * time.Second

// Client wraps an Ethereum RPC endpoint.
type Client struct {
	eth *ethclient.Client
}

var _ ReceiptWaiter = (*Client)(nil)

// Dial connects to an RPC endpoint.
func Dial(ctx context.Context, rpcURL string) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	return &Client{eth: eth}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() { c.eth.Close() }

// WaitForReceipt polls for the receipt until it appears or timeout elapses.
func (c *Client) WaitForReceipt(ctx context.Context, hash common.Hash, timeout time.Duration) (*types.Receipt, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.eth.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		// "not found" is expected while the tx is in flight; other errors
		// are also retried until the deadline since RPC nodes flap.

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrReceiptTimeout, hash.Hex())
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
