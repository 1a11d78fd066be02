// Package bridge is the HTTP client for the messaging sidecar. The encrypted
// group-messaging SDK runs as a separate local process; this client drives it
// over a small JSON API: long-polled inbound messages, sends, reactions, and
// identity lookups.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/launchfleet/launchbot/internal/transport"
)

// pollWait is the long-poll hold the sidecar applies before returning an
// empty message batch.
const pollWait = 25 * time.Second

// Client talks to the messaging sidecar.
type Client struct {
	base   string
	client *http.Client

	agentID   string
	agentName string
}

var (
	_ transport.Transport        = (*Client)(nil)
	_ transport.WalletCallSender = (*Client)(nil)
)

// Dial connects to the sidecar and fetches the agent's identity. agentName is
// the display name users address the agent by.
func Dial(ctx context.Context, baseURL, agentName string) (*Client, error) {
	c := &Client{
		base: strings.TrimRight(baseURL, "/"),
		// No overall timeout: long-poll requests legitimately hold for
		// pollWait. Per-request deadlines come from the context.
		client: &http.Client{},

		agentName: agentName,
	}

	var ident struct {
		InboxID string `json:"inbox_id"`
	}
	if err := c.get(ctx, "/identity", &ident); err != nil {
		return nil, fmt.Errorf("bridge: fetch identity: %w", err)
	}
	if ident.InboxID == "" {
		return nil, fmt.Errorf("bridge: sidecar returned empty identity")
	}
	c.agentID = ident.InboxID
	return c, nil
}

func (c *Client) AgentID() string   { return c.agentID }
func (c *Client) AgentName() string { return c.agentName }

// Messages streams inbound messages until ctx is canceled. Poll errors are
// logged and retried with backoff; the channel closes on cancellation.
func (c *Client) Messages(ctx context.Context) <-chan transport.Message {
	out := make(chan transport.Message, 64)
	go func() {
		defer close(out)
		cursor := ""
		backoff := time.Second
		for {
			batch, next, err := c.poll(ctx, cursor)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("bridge: poll failed", "error", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(backoff):
				}
				if backoff < 30*time.Second {
					backoff *= 2
				}
				continue
			}
			backoff = time.Second
			cursor = next
			for _, m := range batch {
				select {
				case out <- m:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

func (c *Client) poll(ctx context.Context, cursor string) ([]transport.Message, string, error) {
	q := url.Values{}
	q.Set("wait", fmt.Sprintf("%ds", int(pollWait.Seconds())))
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var resp struct {
		Messages []transport.Message `json:"messages"`
		Cursor   string              `json:"cursor"`
	}
	if err := c.get(ctx, "/messages?"+q.Encode(), &resp); err != nil {
		return nil, cursor, err
	}
	return resp.Messages, resp.Cursor, nil
}

// Send delivers a plain text message to a conversation.
func (c *Client) Send(ctx context.Context, conversationID, text string) error {
	return c.post(ctx, "/conversations/"+url.PathEscape(conversationID)+"/send",
		map[string]string{"text": text}, nil)
}

// React attaches an emoji reaction to a message.
func (c *Client) React(ctx context.Context, conversationID, messageID, emoji string) error {
	return c.post(ctx, "/conversations/"+url.PathEscape(conversationID)+"/react",
		map[string]string{"message_id": messageID, "emoji": emoji}, nil)
}

// SendWalletCalls delivers a wallet action request into a conversation.
func (c *Client) SendWalletCalls(ctx context.Context, conversationID string, calls transport.WalletCalls) error {
	return c.post(ctx, "/conversations/"+url.PathEscape(conversationID)+"/wallet-calls", calls, nil)
}

// RecentMessages returns up to limit messages for a conversation, newest last.
func (c *Client) RecentMessages(ctx context.Context, conversationID string, limit int) ([]transport.Message, error) {
	var resp struct {
		Messages []transport.Message `json:"messages"`
	}
	path := fmt.Sprintf("/conversations/%s/history?limit=%d", url.PathEscape(conversationID), limit)
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// MemberAddresses lists the chain addresses of everyone in a conversation.
func (c *Client) MemberAddresses(ctx context.Context, conversationID string) ([]common.Address, error) {
	var resp struct {
		Members []string `json:"members"`
	}
	if err := c.get(ctx, "/conversations/"+url.PathEscape(conversationID)+"/members", &resp); err != nil {
		return nil, err
	}
	addrs := make([]common.Address, 0, len(resp.Members))
	for _, m := range resp.Members {
		if !common.IsHexAddress(m) {
			slog.Warn("bridge: skipping non-address member", "member", m)
			continue
		}
		addrs = append(addrs, common.HexToAddress(m))
	}
	return addrs, nil
}

// IsDM reports whether a conversation is one-to-one with the agent.
func (c *Client) IsDM(ctx context.Context, conversationID string) (bool, error) {
	var resp struct {
		Kind string `json:"kind"` // "dm" or "group"
	}
	if err := c.get(ctx, "/conversations/"+url.PathEscape(conversationID), &resp); err != nil {
		return false, err
	}
	return resp.Kind == "dm", nil
}

// ResolveAddress maps a transport sender identity to a chain address.
func (c *Client) ResolveAddress(ctx context.Context, senderID string) (common.Address, error) {
	if common.IsHexAddress(senderID) {
		return common.HexToAddress(senderID), nil
	}
	var resp struct {
		Address string `json:"address"`
	}
	if err := c.get(ctx, "/resolve?id="+url.QueryEscape(senderID), &resp); err != nil {
		return common.Address{}, err
	}
	if !common.IsHexAddress(resp.Address) {
		return common.Address{}, fmt.Errorf("bridge: resolver returned non-address %q for %q", resp.Address, senderID)
	}
	return common.HexToAddress(resp.Address), nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("bridge: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("bridge: %s %s: HTTP %d: %s",
			req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("bridge: decode %s response: %w", req.URL.Path, err)
	}
	return nil
}
