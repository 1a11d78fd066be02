package transport

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Content type identifiers for inbound messages. These mirror the codec IDs
// used by the group-messaging network; the coordinator only ever switches on
// this normalized form.
const (
	ContentText        = "text"
	ContentAttachment  = "attachment"
	ContentReply       = "reply"
	ContentReaction    = "reaction"
	ContentReadReceipt = "read_receipt"
	ContentWalletCalls = "wallet_send_calls"
	ContentTxReference = "transaction_reference"
	ContentGroupUpdate = "group_updated"
)

// Message is one inbound record from the messaging transport.
// Exactly one of the typed payload pointers is set for non-text content.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	ContentType    string    `json:"content_type"`
	Content        string    `json:"content,omitempty"` // text body for ContentText
	SentAt         time.Time `json:"sent_at"`

	Attachment *Attachment `json:"attachment,omitempty"`
	Reply      *Reply      `json:"reply,omitempty"`
	Reaction   *Reaction   `json:"reaction,omitempty"`
	TxRef      *TxRef      `json:"tx_ref,omitempty"`
}

// Attachment is a remote encrypted attachment reference (typically an image).
type Attachment struct {
	URL      string `json:"url"`
	Filename string `json:"filename,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Data     []byte `json:"-"` // decrypted bytes when already fetched
}

// Reply is the nested payload of a reply-type message. Content holds the
// reply body when it is text; ContentType distinguishes text replies from
// reactions and other non-text payloads that reference a message.
type Reply struct {
	Reference   string `json:"reference"` // message ID being replied to
	ContentType string `json:"content_type"`
	Content     string `json:"content,omitempty"`
}

// Reaction is an emoji reaction to a prior message.
type Reaction struct {
	Reference string `json:"reference"`
	Emoji     string `json:"emoji"`
	Action    string `json:"action"` // "added" or "removed"
}

// TxRef is a transaction-confirmation payload. Two historical shapes are in
// the wild: a bare hash string, and a structured reference with a network ID.
// Hash() in internal/chain normalizes both.
type TxRef struct {
	Raw       string        `json:"raw,omitempty"` // bare hash shape
	NetworkID string        `json:"network_id,omitempty"`
	Reference *TxRefDetails `json:"reference,omitempty"`
}

// TxRefDetails is the nested object of the structured TxRef shape.
type TxRefDetails struct {
	TransactionHash string `json:"transaction_hash"`
}

// IsTextReply reports whether the reply payload carries a text body.
// Reactions delivered through the reply codec have a non-text content type.
func (r *Reply) IsTextReply() bool {
	return r != nil && (r.ContentType == ContentText || r.ContentType == "")
}

// Transport is the narrow surface of the messaging network the engine needs:
// sending, reacting, history lookup, and identity resolution. Implementations
// wrap the actual network SDK; tests use an in-memory fake.
type Transport interface {
	// Send delivers a plain text message to a conversation.
	Send(ctx context.Context, conversationID, text string) error
	// React attaches an emoji reaction to a message.
	React(ctx context.Context, conversationID, messageID, emoji string) error
	// RecentMessages returns up to limit messages for a conversation,
	// newest last.
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error)
	// MemberAddresses lists the chain addresses of everyone in a conversation.
	MemberAddresses(ctx context.Context, conversationID string) ([]common.Address, error)
	// IsDM reports whether a conversation is one-to-one with the agent.
	IsDM(ctx context.Context, conversationID string) (bool, error)
	// ResolveAddress maps a transport sender identity to a chain address.
	ResolveAddress(ctx context.Context, senderID string) (common.Address, error)

	// AgentID is the agent's own transport identity (for self-filtering).
	AgentID() string
	// AgentName is the display name users address the agent by.
	AgentName() string
}
