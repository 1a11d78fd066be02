// Package flows contains the workflow handlers and the priority-ordered
// router that picks exactly one handler per engaged message turn.
package flows

import (
	"context"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/launchfleet/launchbot/internal/classifier"
	"github.com/launchfleet/launchbot/internal/pinner"
	"github.com/launchfleet/launchbot/internal/state"
	"github.com/launchfleet/launchbot/internal/threads"
	"github.com/launchfleet/launchbot/internal/transport"
)

// Turn is one logical user input: a text message, an attachment, or a
// debounce-paired combination of both.
type Turn struct {
	Text       *transport.Message
	Attachment *transport.Message
}

// Primary returns the message engagement and routing key off: text when
// present, otherwise the attachment.
func (t Turn) Primary() *transport.Message {
	if t.Text != nil {
		return t.Text
	}
	return t.Attachment
}

// Body returns the turn's text content, empty for attachment-only turns.
func (t Turn) Body() string {
	if t.Text == nil {
		return ""
	}
	return t.Text.Content
}

// Launcher submits on-chain actions on behalf of a participant. It is an
// external collaborator: implementations build the calldata and push a
// wallet action request over the transport for the participant to sign.
type Launcher interface {
	RequestGroupCreation(ctx context.Context, conversationID string, creator common.Address, receivers []state.Receiver) error
	RequestCoinCreation(ctx context.Context, conversationID string, creator common.Address, coin state.CoinData, params state.LaunchParams, manager common.Address) error
}

// Context carries everything a handler needs for one turn: snapshots, the
// respond function, and state mutation hooks. Handlers never touch the
// transport or store directly except through this surface.
type Context struct {
	Turn        Turn
	Sender      common.Address
	Participant *state.ParticipantState
	Group       *state.GroupRecord
	Signals     classifier.Signals

	Store     state.Store
	Transport transport.Transport
	Uploader  pinner.Uploader
	Launcher  Launcher
	Completer classifier.Completer
	Threads   *threads.Tracker
}

// ConversationID is the turn's conversation.
func (c *Context) ConversationID() string {
	return c.Turn.Primary().ConversationID
}

// Respond sends a plain-text reply and resets the active-thread clock.
func (c *Context) Respond(ctx context.Context, text string) error {
	if err := c.Transport.Send(ctx, c.ConversationID(), text); err != nil {
		return err
	}
	if c.Threads != nil {
		c.Threads.NoteAgentSpoke(c.ConversationID())
	}
	return nil
}

// UpdateParticipant mutates and persists the sender's participant record,
// refreshing the snapshot on success.
func (c *Context) UpdateParticipant(ctx context.Context, mutate func(*state.ParticipantState) error) error {
	p, err := c.Store.UpdateParticipant(ctx, c.Sender, mutate)
	if err != nil {
		return err
	}
	c.Participant = p
	return nil
}

// UpdateGroup mutates and persists the conversation's group record,
// refreshing the snapshot on success.
func (c *Context) UpdateGroup(ctx context.Context, mutate func(*state.GroupRecord) error) error {
	g, err := c.Store.UpdateGroup(ctx, c.ConversationID(), mutate)
	if err != nil {
		return err
	}
	c.Group = g
	return nil
}

// Member returns the sender's per-group sub-state, or nil when the
// conversation has no group record yet.
func (c *Context) Member() *state.GroupParticipant {
	if c.Group == nil {
		return nil
	}
	return c.Group.Participants[state.Key(c.Sender)]
}

// Handler processes one engaged turn.
type Handler interface {
	Name() string
	Handle(ctx context.Context, fc *Context) error
}

// logTurn is shared debug logging for handlers.
func logTurn(handler string, fc *Context) {
	slog.Debug("flow: handling turn",
		"handler", handler,
		"conversation", fc.ConversationID(),
		"sender", fc.Sender.Hex(),
	)
}
