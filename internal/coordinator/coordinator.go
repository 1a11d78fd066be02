// Package coordinator is the inbound message front door: it filters noise,
// deduplicates redeliveries, pairs text with its companion attachment inside a
// short debounce window, and dispatches finalized turns through engagement
// classification into the flow router. Transaction confirmations bypass the
// pairing machinery entirely.
package coordinator

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/launchfleet/launchbot/internal/chain"
	"github.com/launchfleet/launchbot/internal/classifier"
	"github.com/launchfleet/launchbot/internal/engage"
	"github.com/launchfleet/launchbot/internal/flows"
	"github.com/launchfleet/launchbot/internal/pinner"
	"github.com/launchfleet/launchbot/internal/state"
	"github.com/launchfleet/launchbot/internal/threads"
	"github.com/launchfleet/launchbot/internal/transport"
)

// DefaultPairWindow is how long one half of a text+attachment pair waits for
// its partner before being processed alone.
const DefaultPairWindow = 2 * time.Second

// Dedupe cache sizing: redeliveries cluster within minutes of the original.
const (
	dedupeTTL = 20 * time.Minute
	dedupeMax = 5000
)

// txRequestSentinel is the visible placeholder text a wallet-action request
// renders as in clients that cannot display the payload. It can echo back as
// a regular inbound text message and must never be treated as a participant
// turn.
const txRequestSentinel = chain.TxRequestText

// Coordinator owns the per-conversation pairing state machines and the
// dispatch pipeline behind them.
type Coordinator struct {
	transport transport.Transport
	store     state.Store
	engager   *engage.Classifier
	completer classifier.Completer
	router    *flows.Router
	receipts  *chain.Processor
	tracker   *threads.Tracker
	uploader  pinner.Uploader
	launcher  flows.Launcher

	clock  Clock
	window time.Duration
	dedupe *dedupeCache

	mu      sync.Mutex
	pending map[string]*heldMessage // key: conversation|sender
	seq     uint64

	// convMu guards convLocks; each entry serializes dispatch for one
	// conversation so no two handlers for it ever interleave.
	convMu    sync.Mutex
	convLocks map[string]*sync.Mutex

	// dispatch receives finalized turns; defaults to process.
	dispatch func(ctx context.Context, turn flows.Turn)
}

// heldMessage is one half of a potential text+attachment pair waiting for its
// partner. seq distinguishes a fresh hold from a stale timer firing for a slot
// that has since been reused.
type heldMessage struct {
	msg   transport.Message
	timer Timer
	seq   uint64
}

// Deps bundles the collaborators New wires together.
type Deps struct {
	Transport transport.Transport
	Store     state.Store
	Engager   *engage.Classifier
	Completer classifier.Completer
	Router    *flows.Router
	Receipts  *chain.Processor
	Tracker   *threads.Tracker
	Uploader  pinner.Uploader
	Launcher  flows.Launcher
}

// New builds a coordinator. window <= 0 uses DefaultPairWindow.
func New(d Deps, window time.Duration) *Coordinator {
	if window <= 0 {
		window = DefaultPairWindow
	}
	c := &Coordinator{
		transport: d.Transport,
		store:     d.Store,
		engager:   d.Engager,
		completer: d.Completer,
		router:    d.Router,
		receipts:  d.Receipts,
		tracker:   d.Tracker,
		uploader:  d.Uploader,
		launcher:  d.Launcher,
		clock:     realClock{},
		window:    window,
		dedupe:    newDedupeCache(dedupeTTL, dedupeMax),
		pending:   make(map[string]*heldMessage),
		convLocks: make(map[string]*sync.Mutex),
	}
	c.dispatch = c.process
	return c
}

// SetClock overrides the time source (tests).
func (c *Coordinator) SetClock(clk Clock) { c.clock = clk }

// Ingest accepts one inbound message and reports whether it was taken up for
// processing. Filtered noise (self messages, read receipts, redeliveries,
// wallet-request placeholders) returns false.
func (c *Coordinator) Ingest(ctx context.Context, msg transport.Message) bool {
	if msg.SenderID == c.transport.AgentID() {
		return false
	}
	switch msg.ContentType {
	case transport.ContentReadReceipt, transport.ContentGroupUpdate, transport.ContentWalletCalls:
		return false
	}
	if msg.ContentType == transport.ContentText && strings.TrimSpace(msg.Content) == txRequestSentinel {
		return false
	}
	if msg.ID != "" {
		key := msg.ConversationID + "|" + msg.SenderID + "|" + msg.ID
		if c.dedupe.IsDuplicate(key) {
			slog.Debug("coordinator: duplicate delivery skipped", "message", msg.ID)
			return false
		}
	}

	switch msg.ContentType {
	case transport.ContentTxReference:
		// Confirmations skip engagement and pairing: they are data, not
		// conversation, and receipt waiting can block for a minute.
		go func() {
			outcome := c.receipts.OnReceiptMessage(ctx, msg)
			slog.Info("coordinator: receipt processed",
				"conversation", msg.ConversationID, "outcome", outcome)
		}()
		return true

	case transport.ContentReaction:
		c.noteReaction(ctx, msg)
		return true

	case transport.ContentText, transport.ContentAttachment:
		c.observe(ctx, msg)
		return true

	default:
		// Replies and anything else dispatch as-is, no pairing.
		c.dispatchSerial(ctx, msg.ConversationID, c.soloTurn(msg))
		return true
	}
}

// convLock returns the dispatch lock for one conversation, creating it on
// first use. Turns for different conversations run freely against each other.
func (c *Coordinator) convLock(conversationID string) *sync.Mutex {
	c.convMu.Lock()
	defer c.convMu.Unlock()
	l, ok := c.convLocks[conversationID]
	if !ok {
		l = &sync.Mutex{}
		c.convLocks[conversationID] = l
	}
	return l
}

// dispatchSerial runs one finalized turn on its own goroutine while holding
// the conversation's lock, so two turns for the same conversation can never
// both observe the group record before either writes it.
func (c *Coordinator) dispatchSerial(ctx context.Context, conversationID string, turn flows.Turn) {
	lock := c.convLock(conversationID)
	go func() {
		lock.Lock()
		defer lock.Unlock()
		c.dispatch(ctx, turn)
	}()
}

// Flush releases every held message immediately, pairing none. Called on
// shutdown so a half-held turn is not silently dropped.
func (c *Coordinator) Flush(ctx context.Context) {
	c.mu.Lock()
	held := make([]transport.Message, 0, len(c.pending))
	for k, h := range c.pending {
		h.timer.Stop()
		held = append(held, h.msg)
		delete(c.pending, k)
	}
	c.mu.Unlock()

	for _, m := range held {
		lock := c.convLock(m.ConversationID)
		lock.Lock()
		c.dispatch(ctx, c.soloTurn(m))
		lock.Unlock()
	}
}

// observe runs one message through the pairing state machine.
func (c *Coordinator) observe(ctx context.Context, msg transport.Message) {
	key := pairKey(msg)

	c.mu.Lock()
	held, ok := c.pending[key]

	// Partner arrived inside the window: finalize the pair.
	if ok && pairable(held.msg.ContentType, msg.ContentType) {
		held.timer.Stop()
		delete(c.pending, key)
		c.mu.Unlock()
		c.dispatchSerial(ctx, msg.ConversationID, c.pairTurn(held.msg, msg))
		return
	}

	// Same kind arrived again: the held message's partner is not coming.
	// Release it solo and hold the newcomer in its place.
	var release *transport.Message
	if ok {
		held.timer.Stop()
		delete(c.pending, key)
		m := held.msg
		release = &m
	}

	c.seq++
	seq := c.seq
	h := &heldMessage{msg: msg, seq: seq}
	h.timer = c.clock.AfterFunc(c.window, func() { c.flushExpired(ctx, key, seq) })
	c.pending[key] = h
	c.mu.Unlock()

	if release != nil {
		c.dispatchSerial(ctx, release.ConversationID, c.soloTurn(*release))
	}
}

// flushExpired is the debounce timeout path: release the held message alone.
// The sequence check makes a late-firing timer for a reused slot a no-op, so
// a message is never processed twice.
func (c *Coordinator) flushExpired(ctx context.Context, key string, seq uint64) {
	c.mu.Lock()
	held, ok := c.pending[key]
	if !ok || held.seq != seq {
		c.mu.Unlock()
		return
	}
	delete(c.pending, key)
	c.mu.Unlock()

	c.dispatchSerial(ctx, held.msg.ConversationID, c.soloTurn(held.msg))
}

// pairable reports whether two content types form a text+attachment pair.
func pairable(a, b string) bool {
	return (a == transport.ContentText && b == transport.ContentAttachment) ||
		(a == transport.ContentAttachment && b == transport.ContentText)
}

func pairKey(msg transport.Message) string {
	return msg.ConversationID + "|" + msg.SenderID
}

func (c *Coordinator) soloTurn(msg transport.Message) flows.Turn {
	if msg.ContentType == transport.ContentAttachment {
		return flows.Turn{Attachment: &msg}
	}
	// Reply payloads carry their body in the nested reference, not Content.
	if msg.ContentType == transport.ContentReply && msg.Content == "" && msg.Reply != nil {
		msg.Content = msg.Reply.Content
	}
	return flows.Turn{Text: &msg}
}

func (c *Coordinator) pairTurn(a, b transport.Message) flows.Turn {
	t := flows.Turn{}
	for _, m := range []transport.Message{a, b} {
		m := m
		if m.ContentType == transport.ContentAttachment {
			t.Attachment = &m
		} else {
			t.Text = &m
		}
	}
	return t
}

// noteReaction keeps a live thread warm without running a workflow turn.
func (c *Coordinator) noteReaction(ctx context.Context, msg transport.Message) {
	if c.tracker == nil || !c.tracker.ThreadActive(msg.ConversationID) {
		return
	}
	sender, err := c.transport.ResolveAddress(ctx, msg.SenderID)
	if err != nil {
		slog.Debug("coordinator: reaction sender unresolved", "sender", msg.SenderID, "error", err)
		return
	}
	c.tracker.Touch(msg.ConversationID, sender)
}

// process runs one finalized turn through engagement, classification, and the
// flow router.
func (c *Coordinator) process(ctx context.Context, turn flows.Turn) {
	primary := turn.Primary()
	if primary == nil {
		return
	}
	conversationID := primary.ConversationID

	sender, err := c.transport.ResolveAddress(ctx, primary.SenderID)
	if err != nil {
		slog.Warn("coordinator: cannot resolve sender", "sender", primary.SenderID, "error", err)
		return
	}

	isDM, err := c.transport.IsDM(ctx, conversationID)
	if err != nil {
		slog.Warn("coordinator: DM check failed", "conversation", conversationID, "error", err)
		isDM = false
	}

	history, err := c.transport.RecentMessages(ctx, conversationID, engage.HistoryWindow)
	if err != nil {
		slog.Warn("coordinator: history fetch failed", "conversation", conversationID, "error", err)
		history = nil
	}

	group, err := c.store.Group(ctx, conversationID)
	if err != nil {
		slog.Error("coordinator: group lookup failed", "conversation", conversationID, "error", err)
		return
	}

	runID := uuid.NewString()[:8]

	decision := c.engager.ShouldEngage(ctx, *primary, sender, group, history, isDM)
	slog.Debug("coordinator: engagement decision",
		"run", runID, "conversation", conversationID, "sender", sender.Hex(),
		"engage", decision.Engage, "track_only", decision.TrackOnly, "reason", decision.Reason)

	if decision.TrackOnly {
		c.tracker.Touch(conversationID, sender)
		return
	}
	if !decision.Engage {
		return
	}
	c.tracker.Touch(conversationID, sender)

	participant, err := c.store.UpdateParticipant(ctx, sender, func(*state.ParticipantState) error { return nil })
	if err != nil {
		slog.Error("coordinator: participant load failed", "sender", sender.Hex(), "error", err)
		return
	}

	signals := classifier.DetectSignals(ctx, c.completer, turn.Body())

	fc := &flows.Context{
		Turn:        turn,
		Sender:      sender,
		Participant: participant,
		Group:       group,
		Signals:     signals,
		Store:       c.store,
		Transport:   c.transport,
		Uploader:    c.uploader,
		Launcher:    c.launcher,
		Completer:   c.completer,
		Threads:     c.tracker,
	}

	handler := c.router.Route(ctx, fc)
	if err := handler.Handle(ctx, fc); err != nil {
		slog.Error("coordinator: handler failed",
			"run", runID, "handler", handler.Name(), "conversation", conversationID, "error", err)
	}
}
