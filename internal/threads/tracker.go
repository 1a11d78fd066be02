// Package threads tracks which participants are in a live exchange with the
// agent per conversation, with time-based expiry keyed off the agent's own
// last message. Purely in-memory; a restart simply forgets active threads.
package threads

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/launchfleet/launchbot/internal/state"
)

// DefaultWindow is how long a thread stays live after the agent last spoke.
// Configurable via threads.window; 5m sits between the historical 2m and 30m
// policies.
const DefaultWindow = 5 * time.Minute

// StickyFunc reports whether a participant must stay engaged regardless of
// recency: an unresolved pending transaction or in-flight workflow progress.
type StickyFunc func(conversationID string, addr common.Address) bool

type thread struct {
	startedAt      time.Time
	lastAgentSpoke time.Time
	participants   map[string]struct{} // key: state.Key(addr)
}

// Tracker maintains active-thread records per conversation. Entries are
// mutated only by the owning conversation's processing path; the internal
// lock exists because different conversations share the map.
type Tracker struct {
	mu      sync.Mutex
	window  time.Duration
	entries map[string]*thread
	sticky  StickyFunc
	now     func() time.Time
}

// New creates a tracker. window <= 0 uses DefaultWindow; sticky may be nil.
func New(window time.Duration, sticky StickyFunc) *Tracker {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Tracker{
		window:  window,
		entries: make(map[string]*thread),
		sticky:  sticky,
		now:     time.Now,
	}
}

// SetClock overrides the time source for tests.
func (t *Tracker) SetClock(now func() time.Time) { t.now = now }

// Touch marks a participant as engaged in a conversation, creating the
// thread record on the first qualifying signal.
func (t *Tracker) Touch(conversationID string, addr common.Address) {
	t.mu.Lock()
	defer t.mu.Unlock()

	th := t.liveLocked(conversationID)
	if th == nil {
		th = &thread{
			startedAt:      t.now(),
			lastAgentSpoke: t.now(),
			participants:   make(map[string]struct{}),
		}
		t.entries[conversationID] = th
	}
	th.participants[state.Key(addr)] = struct{}{}
}

// NoteAgentSpoke resets the thread clock for a conversation.
func (t *Tracker) NoteAgentSpoke(conversationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	th := t.liveLocked(conversationID)
	if th == nil {
		th = &thread{
			startedAt:    t.now(),
			participants: make(map[string]struct{}),
		}
		t.entries[conversationID] = th
	}
	th.lastAgentSpoke = t.now()
}

// IsActive reports whether a participant is in the conversation's live
// thread. An expired record is discarded on sight, so stale threads report
// false even before the next agent message.
func (t *Tracker) IsActive(conversationID string, addr common.Address) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	th := t.liveLocked(conversationID)
	if th == nil {
		return false
	}
	_, ok := th.participants[state.Key(addr)]
	return ok
}

// Remove disengages one participant without touching the rest of the thread.
// Participants with sticky state (pending transaction, in-flight workflow)
// are kept.
func (t *Tracker) Remove(conversationID string, addr common.Address) {
	t.mu.Lock()
	defer t.mu.Unlock()

	th := t.liveLocked(conversationID)
	if th == nil {
		return
	}
	if t.sticky != nil && t.sticky(conversationID, addr) {
		return
	}
	delete(th.participants, state.Key(addr))
}

// ThreadActive reports whether the conversation has any live thread record.
func (t *Tracker) ThreadActive(conversationID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.liveLocked(conversationID) != nil
}

// liveLocked returns the thread record for a conversation, discarding it
// first if the agent has been silent past the window.
func (t *Tracker) liveLocked(conversationID string) *thread {
	th, ok := t.entries[conversationID]
	if !ok {
		return nil
	}
	if t.now().Sub(th.lastAgentSpoke) > t.window {
		delete(t.entries, conversationID)
		return nil
	}
	return th
}
