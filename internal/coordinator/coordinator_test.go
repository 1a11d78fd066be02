package coordinator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/launchfleet/launchbot/internal/chain"
	"github.com/launchfleet/launchbot/internal/engage"
	"github.com/launchfleet/launchbot/internal/flows"
	"github.com/launchfleet/launchbot/internal/state"
	"github.com/launchfleet/launchbot/internal/threads"
	"github.com/launchfleet/launchbot/internal/transport"
)

var alice = common.HexToAddress("0x1111111111111111111111111111111111111111")

// fakeClock drives debounce timers by hand.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	when    time.Time
	fn      func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, when: c.now.Add(d), fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves time forward and fires due timers synchronously.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.when.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	for _, t := range due {
		t.fn()
	}
}

// forceFire invokes the callback regardless of stop state, simulating a timer
// that won the race against cancellation.
func (t *fakeTimer) forceFire() { t.fn() }

// memStore is an in-memory state.Store.
type memStore struct {
	mu           sync.Mutex
	participants map[string]*state.ParticipantState
	groups       map[string]*state.GroupRecord
}

func newMemStore() *memStore {
	return &memStore{
		participants: make(map[string]*state.ParticipantState),
		groups:       make(map[string]*state.GroupRecord),
	}
}

// Reads return snapshots so tests can poll while handlers keep writing.
func cloneParticipant(p *state.ParticipantState) *state.ParticipantState {
	if p == nil {
		return nil
	}
	data, err := state.EncodeParticipant(p)
	if err != nil {
		panic(err)
	}
	out, err := state.DecodeParticipant(data)
	if err != nil {
		panic(err)
	}
	return out
}

func cloneGroup(g *state.GroupRecord) *state.GroupRecord {
	if g == nil {
		return nil
	}
	data, err := state.EncodeGroup(g)
	if err != nil {
		panic(err)
	}
	out, err := state.DecodeGroup(data)
	if err != nil {
		panic(err)
	}
	return out
}

func (s *memStore) Participant(_ context.Context, addr common.Address) (*state.ParticipantState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneParticipant(s.participants[state.Key(addr)]), nil
}

func (s *memStore) PutParticipant(_ context.Context, p *state.ParticipantState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participants[state.Key(p.Address)] = p
	return nil
}

func (s *memStore) UpdateParticipant(_ context.Context, addr common.Address, mutate func(*state.ParticipantState) error) (*state.ParticipantState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[state.Key(addr)]
	if !ok {
		p = state.NewParticipant(addr, time.Now())
	}
	if err := mutate(p); err != nil {
		return nil, err
	}
	s.participants[state.Key(addr)] = p
	return p, nil
}

func (s *memStore) Group(_ context.Context, id string) (*state.GroupRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneGroup(s.groups[id]), nil
}

func (s *memStore) PutGroup(_ context.Context, g *state.GroupRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[g.ID] = g
	return nil
}

func (s *memStore) UpdateGroup(_ context.Context, id string, mutate func(*state.GroupRecord) error) (*state.GroupRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok {
		g = state.NewGroup(id, time.Now())
	}
	if err := mutate(g); err != nil {
		return nil, err
	}
	s.groups[id] = g
	return g, nil
}

func (s *memStore) Close() error { return nil }

// fakeTransport records sends and signals address resolutions. members and
// history are set before ingestion starts and never mutated after.
type fakeTransport struct {
	mu       sync.Mutex
	sends    []string
	resolved chan string
	dm       bool
	members  []common.Address
	history  []transport.Message
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{resolved: make(chan string, 16)}
}

func (f *fakeTransport) Send(_ context.Context, _, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, text)
	return nil
}

func (f *fakeTransport) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

func (f *fakeTransport) React(context.Context, string, string, string) error { return nil }

func (f *fakeTransport) RecentMessages(context.Context, string, int) ([]transport.Message, error) {
	return f.history, nil
}

func (f *fakeTransport) MemberAddresses(context.Context, string) ([]common.Address, error) {
	return f.members, nil
}

func (f *fakeTransport) IsDM(context.Context, string) (bool, error) { return f.dm, nil }

func (f *fakeTransport) ResolveAddress(_ context.Context, senderID string) (common.Address, error) {
	select {
	case f.resolved <- senderID:
	default:
	}
	if !common.IsHexAddress(senderID) {
		return common.Address{}, errors.New("unknown sender")
	}
	return common.HexToAddress(senderID), nil
}

func (f *fakeTransport) AgentID() string   { return "agent-inbox" }
func (f *fakeTransport) AgentName() string { return "launchbot" }

// errCompleter fails every completion so classification degrades to defaults.
type errCompleter struct{}

func (errCompleter) Complete(context.Context, string) (string, error) {
	return "", errors.New("classifier down")
}

func textMsg(id, content string) transport.Message {
	return transport.Message{
		ID: id, ConversationID: "conv", SenderID: alice.Hex(),
		ContentType: transport.ContentText, Content: content, SentAt: time.Now(),
	}
}

func attachmentMsg(id string) transport.Message {
	return transport.Message{
		ID: id, ConversationID: "conv", SenderID: alice.Hex(),
		ContentType: transport.ContentAttachment,
		Attachment:  &transport.Attachment{URL: "https://example/img.png"},
	}
}

// pairHarness is a coordinator with dispatch captured on a channel.
func pairHarness(t *testing.T) (*Coordinator, *fakeClock, chan flows.Turn) {
	t.Helper()
	clock := newFakeClock()
	c := New(Deps{Transport: newFakeTransport()}, DefaultPairWindow)
	c.SetClock(clock)
	turns := make(chan flows.Turn, 16)
	c.dispatch = func(_ context.Context, turn flows.Turn) { turns <- turn }
	return c, clock, turns
}

func waitTurn(t *testing.T, turns chan flows.Turn) flows.Turn {
	t.Helper()
	select {
	case turn := <-turns:
		return turn
	case <-time.After(2 * time.Second):
		t.Fatal("no turn dispatched")
		return flows.Turn{}
	}
}

func assertNoTurn(t *testing.T, turns chan flows.Turn) {
	t.Helper()
	select {
	case turn := <-turns:
		t.Fatalf("unexpected turn dispatched: %+v", turn)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTextThenAttachmentPairs(t *testing.T) {
	c, _, turns := pairHarness(t)
	ctx := context.Background()

	if !c.Ingest(ctx, textMsg("m1", "Doge (DOGE)")) {
		t.Fatal("text rejected")
	}
	assertNoTurn(t, turns) // held, waiting for partner

	if !c.Ingest(ctx, attachmentMsg("m2")) {
		t.Fatal("attachment rejected")
	}
	turn := waitTurn(t, turns)
	if turn.Text == nil || turn.Attachment == nil {
		t.Fatalf("turn not paired: text=%v attachment=%v", turn.Text, turn.Attachment)
	}
	if turn.Text.ID != "m1" || turn.Attachment.ID != "m2" {
		t.Fatalf("wrong members paired: %s + %s", turn.Text.ID, turn.Attachment.ID)
	}
	assertNoTurn(t, turns)
}

func TestAttachmentThenTextPairs(t *testing.T) {
	c, _, turns := pairHarness(t)
	ctx := context.Background()

	c.Ingest(ctx, attachmentMsg("m1"))
	c.Ingest(ctx, textMsg("m2", "Doge (DOGE)"))

	turn := waitTurn(t, turns)
	if turn.Text == nil || turn.Attachment == nil {
		t.Fatalf("turn not paired: %+v", turn)
	}
	if turn.Attachment.ID != "m1" || turn.Text.ID != "m2" {
		t.Fatalf("wrong members paired")
	}
}

func TestDebounceTimeoutFlushesSolo(t *testing.T) {
	c, clock, turns := pairHarness(t)

	c.Ingest(context.Background(), textMsg("m1", "hello"))
	assertNoTurn(t, turns)

	clock.Advance(DefaultPairWindow)
	turn := waitTurn(t, turns)
	if turn.Text == nil || turn.Attachment != nil {
		t.Fatalf("expected solo text turn, got %+v", turn)
	}
	// Nothing left to fire.
	clock.Advance(time.Minute)
	assertNoTurn(t, turns)
}

func TestSecondTextReplacesHeld(t *testing.T) {
	c, clock, turns := pairHarness(t)
	ctx := context.Background()

	c.Ingest(ctx, textMsg("m1", "first"))
	c.Ingest(ctx, textMsg("m2", "second"))

	// The first message's partner is not coming: it flushes solo.
	turn := waitTurn(t, turns)
	if turn.Text == nil || turn.Text.ID != "m1" {
		t.Fatalf("expected m1 released, got %+v", turn)
	}

	// The second is still held and can pair.
	c.Ingest(ctx, attachmentMsg("m3"))
	turn = waitTurn(t, turns)
	if turn.Text == nil || turn.Text.ID != "m2" || turn.Attachment == nil {
		t.Fatalf("expected m2+m3 pair, got %+v", turn)
	}

	clock.Advance(time.Minute)
	assertNoTurn(t, turns)
}

func TestStaleTimerAfterPairIsNoOp(t *testing.T) {
	c, clock, turns := pairHarness(t)
	ctx := context.Background()

	c.Ingest(ctx, textMsg("m1", "caption"))
	c.Ingest(ctx, attachmentMsg("m2"))
	waitTurn(t, turns)

	// Fire the canceled debounce timer anyway: the sequence guard must make
	// it a no-op rather than re-dispatching m1.
	clock.mu.Lock()
	timer := clock.timers[0]
	clock.mu.Unlock()
	timer.forceFire()
	assertNoTurn(t, turns)
}

func TestSendersDebounceIndependently(t *testing.T) {
	c, _, turns := pairHarness(t)
	ctx := context.Background()

	bobMsg := textMsg("m1", "from bob")
	bobMsg.SenderID = "0x2222222222222222222222222222222222222222"
	c.Ingest(ctx, bobMsg)
	c.Ingest(ctx, attachmentMsg("m2")) // alice's attachment must not pair with bob's text

	assertNoTurn(t, turns)
}

func TestNoiseFiltered(t *testing.T) {
	c, _, turns := pairHarness(t)
	ctx := context.Background()

	self := textMsg("m1", "agent echo")
	self.SenderID = "agent-inbox"

	noise := []transport.Message{
		self,
		{ID: "m2", ConversationID: "conv", SenderID: alice.Hex(), ContentType: transport.ContentReadReceipt},
		{ID: "m3", ConversationID: "conv", SenderID: alice.Hex(), ContentType: transport.ContentWalletCalls},
		{ID: "m4", ConversationID: "conv", SenderID: alice.Hex(), ContentType: transport.ContentGroupUpdate},
		textMsg("m5", chain.TxRequestText),
		textMsg("m6", "  "+chain.TxRequestText+"\n"),
	}
	for _, msg := range noise {
		if c.Ingest(ctx, msg) {
			t.Errorf("noise accepted: %s %s", msg.ID, msg.ContentType)
		}
	}
	assertNoTurn(t, turns)
}

func TestDuplicateDeliveryDropped(t *testing.T) {
	c, clock, turns := pairHarness(t)
	ctx := context.Background()

	msg := textMsg("m1", "hello")
	if !c.Ingest(ctx, msg) {
		t.Fatal("first delivery rejected")
	}
	if c.Ingest(ctx, msg) {
		t.Fatal("redelivery accepted")
	}

	clock.Advance(DefaultPairWindow)
	waitTurn(t, turns)
	assertNoTurn(t, turns)
}

func TestReplyDispatchesWithoutPairing(t *testing.T) {
	c, _, turns := pairHarness(t)

	msg := transport.Message{
		ID: "m1", ConversationID: "conv", SenderID: alice.Hex(),
		ContentType: transport.ContentReply,
		Reply:       &transport.Reply{Reference: "a1", ContentType: transport.ContentText, Content: "yes please"},
	}
	if !c.Ingest(context.Background(), msg) {
		t.Fatal("reply rejected")
	}

	turn := waitTurn(t, turns)
	if turn.Text == nil || turn.Text.Content != "yes please" {
		t.Fatalf("reply body not surfaced: %+v", turn)
	}
}

func TestFlushReleasesHeldMessages(t *testing.T) {
	c, _, turns := pairHarness(t)
	ctx := context.Background()

	c.Ingest(ctx, textMsg("m1", "going down"))
	c.Flush(ctx)

	turn := waitTurn(t, turns)
	if turn.Text == nil || turn.Text.ID != "m1" {
		t.Fatalf("flush released %+v", turn)
	}
}

func TestTxReferenceBypassesPairing(t *testing.T) {
	tp := newFakeTransport()
	store := newMemStore()
	receipts := chain.NewProcessor(store, nil, tp)

	c := New(Deps{Transport: tp, Store: store, Receipts: receipts}, DefaultPairWindow)
	turns := make(chan flows.Turn, 1)
	c.dispatch = func(_ context.Context, turn flows.Turn) { turns <- turn }

	msg := transport.Message{
		ID: "m1", ConversationID: "conv", SenderID: alice.Hex(),
		ContentType: transport.ContentTxReference,
		TxRef:       &transport.TxRef{Raw: "0x00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"},
	}
	if !c.Ingest(context.Background(), msg) {
		t.Fatal("tx reference rejected")
	}

	// The processor resolves the sender (then finds no pending tx); the
	// pairing machinery never sees the message.
	select {
	case <-tp.resolved:
	case <-time.After(2 * time.Second):
		t.Fatal("receipt processor never ran")
	}
	assertNoTurn(t, turns)
}

func TestReactionKeepsThreadWarm(t *testing.T) {
	tp := newFakeTransport()
	tracker := threads.New(time.Minute, nil)
	tracker.NoteAgentSpoke("conv") // live thread

	c := New(Deps{Transport: tp, Tracker: tracker}, DefaultPairWindow)
	turns := make(chan flows.Turn, 1)
	c.dispatch = func(_ context.Context, turn flows.Turn) { turns <- turn }

	msg := transport.Message{
		ID: "m1", ConversationID: "conv", SenderID: alice.Hex(),
		ContentType: transport.ContentReaction,
		Reaction:    &transport.Reaction{Reference: "a1", Emoji: "🔥", Action: "added"},
	}
	if !c.Ingest(context.Background(), msg) {
		t.Fatal("reaction rejected")
	}
	if !tracker.IsActive("conv", alice) {
		t.Fatal("reaction did not mark participant active")
	}
	assertNoTurn(t, turns)
}

func TestDMTextRunsFullPipeline(t *testing.T) {
	tp := newFakeTransport()
	tp.dm = true
	store := newMemStore()
	tracker := threads.New(time.Minute, nil)
	completer := errCompleter{}

	router := flows.NewRouter(flows.Handlers{
		PendingTx:   flows.NewPendingTx(),
		Onboarding:  flows.NewOnboarding("base-mainnet"),
		GroupCreate: flows.NewGroupCreate("base-mainnet"),
		QA:          flows.NewQA(),
		Management:  flows.NewManagement(),
		CoinLaunch:  flows.NewCoinLaunch("base-mainnet"),
	})

	c := New(Deps{
		Transport: tp,
		Store:     store,
		Engager:   engage.New(tp.AgentID(), tp.AgentName(), tracker, completer, false),
		Completer: completer,
		Router:    router,
		Tracker:   tracker,
	}, DefaultPairWindow)
	clock := newFakeClock()
	c.SetClock(clock)

	c.Ingest(context.Background(), textMsg("m1", "hi there"))
	clock.Advance(DefaultPairWindow)

	deadline := time.Now().Add(2 * time.Second)
	for tp.sendCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no reply sent for a DM text")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// A brand-new DM participant lands in onboarding.
	p, _ := store.Participant(context.Background(), alice)
	if p == nil || p.Status != state.StatusOnboarding {
		t.Fatalf("participant after first DM = %+v", p)
	}
}

func TestSameConversationTurnsNeverInterleave(t *testing.T) {
	clock := newFakeClock()
	c := New(Deps{Transport: newFakeTransport()}, DefaultPairWindow)
	c.SetClock(clock)

	var (
		mu          sync.Mutex
		inFlight    int
		maxInFlight int
	)
	done := make(chan struct{}, 4)
	c.dispatch = func(_ context.Context, _ flows.Turn) {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()
		time.Sleep(30 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		done <- struct{}{}
	}

	// Two senders in the same conversation, both flushing on the same tick:
	// the two turns must run one after the other, never side by side.
	ctx := context.Background()
	bobMsg := textMsg("m2", "from bob")
	bobMsg.SenderID = "0x2222222222222222222222222222222222222222"
	c.Ingest(ctx, textMsg("m1", "from alice"))
	c.Ingest(ctx, bobMsg)
	clock.Advance(DefaultPairWindow)

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("turn never dispatched")
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if maxInFlight != 1 {
		t.Fatalf("%d turns for one conversation ran concurrently, want serialized", maxInFlight)
	}
}

// scriptedCompleter answers signal-detection prompts with canned JSON and
// every yes/no judgement with yes.
type scriptedCompleter struct {
	signals string
}

func (s scriptedCompleter) Complete(_ context.Context, prompt string) (string, error) {
	if strings.Contains(prompt, "JSON object") {
		return s.signals, nil
	}
	return "yes", nil
}

// fakeLauncher records wallet-request submissions.
type fakeLauncher struct {
	mu     sync.Mutex
	groups [][]state.Receiver
	coins  []state.CoinData
}

func (l *fakeLauncher) RequestGroupCreation(_ context.Context, _ string, _ common.Address, receivers []state.Receiver) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.groups = append(l.groups, receivers)
	return nil
}

func (l *fakeLauncher) RequestCoinCreation(_ context.Context, _ string, _ common.Address, coin state.CoinData, _ state.LaunchParams, _ common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.coins = append(l.coins, coin)
	return nil
}

// fakeWaiter hands back a fixed receipt for any hash.
type fakeWaiter struct {
	receipt *ethtypes.Receipt
}

func (w fakeWaiter) WaitForReceipt(context.Context, common.Hash, time.Duration) (*ethtypes.Receipt, error) {
	return w.receipt, nil
}

func managerReceipt(manager common.Address) *ethtypes.Receipt {
	topic := crypto.Keccak256Hash([]byte("ManagerDeployed(address,address)"))
	return &ethtypes.Receipt{Logs: []*ethtypes.Log{{
		Topics: []common.Hash{topic, common.BytesToHash(manager.Bytes())},
	}}}
}

func poolReceipt(coin common.Address) *ethtypes.Receipt {
	topic := crypto.Keccak256Hash([]byte("PoolCreated(bytes32,address,address,uint256,bool,uint256)"))
	data := make([]byte, 5*32)
	copy(data[12:32], coin.Bytes())
	return &ethtypes.Receipt{Logs: []*ethtypes.Log{{
		Topics: []common.Hash{topic},
		Data:   data,
	}}}
}

func txRefMsg(id string) transport.Message {
	return transport.Message{
		ID: id, ConversationID: "conv", SenderID: alice.Hex(),
		ContentType: transport.ContentTxReference,
		TxRef:       &transport.TxRef{Raw: "0x00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"},
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// journeyCoordinator wires a full pipeline over fakes for end-to-end tests.
func journeyCoordinator(tp *fakeTransport, store *memStore, completer scriptedCompleter, launcher *fakeLauncher, waiter fakeWaiter) (*Coordinator, *fakeClock) {
	tracker := threads.New(time.Minute, nil)
	router := flows.NewRouter(flows.Handlers{
		PendingTx:   flows.NewPendingTx(),
		Onboarding:  flows.NewOnboarding("base-mainnet"),
		GroupCreate: flows.NewGroupCreate("base-mainnet"),
		QA:          flows.NewQA(),
		Management:  flows.NewManagement(),
		CoinLaunch:  flows.NewCoinLaunch("base-mainnet"),
	})
	c := New(Deps{
		Transport: tp,
		Store:     store,
		Engager:   engage.New(tp.AgentID(), tp.AgentName(), tracker, completer, false),
		Completer: completer,
		Router:    router,
		Receipts:  chain.NewProcessor(store, waiter, tp),
		Tracker:   tracker,
		Launcher:  launcher,
	}, DefaultPairWindow)
	clock := newFakeClock()
	c.SetClock(clock)
	return c, clock
}

func TestGroupCreationJourney(t *testing.T) {
	bob := common.HexToAddress("0x2222222222222222222222222222222222222222")
	manager := common.HexToAddress("0x3333333333333333333333333333333333333333")

	tp := newFakeTransport()
	tp.members = []common.Address{alice, bob}
	store := newMemStore()
	launcher := &fakeLauncher{}
	c, clock := journeyCoordinator(tp, store, scriptedCompleter{signals: `{"wants_group_launch":true}`},
		launcher, fakeWaiter{receipt: managerReceipt(manager)})
	ctx := context.Background()

	c.Ingest(ctx, textMsg("m1", "@launchbot create a group for everyone here"))
	clock.Advance(DefaultPairWindow)

	waitFor(t, func() bool {
		g, _ := store.Group(ctx, "conv")
		if g == nil {
			return false
		}
		gp := g.Participants[state.Key(alice)]
		return gp != nil && gp.PendingTx != nil && gp.PendingTx.Type == state.TxGroupCreation
	}, "group creation never left a pending transaction")

	launcher.mu.Lock()
	submitted := len(launcher.groups)
	launcher.mu.Unlock()
	if submitted != 1 {
		t.Fatalf("launcher saw %d group requests, want 1", submitted)
	}

	c.Ingest(ctx, txRefMsg("m2"))
	waitFor(t, func() bool {
		g, _ := store.Group(ctx, "conv")
		return g != nil && len(g.Managers) == 1
	}, "manager never recorded after confirmation")

	g, _ := store.Group(ctx, "conv")
	m := g.Managers[0]
	if m.Address != manager {
		t.Errorf("manager address = %s, want %s", m.Address.Hex(), manager.Hex())
	}
	total := 0
	seen := map[common.Address]bool{}
	for _, r := range m.Receivers {
		total += r.Percent
		seen[r.Address] = true
	}
	if total != 100 || !seen[alice] || !seen[bob] {
		t.Errorf("receivers = %+v, want alice and bob summing to 100", m.Receivers)
	}
	if g.Participants[state.Key(alice)].PendingTx != nil {
		t.Error("pending transaction not cleared after confirmation")
	}

	p, _ := store.Participant(ctx, alice)
	if p == nil || !p.HasGroups() || p.Status != state.StatusActive {
		t.Errorf("creator after confirmation = %+v, want active group member", p)
	}
	pb, _ := store.Participant(ctx, bob)
	if pb == nil || !pb.HasGroups() {
		t.Errorf("receiver after confirmation = %+v, want group membership", pb)
	}
}

func TestCoinLaunchJourney(t *testing.T) {
	manager := common.HexToAddress("0x3333333333333333333333333333333333333333")
	coinAddr := common.HexToAddress("0x4444444444444444444444444444444444444444")

	tp := newFakeTransport()
	tp.history = []transport.Message{{
		ID: "a1", ConversationID: "conv", SenderID: "agent-inbox",
		ContentType: transport.ContentText, Content: "Your group is live! Ready to launch?",
	}}
	store := newMemStore()
	launcher := &fakeLauncher{}
	c, clock := journeyCoordinator(tp, store, scriptedCompleter{signals: `{"coin_launch_confidence":0.9}`},
		launcher, fakeWaiter{receipt: poolReceipt(coinAddr)})
	ctx := context.Background()

	if _, err := store.UpdateGroup(ctx, "conv", func(g *state.GroupRecord) error {
		g.AddManager(state.Manager{
			Address:    manager,
			Receivers:  []state.Receiver{{Address: alice, Percent: 100}},
			DeployedAt: time.Now(),
		})
		g.Member(alice).Status = state.StatusActive
		return nil
	}); err != nil {
		t.Fatalf("seed group: %v", err)
	}
	if _, err := store.UpdateParticipant(ctx, alice, func(p *state.ParticipantState) error {
		p.Advance(state.StatusActive)
		p.AddGroup("conv")
		return nil
	}); err != nil {
		t.Fatalf("seed participant: %v", err)
	}

	// Replying to the agent's own message starts collection with the caption.
	c.Ingest(ctx, transport.Message{
		ID: "m1", ConversationID: "conv", SenderID: alice.Hex(),
		ContentType: transport.ContentReply,
		Reply:       &transport.Reply{Reference: "a1", ContentType: transport.ContentText, Content: "Doge (DOGE)"},
	})
	waitFor(t, func() bool {
		g, _ := store.Group(ctx, "conv")
		gp := g.Participants[state.Key(alice)]
		return gp != nil && gp.Progress != nil && gp.Progress.Coin != nil && gp.Progress.Coin.Ticker == "DOGE"
	}, "caption reply never stored collection progress")

	// The image completes the definition and submits the launch.
	c.Ingest(ctx, attachmentMsg("m2"))
	clock.Advance(DefaultPairWindow)
	waitFor(t, func() bool {
		g, _ := store.Group(ctx, "conv")
		gp := g.Participants[state.Key(alice)]
		return gp != nil && gp.PendingTx != nil && gp.PendingTx.Type == state.TxCoinCreation
	}, "image never triggered the launch submission")

	launcher.mu.Lock()
	if len(launcher.coins) != 1 || launcher.coins[0].Name != "Doge" || launcher.coins[0].Ticker != "DOGE" {
		launcher.mu.Unlock()
		t.Fatalf("launcher saw %+v, want one Doge (DOGE) request", launcher.coins)
	}
	launcher.mu.Unlock()

	c.Ingest(ctx, txRefMsg("m3"))
	waitFor(t, func() bool {
		g, _ := store.Group(ctx, "conv")
		return g != nil && len(g.Coins) == 1
	}, "coin never recorded after confirmation")

	g, _ := store.Group(ctx, "conv")
	coin := g.Coins[0]
	if coin.Name != "Doge" || coin.Ticker != "DOGE" {
		t.Errorf("recorded coin = %s (%s)", coin.Name, coin.Ticker)
	}
	if coin.Address != coinAddr || coin.ManagerAddress != manager {
		t.Errorf("coin addresses = %s via %s", coin.Address.Hex(), coin.ManagerAddress.Hex())
	}
	if coin.ImageURI == "" {
		t.Error("image reference lost on the way to the coin record")
	}
	gp := g.Participants[state.Key(alice)]
	if gp.PendingTx != nil || gp.Progress != nil {
		t.Error("confirmation left pending transaction or progress behind")
	}
	p, _ := store.Participant(ctx, alice)
	if p == nil || len(p.Launches) != 1 || p.Launches[0].Ticker != "DOGE" {
		t.Errorf("launch history = %+v, want one DOGE entry", p)
	}
}
