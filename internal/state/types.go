package state

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Schema versions for persisted documents. Bump when a field changes meaning;
// Decode* applies defaults for older versions.
const (
	ParticipantSchemaVersion = 1
	GroupSchemaVersion       = 1
)

// Status is the lifecycle state of a participant. Transitions only move
// forward (new → onboarding → active) except an explicit reset.
type Status string

const (
	StatusNew        Status = "new"
	StatusOnboarding Status = "onboarding"
	StatusActive     Status = "active"
	StatusInvited    Status = "invited"
	StatusInactive   Status = "inactive"
)

// TxType classifies a pending on-chain action.
type TxType string

const (
	TxGroupCreation TxType = "group_creation"
	TxCoinCreation  TxType = "coin_creation"
)

// ErrManagerMissing is returned when a coin references a fee-split manager
// not present in its group. The write is aborted so a coin is never recorded
// without its manager.
var ErrManagerMissing = errors.New("state: coin references unknown manager")

// Key normalizes a chain address into the canonical store key form.
func Key(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

// ParticipantState is the per-address record, shared across conversations.
type ParticipantState struct {
	SchemaVersion int            `json:"schema_version"`
	Address       common.Address `json:"address"`
	Status        Status         `json:"status"`
	Launches      []LaunchRecord `json:"launches,omitempty"` // ordered, oldest first
	GroupIDs      []string       `json:"group_ids,omitempty"`
	Preferences   Preferences    `json:"preferences"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// LaunchRecord is one entry in a participant's launch history.
type LaunchRecord struct {
	CoinAddress common.Address `json:"coin_address"`
	GroupID     string         `json:"group_id"`
	Ticker      string         `json:"ticker"`
	LaunchedAt  time.Time      `json:"launched_at"`
}

// Preferences are per-participant launch defaults.
type Preferences struct {
	StartingMarketCapUSD int `json:"starting_market_cap_usd,omitempty"`
	FairLaunchPercent    int `json:"fair_launch_percent,omitempty"`
}

// NewParticipant creates a first-contact participant record.
func NewParticipant(addr common.Address, now time.Time) *ParticipantState {
	return &ParticipantState{
		SchemaVersion: ParticipantSchemaVersion,
		Address:       addr,
		Status:        StatusNew,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// HasGroups reports whether the participant belongs to any group.
func (p *ParticipantState) HasGroups() bool { return len(p.GroupIDs) > 0 }

// AddGroup records a group membership idempotently.
func (p *ParticipantState) AddGroup(groupID string) {
	for _, id := range p.GroupIDs {
		if id == groupID {
			return
		}
	}
	p.GroupIDs = append(p.GroupIDs, groupID)
}

// statusRank orders the forward lifecycle; invited and new share a rank.
var statusRank = map[Status]int{
	StatusNew: 0, StatusInvited: 0, StatusOnboarding: 1, StatusActive: 2,
}

// Advance moves the participant status forward. Backward transitions are
// ignored so a late receipt cannot demote an active participant.
func (p *ParticipantState) Advance(to Status) {
	if statusRank[to] > statusRank[p.Status] {
		p.Status = to
	}
}

// GroupRecord is the per-conversation-group document: shared fee-split
// managers and launched coins for everyone in the conversation.
type GroupRecord struct {
	SchemaVersion int                          `json:"schema_version"`
	ID            string                       `json:"id"` // conversation identifier
	Name          string                       `json:"name,omitempty"`
	Description   string                       `json:"description,omitempty"`
	Participants  map[string]*GroupParticipant `json:"participants"` // key: Key(address)
	Managers      []Manager                    `json:"managers,omitempty"`
	Coins         []LaunchedCoin               `json:"coins,omitempty"`
	CreatedAt     time.Time                    `json:"created_at"`
	UpdatedAt     time.Time                    `json:"updated_at"`
}

// GroupParticipant is per-group sub-state for one member.
type GroupParticipant struct {
	Status    Status              `json:"status"`
	Progress  *LaunchProgress     `json:"progress,omitempty"`
	PendingTx *PendingTransaction `json:"pending_tx,omitempty"`
}

// Advance moves the member's per-group status forward, same ordering as the
// participant-level transition.
func (gp *GroupParticipant) Advance(to Status) {
	if statusRank[to] > statusRank[gp.Status] {
		gp.Status = to
	}
}

// LaunchProgress is in-flight coin-launch workflow state, persisted so a
// participant can resume mid-collection after a restart.
type LaunchProgress struct {
	Step      string    `json:"step"` // StepCollectingCoinData etc.
	Coin      *CoinData `json:"coin,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Workflow steps stored in LaunchProgress.Step.
const (
	StepCollectingCoinData = "collecting_coin_data"
	StepConfirmingLaunch   = "confirming_launch"
	StepCollectingGroup    = "collecting_group"
)

// CoinData is the collected token definition.
type CoinData struct {
	Name     string `json:"name"`
	Ticker   string `json:"ticker"`
	ImageURI string `json:"image_uri,omitempty"` // ipfs:// reference
}

// LaunchParams are the chain-side launch knobs.
type LaunchParams struct {
	StartingMarketCapUSD int    `json:"starting_market_cap_usd"`
	FairLaunchPercent    int    `json:"fair_launch_percent"`
	PrebuyETH            string `json:"prebuy_eth,omitempty"` // decimal string
}

// PendingTransaction is a submitted-but-unconfirmed on-chain action.
// At most one exists per (group, participant); it is cleared exactly once,
// on successful receipt processing or unrecoverable error.
type PendingTransaction struct {
	Type        TxType        `json:"type"`
	Network     string        `json:"network"`
	Coin        *CoinData     `json:"coin,omitempty"`
	Params      *LaunchParams `json:"params,omitempty"`
	FirstLaunch bool          `json:"first_launch,omitempty"`
	// Receivers is the fee-split table being deployed (group creation).
	Receivers []Receiver `json:"receivers,omitempty"`
	// ManagerAddress is the manager the coin launches through (coin creation).
	ManagerAddress common.Address `json:"manager_address,omitempty"`
	SubmittedAt    time.Time      `json:"submitted_at"`
}

// Manager is a deployed fee-split contract and its receiver table.
type Manager struct {
	Address    common.Address `json:"address"`
	Receivers  []Receiver     `json:"receivers"`
	DeployedAt time.Time      `json:"deployed_at"`
}

// Receiver is one fee recipient. Percent values across a manager sum to 100.
type Receiver struct {
	Address common.Address `json:"address"`
	Percent int            `json:"percent"`
}

// LaunchedCoin is one token launched through a group's manager.
type LaunchedCoin struct {
	Name           string         `json:"name"`
	Ticker         string         `json:"ticker"`
	ImageURI       string         `json:"image_uri,omitempty"`
	Address        common.Address `json:"address"`
	ManagerAddress common.Address `json:"manager_address"`
	LaunchedAt     time.Time      `json:"launched_at"`
}

// NewGroup creates an empty group record for a conversation.
func NewGroup(id string, now time.Time) *GroupRecord {
	return &GroupRecord{
		SchemaVersion: GroupSchemaVersion,
		ID:            id,
		Participants:  make(map[string]*GroupParticipant),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Member returns the per-group sub-state for an address, creating it if the
// participant is new to the group.
func (g *GroupRecord) Member(addr common.Address) *GroupParticipant {
	k := Key(addr)
	if g.Participants == nil {
		g.Participants = make(map[string]*GroupParticipant)
	}
	gp, ok := g.Participants[k]
	if !ok {
		gp = &GroupParticipant{Status: StatusNew}
		g.Participants[k] = gp
	}
	return gp
}

// ManagerAt finds a deployed manager by address.
func (g *GroupRecord) ManagerAt(addr common.Address) *Manager {
	for i := range g.Managers {
		if g.Managers[i].Address == addr {
			return &g.Managers[i]
		}
	}
	return nil
}

// AddManager appends a manager idempotently (keyed by contract address).
func (g *GroupRecord) AddManager(m Manager) {
	if g.ManagerAt(m.Address) != nil {
		return
	}
	g.Managers = append(g.Managers, m)
}

// AddCoin appends a launched coin, enforcing the invariant that its manager
// already exists in this group. A coin is never recorded before its manager.
func (g *GroupRecord) AddCoin(c LaunchedCoin) error {
	if g.ManagerAt(c.ManagerAddress) == nil {
		return fmt.Errorf("%w: group=%s manager=%s coin=%s",
			ErrManagerMissing, g.ID, c.ManagerAddress.Hex(), c.Ticker)
	}
	for _, existing := range g.Coins {
		if existing.Address == c.Address {
			return nil // already recorded, receipt reprocessed
		}
	}
	g.Coins = append(g.Coins, c)
	return nil
}

// ValidateReceivers checks that a receiver table is non-empty and sums to 100.
func ValidateReceivers(rs []Receiver) error {
	if len(rs) == 0 {
		return errors.New("state: manager has no receivers")
	}
	total := 0
	for _, r := range rs {
		if r.Percent <= 0 {
			return fmt.Errorf("state: receiver %s has non-positive share %d", r.Address.Hex(), r.Percent)
		}
		total += r.Percent
	}
	if total != 100 {
		return fmt.Errorf("state: receiver shares sum to %d, want 100", total)
	}
	return nil
}

// EvenSplit distributes 100 percent across addrs, remainder to the first.
func EvenSplit(addrs []common.Address) []Receiver {
	if len(addrs) == 0 {
		return nil
	}
	base := 100 / len(addrs)
	rem := 100 - base*len(addrs)
	rs := make([]Receiver, len(addrs))
	for i, a := range addrs {
		pct := base
		if i == 0 {
			pct += rem
		}
		rs[i] = Receiver{Address: a, Percent: pct}
	}
	return rs
}
