package threads

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	alice = common.HexToAddress("0x1111111111111111111111111111111111111111")
	bob   = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

// fakeNow returns a controllable clock function.
func fakeNow(start time.Time) (func() time.Time, func(time.Duration)) {
	current := start
	return func() time.Time { return current },
		func(d time.Duration) { current = current.Add(d) }
}

func TestTouchAndExpiry(t *testing.T) {
	now, advance := fakeNow(time.Unix(1000, 0))
	tr := New(5*time.Minute, nil)
	tr.SetClock(now)

	tr.Touch("conv", alice)
	if !tr.IsActive("conv", alice) {
		t.Fatal("alice not active after touch")
	}
	if tr.IsActive("conv", bob) {
		t.Fatal("bob active without touch")
	}

	advance(4 * time.Minute)
	if !tr.IsActive("conv", alice) {
		t.Fatal("thread expired inside window")
	}

	// Past the window without the agent speaking: the whole thread dies.
	advance(2 * time.Minute)
	if tr.IsActive("conv", alice) {
		t.Fatal("thread survived past window")
	}
	if tr.ThreadActive("conv") {
		t.Fatal("expired thread still reported active")
	}
}

func TestAgentSpeakingResetsClock(t *testing.T) {
	now, advance := fakeNow(time.Unix(1000, 0))
	tr := New(5*time.Minute, nil)
	tr.SetClock(now)

	tr.Touch("conv", alice)
	advance(4 * time.Minute)
	tr.NoteAgentSpoke("conv")
	advance(4 * time.Minute)

	// 8 minutes since touch, but only 4 since the agent spoke.
	if !tr.IsActive("conv", alice) {
		t.Fatal("thread expired despite recent agent message")
	}
}

func TestRemoveDisengagesOneParticipant(t *testing.T) {
	tr := New(5*time.Minute, nil)

	tr.Touch("conv", alice)
	tr.Touch("conv", bob)
	tr.Remove("conv", alice)

	if tr.IsActive("conv", alice) {
		t.Fatal("alice still active after remove")
	}
	if !tr.IsActive("conv", bob) {
		t.Fatal("removing alice also removed bob")
	}
}

func TestStickyParticipantSurvivesRemove(t *testing.T) {
	sticky := func(conversationID string, addr common.Address) bool {
		return addr == alice // alice has a pending transaction
	}
	tr := New(5*time.Minute, sticky)

	tr.Touch("conv", alice)
	tr.Remove("conv", alice)

	if !tr.IsActive("conv", alice) {
		t.Fatal("sticky participant was removed")
	}
}

func TestDefaultWindow(t *testing.T) {
	tr := New(0, nil)
	if tr.window != DefaultWindow {
		t.Fatalf("window = %v, want %v", tr.window, DefaultWindow)
	}
}
