package coordinator

import "time"

// Clock abstracts time for the pairing state machine so tests can drive the
// debounce window deterministically.
type Clock interface {
	Now() time.Time
	// AfterFunc schedules f after d and returns a handle that can cancel it.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancelable scheduled call.
type Timer interface {
	// Stop cancels the pending call. It reports false when the call already
	// fired or was stopped.
	Stop() bool
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return realTimer{time.AfterFunc(d, f)}
}

type realTimer struct{ t *time.Timer }

func (r realTimer) Stop() bool { return r.t.Stop() }
