// Package countdown provides the pause/run countdown primitive underneath
// the pomodoro state machine.
//
// The timer never sleeps on its own. All wall-clock pacing is delegated to
// the caller's tick function, which is expected to block (typically on a
// command channel with a timeout) and doubles as the timer's only input
// channel. That inversion is what lets a single timer be driven safely by
// many concurrent command producers funneled into one consumer.
package countdown

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Action is the tick function's answer on each iteration.
type Action uint8

const (
	// ActionNone keeps the current state.
	ActionNone Action = iota

	// ActionPlayPause toggles between the paused and running states.
	ActionPlayPause

	// ActionEnd forces the countdown to return immediately, skipping the
	// natural-end callback.
	ActionEnd
)

// Status is handed to the tick function on every loop iteration.
type Status struct {
	// Remaining time on the countdown. Constant while paused.
	Remaining time.Duration

	// Paused reports whether the countdown is currently halted.
	Paused bool
}

// TickFunc paces the countdown and feeds it input. It may block for as long
// as it wants; the countdown makes no progress while it does.
type TickFunc func(Status) Action

// Timer is a single countdown. It is always constructed paused and driven
// to completion by one call to Run.
type Timer struct {
	clock    clockwork.Clock
	duration time.Duration
	onTick   TickFunc
	onEnd    func()
}

// New returns a paused countdown over d. onEnd may be nil; when set it fires
// exactly once if the countdown exhausts naturally (never on ActionEnd).
func New(clock clockwork.Clock, d time.Duration, onTick TickFunc, onEnd func()) *Timer {
	return &Timer{
		clock:    clock,
		duration: d,
		onTick:   onTick,
		onEnd:    onEnd,
	}
}

// Run drives the countdown until it exhausts or the tick function forces an
// end. It reports whether the countdown ended naturally.
//
// While paused the remaining time is held constant; ActionPlayPause resumes
// with target = now + remaining. While running the remaining time is
// recomputed from the target instant each iteration; ActionPlayPause pauses
// with the exact leftover, never the original duration.
func (t *Timer) Run() bool {
	remaining := t.duration
	paused := true
	var target time.Time

	for {
		if paused {
			switch t.onTick(Status{Remaining: remaining, Paused: true}) {
			case ActionPlayPause:
				target = t.clock.Now().Add(remaining)
				paused = false
			case ActionEnd:
				return false
			}
			continue
		}

		remaining = target.Sub(t.clock.Now())
		if remaining <= 0 {
			if t.onEnd != nil {
				t.onEnd()
			}
			return true
		}

		switch t.onTick(Status{Remaining: remaining, Paused: false}) {
		case ActionPlayPause:
			remaining = target.Sub(t.clock.Now())
			paused = true
		case ActionEnd:
			return false
		}
	}
}
