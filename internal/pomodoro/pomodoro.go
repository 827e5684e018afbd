// Package pomodoro layers interval/break/postponement semantics on top of
// the countdown engine.
//
// The machine is a runtime tagged value (Phase) plus a transition loop:
// each phase configures and runs exactly one countdown, and the run's
// outcome deterministically constructs the next State value. State is never
// mutated in place; every transition hands a fresh value forward.
package pomodoro

import (
	"fmt"
	"time"
)

// Phase identifies which timer in the pomodoro chain is currently running.
type Phase uint8

const (
	// PhaseInterval is the focus/work countdown between breaks.
	PhaseInterval Phase = iota

	// PhaseShortBreak is the minor rest after a regular interval.
	PhaseShortBreak

	// PhaseLongBreak is the major rest after every Nth interval.
	PhaseLongBreak

	// PhasePostponedShortBreak delays a short break.
	PhasePostponedShortBreak

	// PhasePostponedLongBreak delays a long break.
	PhasePostponedLongBreak
)

// IsBreak reports whether the phase is an actively running break.
func (p Phase) IsBreak() bool {
	return p == PhaseShortBreak || p == PhaseLongBreak
}

// IsPostponed reports whether the phase is a postponement countdown.
func (p Phase) IsPostponed() bool {
	return p == PhasePostponedShortBreak || p == PhasePostponedLongBreak
}

func (p Phase) String() string {
	switch p {
	case PhaseInterval:
		return "interval"
	case PhaseShortBreak:
		return "short-break"
	case PhaseLongBreak:
		return "long-break"
	case PhasePostponedShortBreak:
		return "postponed-short-break"
	case PhasePostponedLongBreak:
		return "postponed-long-break"
	}
	return fmt.Sprintf("unknown(%d)", uint8(p))
}

// State is the snapshot carried from one phase to the next.
type State struct {
	Phase Phase

	// Round starts at 1 and increments by exactly one on every
	// break-to-interval transition. Only a full reset sets it back to 1.
	Round uint64

	// PostponedCount is how often the current break has been postponed.
	// Reset to 0 on every interval-to-break transition.
	PostponedCount uint16
}

// Action controls the machine from the outside, one tick at a time.
type Action uint8

const (
	// ActionNone lets the current phase continue.
	ActionNone Action = iota

	// ActionPlayPause starts or pauses the current countdown.
	ActionPlayPause

	// ActionSkip ends the current phase without a natural-end notification.
	ActionSkip

	// ActionReset discards the chain and starts over at round 1.
	ActionReset

	// ActionPostponeBreak delays the currently running break. A no-op
	// outside of breaks or once the postpone limit is reached.
	ActionPostponeBreak

	// ActionQuit stops the machine.
	ActionQuit
)

// ViewState is the per-tick snapshot handed to the tick function.
type ViewState struct {
	IsBreak       bool
	IsPostponed   bool
	PostponeCount uint16
	Round         uint64
	Time          string
	IsPaused      bool
}

// Config holds the durations and limits of one pomodoro chain.
// All values must be non-negative and IntervalsPerMajor at least 1.
type Config struct {
	// Interval is the focus countdown length.
	Interval time.Duration

	// MinorBreak and MajorBreak are the two break lengths.
	MinorBreak time.Duration
	MajorBreak time.Duration

	// IntervalsPerMajor selects a major break whenever
	// round % IntervalsPerMajor == 0 at the moment an interval ends.
	IntervalsPerMajor uint64

	// PostponeLimit caps how often a single break may be postponed.
	// 0 disables postponing entirely.
	PostponeLimit uint16

	// PostponeDuration is the length of one postponement countdown.
	PostponeDuration time.Duration
}

// Natural-end notification reasons.
const (
	ReasonIntervalOver = "Good job, take a break!"
	ReasonBreakOver    = "Break is over"
	ReasonPostponeOver = "Postpone done — back to break"
)

// FormatTime renders a countdown remainder as "MM:SS", flooring to whole
// seconds the way the countdown is displayed everywhere.
func FormatTime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d.Seconds())
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}
