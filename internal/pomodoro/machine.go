package pomodoro

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/focusd/focusd/internal/countdown"
)

// TickFunc presents the current ViewState to the outside world and returns
// the next action. It is also the machine's sole pacing source: it may block
// (typically on a command queue with a timeout) for as long as it wants.
type TickFunc func(ViewState) Action

// EndFunc is invoked when a phase completes naturally (never on skip),
// with the snapshot of the state that just ended and a fixed reason string.
type EndFunc func(ended State, reason string)

// Machine runs one pomodoro chain. Exactly one instance exists per server
// process, from startup until the process exits.
type Machine struct {
	cfg    Config
	clock  clockwork.Clock
	onTick TickFunc
	onEnd  EndFunc
}

// NewMachine wires a machine to its tick and natural-end callbacks.
// onEnd may be nil.
func NewMachine(cfg Config, clock clockwork.Clock, onTick TickFunc, onEnd EndFunc) *Machine {
	return &Machine{
		cfg:    cfg,
		clock:  clock,
		onTick: onTick,
		onEnd:  onEnd,
	}
}

// Run executes phases until the tick function returns ActionQuit. The first
// phase is a paused interval at round 1.
func (m *Machine) Run() {
	state := State{Phase: PhaseInterval, Round: 1}
	for {
		next, ok := m.runPhase(state)
		if !ok {
			return
		}
		state = next
	}
}

// control records tick decisions that redirect the chain instead of letting
// the current phase advance normally.
type control struct {
	reset    bool
	postpone bool
	quit     bool
}

// runPhase runs the countdown for one phase and returns the next state.
// ok is false once the machine should stop.
func (m *Machine) runPhase(state State) (next State, ok bool) {
	var ctl control

	// Postponement countdowns start running immediately; everything else
	// waits paused for a play action.
	autostart := state.Phase.IsPostponed()

	tick := func(s countdown.Status) countdown.Action {
		if autostart {
			autostart = false
			return countdown.ActionPlayPause
		}

		view := ViewState{
			IsBreak:       state.Phase.IsBreak(),
			IsPostponed:   state.Phase.IsPostponed(),
			PostponeCount: state.PostponedCount,
			Round:         state.Round,
			Time:          FormatTime(s.Remaining),
			IsPaused:      s.Paused,
		}
		return m.mapAction(state, m.onTick(view), &ctl)
	}

	end := func() {
		if m.onEnd != nil {
			m.onEnd(state, endReason(state.Phase))
		}
	}

	countdown.New(m.clock, m.phaseDuration(state.Phase), tick, end).Run()

	switch {
	case ctl.quit:
		return State{}, false
	case ctl.reset:
		return State{Phase: PhaseInterval, Round: 1, PostponedCount: 0}, true
	case ctl.postpone:
		next = state
		next.PostponedCount++
		if state.Phase == PhaseLongBreak {
			next.Phase = PhasePostponedLongBreak
		} else {
			next.Phase = PhasePostponedShortBreak
		}
		return next, true
	}

	return m.advance(state), true
}

// mapAction translates an external action into a countdown action, recording
// chain redirections in ctl. Invalid actions for the current phase are
// no-ops.
func (m *Machine) mapAction(state State, action Action, ctl *control) countdown.Action {
	switch action {
	case ActionPlayPause:
		return countdown.ActionPlayPause
	case ActionSkip:
		return countdown.ActionEnd
	case ActionReset:
		ctl.reset = true
		return countdown.ActionEnd
	case ActionPostponeBreak:
		if state.Phase.IsBreak() && m.canPostpone(state) {
			ctl.postpone = true
			return countdown.ActionEnd
		}
		return countdown.ActionNone
	case ActionQuit:
		ctl.quit = true
		return countdown.ActionEnd
	}
	return countdown.ActionNone
}

func (m *Machine) canPostpone(state State) bool {
	return m.cfg.PostponeLimit > 0 && state.PostponedCount < m.cfg.PostponeLimit
}

// advance is the normal transition table, applied when a phase run finishes
// by natural end or skip.
func (m *Machine) advance(state State) State {
	switch state.Phase {
	case PhaseInterval:
		next := State{Round: state.Round, PostponedCount: 0}
		if state.Round%m.cfg.IntervalsPerMajor == 0 {
			next.Phase = PhaseLongBreak
		} else {
			next.Phase = PhaseShortBreak
		}
		return next

	case PhaseShortBreak, PhaseLongBreak:
		return State{Phase: PhaseInterval, Round: state.Round + 1, PostponedCount: state.PostponedCount}

	case PhasePostponedShortBreak:
		return State{Phase: PhaseShortBreak, Round: state.Round, PostponedCount: state.PostponedCount}

	case PhasePostponedLongBreak:
		return State{Phase: PhaseLongBreak, Round: state.Round, PostponedCount: state.PostponedCount}
	}
	return state
}

func (m *Machine) phaseDuration(p Phase) time.Duration {
	switch p {
	case PhaseInterval:
		return m.cfg.Interval
	case PhaseShortBreak:
		return m.cfg.MinorBreak
	case PhaseLongBreak:
		return m.cfg.MajorBreak
	default:
		return m.cfg.PostponeDuration
	}
}

func endReason(p Phase) string {
	switch {
	case p == PhaseInterval:
		return ReasonIntervalOver
	case p.IsPostponed():
		return ReasonPostponeOver
	default:
		return ReasonBreakOver
	}
}
