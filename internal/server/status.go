package server

import (
	"os"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// Status describes whether a focusd server process is alive.
type Status int

const (
	// StatusStopped means no server process exists.
	StatusStopped Status = iota

	// StatusRunning means a live server process was found.
	StatusRunning
)

func (s Status) String() string {
	if s == StatusRunning {
		return "running"
	}
	return "not running"
}

// CurrentStatus scans the process table for a live "focusd server" process
// other than the calling one.
//
// A server is identified by its command line rather than the socket file,
// because a socket path can outlive its owner; this is the liveness input
// to the broker's stale-socket decision.
func CurrentStatus() Status {
	procs, err := process.Processes()
	if err != nil {
		// Can't prove liveness; report stopped and let the bind fail
		// loudly if we're wrong.
		return StatusStopped
	}

	self := int32(os.Getpid())

	for _, p := range procs {
		if p.Pid == self {
			continue
		}
		name, err := p.Name()
		if err != nil || !strings.Contains(name, "focusd") {
			continue
		}
		args, err := p.CmdlineSlice()
		if err != nil || len(args) < 2 {
			continue
		}
		for _, arg := range args[1:] {
			if arg == "server" {
				return StatusRunning
			}
		}
	}
	return StatusStopped
}

// AnotherServerRunning adapts CurrentStatus to the broker's bind decision.
func AnotherServerRunning() bool {
	return CurrentStatus() == StatusRunning
}
