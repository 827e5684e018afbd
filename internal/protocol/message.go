package protocol

import "fmt"

// ClientToServerMsg is a command sent from an attached client to the server.
type ClientToServerMsg uint8

const (
	// MsgQuit commands the server to shut down and close all connections.
	MsgQuit ClientToServerMsg = iota

	// MsgDetach ends the sending client's session without touching the server.
	MsgDetach

	// MsgPlayPause starts or pauses the shared timer.
	MsgPlayPause

	// MsgSkip jumps to the next interval or break.
	MsgSkip

	// MsgReset restarts the timer chain at round 1.
	MsgReset

	// MsgSync is a no-op write. A client has to write at least once before its
	// first read, otherwise the server side treats the socket as idle; one-shot
	// readers use this to prime the connection.
	MsgSync

	// MsgPostponeBreak delays the currently running break, if the configured
	// postpone limit allows it.
	MsgPostponeBreak
)

func (m ClientToServerMsg) String() string {
	switch m {
	case MsgQuit:
		return "quit"
	case MsgDetach:
		return "detach"
	case MsgPlayPause:
		return "play-pause"
	case MsgSkip:
		return "skip"
	case MsgReset:
		return "reset"
	case MsgSync:
		return "sync"
	case MsgPostponeBreak:
		return "postpone-break"
	}
	return fmt.Sprintf("unknown(%d)", uint8(m))
}

// ServerKind tags the variants of a ServerToClientMsg.
type ServerKind uint8

const (
	// ServerTimer carries a ViewState snapshot.
	ServerTimer ServerKind = iota

	// ServerQuit tells the client that the server is shutting down.
	ServerQuit
)

// ServerToClientMsg is a message from the server to one attached client.
type ServerToClientMsg struct {
	Kind  ServerKind `msgpack:"kind"`
	State *ViewState `msgpack:"state,omitempty"`
}

// ViewState is a read-only snapshot of the authoritative timer, broadcast to
// every attached client.
type ViewState struct {
	IsBreak       bool   `msgpack:"is_break"`
	IsPostponed   bool   `msgpack:"is_postponed"`
	PostponeCount uint16 `msgpack:"postpone_count"`
	Round         uint64 `msgpack:"round"`
	Time          string `msgpack:"time"`
	IsPaused      bool   `msgpack:"is_paused"`
}
