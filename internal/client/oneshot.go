package client

import (
	"github.com/focusd/focusd/internal/protocol"
)

// QueryOnce fetches a single timer snapshot without keeping a session
// around. The Sync write doubles as the required first write so the server
// never sees the socket as idle before we read.
func QueryOnce(socketPath string) (protocol.ViewState, error) {
	conn, err := Connect(socketPath)
	if err != nil {
		return protocol.ViewState{}, err
	}
	defer conn.Close()

	if err := protocol.Send(conn, protocol.MsgSync); err != nil {
		return protocol.ViewState{}, err
	}
	for {
		msg, err := protocol.Receive[protocol.ServerToClientMsg](conn)
		if err != nil {
			return protocol.ViewState{}, err
		}
		if msg.Kind == protocol.ServerTimer && msg.State != nil {
			// Best effort: the deferred close detaches us anyway.
			_ = protocol.Send(conn, protocol.MsgDetach)
			return *msg.State, nil
		}
	}
}

// SendOnce connects, delivers one command and disconnects. Used by the
// non-interactive subcommands (stop, toggle, skip, reset, postpone).
func SendOnce(socketPath string, msg protocol.ClientToServerMsg) error {
	conn, err := Connect(socketPath)
	if err != nil {
		return err
	}
	defer conn.Close()
	return protocol.Send(conn, msg)
}
