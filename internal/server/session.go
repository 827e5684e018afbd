package server

import (
	"net"

	"github.com/rs/zerolog"

	"github.com/focusd/focusd/internal/pomodoro"
	"github.com/focusd/focusd/internal/protocol"
)

// handleSession serves one client connection until the client detaches, the
// transport fails, or the server shuts down. A session failure never takes
// down the broker or any other session.
func (b *Broker) handleSession(id uint64, conn net.Conn) {
	log := b.log.With().Uint64("session", id).Logger()
	log.Debug().Msg("client attached")

	defer conn.Close()
	defer log.Debug().Msg("client detached")

	sub := b.hub.Subscribe()
	defer b.hub.Unsubscribe(sub)

	// done ends the reader goroutine with this session, whatever the exit
	// reason. Without it a client that pipelines a frame behind a Detach
	// would park the reader on the inbound send forever.
	done := make(chan struct{})
	defer close(done)

	// Inbound frames are decoded on their own goroutine so the session loop
	// can fairly await shutdown, commands and ticks in one select. Closing
	// conn (deferred above) unblocks the pending read on exit.
	inbound := make(chan protocol.ClientToServerMsg)
	readErr := make(chan error, 1)
	go func() {
		for {
			msg, err := protocol.Receive[protocol.ClientToServerMsg](conn)
			if err != nil {
				readErr <- err
				return
			}
			select {
			case inbound <- msg:
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case <-b.shutdown:
			// Best effort: the client may already be gone.
			if err := protocol.Send(conn, protocol.ServerToClientMsg{Kind: protocol.ServerQuit}); err != nil {
				log.Debug().Err(err).Msg("could not deliver quit frame")
			}
			return

		case v := <-sub.Ticks():
			msg := protocol.ServerToClientMsg{Kind: protocol.ServerTimer, State: &v}
			if err := protocol.Send(conn, msg); err != nil {
				log.Warn().Err(err).Msg("tick delivery failed")
				return
			}

		case msg := <-inbound:
			if done := b.handleClientMsg(log, msg); done {
				return
			}

		case err := <-readErr:
			logReadError(log, err)
			return
		}
	}
}

// handleClientMsg reacts to one inbound message. It reports true when the
// session should end.
func (b *Broker) handleClientMsg(log zerolog.Logger, msg protocol.ClientToServerMsg) bool {
	switch msg {
	case protocol.MsgQuit:
		log.Info().Msg("client requested server shutdown")
		b.Shutdown()
		// The shutdown branch of the session loop delivers this session's
		// quit frame.
		return false

	case protocol.MsgDetach:
		return true

	case protocol.MsgSync:
		// Write-before-read handshake, nothing to do.
		return false

	case protocol.MsgPlayPause, protocol.MsgSkip, protocol.MsgReset, protocol.MsgPostponeBreak:
		if err := b.enqueue(commandFor(msg)); err != nil {
			log.Error().Err(err).Stringer("command", msg).Msg("command queue closed")
			b.Shutdown()
			return true
		}
		return false

	default:
		log.Warn().Stringer("command", msg).Msg("unknown client message")
		return false
	}
}

func commandFor(msg protocol.ClientToServerMsg) pomodoro.Action {
	switch msg {
	case protocol.MsgPlayPause:
		return pomodoro.ActionPlayPause
	case protocol.MsgSkip:
		return pomodoro.ActionSkip
	case protocol.MsgReset:
		return pomodoro.ActionReset
	case protocol.MsgPostponeBreak:
		return pomodoro.ActionPostponeBreak
	}
	return pomodoro.ActionNone
}

// logReadError distinguishes a peer hang-up from a protocol violation.
// Either way only this session ends; a malformed frame leaves the stream
// position unknown, so closing is the only safe recovery.
func logReadError(log zerolog.Logger, err error) {
	switch {
	case protocol.IsProtocol(err):
		log.Warn().Err(err).Msg("protocol violation, closing session")
	case protocol.IsTransport(err):
		log.Debug().Err(err).Msg("client connection closed")
	default:
		log.Warn().Err(err).Msg("session read failed")
	}
}
