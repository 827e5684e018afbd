// Package client implements the terminal side of the focusd socket
// protocol: a persistent session for interactive frontends and one-shot
// helpers for scripted commands and queries.
package client

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/focusd/focusd/internal/protocol"
)

const (
	connectAttempts = 3
	connectBackoff  = 200 * time.Millisecond

	eventBuffer = 8
)

// ErrCouldNotConnect is returned once every connection attempt has failed.
var ErrCouldNotConnect = errors.New("could not connect to server")

// Connect dials the server socket, retrying a fixed number of times with a
// short backoff to bridge the window where a freshly spawned server has not
// bound its socket yet.
func Connect(socketPath string) (net.Conn, error) {
	var lastErr error
	for attempt := 0; attempt < connectAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(connectBackoff)
		}
		conn, err := net.Dial("unix", socketPath)
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", ErrCouldNotConnect, lastErr)
}

// Event is one server-originated update delivered to the frontend.
// Exactly one field is meaningful: View for a timer tick, Quit for the
// server announcing shutdown.
type Event struct {
	View *protocol.ViewState
	Quit bool
}

// Session is a live attachment to the server. Inbound frames surface on
// Events; commands go out through Send. The two directions run on their own
// goroutines so a stalled write can never block tick consumption.
type Session struct {
	conn    net.Conn
	events  chan Event
	actions chan protocol.ClientToServerMsg
	done    chan struct{}

	closeOnce sync.Once
	leaving   atomic.Bool

	mu  sync.Mutex
	err error
}

// Attach connects to the server socket and starts the session goroutines.
func Attach(socketPath string) (*Session, error) {
	conn, err := Connect(socketPath)
	if err != nil {
		return nil, err
	}
	s := &Session{
		conn:    conn,
		events:  make(chan Event, eventBuffer),
		actions: make(chan protocol.ClientToServerMsg, 1),
		done:    make(chan struct{}),
	}
	go s.readLoop()
	go s.writeLoop()
	return s, nil
}

// Events delivers timer and quit updates. The channel is closed when the
// session ends; check Err afterwards to distinguish a clean end from a
// transport failure.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Send queues one command for the server. It never blocks past session end.
func (s *Session) Send(msg protocol.ClientToServerMsg) {
	if msg == protocol.MsgDetach || msg == protocol.MsgQuit {
		// The server closes the connection in response, so the read
		// error that follows is expected.
		s.leaving.Store(true)
	}
	select {
	case s.actions <- msg:
	case <-s.done:
	}
}

// Close tears the session down locally. The server treats the transport
// close like a detach.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.leaving.Store(true)
		close(s.done)
		s.conn.Close()
	})
}

// Err reports why the session ended. It is nil for every clean ending:
// server quit, detach, or a local Close.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *Session) readLoop() {
	defer close(s.events)
	for {
		msg, err := protocol.Receive[protocol.ServerToClientMsg](s.conn)
		if err != nil {
			if !s.leaving.Load() {
				select {
				case <-s.done:
				default:
					s.setErr(err)
				}
			}
			return
		}
		switch msg.Kind {
		case protocol.ServerQuit:
			select {
			case s.events <- Event{Quit: true}:
			case <-s.done:
			}
			return
		case protocol.ServerTimer:
			if msg.State == nil {
				continue
			}
			select {
			case s.events <- Event{View: msg.State}:
			case <-s.done:
				return
			}
		}
	}
}

func (s *Session) writeLoop() {
	for {
		select {
		case msg := <-s.actions:
			if err := protocol.Send(s.conn, msg); err != nil {
				if !s.leaving.Load() {
					s.setErr(err)
				}
				return
			}
		case <-s.done:
			return
		}
	}
}
