// Package server owns the single authoritative pomodoro timer of a focusd
// process and multiplexes any number of socket sessions onto it.
//
// Two execution contexts exist: the state-machine goroutine, which blocks
// only on its own command queue, and the I/O side, one goroutine pair per
// session. They communicate exclusively by message passing — sessions
// enqueue commands into a queue only the machine consumes, and the machine
// publishes ticks into a broadcast hub sessions subscribe to. No session
// ever touches machine-owned data.
package server

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/focusd/focusd/internal/pomodoro"
	"github.com/focusd/focusd/internal/protocol"
)

// ErrAlreadyRunning reports that another live server owns the socket.
// Not a failure: the caller should exit cleanly without binding.
var ErrAlreadyRunning = errors.New("server already running")

// errMachineDead reports that the command queue has no consumer left.
var errMachineDead = errors.New("timer state machine is not running")

const (
	// tickTimeout paces the countdown between commands.
	tickTimeout = time.Second

	// shutdownGrace bounds how long shutdown waits for sessions to flush
	// their final Quit frame before the process exits anyway.
	shutdownGrace = 2 * time.Second
)

// Notifier receives natural-end events for OS notification dispatch.
type Notifier interface {
	Notify(round uint64, reason string)
}

// Options configures a Broker beyond its timer settings.
type Options struct {
	// SocketPath is the well-known local socket address.
	SocketPath string

	// AlreadyRunning decides whether a live server owns the socket name.
	// Consulted only when the socket path already exists; when it returns
	// false the existing socket is treated as stale and removed.
	AlreadyRunning func() bool

	// Notifier handles natural-end notifications. May be nil.
	Notifier Notifier

	// Clock paces the timer. Defaults to the real clock.
	Clock clockwork.Clock

	Logger zerolog.Logger
}

// Broker runs the timer state machine and the session accept loop.
type Broker struct {
	cfg  pomodoro.Config
	opts Options
	log  zerolog.Logger

	commands chan pomodoro.Action
	hub      *Hub

	shutdown     chan struct{}
	shutdownOnce sync.Once

	machineDone chan struct{}

	listener net.Listener
	sessions sync.WaitGroup

	sessionSeq uint64
	mu         sync.Mutex
}

// New creates a broker for one timer configuration.
func New(cfg pomodoro.Config, opts Options) *Broker {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Broker{
		cfg:         cfg,
		opts:        opts,
		log:         opts.Logger,
		commands:    make(chan pomodoro.Action, 16),
		hub:         NewHub(),
		shutdown:    make(chan struct{}),
		machineDone: make(chan struct{}),
	}
}

// Run binds the socket, starts the state machine and serves sessions until
// a shutdown is requested. It returns ErrAlreadyRunning without binding if
// a live server already owns the socket.
func (b *Broker) Run() error {
	ln, err := b.bind()
	if err != nil {
		return err
	}
	b.listener = ln
	defer os.Remove(b.opts.SocketPath)

	b.log.Info().Str("socket", b.opts.SocketPath).Msg("server listening")

	go b.runMachine()

	go func() {
		// Either the machine quit on its own or a session requested
		// shutdown; in both cases stop accepting new sessions.
		select {
		case <-b.machineDone:
			b.Shutdown()
		case <-b.shutdown:
		}
		ln.Close()
	}()

	b.acceptLoop(ln)

	// Give every live session a bounded chance to deliver its final Quit
	// frame. Delivery is eventual, the exit is not held hostage by a stuck
	// client.
	done := make(chan struct{})
	go func() {
		b.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		b.log.Warn().Msg("shutdown grace expired with sessions still attached")
	}

	<-b.machineDone
	b.log.Info().Msg("server stopped")
	return nil
}

// Shutdown broadcasts the global shutdown signal once.
func (b *Broker) Shutdown() {
	b.shutdownOnce.Do(func() {
		b.log.Info().Msg("shutdown requested")
		close(b.shutdown)
	})
}

// bind implements the startup idempotency contract: an existing socket with
// a live owner means this broker must not start; an existing socket without
// one is stale and replaced.
func (b *Broker) bind() (net.Listener, error) {
	path := b.opts.SocketPath

	if _, err := os.Stat(path); err == nil {
		if b.opts.AlreadyRunning != nil && b.opts.AlreadyRunning() {
			return nil, ErrAlreadyRunning
		}
		b.log.Warn().Str("socket", path).Msg("removing stale socket")
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("removing stale socket %s: %w", path, err)
		}
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("binding %s: %w", path, err)
	}
	return ln, nil
}

func (b *Broker) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-b.shutdown:
				return
			default:
			}
			// The listener is gone for good (EMFILE, or the socket pulled
			// out from under us). Nothing can attach anymore, so running on
			// would hold the socket path while serving nobody.
			b.log.Error().Err(err).Msg("accept failed, shutting down")
			b.Shutdown()
			return
		}

		b.mu.Lock()
		b.sessionSeq++
		id := b.sessionSeq
		b.mu.Unlock()

		b.sessions.Add(1)
		go func() {
			defer b.sessions.Done()
			b.handleSession(id, conn)
		}()
	}
}

// runMachine is the state-machine execution context. It is the sole
// consumer of the command queue.
func (b *Broker) runMachine() {
	defer close(b.machineDone)

	machine := pomodoro.NewMachine(b.cfg, b.opts.Clock, b.presentTick, b.notifyEnd)
	machine.Run()
}

// presentTick publishes the tick to all subscribers, then blocks on the
// command queue with a timeout. This is the only place wall-clock pacing
// happens.
func (b *Broker) presentTick(v pomodoro.ViewState) pomodoro.Action {
	b.hub.Publish(toWire(v))

	select {
	case a := <-b.commands:
		return a
	case <-b.shutdown:
		return pomodoro.ActionQuit
	case <-b.opts.Clock.After(tickTimeout):
		return pomodoro.ActionNone
	}
}

func (b *Broker) notifyEnd(ended pomodoro.State, reason string) {
	b.log.Debug().
		Uint64("round", ended.Round).
		Stringer("phase", ended.Phase).
		Str("reason", reason).
		Msg("timer ended")
	if b.opts.Notifier != nil {
		b.opts.Notifier.Notify(ended.Round, reason)
	}
}

// enqueue hands a command to the state machine. The machine being gone is
// fatal to the whole process: exactly one exists and nothing can revive it.
func (b *Broker) enqueue(a pomodoro.Action) error {
	select {
	case b.commands <- a:
		return nil
	case <-b.machineDone:
		return errMachineDead
	case <-b.shutdown:
		return errMachineDead
	}
}

func toWire(v pomodoro.ViewState) protocol.ViewState {
	return protocol.ViewState{
		IsBreak:       v.IsBreak,
		IsPostponed:   v.IsPostponed,
		PostponeCount: v.PostponeCount,
		Round:         v.Round,
		Time:          v.Time,
		IsPaused:      v.IsPaused,
	}
}
