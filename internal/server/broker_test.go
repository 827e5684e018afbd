package server

import (
	"bytes"
	"errors"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/focusd/focusd/internal/pomodoro"
	"github.com/focusd/focusd/internal/protocol"
)

const testWait = 5 * time.Second

func timeout(t *testing.T) <-chan time.Time {
	t.Helper()
	return time.After(testWait)
}

// recordingNotifier collects natural-end notifications.
type recordingNotifier struct {
	mu      sync.Mutex
	reasons []string
}

func (n *recordingNotifier) Notify(round uint64, reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reasons = append(n.reasons, reason)
}

func (n *recordingNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.reasons...)
}

var testCfg = pomodoro.Config{
	Interval:          2 * time.Second,
	MinorBreak:        1 * time.Second,
	MajorBreak:        3 * time.Second,
	IntervalsPerMajor: 2,
}

// startBroker runs a broker on a fake clock. A driver goroutine advances
// the clock continuously so running countdowns progress without real
// waiting; paused countdowns never read the clock, so command-driven steps
// remain deterministic.
func startBroker(t *testing.T, cfg pomodoro.Config, notifier Notifier) (string, *Broker, <-chan error) {
	t.Helper()

	sock := filepath.Join(t.TempDir(), "focusd.sock")
	clk := clockwork.NewFakeClock()

	b := New(cfg, Options{
		SocketPath: sock,
		Notifier:   notifier,
		Clock:      clk,
		Logger:     zerolog.Nop(),
	})

	errCh := make(chan error, 1)
	go func() { errCh <- b.Run() }()

	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				clk.Advance(time.Second)
				time.Sleep(200 * time.Microsecond)
			}
		}
	}()
	t.Cleanup(func() {
		close(stop)
		b.Shutdown()
		select {
		case <-errCh:
		case <-time.After(testWait):
		}
	})

	waitForSocket(t, sock)
	return sock, b, errCh
}

func waitForSocket(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(testWait)
	for time.Now().Before(deadline) {
		// Require a real socket so a stale regular file at the path does not
		// satisfy the wait before the broker has rebound.
		if fi, err := os.Stat(path); err == nil && fi.Mode()&os.ModeSocket != 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("socket %s never appeared", path)
}

func dialTest(t *testing.T, sock string) net.Conn {
	t.Helper()
	conn, err := net.Dial("unix", sock)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn net.Conn, msg protocol.ClientToServerMsg) {
	t.Helper()
	if err := protocol.Send(conn, msg); err != nil {
		t.Fatalf("send %v: %v", msg, err)
	}
}

// nextMsg reads one server frame with a deadline.
func nextMsg(t *testing.T, conn net.Conn) protocol.ServerToClientMsg {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(testWait))
	msg, err := protocol.Receive[protocol.ServerToClientMsg](conn)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	return msg
}

// waitView reads timer frames until pred holds, failing on Quit or timeout.
func waitView(t *testing.T, conn net.Conn, pred func(protocol.ViewState) bool) protocol.ViewState {
	t.Helper()
	deadline := time.Now().Add(testWait)
	for time.Now().Before(deadline) {
		msg := nextMsg(t, conn)
		if msg.Kind == protocol.ServerQuit {
			t.Fatal("unexpected quit frame while waiting for view")
		}
		if msg.State != nil && pred(*msg.State) {
			return *msg.State
		}
	}
	t.Fatal("view predicate never satisfied")
	return protocol.ViewState{}
}

func TestAlreadyRunningDoesNotBind(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "focusd.sock")
	if err := os.WriteFile(sock, nil, 0o600); err != nil {
		t.Fatal(err)
	}

	b := New(testCfg, Options{
		SocketPath:     sock,
		AlreadyRunning: func() bool { return true },
		Logger:         zerolog.Nop(),
	})

	err := b.Run()
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("Run() = %v, want ErrAlreadyRunning", err)
	}
	// The live owner's socket must be left alone.
	if _, err := os.Stat(sock); err != nil {
		t.Errorf("existing socket was removed: %v", err)
	}
}

func TestStaleSocketIsReplaced(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "focusd.sock")
	if err := os.WriteFile(sock, nil, 0o600); err != nil {
		t.Fatal(err)
	}

	b := New(testCfg, Options{
		SocketPath:     sock,
		AlreadyRunning: func() bool { return false },
		Clock:          clockwork.NewFakeClock(),
		Logger:         zerolog.Nop(),
	})

	errCh := make(chan error, 1)
	go func() { errCh <- b.Run() }()
	waitForSocket(t, sock)

	// A fresh bind accepts connections.
	conn, err := net.Dial("unix", sock)
	if err != nil {
		t.Fatalf("dial after stale replace: %v", err)
	}
	conn.Close()

	b.Shutdown()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run() = %v", err)
		}
	case <-timeout(t):
		t.Fatal("broker did not stop")
	}
}

func TestListenerFailureStopsBroker(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "focusd.sock")

	b := New(testCfg, Options{
		SocketPath: sock,
		Clock:      clockwork.NewFakeClock(),
		Logger:     zerolog.Nop(),
	})

	errCh := make(chan error, 1)
	go func() { errCh <- b.Run() }()
	waitForSocket(t, sock)

	// Kill the listener out from under the broker, as an EMFILE-style
	// accept failure would. The machine must be told to stop too, or Run
	// wedges holding the socket while accepting nothing.
	b.listener.Close()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run() = %v", err)
		}
	case <-timeout(t):
		t.Fatal("broker kept running after its listener died")
	}
}

func TestPipelinedFrameAfterDetachDoesNotLeakReader(t *testing.T) {
	sock, _, _ := startBroker(t, testCfg, nil)

	baseline := runtime.NumGoroutine()

	conn := dialTest(t, sock)

	// Detach with another frame already queued behind it in the same
	// write. The session ends on the detach; the reader goroutine must not
	// stay parked trying to hand over the trailing frame.
	var frames bytes.Buffer
	if err := protocol.Send(&frames, protocol.MsgDetach); err != nil {
		t.Fatal(err)
	}
	if err := protocol.Send(&frames, protocol.MsgPlayPause); err != nil {
		t.Fatal(err)
	}
	if _, err := conn.Write(frames.Bytes()); err != nil {
		t.Fatalf("write: %v", err)
	}

	// The server closes the connection once the detach is processed.
	conn.SetReadDeadline(time.Now().Add(testWait))
	for {
		if _, err := protocol.Receive[protocol.ServerToClientMsg](conn); err != nil {
			break
		}
	}

	deadline := time.Now().Add(testWait)
	for runtime.NumGoroutine() > baseline {
		if time.Now().After(deadline) {
			t.Fatalf("%d goroutines alive after session ended, baseline %d",
				runtime.NumGoroutine(), baseline)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestTicksBroadcastToAllSessions(t *testing.T) {
	sock, _, _ := startBroker(t, testCfg, nil)

	c1 := dialTest(t, sock)
	c2 := dialTest(t, sock)
	send(t, c1, protocol.MsgSync)
	send(t, c2, protocol.MsgSync)

	v1 := waitView(t, c1, func(protocol.ViewState) bool { return true })
	v2 := waitView(t, c2, func(protocol.ViewState) bool { return true })

	for i, v := range []protocol.ViewState{v1, v2} {
		if v.IsBreak || v.Round != 1 || !v.IsPaused {
			t.Errorf("client %d first view = %+v, want paused interval round 1", i+1, v)
		}
		if v.Time != "00:02" {
			t.Errorf("client %d time = %q, want 00:02", i+1, v.Time)
		}
	}
}

func TestDetachEndsOnlyThatSession(t *testing.T) {
	sock, b, _ := startBroker(t, testCfg, nil)

	leaver := dialTest(t, sock)
	stayer := dialTest(t, sock)
	send(t, stayer, protocol.MsgSync)
	waitView(t, stayer, func(protocol.ViewState) bool { return true })

	send(t, leaver, protocol.MsgDetach)

	// The leaver's connection is closed by the server without a quit frame.
	leaver.SetReadDeadline(time.Now().Add(testWait))
	for {
		msg, err := protocol.Receive[protocol.ServerToClientMsg](leaver)
		if err != nil {
			break
		}
		if msg.Kind == protocol.ServerQuit {
			t.Fatal("detach produced a quit frame")
		}
	}

	// The other session keeps streaming ticks.
	waitView(t, stayer, func(protocol.ViewState) bool { return true })

	deadline := time.Now().Add(testWait)
	for b.hub.SubscriberCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber count after detach = %d, want 1", b.hub.SubscriberCount())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestQuitFansOutToEverySession(t *testing.T) {
	sock, _, errCh := startBroker(t, testCfg, nil)

	conns := make([]net.Conn, 3)
	for i := range conns {
		conns[i] = dialTest(t, sock)
		send(t, conns[i], protocol.MsgSync)
		waitView(t, conns[i], func(protocol.ViewState) bool { return true })
	}

	send(t, conns[0], protocol.MsgQuit)

	for i, conn := range conns {
		quits := 0
		conn.SetReadDeadline(time.Now().Add(testWait))
		for {
			msg, err := protocol.Receive[protocol.ServerToClientMsg](conn)
			if err != nil {
				break // connection closed after the quit frame
			}
			if msg.Kind == protocol.ServerQuit {
				quits++
			}
		}
		if quits != 1 {
			t.Errorf("client %d received %d quit frames, want exactly 1", i, quits)
		}
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run() = %v", err)
		}
	case <-timeout(t):
		t.Fatal("broker did not exit after quit")
	}
}

func TestMalformedFrameClosesOnlyThatSession(t *testing.T) {
	sock, _, _ := startBroker(t, testCfg, nil)

	bad := dialTest(t, sock)
	good := dialTest(t, sock)
	send(t, good, protocol.MsgSync)
	waitView(t, good, func(protocol.ViewState) bool { return true })

	// Oversized length field: an unrecoverable protocol violation.
	if _, err := bad.Write([]byte{0xff, 0xff, 0xff, 0xff}); err != nil {
		t.Fatalf("write: %v", err)
	}

	bad.SetReadDeadline(time.Now().Add(testWait))
	for {
		if _, err := protocol.Receive[protocol.ServerToClientMsg](bad); err != nil {
			if !protocol.IsTransport(err) {
				t.Errorf("want transport error after server closed, got %v", err)
			}
			break
		}
	}

	// The healthy session is unaffected.
	waitView(t, good, func(protocol.ViewState) bool { return true })
}

func TestEndToEndPomodoroFlow(t *testing.T) {
	notifier := &recordingNotifier{}
	sock, _, _ := startBroker(t, testCfg, notifier)

	conn := dialTest(t, sock)
	send(t, conn, protocol.MsgSync)

	first := waitView(t, conn, func(protocol.ViewState) bool { return true })
	if first.IsBreak || first.Round != 1 {
		t.Fatalf("initial view = %+v, want interval round 1", first)
	}

	// Start the 2s interval; it exhausts under the fake clock and the
	// natural end pushes us into the round-1 break.
	send(t, conn, protocol.MsgPlayPause)
	v := waitView(t, conn, func(v protocol.ViewState) bool { return v.IsBreak })
	if v.Round != 1 {
		t.Errorf("break view round = %d, want 1", v.Round)
	}
	if got := notifier.all(); len(got) != 1 || got[0] != pomodoro.ReasonIntervalOver {
		t.Errorf("notifications after interval = %v, want [%q]", got, pomodoro.ReasonIntervalOver)
	}

	// Run the 1s break down; round increments on break->interval.
	send(t, conn, protocol.MsgPlayPause)
	v = waitView(t, conn, func(v protocol.ViewState) bool { return !v.IsBreak && v.Round == 2 })
	if got := notifier.all(); len(got) != 2 || got[1] != pomodoro.ReasonBreakOver {
		t.Errorf("notifications after break = %v, want break-over appended", got)
	}

	// Skip flips into the major break (round 2 of 2) without notifying.
	send(t, conn, protocol.MsgSkip)
	v = waitView(t, conn, func(v protocol.ViewState) bool { return v.IsBreak })
	if v.Round != 2 {
		t.Errorf("post-skip break round = %d, want 2", v.Round)
	}
	if got := notifier.all(); len(got) != 2 {
		t.Errorf("skip added a notification: %v", got)
	}
}

func TestResetCommand(t *testing.T) {
	sock, _, _ := startBroker(t, testCfg, nil)

	conn := dialTest(t, sock)
	send(t, conn, protocol.MsgSync)
	waitView(t, conn, func(protocol.ViewState) bool { return true })

	// Skip twice to reach round 2, then reset back to a fresh chain.
	send(t, conn, protocol.MsgSkip)
	send(t, conn, protocol.MsgSkip)
	waitView(t, conn, func(v protocol.ViewState) bool { return !v.IsBreak && v.Round == 2 })

	send(t, conn, protocol.MsgReset)
	v := waitView(t, conn, func(v protocol.ViewState) bool { return v.Round == 1 && !v.IsBreak })
	if !v.IsPaused || v.PostponeCount != 0 {
		t.Errorf("view after reset = %+v, want fresh paused interval", v)
	}
}

func TestPostponeCommand(t *testing.T) {
	cfg := testCfg
	cfg.PostponeLimit = 1
	cfg.PostponeDuration = time.Hour // driver advances 1s steps; plenty to observe
	sock, _, _ := startBroker(t, cfg, nil)

	conn := dialTest(t, sock)
	send(t, conn, protocol.MsgSync)
	waitView(t, conn, func(protocol.ViewState) bool { return true })

	send(t, conn, protocol.MsgSkip) // into the break
	waitView(t, conn, func(v protocol.ViewState) bool { return v.IsBreak })

	send(t, conn, protocol.MsgPostponeBreak)
	// The count survives the postponement, so key on it rather than racing
	// the driver clock for a frame from inside the postponed window.
	v := waitView(t, conn, func(v protocol.ViewState) bool { return v.PostponeCount == 1 })
	if v.IsPostponed && v.IsPaused {
		t.Error("postponement countdown is paused, want running")
	}
}
