// Command focusd runs the pomodoro daemon and its terminal frontends.
//
// With no arguments it attaches an interactive timer view, spawning the
// daemon first if none is running. Subcommands cover the daemon itself and
// non-interactive control.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/focusd/focusd/internal/client"
	"github.com/focusd/focusd/internal/config"
	"github.com/focusd/focusd/internal/notify"
	"github.com/focusd/focusd/internal/protocol"
	"github.com/focusd/focusd/internal/server"
	"github.com/focusd/focusd/internal/tui"
)

const usage = `usage: focusd [flags] [command]

commands:
  run       attach the interactive timer view, starting the server if needed (default)
  server    run the timer server in the foreground
  once      print the current timer state and exit
  status    report whether a server is running
  toggle    start or pause the timer
  skip      skip to the next phase
  reset     reset to a fresh first interval
  postpone  postpone the current break
  stop      shut the server down

flags:
`

func main() {
	configPath := flag.String("config", config.DefaultPath(), "path to config file")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "focusd: %v\n", err)
		os.Exit(1)
	}

	cmd := flag.Arg(0)
	if cmd == "" {
		cmd = "run"
	}

	switch cmd {
	case "run":
		err = runAttached(cfg, *configPath)
	case "server":
		err = runServer(cfg)
	case "once":
		err = printOnce(cfg)
	case "status":
		fmt.Printf("focusd server is %s\n", server.CurrentStatus())
	case "toggle":
		err = client.SendOnce(cfg.Socket.Path, protocol.MsgPlayPause)
	case "skip":
		err = client.SendOnce(cfg.Socket.Path, protocol.MsgSkip)
	case "reset":
		err = client.SendOnce(cfg.Socket.Path, protocol.MsgReset)
	case "postpone":
		err = client.SendOnce(cfg.Socket.Path, protocol.MsgPostponeBreak)
	case "stop":
		err = client.SendOnce(cfg.Socket.Path, protocol.MsgQuit)
	default:
		flag.Usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "focusd: %v\n", err)
		os.Exit(1)
	}
}

// runServer runs the broker in the foreground until it is shut down via the
// socket or a signal.
func runServer(cfg *config.Config) error {
	log, closeLog, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer closeLog()

	b := server.New(cfg.Timers.Pomodoro(), server.Options{
		SocketPath:     cfg.Socket.Path,
		AlreadyRunning: server.AnotherServerRunning,
		Notifier:       notify.New(cfg.Notify, log),
		Clock:          clockwork.NewRealClock(),
		Logger:         log,
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		b.Shutdown()
	}()

	if err := b.Run(); err != nil {
		if errors.Is(err, server.ErrAlreadyRunning) {
			log.Info().Str("socket", cfg.Socket.Path).Msg("server already running")
			return nil
		}
		return err
	}
	return nil
}

// runAttached makes sure a server exists, attaches a session and hands it
// to the TUI.
func runAttached(cfg *config.Config, configPath string) error {
	if !server.AnotherServerRunning() {
		if err := spawnServer(configPath); err != nil {
			return fmt.Errorf("starting server: %w", err)
		}
	}

	session, err := client.Attach(cfg.Socket.Path)
	if err != nil {
		return err
	}
	defer session.Close()

	m := tui.New(session)
	if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
		return err
	}

	farewell, err := m.Result()
	if err != nil {
		return err
	}
	if farewell != "" {
		fmt.Println(farewell)
	}
	return nil
}

// spawnServer starts a detached server process. The connect retry backoff
// on the client side covers the window until its socket is bound.
func spawnServer(configPath string) error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	cmd := exec.Command(exe, "-config", configPath, "server")
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}

func printOnce(cfg *config.Config) error {
	v, err := client.QueryOnce(cfg.Socket.Path)
	if err != nil {
		return err
	}

	label := "focus"
	switch {
	case v.IsPostponed:
		label = fmt.Sprintf("postponed break (%d)", v.PostponeCount)
	case v.IsBreak:
		label = "break"
	}
	line := fmt.Sprintf("%s  %s  round %d", v.Time, label, v.Round)
	if v.IsPaused {
		line += "  (paused)"
	}
	fmt.Println(line)
	return nil
}

// newLogger builds the server logger from config: human-readable console
// output by default, plain JSON when writing to a file.
func newLogger(cfg config.LogConfig) (zerolog.Logger, func(), error) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var w io.Writer = zerolog.ConsoleWriter{Out: os.Stderr}
	closeLog := func() {}
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return zerolog.Logger{}, nil, fmt.Errorf("opening log file: %w", err)
		}
		w = f
		closeLog = func() { f.Close() }
	}

	log := zerolog.New(w).Level(level).With().Timestamp().Logger()
	return log, closeLog, nil
}
