package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines all keyboard bindings for the timer view.
type KeyMap struct {
	PlayPause key.Binding
	Skip      key.Binding
	Reset     key.Binding
	Postpone  key.Binding
	Detach    key.Binding
	Quit      key.Binding
}

// DefaultKeyMap returns the default key bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		PlayPause: key.NewBinding(
			key.WithKeys(" ", "enter"),
			key.WithHelp("space", "play/pause"),
		),
		Skip: key.NewBinding(
			key.WithKeys("s"),
			key.WithHelp("s", "skip"),
		),
		Reset: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "reset"),
		),
		Postpone: key.NewBinding(
			key.WithKeys("p"),
			key.WithHelp("p", "postpone break"),
		),
		Detach: key.NewBinding(
			key.WithKeys("d", "esc"),
			key.WithHelp("d", "detach"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "stop server"),
		),
	}
}
