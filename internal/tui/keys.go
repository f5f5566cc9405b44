package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/key"
)

type KeyMap struct {
	Submit key.Binding
	Quit   key.Binding
	Up     key.Binding
	Down   key.Binding
}

var DefaultKeyMap = KeyMap{
	Submit: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "ask"),
	),
	Quit: key.NewBinding(
		key.WithKeys("ctrl+c", "esc"),
		key.WithHelp("esc", "quit"),
	),
	Up: key.NewBinding(
		key.WithKeys("pgup"),
		key.WithHelp("pgup", "scroll up"),
	),
	Down: key.NewBinding(
		key.WithKeys("pgdown"),
		key.WithHelp("pgdn", "scroll down"),
	),
}

func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Submit, k.Quit, k.Up, k.Down}
}

func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Submit, k.Quit}, {k.Up, k.Down}}
}

// command is a line of input that controls the session instead of asking.
type command int

const (
	cmdNone command = iota
	cmdQuit
	cmdToggleRemote
	cmdClear
	cmdStatus
	cmdHelp
)

func parseCommand(line string) command {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "quit", "exit", "q":
		return cmdQuit
	case "/remote":
		return cmdToggleRemote
	case "/clear":
		return cmdClear
	case "/status":
		return cmdStatus
	case "/help":
		return cmdHelp
	}
	return cmdNone
}

const commandHelp = "Commands: /remote toggles the remote backend, /clear clears history, /status refreshes the backend status, quit exits."
