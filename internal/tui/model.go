// Package tui is the interactive chat front end.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/normanking/notionqa/internal/orchestrator"
)

// Service is the part of the orchestrator the chat needs.
type Service interface {
	Answer(ctx context.Context, question string, useRemote bool) orchestrator.Envelope
	Status(ctx context.Context) orchestrator.Status
	ClearHistory()
}

type entryKind int

const (
	entryUser entryKind = iota
	entryAnswer
	entryError
	entryNotice
)

type entry struct {
	kind    entryKind
	content string
	meta    string
}

type answerMsg struct {
	env orchestrator.Envelope
}

type statusMsg struct {
	status orchestrator.Status
}

// Model is the bubbletea model for the chat.
type Model struct {
	svc Service
	ctx context.Context

	input    textinput.Model
	spinner  spinner.Model
	viewport viewport.Model
	help     help.Model
	keys     KeyMap

	entries   []entry
	status    orchestrator.Status
	useRemote bool
	busy      bool
	ready     bool
	width     int

	renderer      *glamour.TermRenderer
	rendererWidth int
}

// New creates the chat model. useRemote sets the initial dispatch mode.
func New(ctx context.Context, svc Service, useRemote bool) *Model {
	ti := textinput.New()
	ti.Placeholder = "Ask a question about your Notion workspace..."
	ti.CharLimit = 4000
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(Teal)

	return &Model{
		svc:       svc,
		ctx:       ctx,
		input:     ti,
		spinner:   sp,
		help:      help.New(),
		keys:      DefaultKeyMap,
		useRemote: useRemote,
	}
}

// Run starts the full-screen program.
func Run(ctx context.Context, svc Service, useRemote bool) error {
	p := tea.NewProgram(New(ctx, svc, useRemote), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.fetchStatus())
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Submit):
			return m, m.submit()
		case key.Matches(msg, m.keys.Up), key.Matches(msg, m.keys.Down):
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case answerMsg:
		m.busy = false
		if msg.env.Success {
			m.addEntry(entry{kind: entryAnswer, content: msg.env.Answer, meta: envelopeMeta(msg.env)})
		} else {
			m.addEntry(entry{kind: entryError, content: msg.env.Error, meta: envelopeMeta(msg.env)})
		}
		return m, nil

	case statusMsg:
		m.status = msg.status
		return m, nil

	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// submit handles the current input line.
func (m *Model) submit() tea.Cmd {
	line := strings.TrimSpace(m.input.Value())
	if line == "" || m.busy {
		return nil
	}
	m.input.Reset()

	switch parseCommand(line) {
	case cmdQuit:
		return tea.Quit
	case cmdToggleRemote:
		m.useRemote = !m.useRemote
		m.addEntry(entry{kind: entryNotice, content: "Remote backend " + onOff(m.useRemote)})
		return nil
	case cmdClear:
		m.svc.ClearHistory()
		m.entries = nil
		m.addEntry(entry{kind: entryNotice, content: "History cleared"})
		return nil
	case cmdStatus:
		return m.fetchStatus()
	case cmdHelp:
		m.addEntry(entry{kind: entryNotice, content: commandHelp})
		return nil
	}

	m.addEntry(entry{kind: entryUser, content: line})
	m.busy = true
	return tea.Batch(m.spinner.Tick, m.ask(line, m.useRemote))
}

func (m *Model) ask(question string, useRemote bool) tea.Cmd {
	return func() tea.Msg {
		return answerMsg{env: m.svc.Answer(m.ctx, question, useRemote)}
	}
}

func (m *Model) fetchStatus() tea.Cmd {
	return func() tea.Msg {
		return statusMsg{status: m.svc.Status(m.ctx)}
	}
}

func (m *Model) addEntry(e entry) {
	m.entries = append(m.entries, e)
	if m.ready {
		m.viewport.SetContent(m.renderTranscript())
		m.viewport.GotoBottom()
	}
}

func (m *Model) resize(width, height int) {
	m.width = width
	bannerHeight := lipgloss.Height(m.bannerView())
	inputHeight := lipgloss.Height(m.inputView())
	helpHeight := 1
	vpHeight := height - bannerHeight - inputHeight - helpHeight
	if vpHeight < 1 {
		vpHeight = 1
	}

	if !m.ready {
		m.viewport = viewport.New(width, vpHeight)
		m.ready = true
	} else {
		m.viewport.Width = width
		m.viewport.Height = vpHeight
	}
	m.input.Width = width - 6
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

func (m *Model) View() string {
	if !m.ready {
		return "Initializing..."
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.bannerView(),
		m.viewport.View(),
		m.inputView(),
		HelpStyle.Render(m.help.View(m.keys)),
	)
}

func (m *Model) bannerView() string {
	conn := "disconnected"
	if m.status.Connected {
		conn = fmt.Sprintf("connected, %d unit(s)", len(m.status.Units))
	}
	backend := m.status.Backend
	if backend == "" {
		backend = "..."
	}
	text := fmt.Sprintf("Notion Q&A | backend: %s (%s) | remote: %s", backend, conn, onOff(m.useRemote))
	return BannerStyle.Width(max(m.width, lipgloss.Width(text)+2)).Render(text)
}

func (m *Model) inputView() string {
	line := m.input.View()
	if m.busy {
		line = m.spinner.View() + " Thinking..."
	}
	return InputBarStyle.Render(line)
}

func (m *Model) renderTranscript() string {
	if len(m.entries) == 0 {
		return HelpStyle.Render(commandHelp)
	}

	var b strings.Builder
	for _, e := range m.entries {
		switch e.kind {
		case entryUser:
			b.WriteString(UserMessageStyle.Render("You: " + e.content))
		case entryAnswer:
			b.WriteString(m.renderMarkdown(e.content))
			b.WriteString("\n")
			b.WriteString(SourceStyle.Render(e.meta))
		case entryError:
			b.WriteString(ErrorStyle.Render("Error: " + e.content))
			if e.meta != "" {
				b.WriteString("\n")
				b.WriteString(SourceStyle.Render(e.meta))
			}
		case entryNotice:
			b.WriteString(NoticeStyle.Render(e.content))
		}
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// renderMarkdown falls back to plain text if glamour cannot render.
func (m *Model) renderMarkdown(content string) string {
	width := m.width - 4
	if width < 20 {
		width = 80
	}
	if m.renderer == nil || m.rendererWidth != width {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(width),
		)
		if err != nil {
			return content
		}
		m.renderer, m.rendererWidth = r, width
	}

	out, err := m.renderer.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimRight(out, "\n")
}

func envelopeMeta(env orchestrator.Envelope) string {
	meta := "source: " + string(env.Source)
	if env.ExecutionID != "" {
		meta += ", execution: " + env.ExecutionID
	}
	return meta
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
