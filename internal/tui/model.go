package tui

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"screenrelay/internal/display"
)

type entryKind int

const (
	entryLine  entryKind = iota // appended text: echoes, reported errors
	entryReply                  // the reply render, replaced in place
	entrySystem
)

type entry struct {
	kind entryKind
	text string
}

// taskMsg carries a UI-thread task into Update.
type taskMsg func()

// statusMsg replaces the status line.
type statusMsg string

// Model is the chat transcript, input line and status bar. It is also the
// DisplaySink: Clear and Show are only ever called from tasks running inside
// Update, so they need no locking.
type Model struct {
	entries   []entry
	replacing bool
	input     string
	status    string
	width     int

	onSend  func(message string) error
	onReset func()
	onPanic func(any)
}

func newModel(onSend func(string) error, onReset func(), onPanic func(any)) *Model {
	return &Model{
		entries: []entry{{kind: entrySystem, text: "screenrelay. Type a message and press enter. /reset, /quit"}},
		status:  "Ready",
		onSend:  onSend,
		onReset: onReset,
		onPanic: onPanic,
	}
}

func (m *Model) Clear() {
	m.replacing = true
}

func (m *Model) Show(text string) {
	if !m.replacing {
		m.entries = append(m.entries, entry{kind: entryLine, text: text})
		return
	}
	m.replacing = false
	if n := len(m.entries); n > 0 && m.entries[n-1].kind == entryReply {
		m.entries[n-1].text = text
		return
	}
	m.entries = append(m.entries, entry{kind: entryReply, text: text})
}

func (m *Model) Init() tea.Cmd {
	return nil
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case taskMsg:
		m.runTask(msg)
	case statusMsg:
		m.status = string(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case tea.KeyMsg:
		return m, m.handleKey(msg)
	}
	return m, nil
}

func (m *Model) runTask(task taskMsg) {
	defer func() {
		if r := recover(); r != nil && m.onPanic != nil {
			m.onPanic(r)
		}
	}()
	task()
}

func (m *Model) handleKey(key tea.KeyMsg) tea.Cmd {
	switch key.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		return tea.Quit
	case tea.KeyEnter:
		return m.submit()
	case tea.KeyBackspace:
		if r := []rune(m.input); len(r) > 0 {
			m.input = string(r[:len(r)-1])
		}
	case tea.KeySpace:
		m.input += " "
	case tea.KeyRunes:
		m.input += string(key.Runes)
	}
	return nil
}

func (m *Model) submit() tea.Cmd {
	cmd, arg := display.ParseLine(m.input)
	m.input = ""

	switch cmd {
	case "quit":
		return tea.Quit
	case "reset":
		if m.onReset != nil {
			m.onReset()
		}
		m.entries = m.entries[:0]
		m.replacing = false
		m.status = "New session"
	case "help":
		m.status = "send <message> (or just type), /reset, /quit"
	case "unknown":
		m.status = "Unknown command " + arg
	case "send":
		if m.onSend == nil {
			return nil
		}
		if err := m.onSend(arg); err != nil {
			m.status = "! " + err.Error()
		}
	}
	return nil
}

func (m *Model) View() string {
	var b strings.Builder

	lineStyle := display.EchoStyle()
	replyStyle := display.ReplyStyle()
	systemStyle := display.SystemStyle()

	for _, e := range m.entries {
		if e.text == "" {
			continue
		}
		switch e.kind {
		case entryLine:
			b.WriteString(lineStyle.Render(e.text) + "\n\n")
		case entryReply:
			b.WriteString(replyStyle.Render(e.text) + "\n\n")
		case entrySystem:
			b.WriteString(systemStyle.Render(e.text) + "\n\n")
		}
	}

	b.WriteString(display.InputStyle(m.width).Render(m.input))
	b.WriteString("\n")
	b.WriteString(display.StatusStyle(m.width).Render(m.status))
	return b.String()
}
