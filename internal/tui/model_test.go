package tui

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func typeText(m *Model, s string) {
	for _, r := range s {
		if r == ' ' {
			m.Update(tea.KeyMsg{Type: tea.KeySpace})
			continue
		}
		m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
}

func TestModel_EnterSendsMessage(t *testing.T) {
	var sent []string
	m := newModel(func(s string) error { sent = append(sent, s); return nil }, nil, nil)

	typeText(m, "send what is this")
	m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	typeText(m, "hello")
	m.Update(tea.KeyMsg{Type: tea.KeyEnter})

	if strings.Join(sent, "|") != "what is this|hello" {
		t.Fatalf("unexpected sends %v", sent)
	}
	if m.input != "" {
		t.Fatalf("input not cleared: %q", m.input)
	}
}

func TestModel_SendErrorInStatus(t *testing.T) {
	m := newModel(func(string) error { return errors.New("send queue full") }, nil, nil)
	typeText(m, "hi")
	m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if m.status != "! send queue full" {
		t.Fatalf("status = %q", m.status)
	}
}

func TestModel_Backspace(t *testing.T) {
	m := newModel(nil, nil, nil)
	typeText(m, "héé")
	m.Update(tea.KeyMsg{Type: tea.KeyBackspace})
	if m.input != "hé" {
		t.Fatalf("input = %q", m.input)
	}
}

func TestModel_QuitCommands(t *testing.T) {
	m := newModel(nil, nil, nil)
	typeText(m, "/quit")
	if _, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter}); cmd == nil {
		t.Fatal("/quit should return a quit command")
	}
	if _, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC}); cmd == nil {
		t.Fatal("ctrl+c should return a quit command")
	}
}

func TestModel_ResetClearsTranscript(t *testing.T) {
	resets := 0
	m := newModel(nil, func() { resets++ }, nil)
	m.Show("Me: hi")
	m.Clear()
	m.Show("Hello")

	typeText(m, "/reset")
	m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if resets != 1 || len(m.entries) != 0 {
		t.Fatalf("resets=%d entries=%v", resets, m.entries)
	}
}

func TestModel_SinkReplacesReplyInPlace(t *testing.T) {
	m := newModel(nil, nil, nil)
	m.entries = nil

	m.Show("Me: hi")
	for _, r := range []string{"Hello", "Hello world"} {
		m.Update(taskMsg(func() {
			m.Clear()
			m.Show(r)
		}))
	}
	m.Show("Me: again")
	m.Clear()
	m.Show("Second")

	var got []string
	for _, e := range m.entries {
		got = append(got, e.text)
	}
	if strings.Join(got, "|") != "Me: hi|Hello world|Me: again|Second" {
		t.Fatalf("entries = %v", got)
	}

	view := m.View()
	for _, want := range []string{"Me: hi", "Hello world", "Second"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestModel_TaskPanicRecovered(t *testing.T) {
	var recovered any
	m := newModel(nil, nil, func(r any) { recovered = r })
	m.Update(taskMsg(func() { panic("boom") }))
	if recovered != "boom" {
		t.Fatalf("panic not reported: %v", recovered)
	}
}

func TestModel_StatusAndWidth(t *testing.T) {
	m := newModel(nil, nil, nil)
	m.Update(statusMsg("sending..."))
	m.Update(tea.WindowSizeMsg{Width: 60, Height: 20})
	if m.status != "sending..." || m.width != 60 {
		t.Fatalf("status=%q width=%d", m.status, m.width)
	}
	if !strings.Contains(m.View(), "sending...") {
		t.Fatal("status missing from view")
	}
}
