package display

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Terminal is a DisplaySink on a line-oriented terminal.
//
// A Show without a preceding Clear appends a line (the echo). A Clear+Show
// pair replaces whatever the previous replacing Show wrote: with ANSI enabled
// the cursor moves back over it and the region is redrawn; in plain mode only
// the new suffix is written when the render grew, otherwise the render is
// written again on a fresh line.
type Terminal struct {
	out   io.Writer
	ansi  bool
	width int

	replacing bool
	region    int    // lines drawn by the last replacing Show (ansi)
	last      string // text of the last replacing Show
	open      bool   // plain mode: the reply line has no newline yet

	echoStyle  lipgloss.Style
	replyStyle lipgloss.Style
}

type TerminalConfig struct {
	Out   io.Writer
	ANSI  bool // redraw in place; off for pipes and files
	Width int  // wrap width for styled output, 0 = none
}

func NewTerminal(cfg TerminalConfig) *Terminal {
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	return &Terminal{
		out:        cfg.Out,
		ansi:       cfg.ANSI,
		width:      cfg.Width,
		echoStyle:  EchoStyle(),
		replyStyle: ReplyStyle(),
	}
}

func (t *Terminal) Clear() {
	t.replacing = true
}

func (t *Terminal) Show(text string) {
	if !t.replacing {
		t.endLine()
		t.writeBlock(t.style(t.echoStyle, text))
		t.region = 0
		t.last = ""
		return
	}
	t.replacing = false

	if t.ansi {
		if t.region > 0 {
			// cursor up over the previous render, then clear to end of screen
			fmt.Fprintf(t.out, "\x1b[%dA\r\x1b[J", t.region)
		}
		rendered := t.style(t.replyStyle, text)
		t.writeBlock(rendered)
		t.region = lipgloss.Height(rendered)
		t.last = text
		return
	}

	switch {
	case text == t.last:
	case t.open && strings.HasPrefix(text, t.last):
		io.WriteString(t.out, text[len(t.last):])
	default:
		t.endLine()
		io.WriteString(t.out, text)
		t.open = true
	}
	t.last = text
}

// Finish terminates the current reply so later output starts on a new line.
// The next replacing Show starts a new region.
func (t *Terminal) Finish() {
	t.endLine()
	t.region = 0
	t.last = ""
	t.replacing = false
}

func (t *Terminal) endLine() {
	if t.open {
		io.WriteString(t.out, "\n")
		t.open = false
	}
}

func (t *Terminal) writeBlock(s string) {
	io.WriteString(t.out, s)
	io.WriteString(t.out, "\n")
}

func (t *Terminal) style(s lipgloss.Style, text string) string {
	if !t.ansi {
		return text
	}
	if t.width > 4 {
		s = s.Width(t.width - 4)
	}
	return s.Render(text)
}
