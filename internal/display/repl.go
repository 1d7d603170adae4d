package display

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

const replHelp = "Commands: send <message> (or just type), /reset, /quit"

// REPL reads chat commands from a terminal.
type REPL struct {
	in      io.Reader
	out     io.Writer
	prompt  string
	onSend  func(message string) error
	onReset func()
	logger  *slog.Logger
}

type REPLConfig struct {
	In      io.Reader
	Out     io.Writer
	Prompt  string
	OnSend  func(message string) error
	OnReset func()
	Logger  *slog.Logger
}

func NewREPL(cfg REPLConfig) *REPL {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Prompt == "" {
		cfg.Prompt = "> "
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &REPL{
		in:      cfg.In,
		out:     cfg.Out,
		prompt:  cfg.Prompt,
		onSend:  cfg.OnSend,
		onReset: cfg.OnReset,
		logger:  cfg.Logger,
	}
}

// ParseLine maps one input line to a command. A line that is not a slash
// command is a send; "send <words...>" sends the words joined by single
// spaces.
func ParseLine(line string) (cmd, arg string) {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return "", ""
	case line == "/quit" || line == "/exit" || line == "/q":
		return "quit", ""
	case line == "/reset":
		return "reset", ""
	case line == "/help":
		return "help", ""
	case strings.HasPrefix(line, "/"):
		return "unknown", line
	case line == "send" || strings.HasPrefix(line, "send "):
		return "send", strings.Join(strings.Fields(line)[1:], " ")
	default:
		return "send", line
	}
}

// Run blocks until /quit, EOF or ctx is cancelled.
func (r *REPL) Run(ctx context.Context) error {
	fmt.Fprintln(r.out, "screenrelay chat. "+replHelp)

	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(r.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- scanner.Err()
	}()

	for {
		fmt.Fprint(r.out, r.prompt)
		var line string
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			return err
		case line = <-lines:
		}

		cmd, arg := ParseLine(line)
		switch cmd {
		case "":
		case "quit":
			r.logger.Info("user requested quit")
			return nil
		case "reset":
			if r.onReset != nil {
				r.onReset()
			}
			fmt.Fprintln(r.out, "(new session)")
		case "help":
			fmt.Fprintln(r.out, replHelp)
		case "unknown":
			fmt.Fprintf(r.out, "unknown command %s. %s\n", arg, replHelp)
		case "send":
			if r.onSend == nil {
				continue
			}
			if err := r.onSend(arg); err != nil {
				fmt.Fprintf(r.out, "! %v\n", err)
			}
		}
	}
}
