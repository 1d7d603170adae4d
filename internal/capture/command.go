package capture

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"screenrelay/internal/domain"
)

const defaultCommandTimeout = 30 * time.Second

// CommandCapturer runs a screenshot tool through the shell. The tool may
// return before the file is fully written; the waiter covers that gap.
type CommandCapturer struct {
	command string
	runDir  string
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

type CommandConfig struct {
	Command string // {path} is replaced with the shell-quoted target path
	RunDir  string
	Timeout time.Duration
	Logger  *slog.Logger
}

func NewCommandCapturer(cfg CommandConfig) *CommandCapturer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultCommandTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CommandCapturer{
		command: cfg.Command,
		runDir:  cfg.RunDir,
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
		now:     time.Now,
	}
}

func (c *CommandCapturer) Capture(ctx context.Context) (string, error) {
	dir := ScreenshotDir(c.runDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: create screenshot dir: %v", domain.ErrCaptureFailed, err)
	}

	name := FileName(c.now())
	path := filepath.Join(dir, name)
	command := strings.ReplaceAll(c.command, "{path}", shellQuote(path))

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	// sh -c keeps pipes, redirects and quoting in the configured command working.
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = c.runDir
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: screenshot command timed out or cancelled", domain.ErrCaptureFailed)
		}
		c.logger.Warn("screenshot command failed", "command", command, "output", truncate(string(output), 512), "err", err)
		return "", fmt.Errorf("%w: exit: %v", domain.ErrCaptureFailed, err)
	}

	c.logger.Debug("screenshot command finished", "file", name)
	return Descriptor(name), nil
}

// FileName is the screenshot name for a capture taken at t.
func FileName(t time.Time) string {
	return t.Format("2006-01-02_15.04.05.000") + ".png"
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "... (truncated)"
}
