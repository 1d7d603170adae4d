package capture

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/chromedp"

	"screenrelay/internal/domain"
)

const defaultChromeTimeout = 30 * time.Second

// ChromeCapturer renders a page in headless Chrome and saves a screenshot of
// it into the screenshot directory.
type ChromeCapturer struct {
	url       string
	runDir    string
	width     int64
	height    int64
	timeout   time.Duration
	allocOpts []chromedp.ExecAllocatorOption
	logger    *slog.Logger
	now       func() time.Time
}

// ChromeConfig holds configuration for the chrome capturer.
type ChromeConfig struct {
	URL     string // page to render
	RunDir  string
	Width   int64 // viewport width, default 1280
	Height  int64 // viewport height, default 800
	Timeout time.Duration
	Logger  *slog.Logger
}

func NewChromeCapturer(cfg ChromeConfig) *ChromeCapturer {
	if cfg.Width <= 0 {
		cfg.Width = 1280
	}
	if cfg.Height <= 0 {
		cfg.Height = 800
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultChromeTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Headless,
		chromedp.DisableGPU,
		chromedp.WindowSize(int(cfg.Width), int(cfg.Height)),
		chromedp.Flag("hide-scrollbars", true),
	)
	return &ChromeCapturer{
		url:       cfg.URL,
		runDir:    cfg.RunDir,
		width:     cfg.Width,
		height:    cfg.Height,
		timeout:   cfg.Timeout,
		allocOpts: opts,
		logger:    cfg.Logger,
		now:       time.Now,
	}
}

// Capture starts a browser, captures the viewport and writes it as PNG.
// The caller MUST run this off the UI thread; a cold Chrome start is slow.
func (c *ChromeCapturer) Capture(ctx context.Context) (string, error) {
	dir := ScreenshotDir(c.runDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: create screenshot dir: %v", domain.ErrCaptureFailed, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, c.allocOpts...)
	defer allocCancel()
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	var buf []byte
	err := chromedp.Run(taskCtx,
		chromedp.EmulateViewport(c.width, c.height),
		chromedp.Navigate(c.url),
		chromedp.WaitReady("body"),
		chromedp.CaptureScreenshot(&buf),
	)
	if err != nil {
		return "", fmt.Errorf("%w: chrome screenshot of %s: %v", domain.ErrCaptureFailed, c.url, err)
	}

	name := FileName(c.now())
	if err := writeFileAtomic(filepath.Join(dir, name), buf); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrCaptureFailed, err)
	}
	c.logger.Debug("chrome screenshot saved", "file", name, "bytes", len(buf))
	return Descriptor(name), nil
}

// writeFileAtomic writes through a temp file so the waiter never sees a
// partially written screenshot.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".capture-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
