package capture

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"screenrelay/internal/config"
	"screenrelay/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// --- Waiter ---

func TestWaiter_FileAlreadyPresent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shot.png")
	if err := os.WriteFile(path, []byte("png-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	w := NewWaiter(WaiterConfig{MaxAttempts: 10, RetryDelay: time.Millisecond, Logger: testLogger()})
	h := &domain.CaptureHandle{Path: path}
	data, err := w.Await(context.Background(), h)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if string(data) != "png-bytes" {
		t.Fatalf("unexpected data %q", data)
	}
	if !h.Ready || h.Attempts != 1 {
		t.Fatalf("expected ready after 1 attempt, got %+v", h)
	}
}

func TestWaiter_FileAppearsLater(t *testing.T) {
	path := filepath.Join(t.TempDir(), "late.png")
	w := NewWaiter(WaiterConfig{MaxAttempts: 10, RetryDelay: time.Millisecond, Logger: testLogger()})

	checks := 0
	w.stat = func(p string) (os.FileInfo, error) {
		checks++
		if checks == 3 {
			os.WriteFile(p, []byte("late"), 0o644)
		}
		return os.Stat(p)
	}

	h := &domain.CaptureHandle{Path: path}
	data, err := w.Await(context.Background(), h)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if string(data) != "late" {
		t.Fatalf("unexpected data %q", data)
	}
	if h.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", h.Attempts)
	}
}

func TestWaiter_NeverAppears_Timeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.png")
	w := NewWaiter(WaiterConfig{MaxAttempts: 5, RetryDelay: time.Millisecond, Logger: testLogger()})

	checks := 0
	w.stat = func(p string) (os.FileInfo, error) {
		checks++
		return os.Stat(p)
	}

	h := &domain.CaptureHandle{Path: path}
	data, err := w.Await(context.Background(), h)
	if !errors.Is(err, domain.ErrCaptureTimeout) {
		t.Fatalf("expected ErrCaptureTimeout, got %v", err)
	}
	if data != nil {
		t.Fatal("expected no data on timeout")
	}
	if checks != 5 || h.Attempts != 5 {
		t.Fatalf("expected exactly 5 existence checks, got checks=%d attempts=%d", checks, h.Attempts)
	}
	if h.Ready {
		t.Fatal("handle must not be ready")
	}
}

func TestWaiter_NoSleepAfterLastCheck(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.png")
	w := NewWaiter(WaiterConfig{MaxAttempts: 1, RetryDelay: time.Hour, Logger: testLogger()})

	done := make(chan error, 1)
	go func() {
		_, err := w.Await(context.Background(), &domain.CaptureHandle{Path: path})
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, domain.ErrCaptureTimeout) {
			t.Fatalf("expected timeout, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter slept after its final check")
	}
}

func TestWaiter_ReadFailureIsTerminal(t *testing.T) {
	// A directory exists but cannot be read as a file.
	dir := filepath.Join(t.TempDir(), "shot.png")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	w := NewWaiter(WaiterConfig{MaxAttempts: 10, RetryDelay: time.Millisecond, Logger: testLogger()})
	h := &domain.CaptureHandle{Path: dir}
	_, err := w.Await(context.Background(), h)
	if !errors.Is(err, domain.ErrReadFailed) {
		t.Fatalf("expected ErrReadFailed, got %v", err)
	}
	if h.Attempts != 1 {
		t.Fatalf("expected polling to stop after the read failure, got %d attempts", h.Attempts)
	}
}

func TestWaiter_ContextCancelled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.png")
	w := NewWaiter(WaiterConfig{MaxAttempts: 10, RetryDelay: time.Hour, Logger: testLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := w.Await(ctx, &domain.CaptureHandle{Path: path})
	if !errors.Is(err, domain.ErrInterruptedWait) {
		t.Fatalf("expected ErrInterruptedWait, got %v", err)
	}
}

func TestAwaitFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.png")
	os.WriteFile(path, []byte{1, 2, 3}, 0o644)
	data, err := AwaitFile(context.Background(), path, 2, time.Millisecond)
	if err != nil || !bytes.Equal(data, []byte{1, 2, 3}) {
		t.Fatalf("unexpected result %v %v", data, err)
	}

	_, err = AwaitFile(context.Background(), filepath.Join(t.TempDir(), "missing.png"), 2, time.Millisecond)
	if !errors.Is(err, domain.ErrCaptureTimeout) {
		t.Fatalf("expected ErrCaptureTimeout, got %v", err)
	}
}

// --- Encoder ---

func TestEncode_RoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for _, n := range []int{0, 1, 2, 3, 4, 57, 1024, 65537} {
		in := make([]byte, n)
		r.Read(in)
		out, err := base64.StdEncoding.DecodeString(Encode(in))
		if err != nil {
			t.Fatalf("n=%d: decode: %v", n, err)
		}
		if !bytes.Equal(in, out) {
			t.Fatalf("n=%d: round trip mismatch", n)
		}
	}
}

func TestEncode_Padding(t *testing.T) {
	if got := Encode([]byte("a")); got != "YQ==" {
		t.Fatalf("expected padded output, got %q", got)
	}
	if got := Encode(nil); got != "" {
		t.Fatalf("expected empty output, got %q", got)
	}
}

// --- Descriptor ---

func TestParseDescriptor(t *testing.T) {
	runDir := "/run/host"
	cases := []struct {
		text    string
		want    string
		wantErr bool
	}{
		{"Saved screenshot as 2024-01-01_10.00.00.png", "/run/host/screenshots/2024-01-01_10.00.00.png", false},
		{"[System] Saved screenshot as shot.png\n", "/run/host/screenshots/shot.png", false},
		{"Saved screenshot as ../../etc/passwd", "/run/host/screenshots/passwd", false},
		{"", "", true},
		{"   ", "", true},
		{"Failed to save screenshot", "", true},
		{"Saved screenshot as ", "", true},
	}
	for _, tc := range cases {
		got, err := ParseDescriptor(runDir, tc.text)
		if tc.wantErr {
			if !errors.Is(err, domain.ErrCaptureFailed) {
				t.Errorf("%q: expected ErrCaptureFailed, got %v", tc.text, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: unexpected error %v", tc.text, err)
			continue
		}
		if got != filepath.FromSlash(tc.want) {
			t.Errorf("%q: got %q, want %q", tc.text, got, tc.want)
		}
	}
}

// --- Command capturer ---

func TestCommandCapturer_WritesFile(t *testing.T) {
	runDir := t.TempDir()
	c := NewCommandCapturer(CommandConfig{
		Command: "printf 'fake-png' > {path}",
		RunDir:  runDir,
		Logger:  testLogger(),
	})
	fixed := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	c.now = func() time.Time { return fixed }

	desc, err := c.Capture(context.Background())
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if desc != "Saved screenshot as 2024-05-06_07.08.09.000.png" {
		t.Fatalf("unexpected descriptor %q", desc)
	}

	path, err := ParseDescriptor(runDir, desc)
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("screenshot not written: %v", err)
	}
	if string(data) != "fake-png" {
		t.Fatalf("unexpected contents %q", data)
	}
}

func TestCommandCapturer_Failure(t *testing.T) {
	c := NewCommandCapturer(CommandConfig{Command: "exit 3", RunDir: t.TempDir(), Logger: testLogger()})
	_, err := c.Capture(context.Background())
	if !errors.Is(err, domain.ErrCaptureFailed) {
		t.Fatalf("expected ErrCaptureFailed, got %v", err)
	}
}

func TestShellQuote(t *testing.T) {
	got := shellQuote("/tmp/it's here.png")
	if got != `'/tmp/it'\''s here.png'` {
		t.Fatalf("unexpected quoting %s", got)
	}
}

// --- Factory ---

func TestNew_SelectsBackend(t *testing.T) {
	cfg := config.Defaults()
	cfg.General.RunDir = t.TempDir()

	c, err := New(cfg, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.(*CommandCapturer); !ok {
		t.Fatalf("expected command capturer, got %T", c)
	}

	cfg.Capture.Backend = "chrome"
	c, err = New(cfg, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.(*ChromeCapturer); !ok {
		t.Fatalf("expected chrome capturer, got %T", c)
	}

	cfg.Capture.Backend = "scrot"
	if _, err := New(cfg, testLogger()); err == nil || !strings.Contains(err.Error(), "unknown capture backend") {
		t.Fatalf("expected unknown backend error, got %v", err)
	}
}
