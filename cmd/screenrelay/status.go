package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"time"

	"screenrelay/internal/capture"
	"screenrelay/internal/config"
	"screenrelay/internal/journal"
	"screenrelay/internal/transport"

	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	var tryCapture bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check the configuration, capture backend and inference server",
		Long: `Verifies that screenrelay's configuration, screenshot directory, capture
backend, run journal and inference server are usable. Reports pass/fail for each check.
With --capture a test screenshot is taken and read back.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("screenrelay status v%s\n\n", version)

			passed, warned, failed := 0, 0, 0
			pass := func(check, detail string) { printPass(check, detail); passed++ }
			warn := func(check, detail string) { printWarn(check, detail); warned++ }
			fail := func(check, detail string) { printFail(check, detail); failed++ }

			var cfg *config.Config
			if _, err := os.Stat(config.ExpandPath(cfgPath)); err != nil {
				warn("Config file", fmt.Sprintf("not found at %s, using defaults", cfgPath))
				cfg = config.Defaults()
			} else if c, err := config.Load(cfgPath); err != nil {
				fail("Config validation", err.Error())
				cfg = config.Defaults()
			} else {
				pass("Config file", cfgPath)
				cfg = c
			}

			shots := capture.ScreenshotDir(cfg.General.RunDir)
			if err := checkWritableDir(shots); err != nil {
				fail("Screenshot dir", err.Error())
			} else {
				pass("Screenshot dir", shots)
			}

			switch cfg.Capture.Backend {
			case "command":
				bin := strings.Fields(cfg.Capture.Command)
				if len(bin) == 0 {
					fail("Capture command", "empty")
				} else if _, err := exec.LookPath(bin[0]); err != nil {
					fail("Capture command", fmt.Sprintf("%s not found in PATH", bin[0]))
				} else {
					pass("Capture command", cfg.Capture.Command)
				}
			case "chrome":
				pass("Capture backend", "chrome "+cfg.Capture.URL)
			}

			if tryCapture {
				if n, err := checkCapture(cmd.Context(), cfg); err != nil {
					fail("Test capture", err.Error())
				} else {
					pass("Test capture", fmt.Sprintf("%d bytes", n))
				}
			}

			if cfg.Journal.Enabled {
				if j, err := journal.Open(cfg.Journal.DBPath, logger); err != nil {
					fail("Run journal", err.Error())
				} else {
					current, expected, err := j.SchemaVersion()
					j.Close()
					switch {
					case err != nil:
						fail("Run journal", fmt.Sprintf("schema version: %v", err))
					case current != expected:
						fail("Run journal", fmt.Sprintf("%s at schema v%d, expected v%d", cfg.Journal.DBPath, current, expected))
					default:
						pass("Run journal", fmt.Sprintf("%s (schema v%d)", cfg.Journal.DBPath, current))
					}
				}
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			client := transport.NewClient(transport.ClientConfig{URL: cfg.Server.URL, Timeout: 5 * time.Second, Logger: logger})
			if code, err := client.Healthy(ctx); err != nil {
				fail("Inference server", err.Error())
			} else {
				pass("Inference server", fmt.Sprintf("%s answered HTTP %d", client.URL(), code))
			}

			if cfg.Metrics.Enabled {
				if err := checkAddr(cfg.Metrics.Addr); err != nil {
					warn("Metrics addr", fmt.Sprintf("%s may be in use: %v", cfg.Metrics.Addr, err))
				} else {
					pass("Metrics addr", cfg.Metrics.Addr+cfg.Metrics.Endpoint)
				}
			}

			fmt.Printf("\nResults: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&tryCapture, "capture", false, "take a test screenshot and wait for the file")
	return cmd
}

// checkCapture runs the configured capture backend once and waits for the
// screenshot it announces, with the same bounds a send uses.
func checkCapture(ctx context.Context, cfg *config.Config) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	capturer, err := capture.New(cfg, logger)
	if err != nil {
		return 0, err
	}
	descriptor, err := capturer.Capture(ctx)
	if err != nil {
		return 0, err
	}
	path, err := capture.ParseDescriptor(cfg.General.RunDir, descriptor)
	if err != nil {
		return 0, err
	}
	data, err := capture.AwaitFile(ctx, path, cfg.Capture.MaxAttempts, time.Duration(cfg.Capture.RetryDelayMs)*time.Millisecond)
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

func checkWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create: %w", err)
	}
	f, err := os.CreateTemp(dir, ".status-*")
	if err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	f.Close()
	os.Remove(f.Name())
	return nil
}

func checkAddr(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
