package capture

import (
	"fmt"
	"log/slog"

	"screenrelay/internal/config"
	"screenrelay/internal/domain"
)

// New builds the capturer selected by cfg.Capture.Backend.
func New(cfg *config.Config, logger *slog.Logger) (domain.Capturer, error) {
	switch cfg.Capture.Backend {
	case "command":
		return NewCommandCapturer(CommandConfig{
			Command: cfg.Capture.Command,
			RunDir:  cfg.General.RunDir,
			Logger:  logger,
		}), nil
	case "chrome":
		return NewChromeCapturer(ChromeConfig{
			URL:    cfg.Capture.URL,
			RunDir: cfg.General.RunDir,
			Logger: logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown capture backend: %s", cfg.Capture.Backend)
	}
}
