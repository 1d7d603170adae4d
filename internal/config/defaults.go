package config

import (
	"path/filepath"
	"runtime"
)

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
			RunDir:   filepath.Join(DefaultConfigDir(), "run"),
		},
		Server: ServerConfig{
			URL: "http://127.0.0.1:5000/",
		},
		Capture: CaptureConfig{
			Backend:       "command",
			Command:       defaultCaptureCommand(),
			URL:           "about:blank",
			SettleDelayMs: 50,
			MaxAttempts:   10,
			RetryDelayMs:  100,
		},
		Stream: StreamConfig{
			PacingMs:      50,
			ResetEachSend: true,
		},
		Pipeline: PipelineConfig{
			Workers:   4,
			QueueSize: 1,
			Overflow:  "reject",
		},
		Display: DisplayConfig{
			ShowErrors: false,
			EchoPrefix: "Me: ",
		},
		Journal: JournalConfig{
			Enabled: true,
			DBPath:  filepath.Join(DefaultConfigDir(), "runs.db"),
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Addr:     "127.0.0.1:9464",
			Endpoint: "/metrics",
		},
	}
}

// defaultCaptureCommand picks a stock screenshot tool for the platform.
func defaultCaptureCommand() string {
	switch runtime.GOOS {
	case "darwin":
		return "screencapture -x {path}"
	default:
		return "import -window root {path}"
	}
}
