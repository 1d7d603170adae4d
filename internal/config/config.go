package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for screenrelay.
type Config struct {
	General  GeneralConfig  `json:"general"`
	Server   ServerConfig   `json:"server"`
	Capture  CaptureConfig  `json:"capture"`
	Stream   StreamConfig   `json:"stream"`
	Pipeline PipelineConfig `json:"pipeline"`
	Display  DisplayConfig  `json:"display"`
	Journal  JournalConfig  `json:"journal"`
	Metrics  MetricsConfig  `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel"`
	LogFile  string `json:"logFile"` // optional log file path
	RunDir   string `json:"runDir"`  // host run directory; screenshots live in <runDir>/screenshots
}

// ServerConfig points at the local inference server.
type ServerConfig struct {
	URL            string `json:"url"`
	TimeoutSeconds int    `json:"timeoutSeconds"` // 0 = no overall timeout, replies may stream for a long time
}

type CaptureConfig struct {
	Backend       string `json:"backend"` // "command" | "chrome"
	Command       string `json:"command"` // shell command, {path} is replaced with the target file
	URL           string `json:"url"`     // page rendered by the chrome backend
	SettleDelayMs int    `json:"settleDelayMs"`
	MaxAttempts   int    `json:"maxAttempts"`
	RetryDelayMs  int    `json:"retryDelayMs"`
}

type StreamConfig struct {
	PacingMs      int  `json:"pacingMs"`
	ResetEachSend bool `json:"resetEachSend"`
}

type PipelineConfig struct {
	Workers   int    `json:"workers"`
	QueueSize int    `json:"queueSize"`
	Overflow  string `json:"overflow"` // "reject" | "drop-oldest"
}

type DisplayConfig struct {
	ShowErrors bool           `json:"showErrors"`
	EchoPrefix string         `json:"echoPrefix"`
	Telegram   TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	ChatID  int64  `json:"chatId"`
}

type JournalConfig struct {
	Enabled bool   `json:"enabled"`
	DBPath  string `json:"dbPath"`
}

// MetricsConfig configures the Prometheus text endpoint.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Addr     string `json:"addr"`
	Endpoint string `json:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.screenrelay).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".screenrelay"
	}
	return filepath.Join(home, ".screenrelay")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads a JSON or YAML config file on top of Defaults().
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	if isYAML(path) {
		data, err = yamlToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	}

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.RunDir = ExpandPath(cfg.General.RunDir)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Journal.DBPath = ExpandPath(cfg.Journal.DBPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

// Save writes cfg to path, as YAML when the extension asks for it.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	if isYAML(path) {
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("cannot marshal config: %w", err)
		}
		if data, err = yaml.Marshal(m); err != nil {
			return fmt.Errorf("cannot marshal config: %w", err)
		}
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if cfg.General.RunDir == "" {
		errs = append(errs, "general.runDir is required")
	}

	if u, err := url.Parse(cfg.Server.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, "server.url must be an absolute http(s) URL")
	}
	if cfg.Server.TimeoutSeconds < 0 {
		errs = append(errs, "server.timeoutSeconds must be >= 0")
	}

	switch cfg.Capture.Backend {
	case "command":
		if strings.TrimSpace(cfg.Capture.Command) == "" {
			errs = append(errs, "capture.command is required for the command backend")
		}
	case "chrome":
		if cfg.Capture.URL == "" {
			errs = append(errs, "capture.url is required for the chrome backend")
		}
	default:
		errs = append(errs, "capture.backend must be one of: command, chrome")
	}
	if cfg.Capture.MaxAttempts < 1 || cfg.Capture.MaxAttempts > 1000 {
		errs = append(errs, "capture.maxAttempts must be between 1 and 1000")
	}
	if cfg.Capture.RetryDelayMs < 0 {
		errs = append(errs, "capture.retryDelayMs must be >= 0")
	}
	if cfg.Capture.SettleDelayMs < 0 {
		errs = append(errs, "capture.settleDelayMs must be >= 0")
	}

	if cfg.Stream.PacingMs < 0 {
		errs = append(errs, "stream.pacingMs must be >= 0")
	}

	if cfg.Pipeline.Workers < 1 || cfg.Pipeline.Workers > 64 {
		errs = append(errs, "pipeline.workers must be between 1 and 64")
	}
	if cfg.Pipeline.QueueSize < 1 || cfg.Pipeline.QueueSize > 100 {
		errs = append(errs, "pipeline.queueSize must be between 1 and 100")
	}
	switch cfg.Pipeline.Overflow {
	case "reject", "drop-oldest":
	default:
		errs = append(errs, "pipeline.overflow must be one of: reject, drop-oldest")
	}

	if cfg.Display.Telegram.Enabled {
		if cfg.Display.Telegram.Token == "" {
			errs = append(errs, "display.telegram.token is required when telegram is enabled")
		}
		if cfg.Display.Telegram.ChatID == 0 {
			errs = append(errs, "display.telegram.chatId is required when telegram is enabled")
		}
	}

	if cfg.Journal.Enabled && cfg.Journal.DBPath == "" {
		errs = append(errs, "journal.dbPath is required when the journal is enabled")
	}

	if cfg.Metrics.Enabled {
		if cfg.Metrics.Addr == "" {
			errs = append(errs, "metrics.addr is required when metrics are enabled")
		}
		if !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
			errs = append(errs, "metrics.endpoint must start with /")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// yamlToJSON re-encodes a YAML document as JSON so one set of struct tags
// serves both formats.
func yamlToJSON(data []byte) ([]byte, error) {
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}
