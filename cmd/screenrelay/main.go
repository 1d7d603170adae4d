package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"screenrelay/internal/capture"
	"screenrelay/internal/config"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:     "screenrelay",
		Short:   "Ask a local vision model about what is on screen",
		Long:    "screenrelay captures the screen, posts it with your message to a local inference server and streams the reply back as it is generated.",
		Version: version,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json or config.yaml (default: ~/.screenrelay/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(sendCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(runsCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())
	root.AddCommand(devserverCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig loads the config file, falling back to defaults when there is none.
func loadConfig() (*config.Config, error) {
	cfgPath := resolveConfigPath()
	if _, err := os.Stat(config.ExpandPath(cfgPath)); os.IsNotExist(err) {
		logger.Debug("config not found, using defaults", "path", cfgPath)
		return config.Defaults(), nil
	}
	return config.Load(cfgPath)
}

// setupLogger replaces the startup logger with one honouring general.logLevel
// and general.logFile. With quiet set, nothing is written to stderr (the TUI
// owns the terminal) and the log goes to the log file only.
func setupLogger(cfg *config.Config, quiet bool) (func(), error) {
	var level slog.Level
	if cfg.General.LogLevel != "" {
		if err := level.UnmarshalText([]byte(cfg.General.LogLevel)); err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
	}

	logFile := cfg.General.LogFile
	if quiet && logFile == "" {
		logFile = filepath.Join(config.DefaultConfigDir(), "screenrelay.log")
	}

	var out io.Writer = os.Stderr
	closeFn := func() {}
	if logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
			return nil, fmt.Errorf("cannot create log directory: %w", err)
		}
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("cannot open log file: %w", err)
		}
		closeFn = func() { f.Close() }
		if quiet {
			out = f
		} else {
			out = io.MultiWriter(os.Stderr, f)
		}
	}

	logger = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
	return closeFn, nil
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config and create the run directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			shots := capture.ScreenshotDir(cfg.General.RunDir)
			if err := os.MkdirAll(shots, 0o755); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath, "screenshots", shots)
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. server.url)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. stream.pacingMs 20)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			paths := config.ListPaths(config.Sanitize(cfg))
			for _, p := range config.SortedPaths(cfg) {
				data, _ := json.Marshal(paths[p])
				fmt.Printf("%s = %s\n", p, data)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
