package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_Workers_Boundary(t *testing.T) {
	cfg := Defaults()

	cfg.Pipeline.Workers = 1
	if err := Validate(cfg); err != nil {
		t.Fatalf("workers=1 should be valid: %v", err)
	}

	cfg.Pipeline.Workers = 64
	if err := Validate(cfg); err != nil {
		t.Fatalf("workers=64 should be valid: %v", err)
	}

	cfg.Pipeline.Workers = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for workers=0")
	}
}

func TestValidate_InvalidOverflow(t *testing.T) {
	cfg := Defaults()
	cfg.Pipeline.Overflow = "block"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown overflow policy")
	}
}

func TestValidate_ValidOverflowPolicies(t *testing.T) {
	for _, policy := range []string{"reject", "drop-oldest"} {
		cfg := Defaults()
		cfg.Pipeline.Overflow = policy
		if err := Validate(cfg); err != nil {
			t.Fatalf("policy %q should be valid: %v", policy, err)
		}
	}
}

func TestValidate_ServerURL(t *testing.T) {
	for _, bad := range []string{"", "127.0.0.1:5000", "ftp://host/", "http://"} {
		cfg := Defaults()
		cfg.Server.URL = bad
		if err := Validate(cfg); err == nil {
			t.Errorf("expected error for server.url=%q", bad)
		}
	}
}

func TestValidate_CaptureBackend(t *testing.T) {
	cfg := Defaults()
	cfg.Capture.Backend = "chrome"
	cfg.Capture.URL = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for chrome backend without url")
	}

	cfg = Defaults()
	cfg.Capture.Command = "  "
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for command backend without command")
	}

	cfg = Defaults()
	cfg.Capture.Backend = "robotgo"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestValidate_MaxAttempts(t *testing.T) {
	cfg := Defaults()
	cfg.Capture.MaxAttempts = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for maxAttempts=0")
	}
}

func TestValidate_TelegramNeedsTokenAndChat(t *testing.T) {
	cfg := Defaults()
	cfg.Display.Telegram.Enabled = true
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error for telegram without token")
	}
	if !strings.Contains(err.Error(), "display.telegram.token") || !strings.Contains(err.Error(), "display.telegram.chatId") {
		t.Fatalf("expected both telegram errors, got: %v", err)
	}
}

// --- Load / Save ---

func TestLoadSave_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	original := Defaults()
	original.Server.URL = "http://127.0.0.1:6000/"
	original.Stream.PacingMs = 5

	if err := Save(path, original); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if loaded.Server.URL != "http://127.0.0.1:6000/" {
		t.Fatalf("expected server url to survive, got %q", loaded.Server.URL)
	}
	if loaded.Stream.PacingMs != 5 {
		t.Fatalf("expected pacing 5, got %d", loaded.Stream.PacingMs)
	}
}

func TestLoadSave_YAMLRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	original := Defaults()
	original.Pipeline.Overflow = "drop-oldest"
	original.Display.Telegram.ChatID = 987654321

	if err := Save(path, original); err != nil {
		t.Fatalf("save: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.HasPrefix(strings.TrimSpace(string(data)), "{") {
		t.Fatalf("expected YAML output, got JSON:\n%s", data)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Pipeline.Overflow != "drop-oldest" {
		t.Fatalf("expected drop-oldest, got %q", loaded.Pipeline.Overflow)
	}
	if loaded.Display.Telegram.ChatID != 987654321 {
		t.Fatalf("expected chat id to survive, got %d", loaded.Display.Telegram.ChatID)
	}
}

func TestLoad_PartialYAMLKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	content := "server:\n  url: http://localhost:5001/\ncapture:\n  maxAttempts: 3\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.URL != "http://localhost:5001/" {
		t.Fatalf("unexpected url %q", cfg.Server.URL)
	}
	if cfg.Capture.MaxAttempts != 3 {
		t.Fatalf("expected maxAttempts 3, got %d", cfg.Capture.MaxAttempts)
	}
	if cfg.Capture.RetryDelayMs != 100 {
		t.Fatalf("expected default retryDelayMs 100, got %d", cfg.Capture.RetryDelayMs)
	}
	if cfg.Pipeline.Workers != 4 {
		t.Fatalf("expected default workers 4, got %d", cfg.Pipeline.Workers)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.json")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	os.WriteFile(path, []byte("{not json}"), 0o644)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestLoad_ValidatesConfig(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.json")
	content := `{"pipeline": {"workers": 0}}`
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(cfgFile)
	if err == nil {
		t.Fatal("expected validation error for workers=0")
	}
}

func TestLoad_WithEnvVarSubstitution(t *testing.T) {
	t.Setenv("TEST_SCREENRELAY_RUNDIR", "/tmp/test-run")

	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.json")
	content := `{
		"general": {
			"runDir": "${TEST_SCREENRELAY_RUNDIR}",
			"logLevel": "${TEST_SCREENRELAY_LEVEL:-debug}"
		}
	}`
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgFile)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.General.RunDir != "/tmp/test-run" {
		t.Fatalf("expected runDir '/tmp/test-run', got %q", cfg.General.RunDir)
	}
	if cfg.General.LogLevel != "debug" {
		t.Fatalf("expected logLevel 'debug', got %q", cfg.General.LogLevel)
	}
}

// --- Accessor ---

func TestGetByPath_ValidPaths(t *testing.T) {
	cfg := Defaults()

	val, err := GetByPath(cfg, "pipeline.overflow")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if val != "reject" {
		t.Fatalf("expected 'reject', got %v", val)
	}
}

func TestGetByPath_InvalidPath(t *testing.T) {
	cfg := Defaults()
	if _, err := GetByPath(cfg, "nonexistent.path"); err == nil {
		t.Fatal("expected error for nonexistent path")
	}
	if _, err := GetByPath(cfg, "server.url.host"); err == nil {
		t.Fatal("expected error when traversing into a leaf")
	}
}

func TestSetByPath_StringValue(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "server.url", "http://10.0.0.2:5000/"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if cfg.Server.URL != "http://10.0.0.2:5000/" {
		t.Fatalf("unexpected url %q", cfg.Server.URL)
	}
}

func TestSetByPath_BoolConversion(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "stream.resetEachSend", "false"); err != nil {
		t.Fatalf("set bool: %v", err)
	}
	if cfg.Stream.ResetEachSend {
		t.Fatal("expected stream.resetEachSend=false")
	}
}

func TestSetByPath_IntConversion(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "capture.maxAttempts", "25"); err != nil {
		t.Fatalf("set int: %v", err)
	}
	if cfg.Capture.MaxAttempts != 25 {
		t.Fatalf("expected 25, got %d", cfg.Capture.MaxAttempts)
	}
}

func TestSetByPath_UnknownKey(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "capture.robot", "1"); err == nil {
		t.Fatal("expected error for unknown key")
	}
	if err := SetByPath(cfg, "", "1"); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestSetByPath_InvalidValueLeavesConfigUntouched(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "pipeline.workers", "0"); err == nil {
		t.Fatal("expected validation error")
	}
	if cfg.Pipeline.Workers != 4 {
		t.Fatalf("workers should stay 4, got %d", cfg.Pipeline.Workers)
	}
}

// --- Sanitize ---

func TestSanitize_MasksTelegramToken(t *testing.T) {
	cfg := Defaults()
	cfg.Display.Telegram.Token = "123456789:ABCdefGHIjklMNOpqrSTUvwxyz"

	sanitized := Sanitize(cfg)

	if sanitized.Display.Telegram.Token == cfg.Display.Telegram.Token {
		t.Fatal("telegram token should be masked")
	}
	if cfg.Display.Telegram.Token != "123456789:ABCdefGHIjklMNOpqrSTUvwxyz" {
		t.Fatal("original config should not be modified")
	}
}

func TestSanitize_ShortSecret(t *testing.T) {
	cfg := Defaults()
	cfg.Display.Telegram.Token = "short"
	sanitized := Sanitize(cfg)
	if sanitized.Display.Telegram.Token != "***" {
		t.Fatalf("short secret should be '***', got %q", sanitized.Display.Telegram.Token)
	}
}

// --- ListPaths ---

func TestListPaths_ReturnsAllLeaves(t *testing.T) {
	cfg := Defaults()
	paths := ListPaths(cfg)
	for _, expected := range []string{"general.runDir", "capture.maxAttempts", "display.telegram.token", "pipeline.overflow"} {
		if _, ok := paths[expected]; !ok {
			t.Errorf("missing expected path: %s", expected)
		}
	}
}

func TestSortedPaths_Ordered(t *testing.T) {
	keys := SortedPaths(Defaults())
	for i := 1; i < len(keys); i++ {
		if keys[i-1] > keys[i] {
			t.Fatalf("paths not sorted at %d: %q > %q", i, keys[i-1], keys[i])
		}
	}
}

// --- ExpandEnvVars ---

func TestExpandEnvVars_SimpleSubstitution(t *testing.T) {
	t.Setenv("TEST_TG_TOKEN", "tg-abc123")
	result := ExpandEnvVars(`{"token": "${TEST_TG_TOKEN}"}`)
	expected := `{"token": "tg-abc123"}`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_DefaultValue(t *testing.T) {
	os.Unsetenv("NONEXISTENT_VAR_12345")
	result := ExpandEnvVars(`{"url": "${NONEXISTENT_VAR_12345:-http://127.0.0.1:5000/}"}`)
	expected := `{"url": "http://127.0.0.1:5000/"}`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_UnsetVarNoDefault_KeepsOriginal(t *testing.T) {
	os.Unsetenv("TOTALLY_UNSET_VAR_XYZ")
	result := ExpandEnvVars(`"${TOTALLY_UNSET_VAR_XYZ}"`)
	if result != `"${TOTALLY_UNSET_VAR_XYZ}"` {
		t.Fatalf("expected original, got %q", result)
	}
}

func TestExpandEnvVars_DollarSignWithoutBraces(t *testing.T) {
	input := `"$HOME is not substituted"`
	if result := ExpandEnvVars(input); result != input {
		t.Fatalf("expected no change for bare $VAR, got %q", result)
	}
}

// --- Defaults ---

func TestDefaults_MatchesReferenceTuning(t *testing.T) {
	cfg := Defaults()
	if cfg.Server.URL != "http://127.0.0.1:5000/" {
		t.Errorf("server url: %q", cfg.Server.URL)
	}
	if cfg.Capture.MaxAttempts != 10 || cfg.Capture.RetryDelayMs != 100 || cfg.Capture.SettleDelayMs != 50 {
		t.Errorf("capture tuning: %+v", cfg.Capture)
	}
	if cfg.Stream.PacingMs != 50 {
		t.Errorf("pacing: %d", cfg.Stream.PacingMs)
	}
	if cfg.Pipeline.Workers != 4 {
		t.Errorf("workers: %d", cfg.Pipeline.Workers)
	}
}
