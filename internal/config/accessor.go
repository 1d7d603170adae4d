package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// GetByPath retrieves a config value by dot-notation path (e.g. "capture.maxAttempts").
func GetByPath(cfg *Config, path string) (any, error) {
	m, err := toMap(cfg)
	if err != nil {
		return nil, err
	}

	var current any = m
	for _, key := range strings.Split(path, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("cannot traverse into %T at %s", current, key)
		}
		val, ok := obj[key]
		if !ok {
			return nil, fmt.Errorf("key not found: %s", path)
		}
		current = val
	}
	return current, nil
}

// SetByPath sets a config value by dot-notation path. The updated config
// must still pass Validate; on failure cfg is left unchanged.
func SetByPath(cfg *Config, path string, value any) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("empty path")
	}
	m, err := toMap(cfg)
	if err != nil {
		return err
	}

	parts := strings.Split(path, ".")
	parent := m
	for _, key := range parts[:len(parts)-1] {
		child, ok := parent[key].(map[string]any)
		if !ok {
			return fmt.Errorf("key not found: %s", path)
		}
		parent = child
	}
	last := parts[len(parts)-1]
	if _, ok := parent[last]; !ok {
		return fmt.Errorf("key not found: %s", path)
	}
	parent[last] = parseValue(value)

	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	updated := *cfg
	if err := json.Unmarshal(data, &updated); err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	if err := Validate(&updated); err != nil {
		return err
	}
	*cfg = updated
	return nil
}

// parseValue tries to convert string values to appropriate Go types.
func parseValue(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// Sanitize returns a copy of the config with sensitive values masked.
func Sanitize(cfg *Config) *Config {
	data, err := json.Marshal(cfg)
	if err != nil {
		return cfg
	}
	var copy Config
	if err := json.Unmarshal(data, &copy); err != nil {
		return cfg
	}

	if copy.Display.Telegram.Token != "" {
		copy.Display.Telegram.Token = maskString(copy.Display.Telegram.Token)
	}

	return &copy
}

// maskString shows first 4 and last 4 chars, masks the rest.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ListPaths returns all settable config paths with their current values.
func ListPaths(cfg *Config) map[string]any {
	m, err := toMap(cfg)
	if err != nil {
		return nil
	}
	result := make(map[string]any)
	flattenMap("", m, result)
	return result
}

// SortedPaths returns the keys of ListPaths in lexical order.
func SortedPaths(cfg *Config) []string {
	paths := ListPaths(cfg)
	keys := make([]string, 0, len(paths))
	for k := range paths {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func toMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func flattenMap(prefix string, m map[string]any, result map[string]any) {
	for k, v := range m {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if child, ok := v.(map[string]any); ok {
			flattenMap(path, child, result)
			continue
		}
		result[path] = v
	}
}
