// Package config handles configuration loading and ctxsync home resolution.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvHome overrides the home directory when set.
const EnvHome = "CTXSYNC_HOME"

// ---------------------------------------------------------------------------
// Config types
// ---------------------------------------------------------------------------

// ServerConfig holds settings for the synchronization server.
type ServerConfig struct {
	Listen         string        `yaml:"listen"`
	ObserverBuffer int           `yaml:"observer_buffer"` // queued events per observer before it is dropped
	WriteTimeout   time.Duration `yaml:"write_timeout"`   // push-channel write deadline
}

// DumpConfig controls where dump artifacts are written.
type DumpConfig struct {
	Dir string `yaml:"dir"` // "" means <home>/dumps
}

// PersistenceConfig controls the SQLite snapshot of the Context.
type PersistenceConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Path          string        `yaml:"path"` // "" means <home>/context.db
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// ClientConfig holds defaults used by the CLI and the MCP server.
type ClientConfig struct {
	ServerURL string        `yaml:"server_url"`
	Timeout   time.Duration `yaml:"timeout"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // "debug" | "info" | "warn" | "error"
	Format string `yaml:"format"` // "text" | "json"
}

// RedactionConfig adds patterns masked in log output.
type RedactionConfig struct {
	Patterns []string `yaml:"patterns"`
}

// Config is the root per-home configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Dump        DumpConfig        `yaml:"dump"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Client      ClientConfig      `yaml:"client"`
	Log         LogConfig         `yaml:"log"`
	Redaction   RedactionConfig   `yaml:"redaction"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:         "127.0.0.1:5050",
			ObserverBuffer: 256,
			WriteTimeout:   10 * time.Second,
		},
		Persistence: PersistenceConfig{
			Enabled:       true,
			FlushInterval: 5 * time.Second,
		},
		Client: ClientConfig{
			ServerURL: "http://127.0.0.1:5050",
			Timeout:   10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// DumpDir returns the configured dump directory, defaulting under home.
func (c *Config) DumpDir(home string) string {
	if c.Dump.Dir != "" {
		return c.Dump.Dir
	}
	return filepath.Join(home, "dumps")
}

// DBPath returns the configured database path, defaulting under home.
func (c *Config) DBPath(home string) string {
	if c.Persistence.Path != "" {
		return c.Persistence.Path
	}
	return filepath.Join(home, "context.db")
}

// Path returns the config file location inside home.
func Path(home string) string {
	return filepath.Join(home, "config.yaml")
}

// Load reads config.yaml from path.
// If the file does not exist it returns Default() with no error.
// Missing keys retain their default values.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path) // #nosec G304 -- path is the user's own config file
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}

	// Unmarshal into a plain map so we can apply only the keys that are present.
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	if srv, ok := raw["server"].(map[string]any); ok {
		if v, ok := srv["listen"].(string); ok && v != "" {
			cfg.Server.Listen = v
		}
		if v, ok := srv["observer_buffer"].(int); ok && v > 0 {
			cfg.Server.ObserverBuffer = v
		}
		if err := durationKey(srv, "write_timeout", &cfg.Server.WriteTimeout); err != nil {
			return nil, err
		}
	}

	if d, ok := raw["dump"].(map[string]any); ok {
		if v, ok := d["dir"].(string); ok {
			cfg.Dump.Dir = v
		}
	}

	if p, ok := raw["persistence"].(map[string]any); ok {
		if v, ok := p["enabled"].(bool); ok {
			cfg.Persistence.Enabled = v
		}
		if v, ok := p["path"].(string); ok {
			cfg.Persistence.Path = v
		}
		if err := durationKey(p, "flush_interval", &cfg.Persistence.FlushInterval); err != nil {
			return nil, err
		}
	}

	if cl, ok := raw["client"].(map[string]any); ok {
		if v, ok := cl["server_url"].(string); ok && v != "" {
			cfg.Client.ServerURL = v
		}
		if err := durationKey(cl, "timeout", &cfg.Client.Timeout); err != nil {
			return nil, err
		}
	}

	if lg, ok := raw["log"].(map[string]any); ok {
		if v, ok := lg["level"].(string); ok && v != "" {
			cfg.Log.Level = v
		}
		if v, ok := lg["format"].(string); ok && v != "" {
			cfg.Log.Format = v
		}
	}

	if rd, ok := raw["redaction"].(map[string]any); ok {
		if list, ok := rd["patterns"].([]any); ok {
			for _, p := range list {
				if s, ok := p.(string); ok && s != "" {
					cfg.Redaction.Patterns = append(cfg.Redaction.Patterns, s)
				}
			}
		}
	}

	return cfg, nil
}

// durationKey parses m[key] as a Go duration string ("5s") or a number of
// seconds, storing it in dst when present and positive.
func durationKey(m map[string]any, key string, dst *time.Duration) error {
	raw, ok := m[key]
	if !ok {
		return nil
	}
	var d time.Duration
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config.Load: %s: %w", key, err)
		}
		d = parsed
	case int:
		d = time.Duration(v) * time.Second
	case float64:
		d = time.Duration(v * float64(time.Second))
	default:
		return fmt.Errorf("config.Load: %s: unsupported value %v", key, raw)
	}
	if d > 0 {
		*dst = d
	}
	return nil
}

// Save writes cfg to path, creating parent directories.
func Save(path string, cfg *Config) error {
	out, err := yaml.Marshal(toRaw(cfg))
	if err != nil {
		return fmt.Errorf("config.Save: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config.Save: %w", err)
	}
	return os.WriteFile(path, out, 0o600)
}

// Marshal renders cfg as YAML with durations in their string form.
func Marshal(cfg *Config) ([]byte, error) {
	return yaml.Marshal(toRaw(cfg))
}

// toRaw converts cfg to the map layout Load reads, so durations round-trip
// as "5s" rather than nanosecond integers.
func toRaw(cfg *Config) map[string]any {
	patterns := cfg.Redaction.Patterns
	if patterns == nil {
		patterns = []string{}
	}
	return map[string]any{
		"server": map[string]any{
			"listen":          cfg.Server.Listen,
			"observer_buffer": cfg.Server.ObserverBuffer,
			"write_timeout":   cfg.Server.WriteTimeout.String(),
		},
		"dump": map[string]any{
			"dir": cfg.Dump.Dir,
		},
		"persistence": map[string]any{
			"enabled":        cfg.Persistence.Enabled,
			"path":           cfg.Persistence.Path,
			"flush_interval": cfg.Persistence.FlushInterval.String(),
		},
		"client": map[string]any{
			"server_url": cfg.Client.ServerURL,
			"timeout":    cfg.Client.Timeout.String(),
		},
		"log": map[string]any{
			"level":  cfg.Log.Level,
			"format": cfg.Log.Format,
		},
		"redaction": map[string]any{
			"patterns": patterns,
		},
	}
}

// ---------------------------------------------------------------------------
// Home resolution
// ---------------------------------------------------------------------------

// globalConfigPath returns the path to the global ctxsync config file.
// This file stores only home (and future global settings).
func globalConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "ctxsync", "config.yaml"), nil
}

// normalizePath expands ~ and makes the path absolute.
func normalizePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[2:])
	}
	return filepath.Abs(os.ExpandEnv(path))
}

// ResolveHome returns the ctxsync home path and the source of the resolution.
// Priority: flag → CTXSYNC_HOME env → persisted global config → ~/.ctxsync.
// source is one of "flag", "env", "config", or "default".
func ResolveHome(flag string) (path, source string) {
	if flag != "" {
		if p, err := normalizePath(flag); err == nil {
			return p, "flag"
		}
	}

	if env := os.Getenv(EnvHome); env != "" {
		if p, err := normalizePath(env); err == nil {
			return p, "env"
		}
	}

	if persisted, ok, _ := GetPersistedHome(); ok {
		return persisted, "config"
	}

	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".ctxsync"), "default"
}

// GetPersistedHome reads home from the global config.
// Returns ("", false, nil) if not set.
func GetPersistedHome() (string, bool, error) {
	cfgPath, err := globalConfigPath()
	if err != nil {
		return "", false, err
	}

	data, err := os.ReadFile(cfgPath) // #nosec G304 -- fixed location under the user's home
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return "", false, nil
	}

	val, _ := raw["home"].(string)
	val = strings.TrimSpace(val)
	if val == "" {
		return "", false, nil
	}

	p, err := normalizePath(val)
	if err != nil {
		return "", false, err
	}
	return p, true, nil
}

// SetPersistedHome normalizes path and persists it in the global config.
// Returns the normalized path.
func SetPersistedHome(path string) (string, error) {
	normalized, err := normalizePath(path)
	if err != nil {
		return "", err
	}

	cfgPath, err := globalConfigPath()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
		return "", err
	}

	// Read existing global config, preserving any other keys.
	var raw map[string]any
	if data, err := os.ReadFile(cfgPath); err == nil { // #nosec G304 -- fixed location under the user's home
		_ = yaml.Unmarshal(data, &raw)
	}
	if raw == nil {
		raw = make(map[string]any)
	}
	raw["home"] = normalized

	out, err := yaml.Marshal(raw)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(cfgPath, out, 0o600); err != nil {
		return "", err
	}
	return normalized, nil
}

// ClearPersistedHome removes home from the global config.
// Returns true if the key was present and removed.
// If the file becomes empty after removal it is deleted.
func ClearPersistedHome() (bool, error) {
	cfgPath, err := globalConfigPath()
	if err != nil {
		return false, err
	}

	data, err := os.ReadFile(cfgPath) // #nosec G304 -- fixed location under the user's home
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return false, nil
	}

	if _, ok := raw["home"]; !ok {
		return false, nil
	}
	delete(raw, "home")

	if len(raw) == 0 {
		_ = os.Remove(cfgPath)
		return true, nil
	}

	out, err := yaml.Marshal(raw)
	if err != nil {
		return false, err
	}
	return true, os.WriteFile(cfgPath, out, 0o600)
}
