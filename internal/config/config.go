// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/jeranaias/ottodev/internal/ollama"
	"github.com/jeranaias/ottodev/internal/util"
)

// =============================================================================
// CONFIGURATION STRUCTURES
// =============================================================================

// Config is the main configuration structure for ottodev.
type Config struct {
	Chat    ChatConfig    `toml:"chat" json:"chat"`
	Server  ServerConfig  `toml:"server" json:"server"`
	Upload  UploadConfig  `toml:"upload" json:"upload"`
	Storage StorageConfig `toml:"storage" json:"storage"`
	Log     LogConfig     `toml:"log" json:"log"`
}

// ChatConfig configures the chat collaborator.
type ChatConfig struct {
	// OllamaURL is the Ollama server URL
	OllamaURL string `toml:"ollama_url" json:"ollama_url"`

	// Model is the model used for chat turns
	Model string `toml:"model" json:"model"`

	// SystemPrompt is sent ahead of the conversation when non-empty
	SystemPrompt string `toml:"system_prompt" json:"system_prompt"`

	// RequestTimeoutSecs bounds a whole chat turn; 0 means no limit
	RequestTimeoutSecs int `toml:"request_timeout_secs" json:"request_timeout_secs"`
}

// ServerConfig configures the browser UI server.
type ServerConfig struct {
	// Addr is the listen address
	Addr string `toml:"addr" json:"addr"`

	// AllowedOrigins for CORS and WebSocket upgrades; empty allows same-origin only
	AllowedOrigins []string `toml:"allowed_origins" json:"allowed_origins"`

	// RateLimitPerMinute caps API requests per client IP; 0 disables the limit
	RateLimitPerMinute int `toml:"rate_limit_per_minute" json:"rate_limit_per_minute"`
}

// UploadConfig configures the upload service.
type UploadConfig struct {
	// Dir holds stored files and the upload registry
	Dir string `toml:"dir" json:"dir"`

	// MaxBytes is the largest accepted upload
	MaxBytes int64 `toml:"max_bytes" json:"max_bytes"`

	// AllowedExtensions lists accepted file extensions, with leading dot
	AllowedExtensions []string `toml:"allowed_extensions" json:"allowed_extensions"`
}

// StorageConfig configures transcript persistence.
type StorageConfig struct {
	// Dir holds one JSON file per conversation
	Dir string `toml:"dir" json:"dir"`

	// MaxConversations is the number of conversations kept; oldest are pruned
	MaxConversations int `toml:"max_conversations" json:"max_conversations"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of trace, debug, info, warn, error
	Level string `toml:"level" json:"level"`

	// Format is auto, console or json; auto picks console on a terminal
	Format string `toml:"format" json:"format"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default values.
const (
	DefaultOllamaURL          = ollama.DefaultBaseURL
	DefaultModel              = ollama.DefaultChatModel
	DefaultAddr               = "127.0.0.1:8080"
	DefaultRateLimitPerMinute = 120
	DefaultMaxUploadBytes     = 10 << 20
	DefaultMaxConversations   = 100
	DefaultRequestTimeoutSecs = 300
)

// DefaultAllowedExtensions are the upload extensions accepted out of the box.
var DefaultAllowedExtensions = []string{
	".txt", ".md", ".pdf", ".zip",
	".js", ".ts", ".jsx", ".tsx",
	".py", ".java", ".cpp", ".c",
	".go", ".rs", ".php", ".rb",
}

// Default returns a Config with all default values.
func Default() *Config {
	dir, err := ConfigDir()
	if err != nil {
		dir = ".ottodev"
	}
	return &Config{
		Chat: ChatConfig{
			OllamaURL:          DefaultOllamaURL,
			Model:              DefaultModel,
			RequestTimeoutSecs: DefaultRequestTimeoutSecs,
		},
		Server: ServerConfig{
			Addr:               DefaultAddr,
			RateLimitPerMinute: DefaultRateLimitPerMinute,
		},
		Upload: UploadConfig{
			Dir:               filepath.Join(dir, "uploads"),
			MaxBytes:          DefaultMaxUploadBytes,
			AllowedExtensions: append([]string(nil), DefaultAllowedExtensions...),
		},
		Storage: StorageConfig{
			Dir:              filepath.Join(dir, "conversations"),
			MaxConversations: DefaultMaxConversations,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// RequestTimeout returns the chat turn timeout as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Chat.RequestTimeoutSecs) * time.Second
}

// =============================================================================
// PATHS
// =============================================================================

// ConfigDir returns the ottodev configuration directory (~/.ottodev).
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "failed to get home directory")
	}
	return filepath.Join(home, ".ottodev"), nil
}

// ConfigPath returns the default config file path.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads the config file at path, or the default path when path is
// empty. A missing file yields the defaults. Environment overrides are
// applied and the result is validated.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := ConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	cfg := Default()
	if _, err := os.Stat(path); err == nil {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "failed to stat config %s", path)
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return cfg, nil
}

// LoadTOML decodes the TOML file at path over cfg.
func LoadTOML(cfg *Config, path string) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return errors.Wrapf(err, "failed to parse TOML config %s", path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return errors.Errorf("unknown config keys in %s: %s", path, strings.Join(keys, ", "))
	}
	return nil
}

// SetDefaults fills zero values with defaults and expands "~" in paths.
func (c *Config) SetDefaults() {
	d := Default()

	if c.Chat.OllamaURL == "" {
		c.Chat.OllamaURL = d.Chat.OllamaURL
	}
	if c.Chat.Model == "" {
		c.Chat.Model = d.Chat.Model
	}
	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Upload.Dir == "" {
		c.Upload.Dir = d.Upload.Dir
	}
	if c.Upload.MaxBytes == 0 {
		c.Upload.MaxBytes = d.Upload.MaxBytes
	}
	if len(c.Upload.AllowedExtensions) == 0 {
		c.Upload.AllowedExtensions = d.Upload.AllowedExtensions
	}
	for i, ext := range c.Upload.AllowedExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		c.Upload.AllowedExtensions[i] = ext
	}
	if c.Storage.Dir == "" {
		c.Storage.Dir = d.Storage.Dir
	}
	if c.Storage.MaxConversations == 0 {
		c.Storage.MaxConversations = d.Storage.MaxConversations
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}

	c.Upload.Dir = util.ExpandHome(c.Upload.Dir)
	c.Storage.Dir = util.ExpandHome(c.Storage.Dir)
}

// ApplyEnvOverrides applies OTTODEV_* environment variables.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("OTTODEV_OLLAMA_URL"); v != "" {
		c.Chat.OllamaURL = v
	}
	if v := os.Getenv("OTTODEV_MODEL"); v != "" {
		c.Chat.Model = v
	}
	if v := os.Getenv("OTTODEV_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("OTTODEV_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("OTTODEV_UPLOAD_DIR"); v != "" {
		c.Upload.Dir = v
	}
}

// =============================================================================
// SAVING
// =============================================================================

const fileHeader = `# ottodev configuration file
# Generated by ottodev - edit with care

`

// SaveTOML writes cfg to path.
// SECURITY: Config files are written with 0600 permissions (owner read/write only).
// RELIABILITY: Atomic write with fsync prevents data loss on crash
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString(fileHeader)
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return errors.Wrap(err, "failed to encode config")
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return errors.Wrapf(err, "failed to write config %s", path)
	}
	return nil
}

// String returns the TOML encoding of the configuration.
func (c *Config) String() string {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Sprintf("<config: %v>", err)
	}
	return buf.String()
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	out := *c
	out.Server.AllowedOrigins = append([]string(nil), c.Server.AllowedOrigins...)
	out.Upload.AllowedExtensions = append([]string(nil), c.Upload.AllowedExtensions...)
	return &out
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

var validLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true, "error": true, "disabled": true,
}

var validFormats = map[string]bool{"auto": true, "console": true, "json": true}

// Validate checks the configuration and returns ValidateErrors when invalid.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if u, err := url.Parse(c.Chat.OllamaURL); err != nil || u.Scheme == "" || u.Host == "" {
		add("chat.ollama_url", "invalid URL %q", c.Chat.OllamaURL)
	} else if u.Scheme != "http" && u.Scheme != "https" {
		add("chat.ollama_url", "scheme must be http or https, got %q", u.Scheme)
	}
	if strings.TrimSpace(c.Chat.Model) == "" {
		add("chat.model", "must not be empty")
	}
	if c.Chat.RequestTimeoutSecs < 0 {
		add("chat.request_timeout_secs", "cannot be negative, got %d", c.Chat.RequestTimeoutSecs)
	}

	if _, _, err := net.SplitHostPort(c.Server.Addr); err != nil {
		add("server.addr", "invalid listen address %q", c.Server.Addr)
	}
	if c.Server.RateLimitPerMinute < 0 {
		add("server.rate_limit_per_minute", "cannot be negative, got %d", c.Server.RateLimitPerMinute)
	}

	if c.Upload.MaxBytes <= 0 {
		add("upload.max_bytes", "must be positive, got %d", c.Upload.MaxBytes)
	}
	for _, ext := range c.Upload.AllowedExtensions {
		if len(ext) < 2 || !strings.HasPrefix(ext, ".") || strings.ContainsAny(ext, `/\`) {
			add("upload.allowed_extensions", "invalid extension %q", ext)
		}
	}

	if c.Storage.MaxConversations < 0 {
		add("storage.max_conversations", "cannot be negative, got %d", c.Storage.MaxConversations)
	}

	if !validLevels[strings.ToLower(c.Log.Level)] {
		add("log.level", "invalid level %q, must be one of: trace, debug, info, warn, error, disabled", c.Log.Level)
	}
	if !validFormats[strings.ToLower(c.Log.Format)] {
		add("log.format", "invalid format %q, must be one of: auto, console, json", c.Log.Format)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
