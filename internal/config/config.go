// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for studio.
//
// Configuration is read from ~/.studio/config.toml, filled with defaults,
// overridden by STUDIO_* environment variables and validated.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/studio/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete studio configuration.
type Config struct {
	Ollama  OllamaConfig  `toml:"ollama" json:"ollama"`
	Chat    ChatConfig    `toml:"chat" json:"chat"`
	Sandbox SandboxConfig `toml:"sandbox" json:"sandbox"`
	Server  ServerConfig  `toml:"server" json:"server"`
	Search  SearchConfig  `toml:"search" json:"search"`
	Storage StorageConfig `toml:"storage" json:"storage"`
}

// OllamaConfig contains model server settings.
type OllamaConfig struct {
	// URL is the base URL of the Ollama server
	URL string `toml:"url" json:"url"`
	// APIKey is sent as a bearer token when set
	APIKey string `toml:"api_key" json:"api_key"`
	// Model is the default chat model
	Model string `toml:"model" json:"model"`
	// TimeoutSecs bounds non-streaming requests. Streams have no timeout.
	TimeoutSecs int `toml:"timeout_secs" json:"timeout_secs"`
}

// ChatConfig contains generation settings.
type ChatConfig struct {
	// ReasoningEffort is one of fast, standard or deep
	ReasoningEffort string `toml:"reasoning_effort" json:"reasoning_effort"`
	// ContextSize is the number of recent non-system messages sent
	ContextSize int `toml:"context_size" json:"context_size"`
	// GlobalPrompt is appended to the system prompt of every request
	GlobalPrompt string `toml:"global_prompt" json:"global_prompt"`
	// CriticalMode selects the critical-review persona
	CriticalMode bool `toml:"critical_mode" json:"critical_mode"`
	// FileKeywords trigger the file-capability prompt. Empty uses the built-in list.
	FileKeywords []string `toml:"file_keywords" json:"file_keywords"`
}

// SandboxConfig contains the sandbox location.
type SandboxConfig struct {
	// Root is the sandbox directory
	Root string `toml:"root" json:"root"`
	// TempDir receives uploads before they are moved into the sandbox
	TempDir string `toml:"temp_dir" json:"temp_dir"`
}

// ServerConfig contains file proxy server settings.
type ServerConfig struct {
	Port           int      `toml:"port" json:"port"`
	AllowedOrigins []string `toml:"allowed_origins" json:"allowed_origins"`
	// RateLimit is requests per second per client IP, 0 disables limiting
	RateLimit float64 `toml:"rate_limit" json:"rate_limit"`
	RateBurst int     `toml:"rate_burst" json:"rate_burst"`
}

// SearchConfig contains web search settings.
type SearchConfig struct {
	Enabled   bool   `toml:"enabled" json:"enabled"`
	Engine    string `toml:"engine" json:"engine"`
	TavilyKey string `toml:"tavily_key" json:"tavily_key"`
	BingKey   string `toml:"bing_key" json:"bing_key"`
}

// StorageConfig contains conversation history settings.
type StorageConfig struct {
	// DatabasePath is the SQLite file. Empty uses ~/.studio/history.db.
	DatabasePath string `toml:"database_path" json:"database_path"`
}

// =============================================================================
// REASONING EFFORT
// =============================================================================

// ReasoningEffort selects the context window requested from the server.
type ReasoningEffort string

const (
	EffortFast     ReasoningEffort = "fast"
	EffortStandard ReasoningEffort = "standard"
	EffortDeep     ReasoningEffort = "deep"
)

// NumCtx returns the num_ctx option for the effort. Unknown values map to
// the standard window.
func (e ReasoningEffort) NumCtx() int {
	switch e {
	case EffortFast:
		return 2048
	case EffortDeep:
		return 8192
	default:
		return 4096
	}
}

// Valid reports whether e is a known effort.
func (e ReasoningEffort) Valid() bool {
	switch e {
	case EffortFast, EffortStandard, EffortDeep:
		return true
	}
	return false
}

// =============================================================================
// DEFAULTS
// =============================================================================

const (
	DefaultOllamaURL   = "http://localhost:11434"
	DefaultModel       = "deepseek-r1:14b"
	DefaultPort        = 3001
	DefaultContextSize = 6
)

// Default returns the built-in configuration.
func Default() *Config {
	root := "WorkFolder"
	if dir, err := ConfigDir(); err == nil {
		root = filepath.Join(dir, "WorkFolder")
	}
	return &Config{
		Ollama: OllamaConfig{
			URL:         DefaultOllamaURL,
			Model:       DefaultModel,
			TimeoutSecs: 30,
		},
		Chat: ChatConfig{
			ReasoningEffort: string(EffortStandard),
			ContextSize:     DefaultContextSize,
		},
		Sandbox: SandboxConfig{
			Root:    root,
			TempDir: filepath.Join(os.TempDir(), "studio-uploads"),
		},
		Server: ServerConfig{
			Port:           DefaultPort,
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
			RateLimit:      20,
			RateBurst:      40,
		},
		Search: SearchConfig{
			Engine: "duckduckgo",
		},
	}
}

// Effort returns the configured reasoning effort.
func (c *Config) Effort() ReasoningEffort {
	return ReasoningEffort(strings.ToLower(c.Chat.ReasoningEffort))
}

// DatabasePath returns the storage path, falling back to the config directory.
func (c *Config) DatabasePath() (string, error) {
	if c.Storage.DatabasePath != "" {
		return c.Storage.DatabasePath, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "history.db"), nil
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the studio configuration directory path.
// STUDIO_HOME overrides the default ~/.studio.
func ConfigDir() (string, error) {
	if dir := os.Getenv("STUDIO_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".studio"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ensureSecurePermissions narrows a config file to 0600 since it may hold API keys.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the default path. A missing file yields
// the defaults. Environment overrides are applied last.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
		cfg := Default()
		return finish(cfg)
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from a specific file path with full validation.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if err := ensureSecurePermissions(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}
	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SetDefaults fills zero values left by a partial config file.
func (c *Config) SetDefaults() {
	d := Default()
	if c.Ollama.URL == "" {
		c.Ollama.URL = d.Ollama.URL
	}
	c.Ollama.URL = strings.TrimSuffix(c.Ollama.URL, "/")
	if c.Ollama.Model == "" {
		c.Ollama.Model = d.Ollama.Model
	}
	if c.Ollama.TimeoutSecs == 0 {
		c.Ollama.TimeoutSecs = d.Ollama.TimeoutSecs
	}
	if c.Chat.ReasoningEffort == "" {
		c.Chat.ReasoningEffort = d.Chat.ReasoningEffort
	}
	if c.Chat.ContextSize == 0 {
		c.Chat.ContextSize = d.Chat.ContextSize
	}
	if c.Sandbox.Root == "" {
		c.Sandbox.Root = d.Sandbox.Root
	}
	if c.Sandbox.TempDir == "" {
		c.Sandbox.TempDir = d.Sandbox.TempDir
	}
	if c.Server.Port == 0 {
		c.Server.Port = d.Server.Port
	}
	if c.Server.RateBurst == 0 && c.Server.RateLimit > 0 {
		c.Server.RateBurst = int(c.Server.RateLimit * 2)
	}
	if c.Search.Engine == "" {
		c.Search.Engine = d.Search.Engine
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes the configuration atomically with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# studio configuration file\n")
	buf.WriteString("# Environment variables STUDIO_* override these values\n\n")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
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
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

var validEngines = map[string]bool{"duckduckgo": true, "tavily": true, "bing": true, "google": true}

// Validate validates the configuration and returns ValidateErrors on failure.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if u, err := url.Parse(c.Ollama.URL); err != nil || u.Host == "" ||
		(u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, ValidationError{
			Field:   "ollama.url",
			Message: fmt.Sprintf("invalid URL '%s', must be http(s)://host[:port]", c.Ollama.URL),
		})
	}
	if c.Ollama.TimeoutSecs < 0 {
		errs = append(errs, ValidationError{Field: "ollama.timeout_secs", Message: "must not be negative"})
	}

	if !c.Effort().Valid() {
		errs = append(errs, ValidationError{
			Field:   "chat.reasoning_effort",
			Message: fmt.Sprintf("invalid effort '%s', must be one of: fast, standard, deep", c.Chat.ReasoningEffort),
		})
	}
	if c.Chat.ContextSize < 1 || c.Chat.ContextSize > 100 {
		errs = append(errs, ValidationError{
			Field:   "chat.context_size",
			Message: fmt.Sprintf("%d is out of range 1-100", c.Chat.ContextSize),
		})
	}

	if strings.TrimSpace(c.Sandbox.Root) == "" {
		errs = append(errs, ValidationError{Field: "sandbox.root", Message: "must not be empty"})
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("%d is out of range 1-65535", c.Server.Port),
		})
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, ValidationError{Field: "server.rate_limit", Message: "must not be negative"})
	}

	if !validEngines[strings.ToLower(c.Search.Engine)] {
		errs = append(errs, ValidationError{
			Field:   "search.engine",
			Message: fmt.Sprintf("invalid engine '%s', must be one of: duckduckgo, tavily, bing, google", c.Search.Engine),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - STUDIO_OLLAMA_URL: overrides ollama.url
//   - STUDIO_API_KEY: overrides ollama.api_key
//   - STUDIO_MODEL: overrides ollama.model
//   - STUDIO_SANDBOX: overrides sandbox.root
//   - STUDIO_PORT: overrides server.port
//   - STUDIO_EFFORT: overrides chat.reasoning_effort
//   - STUDIO_TAVILY_KEY: overrides search.tavily_key
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("STUDIO_OLLAMA_URL"); v != "" {
		c.Ollama.URL = v
	}
	if v := os.Getenv("STUDIO_API_KEY"); v != "" {
		c.Ollama.APIKey = v
	}
	if v := os.Getenv("STUDIO_MODEL"); v != "" {
		c.Ollama.Model = v
	}
	if v := os.Getenv("STUDIO_SANDBOX"); v != "" {
		c.Sandbox.Root = v
	}
	if v := os.Getenv("STUDIO_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("STUDIO_EFFORT"); v != "" {
		c.Chat.ReasoningEffort = v
	}
	if v := os.Getenv("STUDIO_TAVILY_KEY"); v != "" {
		c.Search.TavilyKey = v
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g., "chat.context_size").
func (c *Config) Get(key string) (interface{}, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set sets a configuration value using dot notation. String values are
// converted to the field's type.
func (c *Config) Set(key string, value interface{}) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	if strings.TrimSpace(key) == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)
		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})
		if !field.IsValid() {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

// normalizeFieldName converts a snake_case or kebab-case name to its Go field equivalent.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})

	var result strings.Builder
	for _, part := range parts {
		if len(part) > 0 {
			result.WriteString(strings.ToUpper(string(part[0])))
			result.WriteString(strings.ToLower(part[1:]))
		}
	}
	return result.String()
}

// setFieldValue sets a reflect.Value from an interface{} value with type conversion.
func setFieldValue(field reflect.Value, value interface{}) error {
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Float64:
			floatVal, err := strconv.ParseFloat(strVal, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(floatVal)
			return nil
		case reflect.Bool:
			lower := strings.ToLower(strVal)
			field.SetBool(lower == "1" || lower == "true" || lower == "yes")
			return nil
		case reflect.Slice:
			if field.Type().Elem().Kind() == reflect.String {
				var items []string
				for _, item := range strings.Split(strVal, ",") {
					if item = strings.TrimSpace(item); item != "" {
						items = append(items, item)
					}
				}
				field.Set(reflect.ValueOf(items))
				return nil
			}
		}
	}

	val := reflect.ValueOf(value)
	if !val.IsValid() {
		return fmt.Errorf("cannot assign nil to %s", field.Type())
	}
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// GetAllKeys returns all configuration keys in dot notation.
func GetAllKeys() []string {
	return []string{
		"ollama.url",
		"ollama.api_key",
		"ollama.model",
		"ollama.timeout_secs",
		"chat.reasoning_effort",
		"chat.context_size",
		"chat.global_prompt",
		"chat.critical_mode",
		"chat.file_keywords",
		"sandbox.root",
		"sandbox.temp_dir",
		"server.port",
		"server.allowed_origins",
		"server.rate_limit",
		"server.rate_burst",
		"search.enabled",
		"search.engine",
		"search.tavily_key",
		"search.bing_key",
		"storage.database_path",
	}
}

// =============================================================================
// COPY & DISPLAY
// =============================================================================

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Chat.FileKeywords = append([]string(nil), c.Chat.FileKeywords...)
	clone.Server.AllowedOrigins = append([]string(nil), c.Server.AllowedOrigins...)
	return &clone
}

// String returns the config as JSON with secrets redacted.
func (c *Config) String() string {
	safe := c.Clone()
	for _, key := range []*string{&safe.Ollama.APIKey, &safe.Search.TavilyKey, &safe.Search.BingKey} {
		if *key != "" {
			*key = "[REDACTED]"
		}
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the global configuration instance.
// Loads configuration on first access. Thread-safe.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
			cfg = Default()
		}
		globalConfigMu.Lock()
		globalConfig = cfg
		globalConfigMu.Unlock()
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// SetGlobal sets the global configuration instance. Thread-safe.
func SetGlobal(cfg *Config) {
	globalConfigOnce.Do(func() {})
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting resets the global config state for testing.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
