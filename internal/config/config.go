package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/user/imagereader/internal/gateway"
	"github.com/user/imagereader/pkg/llm"
)

type Config struct {
	DataDir       string `json:"data_dir"`
	LogLevel      string `json:"log_level"`
	MaxConcurrent int    `json:"max_concurrent"`
	// WorkingDir resolves relative image paths. Empty means the process
	// working directory.
	WorkingDir string `json:"working_dir"`
	Role       struct {
		Alias          string `json:"alias"`
		LenientJSON    bool   `json:"lenient_json"`
		MaxQueryTokens int    `json:"max_query_tokens"`
	} `json:"role"`
	LLM struct {
		Provider       string  `json:"provider"`
		BaseURL        string  `json:"base_url"`
		APIKey         string  `json:"api_key" config:"secret"`
		Model          string  `json:"model"`
		MaxTokens      int     `json:"max_tokens"`
		Temperature    float32 `json:"temperature"`
		TimeoutSeconds int     `json:"timeout_seconds"`
	} `json:"llm"`
	Retry struct {
		MaxAttempts    int `json:"max_attempts"`
		InitialDelayMS int `json:"initial_delay_ms"`
	} `json:"retry"`
	HTTP struct {
		Enabled bool   `json:"enabled"`
		Listen  string `json:"listen"`
	} `json:"http"`
	Telegram struct {
		Token string `json:"token" config:"secret"`
	} `json:"telegram"`
}

// DefaultPath returns ~/.imagereader/config.json.
func DefaultPath() string {
	return filepath.Join(os.Getenv("HOME"), ".imagereader", "config.json")
}

func defaults() *Config {
	cfg := &Config{
		DataDir:       filepath.Join(os.Getenv("HOME"), ".imagereader"),
		MaxConcurrent: 2,
	}
	cfg.LogLevel = "info"
	cfg.Role.Alias = "ImageReader"
	cfg.LLM.Provider = "openai"
	cfg.LLM.Model = "gpt-4o-mini"
	cfg.LLM.MaxTokens = 256
	cfg.LLM.TimeoutSeconds = 60
	cfg.Retry.MaxAttempts = 3
	cfg.Retry.InitialDelayMS = 1000
	cfg.HTTP.Listen = "127.0.0.1:8484"
	return cfg
}

func Load(path string) (*Config, error) {
	cfg := defaults()

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	} else if os.IsNotExist(err) {
		if err := writeDefaults(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := loadDotEnv(filepath.Dir(path)); err != nil {
		return nil, err
	}
	applyEnv(cfg)

	return cfg, nil
}

// loadDotEnv reads .env from the working directory and from dir. Variables
// already present in the environment win.
func loadDotEnv(dir string) error {
	for _, p := range []string{".env", filepath.Join(dir, ".env")} {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// applyEnv overrides file values from the environment (highest precedence).
// Provider credentials only apply to the provider they belong to.
func applyEnv(cfg *Config) {
	provider := strings.ToLower(cfg.LLM.Provider)
	switch provider {
	case "", "openai":
		if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
			cfg.LLM.APIKey = apiKey
		}
		if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
			cfg.LLM.BaseURL = baseURL
		}
	case "anthropic", "claude":
		if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
			cfg.LLM.APIKey = apiKey
		}
	case "gemini", "google":
		for _, name := range []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"} {
			if apiKey := os.Getenv(name); apiKey != "" {
				cfg.LLM.APIKey = apiKey
				break
			}
		}
	case "ollama":
		if host := os.Getenv("OLLAMA_HOST"); host != "" {
			if !strings.Contains(host, "://") {
				host = "http://" + host
			}
			cfg.LLM.BaseURL = host
		}
	}
	if tgToken := os.Getenv("TELEGRAM_BOT_TOKEN"); tgToken != "" {
		cfg.Telegram.Token = tgToken
	}
	if wd := os.Getenv("IMAGEREADER_WORKDIR"); wd != "" {
		cfg.WorkingDir = wd
	}
}

// LLMConfig returns the provider settings in the form pkg/llm expects.
func (c *Config) LLMConfig() *llm.Config {
	return &llm.Config{
		Provider:    c.LLM.Provider,
		BaseURL:     c.LLM.BaseURL,
		APIKey:      c.LLM.APIKey,
		Model:       c.LLM.Model,
		MaxTokens:   c.LLM.MaxTokens,
		Temperature: c.LLM.Temperature,
		Timeout:     time.Duration(c.LLM.TimeoutSeconds) * time.Second,
	}
}

// RetryPolicy returns the gateway retry policy described by the config.
func (c *Config) RetryPolicy() *gateway.RetryPolicy {
	p := gateway.DefaultRetryPolicy()
	if c.Retry.MaxAttempts > 0 {
		p.MaxAttempts = c.Retry.MaxAttempts
	}
	if c.Retry.InitialDelayMS > 0 {
		p.InitialDelay = time.Duration(c.Retry.InitialDelayMS) * time.Millisecond
	}
	return p
}

// ResolveWorkingDir returns WorkingDir, falling back to the process
// working directory.
func (c *Config) ResolveWorkingDir() (string, error) {
	if c.WorkingDir != "" {
		return c.WorkingDir, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	return wd, nil
}

// Save writes cfg to path atomically, creating the parent directory.
func Save(path string, cfg *Config) error {
	return writeJSON(path, cfg)
}

func writeDefaults(path string, cfg *Config) error {
	if err := writeJSON(path, cfg); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap converts cfg to its generic JSON form.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return m, nil
}

// ListValues returns every config value under its dot-separated key,
// optionally with secrets masked.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

func readRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return m, nil
}

// GetValue returns the value stored in the config file under key. The
// file is created with defaults when missing.
func GetValue(path, key string) (any, error) {
	if _, ok := fields[key]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	if _, err := Load(path); err != nil {
		return nil, err
	}
	m, err := readRaw(path)
	if err != nil {
		return nil, err
	}
	v, ok := Flatten(m)[key]
	if !ok {
		// older files may predate the key
		return nil, fmt.Errorf("%w: %s not set in %s", ErrUnknownKey, key, path)
	}
	return v, nil
}

// SetValue stores value under key in an existing config file. The value
// is converted to the key's type and checked before anything is written.
func SetValue(path, key, value string) error {
	typed, err := ParseValue(key, value)
	if err != nil {
		return err
	}
	m, err := readRaw(path)
	if err != nil {
		return err
	}
	flat := Flatten(m)
	flat[key] = typed
	return writeJSON(path, Unflatten(flat))
}
