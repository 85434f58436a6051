package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Uploads   UploadsConfig   `yaml:"uploads"`
	Gemini    GeminiConfig    `yaml:"gemini"`
	Audio     AudioConfig     `yaml:"audio"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port            int    `yaml:"port"`
	Address         string `yaml:"address"`
	CORSOrigin      string `yaml:"cors_origin"`
	JSONBodyLimit   int64  `yaml:"json_body_limit"`  // bytes
	ReadTimeout     int    `yaml:"read_timeout"`     // seconds
	WriteTimeout    int    `yaml:"write_timeout"`    // seconds
	ShutdownTimeout int    `yaml:"shutdown_timeout"` // seconds
}

// RateLimitConfig limits requests per client address
type RateLimitConfig struct {
	Enabled bool `yaml:"enabled"`
	Window  int  `yaml:"window"` // seconds
	Max     int  `yaml:"max"`    // requests per window
}

// UploadsConfig controls transient multipart upload storage
type UploadsConfig struct {
	Dir           string `yaml:"dir"`
	ImageMaxBytes int64  `yaml:"image_max_bytes"`
	AudioMaxBytes int64  `yaml:"audio_max_bytes"`
}

// GeminiConfig contains generative API configuration
type GeminiConfig struct {
	APIKey                string `yaml:"api_key"`
	BaseURL               string `yaml:"base_url"`
	ChatModel             string `yaml:"chat_model"`
	SpeechModel           string `yaml:"speech_model"`
	DefaultVoice          string `yaml:"default_voice"`
	PlainTextInstruction  string `yaml:"plain_text_instruction"`
	TranscriptionLanguage string `yaml:"transcription_language"`
	Timeout               int    `yaml:"timeout"` // seconds
	MaxRetries            int    `yaml:"max_retries"`
	MaxConcurrent         int    `yaml:"max_concurrent"`
}

// AudioConfig describes the PCM returned by the speech model. The values are
// fixed by deployment, never sniffed from the audio.
type AudioConfig struct {
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Environment variables that override the file.
const (
	EnvAPIKey     = "GEMINI_API_KEY"
	EnvBaseURL    = "GEMINI_BASE_URL"
	EnvPort       = "PORT"
	EnvCORSOrigin = "WEB_ORIGIN"
)

// Default returns the built-in configuration. Only gemini.api_key is left
// empty; it normally comes from GEMINI_API_KEY.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Port:            3001,
			Address:         "0.0.0.0",
			CORSOrigin:      "*",
			JSONBodyLimit:   10 << 20,
			ReadTimeout:     30,
			WriteTimeout:    120,
			ShutdownTimeout: 10,
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Window:  60,
			Max:     60,
		},
		Uploads: UploadsConfig{
			Dir:           "uploads",
			ImageMaxBytes: 10 << 20,
			AudioMaxBytes: 50 << 20,
		},
		Gemini: GeminiConfig{
			ChatModel:             "gemini-2.5-flash",
			SpeechModel:           "gemini-2.5-flash-preview-tts",
			DefaultVoice:          "Kore",
			PlainTextInstruction:  "Answer in plain text, without Markdown.",
			TranscriptionLanguage: "pt-BR",
			Timeout:               90,
			MaxRetries:            2,
			MaxConcurrent:         8,
		},
		Audio: AudioConfig{
			SampleRate: 24000,
			Channels:   1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, a .env
// file in the working directory and the process environment, in that order.
// An empty path skips the YAML file.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := config.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// ApplyEnv overrides fields from environment variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvAPIKey); ok && v != "" {
		c.Gemini.APIKey = v
	}

	if v, ok := lookup(EnvBaseURL); ok && v != "" {
		c.Gemini.BaseURL = v
	}

	if v, ok := lookup(EnvPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvPort, v, err)
		}
		c.HTTP.Port = port
	}

	if v, ok := lookup(EnvCORSOrigin); ok && v != "" {
		c.HTTP.CORSOrigin = v
	}

	return nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("rate_limit config: %w", err)
	}

	if err := c.Uploads.Validate(); err != nil {
		return fmt.Errorf("uploads config: %w", err)
	}

	if err := c.Gemini.Validate(); err != nil {
		return fmt.Errorf("gemini config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Port < 1 || h.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", h.Port)
	}

	if h.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	if h.CORSOrigin == "" {
		return fmt.Errorf("cors_origin cannot be empty")
	}

	if h.JSONBodyLimit < 1024 {
		return fmt.Errorf("json_body_limit must be at least 1024 bytes, got %d", h.JSONBodyLimit)
	}

	if h.ReadTimeout < 1 || h.WriteTimeout < 1 {
		return fmt.Errorf("read_timeout and write_timeout must be at least 1 second, got %d/%d",
			h.ReadTimeout, h.WriteTimeout)
	}

	if h.ShutdownTimeout < 1 {
		return fmt.Errorf("shutdown_timeout must be at least 1 second, got %d", h.ShutdownTimeout)
	}

	return nil
}

// Validate validates rate limit configuration
func (r *RateLimitConfig) Validate() error {
	if !r.Enabled {
		return nil
	}

	if r.Window < 1 {
		return fmt.Errorf("window must be at least 1 second, got %d", r.Window)
	}

	if r.Max < 1 {
		return fmt.Errorf("max must be at least 1, got %d", r.Max)
	}

	return nil
}

// Validate validates upload configuration
func (u *UploadsConfig) Validate() error {
	if u.Dir == "" {
		return fmt.Errorf("dir cannot be empty")
	}

	if u.ImageMaxBytes < 1 {
		return fmt.Errorf("image_max_bytes must be positive, got %d", u.ImageMaxBytes)
	}

	if u.AudioMaxBytes < 1 {
		return fmt.Errorf("audio_max_bytes must be positive, got %d", u.AudioMaxBytes)
	}

	return nil
}

// Validate validates Gemini configuration
func (g *GeminiConfig) Validate() error {
	if g.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty (set it in the file or via %s)", EnvAPIKey)
	}

	if g.BaseURL != "" {
		u, err := url.Parse(g.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("base_url must be an absolute URL, got '%s'", g.BaseURL)
		}
	}

	if g.ChatModel == "" {
		return fmt.Errorf("chat_model cannot be empty")
	}

	if g.SpeechModel == "" {
		return fmt.Errorf("speech_model cannot be empty")
	}

	if g.DefaultVoice == "" {
		return fmt.Errorf("default_voice cannot be empty")
	}

	if g.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", g.Timeout)
	}

	if g.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", g.MaxRetries)
	}

	if g.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", g.MaxConcurrent)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", a.SampleRate)
	}

	if a.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", a.Channels)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Output may be stdout, stderr or a file path.
	return nil
}

// Addr returns the listen address.
func (h *HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Address, h.Port)
}

// GetReadTimeoutDuration returns the read timeout as a time.Duration
func (h *HTTPConfig) GetReadTimeoutDuration() time.Duration {
	return time.Duration(h.ReadTimeout) * time.Second
}

// GetWriteTimeoutDuration returns the write timeout as a time.Duration
func (h *HTTPConfig) GetWriteTimeoutDuration() time.Duration {
	return time.Duration(h.WriteTimeout) * time.Second
}

// GetShutdownTimeoutDuration returns the shutdown timeout as a time.Duration
func (h *HTTPConfig) GetShutdownTimeoutDuration() time.Duration {
	return time.Duration(h.ShutdownTimeout) * time.Second
}

// GetWindowDuration returns the rate limit window as a time.Duration
func (r *RateLimitConfig) GetWindowDuration() time.Duration {
	return time.Duration(r.Window) * time.Second
}

// GetTimeoutDuration returns the Gemini request timeout as a time.Duration
func (g *GeminiConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(g.Timeout) * time.Second
}
