package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Gemini.APIKey = "test-key"
	return cfg
}

// clearEnv keeps the developer's environment out of Load.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvAPIKey, EnvBaseURL, EnvPort, EnvCORSOrigin} {
		t.Setenv(k, "")
	}
}

func TestDefaultNeedsOnlyAPIKey(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "api_key cannot be empty") {
		t.Fatalf("Expected api_key error, got %v", err)
	}

	cfg.Gemini.APIKey = "k"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected defaults plus key to be valid, got %v", err)
	}

	if cfg.Audio.SampleRate != 24000 || cfg.Audio.Channels != 1 {
		t.Errorf("Expected 24000 Hz mono, got %d Hz %d ch", cfg.Audio.SampleRate, cfg.Audio.Channels)
	}
	if cfg.HTTP.Port != 3001 {
		t.Errorf("Expected port 3001, got %d", cfg.HTTP.Port)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(c *Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:   "valid configuration",
			mutate: func(c *Config) {},
		},
		{
			name:        "invalid port",
			mutate:      func(c *Config) { c.HTTP.Port = 70000 },
			expectError: true,
			errorMsg:    "port must be between 1 and 65535",
		},
		{
			name:        "empty cors origin",
			mutate:      func(c *Config) { c.HTTP.CORSOrigin = "" },
			expectError: true,
			errorMsg:    "cors_origin cannot be empty",
		},
		{
			name:        "tiny json body limit",
			mutate:      func(c *Config) { c.HTTP.JSONBodyLimit = 10 },
			expectError: true,
			errorMsg:    "json_body_limit",
		},
		{
			name:        "rate limit without max",
			mutate:      func(c *Config) { c.RateLimit.Max = 0 },
			expectError: true,
			errorMsg:    "max must be at least 1",
		},
		{
			name: "disabled rate limit skips checks",
			mutate: func(c *Config) {
				c.RateLimit.Enabled = false
				c.RateLimit.Max = 0
			},
		},
		{
			name:        "empty upload dir",
			mutate:      func(c *Config) { c.Uploads.Dir = "" },
			expectError: true,
			errorMsg:    "dir cannot be empty",
		},
		{
			name:        "relative base url",
			mutate:      func(c *Config) { c.Gemini.BaseURL = "localhost:9999" },
			expectError: true,
			errorMsg:    "base_url must be an absolute URL",
		},
		{
			name:   "absolute base url",
			mutate: func(c *Config) { c.Gemini.BaseURL = "http://127.0.0.1:9999" },
		},
		{
			name:        "negative retries",
			mutate:      func(c *Config) { c.Gemini.MaxRetries = -1 },
			expectError: true,
			errorMsg:    "max_retries cannot be negative",
		},
		{
			name:        "zero sample rate",
			mutate:      func(c *Config) { c.Audio.SampleRate = 0 },
			expectError: true,
			errorMsg:    "sample_rate must be positive",
		},
		{
			name:        "zero channels",
			mutate:      func(c *Config) { c.Audio.Channels = 0 },
			expectError: true,
			errorMsg:    "channels must be positive",
		},
		{
			name:        "invalid log format",
			mutate:      func(c *Config) { c.Logging.Format = "xml" },
			expectError: true,
			errorMsg:    "format must be 'json' or 'text'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else if err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestConfigLoad(t *testing.T) {
	clearEnv(t)
	tempDir := t.TempDir()

	tests := []struct {
		name        string
		configYAML  string
		expectError bool
		errorMsg    string
	}{
		{
			name: "valid config file",
			configYAML: `
http:
  port: 8080
  address: "127.0.0.1"
  cors_origin: "https://app.example.com"
rate_limit:
  enabled: true
  window: 30
  max: 10
gemini:
  api_key: "file-key"
  chat_model: "gemini-2.5-pro"
audio:
  sample_rate: 16000
  channels: 1
logging:
  level: "debug"
  format: "json"
  output: "stderr"
`,
		},
		{
			name: "invalid YAML syntax",
			configYAML: `
http:
  port: not_a_number
`,
			expectError: true,
			errorMsg:    "failed to parse",
		},
		{
			name: "missing api key",
			configYAML: `
http:
  port: 8080
`,
			expectError: true,
			errorMsg:    "api_key cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(tempDir, "config.yaml")
			if err := os.WriteFile(configPath, []byte(tt.configYAML), 0644); err != nil {
				t.Fatalf("Failed to create test config file: %v", err)
			}

			config, err := Load(configPath)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
				return
			}

			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if config.HTTP.Port != 8080 || config.HTTP.Address != "127.0.0.1" {
				t.Errorf("Expected 127.0.0.1:8080, got %s", config.HTTP.Addr())
			}
			if config.Gemini.ChatModel != "gemini-2.5-pro" {
				t.Errorf("Expected chat model from file, got %s", config.Gemini.ChatModel)
			}
			// Fields absent from the file keep their defaults.
			if config.Gemini.SpeechModel != "gemini-2.5-flash-preview-tts" {
				t.Errorf("Expected default speech model, got %s", config.Gemini.SpeechModel)
			}
			if config.Uploads.AudioMaxBytes != 50<<20 {
				t.Errorf("Expected default audio limit, got %d", config.Uploads.AudioMaxBytes)
			}
		})
	}
}

func TestConfigLoadNonexistentFile(t *testing.T) {
	clearEnv(t)
	_, err := Load("nonexistent.yaml")
	if err == nil {
		t.Fatalf("Expected error for nonexistent file but got none")
	}
	if !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("Expected error about reading file, got: %v", err)
	}
}

func TestConfigLoadEnvOnly(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvAPIKey, "env-key")
	t.Setenv(EnvPort, "4000")
	t.Setenv(EnvCORSOrigin, "https://mobile.example.com")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Expected no error but got: %v", err)
	}
	if cfg.Gemini.APIKey != "env-key" {
		t.Errorf("Expected env api key, got %q", cfg.Gemini.APIKey)
	}
	if cfg.HTTP.Port != 4000 {
		t.Errorf("Expected port 4000, got %d", cfg.HTTP.Port)
	}
	if cfg.HTTP.CORSOrigin != "https://mobile.example.com" {
		t.Errorf("Expected env origin, got %s", cfg.HTTP.CORSOrigin)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvAPIKey:  "override",
		EnvBaseURL: "http://127.0.0.1:9999",
		EnvPort:    "",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := validConfig()
	if err := cfg.ApplyEnv(lookup); err != nil {
		t.Fatalf("ApplyEnv failed: %v", err)
	}
	if cfg.Gemini.APIKey != "override" {
		t.Errorf("Expected override key, got %s", cfg.Gemini.APIKey)
	}
	if cfg.Gemini.BaseURL != "http://127.0.0.1:9999" {
		t.Errorf("Expected base url override, got %s", cfg.Gemini.BaseURL)
	}
	if cfg.HTTP.Port != 3001 {
		t.Errorf("Empty PORT must not override, got %d", cfg.HTTP.Port)
	}

	env[EnvPort] = "eighty"
	if err := cfg.ApplyEnv(lookup); err == nil {
		t.Error("Expected error for non-numeric PORT")
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := validConfig()

	if cfg.HTTP.GetShutdownTimeoutDuration() != 10*time.Second {
		t.Errorf("Expected 10 seconds, got %v", cfg.HTTP.GetShutdownTimeoutDuration())
	}
	if cfg.HTTP.GetReadTimeoutDuration() != 30*time.Second {
		t.Errorf("Expected 30 seconds, got %v", cfg.HTTP.GetReadTimeoutDuration())
	}
	if cfg.HTTP.GetWriteTimeoutDuration() != 120*time.Second {
		t.Errorf("Expected 120 seconds, got %v", cfg.HTTP.GetWriteTimeoutDuration())
	}
	if cfg.RateLimit.GetWindowDuration() != time.Minute {
		t.Errorf("Expected 1 minute, got %v", cfg.RateLimit.GetWindowDuration())
	}
	if cfg.Gemini.GetTimeoutDuration() != 90*time.Second {
		t.Errorf("Expected 90 seconds, got %v", cfg.Gemini.GetTimeoutDuration())
	}
	if cfg.HTTP.Addr() != "0.0.0.0:3001" {
		t.Errorf("Expected 0.0.0.0:3001, got %s", cfg.HTTP.Addr())
	}
}

func TestLoggingConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		config LoggingConfig
		valid  bool
	}{
		{
			name:   "valid json to stdout",
			config: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
			valid:  true,
		},
		{
			name:   "valid text to file",
			config: LoggingConfig{Level: "debug", Format: "text", Output: "/var/log/relay.log"},
			valid:  true,
		},
		{
			name:   "invalid log level",
			config: LoggingConfig{Level: "trace", Format: "json", Output: "stdout"},
			valid:  false,
		},
		{
			name:   "invalid format",
			config: LoggingConfig{Level: "info", Format: "xml", Output: "stdout"},
			valid:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.valid && err != nil {
				t.Errorf("Expected valid config but got error: %v", err)
			}
			if !tt.valid && err == nil {
				t.Errorf("Expected invalid config but got no error")
			}
		})
	}
}

func TestExampleConfigMatchesDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvAPIKey, "test-key")

	cfg, err := Load(filepath.Join("..", "..", "configs", "config.yaml"))
	if err != nil {
		t.Fatalf("Expected example config to load, got %v", err)
	}

	if *cfg != *validConfig() {
		t.Errorf("Expected example config to match defaults, got %+v", *cfg)
	}
}
