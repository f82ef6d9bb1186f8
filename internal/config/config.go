// Package config loads agent configuration from an optional YAML file with
// AGENT_-prefixed environment overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Reasoning   ReasoningConfig   `koanf:"reasoning"`
	Engine      EngineConfig      `koanf:"engine"`
	Transcripts TranscriptsConfig `koanf:"transcripts"`
	Audit       AuditConfig       `koanf:"audit"`
	Tools       ToolsConfig       `koanf:"tools"`
	Mail        MailConfig        `koanf:"mail"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
	// Optional HTTP basic auth for the management surface. Enforced only
	// when both are set.
	AuthUsername string `koanf:"auth_username"`
	AuthPassword string `koanf:"auth_password"`
}

type ReasoningConfig struct {
	APIKey       string `koanf:"api_key"`
	Model        string `koanf:"model"`
	MaxTokens    int    `koanf:"max_tokens"`
	BaseURL      string `koanf:"base_url"`
	SystemPrompt string `koanf:"system_prompt"`
}

type EngineConfig struct {
	MaxRounds      int `koanf:"max_rounds"`
	RetryAttempts  int `koanf:"retry_attempts"`
	RetryBackoffMS int `koanf:"retry_backoff_ms"`
}

// RetryBackoff returns the backoff base as a duration.
func (e EngineConfig) RetryBackoff() time.Duration {
	return time.Duration(e.RetryBackoffMS) * time.Millisecond
}

type TranscriptsConfig struct {
	Dir string `koanf:"dir"`
}

type AuditConfig struct {
	Path string `koanf:"path"`
}

type ToolsConfig struct {
	WorkDir        string `koanf:"work_dir"`
	TimeoutSeconds int    `koanf:"timeout_seconds"`
	OutputLimit    int    `koanf:"output_limit"`
}

type MailConfig struct {
	Address           string   `koanf:"address"`
	Password          string   `koanf:"password"`
	IMAPHost          string   `koanf:"imap_host"`
	IMAPPort          int      `koanf:"imap_port"`
	SMTPHost          string   `koanf:"smtp_host"`
	SMTPPort          int      `koanf:"smtp_port"`
	AuthorizedSenders []string `koanf:"authorized_senders"`
	PollSeconds       int      `koanf:"poll_seconds"`
	ErrorBackoffSecs  int      `koanf:"error_backoff_seconds"`
}

// Load reads the YAML file at path (skipped when absent) and then applies
// AGENT_ environment overrides; AGENT_SERVER__PORT maps to server.port.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider("AGENT_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "AGENT_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("load env config: %w", err)
	}

	applyDefaults(k)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func applyDefaults(k *koanf.Koanf) {
	defaults := map[string]any{
		"server.port":                8000,
		"reasoning.model":            "claude-sonnet-4-5",
		"reasoning.max_tokens":       4096,
		"engine.max_rounds":          30,
		"engine.retry_attempts":      3,
		"engine.retry_backoff_ms":    500,
		"transcripts.dir":            "./data/transcripts",
		"audit.path":                 "./data/actions.db",
		"tools.timeout_seconds":      60,
		"tools.output_limit":         50000,
		"mail.imap_host":             "imap.gmail.com",
		"mail.imap_port":             993,
		"mail.smtp_host":             "smtp.gmail.com",
		"mail.smtp_port":             587,
		"mail.poll_seconds":          15,
		"mail.error_backoff_seconds": 30,
	}
	for key, val := range defaults {
		if !k.Exists(key) {
			k.Set(key, val)
		}
	}
}
