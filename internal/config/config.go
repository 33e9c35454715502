// Package config provides configuration loading and validation for the
// service: a JSON config file, environment overrides, and struct validation.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the service configuration. Values come from the JSON config
// file, with secrets overridable through the environment.
type Config struct {
	// Connections
	DatabaseURL  string `json:"database_url,omitempty"`
	APIKey       string `json:"api_key,omitempty"` // Gemini API key
	ListenAddr   string `json:"listen_addr,omitempty"`
	WebhookURL   string `json:"webhook_url,omitempty" validate:"omitempty,url"`
	WebhookToken string `json:"webhook_token,omitempty"`

	// Applicant material
	ProfilePath string `json:"profile_path,omitempty"`
	ArtifactDir string `json:"artifact_dir,omitempty"`

	Engine EngineConfig `json:"engine"`
}

// EngineConfig holds the deployment-tunable engine knobs.
type EngineConfig struct {
	// Concurrency bounds how many runs progress at once.
	Concurrency int `json:"concurrency,omitempty" validate:"min=1,max=64"`
	// PollIntervalSeconds is the scheduler cadence.
	PollIntervalSeconds int `json:"poll_interval_seconds,omitempty" validate:"min=1"`
	// MatchThreshold gates runs on the 0-100 match score.
	MatchThreshold float64 `json:"match_threshold,omitempty" validate:"gte=0,lte=100"`
	// MaxAttempts bounds retries per stage.
	MaxAttempts int `json:"max_attempts,omitempty" validate:"min=1,max=10"`
	// BackoffBaseSeconds is the first retry delay; each retry multiplies it
	// by four.
	BackoffBaseSeconds int `json:"backoff_base_seconds,omitempty" validate:"min=1"`
	// ChallengeAttempts bounds security challenge solves per run.
	ChallengeAttempts int `json:"challenge_attempts,omitempty" validate:"min=1,max=10"`
	// ApprovalDeadlineHours auto-expires unresolved approval checkpoints.
	// Zero means checkpoints never expire.
	ApprovalDeadlineHours int `json:"approval_deadline_hours,omitempty" validate:"min=0"`
	// MonitorIntervalMinutes is how often a submitted application is polled
	// for status changes.
	MonitorIntervalMinutes int `json:"monitor_interval_minutes,omitempty" validate:"min=1"`
	// BrowserSessions bounds concurrent headless browser sessions.
	BrowserSessions int `json:"browser_sessions,omitempty" validate:"min=1,max=16"`
	// LLMRequestsPerMinute throttles calls to the model provider across all
	// concurrent runs. Zero disables the throttle.
	LLMRequestsPerMinute int `json:"llm_requests_per_minute,omitempty" validate:"min=0,max=600"`
}

// Defaults returns the configuration used when the file sets nothing.
func Defaults() Config {
	return Config{
		ListenAddr:  ":8080",
		ArtifactDir: "artifacts",
		Engine: EngineConfig{
			Concurrency:            4,
			PollIntervalSeconds:    5,
			MatchThreshold:         60,
			MaxAttempts:            3,
			BackoffBaseSeconds:     1,
			ChallengeAttempts:      3,
			ApprovalDeadlineHours:  72,
			MonitorIntervalMinutes: 60,
			BrowserSessions:        2,
			LLMRequestsPerMinute:   30,
		},
	}
}

// Load reads the JSON config file (optional), applies defaults and
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if !filepath.IsAbs(path) {
			cwd, err := os.Getwd()
			if err != nil {
				return nil, fmt.Errorf("failed to get current directory: %w", err)
			}
			path = filepath.Join(cwd, path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv lets the environment override secrets and connection strings, so
// they can stay out of the config file.
func (c *Config) applyEnv() {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv("WEBHOOK_TOKEN"); v != "" {
		c.WebhookToken = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
}

// applyDefaults refills engine knobs a sparse config file zeroed out.
func (c *Config) applyDefaults() {
	defaults := Defaults()
	if c.ListenAddr == "" {
		c.ListenAddr = defaults.ListenAddr
	}
	if c.ArtifactDir == "" {
		c.ArtifactDir = defaults.ArtifactDir
	}

	e, d := &c.Engine, defaults.Engine
	if e.Concurrency == 0 {
		e.Concurrency = d.Concurrency
	}
	if e.PollIntervalSeconds == 0 {
		e.PollIntervalSeconds = d.PollIntervalSeconds
	}
	if e.MatchThreshold == 0 {
		e.MatchThreshold = d.MatchThreshold
	}
	if e.MaxAttempts == 0 {
		e.MaxAttempts = d.MaxAttempts
	}
	if e.BackoffBaseSeconds == 0 {
		e.BackoffBaseSeconds = d.BackoffBaseSeconds
	}
	if e.ChallengeAttempts == 0 {
		e.ChallengeAttempts = d.ChallengeAttempts
	}
	if e.MonitorIntervalMinutes == 0 {
		e.MonitorIntervalMinutes = d.MonitorIntervalMinutes
	}
	if e.BrowserSessions == 0 {
		e.BrowserSessions = d.BrowserSessions
	}
}

// Validate checks the configuration's value ranges.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// PollInterval returns the scheduler cadence as a duration.
func (e EngineConfig) PollInterval() time.Duration {
	return time.Duration(e.PollIntervalSeconds) * time.Second
}

// BackoffBase returns the first retry delay as a duration.
func (e EngineConfig) BackoffBase() time.Duration {
	return time.Duration(e.BackoffBaseSeconds) * time.Second
}

// ApprovalDeadline returns the checkpoint deadline, or zero when checkpoints
// never expire.
func (e EngineConfig) ApprovalDeadline() time.Duration {
	return time.Duration(e.ApprovalDeadlineHours) * time.Hour
}

// MonitorInterval returns the status polling cadence as a duration.
func (e EngineConfig) MonitorInterval() time.Duration {
	return time.Duration(e.MonitorIntervalMinutes) * time.Minute
}
