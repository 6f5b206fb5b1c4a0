// Package config loads the server configuration from YAML with a .env
// overlay for secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full application configuration.
type Config struct {
	Server struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"server"`

	Storage struct {
		AudioDir string `yaml:"audio_dir"`
		TempDir  string `yaml:"temp_dir"`
		Database string `yaml:"database"`
	} `yaml:"storage"`

	Workers struct {
		Count int `yaml:"count"`
	} `yaml:"workers"`

	Audio struct {
		// MaxUploadMB bounds the request body on upload.
		MaxUploadMB int `yaml:"max_upload_mb"`
		// ChunkCeilingMB is the transcription provider's per-request size limit.
		ChunkCeilingMB int `yaml:"chunk_ceiling_mb"`
		// ChunkSeconds is the target maximum duration of one chunk.
		ChunkSeconds int `yaml:"chunk_seconds"`
		// RetentionDays is the audio retention window; derived text is kept.
		RetentionDays int `yaml:"retention_days"`
		// SweepHours is the retention sweep period.
		SweepHours int `yaml:"sweep_hours"`
	} `yaml:"audio"`

	Transcription struct {
		BaseURL        string `yaml:"base_url"`
		Model          string `yaml:"model"`
		Language       string `yaml:"language"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
		MaxRetries     int    `yaml:"max_retries"`
		FanOut         int    `yaml:"fan_out"`
		APIKey         string `yaml:"-"`
	} `yaml:"transcription"`

	LLM struct {
		Model          string `yaml:"model"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
		MaxRetries     int    `yaml:"max_retries"`
		// MaxInputChars is the input ceiling for refinement and
		// summarization; longer transcripts fail the stage.
		MaxInputChars int    `yaml:"max_input_chars"`
		APIKey        string `yaml:"-"`
	} `yaml:"llm"`

	Wiki struct {
		CredentialsFile string `yaml:"credentials_file"`
		TokenFile       string `yaml:"token_file"`
		FolderName      string `yaml:"folder_name"`
	} `yaml:"wiki"`

	Chat struct {
		Channel  string `yaml:"channel"`
		BotToken string `yaml:"-"`
	} `yaml:"chat"`
}

// Load reads the YAML file at path, applies defaults and overlays secrets
// from the environment (a .env file is honored when present).
func Load(path string) (*Config, error) {
	// Missing .env is fine; real environments set variables directly.
	_ = godotenv.Load()

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	cfg.Transcription.APIKey = os.Getenv("OPENAI_API_KEY")
	cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	cfg.Chat.BotToken = os.Getenv("DISCORD_BOT_TOKEN")

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Storage.AudioDir == "" {
		c.Storage.AudioDir = "data/audio"
	}
	if c.Storage.TempDir == "" {
		c.Storage.TempDir = "data/temp"
	}
	if c.Storage.Database == "" {
		c.Storage.Database = "data/meetings.db"
	}
	if c.Workers.Count <= 0 {
		c.Workers.Count = 4
	}
	if c.Audio.MaxUploadMB <= 0 {
		c.Audio.MaxUploadMB = 500
	}
	if c.Audio.ChunkCeilingMB <= 0 {
		c.Audio.ChunkCeilingMB = 25
	}
	if c.Audio.ChunkSeconds <= 0 {
		c.Audio.ChunkSeconds = 20 * 60
	}
	if c.Audio.RetentionDays <= 0 {
		c.Audio.RetentionDays = 90
	}
	if c.Audio.SweepHours <= 0 {
		c.Audio.SweepHours = 24
	}
	if c.Transcription.BaseURL == "" {
		c.Transcription.BaseURL = "https://api.openai.com/v1"
	}
	if c.Transcription.Model == "" {
		c.Transcription.Model = "gpt-4o-transcribe-diarize"
	}
	if c.Transcription.TimeoutSeconds <= 0 {
		c.Transcription.TimeoutSeconds = 300
	}
	if c.Transcription.MaxRetries <= 0 {
		c.Transcription.MaxRetries = 3
	}
	if c.Transcription.FanOut <= 0 {
		c.Transcription.FanOut = 3
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4o-mini"
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = 120
	}
	if c.LLM.MaxRetries <= 0 {
		c.LLM.MaxRetries = 3
	}
	if c.LLM.MaxInputChars <= 0 {
		c.LLM.MaxInputChars = 400_000
	}
	if c.Wiki.FolderName == "" {
		c.Wiki.FolderName = "Meeting Notes"
	}
}

// Retention returns the audio retention window as a duration.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Audio.RetentionDays) * 24 * time.Hour
}

// SweepPeriod returns the retention sweep period as a duration.
func (c *Config) SweepPeriod() time.Duration {
	return time.Duration(c.Audio.SweepHours) * time.Hour
}
