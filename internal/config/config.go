package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	HTTP          HTTPConfig          `yaml:"http"`
	Storage       StorageConfig       `yaml:"storage"`
	Audio         AudioConfig         `yaml:"audio"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Session       SessionConfig       `yaml:"session"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// HTTPConfig contains HTTP server configuration
type HTTPConfig struct {
	Port      int    `yaml:"port"`
	Address   string `yaml:"address"`
	StaticDir string `yaml:"static_dir"`
}

// StorageConfig contains module storage configuration
type StorageConfig struct {
	Root            string `yaml:"root"`
	MaxUploadSizeMB int    `yaml:"max_upload_size_mb"`
}

// AudioConfig contains canonical audio format and conversion parameters
type AudioConfig struct {
	SampleRate     int    `yaml:"sample_rate"`
	Channels       int    `yaml:"channels"`
	BitDepth       int    `yaml:"bit_depth"`
	FFmpegPath     string `yaml:"ffmpeg_path"`
	ConvertTimeout int    `yaml:"convert_timeout"` // seconds
}

// TranscriptionConfig contains transcription API configuration
type TranscriptionConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	Timeout  int    `yaml:"timeout"` // seconds
}

// PipelineConfig contains background processing pool configuration
type PipelineConfig struct {
	Workers     int `yaml:"workers"`
	QueueSize   int `yaml:"queue_size"`
	ItemTimeout int `yaml:"item_timeout"` // seconds, per normalization/transcription call
}

// SessionConfig contains session cookie and trainer credential configuration
type SessionConfig struct {
	Secret          string `yaml:"secret"`
	TTLHours        int    `yaml:"ttl_hours"`
	TrainerUsername string `yaml:"trainer_username"`
	TrainerPassword string `yaml:"trainer_password"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline config: %w", err)
	}

	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
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

	return nil
}

// Validate validates storage configuration
func (s *StorageConfig) Validate() error {
	if s.Root == "" {
		return fmt.Errorf("root cannot be empty")
	}

	if s.MaxUploadSizeMB < 1 {
		return fmt.Errorf("max_upload_size_mb must be at least 1, got %d", s.MaxUploadSizeMB)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate != 16000 {
		return fmt.Errorf("sample_rate must be 16000 Hz for the canonical format, got %d", a.SampleRate)
	}

	if a.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono) for the canonical format, got %d", a.Channels)
	}

	if a.BitDepth != 16 {
		return fmt.Errorf("bit_depth must be 16 for the canonical format, got %d", a.BitDepth)
	}

	if a.FFmpegPath == "" {
		return fmt.Errorf("ffmpeg_path cannot be empty")
	}

	if a.ConvertTimeout < 1 {
		return fmt.Errorf("convert_timeout must be at least 1 second, got %d", a.ConvertTimeout)
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	if t.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	return nil
}

// Validate validates pipeline configuration
func (p *PipelineConfig) Validate() error {
	if p.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", p.Workers)
	}

	if p.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", p.QueueSize)
	}

	if p.ItemTimeout < 1 {
		return fmt.Errorf("item_timeout must be at least 1 second, got %d", p.ItemTimeout)
	}

	return nil
}

// Validate validates session configuration
func (s *SessionConfig) Validate() error {
	if len(s.Secret) < 16 {
		return fmt.Errorf("secret must be at least 16 characters, got %d", len(s.Secret))
	}

	if s.TTLHours < 1 {
		return fmt.Errorf("ttl_hours must be at least 1, got %d", s.TTLHours)
	}

	if s.TrainerUsername == "" {
		return fmt.Errorf("trainer_username cannot be empty")
	}

	if s.TrainerPassword == "" {
		return fmt.Errorf("trainer_password cannot be empty")
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

	return nil
}

// GetConvertTimeoutDuration returns the conversion timeout as a time.Duration
func (a *AudioConfig) GetConvertTimeoutDuration() time.Duration {
	return time.Duration(a.ConvertTimeout) * time.Second
}

// GetTimeoutDuration returns the transcription timeout as a time.Duration
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetItemTimeoutDuration returns the per-item processing timeout as a time.Duration
func (p *PipelineConfig) GetItemTimeoutDuration() time.Duration {
	return time.Duration(p.ItemTimeout) * time.Second
}

// GetTTLDuration returns the session lifetime as a time.Duration
func (s *SessionConfig) GetTTLDuration() time.Duration {
	return time.Duration(s.TTLHours) * time.Hour
}

// MaxUploadBytes returns the upload size limit in bytes
func (s *StorageConfig) MaxUploadBytes() int64 {
	return int64(s.MaxUploadSizeMB) << 20
}
