package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	HTTP        HTTPConfig        `yaml:"http"`
	Audio       AudioConfig       `yaml:"audio"`
	VAD         VADConfig         `yaml:"vad"`
	Policy      PolicyConfig      `yaml:"policy"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ServerConfig contains the WebSocket data server configuration
type ServerConfig struct {
	DataPort       int    `yaml:"data_port"`
	BindAddress    string `yaml:"bind_address"`
	MaxMessageSize int64  `yaml:"max_message_size"` // bytes, per websocket message
	MaxSessions    int    `yaml:"max_sessions"`
	PingInterval   int    `yaml:"ping_interval"`   // seconds
	SessionTimeout int    `yaml:"session_timeout"` // seconds of inactivity
}

// HTTPConfig contains the monitoring HTTP API configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// AudioConfig contains audio format and utterance assembly parameters
type AudioConfig struct {
	SampleRate           int     `yaml:"sample_rate"`
	Channels             int     `yaml:"channels"`
	BitDepth             int     `yaml:"bit_depth"`
	MinUtteranceDuration float64 `yaml:"min_utterance_duration"` // seconds
	MaxUtteranceDuration float64 `yaml:"max_utterance_duration"` // seconds
	SilenceDuration      float64 `yaml:"silence_duration"`       // seconds of silence that ends an utterance
}

// VADConfig contains voice activity detection configuration
type VADConfig struct {
	Threshold  float32 `yaml:"threshold"`
	WindowSize int     `yaml:"window_size"` // samples
}

// PolicyConfig contains the frame verification and rejection policy.
// It is read once at startup; the running service never mutates it.
type PolicyConfig struct {
	VerifyDataIntegrity bool   `yaml:"verify_data_integrity"`
	RejectCorruptedData bool   `yaml:"reject_corrupted_data"`
	CorruptionThreshold uint32 `yaml:"corruption_threshold"`
	ExtendedLogging     bool   `yaml:"extended_logging"`
}

// RecognitionConfig contains the speech recognition API configuration
type RecognitionConfig struct {
	Endpoint      string `yaml:"endpoint"`
	APIKey        string `yaml:"api_key"`
	Language      string `yaml:"language"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxRetries    int    `yaml:"max_retries"`
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// LoggingConfig contains logging configuration. The rotation fields only
// apply when output names a file path.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
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
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.VAD.Validate(); err != nil {
		return fmt.Errorf("vad config: %w", err)
	}

	if err := c.Recognition.Validate(); err != nil {
		return fmt.Errorf("recognition config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.DataPort < 1 || s.DataPort > 65535 {
		return fmt.Errorf("data_port must be between 1 and 65535, got %d", s.DataPort)
	}

	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if s.MaxMessageSize < 1024 {
		return fmt.Errorf("max_message_size must be at least 1024 bytes, got %d", s.MaxMessageSize)
	}

	if s.MaxSessions < 1 {
		return fmt.Errorf("max_sessions must be at least 1, got %d", s.MaxSessions)
	}

	if s.PingInterval < 1 {
		return fmt.Errorf("ping_interval must be at least 1 second, got %d", s.PingInterval)
	}

	if s.SessionTimeout < 1 {
		return fmt.Errorf("session_timeout must be at least 1 second, got %d", s.SessionTimeout)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	validRates := map[int]bool{8000: true, 16000: true, 22050: true, 44100: true, 48000: true}
	if !validRates[a.SampleRate] {
		return fmt.Errorf("sample_rate must be one of [8000, 16000, 22050, 44100, 48000], got %d", a.SampleRate)
	}

	if a.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono), got %d", a.Channels)
	}

	if a.BitDepth != 16 {
		return fmt.Errorf("bit_depth must be 16, got %d", a.BitDepth)
	}

	if a.MinUtteranceDuration <= 0 {
		return fmt.Errorf("min_utterance_duration must be positive, got %f", a.MinUtteranceDuration)
	}

	if a.MaxUtteranceDuration <= a.MinUtteranceDuration {
		return fmt.Errorf("max_utterance_duration (%f) must be greater than min_utterance_duration (%f)",
			a.MaxUtteranceDuration, a.MinUtteranceDuration)
	}

	if a.SilenceDuration <= 0 {
		return fmt.Errorf("silence_duration must be positive, got %f", a.SilenceDuration)
	}

	return nil
}

// Validate validates VAD configuration
func (v *VADConfig) Validate() error {
	if v.Threshold < 0 || v.Threshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1, got %f", v.Threshold)
	}

	if v.WindowSize < 256 || v.WindowSize > 4096 {
		return fmt.Errorf("window_size must be between 256 and 4096 samples, got %d", v.WindowSize)
	}

	return nil
}

// Validate validates recognition configuration
func (r *RecognitionConfig) Validate() error {
	if r.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if r.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty")
	}

	if r.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", r.Timeout)
	}

	if r.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", r.MaxRetries)
	}

	if r.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", r.MaxConcurrent)
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

	// Output accepts stdout, stderr, or any file path.
	if l.Output == "" {
		return fmt.Errorf("output cannot be empty")
	}

	if l.MaxSizeMB < 0 || l.MaxBackups < 0 || l.MaxAgeDays < 0 {
		return fmt.Errorf("log rotation values cannot be negative")
	}

	return nil
}

// GetPingIntervalDuration returns the websocket ping interval as a time.Duration
func (s *ServerConfig) GetPingIntervalDuration() time.Duration {
	return time.Duration(s.PingInterval) * time.Second
}

// GetSessionTimeoutDuration returns the idle session timeout as a time.Duration
func (s *ServerConfig) GetSessionTimeoutDuration() time.Duration {
	return time.Duration(s.SessionTimeout) * time.Second
}

// GetMinUtteranceDuration returns the minimum utterance duration as a time.Duration
func (a *AudioConfig) GetMinUtteranceDuration() time.Duration {
	return time.Duration(a.MinUtteranceDuration * float64(time.Second))
}

// GetMaxUtteranceDuration returns the maximum utterance duration as a time.Duration
func (a *AudioConfig) GetMaxUtteranceDuration() time.Duration {
	return time.Duration(a.MaxUtteranceDuration * float64(time.Second))
}

// GetSilenceDuration returns the utterance-ending silence duration as a time.Duration
func (a *AudioConfig) GetSilenceDuration() time.Duration {
	return time.Duration(a.SilenceDuration * float64(time.Second))
}

// GetTimeoutDuration returns the recognition request timeout as a time.Duration
func (r *RecognitionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(r.Timeout) * time.Second
}
