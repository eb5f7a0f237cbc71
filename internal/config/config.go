package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/skypro1111/handsfree-vad/internal/calibration"
	"github.com/skypro1111/handsfree-vad/internal/vad"
)

// Environment variables that override the configuration file
const (
	EnvBackendURL = "VADD_BACKEND_URL"
	EnvAPIKey     = "VADD_API_KEY"
	EnvLogLevel   = "VADD_LOG_LEVEL"
	EnvHTTPPort   = "VADD_HTTP_PORT"
)

// Capture source types
const (
	CaptureUDP        = "udp"
	CaptureFile       = "file"
	CaptureMicrophone = "microphone"
)

// Playback types
const (
	PlaybackSpool   = "spool"
	PlaybackDiscard = "discard"
	PlaybackCommand = "command"
)

// Config represents the complete daemon configuration
type Config struct {
	HTTP        HTTPConfig        `yaml:"http"`
	Capture     CaptureConfig     `yaml:"capture"`
	Audio       AudioConfig       `yaml:"audio"`
	VAD         VADConfig         `yaml:"vad"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Backend     BackendConfig     `yaml:"backend"`
	Playback    PlaybackConfig    `yaml:"playback"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// CaptureConfig selects and configures the audio source
type CaptureConfig struct {
	Type        string `yaml:"type"` // udp, file or microphone
	BindAddress string `yaml:"bind_address"`
	UDPPort     int    `yaml:"udp_port"`
	BufferSize  int    `yaml:"buffer_size"` // socket read buffer, bytes
	QueueSize   int    `yaml:"queue_size"`  // frames buffered towards the engine
	FilePath    string `yaml:"file_path"`
	Realtime    bool   `yaml:"realtime"` // pace file playback at capture speed
}

// AudioConfig contains the fixed pipeline format
type AudioConfig struct {
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`
	BitDepth   int `yaml:"bit_depth"`
	FrameSize  int `yaml:"frame_size"` // samples
}

// VADConfig contains feature extraction and speech gate parameters
type VADConfig struct {
	SilenceRMS     float64 `yaml:"silence_rms"`
	ClipThreshold  float64 `yaml:"clip_threshold"`
	MinPitchHz     float64 `yaml:"min_pitch_hz"`
	MaxPitchHz     float64 `yaml:"max_pitch_hz"`
	NoiseFactor    float64 `yaml:"noise_factor"`
	CeilingFactor  float64 `yaml:"ceiling_factor"`
	UnvoicedFactor float64 `yaml:"unvoiced_factor"`
	PitchTolerance float64 `yaml:"pitch_tolerance"`
	LoudFactor     float64 `yaml:"loud_factor"`
}

// CalibrationConfig contains calibration phase parameters
type CalibrationConfig struct {
	NoiseDuration float64 `yaml:"noise_duration"` // seconds
	VoiceDuration float64 `yaml:"voice_duration"` // seconds
	MinPitchHz    float64 `yaml:"min_pitch_hz"`
	MaxPitchHz    float64 `yaml:"max_pitch_hz"`
	ProfilePath   string  `yaml:"profile_path"` // optional
}

// BackendConfig contains the remote voice service configuration
type BackendConfig struct {
	URL           string `yaml:"url"`
	APIKey        string `yaml:"api_key"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxRetries    int    `yaml:"max_retries"`
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// PlaybackConfig selects what happens to synthesized reply audio
type PlaybackConfig struct {
	Type    string   `yaml:"type"` // spool, command or discard
	Dir     string   `yaml:"dir"`
	Command []string `yaml:"command"` // audio file path is appended
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the documented defaults
func Default() *Config {
	gate := vad.DefaultGateConfig()
	extractor := vad.DefaultExtractorConfig()
	cal := calibration.DefaultConfig()

	return &Config{
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "0.0.0.0",
			Enabled: true,
		},
		Capture: CaptureConfig{
			Type:        CaptureUDP,
			BindAddress: "0.0.0.0",
			UDPPort:     4444,
			BufferSize:  1 << 20,
			QueueSize:   64,
		},
		Audio: AudioConfig{
			SampleRate: 16000,
			Channels:   1,
			BitDepth:   16,
			FrameSize:  2048,
		},
		VAD: VADConfig{
			SilenceRMS:     extractor.SilenceRMS,
			ClipThreshold:  extractor.ClipThreshold,
			MinPitchHz:     extractor.MinPitchHz,
			MaxPitchHz:     extractor.MaxPitchHz,
			NoiseFactor:    gate.NoiseFactor,
			CeilingFactor:  gate.CeilingFactor,
			UnvoicedFactor: gate.UnvoicedFactor,
			PitchTolerance: gate.PitchTolerance,
			LoudFactor:     gate.LoudFactor,
		},
		Calibration: CalibrationConfig{
			NoiseDuration: cal.NoiseDuration.Seconds(),
			VoiceDuration: cal.VoiceDuration.Seconds(),
			MinPitchHz:    cal.MinPitchHz,
			MaxPitchHz:    cal.MaxPitchHz,
		},
		Backend: BackendConfig{
			URL:           "http://localhost:8000",
			Timeout:       30,
			MaxRetries:    2,
			MaxConcurrent: 1,
		},
		Playback: PlaybackConfig{
			Type: PlaybackDiscard,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Load reads the configuration file over the defaults, applies environment
// overrides and validates the result. An empty path yields the defaults.
func Load(path string) (*Config, error) {
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

	if err := config.ApplyEnv(); err != nil {
		return nil, fmt.Errorf("environment override failed: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// LoadDotEnv loads variables from the given .env files into the process
// environment. Missing files are skipped; existing variables win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}

	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides configuration values from the environment
func (c *Config) ApplyEnv() error {
	if v := os.Getenv(EnvBackendURL); v != "" {
		c.Backend.URL = v
	}

	if v := os.Getenv(EnvAPIKey); v != "" {
		c.Backend.APIKey = v
	}

	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}

	if v := os.Getenv(EnvHTTPPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s must be an integer, got '%s'", EnvHTTPPort, v)
		}
		c.HTTP.Port = port
	}

	return nil
}

// Redacted returns a copy safe to expose over the API
func (c *Config) Redacted() Config {
	out := *c
	if out.Backend.APIKey != "" {
		out.Backend.APIKey = "***"
	}
	return out
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.VAD.Validate(); err != nil {
		return fmt.Errorf("vad config: %w", err)
	}

	if err := c.Calibration.Validate(); err != nil {
		return fmt.Errorf("calibration config: %w", err)
	}

	if err := c.Backend.Validate(); err != nil {
		return fmt.Errorf("backend config: %w", err)
	}

	if err := c.Playback.Validate(); err != nil {
		return fmt.Errorf("playback config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
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

// Validate validates capture configuration
func (c *CaptureConfig) Validate() error {
	switch c.Type {
	case CaptureUDP:
		if c.UDPPort < 1 || c.UDPPort > 65535 {
			return fmt.Errorf("udp_port must be between 1 and 65535, got %d", c.UDPPort)
		}
		if c.BindAddress == "" {
			return fmt.Errorf("bind_address cannot be empty")
		}
		if c.BufferSize < 1024 {
			return fmt.Errorf("buffer_size must be at least 1024 bytes, got %d", c.BufferSize)
		}
	case CaptureFile:
		if c.FilePath == "" {
			return fmt.Errorf("file_path cannot be empty for file capture")
		}
	case CaptureMicrophone:
	default:
		return fmt.Errorf("type must be one of [udp, file, microphone], got '%s'", c.Type)
	}

	if c.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", c.QueueSize)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate != 16000 {
		return fmt.Errorf("sample_rate must be 16000 Hz, got %d", a.SampleRate)
	}

	if a.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono), got %d", a.Channels)
	}

	if a.BitDepth != 16 {
		return fmt.Errorf("bit_depth must be 16, got %d", a.BitDepth)
	}

	if a.FrameSize < 256 || a.FrameSize > 8192 {
		return fmt.Errorf("frame_size must be between 256 and 8192 samples, got %d", a.FrameSize)
	}

	return nil
}

// Validate validates VAD configuration
func (v *VADConfig) Validate() error {
	if v.SilenceRMS < 0 {
		return fmt.Errorf("silence_rms cannot be negative, got %f", v.SilenceRMS)
	}

	if v.ClipThreshold < 0 || v.ClipThreshold >= 1 {
		return fmt.Errorf("clip_threshold must be between 0 and 1 (exclusive), got %f", v.ClipThreshold)
	}

	if v.MinPitchHz <= 0 || v.MaxPitchHz <= v.MinPitchHz {
		return fmt.Errorf("pitch band [%f, %f] is invalid", v.MinPitchHz, v.MaxPitchHz)
	}

	return v.GateConfig().Validate()
}

// Validate validates calibration configuration
func (c *CalibrationConfig) Validate() error {
	if c.NoiseDuration <= 0 {
		return fmt.Errorf("noise_duration must be positive, got %f", c.NoiseDuration)
	}

	if c.VoiceDuration <= 0 {
		return fmt.Errorf("voice_duration must be positive, got %f", c.VoiceDuration)
	}

	if c.MinPitchHz < 0 || c.MaxPitchHz <= c.MinPitchHz {
		return fmt.Errorf("pitch band (%f, %f) is invalid", c.MinPitchHz, c.MaxPitchHz)
	}

	return nil
}

// Validate validates backend configuration
func (b *BackendConfig) Validate() error {
	if b.URL == "" {
		return fmt.Errorf("url cannot be empty")
	}

	if b.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", b.Timeout)
	}

	if b.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", b.MaxRetries)
	}

	if b.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", b.MaxConcurrent)
	}

	return nil
}

// Validate validates playback configuration
func (p *PlaybackConfig) Validate() error {
	switch p.Type {
	case PlaybackDiscard:
	case PlaybackSpool:
		if p.Dir == "" {
			return fmt.Errorf("dir cannot be empty for spool playback")
		}
	case PlaybackCommand:
		if len(p.Command) == 0 {
			return fmt.Errorf("command cannot be empty for command playback")
		}
	default:
		return fmt.Errorf("type must be 'spool', 'command' or 'discard', got '%s'", p.Type)
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

// ExtractorConfig converts the section into feature extraction parameters
func (v *VADConfig) ExtractorConfig(sampleRate int) vad.ExtractorConfig {
	return vad.ExtractorConfig{
		SampleRate:    sampleRate,
		SilenceRMS:    v.SilenceRMS,
		ClipThreshold: v.ClipThreshold,
		MinPitchHz:    v.MinPitchHz,
		MaxPitchHz:    v.MaxPitchHz,
	}
}

// GateConfig converts the section into speech gate thresholds
func (v *VADConfig) GateConfig() vad.GateConfig {
	return vad.GateConfig{
		NoiseFactor:    v.NoiseFactor,
		CeilingFactor:  v.CeilingFactor,
		UnvoicedFactor: v.UnvoicedFactor,
		PitchTolerance: v.PitchTolerance,
		LoudFactor:     v.LoudFactor,
	}
}

// ControllerConfig converts the section into calibration controller parameters
func (c *CalibrationConfig) ControllerConfig() calibration.Config {
	return calibration.Config{
		NoiseDuration: c.GetNoiseDuration(),
		VoiceDuration: c.GetVoiceDuration(),
		MinPitchHz:    c.MinPitchHz,
		MaxPitchHz:    c.MaxPitchHz,
	}
}

// GetNoiseDuration returns the noise phase length as a time.Duration
func (c *CalibrationConfig) GetNoiseDuration() time.Duration {
	return time.Duration(c.NoiseDuration * float64(time.Second))
}

// GetVoiceDuration returns the voice phase length as a time.Duration
func (c *CalibrationConfig) GetVoiceDuration() time.Duration {
	return time.Duration(c.VoiceDuration * float64(time.Second))
}

// GetTimeoutDuration returns the backend timeout as a time.Duration
func (b *BackendConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(b.Timeout) * time.Second
}
