// Package config provides the configuration schema, loader, and file watcher
// for the fluentstream transcoding pipeline.
package config

import (
	"log/slog"

	"github.com/Dirold2/fluent-streamer-sub000/pkg/audio"
)

// LogLevel controls log verbosity for the fluentstream CLI.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level converts l to the corresponding [slog.Level]. Unrecognised values
// map to [slog.LevelInfo].
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure for fluentstream.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Engine  EngineConfig  `yaml:"engine"`
	Audio   AudioConfig   `yaml:"audio"`
	Effects []EffectEntry `yaml:"effects"`
}

// ServerConfig holds logging and observability settings for the CLI.
type ServerConfig struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsAddr is the listen address for the Prometheus metrics and
	// health endpoint (e.g., ":9091"). Empty disables the endpoint.
	MetricsAddr string `yaml:"metrics_addr"`
}

// EngineConfig describes the external transcoding process and how its
// lifecycle is supervised.
type EngineConfig struct {
	// Binary is the transcoder executable, resolved via PATH when not an
	// absolute path.
	Binary string `yaml:"binary"`

	// ExtraArgs are inserted before per-run arguments on every invocation.
	// Typical use is global flags such as -hide_banner.
	ExtraArgs []string `yaml:"extra_args"`

	// TimeoutMs bounds the total runtime of one process, in milliseconds.
	// Zero means no deadline.
	TimeoutMs int `yaml:"timeout_ms"`

	// KillGraceMs is how long to wait after the interrupt signal before
	// escalating to a hard kill, in milliseconds.
	KillGraceMs int `yaml:"kill_grace_ms"`

	// StderrTailBytes caps how much trailing stderr output is retained for
	// error reports.
	StderrTailBytes int `yaml:"stderr_tail_bytes"`

	// Progress enables key=value progress scraping from the transcoder.
	Progress bool `yaml:"progress"`
}

// AudioConfig describes the PCM stream the transcoder is asked to produce.
type AudioConfig struct {
	// SampleRate in Hz (e.g., 48000).
	SampleRate int `yaml:"sample_rate"`

	// Channels is the interleaved channel count: 1 for mono, 2 for stereo.
	Channels int `yaml:"channels"`

	// TrailingSilenceMs is how much silence to append after the stream
	// ends, in milliseconds. Zero disables the trailer.
	TrailingSilenceMs int `yaml:"trailing_silence_ms"`

	// IdleDrainMs is how long buffered output may sit unread before it is
	// dropped to unblock the producer, in milliseconds. Zero disables
	// draining.
	IdleDrainMs int `yaml:"idle_drain_ms"`
}

// EffectEntry configures one stage of the effect chain. Stages apply in the
// order they appear in the config file.
type EffectEntry struct {
	// Plugin selects the registered effect plugin (e.g., "effector", "gain").
	Plugin string `yaml:"plugin"`

	// Options holds plugin-specific settings not covered by the schema,
	// such as volume, bass, treble, or compressor. Values may be strings,
	// numbers, or booleans; keys are interpreted by the plugin itself.
	Options map[string]any `yaml:"options"`
}

// Format returns the PCM format described by the audio section.
func (c *Config) Format() audio.Format {
	return audio.Format{SampleRate: c.Audio.SampleRate, Channels: c.Audio.Channels}
}

// Default returns a Config populated with working defaults: an ffmpeg
// engine producing 48kHz stereo PCM, progress scraping on, a 3s kill
// grace, and no effect stages. Loading a file overlays the file's values
// on top of these.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			LogLevel: LogInfo,
		},
		Engine: EngineConfig{
			Binary:          "ffmpeg",
			KillGraceMs:     3000,
			StderrTailBytes: 4096,
			Progress:        true,
		},
		Audio: AudioConfig{
			SampleRate:        48000,
			Channels:          2,
			TrailingSilenceMs: 100,
			IdleDrainMs:       500,
		},
	}
}
