package streamer

import (
	"log/slog"
	"time"

	"github.com/Dirold2/fluent-streamer-sub000/pkg/audio"
	"github.com/Dirold2/fluent-streamer-sub000/pkg/audio/effects"
)

const (
	defaultBinary      = "ffmpeg"
	defaultKillGrace   = 3 * time.Second
	defaultTailBytes   = 4 * 1024
	defaultSilence     = 100 * time.Millisecond
	defaultDrainWindow = 500 * time.Millisecond
	eventQueueDepth    = 64
)

// Option is a functional option for configuring a [Supervisor].
type Option func(*Supervisor)

// WithBinary sets the transcoder binary to spawn. Default: "ffmpeg",
// resolved through PATH.
func WithBinary(path string) Option {
	return func(s *Supervisor) {
		if path != "" {
			s.binary = path
		}
	}
}

// WithExtraArgs sets global tokens prepended to every invocation's
// arguments, e.g. "-hide_banner -loglevel info".
func WithExtraArgs(args ...string) Option {
	return func(s *Supervisor) {
		s.extraArgs = append([]string(nil), args...)
	}
}

// WithTimeout sets a wall-clock limit per run. When exceeded the process is
// killed and the run rejects with a [TimeoutError]. Zero (the default)
// disables the limit.
func WithTimeout(d time.Duration) Option {
	return func(s *Supervisor) { s.timeout = d }
}

// WithKillGrace sets how long a graceful stop waits for exit before
// escalating SIGTERM to SIGKILL, and how long a timeout kill waits before
// force-finalizing. Default: 3s.
func WithKillGrace(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.killGrace = d
		}
	}
}

// WithStderrTailSize caps the retained standard-error tail in bytes; the
// oldest bytes are dropped beyond the cap. Default: 4 KiB.
func WithStderrTailSize(n int) Option {
	return func(s *Supervisor) { s.tailBytes = n }
}

// WithProgress enables or disables progress scraping from standard error.
// Enabled by default; the stderr tail is captured either way.
func WithProgress(enabled bool) Option {
	return func(s *Supervisor) { s.progress = enabled }
}

// WithFormat sets the PCM format the process is expected to emit. Default:
// [audio.DefaultFormat].
func WithFormat(f audio.Format) Option {
	return func(s *Supervisor) { s.format = f }
}

// WithTrailingSilence sets how much silence is appended before the output
// ends. Zero disables the padding. Default: 100ms.
func WithTrailingSilence(d time.Duration) Option {
	return func(s *Supervisor) { s.silence = d }
}

// WithDrainWindow sets how long after the first produced chunk the output
// waits for a reader before discarding audio. Default: 500ms.
func WithDrainWindow(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.drainWindow = d
		}
	}
}

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(s *Supervisor) {
		if log != nil {
			s.log = log
		}
	}
}

// WithRegistry sets the plugin registry used to resolve effect descriptors
// in [Supervisor.UsePlugins] and [Supervisor.UpdatePlugins].
func WithRegistry(r *effects.Registry) Option {
	return func(s *Supervisor) { s.registry = r }
}
