package config_test

import (
	"slices"
	"strings"
	"testing"

	"github.com/Dirold2/fluent-streamer-sub000/internal/config"
)

func TestLoadFromReader_FullDocument(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: debug
  metrics_addr: ":9091"
engine:
  binary: /usr/local/bin/ffmpeg
  extra_args: ["-hide_banner", "-loglevel", "error"]
  timeout_ms: 60000
  kill_grace_ms: 2000
  stderr_tail_bytes: 8192
  progress: true
audio:
  sample_rate: 44100
  channels: 1
  trailing_silence_ms: 250
  idle_drain_ms: 1000
effects:
  - plugin: effector
    options:
      volume: 0.8
      bass: 5
      treble: -3
  - plugin: gain
    options:
      volume: 0.5
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("LogLevel = %q, want debug", cfg.Server.LogLevel)
	}
	if cfg.Server.MetricsAddr != ":9091" {
		t.Errorf("MetricsAddr = %q, want :9091", cfg.Server.MetricsAddr)
	}
	if cfg.Engine.Binary != "/usr/local/bin/ffmpeg" {
		t.Errorf("Binary = %q", cfg.Engine.Binary)
	}
	if got := cfg.Engine.ExtraArgs; !slices.Equal(got, []string{"-hide_banner", "-loglevel", "error"}) {
		t.Errorf("ExtraArgs = %v", got)
	}
	if cfg.Engine.TimeoutMs != 60000 || cfg.Engine.KillGraceMs != 2000 {
		t.Errorf("timeouts = %d/%d", cfg.Engine.TimeoutMs, cfg.Engine.KillGraceMs)
	}
	if f := cfg.Format(); f.SampleRate != 44100 || f.Channels != 1 {
		t.Errorf("Format = %v", f)
	}
	if len(cfg.Effects) != 2 {
		t.Fatalf("len(Effects) = %d, want 2", len(cfg.Effects))
	}
	if cfg.Effects[0].Plugin != "effector" || cfg.Effects[1].Plugin != "gain" {
		t.Errorf("plugins = %q, %q", cfg.Effects[0].Plugin, cfg.Effects[1].Plugin)
	}
}

func TestLoadFromReader_DefaultsApply(t *testing.T) {
	t.Parallel()
	// A minimal document should inherit every default.
	cfg, err := config.LoadFromReader(strings.NewReader(`server: {log_level: warn}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	def := config.Default()
	if cfg.Engine.Binary != def.Engine.Binary {
		t.Errorf("Binary = %q, want default %q", cfg.Engine.Binary, def.Engine.Binary)
	}
	if cfg.Engine.KillGraceMs != def.Engine.KillGraceMs {
		t.Errorf("KillGraceMs = %d, want default %d", cfg.Engine.KillGraceMs, def.Engine.KillGraceMs)
	}
	if !cfg.Engine.Progress {
		t.Error("Progress should default to true")
	}
	if cfg.Audio != def.Audio {
		t.Errorf("Audio = %+v, want default %+v", cfg.Audio, def.Audio)
	}
	// The explicit value must still win.
	if cfg.Server.LogLevel != config.LogWarn {
		t.Errorf("LogLevel = %q, want warn", cfg.Server.LogLevel)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	yaml := `
engine:
  binary: ffmpeg
  nice_level: 10
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
	if !strings.Contains(err.Error(), "nice_level") {
		t.Errorf("error should name the unknown field, got: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(`server: {log_level: verbose}`))
	if err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_NegativeTimings(t *testing.T) {
	t.Parallel()
	yaml := `
engine:
  timeout_ms: -1
  kill_grace_ms: -5
audio:
  idle_drain_ms: -100
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	for _, want := range []string{"timeout_ms", "kill_grace_ms", "idle_drain_ms"} {
		if !strings.Contains(errStr, want) {
			t.Errorf("error should mention %s, got: %v", want, err)
		}
	}
}

func TestValidate_BadAudioFormat(t *testing.T) {
	t.Parallel()
	yaml := `
audio:
  sample_rate: 48000
  channels: 6
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for 6-channel audio, got nil")
	}
	if !strings.Contains(err.Error(), "audio") {
		t.Errorf("error should mention audio, got: %v", err)
	}
}

func TestValidate_EffectPluginRequired(t *testing.T) {
	t.Parallel()
	yaml := `
effects:
  - options:
      volume: 0.5
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for missing plugin name, got nil")
	}
	if !strings.Contains(err.Error(), "effects[0].plugin") {
		t.Errorf("error should name the entry, got: %v", err)
	}
}

func TestValidate_VolumeOutOfRange(t *testing.T) {
	t.Parallel()
	yaml := `
effects:
  - plugin: gain
    options:
      volume: 1.5
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for volume > 1, got nil")
	}
	if !strings.Contains(err.Error(), "volume") {
		t.Errorf("error should mention volume, got: %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
engine:
  binary: ""
  timeout_ms: -3
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
	if !strings.Contains(errStr, "binary") {
		t.Errorf("error should mention binary, got: %v", err)
	}
	if !strings.Contains(errStr, "timeout_ms") {
		t.Errorf("error should mention timeout_ms, got: %v", err)
	}
}

func TestEffectSpecs(t *testing.T) {
	t.Parallel()
	yaml := `
effects:
  - plugin: effector
    options:
      volume: 0.7
      bass: 4
  - plugin: gain
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	specs := cfg.EffectSpecs()
	if len(specs) != 2 {
		t.Fatalf("len(specs) = %d, want 2", len(specs))
	}
	if specs[0].Name != "effector" || specs[1].Name != "gain" {
		t.Errorf("spec names = %q, %q", specs[0].Name, specs[1].Name)
	}
	if got := specs[0].Params.Float("volume", -1); got != 0.7 {
		t.Errorf("volume param = %v, want 0.7", got)
	}
	if specs[1].Params != nil {
		t.Errorf("gain params = %v, want nil", specs[1].Params)
	}

	if config.Default().EffectSpecs() != nil {
		t.Error("EffectSpecs on an empty section should be nil")
	}
}

func TestKnownPluginNames(t *testing.T) {
	t.Parallel()
	if len(config.KnownPluginNames) == 0 {
		t.Fatal("KnownPluginNames should not be empty")
	}
	if !slices.Contains(config.KnownPluginNames, "effector") {
		t.Error("KnownPluginNames should contain \"effector\"")
	}
}
