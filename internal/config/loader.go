package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/Dirold2/fluent-streamer-sub000/pkg/audio/effects"
	"gopkg.in/yaml.v3"
)

// KnownPluginNames lists the effect plugins shipped with fluentstream.
// Used by [Validate] to warn about unrecognised plugin names before the
// chain is built; third-party plugins registered at runtime will still
// resolve.
var KnownPluginNames = []string{"effector", "gain"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Values absent from the document keep their [Default] settings. Useful in
// tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Engine
	if cfg.Engine.Binary == "" {
		errs = append(errs, errors.New("engine.binary is required"))
	}
	if cfg.Engine.TimeoutMs < 0 {
		errs = append(errs, fmt.Errorf("engine.timeout_ms %d is negative", cfg.Engine.TimeoutMs))
	}
	if cfg.Engine.KillGraceMs < 0 {
		errs = append(errs, fmt.Errorf("engine.kill_grace_ms %d is negative", cfg.Engine.KillGraceMs))
	}
	if cfg.Engine.StderrTailBytes < 0 {
		errs = append(errs, fmt.Errorf("engine.stderr_tail_bytes %d is negative", cfg.Engine.StderrTailBytes))
	}

	// Audio
	if err := cfg.Format().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("audio: %w", err))
	}
	if cfg.Audio.TrailingSilenceMs < 0 {
		errs = append(errs, fmt.Errorf("audio.trailing_silence_ms %d is negative", cfg.Audio.TrailingSilenceMs))
	}
	if cfg.Audio.IdleDrainMs < 0 {
		errs = append(errs, fmt.Errorf("audio.idle_drain_ms %d is negative", cfg.Audio.IdleDrainMs))
	}

	// Effects
	for i, e := range cfg.Effects {
		prefix := fmt.Sprintf("effects[%d]", i)
		if e.Plugin == "" {
			errs = append(errs, fmt.Errorf("%s.plugin is required", prefix))
			continue
		}
		validatePluginName(e.Plugin)

		opts := effects.Params(e.Options)
		if v := opts.Float("volume", 1); v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s.options.volume %.2f is out of range [0, 1]", prefix, v))
		}
		for _, key := range []string{"bass", "treble"} {
			if v := opts.Float(key, 0); v < -20 || v > 20 {
				slog.Warn("tone option exceeds the usable range and will be clamped",
					"entry", prefix,
					"option", key,
					"value", v,
					"range", "[-20, 20]",
				)
			}
		}
	}

	return errors.Join(errs...)
}

// EffectSpecs converts the effects section into plugin specs ready for
// [effects.Registry.ResolveAll], preserving file order.
func (c *Config) EffectSpecs() []effects.PluginSpec {
	if len(c.Effects) == 0 {
		return nil
	}
	specs := make([]effects.PluginSpec, len(c.Effects))
	for i, e := range c.Effects {
		specs[i] = effects.PluginSpec{Name: e.Plugin, Params: effects.Params(e.Options)}
	}
	return specs
}

// validatePluginName logs a warning if name is not in [KnownPluginNames].
func validatePluginName(name string) {
	if slices.Contains(KnownPluginNames, name) {
		return
	}
	slog.Warn("unknown effect plugin — may be a typo or a plugin registered at runtime",
		"name", name,
		"known", KnownPluginNames,
	)
}
