package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs. Log level and the
// effect chain can be applied to a live run; engine, audio, and metrics
// address changes only take effect on the next invocation.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// EffectsChanged is true when the effects section differs in any way:
	// stages added, removed, reordered, or their options edited.
	EffectsChanged bool

	EngineChanged      bool
	AudioChanged       bool
	MetricsAddrChanged bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Server.MetricsAddr != new.Server.MetricsAddr {
		d.MetricsAddrChanged = true
	}
	if !engineEqual(old.Engine, new.Engine) {
		d.EngineChanged = true
	}
	if old.Audio != new.Audio {
		d.AudioChanged = true
	}
	if !effectsEqual(old.Effects, new.Effects) {
		d.EffectsChanged = true
	}

	return d
}

// engineEqual compares two engine sections field by field.
func engineEqual(a, b EngineConfig) bool {
	return a.Binary == b.Binary &&
		slices.Equal(a.ExtraArgs, b.ExtraArgs) &&
		a.TimeoutMs == b.TimeoutMs &&
		a.KillGraceMs == b.KillGraceMs &&
		a.StderrTailBytes == b.StderrTailBytes &&
		a.Progress == b.Progress
}

// effectsEqual compares two effects sections in order. Options maps come
// from YAML and may nest, so they are compared deeply.
func effectsEqual(a, b []EffectEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Plugin != b[i].Plugin {
			return false
		}
		if !reflect.DeepEqual(a[i].Options, b[i].Options) {
			return false
		}
	}
	return true
}
