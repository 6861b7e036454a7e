package effects

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/antzucaro/matchr"

	"github.com/Dirold2/fluent-streamer-sub000/pkg/audio"
)

// ErrPluginNotRegistered is returned by [Registry.Resolve] when no factory
// has been registered under the requested plugin name.
var ErrPluginNotRegistered = errors.New("effects: plugin not registered")

// suggestionThreshold is the minimum Jaro-Winkler similarity between a
// misspelled plugin name and a registered one before the resolution error
// proposes it.
const suggestionThreshold = 0.8

// Params carries plugin-specific construction options, typically decoded
// from a YAML mapping. Lookups are forgiving about the numeric types YAML
// produces.
type Params map[string]any

// Float returns the value under key as a float64, or def when the key is
// absent or not numeric.
func (p Params) Float(key string, def float64) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return def
	}
}

// Bool returns the value under key as a bool, or def when the key is absent
// or not a bool.
func (p Params) Bool(key string, def bool) bool {
	if v, ok := p[key].(bool); ok {
		return v
	}
	return def
}

// PluginSpec names a plugin together with its construction options. A slice
// of specs describes a whole effect chain in processing order.
type PluginSpec struct {
	Name   string
	Params Params
}

// PluginError reports a failed plugin resolution. When a registered name is
// similar enough to the requested one, Suggestion carries it so callers can
// surface a "did you mean" hint.
type PluginError struct {
	Name       string
	Suggestion string
	Err        error
}

func (e *PluginError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("effects: plugin %q: %v (did you mean %q?)", e.Name, e.Err, e.Suggestion)
	}
	return fmt.Sprintf("effects: plugin %q: %v", e.Name, e.Err)
}

func (e *PluginError) Unwrap() error { return e.Err }

// Factory builds a [Unit] for the given stream format. Factories must
// validate their params and return an error rather than a half-configured
// unit.
type Factory func(format audio.Format, params Params) (Unit, error)

// Registry maps plugin names to their unit factories. It is safe for
// concurrent use. Registration is explicit: nothing is registered at init
// time, callers opt in via [Register] or [RegisterBuiltins].
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register registers factory under name. Subsequent calls with the same
// name overwrite the previous registration.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Resolve instantiates the plugin registered under spec.Name. An unknown
// name yields a [PluginError] wrapping [ErrPluginNotRegistered], with a
// spelling suggestion when a registered name is close enough.
func (r *Registry) Resolve(format audio.Format, spec PluginSpec) (Unit, error) {
	r.mu.RLock()
	factory, ok := r.factories[spec.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, &PluginError{
			Name:       spec.Name,
			Suggestion: r.suggest(spec.Name),
			Err:        ErrPluginNotRegistered,
		}
	}
	unit, err := factory(format, spec.Params)
	if err != nil {
		return nil, &PluginError{Name: spec.Name, Err: err}
	}
	return unit, nil
}

// ResolveAll instantiates every spec in order. The first failure aborts and
// nothing is returned, so a bad chain description never yields a partially
// built chain.
func (r *Registry) ResolveAll(format audio.Format, specs []PluginSpec) ([]Unit, error) {
	units := make([]Unit, 0, len(specs))
	for _, spec := range specs {
		unit, err := r.Resolve(format, spec)
		if err != nil {
			return nil, err
		}
		units = append(units, unit)
	}
	return units, nil
}

// Names returns the registered plugin names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// suggest returns the registered name most similar to name, or "" when none
// scores at least suggestionThreshold. longTolerance is passed as false to
// use standard Jaro-Winkler scoring.
func (r *Registry) suggest(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	best := ""
	bestScore := suggestionThreshold
	for candidate := range r.factories {
		if score := matchr.JaroWinkler(name, candidate, false); score >= bestScore {
			best = candidate
			bestScore = score
		}
	}
	return best
}

// RegisterBuiltins registers the effect units shipped with this module:
// "effector" (volume, fade, bass, treble, compressor) and "gain" (plain
// volume scaling).
func RegisterBuiltins(r *Registry) {
	r.Register(KindEffector, func(format audio.Format, params Params) (Unit, error) {
		p := Parameters{
			Volume:     params.Float("volume", 1),
			Bass:       NormalizeTone(params.Float("bass", 0)),
			Treble:     NormalizeTone(params.Float("treble", 0)),
			Compressor: params.Bool("compressor", false),
		}
		return NewEffector(format, p)
	})
	r.Register(KindGain, func(_ audio.Format, params Params) (Unit, error) {
		return NewGain(params.Float("volume", 1))
	})
}
