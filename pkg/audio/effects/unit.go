// Package effects implements the sample-accurate PCM processing units that
// run inside an effects chain: volume scaling with linear fades, bass and
// treble shelving, and hard-threshold compression. Units operate on
// interleaved 16-bit PCM one frame at a time and keep their own filter
// memory, so a unit can be driven with arbitrarily sized chunks without
// audible seams.
//
// Units are resolved by name through a [Registry]; nothing in this package
// holds process-global state.
package effects

import "time"

// Unit is one processing stage in an effects chain. Implementations mutate
// frames in place and must be safe for concurrent parameter mutation while
// frames are being processed: parameter changes take effect on the next
// processed frame.
type Unit interface {
	// Kind returns the registry name this unit was built under. Two units
	// are parameter-sync compatible only when their kinds match.
	Kind() string

	// ProcessFrame mutates one interleaved frame in place. len(frame) is
	// the channel count the unit was built with.
	ProcessFrame(frame []int16)

	// Idle reports whether the unit currently leaves audio bit-exact. A
	// chain skips all per-sample work when every unit is idle.
	Idle() bool

	// Reset clears filter memory and any active fade, returning the unit
	// to a just-built state. Parameters are kept.
	Reset()
}

// ParameterSyncable is the capability a unit opts into so a hot swap can
// copy parameters into it instead of replacing the stream. Syncing must
// leave filter memory untouched — that is the whole point: the live unit
// keeps its state and only the target values move.
type ParameterSyncable interface {
	// Snapshot returns the unit's current parameters.
	Snapshot() Parameters

	// SyncParameters adopts the given parameters, cancelling any active
	// fade, without disturbing filter memory.
	SyncParameters(Parameters)
}

// VolumeSetter is implemented by units with an adjustable output level.
type VolumeSetter interface {
	// SetVolume sets the output level in [0, 1].
	SetVolume(v float64) error
}

// Fader is implemented by units that can ramp volume sample-accurately.
type Fader interface {
	// Fade ramps the volume from its current value to target over d. The
	// returned channel closes exactly once, when the envelope deactivates
	// (on completion, or early if the fade is replaced or synced over).
	Fade(target float64, d time.Duration) (<-chan struct{}, error)
}

// ToneSetter is implemented by units with bass/treble shelving controls.
type ToneSetter interface {
	// SetBass sets the bass amount from a raw control value in [-20, 20];
	// out-of-range values are clamped.
	SetBass(raw float64)

	// SetTreble sets the treble amount from a raw control value in
	// [-20, 20]; out-of-range values are clamped.
	SetTreble(raw float64)
}

// CompressorSetter is implemented by units with a switchable compressor.
type CompressorSetter interface {
	SetCompressor(on bool)
}
