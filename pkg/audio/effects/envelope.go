package effects

// fadeEnvelope ramps volume linearly over a fixed number of frames. The
// envelope is sample-accurate: each processed frame advances it by exactly
// one step, so the ramp length never depends on chunk sizes or wall-clock
// scheduling.
type fadeEnvelope struct {
	active    bool
	from      float64
	to        float64
	total     uint64
	completed uint64
}

// step returns the volume for the frame being processed and advances the
// envelope by one frame. done is true exactly once per fade, on the step
// that completes it; the caller then pins the unit volume to the target.
func (e *fadeEnvelope) step() (volume float64, done bool) {
	progress := float64(e.completed) / float64(e.total)
	volume = e.from + (e.to-e.from)*progress
	e.completed++
	if e.completed >= e.total {
		e.active = false
		return volume, true
	}
	return volume, false
}

// value returns the volume the envelope stands at without advancing it.
func (e *fadeEnvelope) value() float64 {
	progress := float64(e.completed) / float64(e.total)
	return e.from + (e.to-e.from)*progress
}
