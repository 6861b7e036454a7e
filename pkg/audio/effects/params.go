package effects

import "fmt"

const (
	// rawToneLimit is the magnitude of the raw bass/treble control range.
	// Raw values map onto [-1, 1] by division; anything beyond the limit
	// clamps to the nearest bound.
	rawToneLimit = 20.0

	// toneEpsilon is the threshold below which a normalized tone value is
	// treated as zero and its filter stage is skipped entirely.
	toneEpsilon = 1e-3
)

// Parameters is the externally visible state of a processing unit: output
// volume in [0, 1], normalized bass and treble in [-1, 1], and the
// compressor switch. Filter memory is deliberately not part of Parameters —
// it belongs to the unit and survives a parameter sync.
type Parameters struct {
	Volume     float64
	Bass       float64
	Treble     float64
	Compressor bool
}

// DefaultParameters returns the neutral parameter set: unity volume, flat
// tone, compressor off. A unit with these parameters is idle.
func DefaultParameters() Parameters {
	return Parameters{Volume: 1}
}

// NormalizeTone maps a raw tone control value in [-rawToneLimit,
// rawToneLimit] onto [-1, 1], clamping out-of-range input. Zero maps to
// exactly zero, the extremes map to exactly ±1.
func NormalizeTone(raw float64) float64 {
	v := raw / rawToneLimit
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

// validateVolume rejects volumes outside [0, 1].
func validateVolume(v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("effects: volume %.3f is out of range [0, 1]", v)
	}
	return nil
}
