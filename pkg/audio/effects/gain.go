package effects

import (
	"sync"
)

// Gain is a minimal effect unit that scales samples by a constant volume.
// It carries no filter memory, which makes it a cheap building block for
// chains that only need attenuation.
type Gain struct {
	mu     sync.Mutex
	volume float64
}

var (
	_ Unit              = (*Gain)(nil)
	_ ParameterSyncable = (*Gain)(nil)
	_ VolumeSetter      = (*Gain)(nil)
)

// NewGain returns a Gain at the given volume in [0, 1].
func NewGain(volume float64) (*Gain, error) {
	if err := validateVolume(volume); err != nil {
		return nil, err
	}
	return &Gain{volume: volume}, nil
}

// Kind implements [Unit].
func (g *Gain) Kind() string { return KindGain }

// ProcessFrame implements [Unit].
func (g *Gain) ProcessFrame(frame []int16) {
	g.mu.Lock()
	volume := g.volume
	g.mu.Unlock()
	if volume == 1 {
		return
	}
	for ch := range frame {
		frame[ch] = clampSample(float64(frame[ch]) / sampleScale * volume)
	}
}

// SetVolume implements [VolumeSetter].
func (g *Gain) SetVolume(volume float64) error {
	if err := validateVolume(volume); err != nil {
		return err
	}
	g.mu.Lock()
	g.volume = volume
	g.mu.Unlock()
	return nil
}

// Snapshot implements [ParameterSyncable]. Only the volume field is
// meaningful for a Gain.
func (g *Gain) Snapshot() Parameters {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Parameters{Volume: g.volume}
}

// SyncParameters implements [ParameterSyncable].
func (g *Gain) SyncParameters(p Parameters) {
	g.mu.Lock()
	g.volume = clampFloat(p.Volume, 0, 1)
	g.mu.Unlock()
}

// Idle implements [Unit].
func (g *Gain) Idle() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.volume == 1
}

// Reset implements [Unit]. A Gain has no state to clear.
func (g *Gain) Reset() {}
