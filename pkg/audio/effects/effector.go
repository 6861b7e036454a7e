package effects

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/Dirold2/fluent-streamer-sub000/pkg/audio"
)

// Unit kinds of the built-in effects.
const (
	KindEffector = "effector"
	KindGain     = "gain"
)

const (
	sampleScale = 32768.0

	// Hard-threshold compression applied as the last stage when enabled.
	compressorThreshold = 0.8
	compressorRatio     = 4.0

	// Safety limiter engaged after the bass stages once the shelf gain
	// exceeds limiterEngageDb in either direction.
	limiterThreshold = 0.85
	limiterRatio     = 8.0
	limiterEngageDb  = 6.0

	bassMaxDb   = 18.0
	trebleMaxDb = 12.0

	bassStage1Hz   = 60.0
	bassStage2Hz   = 120.0
	trebleCornerHz = 4000.0

	bassStage1Weight = 0.7
	bassStage2Weight = 0.5

	// The blend stage recombines a variable-cutoff low-pass with the dry
	// signal. Its corner moves down as boost grows and up as cut grows,
	// and its Q widens with the shelf gain; the blend ratio follows Q.
	bassBlendBaseHz  = 150.0
	bassBlendHzPerDb = 4.0
	bassBlendBaseQ   = 0.707
	bassBlendQPerDb  = 0.02
	bassBlendQMin    = 0.3
	bassBlendQMax    = 1.3
	bassBlendMin     = 0.05
	bassBlendMax     = 0.85
)

// filterState holds the one-pole low-pass accumulators for a single
// channel. State persists across frames and chunks so the filters stay
// continuous no matter how the input stream is split.
type filterState struct {
	low60     float64
	low120    float64
	lowBlend  float64
	lowTreble float64
}

// bassCoeffs caches everything the bass path derives from the current bass
// setting, so per-sample work is adds and multiplies only.
type bassCoeffs struct {
	gainDb     float64
	alpha60    float64
	alpha120   float64
	alphaBlend float64
	gain60     float64
	gain120    float64
	blend      float64
	limit      bool
}

// trebleCoeffs caches the treble path derivation.
type trebleCoeffs struct {
	alpha float64
	gain  float64
}

// Effector is the full-featured effect unit: volume with sample-accurate
// linear fades, a three-stage bass shelf, a one-pole treble shelf and an
// optional hard-threshold compressor. It processes 16-bit interleaved PCM
// one frame at a time and keeps per-channel filter memory across calls.
//
// All methods are safe for concurrent use; controllers may adjust
// parameters while another goroutine is processing audio.
type Effector struct {
	format audio.Format

	mu       sync.Mutex
	params   Parameters
	fade     fadeEnvelope
	fadeDone chan struct{}
	bass     bassCoeffs
	treble   trebleCoeffs
	state    [2]filterState
}

var (
	_ Unit              = (*Effector)(nil)
	_ ParameterSyncable = (*Effector)(nil)
	_ VolumeSetter      = (*Effector)(nil)
	_ Fader             = (*Effector)(nil)
	_ ToneSetter        = (*Effector)(nil)
	_ CompressorSetter  = (*Effector)(nil)
)

// NewEffector returns an Effector for the given stream format. The initial
// parameters are validated; tone values are expected normalized to [-1, 1]
// as produced by [NormalizeTone].
func NewEffector(format audio.Format, params Parameters) (*Effector, error) {
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("effects: new effector: %w", err)
	}
	if err := validateVolume(params.Volume); err != nil {
		return nil, fmt.Errorf("effects: new effector: %w", err)
	}
	params.Bass = clampFloat(params.Bass, -1, 1)
	params.Treble = clampFloat(params.Treble, -1, 1)
	e := &Effector{format: format, params: params}
	e.rebuildBassLocked()
	e.rebuildTrebleLocked()
	return e, nil
}

// Kind implements [Unit].
func (e *Effector) Kind() string { return KindEffector }

// ProcessFrame implements [Unit]. frame holds one sample per channel and is
// rewritten in place.
func (e *Effector) ProcessFrame(frame []int16) {
	e.mu.Lock()
	e.processLocked(frame)
	e.mu.Unlock()
}

// ProcessSample processes a single stereo frame and returns the shaped
// samples. It is a convenience wrapper around [Effector.ProcessFrame].
func (e *Effector) ProcessSample(left, right int16) (int16, int16) {
	frame := [2]int16{left, right}
	e.mu.Lock()
	e.processLocked(frame[:])
	e.mu.Unlock()
	return frame[0], frame[1]
}

// processLocked runs the per-frame pipeline. Must be called with e.mu held.
func (e *Effector) processLocked(frame []int16) {
	volume := e.params.Volume
	if e.fade.active {
		v, done := e.fade.step()
		volume = v
		if done {
			e.params.Volume = e.fade.to
			e.closeFadeDoneLocked()
		}
	}

	bassOn := math.Abs(e.params.Bass) > toneEpsilon
	trebleOn := math.Abs(e.params.Treble) > toneEpsilon

	for ch := range frame {
		x := float64(frame[ch]) / sampleScale * volume
		if bassOn {
			x = e.bassSample(x, &e.state[ch])
		}
		if trebleOn {
			x = e.trebleSample(x, &e.state[ch])
		}
		if e.params.Compressor {
			x = compress(x, compressorThreshold, compressorRatio)
		}
		frame[ch] = clampSample(x)
	}
}

// bassSample runs one channel sample through the three bass stages: two
// fixed low-pass shelves at 60 and 120 Hz, a variable-cutoff blend stage,
// and the safety limiter when the shelf gain is large.
func (e *Effector) bassSample(x float64, st *filterState) float64 {
	c := &e.bass
	st.low60 += c.alpha60 * (x - st.low60)
	x += st.low60 * (c.gain60 - 1)
	st.low120 += c.alpha120 * (x - st.low120)
	x += st.low120 * (c.gain120 - 1)
	st.lowBlend += c.alphaBlend * (x - st.lowBlend)
	x += (st.lowBlend - x) * c.blend
	if c.limit {
		x = compress(x, limiterThreshold, limiterRatio)
	}
	return x
}

// trebleSample adds the scaled high-frequency residual of a one-pole
// low-pass at the treble corner.
func (e *Effector) trebleSample(x float64, st *filterState) float64 {
	st.lowTreble += e.treble.alpha * (x - st.lowTreble)
	return x + (x-st.lowTreble)*(e.treble.gain-1)
}

// SetVolume implements [VolumeSetter]. Any active fade is cancelled at its
// current level before the new volume takes effect.
func (e *Effector) SetVolume(volume float64) error {
	if err := validateVolume(volume); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelFadeLocked()
	e.params.Volume = volume
	return nil
}

// Fade implements [Fader]. The ramp starts from the current volume, which
// for an in-flight fade is the level it has reached so far.
func (e *Effector) Fade(target float64, duration time.Duration) (<-chan struct{}, error) {
	if err := validateVolume(target); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelFadeLocked()

	total := uint64(0)
	if duration > 0 {
		total = uint64(math.Ceil(duration.Seconds() * float64(e.format.SampleRate)))
	}
	if total == 0 {
		e.params.Volume = target
		done := make(chan struct{})
		close(done)
		return done, nil
	}

	done := make(chan struct{})
	e.fadeDone = done
	e.fade = fadeEnvelope{active: true, from: e.params.Volume, to: target, total: total}
	return done, nil
}

// SetBass implements [ToneSetter]. raw is in [-20, 20]; out-of-range values
// are clamped, not rejected.
func (e *Effector) SetBass(raw float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.params.Bass = NormalizeTone(raw)
	e.rebuildBassLocked()
}

// SetTreble implements [ToneSetter].
func (e *Effector) SetTreble(raw float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.params.Treble = NormalizeTone(raw)
	e.rebuildTrebleLocked()
}

// SetCompressor implements [CompressorSetter].
func (e *Effector) SetCompressor(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.params.Compressor = enabled
}

// Snapshot implements [ParameterSyncable]. During a fade the reported
// volume is the level the ramp currently stands at.
func (e *Effector) Snapshot() Parameters {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.params
	if e.fade.active {
		p.Volume = e.fade.value()
	}
	return p
}

// SyncParameters implements [ParameterSyncable]. It adopts the given
// parameters wholesale and cancels any active fade, but leaves filter
// memory untouched so audio stays continuous across a parameter sync.
func (e *Effector) SyncParameters(p Parameters) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelFadeLocked()
	p.Volume = clampFloat(p.Volume, 0, 1)
	p.Bass = clampFloat(p.Bass, -1, 1)
	p.Treble = clampFloat(p.Treble, -1, 1)
	e.params = p
	e.rebuildBassLocked()
	e.rebuildTrebleLocked()
}

// Idle implements [Unit]. The unit is transparent when volume is unity,
// both tone controls sit inside the epsilon dead-zone, the compressor is
// off and no fade is running.
func (e *Effector) Idle() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.params.Volume == 1 &&
		!e.fade.active &&
		math.Abs(e.params.Bass) <= toneEpsilon &&
		math.Abs(e.params.Treble) <= toneEpsilon &&
		!e.params.Compressor
}

// Reset implements [Unit]. Filter memory is cleared and any active fade is
// cancelled at its current level; configured parameters are kept.
func (e *Effector) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelFadeLocked()
	e.state = [2]filterState{}
}

// cancelFadeLocked stops an active fade, pinning the volume to the level
// the ramp has reached, and releases any completion waiter. Must be called
// with e.mu held.
func (e *Effector) cancelFadeLocked() {
	if !e.fade.active {
		return
	}
	e.params.Volume = e.fade.value()
	e.fade.active = false
	e.closeFadeDoneLocked()
}

// closeFadeDoneLocked signals fade completion exactly once. Must be called
// with e.mu held.
func (e *Effector) closeFadeDoneLocked() {
	if e.fadeDone != nil {
		close(e.fadeDone)
		e.fadeDone = nil
	}
}

// rebuildBassLocked derives the bass coefficients from the current
// normalized bass value. Must be called with e.mu held.
func (e *Effector) rebuildBassLocked() {
	b := e.params.Bass
	c := bassCoeffs{gain60: 1, gain120: 1}
	if math.Abs(b) > toneEpsilon {
		c.gainDb = toneGainDb(b, bassMaxDb)
		cutoff := bassBlendBaseHz - c.gainDb*bassBlendHzPerDb
		q := clampFloat(bassBlendBaseQ+c.gainDb*bassBlendQPerDb, bassBlendQMin, bassBlendQMax)
		c.alpha60 = onePoleAlpha(bassStage1Hz, e.format.SampleRate)
		c.alpha120 = onePoleAlpha(bassStage2Hz, e.format.SampleRate)
		c.alphaBlend = onePoleAlpha(cutoff, e.format.SampleRate)
		c.gain60 = dbToLinear(toneGainDb(b*bassStage1Weight, bassMaxDb))
		c.gain120 = dbToLinear(toneGainDb(b*bassStage2Weight, bassMaxDb))
		c.blend = clampFloat(1-1/(2*q), bassBlendMin, bassBlendMax)
		c.limit = math.Abs(c.gainDb) > limiterEngageDb
	}
	e.bass = c
}

// rebuildTrebleLocked derives the treble coefficients. Must be called with
// e.mu held.
func (e *Effector) rebuildTrebleLocked() {
	t := e.params.Treble
	c := trebleCoeffs{gain: 1}
	if math.Abs(t) > toneEpsilon {
		c.alpha = onePoleAlpha(trebleCornerHz, e.format.SampleRate)
		c.gain = dbToLinear(toneGainDb(t, trebleMaxDb))
	}
	e.treble = c
}

// toneGainDb maps a normalized tone value in [-1, 1] to decibels with a
// square-root law, so small knob movements act gently and the extremes
// reach maxDb.
func toneGainDb(v, maxDb float64) float64 {
	if v == 0 {
		return 0
	}
	return math.Copysign(math.Sqrt(math.Abs(v))*maxDb, v)
}

// dbToLinear converts decibels to a linear gain factor.
func dbToLinear(db float64) float64 {
	return math.Pow(10, db/20)
}

// onePoleAlpha returns the smoothing coefficient of a one-pole low-pass at
// the given cutoff, capped at 1 to stay stable at low sample rates.
func onePoleAlpha(cutoffHz float64, sampleRate int) float64 {
	a := 2 * math.Pi * cutoffHz / float64(sampleRate)
	if a > 1 {
		return 1
	}
	return a
}

// compress applies hard-threshold compression: samples below the threshold
// pass through, the excess above it is divided by the ratio.
func compress(x, threshold, ratio float64) float64 {
	ax := math.Abs(x)
	if ax <= threshold {
		return x
	}
	return math.Copysign(threshold+(ax-threshold)/ratio, x)
}

// clampSample converts a normalized float sample back to int16, rounding
// and saturating at the type bounds.
func clampSample(x float64) int16 {
	if x > 1 {
		x = 1
	} else if x < -1 {
		x = -1
	}
	v := math.Round(x * sampleScale)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
