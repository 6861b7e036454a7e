package chain_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/Dirold2/fluent-streamer-sub000/pkg/audio"
	"github.com/Dirold2/fluent-streamer-sub000/pkg/audio/chain"
	"github.com/Dirold2/fluent-streamer-sub000/pkg/audio/effects"
)

// ─────────────────────────────────────────────────────────────────────────────
// helpers
// ─────────────────────────────────────────────────────────────────────────────

var stereo = audio.Format{SampleRate: 48000, Channels: 2}

func newChain(t *testing.T, units ...effects.Unit) *chain.Chain {
	t.Helper()
	c, err := chain.New(stereo, units...)
	if err != nil {
		t.Fatalf("chain.New: %v", err)
	}
	return c
}

func newGain(t *testing.T, volume float64) *effects.Gain {
	t.Helper()
	g, err := effects.NewGain(volume)
	if err != nil {
		t.Fatalf("NewGain: %v", err)
	}
	return g
}

func newTone(t *testing.T, params effects.Parameters) *effects.Effector {
	t.Helper()
	e, err := effects.NewEffector(stereo, params)
	if err != nil {
		t.Fatalf("NewEffector: %v", err)
	}
	return e
}

// pcmBytes encodes samples as little-endian 16-bit PCM.
func pcmBytes(samples ...int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// rampPCM builds count stereo frames of a deterministic, non-trivial signal.
func rampPCM(count int) []byte {
	samples := make([]int16, 0, count*2)
	for i := 0; i < count; i++ {
		samples = append(samples, int16(900*i%20000), int16(-(700*i)%15000))
	}
	return pcmBytes(samples...)
}

// ─────────────────────────────────────────────────────────────────────────────
// chain
// ─────────────────────────────────────────────────────────────────────────────

// TestChain_BypassReturnsInputSlice verifies the idle fast path: the exact
// input slice comes back, no copy, no mutation.
func TestChain_BypassReturnsInputSlice(t *testing.T) {
	c := newChain(t, newGain(t, 1))
	in := pcmBytes(100, -100, 2000, 3)
	out := c.Process(in)
	if len(out) != len(in) || &out[0] != &in[0] {
		t.Fatal("idle chain did not return the input slice unchanged")
	}
	if !c.Idle() {
		t.Error("chain with idle units not reporting Idle")
	}
}

// TestChain_ResidualCarry feeds partial frames and checks that only whole
// frames come out, with the remainder surfacing on the next call.
func TestChain_ResidualCarry(t *testing.T) {
	c := newChain(t, newGain(t, 0.5))
	in := pcmBytes(1000, 2000, 3000) // a frame and a half

	out := c.Process(in)
	want := pcmBytes(500, 1000)
	if !bytes.Equal(out, want) {
		t.Fatalf("first chunk = %v, want %v", out, want)
	}

	out = c.Process(pcmBytes(4000)) // completes the split frame
	want = pcmBytes(1500, 2000)
	if !bytes.Equal(out, want) {
		t.Fatalf("second chunk = %v, want %v", out, want)
	}

	if tail := c.Flush(); tail != nil {
		t.Errorf("Flush with aligned stream = %v, want nil", tail)
	}
}

// TestChain_FlushZeroPads checks that a dangling partial frame is padded to
// a whole frame and processed at end of stream.
func TestChain_FlushZeroPads(t *testing.T) {
	c := newChain(t, newGain(t, 0.5))
	out := c.Process(pcmBytes(1000)) // half a stereo frame
	if len(out) != 0 {
		t.Fatalf("partial frame produced %d bytes, want 0", len(out))
	}
	tail := c.Flush()
	want := pcmBytes(500, 0)
	if !bytes.Equal(tail, want) {
		t.Fatalf("Flush = %v, want %v", tail, want)
	}
	if again := c.Flush(); again != nil {
		t.Errorf("second Flush = %v, want nil", again)
	}
}

// TestChain_SplitInvariance is the core alignment property: processing the
// same stream through a stateful chain must give identical bytes no matter
// how the stream is sliced into chunks.
func TestChain_SplitInvariance(t *testing.T) {
	params := effects.Parameters{Volume: 0.8, Bass: 0.5, Treble: -0.3, Compressor: true}
	stream := rampPCM(64)

	oneShot := newChain(t, newTone(t, params))
	var whole []byte
	whole = append(whole, oneShot.Process(append([]byte(nil), stream...))...)
	whole = append(whole, oneShot.Flush()...)

	split := newChain(t, newTone(t, params))
	var pieces []byte
	sizes := []int{1, 2, 3, 5, 7, 11, 13}
	for off, i := 0, 0; off < len(stream); i++ {
		n := sizes[i%len(sizes)]
		if off+n > len(stream) {
			n = len(stream) - off
		}
		chunk := append([]byte(nil), stream[off:off+n]...)
		pieces = append(pieces, split.Process(chunk)...)
		off += n
	}
	pieces = append(pieces, split.Flush()...)

	if !bytes.Equal(whole, pieces) {
		t.Fatal("chunk boundaries changed the processed audio")
	}
}

// TestChain_MidStreamActivation lets a unit go active while the bypass path
// sits mid-frame: the rest of that frame must pass raw, processing starts
// on the next frame boundary, and channel alignment is preserved.
func TestChain_MidStreamActivation(t *testing.T) {
	g := newGain(t, 1)
	c := newChain(t, g)

	// Bypass 6 bytes: one whole frame plus half a frame in flight.
	first := pcmBytes(1000, 2000, 3000)
	if out := c.Process(first); &out[0] != &first[0] {
		t.Fatal("expected bypass for idle chain")
	}

	if err := g.SetVolume(0.5); err != nil {
		t.Fatalf("SetVolume: %v", err)
	}

	// 3000 started a frame; its right channel arrives now and must stay
	// raw. The following frame is the first processed one.
	second := pcmBytes(4000, 5000, 6000)
	out := c.Process(second)
	want := pcmBytes(4000, 2500, 3000)
	if !bytes.Equal(out, want) {
		t.Fatalf("post-activation chunk = %v, want %v", out, want)
	}
}

// TestChain_EmptyChainBypasses verifies a chain with no units stays on the
// zero-copy path.
func TestChain_EmptyChainBypasses(t *testing.T) {
	c := newChain(t)
	in := pcmBytes(1, 2, 3, 4)
	if out := c.Process(in); &out[0] != &in[0] {
		t.Fatal("empty chain did not pass input through")
	}
}

// TestChain_ResetClearsResidual checks Reset drops carried bytes and filter
// memory so a new stream starts clean.
func TestChain_ResetClearsResidual(t *testing.T) {
	c := newChain(t, newGain(t, 0.5))
	c.Process(pcmBytes(1000)) // leaves half a frame behind
	c.Reset()
	if tail := c.Flush(); tail != nil {
		t.Errorf("Flush after Reset = %v, want nil", tail)
	}
}

func TestChain_DestroyedPassesThrough(t *testing.T) {
	c := newChain(t, newGain(t, 0.5))
	c.Destroy()
	if !c.Destroyed() {
		t.Fatal("Destroyed = false after Destroy")
	}
	in := pcmBytes(1000, 2000)
	if out := c.Process(in); &out[0] != &in[0] {
		t.Error("destroyed chain still processing audio")
	}
	c.Destroy() // idempotent
}

// ─────────────────────────────────────────────────────────────────────────────
// coordinator
// ─────────────────────────────────────────────────────────────────────────────

// TestCoordinator_ParameterSync: swapping to a chain of the same shape must
// not replace anything — the live units adopt the new parameters and the
// done channel is already closed.
func TestCoordinator_ParameterSync(t *testing.T) {
	live := newTone(t, effects.Parameters{Volume: 1, Bass: 0.5})
	current := newChain(t, live)
	co := chain.NewCoordinator(current)

	next := newChain(t, newTone(t, effects.Parameters{Volume: 0.4, Treble: 0.3}))
	done, err := co.Swap(next, chain.SwapSoft)
	if err != nil {
		t.Fatalf("Swap: %v", err)
	}
	select {
	case <-done:
	default:
		t.Fatal("parameter-sync swap did not return a closed channel")
	}

	if co.Current() != current {
		t.Error("parameter-sync swap replaced the chain")
	}
	got := live.Snapshot()
	want := effects.Parameters{Volume: 0.4, Treble: 0.3}
	if got != want {
		t.Errorf("live unit parameters = %+v, want %+v", got, want)
	}
	if !next.Destroyed() {
		t.Error("discarded replacement chain not destroyed")
	}
}

// TestCoordinator_SoftSwapOnChunk drives a structural soft swap: the switch
// must land on the next chunk boundary and no carried bytes may be lost.
func TestCoordinator_SoftSwapOnChunk(t *testing.T) {
	current := newChain(t, newGain(t, 0.5))
	co := chain.NewCoordinator(current, chain.WithSwapFallback(time.Minute))

	// Leave half a frame inside the old chain.
	if out := co.Process(pcmBytes(1000, 2000, 3000)); !bytes.Equal(out, pcmBytes(500, 1000)) {
		t.Fatalf("pre-swap chunk = %v", out)
	}

	next := newChain(t, newTone(t, effects.Parameters{Volume: 1, Bass: 0.5}))
	done, err := co.Swap(next, chain.SwapSoft)
	if err != nil {
		t.Fatalf("Swap: %v", err)
	}
	select {
	case <-done:
		t.Fatal("structural swap completed before any audio arrived")
	default:
	}

	// Old chain merges its residual with this chunk: 2+6 bytes = two whole
	// frames at half volume. The old chain ends aligned, so no tail.
	out := co.Process(pcmBytes(4000, 5000, 6000))
	want := pcmBytes(1500, 2000, 2500, 3000)
	if !bytes.Equal(out, want) {
		t.Fatalf("swap chunk = %v, want %v", out, want)
	}

	select {
	case <-done:
	default:
		t.Fatal("done not closed after the swap chunk")
	}
	if co.Current() != next {
		t.Error("audio not switched to the replacement chain")
	}
	if !current.Destroyed() {
		t.Error("old chain not destroyed after switch-over")
	}
}

// TestCoordinator_SoftSwapFlushesOldTail leaves the old chain misaligned at
// the swap chunk so its zero-padded tail must ride along in the output.
func TestCoordinator_SoftSwapFlushesOldTail(t *testing.T) {
	current := newChain(t, newGain(t, 0.5))
	co := chain.NewCoordinator(current, chain.WithSwapFallback(time.Minute))

	co.Process(pcmBytes(1000, 2000, 3000)) // residual: the 3000 sample

	next := newChain(t, newGain(t, 0.25))
	if _, err := co.Swap(next, chain.SwapSoft); err != nil {
		t.Fatalf("Swap: %v", err)
	}

	// Residual (3000) + chunk (4000, 5000) = one frame + half a frame left
	// inside the old chain, flushed zero-padded at the switch.
	out := co.Process(pcmBytes(4000, 5000))
	want := append(pcmBytes(1500, 2000), pcmBytes(2500, 0)...)
	if !bytes.Equal(out, want) {
		t.Fatalf("swap chunk = %v, want %v", out, want)
	}
}

// TestCoordinator_SoftSwapFallback parks the stream and waits: the swap has
// to complete on the timer and the old tail must reach the tail sink.
func TestCoordinator_SoftSwapFallback(t *testing.T) {
	tails := make(chan []byte, 1)
	current := newChain(t, newGain(t, 0.5))
	co := chain.NewCoordinator(current,
		chain.WithSwapFallback(5*time.Millisecond),
		chain.WithTailSink(func(b []byte) { tails <- b }),
	)

	co.Process(pcmBytes(1000)) // leave half a frame behind

	next := newChain(t, newGain(t, 0.25))
	done, err := co.Swap(next, chain.SwapSoft)
	if err != nil {
		t.Fatalf("Swap: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("fallback timer did not complete the swap")
	}
	if co.Current() != next {
		t.Error("audio not switched to the replacement chain")
	}

	select {
	case tail := <-tails:
		if want := pcmBytes(500, 0); !bytes.Equal(tail, want) {
			t.Errorf("fallback tail = %v, want %v", tail, want)
		}
	case <-time.After(time.Second):
		t.Fatal("old chain tail never reached the sink")
	}
}

// TestCoordinator_ConcurrentSwapRejected: a second swap while one is
// pending must fail with ErrSwapInProgress and leave the pending swap
// intact.
func TestCoordinator_ConcurrentSwapRejected(t *testing.T) {
	co := chain.NewCoordinator(newChain(t, newGain(t, 0.5)), chain.WithSwapFallback(time.Minute))

	first := newChain(t, newGain(t, 0.25))
	done, err := co.Swap(first, chain.SwapSoft)
	if err != nil {
		t.Fatalf("Swap: %v", err)
	}

	if _, err := co.Swap(newChain(t, newGain(t, 0.75)), chain.SwapSoft); !errors.Is(err, chain.ErrSwapInProgress) {
		t.Fatalf("second Swap = %v, want ErrSwapInProgress", err)
	}

	co.Process(pcmBytes(1000, 2000))
	select {
	case <-done:
	default:
		t.Fatal("pending swap broken by the rejected one")
	}
	if co.Current() != first {
		t.Error("pending swap did not complete")
	}
}

// TestCoordinator_HardSwap destroys the live chain in place: carried bytes
// are dropped and the replacement takes over immediately.
func TestCoordinator_HardSwap(t *testing.T) {
	current := newChain(t, newGain(t, 0.5))
	co := chain.NewCoordinator(current)
	co.Process(pcmBytes(1000)) // residual that must vanish

	next := newChain(t, newGain(t, 0.25))
	done, err := co.Swap(next, chain.SwapHard)
	if err != nil {
		t.Fatalf("Swap: %v", err)
	}
	select {
	case <-done:
	default:
		t.Fatal("hard swap did not return a closed channel")
	}
	if !current.Destroyed() {
		t.Error("hard swap left the old chain alive")
	}

	out := co.Process(pcmBytes(4000, 8000))
	want := pcmBytes(1000, 2000)
	if !bytes.Equal(out, want) {
		t.Errorf("post-hard-swap chunk = %v, want %v", out, want)
	}
}

// TestCoordinator_FlushCompletesPendingSwap ends the stream mid-swap: Flush
// must return the old chain's tail and install the replacement.
func TestCoordinator_FlushCompletesPendingSwap(t *testing.T) {
	current := newChain(t, newGain(t, 0.5))
	co := chain.NewCoordinator(current, chain.WithSwapFallback(time.Minute))
	co.Process(pcmBytes(1000))

	next := newChain(t, newGain(t, 0.25))
	done, err := co.Swap(next, chain.SwapSoft)
	if err != nil {
		t.Fatalf("Swap: %v", err)
	}

	tail := co.Flush()
	if want := pcmBytes(500, 0); !bytes.Equal(tail, want) {
		t.Errorf("Flush = %v, want %v", tail, want)
	}
	select {
	case <-done:
	default:
		t.Fatal("done not closed by Flush")
	}
	if co.Current() != next {
		t.Error("Flush did not install the replacement chain")
	}
}

// TestCoordinator_ResetAdoptsPendingChain: between runs a pending
// replacement simply becomes the active chain, old tail discarded.
func TestCoordinator_ResetAdoptsPendingChain(t *testing.T) {
	current := newChain(t, newGain(t, 0.5))
	co := chain.NewCoordinator(current, chain.WithSwapFallback(time.Minute))
	co.Process(pcmBytes(1000))

	next := newChain(t, newGain(t, 0.25))
	done, err := co.Swap(next, chain.SwapSoft)
	if err != nil {
		t.Fatalf("Swap: %v", err)
	}

	co.Reset()
	select {
	case <-done:
	default:
		t.Fatal("done not closed by Reset")
	}
	if co.Current() != next {
		t.Error("Reset did not adopt the pending chain")
	}
	if !current.Destroyed() {
		t.Error("Reset left the old chain alive")
	}
}
