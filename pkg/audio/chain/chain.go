// Package chain assembles effect units into an ordered processing chain and
// coordinates live replacement of a running chain without dropping audio.
//
// A [Chain] accepts arbitrarily sized byte chunks of interleaved 16-bit PCM
// and guarantees frame alignment internally: bytes that do not complete a
// frame are carried over to the next call, so unit filter state never sees a
// torn frame regardless of how the producer slices the stream. A
// [Coordinator] owns the chain a pipeline reads through and swaps in
// replacement chains, either seamlessly or by force.
package chain

import (
	"fmt"
	"sync"

	"github.com/Dirold2/fluent-streamer-sub000/pkg/audio"
	"github.com/Dirold2/fluent-streamer-sub000/pkg/audio/effects"
)

// Chain runs PCM chunks through an ordered list of effect units. It is safe
// for concurrent use; in practice one goroutine feeds audio while others
// adjust unit parameters.
type Chain struct {
	format audio.Format

	mu        sync.Mutex
	units     []effects.Unit
	frame     []int16
	residual  []byte
	phase     int
	destroyed bool
}

// New returns a Chain over the given units, applied in order. An empty
// chain is valid and passes audio through untouched.
func New(format audio.Format, units ...effects.Unit) (*Chain, error) {
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("chain: %w", err)
	}
	c := &Chain{
		format:   format,
		units:    append([]effects.Unit(nil), units...),
		frame:    make([]int16, format.Channels),
		residual: make([]byte, 0, format.FrameSize()),
	}
	return c, nil
}

// Format returns the stream format the chain was built for.
func (c *Chain) Format() audio.Format { return c.format }

// Len returns the number of units in the chain.
func (c *Chain) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.units)
}

// Units returns a snapshot of the chain's units in processing order.
func (c *Chain) Units() []effects.Unit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]effects.Unit(nil), c.units...)
}

// Idle reports whether the chain currently passes audio through bit-exact:
// every unit idle and no partial frame carried over.
func (c *Chain) Idle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.residual) == 0 && c.idleLocked()
}

// Process runs chunk through the chain and returns the processed bytes. The
// chain takes ownership of chunk for the duration of the call: samples are
// rewritten in place and the returned slice may alias it.
//
// While every unit is idle the chunk is returned untouched, same backing
// array, with no per-sample work. The chain still tracks the byte phase
// within the current frame during this fast path, so a unit activating
// mid-frame does not shift channel alignment: the remainder of the in-flight
// frame passes through raw and processing starts on the next frame boundary.
//
// The returned slice holds whole frames only; a trailing partial frame is
// carried over and prepended to the next call.
func (c *Chain) Process(chunk []byte) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	frameSize := c.format.FrameSize()
	if c.destroyed {
		return chunk
	}
	if len(c.residual) == 0 && c.idleLocked() {
		c.phase = (c.phase + len(chunk)) % frameSize
		return chunk
	}

	// A unit went active while the bypass path was mid-frame. Let the rest
	// of that frame through raw so alignment is preserved.
	head := 0
	if c.phase != 0 {
		head = frameSize - c.phase
		if head >= len(chunk) {
			c.phase = (c.phase + len(chunk)) % frameSize
			return chunk
		}
		c.phase = 0
	}
	body := chunk[head:]

	out := body
	merged := false
	if len(c.residual) > 0 {
		buf := make([]byte, 0, len(c.residual)+len(body))
		buf = append(buf, c.residual...)
		buf = append(buf, body...)
		c.residual = c.residual[:0]
		out = buf
		merged = true
	}

	n := len(out) / frameSize * frameSize
	c.processAligned(out[:n])
	if len(out) > n {
		c.residual = append(c.residual[:0], out[n:]...)
	}

	if merged {
		return out[:n]
	}
	return chunk[:head+n]
}

// Flush zero-pads any carried partial frame to a whole frame, processes it
// and returns it. It returns nil when nothing was pending. Call at end of
// stream, before the final silence.
func (c *Chain) Flush() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed || len(c.residual) == 0 {
		return nil
	}
	frame := make([]byte, c.format.FrameSize())
	copy(frame, c.residual)
	c.residual = c.residual[:0]
	c.processAligned(frame)
	return frame
}

// Reset clears every unit's filter memory and drops any carried partial
// frame. Parameters are kept. Call between runs so a new stream starts from
// clean state.
func (c *Chain) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, u := range c.units {
		u.Reset()
	}
	c.residual = c.residual[:0]
	c.phase = 0
}

// Destroy tears the chain down. Any carried bytes are dropped and further
// Process calls pass audio through untouched. Destroy is idempotent.
func (c *Chain) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return
	}
	c.destroyed = true
	for _, u := range c.units {
		u.Reset()
	}
	c.residual = nil
	c.phase = 0
}

// Destroyed reports whether Destroy has been called.
func (c *Chain) Destroyed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed
}

// discardCarry drops any carried partial frame without processing it. The
// coordinator calls this on a freshly promoted chain: the bytes it carried
// from the warm-up chunk were already emitted, zero-padded, by the old
// chain's flush.
func (c *Chain) discardCarry() {
	c.mu.Lock()
	c.residual = c.residual[:0]
	c.phase = 0
	c.mu.Unlock()
}

// processAligned runs whole frames through every unit in place. len(buf)
// must be a multiple of the frame size. Must be called with c.mu held.
func (c *Chain) processAligned(buf []byte) {
	frameSize := c.format.FrameSize()
	for off := 0; off+frameSize <= len(buf); off += frameSize {
		audio.DecodeFrame(c.format, buf, off, c.frame)
		for _, u := range c.units {
			u.ProcessFrame(c.frame)
		}
		audio.EncodeFrame(c.format, buf, off, c.frame)
	}
}

// idleLocked reports whether every unit is idle. Must be called with c.mu
// held.
func (c *Chain) idleLocked() bool {
	for _, u := range c.units {
		if !u.Idle() {
			return false
		}
	}
	return true
}
