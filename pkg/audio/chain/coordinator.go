package chain

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Dirold2/fluent-streamer-sub000/pkg/audio/effects"
)

// ErrSwapInProgress is returned by [Coordinator.Swap] while an earlier soft
// swap is still waiting for its switch-over. Callers should reissue the
// swap once the pending one's done channel closes.
var ErrSwapInProgress = errors.New("chain: swap already in progress")

// defaultSwapFallback is how long a pending soft swap waits for audio
// before switching over anyway. Streams that are between chunks (paused,
// stalled input) must not hold a swap hostage.
const defaultSwapFallback = 10 * time.Millisecond

// closedDone is the pre-closed channel handed out by swap paths that
// complete synchronously.
var closedDone = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// SwapMode selects how [Coordinator.Swap] replaces the active chain.
type SwapMode int

const (
	// SwapSoft replaces the chain without interrupting audio. When the
	// replacement is parameter-compatible the running units simply adopt
	// its parameters; otherwise both chains process the next chunk in
	// parallel and the switch lands on that chunk boundary.
	SwapSoft SwapMode = iota

	// SwapHard destroys the active chain immediately and installs the
	// replacement. Carried bytes and filter state are dropped.
	SwapHard
)

// IsValid reports whether m is a defined swap mode.
func (m SwapMode) IsValid() bool {
	return m == SwapSoft || m == SwapHard
}

// String returns the mode name for logs.
func (m SwapMode) String() string {
	switch m {
	case SwapSoft:
		return "soft"
	case SwapHard:
		return "hard"
	default:
		return fmt.Sprintf("SwapMode(%d)", int(m))
	}
}

// Compatible reports whether a soft swap from a to b can use the parameter
// sync fast path: same unit count, pairwise matching kinds, and every unit
// on both sides supporting parameter sync.
func Compatible(a, b *Chain) bool {
	ua, ub := a.Units(), b.Units()
	if len(ua) != len(ub) {
		return false
	}
	for i := range ua {
		if ua[i].Kind() != ub[i].Kind() {
			return false
		}
		if _, ok := ua[i].(effects.ParameterSyncable); !ok {
			return false
		}
		if _, ok := ub[i].(effects.ParameterSyncable); !ok {
			return false
		}
	}
	return true
}

// CoordinatorOption configures a [Coordinator].
type CoordinatorOption func(*Coordinator)

// WithSwapFallback overrides how long a soft swap waits for the next audio
// chunk before switching over on a timer. Default: 10ms.
func WithSwapFallback(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d > 0 {
			c.fallbackDelay = d
		}
	}
}

// WithTailSink registers the callback that receives the old chain's flushed
// tail when a swap completes on the fallback timer instead of on a chunk.
// The callback runs on the timer goroutine, outside coordinator locks.
func WithTailSink(emit func([]byte)) CoordinatorOption {
	return func(c *Coordinator) { c.emit = emit }
}

// Coordinator owns the chain a pipeline processes audio through and
// replaces it on request without the pipeline noticing. All audio must flow
// through [Coordinator.Process]; swaps piggyback on that flow.
type Coordinator struct {
	fallbackDelay time.Duration
	emit          func([]byte)

	mu       sync.Mutex
	current  *Chain
	next     *Chain
	swapDone chan struct{}
	fallback *time.Timer
}

// NewCoordinator returns a Coordinator serving audio through initial.
func NewCoordinator(initial *Chain, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		fallbackDelay: defaultSwapFallback,
		current:       initial,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Current returns the chain audio is flowing through right now.
func (c *Coordinator) Current() *Chain {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Units returns a snapshot of the active chain's units. Controllers walk
// this to find the first unit supporting a given capability.
func (c *Coordinator) Units() []effects.Unit {
	return c.Current().Units()
}

// Process runs chunk through the active chain. If a soft swap is pending
// the replacement chain processes a copy of the same chunk in parallel to
// warm its filters, the switch happens on this boundary, and the old
// chain's flushed tail is appended to the returned audio so no carried
// bytes are lost.
func (c *Coordinator) Process(chunk []byte) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.next == nil {
		return c.current.Process(chunk)
	}

	warm := make([]byte, len(chunk))
	copy(warm, chunk)
	c.next.Process(warm)

	out := c.current.Process(chunk)
	tail := c.completeSwapLocked()
	if len(tail) == 0 {
		return out
	}
	combined := make([]byte, 0, len(out)+len(tail))
	combined = append(combined, out...)
	combined = append(combined, tail...)
	return combined
}

// Flush drains whatever the active chain holds. A swap still pending at end
// of stream completes here; the replacement chain has seen no audio, so the
// old chain's tail is all there is to return.
func (c *Coordinator) Flush() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.next != nil {
		return c.completeSwapLocked()
	}
	return c.current.Flush()
}

// Swap replaces the active chain with next using the given mode. The
// returned channel closes when the replacement is serving audio; fast paths
// (parameter sync, hard swap) return it already closed.
//
// Only one swap may be in flight: Swap returns [ErrSwapInProgress] while a
// previous soft swap is still pending.
func (c *Coordinator) Swap(next *Chain, mode SwapMode) (<-chan struct{}, error) {
	if next == nil {
		return nil, errors.New("chain: swap to nil chain")
	}
	if !mode.IsValid() {
		return nil, fmt.Errorf("chain: invalid swap mode %d", int(mode))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.next != nil {
		return nil, ErrSwapInProgress
	}
	if next.Format() != c.current.Format() {
		return nil, fmt.Errorf("chain: swap format %v does not match %v", next.Format(), c.current.Format())
	}

	if mode == SwapHard {
		old := c.current
		c.current = next
		old.Destroy()
		return closedDone, nil
	}

	if Compatible(c.current, next) {
		syncParameters(c.current, next)
		next.Destroy()
		return closedDone, nil
	}

	c.next = next
	c.swapDone = make(chan struct{})
	c.fallback = time.AfterFunc(c.fallbackDelay, c.onFallback)
	return c.swapDone, nil
}

// Destroy tears down the active chain and any pending replacement. A
// blocked swap waiter is released.
func (c *Coordinator) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopFallbackLocked()
	if c.swapDone != nil {
		close(c.swapDone)
		c.swapDone = nil
	}
	if c.next != nil {
		c.next.Destroy()
		c.next = nil
	}
	c.current.Destroy()
}

// Reset prepares the coordinator for a new stream. A pending replacement
// chain is adopted outright — between runs there is no audio to keep
// continuous — and the active chain's filter memory and carried bytes are
// cleared.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.next != nil {
		c.stopFallbackLocked()
		old := c.current
		c.current = c.next
		c.next = nil
		old.Destroy()
		close(c.swapDone)
		c.swapDone = nil
	}
	c.current.Reset()
}

// completeSwapLocked switches audio over to the pending chain and returns
// the old chain's flushed tail. Must be called with c.mu held and c.next
// non-nil.
func (c *Coordinator) completeSwapLocked() []byte {
	c.stopFallbackLocked()
	old := c.current
	tail := old.Flush()
	old.Destroy()
	c.current = c.next
	c.current.discardCarry()
	c.next = nil
	close(c.swapDone)
	c.swapDone = nil
	return tail
}

// onFallback fires when no audio arrived within the fallback window of a
// soft swap. The switch happens anyway and the old chain's tail, if any,
// goes to the tail sink since there is no Process call to return it from.
func (c *Coordinator) onFallback() {
	c.mu.Lock()
	if c.next == nil {
		c.mu.Unlock()
		return
	}
	tail := c.completeSwapLocked()
	emit := c.emit
	c.mu.Unlock()

	if len(tail) > 0 && emit != nil {
		emit(tail)
	}
}

// stopFallbackLocked cancels the pending fallback timer, if armed. Must be
// called with c.mu held.
func (c *Coordinator) stopFallbackLocked() {
	if c.fallback != nil {
		c.fallback.Stop()
		c.fallback = nil
	}
}

// syncParameters copies each unit's parameters from src into the matching
// unit of dst. Filter memory in dst is untouched. Both chains must have
// passed [Compatible].
func syncParameters(dst, src *Chain) {
	du, su := dst.Units(), src.Units()
	for i := range du {
		du[i].(effects.ParameterSyncable).SyncParameters(su[i].(effects.ParameterSyncable).Snapshot())
	}
}
