package streamer

import (
	"io"
	"sync"
	"time"
)

// outputQueueDepth bounds how many chunks the consumer buffer holds before
// the pipeline writer blocks. Backpressure from a slow consumer propagates
// through this queue up to the process pipe.
const outputQueueDepth = 16

// Output is the consumer-facing end of a run: an [io.ReadCloser] the
// pipeline writes processed audio into.
//
// If nobody starts reading within the drain window after the first write,
// the buffer flips into drain mode: writes are discarded from then on so
// the producer process never blocks on a full pipe, and any later Read
// returns [io.EOF]. Attaching a reader before the window expires disarms
// the timer for the life of the run.
type Output struct {
	onClose     func()
	drainWindow time.Duration

	mu         sync.Mutex
	attached   bool
	drained    bool
	ended      bool
	closed     bool
	timerArmed bool
	drainTimer *time.Timer
	destroyErr error
	pending    []byte

	ch        chan []byte
	drainCh   chan struct{}
	closeCh   chan struct{}
	destroyCh chan struct{}
}

var _ io.ReadCloser = (*Output)(nil)

// newOutput returns an Output with the given idle-drain window. onClose is
// invoked once when the consumer closes the stream.
func newOutput(drainWindow time.Duration, onClose func()) *Output {
	return &Output{
		onClose:     onClose,
		drainWindow: drainWindow,
		ch:          make(chan []byte, outputQueueDepth),
		drainCh:     make(chan struct{}),
		closeCh:     make(chan struct{}),
		destroyCh:   make(chan struct{}),
	}
}

// Read implements [io.Reader]. It blocks until audio is available, the
// stream ends (io.EOF), or the run fails (the run's error).
func (o *Output) Read(p []byte) (int, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	if o.destroyErr != nil {
		err := o.destroyErr
		o.mu.Unlock()
		return 0, err
	}
	if o.drained {
		o.mu.Unlock()
		return 0, io.EOF
	}
	if !o.attached {
		o.attached = true
		if o.drainTimer != nil {
			o.drainTimer.Stop()
			o.drainTimer = nil
		}
	}
	if len(o.pending) > 0 {
		n := copy(p, o.pending)
		o.pending = o.pending[n:]
		o.mu.Unlock()
		return n, nil
	}
	o.mu.Unlock()

	select {
	case b, ok := <-o.ch:
		if !ok {
			return 0, io.EOF
		}
		n := copy(p, b)
		if n < len(b) {
			o.mu.Lock()
			o.pending = b[n:]
			o.mu.Unlock()
		}
		return n, nil
	case <-o.destroyCh:
		o.mu.Lock()
		err := o.destroyErr
		o.mu.Unlock()
		return 0, err
	case <-o.closeCh:
		return 0, io.ErrClosedPipe
	}
}

// Close implements [io.Closer]. The consumer signals it will read no more;
// subsequent writes are discarded and the supervisor is notified so it can
// wind the run down. Close is idempotent.
func (o *Output) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	if o.drainTimer != nil {
		o.drainTimer.Stop()
		o.drainTimer = nil
	}
	cb := o.onClose
	o.mu.Unlock()

	close(o.closeCh)
	if cb != nil {
		cb()
	}
	return nil
}

// write hands one chunk to the consumer, honoring backpressure: it blocks
// while the queue is full until the consumer catches up, drain mode or a
// consumer close discards the chunk, and a destroyed buffer returns the
// run's error. The first write arms the idle-drain timer if no reader has
// attached yet.
func (o *Output) write(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	o.mu.Lock()
	switch {
	case o.destroyErr != nil:
		err := o.destroyErr
		o.mu.Unlock()
		return err
	case o.ended, o.drained, o.closed:
		o.mu.Unlock()
		return nil
	}
	if !o.attached && !o.timerArmed && o.drainWindow > 0 {
		o.timerArmed = true
		o.drainTimer = time.AfterFunc(o.drainWindow, o.engageDrain)
	}
	o.mu.Unlock()

	select {
	case o.ch <- b:
		return nil
	case <-o.drainCh:
		return nil
	case <-o.closeCh:
		return nil
	case <-o.destroyCh:
		o.mu.Lock()
		err := o.destroyErr
		o.mu.Unlock()
		return err
	}
}

// end closes the stream gracefully: the consumer drains what is buffered
// and then reads [io.EOF]. Only the pipeline calls end, after its final
// write. Idempotent.
func (o *Output) end() {
	o.mu.Lock()
	if o.ended || o.destroyErr != nil {
		o.mu.Unlock()
		return
	}
	o.ended = true
	o.mu.Unlock()
	close(o.ch)
}

// destroy fails the stream: blocked readers and writers wake immediately
// and see err. Buffered audio is not delivered. A stream that already
// ended gracefully stays ended — the run's result handle still carries the
// error.
func (o *Output) destroy(err error) {
	if err == nil {
		err = io.ErrClosedPipe
	}
	o.mu.Lock()
	if o.ended || o.destroyErr != nil {
		o.mu.Unlock()
		return
	}
	o.destroyErr = err
	if o.drainTimer != nil {
		o.drainTimer.Stop()
		o.drainTimer = nil
	}
	o.mu.Unlock()
	close(o.destroyCh)
}

// engageDrain flips the buffer into drain mode when the idle window passes
// with no reader attached.
func (o *Output) engageDrain() {
	o.mu.Lock()
	if o.attached || o.drained || o.ended || o.closed || o.destroyErr != nil {
		o.mu.Unlock()
		return
	}
	o.drained = true
	o.drainTimer = nil
	o.mu.Unlock()
	close(o.drainCh)
}
