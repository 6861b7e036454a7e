package streamer

import "sync"

// completionTracker is the single-fire latch a run resolves through. Four
// flags arrive from independent goroutines — process exit, producer-output
// end, chain end, consumer close — and any error path may finalize
// directly. Whichever way they race, the result settles exactly once.
type completionTracker struct {
	mu             sync.Mutex
	chainActive    bool
	processExited  bool
	outputEnded    bool
	chainEnded     bool
	consumerClosed bool
	finished       bool
	err            error

	done     chan struct{}
	onFinish func(err error)
}

// newCompletionTracker returns a tracker for one run. chainActive widens
// the success condition to include the effect chain's own end signal.
// onFinish runs exactly once, outside the tracker's lock, with the final
// verdict.
func newCompletionTracker(chainActive bool, onFinish func(error)) *completionTracker {
	return &completionTracker{
		chainActive: chainActive,
		done:        make(chan struct{}),
		onFinish:    onFinish,
	}
}

// markProcessExited records that the process is gone. The caller decides
// separately whether the exit was clean; a clean exit resolves the run once
// the output-side flags line up.
func (t *completionTracker) markProcessExited() {
	t.mu.Lock()
	t.processExited = true
	ready := t.successReadyLocked()
	t.mu.Unlock()
	if ready {
		t.finalize(nil)
	}
}

// markOutputEnded records that the producer's output stream reached its
// end.
func (t *completionTracker) markOutputEnded() {
	t.mu.Lock()
	t.outputEnded = true
	ready := t.successReadyLocked()
	t.mu.Unlock()
	if ready {
		t.finalize(nil)
	}
}

// markChainEnded records that the effect chain flushed its final bytes.
func (t *completionTracker) markChainEnded() {
	t.mu.Lock()
	t.chainEnded = true
	ready := t.successReadyLocked()
	t.mu.Unlock()
	if ready {
		t.finalize(nil)
	}
}

// markConsumerClosed records that the consumer walked away. Informational:
// it never resolves the run by itself.
func (t *completionTracker) markConsumerClosed() {
	t.mu.Lock()
	t.consumerClosed = true
	t.mu.Unlock()
}

// successReadyLocked reports whether every flag required for a clean
// resolution is set. Must be called with t.mu held.
func (t *completionTracker) successReadyLocked() bool {
	if t.finished {
		return false
	}
	if !t.processExited || !t.outputEnded {
		return false
	}
	if t.chainActive && !t.chainEnded {
		return false
	}
	return true
}

// finalize resolves the run with err (nil for success). The first call
// wins; every later call is a no-op. Returns whether this call was the one
// that settled the result.
func (t *completionTracker) finalize(err error) bool {
	t.mu.Lock()
	if t.finished {
		t.mu.Unlock()
		return false
	}
	t.finished = true
	t.err = err
	onFinish := t.onFinish
	t.mu.Unlock()

	close(t.done)
	if onFinish != nil {
		onFinish(err)
	}
	return true
}

// Done returns a channel closed when the run has settled.
func (t *completionTracker) Done() <-chan struct{} { return t.done }

// Err returns the run's verdict. Valid after Done is closed; nil means
// clean completion.
func (t *completionTracker) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Finished reports whether the run has settled.
func (t *completionTracker) Finished() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finished
}
