package streamer

import (
	"strings"
	"sync"
)

// stderrTail keeps the last max bytes of standard-error text. The scraper
// goroutine appends lines while the exit handler may be reading, so access
// is guarded by its own mutex.
type stderrTail struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func newStderrTail(max int) *stderrTail {
	return &stderrTail{max: max}
}

// writeLine appends one line, dropping the oldest bytes once the cap is
// exceeded.
func (t *stderrTail) writeLine(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.max <= 0 {
		return
	}
	t.buf = append(t.buf, line...)
	t.buf = append(t.buf, '\n')
	if len(t.buf) > t.max {
		trimmed := make([]byte, t.max)
		copy(trimmed, t.buf[len(t.buf)-t.max:])
		t.buf = trimmed
	}
}

// String returns the captured tail without the trailing newline.
func (t *stderrTail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSuffix(string(t.buf), "\n")
}
