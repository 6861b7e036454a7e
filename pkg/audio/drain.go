package audio

// Drain discards everything currently buffered in ch and returns. It never
// blocks, so it is safe on channels that are never closed, like an event
// stream whose run has already settled. Values sent concurrently with the
// call may or may not be consumed; a closed channel returns immediately.
func Drain[T any](ch <-chan T) {
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
