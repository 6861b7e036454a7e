package streamer

import (
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/Dirold2/fluent-streamer-sub000/pkg/audio"
	"github.com/Dirold2/fluent-streamer-sub000/pkg/audio/chain"
)

// pipeReadSize is the read buffer for the process's output pipe.
const pipeReadSize = 32 * 1024

// pipeline moves bytes from the process's output through the optional
// effect chain into the consumer buffer. One pipeline goroutine per run;
// everything here runs on it except the tail sink, which the coordinator's
// fallback timer may drive.
type pipeline struct {
	format  audio.Format
	coord   *chain.Coordinator
	out     *Output
	tracker *completionTracker
	log     *slog.Logger
	silence time.Duration

	// streamFailed reports a broken link to the supervisor and returns
	// whether the failure was fatal. Non-fatal failures (expected
	// consequences of a local termination) end the stream gracefully.
	streamFailed func(stage string, err error) bool
}

// run consumes stdout until it ends, pushing each chunk through the chain
// into the consumer buffer. Chunks are copied out of the read buffer
// because the chain rewrites samples in place and may carry bytes across
// calls.
func (p *pipeline) run(stdout io.Reader) {
	buf := make([]byte, pipeReadSize)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			data := chunk
			if p.coord != nil {
				data = p.coord.Process(chunk)
			}
			if len(data) > 0 {
				if werr := p.out.write(data); werr != nil {
					p.streamFailed("output", werr)
					return
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				p.finish()
			} else if !p.streamFailed("stdout", err) {
				// Swallowed: the link broke because the run is being
				// torn down locally. Drain what we hold and end.
				p.finish()
			}
			return
		}
	}
}

// finish completes the stream in order: producer end, chain flush, chain
// end, trailing silence, buffer end. The trailing silence masks truncation
// from abrupt process termination and is skipped automatically when the
// buffer already ended or failed.
func (p *pipeline) finish() {
	p.tracker.markOutputEnded()
	if p.coord != nil {
		if tail := p.coord.Flush(); len(tail) > 0 {
			if err := p.out.write(tail); err != nil {
				return
			}
		}
		p.tracker.markChainEnded()
	}
	p.writeTrailingSilence()
	p.out.end()
}

// writeTrailingSilence pads the stream with a short stretch of silence
// before the end marker.
func (p *pipeline) writeTrailingSilence() {
	if p.silence <= 0 {
		return
	}
	pcm := audio.Silence(p.format, p.silence)
	if len(pcm) == 0 {
		return
	}
	if err := p.out.write(pcm); err != nil {
		p.log.Debug("trailing silence dropped", "error", err)
	}
}
