package streamer

import (
	"fmt"
	"io"
	"time"
)

// maxInputs bounds how many input sources one invocation may attach.
const maxInputs = 16

// InputSource attaches a byte stream to an invocation. Position 0 feeds the
// process's standard input; every other position is drained to a discard
// sink so a pipeline declaring multiple inputs never stalls on an
// unconsumed one.
type InputSource struct {
	Position int
	Reader   io.Reader
}

// Invocation describes one launch of the transcoder: the argument tokens
// after the binary path, the attached input sources, and an optional
// duration hint for progress percentages. It must not be mutated once
// handed to [Supervisor.Run].
type Invocation struct {
	// Args are the command tokens, in order. The binary path and any
	// global extra tokens come from the supervisor's options.
	Args []string

	// Inputs are the attached input sources. At most one may sit at
	// position 0.
	Inputs []InputSource

	// Duration is the probed duration of the input media. Optional; used
	// only to derive [Progress.Percent].
	Duration time.Duration
}

// validate rejects invocations the supervisor cannot wire up.
func (inv *Invocation) validate() error {
	if inv == nil {
		return fmt.Errorf("streamer: nil invocation")
	}
	if len(inv.Inputs) > maxInputs {
		return fmt.Errorf("streamer: %d input sources exceed the limit of %d", len(inv.Inputs), maxInputs)
	}
	seen := make(map[int]bool, len(inv.Inputs))
	for _, in := range inv.Inputs {
		if in.Position < 0 {
			return fmt.Errorf("streamer: input position %d is negative", in.Position)
		}
		if in.Reader == nil {
			return fmt.Errorf("streamer: input at position %d has no reader", in.Position)
		}
		if seen[in.Position] {
			return fmt.Errorf("streamer: duplicate input position %d", in.Position)
		}
		seen[in.Position] = true
	}
	return nil
}

// stdin returns the reader destined for the process's standard input, or
// nil when position 0 is unattached.
func (inv *Invocation) stdin() io.Reader {
	for _, in := range inv.Inputs {
		if in.Position == 0 {
			return in.Reader
		}
	}
	return nil
}

// drained returns the readers that are attached but not consumed by the
// process, i.e. everything except position 0.
func (inv *Invocation) drained() []io.Reader {
	var rs []io.Reader
	for _, in := range inv.Inputs {
		if in.Position != 0 {
			rs = append(rs, in.Reader)
		}
	}
	return rs
}
