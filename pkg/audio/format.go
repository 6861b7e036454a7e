package audio

import (
	"fmt"
	"time"
)

// bytesPerSample is the width of one PCM sample. The whole pipeline speaks
// signed 16-bit little-endian PCM; other widths are a transcoder concern.
const bytesPerSample = 2

// DefaultFormat is the stream format assumed when none is configured:
// 48 kHz interleaved stereo, the arrangement the transcoder is asked to
// emit on its output pipe.
var DefaultFormat = Format{SampleRate: 48000, Channels: 2}

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Validate reports whether the format describes a stream the pipeline can
// process: a positive sample rate and one or two channels.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("audio: sample rate %d is not positive", f.SampleRate)
	}
	if f.Channels < 1 || f.Channels > 2 {
		return fmt.Errorf("audio: channel count %d is out of range [1, 2]", f.Channels)
	}
	return nil
}

// FrameSize returns the size of one frame in bytes: one sample per channel.
// For 16-bit stereo this is 4.
func (f Format) FrameSize() int {
	return f.Channels * bytesPerSample
}

// BytesPerSecond returns the byte rate of a stream in this format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.FrameSize()
}

// FrameCount returns how many complete frames fit in n bytes.
func (f Format) FrameCount(n int) int {
	return n / f.FrameSize()
}

// Duration returns the play time covered by n bytes of PCM in this format,
// counting only complete frames.
func (f Format) Duration(n int) time.Duration {
	frames := f.FrameCount(n)
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

// String returns a human-readable description, e.g. "48000Hz stereo".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}
