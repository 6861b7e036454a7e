// Package wavio bridges the pipeline's raw 16-bit PCM byte streams and WAV
// containers on disk. The [Writer] is an [io.Writer] that accepts the exact
// bytes a run's output produces, so capturing a processed stream is a plain
// io.Copy.
package wavio

import (
	"fmt"
	"io"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/Dirold2/fluent-streamer-sub000/pkg/audio"
)

// bitDepth is the only sample width the pipeline speaks.
const bitDepth = 16

// pcmFormat is the WAV audio format tag for uncompressed PCM.
const pcmFormat = 1

// Writer encodes raw 16-bit little-endian PCM into a WAV container. The
// destination must support seeking: the encoder rewrites the header with
// the final sizes on Close. Not safe for concurrent use.
type Writer struct {
	enc    *wav.Encoder
	format audio.Format
	buf    *gaudio.IntBuffer

	// carry holds a dangling byte when a write ends mid-sample.
	carry    byte
	hasCarry bool
	closed   bool
}

var _ io.WriteCloser = (*Writer)(nil)

// NewWriter returns a Writer that encodes PCM in the given format into ws.
func NewWriter(ws io.WriteSeeker, f audio.Format) (*Writer, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &Writer{
		enc:    wav.NewEncoder(ws, f.SampleRate, bitDepth, f.Channels, pcmFormat),
		format: f,
		buf: &gaudio.IntBuffer{
			Format: &gaudio.Format{
				NumChannels: f.Channels,
				SampleRate:  f.SampleRate,
			},
			SourceBitDepth: bitDepth,
		},
	}, nil
}

// Write encodes pcm into the container. Chunks may split samples at any
// byte boundary; a dangling byte is carried into the next call. Implements
// [io.Writer]: the returned count covers every byte of pcm on success.
func (w *Writer) Write(pcm []byte) (int, error) {
	if w.closed {
		return 0, fmt.Errorf("wavio: write on closed writer")
	}
	if len(pcm) == 0 {
		return 0, nil
	}
	total := len(pcm)

	if w.hasCarry {
		pair := []byte{w.carry, pcm[0]}
		w.hasCarry = false
		pcm = pcm[1:]
		if err := w.encode(pair); err != nil {
			return 0, err
		}
	}
	if len(pcm)%2 != 0 {
		w.carry = pcm[len(pcm)-1]
		w.hasCarry = true
		pcm = pcm[:len(pcm)-1]
	}
	if err := w.encode(pcm); err != nil {
		return 0, err
	}
	return total, nil
}

// encode converts whole samples to the encoder's int representation and
// hands them over.
func (w *Writer) encode(pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	n := len(pcm) / 2
	if cap(w.buf.Data) < n {
		w.buf.Data = make([]int, n)
	}
	w.buf.Data = w.buf.Data[:n]
	for i := 0; i < n; i++ {
		w.buf.Data[i] = int(audio.Sample(pcm, i))
	}
	if err := w.enc.Write(w.buf); err != nil {
		return fmt.Errorf("wavio: encode: %w", err)
	}
	return nil
}

// Close finalizes the container header. A dangling half sample from the
// last write is discarded. Idempotent.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.hasCarry = false
	if err := w.enc.Close(); err != nil {
		return fmt.Errorf("wavio: close: %w", err)
	}
	return nil
}

// Decode reads a whole 16-bit PCM WAV stream and returns its format and
// raw little-endian sample bytes.
func Decode(r io.ReadSeeker) (audio.Format, []byte, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return audio.Format{}, nil, fmt.Errorf("wavio: not a valid wav stream")
	}
	if dec.BitDepth != bitDepth {
		return audio.Format{}, nil, fmt.Errorf("wavio: unsupported bit depth %d, want %d", dec.BitDepth, bitDepth)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return audio.Format{}, nil, fmt.Errorf("wavio: decode: %w", err)
	}

	f := audio.Format{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
	}
	if err := f.Validate(); err != nil {
		return audio.Format{}, nil, err
	}

	pcm := make([]byte, len(buf.Data)*2)
	for i, s := range buf.Data {
		audio.PutSample(pcm, i, int16(s))
	}
	return f, pcm, nil
}
