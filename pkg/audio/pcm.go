package audio

import "time"

// Sample reads the i-th 16-bit sample from little-endian PCM data. The
// caller is responsible for bounds: i addresses samples, not bytes.
func Sample(pcm []byte, i int) int16 {
	return int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
}

// PutSample writes v as the i-th 16-bit sample into little-endian PCM data.
func PutSample(pcm []byte, i int, v int16) {
	pcm[i*2] = byte(v)
	pcm[i*2+1] = byte(v >> 8)
}

// DecodeFrame copies one frame starting at byte offset off into dst, one
// int16 per channel. dst must hold at least f.Channels samples.
func DecodeFrame(f Format, pcm []byte, off int, dst []int16) {
	for ch := 0; ch < f.Channels; ch++ {
		dst[ch] = int16(pcm[off]) | int16(pcm[off+1])<<8
		off += 2
	}
}

// EncodeFrame writes the samples in src as one frame at byte offset off.
// src must hold f.Channels samples.
func EncodeFrame(f Format, pcm []byte, off int, src []int16) {
	for ch := 0; ch < f.Channels; ch++ {
		pcm[off] = byte(src[ch])
		pcm[off+1] = byte(src[ch] >> 8)
		off += 2
	}
}

// Silence returns a zeroed PCM buffer covering d of play time in format f,
// rounded down to whole frames. Returns nil for non-positive durations.
func Silence(f Format, d time.Duration) []byte {
	if d <= 0 {
		return nil
	}
	frames := int(int64(f.SampleRate) * int64(d) / int64(time.Second))
	if frames == 0 {
		return nil
	}
	return make([]byte, frames*f.FrameSize())
}
