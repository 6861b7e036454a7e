package audio_test

import (
	"testing"
	"time"

	"github.com/Dirold2/fluent-streamer-sub000/pkg/audio"
)

func TestFormatValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		format  audio.Format
		wantErr bool
	}{
		{"stereo 48k", audio.Format{SampleRate: 48000, Channels: 2}, false},
		{"mono 16k", audio.Format{SampleRate: 16000, Channels: 1}, false},
		{"zero rate", audio.Format{SampleRate: 0, Channels: 2}, true},
		{"negative rate", audio.Format{SampleRate: -1, Channels: 2}, true},
		{"zero channels", audio.Format{SampleRate: 48000, Channels: 0}, true},
		{"too many channels", audio.Format{SampleRate: 48000, Channels: 6}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.format.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestFormatFrameSize(t *testing.T) {
	t.Parallel()

	stereo := audio.Format{SampleRate: 48000, Channels: 2}
	if got := stereo.FrameSize(); got != 4 {
		t.Errorf("stereo FrameSize() = %d, want 4", got)
	}
	mono := audio.Format{SampleRate: 48000, Channels: 1}
	if got := mono.FrameSize(); got != 2 {
		t.Errorf("mono FrameSize() = %d, want 2", got)
	}
}

func TestFormatDuration(t *testing.T) {
	t.Parallel()

	f := audio.Format{SampleRate: 48000, Channels: 2}
	// One second of stereo 48k is 192000 bytes.
	if got := f.Duration(192000); got != time.Second {
		t.Errorf("Duration(192000) = %v, want 1s", got)
	}
	// A trailing partial frame does not count.
	if got := f.Duration(7); got != 0 {
		t.Errorf("Duration(7) = %v, want 0", got)
	}
}

func TestFormatString(t *testing.T) {
	t.Parallel()

	f := audio.Format{SampleRate: 48000, Channels: 2}
	if got := f.String(); got != "48000Hz stereo" {
		t.Errorf("String() = %q, want %q", got, "48000Hz stereo")
	}
}
