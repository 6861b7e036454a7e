package streamer

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"
)

// noDrain disables the idle-drain window for tests that exercise other
// paths.
const noDrain = 0

// readChunk performs one Read with a generous buffer.
func readChunk(t *testing.T, o *Output) ([]byte, error) {
	t.Helper()
	buf := make([]byte, 64)
	n, err := o.Read(buf)
	return buf[:n], err
}

// TestOutput_ReadWriteRoundTrip delivers written chunks to the reader in
// order.
func TestOutput_ReadWriteRoundTrip(t *testing.T) {
	o := newOutput(noDrain, nil)

	if err := o.write([]byte("first")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := o.write([]byte("second")); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := readChunk(t, o)
	if err != nil || !bytes.Equal(got, []byte("first")) {
		t.Fatalf("Read = %q, %v; want %q, nil", got, err, "first")
	}
	got, err = readChunk(t, o)
	if err != nil || !bytes.Equal(got, []byte("second")) {
		t.Fatalf("Read = %q, %v; want %q, nil", got, err, "second")
	}
}

// TestOutput_PartialReadKeepsRemainder hands back the unread part of a
// chunk on the next Read.
func TestOutput_PartialReadKeepsRemainder(t *testing.T) {
	o := newOutput(noDrain, nil)
	if err := o.write([]byte("abcd")); err != nil {
		t.Fatalf("write: %v", err)
	}

	buf := make([]byte, 2)
	n, err := o.Read(buf)
	if err != nil || string(buf[:n]) != "ab" {
		t.Fatalf("first Read = %q, %v; want %q, nil", buf[:n], err, "ab")
	}
	n, err = o.Read(buf)
	if err != nil || string(buf[:n]) != "cd" {
		t.Fatalf("second Read = %q, %v; want %q, nil", buf[:n], err, "cd")
	}
}

// TestOutput_EndDrainsThenEOF lets the reader consume buffered chunks
// after a graceful end, then reads EOF.
func TestOutput_EndDrainsThenEOF(t *testing.T) {
	o := newOutput(noDrain, nil)
	if err := o.write([]byte("tail")); err != nil {
		t.Fatalf("write: %v", err)
	}
	o.end()
	o.end() // idempotent

	got, err := readChunk(t, o)
	if err != nil || !bytes.Equal(got, []byte("tail")) {
		t.Fatalf("Read = %q, %v; want %q, nil", got, err, "tail")
	}
	if _, err := readChunk(t, o); !errors.Is(err, io.EOF) {
		t.Fatalf("Read after end = %v, want io.EOF", err)
	}
	if err := o.write([]byte("late")); err != nil {
		t.Fatalf("write after end = %v, want nil discard", err)
	}
}

// TestOutput_IdleDrainDiscards flips into drain mode when no reader
// attaches within the window: later writes discard and a late Read sees a
// sticky EOF.
func TestOutput_IdleDrainDiscards(t *testing.T) {
	o := newOutput(20*time.Millisecond, nil)
	if err := o.write([]byte("unheard")); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		o.mu.Lock()
		drained := o.drained
		o.mu.Unlock()
		if drained {
			break
		}
		select {
		case <-deadline:
			t.Fatal("drain mode never engaged")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if err := o.write([]byte("discarded")); err != nil {
		t.Fatalf("write in drain mode = %v, want nil", err)
	}
	if _, err := readChunk(t, o); !errors.Is(err, io.EOF) {
		t.Fatalf("late Read = %v, want io.EOF", err)
	}
	if _, err := readChunk(t, o); !errors.Is(err, io.EOF) {
		t.Fatalf("second late Read = %v, want io.EOF", err)
	}
}

// TestOutput_ReaderDisarmsDrainTimer keeps the stream live for the whole
// run once a reader attached, however slow it reads afterwards.
func TestOutput_ReaderDisarmsDrainTimer(t *testing.T) {
	o := newOutput(25*time.Millisecond, nil)
	if err := o.write([]byte("early")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got, err := readChunk(t, o); err != nil || !bytes.Equal(got, []byte("early")) {
		t.Fatalf("Read = %q, %v; want %q, nil", got, err, "early")
	}

	time.Sleep(80 * time.Millisecond)

	if err := o.write([]byte("late")); err != nil {
		t.Fatalf("write after window = %v, want nil", err)
	}
	if got, err := readChunk(t, o); err != nil || !bytes.Equal(got, []byte("late")) {
		t.Fatalf("Read after window = %q, %v; want %q, nil", got, err, "late")
	}
}

// TestOutput_DestroyWakesBlockedReader fails a blocked Read with the run's
// error.
func TestOutput_DestroyWakesBlockedReader(t *testing.T) {
	o := newOutput(noDrain, nil)
	errBoom := errors.New("boom")

	result := make(chan error, 1)
	go func() {
		_, err := readChunk(t, o)
		result <- err
	}()

	time.Sleep(10 * time.Millisecond)
	o.destroy(errBoom)

	select {
	case err := <-result:
		if !errors.Is(err, errBoom) {
			t.Fatalf("Read = %v, want %v", err, errBoom)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked Read not woken by destroy")
	}

	if err := o.write([]byte("x")); !errors.Is(err, errBoom) {
		t.Fatalf("write after destroy = %v, want %v", err, errBoom)
	}
}

// TestOutput_GracefulEndBeatsDestroy keeps the stream's graceful end when
// destroy arrives afterwards; the buffered audio still reaches the reader.
func TestOutput_GracefulEndBeatsDestroy(t *testing.T) {
	o := newOutput(noDrain, nil)
	if err := o.write([]byte("kept")); err != nil {
		t.Fatalf("write: %v", err)
	}
	o.end()
	o.destroy(errors.New("late failure"))

	got, err := readChunk(t, o)
	if err != nil || !bytes.Equal(got, []byte("kept")) {
		t.Fatalf("Read = %q, %v; want %q, nil", got, err, "kept")
	}
	if _, err := readChunk(t, o); !errors.Is(err, io.EOF) {
		t.Fatalf("Read = %v, want io.EOF", err)
	}
}

// TestOutput_CloseDiscardsAndNotifies lets the consumer walk away: writes
// discard silently, reads fail, and the close callback fires exactly once.
func TestOutput_CloseDiscardsAndNotifies(t *testing.T) {
	calls := 0
	o := newOutput(noDrain, func() { calls++ })

	if err := o.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := o.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if calls != 1 {
		t.Fatalf("onClose calls = %d, want 1", calls)
	}

	if err := o.write([]byte("x")); err != nil {
		t.Fatalf("write after Close = %v, want nil discard", err)
	}
	if _, err := readChunk(t, o); !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("Read after Close = %v, want io.ErrClosedPipe", err)
	}
}

// TestOutput_CloseWakesBlockedWriter releases a writer stuck on a full
// queue when the consumer closes.
func TestOutput_CloseWakesBlockedWriter(t *testing.T) {
	o := newOutput(noDrain, nil)
	for i := 0; i < outputQueueDepth; i++ {
		if err := o.write([]byte{byte(i)}); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	result := make(chan error, 1)
	go func() {
		result <- o.write([]byte("overflow"))
	}()

	time.Sleep(10 * time.Millisecond)
	if err := o.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("blocked write = %v, want nil discard", err)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked write not woken by Close")
	}
}
