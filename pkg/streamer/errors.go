package streamer

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrAlreadyRunning is returned by [Supervisor.Run] while a previous
	// run is still active, and by [Supervisor.Reset] for the same reason.
	ErrAlreadyRunning = errors.New("streamer: a run is already active")

	// ErrDestroyed is returned by every operation after
	// [Supervisor.Destroy]; a destroyed supervisor cannot be reused.
	ErrDestroyed = errors.New("streamer: supervisor destroyed")

	// ErrNoChain is returned by effect controls and by
	// [Supervisor.UpdatePlugins] when the active run has no effect chain
	// to mutate.
	ErrNoChain = errors.New("streamer: no effect chain configured")

	// ErrNoCapableUnit is returned by effect controls when no unit in the
	// chain supports the requested parameter.
	ErrNoCapableUnit = errors.New("streamer: no unit in the chain supports this control")
)

// SpawnError reports that the external process could not be started at all:
// missing binary, permission denied, bad working directory.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("streamer: spawn %s: %v", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// ExitError reports an abnormal process exit: a non-zero exit code, or a
// terminating signal nobody here asked for. Stderr carries the bounded tail
// of the process's standard error, usually enough to diagnose without raw
// logs.
type ExitError struct {
	Code   int
	Signal string
	Stderr string
}

func (e *ExitError) Error() string {
	var msg string
	if e.Signal != "" {
		msg = fmt.Sprintf("streamer: process terminated by signal %s", e.Signal)
	} else {
		msg = fmt.Sprintf("streamer: process exited with code %d", e.Code)
	}
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// StreamError reports a failure on one of the process's streams. Stage
// names the link that broke: "stdin", "stdout", "output" or "wait".
type StreamError struct {
	Stage string
	Err   error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("streamer: %s stream: %v", e.Stage, e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

// TimeoutError reports that the run exceeded its wall-clock limit and was
// force-finalized. The process received SIGKILL; whether it actually died
// within the grace window does not change the verdict.
type TimeoutError struct {
	Limit time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("streamer: process exceeded timeout of %s", e.Limit)
}
