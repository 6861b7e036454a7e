// Package streamer supervises an external media-transcoding process and
// streams its PCM output through an optional, hot-swappable effect chain to
// a consumer.
//
// One [Supervisor] drives one process at a time. A run is started with
// [Supervisor.Run], which returns a [Run] handle carrying the consumer
// output stream, a completion result and a stop trigger. However a run
// ends — clean exit, crash, kill, timeout, manual close — the result
// settles exactly once, and the supervisor publishes typed [Event]
// notifications along the way.
package streamer

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/xid"

	"github.com/Dirold2/fluent-streamer-sub000/pkg/audio"
	"github.com/Dirold2/fluent-streamer-sub000/pkg/audio/chain"
	"github.com/Dirold2/fluent-streamer-sub000/pkg/audio/effects"
)

// State is the supervisor's lifecycle position.
type State int

const (
	// StateIdle means no run has been started yet, or the supervisor was
	// reset.
	StateIdle State = iota

	// StateRunning means a process is alive and streaming.
	StateRunning

	// StateTerminating means a local termination was requested and the
	// supervisor is waiting for the process to exit.
	StateTerminating

	// StateFinished means the last run has settled. A new run may be
	// started.
	StateFinished
)

// String returns the state name for logs.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateTerminating:
		return "terminating"
	case StateFinished:
		return "finished"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// closedChan is handed out by operations that complete synchronously.
var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Run is the caller's handle for one invocation.
type Run struct {
	id      xid.ID
	out     *Output
	tracker *completionTracker
	stop    func()
}

// ID identifies the run in events and logs.
func (r *Run) ID() xid.ID { return r.id }

// Output returns the processed audio stream. Reading it consumes the run's
// output; closing it tells the supervisor nobody will read further.
func (r *Run) Output() io.ReadCloser { return r.out }

// Done returns a channel closed once the run has settled.
func (r *Run) Done() <-chan struct{} { return r.tracker.Done() }

// Err returns the run's verdict after Done is closed. Nil means the run
// completed cleanly, including intentional terminations.
func (r *Run) Err() error { return r.tracker.Err() }

// Stop requests a graceful termination: SIGTERM, escalating to SIGKILL
// after the kill-grace window. Idempotent and safe after the run ended.
func (r *Run) Stop() { r.stop() }

// runState is everything the supervisor tracks for one process.
type runState struct {
	id      xid.ID
	cmd     *exec.Cmd
	tracker *completionTracker
	out     *Output
	tail    *stderrTail

	intentional atomic.Bool
	timedOut    atomic.Bool

	// signal is the terminating signal name for the success event.
	// Guarded by the supervisor's mutex.
	signal string

	// progress is the latest scraped snapshot, for polling callers that
	// do not consume the event stream. Guarded by the supervisor's mutex.
	progress Progress

	// Timers are guarded by the supervisor's mutex.
	timeoutTimer  *time.Timer
	graceTimer    *time.Timer
	escalateTimer *time.Timer

	readDone   chan struct{}
	stderrDone chan struct{}
}

// Supervisor owns the external process and the output pipeline. Safe for
// concurrent use; one run at a time.
type Supervisor struct {
	binary      string
	extraArgs   []string
	timeout     time.Duration
	killGrace   time.Duration
	tailBytes   int
	progress    bool
	format      audio.Format
	silence     time.Duration
	drainWindow time.Duration
	log         *slog.Logger
	registry    *effects.Registry

	events    chan Event
	destroyCh chan struct{}

	mu        sync.Mutex
	state     State
	destroyed bool
	coord     *chain.Coordinator
	active    *runState
}

// New returns a Supervisor with the given options applied over defaults.
func New(opts ...Option) (*Supervisor, error) {
	s := &Supervisor{
		binary:      defaultBinary,
		killGrace:   defaultKillGrace,
		tailBytes:   defaultTailBytes,
		progress:    true,
		format:      audio.DefaultFormat,
		silence:     defaultSilence,
		drainWindow: defaultDrainWindow,
		log:         slog.Default(),
		events:      make(chan Event, eventQueueDepth),
		destroyCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.format.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Events returns the notification channel. Control events (start, spawn,
// end, terminated, error) are delivered in order and never dropped;
// progress snapshots are dropped when the consumer lags. The channel is
// never closed.
func (s *Supervisor) Events() <-chan Event { return s.events }

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Progress returns the latest progress snapshot of the active run. The
// zero value is returned before the first stats line arrives and after
// [Supervisor.Reset].
func (s *Supervisor) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return Progress{}
	}
	return s.active.progress
}

// Run spawns the process described by inv and starts streaming. It fails
// with [ErrAlreadyRunning] while a previous run is active and with a
// [SpawnError] when the process cannot start. Cancelling ctx requests a
// graceful stop, same as [Run.Stop].
func (s *Supervisor) Run(ctx context.Context, inv *Invocation) (*Run, error) {
	if err := inv.validate(); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return nil, ErrDestroyed
	}
	if s.state == StateRunning || s.state == StateTerminating {
		s.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	coord := s.coord

	argv := make([]string, 0, len(s.extraArgs)+len(inv.Args))
	argv = append(argv, s.extraArgs...)
	argv = append(argv, inv.Args...)
	cmd := exec.Command(s.binary, argv...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.mu.Unlock()
		return nil, &SpawnError{Path: s.binary, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.mu.Unlock()
		return nil, &SpawnError{Path: s.binary, Err: err}
	}
	var stdin io.WriteCloser
	if inv.stdin() != nil {
		stdin, err = cmd.StdinPipe()
		if err != nil {
			s.mu.Unlock()
			return nil, &SpawnError{Path: s.binary, Err: err}
		}
	}

	rs := &runState{
		id:         xid.New(),
		cmd:        cmd,
		tail:       newStderrTail(s.tailBytes),
		readDone:   make(chan struct{}),
		stderrDone: make(chan struct{}),
	}
	rs.out = newOutput(s.drainWindow, func() { s.consumerClosed(rs) })
	rs.tracker = newCompletionTracker(coord != nil, func(err error) { s.runFinished(rs, err) })

	// Each run starts the chain from clean filter state.
	if coord != nil {
		coord.Reset()
	}

	command := s.binary + " " + strings.Join(argv, " ")
	if err := cmd.Start(); err != nil {
		s.state = StateFinished
		s.mu.Unlock()
		spawnErr := &SpawnError{Path: s.binary, Err: err}
		s.emit(Event{Kind: EventStart, Run: rs.id, Command: command})
		s.emit(Event{Kind: EventError, Run: rs.id, Err: spawnErr})
		return nil, spawnErr
	}
	s.state = StateRunning
	s.active = rs
	if s.timeout > 0 {
		rs.timeoutTimer = time.AfterFunc(s.timeout, func() { s.timeoutExceeded(rs) })
	}
	s.mu.Unlock()

	s.log.Info("process spawned",
		"run", rs.id,
		"pid", cmd.Process.Pid,
		"command", command,
	)
	s.emit(Event{Kind: EventStart, Run: rs.id, Command: command})
	s.emit(Event{Kind: EventSpawn, Run: rs.id, PID: cmd.Process.Pid})

	pl := &pipeline{
		format:  s.format,
		coord:   coord,
		out:     rs.out,
		tracker: rs.tracker,
		log:     s.log,
		silence: s.silence,
		streamFailed: func(stage string, err error) bool {
			return s.streamFailed(rs, stage, err)
		},
	}
	go func() {
		defer close(rs.readDone)
		pl.run(stdout)
	}()
	go func() {
		defer close(rs.stderrDone)
		s.scanStderr(rs, stderr, inv.Duration)
	}()
	if stdin != nil {
		go s.copyStdin(rs, stdin, inv.stdin())
	}
	for _, r := range inv.drained() {
		go func(r io.Reader) {
			_, _ = io.Copy(io.Discard, r)
		}(r)
	}
	go s.await(rs)
	go s.watchContext(ctx, rs)

	return &Run{
		id:      rs.id,
		out:     rs.out,
		tracker: rs.tracker,
		stop:    func() { s.stopRun(rs) },
	}, nil
}

// Kill sends sig to the running process and marks the termination as
// intentional, so the resulting signal exit resolves the run cleanly.
// Idempotent: a second call while terminating, or any call without an
// active process, is a no-op.
func (s *Supervisor) Kill(sig os.Signal) error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return ErrDestroyed
	}
	rs := s.active
	if rs == nil || (s.state != StateRunning && s.state != StateTerminating) {
		s.mu.Unlock()
		return nil
	}
	if s.state == StateTerminating {
		s.mu.Unlock()
		return nil
	}
	s.state = StateTerminating
	s.mu.Unlock()

	rs.intentional.Store(true)
	return s.signalProcess(rs, sig)
}

// Close stops the active run gracefully and waits for it to settle. It
// returns the run's verdict; with no active run it returns nil.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	rs := s.active
	active := s.state == StateRunning || s.state == StateTerminating
	s.mu.Unlock()
	if !active || rs == nil {
		return nil
	}
	s.stopRun(rs)
	<-rs.tracker.Done()
	return rs.tracker.Err()
}

// Destroy force-kills any active process, rejects its result with
// [ErrDestroyed] and renders the supervisor unusable. Idempotent.
func (s *Supervisor) Destroy() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	rs := s.active
	coord := s.coord
	s.mu.Unlock()

	close(s.destroyCh)
	if rs != nil && !rs.tracker.Finished() {
		rs.intentional.Store(true)
		_ = s.signalProcess(rs, syscall.SIGKILL)
		rs.tracker.finalize(ErrDestroyed)
	}
	if coord != nil {
		coord.Destroy()
	}
}

// Reset clears the last run's state so the supervisor can be reused. It
// fails with [ErrAlreadyRunning] while a run is active. Pending events are
// drained and the chain, if any, is reset to clean filter state.
func (s *Supervisor) Reset() error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return ErrDestroyed
	}
	if s.state == StateRunning || s.state == StateTerminating {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.active = nil
	s.state = StateIdle
	coord := s.coord
	s.mu.Unlock()

	audio.Drain(s.events)
	if coord != nil {
		coord.Reset()
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Effect chain management
// ─────────────────────────────────────────────────────────────────────────────

// UsePlugins resolves the given plugin descriptors and installs them as the
// effect chain for subsequent runs. Calling it with no descriptors removes
// the chain. It fails with [ErrAlreadyRunning] while a run is active — use
// [Supervisor.UpdatePlugins] to change effects live.
func (s *Supervisor) UsePlugins(specs ...effects.PluginSpec) error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return ErrDestroyed
	}
	if s.state == StateRunning || s.state == StateTerminating {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	registry := s.registry
	s.mu.Unlock()

	if len(specs) == 0 {
		s.mu.Lock()
		if s.coord != nil {
			s.coord.Destroy()
			s.coord = nil
		}
		s.mu.Unlock()
		return nil
	}

	next, err := s.buildChain(registry, specs)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateRunning || s.state == StateTerminating {
		return ErrAlreadyRunning
	}
	if s.coord == nil {
		s.coord = chain.NewCoordinator(next, chain.WithTailSink(s.tailSink))
		return nil
	}
	_, err = s.coord.Swap(next, chain.SwapHard)
	return err
}

// UpdatePlugins hot-swaps the effect chain of the active run. The returned
// channel closes once the replacement chain is serving audio; parameter
// syncs complete synchronously. While no run is active it behaves like
// [Supervisor.UsePlugins].
//
// A resolution failure leaves the running chain untouched. A swap already
// in flight surfaces as [chain.ErrSwapInProgress]; the caller decides
// whether to reissue.
func (s *Supervisor) UpdatePlugins(specs ...effects.PluginSpec) (<-chan struct{}, error) {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return nil, ErrDestroyed
	}
	running := s.state == StateRunning || s.state == StateTerminating
	coord := s.coord
	registry := s.registry
	s.mu.Unlock()

	if !running {
		if err := s.UsePlugins(specs...); err != nil {
			return nil, err
		}
		return closedChan, nil
	}
	if coord == nil {
		return nil, ErrNoChain
	}

	next, err := s.buildChain(registry, specs)
	if err != nil {
		return nil, err
	}
	done, err := coord.Swap(next, chain.SwapSoft)
	if err != nil {
		return nil, err
	}
	s.log.Info("effect chain swap requested", "units", len(specs))
	return done, nil
}

// buildChain resolves specs into a chain in this supervisor's format.
func (s *Supervisor) buildChain(registry *effects.Registry, specs []effects.PluginSpec) (*chain.Chain, error) {
	if registry == nil {
		return nil, fmt.Errorf("streamer: no plugin registry configured")
	}
	units, err := registry.ResolveAll(s.format, specs)
	if err != nil {
		return nil, err
	}
	return chain.New(s.format, units...)
}

// tailSink routes a fallback-swap tail into the active run's output.
func (s *Supervisor) tailSink(b []byte) {
	s.mu.Lock()
	rs := s.active
	s.mu.Unlock()
	if rs != nil {
		_ = rs.out.write(b)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Effect parameter controls
// ─────────────────────────────────────────────────────────────────────────────

// units snapshots the active chain's units.
func (s *Supervisor) units() ([]effects.Unit, error) {
	s.mu.Lock()
	destroyed := s.destroyed
	coord := s.coord
	s.mu.Unlock()
	if destroyed {
		return nil, ErrDestroyed
	}
	if coord == nil {
		return nil, ErrNoChain
	}
	return coord.Units(), nil
}

// SetVolume sets the output level on the first unit that supports it.
func (s *Supervisor) SetVolume(v float64) error {
	units, err := s.units()
	if err != nil {
		return err
	}
	for _, u := range units {
		if c, ok := u.(effects.VolumeSetter); ok {
			return c.SetVolume(v)
		}
	}
	return ErrNoCapableUnit
}

// Fade ramps the volume to target over d on the first unit that supports
// fading. The returned channel closes when the ramp completes or is
// replaced.
func (s *Supervisor) Fade(target float64, d time.Duration) (<-chan struct{}, error) {
	units, err := s.units()
	if err != nil {
		return nil, err
	}
	for _, u := range units {
		if c, ok := u.(effects.Fader); ok {
			return c.Fade(target, d)
		}
	}
	return nil, ErrNoCapableUnit
}

// SetBass sets the bass control from a raw value in [-20, 20].
func (s *Supervisor) SetBass(raw float64) error {
	units, err := s.units()
	if err != nil {
		return err
	}
	for _, u := range units {
		if c, ok := u.(effects.ToneSetter); ok {
			c.SetBass(raw)
			return nil
		}
	}
	return ErrNoCapableUnit
}

// SetTreble sets the treble control from a raw value in [-20, 20].
func (s *Supervisor) SetTreble(raw float64) error {
	units, err := s.units()
	if err != nil {
		return err
	}
	for _, u := range units {
		if c, ok := u.(effects.ToneSetter); ok {
			c.SetTreble(raw)
			return nil
		}
	}
	return ErrNoCapableUnit
}

// SetCompressor toggles the compressor on the first unit that has one.
func (s *Supervisor) SetCompressor(enabled bool) error {
	units, err := s.units()
	if err != nil {
		return err
	}
	for _, u := range units {
		if c, ok := u.(effects.CompressorSetter); ok {
			c.SetCompressor(enabled)
			return nil
		}
	}
	return ErrNoCapableUnit
}

// EffectParameters returns the current parameters of the first unit that
// exposes them.
func (s *Supervisor) EffectParameters() (effects.Parameters, error) {
	units, err := s.units()
	if err != nil {
		return effects.Parameters{}, err
	}
	for _, u := range units {
		if c, ok := u.(effects.ParameterSyncable); ok {
			return c.Snapshot(), nil
		}
	}
	return effects.Parameters{}, ErrNoCapableUnit
}

// ─────────────────────────────────────────────────────────────────────────────
// Run internals
// ─────────────────────────────────────────────────────────────────────────────

// await reaps the process after both pipe readers are done — Wait closes
// the pipes, so it must never race them — and interprets the exit.
func (s *Supervisor) await(rs *runState) {
	<-rs.readDone
	<-rs.stderrDone
	err := rs.cmd.Wait()
	s.handleExit(rs, err)
}

// handleExit turns the process's exit status into the run verdict.
func (s *Supervisor) handleExit(rs *runState, waitErr error) {
	s.mu.Lock()
	s.stopTimersLocked(rs)
	s.mu.Unlock()

	var exitErr *exec.ExitError
	isExitErr := errors.As(waitErr, &exitErr)

	code := -1
	signal := ""
	if ps := rs.cmd.ProcessState; ps != nil {
		code = ps.ExitCode()
		if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			signal = ws.Signal().String()
		}
	}

	s.log.Debug("process exited",
		"run", rs.id,
		"code", code,
		"signal", signal,
		"intentional", rs.intentional.Load(),
	)

	// Failure verdicts must land before markProcessExited: the pipeline
	// has usually marked the output flags by now, so marking first would
	// let the success path settle the tracker ahead of the error.
	switch {
	case rs.timedOut.Load():
		// The timeout verdict stands even when the kill landed inside
		// the grace window.
		rs.tracker.finalize(&TimeoutError{Limit: s.timeout})
		rs.tracker.markProcessExited()
	case waitErr != nil && !isExitErr:
		rs.tracker.finalize(&StreamError{Stage: "wait", Err: waitErr})
		rs.tracker.markProcessExited()
	case code == 0 && signal == "":
		rs.tracker.markProcessExited()
	case signal != "" && rs.intentional.Load():
		s.mu.Lock()
		rs.signal = signal
		s.mu.Unlock()
		rs.tracker.markProcessExited()
	default:
		rs.tracker.finalize(&ExitError{Code: code, Signal: signal, Stderr: rs.tail.String()})
		rs.tracker.markProcessExited()
	}
}

// runFinished is the tracker's onFinish hook: the single place a run's
// terminal bookkeeping happens.
func (s *Supervisor) runFinished(rs *runState, err error) {
	s.mu.Lock()
	s.stopTimersLocked(rs)
	signal := rs.signal
	if s.active == rs {
		s.state = StateFinished
	}
	s.mu.Unlock()

	if err != nil {
		// Make sure the process is gone; a stream failure can finalize
		// while it is still alive.
		_ = s.signalProcess(rs, syscall.SIGKILL)
		rs.out.destroy(err)
		s.log.Error("run failed", "run", rs.id, "error", err)
		s.emit(Event{Kind: EventError, Run: rs.id, Err: err})
		return
	}
	if signal != "" {
		s.log.Info("run terminated on request", "run", rs.id, "signal", signal)
		s.emit(Event{Kind: EventTerminated, Run: rs.id, Signal: signal})
		return
	}
	s.log.Info("run completed", "run", rs.id)
	s.emit(Event{Kind: EventEnd, Run: rs.id})
}

// stopRun requests a graceful termination with SIGKILL escalation.
func (s *Supervisor) stopRun(rs *runState) {
	if rs.tracker.Finished() {
		return
	}
	rs.intentional.Store(true)
	s.setTerminating(rs)
	_ = s.signalProcess(rs, syscall.SIGTERM)

	s.mu.Lock()
	if rs.escalateTimer == nil {
		rs.escalateTimer = time.AfterFunc(s.killGrace, func() {
			if !rs.tracker.Finished() {
				s.log.Warn("process ignored SIGTERM, escalating", "run", rs.id)
				_ = s.signalProcess(rs, syscall.SIGKILL)
			}
		})
	}
	s.mu.Unlock()
}

// timeoutExceeded fires when the wall-clock limit passes: kill outright,
// and force the timeout verdict if the exit does not land within the grace
// window.
func (s *Supervisor) timeoutExceeded(rs *runState) {
	if rs.tracker.Finished() {
		return
	}
	rs.timedOut.Store(true)
	rs.intentional.Store(true)
	s.setTerminating(rs)
	s.log.Warn("run exceeded timeout, killing process", "run", rs.id, "timeout", s.timeout)
	_ = s.signalProcess(rs, syscall.SIGKILL)

	s.mu.Lock()
	rs.graceTimer = time.AfterFunc(s.killGrace, func() {
		rs.tracker.finalize(&TimeoutError{Limit: s.timeout})
	})
	s.mu.Unlock()
}

// consumerClosed reacts to the consumer closing the output stream: record
// the flag and wind the run down, there is nobody left to stream to.
func (s *Supervisor) consumerClosed(rs *runState) {
	rs.tracker.markConsumerClosed()
	if rs.tracker.Finished() {
		return
	}
	s.log.Debug("output closed by consumer, stopping run", "run", rs.id)
	s.stopRun(rs)
}

// streamFailed classifies a broken stream link. Failures that are the
// expected fallout of a local termination are swallowed; anything else
// finalizes the run. Returns whether the failure was treated as fatal.
func (s *Supervisor) streamFailed(rs *runState, stage string, err error) bool {
	if rs.tracker.Finished() || rs.intentional.Load() || rs.timedOut.Load() {
		s.log.Debug("stream error after termination", "run", rs.id, "stage", stage, "error", err)
		return false
	}
	s.mu.Lock()
	terminating := s.active == rs && s.state == StateTerminating
	s.mu.Unlock()
	if terminating {
		s.log.Debug("stream error while terminating", "run", rs.id, "stage", stage, "error", err)
		return false
	}
	return rs.tracker.finalize(&StreamError{Stage: stage, Err: err})
}

// watchContext maps context cancellation onto a graceful stop.
func (s *Supervisor) watchContext(ctx context.Context, rs *runState) {
	select {
	case <-ctx.Done():
		s.log.Debug("context cancelled, stopping run", "run", rs.id)
		s.stopRun(rs)
	case <-rs.tracker.Done():
	}
}

// scanStderr captures the stderr tail and scrapes progress tokens. The
// transcoder separates in-place stats updates with carriage returns, so
// the scanner splits on both \r and \n.
func (s *Supervisor) scanStderr(rs *runState, r io.Reader, duration time.Duration) {
	parser := &progressParser{duration: duration}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	sc.Split(scanStderrLines)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		rs.tail.writeLine(line)
		if !s.progress {
			continue
		}
		if snapshot, ok := parser.parseLine(line); ok {
			s.mu.Lock()
			rs.progress = snapshot
			s.mu.Unlock()
			s.emit(Event{Kind: EventProgress, Run: rs.id, Progress: snapshot})
		}
	}
	// A scan error here is the pipe closing on exit; the exit status is
	// authoritative.
}

// scanStderrLines is a [bufio.SplitFunc] splitting on \r as well as \n.
func scanStderrLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// copyStdin feeds the position-0 input source into the process and closes
// the pipe so the process sees end-of-input. A broken pipe is normal — the
// process may stop reading whenever it has enough — so only genuine source
// failures are surfaced.
func (s *Supervisor) copyStdin(rs *runState, w io.WriteCloser, r io.Reader) {
	_, err := io.Copy(w, r)
	if cerr := w.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err == nil {
		return
	}
	if errors.Is(err, syscall.EPIPE) || errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		s.log.Debug("stdin closed early by process", "run", rs.id, "error", err)
		return
	}
	s.streamFailed(rs, "stdin", err)
}

// signalProcess delivers sig, treating an already-dead process as success.
func (s *Supervisor) signalProcess(rs *runState, sig os.Signal) error {
	proc := rs.cmd.Process
	if proc == nil {
		return nil
	}
	err := proc.Signal(sig)
	if err == nil || errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return fmt.Errorf("streamer: signal %v: %w", sig, err)
}

// setTerminating moves an active run into the terminating state.
func (s *Supervisor) setTerminating(rs *runState) {
	s.mu.Lock()
	if s.active == rs && s.state == StateRunning {
		s.state = StateTerminating
	}
	s.mu.Unlock()
}

// stopTimersLocked stops any armed run timers. Must be called with s.mu
// held.
func (s *Supervisor) stopTimersLocked(rs *runState) {
	if rs.timeoutTimer != nil {
		rs.timeoutTimer.Stop()
		rs.timeoutTimer = nil
	}
	if rs.graceTimer != nil {
		rs.graceTimer.Stop()
		rs.graceTimer = nil
	}
	if rs.escalateTimer != nil {
		rs.escalateTimer.Stop()
		rs.escalateTimer = nil
	}
}

// emit publishes an event. Progress snapshots are droppable; control events
// block until delivered unless the supervisor is destroyed.
func (s *Supervisor) emit(ev Event) {
	ev.Time = time.Now()
	if ev.Kind == EventProgress {
		select {
		case s.events <- ev:
		default:
		}
		return
	}
	select {
	case s.events <- ev:
	case <-s.destroyCh:
	}
}
