// Command fluentstream runs one media transcode through the supervised
// engine, applies the configured effect chain, and writes the processed PCM
// to a sink. While the run is live, edits to the config file hot-swap the
// effect chain without restarting the process.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Dirold2/fluent-streamer-sub000/internal/config"
	"github.com/Dirold2/fluent-streamer-sub000/internal/health"
	"github.com/Dirold2/fluent-streamer-sub000/internal/observe"
	"github.com/Dirold2/fluent-streamer-sub000/pkg/audio"
	"github.com/Dirold2/fluent-streamer-sub000/pkg/audio/effects"
	"github.com/Dirold2/fluent-streamer-sub000/pkg/audio/wavio"
	"github.com/Dirold2/fluent-streamer-sub000/pkg/streamer"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	inputPath := flag.String("input", "", "media file or URL to transcode; '-' reads from standard input")
	outputPath := flag.String("output", "", "write raw PCM to this file; '-' writes to standard output")
	wavPath := flag.String("wav", "", "write a WAV file to this path instead of raw PCM")
	durationHint := flag.Float64("duration", 0, "input duration in seconds, used for progress percentages")
	watch := flag.Bool("watch", true, "hot-reload the effect chain when the config file changes")
	flag.Parse()

	if *inputPath == "" {
		fmt.Fprintln(os.Stderr, "fluentstream: -input is required")
		flag.Usage()
		return 2
	}
	if *outputPath != "" && *wavPath != "" {
		fmt.Fprintln(os.Stderr, "fluentstream: -output and -wav are mutually exclusive")
		return 2
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "fluentstream: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "fluentstream: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level lives in a LevelVar so config reloads can adjust it live.
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Level())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("fluentstream starting",
		"config", *configPath,
		"input", *inputPath,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "fluentstream"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Effect registry + supervisor ──────────────────────────────────────────
	registry := effects.NewRegistry()
	effects.RegisterBuiltins(registry)

	sup, err := streamer.New(supervisorOptions(cfg, logger, registry)...)
	if err != nil {
		slog.Error("failed to create supervisor", "err", err)
		return 1
	}
	defer sup.Destroy()

	if err := sup.UsePlugins(cfg.EffectSpecs()...); err != nil {
		slog.Error("failed to resolve effect chain", "err", err)
		return 1
	}

	// ── Config watcher ────────────────────────────────────────────────────────
	if *watch {
		watcher, werr := config.NewWatcher(*configPath, func(old, new *config.Config) {
			applyConfigChange(ctx, sup, metrics, level, old, new)
		})
		if werr != nil {
			slog.Warn("config watcher disabled", "err", werr)
		} else {
			defer watcher.Stop()
		}
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg, *inputPath, sinkLabel(*outputPath, *wavPath))

	// ── Run ───────────────────────────────────────────────────────────────────
	// The transcode job drives the lifetime: when it settles, the metrics
	// endpoint and the event loop are wound down via runCtx.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)

	if cfg.Server.MetricsAddr != "" {
		g.Go(func() error {
			return serveMetrics(gctx, cfg.Server.MetricsAddr, metrics, cfg.Engine.Binary)
		})
	}
	g.Go(func() error {
		consumeEvents(gctx, sup.Events(), metrics)
		return nil
	})
	g.Go(func() error {
		defer cancel()
		return transcode(gctx, sup, cfg, *inputPath, *outputPath, *wavPath, *durationHint, metrics)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run failed", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Supervisor wiring ───────────────────────────────────────────────────────────

// supervisorOptions translates the engine and audio config sections into
// supervisor options.
func supervisorOptions(cfg *config.Config, logger *slog.Logger, registry *effects.Registry) []streamer.Option {
	opts := []streamer.Option{
		streamer.WithBinary(cfg.Engine.Binary),
		streamer.WithFormat(cfg.Format()),
		streamer.WithStderrTailSize(cfg.Engine.StderrTailBytes),
		streamer.WithProgress(cfg.Engine.Progress),
		streamer.WithTrailingSilence(time.Duration(cfg.Audio.TrailingSilenceMs) * time.Millisecond),
		streamer.WithLogger(logger),
		streamer.WithRegistry(registry),
	}
	if len(cfg.Engine.ExtraArgs) > 0 {
		opts = append(opts, streamer.WithExtraArgs(cfg.Engine.ExtraArgs...))
	}
	if cfg.Engine.TimeoutMs > 0 {
		opts = append(opts, streamer.WithTimeout(time.Duration(cfg.Engine.TimeoutMs)*time.Millisecond))
	}
	if cfg.Engine.KillGraceMs > 0 {
		opts = append(opts, streamer.WithKillGrace(time.Duration(cfg.Engine.KillGraceMs)*time.Millisecond))
	}
	if cfg.Audio.IdleDrainMs > 0 {
		opts = append(opts, streamer.WithDrainWindow(time.Duration(cfg.Audio.IdleDrainMs)*time.Millisecond))
	}
	return opts
}

// buildInvocation assembles the transcoder arguments for one run: decode the
// input, drop any video stream, and emit raw 16-bit PCM on stdout.
func buildInvocation(f audio.Format, input string, durationSecs float64) *streamer.Invocation {
	inv := &streamer.Invocation{}
	if input == "-" {
		inv.Args = append(inv.Args, "-i", "pipe:0")
		inv.Inputs = []streamer.InputSource{{Position: 0, Reader: os.Stdin}}
	} else {
		inv.Args = append(inv.Args, "-i", input)
	}
	inv.Args = append(inv.Args,
		"-vn",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(f.SampleRate),
		"-ac", strconv.Itoa(f.Channels),
		"pipe:1",
	)
	if durationSecs > 0 {
		inv.Duration = time.Duration(durationSecs * float64(time.Second))
	}
	return inv
}

// transcode performs the whole job: open the sink, start the run, copy the
// processed stream, and report the verdict.
func transcode(ctx context.Context, sup *streamer.Supervisor, cfg *config.Config, input, output, wavOut string, durationSecs float64, metrics *observe.Metrics) error {
	ctx, span := observe.StartSpan(ctx, "transcode.run")
	defer span.End()
	log := observe.Logger(ctx)

	sink, sinkName, err := openSink(output, wavOut, cfg.Format())
	if err != nil {
		return err
	}

	inv := buildInvocation(cfg.Format(), input, durationSecs)
	run, err := sup.Run(ctx, inv)
	if err != nil {
		sink.Close()
		return err
	}

	metrics.ActiveRuns.Add(ctx, 1)
	defer metrics.ActiveRuns.Add(ctx, -1)

	log.Info("run started", "id", run.ID(), "sink", sinkName)

	written, copyErr := io.Copy(sink, run.Output())
	metrics.OutputBytes.Add(ctx, written)

	<-run.Done()

	closeErr := sink.Close()

	// The run's verdict outranks the copy error: when the run rejects, the
	// output stream surfaces the same failure to the copier.
	if verdict := run.Err(); verdict != nil {
		return verdict
	}
	if copyErr != nil {
		return fmt.Errorf("write to %s: %w", sinkName, copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("finalize %s: %w", sinkName, closeErr)
	}

	log.Info("run complete", "bytes", written, "sink", sinkName)
	return nil
}

// ── Output sinks ────────────────────────────────────────────────────────────────

// nopCloser adapts writers that must not be closed (stdout, io.Discard).
type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// wavSink finalizes the WAV header and then the file beneath it.
type wavSink struct {
	*wavio.Writer
	file *os.File
}

func (s *wavSink) Close() error {
	err := s.Writer.Close()
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// openSink resolves the output flags into a writable sink and a label for
// logs. With no sink configured the audio is processed and discarded, which
// still exercises the chain and progress reporting.
func openSink(output, wavOut string, f audio.Format) (io.WriteCloser, string, error) {
	switch {
	case wavOut != "":
		file, err := os.Create(wavOut)
		if err != nil {
			return nil, "", fmt.Errorf("create wav output: %w", err)
		}
		w, err := wavio.NewWriter(file, f)
		if err != nil {
			file.Close()
			return nil, "", err
		}
		return &wavSink{Writer: w, file: file}, "wav:" + wavOut, nil
	case output == "-":
		return nopCloser{os.Stdout}, "stdout", nil
	case output != "":
		file, err := os.Create(output)
		if err != nil {
			return nil, "", fmt.Errorf("create output: %w", err)
		}
		return file, "pcm:" + output, nil
	default:
		slog.Warn("no output sink configured; processed audio will be discarded")
		return nopCloser{io.Discard}, "discard", nil
	}
}

// sinkLabel names the sink for the startup summary without opening it.
func sinkLabel(output, wavOut string) string {
	switch {
	case wavOut != "":
		return "wav:" + wavOut
	case output == "-":
		return "stdout"
	case output != "":
		return "pcm:" + output
	default:
		return "(discard)"
	}
}

// ── Event loop ──────────────────────────────────────────────────────────────────

// consumeEvents drains supervisor notifications into logs and metrics until
// ctx is cancelled.
func consumeEvents(ctx context.Context, events <-chan streamer.Event, metrics *observe.Metrics) {
	var spawned time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			switch ev.Kind {
			case streamer.EventStart:
				slog.Info("spawning transcoder", "run", ev.Run, "command", ev.Command)
			case streamer.EventSpawn:
				spawned = ev.Time
				slog.Info("transcoder alive", "run", ev.Run, "pid", ev.PID)
			case streamer.EventProgress:
				metrics.RecordProgress(ctx, ev.Progress.FPS, ev.Progress.Speed)
				slog.Debug("progress",
					"run", ev.Run,
					"out_time", ev.Progress.OutTime,
					"speed", ev.Progress.Speed,
					"percent", fmt.Sprintf("%.1f", ev.Progress.Percent),
				)
			case streamer.EventEnd:
				metrics.RecordRun(ctx, "completed", runSeconds(spawned, ev.Time))
				slog.Info("run completed", "run", ev.Run)
			case streamer.EventTerminated:
				metrics.RecordRun(ctx, "terminated", runSeconds(spawned, ev.Time))
				slog.Info("run terminated", "run", ev.Run, "signal", ev.Signal)
			case streamer.EventError:
				metrics.RecordRun(ctx, outcomeForError(ev.Err), runSeconds(spawned, ev.Time))
				slog.Error("run failed", "run", ev.Run, "err", ev.Err)
			}
		}
	}
}

// outcomeForError maps a run rejection to its metric outcome label.
func outcomeForError(err error) string {
	var te *streamer.TimeoutError
	if errors.As(err, &te) {
		return "timeout"
	}
	return "error"
}

// runSeconds is the spawn-to-settle duration; zero when the process never
// came up.
func runSeconds(spawned, end time.Time) float64 {
	if spawned.IsZero() {
		return 0
	}
	return end.Sub(spawned).Seconds()
}

// ── Config reload ───────────────────────────────────────────────────────────────

// applyConfigChange reacts to a config file edit: log level and the effect
// chain apply live, everything else needs a restart.
func applyConfigChange(ctx context.Context, sup *streamer.Supervisor, metrics *observe.Metrics, level *slog.LevelVar, old, new *config.Config) {
	d := config.Diff(old, new)

	if d.LogLevelChanged {
		level.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}

	if d.EffectsChanged {
		done, err := sup.UpdatePlugins(new.EffectSpecs()...)
		if err != nil {
			slog.Error("failed to apply new effect chain", "err", err)
		} else {
			select {
			case <-done:
				// Same shape: parameters were synced in place.
				metrics.RecordSwap(ctx, "parameter")
				slog.Info("effect parameters updated", "units", len(new.Effects))
			default:
				metrics.RecordSwap(ctx, "soft")
				go func() {
					select {
					case <-done:
						slog.Info("effect chain swapped", "units", len(new.Effects))
					case <-ctx.Done():
					}
				}()
			}
		}
	}

	if d.EngineChanged || d.AudioChanged || d.MetricsAddrChanged {
		slog.Warn("engine, audio, or metrics settings changed; restart to apply them")
	}
}

// ── Metrics endpoint ────────────────────────────────────────────────────────────

// serveMetrics exposes /metrics, /healthz, and /readyz until ctx is
// cancelled.
func serveMetrics(ctx context.Context, addr string, metrics *observe.Metrics, binary string) error {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(health.BinaryChecker(binary)).Register(mux)

	srv := &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	slog.Info("metrics endpoint listening", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics endpoint shutdown: %w", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics endpoint: %w", err)
	}
}

// ── Startup summary ─────────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, input, sink string) {
	f := cfg.Format()

	plugins := make([]string, len(cfg.Effects))
	for i, e := range cfg.Effects {
		plugins[i] = e.Plugin
	}
	effectsLine := "(none)"
	if len(plugins) > 0 {
		effectsLine = strings.Join(plugins, ", ")
	}

	timeoutLine := "none"
	if cfg.Engine.TimeoutMs > 0 {
		timeoutLine = (time.Duration(cfg.Engine.TimeoutMs) * time.Millisecond).String()
	}

	metricsLine := "(disabled)"
	if cfg.Server.MetricsAddr != "" {
		metricsLine = cfg.Server.MetricsAddr
	}

	fmt.Println("╔════════════════════════════════════════╗")
	fmt.Println("║       fluentstream — run summary       ║")
	fmt.Println("╠════════════════════════════════════════╣")
	printRow("Engine", cfg.Engine.Binary)
	printRow("Format", fmt.Sprintf("%dHz %dch", f.SampleRate, f.Channels))
	printRow("Effects", effectsLine)
	printRow("Input", input)
	printRow("Output", sink)
	printRow("Timeout", timeoutLine)
	printRow("Metrics", metricsLine)
	fmt.Println("╚════════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len(value) > 25 {
		value = value[:22] + "…"
	}
	fmt.Printf("║  %-9s : %-25s ║\n", label, value)
}
