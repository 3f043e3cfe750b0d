package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"worldtime-display/internal/clock"
	"worldtime-display/internal/config"
	"worldtime-display/internal/grpchealth"
	"worldtime-display/internal/httpapi"
	"worldtime-display/internal/logger"
	"worldtime-display/internal/metrics"
	"worldtime-display/internal/mqtt"
	"worldtime-display/internal/scheduler"
	"worldtime-display/internal/tui"
	"worldtime-display/internal/worldclock"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 5 * time.Second

var log = logger.New("main")

var (
	loadConfigFunc          = config.Load
	signalNotifyContextFunc = signal.NotifyContext
	clockSource             clock.Clock = clock.RealClock{}
	runTUIFunc                          = func(ctx context.Context, model tui.Model) error {
		return tui.Run(ctx, model)
	}
	newMetricsServerFunc = func(addr string) server {
		return metrics.NewServer(addr)
	}
	newAPIServerFunc = func(addr string, source httpapi.Source, opts ...httpapi.Option) (server, error) {
		return httpapi.NewServer(addr, source, opts...)
	}
	newHealthServerFunc = func(addr string, source grpchealth.Source, opts ...grpchealth.Option) (server, error) {
		return grpchealth.NewServer(addr, source, opts...)
	}
	newPublisherFunc = func(cfg mqtt.Config) (publisher, error) {
		return mqtt.NewPublisher(cfg)
	}
	mqttRetryInitialDelay = time.Second
)

type server interface {
	Start() error
	Shutdown(context.Context) error
}

type publisher interface {
	Connect() error
	Render(worldclock.Snapshot) error
	Close()
}

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func usageError(err error) error { return &exitError{code: 2, err: err} }

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if err := godotenv.Overload(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		_, _ = fmt.Fprintf(stderr, "load .env: %v\n", err)
		return 1
	}

	// cobra falls back to os.Args for a nil slice.
	if args == nil {
		args = []string{}
	}
	root := newRootCommand(stdout, stderr)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintf(stderr, "error: %v\n", err)
		var exit *exitError
		if errors.As(err, &exit) {
			return exit.code
		}
		return 1
	}
	return 0
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	var displayMode string

	root := &cobra.Command{
		Use:           "worldtime-display",
		Short:         "Show the current time in several world locations",
		Long:          "Shows one card per configured location with its local time and its hour difference to the home location, refreshed once a minute.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) > 0 {
				return usageError(fmt.Errorf("unknown command %q", args[0]))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfigFunc()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			if cmd.Flags().Changed("display") {
				switch displayMode {
				case config.DisplayTUI, config.DisplayPlain, config.DisplayNone:
					cfg.Display.Mode = displayMode
				default:
					return usageError(fmt.Errorf("invalid --display %q (want tui, plain or none)", displayMode))
				}
			}
			return runDisplay(cmd.Context(), cfg, stdout, stderr)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError(err)
	})
	root.Flags().StringVar(&displayMode, "display", config.DisplayTUI, "display mode: tui, plain or none (overrides DISPLAY_MODE)")

	root.AddCommand(newShowCommand(stdout), newVersionCommand(stdout))
	return root
}

func newShowCommand(stdout io.Writer) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the current times once and exit",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfigFunc()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			if err := logger.Setup(cfg.Log.Level, nil); err != nil {
				return err
			}
			model, err := newModel(cfg)
			if err != nil {
				return err
			}

			snapshot := model.Snapshot()
			if !asJSON {
				return tui.WriteTable(stdout, snapshot)
			}
			encoded, err := json.MarshalIndent(snapshot, "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(stdout, string(encoded))
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the snapshot as JSON")
	return cmd
}

func newVersionCommand(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(stdout, "worldtime-display %s\n", version)
			return err
		},
	}
}

func newModel(cfg config.Config) (*worldclock.Model, error) {
	return worldclock.New(cfg.Clock.Locations,
		worldclock.WithClock(clockSource),
		worldclock.WithReferenceUTCOffset(cfg.Clock.ReferenceUTCOffset),
	)
}

// setupLogging picks the log sink. The TUI owns the terminal, so without
// LOG_FILE its logs are discarded.
func setupLogging(cfg config.Config, stderr io.Writer) (io.Closer, error) {
	if cfg.Log.File != "" {
		file, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		if err := logger.Setup(cfg.Log.Level, file); err != nil {
			_ = file.Close()
			return nil, err
		}
		return file, nil
	}

	var w io.Writer = stderr
	if cfg.Display.Mode == config.DisplayTUI {
		w = nil
	}
	return io.NopCloser(nil), logger.Setup(cfg.Log.Level, w)
}

func runDisplay(parent context.Context, cfg config.Config, stdout, stderr io.Writer) error {
	logFile, err := setupLogging(cfg, stderr)
	if err != nil {
		return err
	}
	defer func() { _ = logFile.Close() }()

	log.Info().Str("config", cfg.String()).Msg("starting worldtime-display")

	model, err := newModel(cfg)
	if err != nil {
		return err
	}
	sched := scheduler.New(model,
		scheduler.WithClock(clockSource),
		scheduler.WithPolicy(cfg.Refresh.Policy),
		scheduler.WithInterval(cfg.Refresh.Interval),
		scheduler.WithTickInterval(cfg.Refresh.TickInterval),
	)

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signalNotifyContextFunc(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Enabled {
		metricsServer := newMetricsServerFunc(cfg.Metrics.Bind)
		go func() {
			if err := metricsServer.Start(); err != nil {
				log.Error().Err(err).Msg("metrics server stopped")
			}
		}()
		defer shutdownServer("metrics", metricsServer)
		log.Info().Str("bind", cfg.Metrics.Bind).Msg("metrics server enabled")
	}

	if cfg.API.Enabled {
		apiServer, err := newAPIServerFunc(cfg.API.Bind, model,
			httpapi.WithClock(clockSource),
			httpapi.WithAllowPublic(cfg.API.AllowPublic),
			httpapi.WithRateLimit(cfg.API.RateLimitRPS, cfg.API.RateLimitBurst),
			httpapi.WithStaleAfter(2*sched.Interval()),
		)
		if err != nil {
			return fmt.Errorf("api server: %w", err)
		}
		go func() {
			if err := apiServer.Start(); err != nil {
				log.Error().Err(err).Msg("api server stopped")
			}
		}()
		defer shutdownServer("api", apiServer)
		log.Info().Str("bind", cfg.API.Bind).Msg("snapshot api enabled")
	}

	if cfg.GRPCHealth.Enabled {
		healthServer, err := newHealthServerFunc(cfg.GRPCHealth.Bind, model,
			grpchealth.WithClock(clockSource),
			grpchealth.WithStaleAfter(2*sched.Interval()),
		)
		if err != nil {
			return fmt.Errorf("grpc health server: %w", err)
		}
		go func() {
			if err := healthServer.Start(); err != nil {
				log.Error().Err(err).Msg("grpc health server stopped")
			}
		}()
		defer shutdownServer("grpc health", healthServer)
		log.Info().Str("bind", cfg.GRPCHealth.Bind).Msg("grpc health server enabled")
	}

	var sinks scheduler.Fanout
	if cfg.MQTT.Enabled {
		pub, err := newPublisherFunc(mqtt.Config{
			BrokerURL: cfg.MQTT.BrokerURL,
			ClientID:  cfg.MQTT.ClientID,
			Topic:     cfg.MQTT.Topic,
			QoS:       cfg.MQTT.QoS,
			Retained:  cfg.MQTT.Retained,
			Username:  cfg.MQTT.Username,
			Password:  cfg.MQTT.Password,
			TLSCAFile: cfg.MQTT.TLSCAFile,
		})
		if err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
		defer pub.Close()

		// The display starts at once; the publisher joins when the broker answers.
		go func() {
			if err := connectMQTTWithRetry(ctx, pub); err != nil {
				return
			}
			if err := pub.Render(model.Snapshot()); err != nil {
				log.Warn().Err(err).Msg("initial mqtt publish failed")
			}
		}()
		sinks = append(sinks, pub)
	}

	switch cfg.Display.Mode {
	case config.DisplayTUI:
		// Runs as a tea.Cmd, so a slow broker never stalls key handling.
		program := tui.NewModel(sched, model.Snapshot(), clockSource, func(snapshot worldclock.Snapshot) {
			if err := sinks.Render(snapshot); err != nil {
				log.Warn().Err(err).Msg("sink render failed")
			}
		})
		err = runTUIFunc(ctx, program)
	case config.DisplayPlain:
		err = sched.Run(ctx, append(scheduler.Fanout{tui.NewPlainRenderer(stdout)}, sinks...))
	default:
		err = sched.Run(ctx, sinks)
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}
	log.Info().Msg("shutting down")
	return err
}

func shutdownServer(name string, srv server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Str("server", name).Msg("shutdown failed")
	}
}

// connectMQTTWithRetry keeps trying with exponential backoff and jitter
// until the broker accepts the connection or ctx is done.
func connectMQTTWithRetry(ctx context.Context, client publisher) error {
	const (
		maxDelay       = 30 * time.Second
		jitterFraction = 0.2
	)

	delay := mqttRetryInitialDelay
	rng := rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec // jitter only

	for attempt := 1; ; attempt++ {
		err := client.Connect()
		if err == nil {
			if attempt > 1 {
				log.Info().Int("attempts", attempt).Msg("mqtt connected")
			}
			return nil
		}

		wait := time.Duration(float64(delay) * (1 + (rng.Float64()*2-1)*jitterFraction))
		log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", wait).Msg("mqtt connect failed")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		delay = min(delay*2, maxDelay)
	}
}
