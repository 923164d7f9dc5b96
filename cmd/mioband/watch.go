package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/mioband/internal/band"
	"github.com/srg/mioband/internal/devicefactory"
	"github.com/srg/mioband/internal/groutine"
	"github.com/srg/mioband/internal/presenter"
	"github.com/srg/mioband/internal/session"
	"github.com/srg/mioband/pkg/config"
	"golang.org/x/term"
)

var (
	watchConfigPath string
	watchTargetName string
	watchMotorDelay time.Duration
	watchColor      string
	watchOutput     string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Connect to the band and show live telemetry",
	Long: `Scan for the band, connect to it and show its telemetry until interrupted.

StateScanning starts as soon as Bluetooth is powered on and continues until a device
advertising the target name appears. Press Enter on an interactive terminal, or
send SIGHUP, to drop the current connection and search again.`,
	Example: `  mioband watch
  mioband watch --target-name "MIO GLOBAL" --output json
  mioband watch --config ~/.config/mioband.yaml --verbose`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	addWatchFlags(watchCmd)
}

func addWatchFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&watchConfigPath, "config", "", "Path to a YAML config file")
	cmd.Flags().StringVar(&watchTargetName, "target-name", "", "Advertised name of the band (default \"MIO GLOBAL\")")
	cmd.Flags().DurationVar(&watchMotorDelay, "motor-delay", 0, "Pause between the two motor-control writes (default 10ms)")
	cmd.Flags().StringVar(&watchColor, "color", "", "Colour mode: auto, always or never (default auto)")
	cmd.Flags().StringVar(&watchOutput, "output", "", "Output format: text or json (default text)")
}

// radioAdapter is the adapter surface watch drives.
type radioAdapter interface {
	session.Adapter
	Events() <-chan session.Event
	Start(ctx context.Context)
	Close() error
}

var newRadioAdapter = func(cfg *config.Config, logger *logrus.Logger) radioAdapter {
	return devicefactory.NewAdapter(cfg, logger)
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg, err := loadWatchConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	refresh := make(chan struct{}, 1)
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	groutine.Go(ctx, "watch-sighup", func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				requestRefresh(refresh)
			}
		}
	})

	if isTerminal(os.Stdin) {
		groutine.Go(ctx, "watch-keys", func(ctx context.Context) {
			readRefreshKeys(ctx, cmd.InOrStdin(), refresh)
		})
	}

	stderrTTY := isTerminal(cmd.ErrOrStderr())
	progress := stderrTTY && !isTerminal(cmd.OutOrStdout()) && cfg.Output == presenter.OutputText

	return watch(ctx, watchParams{
		cfg:      cfg,
		logger:   logger,
		adapter:  newRadioAdapter(cfg, logger),
		out:      cmd.OutOrStdout(),
		errOut:   cmd.ErrOrStderr(),
		refresh:  refresh,
		progress: progress,
	})
}

type watchParams struct {
	cfg      *config.Config
	logger   *logrus.Logger
	adapter  radioAdapter
	out      io.Writer
	errOut   io.Writer
	refresh  <-chan struct{}
	progress bool
	inline   *bool
}

// watch runs one session until ctx ends. Interrupting while the band has not
// been found reports DeviceNotFound.
func watch(ctx context.Context, p watchParams) error {
	console, err := presenter.NewConsole(p.out, presenter.Options{
		Output: p.cfg.Output,
		Color:  p.cfg.Color,
		Inline: p.inline,
	}, p.logger)
	if err != nil {
		return err
	}

	sink := newProgressSink(console, p.errOut, p.cfg.TargetName, p.progress)
	sess := devicefactory.NewSession(p.cfg, p.adapter, sink, p.logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.adapter.Start(ctx)
	defer func() {
		if err := p.adapter.Close(); err != nil {
			p.logger.WithError(err).Debug("Adapter close failed")
		}
	}()

	rendered := make(chan struct{})
	groutine.Go(ctx, "watch-console", func(ctx context.Context) {
		defer close(rendered)
		console.Run(ctx)
	})

	groutine.Go(ctx, "watch-refresh", func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.refresh:
				p.logger.Info("Refresh requested")
				sess.Refresh()
			}
		}
	})

	runErr := sess.Run(ctx, p.adapter.Events())
	sink.stop()
	cancel()
	<-rendered

	logSummary(p.logger, sess)
	if sess.State() == session.StateScanning {
		notFound := &band.Error{Kind: band.DeviceNotFound, Err: fmt.Errorf("no device advertised %q", p.cfg.TargetName)}
		p.logger.Warn(FormatUserError(notFound))
	}
	return runErr
}

// logSummary logs the last telemetry seen. Call after the session loop has returned.
func logSummary(logger *logrus.Logger, sess *session.Session) {
	fields := logrus.Fields{
		"state": sess.State(),
		"power": sess.Power(),
	}
	snap := sess.Snapshot()
	if steps, ok := snap.Steps(); ok {
		fields["steps"] = steps
	}
	if battery, ok := snap.Battery(); ok {
		fields["battery"] = battery
	}
	if bpm, ok := snap.HeartRate(); ok {
		fields["heart_rate"] = bpm
	}
	logger.WithFields(fields).Info("Session ended")
}

func loadWatchConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(watchConfigPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("target-name") {
		cfg.TargetName = watchTargetName
	}
	if flags.Changed("motor-delay") {
		cfg.MotorDelay = watchMotorDelay
	}
	if flags.Changed("color") {
		cfg.Color = watchColor
	}
	if flags.Changed("output") {
		cfg.Output = watchOutput
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}

// readRefreshKeys requests a refresh for every line read from in.
func readRefreshKeys(ctx context.Context, in io.Reader, refresh chan<- struct{}) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		requestRefresh(refresh)
	}
}

// requestRefresh coalesces refresh requests that arrive faster than they are served.
func requestRefresh(refresh chan<- struct{}) {
	select {
	case refresh <- struct{}{}:
	default:
	}
}

func isTerminal(v interface{}) bool {
	f, ok := v.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
