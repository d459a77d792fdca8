// Command solenoid-controller drives solenoids from MQTT trigger commands and
// publishes coil and fault events.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sweeney/solenoid-controller/internal/board"
	"github.com/sweeney/solenoid-controller/internal/config"
	"github.com/sweeney/solenoid-controller/internal/mqtt"
	"github.com/sweeney/solenoid-controller/internal/solenoid"
	"github.com/sweeney/solenoid-controller/internal/status"
	"github.com/sweeney/solenoid-controller/internal/web"
)

// The controller rate-limits itself to 1ms; ticking faster keeps the loop
// period close to that despite timer jitter.
const loopTick = 500 * time.Microsecond

var (
	flagConfig       string
	flagDebug        bool
	flagSimulate     bool
	flagProbeTimeout time.Duration
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "solenoid-controller",
		Short: "Multi-port solenoid power controller",
		Long: `solenoid-controller measures the coils attached to its ports, drives
them with peak-and-hold power pulses on MQTT trigger commands and cuts all
power when the total current exceeds the configured limit.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "Path to the YAML config file")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&flagSimulate, "simulate", false, "Use simulated coils instead of the driver board")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the controller daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()
			return runDaemon(cfg, logger)
		},
	}

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return cfg.Dump(cmd.OutOrStdout())
		},
	}

	probeCmd := &cobra.Command{
		Use:   "probe",
		Short: "Measure the coil resistance of every port and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()
			return runProbe(cfg, logger, cmd.OutOrStdout())
		},
	}
	probeCmd.Flags().DurationVar(&flagProbeTimeout, "timeout", time.Minute, "Give up if calibration takes longer")

	rootCmd.AddCommand(runCmd, configCmd, probeCmd)
	return rootCmd
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagSimulate {
		cfg.Device.Simulate = true
	}
	return cfg, nil
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger, err := newLogger(flagDebug)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, nil
}

// openBoard returns the driver board, or simulated coils in simulate mode.
func openBoard(cfg *config.Config, logger *zap.Logger) (board.Board, error) {
	if cfg.Device.Simulate {
		logger.Info("using simulated coils", zap.Int("ports", cfg.Device.Ports))
		return simulatedBoard(cfg.Device.Ports), nil
	}

	b, err := board.NewRealBoard(cfg.ToBoard(), logger.Named("board"))
	if err != nil {
		return nil, fmt.Errorf("init board: %w", err)
	}
	return b, nil
}

// simulatedBoard attaches an 8Ω coil to every port but the last, which is
// left open so that both coil states show up.
func simulatedBoard(ports int) *board.FakeBoard {
	coils := make([]float64, ports)
	for i := range coils {
		coils[i] = 8
	}
	if ports > 1 {
		coils[ports-1] = board.NoCoil
	}
	b := board.NewFakeBoard(12, coils...)
	b.MaxRecorded = 64
	return b
}

// newController creates the controller with the rail off, every port
// de-energized and the indicators initialized.
func newController(cfg solenoid.Config, hw solenoid.Hardware, ports int, now func() time.Time) (*solenoid.Controller, error) {
	ctrl, err := solenoid.New(cfg, hw, ports, now)
	if err != nil {
		return nil, err
	}
	ctrl.Reset()
	return ctrl, nil
}

// hardware forwards indicator changes to the status tracker as well as the
// board.
type hardware struct {
	board.Board
	tracker *status.Tracker
}

func (h *hardware) SetIndicator(mode solenoid.IndicatorMode, port int, value float64) {
	h.Board.SetIndicator(mode, port, value)
	h.tracker.SetIndicator(mode, port, value)
}

func statusConfig(cfg *config.Config) status.Config {
	return status.Config{
		Device:      cfg.Device.Name,
		Ports:       cfg.Device.Ports,
		CurrentMax:  cfg.Solenoid.CurrentMax,
		HeartbeatMs: cfg.MQTT.Heartbeat.Milliseconds(),
		Broker:      cfg.MQTT.Broker,
		HTTPAddr:    cfg.HTTP.Addr,
		Simulated:   cfg.Device.Simulate,
	}
}

func runDaemon(cfg *config.Config, logger *zap.Logger) error {
	b, err := openBoard(cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(time.Now(), statusConfig(cfg))

	ctrl, err := newController(cfg.ToSolenoid(), &hardware{Board: b, tracker: tracker}, cfg.Device.Ports, time.Now)
	if err != nil {
		return err
	}
	tracker.Update(ctrl.Snapshot(), time.Now())

	var (
		pub        mqtt.Publisher
		cmds       <-chan mqtt.Trigger
		connStatus mqtt.ConnectionStatus
	)
	if cfg.MQTT.Broker != "" {
		client, err := mqtt.NewRealClient(mqtt.Options{
			Broker:             cfg.MQTT.Broker,
			Device:             cfg.Device.Name,
			Ports:              cfg.Device.Ports,
			Username:           cfg.MQTT.Username,
			Password:           cfg.MQTT.Password,
			BufferSize:         cfg.MQTT.BufferSize,
			OnConnectionChange: tracker.SetMQTTConnected,
		}, logger)
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		// The loop must never wait on the broker.
		async := mqtt.NewAsyncPublisher(client, mqtt.DefaultQueueSize, logger)
		defer async.Close()
		pub, cmds, connStatus = async, client.Commands(), client

		// Publish startup event with full status snapshot
		tracker.SetMQTTConnected(client.IsConnected())
		snap := tracker.Snapshot()
		startup := mqtt.SystemEvent{
			Timestamp:  snap.Now,
			Event:      "STARTUP",
			Retained:   true,
			RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
		}
		if err := pub.PublishSystem(startup); err != nil {
			logger.Warn("failed to publish startup event", zap.Error(err))
		}
	} else {
		logger.Info("mqtt disabled")
	}

	// Start HTTP status server
	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker, cfg.HTTP.WSInterval)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", zap.Error(err))
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(ctx)
		}()
		logger.Info("http status server listening", zap.String("addr", cfg.HTTP.Addr))
	}

	logger.Info("started",
		zap.String("device", cfg.Device.Name),
		zap.Int("ports", cfg.Device.Ports),
		zap.Float64("current_max", cfg.Solenoid.CurrentMax),
		zap.String("broker", cfg.MQTT.Broker),
		zap.Duration("heartbeat", cfg.MQTT.Heartbeat))

	ticker := time.NewTicker(loopTick)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(ctrl, cmds, pub, connStatus, tracker, logger, cfg.MQTT.Heartbeat, time.Now, ticker.C, sigCh)
}

func runProbe(cfg *config.Config, logger *zap.Logger, out io.Writer) error {
	b, err := openBoard(cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	ctrl, err := newController(cfg.ToSolenoid(), b, cfg.Device.Ports, time.Now)
	if err != nil {
		return err
	}
	defer ctrl.Reset()

	ticker := time.NewTicker(loopTick)
	defer ticker.Stop()

	logger.Info("calibrating", zap.Duration("timeout", flagProbeTimeout))
	if err := calibrate(ctrl, ticker.C, time.After(flagProbeTimeout)); err != nil {
		return err
	}
	printPorts(out, ctrl.Snapshot())
	return nil
}
