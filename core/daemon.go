/*
Author: Paul Côté
Last Change Author: Paul Côté
Last Date Changed: 2026/10/19
*/

package core

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SSSOC-CAN/bdlog/command"
	"github.com/SSSOC-CAN/bdlog/drivers"
	"github.com/SSSOC-CAN/bdlog/errors"
	"github.com/SSSOC-CAN/bdlog/health"
	"github.com/SSSOC-CAN/bdlog/intercept"
	"github.com/SSSOC-CAN/bdlog/metrics"
	"github.com/SSSOC-CAN/bdlog/output"
	"github.com/SSSOC-CAN/bdlog/router"
	"github.com/SSSOC-CAN/bdlog/source"
	"github.com/SSSOC-CAN/bdlog/state"
	"github.com/SSSOC-CAN/bdlog/telemetry"
	"github.com/SSSOC-CAN/bdlog/utils"
	"github.com/coreos/go-systemd/v22/daemon"
	e "github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

const (
	commandLane  = "command"
	unroutedLane = "unrouted"
)

// Daemon wires a source through the routers into the output multiplexer and owns shutdown
type Daemon struct {
	Active         int32 // atomic
	cfg            *Config
	logger         *zerolog.Logger
	session        *state.Store
	output         *output.Multiplexer
	data           *router.Router
	commands       *router.Router
	protocol       *command.Protocol
	endpoint       source.Endpoint
	conn           *source.Connection
	commandConn    *source.Connection
	lanes          *lanes
	display        *displaySink
	metrics        *metrics.Metrics
	metricsServer  *metrics.Server
	health         *health.HealthService
	healthLog      zerolog.Logger
	telemetry      *telemetry.TelemetryService
	notifier       Notifier
	actions        command.SystemActions
	pollInterval   time.Duration
	inlineCommands bool
	driver         drivers.Driver
}

// DaemonOption customizes a Daemon
type DaemonOption func(*Daemon)

// WithEndpoint replaces the endpoint the configuration describes
func WithEndpoint(ep source.Endpoint) DaemonOption {
	return func(d *Daemon) {
		d.endpoint = ep
	}
}

// WithActions replaces the reboot and shutdown actions
func WithActions(a command.SystemActions) DaemonOption {
	return func(d *Daemon) {
		d.actions = a
	}
}

// WithNotifier replaces the systemd notifier
func WithNotifier(n Notifier) DaemonOption {
	return func(d *Daemon) {
		d.notifier = n
	}
}

// WithPollInterval overrides the presence polling cadence
func WithPollInterval(interval time.Duration) DaemonOption {
	return func(d *Daemon) {
		d.pollInterval = interval
	}
}

// NewDaemon builds every component described by cfg. Nothing is started.
func NewDaemon(cfg *Config, logger *zerolog.Logger, opts ...DaemonOption) (*Daemon, error) {
	d := &Daemon{
		cfg:          cfg,
		logger:       logger,
		notifier:     &systemdNotifier{logger: logger},
		actions:      &command.ExecActions{},
		pollInterval: source.DefaultPollInterval,
		lanes:        newLanes(defaultLaneDepth),
	}
	for _, opt := range opts {
		opt(d)
	}
	srceLog := NewSubLogger(logger, "SRCE").SubLogger
	routLog := NewSubLogger(logger, "ROUT").SubLogger
	outpLog := NewSubLogger(logger, "OUTP").SubLogger
	cmndLog := NewSubLogger(logger, "CMND").SubLogger
	drvrLog := NewSubLogger(logger, "DRVR").SubLogger
	teleLog := NewSubLogger(logger, "TELE").SubLogger
	d.healthLog = NewSubLogger(logger, "HLTH").SubLogger

	if err := os.MkdirAll(cfg.DataDir, 0775); err != nil {
		return nil, e.Wrapf(err, "could not create data directory %s", cfg.DataDir)
	}
	session, err := state.NewStore(state.Session{Dataset: cfg.Dataset, Logging: true}, cfg.RecoveryFile)
	if err != nil {
		return nil, e.Wrap(err, "could not load session")
	}
	d.session = session
	d.output = output.NewMultiplexer(cfg.DataDir, &outpLog, output.WithIdleTimeout(time.Duration(cfg.IdleTimeout)*time.Second))
	d.metrics = metrics.New(string(cfg.Mode))
	d.metrics.TrackOpenResources(d.output.OpenCount)
	d.data = router.New(&routLog, router.WithObserver(d.metrics.ObserveSentence))
	d.commands = router.New(&cmndLog, router.WithDelimiters(router.CommandDelimiters), router.WithObserver(d.metrics.ObserveCommand))
	d.protocol = command.NewProtocol(cfg.Identity, session, d.actions, cfg.DataDir, &cmndLog)
	d.protocol.Register(d.commands)

	base := &drivers.Base{
		Session:     session,
		Output:      d.output,
		InstallYear: int(cfg.InstallYear),
		Logger:      &drvrLog,
	}
	if cfg.DisplayAddr != "" {
		d.display, err = newDisplaySink(cfg.DisplayAddr, &drvrLog)
		if err != nil {
			return nil, e.Wrapf(err, "could not reach display %s", cfg.DisplayAddr)
		}
		base.Display = d.display
	}
	if cfg.InfluxURL != "" {
		d.telemetry = telemetry.NewTelemetryService(&teleLog, cfg.InfluxURL, cfg.InfluxToken, cfg.InfluxOrg, cfg.InfluxBucket)
		base.Mirror = d.telemetry
	}

	var (
		driver   drivers.Driver
		endpoint source.Endpoint
	)
	switch cfg.Mode {
	case ModeSerial:
		driver = &drivers.NMEA{Base: base, Name: cfg.Instrument, RequireChecksum: cfg.RequireChecksum}
		endpoint = &source.DeviceEndpoint{
			Path:         cfg.Device,
			BaudRate:     int(cfg.BaudRate),
			Preset:       source.ParsePreset(cfg.LineMode),
			PollInterval: d.pollInterval,
			Logger:       &srceLog,
		}
	case ModeAIS:
		driver = &drivers.AIS{Base: base}
		endpoint = &source.UDPEndpoint{Addr: cfg.ListenAddr}
		d.inlineCommands = true
	case ModeWinch:
		driver = &drivers.Winch{Base: base}
		endpoint = &source.UDPEndpoint{Addr: cfg.ListenAddr}
		d.inlineCommands = true
	case ModeTide:
		driver = &drivers.Tide{Base: base}
		endpoint = &source.PollEndpoint{
			Addr:         cfg.TideAddr,
			Command:      cfg.PollCommand,
			Period:       time.Duration(cfg.PollPeriod) * time.Second,
			PollInterval: d.pollInterval,
			Logger:       &srceLog,
		}
	default:
		return nil, e.Wrapf(errors.ErrSourceConfig, "unknown daemon %q", cfg.Mode)
	}
	driver.Register(d.data)
	d.driver = driver
	if d.endpoint == nil {
		d.endpoint = endpoint
	}
	d.conn = source.NewConnection(d.endpoint, &srceLog, source.WithPollInterval(d.pollInterval), source.WithStateHook(d.metrics.ObserveState))
	if cfg.CommandPort > 0 {
		d.commandConn = source.NewConnection(&source.UDPEndpoint{Addr: fmt.Sprintf(":%d", cfg.CommandPort)}, &cmndLog, source.WithPollInterval(d.pollInterval))
	}
	if cfg.HealthPort > 0 {
		d.health = health.NewHealthService(&d.healthLog)
		if err := d.health.RegisterHealthService("source", d.conn); err != nil {
			return nil, err
		}
		if err := d.health.RegisterHealthService("output", health.PingFunc(d.pingOutput)); err != nil {
			return nil, err
		}
	}
	if cfg.MetricsPort > 0 {
		d.metricsServer = metrics.NewServer(int(cfg.MetricsPort), d.metrics, logger)
	}
	return d, nil
}

// pingOutput fails when records can no longer be written to the data directory
func (d *Daemon) pingOutput(_ context.Context) error {
	if atomic.LoadInt32(&d.Active) != 1 {
		return errors.ErrServiceAlreadyStopped
	}
	if err := unix.Access(d.cfg.DataDir, unix.W_OK); err != nil {
		return e.Wrapf(err, "data directory %s is not writable", d.cfg.DataDir)
	}
	return nil
}

// Session returns the session store
func (d *Daemon) Session() *state.Store {
	return d.session
}

// Output returns the output multiplexer
func (d *Daemon) Output() *output.Multiplexer {
	return d.output
}

// Identity returns the name the daemon answers to in commands
func (d *Daemon) Identity() string {
	return d.protocol.Identity()
}

// Start starts the output multiplexer and the auxiliary servers. Returns an error if any issues occur
func (d *Daemon) Start() error {
	d.logger.Info().Msg("Starting Daemon...")
	if ok := atomic.CompareAndSwapInt32(&d.Active, 0, 1); !ok {
		return errors.ErrServiceAlreadyStarted
	}
	if err := d.output.Start(); err != nil {
		return e.Wrap(err, "could not start output multiplexer")
	}
	if d.telemetry != nil {
		if err := d.telemetry.Start(); err != nil {
			return e.Wrap(err, "could not start telemetry")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.telemetry.EnsureBucket(ctx); err != nil {
			d.logger.Warn().Msgf("Could not verify influxdb bucket: %v", err)
		}
		cancel()
	}
	if d.health != nil {
		opts := intercept.NewGrpcInterceptor(&d.healthLog).CreateGrpcOptions()
		if err := d.health.Start(int(d.cfg.HealthPort), opts...); err != nil {
			return e.Wrap(err, "could not start health service")
		}
	}
	if d.metricsServer != nil {
		if err := d.metricsServer.Start(); err != nil {
			return e.Wrap(err, "could not start metrics server")
		}
	}
	snap := d.session.Snapshot()
	d.logger.Info().Msgf("Daemon succesfully started. Version: %s Identity: %s Dataset: %s Source: %s", utils.AppVersion, d.protocol.Identity(), snap.Dataset, d.endpoint)
	return nil
}

// Run reads the source until ctx is cancelled or the source fails unrecoverably
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	errChan := make(chan error, 1)
	if d.commandConn != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.commandConn.Run(ctx, d.submitCommand); err != nil {
				errChan <- err
				cancel()
			}
		}()
	}
	if tick := watchdogInterval(); tick > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.watchdog(ctx, tick)
		}()
	}
	d.notifier.Notify(daemon.SdNotifyReady)
	err := d.conn.Run(ctx, d.submit)
	cancel()
	wg.Wait()
	if err == nil {
		select {
		case err = <-errChan:
		default:
		}
	}
	return err
}

func (d *Daemon) watchdog(ctx context.Context, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d.notifier.Notify(daemon.SdNotifyWatchdog)
		case <-ctx.Done():
			return
		}
	}
}

// laneKey picks the lane a line is processed on. Lines written to the same output stream
// share a lane so records keep their arrival order.
func (d *Daemon) laneKey(text string) string {
	if d.inlineCommands && command.IsCommand(text) {
		return commandLane
	}
	if stream := d.driver.Stream(d.data.Token(text)); stream != "" {
		return stream
	}
	return unroutedLane
}

// submit hands a source line to its lane and returns to reading
func (d *Daemon) submit(line source.Line) {
	d.lanes.submit(d.laneKey(line.Text), func() {
		if d.inlineCommands && command.IsCommand(line.Text) {
			_ = d.commands.Dispatch(line.Text, line.Received, line.Reply)
			return
		}
		_ = d.data.Dispatch(line.Text, line.Received, line.Reply)
	})
}

func (d *Daemon) submitCommand(line source.Line) {
	d.lanes.submit(commandLane, func() {
		_ = d.commands.Dispatch(line.Text, line.Received, line.Reply)
	})
}

// Stop drains in-flight sentences, closes every output and persists the session
func (d *Daemon) Stop() error {
	d.logger.Info().Msg("Stopping Daemon...")
	if ok := atomic.CompareAndSwapInt32(&d.Active, 1, 0); !ok {
		return errors.ErrServiceAlreadyStopped
	}
	d.notifier.Notify(daemon.SdNotifyStopping)
	d.lanes.close()
	if err := d.output.Stop(); err != nil {
		d.logger.Error().Msgf("Could not stop output multiplexer: %v", err)
	}
	if err := d.session.Persist(); err != nil {
		d.logger.Error().Msgf("Could not persist session: %v", err)
	}
	if d.telemetry != nil {
		if err := d.telemetry.Stop(); err != nil {
			d.logger.Error().Msgf("Could not stop telemetry: %v", err)
		}
	}
	if d.health != nil {
		if err := d.health.Stop(); err != nil {
			d.logger.Error().Msgf("Could not stop health service: %v", err)
		}
	}
	if d.metricsServer != nil {
		if err := d.metricsServer.Stop(); err != nil {
			d.logger.Error().Msgf("Could not stop metrics server: %v", err)
		}
	}
	if d.display != nil {
		d.display.Close()
	}
	stats := d.data.Stats()
	d.logger.Info().Msgf("Daemon succesfully stopped. Accepted: %d Unknown: %d Bad checksum: %d Failed: %d", stats.Accepted, stats.Unknown, stats.BadChecksum, stats.Failed)
	return nil
}
