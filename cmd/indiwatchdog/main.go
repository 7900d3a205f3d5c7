// INDI Device Watchdog
//
// indiwatchdog keeps the devices attached to an INDI server connected. It
// watches each device's local hardware node, connects devices that appear,
// disconnects devices whose node has gone, and restarts drivers through the
// indiserver control FIFO when a device cannot be reached.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	_ "github.com/nerrad567/indi-watchdog/migrations"

	"github.com/nerrad567/indi-watchdog/internal/api"
	"github.com/nerrad567/indi-watchdog/internal/device"
	"github.com/nerrad567/indi-watchdog/internal/indi"
	"github.com/nerrad567/indi-watchdog/internal/indiserver"
	"github.com/nerrad567/indi-watchdog/internal/infrastructure/config"
	"github.com/nerrad567/indi-watchdog/internal/infrastructure/database"
	"github.com/nerrad567/indi-watchdog/internal/infrastructure/influxdb"
	"github.com/nerrad567/indi-watchdog/internal/infrastructure/logging"
	"github.com/nerrad567/indi-watchdog/internal/infrastructure/mqtt"
	"github.com/nerrad567/indi-watchdog/internal/monitor"
	"github.com/nerrad567/indi-watchdog/internal/reconcile"
	"github.com/nerrad567/indi-watchdog/internal/restart"
	"github.com/nerrad567/indi-watchdog/internal/telemetry"
	"github.com/nerrad567/indi-watchdog/internal/watchdog"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// errHelp signals that usage or version output was requested.
var errHelp = errors.New("help requested")

// options holds the parsed command line.
type options struct {
	configPath string
	devices    string
	hostname   string
	port       int
	timeout    time.Duration
	verbosity  int

	// set records which flags were given explicitly.
	set map[string]bool
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	opts, err := parseFlags(os.Args[1:], os.Stdout)
	if errors.Is(err, errHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags parses args into options. --help and --version print to out
// and return errHelp.
func parseFlags(args []string, out io.Writer) (options, error) {
	opts := options{set: make(map[string]bool)}

	fs := pflag.NewFlagSet("indiwatchdog", pflag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVarP(&opts.configPath, "config", "c", "", "YAML configuration file (env INDIWATCHDOG_CONFIG)")
	fs.StringVarP(&opts.devices, "devices", "d", "", "JSON list of devices to monitor")
	fs.StringVar(&opts.hostname, "hostname", "", "hostname of the INDI server")
	fs.IntVar(&opts.port, "port", 0, "port of the INDI server")
	fs.DurationVar(&opts.timeout, "timeout", 0, "INDI server connect timeout")
	fs.CountVarP(&opts.verbosity, "verbose", "v", "raise log verbosity (repeatable)")
	showVersion := fs.Bool("version", false, "print version and exit")
	fs.BoolP("help", "h", false, "show this help")

	fs.Usage = func() {
		fmt.Fprintf(out, "indiwatchdog - keeps INDI devices connected and restarts stuck drivers\n\nUsage:\n  indiwatchdog [flags]\n\nFlags:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return opts, errHelp
		}
		return opts, err
	}
	if help, _ := fs.GetBool("help"); help { //nolint:errcheck // flag is defined above
		fs.Usage()
		return opts, errHelp
	}
	if *showVersion {
		fmt.Fprintf(out, "indiwatchdog %s (commit %s, built %s)\n", version, commit, date)
		return opts, errHelp
	}
	if fs.NArg() > 0 {
		return opts, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}

	fs.Visit(func(f *pflag.Flag) { opts.set[f.Name] = true })
	if opts.configPath == "" {
		opts.configPath = os.Getenv("INDIWATCHDOG_CONFIG")
	}
	return opts, nil
}

// loadConfig loads the configuration file and applies command line
// overrides on top.
func loadConfig(opts options) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if opts.set["devices"] {
		cfg.DevicesFile = opts.devices
	}
	if opts.set["hostname"] {
		cfg.INDI.Host = opts.hostname
	}
	if opts.set["port"] {
		cfg.INDI.Port = opts.port
	}
	if opts.set["timeout"] {
		cfg.INDI.ConnectTimeout = opts.timeout
	}
	cfg.Logging.Level = logging.LevelForVerbosity(cfg.Logging.Level, opts.verbosity)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating flags: %w", err)
	}
	return cfg, nil
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - opts: Parsed command line
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, opts options) error { //nolint:gocognit,gocyclo // linear wiring of optional components
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	log := logging.New(cfg.Logging, version)
	log.Info("starting INDI watchdog",
		"version", version,
		"commit", commit,
		"build_date", date,
		"config", opts.configPath,
	)

	// Device list
	devices, err := device.LoadFile(cfg.DevicesFile)
	if err != nil {
		return fmt.Errorf("loading device list: %w", err)
	}
	registry, err := device.NewRegistry(devices)
	if err != nil {
		return fmt.Errorf("building device registry: %w", err)
	}
	registry.SetLogger(log.With("component", "registry"))
	log.Info("device list loaded", "path", cfg.DevicesFile, "devices", registry.Len())

	// Managed indiserver (optional)
	if cfg.INDIServer.Managed {
		server := indiserver.NewManager(indiserver.Config{
			Binary:             cfg.INDIServer.Binary,
			Args:               indiserver.ServerArgs(cfg.Restart.FIFOPath, cfg.INDI.Port, cfg.INDIServer.ExtraArgs),
			FIFOPath:           cfg.Restart.FIFOPath,
			RestartDelay:       cfg.INDIServer.RestartDelay,
			MaxRestartAttempts: cfg.INDIServer.MaxRestartAttempts,
		})
		server.SetLogger(log.With("component", "indiserver"))
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting indiserver: %w", startErr)
		}
		defer func() {
			log.Info("stopping indiserver")
			if stopErr := server.Stop(); stopErr != nil {
				log.Error("error stopping indiserver", "error", stopErr)
			}
		}()
	}

	// Restart path: FIFO primitive behind the strike counter
	fifo := restart.NewFIFORestarter(cfg.Restart.BinPath, cfg.Restart.FIFOPath)
	fifo.SetLogger(log.With("component", "restart"))
	fifo.SetProcessProbe(restart.SystemProbe{})

	coordinator := restart.NewCoordinator(cfg.Restart.TriggerLimit, fifo,
		restart.WithRetryFailed(cfg.Restart.RetryFailed),
		restart.WithLogger(log.With("component", "restart")),
	)

	engine := reconcile.NewEngine(reconcile.FileProber{}, coordinator)
	engine.SetLogger(log.With("component", "reconcile"))

	address := net.JoinHostPort(cfg.INDI.Host, strconv.Itoa(cfg.INDI.Port))
	dialer := indi.NewDialer(indi.Config{
		Address:        address,
		ConnectTimeout: cfg.INDI.ConnectTimeout,
	}, log.With("component", "indi"))

	supervisor := watchdog.New(watchdog.Config{
		ConnectTimeout: cfg.INDI.ConnectTimeout,
		TickInterval:   cfg.INDI.TickInterval,
	}, registry, engine, coordinator, dialer)
	supervisor.SetLogger(log.With("component", "watchdog"))

	// Restart history (optional)
	var history restart.History
	var db *database.DB
	recorderCtx, stopRecorder := context.WithCancel(ctx)
	recorderDone := make(chan struct{})
	if cfg.Database.Enabled {
		db, err = database.Open(ctx, database.Config{
			Path:        cfg.Database.Path,
			WALMode:     cfg.Database.WALMode,
			BusyTimeout: cfg.Database.BusyTimeout,
		})
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		applied, migrateErr := db.Migrate(ctx)
		if migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("database ready", "path", cfg.Database.Path, "migrations_applied", applied)

		sqliteHistory := restart.NewSQLiteHistory(db.DB)
		history = sqliteHistory

		recorder := telemetry.NewHistoryRecorder(sqliteHistory)
		recorder.SetLogger(log.With("component", "history"))
		recorder.SetRetention(sqliteHistory, cfg.Database.Retention)
		supervisor.AddObserver(recorder)
		go func() {
			defer close(recorderDone)
			recorder.Run(recorderCtx)
		}()
	} else {
		close(recorderDone)
		log.Info("restart history disabled")
	}
	// The recorder drains after the supervisor stops; wait before the
	// database closes.
	defer func() {
		stopRecorder()
		<-recorderDone
	}()

	// MQTT (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.With("component", "mqtt"))
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", net.JoinHostPort(cfg.MQTT.Broker.Host, strconv.Itoa(cfg.MQTT.Broker.Port)),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		reporter := telemetry.NewMQTTReporter(mqttClient)
		reporter.SetLogger(log.With("component", "mqtt"))
		supervisor.AddObserver(reporter)

		topic := mqttClient.Topics().RestartCommand()
		handler := telemetry.RestartCommandHandler(supervisor, log.With("component", "mqtt"))
		if subErr := mqttClient.Subscribe(topic, byte(cfg.MQTT.QoS), handler); subErr != nil {
			return fmt.Errorf("subscribing to %s: %w", topic, subErr)
		}
		// Runs before the client closes: no restart command may reach a
		// stopped supervisor.
		defer stopRestartCommands(mqttClient, topic, log)
	} else {
		log.Info("MQTT disabled")
	}

	// InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		supervisor.AddObserver(telemetry.NewInfluxReporter(influxClient))
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// HTTP API, metrics and probes (optional)
	if cfg.API.Enabled {
		metrics := monitor.NewMetrics()
		supervisor.AddObserver(metrics)

		server, apiErr := api.New(api.Deps{
			Config:   cfg.API,
			Logger:   log.With("component", "api"),
			Watchdog: supervisor,
			Registry: registry,
			History:  history,
			Metrics:  metrics.Handler(),
			Health:   monitor.NewHealth(supervisor, metrics.Registry(), cfg.API.StaleAfter),
			Version:  version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		supervisor.AddObserver(server.Hub())
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("HTTP API disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	log.Info("initialisation complete, supervising devices", "indi", address)

	if err := supervisor.Run(ctx); err != nil {
		return fmt.Errorf("running watchdog: %w", err)
	}

	log.Info("INDI watchdog stopped")
	return nil
}

// unsubscriber is the part of *mqtt.Client used at shutdown.
type unsubscriber interface {
	Unsubscribe(topic string) error
}

// stopRestartCommands drops the restart command subscription. A broker
// that is already gone is not an error at shutdown.
func stopRestartCommands(client unsubscriber, topic string, log *logging.Logger) {
	err := client.Unsubscribe(topic)
	switch {
	case err == nil:
		log.Info("stopped accepting restart commands", "topic", topic)
	case errors.Is(err, mqtt.ErrNotConnected):
		log.Debug("restart commands dropped while disconnected", "topic", topic)
	default:
		log.Warn("unsubscribing restart commands", "topic", topic, "error", err)
	}
}

// healthCheck verifies the optional infrastructure connections. Nil
// clients are skipped.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
