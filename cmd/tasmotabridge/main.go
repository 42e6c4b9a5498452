// Tasmota Bridge - MQTT bridge for Tasmota firmware devices
//
// This is the main entry point for the bridge. It pairs Tasmota devices and
// Zigbee end devices behind Tasmota coordinators, tracks their availability
// over MQTT and exposes them through an HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/tasmota-bridge/internal/api"
	"github.com/nerrad567/tasmota-bridge/internal/audit"
	"github.com/nerrad567/tasmota-bridge/internal/bridges/tasmota"
	"github.com/nerrad567/tasmota-bridge/internal/device"
	"github.com/nerrad567/tasmota-bridge/internal/infrastructure/config"
	"github.com/nerrad567/tasmota-bridge/internal/infrastructure/database"
	"github.com/nerrad567/tasmota-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/tasmota-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/tasmota-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/tasmota-bridge/internal/infrastructure/statecache"
	"github.com/nerrad567/tasmota-bridge/internal/sensor"
	"github.com/nerrad567/tasmota-bridge/internal/trigger"
	"github.com/nerrad567/tasmota-bridge/internal/versioncheck"
	"github.com/nerrad567/tasmota-bridge/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// githubTimeout bounds one release lookup.
const githubTimeout = 30 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Tasmota bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"debug", cfg.Bridge.Debug,
	)

	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	registry := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	registry.SetLogger(log)
	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}
	log.Info("device registry initialised", "devices", registry.Count())

	auditRepo := audit.NewSQLiteRepository(db.DB)
	auditSink := device.NewAsyncSink("audit", audit.NewConnectionSink(auditRepo, log), device.AsyncOptions{Logger: log})
	defer auditSink.Close()
	registry.AddSink(auditSink)

	influxClient, closeInflux, err := connectInflux(cfg, registry, log)
	if err != nil {
		return err
	}
	defer closeInflux()

	closeCache, err := connectStateCache(ctx, cfg, registry, log)
	if err != nil {
		return err
	}
	defer closeCache()

	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	triggers := trigger.NewPublisher(mqttClient, mqttClient.Topics())
	triggerQueue := trigger.NewQueue(triggers, trigger.QueueOptions{Logger: log.Component("trigger")})
	defer triggerQueue.Close()
	metrics := tasmota.NewMetrics(prometheus.DefaultRegisterer)

	bridge, err := newBridge(ctx, cfg, registry, mqttClient, triggerQueue, metrics, log)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}

	bridgeDone := make(chan error, 1)
	go func() { bridgeDone <- bridge.Run(ctx) }()

	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
		bridge.Connected()
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	// The initial connection happened before the callback was set.
	bridge.Connected()

	if cfg.VersionCheck.Enabled {
		checker, checkErr := newVersionChecker(cfg.VersionCheck, db, triggers, log)
		if checkErr != nil {
			return fmt.Errorf("creating version checker: %w", checkErr)
		}
		go checker.Run(ctx)
		log.Info("release notifier started",
			"repository", cfg.VersionCheck.Owner+"/"+cfg.VersionCheck.Repo,
			"interval", cfg.VersionCheck.IntervalDuration(),
		)
	}

	server, err := api.New(api.Deps{
		Config:   cfg.API,
		Logger:   log,
		Registry: registry,
		Bridge:   bridge,
		Audit:    auditRepo,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, cleaning up")
	case err := <-bridgeDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("bridge stopped: %w", err)
		}
	}

	log.Info("Tasmota bridge stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses TASMOTA_BRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("TASMOTA_BRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// newBridge builds the generic and Zigbee drivers and the bridge runtime.
func newBridge(ctx context.Context, cfg *config.Config, registry *device.Registry, mqttClient *mqtt.Client,
	triggers tasmota.TriggerFirer, metrics *tasmota.Metrics, log *logging.Logger) (*tasmota.Bridge, error) {
	schema := sensor.DefaultSchema()
	families := []tasmota.Family{
		tasmota.NewGenericFamily(schema),
		tasmota.NewZigbeeFamily(schema),
	}

	drivers := make([]*tasmota.Driver, 0, len(families))
	for _, family := range families {
		drivers = append(drivers, tasmota.NewDriver(tasmota.DriverOptions{
			Family:                family,
			Registry:              registry,
			Publisher:             mqttClient,
			Triggers:              triggers,
			Logger:                log.Component("tasmota." + family.Name()),
			Metrics:               metrics,
			Context:               ctx,
			CheckInterval:         cfg.Bridge.CheckPeriod(),
			StabilizationInterval: cfg.Bridge.StabilizationPeriod(),
			PairingTimeout:        cfg.Bridge.PairingWindow(),
			AnswerTimeout:         cfg.Bridge.AnswerWindow(),
			GroupTopics:           cfg.Bridge.GroupTopics,
			Defaults: tasmota.DescribeDefaults{
				UpdateInterval: cfg.Bridge.UpdateInterval,
				ZigbeeTimeout:  cfg.Bridge.ZigbeeTimeout,
			},
		}))
	}

	policy := tasmota.PolicyLog
	if cfg.Bridge.Debug {
		policy = tasmota.PolicyPropagate
	}

	return tasmota.New(tasmota.Options{
		Transport:        mqttClient,
		Drivers:          drivers,
		Logger:           log.Component("tasmota"),
		Metrics:          metrics,
		Policy:           policy,
		QoS:              byte(cfg.MQTT.QoS),
		TickInterval:     cfg.Bridge.Tick(),
		WatchdogTimeout:  cfg.Bridge.WatchdogWindow(),
		WatchdogInterval: cfg.Bridge.WatchdogPeriod(),
	})
}

// newVersionChecker wires the GitHub release source to the SQLite store.
func newVersionChecker(cfg config.VersionCheckConfig, db *database.DB, triggers *trigger.Publisher, log *logging.Logger) (*versioncheck.Checker, error) {
	source, err := versioncheck.NewGitHubSource(&http.Client{Timeout: githubTimeout}, cfg.Owner, cfg.Repo, cfg.Token, "")
	if err != nil {
		return nil, err
	}
	return versioncheck.NewChecker(versioncheck.Options{
		Repository:   source.Repository(),
		Source:       source,
		Store:        versioncheck.NewSQLiteStore(db.DB),
		Triggers:     triggers,
		Logger:       log.Component("versioncheck"),
		InitialDelay: cfg.InitialDelayDuration(),
		Interval:     cfg.IntervalDuration(),
	})
}

// connectInflux connects the optional InfluxDB writer and registers it as a
// value sink. The returned close func is always safe to call.
func connectInflux(cfg *config.Config, registry *device.Registry, log *logging.Logger) (*influxdb.Client, func(), error) {
	if !cfg.InfluxDB.Enabled {
		log.Info("InfluxDB disabled")
		return nil, func() {}, nil
	}

	client, err := influxdb.Connect(cfg.InfluxDB)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	registry.AddSink(influxSink{client: client})
	log.Info("InfluxDB connected",
		"url", cfg.InfluxDB.URL,
		"org", cfg.InfluxDB.Org,
		"bucket", cfg.InfluxDB.Bucket,
	)

	return client, func() {
		log.Info("closing InfluxDB connection")
		if closeErr := client.Close(); closeErr != nil {
			log.Error("error closing InfluxDB", "error", closeErr)
		}
	}, nil
}

// connectStateCache connects the optional Redis mirror, drops entries of
// devices that no longer exist, seeds the registry with the cached values
// and registers the mirror as a value sink.
func connectStateCache(ctx context.Context, cfg *config.Config, registry *device.Registry, log *logging.Logger) (func(), error) {
	if !cfg.Redis.Enabled {
		log.Info("Redis state cache disabled")
		return func() {}, nil
	}

	cache, err := statecache.Connect(cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("connecting to Redis: %w", err)
	}

	devices := registry.ListDevices(ctx)
	keep := make([]string, 0, len(devices))
	for _, d := range devices {
		keep = append(keep, d.ID)
	}
	removed, err := cache.RemoveAllExcept(ctx, keep)
	if err != nil {
		log.Warn("pruning state cache failed", "error", err)
	} else if len(removed) > 0 {
		log.Info("pruned state cache", "removed", len(removed))
	}

	if restored := restoreState(ctx, cache, registry, devices, log); restored > 0 {
		log.Info("restored capability values from state cache", "values", restored)
	}

	sink := device.NewAsyncSink("statecache", cacheSink{cache: cache, log: log}, device.AsyncOptions{Logger: log})
	registry.AddSink(sink)
	log.Info("Redis state cache connected", "addr", cfg.Redis.Addr)

	return func() {
		sink.Close()
		log.Info("closing Redis connection")
		if closeErr := cache.Close(); closeErr != nil {
			log.Error("error closing Redis", "error", closeErr)
		}
	}, nil
}

// healthCheck verifies all infrastructure connections are healthy.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
