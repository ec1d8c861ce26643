// Gray Logic Gateway - device integration service
//
// The gateway connects door access controllers and facility monitoring
// devices to the rest of the Gray Logic stack:
//   - Door controllers (Hikvision, Dahua, ZKTeco) behind one adapter contract
//   - Monitoring plugins (SNMP, Modbus, BMS, sensors, fire panels, custom agents)
//   - Access events forwarded to MQTT and the audit log
//   - Device samples written to InfluxDB, status changes published on MQTT
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/gray-logic-gateway/migrations"

	"github.com/nerrad567/gray-logic-gateway/internal/audit"
	"github.com/nerrad567/gray-logic-gateway/internal/dooraccess"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-gateway/internal/monitor"
	"github.com/nerrad567/gray-logic-gateway/internal/monitor/protocols"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"

	// shutdownTimeout bounds controller logouts during shutdown.
	shutdownTimeout = 10 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Gray Logic Gateway",
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
	)

	db, err := database.Open(ctx, database.Config{
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
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	auditRepo := audit.NewSQLiteRepository(db.DB)

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
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
	} else {
		log.Info("MQTT disabled")
	}

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
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Interfaces below must see a true nil when a backend is disabled.
	var (
		eventPublisher  dooraccess.Publisher
		statusPublisher monitor.StatusPublisher
		broker          protocols.Broker
		metricsWriter   monitor.MetricsWriter
	)
	if mqttClient != nil {
		eventPublisher, statusPublisher, broker = mqttClient, mqttClient, mqttClient
	}
	if influxClient != nil {
		metricsWriter = influxClient
	}

	supervisor := startDoorAccess(cfg, eventPublisher, auditRepo, log)
	defer func() {
		log.Info("disconnecting door controllers")
		// ctx is already cancelled here; logouts get their own deadline.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		supervisor.Shutdown(shutdownCtx)
	}()

	registry, poller, err := startMonitor(ctx, cfg, broker, metricsWriter, statusPublisher, log)
	if err != nil {
		return fmt.Errorf("starting monitor: %w", err)
	}
	defer func() {
		log.Info("shutting down monitor protocols")
		registry.Shutdown()
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	supervisorDone := make(chan struct{})
	go func() {
		defer close(supervisorDone)
		supervisor.Run(ctx)
	}()

	pollerDone := make(chan error, 1)
	go func() {
		pollerDone <- poller.Run(ctx)
	}()

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	if pollErr := <-pollerDone; pollErr != nil {
		log.Error("poller stopped with error", "error", pollErr)
	}
	<-supervisorDone

	log.Info("Gray Logic Gateway stopped")
	return nil
}

// getConfigPath returns the config file path from GRAYLOGIC_CONFIG or the default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies the infrastructure backends that are enabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
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

// startDoorAccess builds an adapter for every configured controller and
// places it under a supervisor, which connects it and keeps it connected
// once Run starts. Unsupported manufacturers are logged and skipped.
func startDoorAccess(cfg *config.Config, publisher dooraccess.Publisher, repo audit.Repository, log *logging.Logger) *dooraccess.Supervisor {
	doorLog := log.Component("dooraccess")
	factory := dooraccess.NewFactory(doorLog)
	supervisor := dooraccess.NewSupervisor(cfg.GetSuperviseInterval(), doorLog)

	for _, ctrl := range cfg.DoorAccess.Controllers {
		adapter, err := factory.Create(ctrl.Manufacturer)
		if err != nil {
			doorLog.Error("unsupported door controller", "controller", ctrl.ID, "manufacturer", ctrl.Manufacturer, "error", err)
			continue
		}
		adapter.SetTimeout(cfg.ControllerTimeout(ctrl))

		if cfg.DoorAccess.PublishEvents && publisher != nil {
			adapter.RegisterEventListener(dooraccess.NewMQTTListener(publisher, adapter.Manufacturer(), doorLog))
		}
		if cfg.DoorAccess.AuditEvents {
			adapter.RegisterEventListener(audit.NewRecorder(repo, adapter.Manufacturer()))
		}

		supervisor.Add(dooraccess.Controller{
			ID:      ctrl.ID,
			Adapter: adapter,
			Host:    ctrl.Host,
			Port:    ctrl.Port,
			Params:  controllerParams(ctrl),
		})
	}
	return supervisor
}

// controllerParams merges credentials into the controller's connection params.
func controllerParams(ctrl config.ControllerConfig) map[string]string {
	params := make(map[string]string, len(ctrl.Params)+2)
	for k, v := range ctrl.Params {
		params[k] = v
	}
	if ctrl.Username != "" {
		params["username"] = ctrl.Username
	}
	if ctrl.Password != "" {
		params["password"] = ctrl.Password
	}
	return params
}

// startMonitor registers every configured protocol, connects its devices
// and prepares the poller. Invalid protocol configuration is fatal; an
// unreachable device is logged and reconnected by the poller.
func startMonitor(
	ctx context.Context,
	cfg *config.Config,
	broker protocols.Broker,
	writer monitor.MetricsWriter,
	publisher monitor.StatusPublisher,
	log *logging.Logger,
) (*monitor.Registry, *monitor.Poller, error) {
	monLog := log.Component("monitor")
	registry := monitor.NewRegistry()
	registry.SetLogger(monLog)

	poller := monitor.NewPoller(registry, cfg.GetPollInterval(), writer, publisher)
	poller.SetLogger(monLog)

	for _, pc := range cfg.Monitor.Protocols {
		name := pc.RegistryName()
		plugin, err := protocols.New(pc.Type, name, protocols.Deps{Broker: broker, Logger: monLog})
		if err != nil {
			registry.Shutdown()
			return nil, nil, fmt.Errorf("protocol %s: %w", name, err)
		}
		if err := registry.Register(plugin, monitor.Config(pc.Config)); err != nil {
			registry.Shutdown()
			return nil, nil, fmt.Errorf("protocol %s: %w", name, err)
		}

		err = registry.Use(name, func(p monitor.Protocol) error {
			for _, d := range pc.Devices {
				dev := monitor.DeviceConfig{ID: d.ID, Host: d.Host, Port: d.Port, Params: d.StringParams()}
				if p.Connect(ctx, dev) {
					monLog.Info("monitor device connected", "protocol", name, "device_id", d.ID)
				} else {
					monLog.Warn("monitor device not connected, retrying on poll", "protocol", name, "device_id", d.ID)
				}
				poller.AddTarget(monitor.Target{Protocol: name, Device: dev, Metrics: d.Metrics})
			}
			return nil
		})
		if err != nil {
			registry.Shutdown()
			return nil, nil, fmt.Errorf("protocol %s: %w", name, err)
		}
	}

	monLog.Info("monitor protocols registered", "protocols", registry.List())
	return registry, poller, nil
}
