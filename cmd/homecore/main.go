// Home Core - Smart Home Control Service
//
// This is the main entry point for the Home Core application: a single
// process that owns the broker session, the device registry, the
// automation scheduler, and the HTTP/WebSocket API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/eversmart/homecore/migrations"

	"github.com/eversmart/homecore/internal/api"
	"github.com/eversmart/homecore/internal/audit"
	"github.com/eversmart/homecore/internal/automation"
	"github.com/eversmart/homecore/internal/bridge"
	"github.com/eversmart/homecore/internal/device"
	"github.com/eversmart/homecore/internal/egress"
	"github.com/eversmart/homecore/internal/hub"
	"github.com/eversmart/homecore/internal/infrastructure/config"
	"github.com/eversmart/homecore/internal/infrastructure/database"
	"github.com/eversmart/homecore/internal/infrastructure/influxdb"
	"github.com/eversmart/homecore/internal/infrastructure/logging"
	"github.com/eversmart/homecore/internal/infrastructure/mqtt"
	"github.com/eversmart/homecore/internal/scada"
	"github.com/eversmart/homecore/internal/scheduler"
	"github.com/eversmart/homecore/internal/solar"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Home Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
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

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Repositories
	deviceRepo := device.NewSQLiteRepository(db.DB)
	automationRepo := automation.NewSQLiteRepository(db.DB)
	auditRepo := audit.NewSQLiteRepository(db.DB)

	// Broadcast hub for home events
	events := hub.New()
	events.SetLogger(log.With("component", "hub"))

	// Connect to InfluxDB for meter telemetry (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
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

	// Broker transport. Start handles an unreachable broker by
	// reconnecting in the background, so startup never blocks on it.
	transport := scada.New(scada.Config{
		Target:         cfg.Scada.Target,
		Identity:       cfg.Scada.Login,
		Secret:         cfg.Scada.Password,
		Token:          cfg.Scada.Token,
		VerifyTLS:      cfg.Scada.VerifyTLS,
		InitialBackoff: time.Duration(cfg.Scada.Reconnect.InitialDelay) * time.Second,
		MaxBackoff:     time.Duration(cfg.Scada.Reconnect.MaxDelay) * time.Second,
	})
	transport.SetLogger(log.With("component", "scada"))

	// Bridge owns the transport for the life of the process
	var meters bridge.MeterWriter
	if influxClient != nil {
		meters = influxClient
	}
	deviceBridge, err := bridge.New(bridge.Options{
		Transport: transport,
		Devices:   deviceRepo,
		Events:    events,
		Meters:    meters,
		Tags:      cfg.Scada.SubscriptionTags(),
		MeterTags: cfg.Scada.MeterTags,
		Logger:    log.With("component", "bridge"),
	})
	if err != nil {
		return fmt.Errorf("creating device bridge: %w", err)
	}
	if startErr := deviceBridge.Start(ctx); startErr != nil {
		return fmt.Errorf("starting device bridge: %w", startErr)
	}
	defer func() {
		log.Info("stopping device bridge")
		if stopErr := deviceBridge.Stop(); stopErr != nil {
			log.Error("error stopping device bridge", "error", stopErr)
		}
	}()
	log.Info("device bridge started",
		"broker", cfg.Scada.Target,
		"tags", len(cfg.Scada.SubscriptionTags()),
	)

	// Automation scheduler (optional)
	if cfg.Scheduler.Enabled {
		sched, schedErr := buildScheduler(cfg, automationRepo, deviceRepo, deviceBridge, log)
		if schedErr != nil {
			return fmt.Errorf("creating scheduler: %w", schedErr)
		}
		if startErr := sched.Start(ctx); startErr != nil {
			return fmt.Errorf("starting scheduler: %w", startErr)
		}
		defer func() {
			log.Info("stopping scheduler")
			sched.Stop()
		}()
		log.Info("scheduler started", "solar_mode", cfg.Scheduler.Solar.Mode)
	} else {
		log.Info("scheduler disabled")
	}

	// MQTT event egress (optional)
	if cfg.MQTT.Enabled {
		mqttClient, mqttErr := mqtt.Connect(cfg.MQTT)
		if mqttErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", mqttErr)
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
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		sink := egress.NewMQTTSink(mqttClient, byte(cfg.MQTT.QoS), log.With("component", "egress"))
		events.Join(bridge.EventGroup, sink)
	} else {
		log.Info("MQTT egress disabled")
	}

	// HTTP API and websocket event stream
	apiServer, err := api.New(api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Security:    cfg.Security,
		Logger:      log.With("component", "api"),
		Devices:     deviceRepo,
		Automations: automationRepo,
		Audit:       auditRepo,
		Commander:   deviceBridge,
		Events:      events,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	// Verify infrastructure is healthy
	if err := healthCheck(ctx, db, apiServer); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// API server, MQTT, scheduler, bridge, InfluxDB, database.

	log.Info("Home Core stopped")
	return nil
}

// buildScheduler assembles the scheduler with the configured solar
// location strategy.
func buildScheduler(cfg *config.Config, automations automation.Repository, devices device.Repository, commands scheduler.CommandSender, log *logging.Logger) (*scheduler.Scheduler, error) {
	var locator solar.Locator
	switch cfg.Scheduler.Solar.Mode {
	case "fixed":
		locator = solar.FixedLocator{Coords: solar.Coordinates{
			Latitude:  cfg.Scheduler.Solar.Latitude,
			Longitude: cfg.Scheduler.Solar.Longitude,
		}}
	default:
		locator = &solar.IPLocator{}
	}

	return scheduler.New(scheduler.Options{
		Automations: automations,
		Devices:     devices,
		Commands:    commands,
		Locator:     locator,
		Times:       &solar.APITimesProvider{},
		Logger:      log.With("component", "scheduler"),
	})
}

// getConfigPath returns the configuration file path.
// Uses HOMECORE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("HOMECORE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies infrastructure components are healthy.
//
// The broker session is deliberately excluded: it reconnects in the
// background and a down broker must not abort startup.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - apiServer: API server to check
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, apiServer *api.Server) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := apiServer.HealthCheck(ctx); err != nil {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}
