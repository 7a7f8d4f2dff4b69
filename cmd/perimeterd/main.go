// Perimeter Core - home security service
//
// This is the main entry point for the perimeter core. The service lets
// headless field devices (door sensors, alarm relays) join the private
// network via UDP discovery and an outbound TCP handshake, ingests their
// state reports over HTTP, grades state changes into events, and fans
// those events out to storage and notification consumers.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	_ "github.com/jmcallister/perimeter-core/migrations"

	"github.com/jmcallister/perimeter-core/internal/api"
	"github.com/jmcallister/perimeter-core/internal/device"
	"github.com/jmcallister/perimeter-core/internal/discovery"
	"github.com/jmcallister/perimeter-core/internal/engine"
	"github.com/jmcallister/perimeter-core/internal/event"
	"github.com/jmcallister/perimeter-core/internal/eventlog"
	"github.com/jmcallister/perimeter-core/internal/infrastructure/config"
	"github.com/jmcallister/perimeter-core/internal/infrastructure/database"
	"github.com/jmcallister/perimeter-core/internal/infrastructure/influxdb"
	"github.com/jmcallister/perimeter-core/internal/infrastructure/logging"
	"github.com/jmcallister/perimeter-core/internal/infrastructure/mqtt"
	"github.com/jmcallister/perimeter-core/internal/infrastructure/redis"
	"github.com/jmcallister/perimeter-core/internal/notify"
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
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Run the application
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
	// Local overrides (handshake password, tokens) live in .env during
	// development; absence is not an error.
	//nolint:errcheck // optional file
	godotenv.Load()

	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting perimeter core",
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

	// Connect to the device registry store
	redisClient, err := redis.Connect(redis.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		log.Info("closing redis connection")
		if closeErr := redisClient.Close(); closeErr != nil {
			log.Error("error closing redis", "error", closeErr)
		}
	}()
	log.Info("redis connected", "addr", cfg.Redis.Addr)

	repo := device.NewRedisRepository(redisClient.Raw())

	// Seed the building-wide temperature thresholds if the store has none.
	if seedErr := repo.EnsureThresholds(ctx, device.Thresholds{
		Warning:  cfg.Thresholds.Warning,
		Critical: cfg.Thresholds.Critical,
	}); seedErr != nil {
		return fmt.Errorf("seeding thresholds: %w", seedErr)
	}

	// Open the event/device log database
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

	logStore := eventlog.NewStore(db)

	// Connect to InfluxDB (optional telemetry history)
	var influxClient *influxdb.Client
	var telemetry engine.TelemetryWriter
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
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		telemetry = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Connect to the MQTT broker (optional notification fan-out)
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
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	// Event bus: consumers subscribe before the dispatcher starts.
	bus := event.NewBus(cfg.Events.BufferSize, log)
	bus.Subscribe(logStore)

	var bridge *notify.Bridge
	if mqttClient != nil {
		qos := byte(cfg.MQTT.QoS) //nolint:gosec // validated to 0..2
		bridge = notify.NewBridge(mqttClient, log, qos)
		bus.Subscribe(bridge)
	}
	bus.Start(ctx)

	// State engine
	commander := engine.NewHTTPAlarmCommander(time.Duration(cfg.Alarms.CommandTimeout) * time.Second)
	eng := engine.New(repo, bus, commander, telemetry, log, cfg.GetAlarmCooldown())

	// Inbound alarm commands over MQTT (operator replies via gateway)
	if bridge != nil {
		if cmdErr := bridge.ListenForCommands(ctx, eng); cmdErr != nil {
			log.Warn("alarm command subscription failed", "error", cmdErr)
		}
	}

	// UDP discovery + outbound TCP handshake
	if cfg.Discovery.Enabled {
		handshaker := discovery.NewHandshaker(repo, bus, log,
			cfg.Handshake.Password, cfg.Handshake.ClientPort, cfg.GetHandshakeTimeout())
		listener := discovery.NewListener(cfg.Discovery.Port, cfg.Discovery.ServiceName, handshaker, log)
		if startErr := listener.Start(ctx); startErr != nil {
			return fmt.Errorf("starting discovery listener: %w", startErr)
		}
		defer func() {
			log.Info("stopping discovery listener")
			listener.Stop()
		}()
		log.Info("discovery listener started",
			"port", cfg.Discovery.Port,
			"service_name", cfg.Discovery.ServiceName,
		)
	} else {
		log.Info("discovery disabled")
	}

	// HTTP API + WebSocket snapshot feed
	server, err := api.New(api.Deps{
		Config:  cfg.API,
		WS:      cfg.WebSocket,
		Logger:  log,
		Engine:  eng,
		Repo:    repo,
		Logs:    logStore,
		Version: version,
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
	log.Info("API server started", "address", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port))

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, redisClient, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Let the bus drain accepted events before the consumers' backing
	// stores are closed by the defer chain.
	select {
	case <-bus.Done():
	case <-time.After(5 * time.Second):
		log.Warn("event bus drain timed out", "dropped", bus.Dropped())
	}

	log.Info("perimeter core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses PERIMETER_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("PERIMETER_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - redisClient: Registry store client to check
//   - mqttClient: MQTT client to check (may be nil if disabled)
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, redisClient *redis.Client, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	// Check database
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	// Check registry store
	if err := redisClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	// Check MQTT (if enabled)
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	// Check InfluxDB (if enabled)
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
