// aziot - Azure IoT Hub device agent
//
// This is the main entry point for the aziot agent. The agent keeps a
// single device session against an Azure IoT Hub over MQTT and is built for:
//   - Unattended operation on small gateways (reconnects re-sign SAS tokens)
//   - Offline resilience (events spool to sqlite and drain on reconnect)
//   - Local inspection (optional HTTP/WebSocket API beside the uplink)
//
// Configuration comes from configs/config.yaml (override with AZIOT_CONFIG)
// plus AZIOT_* environment variables for secret material.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	json "github.com/goccy/go-json"

	_ "github.com/zerynth/lib-azure-iot/migrations"

	"github.com/zerynth/lib-azure-iot/internal/api"
	"github.com/zerynth/lib-azure-iot/internal/infrastructure/config"
	"github.com/zerynth/lib-azure-iot/internal/infrastructure/database"
	"github.com/zerynth/lib-azure-iot/internal/infrastructure/influxdb"
	"github.com/zerynth/lib-azure-iot/internal/infrastructure/logging"
	"github.com/zerynth/lib-azure-iot/internal/infrastructure/mqtt"
	"github.com/zerynth/lib-azure-iot/internal/iothub"
	"github.com/zerynth/lib-azure-iot/internal/spool"
	"github.com/zerynth/lib-azure-iot/internal/telemetry"
	"github.com/zerynth/lib-azure-iot/internal/timesource"
	"github.com/zerynth/lib-azure-iot/internal/twincache"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

const (
	// defaultConfigPath is used when AZIOT_CONFIG is not set.
	defaultConfigPath = "configs/config.yaml"

	// spoolPruneInterval is how often delivered spool rows are swept.
	spoolPruneInterval = time.Hour

	// spoolRetention is how long delivered spool rows are kept for inspection.
	spoolRetention = 7 * 24 * time.Hour
)

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
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
	log.Info("starting aziot agent",
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

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Local repositories
	twins := twincache.New(db.DB)
	events := spool.New(db.DB)

	// Connect to InfluxDB (optional)
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
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Time source for SAS token signing
	clock, err := timesource.FromConfig(cfg.TimeSource)
	if err != nil {
		return fmt.Errorf("building time source: %w", err)
	}
	log.Info("time source ready", "mode", cfg.TimeSource.Mode)

	// Device identity and transport
	identity := iothub.Identity{
		HubID:         cfg.Device.HubID,
		DeviceID:      cfg.Device.DeviceID,
		APIVersion:    cfg.Device.APIVersion,
		Key:           cfg.Device.Key,
		TokenLifetime: cfg.Device.TokenLifetime,
	}

	mqttCfg := cfg.MQTT
	mqttCfg.Host = cfg.BrokerHost()
	transport := mqtt.New(mqttCfg, identity.DeviceID)
	transport.SetLogger(log)

	device, err := iothub.New(identity, transport, clock,
		iothub.WithQoS(byte(cfg.MQTT.QoS)),
		iothub.WithLogger(log.Logger),
	)
	if err != nil {
		return fmt.Errorf("creating hub device: %w", err)
	}

	// WebSocket hub for the local API's live stream. Created here rather
	// than inside the API server because the inbound handlers broadcast
	// through it.
	var hub *api.Hub
	if cfg.API.Enabled {
		hub = api.NewHub(cfg.WebSocket, log)
		go hub.Run(ctx)
	}

	a := &agent{
		log:      log,
		device:   device,
		twins:    twins,
		events:   events,
		influx:   influxClient,
		hub:      hub,
		deviceID: identity.DeviceID,
		start:    time.Now(),
	}

	// Telemetry publisher (built before connect so cached twin config can apply)
	if cfg.Telemetry.Enabled {
		tcfg := telemetry.Config{
			DeviceID: identity.DeviceID,
			Period:   time.Duration(cfg.Telemetry.PublishPeriod) * time.Second,
			Device:   device,
			Sample:   a.sample,
			Spool:    events,
		}
		if influxClient != nil {
			tcfg.History = influxClient
		}
		pub, pubErr := telemetry.New(tcfg)
		if pubErr != nil {
			return fmt.Errorf("creating telemetry publisher: %w", pubErr)
		}
		pub.SetLogger(log.Logger)
		a.pub = pub
	}

	// Apply configuration from the cached desired twin before first connect
	a.applyCachedDesired(ctx)

	// Connection-state mirroring and last will, both before dialing
	a.wireConnCallbacks(transport)
	will, _ := json.Marshal(map[string]string{"status": "offline"})
	transport.SetWill(
		iothub.EventsTopic(identity.DeviceID, map[string]string{"event_type": "will"}),
		will, byte(cfg.MQTT.QoS), false,
	)

	// Connect to the hub
	if err := device.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to hub: %w", err)
	}
	defer func() {
		log.Info("closing hub session")
		if closeErr := device.Close(); closeErr != nil {
			log.Error("error closing hub session", "error", closeErr)
		}
	}()

	// Inbound handlers need the live session
	if err := a.registerHandlers(); err != nil {
		return err
	}
	log.Info("hub handlers registered")

	// Local API server (optional)
	if cfg.API.Enabled {
		deps := api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Security: cfg.Security,
			Logger:   log,
			Device:   device,
			Twins:    twins,
			Spool:    events,
			Hub:      hub,
			Version:  version,
		}
		if a.pub != nil {
			deps.Telemetry = a.pub
		}
		apiServer, apiErr := api.New(deps)
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
		log.Info("API server started", "address", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port))
	} else {
		log.Info("API server disabled")
	}

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, transport, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	// Sweep delivered spool rows in the background
	go a.pruneLoop(ctx)

	log.Info("initialisation complete")

	// The telemetry loop doubles as the main blocking loop; without it we
	// just wait for the shutdown signal.
	if a.pub != nil {
		log.Info("telemetry publisher running", "period_seconds", a.pub.Period().Seconds())
		a.pub.Run(ctx)
	} else {
		log.Info("telemetry disabled, waiting for shutdown signal")
		<-ctx.Done()
	}

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls will run in reverse order:
	// 1. API server (if enabled)
	// 2. Hub session
	// 3. InfluxDB (if enabled)
	// 4. Database

	log.Info("aziot agent stopped")
	return nil
}

// agent bundles the wired components the inbound handlers share.
type agent struct {
	log      *logging.Logger
	device   *iothub.Device
	twins    *twincache.Repository
	events   *spool.Repository
	influx   *influxdb.Client // nil when disabled
	pub      *telemetry.Publisher
	hub      *api.Hub // nil when the API is disabled
	deviceID string
	start    time.Time
}

// registerHandlers subscribes the agent's inbound handlers. Must be called
// after the hub session is up.
func (a *agent) registerHandlers() error {
	if err := a.device.OnTwinUpdate(a.handleTwinUpdate); err != nil {
		return fmt.Errorf("registering twin handler: %w", err)
	}
	if err := a.device.OnBound(a.handleBound); err != nil {
		return fmt.Errorf("registering devicebound handler: %w", err)
	}
	if err := a.device.OnMethod("get", a.handleGetMethod); err != nil {
		return fmt.Errorf("registering get method: %w", err)
	}
	return nil
}

// handleTwinUpdate applies a desired-property update: cache it, mirror it to
// the local streams, apply publish_period, and report applied values back.
func (a *agent) handleTwinUpdate(desired map[string]any, twinVersion int) map[string]any {
	a.log.Info("desired properties updated", "twin_version", twinVersion)

	if err := a.twins.SaveDesired(context.Background(), desired, twinVersion); err != nil {
		a.log.Warn("caching desired twin failed", "error", err)
	}
	if a.influx != nil {
		a.influx.WriteTwinVersion(a.deviceID, twinVersion)
	}
	if a.hub != nil {
		a.hub.Broadcast(api.ChannelTwinDesired, map[string]any{
			"version": twinVersion,
			"desired": desired,
		})
	}

	reported := make(map[string]any)
	if period, ok := desiredPublishPeriod(desired); ok && a.pub != nil {
		a.pub.SetPeriod(period)
		reported["publish_period"] = period.Seconds()
	}
	if len(reported) == 0 {
		return nil
	}
	return reported
}

// handleBound logs a cloud-to-device message and streams it to local
// WebSocket clients.
func (a *agent) handleBound(payload []byte, properties map[string]string) {
	a.log.Info("cloud-to-device message received", "bytes", len(payload))

	if a.hub != nil {
		a.hub.Broadcast(api.ChannelBoundMessage, map[string]any{
			"body":       string(payload),
			"properties": properties,
		})
	}
}

// handleGetMethod answers the built-in "get" direct method with the current
// telemetry snapshot.
func (a *agent) handleGetMethod(_ map[string]any) (int, map[string]any) {
	if a.hub != nil {
		a.hub.Broadcast(api.ChannelMethodCall, map[string]any{"method": "get"})
	}
	return 0, a.snapshot(context.Background())
}

// sample is the default telemetry sample: agent vitals. Deployments with
// real sensors replace this through the library API.
func (a *agent) sample() telemetry.Sample {
	return telemetry.Sample{
		Fields:     a.vitals(),
		Properties: map[string]string{"event_type": "vitals"},
	}
}

// vitals returns the process-level fields shared by the telemetry sample
// and the "get" method snapshot.
func (a *agent) vitals() map[string]any {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return map[string]any{
		"uptime_seconds":   int64(time.Since(a.start).Seconds()),
		"goroutines":       runtime.NumGoroutine(),
		"heap_alloc_bytes": mem.HeapAlloc,
	}
}

// snapshot extends vitals with session and queue state.
func (a *agent) snapshot(ctx context.Context) map[string]any {
	doc := a.vitals()
	doc["connected"] = a.device.IsConnected()
	doc["version"] = version
	if depth, err := a.events.Depth(ctx); err == nil {
		doc["spool_depth"] = depth
	}
	if a.pub != nil {
		doc["publish_period_seconds"] = a.pub.Period().Seconds()
	}
	return doc
}

// applyCachedDesired replays configuration from the last cached desired twin
// so a restart behaves correctly before the hub is reachable.
func (a *agent) applyCachedDesired(ctx context.Context) {
	entry, err := a.twins.Get(ctx, twincache.DocDesired)
	if err != nil {
		if !errors.Is(err, twincache.ErrNotCached) {
			a.log.Warn("cached desired twin read failed", "error", err)
		}
		return
	}

	if period, ok := desiredPublishPeriod(entry.Document); ok && a.pub != nil {
		a.pub.SetPeriod(period)
		a.log.Info("cached publish period applied",
			"period_seconds", period.Seconds(),
			"twin_version", entry.Version,
		)
	}
}

// wireConnCallbacks mirrors transport connection state into the local
// history sink and WebSocket stream.
func (a *agent) wireConnCallbacks(transport *mqtt.Client) {
	transport.SetOnConnect(func() {
		a.log.Info("hub connection up")
		if a.influx != nil {
			a.influx.WriteConnState(a.deviceID, true)
		}
		if a.hub != nil {
			a.hub.Broadcast(api.ChannelConnState, map[string]any{"connected": true})
		}
	})
	transport.SetOnDisconnect(func(err error) {
		a.log.Warn("hub connection lost", "error", err)
		if a.influx != nil {
			a.influx.WriteConnState(a.deviceID, false)
		}
		if a.hub != nil {
			a.hub.Broadcast(api.ChannelConnState, map[string]any{"connected": false})
		}
	})
	transport.SetOnReconnecting(func() {
		a.log.Info("reconnecting to hub")
	})
}

// pruneLoop periodically deletes delivered spool rows past the retention
// window. Undelivered rows are never pruned.
func (a *agent) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(spoolPruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := a.events.Prune(ctx, spoolRetention)
			if err != nil {
				a.log.Warn("spool prune failed", "error", err)
				continue
			}
			if removed > 0 {
				a.log.Info("spool pruned", "removed", removed)
			}
		}
	}
}

// desiredPublishPeriod extracts publish_period (seconds) from a desired
// document. JSON numbers arrive as float64.
func desiredPublishPeriod(desired map[string]any) (time.Duration, bool) {
	v, ok := desired["publish_period"].(float64)
	if !ok || v <= 0 {
		return 0, false
	}
	return time.Duration(v * float64(time.Second)), true
}

// getConfigPath returns the configuration file path.
// Uses AZIOT_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("AZIOT_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - transport: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, transport *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := transport.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
