// Sentinel Core - IoT entity lifecycle and real-time sync.
//
// This is the main entry point for the Sentinel core service. It owns the
// entity store, publishes every accepted change on the event channel
// (WebSocket and MQTT), and serves the REST API, aggregates and signals.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	_ "github.com/nerrad567/sentinel-core/migrations"

	"github.com/nerrad567/sentinel-core/internal/aggregate"
	"github.com/nerrad567/sentinel-core/internal/api"
	"github.com/nerrad567/sentinel-core/internal/channel"
	"github.com/nerrad567/sentinel-core/internal/infrastructure/config"
	"github.com/nerrad567/sentinel-core/internal/infrastructure/database"
	"github.com/nerrad567/sentinel-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/sentinel-core/internal/infrastructure/logging"
	"github.com/nerrad567/sentinel-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/sentinel-core/internal/metrics"
	"github.com/nerrad567/sentinel-core/internal/notify"
	"github.com/nerrad567/sentinel-core/internal/reconcile"
	"github.com/nerrad567/sentinel-core/internal/store"
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

func main() {
	configPath := pflag.StringP("config", "c", "", "path to config file (default $SENTINEL_CONFIG or "+defaultConfigPath+")")
	showVersion := pflag.BoolP("version", "v", false, "print version and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Printf("sentinel %s (%s, %s)\n", version, commit, date)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, getConfigPath(*configPath)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context, configPath string) error {
	log := logging.Default()
	log.Info("starting Sentinel Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	metrics.Init()

	// Entity store, backed by SQLite unless running in memory
	var db *database.DB
	repo := store.Repository(store.NewMemoryRepository())
	if cfg.Database.Path != "" {
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
		if migrateErr := db.Migrate(ctx); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		repo = store.NewSQLiteRepository(db.DB)
		log.Info("database ready", "path", cfg.Database.Path)
	} else {
		log.Warn("database path empty, entities are kept in memory only")
	}

	st := store.New(repo)
	st.SetLogger(log)
	if loadErr := st.Load(ctx); loadErr != nil {
		return fmt.Errorf("loading entity store: %w", loadErr)
	}

	broker := channel.NewBroker(cfg.Sync.BrokerBuffer)
	broker.SetLogger(log)
	defer broker.Close()
	st.AddPublisher("broker", broker)

	view := aggregate.NewView(cfg.Sync.HistogramWindow)
	st.AddListener(view)
	view.Rebuild(st.Snapshots())

	stats := st.GetStats()
	log.Info("entity store loaded",
		"devices", stats.Entities["device"],
		"alerts", stats.Entities["alert"],
		"vulnerabilities", stats.Entities["vulnerability"],
		"tombstones", stats.Tombstones,
	)

	// Optional MQTT transport
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
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() { log.Info("MQTT reconnected") })
		mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	// Optional InfluxDB history
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
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	hub := api.NewHub(cfg.WebSocket, broker, log)

	// Signals come straight from the store so every accepted change yields
	// one, even while event subscribers are being dropped and resynced.
	dispatcher := notify.NewDispatcher(cfg.Sync.SignalQueue)
	dispatcher.SetLogger(log)
	dispatcher.AddSink("log", notify.LogSink{Logger: log})
	dispatcher.AddSink("websocket", notify.FuncSink(hub.BroadcastSignal))
	if mqttClient != nil {
		dispatcher.AddSink("mqtt", notify.MQTTSink{Client: mqttClient})
	}

	feed := notify.StoreFeed{dispatcher}
	if influxClient != nil {
		feed = append(feed, notify.TransitionRecorder{Writer: influxClient})
	}
	st.AddEventListener(feed)

	// A local observer on the broker. Its projection size and resync count
	// on /metrics track the store's entity gauges while the channel keeps up.
	monitor := reconcile.New(channel.BrokerSource{Broker: broker}, st, reconcile.Config{
		ResyncAttempts: cfg.Sync.ResyncAttempts,
		ResyncBackoff:  cfg.Sync.ResyncBackoff,
		PendingLimit:   cfg.Sync.PendingLimit,
	})
	monitor.SetLogger(log)
	monitor.OnStateChange(func(state reconcile.State) {
		log.Debug("channel monitor state", "state", state.String())
	})

	server, err := api.New(api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Logger:    log,
		Store:     st,
		Broker:    broker,
		View:      view,
		Signals:   dispatcher,
		MQTT:      mqttClient,
		DB:        db,
		Hub:       hub,
		Version:   version,
		StartTime: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return dispatcher.Run(gctx)
	})
	g.Go(func() error {
		return monitor.Run(gctx)
	})

	if mqttClient != nil {
		bridge := channel.NewMQTTBridge(broker, mqttClient)
		bridge.SetLogger(log)
		g.Go(func() error {
			return bridge.Run(gctx)
		})

		if cfg.MQTT.Discovery {
			discovery := channel.NewDiscoveryHandler(st)
			discovery.SetLogger(log)
			if subErr := discovery.Start(mqttClient); subErr != nil {
				return fmt.Errorf("subscribing to discovery: %w", subErr)
			}
			defer discovery.Stop(mqttClient) //nolint:errcheck // best-effort on shutdown
			log.Info("MQTT discovery enabled")
		}
	}

	if influxClient != nil && cfg.Sync.ExposureInterval > 0 {
		g.Go(func() error {
			view.RunReports(gctx, influxClient, cfg.Sync.ExposureInterval)
			return nil
		})
	}

	if err := server.Start(gctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	log.Info("initialisation complete",
		"address", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
		"websocket", cfg.WebSocket.Path,
	)

	<-gctx.Done()
	log.Info("shutdown signal received, cleaning up")

	if closeErr := server.Close(); closeErr != nil {
		log.Error("error closing API server", "error", closeErr)
	}
	runErr := g.Wait()

	log.Info("Sentinel Core stopped")
	return runErr
}

// getConfigPath returns the configuration file path: the flag, then
// SENTINEL_CONFIG, then the default.
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path := os.Getenv("SENTINEL_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies every configured infrastructure connection.
// db, mqttClient and influxClient may be nil when disabled.
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
