// Sentinel Watch - a remote observer of a Sentinel core.
//
// It follows the core's event channel over WebSocket or MQTT, keeps a
// local projection consistent through snapshot resyncs, and logs signals
// and a periodic exposure summary.
package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/sentinel-core/internal/aggregate"
	"github.com/nerrad567/sentinel-core/internal/channel"
	"github.com/nerrad567/sentinel-core/internal/entity"
	"github.com/nerrad567/sentinel-core/internal/infrastructure/config"
	"github.com/nerrad567/sentinel-core/internal/infrastructure/logging"
	"github.com/nerrad567/sentinel-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/sentinel-core/internal/notify"
	"github.com/nerrad567/sentinel-core/internal/reconcile"
)

var version = "dev"

type options struct {
	coreURL        string
	transport      string
	kinds          []string
	configPath     string
	summaryEvery   time.Duration
	resyncAttempts int
}

func main() {
	var opts options
	pflag.StringVarP(&opts.coreURL, "core", "u", "http://localhost:8080", "core base URL")
	pflag.StringVarP(&opts.transport, "transport", "t", "ws", "event transport: ws or mqtt")
	pflag.StringSliceVarP(&opts.kinds, "kinds", "k", nil, "entity kinds to follow (default all)")
	pflag.StringVarP(&opts.configPath, "config", "c", "", "config file for logging, MQTT and sync settings")
	pflag.DurationVar(&opts.summaryEvery, "summary-interval", time.Minute, "how often to log the exposure summary (0 disables)")
	pflag.IntVar(&opts.resyncAttempts, "resync-attempts", 0, "override sync.resync_attempts")
	pflag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log := logging.New(cfg.Logging, version)

	kinds := make([]entity.Kind, 0, len(opts.kinds))
	for _, k := range opts.kinds {
		kind, err := entity.ParseKind(k)
		if err != nil {
			return err
		}
		kinds = append(kinds, kind)
	}

	source, closeSource, err := newSource(opts, cfg, kinds, log)
	if err != nil {
		return err
	}
	defer closeSource()

	attempts := cfg.Sync.ResyncAttempts
	if opts.resyncAttempts > 0 {
		attempts = opts.resyncAttempts
	}
	fetcher := &reconcile.HTTPFetcher{
		BaseURL: opts.coreURL,
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
	engine := reconcile.New(source, fetcher, reconcile.Config{
		Kinds:          kinds,
		ResyncAttempts: attempts,
		ResyncBackoff:  cfg.Sync.ResyncBackoff,
		PendingLimit:   cfg.Sync.PendingLimit,
	})
	engine.SetLogger(log)
	engine.OnStateChange(func(s reconcile.State) {
		log.Info("observer state changed", "state", s.String())
	})

	view := aggregate.NewView(cfg.Sync.HistogramWindow)
	engine.AddListener(view)

	dispatcher := notify.NewDispatcher(cfg.Sync.SignalQueue)
	dispatcher.SetLogger(log)
	dispatcher.AddSink("log", notify.LogSink{Logger: log})
	engine.AddHandler(dispatcher)

	log.Info("starting Sentinel Watch", "core", opts.coreURL, "transport", opts.transport, "kinds", opts.kinds)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return engine.Run(gctx)
	})
	g.Go(func() error {
		return dispatcher.Run(gctx)
	})
	if opts.summaryEvery > 0 {
		g.Go(func() error {
			logSummaries(gctx, view, opts.summaryEvery, log)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("observer stopped: %w", err)
	}
	log.Info("Sentinel Watch stopped")
	return nil
}

// newSource builds the event source for the chosen transport.
func newSource(opts options, cfg *config.Config, kinds []entity.Kind, log *logging.Logger) (channel.Source, func(), error) {
	switch opts.transport {
	case "ws", "websocket":
		wsURL, err := websocketURL(opts.coreURL, cfg.WebSocket.Path)
		if err != nil {
			return nil, nil, err
		}
		return &channel.WebSocketSource{
			URL:              wsURL,
			Kinds:            kinds,
			HandshakeTimeout: 10 * time.Second,
			ReadTimeout:      time.Duration(cfg.WebSocket.PingInterval+cfg.WebSocket.PongTimeout) * time.Second,
			Logger:           log,
		}, func() {}, nil

	case "mqtt":
		client, err := mqtt.Connect(cfg.MQTT)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to MQTT: %w", err)
		}
		client.SetLogger(log)
		closeFn := func() {
			if err := client.Close(); err != nil {
				log.Error("error closing MQTT", "error", err)
			}
		}
		return &channel.MQTTSource{Client: client, Kinds: kinds, Logger: log}, closeFn, nil
	}
	return nil, nil, fmt.Errorf("unknown transport %q", opts.transport)
}

// websocketURL turns the core's HTTP base URL into its WebSocket endpoint.
func websocketURL(base, path string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parsing core URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	if path == "" {
		path = "/ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	return u.String(), nil
}

func logSummaries(ctx context.Context, view *aggregate.View, every time.Duration, log *logging.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := view.Summary()
			log.Info("exposure summary",
				"devices", s.Devices,
				"open_alerts", s.OpenAlerts,
				"unpatched_vulnerabilities", s.Unpatched,
				"alerts_in_window", s.Alerts.Total,
			)
		}
	}
}
