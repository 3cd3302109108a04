package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/rgstephens/gdo-bridge/internal/bus"
	"github.com/rgstephens/gdo-bridge/internal/comms"
	"github.com/rgstephens/gdo-bridge/internal/config"
	"github.com/rgstephens/gdo-bridge/internal/door"
	"github.com/rgstephens/gdo-bridge/internal/headunit"
	"github.com/rgstephens/gdo-bridge/internal/log"
	"github.com/rgstephens/gdo-bridge/internal/matter"
	"github.com/rgstephens/gdo-bridge/internal/rolling"
	"github.com/rgstephens/gdo-bridge/internal/secplus"
	"github.com/rgstephens/gdo-bridge/internal/storage"
	"github.com/rgstephens/gdo-bridge/internal/web"
)

// eventRetention is how long the event log keeps entries
const eventRetention = 30 * 24 * time.Hour

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	// Set up logging
	logger := log.Build(log.Options{
		Level:      log.ParseLevel(cfg.Log.Level),
		JSON:       cfg.Log.Format == "json",
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if *debug {
		logger.SetLevel(log.LevelDebug)
	}
	log.SetDefault(logger)
	defer logger.Sync()

	log.Info("Starting Garage Door Bridge %s", web.Version)

	if err := run(cfg); err != nil {
		log.Error("%v", err)
		logger.Sync()
		os.Exit(1)
	}
	log.Info("Shutdown complete")
}

func run(cfg *config.Config) error {
	if err := cfg.EnsureDataDir(); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := storage.Open(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	log.Info("Database initialized at %s", cfg.DatabasePath())

	// the rolling counter lives in the database unless a flash-style file store is asked for
	var kv rolling.KV = db
	if cfg.Storage.Backend == "file" {
		fs, err := storage.OpenFileStore(cfg.FlashDir())
		if err != nil {
			return fmt.Errorf("failed to open file store: %w", err)
		}
		kv = fs
		log.Info("Rolling counter stored in %s", cfg.FlashDir())
	}

	store := rolling.NewStore(kv)
	identity, err := store.Load()
	if err != nil {
		db.LogEvent(storage.EventSourceSystem, storage.EventTypeError, "Rolling counter unavailable",
			map[string]interface{}{"error": err.Error()})
		return fmt.Errorf("failed to load rolling counter: %w", err)
	}
	db.LogEvent(storage.EventSourceSystem, storage.EventTypeInfo, "Bridge started", identity)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := comms.NewMetrics(reg)

	line := bus.NewSimLine()
	tr := bus.NewTransceiver(line, secplus.PlainCodec{}, store, bus.Timing{
		Assert: cfg.Bus.Assert,
		Settle: cfg.Bus.Settle,
		Guard:  cfg.Bus.Guard,
		LED:    cfg.Bus.LED,
	}, bus.WithIndicator(&bus.LED{}))

	var bridge *matter.Bridge
	if cfg.Matter.Enabled {
		bridge = matter.NewBridge(matter.Options{
			URL:  cfg.Matter.URL,
			Dir:  cfg.Matter.Dir,
			Name: cfg.DeviceName,
		})
	}

	// notifications fan out to the web clients and the HomeKit bridge; both
	// queue internally so the worker never waits on them
	var webServer *web.Server
	sink := door.EventSink(func(ev door.Event) {
		log.Debug("door %s -> %v", ev.Kind, ev.Value)
		webServer.Notify(ev)
		if bridge != nil {
			bridge.Notify(ev)
		}
	})

	model := door.NewModel(sink, door.WithMotionHold(cfg.Comms.MotionHold))
	ctrl := comms.NewController(tr, store, model,
		comms.WithQueueCapacity(cfg.Comms.QueueCapacity),
		comms.WithMetrics(metrics),
		comms.WithSyncDelay(cfg.Comms.SyncDelay),
	)
	worker := comms.NewWorker(ctrl, cfg.Comms.StepInterval, cfg.Comms.MotionCheckInterval)

	var matterAPI web.MatterBridge
	if bridge != nil {
		bridge.SetActuator(worker)
		matterAPI = bridge
	}
	webServer = web.NewServer(web.Options{
		Port:          cfg.ServerPort,
		DeviceName:    cfg.DeviceName,
		RatePerSecond: cfg.API.RatePerSecond,
		Burst:         cfg.API.Burst,
		Gatherer:      reg,
	}, worker, db, matterAPI)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Sim.Enabled {
		sim := headunit.New(line, headunit.WithTravelTime(cfg.Sim.TravelTime))
		g.Go(func() error { return sim.Run(gctx) })
	} else {
		log.Warn("Head unit simulator disabled; nothing will answer on the bus")
	}

	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error { return webServer.Run(gctx) })

	if bridge != nil {
		g.Go(func() error {
			// HomeKit is optional, the bridge keeps running without it
			if err := bridge.Run(gctx); err != nil {
				log.Error("Matter bridge: %v", err)
				db.LogEvent(storage.EventSourceMatter, storage.EventTypeError, "Matter bridge stopped",
					map[string]interface{}{"error": err.Error()})
			}
			return nil
		})
	}

	g.Go(func() error {
		pruneEvents(gctx, db)
		return nil
	})

	<-gctx.Done()
	log.Info("Shutting down...")
	return g.Wait()
}

// pruneEvents trims the event log once a day
func pruneEvents(ctx context.Context, db *storage.DB) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		n, err := db.PruneEventLogs(time.Now().Add(-eventRetention))
		if err != nil {
			log.Warn("Failed to prune event log: %v", err)
		} else if n > 0 {
			log.Info("Pruned %d old events", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
