package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Maaku050/Sentrilock/internal/api"
	"github.com/Maaku050/Sentrilock/internal/config"
	"github.com/Maaku050/Sentrilock/internal/devicectl"
	"github.com/Maaku050/Sentrilock/internal/devices"
	"github.com/Maaku050/Sentrilock/internal/dispatch"
	"github.com/Maaku050/Sentrilock/internal/engine"
	"github.com/Maaku050/Sentrilock/internal/feed"
	"github.com/Maaku050/Sentrilock/internal/incidents"
	"github.com/Maaku050/Sentrilock/internal/logging"
	"github.com/Maaku050/Sentrilock/internal/logstore"
	"github.com/Maaku050/Sentrilock/internal/metrics"
	"github.com/Maaku050/Sentrilock/internal/model"
	"github.com/Maaku050/Sentrilock/internal/occupancy"
	"github.com/Maaku050/Sentrilock/internal/persons"
	"github.com/Maaku050/Sentrilock/internal/storage"
)

// version is stamped by the build.
var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to the config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("sentrilock", version)
		return
	}

	path := config.ResolvePath(*configPath)
	manager, err := config.NewManager(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "loading config:", err)
		os.Exit(1)
	}
	cfg := manager.Get()

	logger := logging.NewLogger(cfg.LogLevel)
	logger.Info("sentrilock starting", "version", version, "config", manager.Path())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		logger.Error("storage config invalid", "err", err)
		os.Exit(1)
	}
	if store != nil {
		if err := store.Init(ctx); err != nil {
			logger.Error("storage init failed", "err", err)
			os.Exit(1)
		}
		defer store.Close()
		logger.Info("storage ready", "driver", cfg.Storage.Driver)
	}

	logs := logstore.NewStore(cfg.Logs.StoreLimit)
	incidentStore := incidents.NewStore(cfg.Incidents.StoreLimit)
	tracker := occupancy.NewTracker(cfg.Occupancy.RoomLimit)
	deviceReg := devices.NewRegistry(store)
	personReg := persons.NewRegistry(store)
	if store != nil {
		if err := deviceReg.Load(ctx); err != nil {
			logger.Warn("loading devices from storage", "err", err)
		}
		if err := personReg.Load(ctx); err != nil {
			logger.Warn("loading persons from storage", "err", err)
		}
		logger.Info("registries restored", "devices", deviceReg.Len(), "persons", personReg.Len())
	}

	m := metrics.New()

	tail := feed.NewTail(cfg.Detection.WindowSize, cfg.Feed.ErrorBuffer, logging.Component(logger, "feed"))
	tail.SetOnEntry(func(e model.LogEntry) {
		logs.Add(e)
		tracker.Apply(e)
		m.EntriesTotal.WithLabelValues(e.Source).Inc()
		if store != nil {
			_ = store.SaveEntry(context.Background(), e)
		}
	})

	feed.StartKafka(ctx, manager, tail, logging.Component(logger, "kafka"))
	feed.StartPostgres(ctx, manager, tail, logging.Component(logger, "postgres"))
	feed.StartREST(ctx, manager, tail, logging.Component(logger, "rest"))
	feed.StartFileTail(ctx, manager, tail, logging.Component(logger, "filetail"))

	notices := dispatch.NewNoticeCenter(cfg.Dispatch.Notification.NoticeLimit)
	var push *dispatch.PushClient
	if cfg.Dispatch.Push.Enabled {
		push = dispatch.NewPushClient(cfg.Dispatch.Push, logging.Component(logger, "push"))
		logger.Info("push gateway enabled", "endpoint", cfg.Dispatch.Push.Endpoint)
	}
	var sinks []dispatch.Sink
	if cfg.Dispatch.Kafka.Enabled {
		sinks = append(sinks, dispatch.NewKafkaSink(cfg.Dispatch.Kafka))
		logger.Info("kafka alert sink enabled", "topic", cfg.Dispatch.Kafka.Topic)
	}
	if cfg.Dispatch.NATS.Enabled {
		sink, err := dispatch.NewNATSSink(cfg.Dispatch.NATS)
		if err != nil {
			logger.Error("nats alert sink unavailable", "err", err)
		} else {
			sinks = append(sinks, sink)
			logger.Info("nats alert sink enabled", "url", cfg.Dispatch.NATS.URL)
		}
	}

	dispatcher := dispatch.NewDispatcher(dispatch.Deps{
		Logger:       logging.Component(logger, "dispatch"),
		Metrics:      m,
		Notices:      notices,
		Incidents:    incidentStore,
		Storage:      store,
		Devices:      deviceReg,
		Push:         push,
		Sinks:        sinks,
		Notification: cfg.Dispatch.Notification,
	})
	defer dispatcher.Close()

	monitor := engine.NewMonitor()
	eng := engine.NewEngine(cfg, logging.Component(logger, "engine"), m, monitor, dispatcher)
	eng.Start(ctx, tail.Snapshots(), tail.Errors())

	var doors api.DoorControl
	if cfg.DeviceControl.Enabled {
		doors = devicectl.NewClient(cfg.DeviceControl)
		logger.Info("device control enabled", "base_url", cfg.DeviceControl.BaseURL)
	}

	api.Start(ctx, api.Deps{
		Config:    manager,
		Engine:    eng,
		Monitor:   monitor,
		Logs:      logs,
		Incidents: incidentStore,
		Occupancy: tracker,
		Devices:   deviceReg,
		Persons:   personReg,
		Notices:   notices,
		Metrics:   m,
		Storage:   store,
		Doors:     doors,
		Logger:    logging.Component(logger, "api"),
		Version:   version,
	})

	go manager.Watch(5*time.Second,
		func(next *config.Config) {
			logger.Info("config reloaded", "path", manager.Path())
			eng.UpdateConfig(next)
			tail.Resize(next.Detection.WindowSize)
		},
		func(err error) {
			logger.Warn("config reload failed", "err", err)
		},
		ctx.Done(),
	)

	<-ctx.Done()
	logger.Info("sentrilock shutting down")
}
