package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"gpsrelay/internal/api/router"
	"gpsrelay/internal/cache"
	"gpsrelay/internal/config"
	"gpsrelay/internal/core/format"
	"gpsrelay/internal/core/lifecycle"
	"gpsrelay/internal/core/repository"
	"gpsrelay/internal/core/service"
	"gpsrelay/internal/events"
	"gpsrelay/internal/logging"
	"gpsrelay/internal/metrics"
	"gpsrelay/internal/protocol/h02"
	"gpsrelay/internal/protocol/nmea"
	"gpsrelay/internal/protocol/server"
	"gpsrelay/internal/sink"
)

const statisticsPeriod = 24 * time.Hour

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

type stores struct {
	devices   repository.DeviceStore
	positions repository.PositionRepository
	close     func()
}

func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stores, error) {
	switch {
	case cfg.TestMode && (cfg.Store.Driver == "memory" || cfg.Store.Driver == "mongo" && cfg.Store.MongoURI == ""):
		logger.Warn("test mode: devices are registered on first contact and kept in memory")
		return &stores{
			devices:   repository.NewTestDeviceRepository(),
			positions: repository.NewInMemoryPositionRepository(),
			close:     func() {},
		}, nil

	case cfg.Store.Driver == "memory":
		return &stores{
			devices:   repository.NewInMemoryDeviceRepository(),
			positions: repository.NewInMemoryPositionRepository(),
			close:     func() {},
		}, nil

	case cfg.Store.Driver == "sqlite":
		repo, err := repository.OpenSQLite(ctx, cfg.Store.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info("using SQLite store", "path", cfg.Store.SQLitePath)
		return &stores{
			devices:   repo,
			positions: repo.Positions(),
			close:     func() { repo.Close() },
		}, nil

	default:
		db, err := config.ConnectMongoDB(ctx, config.NewMongoConfig(cfg), logger)
		if err != nil {
			return nil, err
		}
		devices := repository.NewMongoDeviceRepository(db)
		if err := devices.EnsureIndexes(ctx); err != nil {
			logger.Warn("failed to ensure device indexes", "error", err)
		}
		return &stores{
			devices:   devices,
			positions: repository.NewMongoPositionRepository(db),
			close:     func() { disconnect(db.Client(), logger) },
		}, nil
	}
}

func disconnect(client *mongo.Client, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Disconnect(ctx); err != nil {
		logger.Warn("failed to disconnect from MongoDB", "error", err)
	}
}

func openPublisher(cfg *config.Config, logger *slog.Logger) events.Publisher {
	var publishers events.Multi
	if cfg.Bus.NATSURL != "" {
		p, err := events.NewNATSPublisher(cfg.Bus.NATSURL, cfg.Bus.NATSSubject, logger)
		if err != nil {
			logger.Warn("NATS publisher disabled", "error", err)
		} else {
			publishers = append(publishers, p)
		}
	}
	if cfg.Bus.MQTTBroker != "" {
		p, err := events.NewMQTTPublisher(cfg.Bus.MQTTBroker, cfg.Bus.MQTTTopic)
		if err != nil {
			logger.Warn("MQTT publisher disabled", "error", err)
		} else {
			publishers = append(publishers, p)
		}
	}
	if len(publishers) == 0 {
		return events.Nop()
	}
	return publishers
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	devices := st.devices
	cacheClient := cache.New(ctx, cfg.Store.RedisURL, logger)
	defer cacheClient.Close()
	if cacheClient.Enabled() {
		devices = repository.NewCachedDeviceRepository(devices, cacheClient, cfg.Store.CacheTTL, logger)
	}

	registry := metrics.NewRegistry()
	stats := metrics.NewStatistics(registry.Registerer())

	tracker := lifecycle.NewTracker(devices, cfg.Connectionless(), logger,
		lifecycle.WithStoreTimeout(cfg.Store.Timeout),
		lifecycle.WithCountObserver(stats.SetConnections))

	reporter := sink.NewAsyncClient(sink.NewClient(cfg.Sink.URL, cfg.Sink.Timeout),
		cfg.Sink.Timeout, cfg.Sink.Workers, cfg.Sink.QueueSize, registry.Registerer())
	// Sink workers outlive the signal so queued reports drain on Stop.
	if err := reporter.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	defer func() {
		if err := reporter.Stop(cfg.Sink.Timeout); err != nil {
			logger.Warn("sink workers did not stop cleanly", "error", err)
		}
	}()

	publisher := openPublisher(cfg, logger)
	defer publisher.Close()

	dispatcher := service.NewDispatcher(service.Dependencies{
		Devices:      devices,
		Positions:    st.positions,
		Reporter:     reporter,
		Sessions:     tracker,
		Statistics:   stats,
		Events:       publisher,
		Battery:      service.VoltageCurve{MinVoltage: cfg.Battery.MinVoltage, VoltageRange: cfg.Battery.VoltageRange},
		Formatter:    format.NewFormatter(cfg.LogAttributes()),
		Logger:       logger,
		StoreTimeout: cfg.Store.Timeout,
		SinkTimeout:  cfg.Sink.Timeout,
	})

	tcpServer := server.NewTCPServer(address(cfg.Host, cfg.TCPPort), cfg.IdleTimeout,
		server.NewHandler(h02.NewDecoder(), devices, dispatcher, tracker, cfg.Store.Timeout, logger),
		tracker, logger)
	if err := tcpServer.Start(ctx); err != nil {
		return err
	}
	defer tcpServer.Stop()

	udpServer := server.NewUDPServer(address(cfg.Host, cfg.UDPPort), cfg.IdleTimeout,
		server.NewHandler(nmea.NewDecoder(), devices, dispatcher, tracker, cfg.Store.Timeout, logger),
		tracker, logger)
	if err := udpServer.Start(ctx); err != nil {
		return err
	}
	defer udpServer.Stop()

	deviceService := service.NewDeviceService(devices)
	httpServer := &http.Server{
		Addr: address(cfg.Host, cfg.HTTPPort),
		Handler: router.NewRouter(router.Options{
			DeviceService:   deviceService,
			PositionService: service.NewPositionService(st.positions, deviceService),
			Statistics:      stats,
			Connections:     tracker.Count,
			Metrics:         registry.Handler(),
			Logger:          logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	go rotateStatistics(ctx, stats, logger)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// rotateStatistics logs and resets the message statistics once per period.
func rotateStatistics(ctx context.Context, stats *metrics.Statistics, logger *slog.Logger) {
	ticker := time.NewTicker(statisticsPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot := stats.Rotate()
			logger.Info("statistics",
				"start", snapshot.Start,
				"messagesStored", snapshot.MessagesStored,
				"activeDevices", snapshot.ActiveDevices)
		}
	}
}

func address(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
