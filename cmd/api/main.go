package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"parkledger/internal/api"
	"parkledger/internal/config"
	"parkledger/internal/database"
	"parkledger/internal/domain"
	"parkledger/internal/events"
	"parkledger/internal/export"
	"parkledger/internal/index"
	"parkledger/internal/logging"
	"parkledger/internal/metrics"
	"parkledger/internal/models"
	"parkledger/internal/pricing"
	"parkledger/internal/repository"
	"parkledger/internal/service"
	"parkledger/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	lots, err := loadLots(cfg, &logger)
	if err != nil {
		return err
	}

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startMetrics(ctx, cfg, &logger)

	pricer, err := pricing.NewModel(cfg.Pricing.MinimumHours, cfg.Pricing.RoundingMode)
	if err != nil {
		return fmt.Errorf("init pricing: %w", err)
	}

	idx := index.New()
	lotService := service.NewLotService(db, idx, &logger)
	if err := lotService.SeedLots(ctx, lots); err != nil {
		return err
	}

	eventBus := events.NewEventBus(&logger)
	sink := initKafka(ctx, cfg, eventBus, &logger)
	if sink != nil {
		defer (func() { _ = sink.Close() })()
	}

	redisClient := initRedis(ctx, cfg, &logger)
	if redisClient != nil {
		defer (func() { _ = repository.Close(redisClient) })()
	}

	var opts []service.LedgerOption
	if cfg.Allocation.Strategy == models.StrategyLotLock {
		opts = append(opts, service.WithLotLock(newLotLocker(cfg, redisClient, &logger)))
	}
	ledger := service.NewBookingLedger(db, idx, pricer, eventBus, &logger, opts...)
	if err := ledger.LoadIndex(ctx); err != nil {
		return fmt.Errorf("rebuild conflict index: %w", err)
	}

	scheduler, err := initScheduler(cfg, ledger, db, &logger)
	if err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	exporter := export.NewExporter(db, cfg.Exports.Path, &logger)

	if !cfg.API.Enabled {
		logger.Warn().Msg("API is disabled in config; running background jobs only")
		<-ctx.Done()
		return nil
	}

	var grpcServer *api.GRPCServer
	if cfg.API.GRPC.Enabled {
		grpcServer, err = api.NewGRPCServer(&cfg.API, ledger, &logger)
		if err != nil {
			logger.Error().Err(err).Msg("create grpc server")
			return err
		}
	}

	httpServer := api.NewHTTPServer(cfg.API, ledger, lotService, exporter, db, &logger)

	return startServers(ctx, grpcServer, httpServer, cfg, &logger)
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "api-main").Logger()

	return cfg, logger, closer, nil
}

// loadLots merges the inline inventory with the optional lots file. A lot in
// the file replaces an inline lot with the same id.
func loadLots(cfg *config.Config, logger *zerolog.Logger) ([]models.Lot, error) {
	lotsPath := os.Getenv("LOTS_PATH")
	if lotsPath == "" {
		lotsPath = "configs/lots.yaml"
	}

	data, err := os.ReadFile(lotsPath)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg.Lots, nil
	}
	if err != nil {
		logger.Error().Err(err).Str("lots_path", lotsPath).Msg("read lots")
		return nil, err
	}

	var lotsConfig struct {
		Lots []models.Lot `yaml:"lots"`
	}
	if err := yaml.Unmarshal(data, &lotsConfig); err != nil {
		logger.Error().Err(err).Str("lots_path", lotsPath).Msg("parse lots")
		return nil, err
	}

	merged := make([]models.Lot, 0, len(cfg.Lots)+len(lotsConfig.Lots))
	fromFile := make(map[int64]bool, len(lotsConfig.Lots))
	for _, lot := range lotsConfig.Lots {
		fromFile[lot.ID] = true
	}
	for _, lot := range cfg.Lots {
		if !fromFile[lot.ID] {
			merged = append(merged, lot)
		}
	}
	merged = append(merged, lotsConfig.Lots...)

	if err := config.ValidateLots(merged); err != nil {
		return nil, fmt.Errorf("lots file %s: %w", lotsPath, err)
	}
	logger.Info().Int("lots", len(merged)).Str("lots_path", lotsPath).Msg("inventory loaded")
	return merged, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, redisClient); err != nil {
		// the failover locker keeps probing, so the client is kept
		logger.Warn().Err(err).Msg("redis connection failed, lot locks fall back to memory")
		return redisClient
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

func newLotLocker(cfg *config.Config, redisClient *redis.Client, logger *zerolog.Logger) domain.Locker {
	memory := repository.NewMemoryLotLocker(cfg.Allocation.LockWaitDuration())
	if redisClient == nil {
		logger.Info().Msg("lot locks are process-local")
		return memory
	}
	primary := repository.NewRedisLotLocker(redisClient, cfg.Allocation.LockTTLDuration(), cfg.Allocation.LockWaitDuration())
	return repository.NewFailoverLotLocker(primary, memory, logger)
}

func initKafka(ctx context.Context, cfg *config.Config, bus *events.EventBus, logger *zerolog.Logger) *events.KafkaSink {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil
	}

	sink := events.NewKafkaSink(events.NewKafkaWriter(cfg.Kafka, logger), models.EventQueueSize, logger)
	bus.Subscribe(events.AllEvents, sink.Handle)
	go sink.Run(ctx)

	logger.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("booking events forwarded to kafka")
	return sink
}

func initScheduler(cfg *config.Config, ledger *service.BookingLedger, db *database.DB, logger *zerolog.Logger) (*worker.Scheduler, error) {
	scheduler := worker.NewScheduler(logger)

	if cfg.Sweeper.Enabled {
		sweeper := worker.NewSweeper(ledger, worker.RetryPolicy{
			MaxRetries:    3,
			InitialDelay:  time.Second,
			MaxDelay:      10 * time.Second,
			BackoffFactor: 2,
		}, logger)
		if err := scheduler.Add("expiry-sweeper", cfg.Sweeper.Schedule, sweeper.Run); err != nil {
			return nil, err
		}
	}

	backups := database.NewBackupService(db, cfg.Backup, logger)
	if backups.Enabled() {
		if err := scheduler.Add("backup", cfg.Backup.Schedule, backups.Run); err != nil {
			return nil, err
		}
	}

	return scheduler, nil
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startServers(
	ctx context.Context,
	grpcServer *api.GRPCServer,
	httpServer *api.HTTPServer,
	cfg *config.Config,
	logger *zerolog.Logger,
) error {
	if grpcServer != nil {
		go func() {
			if err := grpcServer.Serve(); err != nil {
				logger.Error().Err(err).Msg("grpc server stopped")
			}
		}()
	}

	go func() {
		if !cfg.API.HTTP.Enabled {
			return
		}
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	logger.Info().Bool("grpc", grpcServer != nil).Int("http_port", cfg.API.HTTP.Port).Msg("API server started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("API server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
