package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/toolbox/internal/api/handlers/tool"
	"github.com/aliskhannn/toolbox/internal/api/router"
	"github.com/aliskhannn/toolbox/internal/api/server"
	"github.com/aliskhannn/toolbox/internal/config"
	"github.com/aliskhannn/toolbox/internal/converter"
	"github.com/aliskhannn/toolbox/internal/executor"
	"github.com/aliskhannn/toolbox/internal/infra/kafka/consumer"
	"github.com/aliskhannn/toolbox/internal/infra/kafka/producer"
	maintenancemsg "github.com/aliskhannn/toolbox/internal/kafka/handlers/maintenance"
	"github.com/aliskhannn/toolbox/internal/maintenance"
	"github.com/aliskhannn/toolbox/internal/metrics"
	"github.com/aliskhannn/toolbox/internal/registry"
	conversionrepo "github.com/aliskhannn/toolbox/internal/repository/conversion"
	conversionsvc "github.com/aliskhannn/toolbox/internal/service/conversion"
	"github.com/aliskhannn/toolbox/internal/storage/file"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default ./config/config.yml)")
	flag.Parse()

	// Context & signals: used for graceful shutdown on system interrupts.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize logger and load application configuration.
	zlog.Init()
	cfg := config.MustLoad(*configPath)

	if lvl, err := zerolog.ParseLevel(cfg.Log.Level); err == nil {
		zerolog.SetGlobalLevel(lvl)
	} else {
		zlog.Logger.Warn().Str("level", cfg.Log.Level).Msg("unknown log level, keeping default")
	}

	for _, dir := range []string{cfg.Storage.UploadDir, cfg.Storage.OutputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			zlog.Logger.Fatal().Err(err).Str("dir", dir).Msg("failed to create directory")
		}
	}

	// Retry strategy for Kafka and other external calls.
	strategy := retry.Strategy{
		Attempts: cfg.Retry.Attempts,
		Delay:    cfg.Retry.Delay,
		Backoff:  cfg.Retry.Backoff,
	}

	// Converters and one pending-conversion store per tool.
	runner := converter.ExecRunner{}
	converters := converter.NewRegistry(
		converter.NewImage(cfg.Conversion.FontPath),
		converter.NewCrop(),
		converter.NewAudio(runner, cfg.Conversion.FFmpegPath),
		converter.NewGifVideo(runner, cfg.Conversion.FFmpegPath, cfg.Conversion.MaxMediaSize),
		converter.NewOCR(runner, cfg.Conversion.TesseractPath),
	)

	kinds := converters.Kinds()
	stores := make([]*registry.Store, 0, len(kinds))
	for _, k := range kinds {
		stores = append(stores, registry.NewStore(k))
	}

	sweeper := registry.NewSweeper(cfg.Storage.OutputDir, cfg.Conversion.Retention)
	exec := executor.New(converters, cfg.Storage.OutputDir, cfg.Conversion.Timeout)
	storage := file.NewStorage(cfg.Storage.UploadDir)

	var opts []conversionsvc.Option

	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		m := metrics.New(cfg.Metrics.Runtime)
		metricsHandler = m.Handler()
		opts = append(opts, conversionsvc.WithMetrics(m))
	}

	var p *producer.Producer
	if cfg.Kafka.Enabled {
		p = producer.New(&cfg.Kafka, strategy)
		opts = append(opts, conversionsvc.WithEvents(p))
	}

	// Connect to PostgreSQL (master and slaves) for the audit log.
	var (
		db   *dbpg.DB
		repo *conversionrepo.Repository
	)
	if cfg.Database.Enabled {
		dbOpts := &dbpg.Options{
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		}

		slaveDSNs := make([]string, 0, len(cfg.Database.Slaves))
		for _, s := range cfg.Database.Slaves {
			slaveDSNs = append(slaveDSNs, s.DSN())
		}

		var err error
		db, err = dbpg.New(cfg.Database.Master.DSN(), slaveDSNs, dbOpts)
		if err != nil {
			zlog.Logger.Fatal().Err(err).Msg("failed to connect to database")
		}

		repo = conversionrepo.NewRepository(db)
		opts = append(opts, conversionsvc.WithAudit(repo))
	}

	service := conversionsvc.New(stores, converters, exec, sweeper, storage, opts...)

	var wg sync.WaitGroup

	// Periodic sweep of expired conversions.
	loop := maintenance.New(service, cfg.Conversion.MaintenanceInterval)
	if repo != nil {
		loop.WithAudit(repo, cfg.Database.AuditRetention)
	}
	wg.Add(1)
	go loop.Run(ctx, &wg)

	// Kafka consumer for sweep requests.
	var c *consumer.Consumer
	if cfg.Kafka.Enabled {
		c = consumer.New(&cfg.Kafka, strategy, maintenancemsg.NewSweepHandler(service))
		wg.Add(1)
		go c.Consume(ctx, &wg)
	}

	// Start HTTP server in a separate goroutine.
	h := tool.NewHandler(service, cfg.Server.MaxUpload)
	r := router.Setup(h, metricsHandler)
	s := server.New(cfg.Server.Addr(), r, cfg.Server.WriteTimeout)
	go func() {
		zlog.Logger.Info().Str("addr", s.Addr).Msg("starting server")
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Block until context is canceled (SIGINT/SIGTERM).
	<-ctx.Done()
	zlog.Logger.Info().Msg("context done")

	// Graceful shutdown with timeout for HTTP server.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	zlog.Logger.Info().Msg("shutting down server")
	if err := s.Shutdown(shutdownCtx); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to shutdown server")
	}
	if errors.Is(shutdownCtx.Err(), context.DeadlineExceeded) {
		zlog.Logger.Info().Msg("timeout exceeded, forcing shutdown")
	}

	// Wait for background goroutines to finish.
	wg.Wait()

	// Close Kafka producer and consumer clients.
	if p != nil {
		if err := p.Close(); err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to close kafka producer client")
		}
	}
	if c != nil {
		if err := c.Close(); err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to close kafka consumer client")
		}
	}

	// Close master and slave databases.
	if db != nil {
		if err := db.Master.Close(); err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to close master DB")
		}
		for i, sl := range db.Slaves {
			if err := sl.Close(); err != nil {
				zlog.Logger.Error().Err(err).Int("slave", i).Msg("failed to close slave DB")
			}
		}
	}
}
