package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pincex/tradingcore/internal/trading/admission"
	"github.com/pincex/tradingcore/internal/trading/auditlog"
	"github.com/pincex/tradingcore/internal/trading/config"
	"github.com/pincex/tradingcore/internal/trading/engine"
	"github.com/pincex/tradingcore/internal/trading/events"
	"github.com/pincex/tradingcore/internal/trading/marketdata"
	"github.com/pincex/tradingcore/internal/trading/messaging"
	"github.com/pincex/tradingcore/internal/trading/persistence"
	"github.com/pincex/tradingcore/internal/trading/risk"
	"github.com/pincex/tradingcore/pkg/logger"
	"github.com/pincex/tradingcore/pkg/telemetry"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", os.Getenv("TRADINGCORE_CONFIG"), "path to the YAML config file")
	restore := flag.Bool("restore", false, "rebuild books from the audit sink before starting")
	metricsAddr := flag.String("metrics-addr", ":9102", "prometheus listen address, empty disables")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	zapLogger, err := logger.NewLoggerWithConfig(cfg.LoggerConfig())
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	if err := run(cfg, *restore, *metricsAddr, zapLogger); err != nil {
		zapLogger.Fatal("Trading core failed", zap.Error(err))
	}
}

func run(cfg *config.Config, restore bool, metricsAddr string, zapLogger *zap.Logger) error {
	shutdownTracing, err := telemetry.Setup(context.Background(), cfg.TelemetryConfig())
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			zapLogger.Error("Failed to flush traces", zap.Error(err))
		}
	}()

	sink, err := openSink(cfg.Audit, zapLogger)
	if err != nil {
		return err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			zapLogger.Error("Failed to close audit sink", zap.Error(err))
		}
	}()

	positions := risk.NewPositionTracker()
	bus := events.NewInMemoryEventBus(zapLogger)
	bus.Subscribe(events.TopicBreaker, func(ev events.Event) {
		zapLogger.Warn("Circuit breaker changed",
			zap.String("pair", ev.Pair.String()),
			zap.String("from", ev.BreakerChanged.From),
			zap.String("to", ev.BreakerChanged.To),
			zap.String("reason", ev.BreakerChanged.Reason))
	})
	publishers := events.MultiPublisher{positions, bus}

	if cfg.Kafka.Enabled {
		kp, err := messaging.NewKafkaPublisher(cfg.Kafka.Publisher(), zapLogger)
		if err != nil {
			return err
		}
		defer kp.Close()
		publishers = append(publishers, kp)
	}

	eng, err := engine.NewEngine(cfg.ToEngineConfig(), engine.Dependencies{
		Sink:      sink,
		Publisher: publishers,
		Risk:      risk.NewManager(cfg.RiskLimits(), positions, zapLogger),
		Clock:     admission.SystemClock{},
		IDs:       admission.UUIDGenerator{},
	}, zapLogger)
	if err != nil {
		return err
	}
	discounts, err := cfg.AccountDiscounts()
	if err != nil {
		return err
	}
	for _, d := range discounts {
		if err := eng.Fees().SetAccountDiscount(d); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if restore {
		if err := eng.Restore(ctx); err != nil {
			return err
		}
	}
	if err := eng.Start(ctx); err != nil {
		return err
	}

	if cfg.Redis.Enabled {
		rdb := redis.NewClient(cfg.Redis.Options())
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			zapLogger.Warn("Redis not reachable, depth feed will retry", zap.Error(err))
		}
		go marketdata.NewDepthPublisher(eng, rdb, cfg.Redis.Feed(), zapLogger).Run(ctx)
	}

	var srv *http.Server
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv = &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				zapLogger.Error("Metrics server failed", zap.Error(err))
			}
		}()
	}

	zapLogger.Info("Trading core running",
		zap.Int("pairs", len(eng.Pairs())),
		zap.String("audit_driver", cfg.Audit.Driver),
		zap.Bool("kafka", cfg.Kafka.Enabled),
		zap.Bool("redis", cfg.Redis.Enabled))
	<-ctx.Done()
	zapLogger.Info("Shutting down trading core")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if srv != nil {
		_ = srv.Shutdown(shutdownCtx)
	}
	return eng.Stop(shutdownCtx)
}

func openSink(cfg config.AuditConfig, zapLogger *zap.Logger) (auditlog.Sink, error) {
	switch cfg.Driver {
	case config.AuditFile:
		return auditlog.NewFileSink(cfg.Path, cfg.FSync, zapLogger)
	case config.AuditBadger:
		return auditlog.NewBadgerSink(cfg.Path)
	case config.AuditPostgres, config.AuditSQLite:
		return persistence.Open(cfg.Driver, cfg.DSN, zapLogger)
	default:
		zapLogger.Warn("Using the in-memory audit sink, nothing survives a restart")
		return auditlog.NewMemorySink(), nil
	}
}
