package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/BearBump/OrderDesk/config"
	deskapi "github.com/BearBump/OrderDesk/internal/api/desk_api"
	"github.com/BearBump/OrderDesk/internal/auth"
	"github.com/BearBump/OrderDesk/internal/broker/kafka"
	"github.com/BearBump/OrderDesk/internal/cache/rediscache"
	"github.com/BearBump/OrderDesk/internal/jobs"
	"github.com/BearBump/OrderDesk/internal/metrics"
	"github.com/BearBump/OrderDesk/internal/services/allocator"
	"github.com/BearBump/OrderDesk/internal/services/lifecycle"
	"github.com/BearBump/OrderDesk/internal/services/notify"
	"github.com/BearBump/OrderDesk/internal/storage/pgstore"
)

type deskAPIApp struct {
	ctx      context.Context
	cancel   context.CancelFunc
	opts     deskAPIOpts
	deps     deskAPIDeps
	watch    *jobs.InventoryWatch
	closeFns []func()
}

func mustBootstrapDeskAPI() *deskAPIApp {
	// .env опционален: в docker compose переменные приходят из окружения.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("load .env", "error", err.Error())
	}

	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = cfg.Auth.JWTSecret
	}
	if jwtSecret == "" {
		panic("auth.jwt_secret (or JWT_SECRET) is required")
	}

	grpcAddr := cfg.OrderDesk.GRPCAddr
	if grpcAddr == "" {
		grpcAddr = ":50051"
	}
	httpAddr := cfg.OrderDesk.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.OrderDesk.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "desk-api"
	}
	reportsTopic := cfg.Kafka.DeliveryReportedTopicName
	if reportsTopic == "" {
		reportsTopic = "delivery.reported"
	}
	changesTopic := cfg.Kafka.OrderChangedTopicName
	if changesTopic == "" {
		changesTopic = "order.changed"
	}
	countTTL := time.Duration(cfg.OrderDesk.InventoryCountTTLSeconds) * time.Second
	if countTTL <= 0 {
		countTTL = 30 * time.Second
	}
	watermark := cfg.OrderDesk.InventoryLowWatermark
	if watermark <= 0 {
		watermark = 50
	}

	st := mustOpenPostgresWithRetry(cfg.Database.ConnString(), 60*time.Second)
	rc := rediscache.New(cfg.Redis.Addr())
	producer := kafka.NewProducer(cfg.Kafka.Brokers())
	consumer := kafka.NewConsumer(cfg.Kafka.Brokers(), reportsTopic, consumerGroup).
		WithRetryBackoff(
			time.Duration(cfg.Kafka.ConsumerRetryMinMs)*time.Millisecond,
			time.Duration(cfg.Kafka.ConsumerRetryMaxMs)*time.Millisecond,
		)

	notifier := notify.New(producer, changesTopic)
	alloc := allocator.New(st, rc, countTTL, notifier).WithMaxCount(cfg.OrderDesk.ReserveMaxCount)
	life := lifecycle.New(st, notifier)

	metrics.Register()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &deskAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: deskAPIOpts{
			grpcAddr:      grpcAddr,
			httpAddr:      httpAddr,
			grpcDialAddr:  grpcAddr,
			swaggerPath:   swaggerPath,
			topic:         reportsTopic,
			consumerGroup: consumerGroup,
		},
		deps: deskAPIDeps{
			api:      deskapi.New(alloc, life),
			auth:     auth.New(jwtSecret),
			reports:  life,
			consumer: consumer,
			ready: func(ctx context.Context) error {
				if err := st.Ping(ctx); err != nil {
					return err
				}
				return rc.Ping(ctx)
			},
		},
		watch: jobs.NewInventoryWatch(st, cfg.OrderDesk.InventoryWatchCron, watermark, slog.Default()),
		closeFns: []func(){
			func() { _ = consumer.Close() },
			func() { _ = producer.Close() },
			func() { _ = rc.Close() },
			st.Close,
		},
	}
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgstore.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgstore.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *deskAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	for _, fn := range a.closeFns {
		fn()
	}
}

func (a *deskAPIApp) Run() error {
	if a.watch != nil {
		if err := a.watch.Start(); err != nil {
			return err
		}
		defer a.watch.Stop()
	}
	return runDeskAPI(a.ctx, a.opts, a.deps)
}
