package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/foodorder/internal/broker"
	"github.com/xenking/foodorder/internal/notify"
	"github.com/xenking/foodorder/internal/paymentevents"
	"github.com/xenking/foodorder/internal/repository"
	"github.com/xenking/foodorder/pkg/health"
	"github.com/xenking/foodorder/pkg/httpmiddleware"
	"github.com/xenking/foodorder/pkg/idempotency"
)

// RunConsumer applies payment events to orders until ctx is done. Probes
// and metrics are served on cfg.MetricsAddr.
func RunConsumer(ctx context.Context, lg *zap.Logger, t *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.Strings("brokers", cfg.Kafka.Brokers),
		zap.String("topic", cfg.Kafka.Topic),
		zap.String("group", cfg.Kafka.GroupID),
	)
	if cfg.Notify.APIKey == "" {
		lg.Warn("No notify API key configured, branch notifications will be rejected")
	}

	pool, err := openDatabase(ctx, lg, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	m := newMetrics()
	tracer := t.TracerProvider().Tracer(serviceName + "/consumer")

	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddReadinessCheck("kafka", 5*time.Second, health.KafkaCheck(cfg.Kafka.Brokers),
		health.WithThresholds(3, 1),
	)
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	opts := []broker.ConsumerOption{broker.WithMetrics(m)}
	if cfg.Redis.Enabled() {
		rdb := newRedis(cfg.Redis)
		defer func() { _ = rdb.Close() }()
		healthSvc.AddReadinessCheck("redis", 2*time.Second, health.RedisCheck(rdb))
		opts = append(opts, broker.WithDeduper(idempotency.NewStore(rdb, cfg.Redis.IdempotencyTTL)))
	}
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	reducer := paymentevents.NewReducer(
		repository.NewOrderRepository(pool),
		notify.NewClient(cfg.Notify.client(), t.TracerProvider(), m),
		m,
		tracer,
		lg.Named("reducer"),
	)
	consumer := broker.NewConsumer(cfg.Kafka.consumer(), reducer.HandleMessage, tracer, lg.Named("consumer"), opts...)

	mux := chi.NewRouter()
	mux.Get("/livez", healthSvc.LiveEndpoint)
	mux.Get("/readyz", healthSvc.ReadyEndpoint)
	mux.Method(http.MethodGet, "/metrics", m.Handler())
	server := newServer(cfg.MetricsAddr, httpmiddleware.Wrap(mux,
		httpmiddleware.Recovery(),
		httpmiddleware.LogRequests(),
	))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := consumer.Run(gctx); err != nil {
			return errors.Wrap(err, "consume payment events")
		}
		return nil
	})
	g.Go(func() error {
		return serve(gctx, lg, server, healthSvc, cfg.Graceful)
	})
	return g.Wait()
}
