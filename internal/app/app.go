// Package app wires the api server and the payment consumer.
package app

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/foodorder/internal/auth"
	"github.com/xenking/foodorder/internal/broker"
	"github.com/xenking/foodorder/internal/cache"
	"github.com/xenking/foodorder/internal/checkout"
	"github.com/xenking/foodorder/internal/domain/cart"
	"github.com/xenking/foodorder/internal/domain/coupon"
	"github.com/xenking/foodorder/internal/domain/order"
	"github.com/xenking/foodorder/internal/domain/payment"
	"github.com/xenking/foodorder/internal/handler"
	"github.com/xenking/foodorder/internal/notify"
	"github.com/xenking/foodorder/internal/reconcile"
	"github.com/xenking/foodorder/internal/repository"
	"github.com/xenking/foodorder/pkg/health"
	"github.com/xenking/foodorder/pkg/httpmiddleware"
	"github.com/xenking/foodorder/pkg/metrics"
)

const serviceName = "foodorder"

// RunAPI creates all dependencies of the api server, starts it together with
// the reconciliation sweep, and handles graceful shutdown.
func RunAPI(ctx context.Context, lg *zap.Logger, t *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr), zap.String("cart_backend", cfg.Cart.Backend))
	if cfg.JWTSecret == "" {
		return errors.New("jwt secret is required: set FOOD_JWT_SECRET")
	}

	pool, err := openDatabase(ctx, lg, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	var rdb redis.UniversalClient
	if cfg.Redis.Enabled() {
		rdb = newRedis(cfg.Redis)
		defer func() { _ = rdb.Close() }()
	}

	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	if rdb != nil {
		healthSvc.AddReadinessCheck("redis", 2*time.Second, health.RedisCheck(rdb))
	}
	healthSvc.AddReadinessCheck("kafka", 5*time.Second, health.KafkaCheck(cfg.Kafka.Brokers),
		health.WithThresholds(3, 1),
	)
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	m := newMetrics()
	tracer := t.TracerProvider().Tracer(serviceName)

	// Repositories.
	foods := repository.NewFoodRepository(pool)
	coupons := repository.NewCouponRepository(pool)
	orders := repository.NewOrderRepository(pool)
	payments := repository.NewPaymentRepository(pool)
	apikeys := repository.NewAPIKeyRepository(pool)

	var carts cart.Store
	switch cfg.Cart.Backend {
	case CartRedis:
		carts = cache.NewCartStore(rdb, cfg.Cart.TTL)
	case CartMemory:
		carts = cart.NewMemoryStore()
	default:
		carts = repository.NewCartRepository(pool)
	}

	// Replicas share the checkout lock through redis when it is configured.
	var guard checkout.Guard = checkout.NewLocalGuard()
	if rdb != nil {
		guard = cache.NewCheckoutGuard(rdb, cfg.Checkout.LockTTL)
	}

	origins := httpmiddleware.NewOrigins(cfg.CORS.Origins)
	hub := notify.NewHub(cfg.Notify.hub(origins.CheckRequest), m, lg.Named("hub"))
	defer hub.Close()

	publisher := broker.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, tracer)
	defer func() {
		if err := publisher.Close(); err != nil {
			lg.Warn("Close publisher", zap.Error(err))
		}
	}()
	initiator := payment.NewInitiator(payment.StubGateway{}, payments, publisher, lg.Named("payment"))

	// Domain services.
	checkoutSvc := checkout.NewService(checkout.Deps{
		Carts:    carts,
		Prices:   foods,
		Coupons:  coupon.NewRepoValidator(coupons),
		Orders:   orders,
		Payments: initiator,
		Notifier: hub,
		Metrics:  m,
		Tracer:   tracer,
		Logger:   lg.Named("checkout"),
		Guard:    guard,
	}, cfg.Checkout.service())
	orderSvc := order.NewService(orders, hub, lg.Named("order"))
	cartSvc := cart.NewService(carts, cfg.Cart.Timeout, lg.Named("cart"))

	// HTTP handlers.
	h := handler.New(handler.Deps{
		Carts:    cartSvc,
		Menu:     foods,
		Checkout: checkoutSvc,
		Orders:   orderSvc,
		Hub:      hub,
		Tokens:   auth.NewVerifier(cfg.JWTSecret),
		APIKeys:  auth.NewAPIKeyAuthenticator(apikeys, []byte(cfg.APIKeyPepper)),
		Logger:   lg.Named("http"),
	}, handler.Config{
		RequestTimeout: cfg.RequestTimeout,
		APIMiddlewares: []httpmiddleware.Middleware{
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:      cfg.RateLimit.Max,
				Window:   cfg.RateLimit.Window,
				KeyFunc:  rateLimitKey,
				OnReject: func(r *http.Request, _ string) {
					m.RateLimit(r.Method)
				},
			}),
		},
	})

	// Router: probes, metrics and the API on one server.
	mux := chi.NewRouter()
	mux.Get("/livez", healthSvc.LiveEndpoint)
	mux.Get("/readyz", healthSvc.ReadyEndpoint)
	mux.Method(http.MethodGet, "/metrics", m.Handler())
	mux.Mount("/", h.Routes())

	server := newServer(cfg.Addr, httpmiddleware.Wrap(mux,
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowHeaders:     []string{"Content-Type", "Authorization", "X-API-Key", "X-Request-ID"},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(zctx.From(ctx)),
		httpmiddleware.Instrument(serviceName, t.TracerProvider(), t.MeterProvider()),
		httpmiddleware.LogRequests(),
	))

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Reconcile.Enabled {
		sweeper := reconcile.NewSweeper(cfg.Reconcile.sweeper(), orders, payments, initiator, m, lg.Named("reconcile"))
		g.Go(func() error {
			return sweeper.Run(gctx)
		})
	}
	g.Go(func() error {
		return serve(gctx, lg, server, healthSvc, cfg.Graceful)
	})
	return g.Wait()
}

// rateLimitKey limits authenticated callers per user and anonymous ones per
// client address.
func rateLimitKey(r *http.Request) string {
	if p, ok := auth.FromContext(r.Context()); ok {
		return "user:" + strconv.FormatInt(p.UserID, 10)
	}
	return httpmiddleware.ClientIP(r)
}

func openDatabase(ctx context.Context, lg *zap.Logger, url string) (*pgxpool.Pool, error) {
	pool, err := repository.NewPool(ctx, url)
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	applied, err := repository.RunMigrations(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "run migrations")
	}
	if len(applied) > 0 {
		lg.Info("Applied migrations", zap.Strings("versions", applied))
	}
	return pool, nil
}

func newRedis(cfg RedisConfig) redis.UniversalClient {
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    cfg.Addrs,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func newMetrics() *metrics.Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return metrics.New(reg)
}

func newServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              addr,
		Handler:           h,
	}
}

// serve runs server until ctx is done. On shutdown readiness is reported false
// for ReadinessDelay before in-flight requests get ShutdownTimeout to finish.
func serve(ctx context.Context, lg *zap.Logger, server *http.Server, healthSvc *health.Health, cfg GracefulConfig) error {
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.ReadinessDelay))
		time.Sleep(cfg.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
	}()

	lg.Info("Server listening", zap.String("addr", server.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
