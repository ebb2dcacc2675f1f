package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/marketplace/internal/domain/coupon"
	"github.com/xenking/marketplace/internal/domain/delivery"
	"github.com/xenking/marketplace/internal/domain/dispute"
	"github.com/xenking/marketplace/internal/domain/order"
	"github.com/xenking/marketplace/internal/domain/promotion"
	"github.com/xenking/marketplace/internal/domain/returns"
	"github.com/xenking/marketplace/internal/domain/review"
	"github.com/xenking/marketplace/internal/events/kafka"
	"github.com/xenking/marketplace/internal/handler"
	"github.com/xenking/marketplace/internal/storage/postgres"
	"github.com/xenking/marketplace/internal/storage/redis"
	"github.com/xenking/marketplace/pkg/health"
	"github.com/xenking/marketplace/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}
	db := postgres.New(pool)

	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck("postgres", db))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("gc_pause", time.Second, health.GCMaxPauseCheck(time.Second))

	// Optional infrastructure.
	var (
		idem    handler.Idempotency
		limiter httpmiddleware.Limiter
	)
	if cfg.Redis.Addr != "" {
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()
		healthSvc.AddReadinessCheck("redis", 2*time.Second, func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
		idem = redis.NewIdempotencyStore(rdb, cfg.Redis.IdempotencyTTL)
		limiter = redis.NewRateLimiter(rdb, cfg.RateLimit.Max, cfg.RateLimit.Window)
		lg.Info("Checkout idempotency and shared rate limits enabled", zap.String("redis", cfg.Redis.Addr))
	}

	var events order.Publisher = order.NopPublisher{}
	if brokers := cfg.Kafka.brokers(); len(brokers) > 0 {
		w := kafka.NewWriter(brokers, cfg.Kafka.Topic)
		defer func() {
			if err := w.Close(); err != nil {
				lg.Warn("Close kafka writer", zap.Error(err))
			}
		}()
		healthSvc.AddReadinessCheck("kafka", 5*time.Second, health.PingCheck("kafka", kafka.Brokers(brokers)))
		events = kafka.NewPublisher(w)
		lg.Info("Order events enabled", zap.Strings("brokers", brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	healthSvc.Start(ctx, 10*time.Second)

	// Repositories.
	productRepo := postgres.NewProductRepository(db)
	couponRepo := postgres.NewCouponRepository(db)
	promotionRepo := postgres.NewPromotionRepository(db)
	orderRepo := postgres.NewOrderRepository(db)
	personRepo := postgres.NewDeliveryRepository(db)
	disputeRepo := postgres.NewDisputeRepository(db)
	returnRepo := postgres.NewReturnRepository(db)
	reviewRepo := postgres.NewReviewRepository(db)
	auditRepo := postgres.NewAuditRepository(db)
	apikeyRepo := postgres.NewAPIKeyRepository(db)

	// Domain services.
	couponValidator := coupon.NewValidator(couponRepo, m.MeterProvider().Meter("marketplace/coupon"))
	couponService := coupon.NewService(couponRepo, db, auditRepo)

	conditions, err := promotion.NewConditions()
	if err != nil {
		return errors.Wrap(err, "create promotion conditions")
	}
	promotionEngine := promotion.NewEngine(promotionRepo, conditions)
	promotionService := promotion.NewService(promotionRepo, productRepo, conditions, db, auditRepo)

	orderService := order.NewService(order.Deps{
		Products:   productRepo,
		Coupons:    couponValidator,
		Promotions: promotionEngine,
		Orders:     orderRepo,
		Fleet:      delivery.NewFleet(personRepo),
		Tx:         db,
		Audit:      auditRepo,
		Events:     events,
		Tracer:     m.TracerProvider(),
		Meter:      m.MeterProvider(),
	})
	deliveryService := delivery.NewService(personRepo, orderRepo, orderService, db, m.TracerProvider())
	disputeService := dispute.NewService(disputeRepo, orderRepo, db, auditRepo)
	returnService := returns.NewService(returnRepo, orderRepo, db, auditRepo)
	reviewService := review.NewService(reviewRepo)

	// HTTP handlers.
	h := handler.NewHandler(
		handler.Config{ImageBaseURL: cfg.ImageBaseURL},
		handler.Deps{
			Products:    productRepo,
			Validator:   couponValidator,
			Coupons:     couponService,
			Promotions:  promotionService,
			Orders:      orderService,
			Delivery:    deliveryService,
			Disputes:    disputeService,
			Returns:     returnService,
			Reviews:     reviewService,
			Audit:       auditRepo,
			Idempotency: idem,
			Auth:        handler.NewAuthenticator(apikeyRepo, []byte(cfg.APIKeyPepper)),
		},
	)

	// Router: health endpoints + the API on one server. The chi router is
	// outermost so route patterns are visible to the logging middleware.
	r := chi.NewRouter()
	r.Use(
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowHeaders:     []string{"Content-Type", handler.APIKeyHeader, handler.IdempotencyKeyHeader, httpmiddleware.RequestIDHeader},
			ExposeHeaders:    []string{httpmiddleware.RequestIDHeader, handler.ReplayedHeader},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(zctx.From(ctx)),
		httpmiddleware.Instrument("marketplace-api", m),
		httpmiddleware.LogRequests(),
		httpmiddleware.Labeler(),
	)
	r.Get("/livez", healthSvc.LiveEndpoint)
	r.Get("/readyz", healthSvc.ReadyEndpoint)
	r.Group(func(r chi.Router) {
		r.Use(httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
			Max:     cfg.RateLimit.Max,
			Window:  cfg.RateLimit.Window,
			Limiter: limiter,
		}))
		r.Mount("/api", h.Routes())
	})
	r.NotFound(handler.NotFound)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           r,
	}
	healthSvc.SetReady(true)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "serve")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		defer healthSvc.Stop()

		// Load balancers stop routing once /readyz fails; give them time to
		// notice before connections are closed.
		healthSvc.SetReady(false)
		lg.Info("Draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Graceful.ShutdownTimeout)
		defer cancel()
		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutdown")
		}
		return nil
	})
	return g.Wait()
}
