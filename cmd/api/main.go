package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/toko-pricing/internal/app"
	"github.com/noah-isme/toko-pricing/internal/audit"
	"github.com/noah-isme/toko-pricing/internal/auth"
	"github.com/noah-isme/toko-pricing/internal/cart"
	"github.com/noah-isme/toko-pricing/internal/catalog"
	"github.com/noah-isme/toko-pricing/internal/common"
	"github.com/noah-isme/toko-pricing/internal/config"
	"github.com/noah-isme/toko-pricing/internal/discount"
	"github.com/noah-isme/toko-pricing/internal/events"
	"github.com/noah-isme/toko-pricing/internal/health"
	"github.com/noah-isme/toko-pricing/internal/lock"
	"github.com/noah-isme/toko-pricing/internal/obs"
	"github.com/noah-isme/toko-pricing/internal/order"
	"github.com/noah-isme/toko-pricing/internal/pricing"
	"github.com/noah-isme/toko-pricing/internal/queue"
	"github.com/noah-isme/toko-pricing/internal/ratelimit"
	"github.com/noah-isme/toko-pricing/internal/resilience"
	"github.com/noah-isme/toko-pricing/internal/security"
	"github.com/noah-isme/toko-pricing/internal/voucher"
)

const serviceName = "toko-pricing-api"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("env", cfg.AppEnv).Str("service", serviceName).Logger()
	if err := cfg.RequireJWT(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs.MustRegisterDomainMetrics(cfg.MetricsNamespace, nil)
	if err := resilience.RegisterMetrics(nil); err != nil {
		logger.Fatal().Err(err).Msg("register breaker metrics")
	}

	if cfg.TracingEnabled {
		shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
			ServiceName:   serviceName,
			Endpoint:      cfg.TracingEndpoint,
			Exporter:      cfg.TracingExporter,
			SamplingRatio: cfg.TracingRatio,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			cfg.TracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	deps, err := app.Open(connectCtx, cfg, serviceName, &logger)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("open dependencies")
	}
	defer deps.Close()

	verifier, err := auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTSkew)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise token verifier")
	}
	authMiddleware := auth.Middleware{Verifier: verifier, AccessCookie: cfg.AccessCookieName}

	taskClient := asynq.NewClient(deps.AsynqRedis())
	defer func() {
		if err := taskClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close task client")
		}
	}()
	inspector := asynq.NewInspector(deps.AsynqRedis())
	defer inspector.Close()
	enqueuer := queue.Enqueuer{Client: taskClient, Queue: cfg.QueueName, MaxAttempts: cfg.QueueMaxAttempts}

	discountStore := discount.NewPGStore(deps.DB)
	discountCache := &discount.CachedRepository{
		Next: discount.GuardedRepository{
			Next:    discountStore,
			Breaker: resilience.NewBreaker(10, 0.5, 15*time.Second).WithTarget("discounts").WithLogger(logger),
		},
		R:      deps.Redis,
		TTL:    cfg.DiscountCacheTTL,
		Logger: &logger,
	}
	resolver := &discount.Resolver{Repo: discountCache, Logger: &logger}
	discountHandler := &discount.Handler{Store: discountStore, Cache: discountCache, Resolver: resolver, Logger: &logger}

	voucherStore := voucher.NewPGStore(deps.DB)
	vouchers := &voucher.Resolver{Store: voucherStore, Restorer: enqueuer, Logger: &logger}
	voucherHandler := &voucher.Handler{Store: voucherStore, Logger: &logger}

	catalogService := &catalog.Service{
		Store: &catalog.PGStore{Pool: deps.DB},
		Cache: catalog.NewProductCache(deps.Redis, cfg.CatalogCacheTTL).WithLogger(logger),
	}
	catalogHandler := catalog.Handler{Service: catalogService}

	bus := &events.Bus{
		Store:     &events.PGStore{Pool: deps.DB},
		Notifiers: []events.Notifier{events.LogNotifier{Logger: &logger}},
	}

	cartStore := cart.NewPGStore(deps.DB)
	cartSvc := &cart.Service{
		Store: cartStore,
		Locker: lock.Locker{
			R:            deps.Redis,
			Prefix:       "cart",
			RetryBackoff: cfg.LockRetryBackoff,
			Wait:         cfg.LockWait,
		},
		Catalog:  catalogService,
		Pricing:  &pricing.Aggregator{Pricer: resolver, Concurrency: cfg.PricingConcurrency, Logger: &logger},
		Vouchers: vouchers,
		Events:   bus,
		Logger:   &logger,
		TTL:      cfg.CartTTL,
		LockTTL:  cfg.LockTTL,
	}
	cartHandler := &cart.Handler{Svc: cartSvc, Logger: &logger}

	orderSvc := &order.Service{
		Store:  &order.PGStore{Pool: deps.DB, Carts: cartStore},
		Carts:  cartSvc,
		Events: bus,
		Logger: &logger,
	}
	orderHandler := &order.Handler{Svc: orderSvc, Logger: &logger}

	queueAdmin := &queue.AdminHandler{
		Store:     queue.NewStore(deps.DB),
		Queue:     enqueuer,
		Inspector: inspector,
		PageSize:  cfg.DLQPageSize,
		Logger:    &logger,
	}

	auditStore := &audit.PGStore{Pool: deps.DB}
	auditRecorder := audit.HTTPRecorder{
		Service: audit.Service{Store: auditStore, Enabled: cfg.AuditEnabled},
		OnError: func(err error) { logger.Error().Err(err).Msg("audit record failed") },
	}

	limiter, err := ratelimit.NewRedisLimiter(deps.Redis, "ratelimit")
	if err != nil {
		logger.Fatal().Err(err).Msg("build rate limiter")
	}
	voucherLimit := ratelimit.Handler{
		Limiter: limiter,
		Config: ratelimit.Config{
			Name:   "voucher-apply",
			Key:    ratelimit.ClientKey(ownerKey),
			Window: cfg.VoucherRateWindow,
			Max:    cfg.VoucherRateMax,
		},
		OnError: func(err error) { logger.Warn().Err(err).Msg("rate limiter unavailable") },
	}
	idem := common.Idem{R: deps.Redis, TTL: cfg.IdempotencyTTL, Owner: ownerKey}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.TracingEnabled {
		r.Use(obs.Tracing(serviceName))
	}
	if cfg.MetricsEnabled {
		httpMetrics := obs.NewHTTPMetrics(cfg.MetricsNamespace, obs.ParseBucketsCSV(cfg.MetricsBuckets), nil)
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "Idempotency-Key", obs.SessionHeader},
		ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Remaining", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(security.Headers{HSTS: cfg.HSTS}.Middleware)
	r.Use(security.BodyLimit{Max: cfg.BodyLimitBytes}.Middleware)

	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if cfg.PprofEnabled {
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), cfg.PprofUser, cfg.PprofPass))
	}

	healthHandler := health.Handler{Checker: health.Probe{Pool: deps.DB, Redis: deps.Redis}}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(authMiddleware.Authenticate)
		v.Use(security.CSRF{AuthCookie: cfg.AccessCookieName}.Middleware)

		v.Get("/products/{productId}", catalogHandler.Product)
		v.Get("/products/{productId}/pricing", discountHandler.Preview)

		v.Route("/carts", func(c chi.Router) {
			c.Group(func(g chi.Router) {
				g.Use(idem.Middleware)
				cartHandler.Routes(g)
			})
			c.Group(func(g chi.Router) {
				g.Use(voucherLimit.Middleware)
				cartHandler.VoucherRoute(g)
			})
		})

		v.Route("/orders", func(o chi.Router) {
			o.Use(idem.Middleware)
			orderHandler.Routes(o)
		})

		v.Route("/admin", func(admin chi.Router) {
			admin.Use(authMiddleware.RequireRole(auth.RoleAdmin))
			admin.Use(auditRecorder.Middleware)
			admin.Get("/audit", audit.Handler{Store: auditStore}.List)
			admin.Route("/discounts", discountHandler.Routes)
			admin.Route("/vouchers", voucherHandler.Routes)
			admin.Delete("/products/{productId}/cache", catalogHandler.Evict)
			admin.Route("/queue", queueAdmin.Routes)
		})
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	}()

	<-ctx.Done()
	health.SetReady(false)
	logger.Info().Msg("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown")
	}
}

// ownerKey identifies the caller for throttling and idempotency: the user id when
// logged in, else the guest session.
func ownerKey(r *http.Request) string {
	if owner, ok := cart.OwnerFromRequest(r); ok {
		return string(owner.Kind) + "-" + owner.ID
	}
	return "anonymous"
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	for _, name := range []string{"allocs", "block", "goroutine", "heap", "mutex", "threadcreate"} {
		mux.Handle("/"+name, pprof.Handler(name))
	}
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorised", nil)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
