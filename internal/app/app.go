package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/olamide-dev/orderflow/internal/domain/order"
	"github.com/olamide-dev/orderflow/internal/httpapi"
	"github.com/olamide-dev/orderflow/internal/invoice"
	"github.com/olamide-dev/orderflow/internal/paystack"
	"github.com/olamide-dev/orderflow/internal/repository"
	"github.com/olamide-dev/orderflow/internal/worker"
	"github.com/olamide-dev/orderflow/pkg/health"
	"github.com/olamide-dev/orderflow/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server and the expiry
// sweeper, and handles graceful shutdown. It is the single wiring point for
// the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health probes.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool.Ping))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Repositories.
	productRepo := repository.NewProductRepository(pool)
	pendingRepo := repository.NewPendingOrderRepository(pool)
	orderRepo := repository.NewOrderRepository(pool)
	paymentRepo := repository.NewPaymentRepository(pool)
	invoiceRepo := repository.NewInvoiceRepository(pool)
	apikeyRepo := repository.NewAPIKeyRepository(pool)

	// Payment gateway + invoice issuance.
	gateway := paystack.NewClient(paystack.Config{
		SecretKey: cfg.Paystack.SecretKey,
		BaseURL:   cfg.Paystack.BaseURL,
		Timeout:   cfg.Paystack.Timeout,
	})
	invoices := invoice.NewGenerator(invoiceRepo,
		invoice.StaticRenderer{BaseURL: cfg.MediaBaseURL}, cfg.VerifyURL)

	// Lifecycle service.
	orderService := order.NewService(
		productRepo, pendingRepo, orderRepo, paymentRepo, gateway, invoices,
		order.Config{
			PendingTTL:  cfg.Orders.PendingTTL,
			CallbackURL: cfg.Paystack.CallbackURL,
		},
	)

	// HTTP surface: health endpoints + API routes on one mux.
	h := httpapi.NewHandler(
		httpapi.Config{ImageBaseURL: cfg.ImageBaseURL},
		orderService, productRepo, apikeyRepo, gateway, []byte(cfg.APIKeyPepper),
	)
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	h.Register(mux)

	handler := httpmiddleware.Wrap(mux,
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins: cfg.CORS.Origins,
			AllowHeaders: []string{"Content-Type", "Authorization", "api_key"},
			MaxAge:       86400,
		}),
		httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
			Max:    cfg.RateLimit.Max,
			Window: cfg.RateLimit.Window,
		}),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(zctx.From(ctx)),
		httpmiddleware.LogRequests(),
	)
	handler = otelhttp.NewHandler(handler, "orderflow-api",
		otelhttp.WithTracerProvider(m.TracerProvider()),
		otelhttp.WithMeterProvider(m.MeterProvider()),
	)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           handler,
	}

	sweeper := worker.NewSweeper(orderService, worker.SweeperConfig{
		Interval:  cfg.Orders.SweepInterval,
		BatchSize: cfg.Orders.SweepBatchSize,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := sweeper.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return errors.Wrap(err, "sweeper")
		}
		return nil
	})
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	g.Go(func() error {
		// Graceful shutdown: drop readiness first so load balancers drain
		// traffic before the listener closes.
		<-gctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		return nil
	})
	return g.Wait()
}
