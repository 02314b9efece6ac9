// Package app assembles the license server: configuration, logging,
// observability, the payments and mailer clients, the services layer
// and the chi router, with graceful shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"qoredb/internal/config"
	"qoredb/internal/infrastructure"
	"qoredb/internal/mailer"
	customMiddleware "qoredb/internal/middleware"
	"qoredb/internal/payments"
	"qoredb/internal/services"
	"qoredb/internal/store"
	handlers "qoredb/internal/transport/http"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// Application is the assembled license server.
type Application struct {
	Config        *config.Config
	Router        *chi.Mux
	Server        *http.Server
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders

	store           *store.Store
	paymentsClient  *payments.Client
	issuanceService *services.IssuanceService
	licenseService  *services.LicenseService
}

// NewApplication builds the application from configuration.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}

	logger.Info("application starting",
		slog.String("service", infrastructure.ServiceName),
		slog.String("version", Version))

	otelProviders, err := infrastructure.InitializeOTel(infrastructure.DefaultOTelConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("initialize observability: %w", err)
	}

	app := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: otelProviders,
	}

	app.initializeServices()
	app.setupRouter()
	app.createServer()

	return app, nil
}

func (a *Application) initializeServices() {
	cfg := a.Config

	a.paymentsClient = payments.NewClient(payments.ClientConfig{
		SecretKey: cfg.Payments.SecretKey,
		BaseURL:   cfg.Payments.BaseURL,
	})

	mailerClient := mailer.New(mailer.Config{
		APIKey:  cfg.Mailer.APIKey,
		From:    cfg.Mailer.From,
		BaseURL: cfg.Mailer.BaseURL,
	})
	if !mailerClient.Configured() {
		a.Logger.Warn("email api key not configured, license delivery disabled")
	}

	a.store = store.New(a.paymentsClient, a.Logger)
	a.issuanceService = services.NewIssuanceService(a.store, mailerClient, cfg.License.PrivateKey, a.Logger)
	a.licenseService = services.NewLicenseService(a.store, mailerClient, cfg.License.PrivateKey, a.Logger)
}

func (a *Application) setupRouter() {
	cfg := a.Config
	r := chi.NewRouter()

	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.RealIP)
	r.Use(customMiddleware.StructuredLogger(a.Logger))
	r.Use(customMiddleware.Recoverer(a.Logger))
	r.Use(customMiddleware.SecurityHeaders)
	r.Use(customMiddleware.Compress(5))
	r.Use(chimiddleware.Timeout(60 * time.Second))

	if cfg.Security.EnableCORS {
		r.Use(customMiddleware.CORS(customMiddleware.CORSConfig{
			AllowedOrigins: cfg.Security.AllowedOrigins,
		}))
	}

	if a.OTelProviders.Meter != nil {
		if httpMetrics, err := customMiddleware.NewHTTPMetrics(a.OTelProviders.Meter); err == nil {
			r.Use(httpMetrics.Handler)
		} else {
			a.Logger.Warn("http metrics disabled", slog.String("error", err.Error()))
		}
	}

	healthHandler := handlers.NewHealthHandler(Version)
	licenseHandler := handlers.NewLicenseHandler(a.licenseService, a.Logger)
	webhookHandler := handlers.NewWebhookHandler(a.issuanceService, cfg.Payments.WebhookSecret, a.Logger)
	checkoutHandler := handlers.NewCheckoutHandler(
		a.paymentsClient,
		handlers.CheckoutConfig{
			PriceID:     cfg.Payments.PriceID,
			SiteBaseURL: cfg.Site.BaseURL,
		},
		a.Logger,
	)
	releaseHandler := handlers.NewReleaseHandler(handlers.ReleaseConfig{
		Repo:     cfg.Releases.Repo,
		CacheTTL: cfg.Releases.CacheTTL,
	}, a.Logger)

	r.Route("/api", func(r chi.Router) {
		if cfg.Security.RateLimit.Enabled {
			general := customMiddleware.NewRateLimiter(
				cfg.Security.RateLimit.RPS, cfg.Security.RateLimit.Burst, a.Logger)
			r.Use(general.Handler)
		}

		r.Get("/pricing", checkoutHandler.Pricing)
		r.Get("/latest-release", releaseHandler.Latest)
		r.Mount("/checkout", checkoutHandler.Routes())
		r.Mount("/webhooks", webhookHandler.Routes())

		r.Route("/license", func(r chi.Router) {
			if cfg.Security.RateLimit.Enabled {
				resend := customMiddleware.NewRateLimiter(
					cfg.Security.RateLimit.ResendRPS, cfg.Security.RateLimit.ResendBurst, a.Logger)
				r.With(resend.Handler).Post("/resend", licenseHandler.Resend)
			} else {
				r.Post("/resend", licenseHandler.Resend)
			}
			r.Post("/status", licenseHandler.Status)
		})
	})

	r.Get("/healthz", healthHandler.Health)

	if a.OTelProviders.PrometheusHTTP != nil {
		r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)
	}

	a.Router = r
}

func (a *Application) createServer() {
	cfg := a.Config.Server
	a.Server = &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Port),
		Handler:        a.Router,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		MaxHeaderBytes: cfg.MaxHeaderBytes,
	}
}

// Run starts the HTTP server and blocks until shutdown completes.
func (a *Application) Run() error {
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("http server listening", slog.String("addr", a.Server.Addr))
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case sig := <-sigCh:
		a.Logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	}

	return a.Shutdown()
}

// Shutdown drains in-flight requests and stops the providers.
func (a *Application) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := a.Server.Shutdown(ctx); err != nil {
		a.Logger.Error("server shutdown failed", slog.String("error", err.Error()))
		return err
	}

	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(ctx); err != nil {
			a.Logger.Warn("observability shutdown failed", slog.String("error", err.Error()))
		}
	}

	if err := infrastructure.CloseLogFile(); err != nil {
		return err
	}

	a.Logger.Info("shutdown complete")
	return nil
}
