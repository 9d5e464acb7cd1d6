package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	clienth "github.com/tripdesk/tripdesk-portal/internal/http/handlers/client"
	"github.com/tripdesk/tripdesk-portal/internal/http/handlers/public"
	staffh "github.com/tripdesk/tripdesk-portal/internal/http/handlers/staff"
	appmw "github.com/tripdesk/tripdesk-portal/internal/http/middleware"
	"github.com/tripdesk/tripdesk-portal/internal/platform/mailer"
	"github.com/tripdesk/tripdesk-portal/internal/platform/payment"
	"github.com/tripdesk/tripdesk-portal/internal/platform/push"
	"github.com/tripdesk/tripdesk-portal/internal/platform/ratehawk"
	"github.com/tripdesk/tripdesk-portal/internal/platform/token"
	"github.com/tripdesk/tripdesk-portal/internal/repo/postgres"
	"github.com/tripdesk/tripdesk-portal/internal/service/clientauth"
	"github.com/tripdesk/tripdesk-portal/internal/service/offers"
	"github.com/tripdesk/tripdesk-portal/internal/service/staffauth"
	"github.com/tripdesk/tripdesk-portal/pkg/config"
	"github.com/tripdesk/tripdesk-portal/pkg/database"
	"github.com/tripdesk/tripdesk-portal/pkg/events"
	"github.com/tripdesk/tripdesk-portal/pkg/logger"
	mw "github.com/tripdesk/tripdesk-portal/pkg/middleware"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logger.Error("Invalid Redis URL", "error", err)
		os.Exit(1)
	}
	if cfg.Redis.Password != "" {
		redisOpts.Password = cfg.Redis.Password
	}
	redisOpts.DB = cfg.Redis.DB
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	eventBus, err := events.NewNATSEventBus(cfg.NATS.URL)
	if err != nil {
		logger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer eventBus.Close()

	// Repositories
	partyRepo := postgres.NewPartyRepo(pool)
	profileRepo := postgres.NewClientProfileRepo(pool)
	staffRepo := postgres.NewStaffRepo(pool)
	offerRepo := postgres.NewOfferRepo(pool)
	orderRepo := postgres.NewOrderRepo(pool)
	notifRepo := postgres.NewNotificationRepo(pool)

	// Platform clients
	tokens := token.NewService(cfg.Auth)
	stripeGateway := payment.NewStripeGateway(cfg.Stripe)
	hotelAPI := ratehawk.NewClient(cfg.RateHawk)
	mail := mailer.New(cfg.Email)
	pushSender := push.NewExpoSender()

	// Services
	clientAuthSvc := clientauth.NewService(partyRepo, profileRepo, tokens, eventBus)
	staffAuthSvc := staffauth.NewService(staffRepo, partyRepo, profileRepo, tokens, mail, cfg.BaseURL)
	offerSvc := offers.NewService(offerRepo, orderRepo, profileRepo, notifRepo,
		stripeGateway, hotelAPI, mail, pushSender, eventBus, cfg.BaseURL)

	// Handlers
	clientAuthHandler := clienth.NewAuthHandler(clientAuthSvc, tokens)
	clientOffersHandler := clienth.NewOffersHandler(offerSvc, notifRepo, tokens)
	staffAuthHandler := staffh.NewAuthHandler(staffAuthSvc, tokens)
	staffOffersHandler := staffh.NewOffersHandler(offerSvc, staffRepo, hotelAPI, tokens)
	paymentHandler := public.NewPaymentHandler(offerSvc)

	authLimiter := appmw.NewRateLimiter(rdb, appmw.RateLimitConfig{
		Requests: 10,
		Window:   time.Minute,
		KeyFunc:  appmw.AuthRateLimitKeyFunc,
	})

	r := chi.NewRouter()
	r.Use(mw.RequestID)
	r.Use(mw.ServiceName("portal"))
	r.Use(mw.Logging)
	r.Use(mw.Health)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/client", func(r chi.Router) {
			r.With(authLimiter.Middleware()).Mount("/auth", clientAuthHandler.Routes())
			r.Mount("/offers", clientOffersHandler.Routes())
			r.Mount("/notifications", clientOffersHandler.NotificationRoutes())
		})
		r.Route("/staff", func(r chi.Router) {
			r.With(authLimiter.Middleware()).Mount("/auth", staffAuthHandler.Routes())
			r.Mount("/offers", staffOffersHandler.Routes())
			r.Mount("/hotels", staffOffersHandler.SearchRoutes())
		})
	})
	r.Mount("/", paymentHandler.Routes())

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down portal...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Portal shutdown error", "error", err)
		}
	}()

	logger.Info("Starting portal", "port", cfg.Server.Port, "env", cfg.Env)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Portal server error", "error", err)
		os.Exit(1)
	}
}
