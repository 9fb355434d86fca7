package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pairlab/pairing-server-go/internal/config"
	"github.com/pairlab/pairing-server-go/internal/database"
	"github.com/pairlab/pairing-server-go/internal/handler"
	"github.com/pairlab/pairing-server-go/internal/jobs"
	"github.com/pairlab/pairing-server-go/internal/middleware"
	"github.com/pairlab/pairing-server-go/internal/redis"
	"github.com/pairlab/pairing-server-go/internal/repository"
	"github.com/pairlab/pairing-server-go/internal/service"
	"github.com/pairlab/pairing-server-go/internal/token"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("ENVIRONMENT") == "production"
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	var (
		pairingRepo repository.PairingRepository
		stateRepo   repository.ProviderStateRepository
		userRepo    repository.UserRepository
		db          *database.DB
	)

	switch cfg.PairingStore {
	case "memory":
		pairingRepo = repository.NewInMemoryPairingRepository()
		stateRepo = repository.NewInMemoryProviderStateRepository()
		userRepo = repository.NewInMemoryUserRepository()
		log.Info().Msg("using in-memory store")
	default:
		db, err = database.Connect(cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
		if err := db.Ping(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to ping database")
		}
		cancel()
		log.Info().Msg("database connected")

		pairingRepo = repository.NewPairingRepository(db.DB)
		stateRepo = repository.NewProviderStateRepository(db.DB)
		userRepo = repository.NewUserRepository(db.DB)
	}

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	issuer := token.NewJWTIssuer(cfg.TokenSecret, cfg.TokenIssuer, cfg.TokenTTL())

	pairingService := service.NewPairingService(pairingRepo, issuer, cfg.PairingTTL())

	providerClients := map[string]service.ProviderClient{}
	if cfg.ProviderConfigured() {
		providerClients[cfg.OIDCProviderID] = service.NewOIDCClient(service.OIDCClientConfig{
			IssuerURL:    cfg.OIDCIssuerURL,
			ClientID:     cfg.OIDCClientID,
			ClientSecret: cfg.OIDCClientSecret,
			RedirectURL:  cfg.OIDCRedirectURL,
		})
		log.Info().Str("provider", cfg.OIDCProviderID).Msg("federated login provider configured")
	}
	loginService := service.NewProviderLoginService(providerClients, stateRepo, userRepo, issuer, cfg.ProviderTTL())

	rateLimiter := service.NewRateLimiter(redisClient.Client)

	authMiddleware := middleware.NewAuthMiddleware(issuer)
	initiateLimitMiddleware := middleware.NewIPRateLimitMiddleware(
		rateLimiter, config.InitiateRateLimit, config.RateLimitWindowDur, "pairing:initiate",
	)
	claimLimitMiddleware := middleware.NewIPRateLimitMiddleware(
		rateLimiter, config.ClaimRateLimit, config.RateLimitWindowDur, "pairing:claim",
	)

	pairingHandler := handler.NewPairingHandler(
		pairingService, authMiddleware,
		initiateLimitMiddleware.Handler, claimLimitMiddleware.Handler,
	)
	providerHandler := handler.NewProviderHandler(loginService)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Route("/v1/pairing", func(r chi.Router) {
		r.Mount("/", pairingHandler.Routes())
	})

	r.Route("/v1/auth", func(r chi.Router) {
		r.Mount("/", providerHandler.Routes())
	})

	sweeper := jobs.NewSweeper(pairingRepo, stateRepo, config.SweepInterval, cfg.Retention())
	sweeper.Start()
	defer sweeper.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
