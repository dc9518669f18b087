package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/blocklist-app/blocklist-server/internal/auth"
	"github.com/blocklist-app/blocklist-server/internal/config"
	"github.com/blocklist-app/blocklist-server/internal/db"
	"github.com/blocklist-app/blocklist-server/internal/handler"
	"github.com/blocklist-app/blocklist-server/internal/middleware"
	"github.com/blocklist-app/blocklist-server/internal/repository"
	"github.com/blocklist-app/blocklist-server/internal/repository/memstore"
	"github.com/blocklist-app/blocklist-server/internal/service"
	"github.com/blocklist-app/blocklist-server/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.File); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg); err != nil {
		logger.Log.Error("Server exited with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx := context.Background()

	repos, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	directory, closeIdentity := openDirectory(ctx, cfg, repos)
	defer closeIdentity()

	candidates := auth.CandidateURLs(cfg.Auth.JWKSURL, cfg.Auth.SupabaseURL)
	keys := auth.NewKeySet(candidates, cfg.Auth.JWKSTTL, cfg.Auth.JWKSFetchTimeout)
	logger.Log.Info("JWKS candidates configured", zap.Strings("candidates", candidates))

	issuer := auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	authenticator := auth.NewAuthenticator(keys, issuer, directory)

	var publisher service.EventPublisher = service.NopPublisher{}
	var brokerHealth handler.HealthChecker
	if cfg.RabbitMQ.Enabled {
		mp, err := service.NewMessagePublisher(&cfg.RabbitMQ)
		if err != nil {
			return fmt.Errorf("connect to rabbitmq: %w", err)
		}
		defer func() {
			if err := mp.Close(); err != nil {
				logger.Log.Warn("Failed to close message publisher", zap.Error(err))
			}
		}()
		publisher = mp
		brokerHealth = mp
	}

	var webhook *service.WebhookAlerter
	if cfg.Alerts.WebhookURL != "" {
		webhook = service.NewWebhookAlerter(cfg.Alerts.WebhookURL, cfg.Alerts.Timeout)
	}
	alerts := service.NewAlertDispatcher(webhook, publisher, cfg.Alerts.Timeout)

	var captcha service.CaptchaVerifier
	if cfg.Captcha.Secret != "" {
		captcha = service.NewSiteVerifier(cfg.Captcha.Provider, cfg.Captcha.Secret, 10*time.Second)
	}

	queryTimeout := cfg.Database.QueryTimeout
	auditSvc := service.NewAuditService(repos.Audit, publisher, cfg.Audit.MaxDetails, queryTimeout)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := auditSvc.Close(ctx); err != nil {
			logger.Log.Warn("Audit events not flushed before shutdown", zap.Error(err))
		}
	}()
	registry := service.NewRegistryService(repos.Blocked, auditSvc, service.RegistryOptions{
		QueryTimeout:    queryTimeout,
		MaxRecords:      cfg.Import.MaxRecords,
		DuplicatePolicy: cfg.Import.DuplicatePolicy,
	})
	suggestions := service.NewSuggestionService(repos, auditSvc, captcha, cfg.Captcha.Required, queryTimeout)
	accounts := service.NewAccountService(repos.Users, issuer, auditSvc, cfg.Auth.BcryptCost)

	if err := registry.SeedFromFile(ctx, cfg.Import.SeedFile); err != nil {
		logger.Log.Warn("Failed to seed registry", zap.String("file", cfg.Import.SeedFile), zap.Error(err))
	}

	limiter := middleware.NewRateLimiter(alerts)
	defer limiter.Stop()

	engine := handler.NewRouter(handler.Router{
		Config:        cfg,
		Authenticator: authenticator,
		Limiter:       limiter,
		Registry:      handler.NewRegistryHandler(registry, cfg.Import.MaxFileSize),
		Suggestions:   handler.NewSuggestionHandler(suggestions),
		Audit:         handler.NewAuditHandler(auditSvc),
		Accounts:      handler.NewAccountHandler(accounts),
		Health:        handler.NewHealthHandler(repos.Ping, brokerHealth),
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Log.Info("Server starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("driver", cfg.Database.Driver),
			zap.Bool("rabbitmq", cfg.RabbitMQ.Enabled),
		)
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Log.Info("Shutdown signal received", zap.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			if closeErr := server.Close(); closeErr != nil {
				logger.Log.Error("Failed to close server", zap.Error(closeErr))
			}
			return fmt.Errorf("graceful shutdown: %w", err)
		}

		logger.Log.Info("Server stopped gracefully")
		return nil
	}
}

// openStore selects the storage backend named by database.driver.
func openStore(ctx context.Context, cfg *config.Config) (*repository.Repositories, func(), error) {
	if cfg.Database.Driver == "memory" {
		logger.Log.Warn("Using in-memory store, data is lost on restart")
		return memstore.New().Repositories(), func() {}, nil
	}

	pool, err := db.NewPool(ctx, &db.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Name,
		SSLMode:         cfg.Database.SSLMode,
		MaxConns:        int32(cfg.Database.MaxConnections),
		MinConns:        int32(cfg.Database.MinConnections),
		MaxConnLifetime: cfg.Database.MaxLifetime,
		MaxConnIdleTime: cfg.Database.MaxIdleTime,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("initialize database: %w", err)
	}

	logger.Log.Info("Database connection established",
		zap.String("host", cfg.Database.Host),
		zap.Int32("max_conns", pool.Config().MaxConns),
	)
	return repository.NewPostgres(pool), func() { db.Close(pool) }, nil
}

// openDirectory builds the role directory. The external identity store is
// consulted first when enabled; it is opened lazily so an outage there does
// not block startup.
func openDirectory(ctx context.Context, cfg *config.Config, repos *repository.Repositories) (*auth.Directory, func()) {
	ext := cfg.Identity.External
	if !ext.Enabled {
		return auth.NewDirectory(nil, repos.Identities), func() {}
	}

	pool, err := db.NewLazyPool(ctx, &db.Config{
		Host:     ext.Host,
		Port:     ext.Port,
		User:     ext.User,
		Password: ext.Password,
		Database: ext.Name,
		SSLMode:  ext.SSLMode,
		MaxConns: 4,
	})
	if err != nil {
		logger.Log.Warn("External identity store unavailable, using local directory only", zap.Error(err))
		return auth.NewDirectory(nil, repos.Identities), func() {}
	}

	return auth.NewDirectory(repository.NewIdentities(pool), repos.Identities), func() { db.Close(pool) }
}
