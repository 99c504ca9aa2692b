package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/geocoder89/accounthub/internal/accounts"
	"github.com/geocoder89/accounthub/internal/auth"
	"github.com/geocoder89/accounthub/internal/config"
	"github.com/geocoder89/accounthub/internal/db"
	httpx "github.com/geocoder89/accounthub/internal/http"
	"github.com/geocoder89/accounthub/internal/notifications"
	"github.com/geocoder89/accounthub/internal/observability"
	"github.com/geocoder89/accounthub/internal/repo/memory"
	"github.com/geocoder89/accounthub/internal/repo/postgres"
	"github.com/geocoder89/accounthub/internal/repo/redisrepo"
	"github.com/geocoder89/accounthub/internal/security"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// devJWTSecret is only used when APP_ENV is dev or test and JWT_SECRET is unset.
const devJWTSecret = "dev-only-insecure-secret"

func main() {
	if err := run(); err != nil {
		slog.Error("startup failed", observability.Err(err))
		os.Exit(1)
	}
}

func run() error {
	// Load the config set up
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// start up the observability logger
	log := observability.NewLogger(cfg.Env)
	slog.SetDefault(log)

	ctx := context.Background()

	shutdownTracer, err := observability.InitTracer(ctx, observability.TracerConfig{
		ServiceName: cfg.OTELServiceName,
		Env:         cfg.Env,
		Endpoint:    cfg.OTELEndpoint,
		SampleRatio: cfg.OTELSampleRatio,
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := config.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(sctx); err != nil {
			log.Error("tracer shutdown failed", observability.Err(err))
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := observability.NewProm(reg)

	store, closeStore, err := openStore(ctx, cfg, prom, log)
	if err != nil {
		return err
	}
	defer closeStore()

	seedCtx, cancelSeed := config.WithTimeout(ctx, 10*time.Second)
	created, err := db.EnsureAdminAccount(seedCtx, store, cfg)
	cancelSeed()
	if err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	if created {
		log.Info("admin account seeded", "email", cfg.AdminEmail)
	}

	notifier, err := buildNotifier(cfg, prom, log)
	if err != nil {
		return err
	}

	secret := cfg.JWTSecret
	if secret == "" {
		log.Warn("JWT_SECRET not set, using the development secret")
		secret = devJWTSecret
	}
	jwt := auth.NewManager(secret, cfg.SessionTTL)

	svc := accounts.NewService(
		store,
		notifier,
		security.NewTokenIssuer(cfg.VerificationTTL),
		jwt,
		cfg.FrontendURL,
		accounts.WithLogger(log),
		accounts.WithMetrics(prom),
	)

	router := httpx.NewRouter(httpx.RouterDeps{
		Env:         cfg.Env,
		ServiceName: cfg.OTELServiceName,
		Log:         log,
		Accounts:    svc,
		Store:       store,
		Tokens:      jwt,
		Prom:        prom,
		CORSOrigins: cfg.CORSOrigins,
	})

	// server set up
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)

	go func() {
		log.Info("Server starting", "port", cfg.Port, "env", cfg.Env, "store", cfg.StoreBackend, "mail", cfg.Mail.Provider)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case <-stop:
	}

	log.Info("server shutting down")

	shutdownCtx, cancel := config.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", observability.Err(err))
		return nil
	}

	log.Info("shutdown complete")
	return nil
}

func openStore(ctx context.Context, cfg config.Config, prom *observability.Prom, log *slog.Logger) (accounts.Store, func(), error) {
	switch cfg.StoreBackend {
	case "memory":
		log.Warn("using in-memory account store, data is lost on restart")
		return memory.NewAccountsRepo(), func() {}, nil

	case "redis":
		rdb := redisrepo.NewClient(redisrepo.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		pctx, cancel := config.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := rdb.Ping(pctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}

		return redisrepo.NewAccountsRepo(rdb, prom), func() { _ = rdb.Close() }, nil

	default:
		pool, err := db.NewPool(ctx, cfg.DBURL)
		if err != nil {
			return nil, nil, err
		}

		mctx, cancel := config.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := db.Migrate(mctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}

		return postgres.NewAccountsRepo(pool, prom), pool.Close, nil
	}
}

func buildNotifier(cfg config.Config, prom *observability.Prom, log *slog.Logger) (notifications.Notifier, error) {
	var inner notifications.Notifier

	switch cfg.Mail.Provider {
	case "mailgun":
		inner = notifications.NewMailgunNotifier(notifications.MailgunConfig{
			APIBase: cfg.Mail.MailgunAPIBase,
			Domain:  cfg.Mail.MailgunDomain,
			APIKey:  cfg.Mail.MailgunAPIKey,
			From:    cfg.Mail.From,
		}, &http.Client{Timeout: cfg.Mail.Timeout})

	case "smtp":
		n, err := notifications.NewSMTPNotifier(notifications.SMTPConfig{
			Host:     cfg.Mail.SMTPHost,
			Port:     cfg.Mail.SMTPPort,
			TLS:      cfg.Mail.SMTPTLS,
			Username: cfg.Mail.SMTPUsername,
			Password: cfg.Mail.SMTPPassword,
			From:     cfg.Mail.From,
			Timeout:  cfg.Mail.Timeout,
		})
		if err != nil {
			return nil, err
		}
		inner = n

	default:
		inner = notifications.NewLogNotifier(log)
	}

	return notifications.NewProtectedNotifier(inner, notifications.ProtectedNotifierConfig{
		Provider: cfg.Mail.Provider,
		Timeout:  cfg.Mail.Timeout,
	}, prom), nil
}
