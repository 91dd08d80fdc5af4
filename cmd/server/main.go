package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"coursemarket_echo/internal/config"
	"coursemarket_echo/internal/handlers"
	"coursemarket_echo/internal/logger"
	authMiddleware "coursemarket_echo/internal/middleware"
	"coursemarket_echo/internal/services"
	"coursemarket_echo/internal/store"
	"coursemarket_echo/internal/tasks"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx := context.Background()

	// Initialize Firebase
	var (
		verifier authMiddleware.TokenVerifier
		issuer   handlers.SessionIssuer
	)
	authClient, err := services.InitFirebase(ctx, cfg.FirebaseCredentialsPath)
	if err != nil {
		log.Warn("Firebase initialization failed, auth features will not work until valid credentials are provided", "error", err)
	} else {
		verifier = authClient
		issuer = authClient
	}

	// Initialize Database
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL not set")
	}
	db, err := services.InitDB(cfg.DatabaseURL, log)
	if err != nil {
		log.Fatal("Failed to connect to database", "error", err)
	}
	if err := services.AutoMigrate(db); err != nil {
		log.Fatal("Failed to run database migrations", "error", err)
	}
	st := store.New(db)

	// Redis is optional; without it the course outline is read on every request
	var cache *services.RedisCache
	if cfg.RedisURL != "" {
		cache, err = services.NewRedisCache(ctx, cfg.RedisURL)
		if err != nil {
			log.Warn("Redis unavailable, outline caching disabled", "error", err)
			cache = nil
		} else {
			defer cache.Close()
		}
	}

	gateways, active, err := services.NewGateways(cfg.Payment, log)
	if err != nil {
		log.Warn("Paid enrollments are disabled", "error", err)
	}

	scheduler := tasks.NewScheduler(st)
	payments := services.NewPaymentService(st, gateways, active, cfg.AppURL, cfg.Payment.GatewayTimeout, scheduler, log)
	enrollments := services.NewEnrollmentService(st, payments, scheduler, log)
	courses := services.NewCourseService(st, cache, cfg.OutlineCacheTTL, log)

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true
	e.Validator = handlers.NewRequestValidator()
	e.HTTPErrorHandler = authMiddleware.NewErrorHandler(log)

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	handlers.Register(e, handlers.Handlers{
		Auth:     handlers.NewAuthHandler(issuer, st, cfg.Env == "production"),
		Courses:  handlers.NewCourseHandler(st, courses, enrollments),
		Payments: handlers.NewPaymentHandler(st, payments, cfg.Payment.VerifyDelay, log),
	}, authMiddleware.RequireAuth(verifier), authMiddleware.OptionalAuth(verifier))

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	// Start server
	go func() {
		log.Info("Server starting", "port", cfg.Port, "gateway", cfg.Payment.Gateway)
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server stopped", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("Graceful shutdown failed", "error", err)
	}
}
