package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"coursemarket_echo/internal/config"
	"coursemarket_echo/internal/logger"
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

	// Initialize Database
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL not set")
	}
	db, err := services.InitDB(cfg.DatabaseURL, log)
	if err != nil {
		log.Fatal("Failed to connect to database", "error", err)
	}
	st := store.New(db)

	// Create context that cancels on interrupt
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Repair tasks only re-derive free payments, so no gateway is needed here
	enrollments := services.NewEnrollmentService(st, nil, nil, log)

	registry := tasks.NewRegistry()
	tasks.DefineTasks(registry)
	runner := tasks.NewRunner(registry, &tasks.Env{
		Store:             st,
		Enrollments:       enrollments,
		Mailer:            services.NewEmailService(cfg.SendGrid),
		Log:               log,
		CallbackRetention: time.Duration(cfg.CallbackRetentionDays) * 24 * time.Hour,
	})

	if created, err := tasks.EnsureMaintenanceTasks(ctx, st, time.Now()); err != nil {
		log.Error("Failed to schedule maintenance tasks", "error", err)
	} else if created {
		log.Info("Scheduled callback history pruning")
	}

	// Ticks never overlap; a slow run makes the next tick wait
	var mu sync.Mutex
	tick := func() {
		mu.Lock()
		defer mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		if _, err := runner.RunDue(ctx); err != nil {
			log.Error("Scheduled task run failed", "error", err)
		}
	}

	c := cron.New()
	if _, err := c.AddFunc(cfg.WorkerSchedule, tick); err != nil {
		log.Fatal("Invalid WORKER_SCHEDULE", "schedule", cfg.WorkerSchedule, "error", err)
	}

	// Run once immediately, then on schedule
	tick()
	c.Start()
	log.Info("Worker started", "schedule", cfg.WorkerSchedule, "tasks", registry.Names())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info("Shutting down worker...")
	cancel()
	<-c.Stop().Done()
}
