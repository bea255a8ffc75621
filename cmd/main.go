package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"

	"scrapehub/internal/config"
	"scrapehub/internal/core/adstxt"
	"scrapehub/internal/core/job"
	"scrapehub/internal/core/runner"
	"scrapehub/internal/logger"
	pg "scrapehub/internal/platform/postgres"
	rds "scrapehub/internal/platform/redis"
	tasks "scrapehub/internal/platform/tasks"
	"scrapehub/internal/server"
	"scrapehub/internal/worker"
)

func main() {
	cfg := config.Load()
	log.Printf("[scrapehub] starting at %s (env=%s)\n", cfg.HTTPAddr, cfg.AppEnv)

	logr := logger.New("main")

	// Redis client
	redisSvc, err := rds.New(rds.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer redisSvc.Close()

	// Postgres pool; migrations run on boot so a fresh deploy is usable
	if err := pg.RunMigrations(cfg.DatabaseURL, cfg.MigrationsPath); err != nil {
		log.Fatalf("migrations: %v", err)
	}
	pgSvc, err := pg.New(pg.Options{URL: cfg.DatabaseURL, MaxConns: cfg.PGMaxConns})
	if err != nil {
		log.Fatal(err)
	}
	defer pgSvc.Close()

	// Asynq client and server
	taskClient := tasks.New(redisSvc, cfg.TaskMaxRetries)
	defer taskClient.Close()
	asynqServer := asynq.NewServer(redisSvc.AsynqRedisOpt(), asynq.Config{
		Concurrency: cfg.WorkerConcurrency,
		Queues:      map[string]int{"default": 1},
	})

	// Core services
	store := job.NewPostgresStore(pgSvc)
	jobSvc := job.NewService(store, taskClient)
	adstxtSvc := adstxt.New(redisSvc, adstxt.Options{
		FetchTimeout:  time.Duration(cfg.FetchTimeoutSeconds) * time.Second,
		RatePerSecond: cfg.FetchRatePerSecond,
		CacheTTL:      time.Duration(cfg.CheckCacheTTLSeconds) * time.Second,
	})
	runnerSvc := runner.NewService(store, adstxtSvc, taskClient, runner.Options{
		Concurrency:    cfg.WorkerConcurrency,
		BatchSize:      cfg.BatchSize,
		MaxItemRetries: cfg.ItemMaxRetries,
	})

	// Worker mux
	mux := worker.NewMux()
	mux.HandleFunc(runner.TaskTypeBatch, runnerSvc.HandleBatchTask)

	// Reclassify jobs left running by an unclean shutdown, then resume them
	recoverCtx, recoverCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := runnerSvc.RecoverJobs(recoverCtx); err != nil {
		logr.LogError("job recovery failed", err)
	}
	recoverCancel()

	// Start worker
	go func() {
		if err := asynqServer.Start(mux.Mux()); err != nil {
			log.Printf("[worker] stopped: %v\n", err)
		}
	}()

	// Background retention sweep for old terminal jobs
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	go jobSvc.StartRetentionSweep(sweepCtx, time.Duration(cfg.JobRetentionDays)*24*time.Hour)

	// HTTP server
	app := fiber.New(fiber.Config{
		AppName: "ScrapeHub",
		JSONEncoder: func(v interface{}) ([]byte, error) {
			var buf bytes.Buffer
			encoder := json.NewEncoder(&buf)
			encoder.SetEscapeHTML(false)
			if err := encoder.Encode(v); err != nil {
				return nil, err
			}
			return buf.Bytes(), nil
		},
	})

	deps := server.Dependencies{
		Job:      jobSvc,
		AdsTxt:   adstxtSvc,
		Redis:    redisSvc,
		Postgres: pgSvc,
	}
	healthHandler := server.RegisterRoutes(app, deps)

	// Mark application as ready after all services are initialized
	go func() {
		time.Sleep(2 * time.Second)
		healthHandler.SetReady()
	}()

	// Graceful shutdown. asynqServer.Shutdown cancels in-flight task
	// contexts, which the batch runner persists as auto-paused jobs.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-shutdown
		logr.LogInfo("Shutting down...")
		sweepCancel()
		asynqServer.Shutdown()
		_ = app.ShutdownWithTimeout(5 * time.Second)
	}()

	if err := app.Listen(cfg.HTTPAddr); err != nil {
		log.Fatalf("server listen: %v", err)
	}
}
