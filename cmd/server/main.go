package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sales-analytics/config"
	"sales-analytics/internal/api"
	"sales-analytics/internal/broker"
	"sales-analytics/internal/redisclient"
	"sales-analytics/internal/service"
	"sales-analytics/internal/store"
	"sales-analytics/internal/util"
	"sales-analytics/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting sales analytics service", zap.String("env", cfg.Server.Env))

	tp, err := util.InitTracer("sales-analytics", cfg.Observ.JaegerEndpoint, cfg.Server.Env)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	warehouse, err := store.NewStore(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to warehouse", zap.Error(err))
	}
	defer warehouse.Close()
	logger.Info("Warehouse connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicReports)
	defer producer.Close()
	logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicReports))

	eventPublisher := broker.NewEventPublisher(producer)
	reportService := service.NewReportService(warehouse, redisClient, eventPublisher, cfg.Reports)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	reportConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicReports, cfg.Kafka.ConsumerGroup)
	reportWorker := worker.NewReportWorker(reportConsumer, reportService)
	go func() {
		if err := reportWorker.Start(workerCtx); err != nil && err != context.Canceled {
			logger.Error("Report worker error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(reportService, map[string]api.Check{
		"warehouse": warehouse.Ping,
		"redis":     redisClient.Ping,
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
		// warehouse queries for wide windows can take most of a minute
		WriteTimeout: cfg.Database.QueryTimeout + 10*time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := reportWorker.Stop(); err != nil {
		logger.Error("Error stopping report worker", zap.Error(err))
	}

	logger.Info("Server exited")
}
