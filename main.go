package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/farmchainx/provenance/config"
	"github.com/farmchainx/provenance/listing"
	"github.com/farmchainx/provenance/logger"
	"github.com/farmchainx/provenance/repository"
	"github.com/farmchainx/provenance/server"
	"github.com/farmchainx/provenance/srvreg"
)

func main() {
	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		panic("configuration validation failed: " + err.Error())
	}

	if err := logger.Init(cfg.LogLevel, cfg.LogFormat); err != nil {
		panic("logger init failed: " + err.Error())
	}
	defer logger.Sync()

	logger.Info("batch provenance ledger starting",
		zap.String("http_port", cfg.HTTPPort),
		zap.String("database", cfg.DatabaseHost+":"+cfg.DatabasePort+"/"+cfg.DatabaseName),
		zap.String("listing_endpoint", cfg.ListingEndpoint),
	)

	repo := repository.NewRepository(cfg.FrontendBaseURL)
	if err := repo.ConnectDB(cfg.GetDSN()); err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	if cfg.SeedDemo {
		repo.Seed()
	}

	listingClient := listing.NewClient(cfg.ListingEndpoint)
	if err := listingClient.HealthCheck(); err != nil {
		logger.Warn("listing service health check failed; approvals will retry notification per request", zap.Error(err))
	}

	serviceRegistry := srvreg.NewServiceRegistry(repo, listingClient)
	serviceRegistry.RegisterDefaultServices()

	webServer := server.NewWebServer(cfg.HTTPPort, serviceRegistry)
	if err := webServer.Start(); err != nil {
		logger.Fatal("failed to start web server", zap.Error(err))
	}

	logger.Info("batch provenance ledger ready", zap.String("addr", "http://localhost:"+cfg.HTTPPort))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := webServer.Shutdown(ctx); err != nil {
		logger.Error("error during server shutdown", zap.Error(err))
	}

	logger.Info("batch provenance ledger stopped")
}
