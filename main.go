package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"trendoracle/archiver"
	"trendoracle/config"
	"trendoracle/consensus"
	"trendoracle/internal/channel"
	"trendoracle/logger"
	"trendoracle/oracle"
	"trendoracle/proof"
	"trendoracle/server"
	"trendoracle/store"
	"trendoracle/validator"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Trendoracle.Name,
		"version": cfg.Trendoracle.Version,
		"network": cfg.Trendoracle.NetworkType,
	}).Info("starting trendoracle")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Logging.CloudWatch {
		logger.InitCloudWatch(cfg.Logging.Region, cfg.Logging.Namespace, cfg.Logging.DashboardName)
	}
	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	registry, err := validator.NewRegistry(cfg.Validators)
	if err != nil {
		log.WithError(err).Error("failed to build validator registry")
		os.Exit(1)
	}

	proofs, err := store.Open(cfg.Storage.Sqlite.Path)
	if err != nil {
		log.WithError(err).Error("failed to open proof store")
		os.Exit(1)
	}

	var archiveCh *channel.Archive
	var arch *archiver.Archiver
	if cfg.Archive.Enabled {
		archiveCh = channel.NewArchive(cfg.Archive.Buffer)
		arch, err = archiver.New(cfg, archiveCh)
		if err != nil {
			log.WithError(err).Error("failed to create archiver")
			os.Exit(1)
		}
	} else {
		log.WithComponent("main").Info("archive disabled; proofs kept in store only")
	}

	coordinator := oracle.NewCoordinator(
		registry,
		consensus.NewAggregator(registry, cfg.Oracle),
		proof.NewGenerator(cfg.Trendoracle.NetworkType),
		proofs,
		archiveCh,
		cfg.Oracle,
	)

	if arch != nil {
		if err := arch.Start(ctx); err != nil {
			log.WithError(err).Error("failed to start archiver")
			os.Exit(1)
		}
	}

	var srv *server.Server
	if cfg.Server.Enabled {
		srv = server.New(cfg, coordinator)
		if err := srv.Start(ctx); err != nil {
			log.WithError(err).Error("failed to start HTTP server")
			os.Exit(1)
		}
	} else {
		log.WithComponent("main").Info("HTTP server disabled")
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	if srv != nil {
		log.Info("stopping HTTP server")
		srv.Stop()
	}

	if arch != nil {
		log.Info("stopping archiver")
		archiveCh.Close()
		arch.Stop()
	}

	log.Info("trendoracle stopped")
}
