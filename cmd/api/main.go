package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/almsbooks/recon-backend/internal/api"
	"github.com/almsbooks/recon-backend/internal/infrastructure/config"
	"github.com/almsbooks/recon-backend/internal/infrastructure/logging"
	"github.com/almsbooks/recon-backend/internal/infrastructure/storage"
)

func main() {
	configFile := flag.String("config", "", "Configuration file path")
	flag.Parse()

	var cfg *config.Config
	if *configFile != "" {
		loaded, err := config.Load(*configFile)
		if err != nil {
			slog.Error("failed to load config file",
				slog.String("file", *configFile),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
		cfg = loaded
	} else {
		cfg = config.LoadOrEnv()
	}

	logger := logging.NewLoggerWithSystem(cfg.Observability.Logging, "api")

	store, err := storage.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		logger.Error("failed to open database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	server := api.NewServer(api.Config{
		Port:           cfg.API.Port,
		AllowedOrigins: cfg.API.AllowedOrigins,
	}, store, logger)

	if err := server.Run(fmt.Sprintf(":%d", cfg.API.Port)); err != nil {
		logger.Error("server stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
