package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/almsbooks/recon-backend/internal/application/recon"
	"github.com/almsbooks/recon-backend/internal/cli"
	"github.com/almsbooks/recon-backend/internal/domain/matcher"
	"github.com/almsbooks/recon-backend/internal/domain/normalize"
	"github.com/almsbooks/recon-backend/internal/infrastructure/config"
	"github.com/almsbooks/recon-backend/internal/infrastructure/logging"
	"github.com/almsbooks/recon-backend/internal/infrastructure/storage"
)

func main() {
	flags := cli.ParseReconcileFlags()

	cfg := loadConfig(flags.ConfigFile)
	if flags.Verbose {
		cfg.Observability.Logging.Level = "debug"
	}
	logger := logging.NewLoggerWithSystem(cfg.Observability.Logging, "reconcile")

	direction := storage.Direction(flags.Direction)
	if !direction.Valid() {
		logger.Error("unknown direction", slog.String("direction", flags.Direction))
		os.Exit(1)
	}

	start, end, err := flags.DateRange()
	if err != nil {
		logger.Error("invalid date range", slog.String("error", err.Error()))
		os.Exit(1)
	}

	matchConfig := matcher.Config{
		DateWindowDays:     cfg.Matching.DateWindowDays,
		AmountTolerancePct: cfg.Matching.AmountTolerancePct,
		ConfidenceFloor:    cfg.Matching.ConfidenceFloor,
	}
	if flags.WindowDays >= 0 {
		matchConfig.DateWindowDays = flags.WindowDays
	}
	if flags.Tolerance >= 0 {
		matchConfig.AmountTolerancePct = flags.Tolerance
	}
	if flags.Floor >= 0 {
		matchConfig.ConfidenceFloor = flags.Floor
	}

	store, err := storage.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		logger.Error("failed to open database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	m := matcher.New(matchConfig, normalize.New(cfg.VendorAliases))
	engine := recon.New(store, m, logger)

	cli.PrintHeader(flags.Direction, flags.Write)

	logger.Info("starting reconciliation",
		slog.String("range", start.Format("2006-01-02")+".."+end.Format("2006-01-02")),
		slog.Int("window_days", matchConfig.DateWindowDays),
		slog.Float64("tolerance_pct", matchConfig.AmountTolerancePct),
		slog.Float64("floor", matchConfig.ConfidenceFloor),
	)

	result, err := engine.Run(context.Background(), recon.Options{
		Direction:  direction,
		DateStart:  start,
		DateEnd:    end,
		DryRun:     !flags.Write,
		MaxSources: flags.MaxSources,
	})
	if err != nil {
		logger.Error("reconciliation failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if !flags.Write || flags.Verbose {
		cli.PrintDecisions(result.Decisions)
	}
	cli.PrintSummary(result)

	// Deferred records are normal output, not a failure; the exit code only
	// reflects whether the run itself completed.
	logger.Info("reconciliation completed", slog.Int64("run_id", result.RunID))
}

func loadConfig(configFile string) *config.Config {
	if configFile != "" {
		cfg, err := config.Load(configFile)
		if err != nil {
			slog.Error("failed to load config file",
				slog.String("file", configFile),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
		return cfg
	}
	return config.LoadOrEnv()
}
