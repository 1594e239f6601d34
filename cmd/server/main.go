package main

import (
	"fmt"
	"log/slog"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/NicolasHaas/townhall/pkg/datastore"
	"github.com/NicolasHaas/townhall/pkg/logging"
	"github.com/NicolasHaas/townhall/pkg/server"
	"github.com/NicolasHaas/townhall/pkg/town"
	"github.com/NicolasHaas/townhall/pkg/version"
)

func main() {
	cfg, err := server.LoadConfig(".env")
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	flag.StringVar(&cfg.HTTPAddr, "http", cfg.HTTPAddr, "REST and websocket bind address")
	flag.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "HTTP bind address for Prometheus /metrics (empty to disable)")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite journal file path (empty for an in-memory journal)")
	flag.StringVar(&cfg.TownsFile, "towns-file", cfg.TownsFile, "YAML file defining towns to create on startup")
	flag.IntVar(&cfg.TownCapacity, "capacity", cfg.TownCapacity, "Maximum occupancy reported per town")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: "+logging.LevelNames())
	flag.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: text or json")
	flag.BoolVar(&cfg.ExportTowns, "export-towns", false, "Export journaled towns as YAML and exit")
	showVersion := flag.BoolP("version", "v", false, "Print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Full())
		return
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	// Configure structured logging
	if err := logging.Setup(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: os.Stdout,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}
	slog.Info("townhall starting", "version", version.Full())

	ds, err := openJournal(cfg.DBPath)
	if err != nil {
		slog.Error("open database", "err", err)
		os.Exit(1)
	}

	// Handle export command (run and exit)
	if cfg.ExportTowns {
		data, err := server.ExportTownsYAML(ds.NonTx(), true)
		_ = ds.Close()
		if err != nil {
			slog.Error("export towns", "err", err)
			os.Exit(1)
		}
		fmt.Print(string(data))
		return
	}

	metrics := server.NewMetrics()
	journal := server.NewJournal(ds)
	towns := town.SetupInstance(town.Options{
		OverridePassword: cfg.OverridePassword,
		Capacity:         cfg.TownCapacity,
		Observer:         town.Observers(metrics, journal),
	})

	srv := server.New(cfg, server.Dependencies{Towns: towns, Journal: journal, Metrics: metrics})
	if err := srv.Run(); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}

func openJournal(path string) (datastore.DataProviderFactory, error) {
	if path == "" {
		slog.Warn("no database path set, journal is in-memory")
		return datastore.NewMemory(), nil
	}
	return datastore.NewProviderFactory(path)
}
