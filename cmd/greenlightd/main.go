package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/greenlight-sh/greenlight/internal/config"
	"github.com/greenlight-sh/greenlight/internal/controlplane"
	"github.com/greenlight-sh/greenlight/internal/deploy"
	"github.com/greenlight-sh/greenlight/internal/infra/ecs"
	inmemory "github.com/greenlight-sh/greenlight/internal/infra/in-memory"
	"github.com/greenlight-sh/greenlight/internal/infra/sqlite"
	"github.com/greenlight-sh/greenlight/internal/ledger"
	"github.com/greenlight-sh/greenlight/internal/metrics"
	"github.com/greenlight-sh/greenlight/pkg/simulator"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg := config.Default()
	if *configPath != "" {
		cfg, err = config.LoadFromFile(*configPath)
		if err != nil {
			logger.Fatal("failed to load configuration", zap.Error(err))
		}
	}

	cp, err := buildControlPlane(cfg, logger)
	if err != nil {
		logger.Fatal("failed to build control plane client", zap.Error(err))
	}

	led, err := buildLedger(cfg)
	if err != nil {
		logger.Fatal("failed to build deployment ledger", zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	srv := &server{
		orchestrator: deploy.NewOrchestrator(cp, led, inmemory.NewLocker(), metrics.New(registry), logger),
		ledger:       led,
		rollout:      cfg.Rollout,
		registry:     registry,
		logger:       logger,
	}

	logger.Info("greenlightd listening",
		zap.String("addr", cfg.ListenAddr),
		zap.String("control_plane", cfg.ControlPlane.Driver),
		zap.String("ledger", cfg.Ledger.Driver),
	)
	if err := http.ListenAndServe(cfg.ListenAddr, srv.setupRouter()); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func buildControlPlane(cfg *config.Config, logger *zap.Logger) (controlplane.Client, error) {
	var cp controlplane.Client
	switch cfg.ControlPlane.Driver {
	case config.ControlPlaneECS:
		client, err := ecs.New(cfg.ControlPlane.Region)
		if err != nil {
			return nil, err
		}
		cp = client
	case config.ControlPlaneSimulator:
		scenario, err := simulator.LoadConfigFromFile(cfg.ControlPlane.Scenario)
		if err != nil {
			return nil, err
		}
		cp = scenario.Build()
	default:
		return nil, fmt.Errorf("unknown control plane driver %q", cfg.ControlPlane.Driver)
	}
	return controlplane.WithRetry(cp, controlplane.DefaultRetryConfig, logger), nil
}

func buildLedger(cfg *config.Config) (ledger.Ledger, error) {
	switch cfg.Ledger.Driver {
	case config.LedgerSQLite:
		db, err := sqlite.Open(cfg.Ledger.DSN)
		if err != nil {
			return nil, err
		}
		return &sqlite.Ledger{DB: db}, nil
	case config.LedgerMemory:
		return inmemory.NewLedger(), nil
	default:
		return nil, fmt.Errorf("unknown ledger driver %q", cfg.Ledger.Driver)
	}
}
