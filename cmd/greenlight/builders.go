package main

import (
	"fmt"

	"github.com/greenlight-sh/greenlight/internal/config"
	"github.com/greenlight-sh/greenlight/internal/controlplane"
	"github.com/greenlight-sh/greenlight/internal/infra/ecs"
	inmemory "github.com/greenlight-sh/greenlight/internal/infra/in-memory"
	"github.com/greenlight-sh/greenlight/internal/infra/sqlite"
	"github.com/greenlight-sh/greenlight/internal/ledger"
	"github.com/greenlight-sh/greenlight/pkg/simulator"
	"go.uber.org/zap"
)

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
