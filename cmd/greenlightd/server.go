package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/greenlight-sh/greenlight/internal/config"
	"github.com/greenlight-sh/greenlight/internal/controlplane"
	"github.com/greenlight-sh/greenlight/internal/deploy"
	"github.com/greenlight-sh/greenlight/internal/ledger"
)

// server wires the orchestrator behind the REST API.
type server struct {
	orchestrator *deploy.Orchestrator
	ledger       ledger.Ledger
	rollout      config.RolloutSpec
	registry     *prometheus.Registry
	logger       *zap.Logger
}

func (s *server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Deployments drive the blue-green state machine
	r.Route("/deployments", func(r chi.Router) {
		// Trigger a deployment; the rollout itself runs in the background
		r.Post("/", s.triggerDeployment)
		// Last recorded phase of a deployment
		r.Get("/{deploymentID}", s.getDeployment)
		// Full append-only phase history of a deployment
		r.Get("/{deploymentID}/history", s.getHistory)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if s.registry != nil {
		r.Get("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}).ServeHTTP)
	}

	return r
}

// DeploymentRequest is the POST /deployments payload.
type DeploymentRequest struct {
	Cluster     string `json:"cluster"`
	Service     string `json:"service"`
	Region      string `json:"region"`
	Image       string `json:"image"`
	RequestedBy string `json:"requested_by"`
	DryRun      bool   `json:"dry_run"`
}

func (s *server) triggerDeployment(w http.ResponseWriter, r *http.Request) {
	var req DeploymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	deploymentID, err := s.orchestrator.StartDeployment(r.Context(), deploy.Request{
		Target: controlplane.ServiceTarget{
			Cluster: req.Cluster,
			Service: req.Service,
			Region:  req.Region,
		},
		Image:                        req.Image,
		RequestedBy:                  req.RequestedBy,
		DryRun:                       req.DryRun,
		Capacity:                     s.rollout.Capacity(),
		PollInterval:                 s.rollout.PollInterval.Value(),
		MaxWait:                      s.rollout.MaxWait.Value(),
		GracePeriod:                  s.rollout.GracePeriod.Value(),
		RegisterTimeout:              s.rollout.RegisterTimeout.Value(),
		UpdateTimeout:                s.rollout.UpdateTimeout.Value(),
		RollbackBelowHealthyFraction: s.rollout.RollbackBelowHealthyFraction,
	})
	if err != nil {
		if errors.Is(err, deploy.ErrDeploymentInFlight) {
			http.Error(w, "Deployment already in flight for this service", http.StatusConflict)
			return
		}
		s.logger.Error("failed to start deployment", zap.Error(err))
		http.Error(w, "Failed to start deployment", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message":       "Deployment accepted",
		"deployment_id": deploymentID,
	})
}

func (s *server) getDeployment(w http.ResponseWriter, r *http.Request) {
	deploymentID := chi.URLParam(r, "deploymentID")

	history, err := s.ledger.History(r.Context(), deploymentID)
	if err != nil {
		s.logger.Error("failed to read ledger", zap.Error(err))
		http.Error(w, "Failed to read deployment history", http.StatusInternalServerError)
		return
	}
	if len(history) == 0 {
		http.Error(w, "Unknown deployment", http.StatusNotFound)
		return
	}

	last := history[len(history)-1]
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"deployment_id": deploymentID,
		"phase":         last.Phase,
		"detail":        last.Detail,
		"timestamp":     last.Timestamp,
		"terminal":      deploy.Phase(last.Phase).Terminal(),
	})
}

func (s *server) getHistory(w http.ResponseWriter, r *http.Request) {
	deploymentID := chi.URLParam(r, "deploymentID")

	history, err := s.ledger.History(r.Context(), deploymentID)
	if err != nil {
		s.logger.Error("failed to read ledger", zap.Error(err))
		http.Error(w, "Failed to read deployment history", http.StatusInternalServerError)
		return
	}
	if len(history) == 0 {
		http.Error(w, "Unknown deployment", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"deployment_id": deploymentID,
		"history":       history,
	})
}
