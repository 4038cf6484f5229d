package engine

import (
	"context"

	"github.com/renderdeck/renderdeck/internal/config"
	"github.com/renderdeck/renderdeck/internal/faults"
	"github.com/renderdeck/renderdeck/internal/logging"
	"github.com/renderdeck/renderdeck/internal/metrics"
	"github.com/renderdeck/renderdeck/internal/resilience"
	"github.com/renderdeck/renderdeck/pkg/models"
)

// Selector resolves an engine request to a concrete backend:
//
//	heygen — always honored, no substitution (its result is a hosted video)
//	ue5    — health probe first, dead farm falls back to local
//	local  — direct, never unavailable
//	auto   — ue5 if the farm answers its probe, local otherwise
type Selector struct {
	ue5    *UE5Engine
	heygen *HeyGenEngine
	local  *LocalEngine
	logger *logging.Logger
}

// NewSelector creates a selector over the three backends. Each remote
// backend gets its own breaker from the registry; a nil registry builds
// one with default thresholds.
func NewSelector(cfg config.EnginesConfig, breakers *resilience.Registry, logger *logging.Logger) *Selector {
	if breakers == nil {
		breakers = resilience.NewRegistry(resilience.BreakerConfig{})
	}
	return &Selector{
		ue5:    NewUE5Engine(cfg.UE5, breakers.Get(models.EngineUE5), logger),
		heygen: NewHeyGenEngine(cfg.HeyGen, breakers.Get(models.EngineHeyGen), logger),
		local:  NewLocalEngine(logger),
		logger: logger,
	}
}

// Select resolves the requested engine to the backend that will serve it
func (s *Selector) Select(ctx context.Context, requested string) (Engine, error) {
	var selected Engine

	switch requested {
	case models.EngineHeyGen:
		selected = s.heygen
	case models.EngineUE5, models.EngineAuto:
		if s.ue5.Available(ctx) {
			selected = s.ue5
		} else {
			s.logger.Warnf("Render farm unavailable, falling back to local engine (requested %s)", requested)
			selected = s.local
		}
	case models.EngineLocal:
		selected = s.local
	default:
		return nil, faults.NewValidation("engine", "unknown engine "+requested)
	}

	metrics.RecordEngineSelection(requested, selected.Name())
	return selected, nil
}

// Render selects a backend for the request and runs it
func (s *Selector) Render(ctx context.Context, req *models.EngineRequest) (*models.RenderResult, error) {
	backend, err := s.Select(ctx, req.Engine)
	if err != nil {
		return nil, err
	}

	// A request resolved away from its asked-for backend needs the
	// matching options filled in.
	if backend.Name() == models.EngineLocal && req.Local == nil {
		local := &models.LocalOptions{}
		if req.UE5 != nil {
			local.Width = req.UE5.Width
			local.Height = req.UE5.Height
		}
		req.Local = local
	}

	return backend.Render(ctx, req)
}
