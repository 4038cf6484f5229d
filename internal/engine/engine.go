// Package engine provides the avatar render backends and the selector that
// picks one per request. The render farm and the hosted-avatar API are
// remote; the local raster engine always works and is the fallback of last
// resort.
package engine

import (
	"context"

	"github.com/renderdeck/renderdeck/pkg/models"
)

// Engine is one avatar render backend
type Engine interface {
	Name() string
	Render(ctx context.Context, req *models.EngineRequest) (*models.RenderResult, error)
}
