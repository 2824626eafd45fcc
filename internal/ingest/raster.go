package ingest

import (
	"context"

	"essaypipe/internal/model"
)

// NoopRasterizer is the default page renderer: it renders nothing, which
// degrades analysis to text-layer signals. Deployments with a real renderer
// plug one in through the same interface.
type NoopRasterizer struct{}

func (NoopRasterizer) RenderPage(ctx context.Context, pdf []byte, page int) ([]byte, error) {
	return nil, model.ErrNotImplemented
}
