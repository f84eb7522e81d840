package pipeline

import (
	"context"
	"path/filepath"
	"time"

	"github.com/samcharles93/qmem/internal/logger"
	"github.com/samcharles93/qmem/internal/pixelgrid"
	"github.com/samcharles93/qmem/pkg/memimage"
)

// WriteImage writes g to image.mif in outDir. now only appears in the
// comment header.
func WriteImage(ctx context.Context, g *pixelgrid.Grid, outDir string, now time.Time) (string, error) {
	path := filepath.Join(outDir, memimage.ImageMIF.Name)
	shape := []int{pixelgrid.Size, pixelgrid.Size}
	if err := memimage.ImageMIF.WriteMIF(path, shape, g.Values(), g.Comments(now)...); err != nil {
		return "", err
	}
	logger.FromContext(ctx).Info("wrote image", "path", path, "ink", g.Ink())
	return path, nil
}
