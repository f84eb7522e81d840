package pipeline

import (
	"context"
	"fmt"
	"math"
	"path/filepath"

	"github.com/samcharles93/qmem/internal/checkpoint"
	"github.com/samcharles93/qmem/internal/logger"
	"github.com/samcharles93/qmem/pkg/memimage"
	"github.com/samcharles93/qmem/pkg/quant"
)

// KernelReport describes one kernel adaptation.
type KernelReport struct {
	Key         string
	Reason      string
	SourceShape []int
	Shape       []int
	Path        string
	// Saturated counts weights whose Q1.7 value was clamped.
	Saturated int
}

// AdaptKernel locates the first convolution weight in ckpt, resizes it to
// 5x5, keeps the first 8 filters and writes them in Q1.7 to weights.mif.
func AdaptKernel(ctx context.Context, ckpt *checkpoint.Mapping, outDir string) (*KernelReport, error) {
	log := logger.FromContext(ctx).With("stage", "kernel")

	m, err := checkpoint.LocateConv1Weight(ckpt)
	if err != nil {
		return nil, err
	}
	log.Debug("located conv1 weight", "key", m.Key, "shape", m.Tensor.Shape(), "reason", m.Reason)

	resized, err := checkpoint.ResizeKernelTo5x5(m.Tensor)
	if err != nil {
		return nil, err
	}
	kernel, err := checkpoint.FirstOutputChannels(resized, memimage.WeightsMIF.Shape[0])
	if err != nil {
		return nil, err
	}
	q := quant.FixedQ17(kernel)

	saturated := 0
	for i := range kernel.Len() {
		r := math.Round(kernel.Flat(i) * quant.Q17Scale)
		if r < quant.Int8Min || r > quant.Int8Max {
			saturated++
		}
	}
	if saturated > 0 {
		log.Warn("kernel weights outside Q1.7 range were clamped", "count", saturated)
	}

	path := filepath.Join(outDir, memimage.WeightsMIF.Name)
	if err := memimage.WeightsMIF.WriteMIF(path, q.Shape, q.Ints()); err != nil {
		return nil, fmt.Errorf("write %s: %w", memimage.WeightsMIF.Name, err)
	}
	log.Info("wrote kernel", "path", path, "key", m.Key, "source_shape", m.Tensor.Shape())

	return &KernelReport{
		Key:         m.Key,
		Reason:      m.Reason,
		SourceShape: m.Tensor.Shape(),
		Shape:       q.Shape,
		Path:        path,
		Saturated:   saturated,
	}, nil
}

// AdaptKernelFile loads a checkpoint from disk and runs AdaptKernel.
func AdaptKernelFile(ctx context.Context, ckptPath, outDir string) (*KernelReport, error) {
	ckpt, err := checkpoint.Load(ckptPath)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", ckptPath, err)
	}
	return AdaptKernel(ctx, ckpt, outDir)
}
