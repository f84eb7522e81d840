// Package pipeline strings the quantizer, simulator and memory writers
// together into the runs the CLI exposes.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/qmem/internal/fcsim"
	"github.com/samcharles93/qmem/internal/logger"
	"github.com/samcharles93/qmem/internal/tensor"
	"github.com/samcharles93/qmem/internal/version"
	"github.com/samcharles93/qmem/pkg/memimage"
	"github.com/samcharles93/qmem/pkg/quant"
)

// ErrParityMismatch is returned when recomputed integer scores or the
// predicted class disagree with a recorded run or with the hardware.
var ErrParityMismatch = errors.New("pipeline: parity mismatch")

// FCInput is one sample and the fully-connected layer that classifies it.
type FCInput struct {
	Features *tensor.Tensor // [400]
	Weight   *tensor.Tensor // [10, 400]
	Bias     *tensor.Tensor // [10]
}

func (in FCInput) validate() error {
	checks := []struct {
		a memimage.Artifact
		t *tensor.Tensor
	}{
		{memimage.FeaturesMem, in.Features},
		{memimage.FCWeightMem, in.Weight},
		{memimage.FCBiasMem, in.Bias},
	}
	for _, c := range checks {
		if c.t == nil {
			return fmt.Errorf("%w: %s has no input tensor", memimage.ErrShapeMismatch, c.a.Name)
		}
		if !tensor.ShapeEqual(c.t.Shape(), c.a.Shape) {
			return fmt.Errorf("%w: %s requires shape %v, got %v",
				memimage.ErrShapeMismatch, c.a.Name, c.a.Shape, c.t.Shape())
		}
	}
	return nil
}

// Quantized holds the integer tensors of an FC export.
type Quantized struct {
	Features quant.Int8Tensor
	Weight   quant.Int8Tensor
	Bias     quant.Int16Tensor
}

// QuantizeFC quantizes features and weights concurrently, then derives the
// bias on their combined scale.
func QuantizeFC(ctx context.Context, in FCInput) (Quantized, error) {
	var q Quantized
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		q.Features = quant.SymmetricInt8(in.Features)
		return gctx.Err()
	})
	g.Go(func() error {
		q.Weight = quant.SymmetricInt8(in.Weight)
		return gctx.Err()
	})
	if err := g.Wait(); err != nil {
		return Quantized{}, err
	}
	q.Bias = quant.BiasInt16(in.Bias, q.Features.Scale, q.Weight.Scale)
	return q, nil
}

// ExportFC quantizes in, checks the integer scores against the float
// reference, and writes features.mem, fc_w_flat.mem, fc_b.mem and
// manifest.json into outDir. Shapes are checked before any file is touched.
func ExportFC(ctx context.Context, in FCInput, outDir string) (*Manifest, error) {
	log := logger.FromContext(ctx).With("stage", "export")
	if err := in.validate(); err != nil {
		return nil, err
	}

	q, err := QuantizeFC(ctx, in)
	if err != nil {
		return nil, err
	}
	log.Debug("quantized",
		"feature_scale", q.Features.Scale,
		"weight_scale", q.Weight.Scale,
		"bias_scale", q.Bias.Scale)

	res, err := fcsim.Forward(q.Features, q.Weight, q.Bias)
	if err != nil {
		return nil, err
	}
	ref, err := fcsim.FloatForward(in.Features, in.Weight, in.Bias)
	if err != nil {
		return nil, err
	}
	if res.Predicted != ref.Predicted {
		log.Warn("integer prediction differs from float reference",
			"integer", res.Predicted, "float", ref.Predicted)
	}

	files := []struct {
		a      memimage.Artifact
		shape  []int
		values []int64
	}{
		{memimage.FeaturesMem, q.Features.Shape, q.Features.Ints()},
		{memimage.FCWeightMem, q.Weight.Shape, q.Weight.Ints()},
		{memimage.FCBiasMem, q.Bias.Shape, q.Bias.Ints()},
	}
	// A manifest only ever sits beside a complete set of artifacts.
	if err := os.Remove(filepath.Join(outDir, ManifestName)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("remove stale manifest: %w", err)
	}
	g, _ := errgroup.WithContext(ctx)
	for _, f := range files {
		g.Go(func() error {
			path := filepath.Join(outDir, f.a.Name)
			if err := f.a.WriteFlat(path, f.shape, f.values); err != nil {
				return fmt.Errorf("write %s: %w", f.a.Name, err)
			}
			log.Debug("wrote artifact", "path", path, "records", len(f.values))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	m := &Manifest{
		RunID:     uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Version:   version.String(),
		Scales: Scales{
			Features:  q.Features.Scale,
			Weights:   q.Weight.Scale,
			Bias:      q.Bias.Scale,
			BiasClamp: q.Bias.Scale / (q.Features.Scale * q.Weight.Scale),
		},
		MaxError: MaxError{
			Features: quant.MaxError(in.Features, q.Features.Dequantize()),
			Weights:  quant.MaxError(in.Weight, q.Weight.Dequantize()),
			Bias:     quant.MaxError(in.Bias, q.Bias.Dequantize()),
		},
		Scores:         res.Scores,
		Predicted:      res.Predicted,
		FloatLogits:    ref.Logits,
		FloatPredicted: ref.Predicted,
	}
	for _, f := range files {
		m.Files = append(m.Files, FileEntry{
			Name:    f.a.Name,
			Format:  f.a.Format.String(),
			Shape:   f.shape,
			Width:   f.a.Width,
			Records: len(f.values),
		})
	}
	if err := WriteManifest(filepath.Join(outDir, ManifestName), m); err != nil {
		return nil, err
	}

	log.Info("exported fc layer",
		"run_id", m.RunID,
		"dir", outDir,
		"predicted", m.Predicted,
		"float_predicted", m.FloatPredicted)
	return m, nil
}
