package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"

	"github.com/samcharles93/qmem/internal/fcsim"
	"github.com/samcharles93/qmem/internal/logger"
	"github.com/samcharles93/qmem/pkg/memimage"
	"github.com/samcharles93/qmem/pkg/quant"
)

// NoPrediction disables the hardware comparison in Verify.
const NoPrediction = -1

// VerifyReport is the result of replaying the FC layer from .mem files.
type VerifyReport struct {
	Dir       string
	Scores    []int32
	Predicted int
	// Manifest is nil when the directory has no manifest.json.
	Manifest *Manifest
}

// Verify decodes the three FC .mem files in dir and recomputes the integer
// scores. When a manifest is present its scores must match exactly. When
// hardware is not NoPrediction it must equal the recomputed class.
// Either mismatch returns the report together with ErrParityMismatch.
func Verify(ctx context.Context, dir string, hardware int) (*VerifyReport, error) {
	log := logger.FromContext(ctx).With("stage", "verify")

	feat, err := readInt8(dir, memimage.FeaturesMem)
	if err != nil {
		return nil, err
	}
	weight, err := readInt8(dir, memimage.FCWeightMem)
	if err != nil {
		return nil, err
	}
	biasVals, err := memimage.FCBiasMem.ReadFlat(filepath.Join(dir, memimage.FCBiasMem.Name))
	if err != nil {
		return nil, err
	}
	bias := quant.Int16Tensor{Shape: memimage.FCBiasMem.Shape, Values: make([]int16, len(biasVals)), Scale: 1}
	for i, v := range biasVals {
		bias.Values[i] = int16(v)
	}

	res, err := fcsim.Forward(feat, weight, bias)
	if err != nil {
		return nil, err
	}
	rep := &VerifyReport{Dir: dir, Scores: res.Scores, Predicted: res.Predicted}

	m, err := ReadManifest(filepath.Join(dir, ManifestName))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Debug("no manifest to compare against", "dir", dir)
	case err != nil:
		return nil, err
	default:
		rep.Manifest = m
		if !slices.Equal(m.Scores, res.Scores) {
			return rep, fmt.Errorf("%w: scores %v, manifest %s recorded %v",
				ErrParityMismatch, res.Scores, m.RunID, m.Scores)
		}
	}

	if hardware != NoPrediction && hardware != res.Predicted {
		return rep, fmt.Errorf("%w: hardware predicted %d, integer model predicts %d",
			ErrParityMismatch, hardware, res.Predicted)
	}
	log.Info("verified", "dir", dir, "predicted", res.Predicted)
	return rep, nil
}

func readInt8(dir string, a memimage.Artifact) (quant.Int8Tensor, error) {
	vals, err := a.ReadFlat(filepath.Join(dir, a.Name))
	if err != nil {
		return quant.Int8Tensor{}, err
	}
	out := quant.Int8Tensor{Shape: a.Shape, Values: make([]int8, len(vals)), Scale: 1}
	for i, v := range vals {
		out.Values[i] = int8(v)
	}
	return out, nil
}
