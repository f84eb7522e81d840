package pipeline

import (
	"fmt"

	"github.com/samcharles93/qmem/internal/checkpoint"
	"github.com/samcharles93/qmem/pkg/memimage"
)

// LoadFCInput reads the classifier layer from a checkpoint and the sample
// features from a vector file.
func LoadFCInput(ckptPath, featuresPath string) (FCInput, error) {
	ckpt, err := checkpoint.Load(ckptPath)
	if err != nil {
		return FCInput{}, fmt.Errorf("load %s: %w", ckptPath, err)
	}
	out, in := memimage.FCWeightMem.Shape[0], memimage.FCWeightMem.Shape[1]
	fc, err := checkpoint.FindLinear(ckpt, out, in)
	if err != nil {
		return FCInput{}, err
	}
	feat, err := checkpoint.LoadVector(featuresPath)
	if err != nil {
		return FCInput{}, fmt.Errorf("load %s: %w", featuresPath, err)
	}
	return FCInput{Features: feat, Weight: fc.Weight, Bias: fc.Bias}, nil
}
