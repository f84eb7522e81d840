// Package fcsim replays the FPGA fully-connected layer in integer arithmetic.
//
// The scores it produces must equal, bit for bit, what the fixed-point
// hardware computes from the same .mem files. A divergence means a
// quantization or serialization bug.
package fcsim

import (
	"errors"
	"fmt"
	"math"

	"github.com/samcharles93/qmem/internal/tensor"
	"github.com/samcharles93/qmem/pkg/quant"
)

// AccumulatorBits is the width of the hardware accumulator register.
const AccumulatorBits = 32

var (
	ErrShapeMismatch       = errors.New("fcsim: shape mismatch")
	ErrAccumulatorOverflow = errors.New("fcsim: accumulator may overflow")
)

// Result holds one integer score per output unit and the argmax.
type Result struct {
	Scores    []int32
	Predicted int
}

// CheckAccumulator verifies that n products of two int8 values plus a bias of
// magnitude biasMaxAbs cannot leave the signed AccumulatorBits range.
func CheckAccumulator(n int, biasMaxAbs int64) error {
	const limit = int64(1)<<(AccumulatorBits-1) - 1
	const maxProduct = int64(-quant.Int8Min) * int64(-quant.Int8Min)
	if n < 0 || int64(n) > (limit-biasMaxAbs)/maxProduct {
		return fmt.Errorf("%w: %d terms with |bias| up to %d exceed %d-bit range",
			ErrAccumulatorOverflow, n, biasMaxAbs, AccumulatorBits)
	}
	return nil
}

// Forward computes scores[j] = bias[j] + sum_i features[i]*weights[j,i] with
// exact integer arithmetic. Ties in the argmax go to the lowest index.
func Forward(features, weights quant.Int8Tensor, bias quant.Int16Tensor) (Result, error) {
	if len(features.Shape) != 1 || len(weights.Shape) != 2 || len(bias.Shape) != 1 {
		return Result{}, fmt.Errorf("%w: features %v, weights %v, bias %v",
			ErrShapeMismatch, features.Shape, weights.Shape, bias.Shape)
	}
	m, n := weights.Shape[0], weights.Shape[1]
	if features.Shape[0] != n || bias.Shape[0] != m {
		return Result{}, fmt.Errorf("%w: features %v, weights %v, bias %v",
			ErrShapeMismatch, features.Shape, weights.Shape, bias.Shape)
	}

	var biasMax int64
	for _, b := range bias.Values {
		biasMax = max(biasMax, abs64(int64(b)))
	}
	if err := CheckAccumulator(n, biasMax); err != nil {
		return Result{}, err
	}

	scores := make([]int32, m)
	for j := range m {
		acc := int32(bias.Values[j])
		row := weights.Values[j*n : (j+1)*n]
		for i, f := range features.Values {
			acc += int32(f) * int32(row[i])
		}
		scores[j] = acc
	}
	return Result{Scores: scores, Predicted: argmax(scores)}, nil
}

// FloatResult is the unquantized reference for the same layer.
type FloatResult struct {
	Logits    []float64
	Predicted int
}

// FloatForward evaluates weights·features + bias in float64.
func FloatForward(features, weights, bias *tensor.Tensor) (FloatResult, error) {
	if features.Rank() != 1 || weights.Rank() != 2 || bias.Rank() != 1 ||
		weights.Dim(1) != features.Dim(0) || weights.Dim(0) != bias.Dim(0) {
		return FloatResult{}, fmt.Errorf("%w: features %v, weights %v, bias %v",
			ErrShapeMismatch, features.Shape(), weights.Shape(), bias.Shape())
	}
	m, n := weights.Dim(0), weights.Dim(1)
	logits := make([]float64, m)
	for j := range m {
		acc := bias.Flat(j)
		for i := range n {
			acc += features.Flat(i) * weights.Flat(j*n+i)
		}
		logits[j] = acc
	}
	best := 0
	for j, v := range logits {
		if v > logits[best] || math.IsNaN(logits[best]) {
			best = j
		}
	}
	return FloatResult{Logits: logits, Predicted: best}, nil
}

func argmax(scores []int32) int {
	best := 0
	for j, s := range scores {
		if s > scores[best] {
			best = j
		}
	}
	return best
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
