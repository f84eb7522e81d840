// Package quant converts float tensors into the signed fixed-width integers
// consumed by the FPGA datapath.
//
// Every routine rounds half away from zero (math.Round) and then clamps to the
// target range. Values are never wrapped.
package quant

import (
	"math"

	"github.com/samcharles93/qmem/internal/tensor"
)

const (
	Int8Min  = -128
	Int8Max  = 127
	Int16Min = -32768
	Int16Max = 32767

	// Q17Scale is the hard-wired scale of the Q1.7 kernel format: one sign
	// bit and seven fractional bits.
	Q17Scale = 1 << 7
)

// Int8Tensor is an 8-bit quantized tensor. Real values are approximately
// Values[i] / Scale.
type Int8Tensor struct {
	Shape  []int
	Values []int8
	Scale  float64
}

// Int16Tensor is a 16-bit quantized tensor. Real values are approximately
// Values[i] / Scale.
type Int16Tensor struct {
	Shape  []int
	Values []int16
	Scale  float64
}

// SymmetricInt8 quantizes t with scale 127/max|t|. An all-zero tensor gets
// scale 1 and maps to all zeros.
func SymmetricInt8(t *tensor.Tensor) Int8Tensor {
	scale := 1.0
	if m := t.MaxAbs(); m != 0 {
		scale = Int8Max / m
	}
	return Int8Tensor{
		Shape:  t.Shape(),
		Values: scaleInt8(t, scale),
		Scale:  scale,
	}
}

// FixedQ17 quantizes t at the constant Q1.7 scale of 128. The tensor's own
// magnitude plays no part: the consuming hardware hard-codes the format.
func FixedQ17(t *tensor.Tensor) Int8Tensor {
	return Int8Tensor{
		Shape:  t.Shape(),
		Values: scaleInt8(t, Q17Scale),
		Scale:  Q17Scale,
	}
}

// BiasInt16 quantizes a bias vector onto the accumulator scale
// featureScale*weightScale. When the largest scaled bias would not fit in
// 16 bits the combined scale is shrunk by 32767/maxAbs, so the returned
// scale never exceeds featureScale*weightScale.
func BiasInt16(bias *tensor.Tensor, featureScale, weightScale float64) Int16Tensor {
	base := featureScale * weightScale
	maxAbs := 0.0
	for i := range bias.Len() {
		if a := math.Abs(bias.Flat(i) * base); a > maxAbs {
			maxAbs = a
		}
	}
	scale := base
	if maxAbs != 0 {
		scale = base * min(1.0, Int16Max/maxAbs)
	}

	out := make([]int16, bias.Len())
	for i := range out {
		out[i] = int16(roundClamp(bias.Flat(i)*scale, Int16Min, Int16Max))
	}
	return Int16Tensor{Shape: bias.Shape(), Values: out, Scale: scale}
}

func scaleInt8(t *tensor.Tensor, scale float64) []int8 {
	out := make([]int8, t.Len())
	for i := range out {
		out[i] = int8(roundClamp(t.Flat(i)*scale, Int8Min, Int8Max))
	}
	return out
}

// roundClamp rounds half away from zero, then clamps into [lo, hi].
// NaN maps to zero.
func roundClamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	r := math.Round(v)
	if r < lo {
		return lo
	}
	if r > hi {
		return hi
	}
	return r
}

// Ints widens the values to int64 in row-major order.
func (q Int8Tensor) Ints() []int64 {
	out := make([]int64, len(q.Values))
	for i, v := range q.Values {
		out[i] = int64(v)
	}
	return out
}

func (q Int16Tensor) Ints() []int64 {
	out := make([]int64, len(q.Values))
	for i, v := range q.Values {
		out[i] = int64(v)
	}
	return out
}

// Dequantize maps back to the real domain using Scale.
func (q Int8Tensor) Dequantize() *tensor.Tensor {
	out := make([]float64, len(q.Values))
	for i, v := range q.Values {
		out[i] = float64(v) / q.Scale
	}
	return tensor.Must(q.Shape, out)
}

func (q Int16Tensor) Dequantize() *tensor.Tensor {
	out := make([]float64, len(q.Values))
	for i, v := range q.Values {
		out[i] = float64(v) / q.Scale
	}
	return tensor.Must(q.Shape, out)
}

// MaxError returns max |orig - deq| between a tensor and the dequantized
// values of its quantization.
func MaxError(orig, deq *tensor.Tensor) float64 {
	var m float64
	for i := range min(orig.Len(), deq.Len()) {
		if d := math.Abs(orig.Flat(i) - deq.Flat(i)); d > m {
			m = d
		}
	}
	return m
}
