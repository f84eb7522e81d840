package tensor

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

var ErrShape = errors.New("tensor: invalid shape")

// Tensor is an immutable dense row-major array of float64 values.
//
// Constructors copy their inputs and accessors return copies, so a Tensor
// handed from one pipeline stage to the next can never be mutated by either.
type Tensor struct {
	shape []int
	data  []float64
}

// New builds a tensor from shape and data. len(data) must equal the product
// of the dims, and every dim must be positive.
func New(shape []int, data []float64) (*Tensor, error) {
	n, err := NumElements(shape)
	if err != nil {
		return nil, err
	}
	if len(data) != n {
		return nil, fmt.Errorf("%w: shape %v needs %d values, got %d", ErrShape, shape, n, len(data))
	}
	return &Tensor{
		shape: slices.Clone(shape),
		data:  slices.Clone(data),
	}, nil
}

// Must is New for fixtures and constants; it panics on a bad shape.
func Must(shape []int, data []float64) *Tensor {
	t, err := New(shape, data)
	if err != nil {
		panic(err)
	}
	return t
}

// Zeros returns an all-zero tensor of the given shape.
func Zeros(shape ...int) (*Tensor, error) {
	n, err := NumElements(shape)
	if err != nil {
		return nil, err
	}
	return &Tensor{shape: slices.Clone(shape), data: make([]float64, n)}, nil
}

// FromFloat32 widens float32 data into a tensor.
func FromFloat32(shape []int, data []float32) (*Tensor, error) {
	wide := make([]float64, len(data))
	for i, v := range data {
		wide[i] = float64(v)
	}
	return New(shape, wide)
}

func NumElements(shape []int) (int, error) {
	if len(shape) == 0 {
		return 0, fmt.Errorf("%w: empty shape", ErrShape)
	}
	n := 1
	for _, d := range shape {
		if d <= 0 {
			return 0, fmt.Errorf("%w: invalid dim %d", ErrShape, d)
		}
		if n > math.MaxInt/d {
			return 0, fmt.Errorf("%w: tensor too large", ErrShape)
		}
		n *= d
	}
	return n, nil
}

// ShapeEqual reports whether two shapes have identical rank and dims.
func ShapeEqual(a, b []int) bool {
	return slices.Equal(a, b)
}

func (t *Tensor) Shape() []int { return slices.Clone(t.shape) }

// Data returns a row-major copy of the values.
func (t *Tensor) Data() []float64 { return slices.Clone(t.data) }

func (t *Tensor) Rank() int { return len(t.shape) }

func (t *Tensor) Len() int { return len(t.data) }

// Dim returns the size of dimension i, or 0 when i is out of range.
func (t *Tensor) Dim(i int) int {
	if i < 0 || i >= len(t.shape) {
		return 0
	}
	return t.shape[i]
}

// Flat returns the i-th element in row-major order.
func (t *Tensor) Flat(i int) float64 { return t.data[i] }

// At returns the element at the given multi-dimensional index. It panics on
// a rank mismatch or an out-of-range index, like slice indexing does.
func (t *Tensor) At(idx ...int) float64 {
	return t.data[t.offset(idx)]
}

func (t *Tensor) offset(idx []int) int {
	if len(idx) != len(t.shape) {
		panic(fmt.Sprintf("tensor: index rank %d, tensor rank %d", len(idx), len(t.shape)))
	}
	off := 0
	for i, v := range idx {
		if v < 0 || v >= t.shape[i] {
			panic(fmt.Sprintf("tensor: index %d out of range for dim %d (%d)", v, i, t.shape[i]))
		}
		off = off*t.shape[i] + v
	}
	return off
}

// MaxAbs returns max |x| over all elements.
func (t *Tensor) MaxAbs() float64 {
	var m float64
	for _, v := range t.data {
		if a := math.Abs(v); a > m {
			m = a
		}
	}
	return m
}

// Row returns row i of a rank-2 tensor.
func (t *Tensor) Row(i int) []float64 {
	if len(t.shape) != 2 {
		panic("tensor: Row on non-matrix")
	}
	c := t.shape[1]
	return slices.Clone(t.data[i*c : (i+1)*c])
}

// Reshape returns a copy with a new shape of the same element count.
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	return New(shape, t.data)
}

// Narrow keeps the first n entries along dimension 0.
func (t *Tensor) Narrow(n int) (*Tensor, error) {
	if n <= 0 || n > t.shape[0] {
		return nil, fmt.Errorf("%w: cannot narrow dim 0 of %v to %d", ErrShape, t.shape, n)
	}
	inner := len(t.data) / t.shape[0]
	shape := slices.Clone(t.shape)
	shape[0] = n
	return New(shape, t.data[:n*inner])
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor%v", t.shape)
}
