package checkpoint

import (
	"fmt"

	"github.com/samcharles93/qmem/internal/tensor"
)

// KernelSize is the spatial footprint of every kernel the hardware loads.
const KernelSize = 5

// ResizeKernelTo5x5 brings the spatial dims of an [out, in, kh, kw] kernel to
// 5x5. Each axis independently is center-cropped (offset floor((k-5)/2)) when
// larger, or zero-padded when smaller, with any odd padding going at the end.
func ResizeKernelTo5x5(t *tensor.Tensor) (*tensor.Tensor, error) {
	return ResizeKernel(t, KernelSize)
}

// ResizeKernel is ResizeKernelTo5x5 for an arbitrary target size.
func ResizeKernel(t *tensor.Tensor, size int) (*tensor.Tensor, error) {
	if t.Rank() != 4 {
		return nil, fmt.Errorf("%w: kernel shape %v, want [out, in, kh, kw]", ErrUnsupportedShape, t.Shape())
	}
	if size <= 0 {
		return nil, fmt.Errorf("%w: target kernel size %d", ErrUnsupportedShape, size)
	}
	outc, inc, kh, kw := t.Dim(0), t.Dim(1), t.Dim(2), t.Dim(3)
	if kh == size && kw == size {
		return t, nil
	}

	// src index = dst index + shift; negative shift means padding before.
	dy := axisShift(kh, size)
	dx := axisShift(kw, size)

	out := make([]float64, outc*inc*size*size)
	for o := range outc {
		for i := range inc {
			for y := range size {
				sy := y + dy
				if sy < 0 || sy >= kh {
					continue
				}
				for x := range size {
					sx := x + dx
					if sx < 0 || sx >= kw {
						continue
					}
					out[((o*inc+i)*size+y)*size+x] = t.At(o, i, sy, sx)
				}
			}
		}
	}
	return tensor.New([]int{outc, inc, size, size}, out)
}

// axisShift maps a destination index to a source index along one axis.
func axisShift(k, size int) int {
	if k >= size {
		return (k - size) / 2
	}
	return -((size - k) / 2)
}

// FirstOutputChannels keeps the first n filters of an [out, ...] kernel.
func FirstOutputChannels(t *tensor.Tensor, n int) (*tensor.Tensor, error) {
	if t.Dim(0) < n {
		return nil, fmt.Errorf("%w: %d output channels, need at least %d", ErrUnsupportedShape, t.Dim(0), n)
	}
	return t.Narrow(n)
}
