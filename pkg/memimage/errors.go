package memimage

import "errors"

var (
	ErrShapeMismatch = errors.New("memimage: shape mismatch")
	ErrInvalidWidth  = errors.New("memimage: invalid bit width")
	ErrDepthExceeded = errors.New("memimage: values exceed declared depth")
	ErrMalformed     = errors.New("memimage: malformed file")
)
