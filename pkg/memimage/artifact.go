package memimage

import (
	"fmt"
	"io"
	"os"
	"slices"
)

// Format is the on-disk layout of an artifact.
type Format int

const (
	FormatFlat Format = iota
	FormatMIF
)

func (f Format) String() string {
	switch f {
	case FormatFlat:
		return "flat-hex"
	case FormatMIF:
		return "mif"
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// Artifact describes one memory file the hardware loads: its name, the exact
// tensor shape it must hold and its word width.
type Artifact struct {
	Name   string
	Format Format
	Shape  []int
	Width  int
	// Depth is the declared MIF depth. Unused for flat files.
	Depth int
}

var (
	FeaturesMem = Artifact{Name: "features.mem", Format: FormatFlat, Shape: []int{400}, Width: 8}
	FCWeightMem = Artifact{Name: "fc_w_flat.mem", Format: FormatFlat, Shape: []int{10, 400}, Width: 8}
	FCBiasMem   = Artifact{Name: "fc_b.mem", Format: FormatFlat, Shape: []int{10}, Width: 16}
	WeightsMIF  = Artifact{Name: "weights.mif", Format: FormatMIF, Shape: []int{8, 1, 5, 5}, Width: 8, Depth: 512}
	ImageMIF    = Artifact{Name: "image.mif", Format: FormatMIF, Shape: []int{28, 28}, Width: 8, Depth: 784}
)

// Artifacts lists every known artifact in pipeline order.
var Artifacts = []Artifact{FeaturesMem, FCWeightMem, FCBiasMem, WeightsMIF, ImageMIF}

// Lookup finds an artifact by file name.
func Lookup(name string) (Artifact, bool) {
	for _, a := range Artifacts {
		if a.Name == name {
			return a, true
		}
	}
	return Artifact{}, false
}

func (a Artifact) checkShape(shape []int, n int) error {
	if !slices.Equal(shape, a.Shape) {
		return fmt.Errorf("%w: %s requires shape %v, got %v", ErrShapeMismatch, a.Name, a.Shape, shape)
	}
	want := 1
	for _, d := range a.Shape {
		want *= d
	}
	if n != want {
		return fmt.Errorf("%w: %s requires %d values, got %d", ErrShapeMismatch, a.Name, want, n)
	}
	return nil
}

// WriteFlat validates shape and writes values as a flat hex file at path.
// Nothing is created when validation fails.
func (a Artifact) WriteFlat(path string, shape []int, values []int64) error {
	if a.Format != FormatFlat {
		return fmt.Errorf("memimage: %s is not a flat hex artifact", a.Name)
	}
	if err := a.checkShape(shape, len(values)); err != nil {
		return err
	}
	return WriteFileAtomic(path, func(w io.Writer) error {
		return EncodeFlat(w, values, a.Width)
	})
}

// WriteMIF validates shape and writes values as a MIF at path, zero-filled
// up to the artifact depth.
func (a Artifact) WriteMIF(path string, shape []int, values []int64, comments ...string) error {
	if a.Format != FormatMIF {
		return fmt.Errorf("memimage: %s is not a MIF artifact", a.Name)
	}
	if err := a.checkShape(shape, len(values)); err != nil {
		return err
	}
	img, err := NewImage(a.Depth, a.Width, values)
	if err != nil {
		return err
	}
	img.Comments = comments
	return WriteFileAtomic(path, func(w io.Writer) error {
		return EncodeMIF(w, img)
	})
}

// ReadFlat decodes a flat artifact and checks it holds exactly the required
// number of values.
func (a Artifact) ReadFlat(path string) ([]int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	vals, err := DecodeFlat(f, a.Width)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", a.Name, err)
	}
	if err := a.checkShape(a.Shape, len(vals)); err != nil {
		return nil, err
	}
	return vals, nil
}

// ReadMIF decodes a MIF artifact and checks its declared geometry.
func (a Artifact) ReadMIF(path string) (*Decoded, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	d, err := DecodeMIF(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", a.Name, err)
	}
	if d.Depth != a.Depth || d.Width != a.Width {
		return nil, fmt.Errorf("%w: %s declares DEPTH=%d WIDTH=%d, want %d/%d",
			ErrShapeMismatch, a.Name, d.Depth, d.Width, a.Depth, a.Width)
	}
	return d, nil
}
