package pipeline

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/samcharles93/qmem/internal/checkpoint"
	"github.com/samcharles93/qmem/pkg/memimage"
)

// ArtifactSummary is one decoded memory file.
type ArtifactSummary struct {
	Name     string
	Format   string
	Width    int
	Depth    int
	Records  int
	Filled   int
	Min, Max int64
}

// InspectFile decodes a known artifact by its file name.
func InspectFile(path string) (ArtifactSummary, error) {
	a, ok := memimage.Lookup(filepath.Base(path))
	if !ok {
		return ArtifactSummary{}, fmt.Errorf("pipeline: %s is not a known artifact", filepath.Base(path))
	}
	s := ArtifactSummary{Name: a.Name, Format: a.Format.String(), Width: a.Width}

	var vals []int64
	switch a.Format {
	case memimage.FormatFlat:
		v, err := a.ReadFlat(path)
		if err != nil {
			return s, err
		}
		vals = v
		s.Depth, s.Records = len(v), len(v)
	case memimage.FormatMIF:
		d, err := a.ReadMIF(path)
		if err != nil {
			return s, err
		}
		vals = d.Signed()
		if a.Name == memimage.ImageMIF.Name {
			// pixels are unsigned intensities
			vals = make([]int64, len(d.Words))
			for i, w := range d.Words {
				vals[i] = int64(w)
			}
		}
		s.Depth, s.Records, s.Filled = d.Depth, d.Explicit, d.Filled
	}
	if len(vals) > 0 {
		s.Min, s.Max = slices.Min(vals), slices.Max(vals)
	}
	return s, nil
}

// InspectDir summarizes every known artifact present in dir.
func InspectDir(dir string) ([]ArtifactSummary, error) {
	var out []ArtifactSummary
	for _, a := range memimage.Artifacts {
		path := filepath.Join(dir, a.Name)
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		s, err := InspectFile(path)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("pipeline: no artifacts in %s", dir)
	}
	return out, nil
}

// TensorSummary is one tensor of a checkpoint.
type TensorSummary struct {
	Key    string
	Shape  []int
	MaxAbs float64
}

// InspectCheckpoint lists the tensors of ckpt under dotted keys, in file
// order, and where the conv1 search lands.
func InspectCheckpoint(ckpt *checkpoint.Mapping) ([]TensorSummary, checkpoint.Match, bool) {
	flat := ckpt.Flatten()
	var out []TensorSummary
	for _, k := range flat.Keys() {
		t, _ := flat.Tensor(k)
		out = append(out, TensorSummary{Key: k, Shape: t.Shape(), MaxAbs: t.MaxAbs()})
	}
	sd, err := checkpoint.StateDict(ckpt)
	if err != nil {
		return out, checkpoint.Match{Reason: err.Error()}, false
	}
	m, ok := checkpoint.FindConv1(sd)
	return out, m, ok
}
