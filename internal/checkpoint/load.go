package checkpoint

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/samcharles93/qmem/internal/safetensors"
)

// Load reads a checkpoint, choosing the decoder from the file extension:
// .safetensors, .json, or a torch.save file (.pt, .pth, .ckpt, .bin).
func Load(path string) (*Mapping, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".safetensors":
		return LoadSafetensors(path)
	case ".json":
		return LoadJSON(path)
	case ".pt", ".pth", ".ckpt", ".bin", ".tar":
		return LoadTorch(path)
	}
	return nil, fmt.Errorf("checkpoint: unrecognised checkpoint extension %q", filepath.Ext(path))
}

// LoadSafetensors reads every floating-point tensor of a safetensors file in
// header order. Tensors of other dtypes are kept as opaque entries.
func LoadSafetensors(path string) (*Mapping, error) {
	f, err := safetensors.Open(path)
	if err != nil {
		return nil, err
	}
	m := NewMapping()
	for _, name := range f.Names {
		info, _ := f.Tensor(name)
		if !safetensors.IsFloat(info.DType) {
			m.Set(name, info)
			continue
		}
		t, err := f.ReadTensor(name)
		if err != nil {
			return nil, err
		}
		m.Set(name, t)
	}
	return m, nil
}
