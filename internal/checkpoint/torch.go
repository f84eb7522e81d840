package checkpoint

import (
	"fmt"

	"github.com/nlpodyssey/gopickle/pytorch"
	"github.com/nlpodyssey/gopickle/types"

	"github.com/samcharles93/qmem/internal/tensor"
)

// LoadTorch reads a torch.save checkpoint (zip or legacy format).
func LoadTorch(path string) (*Mapping, error) {
	obj, err := pytorch.Load(path)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: load torch %s: %w", path, err)
	}
	v, err := fromPickle(obj)
	if err != nil {
		return nil, err
	}
	m, ok := v.(*Mapping)
	if !ok {
		return nil, fmt.Errorf("checkpoint: %s does not hold a dict (got %T)", path, obj)
	}
	return m, nil
}

func fromPickle(obj any) (any, error) {
	switch o := obj.(type) {
	case *types.OrderedDict:
		m := NewMapping()
		for e := o.List.Front(); e != nil; e = e.Next() {
			entry := e.Value.(*types.OrderedDictEntry)
			if err := setPickled(m, entry.Key, entry.Value); err != nil {
				return nil, err
			}
		}
		return m, nil
	case *types.Dict:
		m := NewMapping()
		for _, k := range o.Keys() {
			if err := setPickled(m, k, o.MustGet(k)); err != nil {
				return nil, err
			}
		}
		return m, nil
	case *pytorch.Tensor:
		return torchTensor(o)
	default:
		return obj, nil
	}
}

func setPickled(m *Mapping, key, value any) error {
	k, ok := key.(string)
	if !ok {
		k = fmt.Sprint(key)
	}
	v, err := fromPickle(value)
	if err != nil {
		return fmt.Errorf("%s: %w", k, err)
	}
	m.Set(k, v)
	return nil
}

// torchTensor materialises a (possibly strided) tensor view into a dense
// row-major tensor.
func torchTensor(t *pytorch.Tensor) (*tensor.Tensor, error) {
	src, err := storageValues(t.Source)
	if err != nil {
		return nil, err
	}
	shape := t.Size
	if len(shape) == 0 {
		shape = []int{1}
	}
	n, err := tensor.NumElements(shape)
	if err != nil {
		return nil, err
	}

	out := make([]float64, n)
	idx := make([]int, len(t.Size))
	for i := range n {
		off := t.StorageOffset
		for d := range idx {
			off += idx[d] * t.Stride[d]
		}
		if off < 0 || off >= len(src) {
			return nil, fmt.Errorf("checkpoint: tensor view out of storage bounds (%d of %d)", off, len(src))
		}
		out[i] = src[off]
		for d := len(idx) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < t.Size[d] {
				break
			}
			idx[d] = 0
		}
	}
	return tensor.New(shape, out)
}

func storageValues(s pytorch.StorageInterface) ([]float64, error) {
	switch st := s.(type) {
	case *pytorch.FloatStorage:
		return widen(st.Data), nil
	case *pytorch.HalfStorage:
		return widen(st.Data), nil
	case *pytorch.BFloat16Storage:
		return widen(st.Data), nil
	case *pytorch.DoubleStorage:
		return st.Data, nil
	case *pytorch.LongStorage:
		return widen(st.Data), nil
	case *pytorch.IntStorage:
		return widen(st.Data), nil
	}
	return nil, fmt.Errorf("checkpoint: unsupported torch storage %T", s)
}

func widen[T float32 | int64 | int32](in []T) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}
