// Package checkpoint loads saved models into an ordered key/value mapping and
// searches it for the tensors the FPGA pipeline needs.
package checkpoint

import (
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/samcharles93/qmem/internal/tensor"
)

// Mapping is an ordered view of a saved-model structure. Values are
// *tensor.Tensor, *Mapping, or an opaque scalar (number, string, bool, nil,
// or anything a loader could not interpret). Iteration follows file order.
//
// A Mapping is built once by a loader and only read afterwards.
type Mapping struct {
	m *orderedmap.OrderedMap[string, any]
}

func NewMapping() *Mapping {
	return &Mapping{m: orderedmap.New[string, any]()}
}

// Set adds or replaces key. Loaders use it while building the mapping.
func (m *Mapping) Set(key string, v any) {
	m.m.Set(key, v)
}

func (m *Mapping) Get(key string) (any, bool) {
	return m.m.Get(key)
}

func (m *Mapping) Len() int { return m.m.Len() }

// Tensor returns the tensor stored under key, if any.
func (m *Mapping) Tensor(key string) (*tensor.Tensor, bool) {
	v, ok := m.m.Get(key)
	if !ok {
		return nil, false
	}
	t, ok := v.(*tensor.Tensor)
	return t, ok
}

// Sub returns the nested mapping stored under key, if any.
func (m *Mapping) Sub(key string) (*Mapping, bool) {
	v, ok := m.m.Get(key)
	if !ok {
		return nil, false
	}
	sub, ok := v.(*Mapping)
	return sub, ok
}

// Each visits entries in order until fn returns false.
func (m *Mapping) Each(fn func(key string, v any) bool) {
	for pair := m.m.Oldest(); pair != nil; pair = pair.Next() {
		if !fn(pair.Key, pair.Value) {
			return
		}
	}
}

func (m *Mapping) Keys() []string {
	keys := make([]string, 0, m.m.Len())
	m.Each(func(k string, _ any) bool {
		keys = append(keys, k)
		return true
	})
	return keys
}

// HasTensor reports whether any top-level value is a tensor.
func (m *Mapping) HasTensor() bool {
	found := false
	m.Each(func(_ string, v any) bool {
		_, found = v.(*tensor.Tensor)
		return !found
	})
	return found
}

// Flatten joins nested mappings into dotted keys, the way PyTorch names
// parameters. Only tensors are kept.
func (m *Mapping) Flatten() *Mapping {
	out := NewMapping()
	var walk func(prefix string, mm *Mapping)
	walk = func(prefix string, mm *Mapping) {
		mm.Each(func(k string, v any) bool {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			switch vv := v.(type) {
			case *tensor.Tensor:
				out.Set(key, vv)
			case *Mapping:
				walk(key, vv)
			}
			return true
		})
	}
	walk("", m)
	return out
}

// TrimPrefix returns the entries whose key starts with prefix, with the
// prefix removed.
func (m *Mapping) TrimPrefix(prefix string) *Mapping {
	out := NewMapping()
	m.Each(func(k string, v any) bool {
		if rest, ok := strings.CutPrefix(k, prefix); ok {
			out.Set(rest, v)
		}
		return true
	})
	return out
}
