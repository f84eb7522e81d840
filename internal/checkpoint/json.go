package checkpoint

import (
	"bytes"
	"fmt"
	"os"
	"slices"

	"github.com/goccy/go-json"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/samcharles93/qmem/internal/tensor"
)

// LoadJSON reads a JSON checkpoint. Objects become mappings in document
// order. A tensor is either an object {"shape": [...], "data": [...]} with
// row-major data, or a rectangular nested array of numbers.
func LoadJSON(path string) (*Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseJSON(data)
}

func ParseJSON(data []byte) (*Mapping, error) {
	v, err := jsonValue(data)
	if err != nil {
		return nil, err
	}
	m, ok := v.(*Mapping)
	if !ok {
		return nil, fmt.Errorf("checkpoint: top-level JSON value is not an object")
	}
	return m, nil
}

type jsonTensor struct {
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
	DType string    `json:"dtype,omitempty"`
}

func jsonValue(raw []byte) (any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("checkpoint: empty JSON value")
	}
	switch raw[0] {
	case '{':
		obj := orderedmap.New[string, json.RawMessage]()
		if err := json.Unmarshal(raw, obj); err != nil {
			return nil, fmt.Errorf("checkpoint: parse JSON object: %w", err)
		}
		if t, ok, err := tensorObject(obj, raw); ok || err != nil {
			return t, err
		}
		m := NewMapping()
		for pair := obj.Oldest(); pair != nil; pair = pair.Next() {
			v, err := jsonValue(pair.Value)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", pair.Key, err)
			}
			m.Set(pair.Key, v)
		}
		return m, nil
	case '[':
		var nested any
		if err := json.Unmarshal(raw, &nested); err != nil {
			return nil, fmt.Errorf("checkpoint: parse JSON array: %w", err)
		}
		shape, flat, ok := rectangular(nested)
		if !ok {
			return nested, nil
		}
		return tensor.New(shape, flat)
	default:
		var scalar any
		if err := json.Unmarshal(raw, &scalar); err != nil {
			return nil, fmt.Errorf("checkpoint: parse JSON value: %w", err)
		}
		return scalar, nil
	}
}

// tensorObject recognises {"shape", "data"[, "dtype"]} objects.
func tensorObject(obj *orderedmap.OrderedMap[string, json.RawMessage], raw []byte) (*tensor.Tensor, bool, error) {
	_, hasShape := obj.Get("shape")
	_, hasData := obj.Get("data")
	_, hasDType := obj.Get("dtype")
	want := 2
	if hasDType {
		want = 3
	}
	if !hasShape || !hasData || obj.Len() != want {
		return nil, false, nil
	}
	var jt jsonTensor
	if err := json.Unmarshal(raw, &jt); err != nil {
		// Not numeric: treat as an ordinary mapping.
		return nil, false, nil
	}
	shape := jt.Shape
	if len(shape) == 0 {
		shape = []int{1}
	}
	t, err := tensor.New(shape, jt.Data)
	return t, true, err
}

// rectangular flattens a nested []any of numbers, returning its shape.
func rectangular(v any) ([]int, []float64, bool) {
	switch vv := v.(type) {
	case float64:
		return nil, []float64{vv}, true
	case []any:
		if len(vv) == 0 {
			return nil, nil, false
		}
		var shape []int
		var flat []float64
		for i, e := range vv {
			s, f, ok := rectangular(e)
			if !ok {
				return nil, nil, false
			}
			if i == 0 {
				shape = s
			} else if !slices.Equal(shape, s) {
				return nil, nil, false
			}
			flat = append(flat, f...)
		}
		return append([]int{len(vv)}, shape...), flat, true
	}
	return nil, nil, false
}
