package checkpoint

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/samcharles93/qmem/internal/tensor"
)

// LoadVector reads a feature vector. A JSON array (nested arrays are
// flattened row-major) or plain text with numbers separated by whitespace or
// commas are accepted. `#` starts a comment in text files.
func LoadVector(path string) (*tensor.Tensor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseVector(data)
}

func ParseVector(data []byte) (*tensor.Tensor, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var nested any
		if err := json.Unmarshal(trimmed, &nested); err != nil {
			return nil, fmt.Errorf("checkpoint: parse vector: %w", err)
		}
		_, flat, ok := rectangular(nested)
		if !ok {
			return nil, fmt.Errorf("checkpoint: vector is not a rectangular numeric array")
		}
		return tensor.New([]int{len(flat)}, flat)
	}

	var vals []float64
	for i, line := range strings.Split(string(data), "\n") {
		if c := strings.IndexByte(line, '#'); c >= 0 {
			line = line[:c]
		}
		fields := strings.FieldsFunc(line, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t' || r == '\r'
		})
		for _, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("checkpoint: vector line %d: %w", i+1, err)
			}
			vals = append(vals, v)
		}
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("checkpoint: empty vector")
	}
	return tensor.New([]int{len(vals)}, vals)
}
