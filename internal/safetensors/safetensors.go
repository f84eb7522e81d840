// Package safetensors reads tensors from .safetensors checkpoints.
//
// Tensor names are kept in header order so callers scanning for a tensor by
// shape see the same order the file was written in.
package safetensors

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/goccy/go-json"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"github.com/x448/float16"

	"github.com/samcharles93/qmem/internal/tensor"
)

// maxHeaderLen guards against reading a garbage length prefix.
const maxHeaderLen = 100 << 20

type TensorInfo struct {
	DType string
	Shape []int
	Start int64
	End   int64
}

type File struct {
	Path      string
	DataStart int64
	Names     []string
	Tensors   map[string]TensorInfo
	Metadata  map[string]string
}

type tensorHeader struct {
	DType       string  `json:"dtype"`
	Shape       []int   `json:"shape"`
	DataOffsets []int64 `json:"data_offsets"`
}

func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	headerLen, err := readU64(f)
	if err != nil {
		return nil, err
	}
	if headerLen > maxHeaderLen {
		return nil, fmt.Errorf("safetensors: header length %d too large", headerLen)
	}
	headerBytes := make([]byte, headerLen)
	if _, err := io.ReadFull(f, headerBytes); err != nil {
		return nil, err
	}
	raw := orderedmap.New[string, json.RawMessage]()
	if err := json.Unmarshal(headerBytes, raw); err != nil {
		return nil, fmt.Errorf("safetensors: parse header: %w", err)
	}

	out := &File{
		Path:      path,
		DataStart: int64(8 + headerLen),
		Tensors:   make(map[string]TensorInfo, raw.Len()),
	}
	for pair := raw.Oldest(); pair != nil; pair = pair.Next() {
		name, msg := pair.Key, pair.Value
		if name == "__metadata__" {
			_ = json.Unmarshal(msg, &out.Metadata)
			continue
		}
		var th tensorHeader
		if err := json.Unmarshal(msg, &th); err != nil {
			return nil, fmt.Errorf("parse tensor %s: %w", name, err)
		}
		if len(th.DataOffsets) != 2 {
			return nil, fmt.Errorf("tensor %s: invalid data_offsets", name)
		}
		out.Names = append(out.Names, name)
		out.Tensors[name] = TensorInfo{
			DType: th.DType,
			Shape: th.Shape,
			Start: th.DataOffsets[0],
			End:   th.DataOffsets[1],
		}
	}
	return out, nil
}

func (f *File) Tensor(name string) (TensorInfo, bool) {
	t, ok := f.Tensors[name]
	return t, ok
}

func (f *File) ReadRaw(name string) ([]byte, TensorInfo, error) {
	t, ok := f.Tensors[name]
	if !ok {
		return nil, TensorInfo{}, fmt.Errorf("tensor not found: %s", name)
	}
	if t.End < t.Start {
		return nil, TensorInfo{}, fmt.Errorf("tensor %s: invalid offsets", name)
	}
	buf := make([]byte, t.End-t.Start)

	file, err := os.Open(f.Path)
	if err != nil {
		return nil, TensorInfo{}, err
	}
	defer func() { _ = file.Close() }()

	if _, err := file.ReadAt(buf, f.DataStart+t.Start); err != nil {
		return nil, TensorInfo{}, fmt.Errorf("read tensor %s: %w", name, err)
	}
	return buf, t, nil
}

// ReadTensor decodes a floating-point tensor into float64 values.
func (f *File) ReadTensor(name string) (*tensor.Tensor, error) {
	raw, info, err := f.ReadRaw(name)
	if err != nil {
		return nil, err
	}
	shape := info.Shape
	if len(shape) == 0 {
		// Scalars are stored with an empty shape.
		shape = []int{1}
	}
	n, err := tensor.NumElements(shape)
	if err != nil {
		return nil, fmt.Errorf("tensor %s: %w", name, err)
	}
	out, err := decode(info.DType, raw, n)
	if err != nil {
		return nil, fmt.Errorf("tensor %s: %w", name, err)
	}
	return tensor.New(shape, out)
}

var floatSizes = map[string]int{"F64": 8, "F32": 4, "F16": 2, "BF16": 2}

// IsFloat reports whether ReadTensor can decode dtype.
func IsFloat(dtype string) bool {
	_, ok := floatSizes[dtype]
	return ok
}

func decode(dtype string, raw []byte, n int) ([]float64, error) {
	size := floatSizes[dtype]
	if size == 0 {
		return nil, fmt.Errorf("unsupported dtype %s", dtype)
	}
	if len(raw) != n*size {
		return nil, fmt.Errorf("invalid %s data size %d for %d elements", dtype, len(raw), n)
	}
	out := make([]float64, n)
	for i := range n {
		switch dtype {
		case "F64":
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
		case "F32":
			out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:])))
		case "F16":
			out[i] = float64(float16.Frombits(binary.LittleEndian.Uint16(raw[i*2:])).Float32())
		case "BF16":
			out[i] = float64(bf16ToF32(binary.LittleEndian.Uint16(raw[i*2:])))
		}
	}
	return out, nil
}

func readU64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func bf16ToF32(u uint16) float32 {
	return math.Float32frombits(uint32(u) << 16)
}
