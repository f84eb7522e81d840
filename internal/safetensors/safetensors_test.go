package safetensors

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"

	"github.com/samcharles93/qmem/internal/tensor"
)

// writeRaw creates a safetensors file from a literal header and payload.
func writeRaw(t *testing.T, header string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.safetensors")
	var buf bytes.Buffer
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(header)))
	buf.Write(lenBuf[:])
	buf.WriteString(header)
	buf.Write(data)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	return path
}

func TestWriteOpenRoundTripKeepsOrder(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "model.safetensors")

	entries := []Entry{
		{Name: "zeta.weight", Tensor: tensor.Must([]int{2, 2}, []float64{1, 2, 3, 4})},
		{Name: "alpha.bias", Tensor: tensor.Must([]int{2}, []float64{-0.5, 0.25})},
		{Name: "conv1.weight", Tensor: tensor.Must([]int{1, 1, 1, 3}, []float64{0, 1, -1})},
	}
	var buf bytes.Buffer
	if err := Write(&buf, entries); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if diff := cmp.Diff([]string{"zeta.weight", "alpha.bias", "conv1.weight"}, f.Names); diff != "" {
		t.Fatalf("name order mismatch (-want +got):\n%s", diff)
	}
	for _, e := range entries {
		got, err := f.ReadTensor(e.Name)
		if err != nil {
			t.Fatalf("ReadTensor(%s): %v", e.Name, err)
		}
		if diff := cmp.Diff(e.Tensor.Shape(), got.Shape()); diff != "" {
			t.Fatalf("%s shape mismatch (-want +got):\n%s", e.Name, diff)
		}
		if diff := cmp.Diff(e.Tensor.Data(), got.Data()); diff != "" {
			t.Fatalf("%s data mismatch (-want +got):\n%s", e.Name, diff)
		}
	}
}

func TestWriteRejectsDuplicates(t *testing.T) {
	t.Parallel()
	one := tensor.Must([]int{1}, []float64{1})
	err := Write(&bytes.Buffer{}, []Entry{{Name: "a", Tensor: one}, {Name: "a", Tensor: one}})
	if err == nil {
		t.Fatal("expected duplicate error")
	}
}

func TestOpenNonexistentFile(t *testing.T) {
	t.Parallel()
	if _, err := Open("/nonexistent/file.safetensors"); err == nil {
		t.Fatal("expected error for nonexistent file")
	}
}

func TestOpenTruncatedFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "truncated.safetensors")
	if err := os.WriteFile(path, []byte{0, 0, 0, 0}, 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := Open(path); err == nil {
		t.Fatal("expected error for truncated file")
	}
}

func TestOpenInvalidJSON(t *testing.T) {
	t.Parallel()
	path := writeRaw(t, "not valid js", nil)
	if _, err := Open(path); err == nil {
		t.Fatal("expected error for invalid JSON header")
	}
}

func TestInvalidDataOffsets(t *testing.T) {
	t.Parallel()
	path := writeRaw(t, `{"bad":{"dtype":"F32","shape":[1],"data_offsets":[0]}}`, nil)
	if _, err := Open(path); err == nil {
		t.Fatal("expected error for invalid data_offsets")
	}
}

func TestMetadataKept(t *testing.T) {
	t.Parallel()
	path := writeRaw(t,
		`{"__metadata__":{"format":"pt"},"t":{"dtype":"F32","shape":[4],"data_offsets":[0,16]}}`,
		make([]byte, 16))
	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(f.Tensors) != 1 || len(f.Names) != 1 {
		t.Fatalf("expected 1 tensor, got %d", len(f.Tensors))
	}
	if f.Metadata["format"] != "pt" {
		t.Fatalf("expected metadata format=pt, got %v", f.Metadata)
	}
}

func TestReadTensorDTypes(t *testing.T) {
	t.Parallel()

	f64 := make([]byte, 16)
	binary.LittleEndian.PutUint64(f64[0:], math.Float64bits(0.1))
	binary.LittleEndian.PutUint64(f64[8:], math.Float64bits(-3))

	half := make([]byte, 4)
	binary.LittleEndian.PutUint16(half[0:], 0x3C00) // 1.0
	binary.LittleEndian.PutUint16(half[2:], 0xC000) // -2.0

	bf := make([]byte, 4)
	binary.LittleEndian.PutUint16(bf[0:], 0x3F80) // 1.0
	binary.LittleEndian.PutUint16(bf[2:], 0x4040) // 3.0

	tests := []struct {
		dtype string
		data  []byte
		want  []float64
	}{
		{"F64", f64, []float64{0.1, -3}},
		{"F16", half, []float64{1, -2}},
		{"BF16", bf, []float64{1, 3}},
	}
	for _, tc := range tests {
		header, _ := json.Marshal(map[string]any{
			"t": map[string]any{"dtype": tc.dtype, "shape": []int{2}, "data_offsets": []int{0, len(tc.data)}},
		})
		f, err := Open(writeRaw(t, string(header), tc.data))
		if err != nil {
			t.Fatalf("%s Open: %v", tc.dtype, err)
		}
		got, err := f.ReadTensor("t")
		if err != nil {
			t.Fatalf("%s ReadTensor: %v", tc.dtype, err)
		}
		if diff := cmp.Diff(tc.want, got.Data()); diff != "" {
			t.Fatalf("%s mismatch (-want +got):\n%s", tc.dtype, diff)
		}
	}
}

func TestReadTensorUnsupportedDType(t *testing.T) {
	t.Parallel()
	path := writeRaw(t, `{"t":{"dtype":"I32","shape":[2],"data_offsets":[0,8]}}`, make([]byte, 8))
	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := f.ReadTensor("t"); err == nil {
		t.Fatal("expected error for unsupported dtype")
	}
}

func TestReadTensorSizeMismatch(t *testing.T) {
	t.Parallel()
	path := writeRaw(t, `{"t":{"dtype":"F32","shape":[4],"data_offsets":[0,8]}}`, make([]byte, 8))
	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := f.ReadTensor("t"); err == nil {
		t.Fatal("expected error for size mismatch")
	}
}

func TestReadTensorInvertedOffsets(t *testing.T) {
	t.Parallel()
	path := writeRaw(t, `{"bad":{"dtype":"F32","shape":[2],"data_offsets":[8,0]}}`, make([]byte, 8))
	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := f.ReadTensor("bad"); err == nil {
		t.Fatal("expected error for inverted offsets")
	}
	if _, err := f.ReadTensor("missing"); err == nil {
		t.Fatal("expected error for missing tensor")
	}
}

func TestBf16ToF32(t *testing.T) {
	t.Parallel()
	tests := []struct {
		input    uint16
		expected float32
	}{
		{0x3F80, 1.0},
		{0x4000, 2.0},
		{0xBF80, -1.0},
		{0x0000, 0.0},
	}
	for _, tc := range tests {
		if result := bf16ToF32(tc.input); result != tc.expected {
			t.Errorf("bf16ToF32(0x%04X): expected %f, got %f", tc.input, tc.expected, result)
		}
	}
}
