package checkpoint

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/samcharles93/qmem/internal/safetensors"
	"github.com/samcharles93/qmem/internal/tensor"
)

// ramp returns a tensor whose values are 1, 2, 3, ... in row-major order.
func ramp(shape ...int) *tensor.Tensor {
	n, err := tensor.NumElements(shape)
	if err != nil {
		panic(err)
	}
	data := make([]float64, n)
	for i := range data {
		data[i] = float64(i + 1)
	}
	return tensor.Must(shape, data)
}

func mapping(kv ...any) *Mapping {
	m := NewMapping()
	for i := 0; i < len(kv); i += 2 {
		m.Set(kv[i].(string), kv[i+1])
	}
	return m
}

func TestLocateConv1ByName(t *testing.T) {
	t.Parallel()
	w := ramp(16, 1, 3, 3)
	m, err := LocateConv1Weight(mapping("conv1.weight", w))
	if err != nil {
		t.Fatalf("LocateConv1Weight: %v", err)
	}
	if m.Key != "conv1.weight" || m.Tensor != w {
		t.Fatalf("unexpected match %q", m.Key)
	}
}

func TestLocateConv1CandidatePriority(t *testing.T) {
	t.Parallel()
	ckpt := mapping(
		"cnn.0.weight", ramp(8, 1, 5, 5),
		"features.0.weight", ramp(10, 1, 5, 5),
	)
	m, err := LocateConv1Weight(ckpt)
	if err != nil {
		t.Fatalf("LocateConv1Weight: %v", err)
	}
	if m.Key != "features.0.weight" {
		t.Fatalf("expected features.0.weight, got %q", m.Key)
	}
}

func TestLocateConv1FallbackScansInOrder(t *testing.T) {
	t.Parallel()
	ckpt := mapping(
		"stem.bias", ramp(8),
		"stem.weight", ramp(8, 3, 5, 5), // three input channels
		"big.weight", ramp(8, 1, 9, 9),  // kernel too large
		"layer.a.weight", ramp(12, 1, 7, 3),
		"layer.b.weight", ramp(32, 1, 3, 3),
	)
	m, ok := FindConv1(ckpt)
	if !ok {
		t.Fatalf("FindConv1 missed: %s", m.Reason)
	}
	if m.Key != "layer.a.weight" {
		t.Fatalf("expected layer.a.weight, got %q", m.Key)
	}
	if m.Reason == "" {
		t.Fatal("expected a diagnostic reason")
	}
}

func TestLocateConv1NotFound(t *testing.T) {
	t.Parallel()
	ckpt := mapping("fc.weight", ramp(10, 400), "conv.weight", ramp(8, 3, 3, 3))
	m, ok := FindConv1(ckpt)
	if ok {
		t.Fatalf("unexpected match %q", m.Key)
	}
	if m.Reason == "" {
		t.Fatal("expected a reason for the miss")
	}
	if _, err := LocateConv1Weight(ckpt); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestLocateConv1UnsupportedShapes(t *testing.T) {
	t.Parallel()
	tests := map[string]*tensor.Tensor{
		"rgb input":     ramp(16, 3, 5, 5),
		"few filters":   ramp(4, 1, 5, 5),
		"not a kernel":  ramp(16, 25),
		"seven filters": ramp(7, 1, 3, 3),
	}
	for name, w := range tests {
		_, err := LocateConv1Weight(mapping("conv1.weight", w))
		if !errors.Is(err, ErrUnsupportedShape) {
			t.Errorf("%s: expected ErrUnsupportedShape, got %v", name, err)
		}
	}
}

func TestStateDictUnwrap(t *testing.T) {
	t.Parallel()
	w := ramp(8, 1, 5, 5)

	t.Run("nested state_dict", func(t *testing.T) {
		ckpt := mapping("epoch", 3.0, "state_dict", mapping("conv1.weight", w))
		m, err := LocateConv1Weight(ckpt)
		if err != nil || m.Tensor != w {
			t.Fatalf("expected nested weight, got %v / %v", m.Key, err)
		}
	})

	t.Run("model_state_dict", func(t *testing.T) {
		ckpt := mapping("optimizer", mapping(), "model_state_dict", mapping("net.conv1.weight", w))
		m, err := LocateConv1Weight(ckpt)
		if err != nil || m.Key != "net.conv1.weight" {
			t.Fatalf("expected net.conv1.weight, got %v / %v", m.Key, err)
		}
	})

	t.Run("flattened prefix", func(t *testing.T) {
		ckpt := mapping("epoch", 1.0, "state_dict.conv1.weight", w, "state_dict.conv1.bias", ramp(8))
		sd, err := StateDict(ckpt)
		if err != nil {
			t.Fatalf("StateDict: %v", err)
		}
		if diff := cmp.Diff([]string{"conv1.weight", "conv1.bias"}, sd.Keys()); diff != "" {
			t.Fatalf("keys mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("no tensors", func(t *testing.T) {
		_, err := StateDict(mapping("epoch", 1.0, "name", "mnist"))
		if !errors.Is(err, ErrNoStateDict) {
			t.Fatalf("expected ErrNoStateDict, got %v", err)
		}
	})
}

func TestResizeKernelPad3To5(t *testing.T) {
	t.Parallel()
	out, err := ResizeKernelTo5x5(ramp(16, 1, 3, 3))
	if err != nil {
		t.Fatalf("ResizeKernelTo5x5: %v", err)
	}
	if diff := cmp.Diff([]int{16, 1, 5, 5}, out.Shape()); diff != "" {
		t.Fatalf("shape mismatch (-want +got):\n%s", diff)
	}
	// Filter 0 holds 1..9; one row/column of zeros on every side.
	want := []float64{
		0, 0, 0, 0, 0,
		0, 1, 2, 3, 0,
		0, 4, 5, 6, 0,
		0, 7, 8, 9, 0,
		0, 0, 0, 0, 0,
	}
	if diff := cmp.Diff(want, out.Data()[:25]); diff != "" {
		t.Fatalf("filter 0 mismatch (-want +got):\n%s", diff)
	}
	if got := out.At(15, 0, 1, 1); got != 15*9+1 {
		t.Fatalf("filter 15 origin: expected %d, got %v", 15*9+1, got)
	}
}

func TestResizeKernelOddPaddingGoesLast(t *testing.T) {
	t.Parallel()
	out, err := ResizeKernelTo5x5(ramp(1, 1, 4, 4))
	if err != nil {
		t.Fatalf("ResizeKernelTo5x5: %v", err)
	}
	want := []float64{
		1, 2, 3, 4, 0,
		5, 6, 7, 8, 0,
		9, 10, 11, 12, 0,
		13, 14, 15, 16, 0,
		0, 0, 0, 0, 0,
	}
	if diff := cmp.Diff(want, out.Data()); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestResizeKernelCenterCrop(t *testing.T) {
	t.Parallel()
	out, err := ResizeKernelTo5x5(ramp(1, 1, 7, 7))
	if err != nil {
		t.Fatalf("ResizeKernelTo5x5: %v", err)
	}
	// Offset 1 on each axis: rows 1..5, cols 1..5 of a 7x7 ramp.
	want := []float64{
		9, 10, 11, 12, 13,
		16, 17, 18, 19, 20,
		23, 24, 25, 26, 27,
		30, 31, 32, 33, 34,
		37, 38, 39, 40, 41,
	}
	if diff := cmp.Diff(want, out.Data()); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}

	// 6 -> 5 crops with floor offset 0.
	out6, err := ResizeKernelTo5x5(ramp(1, 1, 6, 6))
	if err != nil {
		t.Fatalf("ResizeKernelTo5x5: %v", err)
	}
	if out6.At(0, 0, 0, 0) != 1 || out6.At(0, 0, 4, 4) != 29 {
		t.Fatalf("unexpected 6x6 crop corners: %v %v", out6.At(0, 0, 0, 0), out6.At(0, 0, 4, 4))
	}
}

func TestResizeKernelMixedAxes(t *testing.T) {
	t.Parallel()
	out, err := ResizeKernelTo5x5(ramp(1, 1, 7, 3))
	if err != nil {
		t.Fatalf("ResizeKernelTo5x5: %v", err)
	}
	// Rows 1..5 of the 7x3 ramp, padded by one column either side.
	want := []float64{
		0, 4, 5, 6, 0,
		0, 7, 8, 9, 0,
		0, 10, 11, 12, 0,
		0, 13, 14, 15, 0,
		0, 16, 17, 18, 0,
	}
	if diff := cmp.Diff(want, out.Data()); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestResizeKernelPassThrough(t *testing.T) {
	t.Parallel()
	in := ramp(8, 1, 5, 5)
	out, err := ResizeKernelTo5x5(in)
	if err != nil {
		t.Fatalf("ResizeKernelTo5x5: %v", err)
	}
	if diff := cmp.Diff(in.Data(), out.Data()); diff != "" {
		t.Fatalf("5x5 kernel changed (-want +got):\n%s", diff)
	}
	if _, err := ResizeKernelTo5x5(ramp(5, 5)); !errors.Is(err, ErrUnsupportedShape) {
		t.Fatalf("expected ErrUnsupportedShape for rank 2, got %v", err)
	}
}

func TestFindLinear(t *testing.T) {
	t.Parallel()
	ckpt := mapping(
		"conv1.weight", ramp(8, 1, 3, 3),
		"head.proj.weight", ramp(10, 400),
		"head.proj.bias", ramp(10),
	)
	l, err := FindLinear(ckpt, 10, 400)
	if err != nil {
		t.Fatalf("FindLinear: %v", err)
	}
	if l.WeightKey != "head.proj.weight" || l.BiasKey != "head.proj.bias" {
		t.Fatalf("unexpected keys %q %q", l.WeightKey, l.BiasKey)
	}

	named := mapping("fc.weight", ramp(10, 400), "fc.bias", ramp(10), "x.weight", ramp(10, 400), "x.bias", ramp(10))
	l, err = FindLinear(named, 10, 400)
	if err != nil || l.WeightKey != "fc.weight" {
		t.Fatalf("expected fc.weight, got %q / %v", l.WeightKey, err)
	}

	if _, err := FindLinear(mapping("fc.weight", ramp(10, 400)), 10, 400); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound without bias, got %v", err)
	}
}

func TestParseJSONCheckpoint(t *testing.T) {
	t.Parallel()
	src := `{
		"epoch": 4,
		"state_dict": {
			"zz.weight": {"shape": [2], "data": [1, 2]},
			"conv1.weight": [[[[0.5, -0.5, 0], [0, 1, 0], [0, 0, 0.25]]]],
			"meta": {"shape": "n/a", "data": "none"}
		}
	}`
	ckpt, err := ParseJSON([]byte(src))
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	if diff := cmp.Diff([]string{"epoch", "state_dict"}, ckpt.Keys()); diff != "" {
		t.Fatalf("top-level order mismatch (-want +got):\n%s", diff)
	}
	sd, err := StateDict(ckpt)
	if err != nil {
		t.Fatalf("StateDict: %v", err)
	}
	if diff := cmp.Diff([]string{"zz.weight", "conv1.weight", "meta"}, sd.Keys()); diff != "" {
		t.Fatalf("state dict order mismatch (-want +got):\n%s", diff)
	}
	w, ok := sd.Tensor("conv1.weight")
	if !ok {
		t.Fatal("conv1.weight is not a tensor")
	}
	if diff := cmp.Diff([]int{1, 1, 3, 3}, w.Shape()); diff != "" {
		t.Fatalf("shape mismatch (-want +got):\n%s", diff)
	}
	if _, ok := sd.Sub("meta"); !ok {
		t.Fatal("non-numeric shape/data object should stay a mapping")
	}
	if _, ok := sd.Tensor("zz.weight"); !ok {
		t.Fatal("shape/data object should be a tensor")
	}
}

func TestParseJSONBadTensor(t *testing.T) {
	t.Parallel()
	if _, err := ParseJSON([]byte(`{"w": {"shape": [3], "data": [1, 2]}}`)); err == nil {
		t.Fatal("expected shape/data length error")
	}
	if _, err := ParseJSON([]byte(`[1, 2]`)); err == nil {
		t.Fatal("expected error for non-object root")
	}
}

func TestLoadSafetensorsKeepsHeaderOrder(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "mnist.safetensors")
	var buf bytes.Buffer
	err := safetensors.Write(&buf, []safetensors.Entry{
		{Name: "conv2.weight", Tensor: ramp(16, 8, 3, 3)},
		{Name: "b.weight", Tensor: ramp(8, 1, 3, 3)},
		{Name: "a.weight", Tensor: ramp(8, 1, 5, 5)},
	})
	if err != nil {
		t.Fatalf("safetensors.Write: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	ckpt, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	m, err := LocateConv1Weight(ckpt)
	if err != nil {
		t.Fatalf("LocateConv1Weight: %v", err)
	}
	if m.Key != "b.weight" {
		t.Fatalf("expected first qualifying tensor b.weight, got %q", m.Key)
	}
}

func TestLoadUnknownExtension(t *testing.T) {
	t.Parallel()
	if _, err := Load("model.onnx"); err == nil {
		t.Fatal("expected error for unknown extension")
	}
}

func TestParseVector(t *testing.T) {
	t.Parallel()
	tests := map[string][]float64{
		"[1, -2.5, 0]":              {1, -2.5, 0},
		"[[1, 2], [3, 4]]":          {1, 2, 3, 4},
		"1 2\n3,4 # tail comment\n": {1, 2, 3, 4},
		"# header\n5e-1\t-1\n":      {0.5, -1},
	}
	for src, want := range tests {
		v, err := ParseVector([]byte(src))
		if err != nil {
			t.Fatalf("ParseVector(%q): %v", src, err)
		}
		if diff := cmp.Diff(want, v.Data()); diff != "" {
			t.Fatalf("ParseVector(%q) mismatch (-want +got):\n%s", src, diff)
		}
	}
	if _, err := ParseVector([]byte("1 two 3")); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := ParseVector([]byte("[[1], [2, 3]]")); err == nil {
		t.Fatal("expected ragged array error")
	}
}

func TestFlatten(t *testing.T) {
	t.Parallel()
	m := mapping("conv1", mapping("weight", ramp(1), "bias", ramp(1)), "epoch", 2.0)
	if diff := cmp.Diff([]string{"conv1.weight", "conv1.bias"}, m.Flatten().Keys()); diff != "" {
		t.Fatalf("flatten mismatch (-want +got):\n%s", diff)
	}
}
