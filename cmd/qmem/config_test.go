package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/samcharles93/qmem/internal/pipeline"
)

func TestLoadConfigExplicit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	src := "out_dir: /srv/fpga\ncheckpoint: mnist_cnn.pt\ninvert: never\nlog_level: debug\n"
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	want := Config{OutDir: "/srv/fpga", Checkpoint: "mnist_cnn.pt", Invert: "never", LogLevel: "debug"}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config")
	}
	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("out_dir: [unterminated\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadConfig(bad); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadConfigMissingDefault(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg != (Config{}) {
		t.Fatalf("expected zero config, got %+v", cfg)
	}
}

func TestPick(t *testing.T) {
	t.Parallel()
	tests := []struct {
		flag     string
		isSet    bool
		fallback string
		want     string
	}{
		{"auto", false, "never", "never"},
		{"always", true, "never", "always"},
		{"auto", false, "", "auto"},
		{"", false, "ckpt.pt", "ckpt.pt"},
	}
	for _, tc := range tests {
		if got := pick(tc.flag, tc.isSet, tc.fallback); got != tc.want {
			t.Errorf("pick(%q, %v, %q): expected %q, got %q", tc.flag, tc.isSet, tc.fallback, tc.want, got)
		}
	}
}

func TestRenderTables(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	renderScores(&buf, []int32{8128, -3}, []float64{2.5, 0})
	out := buf.String()
	for _, want := range []string{"CLASS", "SCORE", "FLOAT", "8128", "-3", "2.5000"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in scores table:\n%s", want, out)
		}
	}

	buf.Reset()
	renderArtifacts(&buf, []pipeline.ArtifactSummary{{Name: "weights.mif", Format: "mif", Width: 8, Depth: 512, Records: 200, Filled: 312}})
	out = buf.String()
	for _, want := range []string{"weights.mif", "512", "312"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in artifacts table:\n%s", want, out)
		}
	}

	buf.Reset()
	renderTensors(&buf, []pipeline.TensorSummary{
		{Key: "conv1.weight", Shape: []int{16, 1, 3, 3}, MaxAbs: 0.4},
		{Key: "fc.weight", Shape: []int{10, 400}, MaxAbs: 1},
	}, 1)
	out = buf.String()
	if !strings.Contains(out, "conv1.weight") || !strings.Contains(out, "... 1 more") || strings.Contains(out, "fc.weight") {
		t.Errorf("unexpected tensors table:\n%s", out)
	}
}
