package main

import (
	"path/filepath"
	"testing"
)

func TestResolveOutDir(t *testing.T) {
	t.Run("explicit flag wins", func(t *testing.T) {
		t.Setenv(envOutDir, "/from/env")
		got := resolveOutDir("build/fpga/", Config{OutDir: "/from/config"})
		if want := filepath.Join("build", "fpga"); got != want {
			t.Fatalf("unexpected dir: got %q want %q", got, want)
		}
	})

	t.Run("env beats config", func(t *testing.T) {
		t.Setenv(envOutDir, "  /from/env ")
		if got := resolveOutDir("", Config{OutDir: "/from/config"}); got != "/from/env" {
			t.Fatalf("unexpected dir: got %q", got)
		}
	})

	t.Run("config beats default", func(t *testing.T) {
		t.Setenv(envOutDir, "")
		if got := resolveOutDir("", Config{OutDir: "/from/config"}); got != "/from/config" {
			t.Fatalf("unexpected dir: got %q", got)
		}
	})

	t.Run("default is ./out", func(t *testing.T) {
		t.Setenv(envOutDir, "")
		if got, want := resolveOutDir("", Config{}), filepath.Join(".", "out"); got != want {
			t.Fatalf("unexpected dir: got %q want %q", got, want)
		}
	})
}
