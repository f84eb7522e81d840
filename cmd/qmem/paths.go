package main

import (
	"os"
	"path/filepath"
	"strings"
)

const envOutDir = "QMEM_OUT_DIR"

// resolveOutDir picks the artifact directory: the --out flag, then
// $QMEM_OUT_DIR, then the config file, then ./out. Writers create it on
// demand.
func resolveOutDir(flag string, cfg Config) string {
	for _, dir := range []string{flag, os.Getenv(envOutDir), cfg.OutDir} {
		if dir = strings.TrimSpace(dir); dir != "" {
			return filepath.Clean(dir)
		}
	}
	return filepath.Join(".", "out")
}
