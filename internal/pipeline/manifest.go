package pipeline

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/goccy/go-json"

	"github.com/samcharles93/qmem/pkg/memimage"
)

// ManifestName is written beside the .mem files of every export.
const ManifestName = "manifest.json"

// Manifest records what an export produced so a later verify run, or a
// person comparing against the board, can tell which numbers to expect.
type Manifest struct {
	RunID          string      `json:"run_id"`
	CreatedAt      time.Time   `json:"created_at"`
	Version        string      `json:"version,omitempty"`
	Scales         Scales      `json:"scales"`
	MaxError       MaxError    `json:"max_error"`
	Scores         []int32     `json:"scores"`
	Predicted      int         `json:"predicted"`
	FloatLogits    []float64   `json:"float_logits"`
	FloatPredicted int         `json:"float_predicted"`
	Files          []FileEntry `json:"files"`
}

type Scales struct {
	Features float64 `json:"features"`
	Weights  float64 `json:"weights"`
	Bias     float64 `json:"bias"`
	// BiasClamp is bias / (features*weights); 1 unless the bias was shrunk
	// to fit 16 bits.
	BiasClamp float64 `json:"bias_clamp"`
}

// MaxError is the largest |x - dequant(quant(x))| per tensor.
type MaxError struct {
	Features float64 `json:"features"`
	Weights  float64 `json:"weights"`
	Bias     float64 `json:"bias"`
}

type FileEntry struct {
	Name    string `json:"name"`
	Format  string `json:"format"`
	Shape   []int  `json:"shape"`
	Width   int    `json:"width"`
	Records int    `json:"records"`
}

func WriteManifest(path string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	data = append(data, '\n')
	return memimage.WriteFileAtomic(path, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &m, nil
}
