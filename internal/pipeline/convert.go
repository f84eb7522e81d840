package pipeline

import (
	"context"
	"fmt"
	"io"

	"github.com/samcharles93/qmem/internal/checkpoint"
	"github.com/samcharles93/qmem/internal/logger"
	"github.com/samcharles93/qmem/internal/safetensors"
	"github.com/samcharles93/qmem/pkg/memimage"
)

// ConvertCheckpoint rewrites the state dict of any readable checkpoint as an
// F32 safetensors file, keeping parameter order. Non-tensor entries such as
// optimizer counters are dropped. It returns the number of tensors written.
func ConvertCheckpoint(ctx context.Context, src, dst string) (int, error) {
	log := logger.FromContext(ctx)

	ckpt, err := checkpoint.Load(src)
	if err != nil {
		return 0, err
	}
	sd, err := checkpoint.StateDict(ckpt)
	if err != nil {
		return 0, err
	}
	flat := sd.Flatten()
	if flat.Len() == 0 {
		return 0, fmt.Errorf("%w: no tensors in %s", checkpoint.ErrNoStateDict, src)
	}

	entries := make([]safetensors.Entry, 0, flat.Len())
	for _, name := range flat.Keys() {
		t, _ := flat.Tensor(name)
		entries = append(entries, safetensors.Entry{Name: name, Tensor: t})
	}
	err = memimage.WriteFileAtomic(dst, func(w io.Writer) error {
		return safetensors.Write(w, entries)
	})
	if err != nil {
		return 0, fmt.Errorf("write %s: %w", dst, err)
	}
	log.Info("converted checkpoint", "src", src, "dst", dst, "tensors", len(entries))
	return len(entries), nil
}
