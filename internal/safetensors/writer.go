package safetensors

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/goccy/go-json"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/samcharles93/qmem/internal/tensor"
)

// Entry is a named tensor to be written as F32.
type Entry struct {
	Name   string
	Tensor *tensor.Tensor
}

// Write encodes entries as an F32 safetensors stream, keeping entry order in
// the header.
func Write(w io.Writer, entries []Entry) error {
	header := orderedmap.New[string, tensorHeader]()
	var off int64
	for _, e := range entries {
		n := int64(e.Tensor.Len()) * 4
		if _, present := header.Set(e.Name, tensorHeader{
			DType:       "F32",
			Shape:       e.Tensor.Shape(),
			DataOffsets: []int64{off, off + n},
		}); present {
			return fmt.Errorf("safetensors: duplicate tensor %s", e.Name)
		}
		off += n
	}
	hb, err := json.Marshal(header)
	if err != nil {
		return err
	}

	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(hb)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := w.Write(hb); err != nil {
		return err
	}
	var word [4]byte
	for _, e := range entries {
		for _, v := range e.Tensor.Data() {
			binary.LittleEndian.PutUint32(word[:], math.Float32bits(float32(v)))
			if _, err := w.Write(word[:]); err != nil {
				return err
			}
		}
	}
	return nil
}
