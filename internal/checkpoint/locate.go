package checkpoint

import (
	"errors"
	"fmt"
	"strings"

	"github.com/samcharles93/qmem/internal/tensor"
)

var (
	ErrNoStateDict      = errors.New("checkpoint: no state dict found")
	ErrKeyNotFound      = errors.New("checkpoint: weight not found")
	ErrUnsupportedShape = errors.New("checkpoint: unsupported tensor shape")
)

// MinConv1OutChannels is how many filters the hardware conv engine loads.
const MinConv1OutChannels = 8

// Conv1Candidates are the conventional names of a first convolution weight,
// tried in order.
var Conv1Candidates = []string{
	"conv1.weight",
	"features.0.weight",
	"model.conv1.weight",
	"net.conv1.weight",
	"cnn.0.weight",
}

// stateDictWrappers are sub-mapping keys that commonly hold the parameters.
var stateDictWrappers = []string{"state_dict", "model_state_dict"}

const flatStateDictPrefix = "state_dict."

// StateDict unwraps one level of common checkpoint wrapping: a "state_dict"
// (or "model_state_dict") sub-mapping, or keys flattened under a
// "state_dict." prefix. A mapping that already holds tensors is returned
// as is.
func StateDict(ckpt *Mapping) (*Mapping, error) {
	for _, key := range stateDictWrappers {
		if sub, ok := ckpt.Sub(key); ok {
			return sub, nil
		}
	}
	prefixed := false
	ckpt.Each(func(k string, _ any) bool {
		prefixed = strings.HasPrefix(k, flatStateDictPrefix)
		return !prefixed
	})
	if prefixed {
		return ckpt.TrimPrefix(flatStateDictPrefix), nil
	}
	if ckpt.HasTensor() {
		return ckpt, nil
	}
	return nil, ErrNoStateDict
}

// Match is a located tensor and why it was chosen.
type Match struct {
	Key    string
	Tensor *tensor.Tensor
	Reason string
}

// FindConv1 looks for the first convolution weight. Named candidates win;
// otherwise the first rank-4 tensor with one input channel and a kernel
// between 3x3 and 7x7 is taken, in mapping order. The second return value
// is false when nothing qualifies, in which case Reason explains the miss.
func FindConv1(sd *Mapping) (Match, bool) {
	for _, key := range Conv1Candidates {
		if t, ok := sd.Tensor(key); ok {
			return Match{Key: key, Tensor: t, Reason: "conventional name " + key}, true
		}
	}

	var m Match
	found := false
	rank4 := 0
	sd.Each(func(k string, v any) bool {
		t, ok := v.(*tensor.Tensor)
		if !ok || t.Rank() != 4 {
			return true
		}
		rank4++
		if isGrayscaleKernel(t) {
			m = Match{Key: k, Tensor: t, Reason: fmt.Sprintf("first rank-4 tensor with shape %v", t.Shape())}
			found = true
			return false
		}
		return true
	})
	if !found {
		return Match{Reason: fmt.Sprintf(
			"no conventional conv1 key and none of %d rank-4 tensors has 1 input channel and a 3..7 kernel (%d keys searched)",
			rank4, sd.Len())}, false
	}
	return m, true
}

func isGrayscaleKernel(t *tensor.Tensor) bool {
	kh, kw := t.Dim(2), t.Dim(3)
	return t.Dim(1) == 1 && kh >= 3 && kh <= 7 && kw >= 3 && kw <= 7
}

// LocateConv1Weight unwraps ckpt, finds the first convolution weight and
// checks that it is a single-input-channel kernel with enough filters.
func LocateConv1Weight(ckpt *Mapping) (Match, error) {
	sd, err := StateDict(ckpt)
	if err != nil {
		return Match{}, err
	}
	m, ok := FindConv1(sd)
	if !ok {
		return Match{}, fmt.Errorf("%w: %s", ErrKeyNotFound, m.Reason)
	}
	if m.Tensor.Rank() != 4 {
		return Match{}, fmt.Errorf("%w: %s has shape %v, want [out, in, kh, kw]", ErrUnsupportedShape, m.Key, m.Tensor.Shape())
	}
	if in := m.Tensor.Dim(1); in != 1 {
		return Match{}, fmt.Errorf("%w: %s in_channels=%d, need 1 (grayscale)", ErrUnsupportedShape, m.Key, in)
	}
	if out := m.Tensor.Dim(0); out < MinConv1OutChannels {
		return Match{}, fmt.Errorf("%w: %s out_channels=%d, need at least %d", ErrUnsupportedShape, m.Key, out, MinConv1OutChannels)
	}
	return m, nil
}

// Linear is a located fully-connected layer.
type Linear struct {
	WeightKey string
	BiasKey   string
	Weight    *tensor.Tensor
	Bias      *tensor.Tensor
}

// LinearCandidates are the conventional prefixes of the classifier layer.
var LinearCandidates = []string{"fc", "classifier", "linear", "fc2", "out", "head"}

// FindLinear locates a fully-connected layer of shape [out, in] and its bias
// of shape [out]. Named candidates win; otherwise the first rank-2 tensor of
// the right shape that has a matching sibling ".bias" is taken.
func FindLinear(ckpt *Mapping, out, in int) (Linear, error) {
	sd, err := StateDict(ckpt)
	if err != nil {
		return Linear{}, err
	}
	try := func(prefix string) (Linear, bool) {
		w, ok := sd.Tensor(prefix + ".weight")
		if !ok || w.Rank() != 2 || w.Dim(0) != out || w.Dim(1) != in {
			return Linear{}, false
		}
		b, ok := sd.Tensor(prefix + ".bias")
		if !ok || b.Rank() != 1 || b.Dim(0) != out {
			return Linear{}, false
		}
		return Linear{WeightKey: prefix + ".weight", BiasKey: prefix + ".bias", Weight: w, Bias: b}, true
	}
	for _, p := range LinearCandidates {
		if l, ok := try(p); ok {
			return l, nil
		}
	}
	var l Linear
	found := false
	sd.Each(func(k string, _ any) bool {
		prefix, ok := strings.CutSuffix(k, ".weight")
		if !ok {
			return true
		}
		l, found = try(prefix)
		return !found
	})
	if !found {
		return Linear{}, fmt.Errorf("%w: no [%d %d] linear layer with bias", ErrKeyNotFound, out, in)
	}
	return l, nil
}
