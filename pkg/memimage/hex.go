package memimage

import (
	"fmt"
	"strconv"
)

func checkWidth(bits int) error {
	if bits < 1 || bits > 64 {
		return fmt.Errorf("%w: %d", ErrInvalidWidth, bits)
	}
	return nil
}

// HexDigits is the fixed digit count used for a value of the given width.
func HexDigits(bits int) int {
	return (bits + 3) / 4
}

func mask(bits int) uint64 {
	if bits == 64 {
		return ^uint64(0)
	}
	return uint64(1)<<bits - 1
}

// EncodeHex returns the two's-complement bit pattern of v masked to bits,
// as fixed-width uppercase hex.
func EncodeHex(v int64, bits int) string {
	return fmt.Sprintf("%0*X", HexDigits(bits), uint64(v)&mask(bits))
}

// DecodeHex parses a hex field and sign-extends it from bits.
func DecodeHex(s string, bits int) (int64, error) {
	u, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: hex value %q: %v", ErrMalformed, s, err)
	}
	if u&^mask(bits) != 0 {
		return 0, fmt.Errorf("%w: hex value %q wider than %d bits", ErrMalformed, s, bits)
	}
	shift := 64 - bits
	return int64(u<<shift) >> shift, nil
}
