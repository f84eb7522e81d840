package memimage

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// EncodeFlat writes one fixed-width uppercase hex value per line. There is no
// header and no address column: the line number is the address.
func EncodeFlat(w io.Writer, values []int64, bits int) error {
	if err := checkWidth(bits); err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	for _, v := range values {
		if _, err := bw.WriteString(EncodeHex(v, bits)); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// DecodeFlat reads a flat hex file back into sign-extended integers. Blank
// lines and `//` comments are skipped, matching what $readmemh accepts.
func DecodeFlat(r io.Reader, bits int) ([]int64, error) {
	if err := checkWidth(bits); err != nil {
		return nil, err
	}
	var out []int64
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if i := strings.Index(text, "//"); i >= 0 {
			text = text[:i]
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if len(text) != HexDigits(bits) {
			return nil, fmt.Errorf("%w: line %d: %q is not %d hex digits", ErrMalformed, line, text, HexDigits(bits))
		}
		v, err := DecodeHex(text, bits)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, v)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
