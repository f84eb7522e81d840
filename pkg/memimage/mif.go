package memimage

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Image is an addressed memory block as described by a MIF file.
//
// Words holds the populated addresses 0..len(Words)-1, already masked to
// Width bits. Every address from len(Words) to Depth-1 takes Fill.
type Image struct {
	Depth    int
	Width    int
	Words    []uint64
	Fill     uint64
	Comments []string
}

// NewImage masks signed values into a Depth×Width image with a zero fill.
func NewImage(depth, width int, values []int64) (*Image, error) {
	if err := checkWidth(width); err != nil {
		return nil, err
	}
	if depth <= 0 || len(values) > depth {
		return nil, fmt.Errorf("%w: %d values, depth %d", ErrDepthExceeded, len(values), depth)
	}
	words := make([]uint64, len(values))
	for i, v := range values {
		words[i] = uint64(v) & mask(width)
	}
	return &Image{Depth: depth, Width: width, Words: words}, nil
}

// Signed returns the populated words sign-extended from Width bits.
func (img *Image) Signed() []int64 {
	shift := 64 - img.Width
	out := make([]int64, len(img.Words))
	for i, w := range img.Words {
		out[i] = int64(w<<shift) >> shift
	}
	return out
}

func addrWidth(depth int) int {
	return max(3, len(strconv.Itoa(depth-1)))
}

// EncodeMIF writes img in MIF grammar with decimal addresses and hex data:
//
//	DEPTH = 512;
//	WIDTH = 8;
//	ADDRESS_RADIX = DEC;
//	DATA_RADIX = HEX;
//	CONTENT BEGIN
//	    0 : 7F;
//	  [200..511] : 00;
//	END;
//
// Comments are emitted first as `--` lines and carry no data.
func EncodeMIF(w io.Writer, img *Image) error {
	if err := checkWidth(img.Width); err != nil {
		return err
	}
	if img.Depth <= 0 || len(img.Words) > img.Depth {
		return fmt.Errorf("%w: %d words, depth %d", ErrDepthExceeded, len(img.Words), img.Depth)
	}

	bw := bufio.NewWriter(w)
	for _, c := range img.Comments {
		_, _ = fmt.Fprintf(bw, "-- %s\n", c)
	}
	if len(img.Comments) > 0 {
		_ = bw.WriteByte('\n')
	}
	_, _ = fmt.Fprintf(bw, "DEPTH = %d;\nWIDTH = %d;\nADDRESS_RADIX = DEC;\nDATA_RADIX = HEX;\nCONTENT BEGIN\n",
		img.Depth, img.Width)

	aw := addrWidth(img.Depth)
	m := mask(img.Width)
	digits := HexDigits(img.Width)
	for addr, word := range img.Words {
		_, _ = fmt.Fprintf(bw, "  %*d : %0*X;\n", aw, addr, digits, word&m)
	}
	// A full image has nothing left to fill: explicit records alone cover DEPTH.
	if n := len(img.Words); n < img.Depth {
		_, _ = fmt.Fprintf(bw, "  [%d..%d] : %0*X;\n", n, img.Depth-1, digits, img.Fill&m)
	}
	_, _ = bw.WriteString("END;\n")
	return bw.Flush()
}

// Decoded is a parsed MIF file. Words covers every address up to Depth-1.
type Decoded struct {
	Image
	// Explicit counts addresses assigned by single-address records.
	Explicit int
	// Filled counts addresses assigned by [a..b] range records.
	Filled int
}

// MaxDepth bounds the DEPTH a decoded file may declare.
const MaxDepth = 1 << 24

type mifParser struct {
	depth, width int
	addrRadix    int
	dataRadix    int
	dataSigned   bool
}

// DecodeMIF parses MIF text. Every address in [0, DEPTH) must be assigned
// exactly once, either by a single record or a range record.
func DecodeMIF(r io.Reader) (*Decoded, error) {
	p := mifParser{addrRadix: 10, dataRadix: 16}
	var (
		comments []string
		words    []uint64
		set      []bool
		out      Decoded
		inBody   bool
		pending  bool // CONTENT seen, waiting for BEGIN
		ended    bool
	)

	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(text, "--") {
			if !inBody && !pending {
				comments = append(comments, strings.TrimSpace(strings.TrimPrefix(text, "--")))
			}
			continue
		}
		if i := strings.Index(text, "--"); i >= 0 {
			text = strings.TrimSpace(text[:i])
		}
		if text == "" {
			continue
		}
		if ended {
			return nil, fmt.Errorf("%w: line %d: content after END", ErrMalformed, line)
		}

		upper := strings.ToUpper(text)
		switch {
		case !inBody && !pending:
			if strings.HasPrefix(upper, "CONTENT") {
				rest := strings.TrimSpace(upper[len("CONTENT"):])
				switch rest {
				case "":
					pending = true
				case "BEGIN":
					inBody = true
				default:
					return nil, fmt.Errorf("%w: line %d: %q", ErrMalformed, line, text)
				}
				if err := p.validate(); err != nil {
					return nil, err
				}
				words = make([]uint64, p.depth)
				set = make([]bool, p.depth)
				continue
			}
			if err := p.header(upper, line); err != nil {
				return nil, err
			}
		case pending:
			if upper != "BEGIN" {
				return nil, fmt.Errorf("%w: line %d: expected BEGIN, got %q", ErrMalformed, line, text)
			}
			pending = false
			inBody = true
		default:
			if upper == "END;" || upper == "END" {
				ended = true
				continue
			}
			explicit, filled, err := p.record(text, line, words, set)
			if err != nil {
				return nil, err
			}
			out.Explicit += explicit
			out.Filled += filled
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if !ended {
		return nil, fmt.Errorf("%w: missing END", ErrMalformed)
	}
	for addr, ok := range set {
		if !ok {
			return nil, fmt.Errorf("%w: address %d not assigned (depth %d)", ErrMalformed, addr, p.depth)
		}
	}

	out.Image = Image{Depth: p.depth, Width: p.width, Words: words, Comments: comments}
	return &out, nil
}

func (p *mifParser) header(upper string, line int) error {
	key, val, ok := strings.Cut(strings.TrimSuffix(upper, ";"), "=")
	if !ok || !strings.HasSuffix(upper, ";") {
		return fmt.Errorf("%w: line %d: bad header %q", ErrMalformed, line, upper)
	}
	key, val = strings.TrimSpace(key), strings.TrimSpace(val)
	switch key {
	case "DEPTH", "WIDTH":
		n, err := strconv.Atoi(val)
		if err != nil || n <= 0 {
			return fmt.Errorf("%w: line %d: %s = %q", ErrMalformed, line, key, val)
		}
		if key == "DEPTH" {
			p.depth = n
		} else {
			p.width = n
		}
	case "ADDRESS_RADIX":
		base, _, err := radix(val)
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		p.addrRadix = base
	case "DATA_RADIX":
		base, signed, err := radix(val)
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		p.dataRadix, p.dataSigned = base, signed
	default:
		return fmt.Errorf("%w: line %d: unknown header %q", ErrMalformed, line, key)
	}
	return nil
}

func (p *mifParser) validate() error {
	if p.depth <= 0 {
		return fmt.Errorf("%w: DEPTH not declared", ErrMalformed)
	}
	if p.depth > MaxDepth {
		return fmt.Errorf("%w: DEPTH %d above %d", ErrMalformed, p.depth, MaxDepth)
	}
	return checkWidth(p.width)
}

func radix(v string) (base int, signed bool, err error) {
	switch v {
	case "HEX":
		return 16, false, nil
	case "DEC":
		return 10, true, nil
	case "UNS":
		return 10, false, nil
	case "OCT":
		return 8, false, nil
	case "BIN":
		return 2, false, nil
	}
	return 0, false, fmt.Errorf("%w: unsupported radix %q", ErrMalformed, v)
}

// record parses `addr : v [v ...];` or `[lo..hi] : v;`.
func (p *mifParser) record(text string, line int, words []uint64, set []bool) (explicit, filled int, err error) {
	if !strings.HasSuffix(text, ";") {
		return 0, 0, fmt.Errorf("%w: line %d: record missing ';'", ErrMalformed, line)
	}
	lhs, rhs, ok := strings.Cut(strings.TrimSuffix(text, ";"), ":")
	if !ok {
		return 0, 0, fmt.Errorf("%w: line %d: record missing ':'", ErrMalformed, line)
	}
	lhs = strings.TrimSpace(lhs)
	vals := strings.Fields(rhs)
	if len(vals) == 0 {
		return 0, 0, fmt.Errorf("%w: line %d: record without data", ErrMalformed, line)
	}

	assign := func(addr int, raw string) error {
		if addr < 0 || addr >= len(words) {
			return fmt.Errorf("%w: line %d: address %d outside depth %d", ErrMalformed, line, addr, len(words))
		}
		if set[addr] {
			return fmt.Errorf("%w: line %d: address %d assigned twice", ErrMalformed, line, addr)
		}
		w, err := p.word(raw)
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		words[addr], set[addr] = w, true
		return nil
	}

	if strings.HasPrefix(lhs, "[") && strings.HasSuffix(lhs, "]") {
		lo, hi, ok := strings.Cut(lhs[1:len(lhs)-1], "..")
		if !ok || len(vals) != 1 {
			return 0, 0, fmt.Errorf("%w: line %d: bad range %q", ErrMalformed, line, lhs)
		}
		a, err1 := strconv.ParseInt(strings.TrimSpace(lo), p.addrRadix, 64)
		b, err2 := strconv.ParseInt(strings.TrimSpace(hi), p.addrRadix, 64)
		if err1 != nil || err2 != nil || b < a {
			return 0, 0, fmt.Errorf("%w: line %d: bad range %q", ErrMalformed, line, lhs)
		}
		for addr := a; addr <= b; addr++ {
			if err := assign(int(addr), vals[0]); err != nil {
				return 0, 0, err
			}
		}
		return 0, int(b - a + 1), nil
	}

	start, err := strconv.ParseInt(lhs, p.addrRadix, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: line %d: bad address %q", ErrMalformed, line, lhs)
	}
	for i, v := range vals {
		if err := assign(int(start)+i, v); err != nil {
			return 0, 0, err
		}
	}
	return len(vals), 0, nil
}

func (p *mifParser) word(raw string) (uint64, error) {
	m := mask(p.width)
	if p.dataSigned {
		v, err := strconv.ParseInt(raw, p.dataRadix, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: data %q: %v", ErrMalformed, raw, err)
		}
		return uint64(v) & m, nil
	}
	u, err := strconv.ParseUint(raw, p.dataRadix, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: data %q: %v", ErrMalformed, raw, err)
	}
	if u&^m != 0 {
		return 0, fmt.Errorf("%w: data %q wider than %d bits", ErrMalformed, raw, p.width)
	}
	return u, nil
}
