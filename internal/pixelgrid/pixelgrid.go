// Package pixelgrid turns pictures and hand-written text grids into the 28x28
// grayscale frame the classifier reads from image.mif.
//
// Pixels follow MNIST polarity: 0 is background, 255 is ink.
package pixelgrid

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Size is the side length of the grid.
const Size = 28

var ErrGrid = errors.New("pixelgrid: malformed grid")

// Grid is a Size x Size row-major frame of 8-bit intensities.
type Grid struct {
	Pix [Size * Size]uint8
}

// Invert selects how picture polarity is handled on decode.
type Invert int

const (
	// InvertAuto inverts when the border is mostly bright, which is the usual
	// case for a dark digit scanned or drawn on paper.
	InvertAuto Invert = iota
	InvertNever
	InvertAlways
)

func (v Invert) String() string {
	switch v {
	case InvertAuto:
		return "auto"
	case InvertNever:
		return "never"
	case InvertAlways:
		return "always"
	}
	return fmt.Sprintf("Invert(%d)", int(v))
}

// ParseInvert accepts "auto", "never"/"no"/"false" and "always"/"yes"/"true".
func ParseInvert(s string) (Invert, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return InvertAuto, nil
	case "never", "no", "false":
		return InvertNever, nil
	case "always", "yes", "true":
		return InvertAlways, nil
	}
	return InvertAuto, fmt.Errorf("pixelgrid: unknown invert mode %q", s)
}

// At returns the pixel at row r, column c.
func (g *Grid) At(r, c int) uint8 { return g.Pix[r*Size+c] }

func (g *Grid) Set(r, c int, v uint8) { g.Pix[r*Size+c] = v }

// Stamp paints a 3x3 block of full ink centred on (r, c), clipped at the
// edges. This is the brush the drawing front end uses.
func (g *Grid) Stamp(r, c int) {
	for dr := -1; dr <= 1; dr++ {
		for dc := -1; dc <= 1; dc++ {
			rr, cc := r+dr, c+dc
			if rr >= 0 && rr < Size && cc >= 0 && cc < Size {
				g.Set(rr, cc, 255)
			}
		}
	}
}

// Invert flips every pixel in place.
func (g *Grid) Invert() {
	for i, v := range g.Pix {
		g.Pix[i] = 255 - v
	}
}

// Values widens the pixels in address order for the memory writer.
func (g *Grid) Values() []int64 {
	out := make([]int64, len(g.Pix))
	for i, v := range g.Pix {
		out[i] = int64(v)
	}
	return out
}

// Ink counts pixels above half intensity.
func (g *Grid) Ink() int {
	n := 0
	for _, v := range g.Pix {
		if v >= 128 {
			n++
		}
	}
	return n
}

// Comments is the informational header written above the MIF body.
func (g *Grid) Comments(now time.Time) []string {
	return []string{
		"Memory Initialization File for Pixel Data",
		"Generated: " + now.Format(time.DateTime),
		fmt.Sprintf("Size: %d pixels (%dx%d)", len(g.Pix), Size, Size),
	}
}

// String renders the grid as text art, one row per line.
func (g *Grid) String() string {
	const ramp = " .:-=+*#%@"
	var b strings.Builder
	for r := range Size {
		for c := range Size {
			b.WriteByte(ramp[int(g.At(r, c))*(len(ramp)-1)/255])
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// FromImage converts img to grayscale and resamples it to Size x Size.
func FromImage(img image.Image, inv Invert) *Grid {
	dst := image.NewGray(image.Rect(0, 0, Size, Size))
	src := img.Bounds()
	if src.Dx() == Size && src.Dy() == Size {
		draw.Draw(dst, dst.Bounds(), img, src.Min, draw.Src)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, src, draw.Src, nil)
	}

	g := &Grid{}
	copy(g.Pix[:], dst.Pix)
	switch inv {
	case InvertAlways:
		g.Invert()
	case InvertAuto:
		if g.borderMean() > 127 {
			g.Invert()
		}
	}
	return g
}

func (g *Grid) borderMean() int {
	sum, n := 0, 0
	for i := range Size {
		for _, p := range [][2]int{{0, i}, {Size - 1, i}, {i, 0}, {i, Size - 1}} {
			sum += int(g.At(p[0], p[1]))
			n++
		}
	}
	return sum / n
}

// Decode reads an encoded picture (PNG, JPEG, GIF, BMP, TIFF or WebP).
func Decode(r io.Reader, inv Invert) (*Grid, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("pixelgrid: decode image: %w", err)
	}
	return FromImage(img, inv), nil
}

// ParseText reads a text grid of Size non-blank lines. A line is either
// Size integers 0..255 separated by whitespace or commas, or Size
// characters where '.', ' ', '0' and '_' are background and anything else
// is full ink. A line starting with '#' is a comment unless it is exactly
// Size characters long, in which case it is an art row with ink in column 0.
func ParseText(data []byte) (*Grid, error) {
	g := &Grid{}
	row := 0
	for n, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" || isComment(line) {
			continue
		}
		if row == Size {
			return nil, fmt.Errorf("%w: line %d: more than %d rows", ErrGrid, n+1, Size)
		}
		if err := g.parseRow(row, line); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrGrid, n+1, err)
		}
		row++
	}
	if row != Size {
		return nil, fmt.Errorf("%w: %d rows, want %d", ErrGrid, row, Size)
	}
	return g, nil
}

func isComment(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "#") && len(line) != Size
}

func (g *Grid) parseRow(row int, line string) error {
	fields := strings.FieldsFunc(line, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	if len(fields) == Size {
		vals := make([]uint8, Size)
		numeric := true
		for i, f := range fields {
			v, err := strconv.ParseUint(f, 10, 8)
			if err != nil {
				numeric = false
				break
			}
			vals[i] = uint8(v)
		}
		if numeric {
			copy(g.Pix[row*Size:], vals)
			return nil
		}
	}

	if len(line) != Size {
		return fmt.Errorf("%d columns, want %d", len(line), Size)
	}
	for c := range Size {
		switch line[c] {
		case '.', ' ', '0', '_':
		default:
			g.Set(row, c, 255)
		}
	}
	return nil
}

// Load reads path as a text grid when it ends in .txt or .grid and as an
// encoded picture otherwise. Text grids are taken as drawn: inv applies to
// pictures only.
func Load(path string, inv Invert) (*Grid, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".grid":
		return ParseText(data)
	}
	return Decode(bytes.NewReader(data), inv)
}
