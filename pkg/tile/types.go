package tile

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// Format is the encoding used for every tile of a pyramid
type Format int

// Output format constants
const (
	FormatJPEG Format = iota
	FormatPNG
)

// ParseFormat maps a user supplied format name to a Format
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "jpg", "jpeg":
		return FormatJPEG, nil
	case "png":
		return FormatPNG, nil
	}
	return 0, fmt.Errorf("unknown tile format: %q", s)
}

// Ext returns the file extension without the leading dot
func (f Format) Ext() string {
	if f == FormatPNG {
		return "png"
	}
	return "jpg"
}

// ContentType returns the MIME type of encoded tiles
func (f Format) ContentType() string {
	if f == FormatPNG {
		return "image/png"
	}
	return "image/jpeg"
}

func (f Format) String() string {
	return f.Ext()
}

// Coord addresses one tile inside a pyramid.
// Z is zero-based from the coarsest level, X is the column and Y the row.
type Coord struct {
	Z, X, Y int
}

func (c Coord) String() string {
	return fmt.Sprintf("%d/%d_%d", c.Z, c.X, c.Y)
}

// Name returns the file name of the tile, e.g. "3_1.jpg"
func (c Coord) Name(f Format) string {
	return strconv.Itoa(c.X) + "_" + strconv.Itoa(c.Y) + "." + f.Ext()
}

// Path returns <root>/<z>/<x>_<y>.<ext>
func (c Coord) Path(root string, f Format) string {
	return filepath.Join(ZoomDir(root, c.Z), c.Name(f))
}

// ZoomDir returns the directory holding every tile of zoom level z
func ZoomDir(root string, z int) string {
	return filepath.Join(root, strconv.Itoa(z))
}
