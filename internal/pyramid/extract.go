package pyramid

import (
	"image"
	"image/color"
	"iter"

	"github.com/kiesman99/pyramid/pkg/tile"
	"golang.org/x/image/draw"
)

// Tile is one tileSize x tileSize image of the pyramid
type Tile struct {
	tile.Coord
	Pixels   *image.RGBA
	IsPadded bool
}

// Cells yields every grid coordinate of a level, row by row
func Cells(level ZoomLevel) iter.Seq[tile.Coord] {
	return func(yield func(tile.Coord) bool) {
		for y := 0; y < level.Rows; y++ {
			for x := 0; x < level.Cols; x++ {
				if !yield(tile.Coord{Z: level.Z, X: x, Y: y}) {
					return
				}
			}
		}
	}
}

// Extractor slices a level raster into tiles. It only reads the raster, so
// one Extractor may serve many goroutines.
type Extractor struct {
	raster     *LevelRaster
	tileSize   int
	background *image.Uniform
}

// NewExtractor prepares tile extraction for one level raster
func NewExtractor(r *LevelRaster, tileSize int, background color.Color) *Extractor {
	return &Extractor{
		raster:     r,
		tileSize:   tileSize,
		background: image.NewUniform(background),
	}
}

// Extract copies the region of cell c into a fresh full-size tile. Cells on
// the right or bottom edge are padded with the background colour; content
// stays anchored at the tile's top-left and is never scaled.
func (e *Extractor) Extract(c tile.Coord) Tile {
	ts := e.tileSize
	lvl := e.raster.Level
	left, top := c.X*ts, c.Y*ts
	w := min(ts, lvl.ScaledWidth-left)
	h := min(ts, lvl.ScaledHeight-top)

	dst := image.NewRGBA(image.Rect(0, 0, ts, ts))
	padded := w < ts || h < ts
	if padded {
		draw.Draw(dst, dst.Bounds(), e.background, image.Point{}, draw.Src)
	}
	if w > 0 && h > 0 {
		draw.Draw(dst, image.Rect(0, 0, w, h), e.raster.img, image.Pt(left, top), draw.Src)
	}
	return Tile{Coord: c, Pixels: dst, IsPadded: padded}
}

// Tiles lazily extracts every tile of the level. Iterating again restarts
// from the first cell.
func (e *Extractor) Tiles() iter.Seq[Tile] {
	return func(yield func(Tile) bool) {
		for c := range Cells(e.raster.Level) {
			if !yield(e.Extract(c)) {
				return
			}
		}
	}
}
