package pyramid

import (
	"fmt"
	"image"
	"math/bits"

	"github.com/kiesman99/pyramid/pkg/tile"
)

// ZoomLevel is one resolution tier of the pyramid
type ZoomLevel struct {
	Z            int `json:"z"`
	ScaleFactor  int `json:"scale_factor"`
	ScaledWidth  int `json:"width"`
	ScaledHeight int `json:"height"`
	Cols         int `json:"cols"`
	Rows         int `json:"rows"`
}

// Tiles returns the number of grid cells of the level
func (l ZoomLevel) Tiles() int {
	return l.Cols * l.Rows
}

// Plan is the ordered list of zoom levels, coarsest first
type Plan struct {
	Width    int         `json:"width"`
	Height   int         `json:"height"`
	TileSize int         `json:"tile_size"`
	MaxZoom  int         `json:"max_zoom"`
	Levels   []ZoomLevel `json:"levels"`
}

// MaxZoom returns ceil(log2(max(width,height)/tileSize)) clamped to >= 0.
// Computed in integers: the smallest z with tileSize<<z >= max(width,height).
func MaxZoom(width, height, tileSize int) int {
	longest := max(width, height)
	if longest <= tileSize {
		return 0
	}
	// ceil(longest/tileSize) then ceil(log2(.)) of that quotient
	q := ceilDiv(longest, tileSize)
	return bits.Len(uint(q - 1))
}

// NewPlan computes every zoom level for a width x height source
func NewPlan(width, height, tileSize int) (Plan, error) {
	if tileSize <= 0 {
		return Plan{}, configErrorf("tile size must be positive, got %d", tileSize)
	}
	if width <= 0 || height <= 0 {
		return Plan{}, newError(ErrDecode, "plan", "", fmt.Errorf("invalid source dimensions %dx%d", width, height))
	}

	maxZoom := MaxZoom(width, height, tileSize)
	p := Plan{
		Width:    width,
		Height:   height,
		TileSize: tileSize,
		MaxZoom:  maxZoom,
		Levels:   make([]ZoomLevel, 0, maxZoom+1),
	}
	for z := 0; z <= maxZoom; z++ {
		scale := 1 << (maxZoom - z)
		sw := ceilDiv(width, scale)
		sh := ceilDiv(height, scale)
		p.Levels = append(p.Levels, ZoomLevel{
			Z:            z,
			ScaleFactor:  scale,
			ScaledWidth:  sw,
			ScaledHeight: sh,
			Cols:         ceilDiv(sw, tileSize),
			Rows:         ceilDiv(sh, tileSize),
		})
	}
	return p, nil
}

// TotalTiles is the number of tiles across all levels
func (p Plan) TotalTiles() int {
	n := 0
	for _, l := range p.Levels {
		n += l.Tiles()
	}
	return n
}

// Level returns the level with index z
func (p Plan) Level(z int) (ZoomLevel, bool) {
	if z < 0 || z >= len(p.Levels) {
		return ZoomLevel{}, false
	}
	return p.Levels[z], true
}

// Locate maps fractional source coordinates, as stored with a pin
// (x_pct, y_pct in [0,1]), to the tile containing them at zoom z and the
// pixel offset inside that tile.
func (p Plan) Locate(z int, xPct, yPct float64) (tile.Coord, image.Point, error) {
	l, ok := p.Level(z)
	if !ok {
		return tile.Coord{}, image.Point{}, fmt.Errorf("zoom %d outside 0..%d", z, p.MaxZoom)
	}
	// written as a range test so NaN is rejected too
	if !(xPct >= 0 && xPct <= 1) || !(yPct >= 0 && yPct <= 1) {
		return tile.Coord{}, image.Point{}, fmt.Errorf("position (%g, %g) outside [0,1]", xPct, yPct)
	}
	// the far edge belongs to the last pixel
	px := min(int(xPct*float64(l.ScaledWidth)), l.ScaledWidth-1)
	py := min(int(yPct*float64(l.ScaledHeight)), l.ScaledHeight-1)
	c := tile.Coord{Z: z, X: px / p.TileSize, Y: py / p.TileSize}
	return c, image.Pt(px%p.TileSize, py%p.TileSize), nil
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
