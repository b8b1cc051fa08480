package pyramid

import (
	"fmt"
	"image"
	"time"

	"golang.org/x/image/draw"
)

// LevelRaster is the full canvas of one zoom level. It is produced by
// Rasterize, read concurrently by the tile tasks of that level and released
// before the next level starts.
type LevelRaster struct {
	Level ZoomLevel
	img   *image.RGBA
}

// Bounds returns the canvas rectangle, origin at 0,0
func (r *LevelRaster) Bounds() image.Rectangle {
	if r.img == nil {
		return image.Rectangle{}
	}
	return r.img.Bounds()
}

// Image returns the canvas; nil after Release
func (r *LevelRaster) Image() *image.RGBA {
	return r.img
}

// Release drops the pixel buffer
func (r *LevelRaster) Release() {
	r.img = nil
}

// Rasterize resamples the original source straight to the level's canvas.
// Levels are never derived from each other.
func Rasterize(src *SourceImage, level ZoomLevel, interp draw.Interpolator, timeout time.Duration) (*LevelRaster, error) {
	if level.ScaledWidth <= 0 || level.ScaledHeight <= 0 {
		return nil, newError(ErrResize, "rasterize", "",
			fmt.Errorf("zoom %d: invalid target size %dx%d", level.Z, level.ScaledWidth, level.ScaledHeight))
	}
	if src == nil || src.img == nil {
		return nil, newError(ErrResize, "rasterize", "", fmt.Errorf("zoom %d: no source image", level.Z))
	}

	return bounded(timeout, ErrResize, "rasterize", "", func() (*LevelRaster, error) {
		dst := image.NewRGBA(image.Rect(0, 0, level.ScaledWidth, level.ScaledHeight))
		sb := src.img.Bounds()
		if sb.Dx() == level.ScaledWidth && sb.Dy() == level.ScaledHeight {
			draw.Draw(dst, dst.Bounds(), src.img, sb.Min, draw.Src)
		} else {
			interp.Scale(dst, dst.Bounds(), src.img, sb, draw.Src, nil)
		}
		return &LevelRaster{Level: level, img: dst}, nil
	})
}
