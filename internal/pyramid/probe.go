package pyramid

import (
	"bufio"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"time"

	"github.com/kiesman99/pyramid/pkg/tile"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Metadata describes a source raster without decoding its pixels
type Metadata struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Format string `json:"format"`
}

// Probe reads the dimensions of the raster at path.
// Any failure is reported as ErrDecode.
func Probe(path string, timeout time.Duration) (Metadata, error) {
	return bounded(timeout, ErrDecode, "probe", path, func() (Metadata, error) {
		f, err := os.Open(path)
		if err != nil {
			return Metadata{}, newError(ErrDecode, "probe", path, err)
		}
		defer f.Close()

		br := bufio.NewReader(f)
		head, _ := br.Peek(12)
		if _, err := tile.Sniff(head); err != nil {
			return Metadata{}, newError(ErrDecode, "probe", path, err)
		}

		cfg, format, err := image.DecodeConfig(br)
		if err != nil {
			return Metadata{}, newError(ErrDecode, "probe", path, err)
		}
		if cfg.Width <= 0 || cfg.Height <= 0 {
			return Metadata{}, newError(ErrDecode, "probe", path,
				fmt.Errorf("invalid dimensions %dx%d", cfg.Width, cfg.Height))
		}
		return Metadata{Width: cfg.Width, Height: cfg.Height, Format: format}, nil
	})
}

// SourceImage is the decoded original raster. It is never mutated after Load.
type SourceImage struct {
	img    image.Image
	Width  int
	Height int
}

// Image returns the decoded raster
func (s *SourceImage) Image() image.Image {
	return s.img
}

// Load fully decodes the raster at path
func Load(path string, timeout time.Duration) (*SourceImage, error) {
	return bounded(timeout, ErrDecode, "load", path, func() (*SourceImage, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, newError(ErrDecode, "load", path, err)
		}
		defer f.Close()

		img, _, err := image.Decode(bufio.NewReader(f))
		if err != nil {
			return nil, newError(ErrDecode, "load", path, err)
		}
		b := img.Bounds()
		return &SourceImage{img: img, Width: b.Dx(), Height: b.Dy()}, nil
	})
}

// NewSourceImage wraps an already decoded raster
func NewSourceImage(img image.Image) *SourceImage {
	b := img.Bounds()
	return &SourceImage{img: img, Width: b.Dx(), Height: b.Dy()}
}
