package tile

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
)

// magic prefixes of the raster formats the decoder registry understands
var signatures = []struct {
	name  string
	magic []byte
}{
	{"png", []byte{0x89, 0x50, 0x4E, 0x47}},
	{"jpeg", []byte{0xFF, 0xD8}},
	{"gif", []byte("GIF8")},
	{"bmp", []byte("BM")},
	{"tiff", []byte{0x49, 0x49, 0x2A, 0x00}},
	{"tiff", []byte{0x4D, 0x4D, 0x00, 0x2A}},
}

// Sniff detects the raster format from the leading bytes of a file
func Sniff(head []byte) (string, error) {
	// RIFF....WEBP
	if len(head) >= 12 && bytes.Equal(head[:4], []byte("RIFF")) && bytes.Equal(head[8:12], []byte("WEBP")) {
		return "webp", nil
	}
	for _, s := range signatures {
		if bytes.HasPrefix(head, s.magic) {
			return s.name, nil
		}
	}
	return "", fmt.Errorf("unrecognized image format")
}

// Encoder turns a tile image into bytes of a fixed Format
type Encoder struct {
	Format  Format
	Quality int // JPEG only, 1-100
	png     png.Encoder
}

// NewEncoder creates an encoder for the given format and JPEG quality
func NewEncoder(f Format, quality int) *Encoder {
	return &Encoder{
		Format:  f,
		Quality: quality,
		png:     png.Encoder{CompressionLevel: png.BestSpeed},
	}
}

// Encode writes img to w
func (e *Encoder) Encode(w io.Writer, img image.Image) error {
	switch e.Format {
	case FormatPNG:
		return e.png.Encode(w, img)
	default:
		return jpeg.Encode(w, img, &jpeg.Options{Quality: e.Quality})
	}
}

// EncodeBytes buffers the whole encoded tile in memory
func (e *Encoder) EncodeBytes(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := e.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
