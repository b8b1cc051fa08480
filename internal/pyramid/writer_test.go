package pyramid

import (
	"errors"
	"image"
	"image/color"
	_ "image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/kiesman99/pyramid/pkg/tile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blankTile(c tile.Coord) Tile {
	img := image.NewRGBA(image.Rect(0, 0, 256, 256))
	for i := range img.Pix {
		img.Pix[i] = 0x80
	}
	return Tile{Coord: c, Pixels: img}
}

func TestWriter_WritesAtDeterministicPath(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(root, tile.FormatJPEG, 90, 0)
	require.NoError(t, w.EnsureDir(3))
	require.NoError(t, w.EnsureDir(3))

	path, err := w.Write(blankTile(tile.Coord{Z: 3, X: 2, Y: 5}))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "3", "2_5.jpg"), path)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	cfg, format, err := image.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 256, cfg.Width)
	assert.Equal(t, 256, cfg.Height)

	// no temp files left behind
	entries, err := os.ReadDir(filepath.Join(root, "3"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "2_5.jpg", entries[0].Name())
}

func TestWriter_PNGKeepsTransparency(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(root, tile.FormatPNG, 0, 0)
	require.NoError(t, w.EnsureDir(0))

	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.SetRGBA(0, 0, color.RGBA{R: 10, A: 255})
	path, err := w.Write(Tile{Coord: tile.Coord{}, Pixels: img})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "0", "0_0.png"), path)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	got, _, err := image.Decode(f)
	require.NoError(t, err)
	_, _, _, a := got.At(3, 3).RGBA()
	assert.Zero(t, a)
}

func TestWriter_FailureIsIO(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(root, tile.FormatJPEG, 90, 0)

	// level directory never created
	_, err := w.Write(blankTile(tile.Coord{Z: 1}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIO))
}

func TestWriter_EnsureDirOverFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "0"), nil, 0o644))

	err := NewWriter(root, tile.FormatJPEG, 90, 0).EnsureDir(0)
	assert.True(t, errors.Is(err, ErrIO))
}
