package pyramid

import (
	"image"
	"image/color"
	"image/png"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"
)

// gradient returns a w x h image whose pixel (x,y) is (x%256, y%256, 7)
func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 7, A: 255})
		}
	}
	return img
}

// writeSource stores a gradient PNG in a temp dir and returns its path
func writeSource(t *testing.T, w, h int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, gradient(w, h)))
	require.NoError(t, f.Close())
	return path
}

func testConfig(t *testing.T, source string) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Source = source
	cfg.OutputRoot = filepath.Join(t.TempDir(), "tiles")
	cfg.Concurrency = 4
	return cfg
}

// tileFiles lists every tile below root relative to it, sorted
func tileFiles(t *testing.T, root string) []string {
	t.Helper()
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() == ManifestName {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	slices.Sort(files)
	return files
}
