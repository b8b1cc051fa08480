package pyramid

import (
	"os"
	"path/filepath"
	"time"

	"github.com/kiesman99/pyramid/pkg/tile"
)

// Writer encodes tiles and persists them under <root>/<z>/<x>_<y>.<ext>
type Writer struct {
	root    string
	enc     *tile.Encoder
	timeout time.Duration
}

// NewWriter creates a tile writer rooted at root
func NewWriter(root string, f tile.Format, quality int, timeout time.Duration) *Writer {
	return &Writer{
		root:    root,
		enc:     tile.NewEncoder(f, quality),
		timeout: timeout,
	}
}

// Format returns the tile encoding
func (w *Writer) Format() tile.Format {
	return w.enc.Format
}

// Path returns where the tile at c is stored
func (w *Writer) Path(c tile.Coord) string {
	return c.Path(w.root, w.enc.Format)
}

// EnsureDir creates the directory of zoom level z. Safe to call repeatedly.
func (w *Writer) EnsureDir(z int) error {
	dir := tile.ZoomDir(w.root, z)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return newError(ErrIO, "mkdir", dir, err)
	}
	return nil
}

// Write encodes t fully in memory, then stores it with a temp file and
// rename so readers never observe a partial tile.
func (w *Writer) Write(t Tile) (string, error) {
	path := w.Path(t.Coord)

	data, err := bounded(w.timeout, ErrEncode, "encode", path, func() ([]byte, error) {
		b, err := w.enc.EncodeBytes(t.Pixels)
		if err != nil {
			return nil, newError(ErrEncode, "encode", path, err)
		}
		return b, nil
	})
	if err != nil {
		return path, err
	}

	_, err = bounded(w.timeout, ErrIO, "write", path, func() (struct{}, error) {
		return struct{}{}, writeAtomic(path, data)
	})
	return path, err
}

// writeAtomic replaces path with data via a sibling temp file
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return newError(ErrIO, "write", path, err)
	}
	tmp := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return newError(ErrIO, "write", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return newError(ErrIO, "write", path, err)
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		os.Remove(tmp)
		return newError(ErrIO, "write", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return newError(ErrIO, "write", path, err)
	}
	return nil
}
