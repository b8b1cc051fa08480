package pyramid

import (
	"path/filepath"

	"github.com/goccy/go-json"
)

// ManifestName is written at the output root next to the zoom directories
const ManifestName = "manifest.json"

// Manifest tells a viewer how to address the pyramid
type Manifest struct {
	Width    int         `json:"width"`
	Height   int         `json:"height"`
	TileSize int         `json:"tile_size"`
	MaxZoom  int         `json:"max_zoom"`
	Format   string      `json:"format"`
	Path     string      `json:"path"`
	Levels   []ZoomLevel `json:"levels"`
}

// NewManifest describes plan encoded as format
func NewManifest(plan Plan, format string) Manifest {
	return Manifest{
		Width:    plan.Width,
		Height:   plan.Height,
		TileSize: plan.TileSize,
		MaxZoom:  plan.MaxZoom,
		Format:   format,
		Path:     "{z}/{x}_{y}." + format,
		Levels:   plan.Levels,
	}
}

// WriteManifest stores m as <root>/manifest.json
func WriteManifest(root string, m Manifest) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return newError(ErrEncode, "manifest", root, err)
	}
	return writeAtomic(filepath.Join(root, ManifestName), append(b, '\n'))
}
