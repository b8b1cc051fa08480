// Package pyramid converts one large raster into a slippy-map tile pyramid.
//
// A run probes the source, plans every zoom level from the coarsest (0) to
// native resolution (MaxZoom), then for each level resamples the original
// source once into a LevelRaster, slices it into tileSize x tileSize tiles
// and writes them as <root>/<z>/<x>_<y>.<ext>. Tiles of a level are written
// by a bounded worker pool; a failing tile never stops its siblings.
//
// Edge tiles smaller than tileSize are padded with Config.Background rather
// than stretched, so every file on disk has identical dimensions.
package pyramid
