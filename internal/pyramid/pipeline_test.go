package pyramid

import (
	"bytes"
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/draw"
)

func TestRun_Wide300x100(t *testing.T) {
	cfg := testConfig(t, writeSource(t, 300, 100))

	report, err := New(cfg).Run(context.Background())
	require.NoError(t, err)
	require.False(t, report.Failed())

	assert.Equal(t, []string{"0/0_0.jpg", "1/0_0.jpg", "1/1_0.jpg"}, tileFiles(t, cfg.OutputRoot))
	assert.Equal(t, 3, report.TilesWritten)
	assert.Zero(t, report.TilesFailed)
	require.Len(t, report.Levels, 2)
	for _, l := range report.Levels {
		assert.Equal(t, LevelCompleted, l.Status)
	}
	assert.Equal(t, 2, report.Levels[1].TilesPadded)

	for _, rel := range tileFiles(t, cfg.OutputRoot) {
		f, err := os.Open(filepath.Join(cfg.OutputRoot, rel))
		require.NoError(t, err)
		ic, _, err := image.DecodeConfig(f)
		f.Close()
		require.NoError(t, err)
		assert.Equal(t, 256, ic.Width, rel)
		assert.Equal(t, 256, ic.Height, rel)
	}
}

func TestRun_SingleTile(t *testing.T) {
	cfg := testConfig(t, writeSource(t, 256, 256))

	report, err := New(cfg).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"0/0_0.jpg"}, tileFiles(t, cfg.OutputRoot))
	require.Len(t, report.Levels, 1)
	assert.Zero(t, report.Levels[0].TilesPadded)
}

func TestRun_ManifestAndDeterministicLayout(t *testing.T) {
	src := writeSource(t, 1000, 800)
	a := testConfig(t, src)
	b := testConfig(t, src)
	b.Concurrency = 1

	ra, err := New(a).Run(context.Background())
	require.NoError(t, err)
	rb, err := New(b).Run(context.Background())
	require.NoError(t, err)

	files := tileFiles(t, a.OutputRoot)
	assert.Len(t, files, 21)
	assert.Equal(t, files, tileFiles(t, b.OutputRoot))
	assert.Equal(t, ra.TilesWritten, rb.TilesWritten)

	raw, err := os.ReadFile(filepath.Join(a.OutputRoot, ManifestName))
	require.NoError(t, err)
	var m Manifest
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, 1000, m.Width)
	assert.Equal(t, 800, m.Height)
	assert.Equal(t, 2, m.MaxZoom)
	assert.Equal(t, "jpg", m.Format)
	assert.Equal(t, "{z}/{x}_{y}.jpg", m.Path)
	assert.Len(t, m.Levels, 3)
}

func TestRun_PNGFormat(t *testing.T) {
	cfg := testConfig(t, writeSource(t, 300, 100))
	cfg.Format = "png"
	cfg.WriteManifest = false

	_, err := New(cfg).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"0/0_0.png", "1/0_0.png", "1/1_0.png"}, tileFiles(t, cfg.OutputRoot))
	assert.NoFileExists(t, filepath.Join(cfg.OutputRoot, ManifestName))
}

func TestRun_MissingSourceAbortsWithDecodeError(t *testing.T) {
	cfg := testConfig(t, filepath.Join(t.TempDir(), "missing.jpg"))

	report, err := New(cfg).Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDecode))
	assert.True(t, report.Failed())
	assert.True(t, errors.Is(report.FatalErr(), ErrDecode))
	assert.Empty(t, report.Levels)
	assert.Empty(t, tileFiles(t, cfg.OutputRoot))
	assert.Contains(t, report.Summary(), "FAILED")
}

func TestRun_ConfigError(t *testing.T) {
	cfg := testConfig(t, writeSource(t, 10, 10))
	cfg.TileSize = 0

	report, err := New(cfg).Run(context.Background())
	assert.True(t, errors.Is(err, ErrConfig))
	assert.True(t, report.Failed())
	assert.Empty(t, tileFiles(t, cfg.OutputRoot))
}

func TestRun_TileFailureDoesNotStopSiblings(t *testing.T) {
	cfg := testConfig(t, writeSource(t, 300, 100))

	// a non-empty directory where a tile should go makes that rename fail
	blocker := filepath.Join(cfg.OutputRoot, "1", "1_0.jpg")
	require.NoError(t, os.MkdirAll(filepath.Join(blocker, "x"), 0o755))

	report, err := New(cfg).Run(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Failed())
	assert.Equal(t, 2, report.TilesWritten)
	assert.Equal(t, 1, report.TilesFailed)

	l1 := report.Levels[1]
	assert.Equal(t, LevelCompleted, l1.Status)
	require.Len(t, l1.Failures, 1)
	assert.Equal(t, blocker, l1.Failures[0].Path)
	assert.Equal(t, "io", l1.Failures[0].Kind)
	assert.True(t, errors.Is(report.Err(), ErrIO))
	assert.Contains(t, report.Summary(), "WARNINGS")

	assert.FileExists(t, filepath.Join(cfg.OutputRoot, "1", "0_0.jpg"))
	assert.FileExists(t, filepath.Join(cfg.OutputRoot, "0", "0_0.jpg"))
}

func TestRun_LevelFailureContinues(t *testing.T) {
	cfg := testConfig(t, writeSource(t, 1000, 800))
	g := New(cfg)
	g.rasterize = func(src *SourceImage, l ZoomLevel, ip draw.Interpolator, d time.Duration) (*LevelRaster, error) {
		if l.Z == 1 {
			return nil, newError(ErrResize, "rasterize", "", errors.New("injected"))
		}
		return Rasterize(src, l, ip, d)
	}

	report, err := g.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Failed())
	assert.Equal(t, LevelCompleted, report.Levels[0].Status)
	assert.Equal(t, LevelFailed, report.Levels[1].Status)
	assert.Equal(t, LevelCompleted, report.Levels[2].Status)
	assert.Contains(t, report.Levels[1].Error, "injected")
	assert.True(t, errors.Is(report.Err(), ErrResize))
	assert.Equal(t, 17, report.TilesWritten)
	assert.NoDirExists(t, filepath.Join(cfg.OutputRoot, "1"))
}

func TestRun_EveryLevelFailing(t *testing.T) {
	cfg := testConfig(t, writeSource(t, 300, 100))
	g := New(cfg)
	g.rasterize = func(*SourceImage, ZoomLevel, draw.Interpolator, time.Duration) (*LevelRaster, error) {
		return nil, newError(ErrResize, "rasterize", "", errors.New("injected"))
	}

	report, err := g.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Failed())
	assert.Zero(t, report.LevelsCompleted())
	assert.NoFileExists(t, filepath.Join(cfg.OutputRoot, ManifestName))
}

func TestRun_CanceledBeforeStart(t *testing.T) {
	cfg := testConfig(t, writeSource(t, 300, 100))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := New(cfg).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, report.Canceled)
	assert.True(t, report.Failed())
	assert.Empty(t, tileFiles(t, cfg.OutputRoot))
	for _, l := range report.Levels {
		assert.Equal(t, LevelSkipped, l.Status)
	}
}

func TestRun_CanceledDuringLevel(t *testing.T) {
	cfg := testConfig(t, writeSource(t, 1000, 800))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g := New(cfg)
	g.rasterize = func(src *SourceImage, l ZoomLevel, ip draw.Interpolator, d time.Duration) (*LevelRaster, error) {
		if l.Z == 1 {
			cancel()
		}
		return Rasterize(src, l, ip, d)
	}

	report, err := g.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, report.Canceled)
	assert.True(t, report.Failed())
	require.Len(t, report.Levels, 3)

	assert.Equal(t, LevelCompleted, report.Levels[0].Status)
	assert.Equal(t, LevelFailed, report.Levels[1].Status)
	assert.Contains(t, report.Levels[1].Error, "level interrupted")
	assert.Zero(t, report.Levels[1].TilesWritten)
	assert.Equal(t, LevelSkipped, report.Levels[2].Status)

	assert.Equal(t, 1, report.TilesWritten)
	assert.Equal(t, []string{"0/0_0.jpg"}, tileFiles(t, cfg.OutputRoot))
	assert.NoFileExists(t, filepath.Join(cfg.OutputRoot, ManifestName))
	assert.Contains(t, report.Summary(), "CANCELED after 1 of 3 levels")
}

func TestRun_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	cfg := testConfig(t, writeSource(t, 300, 100))

	_, err := New(cfg, WithMetrics(m)).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.TilesWritten.WithLabelValues("0")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.TilesWritten.WithLabelValues("1")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.TilesPadded.WithLabelValues("1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("ok")))
	assert.Zero(t, testutil.ToFloat64(m.LevelsFailed))
}

func TestReport_JSON(t *testing.T) {
	cfg := testConfig(t, writeSource(t, 300, 100))
	report, err := New(cfg).Run(context.Background())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, report.WriteJSON(&buf))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, report.RunID, decoded["run_id"])
	assert.EqualValues(t, 3, decoded["tiles_written"])
	levels, ok := decoded["levels"].([]any)
	require.True(t, ok)
	require.Len(t, levels, 2)
	assert.Equal(t, "completed", levels[1].(map[string]any)["status"])
	assert.EqualValues(t, 2, levels[1].(map[string]any)["cols"])
}
