package pyramid

import (
	"context"
	"errors"
	"image/color"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"
)

// Generator turns one source raster into a complete tile pyramid
type Generator struct {
	cfg     Config
	log     zerolog.Logger
	metrics *Metrics

	rasterize func(*SourceImage, ZoomLevel, draw.Interpolator, time.Duration) (*LevelRaster, error)
}

// Option customizes a Generator
type Option func(*Generator)

// WithLogger sets the logger; the default discards everything
func WithLogger(l zerolog.Logger) Option {
	return func(g *Generator) { g.log = l }
}

// WithMetrics records pipeline metrics
func WithMetrics(m *Metrics) Option {
	return func(g *Generator) { g.metrics = m }
}

// New creates a generator for cfg. cfg is validated by Run.
func New(cfg Config, opts ...Option) *Generator {
	g := &Generator{
		cfg:       cfg,
		log:       zerolog.Nop(),
		rasterize: Rasterize,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Run executes the whole pipeline: probe, plan, then each level in ascending
// zoom order. The returned report is never nil. The error is non-nil only for
// failures of the whole run (config, decode, cancellation); level and tile
// failures are reported in the Report.
func (g *Generator) Run(ctx context.Context) (*Report, error) {
	cfg := g.cfg
	report := &Report{
		RunID:      uuid.NewString(),
		Source:     cfg.Source,
		OutputRoot: cfg.OutputRoot,
		Format:     cfg.format().Ext(),
		Levels:     []LevelReport{},
		Started:    time.Now(),
	}
	log := g.log.With().Str("run_id", report.RunID).Logger()
	defer func() {
		report.Duration = time.Since(report.Started)
		g.metrics.runDone(report)
	}()

	fail := func(err error) (*Report, error) {
		report.setFatal(err)
		log.Error().Err(err).Str("kind", kindName(err)).Msg("run aborted")
		return report, err
	}

	if err := cfg.Validate(); err != nil {
		return fail(err)
	}
	bg, _ := ParseColor(cfg.Background)

	meta, err := Probe(cfg.Source, cfg.Timeout)
	if err != nil {
		return fail(err)
	}
	log.Info().Str("source", cfg.Source).Str("format", meta.Format).
		Int("width", meta.Width).Int("height", meta.Height).Msg("probed source")

	plan, err := NewPlan(meta.Width, meta.Height, cfg.TileSize)
	if err != nil {
		return fail(err)
	}
	report.Plan = &plan
	for _, l := range plan.Levels {
		report.Levels = append(report.Levels, LevelReport{ZoomLevel: l, Status: LevelSkipped})
	}
	log.Info().Int("max_zoom", plan.MaxZoom).Int("tiles", plan.TotalTiles()).Msg("planned pyramid")

	if err := ctx.Err(); err != nil {
		report.Canceled = true
		return report, err
	}

	src, err := Load(cfg.Source, cfg.Timeout)
	if err != nil {
		return fail(err)
	}

	w := NewWriter(cfg.OutputRoot, cfg.format(), cfg.Quality, cfg.Timeout)
	for i, level := range plan.Levels {
		if ctx.Err() != nil {
			report.Canceled = true
			break
		}
		lr := g.runLevel(ctx, log, src, level, w, bg)
		report.Levels[i] = lr
		report.TilesWritten += lr.TilesWritten
		report.TilesFailed += len(lr.Failures)
		if ctx.Err() != nil {
			report.Canceled = true
		}
	}

	if report.Canceled {
		log.Warn().Int("levels_completed", report.LevelsCompleted()).Msg("run canceled")
		return report, ctx.Err()
	}

	if cfg.WriteManifest && report.LevelsCompleted() > 0 {
		if err := WriteManifest(cfg.OutputRoot, NewManifest(plan, report.Format)); err != nil {
			report.Warnings = append(report.Warnings, err.Error())
			log.Warn().Err(err).Msg("manifest not written")
		}
	}

	ev := log.Info()
	if report.Failed() {
		ev = log.Error()
	} else if report.TilesFailed > 0 {
		ev = log.Warn()
	}
	ev.Int("levels_completed", report.LevelsCompleted()).
		Int("levels", len(report.Levels)).
		Int("tiles_written", report.TilesWritten).
		Int("tiles_failed", report.TilesFailed).
		Msg("run finished")
	return report, nil
}

// runLevel rasterizes one level and fans its tiles out to the worker pool.
// The raster is shared read-only by the tasks and released on return.
func (g *Generator) runLevel(ctx context.Context, log zerolog.Logger, src *SourceImage, level ZoomLevel, w *Writer, bg color.Color) LevelReport {
	start := time.Now()
	lr := LevelReport{ZoomLevel: level, Status: LevelFailed}
	log = log.With().Int("zoom", level.Z).Logger()
	log.Info().Int("cols", level.Cols).Int("rows", level.Rows).
		Int("width", level.ScaledWidth).Int("height", level.ScaledHeight).Msg("level started")

	abort := func(err error) LevelReport {
		lr.err = err
		lr.Error = err.Error()
		lr.Duration = time.Since(start)
		g.metrics.levelDone(level.Z, lr.Duration.Seconds(), true)
		log.Error().Err(err).Str("kind", kindName(err)).Msg("level aborted")
		return lr
	}

	raster, err := g.rasterize(src, level, g.cfg.interpolator(), g.cfg.Timeout)
	if err != nil {
		return abort(err)
	}
	defer raster.Release()

	if err := w.EnsureDir(level.Z); err != nil {
		return abort(err)
	}

	ext := NewExtractor(raster, g.cfg.TileSize, bg)

	var (
		mu    sync.Mutex
		group errgroup.Group
	)
	group.SetLimit(g.cfg.workers())
	for c := range Cells(level) {
		if ctx.Err() != nil {
			break
		}
		group.Go(func() error {
			t := ext.Extract(c)
			path, err := w.Write(t)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				kind := kindName(err)
				lr.Failures = append(lr.Failures, TileFailure{
					Z: c.Z, X: c.X, Y: c.Y,
					Path:   path,
					Kind:   kind,
					Reason: err.Error(),
					err:    err,
				})
				g.metrics.tileFailed(kind)
				log.Warn().Err(err).Str("tile", c.String()).Str("kind", kind).Msg("tile failed")
				return nil
			}
			lr.TilesWritten++
			if t.IsPadded {
				lr.TilesPadded++
			}
			g.metrics.tileWritten(c.Z, t.IsPadded)
			log.Debug().Str("path", path).Bool("padded", t.IsPadded).Msg("tile written")
			return nil
		})
	}
	_ = group.Wait()

	slices.SortFunc(lr.Failures, func(a, b TileFailure) int {
		if a.Y != b.Y {
			return a.Y - b.Y
		}
		return a.X - b.X
	})

	if err := ctx.Err(); err != nil {
		return abort(errors.Join(errors.New("level interrupted"), err))
	}

	lr.Status = LevelCompleted
	lr.Duration = time.Since(start)
	g.metrics.levelDone(level.Z, lr.Duration.Seconds(), false)
	log.Info().Int("written", lr.TilesWritten).Int("padded", lr.TilesPadded).
		Int("failed", len(lr.Failures)).Dur("took", lr.Duration).Msg("level finished")
	return lr
}
