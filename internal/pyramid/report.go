package pyramid

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/multierr"
)

// Level outcomes
const (
	LevelCompleted = "completed"
	LevelFailed    = "failed"
	LevelSkipped   = "skipped"
)

// TileFailure records one tile that could not be written
type TileFailure struct {
	Z      int    `json:"z"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Path   string `json:"path"`
	Kind   string `json:"kind"`
	Reason string `json:"reason"`

	err error
}

// LevelReport summarizes one zoom level
type LevelReport struct {
	ZoomLevel
	Status       string        `json:"status"`
	TilesWritten int           `json:"tiles_written"`
	TilesPadded  int           `json:"tiles_padded"`
	Failures     []TileFailure `json:"failures,omitempty"`
	Error        string        `json:"error,omitempty"`
	Duration     time.Duration `json:"duration_ns"`

	err error
}

// Report is the outcome of a run, suitable for logs and machine consumption
type Report struct {
	RunID        string        `json:"run_id"`
	Source       string        `json:"source"`
	OutputRoot   string        `json:"output_root"`
	Format       string        `json:"format"`
	Plan         *Plan         `json:"plan,omitempty"`
	Levels       []LevelReport `json:"levels"`
	TilesWritten int           `json:"tiles_written"`
	TilesFailed  int           `json:"tiles_failed"`
	Warnings     []string      `json:"warnings,omitempty"`
	Fatal        string        `json:"fatal,omitempty"`
	Canceled     bool          `json:"canceled,omitempty"`
	Started      time.Time     `json:"started"`
	Duration     time.Duration `json:"duration_ns"`

	fatal error
}

// FatalErr returns the error that aborted the whole run, if any
func (r *Report) FatalErr() error {
	return r.fatal
}

// LevelsCompleted counts levels whose raster was produced and whose tiles
// were all attempted
func (r *Report) LevelsCompleted() int {
	n := 0
	for _, l := range r.Levels {
		if l.Status == LevelCompleted {
			n++
		}
	}
	return n
}

// Failed reports whether the run as a whole failed: a fatal error, a
// cancellation, or no level completing
func (r *Report) Failed() bool {
	return r.fatal != nil || r.Canceled || r.LevelsCompleted() == 0
}

// Err combines every fatal, level and tile error of the run
func (r *Report) Err() error {
	err := r.fatal
	for _, l := range r.Levels {
		err = multierr.Append(err, l.err)
		for _, f := range l.Failures {
			err = multierr.Append(err, f.err)
		}
	}
	return err
}

// WriteJSON writes the machine readable report
func (r *Report) WriteJSON(w io.Writer) error {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = w.Write(b)
	return err
}

// Summary renders a human readable account of the run
func (r *Report) Summary() string {
	var sb strings.Builder
	switch {
	case r.fatal != nil:
		fmt.Fprintf(&sb, "FAILED: %s\n", r.Fatal)
	case r.Canceled:
		fmt.Fprintf(&sb, "CANCELED after %d of %d levels\n", r.LevelsCompleted(), len(r.Levels))
	case r.Failed():
		fmt.Fprintf(&sb, "FAILED: no zoom level completed\n")
	case r.TilesFailed > 0:
		fmt.Fprintf(&sb, "COMPLETED WITH WARNINGS\n")
	default:
		fmt.Fprintf(&sb, "COMPLETED\n")
	}
	if r.Plan != nil {
		fmt.Fprintf(&sb, "source %s (%dx%d), tile size %d, zoom 0..%d\n",
			r.Source, r.Plan.Width, r.Plan.Height, r.Plan.TileSize, r.Plan.MaxZoom)
	}
	for _, l := range r.Levels {
		fmt.Fprintf(&sb, "  z=%d %dx%d grid %dx%d: %s, %d written, %d padded, %d failed",
			l.Z, l.ScaledWidth, l.ScaledHeight, l.Cols, l.Rows, l.Status, l.TilesWritten, l.TilesPadded, len(l.Failures))
		if l.Error != "" {
			fmt.Fprintf(&sb, " (%s)", l.Error)
		}
		sb.WriteByte('\n')
		for _, f := range l.Failures {
			fmt.Fprintf(&sb, "    %s: %s\n", f.Path, f.Reason)
		}
	}
	for _, w := range r.Warnings {
		fmt.Fprintf(&sb, "  warning: %s\n", w)
	}
	fmt.Fprintf(&sb, "levels completed %d/%d, tiles written %d, tiles failed %d, took %s\n",
		r.LevelsCompleted(), len(r.Levels), r.TilesWritten, r.TilesFailed, r.Duration.Round(time.Millisecond))
	return sb.String()
}

func (r *Report) setFatal(err error) {
	r.fatal = err
	r.Fatal = err.Error()
}
