package pyramid

import (
	"errors"
	"fmt"
	"image/color"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kiesman99/pyramid/pkg/tile"
	"golang.org/x/image/draw"
)

// Defaults applied by DefaultConfig
const (
	DefaultTileSize   = 256
	DefaultQuality    = 90
	DefaultTimeout    = 30 * time.Second
	DefaultFilter     = "catmull-rom"
	DefaultBackground = "#00000000"
)

// Config holds the immutable parameters of one run
type Config struct {
	// Source is the path of the raster to tile.
	Source string `validate:"required"`
	// OutputRoot receives <z>/<x>_<y>.<ext>.
	OutputRoot string `validate:"required"`
	TileSize   int    `validate:"gt=0"`
	// Quality is the JPEG encoder quality. Ignored for PNG.
	Quality int    `validate:"gte=0,lte=100"`
	Format  string `validate:"oneof=jpg jpeg png"`
	// Concurrency bounds the tile worker pool. Zero means runtime.NumCPU().
	Concurrency int `validate:"gte=0"`
	// Timeout applies to each decode, resize, encode and write call.
	Timeout time.Duration `validate:"gte=0"`
	Filter  string        `validate:"oneof=nearest bilinear approx-bilinear catmull-rom"`
	// Background fills the missing area of edge tiles, #RRGGBB or #RRGGBBAA.
	Background    string
	WriteManifest bool
}

// DefaultConfig returns a config with every optional field populated
func DefaultConfig() Config {
	return Config{
		TileSize:      DefaultTileSize,
		Quality:       DefaultQuality,
		Format:        "jpg",
		Concurrency:   runtime.NumCPU(),
		Timeout:       DefaultTimeout,
		Filter:        DefaultFilter,
		Background:    DefaultBackground,
		WriteManifest: true,
	}
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks the config and returns a ConfigError describing every problem
func (c Config) Validate() error {
	if err := getValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return newError(ErrConfig, "config", "", err)
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, describeField(fe))
		}
		return configErrorf("%s", strings.Join(msgs, "; "))
	}
	if _, err := ParseColor(c.Background); err != nil {
		return configErrorf("background: %v", err)
	}
	return nil
}

func describeField(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", fe.Field(), fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", fe.Field(), fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", fe.Field(), fe.Param())
	}
	return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
}

// workers returns the effective pool size
func (c Config) workers() int {
	if c.Concurrency > 0 {
		return c.Concurrency
	}
	return runtime.NumCPU()
}

func (c Config) format() tile.Format {
	f, _ := tile.ParseFormat(c.Format)
	return f
}

func (c Config) interpolator() draw.Interpolator {
	switch c.Filter {
	case "nearest":
		return draw.NearestNeighbor
	case "bilinear":
		return draw.BiLinear
	case "approx-bilinear":
		return draw.ApproxBiLinear
	default:
		return draw.CatmullRom
	}
}

// ParseColor parses #RGB, #RRGGBB or #RRGGBBAA into a non-premultiplied color
func ParseColor(s string) (color.NRGBA, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) == 6 {
		hex += "ff"
	}
	if len(hex) != 8 {
		return color.NRGBA{}, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid color %q", s)
	}
	return color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}
