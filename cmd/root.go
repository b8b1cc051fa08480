package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/kiesman99/pyramid/internal/logging"
	"github.com/kiesman99/pyramid/internal/pyramid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const version = "1.0.0"

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pyramid [source]",
	Short: "Cut a large image into a zoomable tile pyramid",
	Long: `pyramid converts one large raster (JPEG, PNG, GIF, BMP, TIFF or WebP) into a
multi-resolution grid of fixed-size tiles for pan/zoom viewers.

Tiles are written as <output>/<z>/<x>_<y>.jpg where z runs from 0 (the whole
image in as few tiles as possible) up to the zoom level at native resolution.
Edge tiles are padded with the background colour to the full tile size.

Examples:
  # Tile a map with the defaults (256px tiles, JPEG quality 90)
  pyramid skate-map.jpg -o public/tiles

  # 512px PNG tiles with a white background on edge tiles
  pyramid map.png -o tiles --tile-size 512 --format png --background "#ffffff"

  # Start the operator API
  pyramid serve --port 8080`,
	Version:       version,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 && viper.GetString("source") == "" {
			return cmd.Help()
		}
		if len(args) == 1 {
			viper.Set("source", args[0])
		}
		return runGenerate(cmd)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		cancel()
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.pyramid.yaml)")
	pf.String("log-level", "info", "log level (debug|info|warn|error)")
	pf.String("log-format", "json", "log format (json|console)")
	pf.String("log-file", "", "also write JSON logs to this rotated file")

	// Generation options
	f := rootCmd.Flags()
	f.String("source", "", "source raster (alternative to the positional argument)")
	f.StringP("output", "o", "tiles", "output root directory")
	f.IntP("tile-size", "t", pyramid.DefaultTileSize, "tile size in pixels")
	f.IntP("quality", "q", pyramid.DefaultQuality, "JPEG quality (0-100)")
	f.StringP("format", "f", "jpg", "tile format (jpg|png)")
	f.IntP("concurrency", "c", 0, "parallel tile workers (default: number of CPUs)")
	f.Duration("timeout", pyramid.DefaultTimeout, "timeout for each decode, resize, encode and write")
	f.String("filter", pyramid.DefaultFilter, "resampling filter (nearest|bilinear|approx-bilinear|catmull-rom)")
	f.String("background", pyramid.DefaultBackground, "fill colour of padded edge tiles (#RRGGBB or #RRGGBBAA)")
	f.Bool("manifest", true, "write manifest.json describing the pyramid")
	f.String("report-json", "", "write the machine readable run report to this file")

	for _, name := range []string{"log-level", "log-format", "log-file"} {
		viper.BindPFlag(name, pf.Lookup(name))
	}
	for _, name := range []string{
		"source", "output", "tile-size", "quality", "format", "concurrency",
		"timeout", "filter", "background", "manifest", "report-json",
	} {
		viper.BindPFlag(name, f.Lookup(name))
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".pyramid" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".pyramid")
	}

	viper.SetEnvPrefix("pyramid")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// newLogger builds the process logger from the bound log flags
func newLogger(cmd *cobra.Command) (zerolog.Logger, func()) {
	cfg := logging.DefaultConfig()
	cfg.Level = viper.GetString("log-level")
	cfg.Format = viper.GetString("log-format")
	cfg.File = viper.GetString("log-file")
	cfg.Output = cmd.ErrOrStderr()
	log, closer := logging.New(cfg)
	return log, func() { closer.Close() }
}

// configFromViper resolves the run configuration from flags, env and config file
func configFromViper() pyramid.Config {
	cfg := pyramid.DefaultConfig()
	cfg.Source = viper.GetString("source")
	cfg.OutputRoot = viper.GetString("output")
	cfg.TileSize = viper.GetInt("tile-size")
	cfg.Quality = viper.GetInt("quality")
	cfg.Format = strings.ToLower(viper.GetString("format"))
	if c := viper.GetInt("concurrency"); c > 0 {
		cfg.Concurrency = c
	}
	cfg.Timeout = viper.GetDuration("timeout")
	cfg.Filter = viper.GetString("filter")
	cfg.Background = viper.GetString("background")
	cfg.WriteManifest = viper.GetBool("manifest")
	return cfg
}

func runGenerate(cmd *cobra.Command) error {
	log, closeLog := newLogger(cmd)
	defer closeLog()

	cfg := configFromViper()
	report, runErr := pyramid.New(cfg, pyramid.WithLogger(log)).Run(cmd.Context())

	fmt.Fprint(cmd.ErrOrStderr(), report.Summary())

	if path := viper.GetString("report-json"); path != "" {
		if err := writeReport(path, report); err != nil {
			log.Error().Err(err).Str("path", path).Msg("report not written")
		}
	}

	switch {
	case runErr != nil:
		return runErr
	case report.Failed():
		return errors.New("no zoom level completed")
	}
	return nil
}

func writeReport(path string, report *pyramid.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := report.WriteJSON(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
