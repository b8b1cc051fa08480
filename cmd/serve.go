package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kiesman99/pyramid/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start an HTTP API that triggers pyramid runs",
	Long: `Start an HTTP server that runs the tile pyramid generator on request.

Sources are read from --source-root and pyramids written below --output-root;
request paths are relative to those directories. One run executes at a time.
Generation defaults (tile size, quality, format, ...) come from the same flags,
environment and config file as the root command.

Examples:
  # Start server on default port 8080
  pyramid serve --source-root ./maps --output-root ./public/tiles

  # Trigger a run
  curl -XPOST localhost:8080/api/v1/pyramids -d '{"source":"skate-map.jpg","output":"skate"}'`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	// Server configuration
	f := serveCmd.Flags()
	f.StringP("bind", "b", "localhost", "bind address")
	f.IntP("port", "p", 8080, "port to listen on")
	f.Duration("run-timeout", 10*time.Minute, "maximum duration of one pyramid run")
	f.Int("rate-limit", 10, "pyramid runs allowed per client per minute (0 disables)")
	f.String("source-root", ".", "directory request sources are resolved against")
	f.String("output-root", "tiles", "directory request outputs are resolved against")

	// Bind flags to viper
	viper.BindPFlag("server.bind", f.Lookup("bind"))
	viper.BindPFlag("server.port", f.Lookup("port"))
	viper.BindPFlag("server.run-timeout", f.Lookup("run-timeout"))
	viper.BindPFlag("server.rate-limit", f.Lookup("rate-limit"))
	viper.BindPFlag("server.source-root", f.Lookup("source-root"))
	viper.BindPFlag("server.output-root", f.Lookup("output-root"))
}

func runServe(cmd *cobra.Command, args []string) error {
	log, closeLog := newLogger(cmd)
	defer closeLog()

	addr := fmt.Sprintf("%s:%d", viper.GetString("server.bind"), viper.GetInt("server.port"))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	runTimeout := viper.GetDuration("server.run-timeout")
	apiServer := server.NewServer(version, server.Options{
		SourceRoot: viper.GetString("server.source-root"),
		OutputRoot: viper.GetString("server.output-root"),
		Defaults:   configFromViper(),
		Timeout:    runTimeout,
		RateLimit:  viper.GetInt("server.rate-limit"),
		Logger:     log,
		Registry:   reg,
	})

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           apiServer.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      runTimeout + 30*time.Second,
	}

	// Graceful shutdown
	ctx := cmd.Context()
	go func() {
		<-ctx.Done()

		log.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown")
		}
	}()

	log.Info().Str("addr", addr).
		Str("health", "http://"+addr+"/api/v1/health").
		Str("runs", "http://"+addr+"/api/v1/pyramids").
		Str("metrics", "http://"+addr+"/metrics").
		Msg("starting pyramid server")

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("server error: %v", err)
	}

	return nil
}
