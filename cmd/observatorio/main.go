package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/plat-observatorio/internal/api"
	"github.com/joeblew999/plat-observatorio/internal/logging"
	"github.com/joeblew999/plat-observatorio/internal/server"
	"github.com/joeblew999/plat-observatorio/internal/service"
	"github.com/joeblew999/plat-observatorio/internal/tiler"
)

// Options defines all CLI flags and env vars for the observatorio server.
// Flags: --host, --port, --api-base, --source, --data-dir, --web-dir, --registry, --log-level, --fetch-timeout
// Env vars: SERVICE_HOST, SERVICE_PORT, SERVICE_API_BASE, ...
type Options struct {
	Host         string `doc:"Host to bind to" default:"0.0.0.0"`
	Port         int    `doc:"Port to listen on" short:"p" default:"8086"`
	APIBase      string `doc:"Base URL of the territorial data API" default:"http://localhost:8000"`
	Source       string `doc:"Layer data source: remote or duckdb" default:"remote"`
	DataDir      string `doc:"Directory for local sources, DuckDB and tiles" default:".data"`
	WebDir       string `doc:"Path to web/ directory" default:"web"`
	Registry     string `doc:"YAML file overriding layer descriptors"`
	LogLevel     string `doc:"Log level: debug, info, warn, error" default:"info"`
	FetchTimeout int    `doc:"Per-layer fetch timeout in seconds" default:"30"`
}

func newServer(opts *Options, log zerolog.Logger, noMount bool) (*server.Server, error) {
	return server.New(server.Config{
		Host:         opts.Host,
		Port:         fmt.Sprintf("%d", opts.Port),
		APIBase:      opts.APIBase,
		Source:       opts.Source,
		DataDir:      opts.DataDir,
		WebDir:       opts.WebDir,
		Registry:     opts.Registry,
		FetchTimeout: time.Duration(opts.FetchTimeout) * time.Second,
		Logger:       log,
		NoMount:      noMount,
	})
}

func fatal(log zerolog.Logger, err error, msg string) {
	log.Error().Err(err).Msg(msg)
	os.Exit(1)
}

func main() {
	// A missing .env is fine; flags and the environment still apply.
	_ = godotenv.Load()

	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		log := logging.New(opts.LogLevel)
		var httpSrv *http.Server

		hooks.OnStart(func() {
			srv, err := newServer(opts, log, false)
			if err != nil {
				fatal(log, err, "server setup failed")
			}
			defer srv.Close()

			addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
			displayHost := opts.Host
			if displayHost == "0.0.0.0" {
				displayHost = "localhost"
			}
			baseURL := fmt.Sprintf("http://%s:%d", displayHost, opts.Port)

			log.Info().
				Str("server", baseURL).
				Str("source", opts.Source).
				Str("api_base", opts.APIBase).
				Str("data", opts.DataDir).
				Str("viewer", baseURL+"/viewer").
				Str("docs", baseURL+"/docs").
				Msg("plat-observatorio starting")

			httpSrv = &http.Server{Addr: addr, Handler: srv, ReadHeaderTimeout: 10 * time.Second}
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				fatal(log, err, "server error")
			}
		})

		hooks.OnStop(func() {
			if httpSrv == nil {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = httpSrv.Shutdown(ctx)
		})
	})

	cli.Root().Use = "observatorio"
	cli.Root().Short = "Territorial data observatory layer engine"
	cli.Root().Version = api.Version

	// spec subcommand: export OpenAPI spec
	specCmd := &cobra.Command{
		Use:   "spec",
		Short: "Export OpenAPI spec (JSON by default, --yaml for YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			log := logging.NewWithWriter(os.Stderr, opts.LogLevel)
			srv, err := newServer(opts, log, true)
			if err != nil {
				fatal(log, err, "server setup failed")
			}
			defer srv.Close()
			spec := srv.OpenAPI()

			useYAML, _ := cmd.Flags().GetBool("yaml")

			var output []byte
			if useYAML {
				output, err = yaml.Marshal(spec)
			} else {
				output, err = json.MarshalIndent(spec, "", "  ")
			}
			if err != nil {
				fatal(log, err, "marshal spec")
			}
			fmt.Println(string(output))
		}),
	}
	specCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	cli.Root().AddCommand(specCmd)

	// export-tiles subcommand: fetch one layer and write it as PMTiles
	exportCmd := &cobra.Command{
		Use:   "export-tiles <layer>",
		Short: "Fetch a layer and write {data-dir}/tiles/<layer>.pmtiles",
		Args:  cobra.ExactArgs(1),
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			log := logging.NewWithWriter(os.Stderr, opts.LogLevel)
			srv, err := newServer(opts, log, true)
			if err != nil {
				fatal(log, err, "server setup failed")
			}
			defer srv.Close()

			minZoom, _ := cmd.Flags().GetInt("min-zoom")
			maxZoom, _ := cmd.Flags().GetInt("max-zoom")
			cfg := tiler.Config{MinZoom: minZoom, MaxZoom: maxZoom}

			ctx, cancel := context.WithTimeout(context.Background(), time.Duration(opts.FetchTimeout)*time.Second+time.Minute)
			defer cancel()

			store := srv.Store()
			path, err := tiler.Export(ctx, store.Registry(), store.Cache(), service.LayerID(args[0]),
				tiler.Dir(opts.DataDir), cfg)
			if err != nil {
				fatal(log, err, "export failed")
			}
			fmt.Println(path)
		}),
	}
	exportCmd.Flags().Int("min-zoom", 0, "Minimum zoom level")
	exportCmd.Flags().Int("max-zoom", tiler.MaxZoom, "Maximum zoom level")
	cli.Root().AddCommand(exportCmd)

	cli.Run()
}
