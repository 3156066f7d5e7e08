package server

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/danielgtaylor/huma/v2/autopatch"
	"github.com/rs/zerolog"

	"github.com/joeblew999/plat-observatorio/internal/api"
	"github.com/joeblew999/plat-observatorio/internal/api/viewer"
	"github.com/joeblew999/plat-observatorio/internal/db"
	"github.com/joeblew999/plat-observatorio/internal/humastar"
	"github.com/joeblew999/plat-observatorio/internal/metrics"
	"github.com/joeblew999/plat-observatorio/internal/remote"
	"github.com/joeblew999/plat-observatorio/internal/service"
	"github.com/joeblew999/plat-observatorio/internal/source"
	"github.com/joeblew999/plat-observatorio/internal/templates"
	"github.com/joeblew999/plat-observatorio/internal/tiler"
)

// Layer data sources.
const (
	SourceRemote = "remote"
	SourceDuckDB = "duckdb"
)

// Config holds the server configuration.
type Config struct {
	Host         string
	Port         string
	APIBase      string // Base URL of the territorial data API
	Source       string // SourceRemote or SourceDuckDB
	DataDir      string
	WebDir       string // Path to web/ directory for static files and templates
	Registry     string // Optional YAML file overriding layer descriptors
	FetchTimeout time.Duration
	Logger       zerolog.Logger

	// Fetcher replaces the configured source when set.
	Fetcher service.Fetcher
	// NoMount skips the initial fetch of every layer.
	NoMount bool
}

// Server is the observatorio HTTP server.
type Server struct {
	config   Config
	mux      *http.ServeMux
	handler  http.Handler
	humaAPI  huma.API
	db       *sql.DB
	log      zerolog.Logger
	metrics  *metrics.Metrics
	services *api.Services
	renderer *templates.Renderer
	links    *humastar.Links
}

// New creates a server and starts fetching every registered layer.
func New(cfg Config) (*Server, error) {
	if cfg.Source == "" {
		cfg.Source = SourceRemote
	}
	log := cfg.Logger

	reg, err := service.LoadRegistry(cfg.Registry)
	if err != nil {
		return nil, err
	}

	s := &Server{
		config:  cfg,
		mux:     http.NewServeMux(),
		log:     log,
		metrics: metrics.New(),
		links:   humastar.NewLinks("/health", "viewer"),
	}

	var src *source.Source
	fetcher := cfg.Fetcher
	if fetcher == nil {
		switch cfg.Source {
		case SourceRemote:
			if cfg.APIBase == "" {
				return nil, fmt.Errorf("remote source needs an API base URL")
			}
			fetcher = remote.New(cfg.APIBase, remote.WithLogger(log))
		case SourceDuckDB:
			conn, err := db.Get(db.Config{DataDir: cfg.DataDir, DBName: "observatorio", Logger: log})
			if err != nil {
				return nil, err
			}
			s.db = conn
			src = source.New(conn, cfg.DataDir, log)
			fetcher = src
		default:
			return nil, fmt.Errorf("unknown source %q", cfg.Source)
		}
	}

	notices := service.NewNotices()
	bus := service.NewEventBus()
	cache := service.NewLayerCache(reg, fetcher, service.CacheOptions{
		Timeout:  cfg.FetchTimeout,
		Logger:   log,
		Metrics:  s.metrics,
		Bus:      bus,
		Reporter: notices,
	})
	store := service.NewStore(reg, cache, service.NewCompositor(reg, s.metrics), bus)

	s.services = &api.Services{
		Store:    store,
		Notices:  notices,
		Source:   src,
		TilesDir: tiler.Dir(cfg.DataDir),
	}

	// Fragments under WebDir win over the embedded ones.
	s.renderer, err = templates.New()
	if err != nil {
		return nil, err
	}
	if cfg.WebDir != "" {
		fragmentsDir := filepath.Join(cfg.WebDir, "templates", "fragments")
		if _, err := os.Stat(fragmentsDir); err == nil {
			r, err := templates.NewFromDir(fragmentsDir)
			if err != nil {
				return nil, err
			}
			s.renderer = r
			log.Info().Str("dir", fragmentsDir).Msg("loaded fragment templates")
		}
	}

	humaConfig := huma.DefaultConfig("plat-observatorio API", api.Version)
	humaConfig.Info.Description = "Territorial data observatory: layer toggles, camera state, composed scenes and tooltips."
	humaConfig.Servers = []*huma.Server{
		{URL: fmt.Sprintf("http://%s:%s", cfg.Host, cfg.Port), Description: "Local server"},
	}
	// Disable $schema property in responses (cleaner JSON)
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}
	humaConfig.Transformers = append(humaConfig.Transformers, s.links.Transformer())
	s.humaAPI = humago.New(s.mux, humaConfig)

	s.routes()
	s.handler = s.metrics.Middleware(s.mux)

	if !cfg.NoMount {
		store.Mount()
	}
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// OpenAPI returns the generated OpenAPI document.
func (s *Server) OpenAPI() *huma.OpenAPI {
	return s.humaAPI.OpenAPI()
}

// Store returns the layer store.
func (s *Server) Store() *service.Store {
	return s.services.Store
}

// Close closes server resources.
func (s *Server) Close() error {
	if s.db == nil {
		return nil
	}
	return db.Close()
}

func (s *Server) routes() {
	// Huma REST API routes (OpenAPI-documented JSON endpoints)
	api.RegisterRoutes(s.humaAPI, s.services)
	api.NewInfoHandler(s.config.Source, s.config.APIBase, s.config.DataDir, s.db != nil).RegisterRoutes(s.humaAPI)

	// Viewer SSE routes using Huma + Datastar SDK
	viewer.NewHandler(s.services.Store, s.services.Notices, s.renderer).RegisterRoutes(s.humaAPI)

	// PATCH /api/v1/view merges a partial camera over the current one.
	autopatch.AutoPatch(s.humaAPI)
	s.links.Build(s.humaAPI)

	s.mux.Handle("/metrics", s.metrics.Handler())
	s.mux.Handle("/tiles/", http.StripPrefix("/tiles/", s.handleTiles(s.services.TilesDir)))

	if s.config.WebDir != "" {
		staticDir := filepath.Join(s.config.WebDir, "static")
		s.mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir(staticDir))))
		s.mux.HandleFunc("/viewer", s.handleViewer)
	}

	s.mux.HandleFunc("/", s.handleRoot)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	for _, link := range s.links.Entry() {
		w.Header().Add("Link", link)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"service": "plat-observatorio",
		"status":  "running",
	})
}

func (s *Server) handleViewer(w http.ResponseWriter, r *http.Request) {
	http.ServeFile(w, r, filepath.Join(s.config.WebDir, "templates", "viewer.html"))
}

// handleTiles serves exported archives with the CORS and Range headers
// PMTiles readers need.
func (s *Server) handleTiles(tilesDir string) http.Handler {
	files := http.FileServer(http.Dir(tilesDir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Range")
		w.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Range, Accept-Ranges")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		if !tiler.ValidName(r.URL.Path) {
			http.NotFound(w, r)
			return
		}
		files.ServeHTTP(w, r)
	})
}
