package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
)

type InfoHandler struct {
	source  string
	apiBase string
	dataDir string
	dbOK    bool
}

func NewInfoHandler(source, apiBase, dataDir string, dbOK bool) *InfoHandler {
	return &InfoHandler{source: source, apiBase: apiBase, dataDir: dataDir, dbOK: dbOK}
}

func (h *InfoHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/info", h.GetInfo, huma.OperationTags("health"))
}

type InfoBody struct {
	Name     string   `json:"name" doc:"Service name"`
	Version  string   `json:"version" doc:"Service version"`
	Source   string   `json:"source" doc:"Where layer data comes from" enum:"remote,duckdb"`
	APIBase  string   `json:"api_base,omitempty" doc:"Remote API base URL"`
	DataDir  string   `json:"data_dir" doc:"Data directory path"`
	DB       bool     `json:"db" doc:"Whether DuckDB is available"`
	Features []string `json:"features" doc:"Available features"`
}

func (h *InfoHandler) GetInfo(ctx context.Context, input *struct{}) (*struct{ Body InfoBody }, error) {
	features := []string{"scene", "tooltip", "pmtiles", "datastar"}
	if h.dbOK {
		features = append(features, "duckdb")
	}
	return &struct{ Body InfoBody }{Body: InfoBody{
		Name:     "plat-observatorio",
		Version:  Version,
		Source:   h.source,
		APIBase:  h.apiBase,
		DataDir:  h.dataDir,
		DB:       h.dbOK,
		Features: features,
	}}, nil
}
