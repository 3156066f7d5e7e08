// Package api defines the Huma API routes and handlers.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-observatorio/internal/humastar"
	"github.com/joeblew999/plat-observatorio/internal/pmtiles"
	"github.com/joeblew999/plat-observatorio/internal/service"
	"github.com/joeblew999/plat-observatorio/internal/source"
	"github.com/joeblew999/plat-observatorio/internal/tiler"
)

// Version is reported by /health and /api/v1/info.
const Version = "0.1.0"

// Services holds the dependencies of the API handlers. Source is nil when
// layers come from the remote API.
type Services struct {
	Store    *service.Store
	Notices  *service.Notices
	Source   *source.Source
	TilesDir string
}

// Types

type IDInput struct {
	ID string `path:"id" doc:"Layer ID" example:"osm_vias"`
}

// LayerBody is one layer with its activation and cache state.
type LayerBody struct {
	service.LayerStatus
	Error string `json:"error,omitempty" doc:"Last fetch error, until the layer loads"`
}

var layerActions = []humastar.ActionDef{
	{Rel: "toggle", Pattern: "/api/v1/layers/%s/toggle", Method: http.MethodPost, Title: "Toggle layer"},
}

// Actions implements humastar.Actor.
func (b LayerBody) Actions() []humastar.Action {
	actions := humastar.ActionsFor(string(b.ID), layerActions)
	if b.Loaded {
		actions = append(actions, humastar.Action{
			Rel: "export", Href: fmt.Sprintf("/api/v1/layers/%s/tiles", b.ID),
			Method: http.MethodPost, Title: "Export PMTiles",
		})
	} else if !b.Loading {
		actions = append(actions, humastar.Action{
			Rel: "ensure", Href: fmt.Sprintf("/api/v1/layers/%s/ensure", b.ID),
			Method: http.MethodPost, Title: "Fetch layer data",
		})
	}
	return actions
}

type LayerOutput struct {
	Body LayerBody
}

type LayersOutput struct {
	Body []LayerBody
}

type HealthBody struct {
	Status  string `json:"status" doc:"Health status" example:"ok"`
	Version string `json:"version" doc:"API version" example:"0.1.0"`
}

// APIHandler holds all REST API handlers. Methods named Register* are
// auto-discovered by huma.AutoRegister.
type APIHandler struct {
	svc *Services
}

func NewAPIHandler(svc *Services) *APIHandler {
	return &APIHandler{svc: svc}
}

// RegisterRoutes registers every REST route of h.
func RegisterRoutes(api huma.API, svc *Services) {
	huma.AutoRegister(api, NewAPIHandler(svc))
}

// RegisterHealth registers health check routes.
func (h *APIHandler) RegisterHealth(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))
}

// RegisterLayers registers layer routes.
func (h *APIHandler) RegisterLayers(api huma.API) {
	huma.Get(api, "/api/v1/layers", h.GetLayers, huma.OperationTags("layers"))
	huma.Get(api, "/api/v1/layers/{id}", h.GetLayer, huma.OperationTags("layers"))
	huma.Post(api, "/api/v1/layers/{id}/toggle", h.ToggleLayer, huma.OperationTags("layers"))
	huma.Post(api, "/api/v1/layers/{id}/ensure", h.EnsureLayer, huma.OperationTags("layers"),
		func(o *huma.Operation) { o.DefaultStatus = http.StatusAccepted })
}

// Handlers

func (h *APIHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	return &struct{ Body HealthBody }{Body: HealthBody{Status: "ok", Version: Version}}, nil
}

func (h *APIHandler) GetLayers(ctx context.Context, input *struct{}) (*LayersOutput, error) {
	status := h.svc.Store.Status()
	out := make([]LayerBody, len(status))
	for i, st := range status {
		out[i] = h.layerBody(st)
	}
	return &LayersOutput{Body: out}, nil
}

func (h *APIHandler) GetLayer(ctx context.Context, input *IDInput) (*LayerOutput, error) {
	body, err := h.lookup(input.ID)
	if err != nil {
		return nil, err
	}
	return &LayerOutput{Body: body}, nil
}

// ToggleLayer flips the layer and, when it becomes active, requests its data.
// Re-toggling a failed layer therefore retries the fetch.
func (h *APIHandler) ToggleLayer(ctx context.Context, input *IDInput) (*LayerOutput, error) {
	id := service.LayerID(input.ID)
	on, err := h.svc.Store.ToggleLayer(id)
	if err != nil {
		return nil, toHTTP(err)
	}
	if on {
		if err := h.svc.Store.Cache().Ensure(id); err != nil {
			return nil, toHTTP(err)
		}
	}
	return h.layerOutput(id)
}

type EnsureInput struct {
	IDInput
	Wait bool `query:"wait" doc:"Block until the fetch completes"`
}

func (h *APIHandler) EnsureLayer(ctx context.Context, input *EnsureInput) (*LayerOutput, error) {
	id := service.LayerID(input.ID)
	cache := h.svc.Store.Cache()
	if input.Wait {
		if _, err := cache.Load(ctx, id); err != nil {
			return nil, toHTTP(err)
		}
	} else if err := cache.Ensure(id); err != nil {
		return nil, toHTTP(err)
	}
	return h.layerOutput(id)
}

func (h *APIHandler) layerOutput(id service.LayerID) (*LayerOutput, error) {
	body, err := h.lookup(string(id))
	if err != nil {
		return nil, err
	}
	return &LayerOutput{Body: body}, nil
}

func (h *APIHandler) lookup(id string) (LayerBody, error) {
	for _, st := range h.svc.Store.Status() {
		if string(st.ID) == id {
			return h.layerBody(st), nil
		}
	}
	return LayerBody{}, huma.Error404NotFound(fmt.Sprintf("layer %q not found", id))
}

func (h *APIHandler) layerBody(st service.LayerStatus) LayerBody {
	body := LayerBody{LayerStatus: st}
	if h.svc.Notices != nil {
		if n, ok := h.svc.Notices.Layer(st.ID); ok {
			body.Error = n.Message
		}
	}
	return body
}

// toHTTP maps engine errors to Huma status errors.
func toHTTP(err error) error {
	var ferr *service.FetchError
	switch {
	case errors.Is(err, service.ErrUnknownLayer):
		return huma.Error404NotFound(err.Error())
	case errors.As(err, &ferr):
		return huma.Error502BadGateway(err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return huma.Error504GatewayTimeout(err.Error())
	}
	return huma.Error500InternalServerError(err.Error())
}

// RegisterSources registers source listing routes.
func (h *APIHandler) RegisterSources(api huma.API) {
	huma.Get(api, "/api/v1/sources", h.GetSources, huma.OperationTags("sources"))
}

// RegisterTiles registers tile listing and export routes.
func (h *APIHandler) RegisterTiles(api huma.API) {
	huma.Get(api, "/api/v1/tiles", h.GetTiles, huma.OperationTags("tiles"))
	huma.Post(api, "/api/v1/layers/{id}/tiles", h.ExportTiles, huma.OperationTags("tiles"),
		func(o *huma.Operation) { o.DefaultStatus = http.StatusCreated })
}

func (h *APIHandler) GetSources(ctx context.Context, input *struct{}) (*struct{ Body []source.File }, error) {
	if h.svc.Source == nil {
		return &struct{ Body []source.File }{Body: []source.File{}}, nil
	}
	files, err := h.svc.Source.List(h.svc.Store.Registry())
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to list sources", err)
	}
	return &struct{ Body []source.File }{Body: files}, nil
}

func (h *APIHandler) GetTiles(ctx context.Context, input *struct{}) (*struct{ Body []tiler.File }, error) {
	files, err := tiler.List(h.svc.TilesDir)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to list tiles", err)
	}
	return &struct{ Body []tiler.File }{Body: files}, nil
}

type ExportRequest struct {
	MinZoom int `json:"minZoom,omitempty" minimum:"0" maximum:"14" doc:"Minimum zoom level"`
	MaxZoom int `json:"maxZoom,omitempty" minimum:"0" maximum:"14" doc:"Maximum zoom level (default 14)"`
}

type ExportInput struct {
	IDInput
	Body *ExportRequest `required:"false"`
}

type ExportBody struct {
	Layer service.LayerID `json:"layer" doc:"Exported layer"`
	File  string          `json:"file" doc:"Archive name under /tiles/" example:"osm_vias.pmtiles"`
	URL   string          `json:"url" doc:"Archive URL"`
}

func (h *APIHandler) ExportTiles(ctx context.Context, input *ExportInput) (*struct{ Body ExportBody }, error) {
	id := service.LayerID(input.ID)
	store := h.svc.Store
	var cfg tiler.Config
	if input.Body != nil {
		cfg.MinZoom, cfg.MaxZoom = input.Body.MinZoom, input.Body.MaxZoom
	}

	path, err := tiler.Export(ctx, store.Registry(), store.Cache(), id, h.svc.TilesDir, cfg)
	if err != nil {
		if errors.Is(err, pmtiles.ErrNoTiles) {
			return nil, huma.Error422UnprocessableEntity(err.Error())
		}
		return nil, toHTTP(err)
	}
	name := filepath.Base(path)
	return &struct{ Body ExportBody }{Body: ExportBody{Layer: id, File: name, URL: "/tiles/" + name}}, nil
}
