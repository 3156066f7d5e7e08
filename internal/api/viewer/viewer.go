// Package viewer contains Datastar SSE handlers for the layer panel.
package viewer

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-observatorio/internal/humastar"
	"github.com/joeblew999/plat-observatorio/internal/service"
	"github.com/joeblew999/plat-observatorio/internal/templates"
)

// Selectors patched by the panel handlers.
const (
	LayersSelector  = "#layers"
	NoticesSelector = "#notices"
)

// Handler serves the layer panel over SSE.
type Handler struct {
	humastar.Handler
	store   *service.Store
	notices *service.Notices
}

func NewHandler(store *service.Store, notices *service.Notices, renderer *templates.Renderer) *Handler {
	return &Handler{
		Handler: humastar.Handler{Renderer: renderer},
		store:   store,
		notices: notices,
	}
}

func (h *Handler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/viewer/panel", h.Panel, huma.OperationTags("viewer"))
	huma.Post(api, "/api/v1/viewer/toggle", h.Toggle, huma.OperationTags("viewer"))
	huma.Get(api, "/api/v1/viewer/events", h.Events, huma.OperationTags("viewer"))
}

func (h *Handler) Panel(ctx context.Context, input *humastar.EmptyInput) (*huma.StreamResponse, error) {
	return h.Stream(func(sse humastar.SSE) {
		h.patchPanel(sse)
		sse.Signals(h.stateSignals())
	}), nil
}

// Toggle flips the layer named by the "layer" signal and requests its data
// when it becomes active.
func (h *Handler) Toggle(ctx context.Context, input *humastar.SignalsInput) (*huma.StreamResponse, error) {
	signals, err := input.MustParse()
	if err != nil {
		return nil, err
	}
	id := service.LayerID(signals.String("layer"))
	if id == "" {
		return nil, huma.Error400BadRequest("layer is required")
	}
	if _, ok := h.store.Registry().Get(id); !ok {
		return nil, huma.Error404NotFound("layer " + string(id) + " not found")
	}

	return h.Stream(func(sse humastar.SSE) {
		on, err := h.store.ToggleLayer(id)
		if err != nil {
			sse.Error(err.Error())
			return
		}
		if on {
			if err := h.store.Cache().Ensure(id); err != nil {
				sse.Error(err.Error())
				return
			}
		}
		h.patchPanel(sse)
		sse.Signals(h.stateSignals())
		if on {
			sse.Success("Capa activada: " + string(id))
		} else {
			sse.Success("Capa desactivada: " + string(id))
		}
	}), nil
}

// Events streams engine changes until the client goes away.
func (h *Handler) Events(ctx context.Context, input *humastar.EmptyInput) (*huma.StreamResponse, error) {
	return &huma.StreamResponse{
		Body: func(humaCtx huma.Context) {
			sse := humastar.NewSSE(humaCtx)
			bus := h.store.Bus()
			ch := bus.Subscribe()
			defer bus.Unsubscribe(ch)

			for {
				select {
				case <-ctx.Done():
					return
				case ev := <-ch:
					if ev.Resource == service.ResourceLayers {
						h.patchPanel(sse)
					}
					sse.Signals(h.stateSignals())
					sse.Dispatch("scene-changed", map[string]any{
						"resource": ev.Resource,
						"action":   ev.Action,
						"id":       ev.ID,
					})
				}
			}
		},
	}, nil
}

// RowData is what the layer-row template renders.
type RowData struct {
	service.LayerStatus
	Failed string
}

func (h *Handler) rows() []any {
	status := h.store.Status()
	items := make([]any, len(status))
	for i, st := range status {
		row := RowData{LayerStatus: st}
		if h.notices != nil {
			if n, ok := h.notices.Layer(st.ID); ok {
				row.Failed = n.Message
			}
		}
		items[i] = row
	}
	return items
}

func (h *Handler) noticeItems() []any {
	if h.notices == nil {
		return nil
	}
	list := h.notices.List()
	items := make([]any, len(list))
	for i, n := range list {
		items[i] = n
	}
	return items
}

func (h *Handler) patchPanel(sse humastar.SSE) {
	sse.Patch(h.RenderList("layer-row", h.rows(), "Sin capas", "No hay capas registradas"), LayersSelector)
	sse.Patch(h.RenderList("notice", h.noticeItems(), "Sin errores", "Todas las capas respondieron"), NoticesSelector)
}

// stateSignals mirrors the camera and scene summary into Datastar signals.
func (h *Handler) stateSignals() map[string]any {
	active := h.store.ActiveLayers()
	ids := make([]string, len(active))
	for i, id := range active {
		ids[i] = string(id)
	}
	scene := h.store.Scene()
	rendered := make([]string, len(scene))
	for i, l := range scene {
		rendered[i] = string(l.ID)
	}
	return map[string]any{
		"view":     h.store.View(),
		"active":   ids,
		"rendered": rendered,
	}
}
