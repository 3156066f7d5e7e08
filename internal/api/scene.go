package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-observatorio/internal/service"
)

// RegisterView registers camera routes.
func (h *APIHandler) RegisterView(api huma.API) {
	huma.Get(api, "/api/v1/view", h.GetView, huma.OperationTags("view"))
	huma.Put(api, "/api/v1/view", h.PutView, huma.OperationTags("view"))
}

// RegisterScene registers scene and tooltip routes.
func (h *APIHandler) RegisterScene(api huma.API) {
	huma.Get(api, "/api/v1/scene", h.GetScene, huma.OperationTags("scene"))
	huma.Post(api, "/api/v1/tooltip", h.ResolveTooltip, huma.OperationTags("scene"))
}

// RegisterNotices registers fetch failure routes.
func (h *APIHandler) RegisterNotices(api huma.API) {
	huma.Get(api, "/api/v1/notices", h.GetNotices, huma.OperationTags("notices"))
}

type ViewOutput struct {
	Body service.ViewState
}

func (h *APIHandler) GetView(ctx context.Context, input *struct{}) (*ViewOutput, error) {
	return &ViewOutput{Body: h.svc.Store.View()}, nil
}

// PutView replaces the whole camera; every field is required.
func (h *APIHandler) PutView(ctx context.Context, input *struct{ Body service.ViewState }) (*ViewOutput, error) {
	h.svc.Store.SetViewState(input.Body)
	return &ViewOutput{Body: h.svc.Store.View()}, nil
}

type SceneBody struct {
	Active []service.LayerID         `json:"active" doc:"Active layers in draw order, loaded or not"`
	Layers []service.RenderableLayer `json:"layers" doc:"Renderable layers in draw order"`
}

func (h *APIHandler) GetScene(ctx context.Context, input *struct{}) (*struct{ Body SceneBody }, error) {
	active := h.svc.Store.ActiveLayers()
	if active == nil {
		active = []service.LayerID{}
	}
	return &struct{ Body SceneBody }{Body: SceneBody{
		Active: active,
		Layers: h.svc.Store.Scene(),
	}}, nil
}

type TooltipRequest struct {
	Layer      service.LayerID `json:"layer,omitempty" doc:"Picked layer; used with index" example:"google_places"`
	Index      *int            `json:"index,omitempty" minimum:"0" doc:"Picked item index within the layer"`
	Properties map[string]any  `json:"properties,omitempty" doc:"Hit attributes; takes precedence over layer/index"`
}

type TooltipBody struct {
	Visible bool                    `json:"visible" doc:"Whether a tooltip should be shown"`
	Content *service.TooltipContent `json:"content,omitempty" doc:"Tooltip fields present on the hit"`
}

// ResolveTooltip describes a hover. An empty request is a hover over nothing.
func (h *APIHandler) ResolveTooltip(ctx context.Context, input *struct{ Body TooltipRequest }) (*struct{ Body TooltipBody }, error) {
	req := input.Body

	hit := req.Properties
	if hit == nil && req.Layer != "" && req.Index != nil {
		if _, ok := h.svc.Store.Registry().Get(req.Layer); !ok {
			return nil, huma.Error404NotFound("layer " + string(req.Layer) + " not found")
		}
		hit, _ = service.Pick(h.svc.Store.Cache().Snapshot(), req.Layer, *req.Index)
	}

	out := &struct{ Body TooltipBody }{}
	if content, ok := service.ResolveTooltip(hit); ok {
		out.Body = TooltipBody{Visible: true, Content: &content}
	}
	return out, nil
}

type NoticesInput struct {
	Domain string `query:"domain" doc:"Only this data domain" example:"osm"`
}

type NoticesBody struct {
	Notices []service.Notice `json:"notices" doc:"Outstanding fetch failures grouped by domain"`
}

func (h *APIHandler) GetNotices(ctx context.Context, input *NoticesInput) (*struct{ Body NoticesBody }, error) {
	notices := []service.Notice{}
	if h.svc.Notices != nil {
		if input.Domain != "" {
			notices = append(notices, h.svc.Notices.Domain(input.Domain)...)
		} else {
			notices = h.svc.Notices.List()
		}
	}
	return &struct{ Body NoticesBody }{Body: NoticesBody{Notices: notices}}, nil
}
