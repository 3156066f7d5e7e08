// Package humastar serves Datastar SSE streams and hypermedia links from
// Huma operations.
package humastar

import (
	"bytes"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-observatorio/internal/templates"
)

// Handler is embedded by panel handlers that answer with SSE streams.
type Handler struct {
	Renderer *templates.Renderer
}

// Stream runs fn against an SSE writer once Huma starts the response body.
func (h *Handler) Stream(fn func(sse SSE)) *huma.StreamResponse {
	return &huma.StreamResponse{
		Body: func(humaCtx huma.Context) {
			fn(NewSSE(humaCtx))
		},
	}
}

func (h *Handler) RenderList(tmpl string, items []any, emptyTitle, emptyMsg string) string {
	return RenderList(h.Renderer, tmpl, items, emptyTitle, emptyMsg)
}

// RenderList renders each item with tmpl. An empty list renders the
// "empty-state" template with the given title and message instead.
func RenderList(r *templates.Renderer, tmpl string, items []any, emptyTitle, emptyMsg string) string {
	var buf bytes.Buffer
	if len(items) == 0 {
		_ = r.RenderToBuffer(&buf, "empty-state", map[string]string{
			"Title": emptyTitle, "Message": emptyMsg,
		})
		return buf.String()
	}
	for _, item := range items {
		_ = r.RenderToBuffer(&buf, tmpl, item)
	}
	return buf.String()
}
