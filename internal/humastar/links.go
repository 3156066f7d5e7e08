package humastar

import (
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
)

// Links derives RFC 8288 Link headers from the registered OpenAPI paths.
// Create it before the API so its Transformer can be installed, then call
// Build once every route is registered.
type Links struct {
	entry string
	skip  []string

	mu     sync.RWMutex
	byPath map[string][]string
}

// NewLinks returns an empty link set rooted at entry. Operations tagged with
// any of skip (SSE endpoints) get no links.
func NewLinks(entry string, skip ...string) *Links {
	return &Links{entry: entry, skip: skip, byPath: map[string][]string{}}
}

type pathInfo struct {
	path string
	tags []string
}

// Build walks the OpenAPI paths and computes the links of each.
func (l *Links) Build(api huma.API) {
	oapi := api.OpenAPI()
	m := map[string][]string{}
	add := func(from, to, rel string) {
		val := fmt.Sprintf(`<%s>; rel="%s"`, to, rel)
		for _, existing := range m[from] {
			if existing == val {
				return
			}
		}
		m[from] = append(m[from], val)
	}

	var collections, items []pathInfo
	for p, pi := range oapi.Paths {
		tags := primaryTags(pi)
		if l.skipped(tags) {
			continue
		}
		info := pathInfo{path: p, tags: tags}
		if strings.Contains(p, "{") {
			items = append(items, info)
		} else {
			collections = append(collections, info)
		}
	}

	// Items point up to the nearest registered ancestor: a layer action to
	// its layer, a layer to the layer list.
	for _, item := range items {
		if parent, ok := ancestor(oapi, item.path); ok {
			if !strings.Contains(parent, "{") {
				add(item.path, parent, "collection")
			}
			add(item.path, parent, "up")
		}
		pi := oapi.Paths[item.path]
		if pi.Put != nil || pi.Patch != nil {
			add(item.path, item.path, "edit")
		}
	}

	for _, coll := range collections {
		for _, item := range items {
			if path.Dir(item.path) == coll.path {
				add(coll.path, item.path, "item")
			}
		}
		if coll.path == l.entry {
			continue
		}
		add(coll.path, l.entry, "up")
		add(l.entry, coll.path, lastSegment(coll.path))
		if pi := oapi.Paths[coll.path]; pi.Put != nil {
			add(coll.path, coll.path, "edit")
		}
	}

	// Collections sharing a tag link to each other.
	for i, a := range collections {
		for j, b := range collections {
			if i != j && sharedTag(a.tags, b.tags) {
				add(a.path, b.path, lastSegment(b.path))
			}
		}
	}

	add(l.entry, "/openapi.json", "service-desc")
	add(l.entry, "/docs", "service-doc")

	for _, all := range [][]pathInfo{collections, items} {
		for _, pi := range all {
			if ref := responseSchemaRef(oapi.Paths[pi.path]); ref != "" {
				add(pi.path, "/openapi.json#/components/schemas/"+ref, "describedby")
			}
		}
	}

	// Document the relationships in the OpenAPI document too.
	for p, pi := range oapi.Paths {
		headers, ok := m[p]
		if !ok {
			continue
		}
		for _, op := range operationsOf(pi) {
			if op != nil {
				injectResponseLinks(op, headers)
			}
		}
	}

	l.mu.Lock()
	l.byPath = m
	l.mu.Unlock()
}

// For returns the links computed for an OpenAPI path.
func (l *Links) For(p string) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.byPath[p]
}

// Entry returns the links of the entry point, for non-Huma handlers.
func (l *Links) Entry() []string {
	return l.For(l.entry)
}

// Transformer injects the computed links, a self link on item routes and
// the actions of Actor bodies.
func (l *Links) Transformer() huma.Transformer {
	return func(ctx huma.Context, status string, v any) (any, error) {
		op := ctx.Operation()
		if op == nil {
			return v, nil
		}
		for _, link := range l.For(op.Path) {
			ctx.AppendHeader("Link", link)
		}
		if strings.Contains(op.Path, "{") {
			ctx.AppendHeader("Link", fmt.Sprintf(`<%s>; rel="self"`, ctx.URL().Path))
		}
		if a, ok := v.(Actor); ok {
			for _, action := range a.Actions() {
				ctx.AppendHeader("Link", action.LinkHeader())
			}
		}
		return v, nil
	}
}

func (l *Links) skipped(tags []string) bool {
	for _, s := range l.skip {
		for _, t := range tags {
			if s == t {
				return true
			}
		}
	}
	return false
}

// ancestor returns the closest registered parent path of p.
func ancestor(oapi *huma.OpenAPI, p string) (string, bool) {
	for dir := path.Dir(p); dir != "/" && dir != "."; dir = path.Dir(dir) {
		if _, ok := oapi.Paths[dir]; ok {
			return dir, true
		}
	}
	return "", false
}

func primaryTags(pi *huma.PathItem) []string {
	for _, op := range operationsOf(pi) {
		if op != nil && len(op.Tags) > 0 {
			return op.Tags
		}
	}
	return nil
}

func operationsOf(pi *huma.PathItem) []*huma.Operation {
	return []*huma.Operation{pi.Get, pi.Post, pi.Put, pi.Patch, pi.Delete}
}

func sharedTag(a, b []string) bool {
	for _, at := range a {
		for _, bt := range b {
			if at == bt {
				return true
			}
		}
	}
	return false
}

func lastSegment(p string) string {
	parts := strings.Split(strings.TrimRight(p, "/"), "/")
	return parts[len(parts)-1]
}

func injectResponseLinks(op *huma.Operation, headers []string) {
	var resp *huma.Response
	for code, r := range op.Responses {
		if strings.HasPrefix(code, "2") {
			resp = r
			break
		}
	}
	if resp == nil {
		return
	}
	if resp.Links == nil {
		resp.Links = map[string]*huma.Link{}
	}
	for _, h := range headers {
		rel, href := parseLinkHeader(h)
		if rel == "" {
			continue
		}
		resp.Links[rel] = &huma.Link{
			OperationRef: href,
			Description:  "Related: " + rel,
		}
	}
}

func responseSchemaRef(pi *huma.PathItem) string {
	if pi.Get == nil {
		return ""
	}
	for code, resp := range pi.Get.Responses {
		if !strings.HasPrefix(code, "2") || resp.Content == nil {
			continue
		}
		for _, mt := range resp.Content {
			if mt.Schema != nil && mt.Schema.Ref != "" {
				return path.Base(mt.Schema.Ref)
			}
		}
	}
	return ""
}

// parseLinkHeader splits `<url>; rel="name"`.
func parseLinkHeader(h string) (rel, href string) {
	parts := strings.SplitN(h, ";", 2)
	if len(parts) < 2 {
		return "", ""
	}
	href = strings.Trim(strings.TrimSpace(parts[0]), "<>")
	relPart := strings.TrimSpace(parts[1])
	if strings.HasPrefix(relPart, `rel="`) {
		rel = strings.Trim(relPart[4:], `"`)
	}
	return rel, href
}
