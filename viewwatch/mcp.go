package viewwatch

import (
	"context"
	"errors"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/viewtrack/kit"
)

// NewMCPServer returns an MCP server exposing the watcher tools.
func (w *Watcher) NewMCPServer(version string) *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: "viewwatch", Version: version}, nil)
	w.RegisterMCP(srv)
	return srv
}

// RegisterMCP registers viewwatch tools on an MCP server.
func (w *Watcher) RegisterMCP(srv *mcp.Server) {
	w.registerPagesTool(srv)
	w.registerVisibleTool(srv)
	w.registerReloadTool(srv)
	w.registerObserveTool(srv)
	w.registerStopTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

var pageIDSchema = inputSchema(map[string]any{
	"page_id": map[string]any{"type": "string", "description": "Tracked page ID"},
}, []string{"page_id"})

type pageRequest struct {
	PageID string `json:"page_id"`
}

func (r *pageRequest) page() string { return r.PageID }

var errPageIDRequired = errors.New("viewwatch: page_id is required")

// requirePage rejects page-scoped calls that carry no page ID.
func requirePage(next kit.Endpoint) kit.Endpoint {
	return func(ctx context.Context, req any) (any, error) {
		if p, ok := req.(interface{ page() string }); ok && p.page() == "" {
			return nil, errPageIDRequired
		}
		return next(ctx, req)
	}
}

// logCalls logs every tool call with its outcome and duration.
func (w *Watcher) logCalls(tool string) kit.Middleware {
	return func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			if err != nil {
				w.logger.Warn("viewwatch: tool call failed", "tool", tool,
					"transport", kit.GetTransport(ctx), "error", err)
			} else {
				w.logger.Debug("viewwatch: tool call", "tool", tool,
					"transport", kit.GetTransport(ctx), "duration", time.Since(start))
			}
			return resp, err
		}
	}
}

func (w *Watcher) addTool(srv *mcp.Server, tool *mcp.Tool, endpoint kit.Endpoint, decode func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error)) {
	endpoint = kit.Chain(w.logCalls(tool.Name), requirePage)(endpoint)
	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

func (w *Watcher) registerPagesTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "viewwatch_pages",
		Description: "List tracked pages with element counts, visible counts and per-event report counts.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	endpoint := func(ctx context.Context, _ any) (any, error) {
		return w.Sessions(ctx), nil
	}
	w.addTool(srv, tool, endpoint, kit.DecodeJSON[struct{}]())
}

func (w *Watcher) registerVisibleTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "viewwatch_visible",
		Description: "Elements of a tracked page currently more than two thirds inside the viewport, in the order they became visible.",
		InputSchema: pageIDSchema,
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*pageRequest)
		refs, err := w.Visible(ctx, r.PageID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"page_id": r.PageID, "visible": refs}, nil
	}
	w.addTool(srv, tool, endpoint, kit.DecodeJSON[pageRequest]())
}

func (w *Watcher) registerReloadTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "viewwatch_reload",
		Description: "Re-resolve the tracked elements of a page after its DOM changed. Emits init and an exposure flush.",
		InputSchema: pageIDSchema,
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*pageRequest)
		if err := w.Reload(ctx, r.PageID); err != nil {
			return nil, err
		}
		return map[string]string{"status": "reloaded", "page_id": r.PageID}, nil
	}
	w.addTool(srv, tool, endpoint, kit.DecodeJSON[pageRequest]())
}

type observeRequest struct {
	PageID    string   `json:"page_id"`
	URL       string   `json:"url"`
	Selector  string   `json:"selector"`
	Container string   `json:"container,omitempty"`
	KeyAttr   string   `json:"key_attr,omitempty"`
	Kinds     []string `json:"kinds,omitempty"`
}

func (r *observeRequest) page() string { return r.PageID }

func (w *Watcher) registerObserveTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "viewwatch_observe",
		Description: "Open a page and start tracking the elements matching a CSS selector.",
		InputSchema: inputSchema(map[string]any{
			"page_id":   map[string]any{"type": "string", "description": "Stable page identifier"},
			"url":       map[string]any{"type": "string", "description": "Page URL"},
			"selector":  map[string]any{"type": "string", "description": "CSS selector of tracked elements"},
			"container": map[string]any{"type": "string", "description": "CSS selector of the scroll container (default: viewport)"},
			"key_attr":  map[string]any{"type": "string", "description": "Attribute reported as element key"},
			"kinds":     map[string]any{"type": "array", "items": map[string]any{"type": "string", "enum": []any{"exposure", "stay"}}},
		}, []string{"page_id", "url", "selector"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*observeRequest)
		err := w.ObservePage(ctx, PageConfig{
			ID:        r.PageID,
			URL:       r.URL,
			Selector:  r.Selector,
			Container: r.Container,
			KeyAttr:   r.KeyAttr,
			Kinds:     r.Kinds,
		})
		if err != nil {
			return nil, err
		}
		return map[string]string{"status": "observing", "page_id": r.PageID}, nil
	}
	w.addTool(srv, tool, endpoint, kit.DecodeJSON[observeRequest]())
}

func (w *Watcher) registerStopTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "viewwatch_stop",
		Description: "Stop tracking a page and close its tab.",
		InputSchema: pageIDSchema,
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*pageRequest)
		if err := w.StopPage(ctx, r.PageID); err != nil {
			return nil, err
		}
		return map[string]string{"status": "stopped", "page_id": r.PageID}, nil
	}
	w.addTool(srv, tool, endpoint, kit.DecodeJSON[pageRequest]())
}
