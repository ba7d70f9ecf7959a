package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/pagesnap/pagesnap/browser"
	"github.com/pagesnap/pagesnap/kit"
)

// mcpService exposes the capture surface as MCP tools. Unlike the
// HTTP API it holds the browser manager directly: detect_embeds runs
// synchronously against a live tab instead of going through the queue.
type mcpService struct {
	api *server
	mgr *browser.Manager
}

func (m *mcpService) register(srv *mcp.Server) {
	m.registerCapturePage(srv)
	m.registerCaptureArea(srv)
	m.registerCaptureStatus(srv)
	m.registerDetectEmbeds(srv)
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

func (m *mcpService) registerCapturePage(srv *mcp.Server) {
	type req struct {
		URL string `json:"url"`
	}

	tool := &mcp.Tool{
		Name:        "capture_page",
		Description: "Capture a full-page screenshot of a URL; returns a capture id to poll",
		InputSchema: inputSchema(map[string]any{
			"url": map[string]any{"type": "string", "description": "Page URL (http or https)"},
		}, []string{"url"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		id, err := m.api.enqueue(ctx, enqueueRequest{URL: p.URL, Mode: "full_page"})
		if err != nil {
			return nil, err
		}
		return map[string]string{"id": id, "state": "queued"}, nil
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var p req
		if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &p}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

func (m *mcpService) registerCaptureArea(srv *mcp.Server) {
	type req struct {
		URL string `json:"url"`
		X   int    `json:"x"`
		Y   int    `json:"y"`
		W   int    `json:"w"`
		H   int    `json:"h"`
	}

	tool := &mcp.Tool{
		Name:        "capture_area",
		Description: "Capture a rectangle of a page in CSS pixel page coordinates",
		InputSchema: inputSchema(map[string]any{
			"url": map[string]any{"type": "string", "description": "Page URL"},
			"x":   map[string]any{"type": "integer", "description": "Left edge in page coordinates"},
			"y":   map[string]any{"type": "integer", "description": "Top edge in page coordinates"},
			"w":   map[string]any{"type": "integer", "description": "Width in CSS px"},
			"h":   map[string]any{"type": "integer", "description": "Height in CSS px"},
		}, []string{"url", "w", "h"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		id, err := m.api.enqueue(ctx, enqueueRequest{
			URL:  p.URL,
			Mode: "area",
			Rect: &rectSpec{X: p.X, Y: p.Y, W: p.W, H: p.H},
		})
		if err != nil {
			return nil, err
		}
		return map[string]string{"id": id, "state": "queued"}, nil
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var p req
		if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &p}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

func (m *mcpService) registerCaptureStatus(srv *mcp.Server) {
	type req struct {
		ID string `json:"id"`
	}

	tool := &mcp.Tool{
		Name:        "capture_status",
		Description: "Get the state and result metadata of a capture",
		InputSchema: inputSchema(map[string]any{
			"id": map[string]any{"type": "string", "description": "Capture id"},
		}, []string{"id"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		c, err := m.api.store.GetCapture(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		if c == nil {
			return nil, fmt.Errorf("capture %s not found", p.ID)
		}
		return captureJSON(c), nil
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var p req
		if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &p}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

func (m *mcpService) registerDetectEmbeds(srv *mcp.Server) {
	type req struct {
		URL string `json:"url"`
	}

	tool := &mcp.Tool{
		Name:        "detect_embeds",
		Description: "Find embeddable regions (players, iframes, figures) on a page with their geometry",
		InputSchema: inputSchema(map[string]any{
			"url": map[string]any{"type": "string", "description": "Page URL"},
		}, []string{"url"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		if err := validateURL(p.URL); err != nil {
			return nil, err
		}
		cands, err := detectEmbeds(ctx, m.mgr, p.URL)
		if err != nil {
			return nil, err
		}
		out := make([]map[string]any, 0, len(cands))
		for _, c := range cands {
			entry := map[string]any{
				"kind":   c.Kind,
				"source": c.SourceURL,
				"title":  c.Title,
			}
			if c.Rect != nil {
				entry["rect"] = map[string]int{
					"x": c.Rect.X, "y": c.Rect.Y, "w": c.Rect.W, "h": c.Rect.H,
				}
			}
			out = append(out, entry)
		}
		return out, nil
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var p req
		if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &p}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
