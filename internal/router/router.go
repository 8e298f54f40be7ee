// Package router dispatches validated MCP messages to registered
// handlers.
//
// Routes:
//
//	initialize                -> server capabilities handshake
//	initialized               -> notification (no response)
//	notifications/cancelled   -> notification (no response)
//	ping                      -> pong
//	tools/list                -> registered tool descriptors
//	tools/call                -> tool handler dispatch
//	resources/list            -> registered resource descriptors
//	resources/read            -> resource provider dispatch
//
// Protocol-level problems (unknown method, malformed params) surface as
// JSON-RPC errors; tool-execution problems are converted into a successful
// response whose payload marks itself as a tool error, so the peer's
// application layer handles them instead of its transport layer.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/scrypster/cogwire/internal/protocol"
)

// ToolHandler executes one named tool with free-form arguments. A non-nil
// error is a tool-level failure and is reported inside a normal result
// payload, never as a protocol error.
type ToolHandler func(ctx context.Context, name string, args map[string]any) (protocol.ToolResult, error)

// ResourceProvider resolves a resource URI to text content. ok reports
// whether this provider recognizes the URI.
type ResourceProvider func(ctx context.Context, uri string) (content string, ok bool, err error)

// Router holds the method and tool registries. Registration happens once
// during setup, before the server begins serving; the registries are
// read-only thereafter (by contract, not enforced mechanically).
type Router struct {
	serverName      string
	serverVersion   string
	protocolVersion string

	tools        []protocol.Tool
	toolHandlers map[string]ToolHandler
	resources    []protocol.Resource
	providers    []ResourceProvider
	initialized  bool

	log *log.Logger
}

// New creates a router that answers the handshake with the given fixed
// server identity.
func New(name, version, protocolVersion string) *Router {
	return &Router{
		serverName:      name,
		serverVersion:   version,
		protocolVersion: protocolVersion,
		toolHandlers:    make(map[string]ToolHandler),
		log:             log.New(os.Stderr, "cogwire-router: ", log.LstdFlags),
	}
}

// RegisterTools adds a tools module: a set of descriptors sharing one
// handler. Duplicate names across calls are allowed; the first registrant
// wins, deterministically.
func (r *Router) RegisterTools(tools []protocol.Tool, handler ToolHandler) {
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		if _, exists := r.toolHandlers[t.Name]; exists {
			continue
		}
		r.toolHandlers[t.Name] = handler
		r.tools = append(r.tools, t)
		names = append(names, t.Name)
	}
	r.log.Printf("registered %d tools: %v", len(names), names)
}

// RegisterResources adds a resources provider.
func (r *Router) RegisterResources(resources []protocol.Resource, provider ResourceProvider) {
	r.resources = append(r.resources, resources...)
	r.providers = append(r.providers, provider)
	r.log.Printf("registered %d resources", len(resources))
}

// ToolCount returns the number of registered tools.
func (r *Router) ToolCount() int { return len(r.tools) }

// ResourceCount returns the number of registered resource descriptors.
func (r *Router) ResourceCount() int { return len(r.resources) }

// Dispatch routes a validated message to exactly one handler. A nil result
// with a nil error means "no response", the case for every notification,
// per protocol. Protocol failures return a *protocol.Error.
func (r *Router) Dispatch(ctx context.Context, kind protocol.MessageKind, frame *protocol.Frame) (any, error) {
	// No response is ever emitted for a notification.
	if kind == protocol.KindNotification {
		switch frame.Method {
		case "initialized", "notifications/initialized":
			r.initialized = true
		case "notifications/cancelled":
			// Single-stream sequential dispatch has nothing in flight to cancel.
		}
		return nil, nil
	}

	switch frame.Method {
	case "initialize":
		return r.handleInitialize(frame.Params), nil
	case "ping":
		return map[string]any{}, nil
	case "tools/list":
		return protocol.ToolsListResult(r.tools), nil
	case "tools/call":
		return r.handleToolsCall(ctx, frame.Params)
	case "resources/list":
		return protocol.ResourcesListResult(r.resources), nil
	case "resources/read":
		return r.handleResourcesRead(ctx, frame.Params)
	default:
		return nil, protocol.NewError(protocol.CodeMethodNotFound,
			fmt.Sprintf("Unknown method: %s", frame.Method))
	}
}

// handleInitialize echoes the fixed server identity. The peer's declared
// protocol version is logged but never validated (forward/backward
// tolerance).
func (r *Router) handleInitialize(params json.RawMessage) protocol.InitializeResultPayload {
	var p protocol.InitializeParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			r.log.Printf("initialize params unparseable: %v", err)
		}
	}
	r.log.Printf("client initialize: %s protocol=%s", p.ClientInfo.Name, p.ProtocolVersion)
	return protocol.InitializeResult(r.serverName, r.serverVersion, r.protocolVersion)
}

func (r *Router) handleToolsCall(ctx context.Context, params json.RawMessage) (any, error) {
	var p protocol.ToolCallParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, protocol.NewError(protocol.CodeInvalidParams,
				fmt.Sprintf("Malformed tools/call params: %v", err))
		}
	}
	if p.Name == "" {
		return nil, protocol.NewError(protocol.CodeInvalidParams, "Missing tool name")
	}

	handler, ok := r.toolHandlers[p.Name]
	if !ok {
		return nil, protocol.NewError(protocol.CodeMethodNotFound,
			fmt.Sprintf("Unknown tool: %s", p.Name))
	}

	result, err := handler(ctx, p.Name, p.Arguments)
	if err != nil {
		// Deliberate asymmetry: a failing tool is an application-level
		// outcome, reported inside a successful protocol response.
		r.log.Printf("tool %s error: %v", p.Name, err)
		return protocol.ToolErrorf("Tool error: %v", err), nil
	}
	return result, nil
}

func (r *Router) handleResourcesRead(ctx context.Context, params json.RawMessage) (any, error) {
	var p struct {
		URI string `json:"uri"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, protocol.NewError(protocol.CodeInvalidParams,
				fmt.Sprintf("Malformed resources/read params: %v", err))
		}
	}
	if p.URI == "" {
		return nil, protocol.NewError(protocol.CodeInvalidParams, "Missing resource URI")
	}

	for _, provider := range r.providers {
		content, ok, err := provider(ctx, p.URI)
		if err != nil {
			r.log.Printf("resource %s error: %v", p.URI, err)
			return nil, protocol.NewError(protocol.CodeInternalError,
				fmt.Sprintf("Resource error: %v", err))
		}
		if ok {
			return protocol.ResourceReadResult([]protocol.ResourceContent{{
				URI:      p.URI,
				MimeType: "text/plain",
				Text:     content,
			}}), nil
		}
	}

	return nil, protocol.NewError(protocol.CodeInvalidParams,
		fmt.Sprintf("Resource not found: %s", p.URI))
}
