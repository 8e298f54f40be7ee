// MCP payload shapes and builders: initialize / tools / resources.
// These are pure builders with no validation responsibility; callers supply
// well-formed inputs.
package protocol

import "fmt"

// InitializeParams holds the parameters sent by an MCP client in the
// initialize request.
type InitializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities,omitempty"`
	ClientInfo      ClientInfo     `json:"clientInfo"`
}

// ClientInfo identifies the connecting MCP client.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ServerInfo identifies this server.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Capabilities describes what this server supports. The set is mostly
// static: tools and resources, no change notifications, no subscriptions.
type Capabilities struct {
	Tools     ToolsCapability     `json:"tools"`
	Resources ResourcesCapability `json:"resources"`
}

// ToolsCapability signals that the server exposes tools.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged"`
}

// ResourcesCapability signals that the server exposes resources.
type ResourcesCapability struct {
	Subscribe   bool `json:"subscribe"`
	ListChanged bool `json:"listChanged"`
}

// InitializeResultPayload is the response to the initialize request.
type InitializeResultPayload struct {
	ProtocolVersion string       `json:"protocolVersion"`
	Capabilities    Capabilities `json:"capabilities"`
	ServerInfo      ServerInfo   `json:"serverInfo"`
}

// InitializeResult builds the handshake result payload with this server's
// fixed identity.
func InitializeResult(name, version, protocolVersion string) InitializeResultPayload {
	return InitializeResultPayload{
		ProtocolVersion: protocolVersion,
		Capabilities:    Capabilities{},
		ServerInfo:      ServerInfo{Name: name, Version: version},
	}
}

// Tool describes a single tool exposed via tools/list.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// ToolsListResult builds the tools/list result payload.
func ToolsListResult(tools []Tool) map[string]any {
	if tools == nil {
		tools = []Tool{}
	}
	return map[string]any{"tools": tools}
}

// ToolCallParams holds the parameters sent in a tools/call request.
type ToolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ContentBlock is a single content block in a tool or resource result.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// TextContent builds a text content block.
func TextContent(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: text}
}

// ToolResult is the response payload for tools/call. Tool-execution
// failures set IsError and are delivered as a normal result, never as a
// protocol-level error.
type ToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// ToolResultContent builds a tools/call result payload.
func ToolResultContent(content []ContentBlock, isError bool) ToolResult {
	return ToolResult{Content: content, IsError: isError}
}

// ToolErrorf builds an isError tool result from a formatted message.
func ToolErrorf(format string, args ...any) ToolResult {
	return ToolResult{
		Content: []ContentBlock{TextContent(fmt.Sprintf(format, args...))},
		IsError: true,
	}
}

// Resource describes a single resource exposed via resources/list.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ResourceContent is one entry in a resources/read result.
type ResourceContent struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
}

// ResourcesListResult builds the resources/list result payload.
func ResourcesListResult(resources []Resource) map[string]any {
	if resources == nil {
		resources = []Resource{}
	}
	return map[string]any{"resources": resources}
}

// ResourceReadResult builds the resources/read result payload.
func ResourceReadResult(contents []ResourceContent) map[string]any {
	return map[string]any{"contents": contents}
}
