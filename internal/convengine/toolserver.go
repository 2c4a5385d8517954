package convengine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/relaydb/dbagent/internal/mcp"
)

// toolServerConnectTimeout and toolServerCallTimeout are the spec-mandated
// defaults for the External Tool-Server Manager (connect 5s, per-call 30s).
const (
	toolServerConnectTimeout = 5 * time.Second
	toolServerCallTimeout    = 30 * time.Second
)

// toolServerSeparator joins a server identity to a tool name in the
// catalog, so two servers may expose tools with the same bare name.
const toolServerSeparator = "__"

// ToolServerManager presents the exact surface spec.md §4.7 names
// (add_server/remove_server/list_tools/is_known_tool/call) over the
// generic MCP client manager, prefixing every tool with its owning
// server's identity to avoid catalog collisions.
type ToolServerManager struct {
	mgr *mcp.Manager
}

// NewToolServerManager wraps an already-constructed MCP manager.
func NewToolServerManager(mgr *mcp.Manager) *ToolServerManager {
	return &ToolServerManager{mgr: mgr}
}

// AddServer connects a new external tool-server, bounding the handshake to
// toolServerConnectTimeout.
func (t *ToolServerManager) AddServer(ctx context.Context, cfg *mcp.ServerConfig) error {
	ctx, cancel := context.WithTimeout(ctx, toolServerConnectTimeout)
	defer cancel()
	return t.mgr.Connect(ctx, cfg.ID)
}

// RemoveServer disconnects a server, withdrawing its tools from the catalog.
func (t *ToolServerManager) RemoveServer(name string) error {
	return t.mgr.Disconnect(name)
}

// ListTools returns every known tool across all connected servers, each
// named <serverID>__<toolName>.
func (t *ToolServerManager) ListTools() []ToolDef {
	var out []ToolDef
	for serverID, tools := range t.mgr.AllTools() {
		for _, tool := range tools {
			out = append(out, ToolDef{
				Name:        serverID + toolServerSeparator + tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			})
		}
	}
	return out
}

// IsKnownTool reports whether name (in <serverID>__<toolName> form) is
// presently exposed by some connected server.
func (t *ToolServerManager) IsKnownTool(name string) bool {
	_, _, ok := t.splitName(name)
	return ok
}

func (t *ToolServerManager) splitName(name string) (serverID, toolName string, ok bool) {
	idx := strings.Index(name, toolServerSeparator)
	if idx < 0 {
		return "", "", false
	}
	serverID, toolName = name[:idx], name[idx+len(toolServerSeparator):]
	for _, tool := range t.mgr.AllTools()[serverID] {
		if tool.Name == toolName {
			return serverID, toolName, true
		}
	}
	return "", "", false
}

// Call forwards a tool invocation to its owning server with the spec's
// default 30s per-call timeout. A timeout surfaces as a retryable error;
// the subprocess is left running per spec.md §4.7.
func (t *ToolServerManager) Call(ctx context.Context, name string, args json.RawMessage) (dispatchResult, error) {
	serverID, toolName, ok := t.splitName(name)
	if !ok {
		return dispatchResult{}, fmt.Errorf("unknown external tool %q", name)
	}

	var argMap map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &argMap); err != nil {
			return dispatchResult{Status: "error", Error: fmt.Sprintf("invalid arguments: %v", err)}, nil
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, toolServerCallTimeout)
	defer cancel()

	result, err := t.mgr.CallTool(callCtx, serverID, toolName, argMap)
	if err != nil {
		retryable := ctx.Err() == nil // a deadline/cancel on our own ctx isn't retryable
		return dispatchResult{Status: "error", Error: err.Error(), Retryable: retryable}, nil
	}

	var text strings.Builder
	for _, c := range result.Content {
		text.WriteString(c.Text)
	}
	if result.IsError {
		return dispatchResult{Status: "error", Error: text.String()}, nil
	}
	return dispatchResult{Status: "success", Content: text.String(), Source: "external"}, nil
}
