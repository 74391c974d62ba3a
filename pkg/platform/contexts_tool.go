package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/txn2/mcp-dbinstance/pkg/audit"
	"github.com/txn2/mcp-dbinstance/pkg/instance"
)

// contextEntry describes a single execution context.
type contextEntry struct {
	Instance  string `json:"instance"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	Purpose   string `json:"purpose,omitempty"`
	Connected bool   `json:"connected"`
}

// listContextsInput selects which instances to list.
type listContextsInput struct {
	Instance string `json:"instance,omitempty" jsonschema:"limit listing to one instance"`
}

// listContextsOutput is the JSON response for the list_contexts tool.
type listContextsOutput struct {
	Contexts []contextEntry `json:"contexts"`
	Count    int            `json:"count"`
}

// openContextInput names the instance and the kind of context to open.
type openContextInput struct {
	Instance string `json:"instance" jsonschema:"instance name"`
	Purpose  string `json:"purpose,omitempty" jsonschema:"purpose tag for an isolated context"`
	Metadata bool   `json:"metadata,omitempty" jsonschema:"open the shared metadata context instead of an isolated one"`
}

// closeContextInput names the context to close.
type closeContextInput struct {
	Instance    string `json:"instance" jsonschema:"instance name"`
	ContextName string `json:"context_name" jsonschema:"name of the context to close"`
}

// shutdownInstanceInput names the instance to shut down.
type shutdownInstanceInput struct {
	Instance     string `json:"instance" jsonschema:"instance name"`
	KeepMetadata bool   `json:"keep_metadata,omitempty" jsonschema:"keep the metadata context open"`
}

// registerContextTools registers the execution context tools with the MCP
// server.
func (p *Platform) registerContextTools() {
	mcp.AddTool(p.mcpServer, &mcp.Tool{
		Name:        "list_contexts",
		Description: "List the execution contexts of the managed database instances, with role and connection state.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, req *mcp.CallToolRequest, in listContextsInput) (*mcp.CallToolResult, any, error) {
		return p.handleListContexts(ctx, req, in)
	})

	mcp.AddTool(p.mcpServer, &mcp.Tool{
		Name:        "open_context",
		Description: "Open an execution context on an instance: an isolated context for a stated purpose, or the shared metadata context.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, in openContextInput) (*mcp.CallToolResult, any, error) {
		return p.handleOpenContext(ctx, req, in)
	})

	mcp.AddTool(p.mcpServer, &mcp.Tool{
		Name:        "close_context",
		Description: "Close one execution context of an instance by name.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, in closeContextInput) (*mcp.CallToolResult, any, error) {
		return p.handleCloseContext(ctx, req, in)
	})

	mcp.AddTool(p.mcpServer, &mcp.Tool{
		Name:        "shutdown_instance",
		Description: "Close all execution contexts of an instance, optionally keeping the metadata context.",
		Annotations: &mcp.ToolAnnotations{DestructiveHint: boolPtr(true)},
	}, func(ctx context.Context, req *mcp.CallToolRequest, in shutdownInstanceInput) (*mcp.CallToolResult, any, error) {
		return p.handleShutdownInstance(ctx, req, in)
	})
}

func boolPtr(b bool) *bool { return &b }

// handleListContexts handles the list_contexts tool call.
func (p *Platform) handleListContexts(_ context.Context, _ *mcp.CallToolRequest, in listContextsInput) (*mcp.CallToolResult, any, error) {
	names := p.order
	if in.Instance != "" {
		if _, ok := p.instances[in.Instance]; !ok {
			return toolError(fmt.Sprintf("unknown instance %q", in.Instance)), nil, nil
		}
		names = []string{in.Instance}
	}

	var entries []contextEntry
	for _, name := range names {
		for _, ec := range p.instances[name].AllContexts() {
			entries = append(entries, contextEntry{
				Instance:  name,
				Name:      ec.Name(),
				Role:      string(ec.Role()),
				Purpose:   ec.Role().Purpose(),
				Connected: ec.Connected(),
			})
		}
	}

	return toolJSON(listContextsOutput{Contexts: entries, Count: len(entries)})
}

// handleOpenContext handles the open_context tool call.
func (p *Platform) handleOpenContext(ctx context.Context, _ *mcp.CallToolRequest, in openContextInput) (*mcp.CallToolResult, any, error) {
	inst, ok := p.instances[in.Instance]
	if !ok {
		return toolError(fmt.Sprintf("unknown instance %q", in.Instance)), nil, nil
	}
	if !in.Metadata && in.Purpose == "" {
		return toolError("purpose is required for isolated contexts"), nil, nil
	}

	mon := instance.NewSlogMonitor(p.log)
	started := time.Now()

	var ec instance.ExecutionContext
	var err error
	if in.Metadata {
		ec, err = inst.InitializeMetaContext(ctx, mon)
	} else {
		ec, err = inst.OpenIsolatedContext(ctx, mon, in.Purpose)
	}
	if err != nil {
		p.auditEvent(ctx, audit.NewEvent(audit.EventTypeConnectFailed, in.Instance).
			WithPurpose(in.Purpose).
			WithDuration(time.Since(started)).
			WithError(err))
		return toolError(err.Error()), nil, nil
	}
	if ec == nil {
		return toolError(fmt.Sprintf("instance %q has no context to serve the request", in.Instance)), nil, nil
	}

	p.auditEvent(ctx, audit.NewEvent(audit.EventTypeContextOpened, in.Instance).
		WithContext(ec.Name(), string(ec.Role())).
		WithPurpose(in.Purpose).
		WithDuration(time.Since(started)))

	return toolJSON(contextEntry{
		Instance:  in.Instance,
		Name:      ec.Name(),
		Role:      string(ec.Role()),
		Purpose:   ec.Role().Purpose(),
		Connected: ec.Connected(),
	})
}

// handleCloseContext handles the close_context tool call.
func (p *Platform) handleCloseContext(ctx context.Context, _ *mcp.CallToolRequest, in closeContextInput) (*mcp.CallToolResult, any, error) {
	inst, ok := p.instances[in.Instance]
	if !ok {
		return toolError(fmt.Sprintf("unknown instance %q", in.Instance)), nil, nil
	}

	var target instance.ExecutionContext
	for _, ec := range inst.AllContexts() {
		if ec.Name() == in.ContextName {
			target = ec
			break
		}
	}
	if target == nil {
		return toolError(fmt.Sprintf("context %q not found on instance %q", in.ContextName, in.Instance)), nil, nil
	}

	event := audit.NewEvent(audit.EventTypeContextClosed, in.Instance).
		WithContext(target.Name(), string(target.Role()))
	if err := target.Close(); err != nil {
		p.auditEvent(ctx, event.WithError(err))
		return toolError(err.Error()), nil, nil
	}
	p.auditEvent(ctx, event)

	return toolJSON(map[string]any{"closed": in.ContextName, "instance": in.Instance})
}

// handleShutdownInstance handles the shutdown_instance tool call.
func (p *Platform) handleShutdownInstance(ctx context.Context, _ *mcp.CallToolRequest, in shutdownInstanceInput) (*mcp.CallToolResult, any, error) {
	inst, ok := p.instances[in.Instance]
	if !ok {
		return toolError(fmt.Sprintf("unknown instance %q", in.Instance)), nil, nil
	}

	closing := len(inst.AllContexts())
	started := time.Now()
	inst.ShutdownKeeping(instance.NewSlogMonitor(p.log), in.KeepMetadata)

	p.auditEvent(ctx, audit.NewEvent(audit.EventTypeInstanceShutdown, in.Instance).
		WithDuration(time.Since(started)))

	return toolJSON(map[string]any{
		"instance":  in.Instance,
		"closed":    closing - len(inst.AllContexts()),
		"remaining": len(inst.AllContexts()),
	})
}

// auditEvent records an event, logging failures instead of surfacing them:
// audit must never break the operation it describes.
func (p *Platform) auditEvent(ctx context.Context, event *audit.Event) {
	if err := p.auditLogger.Log(ctx, *event); err != nil {
		p.log.Warn("recording audit event", "type", event.Type, "error", err)
	}
}

// toolJSON marshals a value into a successful tool result.
func toolJSON(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return toolError(err.Error()), nil, nil //nolint:nilerr // MCP protocol: tool errors are returned in CallToolResult.IsError, not as Go errors
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(data)},
		},
	}, nil, nil
}

// toolError wraps a message in an error tool result.
func toolError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: "Error: " + msg},
		},
		IsError: true,
	}
}
