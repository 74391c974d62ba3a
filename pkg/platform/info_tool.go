package platform

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Info contains information about the server deployment.
type Info struct {
	Name      string         `json:"name"`
	Version   string         `json:"version"`
	Instances []instanceInfo `json:"instances"`
	Features  Features       `json:"features"`
}

// instanceInfo summarizes one managed instance.
type instanceInfo struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Contexts int    `json:"contexts"`
}

// Features describes enabled server features.
type Features struct {
	AuditLogging bool `json:"audit_logging"`
}

// serverInfoInput is empty since this tool has no parameters.
type serverInfoInput struct{}

// registerInfoTool registers the server_info tool with the MCP server.
func (p *Platform) registerInfoTool() {
	mcp.AddTool(p.mcpServer, &mcp.Tool{
		Name:        "server_info",
		Description: fmt.Sprintf("Get information about %s, including its managed database instances and enabled features. Call this first to understand what is available.", p.config.Server.Name),
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, req *mcp.CallToolRequest, _ serverInfoInput) (*mcp.CallToolResult, any, error) {
		return p.handleInfo(ctx, req)
	})
}

// handleInfo handles the server_info tool call.
func (p *Platform) handleInfo(_ context.Context, _ *mcp.CallToolRequest) (*mcp.CallToolResult, any, error) {
	kinds := make(map[string]string, len(p.config.Instances))
	for _, def := range p.config.Instances {
		kinds[def.Name] = def.Kind
	}

	instances := make([]instanceInfo, 0, len(p.order))
	for _, name := range p.order {
		instances = append(instances, instanceInfo{
			Name:     name,
			Kind:     kinds[name],
			Contexts: len(p.instances[name].AllContexts()),
		})
	}

	return toolJSON(Info{
		Name:      p.config.Server.Name,
		Version:   p.config.Server.Version,
		Instances: instances,
		Features: Features{
			AuditLogging: p.config.Audit.Enabled,
		},
	})
}
