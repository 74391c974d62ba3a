package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/yosida95/uritemplate/v3"
)

// contextTemplateURI addresses one execution context of one instance.
const contextTemplateURI = "context://{instance}/{context_name}"

// registerResourceTemplates registers all MCP resource templates.
func (p *Platform) registerResourceTemplates() {
	p.mcpServer.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: contextTemplateURI,
		Name:        "Execution Context",
		Description: "State of one execution context: role, purpose, and connection status",
		MIMEType:    "application/json",
	}, p.handleContextResource)
}

// parseTemplateVars extracts named variables from a URI using a URI template.
// Returns a map of variable names to their values, or an error if the URI
// doesn't match the template.
func parseTemplateVars(templateStr, uri string) (map[string]string, error) {
	tmpl, err := uritemplate.New(templateStr)
	if err != nil {
		return nil, fmt.Errorf("invalid template %q: %w", templateStr, err)
	}

	match := tmpl.Match(uri)
	if match == nil {
		return nil, fmt.Errorf("uri %q does not match template %q", uri, templateStr)
	}

	result := make(map[string]string)
	for _, name := range tmpl.Varnames() {
		val := match.Get(name)
		result[name] = val.String()
	}
	return result, nil
}

// handleContextResource handles context://{instance}/{context_name} requests.
func (p *Platform) handleContextResource(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	uri := req.Params.URI
	vars, err := parseTemplateVars(contextTemplateURI, uri)
	if err != nil {
		return nil, mcp.ResourceNotFoundError(uri) //nolint:wrapcheck // MCP protocol error returned as-is for SDK type matching
	}

	instName := vars["instance"]
	contextName := vars["context_name"]
	if instName == "" || contextName == "" {
		return nil, mcp.ResourceNotFoundError(uri) //nolint:wrapcheck // MCP protocol error
	}

	inst, ok := p.instances[instName]
	if !ok {
		return nil, mcp.ResourceNotFoundError(uri) //nolint:wrapcheck // MCP protocol error
	}

	// Context names carry spaces and punctuation, so clients send them
	// percent-encoded.
	if decoded, decErr := url.PathUnescape(contextName); decErr == nil {
		contextName = decoded
	}

	for _, ec := range inst.AllContexts() {
		if ec.Name() != contextName {
			continue
		}
		return marshalResourceResult(uri, contextEntry{
			Instance:  instName,
			Name:      ec.Name(),
			Role:      string(ec.Role()),
			Purpose:   ec.Role().Purpose(),
			Connected: ec.Connected(),
		})
	}

	return nil, mcp.ResourceNotFoundError(uri) //nolint:wrapcheck // MCP protocol error
}

// marshalResourceResult marshals a value to JSON and wraps it in a ReadResourceResult.
func marshalResourceResult(uri string, v any) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling resource %s: %w", uri, err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      uri,
				MIMEType: "application/json",
				Text:     string(data),
			},
		},
	}, nil
}
