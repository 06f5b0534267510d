package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// listFilesTool returns the tool definition for list_files
func listFilesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_files",
		Description: "List files in the repository. Optionally filter by a directory path prefix. Use this to understand the project structure before reading specific files.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Optional directory path prefix to filter files (e.g. 'src/lib' or 'internal/store')",
				},
			},
		},
	}
}

// readFileTool returns the tool definition for read_file
func readFileTool() mcp.Tool {
	return mcp.Tool{
		Name:        "read_file",
		Description: "Read the contents of a specific file in the repository. Returns the full file content (truncated at ~100KB). Always use the exact file path from list_files results.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"filePath": map[string]interface{}{
					"type":        "string",
					"description": "The exact file path to read (e.g. 'internal/store/store.go')",
				},
			},
			Required: []string{"filePath"},
		},
	}
}

// searchCodeTool returns the tool definition for search_code
func searchCodeTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_code",
		Description: "Search for code patterns across the repository using GitHub code search. Returns matching file paths and code fragments. Use this to find where specific functions, variables, or patterns are used.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query (e.g. 'NewFetcher' or 'func handleWebhook' or 'import pgx')",
				},
			},
			Required: []string{"query"},
		},
	}
}

// Register adds the codebase tools to an MCP server. One ToolSet serves one
// conversation, so a stdio server process gets exactly one.
func Register(s *server.MCPServer, t *ToolSet) {
	s.AddTool(listFilesTool(), t.handleListFiles)
	s.AddTool(readFileTool(), t.handleReadFile)
	s.AddTool(searchCodeTool(), t.handleSearchCode)
}

func (t *ToolSet) handleListFiles(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})
	pathPrefix, _ := args["path"].(string)

	res, err := t.ListFiles(ctx, pathPrefix)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	return mcp.NewToolResultText(formatJSON(res)), nil
}

func (t *ToolSet) handleReadFile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid arguments")
	}
	filePath, ok := args["filePath"].(string)
	if !ok || filePath == "" {
		return nil, fmt.Errorf("filePath parameter is required")
	}

	return mcp.NewToolResultText(formatJSON(t.ReadFile(ctx, filePath))), nil
}

func (t *ToolSet) handleSearchCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid arguments")
	}
	query, ok := args["query"].(string)
	if !ok || query == "" {
		return nil, fmt.Errorf("query parameter is required")
	}

	return mcp.NewToolResultText(formatJSON(t.SearchCode(ctx, query))), nil
}

// formatJSON formats a response as indented JSON
func formatJSON(data interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}
