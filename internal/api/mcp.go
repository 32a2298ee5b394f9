package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/reviewd/internal/gateway"
	"github.com/kalambet/reviewd/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Gateway SubmissionService
}

// NewMCPServer creates an MCP server exposing the submission pipeline as
// tools, so editor integrations can submit code and poll for feedback.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"reviewd",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("reviewd — asynchronous code review with retrieval-backed feedback."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("submit_code",
			mcp.WithDescription("Submit a code snippet for asynchronous review. Returns a submission id to poll with get_feedback."),
			mcp.WithString("code", mcp.Description("The code to review"), mcp.Required()),
		),
		mcpSubmitCode(deps),
	)

	s.AddTool(
		mcp.NewTool("get_feedback",
			mcp.WithDescription("Fetch review feedback for a submission id. Returns processing until the review completes."),
			mcp.WithNumber("submission_id", mcp.Description("Submission id returned by submit_code"), mcp.Required()),
		),
		mcpGetFeedback(deps),
	)

	return s
}

func mcpSubmitCode(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		code, err := req.RequireString("code")
		if err != nil {
			return mcpError("code is required"), nil
		}

		receipt, err := deps.Gateway.Submit(ctx, code)
		if errors.Is(err, gateway.ErrEmptySubmission) {
			return mcpError("code must not be empty"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to accept submission: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Submission %d accepted (status: %s)", receipt.SubmissionID, receipt.Status)), nil
	}
}

func mcpGetFeedback(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireInt("submission_id")
		if err != nil {
			return mcpError("submission_id is required"), nil
		}

		status, err := deps.Gateway.Status(ctx, int64(id))
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("submission %d not found", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load feedback: %v", err)), nil
		}

		if status.State != gateway.StateDone {
			return mcpText(fmt.Sprintf("Submission %d is still processing", id)), nil
		}

		payload, err := json.Marshal(status.Findings)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to encode feedback: %v", err)), nil
		}
		return mcpText(string(payload)), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
