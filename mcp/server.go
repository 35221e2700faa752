// Package mcp exposes a fieldsync client as MCP (Model Context Protocol)
// tools over stdio, so agents can record and inspect jobs.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hyperengineering/fieldsync"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Server wraps the MCP server with fieldsync tools.
type Server struct {
	client    *fieldsync.Client
	mcpServer *server.MCPServer
}

// ToolResult represents the result of a tool call.
type ToolResult struct {
	Content string
	IsError bool
}

// ToolInfo represents a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

var tools = []ToolInfo{
	{Name: "fieldsync_save", Description: "Create a job record, or update one when local_id is given. The change is stored locally and queued for sync."},
	{Name: "fieldsync_list", Description: "List job records in the local store, newest first."},
	{Name: "fieldsync_delete", Description: "Delete a job record by local id and queue its remote deletion."},
	{Name: "fieldsync_sync", Description: "Acquire a client identity if needed and replay queued changes against the remote authority."},
	{Name: "fieldsync_status", Description: "Report record counts, pending changes, identity and connectivity."},
}

// NewServer creates a new MCP server with fieldsync tools registered.
func NewServer(client *fieldsync.Client, version string) *Server {
	s := &Server{client: client}
	s.mcpServer = server.NewMCPServer(
		"fieldsync",
		version,
		server.WithToolCapabilities(true),
	)
	s.registerTools()
	return s
}

// Run serves MCP over stdin and stdout until the input is closed.
func (s *Server) Run() error {
	return server.ServeStdio(s.mcpServer)
}

// HandleMessage processes a raw JSON-RPC message and returns a response.
func (s *Server) HandleMessage(ctx context.Context, message json.RawMessage) mcp.JSONRPCMessage {
	return s.mcpServer.HandleMessage(ctx, message)
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	out := make([]ToolInfo, len(tools))
	copy(out, tools)
	return out
}

// CallTool executes a tool by name with the given arguments.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	switch name {
	case "fieldsync_save":
		return s.handleSave(ctx, args)
	case "fieldsync_list":
		return s.handleList(ctx, args)
	case "fieldsync_delete":
		return s.handleDelete(ctx, args)
	case "fieldsync_sync":
		return s.handleSync(ctx, args)
	case "fieldsync_status":
		return s.handleStatus(ctx, args)
	default:
		return &ToolResult{Content: fmt.Sprintf("unknown tool: %s", name), IsError: true}, nil
	}
}

func description(name string) string {
	for _, t := range tools {
		if t.Name == name {
			return t.Description
		}
	}
	return ""
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("fieldsync_save",
		mcp.WithDescription(description("fieldsync_save")),
		mcp.WithNumber("local_id", mcp.Description("Local id of the record to update; omit to create")),
		mcp.WithString("date", mcp.Description("Job date, e.g. 2024-05-01")),
		mcp.WithString("customer", mcp.Description("Customer name")),
		mcp.WithString("location", mcp.Description("Field or site")),
		mcp.WithString("area", mcp.Description("Treated area")),
		mcp.WithString("unit", mcp.Description("Area unit, e.g. ha")),
		mcp.WithArray("inputs",
			mcp.Description("Products applied, each as product=liters"),
			mcp.WithStringItems(),
		),
		mcp.WithString("recommendation", mcp.Description("Recommendation given")),
		mcp.WithString("notes", mcp.Description("Free-form notes")),
	), s.wrap(s.handleSave))

	s.mcpServer.AddTool(mcp.NewTool("fieldsync_list",
		mcp.WithDescription(description("fieldsync_list")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of records to return (default: all)")),
	), s.wrap(s.handleList))

	s.mcpServer.AddTool(mcp.NewTool("fieldsync_delete",
		mcp.WithDescription(description("fieldsync_delete")),
		mcp.WithNumber("local_id", mcp.Description("Local id of the record"), mcp.Required()),
	), s.wrap(s.handleDelete))

	s.mcpServer.AddTool(mcp.NewTool("fieldsync_sync",
		mcp.WithDescription(description("fieldsync_sync")),
	), s.wrap(s.handleSync))

	s.mcpServer.AddTool(mcp.NewTool("fieldsync_status",
		mcp.WithDescription(description("fieldsync_status")),
	), s.wrap(s.handleStatus))
}

type handler func(ctx context.Context, args map[string]any) (*ToolResult, error)

func (s *Server) wrap(h handler) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result, err := h(ctx, req.GetArguments())
		if err != nil {
			return nil, err
		}
		return toMCPResult(result), nil
	}
}

func toMCPResult(r *ToolResult) *mcp.CallToolResult {
	result := &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: r.Content,
			},
		},
	}
	if r.IsError {
		result.IsError = true
	}
	return result
}

var recordFields = []string{"date", "customer", "location", "area", "unit", "recommendation", "notes"}

func (s *Server) handleSave(ctx context.Context, args map[string]any) (*ToolResult, error) {
	var rec fieldsync.Record
	if id, ok := args["local_id"].(float64); ok && id > 0 {
		existing, err := s.client.Record(ctx, int64(id))
		if errors.Is(err, fieldsync.ErrNotFound) {
			return &ToolResult{Content: fmt.Sprintf("record %d not found", int64(id)), IsError: true}, nil
		}
		if err != nil {
			return &ToolResult{Content: fmt.Sprintf("save failed: %v", err), IsError: true}, nil
		}
		rec = *existing
	}

	changed := false
	for _, name := range recordFields {
		v, ok := args[name].(string)
		if !ok {
			continue
		}
		changed = true
		switch name {
		case "date":
			rec.Date = v
		case "customer":
			rec.Customer = v
		case "location":
			rec.Location = v
		case "area":
			rec.Area = v
		case "unit":
			rec.Unit = v
		case "recommendation":
			rec.Recommendation = v
		case "notes":
			rec.Notes = v
		}
	}
	if raw, ok := args["inputs"]; ok {
		changed = true
		rec.Inputs = []fieldsync.Input{}
		for _, item := range toStringSlice(raw) {
			in, err := fieldsync.ParseInput(item)
			if err != nil {
				return &ToolResult{Content: err.Error(), IsError: true}, nil
			}
			rec.Inputs = append(rec.Inputs, in)
		}
	}
	if !changed {
		return &ToolResult{Content: "at least one record field must be provided", IsError: true}, nil
	}

	saved, err := s.client.SaveRecord(ctx, rec)
	if err != nil {
		return &ToolResult{Content: fmt.Sprintf("save failed: %v", err), IsError: true}, nil
	}
	return &ToolResult{Content: "Saved " + formatRecord(*saved)}, nil
}

func (s *Server) handleList(ctx context.Context, args map[string]any) (*ToolResult, error) {
	records, err := s.client.Records(ctx)
	if err != nil {
		return &ToolResult{Content: fmt.Sprintf("list failed: %v", err), IsError: true}, nil
	}
	if limit, ok := args["limit"].(float64); ok && limit > 0 && int(limit) < len(records) {
		records = records[:int(limit)]
	}
	if len(records) == 0 {
		return &ToolResult{Content: "No records."}, nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d records:\n\n", len(records)))
	for _, r := range records {
		sb.WriteString(formatRecord(r))
		sb.WriteString("\n")
	}
	return &ToolResult{Content: sb.String()}, nil
}

func (s *Server) handleDelete(ctx context.Context, args map[string]any) (*ToolResult, error) {
	id, ok := args["local_id"].(float64)
	if !ok || id <= 0 {
		return &ToolResult{Content: "local_id is required", IsError: true}, nil
	}
	err := s.client.DeleteRecord(ctx, int64(id))
	if errors.Is(err, fieldsync.ErrNotFound) {
		return &ToolResult{Content: fmt.Sprintf("record %d not found", int64(id)), IsError: true}, nil
	}
	if err != nil {
		return &ToolResult{Content: fmt.Sprintf("delete failed: %v", err), IsError: true}, nil
	}
	return &ToolResult{Content: fmt.Sprintf("Deleted record %d", int64(id))}, nil
}

func (s *Server) handleSync(ctx context.Context, args map[string]any) (*ToolResult, error) {
	_, idErr := s.client.EnsureIdentity(ctx)
	res, err := s.client.Drain(ctx)
	if errors.Is(err, fieldsync.ErrOffline) {
		return &ToolResult{Content: "sync unavailable: no remote authority configured", IsError: true}, nil
	}
	if err != nil {
		return &ToolResult{Content: fmt.Sprintf("sync failed: %v", err), IsError: true}, nil
	}
	if res.Skipped == fieldsync.SkipNoIdentity && idErr != nil {
		return &ToolResult{Content: fmt.Sprintf("sync failed: %v", idErr), IsError: true}, nil
	}
	if res.Skipped != "" {
		return &ToolResult{Content: fmt.Sprintf("Sync skipped (%s); %d changes pending", res.Skipped, res.Remaining)}, nil
	}
	return &ToolResult{Content: fmt.Sprintf("Sync completed: %d replayed, %d failed, %d pending",
		res.Processed, res.Failed, res.Remaining)}, nil
}

func (s *Server) handleStatus(ctx context.Context, args map[string]any) (*ToolResult, error) {
	st, err := s.client.Stats(ctx)
	if err != nil {
		return &ToolResult{Content: fmt.Sprintf("status failed: %v", err), IsError: true}, nil
	}
	clientID := st.ClientID
	if clientID == "" {
		clientID = "(none)"
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Collection: %s\n", s.client.Collection()))
	sb.WriteString(fmt.Sprintf("Records: %d (%d not yet synced)\n", st.RecordCount, st.UnsyncedCount))
	sb.WriteString(fmt.Sprintf("Pending changes: %d\n", st.PendingCount))
	sb.WriteString(fmt.Sprintf("Client ID: %s\n", clientID))
	if st.IdentityError != "" {
		sb.WriteString(fmt.Sprintf("Sign-in failed, changes stay queued: %s\n", st.IdentityError))
	}
	sb.WriteString(fmt.Sprintf("Online: %t\n", st.Online))
	sb.WriteString(fmt.Sprintf("Listening: %t\n", st.ListenerActive))
	if !st.LastDrain.IsZero() {
		sb.WriteString(fmt.Sprintf("Last sync: %s\n", st.LastDrain.Format("2006-01-02 15:04:05")))
	}
	return &ToolResult{Content: sb.String()}, nil
}

func formatRecord(r fieldsync.Record) string {
	remote := r.RemoteID
	if remote == "" {
		remote = "unsynced"
	}
	parts := make([]string, 0, len(r.Inputs))
	for _, in := range r.Inputs {
		parts = append(parts, fmt.Sprintf("%s %.2fL", in.Product, in.Liters))
	}
	s := fmt.Sprintf("[%d] %s %s @ %s (%s %s) [%s]", r.LocalID, r.Date, r.Customer, r.Location, r.Area, r.Unit, remote)
	if len(parts) > 0 {
		s += "\n    inputs: " + strings.Join(parts, ", ")
	}
	if r.Recommendation != "" {
		s += "\n    recommendation: " + truncate(r.Recommendation, 100)
	}
	return s
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// toStringSlice converts []any or []string arguments to []string.
func toStringSlice(v any) []string {
	switch arr := v.(type) {
	case []string:
		return arr
	case []any:
		result := make([]string, 0, len(arr))
		for _, item := range arr {
			if s, ok := item.(string); ok {
				result = append(result, s)
			}
		}
		return result
	default:
		return nil
	}
}
