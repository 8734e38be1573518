package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rendis/actionkit/internal/logging"
	"github.com/rendis/actionkit/internal/store"
	"github.com/rendis/actionkit/pkg/action"
	"github.com/rendis/actionkit/pkg/schema"
)

// HistoryToolName is the tool listing recorded invocations.
const HistoryToolName = "actionkit.history"

var emptyObjectSchema = json.RawMessage(`{"type":"object"}`)

// actionTool describes inv as a tool whose input schema is the action's.
func (s *Server) actionTool(inv action.Invoker) server.ServerTool {
	inputSchema := emptyObjectSchema
	if in := inv.InputSchema(); in != nil {
		inputSchema = json.RawMessage(in.Raw())
	}
	tool := mcp.NewToolWithRawSchema(inv.Name(), inv.Description(), inputSchema)
	return server.ServerTool{Tool: tool, Handler: s.invokeHandler(inv)}
}

// invokeHandler runs inv with the tool arguments. Action failures are tool
// errors carrying the normalized error JSON, never protocol errors.
func (s *Server) invokeHandler(inv action.Invoker) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		invocationID := uuid.NewString()
		ctx = logging.WithIDs(ctx, invocationID, inv.Name())

		value, aErr, sig := inv.InvokeAny(ctx, req.GetRawArguments(), action.WithInvocationID(invocationID))
		if sig != nil {
			return signalResult(sig), nil
		}
		if aErr != nil {
			if aErr.Status() >= 500 {
				logging.LogWith(ctx, s.logger).Error("tool call failed", slog.String("code", aErr.Code))
			}
			return errorResult(aErr), nil
		}
		if raw, ok := value.(*schema.RawResponse); ok {
			return mcp.NewToolResultText(string(raw.Body)), nil
		}
		return marshalResult(value)
	}
}

func signalResult(err error) *mcp.CallToolResult {
	sig, ok := schema.AsControlSignal(err)
	if !ok {
		return errorResult(schema.Normalize(err))
	}
	switch sig.Kind {
	case schema.SignalRedirect:
		res, _ := marshalResult(map[string]any{
			"redirect": map[string]any{"location": sig.Location, "status": sig.Status},
		})
		return res
	default:
		return errorResult(schema.NewError(schema.ErrCodeNotFound, "Not found"))
	}
}

func errorResult(aErr *schema.ActionError) *mcp.CallToolResult {
	data, err := json.Marshal(aErr)
	if err != nil {
		return mcp.NewToolResultError(aErr.Message)
	}
	return mcp.NewToolResultError(string(data))
}

func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// --- History ---

func historyTool() mcp.Tool {
	return mcp.NewTool(HistoryToolName,
		mcp.WithDescription("List recorded action invocations, newest first"),
		mcp.WithString("action", mcp.Description("Only invocations of this action")),
		mcp.WithString("status",
			mcp.Enum("success", "failed", "timed_out", "signalled", "rejected"),
			mcp.Description("Only invocations with this outcome"),
		),
		mcp.WithString("since", mcp.Description("RFC 3339 timestamp or Go duration such as 1h")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of rows (default 50)")),
	)
}

func (s *Server) handleHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := store.InvocationFilter{
		Action: req.GetString("action", ""),
		Status: schema.InvocationStatus(req.GetString("status", "")),
		Limit:  req.GetInt("limit", 50),
	}
	if raw := req.GetString("since", ""); raw != "" {
		since, err := parseSince(raw, time.Now())
		if err != nil {
			return errorResult(schema.NewErrorf(schema.ErrCodeBadRequest, "Invalid since %q", raw).
				WithFieldErrors(map[string][]string{"since": {err.Error()}})), nil
		}
		filter.Since = &since
	}

	invs, err := s.store.ListInvocations(ctx, filter)
	if err != nil {
		logging.LogWith(ctx, s.logger).Error("list invocations", slog.Any("error", err))
		return errorResult(schema.Normalize(err)), nil
	}
	if invs == nil {
		invs = []*store.Invocation{}
	}
	return marshalResult(invs)
}

// parseSince accepts an RFC 3339 timestamp or a duration back from now.
func parseSince(raw string, now time.Time) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("want an RFC 3339 timestamp or a duration")
	}
	return now.Add(-d), nil
}
