package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/skygate-io/skygate/pkg/models"
)

// Tool argument structs.

type sessionArgs struct {
	SessionID string `json:"session_id"`
}

type searchArgs struct {
	SessionID    string   `json:"session_id"`
	AOI          string   `json:"aoi"`
	FromDate     string   `json:"from_date"`
	ToDate       string   `json:"to_date"`
	ProductTypes []string `json:"product_types"`
	Resolution   string   `json:"resolution"`
	OpenData     *bool    `json:"open_data"`
}

type prepareArgs struct {
	SessionID string `json:"session_id"`
	ArchiveID string `json:"archive_id"`
	AOI       string `json:"aoi"`
}

type confirmArgs struct {
	Token            string `json:"token"`
	ConfirmationCode string `json:"confirmation_code"`
}

type historyArgs struct {
	Limit int `json:"limit"`
}

// toolHandler handles one tool call.
type toolHandler func(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult

var toolHandlers = map[string]toolHandler{
	"skygate_begin_authentication": handleBeginAuth,
	"skygate_check_authentication": handleCheckAuth,
	"skygate_search_archives":      handleSearch,
	"skygate_prepare_purchase":     handlePrepare,
	"skygate_confirm_purchase":     handleConfirm,
	"skygate_budget_status":        handleBudgetStatus,
	"skygate_order_history":        handleOrderHistory,
}

var sessionProperty = map[string]any{
	"type":        "string",
	"description": "Agent session ID (optional, defaults to this server's session)",
}

// allTools is the list of tool definitions exposed via tools/list.
var allTools = []ToolDefinition{
	{
		Name: "skygate_begin_authentication",
		Description: "Get a one-time web link where the user enters their imagery API key. " +
			"The key never passes through the conversation. The link expires after a few minutes.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"session_id": sessionProperty,
			},
		},
	},
	{
		Name:        "skygate_check_authentication",
		Description: "Check whether the session has a verified imagery API key. Safe to poll.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"session_id": sessionProperty,
			},
		},
	},
	{
		Name:        "skygate_search_archives",
		Description: "Search the satellite imagery catalog for archives covering an area and date range.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"aoi", "from_date", "to_date"},
			"properties": map[string]any{
				"session_id": sessionProperty,
				"aoi": map[string]any{
					"type":        "string",
					"description": "Area of interest as a WKT polygon",
				},
				"from_date": map[string]any{
					"type":        "string",
					"description": "Start date in YYYY-MM-DD format",
				},
				"to_date": map[string]any{
					"type":        "string",
					"description": "End date in YYYY-MM-DD format",
				},
				"product_types": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Filter by product types (optional)",
				},
				"resolution": map[string]any{
					"type":        "string",
					"description": "Filter by resolution class (optional)",
				},
				"open_data": map[string]any{
					"type":        "boolean",
					"description": "Restrict to open data (optional)",
				},
			},
		},
	},
	{
		Name: "skygate_prepare_purchase",
		Description: "Price an archive purchase and get a purchase token plus a confirmation code. " +
			"Nothing is bought yet; the quote expires after a few minutes.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"archive_id", "aoi"},
			"properties": map[string]any{
				"session_id": sessionProperty,
				"archive_id": map[string]any{
					"type":        "string",
					"description": "Catalog archive ID to purchase",
				},
				"aoi": map[string]any{
					"type":        "string",
					"description": "Area of interest as a WKT polygon",
				},
			},
		},
	},
	{
		Name: "skygate_confirm_purchase",
		Description: "Confirm a prepared purchase with its token and confirmation code. " +
			"This spends real money. Each token works exactly once.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"token", "confirmation_code"},
			"properties": map[string]any{
				"token": map[string]any{
					"type":        "string",
					"description": "Purchase token from skygate_prepare_purchase",
				},
				"confirmation_code": map[string]any{
					"type":        "string",
					"description": "Confirmation code from skygate_prepare_purchase",
				},
			},
		},
	},
	{
		Name:        "skygate_budget_status",
		Description: "Show configured spend ceilings and committed spend for the session and the day.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"session_id": sessionProperty,
			},
		},
	},
	{
		Name:        "skygate_order_history",
		Description: "List recently placed orders.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum number of orders to return (optional, default 20)",
				},
			},
		},
	},
}

func textResult(text string) ToolCallResult {
	return ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
	}
}

func errorResult(text string) ToolCallResult {
	return ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
		IsError: true,
	}
}

func handleBeginAuth(_ context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args sessionArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	sid := s.session(args.SessionID)

	link, ttl, err := s.deps.Auth.Start(sid)
	if err != nil {
		return errorResult("Could not issue an authentication link: " + err.Error())
	}
	return textResult(fmt.Sprintf(
		"Open this link to enter your imagery API key:\n\n%s\n\n"+
			"The link works once and expires in %.0f seconds. "+
			"Use skygate_check_authentication to see when the key is configured.",
		link, ttl.Seconds()))
}

func handleCheckAuth(_ context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args sessionArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	sid := s.session(args.SessionID)

	if !s.deps.Auth.Status(sid) {
		return textResult("Not authenticated. Use skygate_begin_authentication to get a link.")
	}
	if email := s.deps.Sessions.Email(sid); email != "" {
		return textResult("Authenticated as " + email + ".")
	}
	return textResult("Authenticated.")
}

func handleSearch(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args searchArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	if args.AOI == "" || args.FromDate == "" || args.ToDate == "" {
		return errorResult("aoi, from_date and to_date are required")
	}
	sid := s.session(args.SessionID)

	apiKey, ok := s.deps.Sessions.Credential(sid)
	if !ok {
		return errorResult("Not authenticated. Use skygate_begin_authentication first.")
	}

	req := models.SearchRequest{
		AOI:          args.AOI,
		FromDate:     args.FromDate,
		ToDate:       args.ToDate,
		OpenData:     true,
		ProductTypes: args.ProductTypes,
		Resolution:   args.Resolution,
	}
	if args.OpenData != nil {
		req.OpenData = *args.OpenData
	}

	archives, err := s.deps.Search.SearchArchives(ctx, apiKey, req)
	if err != nil {
		return errorResult("Archive search failed: " + err.Error())
	}
	return textResult(formatArchives(archives))
}

func handlePrepare(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args prepareArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	if args.ArchiveID == "" || args.AOI == "" {
		return errorResult("archive_id and aoi are required")
	}
	sid := s.session(args.SessionID)

	prepared, err := s.deps.Orders.Prepare(ctx, sid, models.OrderSpec{
		ArchiveID: args.ArchiveID,
		AOI:       args.AOI,
	})
	if err != nil {
		return errorResult(describePrepareError(err))
	}
	return textResult(formatPrepared(prepared))
}

func handleConfirm(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args confirmArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	if args.Token == "" || args.ConfirmationCode == "" {
		return errorResult("token and confirmation_code are required")
	}

	ref, err := s.deps.Orders.Confirm(ctx, args.Token, args.ConfirmationCode)
	if err != nil {
		return errorResult(describeConfirmError(err))
	}
	return textResult(fmt.Sprintf("Order placed.\n\nOrder ID: %s\n\nThe image will be available from your account's download page.", ref))
}

func handleBudgetStatus(_ context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args sessionArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	sid := s.session(args.SessionID)
	return textResult(formatBudget(s.deps.Guard, sid))
}

func handleOrderHistory(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.deps.History == nil {
		return textResult("Order history is not configured.")
	}
	var args historyArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	limit := args.Limit
	if limit <= 0 {
		limit = 20
	}
	orders, err := s.deps.History.List(ctx, limit)
	if err != nil {
		return errorResult("Error fetching order history: " + err.Error())
	}
	return textResult(formatOrders(orders))
}
