// Package mcpserver exposes craving search and recommendations as MCP tools.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/ca-srg/cravings/internal/menu"
	"github.com/ca-srg/cravings/internal/metrics"
)

const (
	ToolFindCraving    = "find_craving"
	ToolRecommendItems = "recommend_items"

	maxTopN = 20
)

// Searcher answers craving queries.
type Searcher interface {
	FindCraving(ctx context.Context, raw string) ([]menu.SearchMatch, error)
}

// Recommender suggests menu items for a user.
type Recommender interface {
	Recommend(ctx context.Context, userID string, topN int) ([]menu.MenuItem, error)
}

// Tools implements the tool handlers.
type Tools struct {
	searcher    Searcher
	recommender Recommender
	defaultTopN int
	logger      zerolog.Logger
}

// NewTools builds the handlers. defaultTopN applies when a call omits top_n.
func NewTools(searcher Searcher, recommender Recommender, defaultTopN int, logger zerolog.Logger) *Tools {
	if defaultTopN <= 0 {
		defaultTopN = 3
	}
	return &Tools{
		searcher:    searcher,
		recommender: recommender,
		defaultTopN: defaultTopN,
		logger:      logger.With().Str("component", "mcpserver").Logger(),
	}
}

// NewServer returns an MCP server with both tools registered.
func NewServer(tools *Tools, version string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "cravings", Version: version}, nil)
	server.AddTool(findCravingTool(), tools.HandleFindCraving)
	server.AddTool(recommendItemsTool(), tools.HandleRecommendItems)
	return server
}

func findCravingTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        ToolFindCraving,
		Description: "Find up to three menu items matching a free-text craving such as \"something cold and sweet\".",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"craving": {Type: "string", Description: "What the user feels like eating or drinking"},
			},
			Required: []string{"craving"},
		},
	}
}

func recommendItemsTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        ToolRecommendItems,
		Description: "Recommend menu items for a user based on their order history.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"user_id": {Type: "string", Description: "User identifier"},
				"top_n":   {Type: "integer", Description: "Number of items to return (default 3, max 20)"},
			},
			Required: []string{"user_id"},
		},
	}
}

type findCravingArgs struct {
	Craving string `json:"craving"`
}

type recommendArgs struct {
	UserID string `json:"user_id"`
	TopN   int    `json:"top_n"`
}

// CravingResult is the JSON payload of a find_craving call.
type CravingResult struct {
	Craving string             `json:"craving"`
	Matches []menu.SearchMatch `json:"matches"`
}

// RecommendResult is the JSON payload of a recommend_items call.
type RecommendResult struct {
	Recommendations []menu.MenuItemView `json:"recommendations"`
}

func (t *Tools) HandleFindCraving(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	started := time.Now()
	metrics.RecordInvocation(metrics.ModeMCP)

	var args findCravingArgs
	if err := decodeArgs(req, &args); err != nil {
		recordToolCall(ctx, ToolFindCraving, started, "invalid_arguments")
		return errorResult(err.Error()), nil
	}
	if strings.TrimSpace(args.Craving) == "" {
		recordToolCall(ctx, ToolFindCraving, started, "invalid_arguments")
		return errorResult("Missing craving"), nil
	}

	matches, err := t.searcher.FindCraving(ctx, args.Craving)
	if err != nil {
		t.logger.Error().Err(err).Msg("find_craving failed")
		recordToolCall(ctx, ToolFindCraving, started, "internal")
		return errorResult("internal error"), nil
	}

	recordToolCall(ctx, ToolFindCraving, started, "")
	return jsonResult(CravingResult{Craving: args.Craving, Matches: matches})
}

func (t *Tools) HandleRecommendItems(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	started := time.Now()
	metrics.RecordInvocation(metrics.ModeMCP)

	var args recommendArgs
	if err := decodeArgs(req, &args); err != nil {
		recordToolCall(ctx, ToolRecommendItems, started, "invalid_arguments")
		return errorResult(err.Error()), nil
	}
	if strings.TrimSpace(args.UserID) == "" {
		recordToolCall(ctx, ToolRecommendItems, started, "invalid_arguments")
		return errorResult("Missing user_id"), nil
	}
	topN := args.TopN
	if topN <= 0 {
		topN = t.defaultTopN
	}
	if topN > maxTopN {
		topN = maxTopN
	}

	items, err := t.recommender.Recommend(ctx, args.UserID, topN)
	if err != nil {
		t.logger.Error().Err(err).Str("user_id", args.UserID).Msg("recommend_items failed")
		recordToolCall(ctx, ToolRecommendItems, started, "internal")
		return errorResult("internal error"), nil
	}

	views := make([]menu.MenuItemView, 0, len(items))
	for _, item := range items {
		views = append(views, item.View())
	}
	recordToolCall(ctx, ToolRecommendItems, started, "")
	return jsonResult(RecommendResult{Recommendations: views})
}

func decodeArgs(req *mcp.CallToolRequest, out any) error {
	if req == nil || req.Params == nil || len(req.Params.Arguments) == 0 {
		return nil
	}
	if err := json.Unmarshal(req.Params.Arguments, out); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tool result: %w", err)
	}
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(data)}}}, nil
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
		IsError: true,
	}
}
