package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// 工具名称
const (
	ToolGetCustomerInfo     = "get_customer_info"
	ToolGetCallHistory      = "get_call_history"
	ToolCreateClaim         = "create_claim"
	ToolSearchKnowledgeBase = "search_knowledge_base"
	ToolGetProductInfo      = "get_product_info"
)

var validPriorities = map[string]bool{"low": true, "medium": true, "high": true, "urgent": true}

var knowledgeCategories = map[string]bool{"policy": true, "shipping": true, "support": true, "warranty": true}

func decodeArgs(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is required", field)
	}
	return nil
}

// CallCenterTools 返回基于 dir 的五个呼叫中心工具。
func CallCenterTools(dir Directory) []Tool {
	return []Tool{
		{
			Name:        ToolGetCustomerInfo,
			Description: "Get customer details: total calls, recent call ids and active claims.",
			Parameters: json.RawMessage(`{"type":"object","properties":{` +
				`"customer_id":{"type":"string","description":"The unique identifier for the customer"}},` +
				`"required":["customer_id"]}`),
			Handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
				var args struct {
					CustomerID string `json:"customer_id"`
				}
				if err := decodeArgs(raw, &args); err != nil {
					return nil, err
				}
				if err := required("customer_id", args.CustomerID); err != nil {
					return nil, err
				}
				return dir.Customer(ctx, args.CustomerID)
			},
		},
		{
			Name:        ToolGetCallHistory,
			Description: "Get the status, duration and transcript of a past call.",
			Parameters: json.RawMessage(`{"type":"object","properties":{` +
				`"call_id":{"type":"string","description":"The unique identifier for the call"}},` +
				`"required":["call_id"]}`),
			Handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
				var args struct {
					CallID string `json:"call_id"`
				}
				if err := decodeArgs(raw, &args); err != nil {
					return nil, err
				}
				if err := required("call_id", args.CallID); err != nil {
					return nil, err
				}
				rec, err := dir.CallHistory(ctx, args.CallID)
				if err != nil {
					return nil, err
				}
				if rec.Messages == nil {
					rec.Messages = []Message{}
				}
				return rec, nil
			},
		},
		{
			Name:        ToolCreateClaim,
			Description: "Create a new claim (refund, complaint, technical_issue) for the customer.",
			Parameters: json.RawMessage(`{"type":"object","properties":{` +
				`"customer_id":{"type":"string"},` +
				`"claim_type":{"type":"string","description":"e.g. refund, complaint, technical_issue"},` +
				`"description":{"type":"string"},` +
				`"priority":{"type":"string","enum":["low","medium","high","urgent"]}},` +
				`"required":["customer_id","claim_type","description"]}`),
			Handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
				var req ClaimRequest
				if err := decodeArgs(raw, &req); err != nil {
					return nil, err
				}
				for field, v := range map[string]string{
					"customer_id": req.CustomerID,
					"claim_type":  req.ClaimType,
					"description": req.Description,
				} {
					if err := required(field, v); err != nil {
						return nil, err
					}
				}
				if req.Priority == "" {
					req.Priority = "medium"
				}
				if !validPriorities[req.Priority] {
					return nil, fmt.Errorf("invalid priority %q", req.Priority)
				}
				claim, err := dir.CreateClaim(ctx, req)
				if err != nil {
					return nil, err
				}
				return map[string]string{
					"claim_id": claim.ID,
					"status":   claim.Status,
					"message":  "Claim created successfully with ID " + claim.ID,
				}, nil
			},
		},
		{
			Name:        ToolSearchKnowledgeBase,
			Description: "Search policy, shipping, support and warranty articles.",
			Parameters: json.RawMessage(`{"type":"object","properties":{` +
				`"query":{"type":"string","description":"The search query"},` +
				`"category":{"type":"string","enum":["policy","shipping","support","warranty"]}},` +
				`"required":["query"]}`),
			Handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
				var args struct {
					Query    string `json:"query"`
					Category string `json:"category"`
				}
				if err := decodeArgs(raw, &args); err != nil {
					return nil, err
				}
				if err := required("query", args.Query); err != nil {
					return nil, err
				}
				if args.Category != "" && !knowledgeCategories[args.Category] {
					return nil, fmt.Errorf("unknown category %q", args.Category)
				}
				results, err := dir.SearchKnowledge(ctx, args.Query, args.Category)
				if err != nil {
					return nil, err
				}
				return map[string]any{
					"results": results,
					"count":   len(results),
					"query":   args.Query,
				}, nil
			},
		},
		{
			Name:        ToolGetProductInfo,
			Description: "Get price, category, stock and description of a product.",
			Parameters: json.RawMessage(`{"type":"object","properties":{` +
				`"product_id":{"type":"string","description":"The product ID"}},` +
				`"required":["product_id"]}`),
			Handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
				var args struct {
					ProductID string `json:"product_id"`
				}
				if err := decodeArgs(raw, &args); err != nil {
					return nil, err
				}
				p, err := dir.Product(ctx, args.ProductID)
				if errors.Is(err, ErrNotFound) {
					ids, _ := dir.ProductIDs(ctx)
					return map[string]any{
						"error":              fmt.Sprintf("Product %s not found", args.ProductID),
						"available_products": ids,
					}, nil
				}
				if err != nil {
					return nil, err
				}
				return p, nil
			},
		},
	}
}
