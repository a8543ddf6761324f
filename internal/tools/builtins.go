package tools

import (
	"github.com/matchagon/bookly-agent/internal/registry"
)

// Builtins returns the seed tool definitions published into an empty
// registry. Admins can later edit descriptions and schemas or rebind
// handlers; the handler set itself stays closed.
func Builtins() []registry.ToolDefinition {
	return []registry.ToolDefinition{
		{
			Name:        "lookup_order",
			Description: "Look up order details by order ID or customer email. Use this when customer asks about order status, tracking, or delivery.",
			Handler:     HandlerLookupOrder,
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"order_id": map[string]any{
						"type":        "string",
						"description": "The order ID (e.g., ORD-1001)",
					},
					"customer_email": map[string]any{
						"type":        "string",
						"description": "Customer's email address",
					},
				},
			},
		},
		{
			Name:        "check_return_eligibility",
			Description: "Check if an order is eligible for return. Use this before processing any return request.",
			Handler:     HandlerCheckReturnEligibility,
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"order_id": map[string]any{
						"type":        "string",
						"description": "The order ID to check for return eligibility",
					},
				},
				"required": []any{"order_id"},
			},
		},
		{
			Name:        "initiate_return",
			Description: "Initiate a return for an eligible order. Only use after confirming eligibility and collecting the return reason from the customer.",
			Handler:     HandlerInitiateReturn,
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"order_id": map[string]any{
						"type":        "string",
						"description": "The order ID to return",
					},
					"reason": map[string]any{
						"type":        "string",
						"description": "The reason for the return (e.g., 'damaged', 'wrong_item', 'defective', 'never_arrived', 'didnt_like', 'changed_mind', 'no_longer_needed')",
					},
					"refund_type": map[string]any{
						"type":        "string",
						"enum":        []any{"cash", "store_credit"},
						"description": "Type of refund (determined automatically based on reason if not specified)",
					},
				},
				"required": []any{"order_id", "reason"},
			},
		},
	}
}
