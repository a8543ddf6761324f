// Package tools implements the builtin tool handlers and their
// executor.
//
// Dispatch is a closed, explicitly enumerated set: a tool definition's
// Handler field selects one of the builtins below, and nothing else is
// executable. Handlers return their results as JSON payloads; expected
// absence (order not found, ineligible order) is reported inside the
// payload so the model is told about it honestly, never raised as an
// execution failure.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/matchagon/bookly-agent/internal/orders"
)

// Handler names in the builtin set.
const (
	HandlerLookupOrder            = "lookup_order"
	HandlerCheckReturnEligibility = "check_return_eligibility"
	HandlerInitiateReturn         = "initiate_return"
)

// IsBuiltin reports whether a handler name is in the closed builtin set.
func IsBuiltin(handler string) bool {
	switch handler {
	case HandlerLookupOrder, HandlerCheckReturnEligibility, HandlerInitiateReturn:
		return true
	}
	return false
}

// Reasons that qualify for a cash refund versus store credit only.
var (
	cashRefundReasons  = []string{"damaged", "wrong_item", "defective", "never_arrived"}
	storeCreditReasons = []string{"didnt_like", "changed_mind", "no_longer_needed"}
)

// Executor invokes builtin handlers against structured arguments.
// Arguments have already been schema-validated by the caller.
type Executor struct {
	orders orders.Store
	logger *slog.Logger
}

// NewExecutor creates an executor over the given order store.
func NewExecutor(store orders.Store, logger *slog.Logger) *Executor {
	return &Executor{orders: store, logger: logger}
}

// Execute runs the named handler and returns its JSON result payload.
// An error return means the handler itself is unknown or the context
// was cancelled; domain-level failures are part of the payload.
func (e *Executor) Execute(ctx context.Context, handler string, args map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	switch handler {
	case HandlerLookupOrder:
		return e.lookupOrder(ctx, args)
	case HandlerCheckReturnEligibility:
		return e.checkReturnEligibility(ctx, args)
	case HandlerInitiateReturn:
		return e.initiateReturn(ctx, args)
	default:
		return "", fmt.Errorf("unknown handler: %s", handler)
	}
}

func (e *Executor) lookupOrder(ctx context.Context, args map[string]any) (string, error) {
	orderID, _ := args["order_id"].(string)
	email, _ := args["customer_email"].(string)

	switch {
	case orderID != "":
		order, err := e.orders.ByID(ctx, orderID)
		if errors.Is(err, orders.ErrNotFound) {
			return failure(fmt.Sprintf("Order %s not found", orderID)), nil
		}
		if err != nil {
			return "", fmt.Errorf("lookup order %s: %w", orderID, err)
		}
		return resultJSON(map[string]any{"success": true, "order": order}), nil

	case email != "":
		matches, err := e.orders.ByEmail(ctx, email)
		if errors.Is(err, orders.ErrNotFound) {
			return failure(fmt.Sprintf("No orders found for %s", email)), nil
		}
		if err != nil {
			return "", fmt.Errorf("lookup orders for %s: %w", email, err)
		}
		return resultJSON(map[string]any{"success": true, "orders": matches}), nil

	default:
		return failure("Please provide either order_id or customer_email"), nil
	}
}

func (e *Executor) checkReturnEligibility(ctx context.Context, args map[string]any) (string, error) {
	orderID, _ := args["order_id"].(string)

	_, payload, err := e.eligibility(ctx, orderID)
	if err != nil {
		return "", err
	}
	return resultJSON(payload), nil
}

// eligibility is the single source of truth for return eligibility.
// initiate_return calls it again server-side even when the model claims
// it already checked.
func (e *Executor) eligibility(ctx context.Context, orderID string) (bool, map[string]any, error) {
	order, err := e.orders.ByID(ctx, orderID)
	if errors.Is(err, orders.ErrNotFound) {
		return false, map[string]any{
			"eligible": false,
			"reason":   fmt.Sprintf("Order %s not found", orderID),
		}, nil
	}
	if err != nil {
		return false, nil, fmt.Errorf("lookup order %s: %w", orderID, err)
	}

	if order.Status != "Delivered" {
		return false, map[string]any{
			"eligible": false,
			"reason":   fmt.Sprintf("Order is currently '%s'. Only delivered orders can be returned.", order.Status),
		}, nil
	}

	if !order.ReturnEligible {
		return false, map[string]any{
			"eligible": false,
			"reason":   fmt.Sprintf("Order was delivered on %s, which is outside the 30-day return window.", order.DeliveryDate),
		}, nil
	}

	return true, map[string]any{
		"eligible":      true,
		"reason":        "Order is eligible for return.",
		"order_id":      order.ID,
		"delivery_date": order.DeliveryDate,
		"items":         order.Items,
		"total":         order.Total,
	}, nil
}

func (e *Executor) initiateReturn(ctx context.Context, args map[string]any) (string, error) {
	orderID, _ := args["order_id"].(string)
	reason, _ := args["reason"].(string)
	refundType, _ := args["refund_type"].(string)

	// Re-verify eligibility regardless of what the model asserts.
	eligible, payload, err := e.eligibility(ctx, orderID)
	if err != nil {
		return "", err
	}
	if !eligible {
		reason, _ := payload["reason"].(string)
		return failure(reason), nil
	}

	order, err := e.orders.ByID(ctx, orderID)
	if err != nil {
		return "", fmt.Errorf("lookup order %s: %w", orderID, err)
	}

	e.logger.Info("return initiated",
		"order", orderID,
		"reason", reason,
		"refund_type", determineRefundType(reason, refundType),
	)

	return resultJSON(map[string]any{
		"success":       true,
		"return_id":     returnID(orderID),
		"order_id":      orderID,
		"items":         order.Items,
		"refund_amount": order.Total,
		"refund_type":   determineRefundType(reason, refundType),
		"instructions": "Please pack the item(s) securely. A prepaid return label will be sent " +
			"to your email within 24 hours. Once we receive the return, your refund will be " +
			"processed within 3-5 business days.",
	}), nil
}

// determineRefundType maps the return reason onto a refund type.
// Unrecognized reasons default to store credit unless the caller
// supplied an explicit type.
func determineRefundType(reason, explicit string) string {
	normalized := strings.ReplaceAll(strings.ToLower(reason), " ", "_")

	for _, r := range cashRefundReasons {
		if strings.Contains(normalized, r) {
			return "cash"
		}
	}
	for _, r := range storeCreditReasons {
		if strings.Contains(normalized, r) {
			return "store_credit"
		}
	}
	if explicit != "" {
		return explicit
	}
	return "store_credit"
}

// returnID derives a return authorization ID from the order number,
// e.g. ORD-1001 -> RET-1001.
func returnID(orderID string) string {
	if _, num, ok := strings.Cut(orderID, "-"); ok {
		return "RET-" + num
	}
	return "RET-" + orderID
}

func failure(reason string) string {
	return resultJSON(map[string]any{"success": false, "error": reason})
}

func resultJSON(payload map[string]any) string {
	data, err := json.Marshal(payload)
	if err != nil {
		// Payloads are built from plain maps and structs; a marshal
		// failure would be a programming error.
		return `{"success":false,"error":"internal result encoding failure"}`
	}
	return string(data)
}
