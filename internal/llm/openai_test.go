package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func completionResponse(message map[string]any) string {
	data, _ := json.Marshal(map[string]any{
		"model": "test-model",
		"choices": []map[string]any{
			{"message": message, "finish_reason": "stop"},
		},
		"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5},
	})
	return string(data)
}

func TestChatRequestShape(t *testing.T) {
	var captured wireRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization header = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(completionResponse(map[string]any{"role": "assistant", "content": "hello!"})))
	}))
	defer server.Close()

	client := NewOpenAIClient(server.URL, "test-key", "test-model", nil)
	resp, err := client.Chat(context.Background(), ChatRequest{
		System: "be helpful",
		Messages: []Message{
			{Role: RoleUser, Content: "hi"},
			{Role: RoleAssistant, ToolCalls: []ToolCall{{
				ID: "call_1", Name: "lookup_order", Arguments: map[string]any{"order_id": "ORD-1001"},
			}}},
			{Role: RoleTool, ToolCallID: "call_1", Content: `{"success":true}`},
		},
		Tools: []ToolSchema{{Name: "lookup_order", Description: "d", Parameters: map[string]any{"type": "object"}}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "hello!" {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.InputTokens != 10 || resp.OutputTokens != 5 {
		t.Errorf("usage = %d/%d", resp.InputTokens, resp.OutputTokens)
	}

	// System text leads the message list.
	if len(captured.Messages) != 4 {
		t.Fatalf("wire messages = %d, want 4", len(captured.Messages))
	}
	if captured.Messages[0].Role != RoleSystem || captured.Messages[0].Content != "be helpful" {
		t.Errorf("system message = %+v", captured.Messages[0])
	}

	// Structured arguments serialize back to a JSON string on the wire.
	assistantMsg := captured.Messages[2]
	if len(assistantMsg.ToolCalls) != 1 {
		t.Fatalf("assistant wire message lost tool calls: %+v", assistantMsg)
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(assistantMsg.ToolCalls[0].Function.Arguments), &args); err != nil {
		t.Fatalf("wire arguments not JSON: %v", err)
	}
	if args["order_id"] != "ORD-1001" {
		t.Errorf("wire arguments = %v", args)
	}

	if captured.Messages[3].ToolCallID != "call_1" {
		t.Errorf("tool result lost its call id: %+v", captured.Messages[3])
	}

	if len(captured.Tools) != 1 || captured.Tools[0].Function.Name != "lookup_order" {
		t.Errorf("wire tools = %+v", captured.Tools)
	}
	if captured.ToolChoice != "auto" {
		t.Errorf("tool_choice = %q", captured.ToolChoice)
	}
}

func TestChatParsesToolCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(completionResponse(map[string]any{
			"role": "assistant",
			"tool_calls": []map[string]any{
				{
					"id":   "call_abc",
					"type": "function",
					"function": map[string]any{
						"name":      "check_return_eligibility",
						"arguments": `{"order_id":"ORD-1003"}`,
					},
				},
			},
		})))
	}))
	defer server.Close()

	client := NewOpenAIClient(server.URL, "", "", nil)
	resp, err := client.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(resp.ToolCalls))
	}
	call := resp.ToolCalls[0]
	if call.ID != "call_abc" || call.Name != "check_return_eligibility" {
		t.Errorf("call = %+v", call)
	}
	if call.Arguments["order_id"] != "ORD-1003" {
		t.Errorf("arguments = %v", call.Arguments)
	}
}

func TestChatMalformedArgumentsBecomeNil(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(completionResponse(map[string]any{
			"role": "assistant",
			"tool_calls": []map[string]any{
				{
					"id":   "call_abc",
					"type": "function",
					"function": map[string]any{
						"name":      "lookup_order",
						"arguments": `{"order_id": not json`,
					},
				},
			},
		})))
	}))
	defer server.Close()

	client := NewOpenAIClient(server.URL, "", "", nil)
	resp, err := client.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	// The call survives with nil arguments; schema validation downstream
	// reports the problem back to the model.
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(resp.ToolCalls))
	}
	if resp.ToolCalls[0].Arguments != nil {
		t.Errorf("arguments = %v, want nil", resp.ToolCalls[0].Arguments)
	}
}

func TestChatStatusErrors(t *testing.T) {
	tests := []struct {
		status    int
		temporary bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
	}

	for _, tc := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			w.Write([]byte("nope"))
		}))

		client := NewOpenAIClient(server.URL, "", "", nil)
		_, err := client.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
		server.Close()

		var status *StatusError
		if !errors.As(err, &status) {
			t.Fatalf("status %d: expected *StatusError, got %v", tc.status, err)
		}
		if status.StatusCode != tc.status {
			t.Errorf("status code = %d, want %d", status.StatusCode, tc.status)
		}
		if status.Temporary() != tc.temporary {
			t.Errorf("status %d: Temporary() = %v, want %v", tc.status, status.Temporary(), tc.temporary)
		}
	}
}

func TestChatNoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"model":"m","choices":[]}`))
	}))
	defer server.Close()

	client := NewOpenAIClient(server.URL, "", "", nil)
	if _, err := client.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}}); err == nil {
		t.Fatal("expected an error for an empty choices list")
	}
}
