package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/matchagon/bookly-agent/internal/agent"
	"github.com/matchagon/bookly-agent/internal/llm"
	"github.com/matchagon/bookly-agent/internal/metrics"
	"github.com/matchagon/bookly-agent/internal/orders"
	"github.com/matchagon/bookly-agent/internal/registry"
	"github.com/matchagon/bookly-agent/internal/session"
	"github.com/matchagon/bookly-agent/internal/tools"
)

// echoClient answers every completion call with a fixed reply.
type echoClient struct {
	reply string
}

func (c *echoClient) Chat(_ context.Context, _ llm.ChatRequest) (*llm.ChatResponse, error) {
	return &llm.ChatResponse{Content: c.reply}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *session.Store, *registry.Registry) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	sessions, err := session.Open(filepath.Join(t.TempDir(), "api.db"), 30*time.Minute, logger)
	if err != nil {
		t.Fatalf("open session store: %v", err)
	}
	t.Cleanup(func() { sessions.Close() })

	store, err := registry.NewStore(sessions.DB())
	if err != nil {
		t.Fatalf("create registry store: %v", err)
	}
	reg, err := registry.New(logger, store, tools.IsBuiltin, tools.Builtins(), registry.DefaultPolicy)
	if err != nil {
		t.Fatalf("create registry: %v", err)
	}

	exec := tools.NewExecutor(orders.NewFixtureStore(), logger)
	loop := agent.New(logger, &echoClient{reply: "happy to help!"}, reg, sessions, exec, agent.Options{})
	agg := metrics.NewAggregator(sessions)

	srv := NewServer("", 0, loop, reg, sessions, agg, logger)
	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)
	return ts, sessions, reg
}

func postJSON(t *testing.T, url string, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp, decodeBody(t, resp)
}

func getJSON(t *testing.T, url string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	return resp, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("body is not JSON: %v\n%s", err, data)
	}
	return payload
}

func TestChatEndpoint(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, payload := postJSON(t, ts.URL+"/v1/chat", `{"message":"hello"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if payload["success"] != true {
		t.Errorf("success = %v", payload["success"])
	}
	if payload["response"] != "happy to help!" {
		t.Errorf("response = %v", payload["response"])
	}

	// A session id is allocated when the client does not supply one.
	sessionID, _ := payload["session_id"].(string)
	if sessionID == "" {
		t.Fatal("no session_id allocated")
	}

	// Reusing the id continues the same session.
	resp, payload = postJSON(t, ts.URL+"/v1/chat", fmt.Sprintf(`{"session_id":%q,"message":"thanks"}`, sessionID))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if payload["session_id"] != sessionID {
		t.Errorf("session_id changed across turns: %v", payload["session_id"])
	}
}

func TestChatEndpointRejectsBadBodies(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, _ := postJSON(t, ts.URL+"/v1/chat", `not json`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid JSON: status = %d, want 400", resp.StatusCode)
	}

	resp, _ = postJSON(t, ts.URL+"/v1/chat", `{"message":""}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty message: status = %d, want 400", resp.StatusCode)
	}
}

func TestResetEndpoint(t *testing.T) {
	ts, sessions, _ := newTestServer(t)

	if _, payload := postJSON(t, ts.URL+"/v1/chat", `{"session_id":"s1","message":"hello"}`); payload["success"] != true {
		t.Fatalf("chat failed: %v", payload)
	}

	resp, payload := postJSON(t, ts.URL+"/v1/sessions/s1/reset", "")
	if resp.StatusCode != http.StatusOK || payload["success"] != true {
		t.Fatalf("reset failed: %d %v", resp.StatusCode, payload)
	}

	history, err := sessions.History("s1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("history survived reset: %+v", history)
	}

	// The audit record is still served.
	resp, _ = getJSON(t, ts.URL+"/v1/conversations/s1")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("conversation gone after reset: status = %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _, _ := newTestServer(t)

	postJSON(t, ts.URL+"/v1/chat", `{"session_id":"s1","message":"hello"}`)

	resp, payload := getJSON(t, ts.URL+"/v1/metrics?days=7")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if payload["total_conversations"] != float64(1) {
		t.Errorf("total_conversations = %v, want 1", payload["total_conversations"])
	}
	if payload["deflection_rate"] != float64(1) {
		t.Errorf("deflection_rate = %v, want 1", payload["deflection_rate"])
	}
}

func TestConversationEndpoints(t *testing.T) {
	ts, _, _ := newTestServer(t)

	postJSON(t, ts.URL+"/v1/chat", `{"session_id":"s1","message":"where is my order?"}`)

	resp, payload := getJSON(t, ts.URL+"/v1/conversations")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	list, _ := payload["conversations"].([]any)
	if len(list) != 1 {
		t.Fatalf("conversations = %d, want 1", len(list))
	}

	resp, payload = getJSON(t, ts.URL+"/v1/conversations/s1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	messages, _ := payload["messages"].([]any)
	if len(messages) != 2 {
		t.Errorf("messages = %d, want user + assistant", len(messages))
	}

	resp, _ = getJSON(t, ts.URL+"/v1/conversations/missing")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing conversation: status = %d, want 404", resp.StatusCode)
	}
}

func TestPolicyEndpoints(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, payload := getJSON(t, ts.URL+"/v1/policy")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if payload["version"] != float64(1) {
		t.Errorf("seed policy version = %v, want 1", payload["version"])
	}

	resp, payload = putJSON(t, ts.URL+"/v1/policy", `{"text":"new rules"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %v", resp.StatusCode, payload)
	}
	if payload["version"] != float64(2) || payload["text"] != "new rules" {
		t.Errorf("published policy = %v", payload)
	}

	resp, _ = putJSON(t, ts.URL+"/v1/policy", `{"text":"  "}`)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("empty policy: status = %d, want 422", resp.StatusCode)
	}
}

func TestToolEndpoints(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, payload := getJSON(t, ts.URL+"/v1/tools")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	list, _ := payload["tools"].([]any)
	if len(list) != 3 {
		t.Fatalf("seed tools = %d, want 3", len(list))
	}

	resp, payload = getJSON(t, ts.URL+"/v1/tools/lookup_order")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if payload["name"] != "lookup_order" {
		t.Errorf("tool = %v", payload)
	}

	resp, _ = getJSON(t, ts.URL+"/v1/tools/nope")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing tool: status = %d, want 404", resp.StatusCode)
	}

	// Create a new binding of an existing handler.
	body := `{
		"name": "find_order",
		"description": "Alias for order lookup",
		"handler": "lookup_order",
		"parameters": {"type": "object", "properties": {"order_id": {"type": "string"}}}
	}`
	resp, payload = postJSON(t, ts.URL+"/v1/tools", body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: status = %d: %v", resp.StatusCode, payload)
	}
	if payload["version"] != float64(1) {
		t.Errorf("created tool version = %v", payload["version"])
	}

	// Replacing bumps the version.
	update := `{
		"description": "Updated alias",
		"handler": "lookup_order",
		"parameters": {"type": "object", "properties": {"order_id": {"type": "string"}}}
	}`
	resp, payload = putJSON(t, ts.URL+"/v1/tools/find_order", update)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("replace: status = %d: %v", resp.StatusCode, payload)
	}
	if payload["version"] != float64(2) {
		t.Errorf("replaced tool version = %v, want 2", payload["version"])
	}

	// Unknown handlers are rejected; nothing outside the builtin set is
	// executable.
	bad := `{
		"name": "shell",
		"description": "run a command",
		"handler": "exec_shell",
		"parameters": {"type": "object", "properties": {}}
	}`
	resp, _ = postJSON(t, ts.URL+"/v1/tools", bad)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("unknown handler: status = %d, want 422", resp.StatusCode)
	}
}

func putJSON(t *testing.T, url string, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPut, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("build PUT %s: %v", url, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT %s: %v", url, err)
	}
	return resp, decodeBody(t, resp)
}
