package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// StatusError is a non-2xx response from the completion API. Callers
// use Temporary to decide whether a retry makes sense.
type StatusError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("completion API error %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether the failure class is worth retrying.
// Rate limiting and server-side errors are transient; anything in the
// 4xx range means the request itself is wrong and must not be retried.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// OpenAIClient talks to an OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOpenAIClient creates a client for an OpenAI-compatible API.
func NewOpenAIClient(baseURL, apiKey, model string, logger *slog.Logger) *OpenAIClient {
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logger,
	}
}

// Wire types for the chat completions API. Tool call arguments travel
// as a JSON-encoded string on the wire; conversion to and from
// map[string]any happens here so nothing upstream deals with it.

type wireRequest struct {
	Model      string        `json:"model"`
	Messages   []wireMessage `json:"messages"`
	Tools      []wireTool    `json:"tools,omitempty"`
	ToolChoice string        `json:"tool_choice,omitempty"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireTool struct {
	Type     string         `json:"type"`
	Function wireToolDetail `json:"function"`
}

type wireToolDetail struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      wireMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Chat sends one completion request and returns the model's answer or
// its structured tool calls.
func (c *OpenAIClient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	wreq := wireRequest{
		Model:    c.model,
		Messages: make([]wireMessage, 0, len(req.Messages)+1),
	}

	if req.System != "" {
		wreq.Messages = append(wreq.Messages, wireMessage{
			Role:    RoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		wreq.Messages = append(wreq.Messages, toWireMessage(m))
	}
	for _, t := range req.Tools {
		wreq.Tools = append(wreq.Tools, wireTool{
			Type: "function",
			Function: wireToolDetail{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	if len(wreq.Tools) > 0 {
		wreq.ToolChoice = "auto"
	}

	jsonData, err := json.Marshal(wreq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	if c.logger != nil {
		c.logger.Log(ctx, LevelTrace, "completion request", "payload", string(jsonData))
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var wresp wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wresp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(wresp.Choices) == 0 {
		return nil, fmt.Errorf("completion API returned no choices")
	}

	choice := wresp.Choices[0]
	out := &ChatResponse{
		Model:        wresp.Model,
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		InputTokens:  wresp.Usage.PromptTokens,
		OutputTokens: wresp.Usage.CompletionTokens,
	}

	for _, tc := range choice.Message.ToolCalls {
		call := ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
		}
		// Malformed argument JSON is preserved as a nil map rather than
		// rejected here; schema validation downstream reports it back
		// to the model as a corrective result.
		if tc.Function.Arguments != "" {
			var args map[string]any
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err == nil {
				call.Arguments = args
			} else if c.logger != nil {
				c.logger.Debug("unparseable tool call arguments",
					"tool", tc.Function.Name,
					"error", err,
				)
			}
		}
		out.ToolCalls = append(out.ToolCalls, call)
	}

	return out, nil
}

func toWireMessage(m Message) wireMessage {
	wm := wireMessage{
		Role:       m.Role,
		Content:    m.Content,
		ToolCallID: m.ToolCallID,
	}
	for _, tc := range m.ToolCalls {
		var wtc wireToolCall
		wtc.ID = tc.ID
		wtc.Type = "function"
		wtc.Function.Name = tc.Name
		args, err := json.Marshal(tc.Arguments)
		if err != nil || tc.Arguments == nil {
			args = []byte("{}")
		}
		wtc.Function.Arguments = string(args)
		wm.ToolCalls = append(wm.ToolCalls, wtc)
	}
	return wm
}
