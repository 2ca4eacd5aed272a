// Package model is the language-model backend client: an Ollama-compatible
// HTTP chat API with tool-calling support. From the rest of the system's
// point of view it is an opaque request/response dependency.
package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"opsbot/internal/config"
)

// Message is one chat message, in either direction.
type Message struct {
	Role      string     `json:"role"` // "system", "user", "assistant", "tool"
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is the model asking for a tool invocation.
type ToolCall struct {
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction names the tool and carries its arguments.
type ToolCallFunction struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// Tool describes an invocable tool to the model.
type Tool struct {
	Type     string       `json:"type"` // always "function"
	Function ToolFunction `json:"function"`
}

// ToolFunction is the function-shaped tool definition.
type ToolFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

type chatRequest struct {
	Model    string       `json:"model"`
	Messages []Message    `json:"messages"`
	Stream   bool         `json:"stream"`
	Tools    []Tool       `json:"tools,omitempty"`
	Options  *chatOptions `json:"options,omitempty"`
}

type chatOptions struct {
	Temperature float64 `json:"temperature"`
}

type chatResponse struct {
	Message Message `json:"message"`
}

// Client talks to the chat endpoint.
type Client struct {
	baseURL string
	modelID string
	temp    float64
	http    *http.Client
}

// New creates a model client from configuration.
func New(cfg config.ModelConfig) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		modelID: cfg.ID,
		temp:    cfg.Temperature,
		http: &http.Client{
			Timeout: 90 * time.Second,
		},
	}
}

// Chat sends the conversation and tool catalogue, returning the assistant's
// next message (which may carry tool calls instead of content).
func (c *Client) Chat(ctx context.Context, messages []Message, tools []Tool) (Message, error) {
	body, err := json.Marshal(chatRequest{
		Model:    c.modelID,
		Messages: messages,
		Stream:   false,
		Tools:    tools,
		Options:  &chatOptions{Temperature: c.temp},
	})
	if err != nil {
		return Message{}, fmt.Errorf("failed to encode chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return Message{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Message{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(b))
		if msg == "" {
			return Message{}, fmt.Errorf("model chat failed (status=%d)", resp.StatusCode)
		}
		return Message{}, fmt.Errorf("model chat failed (status=%d): %s", resp.StatusCode, msg)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Message{}, err
	}
	return out.Message, nil
}
