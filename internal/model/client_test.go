package model

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opsbot/internal/config"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return New(config.ModelConfig{
		BaseURL:     server.URL,
		ID:          "qwen2.5:14b",
		Temperature: 0.3,
	})
}

func TestChat_SendsRequestAndReturnsMessage(t *testing.T) {
	var got chatRequest
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		json.NewEncoder(w).Encode(chatResponse{
			Message: Message{Role: "assistant", Content: "EKS is a managed Kubernetes service."},
		})
	})

	messages := []Message{
		{Role: "system", Content: "You are an AWS assistant."},
		{Role: "user", Content: "What is EKS?"},
	}
	tools := []Tool{{Type: "function", Function: ToolFunction{Name: "websearch"}}}

	reply, err := c.Chat(context.Background(), messages, tools)
	require.NoError(t, err)
	assert.Equal(t, "assistant", reply.Role)
	assert.Equal(t, "EKS is a managed Kubernetes service.", reply.Content)

	assert.Equal(t, "qwen2.5:14b", got.Model)
	assert.False(t, got.Stream)
	assert.Len(t, got.Messages, 2)
	require.Len(t, got.Tools, 1)
	assert.Equal(t, "websearch", got.Tools[0].Function.Name)
	require.NotNil(t, got.Options)
	assert.Equal(t, 0.3, got.Options.Temperature)
}

func TestChat_ReturnsToolCalls(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"message": {
				"role": "assistant",
				"content": "",
				"tool_calls": [
					{"function": {"name": "websearch", "arguments": {"keywords": "eks pricing", "max_results": 3}}}
				]
			}
		}`)
	})

	reply, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "latest eks pricing"}}, nil)
	require.NoError(t, err)

	require.Len(t, reply.ToolCalls, 1)
	call := reply.ToolCalls[0]
	assert.Equal(t, "websearch", call.Function.Name)
	assert.Equal(t, "eks pricing", call.Function.Arguments["keywords"])
	assert.Equal(t, float64(3), call.Function.Arguments["max_results"])
}

func TestChat_ServerErrorIncludesBody(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	})

	_, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=404")
	assert.Contains(t, err.Error(), "model not found")
}

func TestChat_ContextCancellation(t *testing.T) {
	started := make(chan struct{})
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server starts its background read and can
		// observe the client disconnecting; otherwise r.Context() is never
		// cancelled and the handler blocks forever.
		io.Copy(io.Discard, r.Body)
		close(started)
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err := c.Chat(ctx, []Message{{Role: "user", Content: "hi"}}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestChat_UnencodableRequestIsAnError(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("an unencodable request must never reach the server")
	})

	// A channel in the tool-call arguments cannot be marshalled to JSON.
	messages := []Message{{
		Role: "assistant",
		ToolCalls: []ToolCall{{
			Function: ToolCallFunction{
				Name:      "websearch",
				Arguments: map[string]interface{}{"bad": make(chan int)},
			},
		}},
	}}

	_, err := c.Chat(context.Background(), messages, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to encode chat request")
}

func TestNew_TrimsTrailingSlash(t *testing.T) {
	c := New(config.ModelConfig{BaseURL: "http://localhost:11434/", ID: "m"})
	assert.Equal(t, "http://localhost:11434", c.baseURL)
}
