// Package agent implements the interactive session: the conversation with
// the model, dispatch of model tool calls to the owning provider or the
// built-in web search, and the readline REPL that drives it all.
package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"opsbot/internal/capability"
	"opsbot/internal/config"
	"opsbot/internal/model"
	"opsbot/internal/orchestrator"
	"opsbot/internal/timeout"
	"opsbot/internal/websearch"
	"opsbot/pkg/logging"
)

// WebSearchToolName is the built-in capability that is always available,
// even with zero connected providers.
const WebSearchToolName = "websearch"

// maxToolRounds caps the chat/tool-call loop within one turn.
const maxToolRounds = 4

// ChatClient is the opaque language-model dependency.
type ChatClient interface {
	Chat(ctx context.Context, messages []model.Message, tools []model.Tool) (model.Message, error)
}

// Searcher is the web search dependency.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]websearch.Result, error)
}

// Session holds one conversation and the capabilities it can invoke.
type Session struct {
	chat     ChatClient
	registry *capability.Registry
	conns    map[string]orchestrator.Connection
	search   Searcher
	timeouts config.TimeoutConfig

	messages []model.Message
	tools    []model.Tool
}

// NewSession builds a session over the connections the orchestrator opened.
func NewSession(chat ChatClient, registry *capability.Registry, conns []orchestrator.Connection, search Searcher, cfg *config.Config) *Session {
	byName := make(map[string]orchestrator.Connection, len(conns))
	for _, conn := range conns {
		byName[conn.Name()] = conn
	}

	s := &Session{
		chat:     chat,
		registry: registry,
		conns:    byName,
		search:   search,
		timeouts: cfg.Timeouts,
	}
	if cfg.Model.SystemPrompt != "" {
		s.messages = append(s.messages, model.Message{Role: "system", Content: cfg.Model.SystemPrompt})
	}
	s.tools = s.buildToolCatalogue()
	return s
}

// turnOutcome is what one completed turn produced: the answer plus the
// conversation as it stands after the turn.
type turnOutcome struct {
	answer   string
	messages []model.Message
}

// Turn sends one user input through the model, dispatching tool calls as
// requested, and returns the assistant's answer. The whole turn is bounded
// by the configured turn deadline; timeout.ErrTimedOut is returned distinct
// from other failures so the REPL can suggest a narrower question.
//
// The turn works on a private copy of the conversation and commits it only
// when it finishes in time. An abandoned turn keeps running detached but
// its messages are discarded, never resurrected into the session.
func (s *Session) Turn(ctx context.Context, input string) (string, error) {
	history := append([]model.Message(nil), s.messages...)

	out, err := timeout.Do(ctx, s.timeouts.Turn(), func(ctx context.Context) (turnOutcome, error) {
		return s.turn(ctx, history, input)
	})
	if err != nil {
		return "", err
	}

	s.messages = out.messages
	return out.answer, nil
}

func (s *Session) turn(ctx context.Context, messages []model.Message, input string) (turnOutcome, error) {
	messages = append(messages, model.Message{Role: "user", Content: input})

	for round := 0; round < maxToolRounds; round++ {
		reply, err := s.chat.Chat(ctx, messages, s.tools)
		if err != nil {
			return turnOutcome{}, fmt.Errorf("model request failed: %w", err)
		}
		messages = append(messages, reply)

		if len(reply.ToolCalls) == 0 {
			return turnOutcome{answer: reply.Content, messages: messages}, nil
		}

		for _, call := range reply.ToolCalls {
			logging.Debug("Agent", "Dispatching tool call %s", call.Function.Name)
			output := s.dispatch(ctx, call)
			messages = append(messages, model.Message{Role: "tool", Content: output})
		}
	}

	return turnOutcome{}, fmt.Errorf("no answer after %d tool rounds", maxToolRounds)
}

// dispatch routes one tool call to the built-in search or the provider that
// owns the capability. Tool failures become messages for the model, never
// errors that end the turn.
func (s *Session) dispatch(ctx context.Context, call model.ToolCall) string {
	name := call.Function.Name

	if name == WebSearchToolName {
		return s.runSearch(ctx, call.Function.Arguments)
	}

	descriptor, ok := s.registry.Lookup(name)
	if !ok {
		return fmt.Sprintf("Tool %q is not available.", name)
	}
	conn, ok := s.conns[descriptor.Provider]
	if !ok {
		return fmt.Sprintf("Provider %q for tool %q is not connected.", descriptor.Provider, name)
	}

	result, err := conn.CallTool(ctx, name, call.Function.Arguments)
	if err != nil {
		return fmt.Sprintf("Tool %s failed: %v", name, err)
	}
	return renderToolResult(result)
}

// runSearch executes the built-in web search under its own deadline.
func (s *Session) runSearch(ctx context.Context, args map[string]interface{}) string {
	query, _ := args["keywords"].(string)
	maxResults := 0
	if f, ok := args["max_results"].(float64); ok {
		maxResults = int(f)
	}

	results, err := timeout.Do(ctx, s.timeouts.Search(), func(ctx context.Context) ([]websearch.Result, error) {
		return s.search.Search(ctx, query, maxResults)
	})
	switch {
	case errors.Is(err, timeout.ErrTimedOut):
		return "Search timeout - please try a more specific query."
	case errors.Is(err, websearch.ErrRateLimited):
		return "Rate limit reached - please try again in a moment."
	case err != nil:
		return fmt.Sprintf("Search failed: %v", err)
	}
	return websearch.Format(results)
}

// buildToolCatalogue assembles the tool definitions the model sees: the
// built-in web search plus every registered provider capability. When two
// providers expose the same name the flat-lookup winner is advertised.
func (s *Session) buildToolCatalogue() []model.Tool {
	tools := []model.Tool{
		{
			Type: "function",
			Function: model.ToolFunction{
				Name:        WebSearchToolName,
				Description: "Search the web to get updated information quickly.",
				Parameters: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"keywords": map[string]interface{}{
							"type":        "string",
							"description": "The search query keywords.",
						},
						"max_results": map[string]interface{}{
							"type":        "integer",
							"description": "Maximum number of results to return.",
						},
					},
					"required": []string{"keywords"},
				},
			},
		},
	}

	seen := map[string]bool{WebSearchToolName: true}
	groups := s.registry.ByProvider()
	for _, provider := range s.registry.Providers() {
		for _, d := range groups[provider] {
			winner, _ := s.registry.Lookup(d.Name)
			if winner.Provider != provider || seen[d.Name] {
				continue
			}
			seen[d.Name] = true
			tools = append(tools, model.Tool{
				Type: "function",
				Function: model.ToolFunction{
					Name:        d.Name,
					Description: d.Description,
					// Descriptors carry no schema; the provider validates
					// arguments on its side.
					Parameters: map[string]interface{}{"type": "object"},
				},
			})
		}
	}
	return tools
}

// renderToolResult flattens an MCP tool result to text for the model.
func renderToolResult(result *mcp.CallToolResult) string {
	var parts []string
	for _, content := range result.Content {
		if textContent, ok := mcp.AsTextContent(content); ok {
			parts = append(parts, textContent.Text)
		}
	}

	text := ""
	if len(parts) > 0 {
		text = parts[0]
		for _, p := range parts[1:] {
			text += "\n" + p
		}
	}

	if result.IsError {
		return fmt.Sprintf("Tool error: %s", text)
	}
	if text == "" {
		return "(no output)"
	}
	return text
}
