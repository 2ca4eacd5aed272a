// Package provider manages the lifecycle of one external tool provider: an
// MCP server spawned as a subprocess and spoken to over stdio. A connection
// moves forward through its states only — it never reopens — and owns its
// client exclusively until Close.
package provider

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"opsbot/internal/capability"
	"opsbot/internal/config"
	"opsbot/pkg/logging"
)

const protocolVersion = "2024-11-05"

// descriptions are normalized to their first line, capped at this many runes
const maxDescriptionLen = 100

// ErrInvalidState reports a contract violation, e.g. listing capabilities on
// a connection that is not Open. Not retryable.
var ErrInvalidState = errors.New("invalid connection state")

// State is the lifecycle state of a provider connection. Transitions only
// move forward: Unconnected → Connecting → {Open, Failed}; Open → Closed.
type State int

const (
	StateUnconnected State = iota
	StateConnecting
	StateOpen
	StateFailed
	StateClosed
)

// String makes State satisfy the fmt.Stringer interface.
func (s State) String() string {
	switch s {
	case StateUnconnected:
		return "Unconnected"
	case StateConnecting:
		return "Connecting"
	case StateOpen:
		return "Open"
	case StateFailed:
		return "Failed"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Client is the subset of MCP client operations a connection needs.
// *client.Client from mcp-go implements it.
type Client interface {
	Initialize(ctx context.Context, request mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// For mocking in tests. NewStdioMCPClient spawns the provider process and
// starts the stdio transport.
var newStdioClient = func(cfg config.ProviderConfig) (Client, error) {
	return client.NewStdioMCPClient(cfg.Command, mergedEnv(cfg.Env), cfg.Args...)
}

// Connection is one provider's exclusively-owned channel plus the
// capabilities enumerated when it was opened.
type Connection struct {
	cfg config.ProviderConfig

	mu          sync.Mutex
	state       State
	client      Client
	descriptors []capability.Descriptor
}

// Connect opens the channel described by cfg: spawn the server process,
// perform the protocol handshake, then enumerate capabilities once. Any
// failure along the way marks the connection Failed and releases the
// partially acquired client before returning — no partial leaks.
func Connect(ctx context.Context, cfg config.ProviderConfig) (*Connection, error) {
	c := &Connection{cfg: cfg, state: StateConnecting}

	logging.Debug("Provider", "Connecting to provider %s (%s %s)", cfg.Name, cfg.Command, strings.Join(cfg.Args, " "))

	mcpClient, err := newStdioClient(cfg)
	if err != nil {
		c.state = StateFailed
		return nil, fmt.Errorf("failed to launch provider %s: %w", cfg.Name, err)
	}

	initReq := mcp.InitializeRequest{
		Params: struct {
			ProtocolVersion string                 `json:"protocolVersion"`
			Capabilities    mcp.ClientCapabilities `json:"capabilities"`
			ClientInfo      mcp.Implementation     `json:"clientInfo"`
		}{
			ProtocolVersion: protocolVersion,
			ClientInfo: mcp.Implementation{
				Name:    "opsbot",
				Version: "1.0.0",
			},
			Capabilities: mcp.ClientCapabilities{},
		},
	}

	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		c.fail(mcpClient)
		return nil, fmt.Errorf("handshake with provider %s failed: %w", cfg.Name, err)
	}

	toolsResult, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		// Enumeration failure is treated like a connection failure: the
		// connection is closed and excluded.
		c.fail(mcpClient)
		return nil, fmt.Errorf("provider %s would not list capabilities: %w", cfg.Name, err)
	}

	c.client = mcpClient
	c.descriptors = describeTools(cfg.Name, toolsResult.Tools)
	c.state = StateOpen

	logging.Info("Provider", "Provider %s connected with %d capabilities", cfg.Name, len(c.descriptors))
	return c, nil
}

// fail releases the partially acquired client and marks the connection
// Failed. Close on a Failed connection is then a no-op.
func (c *Connection) fail(mcpClient Client) {
	if err := mcpClient.Close(); err != nil {
		logging.Warn("Provider", "Error releasing failed provider %s: %v", c.cfg.Name, err)
	}
	c.state = StateFailed
}

// Name returns the provider's configured label.
func (c *Connection) Name() string {
	return c.cfg.Name
}

// State returns the connection's current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Capabilities returns the descriptors enumerated at connect time. Valid
// only while the connection is Open.
func (c *Connection) Capabilities() ([]capability.Descriptor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateOpen {
		return nil, fmt.Errorf("cannot list capabilities of provider %s in state %s: %w", c.cfg.Name, c.state, ErrInvalidState)
	}
	return append([]capability.Descriptor(nil), c.descriptors...), nil
}

// CallTool invokes a named tool on this provider. Valid only while Open.
func (c *Connection) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	c.mu.Lock()
	if c.state != StateOpen {
		state := c.state
		c.mu.Unlock()
		return nil, fmt.Errorf("cannot call tool %s on provider %s in state %s: %w", name, c.cfg.Name, state, ErrInvalidState)
	}
	mcpClient := c.client
	c.mu.Unlock()

	req := mcp.CallToolRequest{
		Params: struct {
			Name      string    `json:"name"`
			Arguments any       `json:"arguments,omitempty"`
			Meta      *mcp.Meta `json:"_meta,omitempty"`
		}{
			Name:      name,
			Arguments: args,
		},
	}

	result, err := mcpClient.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("tool %s on provider %s failed: %w", name, c.cfg.Name, err)
	}
	return result, nil
}

// Close releases the connection's channel. It is idempotent: closing a
// Failed or already-Closed connection is a no-op and never double-releases.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateOpen {
		return nil
	}

	err := c.client.Close()
	c.state = StateClosed
	c.client = nil

	if err != nil {
		return fmt.Errorf("closing provider %s: %w", c.cfg.Name, err)
	}

	logging.Debug("Provider", "Provider %s closed", c.cfg.Name)
	return nil
}

// describeTools converts raw MCP tool metadata into validated descriptors:
// first line of the description only, capped in length.
func describeTools(providerName string, tools []mcp.Tool) []capability.Descriptor {
	descriptors := make([]capability.Descriptor, 0, len(tools))
	for _, tool := range tools {
		descriptors = append(descriptors, capability.Descriptor{
			Name:        tool.Name,
			Description: normalizeDescription(tool.Description),
			Provider:    providerName,
		})
	}
	return descriptors
}

func normalizeDescription(desc string) string {
	if desc == "" {
		return "No description available"
	}
	if i := strings.IndexByte(desc, '\n'); i >= 0 {
		desc = desc[:i]
	}
	desc = strings.TrimSpace(desc)
	if utf8.RuneCountInString(desc) > maxDescriptionLen {
		runes := []rune(desc)
		desc = string(runes[:maxDescriptionLen-3]) + "..."
	}
	return desc
}

// mergedEnv layers the provider's environment overrides over the parent
// process environment, in deterministic order.
func mergedEnv(overrides map[string]string) []string {
	if len(overrides) == 0 {
		return os.Environ()
	}

	merged := make(map[string]string)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			merged[kv[:i]] = kv[i+1:]
		}
	}
	for k, v := range overrides {
		merged[k] = v
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+merged[k])
	}
	return env
}
