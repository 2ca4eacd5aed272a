// Package orchestrator owns the configured provider set. It drives isolated
// connection attempts, builds the capability registry from whatever opened,
// and scopes the open connections to the session so every acquired channel
// is released exactly once, however the session ends.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"opsbot/internal/capability"
	"opsbot/internal/config"
	"opsbot/internal/provider"
	"opsbot/internal/timeout"
	"opsbot/pkg/logging"
)

// ErrInvalidState reports an orchestrator contract violation, e.g. starting
// a session before ConnectAll. Fatal to the caller, not retryable.
var ErrInvalidState = errors.New("orchestrator: invalid state")

// State is the orchestrator lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnectingAll
	StateReady
	StateSessionActive
	StateShuttingDown
)

// String makes State satisfy the fmt.Stringer interface.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateConnectingAll:
		return "ConnectingAll"
	case StateReady:
		return "Ready"
	case StateSessionActive:
		return "SessionActive"
	case StateShuttingDown:
		return "ShuttingDown"
	default:
		return "Unknown"
	}
}

// Connection is what the orchestrator needs from an open provider
// connection. *provider.Connection implements it.
type Connection interface {
	Name() string
	Capabilities() ([]capability.Descriptor, error)
	CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error)
	Close() error
}

// For mocking in tests
var connectProvider = func(ctx context.Context, cfg config.ProviderConfig) (Connection, error) {
	return provider.Connect(ctx, cfg)
}

// Result is what ConnectAll produced: the registry built from the Open
// connections, the connections themselves (kept alive for the session), and
// a human-readable error per provider that failed.
type Result struct {
	Registry    *capability.Registry
	Connections []Connection
	Errors      map[string]error
}

// Orchestrator drives provider startup and teardown for one session.
type Orchestrator struct {
	connectTimeout time.Duration

	mu    sync.Mutex
	state State
}

// New creates an orchestrator. connectTimeout bounds each provider
// connection attempt.
func New(connectTimeout time.Duration) *Orchestrator {
	return &Orchestrator{
		connectTimeout: connectTimeout,
		state:          StateIdle,
	}
}

// State returns the orchestrator's current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) transition(from, to State) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != from {
		return fmt.Errorf("cannot transition %s -> %s: %w", o.state, to, ErrInvalidState)
	}
	o.state = to
	return nil
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// ConnectAll attempts every configured provider in the supplied order, each
// attempt bounded by the connect timeout. Failures are isolated: an error
// from one attempt is captured under its provider name, never propagated to
// abort the loop. Ready is reached even with zero successful providers —
// web search stays available regardless. If ctx is cancelled mid-way,
// remaining attempts are skipped and any in-flight connection that completes
// afterward is closed immediately rather than registered.
func (o *Orchestrator) ConnectAll(ctx context.Context, configs []config.ProviderConfig) (*Result, error) {
	if err := o.transition(StateIdle, StateConnectingAll); err != nil {
		return nil, err
	}

	result := &Result{
		Registry: capability.NewRegistry(),
		Errors:   make(map[string]error),
	}

	for _, cfg := range configs {
		if ctx.Err() != nil {
			logging.Warn("Orchestrator", "Startup cancelled; skipping remaining providers")
			break
		}

		cfg := cfg
		conn, err := timeout.DoAbandon(ctx, o.connectTimeout,
			func(ctx context.Context) (Connection, error) {
				return connectProvider(ctx, cfg)
			},
			func(late Connection) {
				// Completed after abandonment: never resurrect a capability
				// once shutdown or timeout has begun.
				if closeErr := late.Close(); closeErr != nil {
					logging.Warn("Orchestrator", "Error closing late connection to %s: %v", cfg.Name, closeErr)
				}
			})
		if err != nil {
			if errors.Is(err, timeout.ErrTimedOut) {
				err = fmt.Errorf("provider %s did not become ready within %s", cfg.Name, o.connectTimeout)
			}
			logging.Warn("Orchestrator", "Could not connect to provider %s: %v", cfg.Name, err)
			result.Errors[cfg.Name] = err
			continue
		}

		descriptors, err := conn.Capabilities()
		if err != nil {
			// Should not happen for a connection we just opened; exclude it.
			result.Errors[cfg.Name] = err
			if closeErr := conn.Close(); closeErr != nil {
				logging.Warn("Orchestrator", "Error closing provider %s: %v", cfg.Name, closeErr)
			}
			continue
		}

		result.Registry.Register(cfg.Name, descriptors)
		result.Connections = append(result.Connections, conn)
	}

	o.setState(StateReady)

	logging.Info("Orchestrator", "Connected %d/%d providers (%d capabilities)",
		len(result.Connections), len(configs), result.Registry.TotalCount())
	return result, nil
}

// ScopedSession keeps the given connections open for the duration of fn and
// guarantees every one of them is closed when the scope exits — on normal
// return, on an error from fn, or on an external interrupt. Connections are
// closed in strict reverse order of acquisition. Close errors are collected
// and logged, never re-raised, and never block the remaining closes.
func (o *Orchestrator) ScopedSession(ctx context.Context, conns []Connection, fn func(context.Context) error) error {
	if err := o.transition(StateReady, StateSessionActive); err != nil {
		return err
	}

	defer func() {
		o.setState(StateShuttingDown)

		var firstErr error
		failed := 0
		for i := len(conns) - 1; i >= 0; i-- {
			if err := conns[i].Close(); err != nil {
				failed++
				if firstErr == nil {
					firstErr = err
				}
				logging.Warn("Orchestrator", "Error closing provider %s: %v", conns[i].Name(), err)
			}
		}
		if failed > 0 {
			logging.Warn("Orchestrator", "Teardown finished with %d close error(s); first: %v", failed, firstErr)
		} else {
			logging.Debug("Orchestrator", "Teardown finished cleanly (%d connections)", len(conns))
		}

		o.setState(StateIdle)
	}()

	return fn(ctx)
}
