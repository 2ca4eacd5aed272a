package provider

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opsbot/internal/config"
)

// fakeClient implements Client for tests without spawning a process.
type fakeClient struct {
	tools []mcp.Tool

	initializeErr error
	listToolsErr  error
	closeErr      error

	closeCalls    int
	callToolName  string
	callToolArgs  any
	callToolReply *mcp.CallToolResult
	callToolErr   error
}

func (f *fakeClient) Initialize(ctx context.Context, request mcp.InitializeRequest) (*mcp.InitializeResult, error) {
	if f.initializeErr != nil {
		return nil, f.initializeErr
	}
	return &mcp.InitializeResult{}, nil
}

func (f *fakeClient) ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error) {
	if f.listToolsErr != nil {
		return nil, f.listToolsErr
	}
	return &mcp.ListToolsResult{Tools: f.tools}, nil
}

func (f *fakeClient) CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	f.callToolName = request.Params.Name
	f.callToolArgs = request.Params.Arguments
	if f.callToolErr != nil {
		return nil, f.callToolErr
	}
	return f.callToolReply, nil
}

func (f *fakeClient) Close() error {
	f.closeCalls++
	return f.closeErr
}

// withFakeClient swaps the stdio client constructor for the test's lifetime.
func withFakeClient(t *testing.T, fake *fakeClient, launchErr error) {
	t.Helper()
	original := newStdioClient
	newStdioClient = func(cfg config.ProviderConfig) (Client, error) {
		if launchErr != nil {
			return nil, launchErr
		}
		return fake, nil
	}
	t.Cleanup(func() { newStdioClient = original })
}

func testProviderConfig() config.ProviderConfig {
	return config.ProviderConfig{
		Name:    "aws-docs",
		Command: "uvx",
		Args:    []string{"awslabs.aws-documentation-mcp-server@latest"},
	}
}

func TestConnect_Success(t *testing.T) {
	fake := &fakeClient{
		tools: []mcp.Tool{
			{Name: "search_documentation", Description: "Search AWS documentation"},
			{Name: "read_documentation", Description: "Read a page"},
		},
	}
	withFakeClient(t, fake, nil)

	conn, err := Connect(context.Background(), testProviderConfig())
	require.NoError(t, err)

	assert.Equal(t, StateOpen, conn.State())
	assert.Equal(t, "aws-docs", conn.Name())

	descriptors, err := conn.Capabilities()
	require.NoError(t, err)
	require.Len(t, descriptors, 2)
	assert.Equal(t, "search_documentation", descriptors[0].Name)
	assert.Equal(t, "aws-docs", descriptors[0].Provider)
}

func TestConnect_LaunchFailure(t *testing.T) {
	withFakeClient(t, nil, errors.New("exec: \"uvx\": executable file not found"))

	conn, err := Connect(context.Background(), testProviderConfig())
	require.Error(t, err)
	assert.Nil(t, conn)
	assert.Contains(t, err.Error(), "aws-docs")
}

func TestConnect_HandshakeFailureClosesClient(t *testing.T) {
	fake := &fakeClient{initializeErr: errors.New("protocol mismatch")}
	withFakeClient(t, fake, nil)

	_, err := Connect(context.Background(), testProviderConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handshake")
	assert.Equal(t, 1, fake.closeCalls, "a failed handshake must release the spawned client")
}

func TestConnect_EnumerationFailureClosesClient(t *testing.T) {
	fake := &fakeClient{listToolsErr: errors.New("tools/list unsupported")}
	withFakeClient(t, fake, nil)

	_, err := Connect(context.Background(), testProviderConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "would not list capabilities")
	assert.Equal(t, 1, fake.closeCalls, "enumeration failure is a connection failure")
}

func TestConnection_CallTool(t *testing.T) {
	fake := &fakeClient{
		tools:         []mcp.Tool{{Name: "search_documentation"}},
		callToolReply: &mcp.CallToolResult{},
	}
	withFakeClient(t, fake, nil)

	conn, err := Connect(context.Background(), testProviderConfig())
	require.NoError(t, err)

	args := map[string]interface{}{"query": "eks networking"}
	_, err = conn.CallTool(context.Background(), "search_documentation", args)
	require.NoError(t, err)
	assert.Equal(t, "search_documentation", fake.callToolName)
	assert.Equal(t, args, fake.callToolArgs)
}

func TestConnection_CallToolAfterClose(t *testing.T) {
	fake := &fakeClient{}
	withFakeClient(t, fake, nil)

	conn, err := Connect(context.Background(), testProviderConfig())
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	_, err = conn.CallTool(context.Background(), "anything", nil)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = conn.Capabilities()
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestConnection_CloseIsIdempotent(t *testing.T) {
	fake := &fakeClient{}
	withFakeClient(t, fake, nil)

	conn, err := Connect(context.Background(), testProviderConfig())
	require.NoError(t, err)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())

	assert.Equal(t, 1, fake.closeCalls, "the channel must be released exactly once")
	assert.Equal(t, StateClosed, conn.State())
}

func TestConnection_CloseErrorStillTransitions(t *testing.T) {
	fake := &fakeClient{closeErr: errors.New("broken pipe")}
	withFakeClient(t, fake, nil)

	conn, err := Connect(context.Background(), testProviderConfig())
	require.NoError(t, err)

	err = conn.Close()
	require.Error(t, err)
	assert.Equal(t, StateClosed, conn.State())

	// Failed release must not be retried on a second Close.
	require.NoError(t, conn.Close())
	assert.Equal(t, 1, fake.closeCalls)
}

func TestNormalizeDescription(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "Empty description gets a placeholder",
			input:    "",
			expected: "No description available",
		},
		{
			name:     "Single line passes through",
			input:    "Search AWS documentation",
			expected: "Search AWS documentation",
		},
		{
			name:     "Multi-line keeps first line only",
			input:    "Search AWS documentation.\n\nUsage:\n  pass a query string",
			expected: "Search AWS documentation.",
		},
		{
			name:     "Surrounding whitespace is trimmed",
			input:    "  padded description  \nsecond line",
			expected: "padded description",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, normalizeDescription(tt.input))
		})
	}
}

func TestNormalizeDescription_CapsLongLines(t *testing.T) {
	long := strings.Repeat("x", 250)

	got := normalizeDescription(long)
	assert.Len(t, []rune(got), maxDescriptionLen)
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "Unconnected", StateUnconnected.String())
	assert.Equal(t, "Connecting", StateConnecting.String())
	assert.Equal(t, "Open", StateOpen.String())
	assert.Equal(t, "Failed", StateFailed.String())
	assert.Equal(t, "Closed", StateClosed.String())
}

func TestMergedEnv(t *testing.T) {
	t.Setenv("OPSBOT_TEST_BASE", "base")

	env := mergedEnv(map[string]string{
		"AWS_REGION":       "eu-west-1",
		"OPSBOT_TEST_BASE": "override",
	})

	assert.Contains(t, env, "AWS_REGION=eu-west-1")
	assert.Contains(t, env, "OPSBOT_TEST_BASE=override")
	assert.NotContains(t, env, "OPSBOT_TEST_BASE=base")
}
