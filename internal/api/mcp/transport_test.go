package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStdioTransport_RoundTrip(t *testing.T) {
	s, _ := newTestServer(t)

	in := strings.NewReader(
		`{"jsonrpc":"2.0","id":1,"method":"initialize"}` + "\n" +
			`{"jsonrpc":"2.0","id":2,"method":"tools/list"}` + "\n",
	)
	var out bytes.Buffer

	transport := NewStdioTransport(s, in, &out)
	require.NoError(t, transport.Serve(context.Background()))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)

	var first JSONRPCResponse
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Nil(t, first.Error)

	var second JSONRPCResponse
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Nil(t, second.Error)
}

func TestStdioTransport_SkipsBlankLines(t *testing.T) {
	s, _ := newTestServer(t)

	in := strings.NewReader("\n\n" + `{"jsonrpc":"2.0","id":1,"method":"tools/list"}` + "\n")
	var out bytes.Buffer

	transport := NewStdioTransport(s, in, &out)
	require.NoError(t, transport.Serve(context.Background()))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Len(t, lines, 1)
}

func TestStdioTransport_MalformedRequestStillAnswers(t *testing.T) {
	s, _ := newTestServer(t)

	in := strings.NewReader("{broken json\n")
	var out bytes.Buffer

	transport := NewStdioTransport(s, in, &out)
	require.NoError(t, transport.Serve(context.Background()))

	var resp JSONRPCResponse
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(out.Bytes()), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeParseError, resp.Error.Code)
}

func TestStdioTransport_ContextCancel(t *testing.T) {
	s, _ := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	transport := NewStdioTransport(s, strings.NewReader(""), &bytes.Buffer{})
	err := transport.Serve(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
