package mcp_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/esmcp/internal/api/mcp"
)

func TestStdioTransport_Serve(t *testing.T) {
	in := strings.NewReader(strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"ping"}`,
		``,
		`{"jsonrpc":"2.0","method":"ping"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
	}, "\n") + "\n")
	var out bytes.Buffer

	err := mcp.NewStdioTransport(newHandler(), in, &out).Serve(context.Background())
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2, "the notification gets no response line")

	var first struct {
		ID     int            `json:"id"`
		Result mcp.PingResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, 1, first.ID)
	assert.Equal(t, mcp.StdioConnectionID, first.Result.ConnectionID)
	assert.Contains(t, lines[1], `"id":2`)
}

func TestStdioTransport_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := mcp.NewStdioTransport(newHandler(), strings.NewReader("{}\n"), &bytes.Buffer{}).Serve(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
