package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/esmcp/internal/api/mcp"
	"github.com/scrypster/esmcp/internal/config"
	"github.com/scrypster/esmcp/internal/connections"
	"github.com/scrypster/esmcp/internal/server"
	"github.com/scrypster/esmcp/internal/tools"
)

func startServer(t *testing.T) string {
	t.Helper()
	conns := connections.NewRegistry()
	handler := mcp.NewHandler(tools.NewRegistry(tools.NewSchemaTool("")), tools.NewMapper())
	ts := httptest.NewServer(server.New(config.ServerConfig{}, handler, conns).Routes())
	t.Cleanup(func() {
		conns.CloseAll()
		ts.Close()
	})
	return ts.URL
}

func TestRun_Tools(t *testing.T) {
	url := startServer(t)
	var out bytes.Buffer

	require.NoError(t, run(context.Background(), []string{"-url", url, "tools"}, &out))
	assert.Contains(t, out.String(), "es_schema")
}

func TestRun_Ping(t *testing.T) {
	url := startServer(t)
	var out bytes.Buffer

	require.NoError(t, run(context.Background(), []string{"-url", url, "ping"}, &out))
	assert.Contains(t, out.String(), "pong")
	assert.Contains(t, out.String(), "cli_")
}

func TestRun_SchemaWritesFile(t *testing.T) {
	url := startServer(t)
	path := filepath.Join(t.TempDir(), "schema.json")
	var out bytes.Buffer

	require.NoError(t, run(context.Background(), []string{"-url", url, "schema", "-out", path}, &out))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Contains(t, doc, "fields")
}

func TestRun_AskStopsWhenQueryToolMissing(t *testing.T) {
	url := startServer(t)
	err := run(context.Background(), []string{"-url", url, "ask", "-prompt", "failed payments"}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Tool not found: es_query")
}

func TestRun_UnknownCommand(t *testing.T) {
	url := startServer(t)
	err := run(context.Background(), []string{"-url", url, "bogus"}, &bytes.Buffer{})
	assert.True(t, errors.Is(err, errUsage))
}

func TestRun_NoCommand(t *testing.T) {
	err := run(context.Background(), []string{}, &bytes.Buffer{})
	assert.ErrorIs(t, err, errUsage)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList(" a, ,b "))
	assert.Nil(t, splitList(""))
}
