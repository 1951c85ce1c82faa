package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dukex/sortie/pkg/definitions"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"
)

const soloTopology = `
id: solo
name: Solo
type: solo
nodes:
  - id: lead
    agent: dev
`

const shipWorkflow = `
id: ship
name: Ship
phases:
  - id: build
    name: Build
    topology_id: solo
    gate: always
`

const rulesFile = `
rules:
  - event: ci_failed
    action: notify
    retries: 1
`

func writeDefinitions(t *testing.T, withRules bool) string {
	t.Helper()

	dir := t.TempDir()

	files := map[string]string{
		filepath.Join(definitions.TopologiesDir, "solo.yaml"): soloTopology,
		filepath.Join(definitions.WorkflowsDir, "ship.yaml"):  shipWorkflow,
	}

	if withRules {
		files[definitions.ReactionsFile] = rulesFile
	}

	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	}

	return dir
}

// withServer parses args with the server flags and hands the built server to fn.
func withServer(t *testing.T, args []string, fn func(s *Server)) {
	t.Helper()

	command := &cli.Command{
		Name:  "test",
		Flags: serverFlags(),
		Action: func(ctx context.Context, command *cli.Command) error {
			server, err := NewServer(ctx, command, slog.Default())
			if err != nil {
				return err
			}

			defer server.Shutdown(ctx)

			fn(server)

			return nil
		},
	}

	require.NoError(t, command.Run(context.Background(), append([]string{"test"}, args...)))
}

func request(t *testing.T, app *fiber.App, method, target string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader

	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, data
}

func TestServer_App(t *testing.T) {
	t.Parallel()

	args := []string{
		"--database-url", "file://" + t.TempDir(),
		"--executor-url", "http://127.0.0.1:1",
		"--definitions", writeDefinitions(t, true),
		"--max-concurrent", "3",
	}

	withServer(t, args, func(s *Server) {
		app := s.App()

		resp, data := request(t, app, http.MethodGet, "/", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "Sortie", string(data))

		resp, _ = request(t, app, http.MethodGet, "/livez", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		resp, data = request(t, app, http.MethodGet, "/workflows/ship", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode, string(data))

		resp, data = request(t, app, http.MethodPost, "/missions", map[string]any{
			"id":          "m-1",
			"workflow_id": "ship",
			"brief":       "ship the release",
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))

		resp, data = request(t, app, http.MethodGet, "/reactions/rules", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, string(data), `"notify"`)

		resp, data = request(t, app, http.MethodGet, "/governor", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, string(data), `"capacity":3`)

		resp, data = request(t, app, http.MethodGet, "/metrics", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, string(data), "sortie_governor_capacity 3")
	})
}

func TestNewServer_Errors(t *testing.T) {
	t.Parallel()

	defs := writeDefinitions(t, false)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{
			name: "invalid capacity",
			args: []string{"--max-concurrent", "0"},
			want: "invalid governor settings",
		},
		{
			name: "empty definitions directory",
			args: []string{"--definitions", filepath.Join(defs, "nope")},
			want: "",
		},
		{
			name: "bad executor url",
			args: []string{"--executor-url", "127.0.0.1:1"},
			want: "invalid agent runtime url",
		},
		{
			name: "unknown event bus",
			args: []string{"--event-bus", "nats://x"},
			want: "unsupported provider",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			args := append([]string{
				"--database-url", t.TempDir(),
				"--executor-url", "http://127.0.0.1:1",
				"--definitions", defs,
			}, tt.args...)

			command := &cli.Command{
				Name:  "test",
				Flags: serverFlags(),
				Action: func(ctx context.Context, command *cli.Command) error {
					server, err := NewServer(ctx, command, slog.Default())
					if err == nil {
						server.Shutdown(ctx)
					}

					return err
				},
			}

			err := command.Run(context.Background(), append([]string{"test"}, args...))
			if tt.want == "" {
				require.NoError(t, err)

				return
			}

			require.Error(t, err)
			assert.Contains(t, strings.ToLower(err.Error()), tt.want)
		})
	}
}

func TestValidateDefinitions(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer

	require.NoError(t, validateDefinitions(&out, writeDefinitions(t, true)))
	assert.Equal(t, "1 topologies, 1 workflows\n1 reaction rules\n", out.String())

	out.Reset()

	require.NoError(t, validateDefinitions(&out, writeDefinitions(t, false)))
	assert.Contains(t, out.String(), "defaults apply")

	broken := writeDefinitions(t, false)
	require.NoError(t, os.WriteFile(filepath.Join(broken, definitions.WorkflowsDir, "bad.yaml"), []byte("id: bad\nname: Bad\nphases:\n  - id: a\n    name: A\n    topology_id: ghost\n    gate: always\n"), 0o600))

	err := validateDefinitions(&out, broken)
	require.ErrorIs(t, err, definitions.ErrTopologyNotFound)
}
