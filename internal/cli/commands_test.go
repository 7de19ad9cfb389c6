package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI answers probes with 200 and answer posts with a settable status.
type fakeAPI struct {
	*httptest.Server
	status atomic.Int32
	posts  atomic.Int32
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	f := &fakeAPI{}
	f.status.Store(http.StatusOK)
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusOK)
			return
		}
		f.posts.Add(1)
		status := int(f.status.Load())
		w.WriteHeader(status)
		if status < 300 {
			_, _ = io.WriteString(w, `{"recorded":true}`)
		} else {
			_, _ = io.WriteString(w, "nope")
		}
	}))
	t.Cleanup(f.Close)
	return f
}

// unreachableURL returns the address of a server that has been shut down.
func unreachableURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	return url
}

func writeConfig(t *testing.T, baseURL, probeURL string) string {
	t.Helper()
	dir := t.TempDir()
	cfg := fmt.Sprintf(`store:
  path: %s
remote:
  base_url: %q
  timeout: 2s
probe:
  url: %q
  timeout: 1s
log:
  level: error
`, filepath.Join(dir, "answers.db"), baseURL, probeURL)
	path := filepath.Join(dir, "answersync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(io.Discard)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func submitArgs(cfg, element, payload string) []string {
	return []string{"submit", "--config", cfg,
		"--element", element, "--lesson", "l1", "--graph-lesson", "gl1", "--answer", payload}
}

func pendingJSON(t *testing.T, cfg string) []map[string]any {
	t.Helper()
	out, err := execute(t, "", "pending", "--config", cfg, "--format", "json")
	require.NoError(t, err)
	var resp struct {
		Status string           `json:"status"`
		Data   []map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Equal(t, "ok", resp.Status)
	return resp.Data
}

func TestSubmitCommand_Online(t *testing.T) {
	api := newFakeAPI(t)
	cfg := writeConfig(t, api.URL, "")

	out, err := execute(t, "", submitArgs(cfg, "q1", `{"choice":2}`)...)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Saved online")
	assert.Equal(t, int32(1), api.posts.Load())
	assert.Empty(t, pendingJSON(t, cfg))
}

func TestSubmitCommand_OfflineCaches(t *testing.T) {
	dead := unreachableURL(t)
	cfg := writeConfig(t, dead, dead)

	out, err := execute(t, "", submitArgs(cfg, "q1", `{"choice":2}`)...)
	require.NoError(t, err, "caching offline is a successful submit")
	assert.Contains(t, out, "✓ Saved locally, will sync when online")

	pending := pendingJSON(t, cfg)
	require.Len(t, pending, 1)
	assert.Equal(t, "q1", pending[0]["element_id"])
	assert.Equal(t, "pending", pending[0]["status"])
}

func TestSubmitCommand_RemoteFailureThenSync(t *testing.T) {
	api := newFakeAPI(t)
	api.status.Store(http.StatusServiceUnavailable)
	cfg := writeConfig(t, api.URL, "")

	out, err := execute(t, "", submitArgs(cfg, "q1", `{"choice":2}`)...)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ Save failed, kept locally for retry")

	pending := pendingJSON(t, cfg)
	require.Len(t, pending, 1)
	assert.Equal(t, "failed", pending[0]["status"])
	assert.Equal(t, true, pending[0]["retryable"])

	api.status.Store(http.StatusOK)
	out, err = execute(t, "", "sync", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "Synced 1 answer(s), 0 remaining")
	assert.Empty(t, pendingJSON(t, cfg))
}

func TestSubmitCommand_Rejected(t *testing.T) {
	api := newFakeAPI(t)
	api.status.Store(http.StatusUnprocessableEntity)
	cfg := writeConfig(t, api.URL, "")

	out, err := execute(t, "", submitArgs(cfg, "q1", `{"choice":2}`)...)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ Rejected by the server, kept locally")

	pending := pendingJSON(t, cfg)
	require.Len(t, pending, 1)
	assert.Equal(t, false, pending[0]["retryable"])
}

func TestSubmitCommand_AnswerFromStdin(t *testing.T) {
	api := newFakeAPI(t)
	cfg := writeConfig(t, api.URL, "")

	out, err := execute(t, "{\"text\":\"42\"}\n", submitArgs(cfg, "q2", "-")...)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Saved online")
}

func TestSubmitCommand_InvalidAnswer(t *testing.T) {
	api := newFakeAPI(t)
	cfg := writeConfig(t, api.URL, "")

	_, err := execute(t, "", submitArgs(cfg, "q1", `not json`)...)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Equal(t, int32(0), api.posts.Load())
}

func TestSubmitCommand_JSONOutput(t *testing.T) {
	api := newFakeAPI(t)
	cfg := writeConfig(t, api.URL, "")

	args := append(submitArgs(cfg, "q1", `{"choice":2}`), "--format", "json")
	out, err := execute(t, "", args...)
	require.NoError(t, err)

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			Success bool            `json:"success"`
			Cached  bool            `json:"cached"`
			Data    json.RawMessage `json:"data"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Success)
	assert.False(t, resp.Data.Cached)
	assert.JSONEq(t, `{"recorded":true}`, string(resp.Data.Data))
}

func TestSubmitCommand_MissingBaseURL(t *testing.T) {
	cfg := writeConfig(t, "", "")

	_, err := execute(t, "", submitArgs(cfg, "q1", `{"choice":2}`)...)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "remote.base_url is required")
}

func TestPendingCommand_Text(t *testing.T) {
	dead := unreachableURL(t)
	cfg := writeConfig(t, dead, dead)

	out, err := execute(t, "", "pending", "--config", cfg)
	require.NoError(t, err)
	assert.Equal(t, "No cached answers.\n", out)

	_, err = execute(t, "", submitArgs(cfg, "q1", `{"choice":2}`)...)
	require.NoError(t, err)

	out, err = execute(t, "", "pending", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "LESSON")
	assert.Contains(t, out, "q1")
	assert.Contains(t, out, "1 answer(s) pending")
}

func TestStatusCommand(t *testing.T) {
	t.Run("online", func(t *testing.T) {
		api := newFakeAPI(t)
		cfg := writeConfig(t, api.URL, "")

		out, err := execute(t, "", "status", "--config", cfg)
		require.NoError(t, err)
		assert.Contains(t, out, "Network: online")
		assert.Contains(t, out, "Pending: 0")
	})

	t.Run("offline json", func(t *testing.T) {
		dead := unreachableURL(t)
		cfg := writeConfig(t, dead, dead)

		out, err := execute(t, "", "status", "--config", cfg, "--format", "json")
		require.NoError(t, err)

		var resp struct {
			Data statusResult `json:"data"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &resp))
		assert.False(t, resp.Data.Reachable)
		assert.NotEmpty(t, resp.Data.ProbeError)
	})

	t.Run("no probe target", func(t *testing.T) {
		cfg := writeConfig(t, "", "")

		_, err := execute(t, "", "status", "--config", cfg)
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
	})
}

func TestClearCommand(t *testing.T) {
	dead := unreachableURL(t)
	cfg := writeConfig(t, dead, dead)

	_, err := execute(t, "", submitArgs(cfg, "q1", `{"choice":1}`)...)
	require.NoError(t, err)
	_, err = execute(t, "", submitArgs(cfg, "q2", `{"choice":2}`)...)
	require.NoError(t, err)

	_, err = execute(t, "", "clear", "--config", cfg)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "refusing to delete 2 cached answer(s) without --yes")
	assert.Len(t, pendingJSON(t, cfg), 2)

	out, err := execute(t, "", "clear", "--config", cfg, "--yes")
	require.NoError(t, err)
	assert.Equal(t, "Cleared 2 cached answer(s)\n", out)
	assert.Empty(t, pendingJSON(t, cfg))
}

func TestSubmitCommand_ResubmitOverwrites(t *testing.T) {
	dead := unreachableURL(t)
	cfg := writeConfig(t, dead, dead)

	_, err := execute(t, "", submitArgs(cfg, "q1", `{"choice":1}`)...)
	require.NoError(t, err)
	_, err = execute(t, "", submitArgs(cfg, "q1", `{"choice":3}`)...)
	require.NoError(t, err)

	pending := pendingJSON(t, cfg)
	require.Len(t, pending, 1)
	assert.Equal(t, map[string]any{"choice": float64(3)}, pending[0]["answer"])
}
