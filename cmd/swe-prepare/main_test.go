package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/sethvargo/go-githubactions"
	"github.com/stretchr/testify/require"

	"github.com/cexll/swe-action/internal/actions"
	ghtesting "github.com/cexll/swe-action/internal/github/testing"
	"github.com/cexll/swe-action/internal/pipeline"
)

type memOutputs map[string]string

func (m memOutputs) SetOutput(name, value string) { m[name] = value }
func (m memOutputs) Mask(string)                  {}

type notingOutputs struct {
	memOutputs
	notices []string
}

func (n *notingOutputs) Notice(msg string) { n.notices = append(n.notices, msg) }

func writeEvent(t *testing.T, number int, body string) string {
	t.Helper()
	payload := map[string]any{
		"action": "created",
		"repository": map[string]any{
			"name":      "repo",
			"full_name": "owner/repo",
			"owner":     map[string]any{"login": "owner"},
		},
		"sender":  map[string]any{"login": "alice"},
		"issue":   map[string]any{"number": number, "title": "Broken build"},
		"comment": map[string]any{"id": 1, "body": body, "user": map[string]any{"login": "alice"}},
	}
	b, err := json.Marshal(payload)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "event.json")
	require.NoError(t, os.WriteFile(path, b, 0o644))
	return path
}

func setRunnerEnv(t *testing.T, hub *ghtesting.Hub, eventPath string) {
	t.Helper()
	for _, k := range []string{"OVERRIDE_GITHUB_TOKEN", "GITHUB_APP_ID", "GITHUB_PRIVATE_KEY", "BASE_BRANCH",
		"ASSIGNEE_TRIGGER", "LABEL_TRIGGER", "ALLOWED_TOOLS", "DISALLOWED_TOOLS", "CONTEXT_OUTPUT_PATH",
		"TRIGGER_PHRASE", "BRANCH_PREFIX", "MCP_SERVER_COMMAND", "GITHUB_CALL_TIMEOUT"} {
		t.Setenv(k, "")
	}
	t.Setenv("GITHUB_TOKEN", "ghs_runner")
	t.Setenv("GITHUB_API_URL", hub.URL())
	t.Setenv("GITHUB_REPOSITORY", "owner/repo")
	t.Setenv("GITHUB_EVENT_NAME", "issue_comment")
	t.Setenv("GITHUB_EVENT_PATH", eventPath)
	t.Setenv("GITHUB_RUN_ID", "42")
	t.Setenv("GITHUB_WORKSPACE", t.TempDir())
}

func TestRun_TriggeredEvent(t *testing.T) {
	hub := ghtesting.NewHub("owner", "repo")
	defer hub.Close()
	n := hub.AddIssue(ghtesting.Issue{Title: "Broken build"})
	hub.SetPermission("alice", "write")
	setRunnerEnv(t, hub, writeEvent(t, n, "/code fix the build"))

	out := memOutputs{}
	cmd := newRootCommand(out)
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	assert.Equal(t, "true", out[outputTriggered])
	assert.Equal(t, "swe/issue-1-broken-build", out[pipeline.OutputBranchName])
	assert.NotEmpty(t, out[pipeline.OutputCommentID])
	assert.Contains(t, out[pipeline.OutputMCPConfig], "ghs_runner")
	assert.Equal(t, "Bearer ghs_runner", hub.Authorization(ghtesting.RouteCreateComment))
}

func TestRun_NotTriggered(t *testing.T) {
	hub := ghtesting.NewHub("owner", "repo")
	defer hub.Close()
	n := hub.AddIssue(ghtesting.Issue{Title: "Broken build"})
	hub.SetPermission("alice", "write")
	setRunnerEnv(t, hub, writeEvent(t, n, "just a note"))

	out := memOutputs{}
	require.NoError(t, run(context.Background(), nil, out))
	assert.Equal(t, "false", out[outputTriggered])
	assert.Zero(t, hub.Mutations())
}

func TestRun_NotTriggeredWithoutOutputFile(t *testing.T) {
	hub := ghtesting.NewHub("owner", "repo")
	defer hub.Close()
	n := hub.AddIssue(ghtesting.Issue{Title: "Broken build"})
	hub.SetPermission("alice", "write")
	setRunnerEnv(t, hub, writeEvent(t, n, "just chatting"))
	t.Setenv("GITHUB_OUTPUT", "")

	var buf bytes.Buffer
	cmd := newRootCommand(actions.New(githubactions.WithWriter(&buf)))
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.Zero(t, hub.Mutations())
}

func TestRun_TriggeredWithoutOutputFile(t *testing.T) {
	hub := ghtesting.NewHub("owner", "repo")
	defer hub.Close()
	n := hub.AddIssue(ghtesting.Issue{Title: "Broken build"})
	hub.SetPermission("alice", "write")
	setRunnerEnv(t, hub, writeEvent(t, n, "/code fix"))
	t.Setenv("GITHUB_OUTPUT", "")

	var buf bytes.Buffer
	require.NoError(t, run(context.Background(), nil, actions.New(githubactions.WithWriter(&buf))))
	assert.Equal(t, 1, hub.Calls(ghtesting.RouteCreateComment))
	assert.Contains(t, buf.String(), "::add-mask::ghs_runner")
}

func TestRun_DegradedStageIsAnnotated(t *testing.T) {
	hub := ghtesting.NewHub("owner", "repo")
	defer hub.Close()
	n := hub.AddIssue(ghtesting.Issue{Title: "Broken build"})
	hub.SetPermission("alice", "write")
	hub.FailRoute(ghtesting.RouteListPulls, http.StatusBadGateway, "upstream")
	setRunnerEnv(t, hub, writeEvent(t, n, "/code fix the build"))

	out := &notingOutputs{memOutputs: memOutputs{}}
	require.NoError(t, run(context.Background(), nil, out))
	assert.Equal(t, "true", out.memOutputs[outputTriggered])
	require.Len(t, out.notices, 1)
	assert.Contains(t, out.notices[0], pipeline.StageRedirect)
}

func TestRun_GateFailureReturnsError(t *testing.T) {
	hub := ghtesting.NewHub("owner", "repo")
	defer hub.Close()
	n := hub.AddIssue(ghtesting.Issue{Title: "Broken build"})
	setRunnerEnv(t, hub, writeEvent(t, n, "/code"))

	err := run(context.Background(), nil, memOutputs{})
	require.Error(t, err)
	var stageErr *pipeline.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, pipeline.StagePermission, stageErr.Stage)
}

func TestRun_ConfigErrors(t *testing.T) {
	hub := ghtesting.NewHub("owner", "repo")
	defer hub.Close()
	setRunnerEnv(t, hub, filepath.Join(t.TempDir(), "missing.json"))

	err := run(context.Background(), nil, memOutputs{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read event payload")

	t.Setenv("GITHUB_TOKEN", "")
	err = run(context.Background(), nil, memOutputs{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load configuration")
}

func TestRun_EnvFileFlag(t *testing.T) {
	hub := ghtesting.NewHub("owner", "repo")
	defer hub.Close()
	setRunnerEnv(t, hub, "")

	var loaded []string
	orig := loadDotEnv
	loadDotEnv = func(files ...string) error {
		loaded = files
		return nil
	}
	defer func() { loadDotEnv = orig }()

	cmd := newRootCommand(memOutputs{})
	cmd.SetArgs([]string{"--env-file", "a.env", "--env-file", "b.env"})
	err := cmd.ExecuteContext(context.Background())
	require.Error(t, err, "GITHUB_EVENT_PATH is still missing")
	assert.Equal(t, []string{"a.env", "b.env"}, loaded)
}
